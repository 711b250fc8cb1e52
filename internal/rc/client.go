// Package rc implements a client for the modulator's remote-control
// protocol: one text request line and one text reply line over TCP
// (multipart replies are not read past their first line), used by Adapter to
// read and write gains and to point the modulator at a new predistorter
// file.
package rc

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// DefaultPort is the modulator RC protocol's default listen port.
const DefaultPort = 9400

// DefaultTimeout bounds every RC round trip.
const DefaultTimeout = 2 * time.Second

// ErrFail wraps a "fail <reason>" reply from the modulator.
var ErrFail = errors.New("rc: modulator reported failure")

// Client is a remote-control protocol client: each call opens a fresh
// connection, matching the modulator's one-shot request/reply verbs.
type Client struct {
	Addr    string
	Timeout time.Duration
}

// NewClient builds a Client against addr (host:port), using
// DefaultTimeout.
func NewClient(addr string) *Client {
	return &Client{Addr: addr, Timeout: DefaultTimeout}
}

// Get issues `get <module> <param>` and returns the reply line with its
// line terminator removed.
func (c *Client) Get(module, param string) (string, error) {
	return c.roundTrip(fmt.Sprintf("get %s %s", module, param))
}

// Set issues `set <module> <param> <value...>`.
func (c *Client) Set(module, param string, values ...string) (string, error) {
	parts := append([]string{"set", module, param}, values...)
	return c.roundTrip(strings.Join(parts, " "))
}

// Ping issues the `ping` keepalive verb.
func (c *Client) Ping() error {
	_, err := c.roundTrip("ping")
	return err
}

// List issues `list`, returning the raw reply.
func (c *Client) List() (string, error) {
	return c.roundTrip("list")
}

// Show issues `show <module>`, returning the raw reply.
func (c *Client) Show(module string) (string, error) {
	return c.roundTrip(fmt.Sprintf("show %s", module))
}

// roundTrip sends one request line and reads one reply line, failing
// with ErrFail if the modulator replies `fail <reason>`.
func (c *Client) roundTrip(request string) (string, error) {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	conn, err := net.DialTimeout("tcp", c.Addr, timeout)
	if err != nil {
		return "", fmt.Errorf("rc: dial %s: %w", c.Addr, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	if _, err := fmt.Fprintf(conn, "%s\n", request); err != nil {
		return "", fmt.Errorf("rc: send %q: %w", request, err)
	}

	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("rc: read reply to %q: %w", request, err)
	}
	reply = strings.TrimRight(reply, "\r\n")

	if strings.HasPrefix(reply, "fail ") {
		return "", fmt.Errorf("%w: %s", ErrFail, strings.TrimPrefix(reply, "fail "))
	}

	return reply, nil
}
