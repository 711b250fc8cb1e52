// Package rpcclient implements the operator-facing half of the
// engine's YAML-RPC protocol, used by the dpdce-ctl command-line tool.
package rpcclient

import (
	"fmt"
	"net"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultTimeout bounds a request/response round trip.
const DefaultTimeout = 3 * time.Second

// envelope mirrors rpcserver's wire format; duplicated here rather than
// imported, since a client has no business depending on the server's
// package.
type envelope struct {
	YamlRPC string      `yaml:"yamlrpc"`
	ID      string      `yaml:"id"`
	Method  string      `yaml:"method,omitempty"`
	Params  interface{} `yaml:"params,omitempty"`
	Result  interface{} `yaml:"result,omitempty"`
	Error   string      `yaml:"error,omitempty"`
}

// Client is a YAML-RPC client over UDP.
type Client struct {
	Addr    string
	Timeout time.Duration
	nextID  int
}

// NewClient builds a Client against addr (host:port).
func NewClient(addr string) *Client {
	return &Client{Addr: addr, Timeout: DefaultTimeout}
}

// Call issues method with params and returns the decoded result, or an
// error built from the response's error field.
func (c *Client) Call(method string, params interface{}) (interface{}, error) {
	c.nextID++
	req := envelope{
		YamlRPC: "2.0",
		ID:      fmt.Sprintf("%d", c.nextID),
		Method:  method,
		Params:  params,
	}

	raw, err := yaml.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: marshal request: %w", err)
	}

	conn, err := net.Dial("udp", c.Addr)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: dial %s: %w", c.Addr, err)
	}
	defer conn.Close()

	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	_ = conn.SetDeadline(time.Now().Add(timeout))

	if _, err := conn.Write(raw); err != nil {
		return nil, fmt.Errorf("rpcclient: send: %w", err)
	}

	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: recv: %w", err)
	}

	var resp envelope
	if err := yaml.Unmarshal(buf[:n], &resp); err != nil {
		return nil, fmt.Errorf("rpcclient: unmarshal response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("rpcclient: %s", resp.Error)
	}
	return resp.Result, nil
}

// GetResults calls get_results and returns the raw decoded result.
func (c *Client) GetResults() (interface{}, error) {
	return c.Call("get_results", nil)
}

// TriggerRun calls trigger_run.
func (c *Client) TriggerRun() error {
	_, err := c.Call("trigger_run", nil)
	return err
}

// Calibrate calls calibrate.
func (c *Client) Calibrate() error {
	_, err := c.Call("calibrate", nil)
	return err
}

// Reset calls reset.
func (c *Client) Reset() error {
	_, err := c.Call("reset", nil)
	return err
}

// Adapt calls adapt.
func (c *Client) Adapt() error {
	_, err := c.Call("adapt", nil)
	return err
}

// RestoreDump calls restore_dump with the given dump id.
func (c *Client) RestoreDump(dumpID string) error {
	_, err := c.Call("restore_dump", map[string]interface{}{"dump_id": dumpID})
	return err
}
