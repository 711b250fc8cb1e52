// Package capture implements the client side of the modulator's DPD
// feedback TCP protocol: connect, request N samples, receive matched
// TX/RX IQ frames and timestamps, renormalise, and align them.
package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net"
	"time"

	"github.com/kb3bmv/dpdce/internal/align"
	"github.com/kb3bmv/dpdce/internal/iqmath"
)

// ProtocolVersion is the single version byte sent at the start of every
// DPD feedback session.
const ProtocolVersion = 0x01

// ReceiveTimeout bounds every read from the feedback socket.
const ReceiveTimeout = 4 * time.Second

const sampleSize = 8 // one complex64 sample: 4 bytes I + 4 bytes Q

// Timestamp is a (seconds, ticks) pair, tick unit 1/16384000 s.
type Timestamp struct {
	Seconds uint32
	Ticks   uint32
}

// TicksPerSecond is the feedback protocol's tick unit denominator.
const TicksPerSecond = 16384000

// Float64 converts the timestamp to a monotonic-ish double, in seconds.
func (ts Timestamp) Float64() float64 {
	return float64(ts.Seconds) + float64(ts.Ticks)/TicksPerSecond
}

// Result is a matched, aligned TX/RX capture: len(Tx) == len(Rx) after
// construction and both medians are the magnitude median of the
// respective frame before alignment or renormalisation.
type Result struct {
	Tx       []complex64
	Rx       []complex64
	TxTS     Timestamp
	RxTS     Timestamp
	TxMedian float32
	RxMedian float32
}

// Client is a stateless DPD feedback TCP client: it knows only the
// modulator's endpoint and how many samples to request per capture.
type Client struct {
	Addr           string // host:port of the modulator's DPD feedback port
	NumSamples     uint32
	ReceiveTimeout time.Duration
	DialTimeout    time.Duration
}

// NewClient builds a Client with the protocol's default receive timeout.
func NewClient(addr string, numSamples uint32) *Client {
	return &Client{
		Addr:           addr,
		NumSamples:     numSamples,
		ReceiveTimeout: ReceiveTimeout,
		DialTimeout:    ReceiveTimeout,
	}
}

// Capture connects, requests NumSamples, receives the TX/RX frames, then
// renormalises and aligns them. A protocol-level error (timeout, short
// read) is returned as-is; an alignment failure is also surfaced as an
// error so the Orchestrator can discard the capture and retry.
func (c *Client) Capture(ctx context.Context) (*Result, error) {
	conn, err := net.DialTimeout("tcp", c.Addr, c.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("capture: dial %s: %w", c.Addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	tx, txTS, rx, rxTS, err := c.receiveTCP(conn)
	if err != nil {
		return nil, err
	}

	txMedian := iqmath.MedianAbs(tx)
	rxMedian := iqmath.MedianAbs(rx)

	normalizedRx := renormalize(rx, rxMedian, txMedian)

	alignedTx, alignedRx, err := align.Align(tx, normalizedRx)
	if err != nil {
		return nil, fmt.Errorf("capture: align: %w", err)
	}

	return &Result{
		Tx:       alignedTx,
		Rx:       alignedRx,
		TxTS:     txTS,
		RxTS:     rxTS,
		TxMedian: txMedian,
		RxMedian: rxMedian,
	}, nil
}

// MeasureMedian connects, requests NumSamples, and returns only the RX
// magnitude median of one capture, skipping renormalisation and
// alignment entirely. AGC only needs a median reading and must not be
// coupled to the subsample-alignment optimiser's convergence.
func (c *Client) MeasureMedian(ctx context.Context) (float32, error) {
	conn, err := net.DialTimeout("tcp", c.Addr, c.DialTimeout)
	if err != nil {
		return 0, fmt.Errorf("capture: dial %s: %w", c.Addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	_, _, rx, _, err := c.receiveTCP(conn)
	if err != nil {
		return 0, err
	}

	return iqmath.MedianAbs(rx), nil
}

func renormalize(rx []complex64, rxMedian, txMedian float32) []complex64 {
	if rxMedian == 0 {
		return rx
	}
	scale := txMedian / rxMedian
	out := make([]complex64, len(rx))
	for i, s := range rx {
		out[i] = s * complex(scale, 0)
	}
	return out
}

func (c *Client) receiveTCP(conn net.Conn) (tx []complex64, txTS Timestamp, rx []complex64, rxTS Timestamp, err error) {
	if err = conn.SetDeadline(deadlineFrom(c.ReceiveTimeout)); err != nil {
		return nil, Timestamp{}, nil, Timestamp{}, fmt.Errorf("capture: set deadline: %w", err)
	}

	if _, err = conn.Write([]byte{ProtocolVersion}); err != nil {
		return nil, Timestamp{}, nil, Timestamp{}, fmt.Errorf("capture: send version: %w", err)
	}

	reqHdr := make([]byte, 4)
	binary.LittleEndian.PutUint32(reqHdr, c.NumSamples)
	if _, err = conn.Write(reqHdr); err != nil {
		return nil, Timestamp{}, nil, Timestamp{}, fmt.Errorf("capture: send sample request: %w", err)
	}

	txHdr := make([]byte, 12)
	if err = recvExact(conn, txHdr); err != nil {
		return nil, Timestamp{}, nil, Timestamp{}, fmt.Errorf("capture: recv tx header: %w", err)
	}
	numSamps := binary.LittleEndian.Uint32(txHdr[0:4])
	txTS = Timestamp{
		Seconds: binary.LittleEndian.Uint32(txHdr[4:8]),
		Ticks:   binary.LittleEndian.Uint32(txHdr[8:12]),
	}

	tx, err = recvFrame(conn, numSamps)
	if err != nil {
		return nil, Timestamp{}, nil, Timestamp{}, fmt.Errorf("capture: recv tx samples: %w", err)
	}

	rxHdr := make([]byte, 8)
	if err = recvExact(conn, rxHdr); err != nil {
		return nil, Timestamp{}, nil, Timestamp{}, fmt.Errorf("capture: recv rx header: %w", err)
	}
	rxTS = Timestamp{
		Seconds: binary.LittleEndian.Uint32(rxHdr[0:4]),
		Ticks:   binary.LittleEndian.Uint32(rxHdr[4:8]),
	}

	rx, err = recvFrame(conn, numSamps)
	if err != nil {
		return nil, Timestamp{}, nil, Timestamp{}, fmt.Errorf("capture: recv rx samples: %w", err)
	}

	return tx, txTS, rx, rxTS, nil
}

func recvFrame(conn net.Conn, numSamps uint32) ([]complex64, error) {
	if numSamps == 0 {
		return []complex64{}, nil
	}
	buf := make([]byte, int(numSamps)*sampleSize)
	if err := recvExact(conn, buf); err != nil {
		return nil, err
	}
	frame := make([]complex64, numSamps)
	for i := range frame {
		off := i * sampleSize
		iVal := math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4]))
		qVal := math.Float32frombits(binary.LittleEndian.Uint32(buf[off+4 : off+8]))
		frame[i] = complex(iVal, qVal)
	}
	return frame, nil
}

// recvExact reads exactly len(buf) bytes, returning an error on short
// read or timeout, matching the protocol's fixed-length framing.
func recvExact(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	if err != nil {
		return fmt.Errorf("short read (%d bytes wanted): %w", len(buf), err)
	}
	return nil
}

func deadlineFrom(d time.Duration) time.Time {
	return time.Now().Add(d)
}
