package capture

import (
	"context"
	"encoding/binary"
	"math"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveOneCapture accepts a single connection, validates the version
// byte and sample-count request, and writes back a synthetic matched
// tx/rx pair: rx is tx attenuated and delayed by a handful of samples,
// mimicking the modulator's feedback wire format.
func serveOneCapture(t *testing.T, ln net.Listener, n uint32, shift int) {
	t.Helper()
	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	var version [1]byte
	_, err = conn.Read(version[:])
	require.NoError(t, err)
	require.Equal(t, byte(ProtocolVersion), version[0])

	reqHdr := make([]byte, 4)
	_, err = readFull(conn, reqHdr)
	require.NoError(t, err)
	requested := binary.LittleEndian.Uint32(reqHdr)
	require.Equal(t, n, requested)

	tx := make([]complex64, n)
	for i := range tx {
		theta := 2 * math.Pi * 4 * float64(i) / float64(n)
		tx[i] = complex64(complex(math.Cos(theta), math.Sin(theta)))
	}
	rx := make([]complex64, n)
	for i := range rx {
		src := (int(i) - shift + int(n)) % int(n)
		rx[i] = tx[src] * 0.5
	}

	txHdr := make([]byte, 12)
	binary.LittleEndian.PutUint32(txHdr[0:4], n)
	binary.LittleEndian.PutUint32(txHdr[4:8], 100)
	binary.LittleEndian.PutUint32(txHdr[8:12], 200)
	_, err = conn.Write(txHdr)
	require.NoError(t, err)
	_, err = conn.Write(encodeFrame(tx))
	require.NoError(t, err)

	rxHdr := make([]byte, 8)
	binary.LittleEndian.PutUint32(rxHdr[0:4], 100)
	binary.LittleEndian.PutUint32(rxHdr[4:8], 300)
	_, err = conn.Write(rxHdr)
	require.NoError(t, err)
	_, err = conn.Write(encodeFrame(rx))
	require.NoError(t, err)
}

func encodeFrame(frame []complex64) []byte {
	out := make([]byte, len(frame)*sampleSize)
	for i, s := range frame {
		off := i * sampleSize
		binary.LittleEndian.PutUint32(out[off:off+4], math.Float32bits(real(s)))
		binary.LittleEndian.PutUint32(out[off+4:off+8], math.Float32bits(imag(s)))
	}
	return out
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		m, err := conn.Read(buf[total:])
		total += m
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestCaptureRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	const n = 256
	go serveOneCapture(t, ln, n, 2)

	c := NewClient(ln.Addr().String(), n)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := c.Capture(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(result.Tx), len(result.Rx))
	assert.True(t, len(result.Tx) > 0)
	assert.Equal(t, uint32(100), result.TxTS.Seconds)
	assert.Equal(t, uint32(300), result.RxTS.Ticks)
	assert.InDelta(t, float64(result.TxMedian), 1.0, 1e-4)
	assert.InDelta(t, float64(result.RxMedian), 0.5, 1e-4)
}

func TestCaptureRejectsUnreachableAddr(t *testing.T) {
	c := NewClient("127.0.0.1:1", 16)
	c.DialTimeout = 100 * time.Millisecond
	_, err := c.Capture(context.Background())
	assert.Error(t, err)
}
