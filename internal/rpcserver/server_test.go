package rpcserver

import (
	"context"
	"io"
	"math"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kb3bmv/dpdce/internal/adapt"
	"github.com/kb3bmv/dpdce/internal/agc"
	"github.com/kb3bmv/dpdce/internal/capture"
	"github.com/kb3bmv/dpdce/internal/orchestrator"
	"github.com/kb3bmv/dpdce/internal/rpcclient"
)

type fakeRC struct{ values map[string]string }

func newFakeRC() *fakeRC {
	return &fakeRC{values: map[string]string{"sdr.txgain": "10", "sdr.rxgain": "40", "gain.digital": "1"}}
}
func (f *fakeRC) Get(module, param string) (string, error) { return f.values[module+"."+param], nil }
func (f *fakeRC) Set(module, param string, values ...string) (string, error) {
	if len(values) > 0 {
		f.values[module+"."+param] = values[0]
	}
	return "ok", nil
}

type fakeGains struct{ gain float64 }

func (f *fakeGains) GetRxGain(ctx context.Context) (float64, error) { return f.gain, nil }
func (f *fakeGains) SetRxGain(ctx context.Context, g float64) error { f.gain = g; return nil }

type fakeMedians struct{ m float32 }

func (f *fakeMedians) RxMedian(ctx context.Context) (float32, error) { return f.m, nil }

func tone(n int, freqBin float64) []complex64 {
	out := make([]complex64, n)
	for i := 0; i < n; i++ {
		theta := 2 * math.Pi * freqBin * float64(i) / float64(n)
		out[i] = complex64(complex(math.Cos(theta), math.Sin(theta)))
	}
	return out
}

func TestServeRoundTripResetGetResultsAndTriggerRun(t *testing.T) {
	base := tone(1024, 8)
	tx := make([]complex64, len(base))
	rx := make([]complex64, len(tx))
	for i := range rx {
		// Step the amplitude through the midpoints of the 64 default bins
		// over [0, APeak=2.0], so every bin fills and training succeeds.
		amp := 2.0 * (float32(i%64) + 0.5) / 64
		tx[i] = base[i] * complex(amp, 0)
		rx[i] = tx[i] * 0.995
	}

	captureFn := func(ctx context.Context) (*capture.Result, error) {
		return &capture.Result{Tx: tx, Rx: rx, TxMedian: 1.0, RxMedian: 0.995}, nil
	}

	adapter := adapt.New(newFakeRC(), t.TempDir()+"/coef.txt")
	agcLoop := agc.New(&fakeGains{gain: 40}, &fakeMedians{m: 0.05})
	agcLoop.Sleep = func(time.Duration) {}

	orch, err := orchestrator.New(log.NewWithOptions(io.Discard, log.Options{}), captureFn, agcLoop, adapter, t.TempDir())
	require.NoError(t, err)
	orch.APeak = 2.0

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch.Start(ctx)
	defer orch.Stop()

	server, err := Listen("127.0.0.1:0", orch, log.NewWithOptions(io.Discard, log.Options{}))
	require.NoError(t, err)
	defer server.Close()
	go server.Serve(ctx)

	client := rpcclient.NewClient(server.Addr().String())

	require.NoError(t, client.Reset())

	result, err := client.GetResults()
	require.NoError(t, err)
	assert.NotNil(t, result)

	require.NoError(t, client.TriggerRun())
}

func TestUnknownMethodReturnsError(t *testing.T) {
	adapter := adapt.New(newFakeRC(), t.TempDir()+"/coef.txt")
	agcLoop := agc.New(&fakeGains{gain: 40}, &fakeMedians{m: 0.05})
	orch, err := orchestrator.New(log.NewWithOptions(io.Discard, log.Options{}), func(ctx context.Context) (*capture.Result, error) {
		return nil, nil
	}, agcLoop, adapter, t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch.Start(ctx)
	defer orch.Stop()

	server, err := Listen("127.0.0.1:0", orch, log.NewWithOptions(io.Discard, log.Options{}))
	require.NoError(t, err)
	defer server.Close()
	go server.Serve(ctx)

	client := rpcclient.NewClient(server.Addr().String())
	_, err = client.Call("bogus_method", nil)
	assert.Error(t, err)
}
