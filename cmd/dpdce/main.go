// Command dpdce runs the Digital Pre-Distortion Computation Engine: it
// wires the capture, alignment, statistics, modelling, gain control and
// adaptation components to a modulator and serves the operator RPC
// interface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/kb3bmv/dpdce/internal/adapt"
	"github.com/kb3bmv/dpdce/internal/agc"
	"github.com/kb3bmv/dpdce/internal/capture"
	"github.com/kb3bmv/dpdce/internal/config"
	"github.com/kb3bmv/dpdce/internal/discovery"
	"github.com/kb3bmv/dpdce/internal/dpdlog"
	"github.com/kb3bmv/dpdce/internal/orchestrator"
	"github.com/kb3bmv/dpdce/internal/rc"
	"github.com/kb3bmv/dpdce/internal/rpcserver"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := pflag.StringP("config", "c", "/etc/dpdce.ini", "Configuration file path.")
	modulatorHost := pflag.StringP("host", "H", "localhost", "Modulator host.")
	verbose := pflag.BoolP("verbose", "v", false, "Enable debug logging.")
	noDiscovery := pflag.Bool("no-discovery", false, "Disable DNS-SD advertisement.")
	help := pflag.Bool("help", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "dpdce - DAB modulator digital pre-distortion computation engine\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dpdce: %v\n", err)
		return 1
	}

	level := log.InfoLevel
	if *verbose {
		level = log.DebugLevel
	}
	logger, err := dpdlog.New(cfg.LogsDirectory, level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dpdce: %v\n", err)
		return 1
	}

	rcAddr := fmt.Sprintf("%s:%d", *modulatorHost, cfg.RCPort)
	rcClient := rc.NewClient(rcAddr)
	adapter := adapt.New(rcClient, cfg.CoefFile)

	dpdAddr := fmt.Sprintf("%s:%d", *modulatorHost, cfg.DPDPort)
	captureClient := capture.NewClient(dpdAddr, uint32(cfg.Samps))

	agcLoop := agc.New(rxGainAdapter{adapter}, rxMedianCapture{captureClient})

	orch, err := orchestrator.New(logger, captureClient.Capture, agcLoop, adapter, cfg.LogsDirectory)
	if err != nil {
		logger.Error("failed to build orchestrator", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch.Start(ctx)
	defer orch.Stop()

	server, err := rpcserver.Listen(fmt.Sprintf(":%d", cfg.ControlPort), orch, logger)
	if err != nil {
		logger.Error("failed to start rpc server", "err", err)
		return 1
	}
	defer server.Close()

	if !*noDiscovery {
		if _, err := discovery.Announce(ctx, logger, "dpdce", cfg.ControlPort); err != nil {
			logger.Warn("dns-sd announcement failed", "err", err)
		}
	}

	logger.Info("dpdce listening", "addr", server.Addr())
	if err := server.Serve(ctx); err != nil {
		logger.Error("rpc server stopped", "err", err)
		return 1
	}
	return 0
}

// rxGainAdapter satisfies agc.GainController by delegating to Adapter's
// RX gain get/set.
type rxGainAdapter struct{ a *adapt.Adapter }

func (r rxGainAdapter) GetRxGain(ctx context.Context) (float64, error) {
	return r.a.GetRxGain(), nil
}
func (r rxGainAdapter) SetRxGain(ctx context.Context, g float64) error {
	return r.a.SetRxGain(g)
}

// rxMedianCapture satisfies agc.MedianSource with a single, unaligned
// capture's RX median: AGC doesn't need alignment and must not fail
// when the subsample optimiser does.
type rxMedianCapture struct{ c *capture.Client }

func (r rxMedianCapture) RxMedian(ctx context.Context) (float32, error) {
	return r.c.MeasureMedian(ctx)
}
