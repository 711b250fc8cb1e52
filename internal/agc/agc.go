// Package agc implements RxAgc: a median-based robust automatic gain
// control loop for the modulator's RX feedback path.
package agc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Hardware-specific RX gain bounds and targets, per the modulator's DPD
// feedback receiver.
const (
	RagcMin       = 25.0
	RagcMax       = 65.0
	MTarget       = 0.05
	PeakToMedian  = 1.0 / MTarget
	SafeGainDB    = 30.0
	SettleDelay   = 500 * time.Millisecond
	RunIterations = 3
)

// ErrTooHot is returned when the correction would push gain below
// RagcMin: the signal is already too strong for the available range.
var ErrTooHot = errors.New("agc: rx too hot")

// ErrTooCold is a soft condition: gain has been reset to SafeGainDB and
// the caller should retry.
var ErrTooCold = errors.New("agc: rx too cold, gain reset")

// GainController abstracts the RC client's RX gain get/set, so the
// control loop can be tested without a modulator connection.
type GainController interface {
	GetRxGain(ctx context.Context) (float64, error)
	SetRxGain(ctx context.Context, gainDB float64) error
}

// MedianSource supplies one unaligned RX median reading per invocation,
// e.g. from a single capture.Client.MeasureMedian.
type MedianSource interface {
	RxMedian(ctx context.Context) (float32, error)
}

// Agc runs the gain-correction loop against a GainController and a
// MedianSource.
type Agc struct {
	Gains   GainController
	Medians MedianSource
	Sleep   func(time.Duration)
}

// New builds an Agc with a real time.Sleep; tests override Sleep to
// avoid the 500ms settle delay.
func New(gains GainController, medians MedianSource) *Agc {
	return &Agc{Gains: gains, Medians: medians, Sleep: time.Sleep}
}

// Step performs a single correction: read the RX median, estimate the
// peak, compute the dB correction, and apply it (or fail / reset per the
// out-of-range rules).
func (a *Agc) Step(ctx context.Context) error {
	m, err := a.Medians.RxMedian(ctx)
	if err != nil {
		return fmt.Errorf("agc: read median: %w", err)
	}

	g, err := a.Gains.GetRxGain(ctx)
	if err != nil {
		return fmt.Errorf("agc: read gain: %w", err)
	}

	peakEst := float64(m) * PeakToMedian
	var deltaDB float64
	if peakEst > 0 {
		deltaDB = 20 * math.Log10(1/peakEst)
	}
	newGain := g + deltaDB

	switch {
	case newGain < RagcMin:
		return ErrTooHot
	case newGain > RagcMax:
		if err := a.Gains.SetRxGain(ctx, SafeGainDB); err != nil {
			return fmt.Errorf("agc: reset gain: %w", err)
		}
		return ErrTooCold
	default:
		if err := a.Gains.SetRxGain(ctx, newGain); err != nil {
			return fmt.Errorf("agc: set gain: %w", err)
		}
		a.sleep(SettleDelay)
		return nil
	}
}

// Run performs RunIterations corrective Step calls, stopping early on
// ErrTooHot (unrecoverable without operator intervention) but
// continuing through ErrTooCold (the reset itself is a valid outcome).
func (a *Agc) Run(ctx context.Context) error {
	for i := 0; i < RunIterations; i++ {
		err := a.Step(ctx)
		switch {
		case err == nil:
			continue
		case errors.Is(err, ErrTooCold):
			continue
		default:
			return err
		}
	}
	return nil
}

func (a *Agc) sleep(d time.Duration) {
	if a.Sleep != nil {
		a.Sleep(d)
		return
	}
	time.Sleep(d)
}
