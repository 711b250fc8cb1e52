// Package orchestrator implements the engine's finite-state machine: a
// single worker goroutine draining a one-slot command queue, sequencing
// captures, modelling, adaptation and rollback, with all shared state
// behind one mutex so RPC handlers only ever observe a consistent
// snapshot.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kb3bmv/dpdce/internal/adapt"
	"github.com/kb3bmv/dpdce/internal/agc"
	"github.com/kb3bmv/dpdce/internal/align"
	"github.com/kb3bmv/dpdce/internal/capture"
	"github.com/kb3bmv/dpdce/internal/heuristics"
	"github.com/kb3bmv/dpdce/internal/model"
	"github.com/kb3bmv/dpdce/internal/snapshot"
	"github.com/kb3bmv/dpdce/internal/stats"
)

// State is one of the FSM's five states.
type State int

const (
	Idle State = iota
	RxCalibration
	CaptureAndModel
	UpdatePredistorter
	AutorestartPending
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case RxCalibration:
		return "RxCalibration"
	case CaptureAndModel:
		return "CaptureAndModel"
	case UpdatePredistorter:
		return "UpdatePredistorter"
	case AutorestartPending:
		return "AutorestartPending"
	default:
		return "Unknown"
	}
}

// AutorestartCooldown is how long the engine spends in
// AutorestartPending before returning to Idle after an unhandled panic
// or error at the worker-loop boundary.
const AutorestartCooldown = 10 * time.Second

// ErrBusy is returned by Submit when the single-slot queue is already
// occupied.
var ErrBusy = errors.New("orchestrator: busy")

// command is one queued FSM request.
type command struct {
	kind   string
	dumpID string
	done   chan struct{}
}

// RunState is the deep-copyable snapshot RPC's get_results exposes.
type RunState struct {
	State         State
	StateProgress int
	Summary       string
	NRuns         int
	TxMedian      float32
	RxMedian      float32
	AdaptDumps    []string
	PendingCoefs  model.Poly
	HasPending    bool
}

// CaptureFn abstracts one feedback capture, so the FSM can be tested
// without a modulator connection.
type CaptureFn func(ctx context.Context) (*capture.Result, error)

// Orchestrator owns the FSM, the compute components and the work
// queue. Only the worker goroutine mutates non-locked fields.
type Orchestrator struct {
	Logger  *log.Logger
	Capture CaptureFn
	Agc     *agc.Agc
	Adapter *adapt.Adapter
	Model   *model.Model
	APeak   float64

	DumpDir string

	mu    sync.Mutex
	state RunState
	queue chan command

	extractor *stats.Extractor

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds an Orchestrator, restoring any persisted adapt_dumps from
// DumpDir.
func New(logger *log.Logger, capture CaptureFn, agcLoop *agc.Agc, adapter *adapt.Adapter, dumpDir string) (*Orchestrator, error) {
	dumps, err := snapshot.Enumerate(dumpDir)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: enumerate dumps: %w", err)
	}

	o := &Orchestrator{
		Logger:  logger,
		Capture: capture,
		Agc:     agcLoop,
		Adapter: adapter,
		Model:   model.New(),
		DumpDir: dumpDir,
		queue:   make(chan command, 1),
		state: RunState{
			State:      Idle,
			AdaptDumps: dumps,
		},
	}
	return o, nil
}

// Start launches the worker goroutine.
func (o *Orchestrator) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.wg.Add(1)
	go o.workerLoop(runCtx)
}

// Stop flushes the queue and stops the worker goroutine.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	for {
		select {
		case cmd := <-o.queue:
			close(cmd.done)
		default:
			return
		}
	}
}

// submit enqueues a command, returning ErrBusy if the single slot is
// occupied.
func (o *Orchestrator) submit(kind, dumpID string) error {
	cmd := command{kind: kind, dumpID: dumpID, done: make(chan struct{})}
	select {
	case o.queue <- cmd:
		<-cmd.done
		return nil
	default:
		return ErrBusy
	}
}

// Calibrate runs the RX AGC loop.
func (o *Orchestrator) Calibrate() error { return o.submit("calibrate", "") }

// Reset reconstructs the statistic extractor and resets the model.
func (o *Orchestrator) Reset() error { return o.submit("reset", "") }

// TriggerRun accumulates statistics and trains one iteration.
func (o *Orchestrator) TriggerRun() error { return o.submit("trigger_run", "") }

// Adapt applies the pending coefficients and snapshots the result.
func (o *Orchestrator) Adapt() error { return o.submit("adapt", "") }

// RestoreDump restores a named snapshot, or the synthetic "defaults".
func (o *Orchestrator) RestoreDump(dumpID string) error { return o.submit("restore_dump", dumpID) }

// GetResults returns a deep copy of RunState under lock.
func (o *Orchestrator) GetResults() RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return copyState(o.state)
}

func copyState(s RunState) RunState {
	dumps := make([]string, len(s.AdaptDumps))
	copy(dumps, s.AdaptDumps)
	am := make([]float32, len(s.PendingCoefs.CoefsAM))
	copy(am, s.PendingCoefs.CoefsAM)
	pm := make([]float32, len(s.PendingCoefs.CoefsPM))
	copy(pm, s.PendingCoefs.CoefsPM)
	s.AdaptDumps = dumps
	s.PendingCoefs = model.Poly{CoefsAM: am, CoefsPM: pm}
	return s
}

func (o *Orchestrator) setState(mutate func(*RunState)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	mutate(&o.state)
}

func (o *Orchestrator) workerLoop(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-o.queue:
			o.runCommandRecovering(ctx, cmd)
			close(cmd.done)
		}
	}
}

// runCommandRecovering executes cmd, catching any panic at this
// boundary and entering AutorestartPending instead of crashing the
// worker goroutine.
func (o *Orchestrator) runCommandRecovering(ctx context.Context, cmd command) {
	defer func() {
		if r := recover(); r != nil {
			o.Logger.Error("worker loop panic", "cmd", cmd.kind, "recover", r)
			o.enterAutorestart(fmt.Sprintf("panic: %v", r))
		}
	}()

	if err := o.runCommand(ctx, cmd); err != nil {
		o.Logger.Error("command failed", "cmd", cmd.kind, "err", err)
		o.enterAutorestart(err.Error())
	}
}

func (o *Orchestrator) enterAutorestart(summary string) {
	o.setState(func(s *RunState) {
		s.State = AutorestartPending
		s.Summary = summary
		s.StateProgress = 0
	})

	steps := 10
	for i := 1; i <= steps; i++ {
		time.Sleep(AutorestartCooldown / time.Duration(steps))
		progress := i * 100 / steps
		o.setState(func(s *RunState) { s.StateProgress = progress })
	}

	o.setState(func(s *RunState) {
		s.State = Idle
		s.StateProgress = 100
	})
}

func (o *Orchestrator) runCommand(ctx context.Context, cmd command) error {
	switch cmd.kind {
	case "calibrate":
		return o.doCalibrate(ctx)
	case "reset":
		return o.doReset()
	case "trigger_run":
		return o.doTriggerRun(ctx)
	case "adapt":
		return o.doAdapt(ctx)
	case "restore_dump":
		return o.doRestoreDump(cmd.dumpID)
	default:
		return fmt.Errorf("orchestrator: unknown command %q", cmd.kind)
	}
}

func (o *Orchestrator) doCalibrate(ctx context.Context) error {
	o.setState(func(s *RunState) { s.State = RxCalibration; s.StateProgress = 0 })
	err := o.Agc.Run(ctx)
	o.setState(func(s *RunState) {
		s.State = Idle
		s.StateProgress = 100
		if err != nil {
			s.Summary = err.Error()
		} else {
			s.Summary = "calibration complete"
		}
	})
	if err != nil && !errors.Is(err, agc.ErrTooHot) {
		return err
	}
	return nil
}

func (o *Orchestrator) doReset() error {
	o.extractor = nil
	o.Model.ResetCoefs()
	o.setState(func(s *RunState) {
		s.NRuns = 0
		s.State = Idle
		s.StateProgress = 100
		s.Summary = "reset complete"
		s.HasPending = false
	})
	return nil
}

func (o *Orchestrator) doTriggerRun(ctx context.Context) error {
	o.setState(func(s *RunState) { s.State = CaptureAndModel; s.StateProgress = 0 })

	nRuns := o.GetResults().NRuns
	target := heuristics.NMeas(nRuns)

	var result stats.Result
	for o.extractor == nil || o.extractor.NMeas() < target {
		capResult, err := o.Capture(ctx)
		if err != nil {
			if errors.Is(err, align.ErrOptimizerFailed) {
				o.Logger.Warn("discarding capture", "err", err)
				continue
			}
			return fmt.Errorf("capture failed: %w", err)
		}

		if o.extractor == nil {
			if o.APeak == 0 {
				o.APeak = float64(capResult.TxMedian) * stats.MedianToPeak
			}
			o.extractor = stats.NewExtractor(stats.DefaultBins, stats.DefaultPerBin, o.APeak)
		}

		r, err := o.extractor.Extract(capResult.Tx, capResult.Rx)
		if err != nil {
			o.Logger.Warn("discarding capture", "err", err)
			continue
		}
		result = r

		o.setState(func(s *RunState) {
			s.TxMedian = capResult.TxMedian
			s.RxMedian = capResult.RxMedian
			s.StateProgress = o.extractor.NMeas() * 100 / target
		})
	}

	lr := heuristics.LearningRate(nRuns)
	if err := o.Model.Train(result.TxMean, result.RxMean, result.PhaseMean, lr); err != nil {
		return fmt.Errorf("train failed: %w", err)
	}
	o.extractor = nil

	pending := o.Model.GetDpdData()
	o.setState(func(s *RunState) {
		s.State = Idle
		s.StateProgress = 100
		s.Summary = "training run complete"
		s.PendingCoefs = pending
		s.HasPending = true
	})
	return nil
}

func (o *Orchestrator) doAdapt(ctx context.Context) error {
	o.setState(func(s *RunState) { s.State = UpdatePredistorter; s.StateProgress = 0 })

	results := o.GetResults()
	if !results.HasPending {
		return errors.New("adapt: no pending coefficients, run trigger_run first")
	}

	if err := o.Adapter.SetPredistorter(results.PendingCoefs); err != nil {
		return fmt.Errorf("adapt: apply predistorter: %w", err)
	}

	if _, err := o.Capture(ctx); err != nil {
		o.Logger.Warn("post-adapt capture failed", "err", err)
	}

	ts := time.Now().Unix()
	path := snapshot.PathFor(o.DumpDir, ts)
	if err := o.Adapter.Dump(path); err != nil {
		return fmt.Errorf("adapt: snapshot: %w", err)
	}

	dumpID := fmt.Sprintf("%d", ts)
	o.setState(func(s *RunState) {
		s.State = Idle
		s.StateProgress = 100
		s.Summary = "adapt complete"
		s.NRuns++
		s.AdaptDumps = append(s.AdaptDumps, dumpID)
		s.HasPending = false
	})
	return nil
}

func (o *Orchestrator) doRestoreDump(dumpID string) error {
	if dumpID == snapshot.DefaultsID {
		o.Model.ResetCoefs()
		if err := o.Adapter.RestoreDefaults(); err != nil {
			return fmt.Errorf("restore_dump: %w", err)
		}
	} else {
		path := snapshot.PathFor(o.DumpDir, mustAtoi(dumpID))
		if err := o.Adapter.Restore(path); err != nil {
			return fmt.Errorf("restore_dump: %w", err)
		}
	}

	o.setState(func(s *RunState) {
		s.State = Idle
		s.StateProgress = 100
		s.Summary = fmt.Sprintf("restored %s", dumpID)
		s.HasPending = false
	})
	return nil
}

func mustAtoi(s string) int64 {
	var v int64
	fmt.Sscanf(s, "%d", &v)
	return v
}
