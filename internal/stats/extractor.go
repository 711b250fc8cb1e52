// Package stats implements StatExtractor: amplitude-binned accumulation
// of aligned (tx, rx) IQ pairs into the per-bin mean magnitude and phase
// statistic that PolyModel trains against.
package stats

import (
	"errors"
	"math"

	"github.com/kb3bmv/dpdce/internal/iqmath"
)

// Defaults per the modulator's DPD engine.
const (
	DefaultBins      = 64
	DefaultPerBin    = 128
	MedianToPeak     = 12 // A_peak = tx_median * MedianToPeak, chosen once
	normalizeEpsilon = 0.01
)

// ErrNotNormalized is returned by Extract when tx and rx are not
// median-normalised to within 1% of each other, a precondition the
// capture pipeline is expected to already satisfy.
var ErrNotNormalized = errors.New("stats: tx/rx frames are not normalized")

// ErrLengthMismatch is returned when tx and rx differ in length.
var ErrLengthMismatch = errors.New("stats: tx and rx must have equal length")

// pair holds one (tx, rx) sample routed into a bin.
type pair struct {
	tx complex64
	rx complex64
}

// Extractor is BinStatistic: a fixed set of amplitude bins over
// [0, APeak], each accumulating up to PerBin (tx, rx) pairs. It is not
// safe for concurrent use; the Orchestrator owns a single instance per
// training run and discards it once consumed.
type Extractor struct {
	Bins   int
	PerBin int
	APeak  float64

	edges []float64
	data  [][]pair
	nMeas int
}

// NewExtractor builds an Extractor with the given geometry. APeak is the
// upper bin edge; bin edges are linspace(0, APeak, Bins+1).
func NewExtractor(bins, perBin int, aPeak float64) *Extractor {
	e := &Extractor{
		Bins:   bins,
		PerBin: perBin,
		APeak:  aPeak,
		edges:  make([]float64, bins+1),
		data:   make([][]pair, bins),
	}
	for i := range e.edges {
		e.edges[i] = aPeak * float64(i) / float64(bins)
	}
	for i := range e.data {
		e.data[i] = make([]pair, 0, perBin)
	}
	return e
}

// NMeas is the number of Extract calls folded into this accumulator.
func (e *Extractor) NMeas() int { return e.nMeas }

// Result is the truncated statistic extract() produces: the usable
// low-index prefix over which every bin reached PerBin samples.
type Result struct {
	TxMean    []float32
	RxMean    []float32
	PhaseMean []float32
	NPerBin   []int
}

// Extract folds a new aligned (tx, rx) capture into the bin
// accumulators and returns the current usable statistic.
func (e *Extractor) Extract(tx, rx []complex64) (Result, error) {
	if len(tx) != len(rx) {
		return Result{}, ErrLengthMismatch
	}

	txMedian := float64(iqmath.MedianAbs(tx))
	rxMedian := float64(iqmath.MedianAbs(rx))
	if txMedian+rxMedian > 0 {
		if math.Abs(txMedian-rxMedian)/(txMedian+rxMedian) >= normalizeEpsilon {
			return Result{}, ErrNotNormalized
		}
	}

	for i := range tx {
		mag := float64(cmplxAbs(tx[i]))
		bin := e.binOf(mag)
		if bin < 0 {
			continue
		}
		if len(e.data[bin]) >= e.PerBin {
			continue
		}
		e.data[bin] = append(e.data[bin], pair{tx: tx[i], rx: rx[i]})
	}
	e.nMeas++

	return e.usablePrefix(), nil
}

func (e *Extractor) binOf(mag float64) int {
	if mag < e.edges[0] || mag >= e.edges[len(e.edges)-1] {
		return -1
	}
	for i := 0; i < e.Bins; i++ {
		if mag >= e.edges[i] && mag < e.edges[i+1] {
			return i
		}
	}
	return -1
}

func (e *Extractor) usablePrefix() Result {
	usable := e.Bins
	for i := 0; i < e.Bins; i++ {
		if len(e.data[i]) < e.PerBin {
			usable = i
			break
		}
	}

	res := Result{
		TxMean:    make([]float32, usable),
		RxMean:    make([]float32, usable),
		PhaseMean: make([]float32, usable),
		NPerBin:   make([]int, usable),
	}
	for i := 0; i < usable; i++ {
		res.TxMean[i] = float32((e.edges[i] + e.edges[i+1]) / 2)
		res.RxMean[i] = meanRxMag(e.data[i])
		res.PhaseMean[i] = meanPhase(e.data[i])
		res.NPerBin[i] = len(e.data[i])
	}
	return res
}

func meanRxMag(ps []pair) float32 {
	if len(ps) == 0 {
		return 0
	}
	var sum float64
	for _, p := range ps {
		sum += float64(cmplxAbs(p.rx))
	}
	return float32(sum / float64(len(ps)))
}

func meanPhase(ps []pair) float32 {
	if len(ps) == 0 {
		return 0
	}
	var sum float64
	for _, p := range ps {
		c := complex(float64(real(p.rx)), float64(imag(p.rx))) *
			complex(float64(real(p.tx)), -float64(imag(p.tx)))
		sum += math.Atan2(imag(c), real(c))
	}
	return float32(sum / float64(len(ps)))
}

func cmplxAbs(c complex64) float32 {
	return float32(math.Hypot(float64(real(c)), float64(imag(c))))
}
