// Package model implements PolyModel: the AM/AM and AM/PM polynomial
// predistortion coefficients, trained by (unweighted) least squares against
// the binned (tx, rx, phase) statistic StatExtractor produces.
package model

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// K is the polynomial order used for both the AM/AM and AM/PM fits,
// matching the modulator's default memlesspoly predistorter.
const K = 5

// MPMTxMin is the small-value suppression threshold: AM/PM phase
// samples below this tx amplitude are forced to zero before fitting,
// since phase is unobservable there.
const MPMTxMin = 0.1

// ErrLengthMismatch is returned when the three input arrays differ in
// length.
var ErrLengthMismatch = errors.New("model: txMean, rxMean, phaseMean must have equal length")

// ErrEmptyInput is returned when train is called with no samples.
var ErrEmptyInput = errors.New("model: train requires at least one sample")

// ErrBadShape is returned by SetDpdData when the coefficient count does
// not match K.
var ErrBadShape = errors.New("model: coefficient vector has wrong length")

// LutEntries is the fixed table size of the LUT predistorter variant.
const LutEntries = 32

// DpdData is the tagged union Adapter and Snapshot round-trip: either
// the model's own Poly output, or a Lut passed through untrained, per
// the predistorter file's format-tag grammar (1 = poly, 2 = lut).
type DpdData interface {
	// Tag identifies the predistorter file format, matching the
	// file-format tag Adapter writes (1 = poly, 2 = lut).
	Tag() int
}

// Poly is the "poly" variant of DpdData: the AM/AM and AM/PM
// coefficient vectors this model trains.
type Poly struct {
	CoefsAM []float32
	CoefsPM []float32
}

func (Poly) Tag() int { return 1 }

// Lut is the "lut" variant of DpdData: a fixed 32-entry complex lookup
// table with an integer scale factor. The model never trains a Lut; it
// is a foreign, data-plane-only predistorter format the Adapter must
// still be able to read, write, dump and restore unchanged.
type Lut struct {
	Scale int
	Table [LutEntries]complex64
}

func (Lut) Tag() int { return 2 }

var (
	_ DpdData = Poly{}
	_ DpdData = Lut{}
)

// Model holds the current AM/AM and AM/PM coefficient vectors and
// trains them against successive binned statistics.
type Model struct {
	coefsAM []float32
	coefsPM []float32
}

// New returns a Model with identity coefficients (coefsAM[0] = 1, all
// else zero): a pass-through predistorter.
func New() *Model {
	m := &Model{}
	m.ResetCoefs()
	return m
}

// ResetCoefs restores the identity predistorter.
func (m *Model) ResetCoefs() {
	m.coefsAM = make([]float32, K)
	m.coefsAM[0] = 1
	m.coefsPM = make([]float32, K)
}

// GetDpdData returns a copy of the current coefficients as Poly.
func (m *Model) GetDpdData() Poly {
	am := make([]float32, K)
	pm := make([]float32, K)
	copy(am, m.coefsAM)
	copy(pm, m.coefsPM)
	return Poly{CoefsAM: am, CoefsPM: pm}
}

// SetDpdData validates and installs externally supplied coefficients,
// e.g. when restoring a snapshot.
func (m *Model) SetDpdData(data Poly) error {
	if len(data.CoefsAM) != K || len(data.CoefsPM) != K {
		return fmt.Errorf("%w: want %d, got am=%d pm=%d", ErrBadShape, K, len(data.CoefsAM), len(data.CoefsPM))
	}
	am := make([]float32, K)
	pm := make([]float32, K)
	copy(am, data.CoefsAM)
	copy(pm, data.CoefsPM)
	m.coefsAM = am
	m.coefsPM = pm
	return nil
}

// Train updates the AM/AM and AM/PM coefficients from one binned
// statistic extract, blending the new least-squares fit into the
// existing coefficients at the given learning rate.
func (m *Model) Train(txMean, rxMean, phaseMean []float32, lr float64) error {
	if len(txMean) != len(rxMean) || len(txMean) != len(phaseMean) {
		return ErrLengthMismatch
	}
	if len(txMean) == 0 {
		return ErrEmptyInput
	}

	amNew, err := fitPoly(rxMean, txMean, 1)
	if err != nil {
		return fmt.Errorf("model: am fit: %w", err)
	}
	blend(m.coefsAM, amNew, lr)

	phase := suppressSmallAmplitude(txMean, phaseMean)
	pmNew, err := fitPoly(txMean, phase, 0)
	if err != nil {
		return fmt.Errorf("model: pm fit: %w", err)
	}
	blend(m.coefsPM, pmNew, lr)

	return nil
}

// suppressSmallAmplitude zeroes phase samples whose tx amplitude is
// below MPMTxMin, since phase is unobservable at small amplitudes.
func suppressSmallAmplitude(txMean, phaseMean []float32) []float32 {
	out := make([]float32, len(phaseMean))
	for i := range phaseMean {
		if txMean[i] < MPMTxMin {
			out[i] = 0
		} else {
			out[i] = phaseMean[i]
		}
	}
	return out
}

// fitPoly solves A*c = y in the least-squares sense, where
// A[i][k] = x[i]^(k+startPower) for k=0..K-1, falling back to the
// minimum-norm solution when the system is underdetermined (fewer
// samples than coefficients).
func fitPoly(x, y []float32, startPower int) ([]float32, error) {
	n := len(x)
	a := mat.NewDense(n, K, nil)
	for i := 0; i < n; i++ {
		for k := 0; k < K; k++ {
			a.Set(i, k, pow(float64(x[i]), k+startPower))
		}
	}
	yv := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		yv.SetVec(i, float64(y[i]))
	}

	var c mat.VecDense
	if err := c.SolveVec(a, yv); err != nil {
		return nil, err
	}

	out := make([]float32, K)
	for k := 0; k < K; k++ {
		out[k] = float32(c.AtVec(k))
	}
	return out, nil
}

func pow(x float64, k int) float64 {
	r := 1.0
	for i := 0; i < k; i++ {
		r *= x
	}
	return r
}

// blend performs coefs <- coefs + lr*(next - coefs) in place.
func blend(coefs, next []float32, lr float64) {
	for i := range coefs {
		coefs[i] = coefs[i] + float32(lr)*(next[i]-coefs[i])
	}
}
