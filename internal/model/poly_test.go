package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResetCoefsIsIdentity(t *testing.T) {
	m := New()
	data := m.GetDpdData()
	assert.Equal(t, float32(1), data.CoefsAM[0])
	for i := 1; i < K; i++ {
		assert.Equal(t, float32(0), data.CoefsAM[i])
	}
	for i := 0; i < K; i++ {
		assert.Equal(t, float32(0), data.CoefsPM[i])
	}
}

func TestTrainConvergesInOneStepWithFullLearningRate(t *testing.T) {
	m := New()

	n := 16
	txMean := make([]float32, n)
	rxMean := make([]float32, n)
	phaseMean := make([]float32, n)
	for i := 0; i < n; i++ {
		rx := 0.05 + 0.03*float32(i)
		rxMean[i] = rx
		txMean[i] = 2 * rx // identity-ish relation, tx = 2*rx
		phaseMean[i] = 0
	}

	err := m.Train(txMean, rxMean, phaseMean, 1.0)
	require.NoError(t, err)

	data := m.GetDpdData()
	// coefs_am should now approximate tx = 2*rx, i.e. coefs_am[0] ~ 2.
	assert.InDelta(t, 2.0, float64(data.CoefsAM[0]), 0.05)
}

func TestTrainRejectsLengthMismatch(t *testing.T) {
	m := New()
	err := m.Train([]float32{1, 2}, []float32{1}, []float32{0, 0}, 0.1)
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestTrainRejectsEmptyInput(t *testing.T) {
	m := New()
	err := m.Train(nil, nil, nil, 0.1)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestSetDpdDataValidatesShape(t *testing.T) {
	m := New()
	err := m.SetDpdData(Poly{CoefsAM: []float32{1, 2}, CoefsPM: make([]float32, K)})
	assert.ErrorIs(t, err, ErrBadShape)
}

func TestSetDpdDataRoundTrip(t *testing.T) {
	m := New()
	want := Poly{
		CoefsAM: []float32{1.1, 0.2, 0.01, 0, 0},
		CoefsPM: []float32{0.05, 0.1, 0, 0, 0},
	}
	require.NoError(t, m.SetDpdData(want))
	got := m.GetDpdData()
	assert.Equal(t, want.CoefsAM, got.CoefsAM)
	assert.Equal(t, want.CoefsPM, got.CoefsPM)
}

func TestSmallAmplitudePhaseSuppressed(t *testing.T) {
	txMean := []float32{0.01, 0.5, 0.6}
	phaseMean := []float32{1.23, 0.1, 0.12}
	out := suppressSmallAmplitude(txMean, phaseMean)
	assert.Equal(t, float32(0), out[0])
	assert.Equal(t, float32(0.1), out[1])
}

func TestBlendLearningRateZeroLeavesCoefsUnchanged(t *testing.T) {
	coefs := []float32{1, 0, 0, 0, 0}
	next := []float32{5, 5, 5, 5, 5}
	blend(coefs, next, 0)
	assert.Equal(t, []float32{1, 0, 0, 0, 0}, coefs)
}
