package heuristics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLearningRateBounds(t *testing.T) {
	assert.InDelta(t, 0.4, LearningRate(0), 1e-9)
	assert.InDelta(t, 0.05, LearningRate(10), 1e-9)
	assert.InDelta(t, 0.05, LearningRate(50), 1e-9)
	assert.InDelta(t, 0.225, LearningRate(5), 1e-9)
}

func TestLearningRateMonotonicDecreasing(t *testing.T) {
	prev := LearningRate(0)
	for i := 1; i <= 20; i++ {
		cur := LearningRate(i)
		assert.LessOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestNMeasBounds(t *testing.T) {
	assert.Equal(t, 10, NMeas(0))
	assert.Equal(t, 20, NMeas(10))
	assert.Equal(t, 20, NMeas(100))
}

func TestNMeasMonotonicIncreasing(t *testing.T) {
	prev := NMeas(0)
	for i := 1; i <= 20; i++ {
		cur := NMeas(i)
		assert.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestNMeasClampsAtIMax(t *testing.T) {
	for i := iMax; i < iMax+5; i++ {
		assert.Equal(t, nMax, NMeas(i))
	}
}
