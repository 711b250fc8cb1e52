// Package heuristics holds the pure, deterministic learning-rate and
// measurement-count schedules the orchestrator consults on each
// training iteration.
package heuristics

const (
	lrMax = 0.4
	lrMin = 0.05
	iMax  = 10

	nMin = 10
	nMax = 20
)

// LearningRate returns the blend factor for training iteration i: it
// starts at lrMax and decays linearly to lrMin by iteration iMax,
// staying at lrMin thereafter.
func LearningRate(i int) float64 {
	frac := minInt(i, iMax)
	lr := lrMax - (lrMax-lrMin)*float64(frac)/float64(iMax)
	return clamp(lr, lrMin, lrMax)
}

// NMeas returns the number of Extract calls to accumulate before
// training at iteration i: it grows linearly from nMin to nMax by
// iteration iMax, staying at nMax thereafter.
func NMeas(i int) int {
	frac := minInt(i, iMax)
	n := float64(nMin) + (float64(nMax)-float64(nMin))*float64(frac)/float64(iMax)
	return int(n + 0.5)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
