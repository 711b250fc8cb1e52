// Package iqmath holds small numeric helpers shared by the capture
// (including the median reading AGC takes) and statistic stages: median
// and magnitude operations over complex64 IQ samples.
package iqmath

import (
	"math"
	"sort"
)

// Abs returns |frame[i]| for every sample.
func Abs(frame []complex64) []float32 {
	out := make([]float32, len(frame))
	for i, s := range frame {
		out[i] = float32(math.Hypot(float64(real(s)), float64(imag(s))))
	}
	return out
}

// Median returns the median of values. It does not mutate its argument.
func Median(values []float32) float32 {
	if len(values) == 0 {
		return 0
	}
	cp := make([]float32, len(values))
	copy(cp, values)
	sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
	mid := len(cp) / 2
	if len(cp)%2 == 1 {
		return cp[mid]
	}
	return (cp[mid-1] + cp[mid]) / 2
}

// MedianAbs is the median of the per-sample magnitudes of frame.
func MedianAbs(frame []complex64) float32 {
	return Median(Abs(frame))
}
