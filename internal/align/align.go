// Package align implements the coarse, subsample and phase alignment of
// a transmit/receive IQ capture pair for the modulator's DPD feedback
// path.
//
// The three passes mirror ODR-DabMod's Dab_Util / subsample_align /
// phase_align split: a cheap FFT-based cross-correlation finds the
// integer sample lag, a bounded scalar optimisation over a linear phase
// ramp in the frequency domain recovers the fractional (subsample) lag,
// and a median-of-components rotation removes any constant carrier
// phase offset that coarse/subsample alignment cannot.
package align

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// ErrOptimizerFailed is returned when the bounded subsample search does
// not converge. Per contract, the caller must discard the capture.
var ErrOptimizerFailed = errors.New("align: subsample optimizer did not converge")

// ErrLengthMismatch is returned when tx and rx are not the same length.
var ErrLengthMismatch = errors.New("align: tx and rx frames must have equal length")

// Align produces equal-length, sample- and phase-aligned copies of tx
// and rx. On subsample optimizer failure it returns a zero-length rx
// and ErrOptimizerFailed; the caller must treat the capture as failed.
func Align(tx, rx []complex64) (txOut, rxOut []complex64, err error) {
	if len(tx) != len(rx) {
		return nil, nil, ErrLengthMismatch
	}
	if len(tx) == 0 {
		return nil, nil, ErrLengthMismatch
	}

	tx, rx = coarseAlign(tx, rx)
	if len(tx)%2 == 1 {
		tx = tx[:len(tx)-1]
		rx = rx[:len(rx)-1]
	}
	if len(tx) == 0 {
		return tx, rx, nil
	}

	rx, ok := subsampleAlign(rx, tx)
	if !ok {
		return tx, []complex64{}, ErrOptimizerFailed
	}

	rx = phaseAlign(tx, rx)

	return tx, rx, nil
}

// coarseAlign finds the integer lag k = argmax(|correlate(rx, tx)|) -
// len(tx) + 1 and trims the leading/trailing edge of whichever signal
// is ahead, so both come back the same (possibly shorter) length.
func coarseAlign(tx, rx []complex64) (txOut, rxOut []complex64) {
	k := coarseLag(rx, tx)

	switch {
	case k > 0:
		tx = tx[:len(tx)-k]
		rx = rx[k:]
	case k < 0:
		m := -k
		tx = tx[m:]
		rx = rx[:len(rx)-m]
	}
	return tx, rx
}

// coarseLag computes argmax(|correlate(a, b)|) - len(b) + 1 using a
// zero-padded FFT cross-correlation to avoid the O(n^2) direct sum over
// frames that can run to tens of thousands of samples.
func coarseLag(a, b []complex64) int {
	n := len(b)
	fftLen := nextPow2(2 * n)

	af := toComplex128Padded(a, fftLen)
	bf := toComplex128Padded(b, fftLen)

	fft := fourier.NewCmplxFFT(fftLen)
	specA := fft.Coefficients(nil, af)
	specB := fft.Coefficients(nil, bf)

	cross := make([]complex128, fftLen)
	for i := range cross {
		cross[i] = specA[i] * cmplxConj(specB[i])
	}
	corrFull := fft.Sequence(nil, cross)

	// corrFull[m] holds the circular correlation at shift m; since the
	// padding exceeds the full linear-correlation support (2n-1), the
	// values for lag in [0, n) sit at corrFull[0:n) and the values for
	// negative lag sit at the tail, corrFull[fftLen-(n-1):fftLen).
	bestIdx := 0
	bestMag := -1.0
	for lag := -(n - 1); lag <= n-1; lag++ {
		var v complex128
		if lag >= 0 {
			v = corrFull[lag]
		} else {
			v = corrFull[fftLen+lag]
		}
		mag := cmplxAbs(v)
		if mag > bestMag {
			bestMag = mag
			bestIdx = lag
		}
	}
	return bestIdx
}

// subsampleAlign performs bounded 1-D minimisation over tau in [-1, 1]
// of the negative correlation magnitude between a fractionally rotated
// copy of sig's spectrum and ref, returning the corrected sig.
func subsampleAlign(sig, ref []complex64) (out []complex64, ok bool) {
	n := len(sig)
	if n == 0 || n%2 != 0 {
		return nil, false
	}

	fft := fourier.NewCmplxFFT(n)
	sigSpec := fft.Coefficients(nil, toComplex128(sig))
	refC := toComplex128(ref)
	omega := genOmega(n)
	halflen := n / 2

	rotate := make([]complex128, n)
	buildRotate := func(tau float64) {
		for i, w := range omega {
			rotate[i] = cmplx128Exp(tau * w)
		}
		rotate[halflen] = complex(math.Cos(math.Pi*tau), 0)
	}

	correlateFor := func(tau float64) float64 {
		buildRotate(tau)
		mixed := make([]complex128, n)
		for i := range mixed {
			mixed[i] = rotate[i] * sigSpec[i]
		}
		corrSig := fft.Sequence(nil, mixed)

		var sum complex128
		for i := range corrSig {
			sum += cmplxConj(corrSig[i]) * refC[i]
		}
		return -cmplxAbs(sum)
	}

	tau, minOK := minimizeScalarBounded(correlateFor, -1, 1, 1e-6, 100)
	if !minOK {
		return nil, false
	}

	buildRotate(tau)
	mixed := make([]complex128, n)
	for i := range mixed {
		mixed[i] = rotate[i] * sigSpec[i]
	}
	corrected := fft.Sequence(nil, mixed)

	out = make([]complex64, n)
	for i, c := range corrected {
		out[i] = complex64(c)
	}
	return out, true
}

// phaseAlign removes a constant carrier phase offset between rx and
// tx. The rotation angle is derived from the median of the cosine and
// sine of the per-sample phase difference independently, which is
// robust to samples whose phase difference straddles the +-pi wrap
// point (a plain median of the angle is not).
func phaseAlign(tx, rx []complex64) []complex64 {
	n := len(rx)
	cosd := make([]float32, n)
	sind := make([]float32, n)
	for i := range rx {
		d := wrap2Pi(phaseOf(rx[i]) - phaseOf(tx[i]))
		cosd[i] = float32(math.Cos(float64(d)))
		sind[i] = float32(math.Sin(float64(d)))
	}

	medCos := medianFloat32(cosd)
	medSin := medianFloat32(sind)
	alpha := math.Atan2(float64(medSin), float64(medCos))

	rot := cmplx128Exp(-alpha)
	out := make([]complex64, n)
	for i, s := range rx {
		out[i] = complex64(complex(float64(real(s)), float64(imag(s))) * rot)
	}
	return out
}

func genOmega(n int) []float64 {
	omega := make([]float64, n)
	factor := 2.0 * math.Pi / float64(n)
	half := n / 2
	for i := 0; i < half; i++ {
		omega[i] = factor * float64(i)
	}
	for i := half; i < n; i++ {
		omega[i] = factor * float64(i-n)
	}
	return omega
}

func phaseOf(c complex64) float64 {
	return math.Atan2(float64(imag(c)), float64(real(c)))
}

func wrap2Pi(x float64) float64 {
	const twoPi = 2 * math.Pi
	y := math.Mod(x, twoPi)
	if y < 0 {
		y += twoPi
	}
	return y
}

func medianFloat32(v []float32) float32 {
	cp := make([]float32, len(v))
	copy(cp, v)
	for i := 1; i < len(cp); i++ {
		for j := i; j > 0 && cp[j-1] > cp[j]; j-- {
			cp[j-1], cp[j] = cp[j], cp[j-1]
		}
	}
	if len(cp) == 0 {
		return 0
	}
	mid := len(cp) / 2
	if len(cp)%2 == 1 {
		return cp[mid]
	}
	return (cp[mid-1] + cp[mid]) / 2
}

func toComplex128(a []complex64) []complex128 {
	out := make([]complex128, len(a))
	for i, c := range a {
		out[i] = complex(float64(real(c)), float64(imag(c)))
	}
	return out
}

func toComplex128Padded(a []complex64, n int) []complex128 {
	out := make([]complex128, n)
	for i, c := range a {
		out[i] = complex(float64(real(c)), float64(imag(c)))
	}
	return out
}

func cmplxConj(c complex128) complex128 { return complex(real(c), -imag(c)) }
func cmplxAbs(c complex128) float64     { return math.Hypot(real(c), imag(c)) }
func cmplx128Exp(theta float64) complex128 {
	return complex(math.Cos(theta), math.Sin(theta))
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
