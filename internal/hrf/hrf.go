// Package hrf models the canonical two-gamma hemodynamic response
// function used to convolve protocol boxcars into BOLD predictors.
package hrf

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Params are the two-gamma parameters: peak delay, undershoot delay,
// peak dispersion, undershoot dispersion, peak/undershoot ratio, onset
// shift (seconds) and kernel length (seconds).
type Params struct {
	PeakDelay            float64
	UndershootDelay      float64
	PeakDispersion       float64
	UndershootDispersion float64
	PeakUndershootRatio  float64
	Onset                float64
	Length               float64
}

// DefaultParams returns the SPM canonical parameters [6 16 1 1 6 0 32].
func DefaultParams() Params {
	return Params{
		PeakDelay:            6,
		UndershootDelay:      16,
		PeakDispersion:       1,
		UndershootDispersion: 1,
		PeakUndershootRatio:  6,
		Onset:                0,
		Length:               32,
	}
}

// Options control kernel normalization. At most one of ScaleToOne and
// DivideBySum takes effect; DivideBySum wins unless the kernel sum is
// too small to divide by.
type Options struct {
	ScaleToOne  bool
	DivideBySum bool
}

// DefaultOptions returns sum-normalization, matching the predictors the
// analysis tool generates itself.
func DefaultOptions() Options {
	return Options{DivideBySum: true}
}

// Sample computes the HRF kernel at fs samples per second.
func Sample(p Params, fs int, opts Options) []float64 {
	dt := 1.0 / float64(fs)
	n := int(p.Length / dt)

	peak := distuv.Gamma{Alpha: p.PeakDelay / p.PeakDispersion, Beta: 1 / p.PeakDispersion}
	undershoot := distuv.Gamma{Alpha: p.UndershootDelay / p.UndershootDispersion, Beta: 1 / p.UndershootDispersion}

	kernel := make([]float64, n)
	for i := 0; i < n; i++ {
		t := (float64(i) - p.Onset/dt) * dt
		pos := gammaPDF(peak, t)
		neg := gammaPDF(undershoot, t)
		if p.PeakUndershootRatio >= 0.001 {
			kernel[i] = pos - neg/p.PeakUndershootRatio
		} else {
			kernel[i] = -neg
		}
	}

	sum := floats.Sum(kernel)
	absMax := math.Max(math.Abs(floats.Max(kernel)), math.Abs(floats.Min(kernel)))

	scaleToOne := opts.ScaleToOne
	divideBySum := opts.DivideBySum
	if scaleToOne || sum <= 0.01 {
		divideBySum = false
	} else if divideBySum {
		scaleToOne = false
	}
	if absMax < 0.0001 {
		scaleToOne = false
	}

	if scaleToOne {
		floats.Scale(1/absMax, kernel)
	}
	if divideBySum {
		floats.Scale(1/sum, kernel)
	}
	return kernel
}

// gammaPDF evaluates the gamma density, treating non-positive support
// as zero.
func gammaPDF(g distuv.Gamma, x float64) float64 {
	if x <= 0 {
		return 0
	}
	return g.Prob(x)
}

// Convolve computes the full convolution of signal with kernel,
// truncated to the signal length.
func Convolve(signal, kernel []float64) []float64 {
	out := make([]float64, len(signal))
	for i := range out {
		var acc float64
		for k := 0; k < len(kernel) && k <= i; k++ {
			acc += signal[i-k] * kernel[k]
		}
		out[i] = acc
	}
	return out
}

// Downsample keeps every factor-th sample, starting at index 0, after
// low-pass filtering the signal at the output Nyquist rate. The filter
// is a zero-phase Hamming-windowed sinc with unit DC gain; samples
// outside the signal count as zero.
func Downsample(x []float64, factor int) []float64 {
	if factor <= 1 {
		out := make([]float64, len(x))
		copy(out, x)
		return out
	}

	h := lowpassKernel(factor)
	half := len(h) / 2
	out := make([]float64, 0, len(x)/factor+1)
	for i := 0; i < len(x); i += factor {
		var acc float64
		for k, w := range h {
			j := i + k - half
			if j >= 0 && j < len(x) {
				acc += w * x[j]
			}
		}
		out = append(out, acc)
	}
	return out
}

// lowpassKernel builds a windowed-sinc FIR with cutoff at half the
// decimated sampling rate, ten output periods wide on each side.
func lowpassKernel(factor int) []float64 {
	half := 10 * factor
	h := make([]float64, 2*half+1)
	for i := range h {
		t := float64(i - half)
		var s float64
		if t == 0 {
			s = 1 / float64(factor)
		} else {
			s = math.Sin(math.Pi*t/float64(factor)) / (math.Pi * t)
		}
		w := 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(len(h)-1))
		h[i] = s * w
	}
	floats.Scale(1/floats.Sum(h), h)
	return h
}
