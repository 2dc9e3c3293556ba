// Package design builds single-study design matrices and BIDS events
// tables from stimulation protocols.
package design

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"bidsbv/internal/bvio"
	"bidsbv/internal/hrf"
)

// WeightStandardization selects how parametric weights enter the model.
type WeightStandardization int

const (
	// WeightsRaw uses the weights as defined in the protocol.
	WeightsRaw WeightStandardization = iota
	// WeightsDemeaned subtracts the mean of the weights.
	WeightsDemeaned
	// WeightsZScored subtracts the mean and divides by the standard deviation.
	WeightsZScored
)

// Options configure design matrix construction.
type Options struct {
	TRMillis    int // repetition time in milliseconds
	NrVolumes   int // number of functional volumes
	SamplingHz  int // boxcar sampling rate, 0 = 100
	Parametric  bool
	Standardize WeightStandardization

	// RemoveRestCondition drops the rest condition before modeling.
	// RestConditionIndex is 0 for the first condition, -1 for the last.
	RemoveRestCondition bool
	RestConditionIndex  int

	// ScalePredictors scales main predictors to unit amplitude.
	ScalePredictors bool

	HRF hrf.Params
}

// DefaultOptions returns options with the canonical HRF and 100 Hz
// boxcar sampling. TRMillis and NrVolumes must still be set.
func DefaultOptions() Options {
	return Options{SamplingHz: 100, HRF: hrf.DefaultParams()}
}

// BuildSDM constructs a design matrix from a protocol: one convolved
// predictor per condition, optional parametric predictors, and a
// trailing constant.
func BuildSDM(p *bvio.Protocol, opts Options) (*bvio.DesignMatrix, error) {
	if opts.TRMillis <= 0 {
		return nil, errors.New("TR must be positive")
	}
	if opts.NrVolumes <= 0 {
		return nil, errors.New("number of volumes must be positive")
	}
	fs := opts.SamplingHz
	if fs <= 0 {
		fs = 100
	}
	if opts.HRF == (hrf.Params{}) {
		opts.HRF = hrf.DefaultParams()
	}

	conditions := p.Conditions
	if opts.RemoveRestCondition && len(conditions) > 0 {
		idx := opts.RestConditionIndex
		if idx == -1 {
			idx = len(conditions) - 1
		}
		if idx < 0 || idx >= len(conditions) {
			return nil, fmt.Errorf("rest condition index %d out of range", opts.RestConditionIndex)
		}
		trimmed := make([]bvio.Condition, 0, len(conditions)-1)
		trimmed = append(trimmed, conditions[:idx]...)
		trimmed = append(trimmed, conditions[idx+1:]...)
		conditions = trimmed
	}

	kernel := hrf.Sample(opts.HRF, fs, hrf.DefaultOptions())
	trSec := float64(opts.TRMillis) / 1000
	nHires := int(float64(opts.NrVolumes) * trSec * float64(fs))
	samplesPerTR := fs * opts.TRMillis / 1000
	if samplesPerTR < 1 {
		return nil, fmt.Errorf("TR %dms is below the %dHz sampling resolution", opts.TRMillis, fs)
	}

	d := &bvio.DesignMatrix{
		NrOfDataPoints:   opts.NrVolumes,
		IncludesConstant: true,
	}

	for _, cond := range conditions {
		boxcar := make([]float64, nHires)
		fillBoxcar(boxcar, cond, p.IsMillisec(), trSec, fs, nil)

		pred := sampleToVolumes(hrf.Convolve(boxcar, kernel), samplesPerTR, opts.NrVolumes)
		if opts.ScalePredictors {
			if max := floats.Max(pred); max > 0 {
				floats.Scale(1/max, pred)
			}
		}

		parametric := opts.Parametric && p.ParametricWeights && hasVaryingWeights(cond.Weights)

		name := cond.Name
		if parametric {
			name = cond.Name + " [Main]"
		}
		d.Predictors = append(d.Predictors, bvio.Predictor{
			Name:   name,
			Color:  cond.Color,
			Values: pred,
		})

		if parametric {
			weights := standardizeWeights(cond.Weights, opts.Standardize)
			weighted := make([]float64, nHires)
			fillBoxcar(weighted, cond, p.IsMillisec(), trSec, fs, weights)

			d.Predictors = append(d.Predictors, bvio.Predictor{
				Name:   cond.Name + " [Parametric]",
				Color:  cond.Color,
				Values: sampleToVolumes(hrf.Convolve(weighted, kernel), samplesPerTR, opts.NrVolumes),
			})
		}
	}

	constant := make([]float64, opts.NrVolumes)
	for i := range constant {
		constant[i] = 1
	}
	d.Predictors = append(d.Predictors, bvio.Predictor{
		Name:   "Constant",
		Color:  [3]int{255, 255, 255},
		Values: constant,
	})
	d.FirstConfoundPredictor = len(d.Predictors)

	return d, nil
}

// AppendConfounds inserts the predictors of a nuisance matrix, such as
// the motion parameters a motion-correction pass writes, before the
// constant and marks them as confounds. Constant columns of the
// nuisance matrix are dropped.
func AppendConfounds(d, nuisance *bvio.DesignMatrix) error {
	if nuisance.NrOfDataPoints != d.NrOfDataPoints {
		return fmt.Errorf("confound matrix has %d data points, design has %d",
			nuisance.NrOfDataPoints, d.NrOfDataPoints)
	}

	var added []bvio.Predictor
	for _, p := range nuisance.Predictors {
		if p.Name == "Constant" {
			continue
		}
		added = append(added, p)
	}
	if len(added) == 0 {
		return nil
	}

	insert := len(d.Predictors)
	if d.IncludesConstant && insert > 0 {
		insert--
	}
	predictors := make([]bvio.Predictor, 0, len(d.Predictors)+len(added))
	predictors = append(predictors, d.Predictors[:insert]...)
	predictors = append(predictors, added...)
	predictors = append(predictors, d.Predictors[insert:]...)
	d.Predictors = predictors
	d.FirstConfoundPredictor = insert + 1
	return nil
}

// fillBoxcar marks each trial interval in the high-resolution signal.
// When weights is non-nil, the interval carries the trial's weight
// instead of 1.
func fillBoxcar(signal []float64, cond bvio.Condition, isMillisec bool, trSec float64, fs int, weights []float64) {
	for t := range cond.Starts {
		var startSec, stopSec float64
		if isMillisec {
			startSec = float64(cond.Starts[t]) / 1000
			stopSec = float64(cond.Stops[t]) / 1000
		} else {
			startSec = float64(cond.Starts[t])*trSec - trSec
			stopSec = float64(cond.Stops[t]) * trSec
		}
		value := 1.0
		if weights != nil && t < len(weights) {
			value = weights[t]
		}
		startIdx := int(startSec * float64(fs))
		stopIdx := int(stopSec * float64(fs))
		for i := startIdx; i <= stopIdx && i < len(signal); i++ {
			if i >= 0 {
				signal[i] = value
			}
		}
	}
}

// sampleToVolumes resamples a high-resolution predictor to one sample
// per TR, anti-alias filtered, capped to the number of volumes.
func sampleToVolumes(hires []float64, samplesPerTR, nrVolumes int) []float64 {
	pred := hrf.Downsample(hires, samplesPerTR)
	if len(pred) > nrVolumes {
		pred = pred[:nrVolumes]
	}
	for len(pred) < nrVolumes {
		pred = append(pred, 0)
	}
	return pred
}

func hasVaryingWeights(weights []float64) bool {
	if len(weights) < 2 {
		return false
	}
	for _, w := range weights[1:] {
		if w != weights[0] {
			return true
		}
	}
	return false
}

func standardizeWeights(weights []float64, mode WeightStandardization) []float64 {
	out := make([]float64, len(weights))
	copy(out, weights)
	switch mode {
	case WeightsDemeaned:
		mean := stat.Mean(out, nil)
		for i := range out {
			out[i] -= mean
		}
	case WeightsZScored:
		mean := stat.Mean(out, nil)
		sd := stat.PopStdDev(out, nil)
		if sd == 0 {
			sd = 1
		}
		for i := range out {
			out[i] = (out[i] - mean) / sd
		}
	}
	return out
}

// EventsFromProtocol converts protocol intervals to events rows with
// onsets and durations in seconds.
func EventsFromProtocol(p *bvio.Protocol, trMillis int) ([]bvio.Event, error) {
	if !p.IsMillisec() && trMillis <= 0 {
		return nil, errors.New("volume-resolution protocols need a positive TR")
	}

	var events []bvio.Event
	for _, cond := range p.Conditions {
		for t := range cond.Starts {
			var onset, stop float64
			if p.IsMillisec() {
				onset = float64(cond.Starts[t]) / 1000
				stop = float64(cond.Stops[t]) / 1000
			} else {
				onset = float64(cond.Starts[t]-1) * float64(trMillis) / 1000
				stop = float64(cond.Stops[t]) * float64(trMillis) / 1000
			}
			events = append(events, bvio.Event{
				Onset:     onset,
				Duration:  math.Round((stop-onset)*1e4) / 1e4,
				TrialType: cond.Name,
			})
		}
	}
	return events, nil
}

// ProtocolFromEvents converts events rows to a millisecond-resolution
// protocol, grouping rows by trial type in order of first appearance.
func ProtocolFromEvents(events []bvio.Event, experiment string) *bvio.Protocol {
	p := &bvio.Protocol{
		Resolution: bvio.ResolutionMillis,
		Experiment: experiment,
	}

	index := make(map[string]int)
	for _, ev := range events {
		name := ev.TrialType
		if name == "" {
			name = "trial"
		}
		i, ok := index[name]
		if !ok {
			i = len(p.Conditions)
			index[name] = i
			p.Conditions = append(p.Conditions, bvio.Condition{
				Name:  name,
				Color: conditionColor(i),
			})
		}
		start := int(math.Round(ev.Onset * 1000))
		stop := int(math.Round((ev.Onset + ev.Duration) * 1000))
		p.Conditions[i].Starts = append(p.Conditions[i].Starts, start)
		p.Conditions[i].Stops = append(p.Conditions[i].Stops, stop)
	}
	return p
}

// conditionColor cycles through a small palette so each condition gets
// a distinct display color.
func conditionColor(i int) [3]int {
	palette := [][3]int{
		{128, 128, 128},
		{255, 0, 0},
		{0, 255, 0},
		{0, 0, 255},
		{255, 255, 0},
		{0, 255, 255},
		{255, 0, 255},
	}
	return palette[i%len(palette)]
}
