package design

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bidsbv/internal/bvio"
)

func volumeProtocol() *bvio.Protocol {
	return &bvio.Protocol{
		Resolution: bvio.ResolutionVolumes,
		Conditions: []bvio.Condition{
			{
				Name:   "Rest",
				Starts: []int{1, 21},
				Stops:  []int{10, 30},
				Color:  [3]int{128, 128, 128},
			},
			{
				Name:   "Faces",
				Starts: []int{11, 31},
				Stops:  []int{20, 40},
				Color:  [3]int{255, 0, 0},
			},
		},
	}
}

func TestBuildSDMShape(t *testing.T) {
	opts := DefaultOptions()
	opts.TRMillis = 2000
	opts.NrVolumes = 40

	d, err := BuildSDM(volumeProtocol(), opts)
	require.NoError(t, err)

	// Two conditions plus the constant.
	assert.Equal(t, 3, d.NrOfPredictors())
	assert.Equal(t, 40, d.NrOfDataPoints)
	assert.True(t, d.IncludesConstant)
	assert.Equal(t, 3, d.FirstConfoundPredictor)

	for _, p := range d.Predictors {
		assert.Len(t, p.Values, 40)
	}

	constant := d.Predictors[2]
	assert.Equal(t, "Constant", constant.Name)
	for _, v := range constant.Values {
		assert.Equal(t, 1.0, v)
	}
}

func TestBuildSDMPredictorFollowsBoxcar(t *testing.T) {
	opts := DefaultOptions()
	opts.TRMillis = 2000
	opts.NrVolumes = 40

	d, err := BuildSDM(volumeProtocol(), opts)
	require.NoError(t, err)

	faces := d.Predictors[1]
	// The response ramps up after the first Faces block onset (volume 11)
	// and is near zero at the very start of the run.
	assert.InDelta(t, 0, faces.Values[0], 1e-6)
	assert.Greater(t, faces.Values[14], faces.Values[10])
}

func TestBuildSDMRemovesRestCondition(t *testing.T) {
	opts := DefaultOptions()
	opts.TRMillis = 2000
	opts.NrVolumes = 40
	opts.RemoveRestCondition = true
	opts.RestConditionIndex = 0

	d, err := BuildSDM(volumeProtocol(), opts)
	require.NoError(t, err)

	assert.Equal(t, 2, d.NrOfPredictors())
	assert.Equal(t, "Faces", d.Predictors[0].Name)
}

func TestBuildSDMParametric(t *testing.T) {
	p := &bvio.Protocol{
		Resolution:        bvio.ResolutionMillis,
		ParametricWeights: true,
		Conditions: []bvio.Condition{
			{
				Name:    "Graded",
				Starts:  []int{0, 20000, 40000},
				Stops:   []int{2000, 22000, 42000},
				Weights: []float64{1, 2, 3},
				Color:   [3]int{0, 255, 0},
			},
		},
	}

	opts := DefaultOptions()
	opts.TRMillis = 2000
	opts.NrVolumes = 30
	opts.Parametric = true
	opts.Standardize = WeightsDemeaned

	d, err := BuildSDM(p, opts)
	require.NoError(t, err)

	// Main + parametric + constant.
	require.Equal(t, 3, d.NrOfPredictors())
	assert.Equal(t, "Graded [Main]", d.Predictors[0].Name)
	assert.Equal(t, "Graded [Parametric]", d.Predictors[1].Name)
}

func TestBuildSDMSkipsConstantWeights(t *testing.T) {
	p := &bvio.Protocol{
		Resolution:        bvio.ResolutionMillis,
		ParametricWeights: true,
		Conditions: []bvio.Condition{
			{
				Name:    "Flat",
				Starts:  []int{0},
				Stops:   []int{2000},
				Weights: []float64{1},
			},
		},
	}

	opts := DefaultOptions()
	opts.TRMillis = 2000
	opts.NrVolumes = 10
	opts.Parametric = true

	d, err := BuildSDM(p, opts)
	require.NoError(t, err)

	require.Equal(t, 2, d.NrOfPredictors())
	assert.Equal(t, "Flat", d.Predictors[0].Name)
}

func TestBuildSDMValidation(t *testing.T) {
	opts := DefaultOptions()
	opts.NrVolumes = 10
	_, err := BuildSDM(volumeProtocol(), opts)
	assert.Error(t, err, "missing TR should fail")

	opts = DefaultOptions()
	opts.TRMillis = 2000
	_, err = BuildSDM(volumeProtocol(), opts)
	assert.Error(t, err, "missing volume count should fail")
}

func TestEventsFromProtocolVolumes(t *testing.T) {
	events, err := EventsFromProtocol(volumeProtocol(), 2000)
	require.NoError(t, err)
	require.Len(t, events, 4)

	// Volume 1 starts at 0s; a 1..10 block with a 2s TR lasts 20s.
	assert.InDelta(t, 0, events[0].Onset, 1e-9)
	assert.InDelta(t, 20, events[0].Duration, 1e-9)
	assert.Equal(t, "Rest", events[0].TrialType)

	// Faces block at volumes 11..20 starts at 20s.
	assert.InDelta(t, 20, events[2].Onset, 1e-9)
	assert.Equal(t, "Faces", events[2].TrialType)
}

func TestEventsFromProtocolMillisec(t *testing.T) {
	p := &bvio.Protocol{
		Resolution: bvio.ResolutionMillis,
		Conditions: []bvio.Condition{
			{Name: "A", Starts: []int{1500}, Stops: []int{3500}},
		},
	}
	events, err := EventsFromProtocol(p, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.InDelta(t, 1.5, events[0].Onset, 1e-9)
	assert.InDelta(t, 2.0, events[0].Duration, 1e-9)
}

func TestEventsFromProtocolNeedsTR(t *testing.T) {
	_, err := EventsFromProtocol(volumeProtocol(), 0)
	assert.Error(t, err)
}

func TestProtocolFromEventsRoundTrip(t *testing.T) {
	events := []bvio.Event{
		{Onset: 0, Duration: 20, TrialType: "Rest"},
		{Onset: 20, Duration: 20, TrialType: "Faces"},
		{Onset: 40, Duration: 20, TrialType: "Rest"},
	}

	p := ProtocolFromEvents(events, "test")
	require.Len(t, p.Conditions, 2)
	assert.True(t, p.IsMillisec())
	assert.Equal(t, []int{0, 40000}, p.Conditions[0].Starts)
	assert.Equal(t, []int{20000, 60000}, p.Conditions[0].Stops)

	back, err := EventsFromProtocol(p, 0)
	require.NoError(t, err)
	require.Len(t, back, 3)
	// Grouped by condition: Rest rows come first.
	assert.Equal(t, "Rest", back[0].TrialType)
	assert.Equal(t, "Rest", back[1].TrialType)
	assert.Equal(t, "Faces", back[2].TrialType)
}

func TestAppendConfounds(t *testing.T) {
	opts := DefaultOptions()
	opts.TRMillis = 2000
	opts.NrVolumes = 40

	d, err := BuildSDM(volumeProtocol(), opts)
	require.NoError(t, err)

	motion := &bvio.DesignMatrix{NrOfDataPoints: 40}
	for _, name := range []string{"Translation X", "Translation Y", "Rotation Z"} {
		motion.Predictors = append(motion.Predictors, bvio.Predictor{
			Name:   name,
			Values: make([]float64, 40),
		})
	}

	require.NoError(t, AppendConfounds(d, motion))

	// Main predictors, then motion, then the constant.
	require.Equal(t, 6, d.NrOfPredictors())
	assert.Equal(t, "Rest", d.Predictors[0].Name)
	assert.Equal(t, "Translation X", d.Predictors[2].Name)
	assert.Equal(t, "Constant", d.Predictors[5].Name)
	assert.Equal(t, 3, d.FirstConfoundPredictor)
}

func TestAppendConfoundsDropsConstant(t *testing.T) {
	opts := DefaultOptions()
	opts.TRMillis = 2000
	opts.NrVolumes = 40

	d, err := BuildSDM(volumeProtocol(), opts)
	require.NoError(t, err)

	motion := &bvio.DesignMatrix{
		NrOfDataPoints: 40,
		Predictors: []bvio.Predictor{
			{Name: "Translation X", Values: make([]float64, 40)},
			{Name: "Constant", Values: make([]float64, 40)},
		},
	}

	require.NoError(t, AppendConfounds(d, motion))
	require.Equal(t, 4, d.NrOfPredictors())
	assert.Equal(t, "Translation X", d.Predictors[2].Name)
	assert.Equal(t, "Constant", d.Predictors[3].Name)
}

func TestAppendConfoundsLengthMismatch(t *testing.T) {
	opts := DefaultOptions()
	opts.TRMillis = 2000
	opts.NrVolumes = 40

	d, err := BuildSDM(volumeProtocol(), opts)
	require.NoError(t, err)

	motion := &bvio.DesignMatrix{
		NrOfDataPoints: 39,
		Predictors:     []bvio.Predictor{{Name: "Translation X", Values: make([]float64, 39)}},
	}
	assert.Error(t, AppendConfounds(d, motion))
}
