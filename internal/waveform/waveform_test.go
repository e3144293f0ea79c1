package waveform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestAnalyze_SymmetricOneHertz(t *testing.T) {
	edges := []Event{
		{0, Rising},
		{500_000, Falling},
		{1_000_000, Rising},
		{1_500_000, Falling},
	}

	w, ok := Analyze(edges)

	require.True(t, ok)
	assert.InDelta(t, 1.0, w.MeanPeriod, 1e-9)
	assert.InDelta(t, 1.0, w.MeanFrequency, 1e-9)
	assert.InDelta(t, 0.5, w.MeanDutyCycle, 1e-9)
	assert.Equal(t, 1, w.FullPeriods)
}

func TestAnalyze_TooFewEdges(t *testing.T) {
	_, ok := Analyze(nil)
	assert.False(t, ok)

	_, ok = Analyze([]Event{{0, Rising}})
	assert.False(t, ok)

	_, ok = Analyze([]Event{{0, Rising}, {10, Falling}})
	assert.False(t, ok)
}

func TestAnalyze_MiddleEdgeDecidesHighHalf(t *testing.T) {
	// Starting on a falling edge: low for 750us, then high for 250us.
	fromFalling := []Event{{0, Falling}, {750, Rising}, {1000, Falling}}
	w, ok := Analyze(fromFalling)
	require.True(t, ok)
	assert.InDelta(t, 0.25, w.MeanDutyCycle, 1e-9)

	// Starting on a rising edge: high for 750us, then low for 250us.
	fromRising := []Event{{0, Rising}, {750, Falling}, {1000, Rising}}
	w, ok = Analyze(fromRising)
	require.True(t, ok)
	assert.InDelta(t, 0.75, w.MeanDutyCycle, 1e-9)
	assert.InDelta(t, 1000.0, w.MeanFrequency, 1e-6)
}

func TestAnalyze_MinMax(t *testing.T) {
	edges := []Event{
		{0, Rising},
		{100, Falling},
		{400, Rising}, // period 400us, duty 0.25
		{600, Falling},
		{800, Rising}, // period 400us, duty 0.5
		{1400, Falling},
		{2000, Rising}, // period 1200us, duty 0.5
	}

	w, ok := Analyze(edges)

	require.True(t, ok)
	assert.Equal(t, 3, w.FullPeriods)
	assert.InDelta(t, 400e-6, w.MinPeriod, 1e-12)
	assert.InDelta(t, 1200e-6, w.MaxPeriod, 1e-12)
	assert.InDelta(t, 0.25, w.MinDutyCycle, 1e-9)
	assert.InDelta(t, 0.5, w.MaxDutyCycle, 1e-9)
	assert.InDelta(t, (400e-6+400e-6+1200e-6)/3, w.MeanPeriod, 1e-12)
}

func TestAnalyze_TrailingEdgeIgnored(t *testing.T) {
	edges := []Event{{0, Rising}, {500, Falling}, {1000, Rising}, {1200, Falling}}

	w, ok := Analyze(edges)

	require.True(t, ok)
	assert.Equal(t, 1, w.FullPeriods)
}

func TestAnalyze_ZeroLengthPeriodSkipped(t *testing.T) {
	edges := []Event{{5, Rising}, {5, Falling}, {5, Rising}, {10, Falling}, {15, Rising}}

	w, ok := Analyze(edges)

	require.True(t, ok)
	assert.Equal(t, 1, w.FullPeriods)
	assert.InDelta(t, 0.5, w.MeanDutyCycle, 1e-9)
}

func TestAnalyze_OutOfOrderTripleNotCounted(t *testing.T) {
	edges := []Event{{100, Rising}, {50, Falling}, {200, Rising}, {300, Falling}, {400, Rising}}

	w, ok := Analyze(edges)

	require.True(t, ok)
	assert.Equal(t, 1, w.FullPeriods, "five edges would give two periods, one is out of order")
	assert.InDelta(t, 200e-6, w.MeanPeriod, 1e-12)
}

func TestAnalyze_Deterministic(t *testing.T) {
	edges := []Event{{0, Rising}, {300, Falling}, {1000, Rising}, {1300, Falling}, {2000, Rising}}

	a, _ := Analyze(edges)
	b, _ := Analyze(edges)

	assert.Equal(t, a, b)
}

func TestEdgeFromCode(t *testing.T) {
	e, ok := EdgeFromCode(0)
	assert.True(t, ok)
	assert.Equal(t, Rising, e)

	e, ok = EdgeFromCode(1)
	assert.True(t, ok)
	assert.Equal(t, Falling, e)

	_, ok = EdgeFromCode(7)
	assert.False(t, ok)
}

func TestEvent_YAML(t *testing.T) {
	var events []Event
	src := "- {at: 0, edge: rising}\n- {at: 500, edge: falling}\n"

	require.NoError(t, yaml.Unmarshal([]byte(src), &events))
	assert.Equal(t, []Event{{0, Rising}, {500, Falling}}, events)

	err := yaml.Unmarshal([]byte("- {at: 0, edge: sideways}\n"), &events)
	assert.Error(t, err)
}
