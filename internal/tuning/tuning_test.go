package tuning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSearchSpace(t *testing.T) {
	space, err := ParseSearchSpace([]byte(`{
		"learning_rate": {"values": [0.001, 0.01, 0.1]},
		"l2_penalty": {"min": 0, "max": 1}
	}`))
	require.NoError(t, err)
	assert.Len(t, space, 2)

	_, err = ParseSearchSpace([]byte(`{}`))
	assert.Error(t, err)

	_, err = ParseSearchSpace([]byte(`{"lr": {}}`))
	assert.Error(t, err)

	_, err = ParseSearchSpace([]byte(`{"lr": {"min": 2, "max": 1}}`))
	assert.Error(t, err)
}

func TestExpandGrid(t *testing.T) {
	space := SearchSpace{
		"learning_rate": {Values: []float64{0.01, 0.1}},
		"epochs":        {Values: []float64{10, 20, 30}},
	}

	trials, err := ExpandGrid(space, 0)
	require.NoError(t, err)
	require.Len(t, trials, 6)

	// Deterministic order: parameters sorted by name, values in given order.
	assert.Equal(t, map[string]float64{"epochs": 10, "learning_rate": 0.01}, trials[0])
	assert.Equal(t, map[string]float64{"epochs": 30, "learning_rate": 0.1}, trials[5])

	capped, err := ExpandGrid(space, 4)
	require.NoError(t, err)
	assert.Len(t, capped, 4)

	lo, hi := 0.0, 1.0
	_, err = ExpandGrid(SearchSpace{"lr": {Min: &lo, Max: &hi}}, 0)
	assert.Error(t, err)
}

func TestSampleRandom(t *testing.T) {
	lo, hi := 0.0, 1.0
	space := SearchSpace{
		"learning_rate": {Values: []float64{0.01, 0.1}},
		"l2_penalty":    {Min: &lo, Max: &hi},
	}

	trials := SampleRandom(space, 10, 7)
	require.Len(t, trials, 10)

	for _, trial := range trials {
		assert.Contains(t, []float64{0.01, 0.1}, trial["learning_rate"])
		assert.GreaterOrEqual(t, trial["l2_penalty"], 0.0)
		assert.LessOrEqual(t, trial["l2_penalty"], 1.0)
	}

	assert.Equal(t, trials, SampleRandom(space, 10, 7))
	assert.NotEqual(t, trials, SampleRandom(space, 10, 8))
}

func TestExpand(t *testing.T) {
	space := SearchSpace{"epochs": {Values: []float64{10, 20}}}

	trials, err := Expand(StrategyGrid, space, 2, 0)
	require.NoError(t, err)
	assert.Len(t, trials, 2)

	trials, err = Expand(StrategyRandom, space, 5, 1)
	require.NoError(t, err)
	assert.Len(t, trials, 5)

	// Both strategies demand at least one trial.
	_, err = Expand(StrategyGrid, space, 0, 0)
	assert.Error(t, err)
	_, err = Expand(StrategyRandom, space, 0, 1)
	assert.Error(t, err)

	_, err = Expand("bayesian", space, 5, 1)
	assert.Error(t, err)
}

func TestObjective(t *testing.T) {
	obj, err := ParseObjective("validation:rmse", GoalMinimize)
	require.NoError(t, err)
	assert.Equal(t, "rmse", obj.Metric)
	assert.True(t, obj.Better(1.0, 2.0))
	assert.False(t, obj.Better(2.0, 1.0))

	obj, err = ParseObjective("r2", GoalMaximize)
	require.NoError(t, err)
	assert.Equal(t, "r2", obj.Metric)
	assert.True(t, obj.Better(0.9, 0.5))

	_, err = ParseObjective("validation:", GoalMinimize)
	assert.Error(t, err)

	_, err = ParseObjective("rmse", "middling")
	assert.Error(t, err)
}
