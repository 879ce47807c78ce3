package monitor

import (
	"strings"
	"testing"

	"mlops-backend/internal/dataset"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRule(t *testing.T) {
	rule, err := ParseRule("drift > 0.2")
	require.NoError(t, err)

	ok, err := rule.Eval(map[string]float64{"drift": 0.5})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rule.Eval(map[string]float64{"drift": 0.1})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = rule.Eval(map[string]float64{"samples": 10})
	assert.Error(t, err)
}

func TestRuleOperators(t *testing.T) {
	cases := []struct {
		rule     string
		values   map[string]float64
		expected bool
	}{
		{"drift >= 0.2", map[string]float64{"drift": 0.2}, true},
		{"drift <= 0.2", map[string]float64{"drift": 0.2}, true},
		{"drift < 0.2", map[string]float64{"drift": 0.2}, false},
		{"drift = 0.2", map[string]float64{"drift": 0.2}, true},
		{"NOT drift > 0.2", map[string]float64{"drift": 0.1}, true},
		{"drift > 0.2 AND samples > 100", map[string]float64{"drift": 0.5, "samples": 200}, true},
		{"drift > 0.2 AND samples > 100", map[string]float64{"drift": 0.5, "samples": 50}, false},
		{"drift > 0.2 OR samples > 100", map[string]float64{"drift": 0.1, "samples": 200}, true},
		{"(drift > 0.2 OR distance > 1) AND samples > 10", map[string]float64{"drift": 0.1, "distance": 2, "samples": 20}, true},
	}

	for _, c := range cases {
		t.Run(c.rule, func(t *testing.T) {
			rule, err := ParseRule(c.rule)
			require.NoError(t, err)

			ok, err := rule.Eval(c.values)
			require.NoError(t, err)
			assert.Equal(t, c.expected, ok)
		})
	}
}

func TestParseRuleErrors(t *testing.T) {
	for _, rule := range []string{"", "drift >", "> 0.2", "drift ! 0.2"} {
		_, err := ParseRule(rule)
		assert.Error(t, err, "rule %q should not parse", rule)
	}
}

func TestBaselineFromSummaries(t *testing.T) {
	table, err := dataset.ReadTable(strings.NewReader("distance,duration,label\n1,10,a\n2,20,a\n3,30,a\n"))
	require.NoError(t, err)

	baseline, err := BaselineFromSummaries(dataset.Summarize(table), []string{"distance", "duration"})
	require.NoError(t, err)
	require.Len(t, baseline, 2)
	assert.InDelta(t, 2.0, baseline["distance"].Mean, 1e-9)
	assert.InDelta(t, 20.0, baseline["duration"].Mean, 1e-9)

	_, err = BaselineFromSummaries(dataset.Summarize(table), []string{"missing"})
	assert.Error(t, err)

	_, err = BaselineFromSummaries(dataset.Summarize(table), []string{"label"})
	assert.Error(t, err)
}

func TestDriftScores(t *testing.T) {
	baseline := Baseline{
		"distance": {Mean: 2.0, Std: 1.0},
		"duration": {Mean: 20.0, Std: 0.0},
	}

	scores := baseline.DriftScores(map[string]float64{"distance": 4.5, "duration": 21.0})
	assert.InDelta(t, 2.5, scores["distance"], 1e-9)
	assert.InDelta(t, 1.0, scores["duration"], 1e-9)

	assert.InDelta(t, 2.5, MaxDrift(scores), 1e-9)

	values := RuleValues(scores, 42)
	assert.InDelta(t, 2.5, values["drift"], 1e-9)
	assert.Equal(t, 42.0, values["samples"])
	assert.InDelta(t, 2.5, values["distance"], 1e-9)
}

func TestBaselineRoundTrip(t *testing.T) {
	baseline := Baseline{"x": {Mean: 1, Std: 2}}

	data, err := baseline.Bytes()
	require.NoError(t, err)

	loaded, err := ParseBaseline(data)
	require.NoError(t, err)
	assert.Equal(t, baseline, loaded)

	_, err = ParseBaseline([]byte(`{}`))
	assert.Error(t, err)

	_, err = ParseBaseline([]byte(`not json`))
	assert.Error(t, err)
}
