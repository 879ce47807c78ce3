package monitor

import (
	"encoding/json"
	"fmt"
	"math"

	"mlops-backend/internal/dataset"
)

// FeatureBaseline is the reference distribution of one feature, captured
// from the training data when the monitor schedule is created.
type FeatureBaseline struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

type Baseline map[string]FeatureBaseline

func BaselineFromSummaries(summaries []dataset.ColumnSummary, featureColumns []string) (Baseline, error) {
	byName := make(map[string]dataset.ColumnSummary, len(summaries))
	for _, s := range summaries {
		byName[s.Name] = s
	}

	baseline := make(Baseline, len(featureColumns))
	for _, col := range featureColumns {
		s, ok := byName[col]
		if !ok {
			return nil, fmt.Errorf("no summary for feature column %q", col)
		}
		if s.Count == 0 {
			return nil, fmt.Errorf("feature column %q has no numeric values", col)
		}
		baseline[col] = FeatureBaseline{Mean: s.Mean, Std: s.Std}
	}

	return baseline, nil
}

func ParseBaseline(data []byte) (Baseline, error) {
	var baseline Baseline
	if err := json.Unmarshal(data, &baseline); err != nil {
		return nil, fmt.Errorf("failed to parse baseline: %w", err)
	}
	if len(baseline) == 0 {
		return nil, fmt.Errorf("baseline is empty")
	}
	return baseline, nil
}

func (b Baseline) Bytes() ([]byte, error) {
	return json.Marshal(b)
}

// DriftScores compares the observed per-feature means against the baseline.
// The score is the shift in baseline standard deviations; for a constant
// baseline feature any shift at all counts as its absolute size.
func (b Baseline) DriftScores(observedMeans map[string]float64) map[string]float64 {
	scores := make(map[string]float64, len(b))
	for col, base := range b {
		observed, ok := observedMeans[col]
		if !ok {
			continue
		}

		shift := math.Abs(observed - base.Mean)
		if base.Std > 0 {
			scores[col] = shift / base.Std
		} else {
			scores[col] = shift
		}
	}
	return scores
}

func MaxDrift(scores map[string]float64) float64 {
	var max float64
	for _, s := range scores {
		if s > max {
			max = s
		}
	}
	return max
}

// RuleValues assembles the metric map an alert rule evaluates against.
func RuleValues(scores map[string]float64, samples int) map[string]float64 {
	values := make(map[string]float64, len(scores)+2)
	for col, s := range scores {
		values[col] = s
	}
	values["drift"] = MaxDrift(scores)
	values["samples"] = float64(samples)
	return values
}
