package tuning

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strings"
)

const (
	StrategyGrid   = "grid"
	StrategyRandom = "random"

	GoalMinimize = "minimize"
	GoalMaximize = "maximize"
)

// ParameterRange describes one searchable hyperparameter. Discrete choices go
// in Values; random search also accepts a continuous [Min, Max] range.
type ParameterRange struct {
	Values []float64 `json:"values,omitempty"`
	Min    *float64  `json:"min,omitempty"`
	Max    *float64  `json:"max,omitempty"`
}

type SearchSpace map[string]ParameterRange

func ParseSearchSpace(data []byte) (SearchSpace, error) {
	var space SearchSpace
	if err := json.Unmarshal(data, &space); err != nil {
		return nil, fmt.Errorf("failed to parse search space: %w", err)
	}
	if len(space) == 0 {
		return nil, fmt.Errorf("search space is empty")
	}

	for name, pr := range space {
		if len(pr.Values) == 0 && (pr.Min == nil || pr.Max == nil) {
			return nil, fmt.Errorf("parameter %q needs either values or a min/max range", name)
		}
		if pr.Min != nil && pr.Max != nil && *pr.Min > *pr.Max {
			return nil, fmt.Errorf("parameter %q has min > max", name)
		}
	}

	return space, nil
}

func (s SearchSpace) sortedNames() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExpandGrid enumerates the cartesian product of all value lists in a fixed
// order, truncated to maxTrials. Continuous ranges cannot be gridded.
func ExpandGrid(space SearchSpace, maxTrials int) ([]map[string]float64, error) {
	names := space.sortedNames()

	for _, name := range names {
		if len(space[name].Values) == 0 {
			return nil, fmt.Errorf("parameter %q has a continuous range, grid search needs explicit values", name)
		}
	}

	trials := []map[string]float64{{}}
	for _, name := range names {
		var next []map[string]float64
		for _, trial := range trials {
			for _, v := range space[name].Values {
				candidate := make(map[string]float64, len(trial)+1)
				for k, val := range trial {
					candidate[k] = val
				}
				candidate[name] = v
				next = append(next, candidate)
			}
		}
		trials = next
	}

	if maxTrials > 0 && len(trials) > maxTrials {
		trials = trials[:maxTrials]
	}

	return trials, nil
}

// SampleRandom draws n independent configurations. The seed makes a tuning
// job reproducible.
func SampleRandom(space SearchSpace, n int, seed int64) []map[string]float64 {
	rng := rand.New(rand.NewSource(seed))
	names := space.sortedNames()

	trials := make([]map[string]float64, n)
	for i := range trials {
		trial := make(map[string]float64, len(names))
		for _, name := range names {
			pr := space[name]
			if len(pr.Values) > 0 {
				trial[name] = pr.Values[rng.Intn(len(pr.Values))]
			} else {
				trial[name] = *pr.Min + rng.Float64()*(*pr.Max-*pr.Min)
			}
		}
		trials[i] = trial
	}

	return trials
}

// Expand produces the trial configurations for a tuning job. maxTrials caps
// the grid product and sets the random sample count, and must be at least 1.
func Expand(strategy string, space SearchSpace, maxTrials int, seed int64) ([]map[string]float64, error) {
	if maxTrials < 1 {
		return nil, fmt.Errorf("max trials must be at least 1, got %d", maxTrials)
	}

	switch strategy {
	case StrategyGrid:
		return ExpandGrid(space, maxTrials)
	case StrategyRandom:
		return SampleRandom(space, maxTrials, seed), nil
	default:
		return nil, fmt.Errorf("unknown tuning strategy %q", strategy)
	}
}

// Objective names the metric a tuning job optimizes, e.g. "validation:rmse"
// minimized.
type Objective struct {
	Metric string
	Goal   string
}

func ParseObjective(objective, goal string) (Objective, error) {
	metric := objective
	if i := strings.LastIndex(objective, ":"); i >= 0 {
		metric = objective[i+1:]
	}
	if metric == "" {
		return Objective{}, fmt.Errorf("objective %q names no metric", objective)
	}

	switch goal {
	case GoalMinimize, GoalMaximize:
	default:
		return Objective{}, fmt.Errorf("unknown objective goal %q", goal)
	}

	return Objective{Metric: metric, Goal: goal}, nil
}

// Better reports whether candidate improves on incumbent.
func (o Objective) Better(candidate, incumbent float64) bool {
	if o.Goal == GoalMaximize {
		return candidate > incumbent
	}
	return candidate < incumbent
}
