package core

import (
	"fmt"
	"math"
)

const (
	MetricRMSE = "rmse"
	MetricMAE  = "mae"
	MetricR2   = "r2"
)

// Evaluate computes the regression metrics reported on every trained model.
func Evaluate(predictions, target []float64) (map[string]float64, error) {
	if len(predictions) != len(target) {
		return nil, fmt.Errorf("prediction and target lengths differ: %d vs %d", len(predictions), len(target))
	}
	if len(target) == 0 {
		return nil, fmt.Errorf("cannot evaluate on empty dataset")
	}

	n := float64(len(target))

	var mean float64
	for _, y := range target {
		mean += y
	}
	mean /= n

	var sse, sae, sst float64
	for i, y := range target {
		d := predictions[i] - y
		sse += d * d
		sae += math.Abs(d)
		sst += (y - mean) * (y - mean)
	}

	r2 := 0.0
	if sst > 0 {
		r2 = 1 - sse/sst
	}

	return map[string]float64{
		MetricRMSE: math.Sqrt(sse / n),
		MetricMAE:  sae / n,
		MetricR2:   r2,
	}, nil
}
