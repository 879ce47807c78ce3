package core

import (
	"context"
	"fmt"
)

// Trainer fits a linear model with mini-batch gradient descent. Ridge
// regression is the same update with an L2 penalty on the weights.
type Trainer struct {
	algorithm string
	hp        Hyperparameters

	weights []float64
	bias    float64
	epoch   int
}

func NewTrainer(algorithm string, hp Hyperparameters) (*Trainer, error) {
	switch algorithm {
	case AlgorithmLinear, AlgorithmRidge:
	default:
		return nil, fmt.Errorf("unknown algorithm %q", algorithm)
	}

	return &Trainer{algorithm: algorithm, hp: hp}, nil
}

// Resume restores training state from a checkpoint, so the next Train call
// continues at checkpoint.Epoch instead of epoch zero.
func (t *Trainer) Resume(cp Checkpoint) {
	t.weights = cp.Weights
	t.bias = cp.Bias
	t.epoch = cp.Epoch
}

func (t *Trainer) Checkpoint() Checkpoint {
	weights := make([]float64, len(t.weights))
	copy(weights, t.weights)
	return Checkpoint{Epoch: t.epoch, Weights: weights, Bias: t.bias}
}

// Train runs the remaining epochs. onEpoch, if non-nil, is invoked after
// every epoch with the current state; returning an error aborts training.
func (t *Trainer) Train(ctx context.Context, features [][]float64, target []float64, onEpoch func(Checkpoint) error) error {
	if len(features) == 0 {
		return fmt.Errorf("cannot train on empty dataset")
	}
	if len(features) != len(target) {
		return fmt.Errorf("feature and target lengths differ: %d vs %d", len(features), len(target))
	}

	nFeatures := len(features[0])
	if t.weights == nil {
		t.weights = make([]float64, nFeatures)
	} else if len(t.weights) != nFeatures {
		return fmt.Errorf("checkpoint has %d weights, dataset has %d features", len(t.weights), nFeatures)
	}

	batch := t.hp.BatchSize
	if batch <= 0 || batch > len(features) {
		batch = len(features)
	}

	gradW := make([]float64, nFeatures)

	for ; t.epoch < t.hp.Epochs; t.epoch++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("training interrupted at epoch %d: %w", t.epoch, err)
		}

		for start := 0; start < len(features); start += batch {
			end := min(start+batch, len(features))
			n := float64(end - start)

			for j := range gradW {
				gradW[j] = 0
			}
			var gradB float64
			for i := start; i < end; i++ {
				residual := t.predict(features[i]) - target[i]
				for j, v := range features[i] {
					gradW[j] += residual * v
				}
				gradB += residual
			}

			for j := range t.weights {
				grad := gradW[j]/n + t.hp.L2Penalty*t.weights[j]
				t.weights[j] -= t.hp.LearningRate * grad
			}
			t.bias -= t.hp.LearningRate * gradB / n
		}

		if onEpoch != nil {
			if err := onEpoch(t.Checkpoint()); err != nil {
				return err
			}
		}
	}

	return nil
}

func (t *Trainer) predict(row []float64) float64 {
	pred := t.bias
	for j, w := range t.weights {
		pred += w * row[j]
	}
	return pred
}

func (t *Trainer) Predict(features [][]float64) []float64 {
	preds := make([]float64, len(features))
	for i, row := range features {
		preds[i] = t.predict(row)
	}
	return preds
}

func (t *Trainer) Artifact(featureColumns []string, targetColumn, scalerType string, scalerParams []byte) *Artifact {
	weights := make([]float64, len(t.weights))
	copy(weights, t.weights)
	return &Artifact{
		Algorithm:      t.algorithm,
		Weights:        weights,
		Bias:           t.bias,
		FeatureColumns: featureColumns,
		TargetColumn:   targetColumn,
		ScalerType:     scalerType,
		ScalerParams:   scalerParams,
	}
}
