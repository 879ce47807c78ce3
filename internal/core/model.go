package core

import (
	"encoding/json"
	"fmt"

	"mlops-backend/internal/dataset"
)

const (
	AlgorithmLinear = "linear"
	AlgorithmRidge  = "ridge"
)

// Hyperparameters are stored as JSON on the model record. Missing fields fall
// back to the defaults, so callers can submit a partial object.
type Hyperparameters struct {
	LearningRate float64 `json:"learning_rate"`
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batch_size"` // 0 means full batch
	L2Penalty    float64 `json:"l2_penalty"`
	Scaler       string  `json:"scaler,omitempty"`
}

func DefaultHyperparameters(algorithm string) Hyperparameters {
	hp := Hyperparameters{
		LearningRate: 0.01,
		Epochs:       100,
	}
	if algorithm == AlgorithmRidge {
		hp.L2Penalty = 0.1
	}
	return hp
}

func ParseHyperparameters(algorithm string, data []byte) (Hyperparameters, error) {
	hp := DefaultHyperparameters(algorithm)
	if len(data) == 0 {
		return hp, nil
	}
	if err := json.Unmarshal(data, &hp); err != nil {
		return hp, fmt.Errorf("failed to parse hyperparameters: %w", err)
	}

	if hp.LearningRate <= 0 {
		return hp, fmt.Errorf("learning rate must be positive, got %g", hp.LearningRate)
	}
	if hp.Epochs <= 0 {
		return hp, fmt.Errorf("epochs must be positive, got %d", hp.Epochs)
	}
	if hp.BatchSize < 0 {
		return hp, fmt.Errorf("batch size cannot be negative, got %d", hp.BatchSize)
	}
	if hp.L2Penalty < 0 {
		return hp, fmt.Errorf("l2 penalty cannot be negative, got %g", hp.L2Penalty)
	}

	return hp, nil
}

// Checkpoint is the resumable training state written to the object store
// between epochs. A restarted job picks up from the last one instead of
// training from scratch.
type Checkpoint struct {
	Epoch   int       `json:"epoch"`
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// Artifact is the fully trained model as stored in the object store. It
// carries everything inference needs: weights plus the fitted scaler and the
// column layout the model was trained on.
type Artifact struct {
	Algorithm      string          `json:"algorithm"`
	Weights        []float64       `json:"weights"`
	Bias           float64         `json:"bias"`
	FeatureColumns []string        `json:"feature_columns"`
	TargetColumn   string          `json:"target_column"`
	ScalerType     string          `json:"scaler_type,omitempty"`
	ScalerParams   json.RawMessage `json:"scaler_params,omitempty"`
}

func LoadArtifact(data []byte) (*Artifact, error) {
	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("failed to parse model artifact: %w", err)
	}
	if len(artifact.Weights) == 0 {
		return nil, fmt.Errorf("model artifact has no weights")
	}
	return &artifact, nil
}

func (a *Artifact) Bytes() ([]byte, error) {
	return json.Marshal(a)
}

// Predict scores one row of raw feature values, applying the artifact's
// scaler before the linear combination.
func (a *Artifact) Predict(raw []float64) (float64, error) {
	if len(raw) != len(a.Weights) {
		return 0, fmt.Errorf("expected %d features, got %d", len(a.Weights), len(raw))
	}

	row := make([]float64, len(raw))
	copy(row, raw)

	if a.ScalerType != "" {
		scaler, err := dataset.LoadScaler(a.ScalerType, a.ScalerParams)
		if err != nil {
			return 0, err
		}
		features := [][]float64{row}
		if err := scaler.Transform(features); err != nil {
			return 0, err
		}
		row = features[0]
	}

	pred := a.Bias
	for i, w := range a.Weights {
		pred += w * row[i]
	}

	return pred, nil
}
