package dataset

import (
	"encoding/json"
	"fmt"
	"math"
)

const (
	StandardScalerType = "standard"
	MinMaxScalerType   = "minmax"
)

// Scaler normalizes feature columns. Fit learns the per-column parameters on
// the training split only; Transform applies them to any matrix with the
// same column layout.
type Scaler interface {
	Fit(features [][]float64) error

	Transform(features [][]float64) error

	Params() ([]byte, error)
}

func NewScaler(scalerType string) (Scaler, error) {
	switch scalerType {
	case StandardScalerType:
		return &StandardScaler{}, nil
	case MinMaxScalerType:
		return &MinMaxScaler{}, nil
	default:
		return nil, fmt.Errorf("unknown scaler type %q", scalerType)
	}
}

func LoadScaler(scalerType string, params []byte) (Scaler, error) {
	scaler, err := NewScaler(scalerType)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(params, scaler); err != nil {
		return nil, fmt.Errorf("failed to parse %s scaler params: %w", scalerType, err)
	}
	return scaler, nil
}

// StandardScaler centers each column to zero mean and unit variance.
type StandardScaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

func (s *StandardScaler) Fit(features [][]float64) error {
	if len(features) == 0 {
		return fmt.Errorf("cannot fit scaler on empty matrix")
	}

	nCols := len(features[0])
	s.Mean = make([]float64, nCols)
	s.Std = make([]float64, nCols)

	for _, row := range features {
		for j, v := range row {
			s.Mean[j] += v
		}
	}
	for j := range s.Mean {
		s.Mean[j] /= float64(len(features))
	}

	for _, row := range features {
		for j, v := range row {
			d := v - s.Mean[j]
			s.Std[j] += d * d
		}
	}
	for j := range s.Std {
		s.Std[j] = math.Sqrt(s.Std[j] / float64(len(features)))
		if s.Std[j] == 0 {
			s.Std[j] = 1 // constant column, leave values centered at zero
		}
	}

	return nil
}

func (s *StandardScaler) Transform(features [][]float64) error {
	for i, row := range features {
		if len(row) != len(s.Mean) {
			return fmt.Errorf("row %d has %d columns, scaler was fit on %d", i, len(row), len(s.Mean))
		}
		for j, v := range row {
			row[j] = (v - s.Mean[j]) / s.Std[j]
		}
	}
	return nil
}

func (s *StandardScaler) Params() ([]byte, error) {
	return json.Marshal(s)
}

// MinMaxScaler rescales each column into [0, 1].
type MinMaxScaler struct {
	Min []float64 `json:"min"`
	Max []float64 `json:"max"`
}

func (s *MinMaxScaler) Fit(features [][]float64) error {
	if len(features) == 0 {
		return fmt.Errorf("cannot fit scaler on empty matrix")
	}

	nCols := len(features[0])
	s.Min = make([]float64, nCols)
	s.Max = make([]float64, nCols)
	for j := range s.Min {
		s.Min[j] = math.Inf(1)
		s.Max[j] = math.Inf(-1)
	}

	for _, row := range features {
		for j, v := range row {
			s.Min[j] = math.Min(s.Min[j], v)
			s.Max[j] = math.Max(s.Max[j], v)
		}
	}

	return nil
}

func (s *MinMaxScaler) Transform(features [][]float64) error {
	for i, row := range features {
		if len(row) != len(s.Min) {
			return fmt.Errorf("row %d has %d columns, scaler was fit on %d", i, len(row), len(s.Min))
		}
		for j, v := range row {
			span := s.Max[j] - s.Min[j]
			if span == 0 {
				row[j] = 0
				continue
			}
			row[j] = (v - s.Min[j]) / span
		}
	}
	return nil
}

func (s *MinMaxScaler) Params() ([]byte, error) {
	return json.Marshal(s)
}
