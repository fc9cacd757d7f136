package model

import (
	"fmt"
	"math"
)

// StandardScaler standardizes features to zero mean and unit variance.
// Statistics are learned once at training time and reused unchanged at
// inference; they are persisted and versioned with the classifiers that
// consume them.
type StandardScaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// NewStandardScaler creates an unfitted scaler.
func NewStandardScaler() *StandardScaler {
	return &StandardScaler{}
}

// Fit learns per-feature mean and standard deviation.
func (s *StandardScaler) Fit(X [][]float64) error {
	if len(X) == 0 || len(X[0]) == 0 {
		return fmt.Errorf("scaler: empty training set")
	}

	dim := len(X[0])
	s.Mean = make([]float64, dim)
	s.Std = make([]float64, dim)

	for _, row := range X {
		if len(row) != dim {
			return fmt.Errorf("scaler: %w", ErrDimension)
		}
		for j, v := range row {
			s.Mean[j] += v
		}
	}
	n := float64(len(X))
	for j := range s.Mean {
		s.Mean[j] /= n
	}

	for _, row := range X {
		for j, v := range row {
			d := v - s.Mean[j]
			s.Std[j] += d * d
		}
	}
	for j := range s.Std {
		s.Std[j] = math.Sqrt(s.Std[j] / n)
		// Constant features scale to 0, never divide by zero.
		if s.Std[j] == 0 {
			s.Std[j] = 1
		}
	}
	return nil
}

// Transform returns a standardized copy of x.
func (s *StandardScaler) Transform(x []float64) ([]float64, error) {
	if len(s.Mean) == 0 {
		return nil, fmt.Errorf("scaler: %w", ErrNotFitted)
	}
	if len(x) != len(s.Mean) {
		return nil, fmt.Errorf("scaler: %w: got %d, want %d", ErrDimension, len(x), len(s.Mean))
	}

	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - s.Mean[j]) / s.Std[j]
	}
	return out, nil
}

// TransformMatrix standardizes every row of X.
func (s *StandardScaler) TransformMatrix(X [][]float64) ([][]float64, error) {
	out := make([][]float64, len(X))
	for i, row := range X {
		scaled, err := s.Transform(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = scaled
	}
	return out, nil
}

// Fitted reports whether statistics have been learned.
func (s *StandardScaler) Fitted() bool {
	return len(s.Mean) > 0
}
