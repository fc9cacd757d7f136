package model

import (
	"context"
	"encoding/json"
	"fmt"
)

// LogisticRegression is a binary logistic classifier trained with
// full-batch gradient descent and L2 regularization.
type LogisticRegression struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`

	// Hyperparameters (not persisted; fixed at construction).
	learningRate float64
	epochs       int
	l2           float64
}

// NewLogisticRegression creates a classifier with default
// hyperparameters.
func NewLogisticRegression() *LogisticRegression {
	return &LogisticRegression{
		learningRate: 0.1,
		epochs:       500,
		l2:           1e-4,
	}
}

// Fit trains by gradient descent on the logistic loss. Cancellation is
// honored between epochs.
func (m *LogisticRegression) Fit(ctx context.Context, X [][]float64, y []int) error {
	dim, err := validateTrainingSet(X, y)
	if err != nil {
		return fmt.Errorf("logistic_regression: %w", err)
	}

	m.Weights = make([]float64, dim)
	m.Bias = 0
	n := float64(len(X))

	grad := make([]float64, dim)
	for epoch := 0; epoch < m.epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("logistic_regression: fit canceled: %w", err)
		}

		for j := range grad {
			grad[j] = 0
		}
		var gradBias float64

		for i, row := range X {
			p := sigmoid(dot(m.Weights, row) + m.Bias)
			g := p - float64(y[i])
			for j, v := range row {
				grad[j] += g * v
			}
			gradBias += g
		}

		for j := range m.Weights {
			m.Weights[j] -= m.learningRate * (grad[j]/n + m.l2*m.Weights[j])
		}
		m.Bias -= m.learningRate * (gradBias / n)
	}

	return nil
}

// Score returns sigmoid(w.x + b).
func (m *LogisticRegression) Score(x []float64) (float64, error) {
	if len(m.Weights) == 0 {
		return 0, fmt.Errorf("logistic_regression: %w", ErrNotFitted)
	}
	if len(x) != len(m.Weights) {
		return 0, fmt.Errorf("logistic_regression: %w: got %d, want %d", ErrDimension, len(x), len(m.Weights))
	}
	return sigmoid(dot(m.Weights, x) + m.Bias), nil
}

func (m *LogisticRegression) Type() string { return "LogisticRegression" }

func (m *LogisticRegression) MarshalParams() ([]byte, error) {
	if len(m.Weights) == 0 {
		return nil, fmt.Errorf("logistic_regression: %w", ErrNotFitted)
	}
	return json.Marshal(m)
}

func (m *LogisticRegression) UnmarshalParams(data []byte) error {
	if err := json.Unmarshal(data, m); err != nil {
		return fmt.Errorf("logistic_regression: parse params: %w", err)
	}
	if len(m.Weights) == 0 {
		return fmt.Errorf("logistic_regression: params contain no weights")
	}
	return nil
}
