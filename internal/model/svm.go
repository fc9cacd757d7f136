package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
)

// LinearSVM is a linear support vector machine trained with
// hinge-loss SGD (Pegasos-style updates). It has no native probability
// output; Score applies the logistic transform to the decision margin,
// so a margin of 0 maps to probability 0.5 and per-model votes agree
// with the sign of the margin.
type LinearSVM struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`

	// Hyperparameters (not persisted; fixed at construction).
	lambda float64
	epochs int
	seed   int64
}

// NewLinearSVM creates a classifier with default hyperparameters.
func NewLinearSVM() *LinearSVM {
	return &LinearSVM{
		lambda: 1e-3,
		epochs: 200,
		seed:   42,
	}
}

// Fit trains with SGD over shuffled samples. Deterministic for a fixed
// seed. Cancellation is honored between epochs.
func (m *LinearSVM) Fit(ctx context.Context, X [][]float64, y []int) error {
	dim, err := validateTrainingSet(X, y)
	if err != nil {
		return fmt.Errorf("linear_svm: %w", err)
	}

	m.Weights = make([]float64, dim)
	m.Bias = 0

	rng := rand.New(rand.NewSource(m.seed))
	order := make([]int, len(X))
	for i := range order {
		order[i] = i
	}

	t := 1
	for epoch := 0; epoch < m.epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("linear_svm: fit canceled: %w", err)
		}

		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		for _, i := range order {
			// Map {0,1} labels to {-1,+1}.
			label := float64(2*y[i] - 1)
			eta := 1.0 / (m.lambda * float64(t))
			t++

			margin := label * (dot(m.Weights, X[i]) + m.Bias)
			if margin < 1 {
				for j, v := range X[i] {
					m.Weights[j] = (1-eta*m.lambda)*m.Weights[j] + eta*label*v
				}
				m.Bias += eta * label
			} else {
				for j := range m.Weights {
					m.Weights[j] *= 1 - eta*m.lambda
				}
			}
		}
	}

	return nil
}

// Margin returns the raw decision value w.x + b.
func (m *LinearSVM) Margin(x []float64) (float64, error) {
	if len(m.Weights) == 0 {
		return 0, fmt.Errorf("linear_svm: %w", ErrNotFitted)
	}
	if len(x) != len(m.Weights) {
		return 0, fmt.Errorf("linear_svm: %w: got %d, want %d", ErrDimension, len(x), len(m.Weights))
	}
	return dot(m.Weights, x) + m.Bias, nil
}

// Score returns sigmoid(margin).
func (m *LinearSVM) Score(x []float64) (float64, error) {
	margin, err := m.Margin(x)
	if err != nil {
		return 0, err
	}
	return sigmoid(margin), nil
}

func (m *LinearSVM) Type() string { return "LinearSVM" }

func (m *LinearSVM) MarshalParams() ([]byte, error) {
	if len(m.Weights) == 0 {
		return nil, fmt.Errorf("linear_svm: %w", ErrNotFitted)
	}
	return json.Marshal(m)
}

func (m *LinearSVM) UnmarshalParams(data []byte) error {
	if err := json.Unmarshal(data, m); err != nil {
		return fmt.Errorf("linear_svm: parse params: %w", err)
	}
	if len(m.Weights) == 0 {
		return fmt.Errorf("linear_svm: params contain no weights")
	}
	return nil
}
