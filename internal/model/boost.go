package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// GradientBoosting fits an additive sequence of depth-1 regression
// stumps to the logistic loss. Each stage fits pseudo-residuals and a
// Newton step sets the leaf values; Score passes the accumulated raw
// prediction through the logistic transform.
type GradientBoosting struct {
	Base   float64      `json:"base"`
	Stumps []BoostStump `json:"stumps"`
	Dim    int          `json:"dim"`

	// Hyperparameters (not persisted; fixed at construction).
	stages    int
	shrinkage float64
}

// BoostStump is one boosting stage: a single threshold split with a
// raw-score contribution on each side.
type BoostStump struct {
	Feature    int     `json:"feature"`
	Threshold  float64 `json:"threshold"`
	LeftValue  float64 `json:"left_value"`
	RightValue float64 `json:"right_value"`
}

// NewGradientBoosting creates a booster with default hyperparameters.
func NewGradientBoosting() *GradientBoosting {
	return &GradientBoosting{
		stages:    100,
		shrinkage: 0.1,
	}
}

// Fit runs the configured number of boosting stages. Cancellation is
// honored between stages.
func (m *GradientBoosting) Fit(ctx context.Context, X [][]float64, y []int) error {
	dim, err := validateTrainingSet(X, y)
	if err != nil {
		return fmt.Errorf("gradient_boosting: %w", err)
	}
	m.Dim = dim

	// Initialize raw scores at the prior log-odds.
	pos := 0
	for _, label := range y {
		pos += label
	}
	prior := float64(pos) / float64(len(y))
	// Clamp to keep log-odds finite on degenerate label sets.
	prior = math.Min(math.Max(prior, 1e-6), 1-1e-6)
	m.Base = math.Log(prior / (1 - prior))

	raw := make([]float64, len(X))
	for i := range raw {
		raw[i] = m.Base
	}

	m.Stumps = make([]BoostStump, 0, m.stages)
	residuals := make([]float64, len(X))
	hessians := make([]float64, len(X))

	for stage := 0; stage < m.stages; stage++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("gradient_boosting: fit canceled: %w", err)
		}

		for i := range X {
			p := sigmoid(raw[i])
			residuals[i] = float64(y[i]) - p
			hessians[i] = p * (1 - p)
		}

		stump, ok := fitStump(X, residuals, hessians)
		if !ok {
			break
		}
		stump.LeftValue *= m.shrinkage
		stump.RightValue *= m.shrinkage
		m.Stumps = append(m.Stumps, stump)

		for i, row := range X {
			if row[stump.Feature] <= stump.Threshold {
				raw[i] += stump.LeftValue
			} else {
				raw[i] += stump.RightValue
			}
		}
	}

	if len(m.Stumps) == 0 {
		return fmt.Errorf("gradient_boosting: no usable split in training data")
	}
	return nil
}

// fitStump finds the single split minimizing squared residual error and
// sets Newton-step leaf values sum(r)/sum(h).
func fitStump(X [][]float64, residuals, hessians []float64) (BoostStump, bool) {
	dim := len(X[0])
	best := BoostStump{}
	bestGain := 0.0
	found := false

	var totalR, totalH float64
	for i := range residuals {
		totalR += residuals[i]
		totalH += hessians[i]
	}

	type pair struct {
		v float64
		r float64
		h float64
	}

	for f := 0; f < dim; f++ {
		pairs := make([]pair, len(X))
		for i, row := range X {
			pairs[i] = pair{v: row[f], r: residuals[i], h: hessians[i]}
		}
		sort.Slice(pairs, func(i, j int) bool { return pairs[i].v < pairs[j].v })

		var leftR, leftH float64
		for i := 0; i < len(pairs)-1; i++ {
			leftR += pairs[i].r
			leftH += pairs[i].h
			if pairs[i].v == pairs[i+1].v {
				continue
			}

			rightR := totalR - leftR
			rightH := totalH - leftH
			if leftH < 1e-12 || rightH < 1e-12 {
				continue
			}

			gain := leftR*leftR/leftH + rightR*rightR/rightH
			if gain > bestGain {
				bestGain = gain
				best = BoostStump{
					Feature:    f,
					Threshold:  (pairs[i].v + pairs[i+1].v) / 2,
					LeftValue:  leftR / leftH,
					RightValue: rightR / rightH,
				}
				found = true
			}
		}
	}
	return best, found
}

// Score returns sigmoid(base + sum of stump contributions).
func (m *GradientBoosting) Score(x []float64) (float64, error) {
	if len(m.Stumps) == 0 {
		return 0, fmt.Errorf("gradient_boosting: %w", ErrNotFitted)
	}
	if len(x) != m.Dim {
		return 0, fmt.Errorf("gradient_boosting: %w: got %d, want %d", ErrDimension, len(x), m.Dim)
	}

	raw := m.Base
	for _, s := range m.Stumps {
		if x[s.Feature] <= s.Threshold {
			raw += s.LeftValue
		} else {
			raw += s.RightValue
		}
	}
	return sigmoid(raw), nil
}

func (m *GradientBoosting) Type() string { return "GradientBoosting" }

func (m *GradientBoosting) MarshalParams() ([]byte, error) {
	if len(m.Stumps) == 0 {
		return nil, fmt.Errorf("gradient_boosting: %w", ErrNotFitted)
	}
	return json.Marshal(m)
}

func (m *GradientBoosting) UnmarshalParams(data []byte) error {
	if err := json.Unmarshal(data, m); err != nil {
		return fmt.Errorf("gradient_boosting: parse params: %w", err)
	}
	if len(m.Stumps) == 0 {
		return fmt.Errorf("gradient_boosting: params contain no stumps")
	}
	return nil
}
