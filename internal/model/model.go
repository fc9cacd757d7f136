// Package model provides the classifier implementations used by the
// ensemble: a bagged random forest, boosted stumps, logistic regression
// and a linear SVM, plus the feature scaler and PCA transform persisted
// alongside them.
package model

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrNotFitted indicates Score was called before Fit or before
	// parameters were loaded from a bundle.
	ErrNotFitted = errors.New("model not fitted")

	// ErrDimension indicates a feature vector of the wrong length.
	ErrDimension = errors.New("feature dimension mismatch")
)

// Classifier is the capability contract every ensemble member fulfils.
// Score returns a calibrated fraud probability in [0,1]; margin-based
// models return the logistic transform of their decision margin.
type Classifier interface {
	// Fit trains the model on a labeled feature matrix. Labels are
	// 0 (legitimate) or 1 (fraud).
	Fit(ctx context.Context, X [][]float64, y []int) error

	// Score returns the fraud probability for one feature vector.
	Score(x []float64) (float64, error)

	// Type returns a human-readable model type tag.
	Type() string

	// MarshalParams serializes the learned parameters.
	MarshalParams() ([]byte, error)

	// UnmarshalParams restores learned parameters.
	UnmarshalParams(data []byte) error
}

// New constructs an untrained classifier for a model identifier.
func New(id string) (Classifier, error) {
	switch id {
	case "random_forest":
		return NewRandomForest(), nil
	case "gradient_boosting":
		return NewGradientBoosting(), nil
	case "logistic_regression":
		return NewLogisticRegression(), nil
	case "linear_svm":
		return NewLinearSVM(), nil
	default:
		return nil, fmt.Errorf("unknown model id %q", id)
	}
}

// validateTrainingSet checks shape and label domain before any fit.
func validateTrainingSet(X [][]float64, y []int) (dim int, err error) {
	if len(X) == 0 {
		return 0, errors.New("empty training set")
	}
	if len(X) != len(y) {
		return 0, fmt.Errorf("feature/label length mismatch: %d vs %d", len(X), len(y))
	}
	dim = len(X[0])
	if dim == 0 {
		return 0, errors.New("empty feature vectors")
	}
	for i, row := range X {
		if len(row) != dim {
			return 0, fmt.Errorf("row %d: %w: got %d, want %d", i, ErrDimension, len(row), dim)
		}
	}
	for i, label := range y {
		if label != 0 && label != 1 {
			return 0, fmt.Errorf("label %d: must be 0 or 1, got %d", i, label)
		}
	}
	return dim, nil
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
