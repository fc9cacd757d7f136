package domain

import "errors"

var (
	// ErrInvalidInput indicates a request that cannot be scored even
	// with conservative feature defaults.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotReady indicates the ensemble has no loaded model bundle.
	// Scoring against an unloaded ensemble always fails; there is no
	// silent default score.
	ErrNotReady = errors.New("ensemble not ready: no model bundle loaded")
)
