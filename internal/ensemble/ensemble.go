// Package ensemble combines the individual classifiers into the
// weighted voting ensemble that produces fraud predictions. The active
// model bundle is swapped atomically so scoring never observes a
// half-loaded set of models.
package ensemble

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/model"
)

// confidencePenaltyCap bounds how much inter-model disagreement can
// reduce confidence. Confidence never drops below 0.5 on variance
// alone.
const confidencePenaltyCap = 0.5

// Member is one weighted classifier inside a bundle.
type Member struct {
	ID         string
	Weight     float64
	Classifier model.Classifier
}

// Bundle is a complete, immutable set of trained artifacts: the
// classifiers, the scaler they were trained against, and the fitted
// PCA transform persisted alongside them.
type Bundle struct {
	Version   string
	CreatedAt time.Time
	Members   []Member
	Scaler    *model.StandardScaler
	PCA       *model.PCA
}

// Evaluation is the raw ensemble output for one feature vector, before
// risk tiers and policy overrides are applied.
type Evaluation struct {
	IsFraud       bool
	RiskScore     float64
	Confidence    float64
	Contributions []domain.ModelContribution
	BundleVersion string
}

// Ensemble scores feature vectors against the currently installed
// bundle. All methods are safe for concurrent use.
type Ensemble struct {
	cfg    domain.EnsembleConfig
	bundle atomic.Pointer[Bundle]
}

// New creates an ensemble with no bundle installed. The configuration
// weight invariant is checked here so a bad config fails at startup,
// not at first request.
func New(cfg domain.EnsembleConfig) (*Ensemble, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("ensemble config: %w", err)
	}
	for _, mw := range cfg.Models {
		if _, err := model.New(mw.ID); err != nil {
			return nil, fmt.Errorf("ensemble config: %w", err)
		}
	}
	return &Ensemble{cfg: cfg}, nil
}

// Config returns the ensemble configuration.
func (e *Ensemble) Config() domain.EnsembleConfig {
	return e.cfg
}

// IsLoaded reports whether a bundle is installed.
func (e *Ensemble) IsLoaded() bool {
	return e.bundle.Load() != nil
}

// Version returns the installed bundle version, or "" when unloaded.
func (e *Ensemble) Version() string {
	b := e.bundle.Load()
	if b == nil {
		return ""
	}
	return b.Version
}

// Install atomically swaps in a new bundle. In-flight evaluations keep
// using the bundle they started with.
func (e *Ensemble) Install(b *Bundle) error {
	if err := e.validateBundle(b); err != nil {
		return err
	}
	e.bundle.Store(b)
	return nil
}

// validateBundle checks that the bundle carries exactly the configured
// model set and a fitted scaler.
func (e *Ensemble) validateBundle(b *Bundle) error {
	if b == nil {
		return fmt.Errorf("%w: nil bundle", domain.ErrInvalidInput)
	}
	if b.Scaler == nil || !b.Scaler.Fitted() {
		return fmt.Errorf("%w: bundle scaler is not fitted", domain.ErrInvalidInput)
	}
	if len(b.Members) != len(e.cfg.Models) {
		return fmt.Errorf("%w: bundle has %d models, config expects %d",
			domain.ErrInvalidInput, len(b.Members), len(e.cfg.Models))
	}
	have := make(map[string]bool, len(b.Members))
	for _, m := range b.Members {
		if m.Classifier == nil {
			return fmt.Errorf("%w: bundle model %q has no classifier", domain.ErrInvalidInput, m.ID)
		}
		have[m.ID] = true
	}
	for _, mw := range e.cfg.Models {
		if !have[mw.ID] {
			return fmt.Errorf("%w: bundle is missing configured model %q", domain.ErrInvalidInput, mw.ID)
		}
	}
	return nil
}

// Fit trains a fresh bundle on a labeled feature matrix and installs
// it. The scaler is fitted first and every classifier trains on the
// scaled matrix; any single failure aborts the whole fit.
func (e *Ensemble) Fit(ctx context.Context, X [][]float64, y []int, version string) (*Bundle, error) {
	scaler := model.NewStandardScaler()
	if err := scaler.Fit(X); err != nil {
		return nil, fmt.Errorf("fit scaler: %w", err)
	}
	scaled, err := scaler.TransformMatrix(X)
	if err != nil {
		return nil, fmt.Errorf("scale training set: %w", err)
	}

	members := make([]Member, 0, len(e.cfg.Models))
	for _, mw := range e.cfg.Models {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fit canceled before %s: %w", mw.ID, err)
		}
		clf, err := model.New(mw.ID)
		if err != nil {
			return nil, err
		}
		if err := clf.Fit(ctx, scaled, y); err != nil {
			return nil, fmt.Errorf("fit %s: %w", mw.ID, err)
		}
		members = append(members, Member{ID: mw.ID, Weight: mw.Weight, Classifier: clf})
	}

	// PCA is fitted and versioned with the bundle for offline analysis;
	// the classifiers score on the scaled features directly.
	dim := len(X[0])
	pcaComponents := dim
	if pcaComponents > 10 {
		pcaComponents = 10
	}
	pca := model.NewPCA(pcaComponents)
	if err := pca.Fit(scaled); err != nil {
		return nil, fmt.Errorf("fit pca: %w", err)
	}

	b := &Bundle{
		Version:   version,
		CreatedAt: time.Now().UTC(),
		Members:   members,
		Scaler:    scaler,
		PCA:       pca,
	}
	if err := e.Install(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Evaluate scores one raw feature vector against the installed bundle.
//
// The fraud verdict blends weighted hard votes while the risk score
// blends weighted probabilities; the two can disagree near the
// decision boundary and callers must treat them as independent.
func (e *Ensemble) Evaluate(x []float64) (*Evaluation, error) {
	b := e.bundle.Load()
	if b == nil {
		return nil, domain.ErrNotReady
	}

	scaled, err := b.Scaler.Transform(x)
	if err != nil {
		return nil, fmt.Errorf("scale features: %w", err)
	}

	probs := make([]float64, len(b.Members))
	contributions := make([]domain.ModelContribution, len(b.Members))
	var voteSum, scoreSum float64

	for i, m := range b.Members {
		p, err := m.Classifier.Score(scaled)
		if err != nil {
			return nil, fmt.Errorf("score %s: %w", m.ID, err)
		}
		probs[i] = p

		// A model exactly on the boundary counts as a fraud vote.
		if p >= 0.5 {
			voteSum += m.Weight
		}
		scoreSum += m.Weight * p
		contributions[i] = domain.ModelContribution{
			ModelID:      m.ID,
			Probability:  p,
			Weight:       m.Weight,
			Contribution: m.Weight * p,
		}
	}

	return &Evaluation{
		IsFraud:       voteSum > 0.5,
		RiskScore:     clamp01(scoreSum),
		Confidence:    confidence(probs),
		Contributions: contributions,
		BundleVersion: b.Version,
	}, nil
}

// confidence maps inter-model agreement to [0.5, 1]: unanimous models
// give 1.0 and the penalty saturates at maximum disagreement.
func confidence(probs []float64) float64 {
	if len(probs) == 0 {
		return 0
	}
	var mean float64
	for _, p := range probs {
		mean += p
	}
	mean /= float64(len(probs))

	var variance float64
	for _, p := range probs {
		d := p - mean
		variance += d * d
	}
	variance /= float64(len(probs))

	return 1 - math.Min(2*variance, confidencePenaltyCap)
}

// ModelInfo describes the installed models. Returns nil when no bundle
// is loaded.
func (e *Ensemble) ModelInfo() []domain.ModelInfo {
	b := e.bundle.Load()
	if b == nil {
		return nil
	}
	out := make([]domain.ModelInfo, len(b.Members))
	for i, m := range b.Members {
		out[i] = domain.ModelInfo{
			ModelID: m.ID,
			Type:    m.Classifier.Type(),
			Weight:  m.Weight,
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
