// Package scoring runs the transaction scoring pipeline: profile
// snapshot, feature extraction, ensemble evaluation, risk tiering and
// policy overrides.
package scoring

import (
	"fmt"

	"github.com/opensource-finance/shrike/internal/domain"
)

// RiskClassifier maps a risk score to a tier and recommended action.
// It is the only place score cutoffs are interpreted; every consumer
// shares the same threshold table.
type RiskClassifier struct {
	thresholds domain.RiskThresholds
}

// NewRiskClassifier creates a classifier after validating threshold
// ordering.
func NewRiskClassifier(t domain.RiskThresholds) (*RiskClassifier, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("risk thresholds: %w", err)
	}
	return &RiskClassifier{thresholds: t}, nil
}

// Classify returns the tier and action for a risk score.
//
//	score >  block           => CRITICAL / BLOCK
//	score >  review          => HIGH     / REVIEW
//	medium <= score <= review => MEDIUM  / APPROVE
//	score <  medium          => LOW      / APPROVE
func (c *RiskClassifier) Classify(score float64) (domain.RiskTier, domain.Action) {
	switch {
	case score > c.thresholds.Block:
		return domain.TierCritical, domain.ActionBlock
	case score > c.thresholds.Review:
		return domain.TierHigh, domain.ActionReview
	case score >= c.thresholds.Medium:
		return domain.TierMedium, domain.ActionApprove
	default:
		return domain.TierLow, domain.ActionApprove
	}
}

// Thresholds returns the active threshold table.
func (c *RiskClassifier) Thresholds() domain.RiskThresholds {
	return c.thresholds
}
