package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/ensemble"
	"github.com/opensource-finance/shrike/internal/feature"
	"github.com/opensource-finance/shrike/internal/policy"
	"github.com/opensource-finance/shrike/internal/profile"
)

// EngineVersion is stamped into prediction metadata.
const EngineVersion = "shrike-1.0"

// Scorer runs the full prediction pipeline for one transaction.
//
// Scoring is read-only: it never mutates profiles or writes
// observations. Callers record the transaction afterwards through
// Observe, so a failed or speculative scoring pass leaves no trace in
// user history.
type Scorer struct {
	extractor *feature.Extractor
	ensemble  *ensemble.Ensemble
	risk      *RiskClassifier
	policies  *policy.Engine
	profiles  *profile.Store
	repo      domain.Repository
	logger    *slog.Logger
}

// Config wires the scorer's collaborators. Policies and Repository are
// optional; the rest are required.
type Config struct {
	Extractor  *feature.Extractor
	Ensemble   *ensemble.Ensemble
	Risk       *RiskClassifier
	Policies   *policy.Engine
	Profiles   *profile.Store
	Repository domain.Repository
	Logger     *slog.Logger
}

// NewScorer creates a scorer from its collaborators.
func NewScorer(cfg Config) (*Scorer, error) {
	if cfg.Extractor == nil || cfg.Ensemble == nil || cfg.Risk == nil || cfg.Profiles == nil {
		return nil, fmt.Errorf("%w: extractor, ensemble, risk classifier and profile store are required", domain.ErrInvalidInput)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{
		extractor: cfg.Extractor,
		ensemble:  cfg.Ensemble,
		risk:      cfg.Risk,
		policies:  cfg.Policies,
		profiles:  cfg.Profiles,
		repo:      cfg.Repository,
		logger:    logger,
	}, nil
}

// ScoreInput carries one transaction through the pipeline.
type ScoreInput struct {
	TraceID   string
	StartTime time.Time
	Tx        *domain.Transaction
}

// Score produces a prediction for the transaction. Fails with
// domain.ErrNotReady when no model bundle is loaded; there is no
// default score.
func (s *Scorer) Score(ctx context.Context, input *ScoreInput) (*domain.PredictionResult, error) {
	if input == nil || input.Tx == nil {
		return nil, fmt.Errorf("%w: transaction is required", domain.ErrInvalidInput)
	}
	tx := input.Tx
	if input.StartTime.IsZero() {
		input.StartTime = time.Now()
	}

	snap := s.profiles.Snapshot(tx.UserID)

	extractStart := time.Now()
	vec, err := s.extractor.Extract(ctx, tx, snap)
	if err != nil {
		return nil, fmt.Errorf("extract features: %w", err)
	}
	extractMs := time.Since(extractStart).Milliseconds()

	scoreStart := time.Now()
	eval, err := s.ensemble.Evaluate(vec)
	if err != nil {
		return nil, fmt.Errorf("evaluate ensemble: %w", err)
	}
	scoreMs := time.Since(scoreStart).Milliseconds()

	tier, action := s.risk.Classify(eval.RiskScore)

	pred := &domain.PredictionResult{
		ID:             uuid.New().String(),
		TenantID:       tx.TenantID,
		TxID:           tx.ID,
		IsFraud:        eval.IsFraud,
		RiskScore:      eval.RiskScore,
		Confidence:     eval.Confidence,
		Tier:           tier,
		Recommendation: action,
		Contributions:  eval.Contributions,
		Timestamp:      time.Now().UTC(),
		Metadata: domain.PredictionMetadata{
			TraceID:         input.TraceID,
			ExtractMs:       extractMs,
			ScoreMs:         scoreMs,
			ModelsEvaluated: len(eval.Contributions),
			BundleVersion:   eval.BundleVersion,
			EngineVersion:   EngineVersion,
		},
	}

	if s.policies != nil {
		s.policies.Apply(ctx, tx, pred)
	}

	pred.Metadata.TotalMs = time.Since(input.StartTime).Milliseconds()

	s.logger.Debug("transaction scored",
		"tx_id", tx.ID,
		"tenant_id", tx.TenantID,
		"risk_score", pred.RiskScore,
		"tier", pred.Tier,
		"recommendation", pred.Recommendation,
		"total_ms", pred.Metadata.TotalMs,
	)

	return pred, nil
}

// Observe records the transaction into user history: the in-process
// profile store always, and the observation repository when one is
// configured. Call after scoring so the current transaction never
// influences its own features.
func (s *Scorer) Observe(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil {
		return fmt.Errorf("%w: transaction is required", domain.ErrInvalidInput)
	}

	s.profiles.Observe(tx.UserID, tx.Amount, tx.Location, tx.DeviceID)

	if s.repo == nil {
		return nil
	}
	obs := &domain.Observation{
		TxID:       tx.ID,
		TenantID:   tx.TenantID,
		UserID:     tx.UserID,
		MerchantID: tx.MerchantID,
		DeviceID:   tx.DeviceID,
		Amount:     tx.Amount,
		Location:   tx.Location,
		Timestamp:  tx.Timestamp,
	}
	if err := s.repo.SaveObservation(ctx, tx.TenantID, obs); err != nil {
		return fmt.Errorf("save observation: %w", err)
	}
	return nil
}

// BuildTransaction validates a request and converts it to a
// transaction, assigning an ID when the caller did not provide one.
func BuildTransaction(tenantID string, req *domain.TransactionRequest) (*domain.Transaction, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request body is required", domain.ErrInvalidInput)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	tx := req.ToTransaction(tenantID)
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	return tx, nil
}
