package scoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/ensemble"
	"github.com/opensource-finance/shrike/internal/feature"
	"github.com/opensource-finance/shrike/internal/model"
	"github.com/opensource-finance/shrike/internal/policy"
	"github.com/opensource-finance/shrike/internal/profile"
)

// fixedClassifier always reports the same probability, which makes the
// downstream tier and action deterministic.
type fixedClassifier struct {
	prob float64
}

func (f *fixedClassifier) Fit(ctx context.Context, X [][]float64, y []int) error { return nil }
func (f *fixedClassifier) Score(x []float64) (float64, error)                    { return f.prob, nil }
func (f *fixedClassifier) Type() string                                          { return "Fixed" }
func (f *fixedClassifier) MarshalParams() ([]byte, error)                        { return []byte("{}"), nil }
func (f *fixedClassifier) UnmarshalParams(data []byte) error                     { return nil }

// passthroughScaler returns a scaler whose transform is the identity
// over the feature dimension.
func passthroughScaler(t *testing.T) *model.StandardScaler {
	t.Helper()
	rows := [][]float64{make([]float64, feature.Dim), make([]float64, feature.Dim)}
	s := model.NewStandardScaler()
	if err := s.Fit(rows); err != nil {
		t.Fatalf("fit scaler: %v", err)
	}
	return s
}

// fixedEnsemble installs a bundle where every model reports prob.
func fixedEnsemble(t *testing.T, prob float64) *ensemble.Ensemble {
	t.Helper()
	cfg := domain.DefaultEnsembleConfig()
	e, err := ensemble.New(cfg)
	if err != nil {
		t.Fatalf("ensemble.New: %v", err)
	}

	members := make([]ensemble.Member, len(cfg.Models))
	for i, mw := range cfg.Models {
		members[i] = ensemble.Member{ID: mw.ID, Weight: mw.Weight, Classifier: &fixedClassifier{prob: prob}}
	}
	b := &ensemble.Bundle{Version: "test", Members: members, Scaler: passthroughScaler(t)}
	if err := e.Install(b); err != nil {
		t.Fatalf("install: %v", err)
	}
	return e
}

func newTestScorer(t *testing.T, e *ensemble.Ensemble, pol *policy.Engine) (*Scorer, *profile.Store) {
	t.Helper()
	cfg := domain.DefaultConfig()
	store := profile.NewStore(8)
	rc, err := NewRiskClassifier(cfg.Risk)
	if err != nil {
		t.Fatalf("risk classifier: %v", err)
	}
	extractor, err := feature.NewExtractor(cfg.Features, nil, store)
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	s, err := NewScorer(Config{
		Extractor: extractor,
		Ensemble:  e,
		Risk:      rc,
		Policies:  pol,
		Profiles:  store,
	})
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}
	return s, store
}

func testTx(amount float64, hour int) *domain.Transaction {
	ts := time.Date(2026, 3, 4, hour, 15, 0, 0, time.UTC)
	return &domain.Transaction{
		ID:               "tx-1",
		TenantID:         "tenant-1",
		UserID:           "user-1",
		MerchantID:       "merchant-1",
		DeviceID:         "device-1",
		MerchantCategory: "online_retail",
		MCCCode:          "5999",
		Amount:           amount,
		Currency:         "USD",
		Timestamp:        ts,
		AccountCreated:   ts.AddDate(-2, 0, 0),
	}
}

func TestScoreLowRiskApproves(t *testing.T) {
	s, store := newTestScorer(t, fixedEnsemble(t, 0.1), nil)

	// Established user with a steady history of similar amounts.
	for i := 0; i < 20; i++ {
		store.Observe("user-1", 45+float64(i%5), &domain.GeoPoint{Lat: 40.7, Lon: -74.0}, "device-1")
	}

	pred, err := s.Score(context.Background(), &ScoreInput{TraceID: "trace-1", Tx: testTx(50, 14)})
	if err != nil {
		t.Fatalf("score: %v", err)
	}

	if pred.RiskScore >= 0.3 {
		t.Errorf("risk score = %f, want < 0.3", pred.RiskScore)
	}
	if pred.Tier != domain.TierLow || pred.Recommendation != domain.ActionApprove {
		t.Errorf("tier/action = %s/%s, want LOW/APPROVE", pred.Tier, pred.Recommendation)
	}
	if pred.IsFraud {
		t.Error("low-probability models should not flag fraud")
	}
	if pred.ID == "" || pred.TxID != "tx-1" || pred.TenantID != "tenant-1" {
		t.Errorf("identifiers not populated: %+v", pred)
	}
	if pred.Metadata.ModelsEvaluated != 4 || pred.Metadata.BundleVersion != "test" {
		t.Errorf("metadata = %+v", pred.Metadata)
	}
	if pred.Metadata.EngineVersion != EngineVersion {
		t.Errorf("engine version = %q", pred.Metadata.EngineVersion)
	}
	if pred.Metadata.TraceID != "trace-1" {
		t.Errorf("trace id = %q", pred.Metadata.TraceID)
	}
}

func TestScoreHighRiskBlocks(t *testing.T) {
	s, _ := newTestScorer(t, fixedEnsemble(t, 0.95), nil)

	pred, err := s.Score(context.Background(), &ScoreInput{Tx: testTx(9500, 2)})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if pred.Tier != domain.TierCritical || pred.Recommendation != domain.ActionBlock {
		t.Errorf("tier/action = %s/%s, want CRITICAL/BLOCK", pred.Tier, pred.Recommendation)
	}
	if !pred.IsFraud {
		t.Error("unanimous high-probability models should flag fraud")
	}
}

func TestScoreDoesNotMutateProfile(t *testing.T) {
	s, store := newTestScorer(t, fixedEnsemble(t, 0.1), nil)
	store.Observe("user-1", 100, nil, "device-1")

	if _, err := s.Score(context.Background(), &ScoreInput{Tx: testTx(50, 14)}); err != nil {
		t.Fatalf("score: %v", err)
	}

	snap := store.Snapshot("user-1")
	if snap.Count() != 1 {
		t.Errorf("scoring changed profile history: count = %d, want 1", snap.Count())
	}
}

func TestObserveUpdatesProfile(t *testing.T) {
	s, store := newTestScorer(t, fixedEnsemble(t, 0.1), nil)

	tx := testTx(50, 14)
	tx.Location = &domain.GeoPoint{Lat: 40.7, Lon: -74.0}
	if err := s.Observe(context.Background(), tx); err != nil {
		t.Fatalf("observe: %v", err)
	}

	snap := store.Snapshot("user-1")
	if snap == nil || snap.Count() != 1 {
		t.Fatalf("observation not recorded: %+v", snap)
	}
	if snap.LastLocation == nil || snap.LastLocation.Lat != 40.7 {
		t.Errorf("location not recorded: %+v", snap.LastLocation)
	}
	if snap.DeviceCounts["device-1"] != 1 {
		t.Errorf("device not recorded: %v", snap.DeviceCounts)
	}
}

func TestScoreNotReady(t *testing.T) {
	cfg := domain.DefaultEnsembleConfig()
	e, err := ensemble.New(cfg)
	if err != nil {
		t.Fatalf("ensemble.New: %v", err)
	}
	s, _ := newTestScorer(t, e, nil)

	if _, err := s.Score(context.Background(), &ScoreInput{Tx: testTx(50, 14)}); !errors.Is(err, domain.ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
}

func TestScoreDeterministicForSameInput(t *testing.T) {
	s, store := newTestScorer(t, fixedEnsemble(t, 0.4), nil)
	store.Observe("user-1", 80, nil, "device-1")

	a, err := s.Score(context.Background(), &ScoreInput{Tx: testTx(50, 14)})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	b, err := s.Score(context.Background(), &ScoreInput{Tx: testTx(50, 14)})
	if err != nil {
		t.Fatalf("score: %v", err)
	}

	if a.RiskScore != b.RiskScore || a.Confidence != b.Confidence || a.IsFraud != b.IsFraud {
		t.Errorf("same input diverged: %+v vs %+v", a, b)
	}
	if a.ID == b.ID {
		t.Error("prediction IDs must be unique per call")
	}
}

func TestScoreAppliesPolicyOverride(t *testing.T) {
	pol, err := policy.NewEngine()
	if err != nil {
		t.Fatalf("policy engine: %v", err)
	}
	if err := pol.LoadPolicy(&domain.PolicyConfig{
		ID:         "pol-retail-review",
		Expression: `category == "online_retail" && amount > 10.0`,
		Action:     domain.ActionReview,
		Reason:     "manual retail review",
		Enabled:    true,
	}); err != nil {
		t.Fatalf("load policy: %v", err)
	}

	s, _ := newTestScorer(t, fixedEnsemble(t, 0.1), pol)
	pred, err := s.Score(context.Background(), &ScoreInput{Tx: testTx(50, 14)})
	if err != nil {
		t.Fatalf("score: %v", err)
	}

	if pred.Recommendation != domain.ActionReview {
		t.Errorf("recommendation = %s, want policy-escalated REVIEW", pred.Recommendation)
	}
	if pred.Tier != domain.TierLow {
		t.Errorf("policy must not change the tier, got %s", pred.Tier)
	}
	if len(pred.PolicyResults) != 1 || !pred.PolicyResults[0].Matched {
		t.Errorf("policy results = %+v", pred.PolicyResults)
	}
}

func TestBuildTransaction(t *testing.T) {
	if _, err := BuildTransaction("t1", nil); err == nil {
		t.Error("nil request accepted")
	}
	if _, err := BuildTransaction("t1", &domain.TransactionRequest{Amount: 10}); err == nil {
		t.Error("missing user accepted")
	}
	if _, err := BuildTransaction("t1", &domain.TransactionRequest{UserID: "u", Amount: -1}); err == nil {
		t.Error("negative amount accepted")
	}

	tx, err := BuildTransaction("t1", &domain.TransactionRequest{UserID: "u", Amount: 10})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if tx.ID == "" {
		t.Error("missing transaction id not assigned")
	}
	if tx.TenantID != "t1" {
		t.Errorf("tenant = %q", tx.TenantID)
	}
	if tx.Timestamp.IsZero() || tx.AccountCreated.IsZero() {
		t.Error("temporal defaults not applied")
	}

	tx2, _ := BuildTransaction("t1", &domain.TransactionRequest{TransactionID: "given", UserID: "u", Amount: 10})
	if tx2.ID != "given" {
		t.Errorf("caller-provided id replaced with %q", tx2.ID)
	}
}
