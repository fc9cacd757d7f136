package ensemble

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/model"
)

// stubClassifier returns a fixed probability regardless of input, so
// the blending math can be checked exactly.
type stubClassifier struct {
	prob float64
}

func (s *stubClassifier) Fit(ctx context.Context, X [][]float64, y []int) error { return nil }
func (s *stubClassifier) Score(x []float64) (float64, error)                    { return s.prob, nil }
func (s *stubClassifier) Type() string                                          { return "Stub" }
func (s *stubClassifier) MarshalParams() ([]byte, error)                        { return []byte("{}"), nil }
func (s *stubClassifier) UnmarshalParams(data []byte) error                     { return nil }

// stubBundle builds an installable bundle with fixed per-model
// probabilities in default configuration order.
func stubBundle(t *testing.T, probs []float64) *Bundle {
	t.Helper()
	cfg := domain.DefaultEnsembleConfig()
	if len(probs) != len(cfg.Models) {
		t.Fatalf("need %d probs, got %d", len(cfg.Models), len(probs))
	}

	scaler := model.NewStandardScaler()
	if err := scaler.Fit([][]float64{{0, 0}, {2, 2}}); err != nil {
		t.Fatalf("fit scaler: %v", err)
	}

	members := make([]Member, len(cfg.Models))
	for i, mw := range cfg.Models {
		members[i] = Member{ID: mw.ID, Weight: mw.Weight, Classifier: &stubClassifier{prob: probs[i]}}
	}
	return &Bundle{Version: "test", Members: members, Scaler: scaler}
}

func newTestEnsemble(t *testing.T) *Ensemble {
	t.Helper()
	e, err := New(domain.DefaultEnsembleConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func trainingSet(n int, seed int64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	X := make([][]float64, 0, 2*n)
	y := make([]int, 0, 2*n)
	for i := 0; i < n; i++ {
		X = append(X, []float64{rng.NormFloat64()*0.2 - 1, rng.NormFloat64()*0.2 - 1})
		y = append(y, 0)
		X = append(X, []float64{rng.NormFloat64()*0.2 + 1, rng.NormFloat64()*0.2 + 1})
		y = append(y, 1)
	}
	return X, y
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  domain.EnsembleConfig
	}{
		{"empty", domain.EnsembleConfig{}},
		{"weights do not sum to one", domain.EnsembleConfig{Models: []domain.ModelWeight{
			{ID: "random_forest", Weight: 0.5},
			{ID: "linear_svm", Weight: 0.4},
		}}},
		{"duplicate id", domain.EnsembleConfig{Models: []domain.ModelWeight{
			{ID: "random_forest", Weight: 0.5},
			{ID: "random_forest", Weight: 0.5},
		}}},
		{"unknown model", domain.EnsembleConfig{Models: []domain.ModelWeight{
			{ID: "perceptron", Weight: 1.0},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected config rejection")
			}
		})
	}
}

func TestEvaluateNotReady(t *testing.T) {
	e := newTestEnsemble(t)
	if e.IsLoaded() {
		t.Error("fresh ensemble reports loaded")
	}
	if _, err := e.Evaluate([]float64{0, 0}); !errors.Is(err, domain.ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
	if e.ModelInfo() != nil {
		t.Error("ModelInfo should be nil before a bundle is installed")
	}
}

func TestVoteAndScoreBlending(t *testing.T) {
	e := newTestEnsemble(t)
	// Default order: random_forest .35, gradient_boosting .35,
	// logistic_regression .15, linear_svm .15.
	if err := e.Install(stubBundle(t, []float64{0.9, 0.9, 0.2, 0.2})); err != nil {
		t.Fatalf("install: %v", err)
	}

	ev, err := e.Evaluate([]float64{1, 1})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	// Votes: 0.35 + 0.35 = 0.70 > 0.5.
	if !ev.IsFraud {
		t.Error("majority-weight votes should flag fraud")
	}
	// Score: 0.35*0.9*2 + 0.15*0.2*2 = 0.69.
	if math.Abs(ev.RiskScore-0.69) > 1e-9 {
		t.Errorf("risk score = %f, want 0.69", ev.RiskScore)
	}
	// Variance of {.9,.9,.2,.2} is 0.1225; confidence 1 - 0.245.
	if math.Abs(ev.Confidence-0.755) > 1e-9 {
		t.Errorf("confidence = %f, want 0.755", ev.Confidence)
	}
	if len(ev.Contributions) != 4 {
		t.Fatalf("contributions = %d, want 4", len(ev.Contributions))
	}
	if c := ev.Contributions[0]; c.ModelID != "random_forest" || math.Abs(c.Contribution-0.315) > 1e-9 {
		t.Errorf("first contribution = %+v", c)
	}
}

func TestVotesAndScoreAreIndependent(t *testing.T) {
	e := newTestEnsemble(t)
	// Heavy models vote fraud barely, light models are confident clean:
	// votes 0.70 => fraud, score 0.35*0.51*2 + 0.15*0.05*2 = 0.372.
	if err := e.Install(stubBundle(t, []float64{0.51, 0.51, 0.05, 0.05})); err != nil {
		t.Fatalf("install: %v", err)
	}

	ev, err := e.Evaluate([]float64{1, 1})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !ev.IsFraud {
		t.Error("expected fraud verdict from weighted votes")
	}
	if ev.RiskScore >= 0.5 {
		t.Errorf("risk score %f should sit below 0.5 despite fraud verdict", ev.RiskScore)
	}
}

func TestBoundaryProbabilityCountsAsVote(t *testing.T) {
	e := newTestEnsemble(t)
	// Every model sits exactly on the 0.5 boundary; the boundary is
	// inclusive, so the full weight votes fraud.
	if err := e.Install(stubBundle(t, []float64{0.5, 0.5, 0.5, 0.5})); err != nil {
		t.Fatalf("install: %v", err)
	}

	ev, err := e.Evaluate([]float64{1, 1})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !ev.IsFraud {
		t.Error("models at exactly 0.5 should vote fraud")
	}

	// Just below the boundary no model votes.
	if err := e.Install(stubBundle(t, []float64{0.499, 0.499, 0.499, 0.499})); err != nil {
		t.Fatalf("install: %v", err)
	}
	ev, err = e.Evaluate([]float64{1, 1})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if ev.IsFraud {
		t.Error("models below 0.5 should not vote fraud")
	}
}

func TestConfidenceBounds(t *testing.T) {
	e := newTestEnsemble(t)

	if err := e.Install(stubBundle(t, []float64{0.9, 0.9, 0.9, 0.9})); err != nil {
		t.Fatalf("install: %v", err)
	}
	ev, _ := e.Evaluate([]float64{0, 0})
	if ev.Confidence != 1.0 {
		t.Errorf("unanimous models: confidence = %f, want 1.0", ev.Confidence)
	}

	// Maximum disagreement: variance 0.25, penalty saturates at 0.5.
	if err := e.Install(stubBundle(t, []float64{0, 1, 0, 1})); err != nil {
		t.Fatalf("install: %v", err)
	}
	ev, _ = e.Evaluate([]float64{0, 0})
	if ev.Confidence != 0.5 {
		t.Errorf("split models: confidence = %f, want 0.5", ev.Confidence)
	}
}

func TestRiskScoreClamped(t *testing.T) {
	e := newTestEnsemble(t)
	// A misbehaving model reporting >1 must not push the blend past 1.
	if err := e.Install(stubBundle(t, []float64{1.5, 1.5, 1.5, 1.5})); err != nil {
		t.Fatalf("install: %v", err)
	}
	ev, err := e.Evaluate([]float64{0, 0})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if ev.RiskScore != 1.0 {
		t.Errorf("risk score = %f, want clamp to 1.0", ev.RiskScore)
	}
}

func TestInstallValidation(t *testing.T) {
	e := newTestEnsemble(t)

	if err := e.Install(nil); err == nil {
		t.Error("nil bundle accepted")
	}

	b := stubBundle(t, []float64{0.5, 0.5, 0.5, 0.5})
	b.Scaler = model.NewStandardScaler()
	if err := e.Install(b); err == nil {
		t.Error("bundle with unfitted scaler accepted")
	}

	b = stubBundle(t, []float64{0.5, 0.5, 0.5, 0.5})
	b.Members = b.Members[:3]
	if err := e.Install(b); err == nil {
		t.Error("bundle missing a configured model accepted")
	}
}

func TestFitTrainsAndInstalls(t *testing.T) {
	e := newTestEnsemble(t)
	X, y := trainingSet(40, 13)

	b, err := e.Fit(context.Background(), X, y, "v1")
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if !e.IsLoaded() || e.Version() != "v1" {
		t.Fatalf("bundle not installed, version %q", e.Version())
	}
	if b.PCA == nil || !b.PCA.Fitted() {
		t.Error("fit should produce a fitted PCA artifact")
	}

	high, err := e.Evaluate([]float64{1, 1})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	low, err := e.Evaluate([]float64{-1, -1})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if high.RiskScore <= low.RiskScore {
		t.Errorf("fraud cluster scored %f, not above clean cluster %f", high.RiskScore, low.RiskScore)
	}
	if !high.IsFraud {
		t.Error("fraud cluster should be flagged")
	}
	if low.IsFraud {
		t.Error("clean cluster should not be flagged")
	}

	info := e.ModelInfo()
	if len(info) != 4 {
		t.Fatalf("model info entries = %d, want 4", len(info))
	}
	var weightSum float64
	for _, mi := range info {
		weightSum += mi.Weight
	}
	if math.Abs(weightSum-1.0) > domain.WeightSumTolerance {
		t.Errorf("installed weights sum to %f", weightSum)
	}
}

func TestEvaluateDimensionMismatch(t *testing.T) {
	e := newTestEnsemble(t)
	X, y := trainingSet(20, 3)
	if _, err := e.Fit(context.Background(), X, y, "v1"); err != nil {
		t.Fatalf("fit: %v", err)
	}
	if _, err := e.Evaluate([]float64{1}); err == nil {
		t.Error("expected dimension error")
	}
}
