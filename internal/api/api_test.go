package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/opensource-finance/shrike/internal/bus"
	"github.com/opensource-finance/shrike/internal/cache"
	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/ensemble"
	"github.com/opensource-finance/shrike/internal/feature"
	"github.com/opensource-finance/shrike/internal/model"
	"github.com/opensource-finance/shrike/internal/policy"
	"github.com/opensource-finance/shrike/internal/profile"
	"github.com/opensource-finance/shrike/internal/repository"
	"github.com/opensource-finance/shrike/internal/scoring"
)

// stubClassifier returns a fixed probability regardless of input.
type stubClassifier struct {
	prob float64
}

func (s *stubClassifier) Fit(ctx context.Context, X [][]float64, y []int) error { return nil }
func (s *stubClassifier) Score(x []float64) (float64, error)                    { return s.prob, nil }
func (s *stubClassifier) Type() string                                          { return "Stub" }
func (s *stubClassifier) MarshalParams() ([]byte, error)                        { return []byte("{}"), nil }
func (s *stubClassifier) UnmarshalParams(data []byte) error                     { return nil }

// identityScaler returns a scaler fitted so Transform is a no-op.
func identityScaler(t *testing.T) *model.StandardScaler {
	t.Helper()
	scaler := model.NewStandardScaler()
	zero := make([]float64, feature.Dim)
	if err := scaler.Fit([][]float64{zero, append([]float64(nil), zero...)}); err != nil {
		t.Fatalf("scaler fit failed: %v", err)
	}
	return scaler
}

// createTestServer wires a full server with an installed stub bundle
// whose four classifiers all report prob.
func createTestServer(t *testing.T, prob float64) *Server {
	t.Helper()

	cfg := domain.DefaultConfig()

	ens, err := ensemble.New(cfg.Ensemble)
	if err != nil {
		t.Fatalf("ensemble.New failed: %v", err)
	}

	members := make([]ensemble.Member, 0, len(cfg.Ensemble.Models))
	for _, m := range cfg.Ensemble.Models {
		members = append(members, ensemble.Member{
			ID:         m.ID,
			Weight:     m.Weight,
			Classifier: &stubClassifier{prob: prob},
		})
	}
	if err := ens.Install(&ensemble.Bundle{
		Version: "api-test",
		Members: members,
		Scaler:  identityScaler(t),
	}); err != nil {
		t.Fatalf("install failed: %v", err)
	}

	store := profile.NewStore(8)
	extractor, err := feature.NewExtractor(cfg.Features, nil, store)
	if err != nil {
		t.Fatalf("NewExtractor failed: %v", err)
	}

	risk, err := scoring.NewRiskClassifier(cfg.Risk)
	if err != nil {
		t.Fatalf("NewRiskClassifier failed: %v", err)
	}

	engine, err := policy.NewEngine()
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api-test.db"),
	})
	if err != nil {
		t.Fatalf("repository.New failed: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	scorer, err := scoring.NewScorer(scoring.Config{
		Extractor:  extractor,
		Ensemble:   ens,
		Risk:       risk,
		Policies:   engine,
		Profiles:   store,
		Repository: repo,
	})
	if err != nil {
		t.Fatalf("NewScorer failed: %v", err)
	}

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	return NewServer(cfg.Server, Deps{
		Repository: repo,
		Cache:      cache.NewLRUCache(100),
		Bus:        eventBus,
		Scorer:     scorer,
		Ensemble:   ens,
		Policies:   engine,
		Models:     cfg.Models,
		Version:    "test-v1",
	})
}

func predictBody(t *testing.T, req domain.TransactionRequest) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return bytes.NewBuffer(body)
}

func TestPredictEndpoint(t *testing.T) {
	server := createTestServer(t, 0.1)

	t.Run("SuccessfulPrediction", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/predict", predictBody(t, domain.TransactionRequest{
			UserID:     "user-001",
			MerchantID: "merchant-001",
			Amount:     150.0,
			Currency:   "USD",
		}))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp domain.PredictionResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.PredictionID == "" {
			t.Error("expected predictionId in response")
		}
		if resp.TxID == "" {
			t.Error("expected txId in response")
		}
		if resp.Tier != domain.TierLow {
			t.Errorf("expected tier LOW, got %s", resp.Tier)
		}
		if resp.Recommendation != domain.ActionApprove {
			t.Errorf("expected APPROVE, got %s", resp.Recommendation)
		}
		if len(resp.Contributions) != 4 {
			t.Errorf("expected 4 contributions, got %d", len(resp.Contributions))
		}
		if resp.Metadata.EngineVersion != scoring.EngineVersion {
			t.Errorf("unexpected engine version %s", resp.Metadata.EngineVersion)
		}
		if resp.Metadata.BundleVersion != "api-test" {
			t.Errorf("unexpected bundle version %s", resp.Metadata.BundleVersion)
		}
		if resp.Metadata.TraceID == "" {
			t.Error("expected traceId in metadata")
		}
	})

	t.Run("HighRiskBlocked", func(t *testing.T) {
		blockServer := createTestServer(t, 0.95)

		req := httptest.NewRequest(http.MethodPost, "/predict", predictBody(t, domain.TransactionRequest{
			UserID: "user-002",
			Amount: 9000.0,
		}))
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		blockServer.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp domain.PredictionResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Tier != domain.TierCritical {
			t.Errorf("expected tier CRITICAL, got %s", resp.Tier)
		}
		if resp.Recommendation != domain.ActionBlock {
			t.Errorf("expected BLOCK, got %s", resp.Recommendation)
		}
		if !resp.IsFraud {
			t.Error("expected isFraud true")
		}
	})

	t.Run("IdempotentReplay", func(t *testing.T) {
		body := domain.TransactionRequest{
			TransactionID: "tx-replay-001",
			UserID:        "user-003",
			Amount:        42.0,
		}

		first := httptest.NewRequest(http.MethodPost, "/predict", predictBody(t, body))
		first.Header.Set("X-Tenant-ID", "tenant-001")
		rr1 := httptest.NewRecorder()
		server.Router().ServeHTTP(rr1, first)

		second := httptest.NewRequest(http.MethodPost, "/predict", predictBody(t, body))
		second.Header.Set("X-Tenant-ID", "tenant-001")
		rr2 := httptest.NewRecorder()
		server.Router().ServeHTTP(rr2, second)

		var resp1, resp2 domain.PredictionResponse
		json.Unmarshal(rr1.Body.Bytes(), &resp1)
		json.Unmarshal(rr2.Body.Bytes(), &resp2)

		if resp1.PredictionID == "" || resp1.PredictionID != resp2.PredictionID {
			t.Errorf("expected cached replay to return the same prediction, got %q and %q",
				resp1.PredictionID, resp2.PredictionID)
		}
	})

	t.Run("MissingTenantID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewBufferString("{}"))
		// No X-Tenant-ID header

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewBufferString("not-json"))
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingUserID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/predict", predictBody(t, domain.TransactionRequest{
			Amount: 100,
		}))
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("NegativeAmount", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/predict", predictBody(t, domain.TransactionRequest{
			UserID: "user-001",
			Amount: -5,
		}))
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/predict", predictBody(t, domain.TransactionRequest{
			UserID: "user-001",
			Amount: 100,
		}))
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestPredictBatchEndpoint(t *testing.T) {
	server := createTestServer(t, 0.1)

	reqs := []domain.TransactionRequest{
		{UserID: "user-a", Amount: 100},
		{UserID: "", Amount: 50}, // invalid: missing user
		{UserID: "user-b", Amount: 200},
	}
	body, _ := json.Marshal(reqs)

	req := httptest.NewRequest(http.MethodPost, "/predict/batch", bytes.NewBuffer(body))
	req.Header.Set("X-Tenant-ID", "tenant-001")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp BatchResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp.Count != 3 {
		t.Errorf("expected 3 results, got %d", resp.Count)
	}
	if resp.Failed != 1 {
		t.Errorf("expected 1 failure, got %d", resp.Failed)
	}
	if resp.Results[0].Prediction == nil || resp.Results[2].Prediction == nil {
		t.Error("expected predictions for valid items")
	}
	if resp.Results[1].Error == "" {
		t.Error("expected error for invalid item")
	}

	t.Run("EmptyBatch", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/predict/batch", bytes.NewBufferString("[]"))
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestGetPredictionEndpoint(t *testing.T) {
	server := createTestServer(t, 0.1)

	// Score a transaction first
	req := httptest.NewRequest(http.MethodPost, "/predict", predictBody(t, domain.TransactionRequest{
		UserID: "user-001",
		Amount: 100,
	}))
	req.Header.Set("X-Tenant-ID", "tenant-001")
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	var scored domain.PredictionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &scored); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	t.Run("Found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/predictions/"+scored.PredictionID, nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var pred domain.PredictionResult
		if err := json.Unmarshal(rr.Body.Bytes(), &pred); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if pred.ID != scored.PredictionID {
			t.Errorf("expected id %s, got %s", scored.PredictionID, pred.ID)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/predictions/nonexistent", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("TenantCannotReadOtherTenant", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/predictions/"+scored.PredictionID, nil)
		req.Header.Set("X-Tenant-ID", "tenant-002")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404 for foreign tenant, got %d", rr.Code)
		}
	})
}

func TestModelEndpoints(t *testing.T) {
	server := createTestServer(t, 0.1)

	t.Run("ModelsInfo", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/models/info", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var info struct {
			Loaded        bool               `json:"loaded"`
			BundleVersion string             `json:"bundleVersion"`
			Models        []domain.ModelInfo `json:"models"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &info); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if !info.Loaded {
			t.Error("expected loaded bundle")
		}
		if info.BundleVersion != "api-test" {
			t.Errorf("expected bundle version api-test, got %s", info.BundleVersion)
		}
		if len(info.Models) != 4 {
			t.Errorf("expected 4 models, got %d", len(info.Models))
		}
	})

	t.Run("ReloadRequiresVersion", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/models/reload", bytes.NewBufferString("{}"))
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ReloadUnknownVersion", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/models/reload", bytes.NewBufferString(`{"version":"missing"}`))
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Features", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/features", nil)
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Features []string `json:"features"`
			Count    int      `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count != feature.Dim {
			t.Errorf("expected %d features, got %d", feature.Dim, resp.Count)
		}
		if len(resp.Features) == 0 || resp.Features[0] != "amount_normalized" {
			t.Errorf("unexpected feature layout: %v", resp.Features)
		}
	})
}

func TestPolicyEndpoints(t *testing.T) {
	server := createTestServer(t, 0.1)
	tenant := "tenant-001"

	createPolicy := func(t *testing.T, body string) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost, "/policies", bytes.NewBufferString(body))
		req.Header.Set("X-Tenant-ID", tenant)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		return rr
	}

	t.Run("CreateAndReload", func(t *testing.T) {
		rr := createPolicy(t, `{
			"id": "pol-amount",
			"name": "Review any amount",
			"expression": "amount > 10.0",
			"action": "REVIEW",
			"reason": "manual review threshold",
			"enabled": true
		}`)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		req := httptest.NewRequest(http.MethodPost, "/policies/reload", nil)
		req.Header.Set("X-Tenant-ID", tenant)
		rr = httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("reload failed: %d %s", rr.Code, rr.Body.String())
		}

		// List should now contain the policy
		req = httptest.NewRequest(http.MethodGet, "/policies", nil)
		req.Header.Set("X-Tenant-ID", tenant)
		rr = httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		var list struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &list)
		if list.Count != 1 {
			t.Errorf("expected 1 loaded policy, got %d", list.Count)
		}
	})

	t.Run("PolicyEscalatesPrediction", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/predict", predictBody(t, domain.TransactionRequest{
			UserID: "user-esc",
			Amount: 100,
		}))
		req.Header.Set("X-Tenant-ID", tenant)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		var resp domain.PredictionResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		// Score stays low but the matching policy escalates the action.
		if resp.Tier != domain.TierLow {
			t.Errorf("expected tier LOW, got %s", resp.Tier)
		}
		if resp.Recommendation != domain.ActionReview {
			t.Errorf("expected REVIEW after policy escalation, got %s", resp.Recommendation)
		}
	})

	t.Run("GetPolicy", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/policies/pol-amount", nil)
		req.Header.Set("X-Tenant-ID", tenant)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var pol domain.PolicyConfig
		if err := json.Unmarshal(rr.Body.Bytes(), &pol); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if pol.ID != "pol-amount" {
			t.Errorf("expected pol-amount, got %s", pol.ID)
		}
	})

	t.Run("RejectsInvalidExpression", func(t *testing.T) {
		rr := createPolicy(t, `{
			"id": "pol-bad",
			"name": "Broken",
			"expression": "amount >",
			"action": "REVIEW",
			"enabled": true
		}`)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("RejectsApproveAction", func(t *testing.T) {
		rr := createPolicy(t, `{
			"id": "pol-approve",
			"name": "Cannot lower",
			"expression": "amount > 0.0",
			"action": "APPROVE",
			"enabled": true
		}`)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("DeleteReloadsEngine", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/policies/pol-amount", nil)
		req.Header.Set("X-Tenant-ID", tenant)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("delete failed: %d %s", rr.Code, rr.Body.String())
		}

		req = httptest.NewRequest(http.MethodGet, "/policies", nil)
		req.Header.Set("X-Tenant-ID", tenant)
		rr = httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		var list struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &list)
		if list.Count != 0 {
			t.Errorf("expected 0 loaded policies after delete, got %d", list.Count)
		}
	})
}

func TestHealthEndpoints(t *testing.T) {
	server := createTestServer(t, 0.1)

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyWithBundle", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("NotReadyWithoutBundle", func(t *testing.T) {
		ens, err := ensemble.New(domain.DefaultEnsembleConfig())
		if err != nil {
			t.Fatalf("ensemble.New failed: %v", err)
		}

		bare := NewServer(domain.DefaultConfig().Server, Deps{
			Ensemble: ens,
			Version:  "test-v1",
		})

		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		rr := httptest.NewRecorder()
		bare.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TenantMiddlewareExtractsID", func(t *testing.T) {
		var capturedTenantID string

		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedTenantID = GetTenantID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Tenant-ID", "my-tenant-123")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedTenantID != "my-tenant-123" {
			t.Errorf("expected tenant ID 'my-tenant-123', got '%s'", capturedTenantID)
		}
	})

	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
