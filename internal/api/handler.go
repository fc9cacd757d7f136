package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/ensemble"
	"github.com/opensource-finance/shrike/internal/feature"
	"github.com/opensource-finance/shrike/internal/policy"
	"github.com/opensource-finance/shrike/internal/scoring"
)

// GlobalTenantID is used for policies that apply to all tenants.
const GlobalTenantID = "*"

// predictionCacheTTL bounds how long an idempotent replay can be served
// from cache instead of rescoring.
const predictionCacheTTL = 5 * time.Minute

// maxBatchSize caps the number of transactions per batch request.
const maxBatchSize = 100

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	scorer   *scoring.Scorer
	ensemble *ensemble.Ensemble
	policies *policy.Engine
	models   domain.ModelsConfig
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		repo:     deps.Repository,
		cache:    deps.Cache,
		bus:      deps.Bus,
		scorer:   deps.Scorer,
		ensemble: deps.Ensemble,
		policies: deps.Policies,
		models:   deps.Models,
		version:  deps.Version,
	}
}

// Predict handles POST /predict requests: score one transaction and
// record it as an observation.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	tx, err := scoring.BuildTransaction(tenantID, &req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	// Idempotent replay: a client-supplied transaction ID that was
	// already scored returns the cached prediction.
	if h.cache != nil && req.TransactionID != "" {
		if cached, err := h.cache.GetPrediction(ctx, tenantID, tx.ID); err == nil && cached != nil {
			writeJSON(w, http.StatusOK, cached.ToResponse())
			return
		}
	}

	pred, err := h.scorer.Score(ctx, &scoring.ScoreInput{
		TraceID:   traceID,
		StartTime: start,
		Tx:        tx,
	})
	if err != nil {
		h.writeScoringError(w, err)
		return
	}

	// The scored transaction enters user history only after scoring,
	// so it never contributes to its own features.
	if err := h.scorer.Observe(ctx, tx); err != nil {
		slog.Error("failed to record observation", "tx_id", tx.ID, "error", err)
	}

	if h.repo != nil {
		if err := h.repo.SavePrediction(ctx, tenantID, pred); err != nil {
			slog.Error("failed to save prediction", "prediction_id", pred.ID, "error", err)
		}
	}

	if h.cache != nil {
		if err := h.cache.SetPrediction(ctx, tenantID, tx.ID, pred, predictionCacheTTL); err != nil {
			slog.Error("failed to cache prediction", "prediction_id", pred.ID, "error", err)
		}
	}

	h.publishEvents(r, tenantID, pred)

	writeJSON(w, http.StatusOK, pred.ToResponse())
}

// BatchResult is one entry of a batch prediction response. Either
// Prediction or Error is set, never both.
type BatchResult struct {
	Prediction *domain.PredictionResponse `json:"prediction,omitempty"`
	Error      string                     `json:"error,omitempty"`
}

// BatchResponse is the response for POST /predict/batch.
type BatchResponse struct {
	Results []BatchResult `json:"results"`
	Count   int           `json:"count"`
	Failed  int           `json:"failed"`
}

// PredictBatch handles POST /predict/batch requests. Transactions are
// scored in request order; a failed item does not abort the batch.
func (h *Handler) PredictBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var reqs []domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body, expected an array of transactions",
		})
		return
	}
	if len(reqs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "batch must contain at least one transaction",
		})
		return
	}
	if len(reqs) > maxBatchSize {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "batch exceeds maximum size",
		})
		return
	}

	resp := BatchResponse{Results: make([]BatchResult, 0, len(reqs))}
	for i := range reqs {
		itemStart := time.Now()

		tx, err := scoring.BuildTransaction(tenantID, &reqs[i])
		if err != nil {
			resp.Results = append(resp.Results, BatchResult{Error: err.Error()})
			resp.Failed++
			continue
		}

		pred, err := h.scorer.Score(ctx, &scoring.ScoreInput{
			TraceID:   traceID,
			StartTime: itemStart,
			Tx:        tx,
		})
		if err != nil {
			resp.Results = append(resp.Results, BatchResult{Error: err.Error()})
			resp.Failed++
			continue
		}

		if err := h.scorer.Observe(ctx, tx); err != nil {
			slog.Error("failed to record observation", "tx_id", tx.ID, "error", err)
		}
		if h.repo != nil {
			if err := h.repo.SavePrediction(ctx, tenantID, pred); err != nil {
				slog.Error("failed to save prediction", "prediction_id", pred.ID, "error", err)
			}
		}
		h.publishEvents(r, tenantID, pred)

		resp.Results = append(resp.Results, BatchResult{Prediction: pred.ToResponse()})
	}
	resp.Count = len(resp.Results)

	writeJSON(w, http.StatusOK, resp)
}

// publishEvents emits prediction-completed and fraud-alert events.
// Publishing is best effort; the prediction response never depends on it.
func (h *Handler) publishEvents(r *http.Request, tenantID string, pred *domain.PredictionResult) {
	if h.bus == nil {
		return
	}
	ctx := r.Context()

	payload, err := json.Marshal(pred)
	if err != nil {
		slog.Error("failed to marshal prediction event", "prediction_id", pred.ID, "error", err)
		return
	}

	if err := h.bus.Publish(ctx, tenantID, domain.TopicPredictionCompleted, payload); err != nil {
		slog.Error("failed to publish prediction event", "prediction_id", pred.ID, "error", err)
	}
	if pred.IsFraud {
		if err := h.bus.Publish(ctx, tenantID, domain.TopicFraudAlert, payload); err != nil {
			slog.Error("failed to publish fraud alert", "prediction_id", pred.ID, "error", err)
		}
	}
}

func (h *Handler) writeScoringError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotReady):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "no model bundle is loaded",
		})
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	default:
		slog.Error("scoring failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "scoring failed",
		})
	}
}

// GetPrediction retrieves a stored prediction by ID.
func (h *Handler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	predID := chi.URLParam(r, "id")

	if predID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "prediction id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	pred, err := h.repo.GetPrediction(ctx, tenantID, predID)
	if err != nil {
		slog.Error("failed to get prediction", "id", predID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "prediction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, pred)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server can score traffic. Readiness requires
// a loaded model bundle; there is no fallback scoring path.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.ensemble == nil || !h.ensemble.IsLoaded() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready":  "false",
			"reason": "no model bundle loaded",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"ready":         "true",
		"bundleVersion": h.ensemble.Version(),
	})
}

// ModelsInfo returns the registered classifiers and bundle state.
func (h *Handler) ModelsInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"loaded":        h.ensemble.IsLoaded(),
		"bundleVersion": h.ensemble.Version(),
		"models":        h.ensemble.ModelInfo(),
	}

	if h.models.Dir != "" {
		versions, err := ensemble.ListVersions(h.models.Dir)
		if err != nil {
			slog.Error("failed to list bundle versions", "dir", h.models.Dir, "error", err)
		} else {
			info["availableVersions"] = versions
		}
	}

	writeJSON(w, http.StatusOK, info)
}

// ReloadModelsRequest is the request body for POST /models/reload.
type ReloadModelsRequest struct {
	Version string `json:"version"`
}

// ReloadModels loads a persisted bundle version and swaps it in.
// In-flight predictions keep the bundle they started with.
func (h *Handler) ReloadModels(w http.ResponseWriter, r *http.Request) {
	var req ReloadModelsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Version == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "version is required",
		})
		return
	}

	bundle, err := ensemble.LoadBundle(h.models.Dir, req.Version, h.ensemble.Config())
	if err != nil {
		slog.Error("failed to load model bundle", "version", req.Version, "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "failed to load bundle: " + err.Error(),
		})
		return
	}

	if err := h.ensemble.Install(bundle); err != nil {
		slog.Error("failed to install model bundle", "version", req.Version, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to install bundle: " + err.Error(),
		})
		return
	}

	slog.Info("model bundle reloaded", "version", req.Version)
	writeJSON(w, http.StatusOK, map[string]string{
		"message":       "bundle loaded",
		"bundleVersion": req.Version,
	})
}

// ListFeatures returns the feature vector layout in extraction order.
func (h *Handler) ListFeatures(w http.ResponseWriter, r *http.Request) {
	names := feature.Names()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"features": names,
		"count":    len(names),
	})
}

// ListPolicies returns all policies loaded in the engine.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	if h.policies == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "policy engine not available",
		})
		return
	}

	loaded := h.policies.LoadedPolicies()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"policies": loaded,
		"count":    len(loaded),
		"source":   "database",
	})
}

// GetPolicy retrieves a policy by ID from the loaded engine policies.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	policyID := chi.URLParam(r, "id")

	if policyID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "policy id is required",
		})
		return
	}

	if h.policies == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "policy engine not available",
		})
		return
	}

	for _, p := range h.policies.LoadedPolicies() {
		if p.ID == policyID {
			writeJSON(w, http.StatusOK, p)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "policy not found",
	})
}

// CreatePolicyRequest is the request body for creating a policy.
type CreatePolicyRequest struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Expression  string        `json:"expression"`
	Action      domain.Action `json:"action"`
	Reason      string        `json:"reason,omitempty"`
	Enabled     bool          `json:"enabled"`
}

// CreatePolicy validates and persists a policy. Policies are saved
// globally (tenant_id = "*") so they apply to all tenants. After saving,
// call POST /policies/reload to hot-reload into the engine.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	policyConfig := &domain.PolicyConfig{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Action:      req.Action,
		Reason:      req.Reason,
		Enabled:     req.Enabled,
	}

	// Validate the CEL expression and action before persisting.
	if h.policies != nil {
		if err := h.policies.ValidatePolicy(policyConfig); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid policy: " + err.Error(),
			})
			return
		}
	}

	if h.repo != nil {
		if err := h.repo.SavePolicy(ctx, GlobalTenantID, policyConfig); err != nil {
			slog.Error("failed to save policy", "id", policyConfig.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save policy",
			})
			return
		}
	}

	slog.Info("policy created", "id", policyConfig.ID, "name", policyConfig.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"policy":  policyConfig,
		"message": "Policy created. Call POST /policies/reload to apply changes.",
	})
}

// DeletePolicy disables a policy and auto-reloads the engine.
func (h *Handler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	policyID := chi.URLParam(r, "id")

	if policyID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "policy id is required",
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.DeletePolicy(ctx, GlobalTenantID, policyID); err != nil {
			slog.Error("failed to delete policy", "id", policyID, "error", err)
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "policy not found",
			})
			return
		}

		// Auto-reload the engine after delete
		if h.policies != nil {
			dbPolicies, err := h.repo.ListPolicies(ctx, GlobalTenantID)
			if err != nil {
				slog.Error("failed to reload policies after delete", "error", err)
			} else if err := h.policies.ReloadPolicies(dbPolicies); err != nil {
				slog.Error("failed to reload policies after delete", "error", err)
			} else {
				slog.Info("policies auto-reloaded after delete", "count", len(dbPolicies))
			}
		}
	}

	slog.Info("policy deleted", "id", policyID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Policy deleted and engine reloaded.",
	})
}

// ReloadPolicies reloads all policies from the database into the engine.
func (h *Handler) ReloadPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}
	if h.policies == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "policy engine not available",
		})
		return
	}

	dbPolicies, err := h.repo.ListPolicies(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list policies from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load policies from database",
		})
		return
	}

	if err := h.policies.ReloadPolicies(dbPolicies); err != nil {
		slog.Error("failed to reload policies into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload policies: " + err.Error(),
		})
		return
	}

	slog.Info("policies reloaded from database", "count", len(dbPolicies))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "policies reloaded successfully",
		"count":   len(dbPolicies),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
