package domain

import (
	"time"
)

// RiskTier is a named risk band derived from the risk score.
type RiskTier string

const (
	TierLow      RiskTier = "LOW"
	TierMedium   RiskTier = "MEDIUM"
	TierHigh     RiskTier = "HIGH"
	TierCritical RiskTier = "CRITICAL"
)

// Action is the recommended disposition for a transaction.
type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionReview  Action = "REVIEW"
	ActionBlock   Action = "BLOCK"
)

// PredictionResult is the complete scoring result for a transaction.
//
// IsFraud blends weighted per-model votes while RiskScore blends weighted
// per-model probabilities. The two are computed independently and may
// disagree; callers must not assume IsFraud <=> RiskScore > 0.5.
type PredictionResult struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	TxID     string `json:"txId"`

	IsFraud    bool    `json:"isFraud"`
	RiskScore  float64 `json:"riskScore"`  // [0,1]
	Confidence float64 `json:"confidence"` // [0,1], inter-model agreement

	Tier           RiskTier `json:"tier"`
	Recommendation Action   `json:"recommendation"`

	// Per-model breakdown for audit and explainability consumers.
	Contributions []ModelContribution `json:"contributions,omitempty"`

	// Policy overrides applied after scoring, if any.
	PolicyResults []PolicyResult `json:"policyResults,omitempty"`

	Timestamp time.Time          `json:"timestamp"`
	Metadata  PredictionMetadata `json:"metadata"`
}

// ModelContribution shows how a single classifier contributed to the score.
type ModelContribution struct {
	ModelID      string  `json:"modelId"`
	Probability  float64 `json:"probability"`  // per-model fraud probability
	Weight       float64 `json:"weight"`       // static ensemble weight
	Contribution float64 `json:"contribution"` // probability * weight
}

// PredictionMetadata contains processing information.
type PredictionMetadata struct {
	TraceID         string `json:"traceId"`
	ExtractMs       int64  `json:"extractMs"`
	ScoreMs         int64  `json:"scoreMs"`
	TotalMs         int64  `json:"totalMs"`
	ModelsEvaluated int    `json:"modelsEvaluated"`
	BundleVersion   string `json:"bundleVersion"`
	EngineVersion   string `json:"engineVersion"`
}

// PredictionResponse is the API response for a scoring request.
type PredictionResponse struct {
	PredictionID   string              `json:"predictionId"`
	TxID           string              `json:"txId"`
	TenantID       string              `json:"tenantId"`
	IsFraud        bool                `json:"isFraud"`
	RiskScore      float64             `json:"riskScore"`
	Confidence     float64             `json:"confidence"`
	Tier           RiskTier            `json:"tier"`
	Recommendation Action              `json:"recommendation"`
	Contributions  []ModelContribution `json:"contributions,omitempty"`
	Metadata       PredictionMetadata  `json:"metadata"`
}

// ToResponse converts a PredictionResult to an API response.
func (p *PredictionResult) ToResponse() *PredictionResponse {
	return &PredictionResponse{
		PredictionID:   p.ID,
		TxID:           p.TxID,
		TenantID:       p.TenantID,
		IsFraud:        p.IsFraud,
		RiskScore:      p.RiskScore,
		Confidence:     p.Confidence,
		Tier:           p.Tier,
		Recommendation: p.Recommendation,
		Contributions:  p.Contributions,
		Metadata:       p.Metadata,
	}
}

// ModelInfo describes one registered classifier.
type ModelInfo struct {
	ModelID string  `json:"modelId"`
	Type    string  `json:"type"`
	Weight  float64 `json:"weight"`
}
