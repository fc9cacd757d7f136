package domain

import "time"

// PolicyConfig defines a post-scoring action override policy.
// Policies are CEL expressions evaluated over the prediction output
// (risk_score, confidence, amount, mcc_code, ...); a matching policy can
// escalate the recommended action but never lower it below the tier the
// score produced.
type PolicyConfig struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression; must evaluate to bool.
	Expression string `json:"expression"`

	// Action applied when the expression matches.
	Action Action `json:"action"`

	// Reason recorded on the prediction when the policy matches.
	Reason string `json:"reason"`

	// Whether policy is active
	Enabled bool `json:"enabled"`

	// Audit timestamps
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// PolicyResult is the outcome of evaluating one policy against a
// prediction.
type PolicyResult struct {
	PolicyID string `json:"policyId"`
	Matched  bool   `json:"matched"`
	Action   Action `json:"action,omitempty"`
	Reason   string `json:"reason,omitempty"`
}
