// Package policy provides the CEL-based action override engine.
//
// Policies run after scoring. Each policy is a boolean CEL expression
// over the prediction output; a matching policy can escalate the
// recommended action (APPROVE -> REVIEW -> BLOCK) but never lowers it
// below what the score produced.
package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/opensource-finance/shrike/internal/domain"
)

// Engine compiles and evaluates action override policies.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*compiledPolicy
}

type compiledPolicy struct {
	config  *domain.PolicyConfig
	program cel.Program
}

// NewEngine creates an engine with the prediction variable set.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("risk_score", cel.DoubleType),
		cel.Variable("confidence", cel.DoubleType),
		cel.Variable("is_fraud", cel.BoolType),
		cel.Variable("tier", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("mcc_code", cel.StringType),
		cel.Variable("category", cel.StringType),
		cel.Variable("user_id", cel.StringType),
		cel.Variable("merchant_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		compiled: make(map[string]*compiledPolicy),
	}, nil
}

// ValidatePolicy compiles a policy without loading it.
func (e *Engine) ValidatePolicy(cfg *domain.PolicyConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: policy config is required", domain.ErrInvalidInput)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compile(cfg)
	return err
}

// LoadPolicy compiles and loads one policy.
func (e *Engine) LoadPolicy(cfg *domain.PolicyConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compile(cfg)
	if err != nil {
		return err
	}
	e.compiled[cfg.ID] = compiled
	return nil
}

// LoadPolicies loads every enabled policy from the list.
func (e *Engine) LoadPolicies(configs []*domain.PolicyConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadPolicy(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadPolicies atomically replaces the loaded set with the enabled
// policies from configs. A compile failure leaves the current set
// untouched.
func (e *Engine) ReloadPolicies(configs []*domain.PolicyConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*compiledPolicy)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compile(cfg)
		if err != nil {
			return err
		}
		next[cfg.ID] = compiled
	}

	e.compiled = next
	return nil
}

// PoliciesCount returns the number of loaded policies.
func (e *Engine) PoliciesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// LoadedPolicies returns the loaded policy configurations.
func (e *Engine) LoadedPolicies() []*domain.PolicyConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.PolicyConfig, 0, len(e.compiled))
	for _, cp := range e.compiled {
		out = append(out, cp.config)
	}
	return out
}

// Apply evaluates every loaded policy against the prediction and
// escalates its recommendation in place. Policies run in ID order so
// recorded results are deterministic. An evaluation error disables
// that policy for the request and is recorded in its result; it never
// fails the prediction.
func (e *Engine) Apply(ctx context.Context, tx *domain.Transaction, pred *domain.PredictionResult) []domain.PolicyResult {
	e.mu.RLock()
	policies := make([]*compiledPolicy, 0, len(e.compiled))
	for _, cp := range e.compiled {
		policies = append(policies, cp)
	}
	e.mu.RUnlock()

	if len(policies) == 0 {
		return nil
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].config.ID < policies[j].config.ID })

	activation := map[string]any{
		"risk_score":  pred.RiskScore,
		"confidence":  pred.Confidence,
		"is_fraud":    pred.IsFraud,
		"tier":        string(pred.Tier),
		"amount":      tx.Amount,
		"currency":    tx.Currency,
		"mcc_code":    tx.MCCCode,
		"category":    tx.MerchantCategory,
		"user_id":     tx.UserID,
		"merchant_id": tx.MerchantID,
	}

	results := make([]domain.PolicyResult, 0, len(policies))
	for _, cp := range policies {
		result := domain.PolicyResult{PolicyID: cp.config.ID}

		out, _, err := cp.program.ContextEval(ctx, activation)
		if err != nil {
			result.Reason = fmt.Sprintf("evaluation error: %v", err)
			results = append(results, result)
			continue
		}

		matched, ok := out.Value().(bool)
		if !ok {
			result.Reason = fmt.Sprintf("expression returned %T, want bool", out.Value())
			results = append(results, result)
			continue
		}

		result.Matched = matched
		if matched {
			result.Action = cp.config.Action
			result.Reason = cp.config.Reason
			if actionRank(cp.config.Action) > actionRank(pred.Recommendation) {
				pred.Recommendation = cp.config.Action
			}
		}
		results = append(results, result)
	}

	pred.PolicyResults = results
	return results
}

func actionRank(a domain.Action) int {
	switch a {
	case domain.ActionBlock:
		return 2
	case domain.ActionReview:
		return 1
	default:
		return 0
	}
}

func (e *Engine) compile(cfg *domain.PolicyConfig) (*compiledPolicy, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("%w: policy id is required", domain.ErrInvalidInput)
	}
	if cfg.Action != domain.ActionReview && cfg.Action != domain.ActionBlock {
		return nil, fmt.Errorf("%w: policy %s: action must be REVIEW or BLOCK, got %q", domain.ErrInvalidInput, cfg.ID, cfg.Action)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile policy %s: %w", cfg.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("policy %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for policy %s: %w", cfg.ID, err)
	}

	return &compiledPolicy{config: cfg, program: program}, nil
}
