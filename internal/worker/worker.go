// Package worker provides async transaction scoring for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/scoring"
)

// Worker scores transactions asynchronously from the EventBus.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	scorer *scoring.Scorer

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via wildcard if supported)
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, scorer *scoring.Scorer) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		scorer: scorer,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" tenant ID
	// In production, you'd want to subscribe with wildcards or JetStream
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts a worker for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicTransactionIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.processTransaction(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicTransactionIngested,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processTransaction(ctx, msg.TenantID, msg)
}

// TransactionMessage is the message payload for async scoring. It is a
// scoring request plus the routing fields the HTTP layer would normally
// carry in headers.
type TransactionMessage struct {
	TenantID string `json:"tenantId,omitempty"`
	TraceID  string `json:"traceId,omitempty"`

	domain.TransactionRequest
}

// processTransaction runs one transaction through the scoring pipeline.
func (w *Worker) processTransaction(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var txMsg TransactionMessage
	if err := json.Unmarshal(msg.Payload, &txMsg); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if txMsg.TenantID != "" {
		tenantID = txMsg.TenantID
	}

	traceID := txMsg.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("processing transaction",
		"tx_id", txMsg.TransactionID,
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	tx, err := scoring.BuildTransaction(tenantID, &txMsg.TransactionRequest)
	if err != nil {
		slog.Error("invalid transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	pred, err := w.scorer.Score(ctx, &scoring.ScoreInput{
		TraceID:   traceID,
		StartTime: start,
		Tx:        tx,
	})
	if err != nil {
		slog.Error("scoring failed",
			"tx_id", tx.ID,
			"error", err,
		)
		return err
	}

	if err := w.scorer.Observe(ctx, tx); err != nil {
		slog.Error("failed to record observation",
			"tx_id", tx.ID,
			"error", err,
		)
	}

	if w.repo != nil {
		if err := w.repo.SavePrediction(ctx, tenantID, pred); err != nil {
			slog.Error("failed to save prediction",
				"tx_id", tx.ID,
				"error", err,
			)
		}
	}

	// Publish the prediction, and a fraud alert when the vote flagged it.
	resultPayload, _ := json.Marshal(pred)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicPredictionCompleted, resultPayload); err != nil {
		slog.Error("failed to publish prediction",
			"tx_id", tx.ID,
			"error", err,
		)
	}

	if pred.IsFraud {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicFraudAlert, resultPayload); err != nil {
			slog.Error("failed to publish fraud alert",
				"tx_id", tx.ID,
				"error", err,
			)
		}
	}

	slog.Info("transaction processed",
		"tx_id", tx.ID,
		"tenant_id", tenantID,
		"risk_score", pred.RiskScore,
		"tier", pred.Tier,
		"recommendation", pred.Recommendation,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
