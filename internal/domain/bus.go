package domain

import (
	"context"
)

// Topics published by the scoring pipeline. Ingested transactions flow
// in, predictions and alerts flow out; the async worker bridges the two.
const (
	TopicTransactionIngested = "shrike.transaction.ingested"
	TopicPredictionCompleted = "shrike.prediction.completed"
	TopicFraudAlert          = "shrike.fraud.alert"
)

// EventBus moves scoring events between components. The Community tier
// runs on in-process channels, the Pro tier on NATS. Every call is
// scoped to a tenant; a subscriber never sees another tenant's traffic.
type EventBus interface {
	// Publish sends a payload to all subscribers of the tenant's topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for the tenant's topic. The returned
	// Subscription detaches the handler.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Request publishes and blocks for a single reply.
	Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler consumes one delivered message. Returning an error is
// informational only; the bus does not redeliver.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is one event on the bus.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription is a live handler registration.
type Subscription interface {
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig selects and tunes the bus implementation.
type EventBusConfig struct {
	// Type is "channel" (Community) or "nats" (Pro).
	Type string

	// ChannelBufferSize bounds the in-process delivery queue.
	ChannelBufferSize int

	// NATS connection settings (Pro tier).
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}
