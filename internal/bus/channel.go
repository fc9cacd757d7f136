// Package bus provides the event bus implementations for Shrike.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/shrike/internal/domain"
)

// requestTimeout bounds Request when the caller's context has no deadline.
const requestTimeout = 30 * time.Second

// ChannelBus is the Community tier event bus. Delivery is in-process:
// each subscription owns a buffered inbox drained by its own goroutine,
// and a publish that finds a full inbox drops the message for that
// subscriber rather than blocking the scoring path.
type ChannelBus struct {
	mu     sync.RWMutex
	subs   map[string][]*chanSub
	buffer int
	closed bool
}

type chanSub struct {
	id      string
	topic   string
	inbox   chan *domain.Message
	handler domain.MessageHandler
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewChannelBus creates an in-process bus. bufferSize is the per-subscriber
// inbox depth; values <= 0 fall back to 1000.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		subs:   make(map[string][]*chanSub),
		buffer: bufferSize,
	}
}

// subKey scopes a topic to a tenant so tenants never share subscribers.
func subKey(tenantID, topic string) string {
	return tenantID + ":" + topic
}

// Publish delivers the payload to every subscriber of the tenant's topic.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}
	targets := b.subs[subKey(tenantID, topic)]
	b.mu.RUnlock()

	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}

	for _, sub := range targets {
		select {
		case sub.inbox <- msg:
		default:
			// Subscriber is not keeping up; drop rather than block.
		}
	}
	return nil
}

// Subscribe attaches a handler to the tenant's topic and starts draining
// its inbox.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &chanSub{
		id:      uuid.New().String(),
		topic:   topic,
		inbox:   make(chan *domain.Message, b.buffer),
		handler: handler,
		ctx:     subCtx,
		cancel:  cancel,
	}
	go sub.run()

	key := subKey(tenantID, topic)
	b.subs[key] = append(b.subs[key], sub)
	return sub, nil
}

// Request publishes and waits for a single message on a per-request
// reply topic.
func (b *ChannelBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	replyCh := make(chan []byte, 1)
	replyTopic := topic + ".reply." + uuid.New().String()

	sub, err := b.Subscribe(ctx, tenantID, replyTopic, func(ctx context.Context, msg *domain.Message) error {
		select {
		case replyCh <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	if err := b.Publish(ctx, tenantID, topic, payload); err != nil {
		return nil, err
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(requestTimeout):
		return nil, fmt.Errorf("request timeout")
	}
}

// Ping reports whether the bus can still accept traffic.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close stops every subscriber goroutine and rejects further use.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.cancel()
			close(sub.inbox)
		}
	}
	b.subs = make(map[string][]*chanSub)
	return nil
}

// run drains the inbox until the subscription is cancelled. Handler
// errors are the handler's problem; the bus does not redeliver.
func (s *chanSub) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.inbox:
			if msg != nil {
				_ = s.handler(s.ctx, msg)
			}
		}
	}
}

// Unsubscribe stops the inbox goroutine.
func (s *chanSub) Unsubscribe() error {
	s.cancel()
	return nil
}

// Topic returns the subscribed topic.
func (s *chanSub) Topic() string {
	return s.topic
}
