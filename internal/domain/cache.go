package domain

import (
	"context"
	"time"
)

// Cache backs idempotent prediction replay and velocity count lookups.
// The Community tier uses an in-process LRU, the Pro tier Redis, with an
// optional two-phase combination (local first, then Redis). Every call
// is scoped to a tenant.
type Cache interface {
	// Get returns the value for key, or nil, nil on a miss.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value under key for the given TTL.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete drops key from the cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetPrediction returns the cached prediction for a transaction id,
	// or nil, nil when none is cached.
	GetPrediction(ctx context.Context, tenantID string, txID string) (*PredictionResult, error)

	// SetPrediction caches a prediction so a retried transaction replays
	// the original result instead of being rescored.
	SetPrediction(ctx context.Context, tenantID string, txID string, pred *PredictionResult, ttl time.Duration) error

	// IncrementCounter bumps a windowed counter and returns the new
	// value. The counter expires with the window.
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig selects and tunes the cache implementation.
type CacheConfig struct {
	// Type is "memory" (Community) or "redis" (Pro).
	Type string

	// In-process LRU settings.
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier).
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// EnableTwoPhase checks the local LRU before Redis.
	EnableTwoPhase bool
}
