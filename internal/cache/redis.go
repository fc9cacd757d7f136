package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisCache is the Pro tier cache and the L2 of the two-phase cache.
// Keys are prefixed shrike:<tenant>: so multiple deployments can share
// one Redis without clashing.
type RedisCache struct {
	client *redis.Client
}

// counterScript increments and arms the window TTL in one atomic step,
// so a counter can never survive its window.
var counterScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

func redisKey(tenantID, key string) string {
	return "shrike:" + tenantID + ":" + key
}

// Get returns the value for key, or nil, nil on a miss.
func (c *RedisCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	val, err := c.client.Get(ctx, redisKey(tenantID, key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores the value for the given TTL.
func (c *RedisCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	return c.client.Set(ctx, redisKey(tenantID, key), value, ttl).Err()
}

// Delete drops the key.
func (c *RedisCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	return c.client.Del(ctx, redisKey(tenantID, key)).Err()
}

// GetPrediction returns the cached prediction for a transaction id, or
// nil, nil on a miss.
func (c *RedisCache) GetPrediction(ctx context.Context, tenantID string, txID string) (*domain.PredictionResult, error) {
	data, err := c.Get(ctx, tenantID, predKeyPrefix+txID)
	if err != nil || data == nil {
		return nil, err
	}

	var pred domain.PredictionResult
	if err := json.Unmarshal(data, &pred); err != nil {
		return nil, err
	}
	return &pred, nil
}

// SetPrediction caches a prediction for idempotent replay.
func (c *RedisCache) SetPrediction(ctx context.Context, tenantID string, txID string, pred *domain.PredictionResult, ttl time.Duration) error {
	data, err := json.Marshal(pred)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, predKeyPrefix+txID, data, ttl)
}

// IncrementCounter bumps the windowed counter via the atomic script.
func (c *RedisCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}

	full := redisKey(tenantID, "counter:"+key)
	return counterScript.Run(ctx, c.client, []string{full}, window.Milliseconds()).Int64()
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
