// Package cache provides the caching implementations for Shrike:
// prediction replay entries and short-lived velocity counts.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

// predKeyPrefix namespaces prediction entries so a raw Get on the same
// transaction id cannot collide with them.
const predKeyPrefix = "pred:"

// LRUCache is the Community tier cache and the L1 of the two-phase
// cache. Entries are tenant-prefixed, TTL-bounded, and evicted least
// recently used once the cache is full. Windowed counters live in a
// separate map because they must survive LRU eviction for their window.
type LRUCache struct {
	mu       sync.RWMutex
	capacity int
	entries  map[string]*list.Element
	byAge    *list.List
	counters map[string]*windowCounter
}

type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

type windowCounter struct {
	count     int64
	expiresAt time.Time
}

// NewLRUCache creates a cache holding at most maxSize entries; values
// <= 0 fall back to 10000.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		capacity: maxSize,
		entries:  make(map[string]*list.Element),
		byAge:    list.New(),
		counters: make(map[string]*windowCounter),
	}
}

func tenantKey(tenantID, key string) string {
	return tenantID + ":" + key
}

// Get returns the value for key, expiring it lazily. A miss is nil, nil.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[tenantKey(tenantID, key)]
	if !ok {
		return nil, nil
	}

	entry := elem.Value.(*lruEntry)
	if time.Now().After(entry.expiresAt) {
		c.evict(elem)
		return nil, nil
	}

	c.byAge.MoveToFront(elem)
	return entry.value, nil
}

// Set stores the value, evicting the oldest entries past capacity.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	full := tenantKey(tenantID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[full]; ok {
		c.byAge.MoveToFront(elem)
		entry := elem.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = time.Now().Add(ttl)
		return nil
	}

	elem := c.byAge.PushFront(&lruEntry{
		key:       full,
		value:     value,
		expiresAt: time.Now().Add(ttl),
	})
	c.entries[full] = elem

	for c.byAge.Len() > c.capacity {
		if oldest := c.byAge.Back(); oldest != nil {
			c.evict(oldest)
		}
	}
	return nil
}

// Delete drops the key if present.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[tenantKey(tenantID, key)]; ok {
		c.evict(elem)
	}
	return nil
}

// GetPrediction returns the cached prediction for a transaction id, or
// nil, nil on a miss.
func (c *LRUCache) GetPrediction(ctx context.Context, tenantID string, txID string) (*domain.PredictionResult, error) {
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
func (c *LRUCache) SetPrediction(ctx context.Context, tenantID string, txID string, pred *domain.PredictionResult, ttl time.Duration) error {
	data, err := json.Marshal(pred)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, predKeyPrefix+txID, data, ttl)
}

// IncrementCounter bumps the windowed counter, restarting the window
// when the previous one has expired.
func (c *LRUCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}
	full := tenantKey(tenantID, "counter:"+key)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	counter, ok := c.counters[full]
	if !ok || now.After(counter.expiresAt) {
		c.counters[full] = &windowCounter{count: 1, expiresAt: now.Add(window)}
		return 1, nil
	}

	counter.count++
	return counter.count, nil
}

// Ping is a no-op; an in-process cache is always reachable.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close discards all entries and counters.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.byAge = list.New()
	c.counters = make(map[string]*windowCounter)
	return nil
}

// Stats reports current size and capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byAge.Len(), c.capacity
}

// evict removes an element from both the age list and the index.
// Callers hold the lock.
func (c *LRUCache) evict(elem *list.Element) {
	c.byAge.Remove(elem)
	delete(c.entries, elem.Value.(*lruEntry).key)
}
