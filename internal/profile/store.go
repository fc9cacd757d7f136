// Package profile holds per-user rolling transaction history.
//
// The store is the only mutable shared state in the scoring pipeline.
// Profiles are mutated exclusively through Observe and read exclusively
// through Snapshot, so speculative scoring can never pollute history.
package profile

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/opensource-finance/shrike/internal/domain"
)

// Store is a sharded, concurrency-safe profile store. Mutation is
// serialized per shard; profiles for different users proceed in
// parallel. Profiles are created lazily on first observation and live
// for the process lifetime (no eviction).
type Store struct {
	shards []*shard
}

type shard struct {
	mu       sync.RWMutex
	profiles map[string]*userProfile
}

type userProfile struct {
	amounts      []float64
	lastLocation *domain.GeoPoint
	deviceCounts map[string]int64
}

// NewStore creates a store with the given number of lock shards.
func NewStore(shardCount int) *Store {
	if shardCount <= 0 {
		shardCount = 64
	}
	shards := make([]*shard, shardCount)
	for i := range shards {
		shards[i] = &shard{profiles: make(map[string]*userProfile)}
	}
	return &Store{shards: shards}
}

func (s *Store) shardFor(userID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Observe appends one observation to the user's profile. This is the
// single mutation point; callers invoke it explicitly after scoring.
func (s *Store) Observe(userID string, amount float64, location *domain.GeoPoint, deviceID string) {
	if userID == "" {
		return
	}

	sh := s.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	p, ok := sh.profiles[userID]
	if !ok {
		p = &userProfile{deviceCounts: make(map[string]int64)}
		sh.profiles[userID] = p
	}

	p.amounts = append(p.amounts, amount)
	if location != nil {
		loc := *location
		p.lastLocation = &loc
	}
	if deviceID != "" {
		p.deviceCounts[deviceID]++
	}
}

// Snapshot returns an immutable copy of the user's profile, or nil if
// the user has never been observed.
func (s *Store) Snapshot(userID string) *domain.ProfileSnapshot {
	if userID == "" {
		return nil
	}

	sh := s.shardFor(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	p, ok := sh.profiles[userID]
	if !ok {
		return nil
	}

	snap := &domain.ProfileSnapshot{
		UserID:       userID,
		Amounts:      make([]float64, len(p.amounts)),
		DeviceCounts: make(map[string]int64, len(p.deviceCounts)),
	}
	copy(snap.Amounts, p.amounts)
	for k, v := range p.deviceCounts {
		snap.DeviceCounts[k] = v
	}
	if p.lastLocation != nil {
		loc := *p.lastLocation
		snap.LastLocation = &loc
	}
	return snap
}

// DeviceShare reports the fraction of the user's observations recorded
// from deviceID. known is false when the user has no device history.
// The tenant argument is unused here; the store is process-local and
// keyed by user. Satisfies the extractor's device source contract.
func (s *Store) DeviceShare(ctx context.Context, tenantID, userID, deviceID string) (float64, bool, error) {
	if userID == "" || deviceID == "" {
		return 0, false, nil
	}

	sh := s.shardFor(userID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	p, ok := sh.profiles[userID]
	if !ok {
		return 0, false, nil
	}

	var total int64
	for _, c := range p.deviceCounts {
		total += c
	}
	if total == 0 {
		return 0, false, nil
	}
	return float64(p.deviceCounts[deviceID]) / float64(total), true, nil
}

// Len returns the number of tracked profiles across all shards.
func (s *Store) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.profiles)
		sh.mu.RUnlock()
	}
	return total
}
