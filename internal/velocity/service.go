// Package velocity aggregates recorded observations into the windowed
// counts and device-history shares consumed by feature extraction.
package velocity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

// ObservationCounter is the subset of the repository the service reads.
type ObservationCounter interface {
	CountByUser(ctx context.Context, tenantID string, userID string, since time.Time) (int64, error)
	CountByMerchant(ctx context.Context, tenantID string, merchantID string, since time.Time) (int64, error)
	CountByUserDevice(ctx context.Context, tenantID string, userID string, deviceID string) (int64, error)
	CountUserObservations(ctx context.Context, tenantID string, userID string) (int64, error)
}

// Service answers windowed velocity queries against the observation
// store. An optional cache short-circuits repeated counts for the same
// entity and window; velocity features tolerate slightly stale counts,
// so the cache TTL trades freshness for query load.
type Service struct {
	counts   ObservationCounter
	cache    domain.Cache
	cacheTTL time.Duration

	now func() time.Time
}

// NewService creates a velocity service. cache may be nil, in which case
// every query hits the observation store directly.
func NewService(counts ObservationCounter, cache domain.Cache, cacheTTL time.Duration) (*Service, error) {
	if counts == nil {
		return nil, fmt.Errorf("observation counter is required")
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &Service{
		counts:   counts,
		cache:    cache,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}, nil
}

// CountMerchant returns the number of transactions recorded at a
// merchant within the window.
func (s *Service) CountMerchant(ctx context.Context, tenantID string, merchantID string, window time.Duration) (int64, error) {
	key := "vel:merchant:" + merchantID + ":" + window.String()
	if n, ok := s.cachedCount(ctx, tenantID, key); ok {
		return n, nil
	}

	since := s.now().Add(-window)
	n, err := s.counts.CountByMerchant(ctx, tenantID, merchantID, since)
	if err != nil {
		return 0, fmt.Errorf("count by merchant: %w", err)
	}

	s.storeCount(ctx, tenantID, key, n)
	return n, nil
}

// CountUser returns the number of transactions recorded for a user
// within the window.
func (s *Service) CountUser(ctx context.Context, tenantID string, userID string, window time.Duration) (int64, error) {
	key := "vel:user:" + userID + ":" + window.String()
	if n, ok := s.cachedCount(ctx, tenantID, key); ok {
		return n, nil
	}

	since := s.now().Add(-window)
	n, err := s.counts.CountByUser(ctx, tenantID, userID, since)
	if err != nil {
		return 0, fmt.Errorf("count by user: %w", err)
	}

	s.storeCount(ctx, tenantID, key, n)
	return n, nil
}

// DeviceShare returns the fraction of the user's recorded observations
// made from deviceID. known is false when the user has no history at
// all; callers treat that case as neutral rather than suspicious.
func (s *Service) DeviceShare(ctx context.Context, tenantID string, userID string, deviceID string) (float64, bool, error) {
	total, err := s.counts.CountUserObservations(ctx, tenantID, userID)
	if err != nil {
		return 0, false, fmt.Errorf("count user observations: %w", err)
	}
	if total == 0 {
		return 0, false, nil
	}

	fromDevice, err := s.counts.CountByUserDevice(ctx, tenantID, userID, deviceID)
	if err != nil {
		return 0, false, fmt.Errorf("count by user device: %w", err)
	}

	return float64(fromDevice) / float64(total), true, nil
}

// cachedCount reads a previously stored count. Cache failures are
// treated as misses.
func (s *Service) cachedCount(ctx context.Context, tenantID, key string) (int64, bool) {
	if s.cache == nil {
		return 0, false
	}
	val, err := s.cache.Get(ctx, tenantID, key)
	if err != nil || val == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(string(val), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (s *Service) storeCount(ctx context.Context, tenantID, key string, n int64) {
	if s.cache == nil {
		return
	}
	// Best effort: a failed cache write only costs a future recount.
	_ = s.cache.Set(ctx, tenantID, key, []byte(strconv.FormatInt(n, 10)), s.cacheTTL)
}
