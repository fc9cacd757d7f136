package feature

import (
	"context"
	"time"
)

// VelocitySource provides time-windowed transaction counts. The real
// implementation aggregates over recorded observations (see
// internal/velocity); the static source below is a stand-in for
// deployments without a repository.
type VelocitySource interface {
	// CountMerchant returns the number of transactions seen at a
	// merchant within the window.
	CountMerchant(ctx context.Context, tenantID string, merchantID string, window time.Duration) (int64, error)

	// CountUser returns the number of transactions for a user within
	// the window.
	CountUser(ctx context.Context, tenantID string, userID string, window time.Duration) (int64, error)
}

// DeviceSource provides per-user device history. The profile store
// implements this against its own device counts.
type DeviceSource interface {
	// DeviceShare returns the fraction of the user's recorded
	// observations made from deviceID, and whether the user has any
	// recorded history at all.
	DeviceShare(ctx context.Context, tenantID string, userID string, deviceID string) (share float64, known bool, err error)
}

// StaticVelocitySource is a placeholder that reports zero counts for
// every entity. Windowed velocity features computed from it are always
// 0.0. Use only when no observation store is configured.
type StaticVelocitySource struct{}

func (StaticVelocitySource) CountMerchant(ctx context.Context, tenantID, merchantID string, window time.Duration) (int64, error) {
	return 0, nil
}

func (StaticVelocitySource) CountUser(ctx context.Context, tenantID, userID string, window time.Duration) (int64, error) {
	return 0, nil
}

// StaticDeviceSource is a placeholder that reports a fixed consistency
// share (0.8 by default) for every known user. The extractor still
// reports 0.5 for users with no profile history.
type StaticDeviceSource struct {
	Share float64
}

func (s StaticDeviceSource) DeviceShare(ctx context.Context, tenantID, userID, deviceID string) (float64, bool, error) {
	share := s.Share
	if share == 0 {
		share = 0.8
	}
	return share, true, nil
}
