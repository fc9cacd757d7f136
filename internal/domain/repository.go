// Package domain defines the core interfaces and types for Shrike.
package domain

import (
	"context"
	"time"
)

// Observation is one recorded transaction event, the unit the velocity
// and device sources aggregate over.
type Observation struct {
	TxID       string    `json:"txId"`
	TenantID   string    `json:"tenantId"`
	UserID     string    `json:"userId"`
	MerchantID string    `json:"merchantId"`
	DeviceID   string    `json:"deviceId"`
	Amount     float64   `json:"amount"`
	Location   *GeoPoint `json:"location,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Observation operations (feed the velocity/device sources)
	SaveObservation(ctx context.Context, tenantID string, obs *Observation) error
	CountByUser(ctx context.Context, tenantID string, userID string, since time.Time) (int64, error)
	CountByMerchant(ctx context.Context, tenantID string, merchantID string, since time.Time) (int64, error)
	CountByUserDevice(ctx context.Context, tenantID string, userID string, deviceID string) (int64, error)
	CountUserObservations(ctx context.Context, tenantID string, userID string) (int64, error)

	// Prediction results
	SavePrediction(ctx context.Context, tenantID string, pred *PredictionResult) error
	GetPrediction(ctx context.Context, tenantID string, predID string) (*PredictionResult, error)

	// Action-policy configuration operations
	SavePolicy(ctx context.Context, tenantID string, policy *PolicyConfig) error
	GetPolicy(ctx context.Context, tenantID string, policyID string) (*PolicyConfig, error)
	ListPolicies(ctx context.Context, tenantID string) ([]*PolicyConfig, error)
	DeletePolicy(ctx context.Context, tenantID string, policyID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
