package domain

import (
	"fmt"
	"math"
	"time"
)

// Config holds the complete Shrike configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Scoring pipeline configuration
	Features FeatureConfig  `json:"features"`
	Ensemble EnsembleConfig `json:"ensemble"`
	Risk     RiskThresholds `json:"risk"`
	Models   ModelsConfig   `json:"models"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// FeatureConfig holds the normalization policy thresholds used by
// feature extraction. These are fixed policy values, not learned ones,
// and are kept configurable so they can be recalibrated without a
// logic change.
type FeatureConfig struct {
	// AmountCap is the amount at which amount_normalized saturates.
	AmountCap float64 `json:"amountCap"`

	// AccountAgeCapDays saturates account_age_normalized (>2 years = 1).
	AccountAgeCapDays float64 `json:"accountAgeCapDays"`

	// DeviationCapSigma caps amount_deviation at N standard deviations.
	DeviationCapSigma float64 `json:"deviationCapSigma"`

	// DistanceCapDegrees saturates geographic_distance.
	DistanceCapDegrees float64 `json:"distanceCapDegrees"`

	// HistoryCap saturates transaction_frequency (observations count).
	HistoryCap float64 `json:"historyCap"`

	// Velocity windows and saturation caps for the windowed-count
	// features. Counts come from a VelocitySource; count/cap is
	// clamped to [0,1].
	MerchantWindow      time.Duration `json:"merchantWindow"`
	MerchantVelocityCap float64       `json:"merchantVelocityCap"`
	UserWindow24h       time.Duration `json:"userWindow24h"`
	Velocity24hCap      float64       `json:"velocity24hCap"`
	UserWindow1h        time.Duration `json:"userWindow1h"`
	Velocity1hCap       float64       `json:"velocity1hCap"`

	// ProfileShards is the number of lock shards in the profile store.
	ProfileShards int `json:"profileShards"`
}

// Validate rejects non-positive saturation caps. Every cap is a
// divisor during extraction, so a zero cap would poison the feature
// vector with Inf or NaN.
func (c *FeatureConfig) Validate() error {
	caps := []struct {
		name  string
		value float64
	}{
		{"amountCap", c.AmountCap},
		{"accountAgeCapDays", c.AccountAgeCapDays},
		{"deviationCapSigma", c.DeviationCapSigma},
		{"distanceCapDegrees", c.DistanceCapDegrees},
		{"historyCap", c.HistoryCap},
		{"merchantVelocityCap", c.MerchantVelocityCap},
		{"velocity24hCap", c.Velocity24hCap},
		{"velocity1hCap", c.Velocity1hCap},
	}
	for _, sat := range caps {
		if sat.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidInput, sat.name, sat.value)
		}
	}
	return nil
}

// EnsembleConfig is the ordered set of active models and their static
// weights. The weight sum invariant is enforced by Validate and again
// at ensemble construction.
type EnsembleConfig struct {
	Models []ModelWeight `json:"models"`
}

// ModelWeight binds a model identifier to its ensemble weight.
type ModelWeight struct {
	ID     string  `json:"id"`
	Weight float64 `json:"weight"`
}

// WeightSumTolerance is the allowed deviation of the ensemble weight sum
// from 1.0.
const WeightSumTolerance = 1e-6

// Validate checks the weight-sum invariant and rejects duplicate or
// negatively weighted models.
func (c *EnsembleConfig) Validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("%w: ensemble requires at least one model", ErrInvalidInput)
	}

	seen := make(map[string]bool, len(c.Models))
	var sum float64
	for _, m := range c.Models {
		if m.ID == "" {
			return fmt.Errorf("%w: model id is required", ErrInvalidInput)
		}
		if seen[m.ID] {
			return fmt.Errorf("%w: duplicate model id %q", ErrInvalidInput, m.ID)
		}
		seen[m.ID] = true
		if m.Weight < 0 {
			return fmt.Errorf("%w: model %q has negative weight %v", ErrInvalidInput, m.ID, m.Weight)
		}
		sum += m.Weight
	}

	if math.Abs(sum-1.0) > WeightSumTolerance {
		return fmt.Errorf("%w: ensemble weights sum to %v, want 1.0 +/- %v", ErrInvalidInput, sum, WeightSumTolerance)
	}
	return nil
}

// IDs returns the model identifiers in configuration order.
func (c *EnsembleConfig) IDs() []string {
	ids := make([]string, len(c.Models))
	for i, m := range c.Models {
		ids[i] = m.ID
	}
	return ids
}

// RiskThresholds is the single threshold table shared by every consumer
// of risk tiers. The source system duplicated these cutoffs across call
// sites with drift; they live here exactly once.
type RiskThresholds struct {
	// Block: score > Block => CRITICAL / BLOCK
	Block float64 `json:"block"`

	// Review: Review < score <= Block => HIGH / REVIEW
	Review float64 `json:"review"`

	// Medium: Medium <= score <= Review => MEDIUM (action stays APPROVE)
	Medium float64 `json:"medium"`
}

// Validate checks threshold ordering.
func (t *RiskThresholds) Validate() error {
	if !(0 <= t.Medium && t.Medium < t.Review && t.Review < t.Block && t.Block <= 1) {
		return fmt.Errorf("%w: risk thresholds must satisfy 0 <= medium < review < block <= 1, got %+v", ErrInvalidInput, *t)
	}
	return nil
}

// ModelsConfig holds model bundle persistence settings.
type ModelsConfig struct {
	// Dir is the root directory for versioned model bundles.
	Dir string `json:"dir"`

	// Version is the bundle version to load at startup ("" = none).
	Version string `json:"version"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"

	// TierEnterprise includes multi-node, SSO, etc.
	TierEnterprise Tier = "enterprise"
)

// DefaultEnsembleConfig returns the standard four-model ensemble.
func DefaultEnsembleConfig() EnsembleConfig {
	return EnsembleConfig{
		Models: []ModelWeight{
			{ID: "random_forest", Weight: 0.35},
			{ID: "gradient_boosting", Weight: 0.35},
			{ID: "logistic_regression", Weight: 0.15},
			{ID: "linear_svm", Weight: 0.15},
		},
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./shrike.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300 * time.Second,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Features: FeatureConfig{
			AmountCap:           10000,
			AccountAgeCapDays:   730,
			DeviationCapSigma:   3,
			DistanceCapDegrees:  180,
			HistoryCap:          100,
			MerchantWindow:      24 * time.Hour,
			MerchantVelocityCap: 1000,
			UserWindow24h:       24 * time.Hour,
			Velocity24hCap:      50,
			UserWindow1h:        time.Hour,
			Velocity1hCap:       10,
			ProfileShards:       64,
		},
		Ensemble: DefaultEnsembleConfig(),
		Risk: RiskThresholds{
			Block:  0.8,
			Review: 0.5,
			Medium: 0.3,
		},
		Models: ModelsConfig{
			Dir: "./models",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "shrike",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "shrike",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
