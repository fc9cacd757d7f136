// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveObservation stores one transaction observation with tenant isolation.
func (r *SQLRepository) SaveObservation(ctx context.Context, tenantID string, obs *domain.Observation) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if obs == nil || obs.TxID == "" || obs.UserID == "" {
		return fmt.Errorf("%w: observation txID and userID are required", ErrInvalidInput)
	}

	var lat, lon sql.NullFloat64
	if obs.Location != nil {
		lat = sql.NullFloat64{Float64: obs.Location.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: obs.Location.Lon, Valid: true}
	}

	query := `
		INSERT INTO observations (
			tx_id, tenant_id, user_id, merchant_id, device_id,
			amount, lat, lon, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		obs.TxID, tenantID, obs.UserID, obs.MerchantID, obs.DeviceID,
		obs.Amount, lat, lon, obs.Timestamp,
	)
	return err
}

// CountByUser returns the number of observations for a user since the
// given time.
func (r *SQLRepository) CountByUser(ctx context.Context, tenantID string, userID string, since time.Time) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*) FROM observations
		WHERE tenant_id = ? AND user_id = ? AND timestamp >= ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, userID, since).Scan(&count)
	return count, err
}

// CountByMerchant returns the number of observations at a merchant
// since the given time.
func (r *SQLRepository) CountByMerchant(ctx context.Context, tenantID string, merchantID string, since time.Time) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*) FROM observations
		WHERE tenant_id = ? AND merchant_id = ? AND timestamp >= ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, merchantID, since).Scan(&count)
	return count, err
}

// CountByUserDevice returns the number of the user's observations made
// from a specific device.
func (r *SQLRepository) CountByUserDevice(ctx context.Context, tenantID string, userID string, deviceID string) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*) FROM observations
		WHERE tenant_id = ? AND user_id = ? AND device_id = ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, userID, deviceID).Scan(&count)
	return count, err
}

// CountUserObservations returns the user's total observation count.
func (r *SQLRepository) CountUserObservations(ctx context.Context, tenantID string, userID string) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*) FROM observations
		WHERE tenant_id = ? AND user_id = ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, userID).Scan(&count)
	return count, err
}

// SavePrediction stores a prediction result with tenant isolation.
func (r *SQLRepository) SavePrediction(ctx context.Context, tenantID string, pred *domain.PredictionResult) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	contributions, _ := json.Marshal(pred.Contributions)
	policyResults, _ := json.Marshal(pred.PolicyResults)
	metadata, _ := json.Marshal(pred.Metadata)

	isFraud := 0
	if pred.IsFraud {
		isFraud = 1
	}

	query := `
		INSERT INTO predictions (
			id, tenant_id, tx_id, is_fraud, risk_score, confidence,
			tier, recommendation, contributions, policy_results,
			timestamp, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		pred.ID, tenantID, pred.TxID, isFraud, pred.RiskScore, pred.Confidence,
		string(pred.Tier), string(pred.Recommendation),
		string(contributions), string(policyResults),
		pred.Timestamp, string(metadata),
	)
	return err
}

// GetPrediction retrieves a prediction by ID with tenant isolation.
func (r *SQLRepository) GetPrediction(ctx context.Context, tenantID string, predID string) (*domain.PredictionResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, tx_id, is_fraud, risk_score, confidence,
			   tier, recommendation, contributions, policy_results,
			   timestamp, metadata
		FROM predictions
		WHERE tenant_id = ? AND id = ?
	`

	var pred domain.PredictionResult
	var isFraud int
	var tier, recommendation string
	var contributions, policyResults, metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, predID).Scan(
		&pred.ID, &pred.TenantID, &pred.TxID, &isFraud, &pred.RiskScore, &pred.Confidence,
		&tier, &recommendation, &contributions, &policyResults,
		&pred.Timestamp, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	pred.IsFraud = isFraud == 1
	pred.Tier = domain.RiskTier(tier)
	pred.Recommendation = domain.Action(recommendation)
	json.Unmarshal([]byte(contributions), &pred.Contributions)
	json.Unmarshal([]byte(policyResults), &pred.PolicyResults)
	json.Unmarshal([]byte(metadata), &pred.Metadata)

	return &pred, nil
}

// SavePolicy stores a policy configuration with tenant isolation.
func (r *SQLRepository) SavePolicy(ctx context.Context, tenantID string, policy *domain.PolicyConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	enabled := 0
	if policy.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO policies (
			id, tenant_id, name, description, version, expression, action, reason, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			action = excluded.action,
			reason = excluded.reason,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		policy.ID, tenantID, policy.Name, policy.Description,
		policy.Version, policy.Expression, string(policy.Action), policy.Reason, enabled,
		now, now,
	)
	return err
}

// GetPolicy retrieves the latest enabled version of a policy with
// tenant isolation.
func (r *SQLRepository) GetPolicy(ctx context.Context, tenantID string, policyID string) (*domain.PolicyConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, action, reason, enabled, created_at, updated_at
		FROM policies
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var cfg domain.PolicyConfig
	var action string
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, policyID).Scan(
		&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
		&cfg.Version, &cfg.Expression, &action, &cfg.Reason, &enabled,
		&cfg.CreatedAt, &cfg.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cfg.Action = domain.Action(action)
	cfg.Enabled = enabled == 1

	return &cfg, nil
}

// ListPolicies retrieves all enabled policies for a tenant.
func (r *SQLRepository) ListPolicies(ctx context.Context, tenantID string) ([]*domain.PolicyConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, action, reason, enabled, created_at, updated_at
		FROM policies
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.PolicyConfig
	for rows.Next() {
		var cfg domain.PolicyConfig
		var action string
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
			&cfg.Version, &cfg.Expression, &action, &cfg.Reason, &enabled,
			&cfg.CreatedAt, &cfg.UpdatedAt,
		); err != nil {
			return nil, err
		}

		cfg.Action = domain.Action(action)
		cfg.Enabled = enabled == 1
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// DeletePolicy soft-deletes a policy by setting enabled = 0.
func (r *SQLRepository) DeletePolicy(ctx context.Context, tenantID string, policyID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE policies
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, policyID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
