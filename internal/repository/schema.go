package repository

// Schema definitions for the Shrike database.
// Compatible with both SQLite and PostgreSQL.

const schemaObservations = `
CREATE TABLE IF NOT EXISTS observations (
    tx_id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    merchant_id TEXT,
    device_id TEXT,
    amount REAL NOT NULL,
    lat REAL,
    lon REAL,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_observations_user ON observations(tenant_id, user_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_observations_merchant ON observations(tenant_id, merchant_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_observations_device ON observations(tenant_id, user_id, device_id);
`

const schemaPredictions = `
CREATE TABLE IF NOT EXISTS predictions (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    tx_id TEXT NOT NULL,
    is_fraud INTEGER NOT NULL,
    risk_score REAL NOT NULL,
    confidence REAL NOT NULL,
    tier TEXT NOT NULL,
    recommendation TEXT NOT NULL,
    contributions TEXT,
    policy_results TEXT,
    timestamp TIMESTAMP NOT NULL,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_predictions_tenant ON predictions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_predictions_tx ON predictions(tenant_id, tx_id);
CREATE INDEX IF NOT EXISTS idx_predictions_tier ON predictions(tenant_id, tier);
CREATE INDEX IF NOT EXISTS idx_predictions_timestamp ON predictions(tenant_id, timestamp);
`

const schemaPolicies = `
CREATE TABLE IF NOT EXISTS policies (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    action TEXT NOT NULL,
    reason TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_policies_tenant ON policies(tenant_id);
CREATE INDEX IF NOT EXISTS idx_policies_enabled ON policies(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaObservations,
		schemaPredictions,
		schemaPolicies,
	}
}
