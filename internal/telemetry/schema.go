package telemetry

// Schema definitions for the raw marketplace event tables the store
// aggregates over. Compatible with both SQLite and PostgreSQL.
//
// In production deployments these tables are populated by the
// marketplace platform; the engine only reads them. The store still
// runs the migrations so that a fresh community install works against
// an empty database.

const schemaUsers = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    verification_status TEXT NOT NULL DEFAULT 'unverified',
    profile_completeness REAL NOT NULL DEFAULT 0,
    is_provider INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_users_tenant ON users(tenant_id);
`

const schemaBookings = `
CREATE TABLE IF NOT EXISTS bookings (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    client_id TEXT NOT NULL,
    provider_id TEXT NOT NULL,
    status TEXT NOT NULL,
    scheduled_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bookings_client ON bookings(tenant_id, client_id, created_at);
CREATE INDEX IF NOT EXISTS idx_bookings_provider ON bookings(tenant_id, provider_id, created_at);
`

const schemaWalletTransactions = `
CREATE TABLE IF NOT EXISTS wallet_transactions (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    direction TEXT NOT NULL,
    amount REAL NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_wallet_tx_user ON wallet_transactions(tenant_id, user_id, created_at);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    sender_id TEXT NOT NULL,
    recipient_id TEXT NOT NULL,
    amount REAL NOT NULL,
    status TEXT NOT NULL,
    uses_escrow INTEGER NOT NULL DEFAULT 0,
    external_reference TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_sender ON transactions(tenant_id, sender_id, created_at);
CREATE INDEX IF NOT EXISTS idx_transactions_recipient ON transactions(tenant_id, recipient_id);
CREATE INDEX IF NOT EXISTS idx_transactions_reference ON transactions(tenant_id, external_reference);
`

const schemaRiskSignals = `
CREATE TABLE IF NOT EXISTS risk_signals (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    signal_type TEXT NOT NULL,
    counterparty_id TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_signals_user ON risk_signals(tenant_id, user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_risk_signals_type ON risk_signals(tenant_id, user_id, signal_type);
`

const schemaSignalCorrelations = `
CREATE TABLE IF NOT EXISTS signal_correlations (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    correlation_type TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_signal_correlations_user ON signal_correlations(tenant_id, user_id, correlation_type);
`

const schemaAppeals = `
CREATE TABLE IF NOT EXISTS appeals (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_appeals_user ON appeals(tenant_id, user_id);
`

const schemaUserDevices = `
CREATE TABLE IF NOT EXISTS user_devices (
    tenant_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    device_hash TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, user_id, device_hash)
);

CREATE INDEX IF NOT EXISTS idx_user_devices_hash ON user_devices(tenant_id, device_hash);
`

const schemaUserRelationships = `
CREATE TABLE IF NOT EXISTS user_relationships (
    tenant_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    related_user_id TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, user_id, related_user_id)
);
`

// AllSchemas returns all schema statements in order.
// The enforcement and score tables the store also reads are owned and
// migrated by the repository package against the same database.
func AllSchemas() []string {
	return []string{
		schemaUsers,
		schemaBookings,
		schemaWalletTransactions,
		schemaTransactions,
		schemaRiskSignals,
		schemaSignalCorrelations,
		schemaAppeals,
		schemaUserDevices,
		schemaUserRelationships,
	}
}
