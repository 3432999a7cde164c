package repository

// Schema definitions for engine outputs.
// Compatible with both SQLite and PostgreSQL.

const schemaRiskScores = `
CREATE TABLE IF NOT EXISTS risk_scores (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    score REAL NOT NULL,
    tier TEXT NOT NULL,
    trend TEXT NOT NULL,
    model_version TEXT NOT NULL,
    factors TEXT,
    signal_count INTEGER NOT NULL DEFAULT 0,
    last_signal_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_scores_tenant ON risk_scores(tenant_id);
CREATE INDEX IF NOT EXISTS idx_risk_scores_user ON risk_scores(tenant_id, user_id, created_at);
`

const schemaDecisions = `
CREATE TABLE IF NOT EXISTS decisions (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    score REAL NOT NULL,
    tier TEXT NOT NULL,
    trend TEXT NOT NULL,
    context TEXT NOT NULL,
    trigger_result TEXT NOT NULL,
    rule_results TEXT,
    metadata TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_tenant ON decisions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_decisions_user ON decisions(tenant_id, user_id);
CREATE INDEX IF NOT EXISTS idx_decisions_timestamp ON decisions(tenant_id, created_at);
`

const schemaEnforcementActions = `
CREATE TABLE IF NOT EXISTS enforcement_actions (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    action_type TEXT NOT NULL,
    reason TEXT NOT NULL,
    reason_code TEXT NOT NULL,
    requires_review INTEGER NOT NULL DEFAULT 0,
    effective_until TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    reversed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_enforcement_actions_tenant ON enforcement_actions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_enforcement_actions_user ON enforcement_actions(tenant_id, user_id, created_at);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    bands TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1.0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_tenant ON rule_configs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRiskScores,
		schemaDecisions,
		schemaEnforcementActions,
		schemaRuleConfigs,
	}
}
