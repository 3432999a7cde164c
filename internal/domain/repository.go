package domain

import (
	"context"
	"time"
)

// Repository defines the interface for persisting engine outputs.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Score operations
	SaveScore(ctx context.Context, tenantID string, score *RiskScore) error
	LatestScore(ctx context.Context, tenantID, userID string) (*RiskScore, error)
	// RecentScores returns up to limit scores for a user, newest first.
	RecentScores(ctx context.Context, tenantID, userID string, limit int) ([]float64, error)

	// Decision operations
	SaveDecision(ctx context.Context, tenantID string, decision *Decision) error
	GetDecision(ctx context.Context, tenantID, decisionID string) (*Decision, error)

	// Enforcement action operations
	SaveEnforcementAction(ctx context.Context, tenantID string, action *EnforcementAction) error
	ListEnforcementActions(ctx context.Context, tenantID, userID string) ([]*EnforcementAction, error)

	// Rule configuration operations
	SaveRuleConfig(ctx context.Context, tenantID string, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, tenantID, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context, tenantID string) ([]*RuleConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository and telemetry
// store initialization. Both read from the same database.
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
