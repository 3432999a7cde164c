// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-trust/kestrel/internal/domain"
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

// SaveScore stores a computed risk score with tenant isolation.
func (r *SQLRepository) SaveScore(ctx context.Context, tenantID string, score *domain.RiskScore) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	factors, _ := json.Marshal(score.Factors)

	query := `
		INSERT INTO risk_scores (
			id, tenant_id, user_id, score, tier, trend,
			model_version, factors, signal_count, last_signal_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		score.ID, tenantID, score.UserID,
		score.Score, string(score.Tier), string(score.Trend),
		score.ModelVersion, string(factors),
		score.SignalCount, score.LastSignalAt, score.CreatedAt,
	)
	return err
}

// LatestScore retrieves the most recent score for a user with tenant isolation.
func (r *SQLRepository) LatestScore(ctx context.Context, tenantID, userID string) (*domain.RiskScore, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, user_id, score, tier, trend,
			   model_version, factors, signal_count, last_signal_at, created_at
		FROM risk_scores
		WHERE tenant_id = ? AND user_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	var s domain.RiskScore
	var tier, trend, factors string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, userID).Scan(
		&s.ID, &s.TenantID, &s.UserID, &s.Score, &tier, &trend,
		&s.ModelVersion, &factors, &s.SignalCount, &s.LastSignalAt, &s.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	s.Tier = domain.RiskTier(tier)
	s.Trend = domain.TrendDirection(trend)
	if factors != "" {
		var raw json.RawMessage
		if json.Unmarshal([]byte(factors), &raw) == nil {
			s.Factors = raw
		}
	}

	return &s, nil
}

// RecentScores retrieves up to limit score values for a user, newest first.
func (r *SQLRepository) RecentScores(ctx context.Context, tenantID, userID string, limit int) ([]float64, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 5
	}

	query := `
		SELECT score
		FROM risk_scores
		WHERE tenant_id = ? AND user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scores []float64
	for rows.Next() {
		var score float64
		if err := rows.Scan(&score); err != nil {
			return nil, err
		}
		scores = append(scores, score)
	}

	return scores, rows.Err()
}

// SaveDecision stores a decision with tenant isolation.
func (r *SQLRepository) SaveDecision(ctx context.Context, tenantID string, decision *domain.Decision) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	trigger, _ := json.Marshal(decision.Trigger)
	ruleResults, _ := json.Marshal(decision.RuleResults)
	metadata, _ := json.Marshal(decision.Metadata)

	query := `
		INSERT INTO decisions (
			id, tenant_id, user_id, score, tier, trend, context,
			trigger_result, rule_results, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		decision.ID, tenantID, decision.UserID,
		decision.Score, string(decision.Tier), string(decision.Trend), string(decision.Context),
		string(trigger), string(ruleResults), string(metadata),
		decision.CreatedAt,
	)
	return err
}

// GetDecision retrieves a decision by ID with tenant isolation.
func (r *SQLRepository) GetDecision(ctx context.Context, tenantID, decisionID string) (*domain.Decision, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, user_id, score, tier, trend, context,
			   trigger_result, rule_results, metadata, created_at
		FROM decisions
		WHERE tenant_id = ? AND id = ?
	`

	var d domain.Decision
	var tier, trend, evtContext, trigger, ruleResults, metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, decisionID).Scan(
		&d.ID, &d.TenantID, &d.UserID, &d.Score, &tier, &trend, &evtContext,
		&trigger, &ruleResults, &metadata, &d.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	d.Tier = domain.RiskTier(tier)
	d.Trend = domain.TrendDirection(trend)
	d.Context = domain.EventContext(evtContext)
	json.Unmarshal([]byte(trigger), &d.Trigger)
	json.Unmarshal([]byte(ruleResults), &d.RuleResults)
	json.Unmarshal([]byte(metadata), &d.Metadata)

	return &d, nil
}

// SaveEnforcementAction stores an enforcement action with tenant isolation.
func (r *SQLRepository) SaveEnforcementAction(ctx context.Context, tenantID string, action *domain.EnforcementAction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	requiresReview := 0
	if action.RequiresReview {
		requiresReview = 1
	}

	query := `
		INSERT INTO enforcement_actions (
			id, tenant_id, user_id, action_type, reason, reason_code,
			requires_review, effective_until, created_at, reversed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		action.ID, tenantID, action.UserID,
		string(action.ActionType), action.Reason, action.ReasonCode,
		requiresReview, action.EffectiveUntil, action.CreatedAt, action.ReversedAt,
	)
	return err
}

// ListEnforcementActions retrieves enforcement actions for a user, newest first.
func (r *SQLRepository) ListEnforcementActions(ctx context.Context, tenantID, userID string) ([]*domain.EnforcementAction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, user_id, action_type, reason, reason_code,
			   requires_review, effective_until, created_at, reversed_at
		FROM enforcement_actions
		WHERE tenant_id = ? AND user_id = ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []*domain.EnforcementAction
	for rows.Next() {
		var a domain.EnforcementAction
		var actionType string
		var requiresReview int

		if err := rows.Scan(
			&a.ID, &a.TenantID, &a.UserID, &actionType, &a.Reason, &a.ReasonCode,
			&requiresReview, &a.EffectiveUntil, &a.CreatedAt, &a.ReversedAt,
		); err != nil {
			return nil, err
		}

		a.ActionType = domain.ActionType(actionType)
		a.RequiresReview = requiresReview == 1
		actions = append(actions, &a)
	}

	return actions, rows.Err()
}

// SaveRuleConfig stores a rule configuration with tenant isolation.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, tenantID string, rule *domain.RuleConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	bands, _ := json.Marshal(rule.Bands)

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, tenant_id, name, description, version, expression, bands, weight, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			bands = excluded.bands,
			weight = excluded.weight,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression, string(bands), rule.Weight, enabled,
		now, now,
	)
	return err
}

// GetRuleConfig retrieves a rule configuration with tenant isolation.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, tenantID, ruleID string) (*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, bands, weight, enabled
		FROM rule_configs
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var cfg domain.RuleConfig
	var bands string
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID).Scan(
		&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
		&cfg.Version, &cfg.Expression, &bands, &cfg.Weight, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cfg.Enabled = enabled == 1
	json.Unmarshal([]byte(bands), &cfg.Bands)

	return &cfg, nil
}

// ListRuleConfigs retrieves all active rule configurations for a tenant.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context, tenantID string) ([]*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, bands, weight, enabled
		FROM rule_configs
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		var cfg domain.RuleConfig
		var bands string
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
			&cfg.Version, &cfg.Expression, &bands, &cfg.Weight, &enabled,
		); err != nil {
			return nil, err
		}

		cfg.Enabled = enabled == 1
		json.Unmarshal([]byte(bands), &cfg.Bands)
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
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
