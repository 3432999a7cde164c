// Package telemetry provides windowed-statistics queries over the raw
// marketplace event store.
package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-trust/kestrel/internal/domain"
)

var ErrInvalidInput = errors.New("invalid input")

// highRiskScoreThreshold marks a neighbor as high risk; matches the
// high tier boundary of the scoring ladder.
const highRiskScoreThreshold = 60.0

// SQLStore implements domain.TelemetryStore using database/sql.
// Works with both SQLite and PostgreSQL drivers, reading the same
// database the repository writes to.
type SQLStore struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// New creates a telemetry store based on configuration.
func New(cfg domain.RepositoryConfig) (domain.TelemetryStore, error) {
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

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	store := &SQLStore{
		db:     db,
		driver: cfg.Driver,
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *SQLStore) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// BookingStats returns booking counts for a user as client or provider.
func (s *SQLStore) BookingStats(ctx context.Context, tenantID, userID string, since time.Time) (*domain.BookingStats, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*),
			   COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0),
			   COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			   COALESCE(SUM(CASE WHEN status = 'disputed' THEN 1 ELSE 0 END), 0)
		FROM bookings
		WHERE tenant_id = ? AND (client_id = ? OR provider_id = ?) AND created_at >= ?
	`

	var stats domain.BookingStats
	err := s.db.QueryRowContext(ctx, s.rebind(query), tenantID, userID, userID, since).Scan(
		&stats.Total, &stats.Cancelled, &stats.Completed, &stats.Disputed,
	)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// ProviderBookingStats returns all-time booking counts where the user
// is the provider.
func (s *SQLStore) ProviderBookingStats(ctx context.Context, tenantID, userID string) (*domain.BookingStats, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*),
			   COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0),
			   COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			   COALESCE(SUM(CASE WHEN status = 'disputed' THEN 1 ELSE 0 END), 0)
		FROM bookings
		WHERE tenant_id = ? AND provider_id = ?
	`

	var stats domain.BookingStats
	err := s.db.QueryRowContext(ctx, s.rebind(query), tenantID, userID).Scan(
		&stats.Total, &stats.Cancelled, &stats.Completed, &stats.Disputed,
	)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// BookingTimeAnomalyCount counts bookings scheduled before 06:00 or
// from 23:00. Hour bucketing happens in Go to keep the SQL portable
// across drivers.
func (s *SQLStore) BookingTimeAnomalyCount(ctx context.Context, tenantID, userID string, since time.Time) (int, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT scheduled_at
		FROM bookings
		WHERE tenant_id = ? AND (client_id = ? OR provider_id = ?)
		  AND scheduled_at IS NOT NULL AND created_at >= ?
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), tenantID, userID, userID, since)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return 0, err
		}
		hour := at.UTC().Hour()
		if hour < 6 || hour >= 23 {
			count++
		}
	}
	return count, rows.Err()
}

// SignalStats returns aggregate risk-signal statistics for the window.
func (s *SQLStore) SignalStats(ctx context.Context, tenantID, userID string, since time.Time) (*domain.SignalStats, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*),
			   COUNT(DISTINCT signal_type),
			   COALESCE(SUM(CASE WHEN signal_type LIKE '%OBFUSC%' THEN 1 ELSE 0 END), 0)
		FROM risk_signals
		WHERE tenant_id = ? AND user_id = ? AND created_at >= ?
	`

	var stats domain.SignalStats
	err := s.db.QueryRowContext(ctx, s.rebind(query), tenantID, userID, since).Scan(
		&stats.Total, &stats.UniqueTypes, &stats.ObfuscationCount,
	)
	if err != nil {
		return nil, err
	}

	maxQuery := `
		SELECT COALESCE(MAX(c), 0) FROM (
			SELECT COUNT(*) AS c
			FROM risk_signals
			WHERE tenant_id = ? AND user_id = ? AND created_at >= ?
			GROUP BY signal_type
		) AS per_type
	`

	if err := s.db.QueryRowContext(ctx, s.rebind(maxQuery), tenantID, userID, since).Scan(&stats.MaxSameTypeCount); err != nil {
		return nil, err
	}

	return &stats, nil
}

// SignalTimes returns signal creation timestamps for decayed counting.
// Empty types matches all signals.
func (s *SQLStore) SignalTimes(ctx context.Context, tenantID, userID string, types []string, since time.Time) ([]time.Time, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT created_at
		FROM risk_signals
		WHERE tenant_id = ? AND user_id = ? AND created_at >= ?
	`
	args := []any{tenantID, userID, since}
	query, args = appendTypeFilter(query, args, types)
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return nil, err
		}
		times = append(times, at)
	}
	return times, rows.Err()
}

// CountSignals counts signals matching the given types.
func (s *SQLStore) CountSignals(ctx context.Context, tenantID, userID string, types []string, since time.Time) (int, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*)
		FROM risk_signals
		WHERE tenant_id = ? AND user_id = ? AND created_at >= ?
	`
	args := []any{tenantID, userID, since}
	query, args = appendTypeFilter(query, args, types)

	var count int
	if err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// SignalBurstDays counts distinct days with more than threshold signals.
// Day bucketing happens in Go to keep the SQL portable across drivers.
func (s *SQLStore) SignalBurstDays(ctx context.Context, tenantID, userID string, since time.Time, threshold int) (int, error) {
	times, err := s.SignalTimes(ctx, tenantID, userID, nil, since)
	if err != nil {
		return 0, err
	}

	perDay := make(map[string]int)
	for _, at := range times {
		perDay[at.UTC().Format("2006-01-02")]++
	}

	bursts := 0
	for _, count := range perDay {
		if count > threshold {
			bursts++
		}
	}
	return bursts, nil
}

// LastSignalBefore returns the most recent signal time strictly before
// the cutoff, or nil when none exists.
func (s *SQLStore) LastSignalBefore(ctx context.Context, tenantID, userID string, cutoff time.Time) (*time.Time, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT created_at
		FROM risk_signals
		WHERE tenant_id = ? AND user_id = ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	var at time.Time
	err := s.db.QueryRowContext(ctx, s.rebind(query), tenantID, userID, cutoff).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &at, nil
}

// WalletStats returns wallet flow aggregates since the given time.
func (s *SQLStore) WalletStats(ctx context.Context, tenantID, userID string, since time.Time) (*domain.WalletStats, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COALESCE(SUM(CASE WHEN direction = 'withdrawal' THEN amount ELSE 0 END), 0),
			   COALESCE(SUM(CASE WHEN direction = 'deposit' THEN amount ELSE 0 END), 0),
			   COALESCE(SUM(CASE WHEN direction = 'deposit' THEN 1 ELSE 0 END), 0)
		FROM wallet_transactions
		WHERE tenant_id = ? AND user_id = ? AND created_at >= ?
	`

	var stats domain.WalletStats
	err := s.db.QueryRowContext(ctx, s.rebind(query), tenantID, userID, since).Scan(
		&stats.WithdrawalTotal, &stats.DepositTotal, &stats.DepositCount,
	)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// CircularCounterparties counts distinct counterparties with completed
// transfers in both directions since the given time.
func (s *SQLStore) CircularCounterparties(ctx context.Context, tenantID, userID string, since time.Time) (int, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(DISTINCT t.recipient_id)
		FROM transactions t
		WHERE t.tenant_id = ? AND t.sender_id = ? AND t.status = 'completed' AND t.created_at >= ?
		  AND EXISTS (
			SELECT 1 FROM transactions b
			WHERE b.tenant_id = t.tenant_id
			  AND b.sender_id = t.recipient_id
			  AND b.recipient_id = t.sender_id
			  AND b.status = 'completed'
			  AND b.created_at >= ?
		  )
	`

	var count int
	err := s.db.QueryRowContext(ctx, s.rebind(query), tenantID, userID, since, since).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// SplitTransactionDays counts (day, counterparty) pairs with 3 or more
// completed outbound payments since the given time.
func (s *SQLStore) SplitTransactionDays(ctx context.Context, tenantID, userID string, since time.Time) (int, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT recipient_id, created_at
		FROM transactions
		WHERE tenant_id = ? AND sender_id = ? AND status = 'completed' AND created_at >= ?
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), tenantID, userID, since)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	perPair := make(map[string]int)
	for rows.Next() {
		var recipient string
		var at time.Time
		if err := rows.Scan(&recipient, &at); err != nil {
			return 0, err
		}
		perPair[at.UTC().Format("2006-01-02")+"|"+recipient]++
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	days := 0
	for _, count := range perPair {
		if count >= 3 {
			days++
		}
	}
	return days, nil
}

// TransactionStats returns escrow/cancellation aggregates over the
// user's outbound transactions since the given time.
func (s *SQLStore) TransactionStats(ctx context.Context, tenantID, userID string, since time.Time) (*domain.TransactionStats, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*),
			   COALESCE(SUM(CASE WHEN uses_escrow = 1 THEN 1 ELSE 0 END), 0),
			   COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0)
		FROM transactions
		WHERE tenant_id = ? AND sender_id = ? AND created_at >= ?
	`

	var stats domain.TransactionStats
	err := s.db.QueryRowContext(ctx, s.rebind(query), tenantID, userID, since).Scan(
		&stats.Total, &stats.EscrowCount, &stats.Cancelled,
	)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// FlaggedCounterparties counts distinct counterparties recorded on the
// user's signals that carry risk signals of their own.
func (s *SQLStore) FlaggedCounterparties(ctx context.Context, tenantID, userID string) (int, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(DISTINCT s.counterparty_id)
		FROM risk_signals s
		WHERE s.tenant_id = ? AND s.user_id = ? AND s.counterparty_id <> ''
		  AND EXISTS (
			SELECT 1 FROM risk_signals o
			WHERE o.tenant_id = s.tenant_id AND o.user_id = s.counterparty_id
		  )
	`

	var count int
	if err := s.db.QueryRowContext(ctx, s.rebind(query), tenantID, userID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// SharedPaymentEndpoints reports whether the user shares an external
// payment reference with another user.
func (s *SQLStore) SharedPaymentEndpoints(ctx context.Context, tenantID, userID string) (bool, error) {
	if tenantID == "" {
		return false, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*)
		FROM transactions t
		WHERE t.tenant_id = ? AND t.sender_id = ? AND t.external_reference <> ''
		  AND EXISTS (
			SELECT 1 FROM transactions o
			WHERE o.tenant_id = t.tenant_id
			  AND o.external_reference = t.external_reference
			  AND o.sender_id <> t.sender_id
		  )
	`

	var count int
	if err := s.db.QueryRowContext(ctx, s.rebind(query), tenantID, userID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// CorrelationCount counts recorded signal correlations of the given type.
func (s *SQLStore) CorrelationCount(ctx context.Context, tenantID, userID, correlationType string, since time.Time) (int, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*)
		FROM signal_correlations
		WHERE tenant_id = ? AND user_id = ? AND correlation_type = ? AND created_at >= ?
	`

	var count int
	err := s.db.QueryRowContext(ctx, s.rebind(query), tenantID, userID, correlationType, since).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// DevicePeers returns counts of users sharing a device hash with this
// user, split by peer status. Suspended means an unreversed account
// suspension; high risk means the peer's latest score is at or above
// the high tier boundary.
func (s *SQLStore) DevicePeers(ctx context.Context, tenantID, userID string) (*domain.DevicePeers, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	suspendedQuery := `
		SELECT COUNT(DISTINCT d2.user_id)
		FROM user_devices d1
		JOIN user_devices d2
		  ON d2.tenant_id = d1.tenant_id
		 AND d2.device_hash = d1.device_hash
		 AND d2.user_id <> d1.user_id
		WHERE d1.tenant_id = ? AND d1.user_id = ?
		  AND EXISTS (
			SELECT 1 FROM enforcement_actions e
			WHERE e.tenant_id = d2.tenant_id
			  AND e.user_id = d2.user_id
			  AND e.action_type = 'account_suspension'
			  AND e.reversed_at IS NULL
		  )
	`

	var peers domain.DevicePeers
	if err := s.db.QueryRowContext(ctx, s.rebind(suspendedQuery), tenantID, userID).Scan(&peers.SuspendedPeers); err != nil {
		return nil, err
	}

	highRiskQuery := `
		SELECT COUNT(DISTINCT d2.user_id)
		FROM user_devices d1
		JOIN user_devices d2
		  ON d2.tenant_id = d1.tenant_id
		 AND d2.device_hash = d1.device_hash
		 AND d2.user_id <> d1.user_id
		WHERE d1.tenant_id = ? AND d1.user_id = ?
		  AND (
			SELECT sc.score FROM risk_scores sc
			WHERE sc.tenant_id = d2.tenant_id AND sc.user_id = d2.user_id
			ORDER BY sc.created_at DESC
			LIMIT 1
		  ) >= ?
	`

	if err := s.db.QueryRowContext(ctx, s.rebind(highRiskQuery), tenantID, userID, highRiskScoreThreshold).Scan(&peers.HighRiskPeers); err != nil {
		return nil, err
	}

	return &peers, nil
}

// HighRiskRelationshipCount counts relationship-graph neighbors whose
// latest score is at or above the high tier boundary.
func (s *SQLStore) HighRiskRelationshipCount(ctx context.Context, tenantID, userID string) (int, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*)
		FROM user_relationships r
		WHERE r.tenant_id = ? AND r.user_id = ?
		  AND (
			SELECT sc.score FROM risk_scores sc
			WHERE sc.tenant_id = r.tenant_id AND sc.user_id = r.related_user_id
			ORDER BY sc.created_at DESC
			LIMIT 1
		  ) >= ?
	`

	var count int
	err := s.db.QueryRowContext(ctx, s.rebind(query), tenantID, userID, highRiskScoreThreshold).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// UserProfile returns account-level aggregates for KYC scoring.
// An unknown user yields an unverified zero-valued profile.
func (s *SQLStore) UserProfile(ctx context.Context, tenantID, userID string) (*domain.UserProfile, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT verification_status, created_at, profile_completeness, is_provider
		FROM users
		WHERE tenant_id = ? AND id = ?
	`

	var profile domain.UserProfile
	var isProvider int

	err := s.db.QueryRowContext(ctx, s.rebind(query), tenantID, userID).Scan(
		&profile.VerificationStatus, &profile.CreatedAt, &profile.ProfileCompleteness, &isProvider,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.UserProfile{VerificationStatus: domain.VerificationUnverified}, nil
	}
	if err != nil {
		return nil, err
	}

	profile.IsProvider = isProvider == 1
	return &profile, nil
}

// EnforcementStats returns enforcement-history aggregates.
func (s *SQLStore) EnforcementStats(ctx context.Context, tenantID, userID string, recentSince time.Time) (*domain.EnforcementStats, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*),
			   COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0)
		FROM enforcement_actions
		WHERE tenant_id = ? AND user_id = ?
	`

	var stats domain.EnforcementStats
	err := s.db.QueryRowContext(ctx, s.rebind(query), recentSince, tenantID, userID).Scan(
		&stats.TotalActions, &stats.RecentActions,
	)
	if err != nil {
		return nil, err
	}

	lastQuery := `
		SELECT action_type
		FROM enforcement_actions
		WHERE tenant_id = ? AND user_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	err = s.db.QueryRowContext(ctx, s.rebind(lastQuery), tenantID, userID).Scan(&stats.LastActionType)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// A restriction is active while unreversed and either open-ended
	// (suspension) or not yet expired.
	activeQuery := `
		SELECT COUNT(*)
		FROM enforcement_actions
		WHERE tenant_id = ? AND user_id = ? AND reversed_at IS NULL
		  AND (
			action_type = 'account_suspension'
			OR (effective_until IS NOT NULL AND effective_until > ?)
		  )
	`

	var active int
	if err := s.db.QueryRowContext(ctx, s.rebind(activeQuery), tenantID, userID, s.now()).Scan(&active); err != nil {
		return nil, err
	}
	stats.HasActiveRestriction = active > 0

	return &stats, nil
}

// AppealDeniedCount counts denied appeals all-time.
func (s *SQLStore) AppealDeniedCount(ctx context.Context, tenantID, userID string) (int, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*)
		FROM appeals
		WHERE tenant_id = ? AND user_id = ? AND status = 'denied'
	`

	var count int
	if err := s.db.QueryRowContext(ctx, s.rebind(query), tenantID, userID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// appendTypeFilter adds a signal_type IN (...) clause when types is
// non-empty.
func appendTypeFilter(query string, args []any, types []string) (string, []any) {
	if len(types) == 0 {
		return query, args
	}

	placeholders := make([]string, len(types))
	for i, t := range types {
		placeholders[i] = "?"
		args = append(args, t)
	}
	return query + " AND signal_type IN (" + strings.Join(placeholders, ", ") + ")", args
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

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
