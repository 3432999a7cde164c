package domain

import (
	"context"
	"time"
)

// TelemetryStore is the windowed-statistics query interface over the raw
// marketplace event store (bookings, wallet transactions, risk-signal
// records, enforcement records, device/relationship graph).
//
// Every method returns numeric, boolean, enum, or timestamp aggregates
// only — never free-text fields. This makes the "scoring never reads raw
// content" contract structural: nothing downstream of this interface can
// see message bodies.
//
// "No data" is a structured zero-valued result, not an error. Errors are
// reserved for transport/storage failures, which the aggregator converts
// to safe defaults.
type TelemetryStore interface {
	// BookingStats returns booking counts for a user (as client or
	// provider) since the given time. A zero since means all-time.
	BookingStats(ctx context.Context, tenantID, userID string, since time.Time) (*BookingStats, error)

	// ProviderBookingStats returns all-time booking counts where the user
	// is the provider.
	ProviderBookingStats(ctx context.Context, tenantID, userID string) (*BookingStats, error)

	// BookingTimeAnomalyCount counts bookings scheduled at unusual hours
	// (before 06:00 or from 23:00) since the given time.
	BookingTimeAnomalyCount(ctx context.Context, tenantID, userID string, since time.Time) (int, error)

	// SignalStats returns aggregate statistics over risk signals since
	// the given time.
	SignalStats(ctx context.Context, tenantID, userID string, since time.Time) (*SignalStats, error)

	// SignalTimes returns the creation timestamps of signals matching the
	// given types since the given time, for time-decayed counting.
	SignalTimes(ctx context.Context, tenantID, userID string, types []string, since time.Time) ([]time.Time, error)

	// CountSignals counts signals matching the given types since the
	// given time. Empty types matches all signals.
	CountSignals(ctx context.Context, tenantID, userID string, types []string, since time.Time) (int, error)

	// SignalBurstDays counts distinct days with more than threshold
	// signals since the given time.
	SignalBurstDays(ctx context.Context, tenantID, userID string, since time.Time, threshold int) (int, error)

	// LastSignalBefore returns the most recent signal time strictly
	// before the cutoff, or nil when none exists.
	LastSignalBefore(ctx context.Context, tenantID, userID string, cutoff time.Time) (*time.Time, error)

	// WalletStats returns wallet flow aggregates since the given time.
	WalletStats(ctx context.Context, tenantID, userID string, since time.Time) (*WalletStats, error)

	// CircularCounterparties counts distinct counterparties with
	// completed transfers in both directions since the given time.
	CircularCounterparties(ctx context.Context, tenantID, userID string, since time.Time) (int, error)

	// SplitTransactionDays counts (day, counterparty) pairs with 3 or
	// more completed outbound payments since the given time.
	SplitTransactionDays(ctx context.Context, tenantID, userID string, since time.Time) (int, error)

	// TransactionStats returns escrow/cancellation aggregates over the
	// user's transactions since the given time.
	TransactionStats(ctx context.Context, tenantID, userID string, since time.Time) (*TransactionStats, error)

	// FlaggedCounterparties counts distinct message counterparties that
	// carry risk signals of their own.
	FlaggedCounterparties(ctx context.Context, tenantID, userID string) (int, error)

	// SharedPaymentEndpoints reports whether the user shares an external
	// payment reference with another user.
	SharedPaymentEndpoints(ctx context.Context, tenantID, userID string) (bool, error)

	// CorrelationCount counts recorded signal correlations of the given
	// type since the given time (e.g. "contact_then_cancel").
	CorrelationCount(ctx context.Context, tenantID, userID, correlationType string, since time.Time) (int, error)

	// DevicePeers returns counts of users sharing a device hash with
	// this user, split by peer status.
	DevicePeers(ctx context.Context, tenantID, userID string) (*DevicePeers, error)

	// HighRiskRelationshipCount counts relationship-graph neighbors with
	// a trust score above the high-risk threshold.
	HighRiskRelationshipCount(ctx context.Context, tenantID, userID string) (int, error)

	// UserProfile returns account-level aggregates for KYC scoring.
	UserProfile(ctx context.Context, tenantID, userID string) (*UserProfile, error)

	// EnforcementStats returns enforcement-history aggregates; recent
	// counts are scoped to actions since recentSince.
	EnforcementStats(ctx context.Context, tenantID, userID string, recentSince time.Time) (*EnforcementStats, error)

	// AppealDeniedCount counts denied appeals all-time.
	AppealDeniedCount(ctx context.Context, tenantID, userID string) (int, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// BookingStats holds booking counts for a window.
type BookingStats struct {
	Total     int `json:"total"`
	Cancelled int `json:"cancelled"`
	Completed int `json:"completed"`
	Disputed  int `json:"disputed"`
}

// SignalStats holds aggregate risk-signal statistics for a window.
type SignalStats struct {
	Total            int `json:"total"`
	UniqueTypes      int `json:"uniqueTypes"`
	ObfuscationCount int `json:"obfuscationCount"`
	// MaxSameTypeCount is the largest per-type signal count in the window.
	MaxSameTypeCount int `json:"maxSameTypeCount"`
}

// WalletStats holds wallet flow aggregates for a window.
type WalletStats struct {
	WithdrawalTotal float64 `json:"withdrawalTotal"`
	DepositTotal    float64 `json:"depositTotal"`
	DepositCount    int     `json:"depositCount"`
}

// TransactionStats holds escrow/cancellation aggregates for a window.
type TransactionStats struct {
	Total       int `json:"total"`
	EscrowCount int `json:"escrowCount"`
	Cancelled   int `json:"cancelled"`
}

// DevicePeers holds device-sharing peer counts.
type DevicePeers struct {
	SuspendedPeers int `json:"suspendedPeers"`
	HighRiskPeers  int `json:"highRiskPeers"`
}

// UserProfile holds account-level aggregates for KYC scoring.
type UserProfile struct {
	// VerificationStatus is one of the Verification* enumerants.
	VerificationStatus  string    `json:"verificationStatus"`
	CreatedAt           time.Time `json:"createdAt"`
	ProfileCompleteness float64   `json:"profileCompleteness"`
	IsProvider          bool      `json:"isProvider"`
}

// EnforcementStats holds enforcement-history aggregates.
type EnforcementStats struct {
	TotalActions         int    `json:"totalActions"`
	RecentActions        int    `json:"recentActions"`
	LastActionType       string `json:"lastActionType,omitempty"`
	HasActiveRestriction bool   `json:"hasActiveRestriction"`
}
