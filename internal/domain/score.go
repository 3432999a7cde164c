package domain

import "time"

// Score model versions. The active model is selected by configuration;
// both models remain independently correct and testable.
const (
	ModelThreeLayer    = "3-layer"
	ModelFiveComponent = "5-component"
)

// ─── V1 (3-layer weighted) input records ─────────────────────

// OperationalInputs feeds the V1 operational integrity layer.
// All values are windowed statistics; a missing-data condition resolves
// to full trust (ratio 1.0, counts 0), never an error.
type OperationalInputs struct {
	// EscrowUsageRatio is the ratio of transactions that used platform
	// escrow over the last 30 days (0.0-1.0).
	EscrowUsageRatio float64 `json:"escrowUsageRatio"`
	// RecentCancellations is the cancellation count over the last 30 days.
	RecentCancellations int `json:"recentCancellations"`
	// RecentTransactions is the total transaction count over the last 30 days.
	RecentTransactions int `json:"recentTransactions"`
	// OffPlatformPaymentAttempts counts external payment signals over 30 days.
	OffPlatformPaymentAttempts int `json:"offPlatformPaymentAttempts"`
}

// BehavioralInputs feeds the V1 behavioral trajectory layer.
type BehavioralInputs struct {
	// RecentSignalCount is the time-decayed risk signal count over 7 days.
	RecentSignalCount int `json:"recentSignalCount"`
	// UniqueSignalTypes is the number of distinct signal types detected.
	UniqueSignalTypes int `json:"uniqueSignalTypes"`
	// IsEscalating reports whether recent scores trend upward.
	IsEscalating bool `json:"isEscalating"`
	// RepeatedViolationCount is the max same-type repeat count minus one.
	RepeatedViolationCount int `json:"repeatedViolationCount"`
	// ObfuscationAttempts counts signals carrying obfuscation flags.
	ObfuscationAttempts int `json:"obfuscationAttempts"`
}

// NetworkInputs feeds the V1 network corroboration layer.
type NetworkInputs struct {
	FlaggedCounterparties  int  `json:"flaggedCounterparties"`
	SharedPaymentEndpoints bool `json:"sharedPaymentEndpoints"`
	SimilarPatternUsers    int  `json:"similarPatternUsers"`
	InDeviceCluster        bool `json:"inDeviceCluster"`
}

// FactorsV1 holds the three pre-clamped layer scores (each 0-100).
type FactorsV1 struct {
	Operational float64 `json:"operational"`
	Behavioral  float64 `json:"behavioral"`
	Network     float64 `json:"network"`
}

// ScoreResultV1 is the composite 3-layer result.
// Score is inverted: 0 = fully trusted, 100 = maximum risk.
type ScoreResultV1 struct {
	Score   float64   `json:"score"`
	Factors FactorsV1 `json:"factors"`
}

// ─── V2 (5-component additive) input records ─────────────────

// BehavioralInputsV2 feeds the V2 behavioral component (max 25).
type BehavioralInputsV2 struct {
	// BookingCancellationRate over 30 days (0-1), correlation-boosted
	// and re-clamped to at most 1.0 by the aggregator.
	BookingCancellationRate float64 `json:"bookingCancellationRate"`
	// BookingTimeAnomalyCount over 7 days (bookings at unusual hours).
	BookingTimeAnomalyCount int `json:"bookingTimeAnomalyCount"`
	// DormantReactivated reports a 60+ day dormant account turning active.
	DormantReactivated bool `json:"dormantReactivated"`
	// ActivityBurstCount is the number of >5-signal days over 7 days.
	ActivityBurstCount int `json:"activityBurstCount"`
}

// FinancialInputs feeds the V2 financial component (max 25).
type FinancialInputs struct {
	OffPlatformPaymentSignals int `json:"offPlatformPaymentSignals"`
	CircularPaymentCount      int `json:"circularPaymentCount"`
	RapidTopupCount           int `json:"rapidTopupCount"`
	SplitTransactionCount     int `json:"splitTransactionCount"`
	// WithdrawalDepositRatio over 30 days. Defined as 0 when deposits are
	// zero, which suppresses the ratio term for users with no deposits;
	// their outflows still surface through the other financial terms.
	WithdrawalDepositRatio float64 `json:"withdrawalDepositRatio"`
}

// CommunicationInputs feeds the V2 communication component (max 20).
// Counts only — the scorer never sees message content.
type CommunicationInputs struct {
	// ContactSignalCount over 7 days, time-decayed (fractional).
	ContactSignalCount      float64 `json:"contactSignalCount"`
	ObfuscationAttemptCount int     `json:"obfuscationAttemptCount"`
	GroomingSignalCount     int     `json:"groomingSignalCount"`
	OffPlatformIntentCount  int     `json:"offPlatformIntentCount"`
	EscalationPattern       bool    `json:"escalationPattern"`
}

// HistoricalInputs feeds the V2 historical component (max 20).
type HistoricalInputs struct {
	// ProviderCompletionRate all-time (0-1); only scored for providers.
	ProviderCompletionRate  float64 `json:"providerCompletionRate"`
	CustomerDisputeRate     float64 `json:"customerDisputeRate"`
	EnforcementHistoryCount int     `json:"enforcementHistoryCount"`
	AppealDeniedCount       int     `json:"appealDeniedCount"`
	RepeatOffenseSameType   int     `json:"repeatOffenseSameType"`
	IsProvider              bool    `json:"isProvider"`
}

// Verification status enumerants for KYC inputs.
const (
	VerificationUnverified = "unverified"
	VerificationPending    = "pending"
	VerificationVerified   = "verified"
)

// KYCInputs feeds the V2 KYC component (max 10, inverse: starts at 10
// and is reduced by trust indicators).
type KYCInputs struct {
	VerificationStatus  string  `json:"verificationStatus"`
	AccountAgeDays      int     `json:"accountAgeDays"`
	ProfileCompleteness float64 `json:"profileCompleteness"`
}

// ─── V2 component scores ─────────────────────────────────────

// Each component pairs its bounded score with the input record that
// produced it, for audit and explainability.

type BehavioralComponent struct {
	Score  float64            `json:"score"`
	Inputs BehavioralInputsV2 `json:"inputs"`
}

type FinancialComponent struct {
	Score  float64         `json:"score"`
	Inputs FinancialInputs `json:"inputs"`
}

type CommunicationComponent struct {
	Score  float64             `json:"score"`
	Inputs CommunicationInputs `json:"inputs"`
}

type HistoricalComponent struct {
	Score  float64          `json:"score"`
	Inputs HistoricalInputs `json:"inputs"`
}

type KYCComponent struct {
	Score  float64   `json:"score"`
	Inputs KYCInputs `json:"inputs"`
}

// FactorsV2 holds all five component scores.
type FactorsV2 struct {
	Behavioral    BehavioralComponent    `json:"behavioral"`
	Financial     FinancialComponent     `json:"financial"`
	Communication CommunicationComponent `json:"communication"`
	Historical    HistoricalComponent    `json:"historical"`
	KYC           KYCComponent           `json:"kyc"`
}

// ScoreResultV2 is the composite 5-component result.
type ScoreResultV2 struct {
	Score   float64   `json:"score"`
	Factors FactorsV2 `json:"factors"`
}

// ─── Persisted score record ──────────────────────────────────

// RiskScore is a computed score as persisted by the repository.
// Factors carries the model-specific breakdown (FactorsV1 or FactorsV2).
type RiskScore struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenantId"`
	UserID       string         `json:"userId"`
	Score        float64        `json:"score"`
	Tier         RiskTier       `json:"tier"`
	Trend        TrendDirection `json:"trend"`
	ModelVersion string         `json:"modelVersion"`
	Factors      any            `json:"factors,omitempty"`
	SignalCount  int            `json:"signalCount"`
	LastSignalAt *time.Time     `json:"lastSignalAt,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}
