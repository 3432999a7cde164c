package scoring

import (
	"context"
	"time"

	"github.com/opensource-trust/kestrel/internal/domain"
)

// 5-component model aggregation. Same fail-to-default policy as the
// 3-layer aggregations: every method returns safe defaults on any
// telemetry store error.

// BehavioralInputsV2 aggregates booking cancellations (30d,
// correlation-boosted), time anomalies (7d), dormant reactivation, and
// activity bursts (7d).
func (a *Aggregator) BehavioralInputsV2(ctx context.Context, tenantID, userID string) domain.BehavioralInputsV2 {
	var def domain.BehavioralInputsV2

	return aggregate("behavioral-v2", def, func() (domain.BehavioralInputsV2, error) {
		now := a.now()

		bookings, err := a.store.BookingStats(ctx, tenantID, userID, now.Add(-window30d))
		if err != nil {
			return def, err
		}
		rate := 0.0
		if bookings.Total > 0 {
			rate = float64(bookings.Cancelled) / float64(bookings.Total)
		}

		anomalies, err := a.store.BookingTimeAnomalyCount(ctx, tenantID, userID, now.Add(-window7d))
		if err != nil {
			return def, err
		}

		dormant, err := a.dormantReactivated(ctx, tenantID, userID, now)
		if err != nil {
			return def, err
		}

		bursts, err := a.store.SignalBurstDays(ctx, tenantID, userID, now.Add(-window7d), burstThreshold)
		if err != nil {
			return def, err
		}

		// Boost the cancellation rate when contact-then-cancel
		// correlations were recorded in the last 30 days, re-clamped so
		// the boosted rate never exceeds 1.0.
		boost, err := a.cancellationCorrelationBoost(ctx, tenantID, userID, now)
		if err != nil {
			return def, err
		}

		return domain.BehavioralInputsV2{
			BookingCancellationRate: clamp(rate*boost, 0, 1.0),
			BookingTimeAnomalyCount: anomalies,
			DormantReactivated:      dormant,
			ActivityBurstCount:      bursts,
		}, nil
	})
}

// FinancialInputs aggregates off-platform payment signals, circular
// payments, rapid top-ups, split transactions, and the
// withdrawal-to-deposit ratio.
func (a *Aggregator) FinancialInputs(ctx context.Context, tenantID, userID string) domain.FinancialInputs {
	var def domain.FinancialInputs

	return aggregate("financial", def, func() (domain.FinancialInputs, error) {
		now := a.now()
		thirtyDaysAgo := now.Add(-window30d)

		offPlatform, err := a.store.CountSignals(ctx, tenantID, userID,
			[]string{SignalPaymentExternal, SignalTxRedirectAttempt}, thirtyDaysAgo)
		if err != nil {
			return def, err
		}

		circular, err := a.store.CircularCounterparties(ctx, tenantID, userID, thirtyDaysAgo)
		if err != nil {
			return def, err
		}

		// More than 2 deposits in 7 days is notable.
		week, err := a.store.WalletStats(ctx, tenantID, userID, now.Add(-window7d))
		if err != nil {
			return def, err
		}
		rapidTopups := week.DepositCount - 2
		if rapidTopups < 0 {
			rapidTopups = 0
		}

		split, err := a.store.SplitTransactionDays(ctx, tenantID, userID, thirtyDaysAgo)
		if err != nil {
			return def, err
		}

		month, err := a.store.WalletStats(ctx, tenantID, userID, thirtyDaysAgo)
		if err != nil {
			return def, err
		}
		// Ratio defaults to 0 when there are no deposits; outflow-only
		// accounts surface through the other financial terms instead.
		ratio := 0.0
		if month.DepositTotal > 0 {
			ratio = month.WithdrawalTotal / month.DepositTotal
		}

		return domain.FinancialInputs{
			OffPlatformPaymentSignals: offPlatform,
			CircularPaymentCount:      circular,
			RapidTopupCount:           rapidTopups,
			SplitTransactionCount:     split,
			WithdrawalDepositRatio:    ratio,
		}, nil
	})
}

// CommunicationInputs aggregates contact signals (7d, time-decayed),
// obfuscation attempts (7d), grooming signals (30d), off-platform intent
// (7d), and the escalation pattern. Counts only, never content.
func (a *Aggregator) CommunicationInputs(ctx context.Context, tenantID, userID string) domain.CommunicationInputs {
	var def domain.CommunicationInputs

	return aggregate("communication", def, func() (domain.CommunicationInputs, error) {
		now := a.now()
		sevenDaysAgo := now.Add(-window7d)

		contactTimes, err := a.store.SignalTimes(ctx, tenantID, userID,
			[]string{SignalContactPhone, SignalContactEmail, SignalContactSocial, SignalContactMessaging},
			sevenDaysAgo)
		if err != nil {
			return def, err
		}

		stats, err := a.store.SignalStats(ctx, tenantID, userID, sevenDaysAgo)
		if err != nil {
			return def, err
		}

		grooming, err := a.store.CountSignals(ctx, tenantID, userID,
			[]string{SignalGroomingLanguage}, now.Add(-window30d))
		if err != nil {
			return def, err
		}

		intent, err := a.store.CountSignals(ctx, tenantID, userID,
			[]string{SignalOffPlatformIntent}, sevenDaysAgo)
		if err != nil {
			return def, err
		}

		return domain.CommunicationInputs{
			ContactSignalCount:      round2(DecayedCount(now, contactTimes)),
			ObfuscationAttemptCount: stats.ObfuscationCount,
			GroomingSignalCount:     grooming,
			OffPlatformIntentCount:  intent,
			EscalationPattern:       a.isEscalating(ctx, tenantID, userID),
		}, nil
	})
}

// HistoricalInputs aggregates all-time completion/dispute rates,
// enforcement history, denied appeals, and 90-day same-type repeats.
// Safe default: full trust (completion 1.0, zero counts).
func (a *Aggregator) HistoricalInputs(ctx context.Context, tenantID, userID string) domain.HistoricalInputs {
	def := domain.HistoricalInputs{ProviderCompletionRate: 1.0}

	return aggregate("historical", def, func() (domain.HistoricalInputs, error) {
		now := a.now()

		profile, err := a.store.UserProfile(ctx, tenantID, userID)
		if err != nil {
			return def, err
		}

		completion := 1.0
		if profile.IsProvider {
			provided, err := a.store.ProviderBookingStats(ctx, tenantID, userID)
			if err != nil {
				return def, err
			}
			if provided.Total > 0 {
				completion = float64(provided.Completed) / float64(provided.Total)
			}
		}

		allTime, err := a.store.BookingStats(ctx, tenantID, userID, time.Time{})
		if err != nil {
			return def, err
		}
		disputeRate := 0.0
		if allTime.Total > 0 {
			disputeRate = float64(allTime.Disputed) / float64(allTime.Total)
		}

		enforcement, err := a.store.EnforcementStats(ctx, tenantID, userID, now.Add(-window30d))
		if err != nil {
			return def, err
		}

		appeals, err := a.store.AppealDeniedCount(ctx, tenantID, userID)
		if err != nil {
			return def, err
		}

		repeats, err := a.store.SignalStats(ctx, tenantID, userID, now.Add(-window90d))
		if err != nil {
			return def, err
		}
		repeatOffense := 0
		if repeats.MaxSameTypeCount > 1 {
			repeatOffense = repeats.MaxSameTypeCount - 1
		}

		return domain.HistoricalInputs{
			ProviderCompletionRate:  completion,
			CustomerDisputeRate:     disputeRate,
			EnforcementHistoryCount: enforcement.TotalActions,
			AppealDeniedCount:       appeals,
			RepeatOffenseSameType:   repeatOffense,
			IsProvider:              profile.IsProvider,
		}, nil
	})
}

// KYCInputs aggregates verification status, account age, and profile
// completeness. Safe default: unverified, age 0, completeness 0 — the
// maximum KYC contribution, which is the conservative choice for an
// unknown account.
func (a *Aggregator) KYCInputs(ctx context.Context, tenantID, userID string) domain.KYCInputs {
	def := domain.KYCInputs{VerificationStatus: domain.VerificationUnverified}

	return aggregate("kyc", def, func() (domain.KYCInputs, error) {
		profile, err := a.store.UserProfile(ctx, tenantID, userID)
		if err != nil {
			return def, err
		}

		ageDays := 0
		if !profile.CreatedAt.IsZero() {
			ageDays = int(a.now().Sub(profile.CreatedAt).Hours() / 24)
		}

		status := profile.VerificationStatus
		if status == "" {
			status = domain.VerificationUnverified
		}

		return domain.KYCInputs{
			VerificationStatus:  status,
			AccountAgeDays:      ageDays,
			ProfileCompleteness: profile.ProfileCompleteness,
		}, nil
	})
}

// Network penalty increments and cap.
const (
	penaltySuspendedPeerDevice = 3
	penaltyHighRiskPeerDevice  = 2
	penaltyHighRiskRelations   = 2
	networkPenaltyCap          = 7
)

// NetworkPenalty sums discrete penalties for device sharing with
// suspended or high-risk peers and for clustered high-risk
// relationships, capped at 7. Safe default: 0.
func (a *Aggregator) NetworkPenalty(ctx context.Context, tenantID, userID string) float64 {
	return aggregate("network-penalty", 0.0, func() (float64, error) {
		var penalty float64

		peers, err := a.store.DevicePeers(ctx, tenantID, userID)
		if err != nil {
			return 0, err
		}
		if peers.SuspendedPeers > 0 {
			penalty += penaltySuspendedPeerDevice
		}
		if peers.HighRiskPeers > 0 {
			penalty += penaltyHighRiskPeerDevice
		}

		relations, err := a.store.HighRiskRelationshipCount(ctx, tenantID, userID)
		if err != nil {
			return 0, err
		}
		if relations >= 3 {
			penalty += penaltyHighRiskRelations
		}

		if penalty > networkPenaltyCap {
			penalty = networkPenaltyCap
		}
		return penalty, nil
	})
}

// dormantReactivated reports whether the account was quiet for 60+ days
// and then produced signals in the last 7.
func (a *Aggregator) dormantReactivated(ctx context.Context, tenantID, userID string, now time.Time) (bool, error) {
	lastOld, err := a.store.LastSignalBefore(ctx, tenantID, userID, now.Add(-window60d))
	if err != nil {
		return false, err
	}
	if lastOld == nil {
		return false, nil
	}

	recent, err := a.store.CountSignals(ctx, tenantID, userID, nil, now.Add(-window7d))
	if err != nil {
		return false, err
	}

	return recent > 0 && now.Sub(*lastOld) > window60d, nil
}

// cancellationCorrelationBoost returns 1.5 when a contact-then-cancel
// correlation was recorded in the last 30 days, 1.0 otherwise.
func (a *Aggregator) cancellationCorrelationBoost(ctx context.Context, tenantID, userID string, now time.Time) (float64, error) {
	count, err := a.store.CorrelationCount(ctx, tenantID, userID,
		CorrelationContactThenCancel, now.Add(-window30d))
	if err != nil {
		return 1.0, err
	}
	if count > 0 {
		return 1.5, nil
	}
	return 1.0, nil
}
