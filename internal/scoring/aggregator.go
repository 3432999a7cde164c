package scoring

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/opensource-trust/kestrel/internal/domain"
)

// Risk-signal type enumerants used by the aggregation queries.
const (
	SignalPaymentExternal   = "PAYMENT_EXTERNAL"
	SignalTxRedirectAttempt = "TX_REDIRECT_ATTEMPT"
	SignalContactPhone      = "CONTACT_PHONE"
	SignalContactEmail      = "CONTACT_EMAIL"
	SignalContactSocial     = "CONTACT_SOCIAL"
	SignalContactMessaging  = "CONTACT_MESSAGING_APP"
	SignalGroomingLanguage  = "GROOMING_LANGUAGE"
	SignalOffPlatformIntent = "OFF_PLATFORM_INTENT"

	// CorrelationContactThenCancel marks a recorded contact-then-cancel
	// pattern; its presence boosts the cancellation-rate input.
	CorrelationContactThenCancel = "contact_then_cancel"
)

// Aggregation windows.
const (
	window7d  = 7 * 24 * time.Hour
	window30d = 30 * 24 * time.Hour
	window60d = 60 * 24 * time.Hour
	window90d = 90 * 24 * time.Hour
)

// burstThreshold is the per-day signal count above which a day counts as
// an activity burst.
const burstThreshold = 5

// Aggregator computes per-user, per-dimension input records from the
// telemetry store. Every aggregation method is independently
// fault-tolerant: a store failure yields the dimension's documented safe
// default (zero risk, full trust) rather than an error, so scoring always
// completes even under partial telemetry outage.
type Aggregator struct {
	store domain.TelemetryStore
	repo  domain.Repository // score history for escalation detection; may be nil
	now   func() time.Time
}

// NewAggregator creates an aggregator over the given telemetry store.
// repo may be nil; escalation detection then always reports false.
func NewAggregator(store domain.TelemetryStore, repo domain.Repository) *Aggregator {
	return &Aggregator{
		store: store,
		repo:  repo,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// aggregate runs fn and substitutes the documented safe default when the
// telemetry store fails. This is the single place the fail-to-default
// policy lives; aggregation failures never block scoring.
func aggregate[T any](dimension string, def T, fn func() (T, error)) T {
	v, err := fn()
	if err != nil {
		slog.Warn("aggregation failed, using safe defaults",
			"dimension", dimension,
			"error", err,
		)
		return def
	}
	return v
}

// ─── 3-layer model inputs ────────────────────────────────────

// OperationalInputs aggregates escrow usage, cancellations, and
// off-platform payment signals over 30 days.
// Safe default: full trust (escrow ratio 1.0, zero counts).
func (a *Aggregator) OperationalInputs(ctx context.Context, tenantID, userID string) domain.OperationalInputs {
	def := domain.OperationalInputs{EscrowUsageRatio: 1.0}

	return aggregate("operational", def, func() (domain.OperationalInputs, error) {
		since := a.now().Add(-window30d)

		txs, err := a.store.TransactionStats(ctx, tenantID, userID, since)
		if err != nil {
			return def, err
		}

		offPlatform, err := a.store.CountSignals(ctx, tenantID, userID,
			[]string{SignalPaymentExternal, SignalTxRedirectAttempt}, since)
		if err != nil {
			return def, err
		}

		ratio := 1.0
		if txs.Total > 0 {
			ratio = float64(txs.EscrowCount) / float64(txs.Total)
		}

		return domain.OperationalInputs{
			EscrowUsageRatio:           ratio,
			RecentCancellations:        txs.Cancelled,
			RecentTransactions:         txs.Total,
			OffPlatformPaymentAttempts: offPlatform,
		}, nil
	})
}

// BehavioralInputs aggregates 7-day signal activity with time-decayed
// counting. Safe default: zero activity, not escalating.
func (a *Aggregator) BehavioralInputs(ctx context.Context, tenantID, userID string) domain.BehavioralInputs {
	var def domain.BehavioralInputs

	return aggregate("behavioral", def, func() (domain.BehavioralInputs, error) {
		now := a.now()
		since := now.Add(-window7d)

		times, err := a.store.SignalTimes(ctx, tenantID, userID, nil, since)
		if err != nil {
			return def, err
		}

		stats, err := a.store.SignalStats(ctx, tenantID, userID, since)
		if err != nil {
			return def, err
		}

		repeated := 0
		if stats.MaxSameTypeCount > 1 {
			repeated = stats.MaxSameTypeCount - 1
		}

		return domain.BehavioralInputs{
			RecentSignalCount:      int(math.Round(DecayedCount(now, times))),
			UniqueSignalTypes:      stats.UniqueTypes,
			IsEscalating:           a.isEscalating(ctx, tenantID, userID),
			RepeatedViolationCount: repeated,
			ObfuscationAttempts:    stats.ObfuscationCount,
		}, nil
	})
}

// NetworkInputs aggregates counterparty and endpoint corroboration.
// Safe default: no network corroboration.
func (a *Aggregator) NetworkInputs(ctx context.Context, tenantID, userID string) domain.NetworkInputs {
	var def domain.NetworkInputs

	return aggregate("network", def, func() (domain.NetworkInputs, error) {
		flagged, err := a.store.FlaggedCounterparties(ctx, tenantID, userID)
		if err != nil {
			return def, err
		}

		shared, err := a.store.SharedPaymentEndpoints(ctx, tenantID, userID)
		if err != nil {
			return def, err
		}

		peers, err := a.store.DevicePeers(ctx, tenantID, userID)
		if err != nil {
			return def, err
		}

		return domain.NetworkInputs{
			FlaggedCounterparties:  flagged,
			SharedPaymentEndpoints: shared,
			// Similar-pattern detection needs a clustering pipeline and is
			// not derivable from windowed statistics.
			SimilarPatternUsers: 0,
			InDeviceCluster:     peers.SuspendedPeers+peers.HighRiskPeers > 0,
		}, nil
	})
}

// isEscalating reports whether the newest persisted score exceeds the
// oldest of the last five by more than 5 points.
func (a *Aggregator) isEscalating(ctx context.Context, tenantID, userID string) bool {
	if a.repo == nil {
		return false
	}
	scores, err := a.repo.RecentScores(ctx, tenantID, userID, 5)
	if err != nil || len(scores) < 2 {
		return false
	}
	// Newest first.
	return scores[0] > scores[len(scores)-1]+5
}
