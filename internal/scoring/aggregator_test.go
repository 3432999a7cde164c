package scoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-trust/kestrel/internal/domain"
)

// stubStore is a configurable TelemetryStore. When err is set every
// method fails with it, exercising the fail-to-default paths.
type stubStore struct {
	bookings       domain.BookingStats
	providerStats  domain.BookingStats
	anomalies      int
	signalStats    domain.SignalStats
	signalTimes    []time.Time
	signalCount    int
	burstDays      int
	lastSignal     *time.Time
	wallet         domain.WalletStats
	circular       int
	splitDays      int
	transactions   domain.TransactionStats
	flagged        int
	sharedEndpoint bool
	correlations   int
	peers          domain.DevicePeers
	relations      int
	profile        domain.UserProfile
	enforcement    domain.EnforcementStats
	appealsDenied  int
	err            error
}

func (s *stubStore) BookingStats(ctx context.Context, tenantID, userID string, since time.Time) (*domain.BookingStats, error) {
	if s.err != nil {
		return nil, s.err
	}
	b := s.bookings
	return &b, nil
}

func (s *stubStore) ProviderBookingStats(ctx context.Context, tenantID, userID string) (*domain.BookingStats, error) {
	if s.err != nil {
		return nil, s.err
	}
	b := s.providerStats
	return &b, nil
}

func (s *stubStore) BookingTimeAnomalyCount(ctx context.Context, tenantID, userID string, since time.Time) (int, error) {
	return s.anomalies, s.err
}

func (s *stubStore) SignalStats(ctx context.Context, tenantID, userID string, since time.Time) (*domain.SignalStats, error) {
	if s.err != nil {
		return nil, s.err
	}
	st := s.signalStats
	return &st, nil
}

func (s *stubStore) SignalTimes(ctx context.Context, tenantID, userID string, types []string, since time.Time) ([]time.Time, error) {
	return s.signalTimes, s.err
}

func (s *stubStore) CountSignals(ctx context.Context, tenantID, userID string, types []string, since time.Time) (int, error) {
	return s.signalCount, s.err
}

func (s *stubStore) SignalBurstDays(ctx context.Context, tenantID, userID string, since time.Time, threshold int) (int, error) {
	return s.burstDays, s.err
}

func (s *stubStore) LastSignalBefore(ctx context.Context, tenantID, userID string, cutoff time.Time) (*time.Time, error) {
	return s.lastSignal, s.err
}

func (s *stubStore) WalletStats(ctx context.Context, tenantID, userID string, since time.Time) (*domain.WalletStats, error) {
	if s.err != nil {
		return nil, s.err
	}
	w := s.wallet
	return &w, nil
}

func (s *stubStore) CircularCounterparties(ctx context.Context, tenantID, userID string, since time.Time) (int, error) {
	return s.circular, s.err
}

func (s *stubStore) SplitTransactionDays(ctx context.Context, tenantID, userID string, since time.Time) (int, error) {
	return s.splitDays, s.err
}

func (s *stubStore) TransactionStats(ctx context.Context, tenantID, userID string, since time.Time) (*domain.TransactionStats, error) {
	if s.err != nil {
		return nil, s.err
	}
	t := s.transactions
	return &t, nil
}

func (s *stubStore) FlaggedCounterparties(ctx context.Context, tenantID, userID string) (int, error) {
	return s.flagged, s.err
}

func (s *stubStore) SharedPaymentEndpoints(ctx context.Context, tenantID, userID string) (bool, error) {
	return s.sharedEndpoint, s.err
}

func (s *stubStore) CorrelationCount(ctx context.Context, tenantID, userID, correlationType string, since time.Time) (int, error) {
	return s.correlations, s.err
}

func (s *stubStore) DevicePeers(ctx context.Context, tenantID, userID string) (*domain.DevicePeers, error) {
	if s.err != nil {
		return nil, s.err
	}
	p := s.peers
	return &p, nil
}

func (s *stubStore) HighRiskRelationshipCount(ctx context.Context, tenantID, userID string) (int, error) {
	return s.relations, s.err
}

func (s *stubStore) UserProfile(ctx context.Context, tenantID, userID string) (*domain.UserProfile, error) {
	if s.err != nil {
		return nil, s.err
	}
	p := s.profile
	return &p, nil
}

func (s *stubStore) EnforcementStats(ctx context.Context, tenantID, userID string, recentSince time.Time) (*domain.EnforcementStats, error) {
	if s.err != nil {
		return nil, s.err
	}
	e := s.enforcement
	return &e, nil
}

func (s *stubStore) AppealDeniedCount(ctx context.Context, tenantID, userID string) (int, error) {
	return s.appealsDenied, s.err
}

func (s *stubStore) Ping(ctx context.Context) error { return s.err }
func (s *stubStore) Close() error                   { return nil }

// scoreRepo serves only RecentScores; the embedded interface panics on
// anything else, which no aggregation path should reach.
type scoreRepo struct {
	domain.Repository
	scores []float64
}

func (r *scoreRepo) RecentScores(ctx context.Context, tenantID, userID string, limit int) ([]float64, error) {
	return r.scores, nil
}

var testBase = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestAggregator(store domain.TelemetryStore, repo domain.Repository) *Aggregator {
	agg := NewAggregator(store, repo)
	agg.now = func() time.Time { return testBase }
	return agg
}

func TestOperationalInputs(t *testing.T) {
	ctx := context.Background()

	t.Run("NoTransactionsFullEscrow", func(t *testing.T) {
		agg := newTestAggregator(&stubStore{}, nil)
		in := agg.OperationalInputs(ctx, "t1", "u1")
		if in.EscrowUsageRatio != 1.0 {
			t.Errorf("expected ratio 1.0, got %.2f", in.EscrowUsageRatio)
		}
	})

	t.Run("ComputesEscrowRatio", func(t *testing.T) {
		store := &stubStore{
			transactions: domain.TransactionStats{Total: 4, EscrowCount: 3, Cancelled: 2},
			signalCount:  5,
		}
		agg := newTestAggregator(store, nil)
		in := agg.OperationalInputs(ctx, "t1", "u1")
		if in.EscrowUsageRatio != 0.75 {
			t.Errorf("expected ratio 0.75, got %.2f", in.EscrowUsageRatio)
		}
		if in.RecentCancellations != 2 || in.RecentTransactions != 4 {
			t.Errorf("unexpected transaction counts: %+v", in)
		}
		if in.OffPlatformPaymentAttempts != 5 {
			t.Errorf("expected 5 off-platform attempts, got %d", in.OffPlatformPaymentAttempts)
		}
	})

	t.Run("StoreFailureSafeDefault", func(t *testing.T) {
		agg := newTestAggregator(&stubStore{err: errors.New("db down")}, nil)
		in := agg.OperationalInputs(ctx, "t1", "u1")
		if in.EscrowUsageRatio != 1.0 || in.RecentTransactions != 0 {
			t.Errorf("expected full-trust default, got %+v", in)
		}
	})
}

func TestBehavioralInputs(t *testing.T) {
	ctx := context.Background()

	t.Run("FreshSignalsCountFully", func(t *testing.T) {
		store := &stubStore{
			signalTimes: []time.Time{testBase, testBase, testBase},
			signalStats: domain.SignalStats{UniqueTypes: 2, MaxSameTypeCount: 3, ObfuscationCount: 1},
		}
		agg := newTestAggregator(store, nil)
		in := agg.BehavioralInputs(ctx, "t1", "u1")
		if in.RecentSignalCount != 3 {
			t.Errorf("expected decayed count 3, got %d", in.RecentSignalCount)
		}
		if in.UniqueSignalTypes != 2 {
			t.Errorf("expected 2 unique types, got %d", in.UniqueSignalTypes)
		}
		if in.RepeatedViolationCount != 2 {
			t.Errorf("expected repeat count 2, got %d", in.RepeatedViolationCount)
		}
		if in.ObfuscationAttempts != 1 {
			t.Errorf("expected 1 obfuscation attempt, got %d", in.ObfuscationAttempts)
		}
	})

	t.Run("AgedSignalsDecay", func(t *testing.T) {
		// Two signals exactly one half-life old round to 1.
		old := testBase.Add(-DecayHalfLife)
		store := &stubStore{signalTimes: []time.Time{old, old}}
		agg := newTestAggregator(store, nil)
		in := agg.BehavioralInputs(ctx, "t1", "u1")
		if in.RecentSignalCount != 1 {
			t.Errorf("expected decayed count 1, got %d", in.RecentSignalCount)
		}
	})

	t.Run("EscalatingFromScoreHistory", func(t *testing.T) {
		repo := &scoreRepo{scores: []float64{62, 55, 48, 40, 35}} // newest first
		agg := newTestAggregator(&stubStore{}, repo)
		in := agg.BehavioralInputs(ctx, "t1", "u1")
		if !in.IsEscalating {
			t.Error("expected escalating with rising score history")
		}
	})

	t.Run("FlatHistoryNotEscalating", func(t *testing.T) {
		repo := &scoreRepo{scores: []float64{42, 40, 41}}
		agg := newTestAggregator(&stubStore{}, repo)
		if agg.BehavioralInputs(ctx, "t1", "u1").IsEscalating {
			t.Error("expected not escalating for flat history")
		}
	})

	t.Run("NilRepoNeverEscalating", func(t *testing.T) {
		agg := newTestAggregator(&stubStore{}, nil)
		if agg.BehavioralInputs(ctx, "t1", "u1").IsEscalating {
			t.Error("expected not escalating with nil repo")
		}
	})
}

func TestNetworkInputs(t *testing.T) {
	ctx := context.Background()

	t.Run("DeviceClusterFromPeers", func(t *testing.T) {
		store := &stubStore{
			flagged:        2,
			sharedEndpoint: true,
			peers:          domain.DevicePeers{HighRiskPeers: 1},
		}
		agg := newTestAggregator(store, nil)
		in := agg.NetworkInputs(ctx, "t1", "u1")
		if in.FlaggedCounterparties != 2 || !in.SharedPaymentEndpoints || !in.InDeviceCluster {
			t.Errorf("unexpected network inputs: %+v", in)
		}
	})

	t.Run("StoreFailureSafeDefault", func(t *testing.T) {
		agg := newTestAggregator(&stubStore{err: errors.New("db down")}, nil)
		in := agg.NetworkInputs(ctx, "t1", "u1")
		if in.FlaggedCounterparties != 0 || in.SharedPaymentEndpoints || in.InDeviceCluster {
			t.Errorf("expected zero default, got %+v", in)
		}
	})
}

func TestBehavioralInputsV2(t *testing.T) {
	ctx := context.Background()

	t.Run("CancellationRate", func(t *testing.T) {
		store := &stubStore{bookings: domain.BookingStats{Total: 4, Cancelled: 2}}
		agg := newTestAggregator(store, nil)
		in := agg.BehavioralInputsV2(ctx, "t1", "u1")
		if in.BookingCancellationRate != 0.5 {
			t.Errorf("expected rate 0.5, got %.2f", in.BookingCancellationRate)
		}
	})

	t.Run("CorrelationBoostsRate", func(t *testing.T) {
		store := &stubStore{
			bookings:     domain.BookingStats{Total: 4, Cancelled: 2},
			correlations: 1,
		}
		agg := newTestAggregator(store, nil)
		in := agg.BehavioralInputsV2(ctx, "t1", "u1")
		if in.BookingCancellationRate != 0.75 {
			t.Errorf("expected boosted rate 0.75, got %.2f", in.BookingCancellationRate)
		}
	})

	t.Run("BoostedRateClampedToOne", func(t *testing.T) {
		store := &stubStore{
			bookings:     domain.BookingStats{Total: 10, Cancelled: 8},
			correlations: 3,
		}
		agg := newTestAggregator(store, nil)
		in := agg.BehavioralInputsV2(ctx, "t1", "u1")
		if in.BookingCancellationRate != 1.0 {
			t.Errorf("expected clamped rate 1.0, got %.2f", in.BookingCancellationRate)
		}
	})

	t.Run("DormantReactivation", func(t *testing.T) {
		oldSignal := testBase.Add(-90 * 24 * time.Hour)
		store := &stubStore{
			lastSignal:  &oldSignal,
			signalCount: 2,
		}
		agg := newTestAggregator(store, nil)
		if !agg.BehavioralInputsV2(ctx, "t1", "u1").DormantReactivated {
			t.Error("expected dormant reactivation")
		}
	})

	t.Run("NoHistoryNotDormant", func(t *testing.T) {
		agg := newTestAggregator(&stubStore{signalCount: 2}, nil)
		if agg.BehavioralInputsV2(ctx, "t1", "u1").DormantReactivated {
			t.Error("account with no old signals should not read as dormant")
		}
	})

	t.Run("AnomaliesAndBursts", func(t *testing.T) {
		store := &stubStore{anomalies: 3, burstDays: 2}
		agg := newTestAggregator(store, nil)
		in := agg.BehavioralInputsV2(ctx, "t1", "u1")
		if in.BookingTimeAnomalyCount != 3 || in.ActivityBurstCount != 2 {
			t.Errorf("unexpected inputs: %+v", in)
		}
	})
}

func TestFinancialInputsAggregation(t *testing.T) {
	ctx := context.Background()

	t.Run("RapidTopupsAboveBaseline", func(t *testing.T) {
		store := &stubStore{wallet: domain.WalletStats{DepositCount: 5, DepositTotal: 100}}
		agg := newTestAggregator(store, nil)
		if got := agg.FinancialInputs(ctx, "t1", "u1").RapidTopupCount; got != 3 {
			t.Errorf("expected 3 rapid top-ups, got %d", got)
		}
	})

	t.Run("FewDepositsNoTopups", func(t *testing.T) {
		store := &stubStore{wallet: domain.WalletStats{DepositCount: 1, DepositTotal: 50}}
		agg := newTestAggregator(store, nil)
		if got := agg.FinancialInputs(ctx, "t1", "u1").RapidTopupCount; got != 0 {
			t.Errorf("expected 0 rapid top-ups, got %d", got)
		}
	})

	t.Run("WithdrawalDepositRatio", func(t *testing.T) {
		store := &stubStore{wallet: domain.WalletStats{WithdrawalTotal: 300, DepositTotal: 100}}
		agg := newTestAggregator(store, nil)
		if got := agg.FinancialInputs(ctx, "t1", "u1").WithdrawalDepositRatio; got != 3.0 {
			t.Errorf("expected ratio 3.0, got %.2f", got)
		}
	})

	t.Run("NoDepositsRatioZero", func(t *testing.T) {
		store := &stubStore{wallet: domain.WalletStats{WithdrawalTotal: 500}}
		agg := newTestAggregator(store, nil)
		if got := agg.FinancialInputs(ctx, "t1", "u1").WithdrawalDepositRatio; got != 0 {
			t.Errorf("expected ratio 0 without deposits, got %.2f", got)
		}
	})

	t.Run("CountsPassThrough", func(t *testing.T) {
		store := &stubStore{signalCount: 2, circular: 1, splitDays: 4}
		agg := newTestAggregator(store, nil)
		in := agg.FinancialInputs(ctx, "t1", "u1")
		if in.OffPlatformPaymentSignals != 2 || in.CircularPaymentCount != 1 || in.SplitTransactionCount != 4 {
			t.Errorf("unexpected inputs: %+v", in)
		}
	})
}

func TestHistoricalInputsAggregation(t *testing.T) {
	ctx := context.Background()

	t.Run("ProviderCompletion", func(t *testing.T) {
		store := &stubStore{
			profile:       domain.UserProfile{IsProvider: true},
			providerStats: domain.BookingStats{Total: 10, Completed: 6},
		}
		agg := newTestAggregator(store, nil)
		in := agg.HistoricalInputs(ctx, "t1", "u1")
		if in.ProviderCompletionRate != 0.6 {
			t.Errorf("expected completion 0.6, got %.2f", in.ProviderCompletionRate)
		}
		if !in.IsProvider {
			t.Error("expected provider flag")
		}
	})

	t.Run("ClientFullCompletion", func(t *testing.T) {
		store := &stubStore{providerStats: domain.BookingStats{Total: 10, Completed: 1}}
		agg := newTestAggregator(store, nil)
		in := agg.HistoricalInputs(ctx, "t1", "u1")
		if in.ProviderCompletionRate != 1.0 || in.IsProvider {
			t.Errorf("client should score full completion, got %+v", in)
		}
	})

	t.Run("DisputeAndEnforcement", func(t *testing.T) {
		store := &stubStore{
			bookings:      domain.BookingStats{Total: 5, Disputed: 1},
			enforcement:   domain.EnforcementStats{TotalActions: 2},
			appealsDenied: 1,
			signalStats:   domain.SignalStats{MaxSameTypeCount: 4},
		}
		agg := newTestAggregator(store, nil)
		in := agg.HistoricalInputs(ctx, "t1", "u1")
		if in.CustomerDisputeRate != 0.2 {
			t.Errorf("expected dispute rate 0.2, got %.2f", in.CustomerDisputeRate)
		}
		if in.EnforcementHistoryCount != 2 || in.AppealDeniedCount != 1 || in.RepeatOffenseSameType != 3 {
			t.Errorf("unexpected inputs: %+v", in)
		}
	})

	t.Run("StoreFailureFullTrust", func(t *testing.T) {
		agg := newTestAggregator(&stubStore{err: errors.New("db down")}, nil)
		in := agg.HistoricalInputs(ctx, "t1", "u1")
		if in.ProviderCompletionRate != 1.0 || in.EnforcementHistoryCount != 0 {
			t.Errorf("expected full-trust default, got %+v", in)
		}
	})
}

func TestKYCInputsAggregation(t *testing.T) {
	ctx := context.Background()

	t.Run("AccountAgeFromProfile", func(t *testing.T) {
		store := &stubStore{profile: domain.UserProfile{
			VerificationStatus:  domain.VerificationVerified,
			CreatedAt:           testBase.Add(-200 * 24 * time.Hour),
			ProfileCompleteness: 0.9,
		}}
		agg := newTestAggregator(store, nil)
		in := agg.KYCInputs(ctx, "t1", "u1")
		if in.AccountAgeDays != 200 {
			t.Errorf("expected age 200 days, got %d", in.AccountAgeDays)
		}
		if in.VerificationStatus != domain.VerificationVerified || in.ProfileCompleteness != 0.9 {
			t.Errorf("unexpected inputs: %+v", in)
		}
	})

	t.Run("EmptyStatusReadsUnverified", func(t *testing.T) {
		agg := newTestAggregator(&stubStore{}, nil)
		if got := agg.KYCInputs(ctx, "t1", "u1").VerificationStatus; got != domain.VerificationUnverified {
			t.Errorf("expected unverified, got %q", got)
		}
	})

	t.Run("StoreFailureConservativeDefault", func(t *testing.T) {
		agg := newTestAggregator(&stubStore{err: errors.New("db down")}, nil)
		in := agg.KYCInputs(ctx, "t1", "u1")
		if in.VerificationStatus != domain.VerificationUnverified || in.AccountAgeDays != 0 {
			t.Errorf("expected unverified default, got %+v", in)
		}
	})
}

func TestNetworkPenalty(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		store *stubStore
		want  float64
	}{
		{"Clean", &stubStore{}, 0},
		{"SuspendedPeer", &stubStore{peers: domain.DevicePeers{SuspendedPeers: 1}}, 3},
		{"HighRiskPeer", &stubStore{peers: domain.DevicePeers{HighRiskPeers: 2}}, 2},
		{"FewRelationsIgnored", &stubStore{relations: 2}, 0},
		{"ClusteredRelations", &stubStore{relations: 3}, 2},
		{
			"AllTermsCapped",
			&stubStore{
				peers:     domain.DevicePeers{SuspendedPeers: 1, HighRiskPeers: 1},
				relations: 5,
			},
			7,
		},
		{"StoreFailure", &stubStore{err: errors.New("db down")}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := newTestAggregator(tt.store, nil)
			if got := agg.NetworkPenalty(ctx, "t1", "u1"); got != tt.want {
				t.Errorf("expected penalty %.0f, got %.2f", tt.want, got)
			}
		})
	}
}
