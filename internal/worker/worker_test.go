package worker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-trust/kestrel/internal/bus"
	"github.com/opensource-trust/kestrel/internal/domain"
	"github.com/opensource-trust/kestrel/internal/rules"
	"github.com/opensource-trust/kestrel/internal/scoring"
)

// fakeTelemetry is a canned-response telemetry store. Zero value means a
// user with no recorded activity.
type fakeTelemetry struct {
	signalStats      domain.SignalStats
	signalTimes      []time.Time
	signalCount      int
	transactionStats domain.TransactionStats
	flagged          int
	sharedEndpoints  bool
	devicePeers      domain.DevicePeers
	enforcementStats domain.EnforcementStats
	profile          domain.UserProfile
}

func (f *fakeTelemetry) BookingStats(ctx context.Context, tenantID, userID string, since time.Time) (*domain.BookingStats, error) {
	return &domain.BookingStats{}, nil
}

func (f *fakeTelemetry) ProviderBookingStats(ctx context.Context, tenantID, userID string) (*domain.BookingStats, error) {
	return &domain.BookingStats{}, nil
}

func (f *fakeTelemetry) BookingTimeAnomalyCount(ctx context.Context, tenantID, userID string, since time.Time) (int, error) {
	return 0, nil
}

func (f *fakeTelemetry) SignalStats(ctx context.Context, tenantID, userID string, since time.Time) (*domain.SignalStats, error) {
	stats := f.signalStats
	return &stats, nil
}

func (f *fakeTelemetry) SignalTimes(ctx context.Context, tenantID, userID string, types []string, since time.Time) ([]time.Time, error) {
	return f.signalTimes, nil
}

func (f *fakeTelemetry) CountSignals(ctx context.Context, tenantID, userID string, types []string, since time.Time) (int, error) {
	return f.signalCount, nil
}

func (f *fakeTelemetry) SignalBurstDays(ctx context.Context, tenantID, userID string, since time.Time, threshold int) (int, error) {
	return 0, nil
}

func (f *fakeTelemetry) LastSignalBefore(ctx context.Context, tenantID, userID string, cutoff time.Time) (*time.Time, error) {
	if len(f.signalTimes) == 0 {
		return nil, nil
	}
	t := f.signalTimes[len(f.signalTimes)-1]
	return &t, nil
}

func (f *fakeTelemetry) WalletStats(ctx context.Context, tenantID, userID string, since time.Time) (*domain.WalletStats, error) {
	return &domain.WalletStats{}, nil
}

func (f *fakeTelemetry) CircularCounterparties(ctx context.Context, tenantID, userID string, since time.Time) (int, error) {
	return 0, nil
}

func (f *fakeTelemetry) SplitTransactionDays(ctx context.Context, tenantID, userID string, since time.Time) (int, error) {
	return 0, nil
}

func (f *fakeTelemetry) TransactionStats(ctx context.Context, tenantID, userID string, since time.Time) (*domain.TransactionStats, error) {
	stats := f.transactionStats
	return &stats, nil
}

func (f *fakeTelemetry) FlaggedCounterparties(ctx context.Context, tenantID, userID string) (int, error) {
	return f.flagged, nil
}

func (f *fakeTelemetry) SharedPaymentEndpoints(ctx context.Context, tenantID, userID string) (bool, error) {
	return f.sharedEndpoints, nil
}

func (f *fakeTelemetry) CorrelationCount(ctx context.Context, tenantID, userID, correlationType string, since time.Time) (int, error) {
	return 0, nil
}

func (f *fakeTelemetry) DevicePeers(ctx context.Context, tenantID, userID string) (*domain.DevicePeers, error) {
	peers := f.devicePeers
	return &peers, nil
}

func (f *fakeTelemetry) HighRiskRelationshipCount(ctx context.Context, tenantID, userID string) (int, error) {
	return 0, nil
}

func (f *fakeTelemetry) UserProfile(ctx context.Context, tenantID, userID string) (*domain.UserProfile, error) {
	profile := f.profile
	if profile.VerificationStatus == "" {
		profile.VerificationStatus = domain.VerificationUnverified
	}
	return &profile, nil
}

func (f *fakeTelemetry) EnforcementStats(ctx context.Context, tenantID, userID string, recentSince time.Time) (*domain.EnforcementStats, error) {
	stats := f.enforcementStats
	return &stats, nil
}

func (f *fakeTelemetry) AppealDeniedCount(ctx context.Context, tenantID, userID string) (int, error) {
	return 0, nil
}

func (f *fakeTelemetry) Ping(ctx context.Context) error { return nil }
func (f *fakeTelemetry) Close() error                   { return nil }

// gatedTelemetry holds profile lookups until released, keeping an event
// in flight for as long as the test needs.
type gatedTelemetry struct {
	fakeTelemetry
	entered chan struct{}
	release chan struct{}
}

func (g *gatedTelemetry) UserProfile(ctx context.Context, tenantID, userID string) (*domain.UserProfile, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.fakeTelemetry.UserProfile(ctx, tenantID, userID)
}

func newCalculator(t *testing.T, store domain.TelemetryStore) scoring.Calculator {
	t.Helper()
	agg := scoring.NewAggregator(store, nil)
	calc, err := scoring.NewCalculator(domain.ModelThreeLayer, agg)
	if err != nil {
		t.Fatalf("NewCalculator failed: %v", err)
	}
	return calc
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	engine, err := rules.NewEngine(5)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	engine.LoadRules([]*domain.RuleConfig{
		{
			ID:         "score-check",
			Name:       "Score Check",
			Expression: "score",
			Weight:     1.0,
			Enabled:    true,
			Bands: []domain.RuleBand{
				{UpperLimit: fptr(40), SubRuleRef: domain.RuleOutcomePass, Reason: "below threshold"},
				{LowerLimit: fptr(40), SubRuleRef: domain.RuleOutcomeFail, Reason: "above threshold"},
			},
		},
	})

	benign := &fakeTelemetry{}
	calc := newCalculator(t, benign)

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, nil, benign, nil, calc, engine)

		cfg := Config{TenantIDs: []string{"tenant-001"}}
		if err := w.Start(cfg); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		// One subscription per scoring topic.
		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions, got %d", stats.SubscriptionCount)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = w.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessBenignEvent", func(t *testing.T) {
		w := NewWorker(eventBus, nil, benign, nil, calc, engine)

		cfg := Config{TenantIDs: []string{"tenant-test"}}
		w.Start(cfg)
		defer w.Stop()

		var decisionReceived atomic.Bool
		var decisionPayload []byte

		eventBus.Subscribe(context.Background(), "tenant-test", domain.TopicScoreUpdated, func(ctx context.Context, msg *domain.Message) error {
			decisionPayload = msg.Payload
			decisionReceived.Store(true)
			return nil
		})

		var alertReceived atomic.Bool
		eventBus.Subscribe(context.Background(), "tenant-test", domain.TopicEnforcementAlert, func(ctx context.Context, msg *domain.Message) error {
			alertReceived.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		evt := SignalMessage{
			UserID:    "user-001",
			TenantID:  "tenant-test",
			TraceID:   "trace-001",
			EventType: "booking.created",
		}
		payload, _ := json.Marshal(evt)
		if err := eventBus.Publish(context.Background(), "tenant-test", domain.TopicSignalRecorded, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		time.Sleep(100 * time.Millisecond)

		if !decisionReceived.Load() {
			t.Fatal("expected a decision to be published")
		}
		if alertReceived.Load() {
			t.Error("benign user should not raise an alert")
		}

		var decision domain.Decision
		if err := json.Unmarshal(decisionPayload, &decision); err != nil {
			t.Fatalf("failed to parse decision: %v", err)
		}

		if decision.UserID != "user-001" {
			t.Errorf("expected userID 'user-001', got '%s'", decision.UserID)
		}
		if decision.TenantID != "tenant-test" {
			t.Errorf("expected tenantID 'tenant-test', got '%s'", decision.TenantID)
		}
		if decision.Metadata.TraceID != "trace-001" {
			t.Errorf("expected traceID 'trace-001', got '%s'", decision.Metadata.TraceID)
		}
		if decision.Tier != domain.TierMonitor {
			t.Errorf("expected monitor tier for zero activity, got '%s'", decision.Tier)
		}
		if decision.Trigger.HasAction() {
			t.Errorf("monitor tier must not act, got '%s'", decision.Trigger.Action)
		}
		if decision.Context != domain.ContextBooking {
			t.Errorf("expected booking context, got '%s'", decision.Context)
		}
		if decision.Metadata.RulesEvaluated != 1 {
			t.Errorf("expected 1 rule evaluated, got %d", decision.Metadata.RulesEvaluated)
		}
	})

	t.Run("AlertPublishedForHighRisk", func(t *testing.T) {
		now := time.Now()
		risky := &fakeTelemetry{
			signalStats: domain.SignalStats{
				Total:            12,
				UniqueTypes:      5,
				ObfuscationCount: 2,
				MaxSameTypeCount: 4,
			},
			signalTimes: []time.Time{
				now.Add(-1 * time.Hour), now.Add(-2 * time.Hour), now.Add(-3 * time.Hour),
				now.Add(-4 * time.Hour), now.Add(-5 * time.Hour), now.Add(-6 * time.Hour),
			},
			signalCount:      3,
			transactionStats: domain.TransactionStats{Total: 10, EscrowCount: 0, Cancelled: 5},
			flagged:          3,
			sharedEndpoints:  true,
			devicePeers:      domain.DevicePeers{SuspendedPeers: 1},
		}
		riskyCalc := newCalculator(t, risky)

		w := NewWorker(eventBus, nil, risky, nil, riskyCalc, engine)

		cfg := Config{TenantIDs: []string{"tenant-alert"}}
		w.Start(cfg)
		defer w.Stop()

		var alertReceived atomic.Bool
		var alertPayload []byte

		eventBus.Subscribe(context.Background(), "tenant-alert", domain.TopicEnforcementAlert, func(ctx context.Context, msg *domain.Message) error {
			alertPayload = msg.Payload
			alertReceived.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		evt := SignalMessage{
			UserID:    "user-risky",
			TenantID:  "tenant-alert",
			EventType: "wallet.withdrawal",
		}
		payload, _ := json.Marshal(evt)
		eventBus.Publish(context.Background(), "tenant-alert", domain.TopicSignalRecorded, payload)

		time.Sleep(100 * time.Millisecond)

		if !alertReceived.Load() {
			t.Fatal("expected alert for high-risk user")
		}

		var decision domain.Decision
		if err := json.Unmarshal(alertPayload, &decision); err != nil {
			t.Fatalf("failed to parse alert: %v", err)
		}
		if !decision.Trigger.RequiresHumanApproval {
			t.Error("alerted decision must require human approval")
		}
		if decision.Trigger.Action == domain.ActionNone {
			t.Error("alerted decision must carry an action")
		}
		if decision.Score < 60 {
			t.Errorf("expected high-risk score, got %.2f", decision.Score)
		}
		if decision.Context != domain.ContextPayment {
			t.Errorf("expected payment context for wallet event, got '%s'", decision.Context)
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		w := NewWorker(eventBus, nil, benign, nil, calc, engine)

		cfg := Config{TenantIDs: []string{"tenant-a", "tenant-b"}}
		w.Start(cfg)
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 4 {
			t.Errorf("expected 4 subscriptions for 2 tenants, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("StopWaitsForInflightEvents", func(t *testing.T) {
		gated := &gatedTelemetry{
			entered: make(chan struct{}, 1),
			release: make(chan struct{}),
		}
		w := NewWorker(eventBus, nil, gated, nil, newCalculator(t, gated), engine)

		cfg := Config{TenantIDs: []string{"tenant-gated"}}
		if err := w.Start(cfg); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		time.Sleep(50 * time.Millisecond)

		evt := SignalMessage{
			UserID:    "user-slow",
			TenantID:  "tenant-gated",
			EventType: "booking.created",
		}
		payload, _ := json.Marshal(evt)
		if err := eventBus.Publish(context.Background(), "tenant-gated", domain.TopicSignalRecorded, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		select {
		case <-gated.entered:
		case <-time.After(time.Second):
			t.Fatal("event never reached the pipeline")
		}

		stopped := make(chan struct{})
		go func() {
			w.Stop()
			close(stopped)
		}()

		select {
		case <-stopped:
			t.Fatal("Stop returned while an event was still in flight")
		case <-time.After(50 * time.Millisecond):
		}

		close(gated.release)

		select {
		case <-stopped:
		case <-time.After(time.Second):
			t.Fatal("Stop did not return after the in-flight event finished")
		}
	})
}

func TestSignalMessageParsing(t *testing.T) {
	msg := SignalMessage{
		UserID:     "user-123",
		TenantID:   "tenant-001",
		TraceID:    "trace-456",
		EventType:  "message.sent",
		SignalType: "CONTACT_PHONE",
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var parsed SignalMessage
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if parsed.UserID != msg.UserID {
		t.Errorf("expected UserID '%s', got '%s'", msg.UserID, parsed.UserID)
	}
	if parsed.EventType != msg.EventType {
		t.Errorf("expected EventType '%s', got '%s'", msg.EventType, parsed.EventType)
	}
}

func TestPatternFlags(t *testing.T) {
	flags := patternFlags(domain.TrendStable, &domain.SignalStats{})
	if len(flags) != 0 {
		t.Errorf("expected no flags for stable benign user, got %v", flags)
	}

	flags = patternFlags(domain.TrendEscalating, &domain.SignalStats{ObfuscationCount: 1})
	if len(flags) != 2 {
		t.Fatalf("expected 2 flags, got %v", flags)
	}
}

func fptr(f float64) *float64 { return &f }
