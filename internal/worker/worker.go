// Package worker provides async score processing from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-trust/kestrel/internal/domain"
	"github.com/opensource-trust/kestrel/internal/rules"
	"github.com/opensource-trust/kestrel/internal/scoring"
)

// Worker consumes signal and score-request events and runs each one
// through the scoring pipeline.
type Worker struct {
	bus      domain.EventBus
	pipeline *Pipeline

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = global worker)
	TenantIDs []string

	// CacheTTL is how long computed score snapshots stay cached
	CacheTTL time.Duration
}

// NewWorker creates a new async worker. repo and cache may be nil, in
// which case persistence and caching are skipped.
func NewWorker(bus domain.EventBus, repo domain.Repository, store domain.TelemetryStore, cache domain.Cache, calculator scoring.Calculator, engine *rules.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		pipeline: NewPipeline(bus, repo, store, cache, calculator, engine),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing events for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if cfg.CacheTTL > 0 {
		w.pipeline.CacheTTL = cfg.CacheTTL
	}

	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
		"model", w.pipeline.ModelVersion(),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	for _, topic := range []string{domain.TopicSignalRecorded, domain.TopicScoreRequested} {
		sub, err := w.bus.Subscribe(w.ctx, "_global", topic, w.handleMessage)
		if err != nil {
			return err
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	slog.Info("global worker started")
	return nil
}

// startTenantWorker subscribes to both scoring topics for one tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	for _, topic := range []string{domain.TopicSignalRecorded, domain.TopicScoreRequested} {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, topic, func(ctx context.Context, msg *domain.Message) error {
			return w.processEvent(ctx, tenantID, msg)
		})
		if err != nil {
			return err
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processEvent(ctx, msg.TenantID, msg)
}

// SignalMessage is the payload for signal-recorded and score-requested
// events. EventType selects the enforcement context.
type SignalMessage struct {
	UserID     string `json:"userId"`
	TenantID   string `json:"tenantId"`
	TraceID    string `json:"traceId"`
	EventType  string `json:"eventType"`
	SignalType string `json:"signalType,omitempty"`
}

// processEvent parses one event and runs the user through the pipeline.
// Stop blocks until all in-flight calls return.
func (w *Worker) processEvent(ctx context.Context, tenantID string, msg *domain.Message) error {
	w.wg.Add(1)
	defer w.wg.Done()

	var evt SignalMessage
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		slog.Error("failed to parse signal message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if evt.TenantID != "" {
		tenantID = evt.TenantID
	}

	traceID := evt.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("processing event",
		"user_id", evt.UserID,
		"tenant_id", tenantID,
		"event_type", evt.EventType,
		"trace_id", traceID,
	)

	w.pipeline.Process(ctx, tenantID, evt.UserID, evt.EventType, traceID)
	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
