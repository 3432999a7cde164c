package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-trust/kestrel/internal/domain"
	"github.com/opensource-trust/kestrel/internal/enforcement"
	"github.com/opensource-trust/kestrel/internal/rules"
	"github.com/opensource-trust/kestrel/internal/scoring"
	"github.com/opensource-trust/kestrel/internal/tier"
)

// Windows for the rule-context aggregates.
const (
	signalWindow      = 24 * time.Hour
	enforcementWindow = 30 * 24 * time.Hour
)

const defaultCacheTTL = 5 * time.Minute

// Pipeline runs one user through the full scoring-and-enforcement pass:
// score, tier+trend, contextual trigger, custom rules, persistence,
// cache refresh, and event publication. It is shared by the async worker
// and the synchronous compute endpoint.
//
// repo, cache, and bus may be nil; the corresponding steps are skipped.
type Pipeline struct {
	bus        domain.EventBus
	repo       domain.Repository
	store      domain.TelemetryStore
	cache      domain.Cache
	calculator scoring.Calculator
	engine     *rules.Engine

	// CacheTTL is how long computed score snapshots stay cached.
	CacheTTL time.Duration
}

// NewPipeline creates a scoring pipeline.
func NewPipeline(bus domain.EventBus, repo domain.Repository, store domain.TelemetryStore, cache domain.Cache, calculator scoring.Calculator, engine *rules.Engine) *Pipeline {
	return &Pipeline{
		bus:        bus,
		repo:       repo,
		store:      store,
		cache:      cache,
		calculator: calculator,
		engine:     engine,
		CacheTTL:   defaultCacheTTL,
	}
}

// ModelVersion identifies the active score model.
func (p *Pipeline) ModelVersion() string {
	return p.calculator.ModelVersion()
}

// Process scores the user, evaluates enforcement for the event's
// context, persists and publishes the outcome, and returns the decision
// together with the persisted score record.
//
// Aggregation failures never block: every telemetry read degrades to
// zero-valued stats.
func (p *Pipeline) Process(ctx context.Context, tenantID, userID, eventType, traceID string) (*domain.Decision, *domain.RiskScore) {
	start := time.Now()

	// 1. Compute the trust score. The calculator fans out its dimension
	// aggregations internally and absorbs telemetry failures, so this
	// always yields a score.
	scoreStart := time.Now()
	score, factors := p.calculator.Score(ctx, tenantID, userID)
	scoreMs := time.Since(scoreStart).Milliseconds()

	// 2. Tier and trend from score history.
	recent := p.recentScores(ctx, tenantID, userID)
	assignment := tier.AssignWithTrend(score, recent)

	// 3. Rule-context aggregates.
	aggStart := time.Now()
	now := time.Now()
	stats := p.enforcementStats(ctx, tenantID, userID, now)
	sigStats := p.signalStats(ctx, tenantID, userID, now)
	userType := p.userType(ctx, tenantID, userID)
	lastSignalAt := p.lastSignalAt(ctx, tenantID, userID, now)
	aggMs := time.Since(aggStart).Milliseconds()

	flags := patternFlags(assignment.Trend, sigStats)

	// 4. Enforcement trigger with the event's context overlay.
	history := domain.EnforcementHistory{
		TotalActions:         stats.TotalActions,
		RecentActions:        stats.RecentActions,
		LastActionType:       stats.LastActionType,
		HasActiveRestriction: stats.HasActiveRestriction,
	}
	evtContext := enforcement.EventTypeToContext(eventType)

	triggerStart := time.Now()
	trigger := enforcement.EvaluateContextualTrigger(assignment.Tier, history, flags, evtContext)
	triggerMs := time.Since(triggerStart).Milliseconds()

	// 5. Custom rules on top of the built-in trigger.
	var ruleResults []domain.RuleResult
	if p.engine != nil && p.engine.RulesCount() > 0 {
		rctx := &domain.RuleContext{
			Score:                 score,
			Tier:                  assignment.Tier,
			Trend:                 assignment.Trend,
			SignalCount24h:        sigStats.Total,
			EnforcementCount30d:   stats.RecentActions,
			TotalEnforcementCount: stats.TotalActions,
			UserType:              userType,
			EventType:             eventType,
			HasActiveRestriction:  stats.HasActiveRestriction,
			PatternFlags:          flags,
		}
		ruleResults = p.engine.EvaluateAll(ctx, tenantID, userID, rctx)
	}

	// 6. Persist score and decision.
	riskScore := &domain.RiskScore{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		UserID:       userID,
		Score:        score,
		Tier:         assignment.Tier,
		Trend:        assignment.Trend,
		ModelVersion: p.calculator.ModelVersion(),
		Factors:      factors,
		SignalCount:  sigStats.Total,
		LastSignalAt: lastSignalAt,
		CreatedAt:    now,
	}

	decision := &domain.Decision{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		UserID:      userID,
		Score:       score,
		Tier:        assignment.Tier,
		Trend:       assignment.Trend,
		Context:     evtContext,
		Trigger:     *trigger,
		RuleResults: ruleResults,
		Metadata: domain.DecisionMetadata{
			TraceID:        traceID,
			ModelVersion:   p.calculator.ModelVersion(),
			AggregateMs:    aggMs,
			ScoreMs:        scoreMs,
			TriggerMs:      triggerMs,
			TotalMs:        time.Since(start).Milliseconds(),
			RulesEvaluated: len(ruleResults),
			EngineVersion:  domain.EngineVersion,
		},
		CreatedAt: now,
	}

	if p.repo != nil {
		if err := p.repo.SaveScore(ctx, tenantID, riskScore); err != nil {
			slog.Error("failed to save score",
				"user_id", userID,
				"error", err,
			)
		}
		if err := p.repo.SaveDecision(ctx, tenantID, decision); err != nil {
			slog.Error("failed to save decision",
				"user_id", userID,
				"error", err,
			)
		}
		if trigger.HasAction() {
			if err := p.repo.SaveEnforcementAction(ctx, tenantID, actionRecord(tenantID, userID, trigger, now)); err != nil {
				slog.Error("failed to save enforcement action",
					"user_id", userID,
					"error", err,
				)
			}
		}
	}

	// 7. Refresh the score cache.
	if p.cache != nil {
		if err := p.cache.InvalidateScore(ctx, tenantID, userID); err != nil {
			slog.Warn("failed to invalidate score cache",
				"user_id", userID,
				"error", err,
			)
		}
		snap := &domain.ScoreCache{
			UserID:       userID,
			Score:        score,
			Tier:         assignment.Tier,
			Trend:        assignment.Trend,
			ModelVersion: p.calculator.ModelVersion(),
			ComputedAt:   now,
		}
		ttl := p.CacheTTL
		if ttl <= 0 {
			ttl = defaultCacheTTL
		}
		if err := p.cache.SetScore(ctx, tenantID, userID, snap, ttl); err != nil {
			slog.Warn("failed to cache score",
				"user_id", userID,
				"error", err,
			)
		}
	}

	// 8. Publish the outcome.
	p.publish(ctx, tenantID, userID, decision, trigger)

	slog.Info("user scored",
		"user_id", userID,
		"tenant_id", tenantID,
		"score", score,
		"tier", assignment.Tier,
		"action", trigger.Action,
		"reason_code", trigger.ReasonCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return decision, riskScore
}

func (p *Pipeline) publish(ctx context.Context, tenantID, userID string, decision *domain.Decision, trigger *domain.TriggerResult) {
	if p.bus == nil {
		return
	}

	payload, _ := json.Marshal(decision)
	if err := p.bus.Publish(ctx, tenantID, domain.TopicScoreUpdated, payload); err != nil {
		slog.Error("failed to publish score update",
			"user_id", userID,
			"error", err,
		)
	}

	if trigger.HasAction() {
		if err := p.bus.Publish(ctx, tenantID, domain.TopicEnforcementDecision, payload); err != nil {
			slog.Error("failed to publish enforcement decision",
				"user_id", userID,
				"error", err,
			)
		}
	}

	if trigger.RequiresHumanApproval {
		if err := p.bus.Publish(ctx, tenantID, domain.TopicEnforcementAlert, payload); err != nil {
			slog.Error("failed to publish alert",
				"user_id", userID,
				"error", err,
			)
		}
	}
}

// recentScores reads score history reordered oldest first for trend
// detection. Missing history is not an error: new users have none.
func (p *Pipeline) recentScores(ctx context.Context, tenantID, userID string) []float64 {
	if p.repo == nil {
		return nil
	}
	scores, err := p.repo.RecentScores(ctx, tenantID, userID, 5)
	if err != nil {
		slog.Warn("failed to read score history",
			"user_id", userID,
			"error", err,
		)
		return nil
	}
	// Repository order is newest first.
	for i, j := 0, len(scores)-1; i < j; i, j = i+1, j-1 {
		scores[i], scores[j] = scores[j], scores[i]
	}
	return scores
}

func (p *Pipeline) enforcementStats(ctx context.Context, tenantID, userID string, now time.Time) *domain.EnforcementStats {
	stats, err := p.store.EnforcementStats(ctx, tenantID, userID, now.Add(-enforcementWindow))
	if err != nil {
		slog.Warn("failed to read enforcement stats",
			"user_id", userID,
			"error", err,
		)
		return &domain.EnforcementStats{}
	}
	return stats
}

func (p *Pipeline) signalStats(ctx context.Context, tenantID, userID string, now time.Time) *domain.SignalStats {
	stats, err := p.store.SignalStats(ctx, tenantID, userID, now.Add(-signalWindow))
	if err != nil {
		slog.Warn("failed to read signal stats",
			"user_id", userID,
			"error", err,
		)
		return &domain.SignalStats{}
	}
	return stats
}

func (p *Pipeline) userType(ctx context.Context, tenantID, userID string) string {
	profile, err := p.store.UserProfile(ctx, tenantID, userID)
	if err != nil {
		slog.Warn("failed to read user profile",
			"user_id", userID,
			"error", err,
		)
		return "client"
	}
	if profile.IsProvider {
		return "provider"
	}
	return "client"
}

func (p *Pipeline) lastSignalAt(ctx context.Context, tenantID, userID string, now time.Time) *time.Time {
	at, err := p.store.LastSignalBefore(ctx, tenantID, userID, now)
	if err != nil {
		slog.Warn("failed to read last signal time",
			"user_id", userID,
			"error", err,
		)
		return nil
	}
	return at
}

// patternFlags derives evasion-pattern flags for the trigger evaluator.
func patternFlags(trend domain.TrendDirection, sigStats *domain.SignalStats) []string {
	var flags []string
	if trend == domain.TrendEscalating {
		flags = append(flags, enforcement.PatternEscalation)
	}
	if sigStats.ObfuscationCount > 0 {
		flags = append(flags, "obfuscation_signals")
	}
	return flags
}

// actionRecord builds the persisted enforcement record for a trigger
// outcome.
func actionRecord(tenantID, userID string, trigger *domain.TriggerResult, now time.Time) *domain.EnforcementAction {
	action := &domain.EnforcementAction{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		UserID:         userID,
		ActionType:     trigger.Action,
		Reason:         trigger.Reason,
		ReasonCode:     trigger.ReasonCode,
		RequiresReview: trigger.RequiresHumanApproval,
		CreatedAt:      now,
	}
	if trigger.EffectiveDurationHours != nil {
		until := now.Add(time.Duration(*trigger.EffectiveDurationHours) * time.Hour)
		action.EffectiveUntil = &until
	}
	return action
}
