package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-trust/kestrel/internal/domain"
	"github.com/opensource-trust/kestrel/internal/enforcement"
	"github.com/opensource-trust/kestrel/internal/rules"
	"github.com/opensource-trust/kestrel/internal/worker"
)

// GlobalTenantID is used for rules that apply to all tenants.
const GlobalTenantID = "*"

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	engine   *rules.Engine
	pipeline *worker.Pipeline
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, engine *rules.Engine, pipeline *worker.Pipeline, version string) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		engine:   engine,
		pipeline: pipeline,
		version:  version,
	}
}

// ComputeScoreRequest is the optional request body for POST /v1/scores/{userID}.
// EventType selects the enforcement context; empty means general.
type ComputeScoreRequest struct {
	EventType string `json:"eventType,omitempty"`
}

// ScoreResponse is the response for score endpoints.
type ScoreResponse struct {
	UserID       string                `json:"userId"`
	Score        float64               `json:"score"`
	Tier         domain.RiskTier       `json:"tier"`
	Trend        domain.TrendDirection `json:"trend"`
	ModelVersion string                `json:"modelVersion"`
	Cached       bool                  `json:"cached"`

	// Set only on compute
	DecisionID string                   `json:"decisionId,omitempty"`
	Trigger    *domain.TriggerResult    `json:"trigger,omitempty"`
	Metadata   *domain.DecisionMetadata `json:"metadata,omitempty"`
}

// ComputeScore handles POST /v1/scores/{userID}: runs the full scoring
// pipeline synchronously and returns the decision.
func (h *Handler) ComputeScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)
	userID := chi.URLParam(r, "userID")

	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "user id is required",
		})
		return
	}

	// Body is optional; an empty body scores in the general context.
	var req ComputeScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	decision, score := h.pipeline.Process(ctx, tenantID, userID, req.EventType, traceID)

	resp := ScoreResponse{
		UserID:       userID,
		Score:        score.Score,
		Tier:         score.Tier,
		Trend:        score.Trend,
		ModelVersion: score.ModelVersion,
		DecisionID:   decision.ID,
		Trigger:      &decision.Trigger,
		Metadata:     &decision.Metadata,
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetScore handles GET /v1/scores/{userID}: cached snapshot first, then
// the latest persisted score.
func (h *Handler) GetScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	userID := chi.URLParam(r, "userID")

	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "user id is required",
		})
		return
	}

	if h.cache != nil {
		snap, err := h.cache.GetScore(ctx, tenantID, userID)
		if err != nil {
			slog.Warn("score cache read failed", "user_id", userID, "error", err)
		}
		if snap != nil {
			writeJSON(w, http.StatusOK, ScoreResponse{
				UserID:       userID,
				Score:        snap.Score,
				Tier:         snap.Tier,
				Trend:        snap.Trend,
				ModelVersion: snap.ModelVersion,
				Cached:       true,
			})
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	score, err := h.repo.LatestScore(ctx, tenantID, userID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no score for user",
		})
		return
	}

	writeJSON(w, http.StatusOK, ScoreResponse{
		UserID:       userID,
		Score:        score.Score,
		Tier:         score.Tier,
		Trend:        score.Trend,
		ModelVersion: score.ModelVersion,
	})
}

// TriggerRequest is the request body for POST /v1/triggers/evaluate.
// Either context or eventType selects the overlay; context wins.
type TriggerRequest struct {
	Tier         domain.RiskTier           `json:"tier"`
	History      domain.EnforcementHistory `json:"history"`
	PatternFlags []string                  `json:"patternFlags,omitempty"`
	Context      domain.EventContext       `json:"context,omitempty"`
	EventType    string                    `json:"eventType,omitempty"`
}

// EvaluateTrigger handles POST /v1/triggers/evaluate: a stateless
// evaluation of the enforcement trigger for caller-supplied state.
func (h *Handler) EvaluateTrigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	switch req.Tier {
	case domain.TierMonitor, domain.TierLow, domain.TierMedium, domain.TierHigh, domain.TierCritical:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "tier must be one of monitor, low, medium, high, critical",
		})
		return
	}

	evtContext := req.Context
	if evtContext == "" {
		evtContext = enforcement.EventTypeToContext(req.EventType)
	}

	result := enforcement.EvaluateContextualTrigger(req.Tier, req.History, req.PatternFlags, evtContext)
	writeJSON(w, http.StatusOK, result)
}

// GetDecision retrieves a decision by ID.
func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	decisionID := chi.URLParam(r, "id")

	if decisionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "decision id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	decision, err := h.repo.GetDecision(ctx, tenantID, decisionID)
	if err != nil {
		slog.Error("failed to get decision", "id", decisionID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "decision not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

// ListActions lists enforcement actions for a user, newest first.
func (h *Handler) ListActions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	userID := chi.URLParam(r, "userID")

	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "user id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	actions, err := h.repo.ListEnforcementActions(ctx, tenantID, userID)
	if err != nil {
		slog.Error("failed to list enforcement actions", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list actions",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"actions": actions,
		"count":   len(actions),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListRules returns all loaded rules from the engine.
// Rules are loaded from the database at startup and can be reloaded via POST /v1/rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.engine.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  loadedRules,
		"count":  len(loadedRules),
		"source": "database",
	})
}

// GetRule retrieves a rule by ID from the loaded engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	for _, rule := range h.engine.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Expression  string            `json:"expression"`
	Bands       []domain.RuleBand `json:"bands"`
	Weight      float64           `json:"weight"`
	Enabled     bool              `json:"enabled"`
}

// CreateRule creates a new rule and saves it to the database.
// Rules are saved globally (tenant_id = "*") so they apply to all tenants.
// After saving, call POST /v1/rules/reload to hot-reload into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	ruleConfig := &domain.RuleConfig{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Bands:       req.Bands,
		Weight:      req.Weight,
		Enabled:     req.Enabled,
	}

	// Validate CEL expression by attempting to load
	if err := h.engine.LoadRule(ruleConfig); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveRuleConfig(ctx, GlobalTenantID, ruleConfig); err != nil {
			slog.Error("failed to save rule config", "id", ruleConfig.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	slog.Info("rule created", "id", ruleConfig.ID, "name", ruleConfig.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    ruleConfig,
		"message": "Rule created. Call POST /v1/rules/reload to apply changes.",
	})
}

// ReloadRules reloads all rules from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbRules, err := h.repo.ListRuleConfigs(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.engine.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
