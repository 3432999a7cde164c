package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-trust/kestrel/internal/cache"
	"github.com/opensource-trust/kestrel/internal/domain"
	"github.com/opensource-trust/kestrel/internal/repository"
	"github.com/opensource-trust/kestrel/internal/rules"
	"github.com/opensource-trust/kestrel/internal/scoring"
	"github.com/opensource-trust/kestrel/internal/telemetry"
	"github.com/opensource-trust/kestrel/internal/worker"
)

// createTestServer wires a full server on sqlite with an in-memory
// cache and no event bus.
func createTestServer(t *testing.T) (*Server, domain.Repository) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "kestrel-api-test.db")
	repoCfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: dbPath,
	}

	repo, err := repository.New(repoCfg)
	if err != nil {
		t.Fatalf("repository.New failed: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	store, err := telemetry.New(repoCfg)
	if err != nil {
		t.Fatalf("telemetry.New failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	c, err := cache.New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
	if err != nil {
		t.Fatalf("cache.New failed: %v", err)
	}

	engine, err := rules.NewEngine(5)
	if err != nil {
		t.Fatalf("rules.NewEngine failed: %v", err)
	}
	if err := engine.LoadRules(rules.BuiltinRules()); err != nil {
		t.Fatalf("LoadRules failed: %v", err)
	}

	agg := scoring.NewAggregator(store, repo)
	calc, err := scoring.NewCalculator(domain.ModelFiveComponent, agg)
	if err != nil {
		t.Fatalf("NewCalculator failed: %v", err)
	}

	pipeline := worker.NewPipeline(nil, repo, store, c, calc, engine)

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	return NewServer(cfg, repo, c, engine, pipeline, "test-v1"), repo
}

func doRequest(server *Server, method, path, tenantID string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewBuffer(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Content-Type", "application/json")
	if tenantID != "" {
		req.Header.Set(TenantIDHeader, tenantID)
	}

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoints(t *testing.T) {
	server, _ := createTestServer(t)

	rr := doRequest(server, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var health map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &health); err != nil {
		t.Fatalf("failed to parse health response: %v", err)
	}
	if health["status"] != "healthy" {
		t.Errorf("expected healthy, got %s", health["status"])
	}
	if health["version"] != "test-v1" {
		t.Errorf("expected version test-v1, got %s", health["version"])
	}

	rr = doRequest(server, http.MethodGet, "/ready", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200 for ready, got %d", rr.Code)
	}
}

func TestScoreEndpoints(t *testing.T) {
	server, _ := createTestServer(t)

	t.Run("ComputeScore", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/v1/scores/user-001", "tenant-001",
			[]byte(`{"eventType":"booking.created"}`))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp ScoreResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.UserID != "user-001" {
			t.Errorf("expected userId user-001, got %s", resp.UserID)
		}
		// No telemetry at all: zero score, monitor tier, no action.
		if resp.Tier != domain.TierMonitor {
			t.Errorf("expected monitor tier for empty telemetry, got %s", resp.Tier)
		}
		if resp.DecisionID == "" {
			t.Error("expected decisionId in compute response")
		}
		if resp.Trigger == nil {
			t.Fatal("expected trigger in compute response")
		}
		if resp.Trigger.HasAction() {
			t.Errorf("monitor tier must not act, got %s", resp.Trigger.Action)
		}
		if resp.ModelVersion != domain.ModelFiveComponent {
			t.Errorf("expected model %s, got %s", domain.ModelFiveComponent, resp.ModelVersion)
		}
	})

	t.Run("ComputeScoreEmptyBody", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/v1/scores/user-002", "tenant-001", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200 for empty body, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("GetScoreCached", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/v1/scores/user-001", "tenant-001", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp ScoreResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if !resp.Cached {
			t.Error("expected cached snapshot after compute")
		}
	})

	t.Run("GetScoreUnknownUser", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/v1/scores/user-missing", "tenant-001", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		// user-001 was scored under tenant-001 only.
		rr := doRequest(server, http.MethodGet, "/v1/scores/user-001", "tenant-other", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404 for other tenant, got %d", rr.Code)
		}
	})

	t.Run("MissingTenantID", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/v1/scores/user-001", "", []byte(`{}`))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestTriggerEvaluateEndpoint(t *testing.T) {
	server, _ := createTestServer(t)

	t.Run("HighTierRequiresApproval", func(t *testing.T) {
		body, _ := json.Marshal(TriggerRequest{
			Tier:    domain.TierHigh,
			History: domain.EnforcementHistory{},
		})
		rr := doRequest(server, http.MethodPost, "/v1/triggers/evaluate", "tenant-001", body)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var result domain.TriggerResult
		if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
			t.Fatalf("failed to parse result: %v", err)
		}
		if !result.RequiresHumanApproval {
			t.Error("high tier must require human approval")
		}
		if result.Action != domain.ActionAdminEscalation {
			t.Errorf("expected admin escalation, got %s", result.Action)
		}
	})

	t.Run("ContextOverlay", func(t *testing.T) {
		body, _ := json.Marshal(TriggerRequest{
			Tier:    domain.TierMedium,
			History: domain.EnforcementHistory{RecentActions: 2},
			Context: domain.ContextBooking,
		})
		rr := doRequest(server, http.MethodPost, "/v1/triggers/evaluate", "tenant-001", body)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var result domain.TriggerResult
		if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
			t.Fatalf("failed to parse result: %v", err)
		}
		if result.Action != domain.ActionBookingBlocked {
			t.Errorf("expected booking_blocked, got %s", result.Action)
		}
		if !strings.Contains(result.ReasonCode, "_CTX_BOOKING") {
			t.Errorf("expected context-qualified reason code, got %s", result.ReasonCode)
		}
	})

	t.Run("EventTypeSelectsContext", func(t *testing.T) {
		body, _ := json.Marshal(TriggerRequest{
			Tier:      domain.TierMedium,
			History:   domain.EnforcementHistory{RecentActions: 2},
			EventType: "wallet.withdrawal",
		})
		rr := doRequest(server, http.MethodPost, "/v1/triggers/evaluate", "tenant-001", body)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var result domain.TriggerResult
		if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
			t.Fatalf("failed to parse result: %v", err)
		}
		if result.Action != domain.ActionPaymentBlocked {
			t.Errorf("expected payment_blocked, got %s", result.Action)
		}
	})

	t.Run("InvalidTier", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/v1/triggers/evaluate", "tenant-001",
			[]byte(`{"tier":"extreme"}`))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/v1/triggers/evaluate", "tenant-001",
			[]byte(`not-json`))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestDecisionAndActionEndpoints(t *testing.T) {
	server, repo := createTestServer(t)

	// Compute a score to produce a decision.
	rr := doRequest(server, http.MethodPost, "/v1/scores/user-010", "tenant-001", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("compute failed: %d", rr.Code)
	}
	var computed ScoreResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &computed); err != nil {
		t.Fatalf("failed to parse compute response: %v", err)
	}

	t.Run("GetDecision", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/v1/decisions/"+computed.DecisionID, "tenant-001", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var decision domain.Decision
		if err := json.Unmarshal(rr.Body.Bytes(), &decision); err != nil {
			t.Fatalf("failed to parse decision: %v", err)
		}
		if decision.UserID != "user-010" {
			t.Errorf("expected userID user-010, got %s", decision.UserID)
		}
	})

	t.Run("GetDecisionNotFound", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/v1/decisions/no-such-id", "tenant-001", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("ListActions", func(t *testing.T) {
		action := &domain.EnforcementAction{
			ID:         "act-001",
			TenantID:   "tenant-001",
			UserID:     "user-010",
			ActionType: domain.ActionSoftWarning,
			Reason:     "test warning",
			ReasonCode: "LOW_RISK_FIRST_OFFENSE",
			CreatedAt:  time.Now().UTC(),
		}
		if err := repo.SaveEnforcementAction(context.Background(), "tenant-001", action); err != nil {
			t.Fatalf("SaveEnforcementAction failed: %v", err)
		}

		rr := doRequest(server, http.MethodGet, "/v1/actions/user-010", "tenant-001", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Actions []domain.EnforcementAction `json:"actions"`
			Count   int                        `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse actions: %v", err)
		}
		if resp.Count != 1 {
			t.Errorf("expected 1 action, got %d", resp.Count)
		}
	})
}

func TestRuleEndpoints(t *testing.T) {
	server, _ := createTestServer(t)

	t.Run("ListBuiltins", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/v1/rules", "tenant-001", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse rules: %v", err)
		}
		if resp.Count != len(rules.BuiltinRules()) {
			t.Errorf("expected %d rules, got %d", len(rules.BuiltinRules()), resp.Count)
		}
	})

	t.Run("CreateAndGetRule", func(t *testing.T) {
		body, _ := json.Marshal(CreateRuleRequest{
			ID:         "custom-001",
			Name:       "High Score Check",
			Expression: "score > 75.0",
			Weight:     1.0,
			Enabled:    true,
		})
		rr := doRequest(server, http.MethodPost, "/v1/rules", "tenant-001", body)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = doRequest(server, http.MethodGet, "/v1/rules/custom-001", "tenant-001", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200 for created rule, got %d", rr.Code)
		}
	})

	t.Run("CreateInvalidExpression", func(t *testing.T) {
		body, _ := json.Marshal(CreateRuleRequest{
			ID:         "bad-001",
			Name:       "Broken",
			Expression: "this is not CEL ((",
			Enabled:    true,
		})
		rr := doRequest(server, http.MethodPost, "/v1/rules", "tenant-001", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for invalid expression, got %d", rr.Code)
		}
	})

	t.Run("ReloadFromDatabase", func(t *testing.T) {
		// Only custom-001 was persisted; reload replaces the engine set.
		rr := doRequest(server, http.MethodPost, "/v1/rules/reload", "tenant-001", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse reload response: %v", err)
		}
		if resp.Count != 1 {
			t.Errorf("expected 1 rule after reload, got %d", resp.Count)
		}
	})
}
