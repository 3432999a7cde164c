package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/opensource-trust/kestrel/internal/domain"
)

func TestSQLiteRepository(t *testing.T) {
	// Create temp database file
	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetScore", func(t *testing.T) {
		score := &domain.RiskScore{
			ID:           "score-001",
			UserID:       "user-001",
			Score:        42.5,
			Tier:         domain.TierMedium,
			Trend:        domain.TrendStable,
			ModelVersion: domain.ModelFiveComponent,
			Factors:      map[string]any{"behavioral": 12.5},
			SignalCount:  3,
			CreatedAt:    time.Now().UTC(),
		}

		if err := repo.SaveScore(ctx, tenantID, score); err != nil {
			t.Fatalf("SaveScore failed: %v", err)
		}

		retrieved, err := repo.LatestScore(ctx, tenantID, "user-001")
		if err != nil {
			t.Fatalf("LatestScore failed: %v", err)
		}

		if retrieved.ID != score.ID {
			t.Errorf("expected ID %s, got %s", score.ID, retrieved.ID)
		}
		if retrieved.Score != score.Score {
			t.Errorf("expected Score %.2f, got %.2f", score.Score, retrieved.Score)
		}
		if retrieved.Tier != domain.TierMedium {
			t.Errorf("expected tier %s, got %s", domain.TierMedium, retrieved.Tier)
		}
		if retrieved.TenantID != tenantID {
			t.Errorf("expected TenantID %s, got %s", tenantID, retrieved.TenantID)
		}
	})

	t.Run("RecentScoresNewestFirst", func(t *testing.T) {
		base := time.Now().UTC()
		values := []float64{10, 25, 55}
		for i, v := range values {
			score := &domain.RiskScore{
				ID:           "score-hist-" + string(rune('a'+i)),
				UserID:       "user-history",
				Score:        v,
				Tier:         domain.TierLow,
				Trend:        domain.TrendStable,
				ModelVersion: domain.ModelFiveComponent,
				CreatedAt:    base.Add(time.Duration(i) * time.Minute),
			}
			if err := repo.SaveScore(ctx, tenantID, score); err != nil {
				t.Fatalf("SaveScore failed: %v", err)
			}
		}

		scores, err := repo.RecentScores(ctx, tenantID, "user-history", 5)
		if err != nil {
			t.Fatalf("RecentScores failed: %v", err)
		}

		if len(scores) != 3 {
			t.Fatalf("expected 3 scores, got %d", len(scores))
		}
		if scores[0] != 55 || scores[2] != 10 {
			t.Errorf("expected newest first [55 25 10], got %v", scores)
		}

		limited, err := repo.RecentScores(ctx, tenantID, "user-history", 2)
		if err != nil {
			t.Fatalf("RecentScores with limit failed: %v", err)
		}
		if len(limited) != 2 {
			t.Errorf("expected 2 scores with limit, got %d", len(limited))
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		otherTenant := "tenant-002"

		_, err := repo.LatestScore(ctx, otherTenant, "user-001")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		score := &domain.RiskScore{ID: "score-test"}

		err := repo.SaveScore(ctx, "", score)
		if err == nil {
			t.Error("expected error for empty tenantID")
		}

		_, err = repo.LatestScore(ctx, "", "user-001")
		if err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("SaveAndGetDecision", func(t *testing.T) {
		hours := 24
		decision := &domain.Decision{
			ID:      "decision-001",
			UserID:  "user-001",
			Score:   55.0,
			Tier:    domain.TierMedium,
			Trend:   domain.TrendEscalating,
			Context: domain.ContextBooking,
			Trigger: domain.TriggerResult{
				Action:                 domain.ActionTemporaryRestriction,
				Reason:                 "Repeated violations at medium risk level",
				ReasonCode:             "MEDIUM_RISK_REPEATED",
				EffectiveDurationHours: &hours,
			},
			RuleResults: []domain.RuleResult{
				{RuleID: "rule-001", Score: 0.5, SubRuleRef: domain.RuleOutcomeReview},
			},
			Metadata:  domain.DecisionMetadata{TraceID: "trace-001", ModelVersion: domain.ModelFiveComponent},
			CreatedAt: time.Now().UTC(),
		}

		if err := repo.SaveDecision(ctx, tenantID, decision); err != nil {
			t.Fatalf("SaveDecision failed: %v", err)
		}

		retrieved, err := repo.GetDecision(ctx, tenantID, decision.ID)
		if err != nil {
			t.Fatalf("GetDecision failed: %v", err)
		}

		if retrieved.ID != decision.ID {
			t.Errorf("expected ID %s, got %s", decision.ID, retrieved.ID)
		}
		if retrieved.Trigger.Action != domain.ActionTemporaryRestriction {
			t.Errorf("expected action %s, got %s", domain.ActionTemporaryRestriction, retrieved.Trigger.Action)
		}
		if retrieved.Trigger.EffectiveDurationHours == nil || *retrieved.Trigger.EffectiveDurationHours != 24 {
			t.Errorf("expected duration 24h, got %v", retrieved.Trigger.EffectiveDurationHours)
		}
		if retrieved.Context != domain.ContextBooking {
			t.Errorf("expected context %s, got %s", domain.ContextBooking, retrieved.Context)
		}
		if len(retrieved.RuleResults) != 1 {
			t.Errorf("expected 1 rule result, got %d", len(retrieved.RuleResults))
		}
	})

	t.Run("SaveAndListEnforcementActions", func(t *testing.T) {
		until := time.Now().UTC().Add(24 * time.Hour)
		action := &domain.EnforcementAction{
			ID:             "action-001",
			UserID:         "user-001",
			ActionType:     domain.ActionTemporaryRestriction,
			Reason:         "Repeated violations at medium risk level",
			ReasonCode:     "MEDIUM_RISK_REPEATED",
			RequiresReview: false,
			EffectiveUntil: &until,
			CreatedAt:      time.Now().UTC(),
		}

		if err := repo.SaveEnforcementAction(ctx, tenantID, action); err != nil {
			t.Fatalf("SaveEnforcementAction failed: %v", err)
		}

		actions, err := repo.ListEnforcementActions(ctx, tenantID, "user-001")
		if err != nil {
			t.Fatalf("ListEnforcementActions failed: %v", err)
		}

		if len(actions) != 1 {
			t.Fatalf("expected 1 action, got %d", len(actions))
		}
		if actions[0].ActionType != domain.ActionTemporaryRestriction {
			t.Errorf("expected action type %s, got %s", domain.ActionTemporaryRestriction, actions[0].ActionType)
		}
		if actions[0].EffectiveUntil == nil {
			t.Error("expected EffectiveUntil to round-trip")
		}
	})

	t.Run("SaveAndGetRuleConfig", func(t *testing.T) {
		lower := 1.0
		rule := &domain.RuleConfig{
			ID:         "rule-001",
			Name:       "Test Rule",
			Version:    "1.0.0",
			Expression: "score > 60.0",
			Bands: []domain.RuleBand{
				{LowerLimit: &lower, SubRuleRef: domain.RuleOutcomeFail, Reason: "High score"},
			},
			Weight:  1.0,
			Enabled: true,
		}

		if err := repo.SaveRuleConfig(ctx, tenantID, rule); err != nil {
			t.Fatalf("SaveRuleConfig failed: %v", err)
		}

		retrieved, err := repo.GetRuleConfig(ctx, tenantID, rule.ID)
		if err != nil {
			t.Fatalf("GetRuleConfig failed: %v", err)
		}

		if retrieved.Expression != rule.Expression {
			t.Errorf("expected expression %q, got %q", rule.Expression, retrieved.Expression)
		}
		if len(retrieved.Bands) != 1 {
			t.Errorf("expected 1 band, got %d", len(retrieved.Bands))
		}

		configs, err := repo.ListRuleConfigs(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListRuleConfigs failed: %v", err)
		}
		if len(configs) != 1 {
			t.Errorf("expected 1 config, got %d", len(configs))
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.LatestScore(ctx, tenantID, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}

		_, err = repo.GetDecision(ctx, tenantID, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
