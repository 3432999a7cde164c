package domain

import "time"

// ActionType identifies an enforcement action.
//
// There is deliberately no permanent-ban constant: the trigger evaluator
// can never emit one, and keeping it out of the type makes that a
// structural guarantee rather than a runtime check.
type ActionType string

const (
	ActionSoftWarning          ActionType = "soft_warning"
	ActionHardWarning          ActionType = "hard_warning"
	ActionTemporaryRestriction ActionType = "temporary_restriction"
	ActionAccountSuspension    ActionType = "account_suspension"
	// ActionAdminEscalation is not a direct user-facing action; it opens a case.
	ActionAdminEscalation ActionType = "admin_escalation"

	// Context-specific action types, produced by the context overlay.
	ActionBookingBlocked    ActionType = "booking_blocked"
	ActionBookingFlagged    ActionType = "booking_flagged"
	ActionPaymentHeld       ActionType = "payment_held"
	ActionPaymentBlocked    ActionType = "payment_blocked"
	ActionProviderDemoted   ActionType = "provider_demoted"
	ActionProviderSuspended ActionType = "provider_suspended"
	ActionMessageThrottled  ActionType = "message_throttled"

	// ActionNone means no action is taken (monitor tier).
	ActionNone ActionType = ""
)

// EventContext is the business surface an enforcement action applies within.
type EventContext string

const (
	ContextGeneral  EventContext = "general"
	ContextBooking  EventContext = "booking"
	ContextPayment  EventContext = "payment"
	ContextProvider EventContext = "provider"
	ContextMessage  EventContext = "message"
)

// EnforcementHistory is a read-only snapshot of prior actions against a
// user, supplied by the caller per evaluation. Never mutated by the engine.
type EnforcementHistory struct {
	TotalActions int `json:"totalActions"`
	// RecentActions counts actions in the last 30 days.
	RecentActions        int    `json:"recentActions"`
	LastActionType       string `json:"lastActionType,omitempty"`
	SameTypeViolations   int    `json:"sameTypeViolations"`
	HasActiveRestriction bool   `json:"hasActiveRestriction"`
}

// TriggerResult is the outcome of an enforcement trigger evaluation.
// Produced fresh per evaluation; callers must treat it as immutable.
type TriggerResult struct {
	Action                 ActionType     `json:"action,omitempty"`
	RequiresHumanApproval  bool           `json:"requiresHumanApproval"`
	Reason                 string         `json:"reason"`
	ReasonCode             string         `json:"reasonCode"`
	EffectiveDurationHours *int           `json:"effectiveDurationHours,omitempty"`
	Metadata               map[string]any `json:"metadata"`
}

// HasAction reports whether the evaluation chose an action.
func (r *TriggerResult) HasAction() bool {
	return r.Action != ActionNone
}

// EnforcementAction is a persisted enforcement record.
type EnforcementAction struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenantId"`
	UserID         string     `json:"userId"`
	ActionType     ActionType `json:"actionType"`
	Reason         string     `json:"reason"`
	ReasonCode     string     `json:"reasonCode"`
	RequiresReview bool       `json:"requiresReview"`
	EffectiveUntil *time.Time `json:"effectiveUntil,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	ReversedAt     *time.Time `json:"reversedAt,omitempty"`
}

// Decision is the full outcome of one scoring-and-enforcement pass,
// persisted for audit.
type Decision struct {
	ID          string           `json:"id"`
	TenantID    string           `json:"tenantId"`
	UserID      string           `json:"userId"`
	Score       float64          `json:"score"`
	Tier        RiskTier         `json:"tier"`
	Trend       TrendDirection   `json:"trend"`
	Context     EventContext     `json:"context"`
	Trigger     TriggerResult    `json:"trigger"`
	RuleResults []RuleResult     `json:"ruleResults,omitempty"`
	Metadata    DecisionMetadata `json:"metadata"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// EngineVersion is stamped into every decision's metadata.
const EngineVersion = "kestrel-1.0"

// DecisionMetadata contains processing information for one decision.
type DecisionMetadata struct {
	TraceID        string `json:"traceId"`
	ModelVersion   string `json:"modelVersion"`
	AggregateMs    int64  `json:"aggregateMs"`
	ScoreMs        int64  `json:"scoreMs"`
	TriggerMs      int64  `json:"triggerMs"`
	TotalMs        int64  `json:"totalMs"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	EngineVersion  string `json:"engineVersion"`
}
