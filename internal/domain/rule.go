package domain

// RuleConfig defines an admin-authored enforcement rule.
// Rules layer on top of the built-in trigger state machine: they are CEL
// expressions evaluated against a RuleContext after scoring.
type RuleConfig struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression to evaluate over RuleContext variables
	Expression string `json:"expression"`

	// Outcome bands for score-to-outcome mapping
	Bands []RuleBand `json:"bands"`

	// Rule weight in composite decisions
	Weight float64 `json:"weight"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// RuleBand maps a score range to an outcome.
type RuleBand struct {
	LowerLimit *float64 `json:"lowerLimit,omitempty"`
	UpperLimit *float64 `json:"upperLimit,omitempty"`
	SubRuleRef string   `json:"subRuleRef"` // e.g., ".pass", ".fail", ".review"
	Reason     string   `json:"reason"`
}

// RuleResult is the output of a rule evaluation.
type RuleResult struct {
	RuleID     string  `json:"ruleId"`
	TenantID   string  `json:"tenantId"`
	UserID     string  `json:"userId"`
	SubRuleRef string  `json:"subRuleRef"` // ".pass", ".fail", ".err"
	Score      float64 `json:"score"`      // The computed value
	Reason     string  `json:"reason"`
	Weight     float64 `json:"weight"`
	ProcessMs  int64   `json:"processMs"`
}

// Predefined rule outcomes
const (
	RuleOutcomePass   = ".pass"
	RuleOutcomeFail   = ".fail"
	RuleOutcomeReview = ".review"
	RuleOutcomeError  = ".err"
)

// RuleContext is the variable set exposed to rule expressions.
// Aggregates only — rule authors never see raw event content.
type RuleContext struct {
	Score                 float64        `json:"score"`
	Tier                  RiskTier       `json:"tier"`
	Trend                 TrendDirection `json:"trend"`
	SignalCount24h        int            `json:"signalCount24h"`
	EnforcementCount30d   int            `json:"enforcementCount30d"`
	TotalEnforcementCount int            `json:"totalEnforcementCount"`
	UserType              string         `json:"userType"`
	EventType             string         `json:"eventType"`
	HasActiveRestriction  bool           `json:"hasActiveRestriction"`
	PatternFlags          []string       `json:"patternFlags"`
}
