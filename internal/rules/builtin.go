package rules

import "github.com/opensource-trust/kestrel/internal/domain"

func fptr(v float64) *float64 { return &v }

// BuiltinRules returns the default rule set seeded into a fresh deployment.
// Admins can disable or replace these via the rule config store.
func BuiltinRules() []*domain.RuleConfig {
	return []*domain.RuleConfig{
		{
			ID:          "builtin-high-score-review",
			Name:        "High Risk Score Review",
			Description: "Flags users whose composite risk score is elevated for manual review",
			Version:     "1.0.0",
			Expression:  "score >= 80.0 ? 1.0 : (score >= 60.0 ? 0.5 : 0.0)",
			Bands: []domain.RuleBand{
				{LowerLimit: fptr(0.0), UpperLimit: fptr(0.5), SubRuleRef: domain.RuleOutcomePass, Reason: "Score within normal range"},
				{LowerLimit: fptr(0.5), UpperLimit: fptr(1.0), SubRuleRef: domain.RuleOutcomeReview, Reason: "Elevated risk score"},
				{LowerLimit: fptr(1.0), UpperLimit: nil, SubRuleRef: domain.RuleOutcomeFail, Reason: "Critical risk score"},
			},
			Weight:  1.0,
			Enabled: true,
		},
		{
			ID:          "builtin-escalating-signal-burst",
			Name:        "Escalating Signal Burst",
			Description: "Flags users on an escalating trend with a burst of recent signals",
			Version:     "1.0.0",
			Expression:  "trend == 'escalating' && signal_count_24h >= 5",
			Bands: []domain.RuleBand{
				{LowerLimit: fptr(0.0), UpperLimit: fptr(1.0), SubRuleRef: domain.RuleOutcomePass, Reason: "No escalating burst"},
				{LowerLimit: fptr(1.0), UpperLimit: nil, SubRuleRef: domain.RuleOutcomeReview, Reason: "Escalating signal burst"},
			},
			Weight:  0.8,
			Enabled: true,
		},
		{
			ID:          "builtin-restricted-repeat",
			Name:        "Violation Under Active Restriction",
			Description: "Flags users who keep generating signals while a restriction is active",
			Version:     "1.0.0",
			Expression:  "has_active_restriction && signal_count_24h > 0",
			Bands: []domain.RuleBand{
				{LowerLimit: fptr(0.0), UpperLimit: fptr(1.0), SubRuleRef: domain.RuleOutcomePass, Reason: "No violation under restriction"},
				{LowerLimit: fptr(1.0), UpperLimit: nil, SubRuleRef: domain.RuleOutcomeFail, Reason: "Active restriction violated"},
			},
			Weight:  1.0,
			Enabled: true,
		},
		{
			ID:          "builtin-provider-enforcement-history",
			Name:        "Provider Repeat Enforcement",
			Description: "Flags providers accumulating enforcement actions in the last 30 days",
			Version:     "1.0.0",
			Expression:  "user_type == 'provider' && enforcement_count_30d >= 2",
			Bands: []domain.RuleBand{
				{LowerLimit: fptr(0.0), UpperLimit: fptr(1.0), SubRuleRef: domain.RuleOutcomePass, Reason: "Provider history clean"},
				{LowerLimit: fptr(1.0), UpperLimit: nil, SubRuleRef: domain.RuleOutcomeReview, Reason: "Provider with repeat enforcement"},
			},
			Weight:  0.7,
			Enabled: true,
		},
		{
			ID:          "builtin-evasion-pattern",
			Name:        "Evasion Pattern Flag",
			Description: "Flags users exhibiting detected evasion patterns during payment events",
			Version:     "1.0.0",
			Expression:  "'ESCALATION_PATTERN' in pattern_flags && event_type.startsWith('wallet.')",
			Bands: []domain.RuleBand{
				{LowerLimit: fptr(0.0), UpperLimit: fptr(1.0), SubRuleRef: domain.RuleOutcomePass, Reason: "No evasion pattern"},
				{LowerLimit: fptr(1.0), UpperLimit: nil, SubRuleRef: domain.RuleOutcomeFail, Reason: "Evasion pattern during payment"},
			},
			Weight:  0.9,
			Enabled: true,
		},
	}
}
