// Package enforcement maps risk tiers and enforcement history to
// enforcement actions.
//
// Hard constraints:
//   - Automation NEVER permanently bans users
//   - High-risk actions require human review
//   - All actions must be explainable and reversible where possible
package enforcement

import (
	"strings"

	"github.com/opensource-trust/kestrel/internal/domain"
)

// Reason codes emitted by the trigger evaluator.
const (
	ReasonMonitorOnly         = "MONITOR_ONLY"
	ReasonLowRiskFirstOffense = "LOW_RISK_FIRST_OFFENSE"
	ReasonLowRiskRepeat       = "LOW_RISK_REPEAT"
	ReasonMediumRiskFirst     = "MEDIUM_RISK_FIRST"
	ReasonMediumRiskSecond    = "MEDIUM_RISK_SECOND"
	ReasonMediumRiskRepeated  = "MEDIUM_RISK_REPEATED"
	ReasonHighRiskEvasion     = "HIGH_RISK_EVASION"
	ReasonHighRiskEscalation  = "HIGH_RISK_ESCALATION"
	ReasonCriticalRiskSuspend = "CRITICAL_RISK_SUSPEND"
)

// PatternEscalation is the caller-supplied flag marking a detected
// escalation pattern.
const PatternEscalation = "ESCALATION_PATTERN"

// Restriction durations.
const (
	mediumRestrictionHours = 24
	highRestrictionHours   = 72
)

// EvaluateTrigger decides the enforcement action for a tier given the
// user's enforcement history and detected evasion-pattern flags. It is a
// total function: every input combination yields a result with a
// non-empty reason code, and a non-nil action always carries a reason.
//
// Critical tier always suspends pending review and never escalates to a
// permanent ban, regardless of history depth or pattern count.
func EvaluateTrigger(tier domain.RiskTier, history domain.EnforcementHistory, patternFlags []string) *domain.TriggerResult {
	switch tier.Severity() {
	case 0:
		// Monitor tier: no action, in every context.
		return &domain.TriggerResult{
			Action:                domain.ActionNone,
			RequiresHumanApproval: false,
			Reason:                "User is in monitor tier; no action required.",
			ReasonCode:            ReasonMonitorOnly,
			Metadata:              map[string]any{"tier": tier},
		}

	case 1:
		if history.RecentActions == 0 {
			return &domain.TriggerResult{
				Action:                domain.ActionSoftWarning,
				RequiresHumanApproval: false,
				Reason:                "Low-risk behavior detected. This is an informational warning.",
				ReasonCode:            ReasonLowRiskFirstOffense,
				Metadata:              metadata(tier, history),
			}
		}
		return &domain.TriggerResult{
			Action:                domain.ActionHardWarning,
			RequiresHumanApproval: false,
			Reason:                "Repeated low-risk behavior detected. This warning is logged.",
			ReasonCode:            ReasonLowRiskRepeat,
			Metadata:              metadata(tier, history),
		}

	case 2:
		switch history.RecentActions {
		case 0:
			return &domain.TriggerResult{
				Action:                domain.ActionHardWarning,
				RequiresHumanApproval: false,
				Reason:                "Medium-risk behavior detected. This warning is logged.",
				ReasonCode:            ReasonMediumRiskFirst,
				Metadata:              metadata(tier, history),
			}
		case 1:
			return &domain.TriggerResult{
				Action:                domain.ActionHardWarning,
				RequiresHumanApproval: false,
				Reason:                "Second medium-risk violation detected.",
				ReasonCode:            ReasonMediumRiskSecond,
				Metadata:              metadata(tier, history),
			}
		default:
			return &domain.TriggerResult{
				Action:                 domain.ActionTemporaryRestriction,
				RequiresHumanApproval:  false,
				Reason:                 "Multiple medium-risk violations detected. Temporary restriction applied.",
				ReasonCode:             ReasonMediumRiskRepeated,
				EffectiveDurationHours: hours(mediumRestrictionHours),
				Metadata:               metadata(tier, history),
			}
		}

	case 3:
		if hasEvasionPattern(patternFlags) || history.RecentActions >= 2 {
			md := metadata(tier, history)
			md["patternFlags"] = patternFlags
			return &domain.TriggerResult{
				Action:                 domain.ActionTemporaryRestriction,
				RequiresHumanApproval:  true,
				Reason:                 "High-risk behavior with evasion/escalation pattern detected. Admin review required.",
				ReasonCode:             ReasonHighRiskEvasion,
				EffectiveDurationHours: hours(highRestrictionHours),
				Metadata:               md,
			}
		}
		return &domain.TriggerResult{
			Action:                domain.ActionAdminEscalation,
			RequiresHumanApproval: true,
			Reason:                "High-risk behavior detected. Escalated for admin review.",
			ReasonCode:            ReasonHighRiskEscalation,
			Metadata:              metadata(tier, history),
		}

	default:
		// Critical tier: suspend with mandatory human review.
		// NEVER permanently ban automatically.
		md := metadata(tier, history)
		md["patternFlags"] = patternFlags
		return &domain.TriggerResult{
			Action:                domain.ActionAccountSuspension,
			RequiresHumanApproval: true,
			Reason:                "Critical-risk behavior detected. Account suspended pending admin review.",
			ReasonCode:            ReasonCriticalRiskSuspend,
			// No duration: suspended until an admin resolves.
			Metadata: md,
		}
	}
}

// hasEvasionPattern reports whether the flags carry the escalation
// pattern or any obfuscation marker.
func hasEvasionPattern(flags []string) bool {
	for _, f := range flags {
		if f == PatternEscalation || strings.Contains(f, "obfuscation") {
			return true
		}
	}
	return false
}

func metadata(tier domain.RiskTier, history domain.EnforcementHistory) map[string]any {
	return map[string]any{
		"tier":         tier,
		"historyCount": history.TotalActions,
	}
}

func hours(h int) *int {
	return &h
}
