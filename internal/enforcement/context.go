package enforcement

import (
	"strings"

	"github.com/opensource-trust/kestrel/internal/domain"
)

// Context-specific reason codes, suffixed onto the base code when the
// overlay remaps an action.
const contextCodeSep = "_CTX_"

// contextOverrides is the finite (base action, context) -> action table.
// Adding a context or action is a table edit, not new control flow.
// Actions absent from a context's row pass through unchanged; the message
// context is handled separately because its single remap is conditional
// on prior history.
var contextOverrides = map[domain.EventContext]map[domain.ActionType]domain.ActionType{
	domain.ContextBooking: {
		domain.ActionHardWarning:          domain.ActionBookingFlagged,
		domain.ActionTemporaryRestriction: domain.ActionBookingBlocked,
		domain.ActionAccountSuspension:    domain.ActionBookingBlocked,
	},
	domain.ContextPayment: {
		domain.ActionHardWarning:          domain.ActionPaymentHeld,
		domain.ActionTemporaryRestriction: domain.ActionPaymentBlocked,
		domain.ActionAccountSuspension:    domain.ActionPaymentBlocked,
	},
	domain.ContextProvider: {
		domain.ActionHardWarning:          domain.ActionProviderDemoted,
		domain.ActionTemporaryRestriction: domain.ActionProviderSuspended,
		domain.ActionAccountSuspension:    domain.ActionProviderSuspended,
	},
}

// EvaluateContextualTrigger runs the base evaluation and overlays
// context-specific action types. The overlay remaps only the action and
// reason code; reason text, duration, and metadata pass through
// untouched. The general context is a no-op, and the monitor tier
// short-circuits to no action before any context logic runs.
func EvaluateContextualTrigger(tier domain.RiskTier, history domain.EnforcementHistory, patternFlags []string, context domain.EventContext) *domain.TriggerResult {
	base := EvaluateTrigger(tier, history, patternFlags)
	return applyContextOverride(base, context, history)
}

func applyContextOverride(base *domain.TriggerResult, context domain.EventContext, history domain.EnforcementHistory) *domain.TriggerResult {
	if !base.HasAction() || context == domain.ContextGeneral {
		return base
	}

	if context == domain.ContextMessage {
		// Throttle messaging only on repeat offenses; a first-offense
		// hard warning stays a warning.
		if base.Action == domain.ActionHardWarning && history.TotalActions > 0 {
			return remap(base, domain.ActionMessageThrottled, context)
		}
		return base
	}

	overrides, ok := contextOverrides[context]
	if !ok {
		// Unknown context resolves to general behavior.
		return base
	}

	mapped, ok := overrides[base.Action]
	if !ok {
		return base
	}
	return remap(base, mapped, context)
}

// remap returns a copy of the base result with the context-specific
// action and a context-qualified reason code.
func remap(base *domain.TriggerResult, action domain.ActionType, context domain.EventContext) *domain.TriggerResult {
	out := *base
	out.Action = action
	out.ReasonCode = base.ReasonCode + contextCodeSep + strings.ToUpper(string(context))
	return &out
}

// EventTypeToContext maps upstream event-type strings to enforcement
// contexts. Unknown event types resolve to the general context.
func EventTypeToContext(eventType string) domain.EventContext {
	switch {
	case strings.HasPrefix(eventType, "booking."):
		return domain.ContextBooking
	case strings.HasPrefix(eventType, "wallet."),
		strings.HasPrefix(eventType, "transaction."),
		strings.HasPrefix(eventType, "refund."):
		return domain.ContextPayment
	case strings.HasPrefix(eventType, "provider."):
		return domain.ContextProvider
	case strings.HasPrefix(eventType, "message."):
		return domain.ContextMessage
	case strings.HasPrefix(eventType, "dispute."):
		// Disputes are booking context.
		return domain.ContextBooking
	default:
		return domain.ContextGeneral
	}
}
