// Package domain defines the core interfaces and types for Kestrel.
package domain

// RiskTier is the discrete risk bucket derived from a trust score.
// Tiers form a total order: monitor < low < medium < high < critical.
type RiskTier string

const (
	TierMonitor  RiskTier = "monitor"
	TierLow      RiskTier = "low"
	TierMedium   RiskTier = "medium"
	TierHigh     RiskTier = "high"
	TierCritical RiskTier = "critical"
)

// Severity returns the ordinal level of a tier for ordering and comparison.
// Unknown tiers map to 0 (monitor), the safe floor.
func (t RiskTier) Severity() int {
	switch t {
	case TierLow:
		return 1
	case TierMedium:
		return 2
	case TierHigh:
		return 3
	case TierCritical:
		return 4
	default:
		return 0
	}
}

// TrendDirection is the short-term direction of score movement.
type TrendDirection string

const (
	TrendStable     TrendDirection = "stable"
	TrendEscalating TrendDirection = "escalating"
	TrendDecaying   TrendDirection = "decaying"
)

// TierAssignment pairs a tier with the trend derived from score history.
type TierAssignment struct {
	Tier  RiskTier       `json:"tier"`
	Trend TrendDirection `json:"trend"`
}
