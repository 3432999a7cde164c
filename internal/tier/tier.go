// Package tier maps trust scores to risk tiers and derives score trends.
package tier

import (
	"github.com/opensource-trust/kestrel/internal/domain"
)

// Tier breakpoints (inclusive lower bounds). Evaluated top down so a
// boundary score resolves to the higher tier.
const (
	thresholdCritical = 80
	thresholdHigh     = 60
	thresholdMedium   = 40
	thresholdLow      = 20
)

// trendWindow is the number of trailing scores used for trend detection.
const trendWindow = 3

// Assign maps a score to its risk tier.
func Assign(score float64) domain.RiskTier {
	switch {
	case score >= thresholdCritical:
		return domain.TierCritical
	case score >= thresholdHigh:
		return domain.TierHigh
	case score >= thresholdMedium:
		return domain.TierMedium
	case score >= thresholdLow:
		return domain.TierLow
	default:
		return domain.TierMonitor
	}
}

// DetermineTrend derives the trend from recent scores, oldest first.
// The average successive difference over the last 3 scores decides:
// above +5 escalating, below -5 decaying, otherwise stable. Fewer than
// two scores always yields stable.
func DetermineTrend(scores []float64) domain.TrendDirection {
	if len(scores) < 2 {
		return domain.TrendStable
	}

	recent := scores
	if len(recent) > trendWindow {
		recent = recent[len(recent)-trendWindow:]
	}

	var sum float64
	for i := 1; i < len(recent); i++ {
		sum += recent[i] - recent[i-1]
	}
	avg := sum / float64(len(recent)-1)

	switch {
	case avg > 5:
		return domain.TrendEscalating
	case avg < -5:
		return domain.TrendDecaying
	default:
		return domain.TrendStable
	}
}

// AssignWithTrend assigns the tier for the new score and derives the
// trend from the caller's history with the new score appended as the
// latest element.
func AssignWithTrend(currentScore float64, recentScores []float64) domain.TierAssignment {
	history := make([]float64, 0, len(recentScores)+1)
	history = append(history, recentScores...)
	history = append(history, currentScore)

	return domain.TierAssignment{
		Tier:  Assign(currentScore),
		Trend: DetermineTrend(history),
	}
}
