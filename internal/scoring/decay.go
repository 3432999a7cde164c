// Package scoring implements the trust-score models and the telemetry
// aggregation that feeds them.
package scoring

import (
	"math"
	"time"
)

// DecayHalfLife is the age at which a recency-weighted count loses half
// its weight.
const DecayHalfLife = 14 * 24 * time.Hour

// Decay applies exponential time decay to a value based on its age:
// value * exp(-age * ln2 / halfLife). A zero age returns the value
// unchanged; at exactly one half-life the value is halved.
func Decay(value float64, age time.Duration) float64 {
	if age <= 0 {
		return value
	}
	return value * math.Exp(-math.Ln2*float64(age)/float64(DecayHalfLife))
}

// DecayedCount sums Decay(1.0, now-t) over event times. Recent events
// count close to 1, old events fade toward 0. Callers present the result
// rounded to two decimals but use it unrounded internally.
func DecayedCount(now time.Time, times []time.Time) float64 {
	var total float64
	for _, t := range times {
		total += Decay(1.0, now.Sub(t))
	}
	return total
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
