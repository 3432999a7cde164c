package scoring

import (
	"math"

	"github.com/opensource-trust/kestrel/internal/domain"
)

// Three-layer trust score (legacy model):
// score = 0.30*Operational + 0.40*Behavioral + 0.30*Network.
// Each layer is pre-clamped to 0-100, so the composite is in [0,100].
// Score is inverted: 0 = fully trusted, 100 = maximum risk.

const (
	weightOperational = 0.30
	weightBehavioral  = 0.40
	weightNetwork     = 0.30
)

// ComputeOperationalScore scores escrow avoidance, cancellation rate, and
// off-platform payment attempts. Clamped to [0,100].
func ComputeOperationalScore(in domain.OperationalInputs) float64 {
	var score float64

	// Escrow avoidance: lower usage = higher risk. Only meaningful when
	// the user transacted at all.
	if in.RecentTransactions > 0 {
		score += (1 - in.EscrowUsageRatio) * 40
		score += float64(in.RecentCancellations) / float64(in.RecentTransactions) * 30
	}

	score += math.Min(float64(in.OffPlatformPaymentAttempts)*10, 30)

	return clamp(math.Round(score), 0, 100)
}

// ComputeBehavioralScore scores signal volume, type diversity, escalation,
// repeat violations, and obfuscation attempts. Clamped to [0,100].
func ComputeBehavioralScore(in domain.BehavioralInputs) float64 {
	var score float64

	score += math.Min(float64(in.RecentSignalCount)*5, 25)

	// Diversity of signals (multiple types = higher intent)
	score += math.Min(float64(in.UniqueSignalTypes)*8, 25)

	if in.IsEscalating {
		score += 20
	}

	score += math.Min(float64(in.RepeatedViolationCount)*7, 15)

	// Obfuscation attempts (strong intent signal)
	score += math.Min(float64(in.ObfuscationAttempts)*10, 15)

	return clamp(math.Round(score), 0, 100)
}

// ComputeNetworkScore scores flagged counterparties, shared payment
// endpoints, similar-pattern peers, and device clusters. Clamped to [0,100].
func ComputeNetworkScore(in domain.NetworkInputs) float64 {
	var score float64

	score += math.Min(float64(in.FlaggedCounterparties)*10, 30)

	if in.SharedPaymentEndpoints {
		score += 25
	}

	// Similar pattern users (Sybil indicator)
	score += math.Min(float64(in.SimilarPatternUsers)*8, 25)

	if in.InDeviceCluster {
		score += 20
	}

	return clamp(math.Round(score), 0, 100)
}

// CalculateTrustScore combines the three layer scores into the weighted
// composite, rounded to two decimals.
func CalculateTrustScore(factors domain.FactorsV1) domain.ScoreResultV1 {
	score := weightOperational*factors.Operational +
		weightBehavioral*factors.Behavioral +
		weightNetwork*factors.Network

	return domain.ScoreResultV1{
		Score:   round2(score),
		Factors: factors,
	}
}
