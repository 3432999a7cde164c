package scoring

import (
	"math"

	"github.com/opensource-trust/kestrel/internal/domain"
)

// Five-component additive trust score:
// Behavioral(0-25) + Financial(0-25) + Communication(0-20)
// + Historical(0-20) + KYC(0-10) = 0-100.
// All functions are pure for easy unit testing.
// Higher score = more risk (same semantics as the 3-layer model).

// ComputeBehavioralScoreV2 scores cancellations, time anomalies, dormant
// reactivation, and activity bursts. Clamped to [0,25].
func ComputeBehavioralScoreV2(in domain.BehavioralInputsV2) float64 {
	cancel := math.Min(in.BookingCancellationRate*25, 12)
	anomaly := math.Min(float64(in.BookingTimeAnomalyCount)*3, 10)
	var dormant float64
	if in.DormantReactivated {
		dormant = 5
	}
	burst := math.Min(float64(in.ActivityBurstCount)*3, 8)
	return clamp(round2(cancel+anomaly+dormant+burst), 0, 25)
}

// ComputeFinancialScore scores off-platform signals, circular payments,
// rapid top-ups, split transactions, and withdrawal/deposit imbalance.
// Clamped to [0,25].
func ComputeFinancialScore(in domain.FinancialInputs) float64 {
	offPlat := math.Min(float64(in.OffPlatformPaymentSignals)*5, 10)
	circular := math.Min(float64(in.CircularPaymentCount)*8, 8)
	topup := math.Min(float64(in.RapidTopupCount)*3, 6)
	split := math.Min(float64(in.SplitTransactionCount)*4, 6)
	var ratio float64
	if in.WithdrawalDepositRatio > 2 {
		ratio = 5
	}
	return clamp(round2(offPlat+circular+topup+split+ratio), 0, 25)
}

// ComputeCommunicationScore scores contact signals, obfuscation, grooming,
// off-platform intent, and escalation patterns. Clamped to [0,20].
func ComputeCommunicationScore(in domain.CommunicationInputs) float64 {
	contact := math.Min(in.ContactSignalCount*3, 8)
	obfusc := math.Min(float64(in.ObfuscationAttemptCount)*4, 8)
	groom := math.Min(float64(in.GroomingSignalCount)*3, 6)
	intent := math.Min(float64(in.OffPlatformIntentCount)*3, 6)
	var escal float64
	if in.EscalationPattern {
		escal = 4
	}
	return clamp(round2(contact+obfusc+groom+intent+escal), 0, 20)
}

// ComputeHistoricalScore scores completion shortfall (providers only),
// disputes, enforcement history, denied appeals, and same-type repeats.
// Clamped to [0,20].
func ComputeHistoricalScore(in domain.HistoricalInputs) float64 {
	var completion float64
	if in.IsProvider {
		completion = (1 - in.ProviderCompletionRate) * 10
	}
	dispute := math.Min(in.CustomerDisputeRate*15, 8)
	enforce := math.Min(float64(in.EnforcementHistoryCount)*3, 8)
	appeal := math.Min(float64(in.AppealDeniedCount)*4, 6)
	repeat := math.Min(float64(in.RepeatOffenseSameType)*3, 6)
	return clamp(round2(completion+dispute+enforce+appeal+repeat), 0, 20)
}

// ComputeKYCScore is inverse: it starts at 10 and is reduced by trust
// indicators, floored at 0.
func ComputeKYCScore(in domain.KYCInputs) float64 {
	var verified float64
	switch in.VerificationStatus {
	case domain.VerificationVerified:
		verified = 5
	case domain.VerificationPending:
		verified = 2
	}

	var age float64
	switch {
	case in.AccountAgeDays > 180:
		age = 3
	case in.AccountAgeDays > 30:
		age = 1
	}

	var completeness float64
	if in.ProfileCompleteness > 0.8 {
		completeness = 2
	}

	return clamp(10-verified-age-completeness, 0, 10)
}

// CalculateTrustScoreV2 sums the five component scores into the composite,
// rounded to two decimals. The components are independently capped so the
// total is in [0,100] by construction.
func CalculateTrustScoreV2(factors domain.FactorsV2) domain.ScoreResultV2 {
	score := factors.Behavioral.Score +
		factors.Financial.Score +
		factors.Communication.Score +
		factors.Historical.Score +
		factors.KYC.Score

	return domain.ScoreResultV2{
		Score:   round2(clamp(score, 0, 100)),
		Factors: factors,
	}
}
