package scoring

import (
	"context"
	"fmt"
	"sync"

	"github.com/opensource-trust/kestrel/internal/domain"
)

// Calculator is the strategy interface over the two score models. The
// active model is chosen by configuration at wiring time; both
// implementations stay independently testable offline via the pure
// Compute* functions.
//
// Calculators never fail: aggregation substitutes safe defaults under
// telemetry outage, and the arithmetic is total.
type Calculator interface {
	// ModelVersion identifies the model for persisted scores.
	ModelVersion() string

	// Score aggregates inputs for the user and computes the composite
	// risk score in [0,100] plus the model's factor breakdown.
	Score(ctx context.Context, tenantID, userID string) (float64, any)
}

// NewCalculator returns the calculator for the configured model version.
func NewCalculator(model string, agg *Aggregator) (Calculator, error) {
	switch model {
	case domain.ModelThreeLayer:
		return &ThreeLayerCalculator{agg: agg}, nil
	case domain.ModelFiveComponent:
		return &FiveComponentCalculator{agg: agg}, nil
	default:
		return nil, fmt.Errorf("unknown score model: %s", model)
	}
}

// ThreeLayerCalculator runs the legacy weighted model.
type ThreeLayerCalculator struct {
	agg *Aggregator
}

func (c *ThreeLayerCalculator) ModelVersion() string { return domain.ModelThreeLayer }

// Score fans out the three layer aggregations concurrently and joins
// before computing the composite. Dimensions are statistically
// independent, so ordering between them is irrelevant.
func (c *ThreeLayerCalculator) Score(ctx context.Context, tenantID, userID string) (float64, any) {
	var (
		wg          sync.WaitGroup
		operational domain.OperationalInputs
		behavioral  domain.BehavioralInputs
		network     domain.NetworkInputs
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		operational = c.agg.OperationalInputs(ctx, tenantID, userID)
	}()
	go func() {
		defer wg.Done()
		behavioral = c.agg.BehavioralInputs(ctx, tenantID, userID)
	}()
	go func() {
		defer wg.Done()
		network = c.agg.NetworkInputs(ctx, tenantID, userID)
	}()
	wg.Wait()

	result := CalculateTrustScore(domain.FactorsV1{
		Operational: ComputeOperationalScore(operational),
		Behavioral:  ComputeBehavioralScore(behavioral),
		Network:     ComputeNetworkScore(network),
	})

	return result.Score, result.Factors
}

// FiveComponentCalculator runs the additive capped-component model.
type FiveComponentCalculator struct {
	agg *Aggregator
}

func (c *FiveComponentCalculator) ModelVersion() string { return domain.ModelFiveComponent }

// Score fans out the five component aggregations plus the network
// penalty concurrently. The penalty is applied on top of the pure
// composite and the total re-clamped to 100.
func (c *FiveComponentCalculator) Score(ctx context.Context, tenantID, userID string) (float64, any) {
	var (
		wg            sync.WaitGroup
		behavioral    domain.BehavioralInputsV2
		financial     domain.FinancialInputs
		communication domain.CommunicationInputs
		historical    domain.HistoricalInputs
		kyc           domain.KYCInputs
		penalty       float64
	)

	wg.Add(6)
	go func() {
		defer wg.Done()
		behavioral = c.agg.BehavioralInputsV2(ctx, tenantID, userID)
	}()
	go func() {
		defer wg.Done()
		financial = c.agg.FinancialInputs(ctx, tenantID, userID)
	}()
	go func() {
		defer wg.Done()
		communication = c.agg.CommunicationInputs(ctx, tenantID, userID)
	}()
	go func() {
		defer wg.Done()
		historical = c.agg.HistoricalInputs(ctx, tenantID, userID)
	}()
	go func() {
		defer wg.Done()
		kyc = c.agg.KYCInputs(ctx, tenantID, userID)
	}()
	go func() {
		defer wg.Done()
		penalty = c.agg.NetworkPenalty(ctx, tenantID, userID)
	}()
	wg.Wait()

	result := CalculateTrustScoreV2(domain.FactorsV2{
		Behavioral:    domain.BehavioralComponent{Score: ComputeBehavioralScoreV2(behavioral), Inputs: behavioral},
		Financial:     domain.FinancialComponent{Score: ComputeFinancialScore(financial), Inputs: financial},
		Communication: domain.CommunicationComponent{Score: ComputeCommunicationScore(communication), Inputs: communication},
		Historical:    domain.HistoricalComponent{Score: ComputeHistoricalScore(historical), Inputs: historical},
		KYC:           domain.KYCComponent{Score: ComputeKYCScore(kyc), Inputs: kyc},
	})

	return round2(clamp(result.Score+penalty, 0, 100)), result.Factors
}
