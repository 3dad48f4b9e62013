// Package calc implements the deterministic five-step margin calculator
// spec.md §4.9 defines. Grounded directly on original_source's
// core/calculator.py: same step order, same source_clause citations, same
// rounding semantics. The calculator is pure — no clock, no randomness, no
// I/O — so CalculationDate is left for the caller to stamp.
package calc

import (
	"math"

	"csa-margin-engine/pkg/core/apierr"
	"csa-margin-engine/pkg/core/logx"
	"csa-margin-engine/pkg/models"
)

var log = logx.New("calc")

// RoundUpToIncrement rounds value up to the nearest multiple of increment.
func RoundUpToIncrement(value, increment float64) float64 {
	return math.Ceil(value/increment) * increment
}

// RoundDownToIncrement rounds value down to the nearest multiple of increment.
func RoundDownToIncrement(value, increment float64) float64 {
	return math.Floor(value/increment) * increment
}

// CollateralBreakdown is one posted item's haircut arithmetic, surfaced for
// the Explanation/Script Generator (SPEC_FULL.md supplemented feature #2).
type CollateralBreakdown struct {
	CollateralType models.StandardizedCollateralType `json:"collateral_type"`
	MarketValue    float64                           `json:"market_value"`
	HaircutRate    float64                           `json:"haircut_rate"`
	HaircutAmount  float64                           `json:"haircut_amount"`
	EffectiveValue float64                           `json:"effective_value"`
}

// CalculateEffectiveCollateral sums item.EffectiveValue() across postedCollateral,
// also returning a per-item breakdown for audit/explanation consumers.
func CalculateEffectiveCollateral(postedCollateral []models.CollateralItem) (float64, []CollateralBreakdown) {
	var total float64
	breakdown := make([]CollateralBreakdown, 0, len(postedCollateral))
	for _, item := range postedCollateral {
		effective := item.EffectiveValue()
		total += effective
		breakdown = append(breakdown, CollateralBreakdown{
			CollateralType: item.CollateralType,
			MarketValue:    item.MarketValue,
			HaircutRate:    item.HaircutRate,
			HaircutAmount:  item.MarketValue * item.HaircutRate,
			EffectiveValue: effective,
		})
	}
	return total, breakdown
}

// Input bundles the calculator's five-step inputs (spec.md §4.9). Currency,
// CounterpartyName, and CSATermsID are carried through to the result purely
// for provenance — they never affect the arithmetic.
type Input struct {
	NetExposure           float64
	Threshold             float64
	MinimumTransferAmount float64
	Rounding              float64
	PostedCollateral      []models.CollateralItem
	IndependentAmount     float64
	Currency              string
	CounterpartyName      string
	CSATermsID            string
}

// CalculateMarginRequirement runs the five-step algorithm and returns a
// fully annotated MarginCall. It is pure: identical Input values always
// produce a bit-identical Action and Amount (spec.md §8 Determinism).
func CalculateMarginRequirement(in Input) (*models.MarginCall, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	currency := in.Currency
	if currency == "" {
		currency = "USD"
	}

	var steps []models.CalculationStep
	stepNumber := 1

	// Infinite threshold short-circuits the entire algorithm: this party
	// never posts collateral, regardless of exposure.
	if models.IsInfiniteThreshold(in.Threshold) {
		steps = append(steps, models.CalculationStep{
			StepNumber:  stepNumber,
			Description: "Infinite threshold - no collateral ever required for this party",
			Formula:     "threshold = ∞ → exposure_above_threshold = 0",
			Inputs: map[string]interface{}{
				"net_exposure": in.NetExposure,
				"threshold":    "Infinity",
			},
			Result:       0,
			SourceClause: "CSA Paragraph 13 - Threshold Amount (Party has unlimited threshold)",
		})

		log.Infof("infinite threshold for %s: no collateral required regardless of exposure ($%.2f)", counterpartyOrUnknown(in.CounterpartyName), in.NetExposure)

		return &models.MarginCall{
			Action:                 models.ActionNoAction,
			Amount:                 0,
			Currency:               currency,
			NetExposure:            in.NetExposure,
			Threshold:              models.ThresholdInfinity,
			PostedCollateralItems:  in.PostedCollateral,
			EffectiveCollateral:    0,
			ExposureAboveThreshold: 0,
			CalculationSteps:       steps,
			CSATermsID:             in.CSATermsID,
			CounterpartyName:       in.CounterpartyName,
		}, nil
	}

	log.Infof("starting margin calculation for %s: exposure=$%.2f threshold=$%.2f mta=$%.2f rounding=$%.2f",
		counterpartyOrUnknown(in.CounterpartyName), in.NetExposure, in.Threshold, in.MinimumTransferAmount, in.Rounding)

	// Step 1: exposure above threshold.
	exposureAboveThreshold := math.Max(in.NetExposure-in.Threshold, 0)
	steps = append(steps, models.CalculationStep{
		StepNumber:  stepNumber,
		Description: "Calculate exposure above threshold",
		Formula:     "max(net_exposure - threshold, 0)",
		Inputs: map[string]interface{}{
			"net_exposure": in.NetExposure,
			"threshold":    in.Threshold,
		},
		Result:       exposureAboveThreshold,
		SourceClause: "CSA Paragraph 13 - Threshold Amount",
	})
	stepNumber++

	// Step 2: effective collateral after haircuts.
	effectiveCollateral, breakdown := CalculateEffectiveCollateral(in.PostedCollateral)
	postedForLog := make([]map[string]interface{}, 0, len(breakdown))
	for _, b := range breakdown {
		postedForLog = append(postedForLog, map[string]interface{}{
			"type":         string(b.CollateralType),
			"market_value": b.MarketValue,
			"haircut":      b.HaircutRate,
		})
	}
	steps = append(steps, models.CalculationStep{
		StepNumber:  stepNumber,
		Description: "Calculate effective value of posted collateral (after haircuts)",
		Formula:     "sum(market_value * (1 - haircut_rate)) for each collateral item",
		Inputs: map[string]interface{}{
			"posted_collateral": postedForLog,
		},
		Result:       effectiveCollateral,
		SourceClause: "CSA Paragraph 11 - Valuation and Haircuts",
	})
	stepNumber++

	// Step 2.5 (conditional): fold in the independent amount.
	totalRequired := exposureAboveThreshold
	if in.IndependentAmount > 0 {
		totalRequired = exposureAboveThreshold + in.IndependentAmount
		steps = append(steps, models.CalculationStep{
			StepNumber:  stepNumber,
			Description: "Add independent amount to exposure",
			Formula:     "exposure_above_threshold + independent_amount",
			Inputs: map[string]interface{}{
				"exposure_above_threshold": exposureAboveThreshold,
				"independent_amount":       in.IndependentAmount,
			},
			Result:       totalRequired,
			SourceClause: "CSA Paragraph 13 - Independent Amount",
		})
		stepNumber++
	}

	// Step 3: raw (signed) requirement.
	raw := totalRequired - effectiveCollateral
	steps = append(steps, models.CalculationStep{
		StepNumber:  stepNumber,
		Description: "Calculate raw collateral requirement",
		Formula:     "total_collateral_requirement - effective_collateral",
		Inputs: map[string]interface{}{
			"total_collateral_requirement": totalRequired,
			"effective_collateral":         effectiveCollateral,
		},
		Result:       raw,
		SourceClause: "CSA Paragraph 3 - Credit Support Obligations",
	})
	stepNumber++

	// Step 4: MTA check.
	absRaw := math.Abs(raw)
	if absRaw < in.MinimumTransferAmount {
		steps = append(steps, models.CalculationStep{
			StepNumber:  stepNumber,
			Description: "Apply Minimum Transfer Amount (MTA) check - below threshold",
			Formula:     "abs(collateral_required_raw) < minimum_transfer_amount",
			Inputs: map[string]interface{}{
				"collateral_required_raw": raw,
				"minimum_transfer_amount": in.MinimumTransferAmount,
				"abs_value":               absRaw,
			},
			Result:       0,
			SourceClause: "CSA Paragraph 13 - Minimum Transfer Amount",
		})

		return &models.MarginCall{
			Action:                 models.ActionNoAction,
			Amount:                 0,
			Currency:               currency,
			NetExposure:            in.NetExposure,
			Threshold:              in.Threshold,
			PostedCollateralItems:  in.PostedCollateral,
			EffectiveCollateral:    effectiveCollateral,
			ExposureAboveThreshold: exposureAboveThreshold,
			CalculationSteps:       steps,
			CSATermsID:             in.CSATermsID,
			CounterpartyName:       in.CounterpartyName,
		}, nil
	}

	steps = append(steps, models.CalculationStep{
		StepNumber:  stepNumber,
		Description: "Apply Minimum Transfer Amount (MTA) check - above threshold",
		Formula:     "abs(collateral_required_raw) >= minimum_transfer_amount",
		Inputs: map[string]interface{}{
			"collateral_required_raw": raw,
			"minimum_transfer_amount": in.MinimumTransferAmount,
			"abs_value":               absRaw,
		},
		Result:       absRaw,
		SourceClause: "CSA Paragraph 13 - Minimum Transfer Amount",
	})
	stepNumber++

	// Step 5: rounding.
	var amount float64
	var action models.MarginCallAction
	if raw > 0 {
		amount = RoundUpToIncrement(raw, in.Rounding)
		action = models.ActionCall
		steps = append(steps, models.CalculationStep{
			StepNumber:  stepNumber,
			Description: "Round collateral call amount UP to nearest rounding increment",
			Formula:     "ceil(collateral_required_raw / rounding) * rounding",
			Inputs: map[string]interface{}{
				"collateral_required_raw": raw,
				"rounding":                in.Rounding,
			},
			Result:       amount,
			SourceClause: "CSA Paragraph 13 - Rounding",
		})
	} else {
		amount = RoundDownToIncrement(absRaw, in.Rounding)
		action = models.ActionReturn
		steps = append(steps, models.CalculationStep{
			StepNumber:  stepNumber,
			Description: "Round collateral return amount DOWN to nearest rounding increment",
			Formula:     "floor(abs(collateral_required_raw) / rounding) * rounding",
			Inputs: map[string]interface{}{
				"collateral_required_raw": raw,
				"abs_value":               absRaw,
				"rounding":                in.Rounding,
			},
			Result:       amount,
			SourceClause: "CSA Paragraph 13 - Rounding",
		})
	}

	log.OK("calculation complete: %s $%.2f", action, amount)

	return &models.MarginCall{
		Action:                 action,
		Amount:                 amount,
		Currency:               currency,
		NetExposure:            in.NetExposure,
		Threshold:              in.Threshold,
		PostedCollateralItems:  in.PostedCollateral,
		EffectiveCollateral:    effectiveCollateral,
		ExposureAboveThreshold: exposureAboveThreshold,
		CalculationSteps:       steps,
		CSATermsID:             in.CSATermsID,
		CounterpartyName:       in.CounterpartyName,
	}, nil
}

func validateInput(in Input) error {
	if !models.IsInfiniteThreshold(in.Threshold) && in.Threshold < 0 {
		return apierr.InvalidInput("threshold must be >= 0 or infinite, got %v", in.Threshold)
	}
	if in.MinimumTransferAmount < 0 {
		return apierr.InvalidInput("minimum_transfer_amount must be >= 0, got %v", in.MinimumTransferAmount)
	}
	if in.Rounding <= 0 {
		return apierr.InvalidInput("rounding must be > 0, got %v", in.Rounding)
	}
	if in.IndependentAmount < 0 {
		return apierr.InvalidInput("independent_amount must be >= 0, got %v", in.IndependentAmount)
	}
	return nil
}

func counterpartyOrUnknown(name string) string {
	if name == "" {
		return "Unknown"
	}
	return name
}
