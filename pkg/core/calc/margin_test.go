package calc

import (
	"math"
	"testing"

	"csa-margin-engine/pkg/models"
)

func treasury(marketValue, haircut float64) models.CollateralItem {
	return models.CollateralItem{
		CollateralType: models.CollateralUSTreasury,
		MarketValue:    marketValue,
		HaircutRate:    haircut,
		Currency:       "USD",
	}
}

func cash(marketValue float64) models.CollateralItem {
	return models.CollateralItem{
		CollateralType: models.CollateralCashUSD,
		MarketValue:    marketValue,
		HaircutRate:    0,
		Currency:       "USD",
	}
}

// Scenario 1: exposure below threshold -> NO_ACTION, zero exposure above.
func TestScenario1_BelowThreshold(t *testing.T) {
	mc, err := CalculateMarginRequirement(Input{
		NetExposure:           1_800_000,
		Threshold:             2_000_000,
		MinimumTransferAmount: 250_000,
		Rounding:              10_000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mc.Action != models.ActionNoAction || mc.Amount != 0 || mc.ExposureAboveThreshold != 0 {
		t.Fatalf("got action=%s amount=%v exposureAboveThreshold=%v", mc.Action, mc.Amount, mc.ExposureAboveThreshold)
	}
}

// Scenario 2: raw requirement (200k) below MTA -> NO_ACTION.
func TestScenario2_MTAFilter(t *testing.T) {
	mc, err := CalculateMarginRequirement(Input{
		NetExposure:           2_200_000,
		Threshold:             2_000_000,
		MinimumTransferAmount: 250_000,
		Rounding:              10_000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mc.Action != models.ActionNoAction || mc.Amount != 0 {
		t.Fatalf("got action=%s amount=%v", mc.Action, mc.Amount)
	}
}

// Scenario 3: single US Treasury position, CALL.
func TestScenario3_CallWithTreasury(t *testing.T) {
	mc, err := CalculateMarginRequirement(Input{
		NetExposure:           5_000_000,
		Threshold:             2_000_000,
		MinimumTransferAmount: 250_000,
		Rounding:              10_000,
		PostedCollateral:      []models.CollateralItem{treasury(1_000_000, 0.01)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mc.Action != models.ActionCall || mc.Amount != 2_010_000 || mc.EffectiveCollateral != 990_000 {
		t.Fatalf("got action=%s amount=%v effectiveCollateral=%v", mc.Action, mc.Amount, mc.EffectiveCollateral)
	}
}

// Scenario 4: multiple collateral types, CALL.
func TestScenario4_MultipleCollateralTypes(t *testing.T) {
	mc, err := CalculateMarginRequirement(Input{
		NetExposure:           8_000_000,
		Threshold:             1_000_000,
		MinimumTransferAmount: 100_000,
		Rounding:              10_000,
		PostedCollateral: []models.CollateralItem{
			cash(1_000_000),
			treasury(2_000_000, 0.01),
			{CollateralType: models.CollateralGovernmentBonds, MarketValue: 1_000_000, HaircutRate: 0.03, Currency: "USD"},
			{CollateralType: models.CollateralCorporateBonds, MarketValue: 500_000, HaircutRate: 0.08, Currency: "USD"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mc.Action != models.ActionCall || mc.Amount != 2_590_000 || mc.EffectiveCollateral != 4_410_000 {
		t.Fatalf("got action=%s amount=%v effectiveCollateral=%v", mc.Action, mc.Amount, mc.EffectiveCollateral)
	}
}

// Scenario 5: negative exposure, RETURN.
func TestScenario5_NegativeExposureReturn(t *testing.T) {
	mc, err := CalculateMarginRequirement(Input{
		NetExposure:           -500_000,
		Threshold:             1_000_000,
		MinimumTransferAmount: 100_000,
		Rounding:              10_000,
		PostedCollateral:      []models.CollateralItem{cash(1_000_000)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mc.Action != models.ActionReturn || mc.Amount != 1_000_000 {
		t.Fatalf("got action=%s amount=%v", mc.Action, mc.Amount)
	}
}

// Scenario 6: independent amount folded in before comparison.
func TestScenario6_IndependentAmount(t *testing.T) {
	mc, err := CalculateMarginRequirement(Input{
		NetExposure:           3_000_000,
		Threshold:             2_000_000,
		MinimumTransferAmount: 100_000,
		Rounding:              10_000,
		IndependentAmount:     500_000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mc.Action != models.ActionCall || mc.Amount != 1_500_000 {
		t.Fatalf("got action=%s amount=%v", mc.Action, mc.Amount)
	}
	found := false
	for _, s := range mc.CalculationSteps {
		if s.SourceClause == "CSA Paragraph 13 - Independent Amount" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an independent-amount calculation step")
	}
}

// Scenario 7: infinite threshold always short-circuits to NO_ACTION.
func TestScenario7_InfiniteThreshold(t *testing.T) {
	mc, err := CalculateMarginRequirement(Input{
		NetExposure:           50_000_000,
		Threshold:             models.ThresholdInfinity,
		MinimumTransferAmount: 0,
		Rounding:              1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mc.Action != models.ActionNoAction || mc.Amount != 0 {
		t.Fatalf("got action=%s amount=%v", mc.Action, mc.Amount)
	}
	if len(mc.CalculationSteps) != 1 || mc.CalculationSteps[0].SourceClause == "" {
		t.Fatalf("expected exactly one step citing the infinite threshold clause")
	}
}

func TestValidationRejectsBadInputs(t *testing.T) {
	cases := []Input{
		{NetExposure: 1, Threshold: -1, MinimumTransferAmount: 0, Rounding: 1},
		{NetExposure: 1, Threshold: 0, MinimumTransferAmount: -1, Rounding: 1},
		{NetExposure: 1, Threshold: 0, MinimumTransferAmount: 0, Rounding: 0},
		{NetExposure: 1, Threshold: 0, MinimumTransferAmount: 0, Rounding: 1, IndependentAmount: -1},
	}
	for i, in := range cases {
		if _, err := CalculateMarginRequirement(in); err == nil {
			t.Errorf("case %d: expected InvalidInput error", i)
		}
	}
}

func TestDeterminism(t *testing.T) {
	in := Input{
		NetExposure:           5_000_000,
		Threshold:             2_000_000,
		MinimumTransferAmount: 250_000,
		Rounding:              10_000,
		PostedCollateral:      []models.CollateralItem{treasury(1_000_000, 0.01)},
	}
	first, err := CalculateMarginRequirement(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		mc, err := CalculateMarginRequirement(in)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if mc.Action != first.Action || mc.Amount != first.Amount {
			t.Fatalf("run %d diverged: %s %v vs %s %v", i, mc.Action, mc.Amount, first.Action, first.Amount)
		}
	}
}

func TestRoundingProperty(t *testing.T) {
	values := []float64{0, 1, 9_999, 10_000, 1_234_567.89}
	increments := []float64{1, 100, 10_000}
	for _, x := range values {
		for _, r := range increments {
			up := RoundUpToIncrement(x, r)
			down := RoundDownToIncrement(x, r)
			if up < x {
				t.Errorf("RoundUpToIncrement(%v, %v) = %v < x", x, r, up)
			}
			if down > x {
				t.Errorf("RoundDownToIncrement(%v, %v) = %v > x", x, r, down)
			}
			if math.Mod(up, r) > 1e-9 && math.Mod(up, r) < r-1e-9 {
				t.Errorf("RoundUpToIncrement(%v, %v) = %v is not a multiple of r", x, r, up)
			}
			if math.Mod(down, r) > 1e-9 && math.Mod(down, r) < r-1e-9 {
				t.Errorf("RoundDownToIncrement(%v, %v) = %v is not a multiple of r", x, r, down)
			}
			if up-x >= r {
				t.Errorf("RoundUpToIncrement(%v, %v) = %v too far above x", x, r, up)
			}
			if x-down >= r {
				t.Errorf("RoundDownToIncrement(%v, %v) = %v too far below x", x, r, down)
			}
		}
	}
}

func TestEffectiveCollateralBounds(t *testing.T) {
	items := []models.CollateralItem{
		cash(1_000_000),
		treasury(2_000_000, 0.01),
		{CollateralType: models.CollateralCorporateBonds, MarketValue: 500_000, HaircutRate: 0.08, Currency: "USD"},
	}
	var sumMV float64
	for _, it := range items {
		sumMV += it.MarketValue
	}
	effective, breakdown := CalculateEffectiveCollateral(items)
	if effective < 0 || effective > sumMV {
		t.Fatalf("effective collateral %v out of bounds [0, %v]", effective, sumMV)
	}
	if len(breakdown) != len(items) {
		t.Fatalf("breakdown length = %d, want %d", len(breakdown), len(items))
	}
}

func TestMTAFilterProperty(t *testing.T) {
	mc, err := CalculateMarginRequirement(Input{
		NetExposure:           2_100_000,
		Threshold:             2_000_000,
		MinimumTransferAmount: 500_000,
		Rounding:              10_000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mc.Action != models.ActionNoAction || mc.Amount != 0 {
		t.Fatalf("raw 100k < MTA 500k should yield NO_ACTION, got %s %v", mc.Action, mc.Amount)
	}
}
