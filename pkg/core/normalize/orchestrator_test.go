package normalize

import (
	"context"
	"testing"

	"csa-margin-engine/pkg/models"
)

func TestRouteCollateralSingleColumnUsesBaseValuationLabel(t *testing.T) {
	extraction := models.Extraction{
		EligibleCollateralTable: []models.CollateralRow{
			{CollateralType: "Cash", Valuations: []string{"100%"}},
		},
		ColumnInfo: models.ColumnInfo{ValuationColumnCount: 1, ValuationColumnNames: []string{"Valuation"}},
	}
	items, events := routeCollateral(extraction)
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0].RatingEvent != baseValuationRatingEvent {
		t.Fatalf("expected rating event %q, got %q", baseValuationRatingEvent, items[0].RatingEvent)
	}
	if len(events) != 1 || events[0] != baseValuationRatingEvent {
		t.Fatalf("expected a single rating event, got %v", events)
	}
}

func TestRouteCollateralMultiColumnExplodesByColumn(t *testing.T) {
	extraction := models.Extraction{
		EligibleCollateralTable: []models.CollateralRow{
			{CollateralType: "US Treasury", Valuations: []string{"99%", "97%"}},
		},
		ColumnInfo: models.ColumnInfo{
			ValuationColumnCount: 2,
			ValuationColumnNames: []string{"No Event", "Downgrade"},
		},
	}
	items, events := routeCollateral(extraction)
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].RatingEvent != "No Event" || items[1].RatingEvent != "Downgrade" {
		t.Fatalf("unexpected rating events: %+v", items)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 distinct rating events, got %v", events)
	}
}

func TestRouteTemporalOnlyIncludesPresentFields(t *testing.T) {
	extraction := models.Extraction{
		ValuationTiming: models.ValuationTiming{NotificationTime: "5:00 PM"},
	}
	data := routeTemporal(extraction)
	if data["notification_time"] != "5:00 PM" {
		t.Fatalf("expected notification_time to be routed")
	}
	if _, present := data["valuation_time"]; present {
		t.Fatalf("did not expect valuation_time to be present")
	}
}

func TestRouteCurrencyRenamesMinimumTransferAmountFields(t *testing.T) {
	extraction := models.Extraction{
		CoreMarginTerms: models.CoreMarginTerms{
			PartyAMinimumTransferAmount: "USD 250,000",
			BaseCurrency:                "USD",
		},
	}
	data := routeCurrency(extraction)
	if data["party_a_min_transfer_amount"] != "USD 250,000" {
		t.Fatalf("expected party_a_minimum_transfer_amount to route to party_a_min_transfer_amount, got %v", data)
	}
	if data["base_currency"] != "USD" {
		t.Fatalf("expected base_currency to be routed through unchanged")
	}
}

func TestNormalizeEmptyExtractionDoesNotPanic(t *testing.T) {
	orch := NewOrchestrator(nil, Config{})
	result := orch.Normalize(context.Background(), models.Extraction{}, "")
	if result.OverallConfidence != 0.8 {
		t.Fatalf("expected default overall confidence 0.8 when no agent produced data, got %v", result.OverallConfidence)
	}
	if len(result.NormalizedCollateral) != 0 {
		t.Fatalf("expected no normalized collateral for an empty extraction")
	}
}

func TestAggregateConfidenceRedistributesMissingAgentWeight(t *testing.T) {
	collateralResult := models.AgentResult{Data: map[string]interface{}{"x": 1}, Confidence: 0.9}
	temporalResult := models.AgentResult{}
	currencyResult := models.AgentResult{Data: map[string]interface{}{"y": 1}, Confidence: 0.8}

	got := aggregateConfidence(collateralResult, temporalResult, currencyResult)
	want := (0.5/(0.5+0.25))*0.9 + (0.25/(0.5+0.25))*0.8
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("aggregateConfidence = %v, want %v", got, want)
	}
}

func TestDiffNormalizationDetectsAddedRemovedAndChanged(t *testing.T) {
	haircut1, haircut2 := 0.02, 0.05
	before := models.NormalizedCollateralTable{
		CollateralItems: []models.NormalizedCollateral{
			{StandardizedType: models.CollateralCashUSD, RatingEvent: "no_event", FlatHaircut: &haircut1},
			{StandardizedType: models.CollateralUSTreasury, RatingEvent: "no_event"},
		},
	}
	after := models.NormalizedCollateralTable{
		CollateralItems: []models.NormalizedCollateral{
			{StandardizedType: models.CollateralCashUSD, RatingEvent: "no_event", FlatHaircut: &haircut2},
			{StandardizedType: models.CollateralEquities, RatingEvent: "no_event"},
		},
	}

	diffs := DiffNormalization(before, after)
	if len(diffs) != 3 {
		t.Fatalf("expected 3 diffs (changed, removed, added), got %d: %v", len(diffs), diffs)
	}
}
