package collateral

import (
	"context"
	"testing"
)

func f(v float64) *float64 { return &v }

func TestIsValidType(t *testing.T) {
	if !isValidType("US_TREASURY") {
		t.Fatal("expected US_TREASURY to be a valid taxonomy type")
	}
	if isValidType("NOT_A_TYPE") {
		t.Fatal("expected NOT_A_TYPE to be invalid")
	}
}

func TestCloseMatchesFindsNearestTaxonomyEntry(t *testing.T) {
	matches := closeMatches("US_TRESURY", validTypeStrings, 3, 0.6)
	if len(matches) == 0 || matches[0] != "US_TREASURY" {
		t.Fatalf("expected US_TREASURY as nearest match for a misspelling, got %v", matches)
	}
}

func TestCloseMatchesRespectsCutoff(t *testing.T) {
	matches := closeMatches("COMPLETELY_UNRELATED_GARBAGE", validTypeStrings, 3, 0.6)
	if len(matches) != 0 {
		t.Fatalf("expected no matches below cutoff, got %v", matches)
	}
}

func TestToModelBucketConvertsPercentScaleToFraction(t *testing.T) {
	mb := toModelBucket(bucket{
		MinMaturityYears:    f(1),
		MaxMaturityYears:    f(3),
		ValuationPercentage: f(99),
		HaircutPercentage:   f(1),
		Source:              `"Base Valuation Percentage" of 99%`,
	})

	if mb.ValuationPercentage != 0.99 {
		t.Fatalf("expected valuation_percentage=0.99, got %v", mb.ValuationPercentage)
	}
	if mb.Haircut != 0.01 {
		t.Fatalf("expected haircut=0.01, got %v", mb.Haircut)
	}
	if diff := mb.Haircut + mb.ValuationPercentage - 1.0; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected haircut + valuation_percentage == 1.0 within 1e-9, got %v", mb.Haircut+mb.ValuationPercentage)
	}
}

func TestBucketsOverlapNullSafe(t *testing.T) {
	open := bucket{MinMaturityYears: f(1), MaxMaturityYears: nil}
	closed := bucket{MinMaturityYears: f(0), MaxMaturityYears: f(2)}
	if bucketsOverlap(open, closed) {
		t.Fatal("expected no overlap when either bound is nil")
	}
}

func TestBucketsOverlapMaxExclusive(t *testing.T) {
	a := bucket{MinMaturityYears: f(1), MaxMaturityYears: f(2)}
	b := bucket{MinMaturityYears: f(2), MaxMaturityYears: f(3)}
	if bucketsOverlap(a, b) {
		t.Fatal("adjacent buckets sharing a boundary should not overlap (max exclusive)")
	}

	c := bucket{MinMaturityYears: f(1), MaxMaturityYears: f(3)}
	d := bucket{MinMaturityYears: f(2), MaxMaturityYears: f(4)}
	if !bucketsOverlap(c, d) {
		t.Fatal("expected overlap for genuinely overlapping ranges")
	}
}

func TestTooPreciseFlagsExtraDecimals(t *testing.T) {
	if !tooPrecise(f(1.23456)) {
		t.Fatal("expected a 5-decimal value to be flagged as too precise")
	}
	if tooPrecise(f(1.25)) {
		t.Fatal("did not expect a 2-decimal value to be flagged")
	}
	if tooPrecise(nil) {
		t.Fatal("nil should never be flagged")
	}
}

func TestApplyResolutionsIsNoOp(t *testing.T) {
	pr := parseResult{StandardizedType: "US_TREASURY"}
	out := applyResolutions(pr, ambiguityResolution{Resolutions: []resolution{{Ambiguity: "x"}}})
	if out.StandardizedType != pr.StandardizedType {
		t.Fatalf("expected no-op passthrough, got %+v", out)
	}
}

func TestApplyLogicCorrectionsIsNoOp(t *testing.T) {
	pr := parseResult{StandardizedType: "CASH_USD", Buckets: []bucket{{MinMaturityYears: f(1), MaxMaturityYears: f(2)}}}
	out := applyLogicCorrections(pr, validationResult{Passed: false, Issues: []string{"bad"}})
	if len(out.Buckets) != len(pr.Buckets) {
		t.Fatalf("expected no-op passthrough, got %+v", out)
	}
}

func TestLevenshteinBasics(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "abc", 0},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
	}
	for _, c := range cases {
		if got := levenshtein(c.a, c.b); got != c.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestNormalizeEmptyItemsReturnsEmptyReasoningChain(t *testing.T) {
	a := NewAgent(nil)
	result := a.Normalize(context.Background(), nil, "", 20, 5)
	if result.AgentName != AgentName {
		t.Fatalf("expected agent name %q, got %q", AgentName, result.AgentName)
	}
	if len(result.ReasoningChain) != 0 {
		t.Fatalf("expected empty reasoning chain for zero items, got %d", len(result.ReasoningChain))
	}
}
