package models

import "math"

// Threshold is a first-class business value: +Inf means "never post
// collateral", never "missing" (spec.md §9 Design Notes). Go has no
// built-in sum types cheap enough to justify here, so CSATerms models it
// as a plain float64 with math.Inf(1); the infinity codec in pkg/core/store
// is the only place the +Inf <-> "Infinity" string conversion happens.
// See DESIGN.md for this Open-Question decision.
const ThresholdInfinity = math.Inf(1)

// IsInfiniteThreshold reports whether v represents the infinite-threshold
// business value.
func IsInfiniteThreshold(v float64) bool {
	return math.IsInf(v, 1)
}

// CSATerms is the canonical calculation input, mapped from an Extraction
// plus a NormalizedCollateralTable by the Mapper (spec.md §3, §4.8).
type CSATerms struct {
	PartyAName string `json:"party_a_name"`
	PartyBName string `json:"party_b_name"`

	PartyAThreshold             float64 `json:"party_a_threshold"`
	PartyBThreshold             float64 `json:"party_b_threshold"`
	PartyAMinimumTransferAmount float64 `json:"party_a_minimum_transfer_amount"`
	PartyBMinimumTransferAmount float64 `json:"party_b_minimum_transfer_amount"`
	PartyAIndependentAmount     float64 `json:"party_a_independent_amount"`
	PartyBIndependentAmount     float64 `json:"party_b_independent_amount"`

	Rounding float64 `json:"rounding"`
	Currency string  `json:"currency"`

	NormalizedCollateralID string                 `json:"normalized_collateral_id"`
	EligibleCollateral     []NormalizedCollateral `json:"eligible_collateral"`

	ValuationAgent string            `json:"valuation_agent"`
	EffectiveDate  string            `json:"effective_date"`
	SourcePages    map[string]int    `json:"source_pages,omitempty"`

	SourceDocumentID string  `json:"source_document_id,omitempty"`
	ConfidenceScores map[string]float64 `json:"confidence_scores,omitempty"`
}

// ThresholdFor returns the threshold the calculator should use for the
// given party_perspective ("party_a" or "party_b"). Perspective selection
// lives here, at the boundary, per spec.md §9 — the calculator itself only
// ever sees one threshold.
func (t CSATerms) ThresholdFor(perspective string) (threshold, mta, independentAmount float64, ok bool) {
	switch perspective {
	case "party_a":
		return t.PartyAThreshold, t.PartyAMinimumTransferAmount, t.PartyAIndependentAmount, true
	case "party_b":
		return t.PartyBThreshold, t.PartyBMinimumTransferAmount, t.PartyBIndependentAmount, true
	default:
		return 0, 0, 0, false
	}
}
