package models

// StandardizedCollateralType is the closed taxonomy every raw collateral
// type description is mapped into by the Collateral Agent's Validate
// Taxonomy step. Grounded on original_source's normalized_collateral.py,
// extended with the money-market/mutual-fund/precious-metal variants
// spec.md §3 requires and the source enum omits.
type StandardizedCollateralType string

const (
	CollateralCashUSD          StandardizedCollateralType = "CASH_USD"
	CollateralCashEUR          StandardizedCollateralType = "CASH_EUR"
	CollateralCashGBP          StandardizedCollateralType = "CASH_GBP"
	CollateralCashJPY          StandardizedCollateralType = "CASH_JPY"
	CollateralCashOther        StandardizedCollateralType = "CASH_OTHER"
	CollateralUSTreasury       StandardizedCollateralType = "US_TREASURY"
	CollateralUSAgency         StandardizedCollateralType = "US_AGENCY"
	CollateralUSAgencyMBS      StandardizedCollateralType = "US_AGENCY_MBS"
	CollateralGovernmentBonds  StandardizedCollateralType = "GOVERNMENT_BONDS"
	CollateralCorporateBonds  StandardizedCollateralType = "CORPORATE_BONDS"
	CollateralCommercialPaper StandardizedCollateralType = "COMMERCIAL_PAPER"
	CollateralEquities         StandardizedCollateralType = "EQUITIES"
	CollateralMoneyMarket      StandardizedCollateralType = "MONEY_MARKET"
	CollateralMutualFunds      StandardizedCollateralType = "MUTUAL_FUNDS"
	CollateralGoldSilver       StandardizedCollateralType = "GOLD_SILVER"
	CollateralOther            StandardizedCollateralType = "OTHER"
	CollateralUnknown          StandardizedCollateralType = "UNKNOWN"
)

// AllStandardizedCollateralTypes is the closed set used by taxonomy
// validation (nearest-match fallback) in the Collateral Agent.
var AllStandardizedCollateralTypes = []StandardizedCollateralType{
	CollateralCashUSD, CollateralCashEUR, CollateralCashGBP, CollateralCashJPY, CollateralCashOther,
	CollateralUSTreasury, CollateralUSAgency, CollateralUSAgencyMBS, CollateralGovernmentBonds,
	CollateralCorporateBonds, CollateralCommercialPaper, CollateralEquities,
	CollateralMoneyMarket, CollateralMutualFunds, CollateralGoldSilver,
	CollateralOther, CollateralUnknown,
}

// MaturityBucket is a half-open interval [min, max) of years-to-maturity
// with an associated valuation percentage / haircut. Nil bounds denote
// open-ended intervals.
type MaturityBucket struct {
	MinYears            *float64 `json:"min_years,omitempty"`
	MaxYears            *float64 `json:"max_years,omitempty"`
	ValuationPercentage float64  `json:"valuation_percentage"`
	Haircut             float64  `json:"haircut"`
	OriginalText        string   `json:"original_text,omitempty"`
}

// MatchesMaturity reports whether years falls in [min, max) — boundary
// exclusive on the upper end per spec.md §3's invariant (the source's
// Python model treats both bounds inclusively; this repository follows the
// spec's explicit wording, see DESIGN.md).
func (b MaturityBucket) MatchesMaturity(years float64) bool {
	if b.MinYears != nil && years < *b.MinYears {
		return false
	}
	if b.MaxYears != nil && years >= *b.MaxYears {
		return false
	}
	return true
}

// NormalizedCollateral is one normalized row: a standardized type, the
// verbatim source description, the rating-scenario column it belongs to,
// and either a list of maturity buckets or a flat valuation/haircut.
type NormalizedCollateral struct {
	StandardizedType      StandardizedCollateralType `json:"standardized_type"`
	BaseDescription       string                      `json:"base_description"`
	RatingEvent           string                      `json:"rating_event"`
	MaturityBuckets       []MaturityBucket            `json:"maturity_buckets,omitempty"`
	FlatValuationPercentage *float64                  `json:"flat_valuation_percentage,omitempty"`
	FlatHaircut           *float64                    `json:"flat_haircut,omitempty"`
	Confidence            float64                     `json:"confidence"`
	Notes                 string                      `json:"notes,omitempty"`
}

// GetHaircutForMaturity returns the haircut applicable at the given
// maturity, falling back to the flat haircut when there are no buckets.
func (nc NormalizedCollateral) GetHaircutForMaturity(maturityYears *float64) *float64 {
	if maturityYears == nil || len(nc.MaturityBuckets) == 0 {
		return nc.FlatHaircut
	}
	for _, b := range nc.MaturityBuckets {
		if b.MatchesMaturity(*maturityYears) {
			h := b.Haircut
			return &h
		}
	}
	return nil
}

// NormalizedCollateralTable is the persisted, validated output of the
// Normalization Orchestrator — referenced (never embedded) by CSATerms.
type NormalizedCollateralTable struct {
	DocumentID          string                 `json:"document_id"`
	ExtractionID         string                `json:"extraction_id"`
	RatingEvents         []string               `json:"rating_events"`
	CollateralItems      []NormalizedCollateral `json:"collateral_items"`
	NormalizedAt         string                 `json:"normalized_at"`
	NormalizationModel   string                 `json:"normalization_model,omitempty"`
	NormalizationMetadata map[string]interface{} `json:"normalization_metadata,omitempty"`
}

// GetCollateralByType finds the first row matching a standardized type and
// rating event pair.
func (t NormalizedCollateralTable) GetCollateralByType(ct StandardizedCollateralType, ratingEvent string) *NormalizedCollateral {
	for i := range t.CollateralItems {
		item := &t.CollateralItems[i]
		if item.StandardizedType == ct && item.RatingEvent == ratingEvent {
			return item
		}
	}
	return nil
}

// GetAllTypes returns the distinct standardized types present in the table.
func (t NormalizedCollateralTable) GetAllTypes() []StandardizedCollateralType {
	seen := map[StandardizedCollateralType]bool{}
	var out []StandardizedCollateralType
	for _, item := range t.CollateralItems {
		if !seen[item.StandardizedType] {
			seen[item.StandardizedType] = true
			out = append(out, item.StandardizedType)
		}
	}
	return out
}
