package models

import "time"

// MarginCallAction is the calculator's decision.
type MarginCallAction string

const (
	ActionCall     MarginCallAction = "CALL"
	ActionReturn   MarginCallAction = "RETURN"
	ActionNoAction MarginCallAction = "NO_ACTION"
)

// CollateralItem is one posted position fed into the calculator
// (spec.md §3): effective_value = market_value * (1 - haircut_rate).
type CollateralItem struct {
	CollateralType StandardizedCollateralType `json:"collateral_type"`
	MarketValue    float64                    `json:"market_value"`
	HaircutRate    float64                    `json:"haircut_rate"`
	Currency       string                     `json:"currency"`
	MaturityYears  *float64                   `json:"maturity_years,omitempty"`
}

// EffectiveValue is market_value * (1 - haircut_rate).
func (c CollateralItem) EffectiveValue() float64 {
	return c.MarketValue * (1 - c.HaircutRate)
}

// CalculationStep is one logged, citable step of the calculator's
// five-step algorithm.
type CalculationStep struct {
	StepNumber   int                    `json:"step_number"`
	Description  string                 `json:"description"`
	Formula      string                 `json:"formula,omitempty"`
	Inputs       map[string]interface{} `json:"inputs"`
	Result       float64                `json:"result"`
	SourceClause string                 `json:"source_clause,omitempty"`
}

// MarginCall is the calculator's output, with full audit provenance.
type MarginCall struct {
	Action   MarginCallAction `json:"action"`
	Amount   float64          `json:"amount"`
	Currency string           `json:"currency"`
	CalculationDate time.Time `json:"calculation_date"`

	NetExposure             float64           `json:"net_exposure"`
	Threshold               float64           `json:"threshold"`
	PostedCollateralItems   []CollateralItem  `json:"posted_collateral_items"`
	EffectiveCollateral     float64           `json:"effective_collateral"`
	ExposureAboveThreshold  float64           `json:"exposure_above_threshold"`

	CalculationSteps []CalculationStep `json:"calculation_steps"`

	CSATermsID       string `json:"csa_terms_id,omitempty"`
	CounterpartyName string `json:"counterparty_name,omitempty"`
}
