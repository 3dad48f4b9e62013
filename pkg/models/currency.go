package models

// NormalizedCurrency is the Currency Agent's per-field output (spec.md
// §4.5): either a finite Amount/CurrencyCode pair, or one of the two
// special values that bypass ISO mapping entirely.
type NormalizedCurrency struct {
	Amount          *float64 `json:"amount"`
	CurrencyCode    string   `json:"currency_code,omitempty"`
	IsInfinity      bool     `json:"is_infinity"`
	IsNotApplicable bool     `json:"is_not_applicable"`
	RawValue        string   `json:"raw_value"`
	Confidence      float64  `json:"confidence"`
}

// RoundingDirection is the rounding direction extracted alongside an
// amount for a delivery/return rounding rule.
type RoundingDirection string

const (
	RoundingUp      RoundingDirection = "up"
	RoundingDown    RoundingDirection = "down"
	RoundingNearest RoundingDirection = "nearest"
)

// RoundingRule is one side (delivery or return) of a rounding
// specification.
type RoundingRule struct {
	Amount    float64           `json:"amount"`
	Direction RoundingDirection `json:"direction"`
	Currency  string            `json:"currency,omitempty"`
}

// NormalizedRounding is the Currency Agent's rounding-field output
// (spec.md §4.5): separate delivery/return rules, symmetric when the
// source document specifies only one.
type NormalizedRounding struct {
	DeliveryRounding RoundingRule `json:"delivery_rounding"`
	ReturnRounding   RoundingRule `json:"return_rounding"`
}
