// Package currency implements the Currency Agent spec.md §4.5 describes:
// a 3-step reasoning chain (Extract Amount and Currency → Standardize to
// ISO → Validate) plus a separate rounding-field extraction. Grounded on
// original_source's services/agents/currency_agent.py and
// utils/constants.py's infinity/N-A string sets.
package currency

import (
	"context"
	"fmt"
	"strings"
	"time"

	"csa-margin-engine/pkg/core/agent"
	"csa-margin-engine/pkg/models"
)

// AgentName is the agentType key this agent registers under with
// agent.Manager's per-agent provider overrides.
const AgentName = "currency"

// infinityStrings must be checked as a starts-with prefix match so that
// "Infinity; provided that..." resolves to infinity despite trailing
// prose (spec.md §4.5 step 1; original_source's INFINITY_STRINGS).
var infinityStrings = []string{"infinity", "inf", "∞", "unlimited"}

// notApplicableValues are matched as an exact (trimmed, lowercased) value,
// distinct from the threshold-only ZERO_STRINGS set in pkg/core/config —
// this is the Currency Agent's own N/A vocabulary from currency_agent.py.
var notApplicableValues = map[string]bool{
	"n/a": true, "na": true, "not applicable": true, "none": true, "null": true, "": true,
}

// currencyMappings maps common symbols/names to ISO 4217 codes, a fixed
// table ported verbatim from currency_agent.py's self.currency_mappings.
var currencyMappings = map[string]string{
	"$": "USD", "usd": "USD", "us dollars": "USD", "us dollar": "USD",
	"united states dollars": "USD", "dollar": "USD", "dollars": "USD",
	"€": "EUR", "eur": "EUR", "euro": "EUR", "euros": "EUR",
	"£": "GBP", "gbp": "GBP", "british pounds": "GBP", "british pound": "GBP",
	"pounds": "GBP", "pound": "GBP",
	"¥": "JPY", "jpy": "JPY", "yen": "JPY", "japanese yen": "JPY",
	"chf": "CHF", "swiss francs": "CHF", "swiss franc": "CHF",
}

// validISOCodes is the accepted ISO 4217 set (spec.md §4.5 step 3).
var validISOCodes = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true, "CHF": true, "CAD": true,
	"AUD": true, "NZD": true, "HKD": true, "SGD": true, "SEK": true, "NOK": true,
	"DKK": true, "ZAR": true, "BRL": true, "MXN": true,
}

// mapCurrency looks up text in currencyMappings; an already-valid ISO code
// passes through unchanged, and an unrecognized symbol is upper-cased and
// returned as-is (it might be a valid code this table doesn't list).
func mapCurrency(text string) string {
	if text == "" {
		return ""
	}
	upper := strings.ToUpper(strings.TrimSpace(text))
	if validISOCodes[upper] {
		return upper
	}
	if mapped, ok := currencyMappings[strings.ToLower(strings.TrimSpace(text))]; ok {
		return mapped
	}
	return upper
}

// extractResult is step 1's intermediate shape.
type extractResult struct {
	Amount        *float64
	CurrencyText  string
	SpecialValue  string // "infinity" | "not_applicable" | ""
}

// Agent is the Currency Agent. It embeds agent.Base for LLM access and
// reasoning-chain bookkeeping.
type Agent struct {
	base *agent.Base
}

// NewAgent constructs a Currency Agent routed through mgr.
func NewAgent(mgr *agent.Manager) *Agent {
	return &Agent{base: agent.NewBase(AgentName, mgr)}
}

// NormalizeField runs the 3-step reasoning chain for one currency/amount
// field and returns the final NormalizedCurrency, appending reasoning
// steps to the agent's chain (caller must call ResetReasoningChain before
// the first field of a normalize() call if multiple fields are processed
// back-to-back within one Agent instance).
func (a *Agent) NormalizeField(ctx context.Context, fieldName, rawValue string) (models.NormalizedCurrency, error) {
	extract, err := a.step1ExtractAmountAndCurrency(ctx, rawValue)
	if err != nil {
		return models.NormalizedCurrency{}, err
	}
	iso := a.step2StandardizeToISO(extract)
	return a.step3Validate(rawValue, iso), nil
}

func (a *Agent) step1ExtractAmountAndCurrency(ctx context.Context, rawValue string) (extractResult, error) {
	start := time.Now()
	lower := strings.ToLower(strings.TrimSpace(rawValue))

	for _, inf := range infinityStrings {
		if strings.HasPrefix(lower, inf) {
			result := extractResult{SpecialValue: "infinity"}
			a.base.AddReasoningStep(1, "extract_amount_and_currency",
				map[string]interface{}{"raw_value": rawValue},
				map[string]interface{}{"special_value": "infinity"},
				models.ModelRuleBased,
				fmt.Sprintf("Detected infinity keyword %q at start of value (pre-LLM check)", inf),
				nil, time.Since(start))
			return result, nil
		}
	}

	if notApplicableValues[lower] {
		result := extractResult{SpecialValue: "not_applicable"}
		a.base.AddReasoningStep(1, "extract_amount_and_currency",
			map[string]interface{}{"raw_value": rawValue},
			map[string]interface{}{"special_value": "not_applicable"},
			models.ModelRuleBased,
			"Detected N/A or not applicable value (pre-LLM check)",
			nil, time.Since(start))
		return result, nil
	}

	prompt := fmt.Sprintf(`Extract the amount and currency from this string.

Input: %q

Parse:
1. Numeric amount (remove commas, convert to number)
2. Currency identifier ($, USD, "US Dollars", etc.)
3. Special values (Infinity, Not Applicable, N/A)

IMPORTANT: If the text starts with "Infinity", "Unlimited", or similar terms, treat it as a special_value
regardless of any conditions or provisos that follow. Look at the FIRST word/concept only.

Return JSON:
{"amount": 2000000.0, "currency_text": "$", "special_value": null}`, rawValue)

	raw, err := a.base.CallModel(ctx, models.ModelFast, currencySystemPrompt, prompt)
	if err != nil {
		return extractResult{}, err
	}

	result := extractResult{}
	if amt, ok := raw["amount"].(float64); ok {
		result.Amount = &amt
	}
	if ct, ok := raw["currency_text"].(string); ok {
		result.CurrencyText = ct
	}
	if sv, ok := raw["special_value"].(string); ok {
		result.SpecialValue = sv
	}

	a.base.AddReasoningStep(1, "extract_amount_and_currency",
		map[string]interface{}{"raw_value": rawValue}, raw,
		models.ModelFast, "Extracted amount and currency identifier", nil, time.Since(start))

	return result, nil
}

// isoResult is step 2's intermediate shape.
type isoResult struct {
	Amount          *float64
	CurrencyCode    string
	IsInfinity      bool
	IsNotApplicable bool
}

func (a *Agent) step2StandardizeToISO(extract extractResult) isoResult {
	start := time.Now()
	var result isoResult

	switch extract.SpecialValue {
	case "infinity":
		result = isoResult{IsInfinity: true}
	case "not_applicable":
		result = isoResult{IsNotApplicable: true}
	default:
		code := ""
		if extract.CurrencyText != "" {
			code = mapCurrency(extract.CurrencyText)
		}
		result = isoResult{Amount: extract.Amount, CurrencyCode: code}
	}

	reasoning := "Handled special value"
	if result.CurrencyCode != "" {
		reasoning = fmt.Sprintf("Mapped to ISO 4217 code: %s", result.CurrencyCode)
	}
	a.base.AddReasoningStep(2, "standardize_to_iso",
		map[string]interface{}{"currency_text": extract.CurrencyText},
		map[string]interface{}{
			"amount": result.Amount, "currency_code": result.CurrencyCode,
			"is_infinity": result.IsInfinity, "is_not_applicable": result.IsNotApplicable,
		},
		models.ModelRuleBased, reasoning, nil, time.Since(start))

	return result
}

func (a *Agent) step3Validate(rawValue string, iso isoResult) models.NormalizedCurrency {
	start := time.Now()

	valid := true
	if iso.CurrencyCode != "" && !validISOCodes[iso.CurrencyCode] {
		valid = false
	}
	if iso.Amount != nil && *iso.Amount < 0 {
		valid = false
	}

	confidence := 1.0
	if !valid {
		confidence = 0.7
	}

	result := models.NormalizedCurrency{
		Amount:          iso.Amount,
		CurrencyCode:    iso.CurrencyCode,
		IsInfinity:      iso.IsInfinity,
		IsNotApplicable: iso.IsNotApplicable,
		RawValue:        rawValue,
		Confidence:      confidence,
	}

	reasoning := "Validation passed"
	if !valid {
		reasoning = "Validation failed"
	}
	a.base.AddReasoningStep(3, "validate_currency",
		map[string]interface{}{"currency_code": iso.CurrencyCode, "amount": iso.Amount},
		map[string]interface{}{"valid": valid},
		models.ModelRuleBased, reasoning, &confidence, time.Since(start))

	return result
}

// NormalizeRounding extracts delivery/return rounding rules from rawValue,
// falling back to symmetric rounding when only one side is specified
// (spec.md §4.5's Rounding field paragraph).
func (a *Agent) NormalizeRounding(ctx context.Context, rawValue string) (models.NormalizedRounding, error) {
	prompt := fmt.Sprintf(`Extract rounding information from this text.

Text: %q

Extract:
1. Delivery rounding amount and direction (up/down/nearest)
2. Return rounding amount and direction (may be different)
3. Currency

Return JSON:
{"delivery_rounding": {"amount": 10000, "direction": "up", "currency": "USD"},
 "return_rounding": {"amount": 10000, "direction": "down", "currency": "USD"}}

Note: If only one rounding specified, use the same for both delivery and return.`, rawValue)

	raw, err := a.base.CallModel(ctx, models.ModelFast, currencySystemPrompt, prompt)
	if err != nil {
		return models.NormalizedRounding{}, err
	}

	parseRule := func(key string) models.RoundingRule {
		m, _ := raw[key].(map[string]interface{})
		rule := models.RoundingRule{Direction: models.RoundingUp}
		if m == nil {
			return rule
		}
		if amt, ok := m["amount"].(float64); ok {
			rule.Amount = amt
		}
		if dir, ok := m["direction"].(string); ok {
			rule.Direction = models.RoundingDirection(dir)
		}
		if cur, ok := m["currency"].(string); ok {
			rule.Currency = mapCurrency(cur)
		}
		return rule
	}

	delivery := parseRule("delivery_rounding")
	ret := parseRule("return_rounding")
	if _, hasReturn := raw["return_rounding"]; !hasReturn {
		ret = delivery
		ret.Direction = models.RoundingDown
	}

	return models.NormalizedRounding{DeliveryRounding: delivery, ReturnRounding: ret}, nil
}

const currencySystemPrompt = `You are a precise currency and amount extraction assistant for Credit Support Annex documents. Respond with JSON only, no prose.`

// currencyFields is the fixed set of currency/amount fields spec.md §4.5
// normalizes on every Normalize() call, ported from
// currency_agent.py's CurrencyNormalizerAgent.normalize.
var currencyFields = []string{
	"base_currency",
	"party_a_threshold",
	"party_b_threshold",
	"party_a_min_transfer_amount",
	"party_b_min_transfer_amount",
	"independent_amount",
}

// Normalize is the Currency Agent's normalize() entry point: it resets the
// reasoning chain once, then runs the 3-step chain for every present
// currency field plus the rounding field if present, and formats the
// accumulated chain into one AgentResult. Fields are processed
// sequentially — original_source runs them via asyncio.gather, but
// Base's reasoning-chain buffer is not safe for concurrent appends, and
// spec.md never requires field-level parallelism, only batch-level
// parallelism at the Normalization Orchestrator (spec.md §4.7).
func (a *Agent) Normalize(ctx context.Context, data map[string]string) models.AgentResult {
	start := time.Now()
	a.base.ResetReasoningChain()

	normalized := map[string]interface{}{}

	for _, field := range currencyFields {
		raw, present := data[field]
		if !present || raw == "" {
			continue
		}
		result, err := a.NormalizeField(ctx, field, raw)
		if err != nil {
			continue
		}
		normalized[field] = result
	}

	if raw, present := data["rounding"]; present && raw != "" {
		if result, err := a.NormalizeRounding(ctx, raw); err == nil {
			normalized["rounding"] = result
		}
	}

	return a.base.FormatResult(normalized, time.Since(start), nil)
}
