// Package mapper implements the Mapper spec.md §4.8 describes: it
// projects an Extraction plus its NormalizedCollateralTable into the
// canonical CSATerms entity the Calculator consumes. Grounded on
// original_source's services/ade_mapper.py and utils/{normalizer,
// constants}.py — same parsing rules (currency/rounding/threshold/
// counterparty-name), same infinity-extraction safeguard, same
// rounding-unparseable-defaults-to-1.0 fallback.
package mapper

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"csa-margin-engine/pkg/core/apierr"
	"csa-margin-engine/pkg/models"
)

// infinityStrings are the tokens normalize_threshold checks as a prefix
// match (so "Infinity; provided that..." still resolves to infinite).
var infinityStrings = []string{"infinity", "inf", "∞", "unlimited", "none", "null"}

var zeroStrings = map[string]bool{
	"n/a": true, "na": true, "0": true, "zero": true, "": true,
}

// normalizeThreshold ports constants.py's normalize_threshold: infinity
// tokens (by prefix) map to +Inf, zero tokens map to 0.0, a parseable
// number is returned as-is, and anything else falls back to 0.0 (the
// safest default for a margin-call engine — an unparseable threshold
// should never silently suppress a call).
func normalizeThreshold(raw string) float64 {
	text := strings.ToLower(strings.TrimSpace(raw))
	for _, token := range infinityStrings {
		if strings.HasPrefix(text, token) {
			return models.ThresholdInfinity
		}
	}
	if zeroStrings[text] {
		return 0.0
	}
	if v, err := strconv.ParseFloat(text, 64); err == nil {
		if math.IsInf(v, 1) {
			return models.ThresholdInfinity
		}
		return v
	}
	return 0.0
}

// validateInfinityExtraction is the infinity-extraction safeguard spec.md
// §4.8 requires: if rawText starts with an infinity token but parsedValue
// came back finite, the permissive currency parser likely latched onto a
// trailing number (e.g. "Infinity; provided that MTA exceeds $500,000")
// and the corrected value wins.
func validateInfinityExtraction(rawText string, parsedValue float64) float64 {
	if rawText == "" {
		return parsedValue
	}
	lower := strings.ToLower(strings.TrimSpace(rawText))
	startsWithInfinity := false
	for _, token := range infinityStrings {
		if strings.HasPrefix(lower, token) {
			startsWithInfinity = true
			break
		}
	}
	if startsWithInfinity && !models.IsInfiniteThreshold(parsedValue) {
		return normalizeThreshold(rawText)
	}
	return parsedValue
}

var currencyCharsRe = regexp.MustCompile(`[^\d.,\-]`)

// parseCurrency ports normalizer.py's parse_currency, used for thresholds,
// MTAs and independent amounts: empty/unparseable input is 0.0, not an
// error — a missing MTA or independent amount is reasonably assumed to be
// zero, while a missing threshold is rejected by MapToCSATerms before it
// gets here.
func parseCurrency(raw string) float64 {
	text := strings.TrimSpace(raw)
	if text == "" {
		return 0.0
	}
	lower := strings.ToLower(text)
	if lower == "n/a" || lower == "na" || lower == "none" || lower == "not applicable" {
		return 0.0
	}
	for _, token := range infinityStrings {
		if strings.HasPrefix(lower, token) {
			return models.ThresholdInfinity
		}
	}
	cleaned := currencyCharsRe.ReplaceAllString(text, "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if cleaned == "" {
		return 0.0
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0.0
	}
	return v
}

var roundingPattern = regexp.MustCompile(`[$£€¥]?\s*(\d+(?:,\d{3})*(?:\.\d{2})?)`)

// parseRoundingIncrement ports normalizer.py's parse_rounding_increment:
// pull every currency-shaped number out of a rounding-rule sentence and
// take the last one (the increment is conventionally stated at the end:
// "...rounded up to the nearest integral multiple of $10,000").
func parseRoundingIncrement(text string) (float64, bool) {
	if text == "" {
		return 0, false
	}
	matches := roundingPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return 0, false
	}
	last := strings.ReplaceAll(matches[len(matches)-1][1], ",", "")
	v, err := strconv.ParseFloat(last, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

var currencyNameMap = map[string]string{
	"$": "USD", "usd": "USD", "us dollars": "USD", "us dollar": "USD",
	"united states dollars": "USD", "united states dollar": "USD",
	"dollar": "USD", "dollars": "USD",
	"eur": "EUR", "euro": "EUR", "euros": "EUR",
	"gbp": "GBP", "pound": "GBP", "pounds": "GBP", "british pound": "GBP", "sterling": "GBP",
	"jpy": "JPY", "yen": "JPY", "japanese yen": "JPY",
	"chf": "CHF", "swiss franc": "CHF",
	"cad": "CAD", "canadian dollar": "CAD",
	"aud": "AUD", "australian dollar": "AUD",
}

// normalizeCurrencyCode ports ade_mapper.py's _normalize_currency.
func normalizeCurrencyCode(raw string) string {
	if raw == "" {
		return "USD"
	}
	lower := strings.ToLower(strings.TrimSpace(raw))
	if code, ok := currencyNameMap[lower]; ok {
		return code
	}
	return strings.ToUpper(raw)
}

// normalizeCounterpartyName ports normalizer.py's normalize_counterparty_name.
func normalizeCounterpartyName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "Unknown Counterparty"
	}
	return strings.Join(strings.Fields(name), " ")
}

func stringOrEmpty(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// MapToCSATerms projects extraction and normalizedCollateral into a
// CSATerms. normalizedCollateral must be non-nil with at least one item
// (spec.md §4.8's hard precondition) — callers must run the Normalization
// Orchestrator first.
func MapToCSATerms(extraction models.Extraction, documentID string, normalizedCollateral models.NormalizedCollateralTable, confidenceScores map[string]float64) (*models.CSATerms, error) {
	if len(normalizedCollateral.CollateralItems) == 0 {
		return nil, apierr.PreconditionUnmet(
			"normalized collateral table for document "+documentID+" has no collateral items",
			"run normalization before mapping",
		)
	}

	cmt := extraction.CoreMarginTerms

	thresholdARaw := stringOrEmpty(cmt.PartyAThreshold)
	thresholdBRaw := stringOrEmpty(cmt.PartyBThreshold)
	if thresholdARaw == "" {
		return nil, apierr.InvalidInput("party_a_threshold was not extracted; a threshold must be explicit, not assumed zero")
	}
	if thresholdBRaw == "" {
		return nil, apierr.InvalidInput("party_b_threshold was not extracted; a threshold must be explicit, not assumed zero")
	}

	partyAThreshold := validateInfinityExtraction(thresholdARaw, parseCurrency(thresholdARaw))
	partyBThreshold := validateInfinityExtraction(thresholdBRaw, parseCurrency(thresholdBRaw))

	partyAMTA := parseCurrency(stringOrEmpty(cmt.PartyAMinimumTransferAmount))
	partyBMTA := parseCurrency(stringOrEmpty(cmt.PartyBMinimumTransferAmount))

	partyAIndependent := parseCurrency(stringOrEmpty(cmt.PartyAIndependentAmount))
	partyBIndependent := parseCurrency(stringOrEmpty(cmt.PartyBIndependentAmount))

	roundingText := stringOrEmpty(cmt.Rounding)
	rounding, ok := parseRoundingIncrement(roundingText)
	if !ok || rounding == 0 {
		if fallback := parseCurrency(roundingText); fallback > 0 && !models.IsInfiniteThreshold(fallback) {
			rounding = fallback
		} else {
			rounding = 1.0
		}
	}

	sourcePages := map[string]int{}
	for key, prov := range extraction.Provenance {
		simple := key
		if idx := strings.LastIndex(key, "."); idx >= 0 {
			simple = key[idx+1:]
		}
		sourcePages[simple] = prov.Page
	}

	return &models.CSATerms{
		PartyAName:                  normalizeCounterpartyName(extraction.AgreementInfo.PartyAName),
		PartyBName:                  normalizeCounterpartyName(extraction.AgreementInfo.PartyBName),
		PartyAThreshold:             partyAThreshold,
		PartyBThreshold:             partyBThreshold,
		PartyAMinimumTransferAmount: partyAMTA,
		PartyBMinimumTransferAmount: partyBMTA,
		PartyAIndependentAmount:     partyAIndependent,
		PartyBIndependentAmount:     partyBIndependent,
		Rounding:                    rounding,
		Currency:                    normalizeCurrencyCode(cmt.BaseCurrency),
		NormalizedCollateralID:      normalizedCollateral.DocumentID,
		EligibleCollateral:          normalizedCollateral.CollateralItems,
		ValuationAgent:              extraction.ValuationTiming.ValuationAgent,
		EffectiveDate:               extraction.AgreementInfo.AgreementDate,
		SourcePages:                 sourcePages,
		SourceDocumentID:            documentID,
		ConfidenceScores:            confidenceScores,
	}, nil
}
