// Package temporal implements the Temporal Agent spec.md §4.4 describes:
// a 4-step reasoning chain (Parse Time Format → Access Document Context
// [conditional] → Infer Timezone → Validate and Flag) for time fields,
// plus a separate lenient date-field normalizer. Grounded on
// original_source's services/agents/temporal_agent.py.
package temporal

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"csa-margin-engine/pkg/core/agent"
	"csa-margin-engine/pkg/core/docx"
	"csa-margin-engine/pkg/models"
)

// AgentName is the agentType key this agent registers under with
// agent.Manager's per-agent provider overrides.
const AgentName = "temporal"

// timezoneMappings maps lowercased hints to IANA names, ported verbatim
// from temporal_agent.py's self.timezone_mappings.
var timezoneMappings = map[string]string{
	"new york time": "America/New_York",
	"new york":      "America/New_York",
	"ny time":       "America/New_York",
	"est":           "America/New_York",
	"et":            "America/New_York",
	"eastern":       "America/New_York",
	"edt":           "America/New_York",
	"london time":   "Europe/London",
	"london":        "Europe/London",
	"gmt":           "Europe/London",
	"bst":           "Europe/London",
	"greenwich":     "Europe/London",
	"tokyo time":    "Asia/Tokyo",
	"tokyo":         "Asia/Tokyo",
	"jst":           "Asia/Tokyo",
	"hong kong time": "Asia/Hong_Kong",
	"hong kong":      "Asia/Hong_Kong",
	"hkt":            "Asia/Hong_Kong",
}

func mapTimezone(hint string) string {
	if hint == "" {
		return ""
	}
	return timezoneMappings[strings.ToLower(strings.TrimSpace(hint))]
}

// qualitativeTimes maps the fixed qualitative-description table spec.md
// §4.4 step 1 names.
var qualitativeTimes = map[string]string{
	"close of business": "17:00",
	"end of day":        "23:59",
	"start of day":      "00:00",
	"market close":      "16:00",
}

// Agent is the Temporal Agent.
type Agent struct {
	base *agent.Base
}

// NewAgent constructs a Temporal Agent routed through mgr.
func NewAgent(mgr *agent.Manager) *Agent {
	return &Agent{base: agent.NewBase(AgentName, mgr)}
}

// parseResult is step 1's intermediate shape.
type parseResult struct {
	Time24h       string
	TimezoneHint  string
	Description   string
	IsQualitative bool
	ParseFailed   bool
}

// NormalizeTimeField runs the 4-step reasoning chain for one time field.
// markdown is the parsed document's markdown (may be empty, in which case
// step 2 is skipped entirely, matching the Python source's
// "if document_context" guard).
func (a *Agent) NormalizeTimeField(ctx context.Context, fieldName, rawValue, markdown string) (models.NormalizedTime, error) {
	parsed, err := a.step1ParseTimeFormat(ctx, rawValue)
	if err != nil {
		return models.NormalizedTime{}, err
	}

	var contextTimezone string
	if parsed.TimezoneHint == "" && markdown != "" {
		contextTimezone = a.step2AccessDocumentContext(fieldName, rawValue, markdown)
	}

	tzResult := a.step3InferTimezone(parsed.TimezoneHint, contextTimezone)

	return a.step4ValidateAndFlag(rawValue, parsed, tzResult), nil
}

func (a *Agent) step1ParseTimeFormat(ctx context.Context, rawValue string) (parseResult, error) {
	start := time.Now()

	lower := strings.ToLower(strings.TrimSpace(rawValue))
	for phrase, t24 := range qualitativeTimes {
		if lower == phrase {
			result := parseResult{Time24h: t24, Description: phrase, IsQualitative: true}
			a.base.AddReasoningStep(1, "parse_time_format",
				map[string]interface{}{"raw_value": rawValue},
				map[string]interface{}{"time_24h": t24, "description": phrase, "is_qualitative": true},
				models.ModelRuleBased, "Matched qualitative time description (pre-LLM check)", nil, time.Since(start))
			return result, nil
		}
	}

	prompt := fmt.Sprintf(`Parse this time string and extract components.

Time String: %q

Extract:
1. Time in 24-hour format (HH:MM or HH:MM:SS)
2. Any timezone indicators (e.g., "EST", "New York time", "GMT")
3. Qualitative descriptions (e.g., "close of business", "end of day")

Return JSON:
{"time_24h": "13:00", "timezone_hint": "New York time", "description": null, "is_qualitative": false}`, rawValue)

	raw, err := a.base.CallModel(ctx, models.ModelFast, temporalSystemPrompt, prompt)
	if err != nil {
		return parseResult{}, err
	}

	result := parseResult{}
	if parsedFlag, ok := raw["parsed"].(bool); ok && !parsedFlag {
		result.ParseFailed = true
	}
	if t24, ok := raw["time_24h"].(string); ok {
		result.Time24h = t24
	}
	if hint, ok := raw["timezone_hint"].(string); ok {
		result.TimezoneHint = hint
	}
	if desc, ok := raw["description"].(string); ok {
		result.Description = desc
	}
	if qual, ok := raw["is_qualitative"].(bool); ok {
		result.IsQualitative = qual
	}

	a.base.AddReasoningStep(1, "parse_time_format",
		map[string]interface{}{"raw_value": rawValue}, raw,
		models.ModelFast, "Extracted time components and timezone hints", nil, time.Since(start))

	return result, nil
}

func (a *Agent) step2AccessDocumentContext(fieldName, rawValue, markdown string) string {
	start := time.Now()

	found := docx.FindTimezoneNear(markdown, rawValue)

	reasoning := "Searched document context, no timezone found"
	if found != "" {
		reasoning = fmt.Sprintf("Searched document context, found timezone: %s", found)
	}
	a.base.AddReasoningStep(2, "access_document_context",
		map[string]interface{}{"field_name": fieldName},
		map[string]interface{}{"context_accessed": true, "timezone_found": found},
		models.ModelRuleBased, reasoning, nil, time.Since(start))

	return found
}

// timezoneInference is step 3's intermediate shape.
type timezoneInference struct {
	Timezone        string
	InferenceSource string // explicit | context | none
	Confidence      float64
}

func (a *Agent) step3InferTimezone(timezoneHint, contextTimezone string) timezoneInference {
	start := time.Now()

	var result timezoneInference
	var reasoning string
	switch {
	case timezoneHint != "":
		result = timezoneInference{Timezone: mapTimezone(timezoneHint), InferenceSource: "explicit", Confidence: 0.95}
		reasoning = fmt.Sprintf("Explicitly stated as '%s' in time string", timezoneHint)
	case contextTimezone != "":
		result = timezoneInference{Timezone: mapTimezone(contextTimezone), InferenceSource: "context", Confidence: 0.90}
		reasoning = fmt.Sprintf("Inferred from document context mention of '%s'", contextTimezone)
	default:
		result = timezoneInference{InferenceSource: "none", Confidence: 0.50}
		reasoning = "No timezone information available - flagged for human review"
	}

	a.base.AddReasoningStep(3, "infer_timezone",
		map[string]interface{}{"timezone_hint": timezoneHint, "context_timezone": contextTimezone},
		map[string]interface{}{"timezone": result.Timezone, "inference_source": result.InferenceSource},
		models.ModelRuleBased, reasoning, &result.Confidence, time.Since(start))

	return result
}

func (a *Agent) step4ValidateAndFlag(rawValue string, parsed parseResult, tz timezoneInference) models.NormalizedTime {
	start := time.Now()

	if parsed.ParseFailed {
		result := models.NormalizedTime{
			RawValue: rawValue, Confidence: 0, InferenceSource: "parse_failed",
			RequiresHumanReview: true, Error: "Failed to parse time format from LLM response",
		}
		a.base.AddReasoningStep(4, "validate_and_flag",
			map[string]interface{}{"raw_value": rawValue}, map[string]interface{}{"valid": false},
			models.ModelRuleBased, "LLM failed to parse time format", nil, time.Since(start))
		return result
	}

	time24h := parsed.Time24h
	if time24h == "" {
		time24h = "00:00"
	}

	valid := validTimeFormat(time24h)
	requiresReview := tz.Confidence < 0.80 || tz.Timezone == ""

	full := time24h
	if len(time24h) == 5 {
		full = time24h + ":00"
	}

	result := models.NormalizedTime{
		Time:                full,
		Timezone:            tz.Timezone,
		Description:         parsed.Description,
		RawValue:            rawValue,
		Confidence:          tz.Confidence,
		InferenceSource:     tz.InferenceSource,
		RequiresHumanReview: requiresReview,
	}

	reasoning := fmt.Sprintf("Validation complete. Time valid: %v.", valid)
	if requiresReview {
		reasoning += fmt.Sprintf(" Flagged for review (confidence %.2f)", tz.Confidence)
	} else {
		reasoning += " No review needed"
	}
	a.base.AddReasoningStep(4, "validate_and_flag",
		map[string]interface{}{"time": time24h, "timezone": tz.Timezone, "confidence": tz.Confidence},
		map[string]interface{}{"valid": valid, "requires_review": requiresReview},
		models.ModelRuleBased, reasoning, nil, time.Since(start))

	return result
}

func validTimeFormat(s string) bool {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 {
		return false
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return false
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return false
	}
	return hour >= 0 && hour <= 23 && minute >= 0 && minute <= 59
}

// dateLayouts is the lenient format list this port uses in place of
// Python's dateutil.parser.parse, which has no equivalent in the example
// pack (no lenient date-parsing library was found among the examples) —
// see DESIGN.md. Tried in order; the first that parses wins.
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"02-Jan-2006",
	time.RFC3339,
}

// NormalizeDateField parses rawValue with a lenient format-list fallback,
// returning an ISO-8601 date on success (confidence 0.95) or the raw value
// unchanged on failure (confidence 0.50) — the Python source's behavior.
func NormalizeDateField(rawValue string) models.NormalizedDate {
	trimmed := strings.TrimSpace(rawValue)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return models.NormalizedDate{
				Date:           t.Format("2006-01-02"),
				FormatDetected: "auto",
				RawValue:       rawValue,
				Confidence:     0.95,
			}
		}
	}
	return models.NormalizedDate{
		Date:           rawValue,
		FormatDetected: "unknown",
		RawValue:       rawValue,
		Confidence:     0.50,
	}
}

const temporalSystemPrompt = `You are a precise time and date extraction assistant for Credit Support Annex documents. Respond with JSON only, no prose.`

var timeFields = []string{"notification_time", "valuation_time"}
var dateFields = []string{"agreement_date", "signature_date"}

// Normalize is the Temporal Agent's normalize() entry point: resets the
// reasoning chain once, processes every present time field (sequentially,
// see the Currency Agent's DESIGN.md note on the same simplification) and
// every present date field, and formats the accumulated chain into one
// AgentResult.
func (a *Agent) Normalize(ctx context.Context, data map[string]string, markdown string) models.AgentResult {
	start := time.Now()
	a.base.ResetReasoningChain()

	normalized := map[string]interface{}{}

	for _, field := range timeFields {
		raw, present := data[field]
		if !present || raw == "" {
			continue
		}
		result, err := a.NormalizeTimeField(ctx, field, raw, markdown)
		if err != nil {
			continue
		}
		normalized[field] = result
	}

	for _, field := range dateFields {
		raw, present := data[field]
		if !present || raw == "" {
			continue
		}
		normalized[field] = NormalizeDateField(raw)
	}

	return a.base.FormatResult(normalized, time.Since(start), nil)
}
