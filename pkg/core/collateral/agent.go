// Package collateral implements the Collateral Agent spec.md §4.3
// describes: a 6-step reasoning chain (Initial Parse → Detect Ambiguities
// → Resolve Ambiguities [conditional] → Validate Taxonomy → Validate Logic
// → Synthesize) applied to every (collateral_type, valuation_string,
// rating_event) tuple, with adaptive batching for large documents.
// Grounded on original_source's services/agents/collateral_agent.py.
package collateral

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"csa-margin-engine/pkg/core/agent"
	"csa-margin-engine/pkg/models"
)

// AgentName is the agentType key this agent registers under with
// agent.Manager's per-agent provider overrides.
const AgentName = "collateral"

var validTypeStrings = func() []string {
	out := make([]string, len(models.AllStandardizedCollateralTypes))
	for i, t := range models.AllStandardizedCollateralTypes {
		out[i] = string(t)
	}
	return out
}()

func isValidType(t string) bool {
	for _, v := range validTypeStrings {
		if v == t {
			return true
		}
	}
	return false
}

// Item is one raw collateral row awaiting normalization: a raw taxonomy
// description, a valuation/haircut string (possibly with maturity
// buckets), the rating-scenario column it came from, and that column's
// position (preserved for stable output ordering).
type Item struct {
	CollateralType    string
	ValuationString   string
	RatingEvent       string
	RatingEventOrder  int
}

// maturityRange is the maturity window extracted from the collateral_type
// field itself (step 1), kept separate from the valuation_string's
// maturity_buckets so step 5 can cross-check the two.
type maturityRange struct {
	MinYears   *float64
	MaxYears   *float64
	SourceText string
}

// bucket is one maturity_buckets entry from step 1's parse.
type bucket struct {
	MinMaturityYears    *float64
	MaxMaturityYears    *float64
	ValuationPercentage *float64
	HaircutPercentage   *float64
	Source              string // "valuation_string" | "collateral_type"
}

// parseResult is the working state threaded through steps 1-6.
type parseResult struct {
	StandardizedType string
	MaturityFromType *maturityRange
	Buckets          []bucket
}

type ambiguity struct {
	Issue                string
	Severity              string // high | medium | low
	Field                 string
	SuggestedResolution   string
}

type ambiguityDetection struct {
	Ambiguities     []ambiguity
	NeedsContext    bool
	NeedsResolution bool
	Reasoning       string
}

type resolution struct {
	Ambiguity      string
	Interpretation string
	Reasoning      string
	Confidence     float64
	SourcesUsed    []string
}

type ambiguityResolution struct {
	Resolutions []resolution
}

type validationResult struct {
	Passed      bool
	Issues      []string
	Suggestions []string
}

// worker carries one item's isolated reasoning-chain buffer through its
// 6-step normalization. Each concurrently-processed item gets its own
// worker (and its own agent.Base) so goroutines never share mutable
// reasoning-chain state; the chains are merged back into item order once
// a batch completes. This is a genuine improvement over the Python
// source, whose asyncio.gather cooperative concurrency let every item in
// a batch append to one shared self.reasoning_chain safely only because
// Python's event loop never preempts mid-append — Go's goroutines offer
// no such guarantee, so per-item isolation is required here. See
// DESIGN.md.
type worker struct {
	base *agent.Base
}

func newWorker(mgr *agent.Manager) *worker {
	return &worker{base: agent.NewBase(AgentName, mgr)}
}

// Agent is the Collateral Agent.
type Agent struct {
	mgr *agent.Manager
}

// NewAgent constructs a Collateral Agent routed through mgr.
func NewAgent(mgr *agent.Manager) *Agent {
	return &Agent{mgr: mgr}
}

func (w *worker) step1InitialParse(ctx context.Context, collateralType, valuationString, ratingEvent string) (parseResult, error) {
	start := time.Now()

	prompt := fmt.Sprintf(`Parse this collateral entry to extract maturity information from BOTH the collateral type and valuation string fields.

Collateral Type: %s
Valuation String: %s
Rating Event: %s

Extract:
1. Standardized collateral type from this list:
   %s
2. Maturity information from BOTH fields (collateral_type AND valuation_string)
3. Haircut percentages for each bucket

ANALYZE BOTH FIELDS FOR MATURITY INFORMATION:

STEP 1 - Check collateral_type field for maturity phrases like:
- "having a remaining maturity of up to and not more than X year" -> (null, X)
- "remaining maturity of greater than X year but not more than Y years" -> (X, Y)
- "remaining maturity of greater than X years" -> (X, null)
- "remaining maturity of not more than X days" -> (null, X/365)
- "maturity of X to Y years" -> (X, Y)
- "(1-5yr)" or similar notation in parentheses

STEP 2 - Check valuation_string field for maturity buckets:
- "99%% (1-2yr)" format means 99%% valuation for 1 to 2 year maturity
- Format like "(1-2yr)" means minimum 1 year, maximum 2 years
- Format like ">20yr" means minimum 20 years, no maximum (use null)
- Format like "<1yr" means no minimum (use null), maximum 1 year

STEP 3 - Merge maturity information:
- If maturity is ONLY in collateral_type: create a single bucket with that range and the percentage from valuation_string
- If maturity is ONLY in valuation_string: use those buckets
- If maturity is in BOTH fields: use valuation_string buckets (more granular) and store collateral_type maturity separately
- If NO maturity in either field: use a single bucket with min_years=null and max_years=null

Convert days to years by dividing by 365 (e.g. "30 days" becomes 0.082 years).
If collateral type cannot be confidently mapped to the standardized list, use "UNKNOWN".
If valuation percentages cannot be determined (e.g. "TBD"), set maturity_buckets to [].

Return JSON:
{"standardized_type": "US_TREASURY", "maturity_from_collateral_type": {"min_years": 1.0, "max_years": 5.0, "source_text": "..."}, "maturity_buckets": [{"min_maturity_years": 1.0, "max_maturity_years": 2.0, "valuation_percentage": 99.0, "haircut_percentage": 1.0, "source": "valuation_string"}]}`,
		collateralType, valuationString, ratingEvent, strings.Join(validTypeStrings, ", "))

	raw, err := w.base.CallModel(ctx, models.ModelFast, collateralSystemPrompt, prompt)
	if err != nil {
		return parseResult{}, err
	}

	pr := parseResultFromRaw(raw)

	w.base.AddReasoningStep(1, "initial_parse",
		map[string]interface{}{"collateral_type": collateralType, "valuation_string": valuationString, "rating_event": ratingEvent},
		raw, models.ModelFast, "Initial structural extraction from raw text", nil, time.Since(start))

	return pr, nil
}

func parseResultFromRaw(raw map[string]interface{}) parseResult {
	pr := parseResult{StandardizedType: "UNKNOWN"}
	if st, ok := raw["standardized_type"].(string); ok && st != "" {
		pr.StandardizedType = st
	}
	if mft, ok := raw["maturity_from_collateral_type"].(map[string]interface{}); ok {
		pr.MaturityFromType = &maturityRange{
			MinYears:   floatPtrFrom(mft["min_years"]),
			MaxYears:   floatPtrFrom(mft["max_years"]),
			SourceText: stringFrom(mft["source_text"]),
		}
	}
	if buckets, ok := raw["maturity_buckets"].([]interface{}); ok {
		for _, b := range buckets {
			bm, ok := b.(map[string]interface{})
			if !ok {
				continue
			}
			pr.Buckets = append(pr.Buckets, bucket{
				MinMaturityYears:    floatPtrFrom(bm["min_maturity_years"]),
				MaxMaturityYears:    floatPtrFrom(bm["max_maturity_years"]),
				ValuationPercentage: floatPtrFrom(bm["valuation_percentage"]),
				HaircutPercentage:   floatPtrFrom(bm["haircut_percentage"]),
				Source:              stringFrom(bm["source"]),
			})
		}
	}
	return pr
}

func floatPtrFrom(v interface{}) *float64 {
	switch n := v.(type) {
	case float64:
		return &n
	case int:
		f := float64(n)
		return &f
	default:
		return nil
	}
}

func stringFrom(v interface{}) string {
	s, _ := v.(string)
	return s
}

func (w *worker) step2DetectAmbiguities(ctx context.Context, pr parseResult, originalString string) (ambiguityDetection, error) {
	start := time.Now()

	prompt := fmt.Sprintf(`Review this parsed result and identify any ambiguities or uncertainties, including maturity conflicts.

Original String: %s
Parsed Result: %s

Are there any elements that are ambiguous, unclear (missing information), potentially incorrect, or inconsistent?

IMPORTANT - Check for maturity conflicts:
- If both a collateral_type maturity range and maturity_buckets exist, check if the buckets fall within the range.
- Mark conflicts as HIGH severity if the ranges don't overlap at all; MEDIUM if buckets partially exceed the range.

Return JSON:
{"ambiguities": [{"issue": "...", "severity": "low", "field": "...", "suggested_resolution": "..."}], "needs_context": false, "needs_resolution": true}`,
		originalString, summarizeParseResult(pr))

	raw, err := w.base.CallModel(ctx, models.ModelFast, collateralSystemPrompt, prompt)
	if err != nil {
		return ambiguityDetection{}, err
	}

	var det ambiguityDetection
	if ambs, ok := raw["ambiguities"].([]interface{}); ok {
		for _, a := range ambs {
			am, ok := a.(map[string]interface{})
			if !ok {
				continue
			}
			sev := stringFrom(am["severity"])
			if sev == "" {
				sev = "low"
			}
			det.Ambiguities = append(det.Ambiguities, ambiguity{
				Issue: stringFrom(am["issue"]), Severity: sev,
				Field: stringFrom(am["field"]), SuggestedResolution: stringFrom(am["suggested_resolution"]),
			})
		}
	}
	det.NeedsContext, _ = raw["needs_context"].(bool)
	det.NeedsResolution, _ = raw["needs_resolution"].(bool)
	det.Reasoning = stringFrom(raw["reasoning"])
	if det.Reasoning == "" {
		det.Reasoning = "Ambiguity detection completed"
	}

	w.base.AddReasoningStep(2, "detect_ambiguities",
		map[string]interface{}{"parse_result": summarizeParseResult(pr)},
		map[string]interface{}{"ambiguities_count": len(det.Ambiguities), "needs_resolution": det.NeedsResolution},
		models.ModelFast, det.Reasoning, nil, time.Since(start))

	return det, nil
}

func (w *worker) step3ResolveAmbiguities(ctx context.Context, pr parseResult, det ambiguityDetection, originalString string, hasContext bool) (ambiguityResolution, error) {
	start := time.Now()

	contextNote := ""
	if hasContext {
		contextNote = "\nDocument Context Available: Yes"
	}

	prompt := fmt.Sprintf(`Resolve these ambiguities using domain knowledge about CSA agreements, including maturity conflicts.

Original String: %s
Current Parse: %s
Ambiguities: %v
%s

Apply these domain rules:
- Maturity buckets in CSAs typically use "X-Y yr" format meaning "X to Y years".
- Upper bounds are typically EXCLUSIVE: "1-2yr" means [1.0, 2.0) years.
- Haircuts decrease (percentages increase) as maturity increases for the same security type.
- Overlapping buckets for a single collateral are rare and usually errors.
- "Infinity" or ">Xyr" means no upper maturity limit (null).

When maturity appears in both collateral_type and valuation_string: prefer valuation_string buckets (more granular, actual pricing data); if the ranges conflict with no overlap at all, flag as a high-confidence issue for human review and document the conflict.

Return JSON:
{"resolutions": [{"ambiguity": "description", "interpretation": "...", "reasoning": "...", "confidence": 0.95, "sources_used": ["csa_convention"]}]}`,
		originalString, summarizeParseResult(pr), det.Ambiguities, contextNote)

	raw, err := w.base.CallModel(ctx, models.ModelDeep, collateralSystemPrompt, prompt)
	if err != nil {
		return ambiguityResolution{}, err
	}

	var res ambiguityResolution
	if items, ok := raw["resolutions"].([]interface{}); ok {
		for _, r := range items {
			rm, ok := r.(map[string]interface{})
			if !ok {
				continue
			}
			conf := 0.8
			if c, ok := rm["confidence"].(float64); ok {
				conf = c
			}
			sources := []string{"domain_knowledge"}
			if su, ok := rm["sources_used"].([]interface{}); ok && len(su) > 0 {
				sources = nil
				for _, s := range su {
					if str, ok := s.(string); ok {
						sources = append(sources, str)
					}
				}
			}
			res.Resolutions = append(res.Resolutions, resolution{
				Ambiguity: stringFrom(rm["ambiguity"]), Interpretation: stringFrom(rm["interpretation"]),
				Reasoning: stringFrom(rm["reasoning"]), Confidence: conf, SourcesUsed: sources,
			})
		}
	}

	var avgConf *float64
	if len(res.Resolutions) > 0 {
		var sum float64
		for _, r := range res.Resolutions {
			sum += r.Confidence
		}
		avg := sum / float64(len(res.Resolutions))
		avgConf = &avg
	}

	w.base.AddReasoningStep(3, "resolve_ambiguities",
		map[string]interface{}{"ambiguities_count": len(det.Ambiguities)},
		map[string]interface{}{"resolutions_count": len(res.Resolutions)},
		models.ModelDeep, "Applied domain knowledge to resolve ambiguities", avgConf, time.Since(start))

	return res, nil
}

// applyResolutions is an intentional no-op passthrough, matching
// _apply_resolutions in the Python source ("For now, return as-is") — the
// reference implementation never filled this in, so this port doesn't
// either. See DESIGN.md.
func applyResolutions(pr parseResult, _ ambiguityResolution) parseResult {
	return pr
}

func (w *worker) step4ValidateTaxonomy(pr parseResult) validationResult {
	start := time.Now()

	valid := isValidType(pr.StandardizedType)
	var suggestions []string
	if !valid {
		if matches := closeMatches(pr.StandardizedType, validTypeStrings, 3, 0.6); len(matches) > 0 {
			suggestions = append(suggestions, fmt.Sprintf("Did you mean one of: %s", strings.Join(matches, ", ")))
		}
	}

	result := validationResult{Passed: valid, Suggestions: suggestions}
	if !valid {
		result.Issues = []string{fmt.Sprintf("Invalid collateral type: '%s'", pr.StandardizedType)}
	}

	w.base.AddReasoningStep(4, "validate_taxonomy",
		map[string]interface{}{"standardized_type": pr.StandardizedType},
		map[string]interface{}{"passed": valid, "suggestions": suggestions},
		models.ModelRuleBased, "Validated collateral type against StandardizedCollateralType taxonomy", nil, time.Since(start))

	return result
}

// applyTaxonomyCorrections overwrites StandardizedType with the closest
// valid taxonomy match and logs a correction at fixed confidence 0.7,
// matching _apply_taxonomy_corrections. Unlike the Python source, which
// regex-parses its own "Did you mean one of: X, Y, Z" suggestion string
// back apart to recover the first match, this recomputes the match
// directly — same outcome, no string round-trip. See DESIGN.md.
func (w *worker) applyTaxonomyCorrections(pr parseResult, vr validationResult) parseResult {
	matches := closeMatches(pr.StandardizedType, validTypeStrings, 1, 0.6)
	if len(matches) == 0 {
		return pr
	}
	original := pr.StandardizedType
	pr.StandardizedType = matches[0]

	correction := map[string]interface{}{
		"correction_type": "taxonomy", "original_value": original,
		"corrected_value": pr.StandardizedType, "confidence": 0.7,
	}
	w.base.AddReasoningStep(4, "apply_taxonomy_correction",
		map[string]interface{}{"original_value": original},
		map[string]interface{}{"corrections": []interface{}{correction}},
		models.ModelRuleBased,
		fmt.Sprintf("Corrected '%s' to closest valid taxonomy match '%s'", original, pr.StandardizedType),
		nil, 0)
	return pr
}

func (w *worker) step5ValidateLogic(pr parseResult) validationResult {
	start := time.Now()

	var issues []string

	for i := 0; i < len(pr.Buckets); i++ {
		for j := i + 1; j < len(pr.Buckets); j++ {
			if bucketsOverlap(pr.Buckets[i], pr.Buckets[j]) {
				issues = append(issues, fmt.Sprintf("Overlapping buckets: bucket %d and bucket %d", i, j))
			}
		}
	}

	for i, b := range pr.Buckets {
		if b.HaircutPercentage != nil && (*b.HaircutPercentage < 0 || *b.HaircutPercentage > 100) {
			issues = append(issues, fmt.Sprintf("Invalid haircut %.2f%% for bucket %d", *b.HaircutPercentage, i))
		}
		if b.ValuationPercentage != nil && (*b.ValuationPercentage < 0 || *b.ValuationPercentage > 100) {
			issues = append(issues, fmt.Sprintf("Invalid valuation %.2f%% for bucket %d", *b.ValuationPercentage, i))
		}
		if b.MinMaturityYears != nil && b.MaxMaturityYears != nil && *b.MinMaturityYears >= *b.MaxMaturityYears {
			issues = append(issues, fmt.Sprintf("Invalid maturity range for bucket %d: min (%v) >= max (%v)", i, *b.MinMaturityYears, *b.MaxMaturityYears))
		}
	}

	if mft := pr.MaturityFromType; mft != nil && (mft.MinYears != nil || mft.MaxYears != nil) {
		for i, b := range pr.Buckets {
			if b.MinMaturityYears == nil && b.MaxMaturityYears == nil {
				continue
			}
			if mft.MinYears != nil && b.MinMaturityYears != nil && *b.MinMaturityYears < *mft.MinYears {
				issues = append(issues, fmt.Sprintf("Maturity conflict in bucket %d: bucket min (%v years) is less than collateral_type min (%v years). Source: %s", i, *b.MinMaturityYears, *mft.MinYears, mft.SourceText))
			}
			if mft.MaxYears != nil && b.MaxMaturityYears != nil && *b.MaxMaturityYears > *mft.MaxYears {
				issues = append(issues, fmt.Sprintf("Maturity conflict in bucket %d: bucket max (%v years) exceeds collateral_type max (%v years). Source: %s", i, *b.MaxMaturityYears, *mft.MaxYears, mft.SourceText))
			}
		}
	}

	for i, b := range pr.Buckets {
		if b.MaxMaturityYears != nil && *b.MaxMaturityYears < 0.1 {
			days := int(*b.MaxMaturityYears * 365)
			issues = append(issues, fmt.Sprintf("Unusual maturity value for bucket %d: max=%v years (~%d days). Verify this is correct.", i, *b.MaxMaturityYears, days))
		}
		if tooPrecise(b.MinMaturityYears) {
			issues = append(issues, fmt.Sprintf("Unusually precise maturity value for bucket %d: min=%v years. Consider rounding to 2 decimal places.", i, *b.MinMaturityYears))
		}
		if tooPrecise(b.MaxMaturityYears) {
			issues = append(issues, fmt.Sprintf("Unusually precise maturity value for bucket %d: max=%v years. Consider rounding to 2 decimal places.", i, *b.MaxMaturityYears))
		}
	}

	sorted := make([]bucket, 0, len(pr.Buckets))
	for _, b := range pr.Buckets {
		if b.MinMaturityYears != nil {
			sorted = append(sorted, b)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return *sorted[i].MinMaturityYears < *sorted[j].MinMaturityYears })
	for i := 0; i < len(sorted)-1; i++ {
		if sorted[i].MaxMaturityYears == nil || sorted[i+1].MinMaturityYears == nil {
			continue
		}
		gap := *sorted[i+1].MinMaturityYears - *sorted[i].MaxMaturityYears
		if gap > 0.01 {
			issues = append(issues, fmt.Sprintf("Maturity bucket gap detected: ends at %v years, next starts at %v years (gap: %.3f years). Verify this gap is intentional.", *sorted[i].MaxMaturityYears, *sorted[i+1].MinMaturityYears, gap))
		}
	}

	result := validationResult{Passed: len(issues) == 0, Issues: issues}

	w.base.AddReasoningStep(5, "validate_logic",
		map[string]interface{}{"buckets_count": len(pr.Buckets)},
		map[string]interface{}{"passed": result.Passed, "issues_count": len(issues)},
		models.ModelRuleBased, "Validated logical consistency of parsed data", nil, time.Since(start))

	return result
}

func tooPrecise(v *float64) bool {
	if v == nil {
		return false
	}
	s := strconv.FormatFloat(*v, 'f', 10, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		return len(s)-dot-1 > 2
	}
	return false
}

// applyLogicCorrections is an intentional no-op passthrough, matching
// _apply_logic_corrections in the Python source ("In production, would
// apply specific corrections"). See DESIGN.md.
func applyLogicCorrections(pr parseResult, _ validationResult) parseResult {
	return pr
}

// bucketsOverlap is max-exclusive and null-safe: any nil bound makes
// overlap undeterminable, so it reports no overlap (matches
// _buckets_overlap).
func bucketsOverlap(a, b bucket) bool {
	if a.MinMaturityYears == nil || a.MaxMaturityYears == nil || b.MinMaturityYears == nil || b.MaxMaturityYears == nil {
		return false
	}
	return !(*a.MaxMaturityYears <= *b.MinMaturityYears || *b.MaxMaturityYears <= *a.MinMaturityYears)
}

func (w *worker) step6Synthesize(ctx context.Context, pr parseResult, ratingEvent string, ratingEventOrder int) (parseResult, float64, string, error) {
	start := time.Now()

	prompt := fmt.Sprintf(`Synthesize the final normalized collateral output.

Parsed Data: %s

Produce a final confidence score (0.0-1.0) considering the quality of the parse, ambiguities resolved, validation results, and self-corrections needed, plus a brief summary of key decisions made.

Return JSON:
{"final_data": {"...": "..."}, "confidence": 0.97, "summary": "Brief summary of processing"}`,
		summarizeParseResult(pr))

	raw, err := w.base.CallModel(ctx, models.ModelDeep, collateralSystemPrompt, prompt)
	if err != nil {
		return pr, 0, "", err
	}

	confidence := 0.85
	if c, ok := raw["confidence"].(float64); ok {
		confidence = c
	}
	summary := "Synthesis completed"
	if s, ok := raw["summary"].(string); ok && s != "" {
		summary = s
	}

	final := pr
	if parsed, ok := raw["parsed"].(bool); !ok || parsed {
		if fd, ok := raw["final_data"].(map[string]interface{}); ok {
			final = parseResultFromRaw(fd)
		}
	}

	if final.StandardizedType == "" {
		final.StandardizedType = "UNKNOWN"
		if confidence > 0.5 {
			confidence = 0.5
		}
	}

	w.base.AddReasoningStep(6, "synthesize",
		map[string]interface{}{"rating_event": ratingEvent, "rating_event_order": ratingEventOrder},
		map[string]interface{}{"confidence": confidence, "summary": summary},
		models.ModelDeep, summary, &confidence, time.Since(start))

	return final, confidence, summary, nil
}

// normalizeSingleItem runs the full 6-step reasoning chain for one
// collateral row, grounded on _normalize_single_item.
func normalizeSingleItem(ctx context.Context, mgr *agent.Manager, item Item, markdown string) (models.NormalizedCollateral, []models.ReasoningStep, error) {
	w := newWorker(mgr)

	pr, err := w.step1InitialParse(ctx, item.CollateralType, item.ValuationString, item.RatingEvent)
	if err != nil {
		return models.NormalizedCollateral{}, nil, err
	}

	det, err := w.step2DetectAmbiguities(ctx, pr, item.ValuationString)
	if err != nil {
		return models.NormalizedCollateral{}, nil, err
	}

	if det.NeedsResolution {
		res, err := w.step3ResolveAmbiguities(ctx, pr, det, item.ValuationString, markdown != "")
		if err != nil {
			return models.NormalizedCollateral{}, nil, err
		}
		pr = applyResolutions(pr, res)
	}

	taxonomy := w.step4ValidateTaxonomy(pr)
	if !taxonomy.Passed {
		pr = w.applyTaxonomyCorrections(pr, taxonomy)
	}

	logic := w.step5ValidateLogic(pr)
	if !logic.Passed {
		pr = applyLogicCorrections(pr, logic)
	}

	final, confidence, summary, err := w.step6Synthesize(ctx, pr, item.RatingEvent, item.RatingEventOrder)
	if err != nil {
		return models.NormalizedCollateral{}, nil, err
	}

	nc := models.NormalizedCollateral{
		StandardizedType: models.StandardizedCollateralType(final.StandardizedType),
		BaseDescription:  item.CollateralType,
		RatingEvent:      item.RatingEvent,
		Confidence:       confidence,
		Notes:            summary,
	}
	for _, b := range final.Buckets {
		nc.MaturityBuckets = append(nc.MaturityBuckets, toModelBucket(b))
	}

	return nc, w.base.Steps(), nil
}

func toModelBucket(b bucket) models.MaturityBucket {
	mb := models.MaturityBucket{MinYears: b.MinMaturityYears, MaxYears: b.MaxMaturityYears}
	if b.ValuationPercentage != nil {
		mb.ValuationPercentage = *b.ValuationPercentage / 100.0
	}
	if b.HaircutPercentage != nil {
		mb.Haircut = *b.HaircutPercentage / 100.0
	}
	mb.OriginalText = b.Source
	return mb
}

func summarizeParseResult(pr parseResult) string {
	var sb strings.Builder
	sb.WriteString(pr.StandardizedType)
	sb.WriteString(" buckets=")
	sb.WriteString(strconv.Itoa(len(pr.Buckets)))
	return sb.String()
}

// Normalize is the Collateral Agent's normalize() entry point: processes
// every item with adaptive batching (items beyond autoBatchThreshold are
// split into parallelBatchSize-wide batches, each batch run concurrently
// via goroutines — real parallelism, unlike the source's single-threaded
// asyncio.gather), preserving item order and count even when an item
// errors (converted into an {"error", "item_index"} placeholder row).
func (a *Agent) Normalize(ctx context.Context, items []Item, markdown string, autoBatchThreshold, parallelBatchSize int) models.AgentResult {
	start := time.Now()

	if parallelBatchSize <= 0 {
		parallelBatchSize = len(items)
	}
	batchSize := len(items)
	if autoBatchThreshold > 0 && len(items) > autoBatchThreshold {
		batchSize = parallelBatchSize
	}
	if batchSize <= 0 {
		batchSize = len(items)
	}

	results := make([]models.NormalizedCollateral, len(items))
	chains := make([][]models.ReasoningStep, len(items))
	errs := make([]error, len(items))

	for batchStart := 0; batchStart < len(items); batchStart += batchSize {
		batchEnd := batchStart + batchSize
		if batchEnd > len(items) {
			batchEnd = len(items)
		}

		var wg sync.WaitGroup
		for idx := batchStart; idx < batchEnd; idx++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				nc, chain, err := normalizeSingleItem(ctx, a.mgr, items[i], markdown)
				results[i] = nc
				chains[i] = chain
				errs[i] = err
			}(idx)
		}
		wg.Wait()
	}

	var mergedChain []models.ReasoningStep
	var normalizedItems []interface{}
	for i := range items {
		if errs[i] != nil {
			normalizedItems = append(normalizedItems, map[string]interface{}{
				"error": errs[i].Error(), "item_index": i,
			})
			continue
		}
		mergedChain = append(mergedChain, chains[i]...)
		normalizedItems = append(normalizedItems, results[i])
	}

	confidence := chainConfidence(mergedChain)
	needsReview := agent.NeedsHumanReview(confidence)
	reason := ""
	if needsReview {
		reason = fmt.Sprintf("Low confidence (%.2f) below threshold (%.2f)", confidence, models.HumanReviewConfidenceThreshold)
	}

	return models.AgentResult{
		AgentName:             AgentName,
		Data:                  map[string]interface{}{"normalized_items": normalizedItems},
		Confidence:            confidence,
		ReasoningChain:        mergedChain,
		SelfCorrectionsCount:  chainCorrections(mergedChain),
		RequiresHumanReview:   needsReview,
		HumanReviewReason:     reason,
		ProcessingTimeSeconds: time.Since(start).Seconds(),
	}
}

// chainConfidence and chainCorrections mirror agent.Base's
// OverallConfidence/CountCorrections over an externally merged chain
// (collateral normalization merges several workers' chains into one, so
// it cannot use a single shared Base — see the worker doc comment).
func chainConfidence(chain []models.ReasoningStep) float64 {
	var sum float64
	var n int
	for _, step := range chain {
		if step.Confidence != nil {
			sum += *step.Confidence
			n++
		}
	}
	if n == 0 {
		return models.DefaultAgentConfidence
	}
	return sum / float64(n)
}

func chainCorrections(chain []models.ReasoningStep) int {
	total := 0
	for _, step := range chain {
		if corrections, ok := step.Output["corrections"].([]interface{}); ok {
			total += len(corrections)
		}
	}
	return total
}

// closeMatches returns up to n candidates whose similarity ratio to
// target is >= cutoff, most-similar first. It is this port's stand-in
// for Python's difflib.get_close_matches (no fuzzy-string-matching
// library was found among the examples — see DESIGN.md): ratio is a
// normalized Levenshtein distance, which approximates (but does not
// reproduce bit-for-bit) difflib's SequenceMatcher ratio.
func closeMatches(target string, candidates []string, n int, cutoff float64) []string {
	type scored struct {
		candidate string
		ratio     float64
	}
	var scoredCandidates []scored
	for _, c := range candidates {
		r := similarityRatio(target, c)
		if r >= cutoff {
			scoredCandidates = append(scoredCandidates, scored{c, r})
		}
	}
	sort.Slice(scoredCandidates, func(i, j int) bool { return scoredCandidates[i].ratio > scoredCandidates[j].ratio })
	if len(scoredCandidates) > n {
		scoredCandidates = scoredCandidates[:n]
	}
	out := make([]string, len(scoredCandidates))
	for i, s := range scoredCandidates {
		out[i] = s.candidate
	}
	return out
}

func similarityRatio(a, b string) float64 {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1.0
	}
	dist := levenshtein(strings.ToUpper(a), strings.ToUpper(b))
	return 1.0 - float64(dist)/float64(maxLen)
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			curr[j] = m
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

const collateralSystemPrompt = `You are a precise collateral taxonomy and maturity extraction assistant for Credit Support Annex documents. Respond with JSON only, no prose.`
