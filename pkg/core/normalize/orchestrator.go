// Package normalize implements the Normalization Orchestrator spec.md
// §4.7 describes: it routes an Extraction's fields to the Collateral,
// Temporal, and Currency agents, aggregates their results, runs the
// Validation Agent over the aggregate, and computes the combined
// confidence/human-review verdict. Grounded on original_source's
// services/normalization_orchestrator.py.
package normalize

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"csa-margin-engine/pkg/core/agent"
	"csa-margin-engine/pkg/core/collateral"
	"csa-margin-engine/pkg/core/currency"
	"csa-margin-engine/pkg/core/temporal"
	"csa-margin-engine/pkg/core/validate"
	"csa-margin-engine/pkg/models"
)

// baseValuationRatingEvent is the rating-event label used when a
// collateral table has a single valuation column (no rating-scenario
// breakdown), mirroring the Python source's fixed fallback label.
const baseValuationRatingEvent = "Base Valuation Percentage"

// Config bundles the orchestrator's adaptive-batching tunables, passed
// straight through to the Collateral Agent.
type Config struct {
	AutoBatchThreshold int
	ParallelBatchSize  int
}

// Orchestrator wires the three normalizer agents and the Validation Agent
// together over one Extraction.
type Orchestrator struct {
	collateralAgent *collateral.Agent
	currencyAgent   *currency.Agent
	temporalAgent   *temporal.Agent
	cfg             Config
}

// NewOrchestrator constructs an Orchestrator whose agents route LLM calls
// through mgr.
func NewOrchestrator(mgr *agent.Manager, cfg Config) *Orchestrator {
	return &Orchestrator{
		collateralAgent: collateral.NewAgent(mgr),
		currencyAgent:   currency.NewAgent(mgr),
		temporalAgent:   temporal.NewAgent(mgr),
		cfg:             cfg,
	}
}

// ProcessingSummary mirrors original_source's _create_processing_summary.
type ProcessingSummary struct {
	TotalProcessingTimeSeconds float64  `json:"total_processing_time_seconds"`
	AgentsUsed                 []string `json:"agents_used"`
	TotalReasoningSteps        int      `json:"total_reasoning_steps"`
	TotalSelfCorrections       int      `json:"total_self_corrections"`
	ModelsUsed                 []string `json:"models_used"`
	ContextAccessed            bool     `json:"context_accessed"`
	ItemsRequiringReview       int      `json:"items_requiring_review"`
}

// Result is the orchestrator's aggregated output. The raw per-agent
// AgentResults are kept for auditability (spec.md §4.2's reasoning-chain
// invariant); the extracted maps are what the Mapper consumes next.
type Result struct {
	CollateralResult models.AgentResult
	CurrencyResult   models.AgentResult
	TemporalResult   models.AgentResult

	Validation          models.ValidationReport
	OverallConfidence   float64
	RequiresHumanReview bool
	Summary             ProcessingSummary

	NormalizedCollateral []models.NormalizedCollateral
	RatingEvents         []string
	Currencies           map[string]models.NormalizedCurrency
	Rounding             *models.NormalizedRounding
	Times                map[string]models.NormalizedTime
	Dates                map[string]models.NormalizedDate
}

// agentWeights mirrors the Python source's confidence-aggregation
// weights: collateral carries the most signal (a wrong haircut moves the
// margin call more than a wrong timezone), temporal and currency split
// the remainder evenly.
var agentWeights = map[string]float64{
	"collateral": 0.5,
	"temporal":   0.25,
	"currency":   0.25,
}

// Normalize routes extraction's fields to the three agents, aggregates
// their results, and runs the Validation Agent over the aggregate.
func (o *Orchestrator) Normalize(ctx context.Context, extraction models.Extraction, markdown string) Result {
	items, ratingEvents := routeCollateral(extraction)
	temporalData := routeTemporal(extraction)
	currencyData := routeCurrency(extraction)

	collateralResult := o.collateralAgent.Normalize(ctx, items, markdown, o.cfg.AutoBatchThreshold, o.cfg.ParallelBatchSize)
	temporalResult := o.temporalAgent.Normalize(ctx, temporalData, markdown)
	currencyResult := o.currencyAgent.Normalize(ctx, currencyData)

	// Party-specific independent amounts have no place in the Currency
	// Agent's fixed field list (it only knows a single shared
	// "independent_amount" field, ported verbatim from the source) so
	// they're normalized directly via NormalizeField and merged in.
	if raw := stringOrEmpty(extraction.CoreMarginTerms.PartyAIndependentAmount); raw != "" {
		if nc, err := o.currencyAgent.NormalizeField(ctx, "party_a_independent_amount", raw); err == nil {
			currencyResult.Data["party_a_independent_amount"] = nc
		}
	}
	if raw := stringOrEmpty(extraction.CoreMarginTerms.PartyBIndependentAmount); raw != "" {
		if nc, err := o.currencyAgent.NormalizeField(ctx, "party_b_independent_amount", raw); err == nil {
			currencyResult.Data["party_b_independent_amount"] = nc
		}
	}

	normalizedCollateral := extractNormalizedCollateral(collateralResult)
	currencies, rounding := extractCurrencies(currencyResult)
	times, dates := extractTimes(temporalResult)

	validationInput := buildValidationInput(currencies, normalizedCollateral, times)
	validationReport := validate.Validate(validationInput)

	overall := aggregateConfidence(collateralResult, temporalResult, currencyResult)
	needsReview := collateralResult.RequiresHumanReview ||
		temporalResult.RequiresHumanReview ||
		currencyResult.RequiresHumanReview ||
		!validationReport.Passed ||
		overall < models.HumanReviewConfidenceThreshold

	return Result{
		CollateralResult:     collateralResult,
		CurrencyResult:       currencyResult,
		TemporalResult:       temporalResult,
		Validation:           validationReport,
		OverallConfidence:    overall,
		RequiresHumanReview:  needsReview,
		Summary:              buildSummary(collateralResult, temporalResult, currencyResult),
		NormalizedCollateral: normalizedCollateral,
		RatingEvents:         ratingEvents,
		Currencies:           currencies,
		Rounding:             rounding,
		Times:                times,
		Dates:                dates,
	}
}

// routeCollateral explodes the eligible-collateral table against its
// column headers into one collateral.Item per (row, rating-scenario
// column) pair. A single-column table (no rating-event breakdown) is
// routed under the fixed baseValuationRatingEvent label.
func routeCollateral(extraction models.Extraction) ([]collateral.Item, []string) {
	columnNames := extraction.ColumnInfo.ValuationColumnNames

	var items []collateral.Item
	var ratingEvents []string
	seen := map[string]bool{}

	addEvent := func(name string) {
		if !seen[name] {
			seen[name] = true
			ratingEvents = append(ratingEvents, name)
		}
	}

	for _, row := range extraction.EligibleCollateralTable {
		if len(columnNames) <= 1 {
			valuation := ""
			if len(row.Valuations) > 0 {
				valuation = row.Valuations[0]
			}
			items = append(items, collateral.Item{
				CollateralType:   row.CollateralType,
				ValuationString:  valuation,
				RatingEvent:      baseValuationRatingEvent,
				RatingEventOrder: 0,
			})
			addEvent(baseValuationRatingEvent)
			continue
		}

		for colIdx, valuation := range row.Valuations {
			if colIdx >= len(columnNames) {
				break
			}
			event := columnNames[colIdx]
			items = append(items, collateral.Item{
				CollateralType:   row.CollateralType,
				ValuationString:  valuation,
				RatingEvent:      event,
				RatingEventOrder: colIdx,
			})
			addEvent(event)
		}
	}
	return items, ratingEvents
}

// routeTemporal pulls the notification/valuation times and the
// agreement/signature dates into the flat field map the Temporal Agent
// expects.
func routeTemporal(extraction models.Extraction) map[string]string {
	data := map[string]string{}
	if v := extraction.ValuationTiming.NotificationTime; v != "" {
		data["notification_time"] = v
	}
	if v := extraction.ValuationTiming.ValuationTime; v != "" {
		data["valuation_time"] = v
	}
	if v := extraction.AgreementInfo.AgreementDate; v != "" {
		data["agreement_date"] = v
	}
	if v := extraction.AgreementInfo.SignatureDate; v != "" {
		data["signature_date"] = v
	}
	return data
}

// routeCurrency maps CoreMarginTerms' field names onto the Currency
// Agent's field-name vocabulary (party_a_minimum_transfer_amount ->
// party_a_min_transfer_amount, etc, mirroring the Python source's
// explicit rename table).
func routeCurrency(extraction models.Extraction) map[string]string {
	data := map[string]string{}
	cmt := extraction.CoreMarginTerms

	if cmt.BaseCurrency != "" {
		data["base_currency"] = cmt.BaseCurrency
	}
	if v := stringOrEmpty(cmt.PartyAThreshold); v != "" {
		data["party_a_threshold"] = v
	}
	if v := stringOrEmpty(cmt.PartyBThreshold); v != "" {
		data["party_b_threshold"] = v
	}
	if v := stringOrEmpty(cmt.PartyAMinimumTransferAmount); v != "" {
		data["party_a_min_transfer_amount"] = v
	}
	if v := stringOrEmpty(cmt.PartyBMinimumTransferAmount); v != "" {
		data["party_b_min_transfer_amount"] = v
	}
	if v := stringOrEmpty(cmt.Rounding); v != "" {
		data["rounding"] = v
	}
	return data
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

func extractNormalizedCollateral(result models.AgentResult) []models.NormalizedCollateral {
	raw, ok := result.Data["normalized_items"].([]interface{})
	if !ok {
		return nil
	}
	out := make([]models.NormalizedCollateral, 0, len(raw))
	for _, item := range raw {
		if nc, ok := item.(models.NormalizedCollateral); ok {
			out = append(out, nc)
		}
	}
	return out
}

func extractCurrencies(result models.AgentResult) (map[string]models.NormalizedCurrency, *models.NormalizedRounding) {
	currencies := map[string]models.NormalizedCurrency{}
	var rounding *models.NormalizedRounding
	for field, v := range result.Data {
		if field == "rounding" {
			if r, ok := v.(models.NormalizedRounding); ok {
				rounding = &r
			}
			continue
		}
		if nc, ok := v.(models.NormalizedCurrency); ok {
			currencies[field] = nc
		}
	}
	return currencies, rounding
}

func extractTimes(result models.AgentResult) (map[string]models.NormalizedTime, map[string]models.NormalizedDate) {
	times := map[string]models.NormalizedTime{}
	dates := map[string]models.NormalizedDate{}
	for field, v := range result.Data {
		if t, ok := v.(models.NormalizedTime); ok {
			times[field] = t
			continue
		}
		if d, ok := v.(models.NormalizedDate); ok {
			dates[field] = d
		}
	}
	return times, dates
}

// buildValidationInput projects the aggregated agent output down to the
// cross-field facts the Validation Agent checks.
func buildValidationInput(currencies map[string]models.NormalizedCurrency, collateralItems []models.NormalizedCollateral, times map[string]models.NormalizedTime) validate.Input {
	in := validate.Input{
		Currencies:      map[string]string{},
		Timezones:       map[string]string{},
		CollateralItems: collateralItems,
	}
	for field, nc := range currencies {
		if nc.CurrencyCode != "" {
			in.Currencies[field] = nc.CurrencyCode
		}
	}
	for field, t := range times {
		if t.Timezone != "" {
			in.Timezones[field] = t.Timezone
		}
	}

	if t, ok := currencies["party_a_threshold"]; ok {
		in.PartyAThresholdFinite = !t.IsInfinity
		if t.Amount != nil {
			in.PartyAThreshold = *t.Amount
		}
	}
	if t, ok := currencies["party_b_threshold"]; ok {
		in.PartyBThresholdFinite = !t.IsInfinity
		if t.Amount != nil {
			in.PartyBThreshold = *t.Amount
		}
	}
	if m, ok := currencies["party_a_min_transfer_amount"]; ok && m.Amount != nil {
		in.PartyAMTA = *m.Amount
	}
	if m, ok := currencies["party_b_min_transfer_amount"]; ok && m.Amount != nil {
		in.PartyBMTA = *m.Amount
	}
	return in
}

// aggregateConfidence mirrors _calculate_overall_confidence: a weighted
// mean over whichever agents actually produced data, redistributing
// weight away from any agent that didn't run; 0.8 when none did.
func aggregateConfidence(collateralResult, temporalResult, currencyResult models.AgentResult) float64 {
	present := map[string]float64{}
	if hasData(collateralResult) {
		present["collateral"] = collateralResult.Confidence
	}
	if hasData(temporalResult) {
		present["temporal"] = temporalResult.Confidence
	}
	if hasData(currencyResult) {
		present["currency"] = currencyResult.Confidence
	}
	if len(present) == 0 {
		return 0.8
	}

	var totalWeight float64
	for name := range present {
		totalWeight += agentWeights[name]
	}
	if totalWeight == 0 {
		return 0.8
	}

	var weighted float64
	for name, conf := range present {
		weighted += (agentWeights[name] / totalWeight) * conf
	}
	return weighted
}

func hasData(r models.AgentResult) bool {
	// The Collateral Agent always returns a "normalized_items" key, even
	// when it had no items to process.
	if items, ok := r.Data["normalized_items"].([]interface{}); ok && len(r.Data) == 1 {
		return len(items) > 0
	}
	return len(r.Data) > 0
}

// buildSummary mirrors _create_processing_summary.
func buildSummary(collateralResult, temporalResult, currencyResult models.AgentResult) ProcessingSummary {
	var agentsUsed []string
	var totalTime float64
	var totalSteps, totalCorrections, itemsRequiringReview int
	modelsSeen := map[string]bool{}
	contextAccessed := false

	for _, r := range []models.AgentResult{collateralResult, temporalResult, currencyResult} {
		if !hasData(r) {
			continue
		}
		agentsUsed = append(agentsUsed, r.AgentName)
		totalTime += r.ProcessingTimeSeconds
		totalSteps += len(r.ReasoningChain)
		totalCorrections += r.SelfCorrectionsCount
		if r.RequiresHumanReview {
			itemsRequiringReview++
		}
		for _, step := range r.ReasoningChain {
			if step.ModelUsed != "" {
				modelsSeen[string(step.ModelUsed)] = true
			}
			if step.StepName == "access_document_context" {
				contextAccessed = true
			}
		}
	}

	modelsUsed := make([]string, 0, len(modelsSeen))
	for m := range modelsSeen {
		modelsUsed = append(modelsUsed, m)
	}
	sort.Strings(modelsUsed)
	sort.Strings(agentsUsed)

	return ProcessingSummary{
		TotalProcessingTimeSeconds: totalTime,
		AgentsUsed:                 agentsUsed,
		TotalReasoningSteps:        totalSteps,
		TotalSelfCorrections:       totalCorrections,
		ModelsUsed:                 modelsUsed,
		ContextAccessed:            contextAccessed,
		ItemsRequiringReview:       itemsRequiringReview,
	}
}

type collateralKey struct {
	stdType     models.StandardizedCollateralType
	ratingEvent string
}

// DiffNormalization reports human-readable differences between two
// normalization runs over the same extraction — SPEC_FULL.md's
// supplemented "normalization impact analyzer" feature, letting a caller
// see what changed when re-running normalization after a prompt or model
// change.
func DiffNormalization(before, after models.NormalizedCollateralTable) []string {
	oldByKey := map[collateralKey]models.NormalizedCollateral{}
	for _, item := range before.CollateralItems {
		oldByKey[collateralKey{item.StandardizedType, item.RatingEvent}] = item
	}
	newByKey := map[collateralKey]models.NormalizedCollateral{}
	for _, item := range after.CollateralItems {
		newByKey[collateralKey{item.StandardizedType, item.RatingEvent}] = item
	}

	var diffs []string
	for key, newItem := range newByKey {
		oldItem, existed := oldByKey[key]
		if !existed {
			diffs = append(diffs, fmt.Sprintf("added: %s / %s", key.stdType, key.ratingEvent))
			continue
		}
		if !floatPtrEqual(oldItem.FlatHaircut, newItem.FlatHaircut) {
			diffs = append(diffs, fmt.Sprintf("%s / %s: flat_haircut changed", key.stdType, key.ratingEvent))
		}
		if !floatPtrEqual(oldItem.FlatValuationPercentage, newItem.FlatValuationPercentage) {
			diffs = append(diffs, fmt.Sprintf("%s / %s: flat_valuation_percentage changed", key.stdType, key.ratingEvent))
		}
		if len(oldItem.MaturityBuckets) != len(newItem.MaturityBuckets) {
			diffs = append(diffs, fmt.Sprintf("%s / %s: maturity bucket count changed %d -> %d", key.stdType, key.ratingEvent, len(oldItem.MaturityBuckets), len(newItem.MaturityBuckets)))
		}
	}
	for key := range oldByKey {
		if _, stillPresent := newByKey[key]; !stillPresent {
			diffs = append(diffs, fmt.Sprintf("removed: %s / %s", key.stdType, key.ratingEvent))
		}
	}

	sort.Strings(diffs)
	return diffs
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
