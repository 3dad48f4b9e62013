// Package validate implements the Validation Agent spec.md §4.6 describes:
// a no-LLM, cross-field consistency and business-rule checker that runs
// after the Collateral/Temporal/Currency agents have produced their
// normalized results. Grounded on original_source's
// services/agents/validation_agent.py — same six checks (currency
// consistency, timezone consistency, MTA/threshold business rule,
// duplicate collateral detection, potential split rows, unusual
// maturities), same blocking-category rule (business_rules/date errors
// block, others don't).
package validate

import (
	"fmt"
	"sort"

	"csa-margin-engine/pkg/models"
)

// Input bundles the aggregated, already-normalized fields the Validation
// Agent checks across. It is the Go analog of the Python source's
// "normalized_data" dict assembled by the Normalization Orchestrator from
// the three agents' AgentResult.Data maps.
type Input struct {
	// Currencies maps a field name ("base_currency", "party_a_threshold", ...)
	// to its normalized ISO 4217 code. Only fields with a known code are
	// included (infinity/N/A special values carry no currency).
	Currencies map[string]string

	// Timezones maps a time field name ("notification_time",
	// "valuation_time") to its inferred IANA timezone. Empty/unresolved
	// timezones are omitted.
	Timezones map[string]string

	PartyAThresholdFinite bool
	PartyAThreshold       float64
	PartyAMTA             float64

	PartyBThresholdFinite bool
	PartyBThreshold       float64
	PartyBMTA             float64

	CollateralItems []models.NormalizedCollateral
}

// status mirrors the Python source's ValidationCheck.status ("passed",
// "warning", "failed") — kept as an internal detail; the exported
// models.ValidationReport exposes only the aggregated counts and the
// flattened issue list.
type status string

const (
	statusPassed  status = "passed"
	statusWarning status = "warning"
	statusFailed  status = "failed"
)

type check struct {
	kind           string
	category       models.ValidationCategory
	status         status
	message        string
	severity       string
	affectedFields []string
}

var recommendations = map[string]string{
	"unusual_maturity_values": "Verify the maturity values in the source document. Values under 0.1 years (~36 days) are unusual for most collateral types and may indicate an extraction error.",
	"duplicate_collateral_detection": "Review the source document to determine if these rows should be merged or if they represent genuinely different collateral types with the same classification.",
	"potential_split_rows":           "Check if these similar rows were incorrectly split during extraction and should be combined into a single collateral entry.",
	"mta_threshold_relationship":     "The minimum transfer amount must not exceed the threshold for a finite-threshold party; review the extracted values against the source document.",
}

// blockingCategories mirrors the Python source's blocking_categories set
// and spec.md §7: business_rules and date errors are blocking.
var blockingCategories = map[models.ValidationCategory]bool{
	models.ValidationCategoryBusinessRules: true,
	models.ValidationCategoryDate:          true,
}

// severityForCategory mirrors the Python source's severity_map.
var severityForCategory = map[models.ValidationCategory]string{
	models.ValidationCategoryTaxonomy:      "high",
	models.ValidationCategoryBusinessRules: "medium",
	models.ValidationCategoryCurrency:      "low",
	// timezone/date/collateral checks are constructed with an explicit
	// severity below (collateral checks vary by kind), so they don't need
	// an entry here.
}

// Validate runs every cross-field check and returns the aggregated report.
func Validate(in Input) models.ValidationReport {
	var checks []check
	checks = append(checks, checkCurrencyConsistency(in))
	checks = append(checks, checkTimezoneConsistency(in))
	checks = append(checks, checkBusinessRules(in)...)
	checks = append(checks, checkCollateralLogic(in)...)

	report := models.ValidationReport{
		ChecksPerformed: len(checks),
	}

	seenRecommendations := map[string]bool{}
	for _, c := range checks {
		severity := c.severity
		if severity == "" && c.status != statusPassed {
			severity = severityForCategory[c.category]
		}
		issue := models.ValidationIssue{
			Kind:     c.kind,
			Message:  c.message,
			Category: c.category,
			Blocking: c.status == statusFailed && blockingCategories[c.category],
			Severity: severity,
		}
		report.DetailedChecks = append(report.DetailedChecks, issue)

		switch c.status {
		case statusPassed:
			report.ChecksPassed++
		case statusFailed:
			report.ChecksFailed++
			report.Errors = append(report.Errors, c.message)
		case statusWarning:
			report.Warnings = append(report.Warnings, c.message)
		}

		if rec, ok := recommendations[c.kind]; ok && !seenRecommendations[c.kind] {
			seenRecommendations[c.kind] = true
			report.Recommendations = append(report.Recommendations, rec)
		}
	}

	report.Passed = report.ChecksFailed == 0
	return report
}

// checkCurrencyConsistency mirrors _check_currency_consistency: more than
// one distinct currency code across the currency-valued fields is a
// low-severity warning (not an error — multi-currency agreements exist).
func checkCurrencyConsistency(in Input) check {
	codes := map[string]bool{}
	var fields []string
	for field, code := range in.Currencies {
		if code != "" {
			codes[code] = true
		}
		fields = append(fields, field)
	}
	sort.Strings(fields)

	if len(codes) <= 1 {
		return check{
			kind:     "currency_consistency",
			category: models.ValidationCategoryCurrency,
			status:   statusPassed,
			message:  "All currency fields use a consistent currency",
		}
	}

	return check{
		kind:           "currency_consistency",
		category:       models.ValidationCategoryCurrency,
		status:         statusWarning,
		message:        fmt.Sprintf("Multiple currencies found across fields: %s", joinSortedKeys(codes)),
		severity:       "low",
		affectedFields: fields,
	}
}

// checkTimezoneConsistency mirrors _check_timezone_consistency.
func checkTimezoneConsistency(in Input) check {
	zones := map[string]bool{}
	var fields []string
	for field, tz := range in.Timezones {
		if tz != "" {
			zones[tz] = true
		}
		fields = append(fields, field)
	}
	sort.Strings(fields)

	if len(zones) <= 1 {
		return check{
			kind:     "timezone_consistency",
			category: models.ValidationCategoryCurrency, // no dedicated category; mirrors source's low-stakes classification
			status:   statusPassed,
			message:  "All time fields use a consistent timezone",
		}
	}

	return check{
		kind:           "timezone_consistency",
		status:         statusWarning,
		message:        fmt.Sprintf("Multiple timezones found across fields: %s", joinSortedKeys(zones)),
		severity:       "low",
		affectedFields: fields,
	}
}

// checkBusinessRules mirrors _check_business_rules: MTA <= threshold per
// party, skipped when the party's threshold is infinite (spec.md §3
// invariant: "unless threshold is infinite").
func checkBusinessRules(in Input) []check {
	var out []check
	if in.PartyAThresholdFinite {
		out = append(out, mtaThresholdCheck("party_a", in.PartyAMTA, in.PartyAThreshold))
	}
	if in.PartyBThresholdFinite {
		out = append(out, mtaThresholdCheck("party_b", in.PartyBMTA, in.PartyBThreshold))
	}
	return out
}

func mtaThresholdCheck(party string, mta, threshold float64) check {
	if mta <= threshold {
		return check{
			kind:     "mta_threshold_relationship",
			category: models.ValidationCategoryBusinessRules,
			status:   statusPassed,
			message:  fmt.Sprintf("%s MTA (%.2f) <= threshold (%.2f)", party, mta, threshold),
		}
	}
	return check{
		kind:           "mta_threshold_relationship",
		category:       models.ValidationCategoryBusinessRules,
		status:         statusFailed,
		message:        fmt.Sprintf("%s MTA (%.2f) > threshold (%.2f) - invalid", party, mta, threshold),
		affectedFields: []string{party + "_threshold", party + "_minimum_transfer_amount"},
	}
}

// checkCollateralLogic mirrors _check_collateral_logic: presence,
// duplicate (type, rating_event) pairs, unusual (<0.1yr) maturities, and
// potential split rows (same type/rating_event, >0.8 description
// similarity).
func checkCollateralLogic(in Input) []check {
	var out []check
	if len(in.CollateralItems) == 0 {
		return out
	}

	out = append(out, check{
		kind:     "collateral_present",
		category: models.ValidationCategoryTaxonomy,
		status:   statusPassed,
		message:  fmt.Sprintf("Found %d collateral items", len(in.CollateralItems)),
	})

	out = append(out, duplicateCollateralChecks(in.CollateralItems)...)

	if c := unusualMaturityCheck(in.CollateralItems); c != nil {
		out = append(out, *c)
	}

	if c := potentialSplitRowsCheck(in.CollateralItems); c != nil {
		out = append(out, *c)
	}

	return out
}

type typeEventKey struct {
	stdType     models.StandardizedCollateralType
	ratingEvent string
}

func duplicateCollateralChecks(items []models.NormalizedCollateral) []check {
	seen := map[typeEventKey]int{}
	var out []check
	for idx, item := range items {
		key := typeEventKey{item.StandardizedType, item.RatingEvent}
		if firstIdx, ok := seen[key]; ok {
			out = append(out, check{
				kind:     "duplicate_collateral_detection",
				category: models.ValidationCategoryTaxonomy,
				status:   statusWarning,
				severity: "high",
				message: fmt.Sprintf(
					"Potential duplicate: %s appears multiple times for rating event %q (items %d and %d). These rows may need to be merged.",
					key.stdType, key.ratingEvent, firstIdx, idx,
				),
				affectedFields: []string{fmt.Sprintf("collateral_item_%d", idx)},
			})
		} else {
			seen[key] = idx
		}
	}
	return out
}

func unusualMaturityCheck(items []models.NormalizedCollateral) *check {
	var unusual []string
	for idx, item := range items {
		for bucketIdx, bucket := range item.MaturityBuckets {
			if bucket.MaxYears == nil {
				continue
			}
			if *bucket.MaxYears < 0.1 {
				days := int(*bucket.MaxYears * 365)
				unusual = append(unusual, fmt.Sprintf("item %d, bucket %d: max_maturity=%.4f years (~%d days)", idx, bucketIdx, *bucket.MaxYears, days))
			}
		}
	}
	if len(unusual) == 0 {
		return nil
	}

	detail := fmt.Sprintf("Found %d unusual maturity values: %s", len(unusual), joinWithMore(unusual, 3))
	return &check{
		kind:     "unusual_maturity_values",
		category: models.ValidationCategoryTaxonomy,
		status:   statusWarning,
		severity: "medium",
		message:  detail,
	}
}

func potentialSplitRowsCheck(items []models.NormalizedCollateral) *check {
	var splits []string
	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			a, b := items[i], items[j]
			if a.RatingEvent != b.RatingEvent {
				continue
			}
			if a.StandardizedType != b.StandardizedType {
				continue
			}
			similarity := similarityRatio(a.BaseDescription, b.BaseDescription)
			if similarity > 0.8 {
				splits = append(splits, fmt.Sprintf("items %d and %d: %.0f%% similar descriptions for same rating event", i, j, similarity*100))
			}
		}
	}
	if len(splits) == 0 {
		return nil
	}

	detail := fmt.Sprintf("Found %d potential split rows that may need merging: %s", len(splits), joinWithMore(splits, 2))
	return &check{
		kind:     "potential_split_rows",
		category: models.ValidationCategoryTaxonomy,
		status:   statusWarning,
		severity: "medium",
		message:  detail,
	}
}

func joinSortedKeys(m map[string]bool) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ", "
		}
		out += k
	}
	return out
}

func joinWithMore(items []string, limit int) string {
	if len(items) <= limit {
		return joinStrings(items)
	}
	more := len(items) - limit
	return fmt.Sprintf("%s (and %d more)", joinStrings(items[:limit]), more)
}

func joinStrings(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += "; "
		}
		out += s
	}
	return out
}

// similarityRatio is a normalized-Levenshtein-distance similarity in
// [0,1], a stdlib approximation of Python's difflib.SequenceMatcher.ratio
// — no fuzzy-string-matching library exists anywhere in the example pack
// (see the Collateral Agent's identical justification in DESIGN.md for
// its own nearest-taxonomy-match use of the same technique).
func similarityRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	dist := levenshtein(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(dist)/float64(maxLen)
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)

	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			min := del
			if ins < min {
				min = ins
			}
			if sub < min {
				min = sub
			}
			curr[j] = min
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}
