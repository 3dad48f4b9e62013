package script

import (
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"strings"
	"time"

	"csa-margin-engine/pkg/core/agent"
	"csa-margin-engine/pkg/models"
)

const auditScriptSystemPrompt = `You are generating transparent, documentation-format Go source that shows CSA margin-call calculation logic with clause citations. The code will never be executed; it exists purely as an audit artifact. Respond with Go source only, no prose before or after.`

// AuditScriptGenerator produces an annotated Go source listing that
// documents how one margin call was derived, citing CSA clauses and
// noting where this CSA's terms vary from a "greatest of" default
// pattern. Grounded on original_source's ScriptGeneratorAgent, adapted
// from Python-documentation-as-output to Go-documentation-as-output
// (idiomatic for the language this engine is actually written in) and
// validated with go/parser instead of Python's ast.parse.
type AuditScriptGenerator struct {
	base *agent.Base
}

// NewAuditScriptGenerator constructs a generator routed through mgr.
func NewAuditScriptGenerator(mgr *agent.Manager) *AuditScriptGenerator {
	return &AuditScriptGenerator{base: agent.NewBase(AgentName, mgr)}
}

// Generate calls the deep model to write an annotated Go listing,
// validates it parses as Go, and returns the source text. Returns an
// error if the model's reply is not syntactically valid Go after fence
// stripping — callers should treat that as a soft failure (log and skip
// the audit script, never block margin-call delivery on it).
func (g *AuditScriptGenerator) Generate(ctx context.Context, terms models.CSATerms, margin *models.MarginCall, documentID string, clauses ClauseIndex) (string, error) {
	prompt := buildAuditScriptPrompt(terms, margin, documentID, clauses)

	raw, err := g.base.CallModelRaw(ctx, models.ModelDeep, 0.3, auditScriptSystemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("generate audit script: %w", err)
	}

	source := extractGoSource(raw)

	if err := validateGoSyntax(source); err != nil {
		return "", fmt.Errorf("generated audit script has invalid Go syntax: %w", err)
	}

	return source, nil
}

// buildAuditScriptPrompt ports script_generator_agent.py's
// _build_generation_prompt, scoped to CSATerms+MarginCall (no
// FormulaPatternResult — see package doc).
func buildAuditScriptPrompt(terms models.CSATerms, margin *models.MarginCall, documentID string, clauses ClauseIndex) string {
	var sample strings.Builder
	if margin != nil {
		fmt.Fprintf(&sample, `
# Sample Calculation Result:
Net Exposure: %.2f
Effective Collateral: %.2f
Threshold: %.2f
Exposure Above Threshold: %.2f
Action: %s
Amount: %.2f
`, margin.NetExposure, margin.EffectiveCollateral, margin.Threshold, margin.ExposureAboveThreshold, margin.Action, margin.Amount)
	}

	return fmt.Sprintf(`You are generating a transparent audit calculation script for a CSA margin calculation.

This script is DOCUMENTATION - it is never executed. Its purpose is to show:
1. Step-by-step calculation logic
2. CSA clause citations with page numbers, ONLY where actual clause text was extracted (never fabricate a reference)
3. Pattern-aware annotations (e.g. greatest-of vs sum-of threshold structures)

# Document Information:
Document ID: %s
Generation Date: %s

# CSA Parties:
Party A: %s
Party B: %s

# Threshold Structure:
Party A Threshold: %.2f
Party B Threshold: %.2f

# MTA Rules:
Party A MTA: %.2f
Party B MTA: %.2f
Rounding: %.2f
%s
%s

# TASK:
Generate a well-documented Go file with the following structure:

1. A package comment block naming the document id, parties, and generation date, with a disclaimer that this is documentation format, never executed.
2. Constants for party names, thresholds, MTAs, and rounding.
3. A function calculateMarginRequirement(netExposure, postedCollateral float64) documenting the five-step calculation (net exposure, threshold comparison, MTA filter, rounding, action decision) with inline comments citing CSA clauses where actual clause text was provided above.
4. A closing comment summarizing which patterns this CSA uses and how another CSA might differ.

REQUIREMENTS:
1. MUST be valid, parseable Go syntax.
2. Do not fabricate clause or paragraph references; omit a citation rather than invent one.
3. Return ONLY the Go source, no explanation before or after, no markdown fence.`,
		documentID, time.Now().UTC().Format(time.RFC3339),
		nonEmpty(terms.PartyAName), nonEmpty(terms.PartyBName),
		terms.PartyAThreshold, terms.PartyBThreshold,
		terms.PartyAMinimumTransferAmount, terms.PartyBMinimumTransferAmount, terms.Rounding,
		sample.String(), buildClauseContext(clauses))
}

// extractGoSource strips a single outer ```go ... ``` or ``` ... ```
// fence, tolerating a bare response that is already plain source —
// ports script_generator_agent.py's _extract_code.
func extractGoSource(response string) string {
	code := response
	if strings.Contains(code, "```go") {
		parts := strings.SplitN(code, "```go", 2)
		if len(parts) > 1 {
			code = strings.SplitN(parts[1], "```", 2)[0]
		}
	} else if strings.Contains(code, "```") {
		parts := strings.SplitN(code, "```", 3)
		if len(parts) >= 3 {
			code = parts[1]
		}
	}
	return strings.TrimSpace(code)
}

// validateGoSyntax ports script_generator_agent.py's _validate_syntax,
// using go/parser in place of Python's ast.parse. A bare statement list
// without a package clause is wrapped so fragment-style replies still
// validate.
func validateGoSyntax(source string) error {
	fset := token.NewFileSet()
	if strings.HasPrefix(strings.TrimSpace(source), "package ") {
		_, err := parser.ParseFile(fset, "audit_script.go", source, parser.AllErrors)
		return err
	}
	wrapped := "package auditscript\n\n" + source
	_, err := parser.ParseFile(fset, "audit_script.go", wrapped, parser.AllErrors)
	return err
}
