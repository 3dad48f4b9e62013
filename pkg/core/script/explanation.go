// Package script implements the Explanation/Script Generator spec.md §2
// names with a 4% share: an LLM narrative with clause citations
// (MarginCallExplanation) and an annotated, documentation-only audit script.
// Grounded on original_source's services/llm_service.py
// (ExplanationGeneratorService) and services/agents/script_generator_agent.py,
// scoped down to take only CSATerms and MarginCall — the FormulaPatternResult/
// Clause Agent dependency chain the original also threads through both
// services is dropped as an unnecessary scope expansion (see DESIGN.md);
// verbatim clause text is still available through ClauseIndex when present.
package script

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"csa-margin-engine/pkg/core/agent"
	"csa-margin-engine/pkg/core/apierr"
	"csa-margin-engine/pkg/models"
)

// AgentName is the agentType key this generator registers under with
// agent.Manager's per-agent provider overrides.
const AgentName = "script_generator"

const explanationSystemPrompt = `You are a financial expert specializing in OTC derivatives collateral management and ISDA Credit Support Annex (CSA) agreements.

Your task is to generate clear, professional explanations of margin call calculations that:
1. Explain WHY a margin call was made (or not made)
2. Reference specific CSA clauses only when actual clause text has been provided
3. Create an audit trail showing the decision flow
4. Use clear, professional language suitable for operations teams

CRITICAL: Use ONLY information provided. NEVER fabricate clause numbers, paragraph references, or section citations. Better to omit a citation than invent one.

You must respond with ONLY valid JSON in the specified format, no other text.`

// ExplanationGenerator produces a MarginCallExplanation from a completed
// MarginCall and the CSATerms that governed it.
type ExplanationGenerator struct {
	base *agent.Base
}

// NewExplanationGenerator constructs a generator routed through mgr.
func NewExplanationGenerator(mgr *agent.Manager) *ExplanationGenerator {
	return &ExplanationGenerator{base: agent.NewBase(AgentName, mgr)}
}

// Generate builds the explanation prompt, calls the deep model, and
// decodes the JSON reply into a MarginCallExplanation. clauses may be the
// zero ClauseIndex when no verbatim clause text was extracted for this
// document.
func (g *ExplanationGenerator) Generate(ctx context.Context, margin models.MarginCall, terms models.CSATerms, documentID string, clauses ClauseIndex) (models.MarginCallExplanation, error) {
	if len(margin.CalculationSteps) == 0 {
		return models.MarginCallExplanation{}, apierr.ValidationFailure("margin call must include calculation steps to generate an explanation")
	}

	prompt := buildExplanationPrompt(margin, terms, clauses)

	raw, err := g.base.CallModel(ctx, models.ModelDeep, explanationSystemPrompt, prompt)
	if err != nil {
		return models.MarginCallExplanation{}, fmt.Errorf("generate explanation: %w", err)
	}

	var explanation models.MarginCallExplanation
	encoded, err := json.Marshal(raw)
	if err != nil {
		return models.MarginCallExplanation{}, fmt.Errorf("generate explanation: re-encode LLM reply: %w", err)
	}
	if err := json.Unmarshal(encoded, &explanation); err != nil {
		return models.MarginCallExplanation{}, fmt.Errorf("generate explanation: decode LLM reply: %w", err)
	}

	explanation.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	explanation.LLMModel = string(models.ModelDeep)
	explanation.DocumentID = documentID
	explanation.MarginCallAction = string(margin.Action)
	explanation.MarginCallAmount = margin.Amount
	explanation.CounterpartyName = counterpartyName(margin, terms)

	return explanation, nil
}

func counterpartyName(margin models.MarginCall, terms models.CSATerms) string {
	if margin.CounterpartyName != "" {
		return margin.CounterpartyName
	}
	if terms.PartyAName != "" {
		return terms.PartyAName
	}
	return "Unknown Counterparty"
}

// buildExplanationPrompt ports llm_service.py's _build_explanation_prompt:
// calculation steps, posted collateral, CSA terms, and source-page
// references, followed by the required JSON output shape.
func buildExplanationPrompt(margin models.MarginCall, terms models.CSATerms, clauses ClauseIndex) string {
	var steps strings.Builder
	for _, step := range margin.CalculationSteps {
		fmt.Fprintf(&steps, "**Step %d: %s**\n", step.StepNumber, step.Description)
		if step.Formula != "" {
			fmt.Fprintf(&steps, "  Formula: %s\n", step.Formula)
		}
		inputsJSON, _ := json.MarshalIndent(step.Inputs, "  ", "  ")
		fmt.Fprintf(&steps, "  Inputs: %s\n", inputsJSON)
		fmt.Fprintf(&steps, "  Result: $%.2f\n", step.Result)
		if step.SourceClause != "" {
			fmt.Fprintf(&steps, "  CSA Clause: %s\n", step.SourceClause)
		}
	}

	var collateral strings.Builder
	for _, item := range margin.PostedCollateralItems {
		fmt.Fprintf(&collateral, "- %s: Market Value $%.2f, Haircut %.1f%%, Effective Value $%.2f\n",
			item.CollateralType, item.MarketValue, item.HaircutRate*100, item.EffectiveValue())
	}
	if collateral.Len() == 0 {
		collateral.WriteString("No collateral posted\n")
	}

	var csaText strings.Builder
	fmt.Fprintf(&csaText, "**CSA Terms Summary**\n")
	fmt.Fprintf(&csaText, "- Party A: %s\n- Party B: %s\n", nonEmpty(terms.PartyAName), nonEmpty(terms.PartyBName))
	fmt.Fprintf(&csaText, "- Counterparty (from calculation): %s\n", nonEmpty(margin.CounterpartyName))
	fmt.Fprintf(&csaText, "- Party A Threshold: $%.2f\n- Party B Threshold: $%.2f\n", terms.PartyAThreshold, terms.PartyBThreshold)
	fmt.Fprintf(&csaText, "- Party A MTA: $%.2f\n- Party B MTA: $%.2f\n", terms.PartyAMinimumTransferAmount, terms.PartyBMinimumTransferAmount)
	fmt.Fprintf(&csaText, "- Party A Independent Amount: $%.2f\n- Party B Independent Amount: $%.2f\n", terms.PartyAIndependentAmount, terms.PartyBIndependentAmount)
	fmt.Fprintf(&csaText, "- Rounding Increment: $%.2f\n- Currency: %s\n", terms.Rounding, terms.Currency)

	if len(terms.SourcePages) > 0 {
		csaText.WriteString("\n**Source Document References:**\n")
		for field, page := range terms.SourcePages {
			fmt.Fprintf(&csaText, "- %s: Page %d\n", field, page)
		}
	}

	clauseContext := buildClauseContext(clauses)

	return fmt.Sprintf(`Generate a comprehensive explanation for the following margin call calculation:

# Margin Call Result
- Action: %s
- Amount: $%.2f
- Currency: %s
- Calculation Date: %s

# Key Figures
- Net Exposure: $%.2f
- Threshold: $%.2f
- Effective Collateral (After Haircuts): $%.2f
- Exposure Above Threshold: $%.2f

# Posted Collateral Details
%s
%s
%s

# Calculation Steps
%s

---

Return a JSON object with this exact structure:
{
  "narrative": "A comprehensive 3-5 paragraph explanation in professional language. Quote actual clause text verbatim if provided above; otherwise explain the calculation logic without fabricating citations.",
  "key_factors": ["3-5 concise statements of what drove this result"],
  "calculation_breakdown": [{"step_number": 1, "step_name": "...", "explanation": "...", "csa_clause_reference": null, "source_page": null, "calculation": "...", "result": "..."}],
  "audit_trail": [{"timestamp": "ISO 8601", "event": "...", "details": "..."}],
  "citations": {"clause label": null},
  "risk_assessment": "brief assessment",
  "next_steps": "recommended operations action"
}`,
		margin.Action, margin.Amount, margin.Currency, margin.CalculationDate.Format("2006-01-02 15:04:05 UTC"),
		margin.NetExposure, margin.Threshold, margin.EffectiveCollateral, margin.ExposureAboveThreshold,
		collateral.String(), csaText.String(), clauseContext, steps.String())
}

func nonEmpty(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

// buildClauseContext surfaces verbatim clause text when present, matching
// the original's rule that fabricated citations are worse than none.
func buildClauseContext(clauses ClauseIndex) string {
	if len(clauses.clauses) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("# Actual CSA Clause Text\n\n")
	for key, text := range clauses.clauses {
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "**%s:**\n\"%s\"\n\n", key, text)
	}
	return b.String()
}
