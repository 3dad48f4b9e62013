package script

import (
	"strings"
	"testing"
	"time"

	"csa-margin-engine/pkg/models"
)

func sampleMarginCall() models.MarginCall {
	return models.MarginCall{
		Action:          models.ActionCall,
		Amount:          750_000,
		Currency:        "USD",
		CalculationDate: time.Date(2026, 3, 1, 17, 0, 0, 0, time.UTC),
		NetExposure:     2_000_000,
		Threshold:       1_000_000,
		PostedCollateralItems: []models.CollateralItem{
			{CollateralType: models.CollateralCashUSD, MarketValue: 250_000, HaircutRate: 0, Currency: "USD"},
		},
		EffectiveCollateral:    250_000,
		ExposureAboveThreshold: 1_000_000,
		CalculationSteps: []models.CalculationStep{
			{StepNumber: 1, Description: "Compute net exposure", Result: 2_000_000, SourceClause: "CSA Paragraph 3"},
			{StepNumber: 2, Description: "Compare to threshold", Result: 1_000_000, SourceClause: "CSA Paragraph 13"},
		},
		CounterpartyName: "ABC Bank",
	}
}

func sampleTerms() models.CSATerms {
	return models.CSATerms{
		PartyAName:                  "ABC Bank",
		PartyBName:                  "XYZ Corp",
		PartyAThreshold:             1_000_000,
		PartyBThreshold:             500_000,
		PartyAMinimumTransferAmount: 250_000,
		Rounding:                    10_000,
		Currency:                    "USD",
	}
}

func TestGenerateRejectsMarginCallWithNoSteps(t *testing.T) {
	g := NewExplanationGenerator(nil)
	_, err := g.Generate(nil, models.MarginCall{}, models.CSATerms{}, "doc_1", ClauseIndex{})
	if err == nil {
		t.Fatalf("expected an error for a margin call with no calculation steps")
	}
}

func TestBuildExplanationPromptIncludesStepsAndCollateral(t *testing.T) {
	prompt := buildExplanationPrompt(sampleMarginCall(), sampleTerms(), ClauseIndex{})
	if !strings.Contains(prompt, "Compute net exposure") {
		t.Fatalf("expected prompt to include calculation step descriptions")
	}
	if !strings.Contains(prompt, "CSA Paragraph 13") {
		t.Fatalf("expected prompt to include source clause labels")
	}
	if !strings.Contains(prompt, "cash_usd") && !strings.Contains(strings.ToLower(prompt), "cash") {
		t.Fatalf("expected prompt to include posted collateral details")
	}
}

func TestBuildClauseContextOmitsCitationsWhenAbsent(t *testing.T) {
	if got := buildClauseContext(ClauseIndex{}); got != "" {
		t.Fatalf("expected empty clause context for an empty index, got %q", got)
	}
}

func TestBuildClauseContextQuotesExtractedText(t *testing.T) {
	extraction := models.Extraction{ClausesToCollect: map[string]string{"threshold": "Threshold means zero."}}
	idx := NewClauseIndex(extraction)
	got := buildClauseContext(idx)
	if !strings.Contains(got, "Threshold means zero.") {
		t.Fatalf("expected verbatim clause text in context, got %q", got)
	}
}

func TestClauseIndexLookupMissingKey(t *testing.T) {
	idx := NewClauseIndex(models.Extraction{ClausesToCollect: map[string]string{"threshold": "text"}})
	if _, ok := idx.Lookup("rounding"); ok {
		t.Fatalf("expected no clause text for an unextracted key")
	}
	if text, ok := idx.Lookup("threshold"); !ok || text != "text" {
		t.Fatalf("expected extracted clause text to be returned, got %q ok=%v", text, ok)
	}
}

func TestExtractGoSourceStripsFence(t *testing.T) {
	resp := "Here you go:\n```go\npackage auditscript\n\nconst x = 1\n```\nHope that helps."
	got := extractGoSource(resp)
	if !strings.HasPrefix(got, "package auditscript") {
		t.Fatalf("expected fence-stripped source to start with package clause, got %q", got)
	}
}

func TestExtractGoSourcePassesThroughPlainSource(t *testing.T) {
	resp := "package auditscript\n\nconst x = 1\n"
	if got := extractGoSource(resp); got != strings.TrimSpace(resp) {
		t.Fatalf("expected plain source to pass through unchanged, got %q", got)
	}
}

func TestValidateGoSyntaxAcceptsValidSource(t *testing.T) {
	source := "package auditscript\n\nconst threshold = 1000000\n"
	if err := validateGoSyntax(source); err != nil {
		t.Fatalf("expected valid Go source to pass validation, got %v", err)
	}
}

func TestValidateGoSyntaxRejectsInvalidSource(t *testing.T) {
	source := "package auditscript\n\nfunc bad( {\n"
	if err := validateGoSyntax(source); err == nil {
		t.Fatalf("expected invalid Go source to fail validation")
	}
}

func TestValidateGoSyntaxWrapsBareFragment(t *testing.T) {
	source := "const x = 1\nconst y = 2\n"
	if err := validateGoSyntax(source); err != nil {
		t.Fatalf("expected a bare const fragment to be wrapped and validated, got %v", err)
	}
}

func TestCounterpartyNameFallsBackToPartyA(t *testing.T) {
	margin := models.MarginCall{}
	terms := models.CSATerms{PartyAName: "ABC Bank"}
	if got := counterpartyName(margin, terms); got != "ABC Bank" {
		t.Fatalf("expected fallback to party A name, got %q", got)
	}
}

func TestCounterpartyNameDefaultsWhenBothEmpty(t *testing.T) {
	if got := counterpartyName(models.MarginCall{}, models.CSATerms{}); got != "Unknown Counterparty" {
		t.Fatalf("expected default counterparty name, got %q", got)
	}
}

func TestBuildAuditScriptPromptIncludesTermsAndDisclaimer(t *testing.T) {
	prompt := buildAuditScriptPrompt(sampleTerms(), nil, "doc_1", ClauseIndex{})
	if !strings.Contains(prompt, "DOCUMENTATION") {
		t.Fatalf("expected prompt to disclaim the script as documentation, not executable code")
	}
	if !strings.Contains(prompt, "ABC Bank") {
		t.Fatalf("expected prompt to include party names")
	}
}
