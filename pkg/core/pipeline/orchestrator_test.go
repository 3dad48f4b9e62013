package pipeline

import (
	"context"
	"testing"

	"csa-margin-engine/pkg/core/jobs"
	"csa-margin-engine/pkg/core/normalize"
	"csa-margin-engine/pkg/core/store"
	"csa-margin-engine/pkg/models"
)

// fakeDocumentAI returns canned parse/extract results without ever
// touching a network, so Run can be exercised deterministically.
type fakeDocumentAI struct {
	parseErr   error
	extractErr error
	parseCalls int
}

func (f *fakeDocumentAI) ParseDocument(ctx context.Context, documentID string, pdf []byte) (models.ParsedDoc, error) {
	f.parseCalls++
	if f.parseErr != nil {
		return models.ParsedDoc{}, f.parseErr
	}
	return models.ParsedDoc{
		DocumentID: documentID,
		Markdown:   "CSA between ABC Bank and XYZ Corp.",
		PageCount:  3,
	}, nil
}

func (f *fakeDocumentAI) ExtractFields(ctx context.Context, doc models.ParsedDoc) (models.Extraction, error) {
	if f.extractErr != nil {
		return models.Extraction{}, f.extractErr
	}
	return models.Extraction{
		DocumentID: doc.DocumentID,
		AgreementInfo: models.AgreementInfo{
			PartyAName: "ABC Bank",
			PartyBName: "XYZ Corp",
		},
		CoreMarginTerms: models.CoreMarginTerms{
			PartyAThreshold:             "1000000",
			PartyBThreshold:             "500000",
			PartyAMinimumTransferAmount: "100000",
			PartyBMinimumTransferAmount: "100000",
			Rounding:                    "10000",
			BaseCurrency:                "USD",
		},
	}, nil
}

// fakeNormalizer returns a fixed, non-empty Result so Map has something to
// work with, bypassing live agent/LLM calls entirely.
type fakeNormalizer struct{}

func (f *fakeNormalizer) Normalize(ctx context.Context, extraction models.Extraction, markdown string) normalize.Result {
	item := models.NormalizedCollateral{
		StandardizedType:        models.CollateralCashUSD,
		BaseDescription:         "Cash",
		RatingEvent:             "Base Valuation Percentage",
		FlatValuationPercentage: floatPtr(1.0),
		FlatHaircut:             floatPtr(0.0),
		Confidence:              0.95,
	}
	return normalize.Result{
		CollateralResult:     models.AgentResult{AgentName: "collateral", Confidence: 0.95},
		TemporalResult:       models.AgentResult{AgentName: "temporal", Confidence: 0.9},
		CurrencyResult:       models.AgentResult{AgentName: "currency", Confidence: 0.95},
		Validation:           models.ValidationReport{Passed: true},
		OverallConfidence:    0.93,
		RequiresHumanReview:  false,
		NormalizedCollateral: []models.NormalizedCollateral{item},
		RatingEvents:         []string{"Base Valuation Percentage"},
	}
}

func floatPtr(f float64) *float64 { return &f }

func newTestOrchestrator(t *testing.T) (*Orchestrator, *jobs.Manager, *fakeDocumentAI) {
	t.Helper()
	s, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	if err := s.SavePDF("doc_1", []byte("%PDF-1.4\n...")); err != nil {
		t.Fatalf("SavePDF: %v", err)
	}
	jm := jobs.New(s)
	docAI := &fakeDocumentAI{}
	orch := New(s, jm, docAI, &fakeNormalizer{})
	return orch, jm, docAI
}

func TestRunCompletesPipelineWithoutCalculate(t *testing.T) {
	orch, jm, _ := newTestOrchestrator(t)
	if _, err := jm.CreateJob("job_1", "doc_1", nil); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	job, err := orch.Run(context.Background(), "job_1", "doc_1", Options{NormalizeMethod: MethodMultiAgent})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job.Status != models.JobCompleted {
		t.Fatalf("expected job to complete, got status %q (errors: %+v)", job.Status, job.Errors)
	}
	if job.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", job.Progress)
	}
	if _, ok := job.Results["csa_terms_id"]; !ok {
		t.Fatalf("expected csa_terms_id in job results, got %+v", job.Results)
	}
	if _, ok := job.Results["margin_call"]; ok {
		t.Fatalf("did not expect a margin_call when calculate_margin was not requested")
	}
}

func TestRunWithCalculateMarginProducesMarginCall(t *testing.T) {
	orch, jm, _ := newTestOrchestrator(t)
	if _, err := jm.CreateJob("job_2", "doc_1", nil); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	portfolioValue := 3_000_000.0
	job, err := orch.Run(context.Background(), "job_2", "doc_1", Options{
		NormalizeMethod: MethodMultiAgent,
		CalculateMargin: true,
		PortfolioValue:  &portfolioValue,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job.Status != models.JobCompleted {
		t.Fatalf("expected job to complete, got status %q (errors: %+v)", job.Status, job.Errors)
	}
	if _, ok := job.Results["margin_call"]; !ok {
		t.Fatalf("expected a margin_call in job results, got %+v", job.Results)
	}
}

func TestRunRejectsInvalidNormalizeMethod(t *testing.T) {
	orch, jm, _ := newTestOrchestrator(t)
	if _, err := jm.CreateJob("job_3", "doc_1", nil); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	job, err := orch.Run(context.Background(), "job_3", "doc_1", Options{NormalizeMethod: "bogus"})
	if err == nil {
		t.Fatalf("expected an error for an invalid normalize_method")
	}
	if job.Status != models.JobFailed {
		t.Fatalf("expected job to be marked failed, got %q", job.Status)
	}
}

func TestRunRejectsCalculateMarginWithoutPortfolioValue(t *testing.T) {
	orch, jm, _ := newTestOrchestrator(t)
	if _, err := jm.CreateJob("job_4", "doc_1", nil); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	_, err := orch.Run(context.Background(), "job_4", "doc_1", Options{NormalizeMethod: MethodMultiAgent, CalculateMargin: true})
	if err == nil {
		t.Fatalf("expected an error when calculate_margin is set without portfolio_value")
	}
}

func TestRunFailsWhenDocumentMissing(t *testing.T) {
	orch, jm, _ := newTestOrchestrator(t)
	if _, err := jm.CreateJob("job_5", "doc_missing", nil); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	job, err := orch.Run(context.Background(), "job_5", "doc_missing", Options{NormalizeMethod: MethodMultiAgent})
	if err == nil {
		t.Fatalf("expected an error for a document with no uploaded PDF")
	}
	if job.Status != models.JobFailed {
		t.Fatalf("expected job to be marked failed, got %q", job.Status)
	}
	if len(job.Errors) == 0 || job.Errors[0].Step != string(models.StepParse) {
		t.Fatalf("expected a parse-step error recorded, got %+v", job.Errors)
	}
}

func TestRunRetriesExternalServiceErrorOnce(t *testing.T) {
	orch, jm, docAI := newTestOrchestrator(t)
	docAI.parseErr = errTransient{}
	if _, err := jm.CreateJob("job_6", "doc_1", nil); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	job, err := orch.Run(context.Background(), "job_6", "doc_1", Options{NormalizeMethod: MethodMultiAgent})
	if err == nil {
		t.Fatalf("expected parse to still fail after one retry")
	}
	if docAI.parseCalls != 2 {
		t.Fatalf("expected exactly one retry (2 total calls), got %d", docAI.parseCalls)
	}
	if job.Status != models.JobFailed {
		t.Fatalf("expected job to be marked failed, got %q", job.Status)
	}
}

type errTransient struct{}

func (errTransient) Error() string { return "simulated transient document-AI failure" }

func TestCalculateFromPortfolioValueUsesPartyAPerspective(t *testing.T) {
	terms := models.CSATerms{
		PartyAThreshold:             1_000_000,
		PartyAMinimumTransferAmount: 100_000,
		Rounding:                    10_000,
		Currency:                    "USD",
		PartyBName:                  "XYZ Corp",
	}
	margin, err := calculateFromPortfolioValue(terms, 3_000_000)
	if err != nil {
		t.Fatalf("calculateFromPortfolioValue: %v", err)
	}
	if margin.Action != models.ActionCall {
		t.Fatalf("expected a CALL action, got %s", margin.Action)
	}
	if margin.Amount != 2_000_000 {
		t.Fatalf("expected amount 2,000,000, got %.2f", margin.Amount)
	}
}
