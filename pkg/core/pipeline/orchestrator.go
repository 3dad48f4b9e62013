// Package pipeline implements the Pipeline Orchestrator spec.md §4.10
// describes: it sequences the external parse/extract calls with
// normalization, mapping, and an optional calculation step, persisting
// each stage's artifact under a stable id (the normalized collateral table
// only when SaveIntermediateSteps is set) and advancing a Job's
// progress as it goes. Grounded on original_source's
// services/pipeline_orchestrator.py — same five stages, same fixed
// progress checkpoints, same job-update-after-each-stage shape.
package pipeline

import (
	"context"
	"time"

	"csa-margin-engine/pkg/core/apierr"
	"csa-margin-engine/pkg/core/calc"
	"csa-margin-engine/pkg/core/jobs"
	"csa-margin-engine/pkg/core/logx"
	"csa-margin-engine/pkg/core/mapper"
	"csa-margin-engine/pkg/core/normalize"
	"csa-margin-engine/pkg/core/store"
	"csa-margin-engine/pkg/models"
)

var log = logx.New("pipeline")

// NormalizeMethod selects between the multi-agent normalization engine and
// a lighter single-pass route. spec.md §6 names both as a job option;
// "simple" is accepted but routed to the same Normalization Orchestrator
// (see DESIGN.md — the original's separate simple normalizer is itself an
// LLM-backed service with no deterministic, non-LLM fallback to port, and
// spec.md §2's component table allocates no separate share to it).
type NormalizeMethod string

const (
	MethodSimple     NormalizeMethod = "simple"
	MethodMultiAgent NormalizeMethod = "multi-agent"
)

// Options bundles the job-creation options spec.md §6's
// `/documents/process/{document_id}` endpoint accepts.
type Options struct {
	NormalizeMethod       NormalizeMethod
	SaveIntermediateSteps bool
	CalculateMargin       bool
	PortfolioValue        *float64
}

// Validate applies the same checks original_source's ProcessOptions
// constructor does.
func (o Options) Validate() error {
	if o.NormalizeMethod != MethodSimple && o.NormalizeMethod != MethodMultiAgent {
		return apierr.InvalidInput("invalid normalize_method %q: must be 'simple' or 'multi-agent'", o.NormalizeMethod)
	}
	if o.CalculateMargin && o.PortfolioValue == nil {
		return apierr.InvalidInput("portfolio_value is required when calculate_margin is true")
	}
	return nil
}

// Normalizer is the seam between the Pipeline Orchestrator and the
// Normalization Orchestrator — narrowed to an interface (rather than a
// direct *normalize.Orchestrator dependency) so tests can substitute a
// canned result instead of routing through live agent.Manager/LLM calls,
// per spec.md §9's "explicit injection" design note.
type Normalizer interface {
	Normalize(ctx context.Context, extraction models.Extraction, markdown string) normalize.Result
}

// Orchestrator wires the Job Manager, the artifact Store, the external
// document-AI collaborator, and every in-process stage (normalize, map,
// calculate) into one sequenced run.
type Orchestrator struct {
	store      *store.Store
	jobManager *jobs.Manager
	docAI      DocumentAI
	normalizer Normalizer
}

// New constructs an Orchestrator. docAI is the caller's document-AI client
// implementation; normalizer is pre-wired with an agent.Manager by the
// caller (cmd/api, cmd/pipeline).
func New(s *store.Store, jm *jobs.Manager, docAI DocumentAI, normalizer Normalizer) *Orchestrator {
	return &Orchestrator{store: s, jobManager: jm, docAI: docAI, normalizer: normalizer}
}

// cancelled reports whether the job has been marked CANCELLED since the
// orchestrator last checked — the cooperative-cancellation poll spec.md §5
// and §9 describe: advisory between stages, never preempting an in-flight
// call.
func (o *Orchestrator) cancelled(jobID string) bool {
	job, found, err := o.jobManager.GetJob(jobID)
	if err != nil || !found {
		return false
	}
	return job.Status == models.JobCancelled
}

// retryOnce re-issues fn a single time if its first attempt fails with an
// ExternalServiceError, matching spec.md §7's "retried at most once by the
// orchestrator for idempotent stages" rule. Non-ExternalServiceError
// failures (InvalidInput, PreconditionUnmet, ...) are never retried — they
// are not transient.
func retryOnce(stepName string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	apiErr, ok := err.(*apierr.Error)
	if !ok || apiErr.Kind != apierr.KindExternalService {
		return err
	}
	log.Warnf("%s failed once (%v), retrying", stepName, err)
	return fn()
}

// fail records the terminal FAILED state with the step/message pair
// spec.md §7 requires, then returns the original error for the caller to
// propagate.
func (o *Orchestrator) fail(jobID string, step models.JobStep, err error) error {
	failed := models.JobFailed
	if _, updateErr := o.jobManager.UpdateJob(jobID, jobs.Update{
		Status: &failed,
		Error:  &models.JobError{Step: string(step), Message: err.Error()},
	}); updateErr != nil {
		log.Errorf("job %s: failed to record failure: %v", jobID, updateErr)
	}
	log.Errorf("job %s: step %s failed: %v", jobID, step, err)
	return err
}

// Run executes the full PARSE -> EXTRACT -> NORMALIZE -> MAP -> [CALCULATE]
// -> DONE pipeline for one job, persisting each stage's artifact (the
// normalized collateral table only when SaveIntermediateSteps is set) and
// advancing progress to the fixed checkpoints spec.md §4.10 assigns. It
// returns the terminal Job (COMPLETED, FAILED or CANCELLED).
func (o *Orchestrator) Run(ctx context.Context, jobID, documentID string, opts Options) (job models.Job, err error) {
	// Failure paths below return the zero Job; hand back the job as the
	// Job Manager last recorded it (FAILED) instead.
	defer func() {
		if err != nil && job.JobID == "" {
			if current, found, getErr := o.jobManager.GetJob(jobID); getErr == nil && found {
				job = current
			}
		}
	}()

	if err := opts.Validate(); err != nil {
		return models.Job{}, o.fail(jobID, models.StepParse, err)
	}

	start := time.Now()
	processing := models.JobProcessing
	parseStep := models.StepParse
	if _, err := o.jobManager.UpdateJob(jobID, jobs.Update{Status: &processing, CurrentStep: &parseStep, Progress: intPtr(0)}); err != nil {
		return models.Job{}, err
	}

	// --- Stage 1: Parse ---
	pdf, found, err := o.store.LoadPDF(documentID)
	if err != nil {
		return models.Job{}, o.fail(jobID, models.StepParse, apierr.ExternalService(err))
	}
	if !found {
		return models.Job{}, o.fail(jobID, models.StepParse, apierr.MissingArtifact("pdf", documentID, "upload the document before processing it"))
	}

	var doc models.ParsedDoc
	stageStart := time.Now()
	if err := retryOnce("parse", func() error {
		var parseErr error
		doc, parseErr = o.docAI.ParseDocument(ctx, documentID, pdf)
		if parseErr != nil {
			return apierr.ExternalService(parseErr)
		}
		return nil
	}); err != nil {
		return models.Job{}, o.fail(jobID, models.StepParse, err)
	}
	if doc.ParseID == "" {
		doc.ParseID = models.NewArtifactID("parse", documentID)
	}
	if doc.DocumentID == "" {
		doc.DocumentID = documentID
	}
	// Parsed doc persistence is unconditional — later stages require it.
	if err := o.store.Save(store.KindParsed, doc.ParseID, doc); err != nil {
		return models.Job{}, o.fail(jobID, models.StepParse, apierr.ExternalService(err))
	}
	log.OK("parsed document %s -> %s (%d chunks)", documentID, doc.ParseID, len(doc.Chunks))

	extractStep := models.StepExtract
	if _, err := o.jobManager.UpdateJob(jobID, jobs.Update{
		CurrentStep: &extractStep,
		Progress:    intPtr(models.ProgressForStep[models.StepParse]),
		Results:     map[string]interface{}{"parse_id": doc.ParseID},
		StepTiming:  map[string]float64{"parse": time.Since(stageStart).Seconds()},
	}); err != nil {
		return models.Job{}, err
	}

	if o.cancelled(jobID) {
		return o.jobOrEmpty(jobID)
	}

	// --- Stage 2: Extract ---
	var extraction models.Extraction
	stageStart = time.Now()
	if err := retryOnce("extract", func() error {
		var extractErr error
		extraction, extractErr = o.docAI.ExtractFields(ctx, doc)
		if extractErr != nil {
			return apierr.ExternalService(extractErr)
		}
		return nil
	}); err != nil {
		return models.Job{}, o.fail(jobID, models.StepExtract, err)
	}
	if extraction.ExtractionID == "" {
		extraction.ExtractionID = models.NewArtifactID("extract", doc.ParseID)
	}
	if extraction.DocumentID == "" {
		extraction.DocumentID = documentID
	}
	// Extraction persistence is unconditional — normalize/map require it.
	if err := o.store.Save(store.KindExtractions, extraction.ExtractionID, extraction); err != nil {
		return models.Job{}, o.fail(jobID, models.StepExtract, apierr.ExternalService(err))
	}
	log.OK("extracted %s -> %s", doc.ParseID, extraction.ExtractionID)

	normalizeStep := models.StepNormalize
	if _, err := o.jobManager.UpdateJob(jobID, jobs.Update{
		CurrentStep: &normalizeStep,
		Progress:    intPtr(models.ProgressForStep[models.StepExtract]),
		Results:     map[string]interface{}{"extraction_id": extraction.ExtractionID},
		StepTiming:  map[string]float64{"extract": time.Since(stageStart).Seconds()},
	}); err != nil {
		return models.Job{}, err
	}

	if o.cancelled(jobID) {
		return o.jobOrEmpty(jobID)
	}

	// --- Stage 3: Normalize ---
	// normalize_method is recorded for provenance; both routes currently
	// run the same multi-agent orchestrator (see Options.NormalizeMethod
	// doc comment).
	stageStart = time.Now()
	normResult := o.normalizer.Normalize(ctx, extraction, doc.Markdown)

	normalizedTable := models.NormalizedCollateralTable{
		DocumentID:         models.NewArtifactID("normalized", extraction.ExtractionID),
		ExtractionID:       extraction.ExtractionID,
		RatingEvents:       normResult.RatingEvents,
		CollateralItems:    normResult.NormalizedCollateral,
		NormalizedAt:       time.Now().UTC().Format(time.RFC3339),
		NormalizationModel: string(opts.NormalizeMethod),
		NormalizationMetadata: map[string]interface{}{
			"overall_confidence":    normResult.OverallConfidence,
			"requires_human_review": normResult.RequiresHumanReview,
			"agents_used":           normResult.Summary.AgentsUsed,
			"total_processing_time": normResult.Summary.TotalProcessingTimeSeconds,
		},
	}

	if opts.SaveIntermediateSteps {
		if err := o.store.Save(store.KindNormalizedMultiAgent, normalizedTable.DocumentID, normalizedTable); err != nil {
			return models.Job{}, o.fail(jobID, models.StepNormalize, apierr.ExternalService(err))
		}
	}
	log.OK("normalized %s: confidence=%.2f human_review=%v", extraction.ExtractionID, normResult.OverallConfidence, normResult.RequiresHumanReview)

	mapStep := models.StepMap
	if _, err := o.jobManager.UpdateJob(jobID, jobs.Update{
		CurrentStep: &mapStep,
		Progress:    intPtr(models.ProgressForStep[models.StepNormalize]),
		Results: map[string]interface{}{
			"normalized_collateral_id": normalizedTable.DocumentID,
			"requires_human_review":    normResult.RequiresHumanReview,
		},
		StepTiming: map[string]float64{"normalize": time.Since(stageStart).Seconds()},
	}); err != nil {
		return models.Job{}, err
	}

	if o.cancelled(jobID) {
		return o.jobOrEmpty(jobID)
	}

	// --- Stage 4: Map ---
	stageStart = time.Now()
	confidenceScores := map[string]float64{
		"collateral": normResult.CollateralResult.Confidence,
		"temporal":   normResult.TemporalResult.Confidence,
		"currency":   normResult.CurrencyResult.Confidence,
		"overall":    normResult.OverallConfidence,
	}
	csaTerms, err := mapper.MapToCSATerms(extraction, documentID, normalizedTable, confidenceScores)
	if err != nil {
		return models.Job{}, o.fail(jobID, models.StepMap, err)
	}
	// CSATerms is the terminal mapping output — always persisted.
	if err := o.store.Save(store.KindCSATerms, documentID, *csaTerms); err != nil {
		return models.Job{}, o.fail(jobID, models.StepMap, apierr.ExternalService(err))
	}
	log.OK("mapped %s -> CSATerms for %s/%s", extraction.ExtractionID, csaTerms.PartyAName, csaTerms.PartyBName)

	doneStep := models.StepDone
	nextStep := doneStep
	nextProgress := models.ProgressForStep[models.StepMap]
	if opts.CalculateMargin {
		nextStep = models.StepCalculate
	}
	if _, err := o.jobManager.UpdateJob(jobID, jobs.Update{
		CurrentStep: &nextStep,
		Progress:    intPtr(nextProgress),
		Results: map[string]interface{}{
			"csa_terms_id": documentID,
			"csa_terms":    csaTerms,
		},
		StepTiming: map[string]float64{"map": time.Since(stageStart).Seconds()},
	}); err != nil {
		return models.Job{}, err
	}

	if o.cancelled(jobID) {
		return o.jobOrEmpty(jobID)
	}

	// --- Stage 5: Calculate (optional) ---
	if opts.CalculateMargin {
		stageStart = time.Now()
		margin, err := calculateFromPortfolioValue(*csaTerms, *opts.PortfolioValue)
		if err != nil {
			return models.Job{}, o.fail(jobID, models.StepCalculate, err)
		}
		calcID := models.NewArtifactID("calc", documentID)
		if err := o.store.Save(store.KindCalculations, calcID, *margin); err != nil {
			return models.Job{}, o.fail(jobID, models.StepCalculate, apierr.ExternalService(err))
		}
		log.OK("calculated margin call for %s: %s %.2f %s", documentID, margin.Action, margin.Amount, margin.Currency)

		if _, err := o.jobManager.UpdateJob(jobID, jobs.Update{
			CurrentStep: &doneStep,
			Progress:    intPtr(models.ProgressForStep[models.StepDone]),
			Results:     map[string]interface{}{"calculation_id": calcID, "margin_call": margin},
			StepTiming:  map[string]float64{"calculate": time.Since(stageStart).Seconds()},
		}); err != nil {
			return models.Job{}, err
		}
	}

	completed := models.JobCompleted
	finalJob, err := o.jobManager.UpdateJob(jobID, jobs.Update{
		Status:      &completed,
		CurrentStep: &doneStep,
		Progress:    intPtr(models.ProgressForStep[models.StepDone]),
		StepTiming:  map[string]float64{"total": time.Since(start).Seconds()},
	})
	if err != nil {
		return models.Job{}, err
	}
	log.OK("job %s completed in %s", jobID, time.Since(start).Round(time.Millisecond))
	return finalJob, nil
}

func jobStatusPtr(s models.JobStatus) *models.JobStatus { return &s }
func intPtr(i int) *int                                 { return &i }

// jobOrEmpty reloads jobID's current state for an early (cancelled)
// return; an error loading it is swallowed in favor of returning the
// zero Job, since the caller already knows cancellation happened.
func (o *Orchestrator) jobOrEmpty(jobID string) (models.Job, error) {
	job, found, err := o.jobManager.GetJob(jobID)
	if err != nil || !found {
		return models.Job{}, nil
	}
	return job, nil
}

// calculateFromPortfolioValue resolves spec.md §6's job-option calculation
// path: portfolio_value is treated as the net exposure against the CSA's
// own (party A) threshold/MTA/rounding/independent amount, with no posted
// collateral — there is no further collateral-position input available
// inside the pipeline itself. This deliberately differs from the
// general-purpose `/calculations/calculate` endpoint (spec.md §6), which
// takes an explicit net_exposure, posted_collateral[] and
// party_perspective and is the right tool when those are known; the
// original's own implementation of this pipeline step was an unfinished
// placeholder (see DESIGN.md) and offered no behavior to preserve.
func calculateFromPortfolioValue(terms models.CSATerms, portfolioValue float64) (*models.MarginCall, error) {
	input := calc.Input{
		NetExposure:           portfolioValue,
		Threshold:             terms.PartyAThreshold,
		MinimumTransferAmount: terms.PartyAMinimumTransferAmount,
		Rounding:              terms.Rounding,
		PostedCollateral:      nil,
		IndependentAmount:     terms.PartyAIndependentAmount,
		Currency:              terms.Currency,
		CounterpartyName:      terms.PartyBName,
		CSATermsID:            terms.SourceDocumentID,
	}
	return calc.CalculateMarginRequirement(input)
}
