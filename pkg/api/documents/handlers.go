// Package documents implements spec.md §6's two document-facing
// endpoints: upload and process. Grounded on original_source's
// api/documents.py, translated to the teacher pack's chi.Router +
// per-package Handlers struct idiom (aristath-sentinel's dividends/
// rebalancing handlers).
package documents

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"csa-margin-engine/pkg/api/httpx"
	"csa-margin-engine/pkg/core/apierr"
	"csa-margin-engine/pkg/core/jobs"
	"csa-margin-engine/pkg/core/logx"
	"csa-margin-engine/pkg/core/pipeline"
	"csa-margin-engine/pkg/core/store"
	"csa-margin-engine/pkg/models"
)

var log = logx.New("api.documents")

// Handlers serves /documents/*.
type Handlers struct {
	store         *store.Store
	jobManager    *jobs.Manager
	orchestrator  *pipeline.Orchestrator
	maxUploadSize int64
}

// NewHandlers constructs the document handlers. maxUploadSize is
// spec.md §6's configured upload-size limit.
func NewHandlers(s *store.Store, jm *jobs.Manager, orch *pipeline.Orchestrator, maxUploadSize int64) *Handlers {
	return &Handlers{store: s, jobManager: jm, orchestrator: orch, maxUploadSize: maxUploadSize}
}

// RegisterRoutes mounts the document endpoints under r.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Route("/documents", func(r chi.Router) {
		r.Post("/upload", h.HandleUpload)
		r.Post("/process/{document_id}", h.HandleProcess)
	})
}

// HandleUpload stores an uploaded PDF and returns its generated
// document_id. POST /documents/upload, multipart form field "file".
func (h *Handlers) HandleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)

	file, _, err := r.FormFile("file")
	if err != nil {
		httpx.WriteError(w, apierr.InvalidInput("no \"file\" field in multipart upload: %v", err))
		return
	}
	defer file.Close()

	data := make([]byte, 0, 1<<20)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := file.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
		}
		if readErr != nil {
			break
		}
	}

	documentID := models.NewArtifactID("doc", "")
	if err := h.store.SavePDF(documentID, data); err != nil {
		httpx.WriteError(w, apierr.InvalidInput("%v", err))
		return
	}

	log.OK("uploaded document %s (%d bytes)", documentID, len(data))
	httpx.WriteJSON(w, http.StatusCreated, map[string]interface{}{"document_id": documentID})
}

// processRequest is the request body for POST /documents/process/{document_id}.
type processRequest struct {
	NormalizeMethod       string   `json:"normalize_method"`
	SaveIntermediateSteps bool     `json:"save_intermediate_steps"`
	CalculateMargin       bool     `json:"calculate_margin"`
	PortfolioValue        *float64 `json:"portfolio_value"`
}

// HandleProcess creates a job for document_id and runs the pipeline
// asynchronously, returning the job_id immediately — spec.md §4.10's job
// model is polling-based, not request/response-blocking.
func (h *Handlers) HandleProcess(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "document_id")

	var req processRequest
	req.NormalizeMethod = string(pipeline.MethodMultiAgent)
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, err)
			return
		}
	}

	opts := pipeline.Options{
		NormalizeMethod:       pipeline.NormalizeMethod(req.NormalizeMethod),
		SaveIntermediateSteps: req.SaveIntermediateSteps,
		CalculateMargin:       req.CalculateMargin,
		PortfolioValue:        req.PortfolioValue,
	}
	if err := opts.Validate(); err != nil {
		httpx.WriteError(w, err)
		return
	}

	jobID := models.NewArtifactID("job", documentID)
	options := map[string]interface{}{
		"normalize_method":        req.NormalizeMethod,
		"save_intermediate_steps": req.SaveIntermediateSteps,
		"calculate_margin":        req.CalculateMargin,
	}
	if req.PortfolioValue != nil {
		options["portfolio_value"] = *req.PortfolioValue
	}
	if _, err := h.jobManager.CreateJob(jobID, documentID, options); err != nil {
		httpx.WriteError(w, err)
		return
	}

	go func() {
		// Detached from the request's context: the job must keep running
		// after the HTTP handler returns.
		if _, err := h.orchestrator.Run(context.Background(), jobID, documentID, opts); err != nil {
			log.Errorf("job %s ended with error: %v", jobID, err)
		}
	}()

	log.OK("started job %s for document %s", jobID, documentID)
	httpx.WriteJSON(w, http.StatusAccepted, map[string]interface{}{"job_id": jobID})
}
