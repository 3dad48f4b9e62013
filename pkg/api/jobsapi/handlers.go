// Package jobsapi exposes the Job Manager over HTTP: spec.md §6's
// polling and cancellation surface for async document processing.
package jobsapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"csa-margin-engine/pkg/api/httpx"
	"csa-margin-engine/pkg/core/apierr"
	"csa-margin-engine/pkg/core/jobs"
	"csa-margin-engine/pkg/models"
)

// Handlers serves /jobs/*.
type Handlers struct {
	jobManager *jobs.Manager
}

// NewHandlers constructs the jobs handlers.
func NewHandlers(jm *jobs.Manager) *Handlers {
	return &Handlers{jobManager: jm}
}

// RegisterRoutes mounts the jobs endpoints under r.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Get("/{job_id}", h.HandleGet)
		r.Delete("/{job_id}", h.HandleCancel)
	})
}

// HandleGet returns the current state of a job. GET /jobs/{job_id}.
func (h *Handlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, found, err := h.jobManager.GetJob(jobID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if !found {
		httpx.WriteError(w, apierr.MissingArtifact("job", jobID, "check the job_id returned from /documents/process"))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, job)
}

// HandleList returns jobs matching the document_id/status/limit query
// parameters. GET /jobs?document_id=...&status=...&limit=...
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	filter := jobs.ListFilter{
		DocumentID: r.URL.Query().Get("document_id"),
		Status:     models.JobStatus(r.URL.Query().Get("status")),
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}
	list, err := h.jobManager.ListJobs(filter)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{"jobs": list})
}

// HandleCancel cancels a pending or processing job. DELETE /jobs/{job_id}.
func (h *Handlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := h.jobManager.CancelJob(jobID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, job)
}
