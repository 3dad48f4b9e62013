package jobsapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"csa-margin-engine/pkg/core/jobs"
	"csa-margin-engine/pkg/core/store"
)

func newTestHandlers(t *testing.T) (*Handlers, *jobs.Manager) {
	t.Helper()
	s, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	jm := jobs.New(s)
	return NewHandlers(jm), jm
}

func TestHandleGetReturnsNotFoundForUnknownJob(t *testing.T) {
	h, _ := newTestHandlers(t)

	router := chi.NewRouter()
	router.Get("/jobs/{job_id}", h.HandleGet)

	req := httptest.NewRequest(http.MethodGet, "/jobs/job_missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleGetReturnsJobState(t *testing.T) {
	h, jm := newTestHandlers(t)
	if _, err := jm.CreateJob("job_1", "doc_1", nil); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	router := chi.NewRouter()
	router.Get("/jobs/{job_id}", h.HandleGet)

	req := httptest.NewRequest(http.MethodGet, "/jobs/job_1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var job map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job["document_id"] != "doc_1" {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestHandleCancelMarksJobCancelled(t *testing.T) {
	h, jm := newTestHandlers(t)
	if _, err := jm.CreateJob("job_1", "doc_1", nil); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	router := chi.NewRouter()
	router.Delete("/jobs/{job_id}", h.HandleCancel)

	req := httptest.NewRequest(http.MethodDelete, "/jobs/job_1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	job, found, err := jm.GetJob("job_1")
	if err != nil || !found {
		t.Fatalf("GetJob: %v found=%v", err, found)
	}
	if job.Status != "cancelled" {
		t.Fatalf("expected job to be cancelled, got %q", job.Status)
	}
}
