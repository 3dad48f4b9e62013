package exportsapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"csa-margin-engine/pkg/core/store"
	"csa-margin-engine/pkg/models"
)

func newTestHandlers(t *testing.T) (*Handlers, *store.Store) {
	t.Helper()
	s, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return NewHandlers(s), s
}

func sampleMarginCall() models.MarginCall {
	return models.MarginCall{
		Action:      models.ActionCall,
		Amount:      750_000,
		Currency:    "USD",
		NetExposure: 2_000_000,
		CalculationSteps: []models.CalculationStep{
			{StepNumber: 1, Description: "Compute net exposure", Result: 2_000_000, SourceClause: "CSA Paragraph 3"},
			{StepNumber: 2, Description: "Compare to threshold", Result: 1_000_000, SourceClause: "CSA Paragraph 13"},
		},
		CounterpartyName: "ABC Bank",
	}
}

func TestHandleMarginCallNoticeReturnsNotFoundForUnknownCalc(t *testing.T) {
	h, _ := newTestHandlers(t)

	router := chi.NewRouter()
	router.Get("/export/margin-call-notice/{calc_id}", h.HandleMarginCallNotice)

	req := httptest.NewRequest(http.MethodGet, "/export/margin-call-notice/calc_missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleMarginCallNoticeJSON(t *testing.T) {
	h, s := newTestHandlers(t)
	if err := s.Save(store.KindCalculations, "calc_1", sampleMarginCall()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	router := chi.NewRouter()
	router.Get("/export/margin-call-notice/{calc_id}", h.HandleMarginCallNotice)

	req := httptest.NewRequest(http.MethodGet, "/export/margin-call-notice/calc_1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "ABC Bank") {
		t.Fatalf("expected JSON body to contain counterparty name, got %s", rec.Body.String())
	}
}

func TestHandleMarginCallNoticePDF(t *testing.T) {
	h, s := newTestHandlers(t)
	if err := s.Save(store.KindCalculations, "calc_1", sampleMarginCall()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	router := chi.NewRouter()
	router.Get("/export/margin-call-notice/{calc_id}", h.HandleMarginCallNotice)

	req := httptest.NewRequest(http.MethodGet, "/export/margin-call-notice/calc_1?format=pdf", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("expected application/pdf content type, got %q", ct)
	}
	if !strings.HasPrefix(rec.Body.String(), "%PDF-") {
		t.Fatalf("expected PDF magic bytes, got %q", rec.Body.String()[:min(20, rec.Body.Len())])
	}
}

func TestHandleAuditTrailCSV(t *testing.T) {
	h, s := newTestHandlers(t)
	if err := s.Save(store.KindCalculations, "calc_1", sampleMarginCall()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	router := chi.NewRouter()
	router.Get("/export/audit-trail/{calc_id}", h.HandleAuditTrail)

	req := httptest.NewRequest(http.MethodGet, "/export/audit-trail/calc_1?format=csv", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "step_number,description,formula,result,source_clause") {
		t.Fatalf("expected CSV header row, got %q", body)
	}
	if !strings.Contains(body, "Compute net exposure") {
		t.Fatalf("expected a data row, got %q", body)
	}
}

func TestHandleAuditTrailRejectsUnsupportedFormat(t *testing.T) {
	h, s := newTestHandlers(t)
	if err := s.Save(store.KindCalculations, "calc_1", sampleMarginCall()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	router := chi.NewRouter()
	router.Get("/export/audit-trail/{calc_id}", h.HandleAuditTrail)

	req := httptest.NewRequest(http.MethodGet, "/export/audit-trail/calc_1?format=xml", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
