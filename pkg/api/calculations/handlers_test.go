package calculations

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"csa-margin-engine/pkg/core/script"
	"csa-margin-engine/pkg/core/store"
	"csa-margin-engine/pkg/models"
)

func newTestHandlers(t *testing.T) (*Handlers, *store.Store) {
	t.Helper()
	s, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return NewHandlers(s, script.NewExplanationGenerator(nil), script.NewAuditScriptGenerator(nil)), s
}

func TestHandleCalculateRejectsMissingDocumentID(t *testing.T) {
	h, _ := newTestHandlers(t)

	body, _ := json.Marshal(calculateRequest{PartyPerspective: "party_a"})
	req := httptest.NewRequest(http.MethodPost, "/calculations/calculate", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleCalculate(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleCalculateRejectsUnknownDocument(t *testing.T) {
	h, _ := newTestHandlers(t)

	body, _ := json.Marshal(calculateRequest{DocumentID: "doc_missing", PartyPerspective: "party_a", NetExposure: 1_000_000})
	req := httptest.NewRequest(http.MethodPost, "/calculations/calculate", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleCalculate(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleCalculateComputesMarginCall(t *testing.T) {
	h, s := newTestHandlers(t)
	terms := models.CSATerms{
		PartyAName:                  "ABC Bank",
		PartyBName:                  "XYZ Corp",
		PartyAThreshold:             1_000_000,
		PartyBThreshold:             500_000,
		PartyAMinimumTransferAmount: 100_000,
		Rounding:                    10_000,
		Currency:                    "USD",
	}
	if err := s.Save(store.KindCSATerms, "doc_1", terms); err != nil {
		t.Fatalf("Save CSATerms: %v", err)
	}

	body, _ := json.Marshal(calculateRequest{
		DocumentID:       "doc_1",
		NetExposure:      2_000_000,
		PartyPerspective: "party_a",
	})
	req := httptest.NewRequest(http.MethodPost, "/calculations/calculate", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleCalculate(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		CalcID     string            `json:"calc_id"`
		MarginCall models.MarginCall `json:"margin_call"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.CalcID == "" {
		t.Fatal("expected a non-empty calc_id")
	}
	if resp.MarginCall.Action != models.ActionCall {
		t.Fatalf("expected a CALL action, got %s", resp.MarginCall.Action)
	}
}

func TestHandleExplainRejectsMarginCallWithNoSteps(t *testing.T) {
	h, s := newTestHandlers(t)
	margin := models.MarginCall{Action: models.ActionCall, Amount: 0, CSATermsID: "doc_1"}
	if err := s.Save(store.KindCalculations, "calc_1", margin); err != nil {
		t.Fatalf("Save MarginCall: %v", err)
	}
	if err := s.Save(store.KindCSATerms, "doc_1", models.CSATerms{PartyAName: "ABC Bank"}); err != nil {
		t.Fatalf("Save CSATerms: %v", err)
	}

	router := chi.NewRouter()
	router.Post("/calculations/{calc_id}/explain", h.HandleExplain)

	req := httptest.NewRequest(http.MethodPost, "/calculations/calc_1/explain", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleGetReturnsNotFoundForUnknownCalculation(t *testing.T) {
	h, _ := newTestHandlers(t)

	router := chi.NewRouter()
	router.Get("/calculations/{calc_id}", h.HandleGet)

	req := httptest.NewRequest(http.MethodGet, "/calculations/calc_missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}
