// Package calculations implements spec.md §6's on-demand calculate and
// explain endpoints — the same CalculateMarginRequirement/
// ExplanationGenerator the pipeline orchestrator runs, exposed directly so
// a caller can recompute a margin call against a different net exposure or
// posted-collateral set without rerunning parse/extract/normalize.
package calculations

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"csa-margin-engine/pkg/api/httpx"
	"csa-margin-engine/pkg/core/apierr"
	"csa-margin-engine/pkg/core/calc"
	"csa-margin-engine/pkg/core/script"
	"csa-margin-engine/pkg/core/store"
	"csa-margin-engine/pkg/models"
)

// Handlers serves /calculations/*.
type Handlers struct {
	store         *store.Store
	explanations  *script.ExplanationGenerator
	auditScripts  *script.AuditScriptGenerator
}

// NewHandlers constructs the calculations handlers.
func NewHandlers(s *store.Store, explanations *script.ExplanationGenerator, auditScripts *script.AuditScriptGenerator) *Handlers {
	return &Handlers{store: s, explanations: explanations, auditScripts: auditScripts}
}

// RegisterRoutes mounts the calculations endpoints under r.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Route("/calculations", func(r chi.Router) {
		r.Post("/calculate", h.HandleCalculate)
		r.Post("/{calc_id}/explain", h.HandleExplain)
		r.Post("/{calc_id}/audit-script", h.HandleAuditScript)
		r.Get("/{calc_id}", h.HandleGet)
	})
}

// calculateRequest is the body for POST /calculations/calculate.
type calculateRequest struct {
	DocumentID        string                  `json:"document_id"`
	NetExposure       float64                 `json:"net_exposure"`
	PostedCollateral  []models.CollateralItem `json:"posted_collateral"`
	PartyPerspective  string                  `json:"party_perspective"`
}

// HandleCalculate recomputes a margin call for a previously-mapped
// document's CSATerms against the given exposure/collateral/perspective.
func (h *Handlers) HandleCalculate(w http.ResponseWriter, r *http.Request) {
	var req calculateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	if req.DocumentID == "" {
		httpx.WriteError(w, apierr.InvalidInput("document_id is required"))
		return
	}
	if req.PartyPerspective != "party_a" && req.PartyPerspective != "party_b" {
		httpx.WriteError(w, apierr.InvalidInput("party_perspective must be \"party_a\" or \"party_b\""))
		return
	}

	var terms models.CSATerms
	found, err := h.store.Load(store.KindCSATerms, req.DocumentID, &terms)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if !found {
		httpx.WriteError(w, apierr.MissingArtifact("csa_terms", req.DocumentID, "process the document through /documents/process first"))
		return
	}

	threshold, mta, independentAmount, ok := terms.ThresholdFor(req.PartyPerspective)
	if !ok {
		httpx.WriteError(w, apierr.InvalidInput("unrecognized party_perspective %q", req.PartyPerspective))
		return
	}

	margin, err := calc.CalculateMarginRequirement(calc.Input{
		NetExposure:           req.NetExposure,
		Threshold:             threshold,
		MinimumTransferAmount: mta,
		Rounding:              terms.Rounding,
		PostedCollateral:      req.PostedCollateral,
		IndependentAmount:     independentAmount,
		Currency:              terms.Currency,
		CounterpartyName:      counterparty(terms, req.PartyPerspective),
		CSATermsID:            req.DocumentID,
	})
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	calcID := models.NewArtifactID("calc", req.DocumentID)
	if err := h.store.Save(store.KindCalculations, calcID, *margin); err != nil {
		httpx.WriteError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"calc_id":     calcID,
		"margin_call": margin,
	})
}

// counterparty returns the party margin is being called against: the
// other side of whichever perspective the caller requested.
func counterparty(terms models.CSATerms, perspective string) string {
	if perspective == "party_a" {
		return terms.PartyBName
	}
	return terms.PartyAName
}

// HandleGet returns a previously computed margin call. GET /calculations/{calc_id}.
func (h *Handlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	margin, err := h.loadMarginCall(w, r)
	if err != nil {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, margin)
}

// loadMarginCall loads the MarginCall named by the calc_id URL param,
// writing an error response and returning a non-nil error if it cannot be
// found.
func (h *Handlers) loadMarginCall(w http.ResponseWriter, r *http.Request) (models.MarginCall, error) {
	calcID := chi.URLParam(r, "calc_id")
	var margin models.MarginCall
	found, err := h.store.Load(store.KindCalculations, calcID, &margin)
	if err != nil {
		httpx.WriteError(w, err)
		return models.MarginCall{}, err
	}
	if !found {
		notFound := apierr.MissingArtifact("calculation", calcID, "calculate a margin call before requesting it")
		httpx.WriteError(w, notFound)
		return models.MarginCall{}, notFound
	}
	return margin, nil
}

// loadClauseIndex finds the terms and clause text behind a margin call's
// CSATermsID (the document_id it was calculated against). Extraction isn't
// addressable by document_id directly, so this scans the small extraction
// artifact set for a match — acceptable given spec.md's single-process,
// file-store scale.
func (h *Handlers) loadClauseIndex(documentID string) (models.CSATerms, script.ClauseIndex, error) {
	var terms models.CSATerms
	found, err := h.store.Load(store.KindCSATerms, documentID, &terms)
	if err != nil {
		return models.CSATerms{}, script.ClauseIndex{}, err
	}
	if !found {
		return models.CSATerms{}, script.ClauseIndex{}, apierr.MissingArtifact("csa_terms", documentID, "")
	}

	ids, err := h.store.List(store.KindExtractions)
	if err != nil {
		return terms, script.ClauseIndex{}, err
	}
	for _, id := range ids {
		var extraction models.Extraction
		found, err := h.store.Load(store.KindExtractions, id, &extraction)
		if err != nil || !found {
			continue
		}
		if extraction.DocumentID == documentID {
			return terms, script.NewClauseIndex(extraction), nil
		}
	}
	return terms, script.ClauseIndex{}, nil
}

// HandleExplain generates a citation-aware narrative explanation of a
// margin call. POST /calculations/{calc_id}/explain.
func (h *Handlers) HandleExplain(w http.ResponseWriter, r *http.Request) {
	margin, err := h.loadMarginCall(w, r)
	if err != nil {
		return
	}

	terms, clauses, err := h.loadClauseIndex(margin.CSATermsID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	explanation, err := h.explanations.Generate(r.Context(), margin, terms, margin.CSATermsID, clauses)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	calcID := chi.URLParam(r, "calc_id")
	if err := h.store.Save(store.KindExplanations, calcID, explanation); err != nil {
		httpx.WriteError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, explanation)
}

// HandleAuditScript generates an annotated, documentation-format Go
// listing of how the margin call was derived (SPEC_FULL.md's supplemented
// Audit Script Generator); the listing is checked to parse as Go and is
// never executed. POST /calculations/{calc_id}/audit-script.
func (h *Handlers) HandleAuditScript(w http.ResponseWriter, r *http.Request) {
	margin, err := h.loadMarginCall(w, r)
	if err != nil {
		return
	}

	terms, clauses, err := h.loadClauseIndex(margin.CSATermsID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	source, err := h.auditScripts.Generate(r.Context(), terms, &margin, margin.CSATermsID, clauses)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	calcID := chi.URLParam(r, "calc_id")
	if err := h.store.Save(store.KindGeneratedScripts, calcID, source); err != nil {
		httpx.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/x-go")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(source))
}
