// Package exportsapi renders a computed margin call as a downloadable
// notice (JSON/PDF) or its calculation steps as an audit trail
// (JSON/CSV) — spec.md §6's export surface. PDF rendering uses
// github.com/go-pdf/fpdf; CSV uses the standard library's encoding/csv,
// since no CSV library appears anywhere in the reference pack (see
// DESIGN.md).
package exportsapi

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-pdf/fpdf"

	"csa-margin-engine/pkg/api/httpx"
	"csa-margin-engine/pkg/core/apierr"
	"csa-margin-engine/pkg/core/store"
	"csa-margin-engine/pkg/models"
)

// Handlers serves /export/*.
type Handlers struct {
	store *store.Store
}

// NewHandlers constructs the export handlers.
func NewHandlers(s *store.Store) *Handlers {
	return &Handlers{store: s}
}

// RegisterRoutes mounts the export endpoints under r.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Route("/export", func(r chi.Router) {
		r.Get("/margin-call-notice/{calc_id}", h.HandleMarginCallNotice)
		r.Get("/audit-trail/{calc_id}", h.HandleAuditTrail)
	})
}

func (h *Handlers) loadMarginCall(calcID string) (models.MarginCall, bool, error) {
	var margin models.MarginCall
	found, err := h.store.Load(store.KindCalculations, calcID, &margin)
	return margin, found, err
}

func (h *Handlers) loadExplanation(calcID string) (models.MarginCallExplanation, bool, error) {
	var explanation models.MarginCallExplanation
	found, err := h.store.Load(store.KindExplanations, calcID, &explanation)
	return explanation, found, err
}

// HandleMarginCallNotice exports a margin call notice.
// GET /export/margin-call-notice/{calc_id}?format=json|pdf (default json).
func (h *Handlers) HandleMarginCallNotice(w http.ResponseWriter, r *http.Request) {
	calcID := chi.URLParam(r, "calc_id")
	margin, found, err := h.loadMarginCall(calcID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if !found {
		httpx.WriteError(w, apierr.MissingArtifact("calculation", calcID, "calculate a margin call before exporting it"))
		return
	}
	explanation, _, err := h.loadExplanation(calcID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	switch r.URL.Query().Get("format") {
	case "pdf":
		writeMarginCallPDF(w, calcID, margin, explanation)
	case "", "json":
		httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"margin_call": margin,
			"explanation": explanation,
		})
	default:
		httpx.WriteError(w, apierr.InvalidInput("unsupported format %q: use \"json\" or \"pdf\"", r.URL.Query().Get("format")))
	}
}

// writeMarginCallPDF renders margin as a one-page notice via fpdf.
func writeMarginCallPDF(w http.ResponseWriter, calcID string, margin models.MarginCall, explanation models.MarginCallExplanation) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, "Margin Call Notice", "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 11)
	pdf.Ln(2)
	pdf.CellFormat(0, 7, fmt.Sprintf("Calculation ID: %s", calcID), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 7, fmt.Sprintf("Counterparty: %s", margin.CounterpartyName), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 7, fmt.Sprintf("Action: %s", margin.Action), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 7, fmt.Sprintf("Amount: %.2f %s", margin.Amount, margin.Currency), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 7, fmt.Sprintf("Net Exposure: %.2f", margin.NetExposure), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 7, fmt.Sprintf("Effective Collateral: %.2f", margin.EffectiveCollateral), "", 1, "L", false, 0, "")

	if explanation.Narrative != "" {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, 8, "Narrative", "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(0, 6, explanation.Narrative, "", "L", false)
	}

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Calculation Steps", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	for _, step := range margin.CalculationSteps {
		pdf.MultiCell(0, 5, fmt.Sprintf("%d. %s = %.4f", step.StepNumber, step.Description, step.Result), "", "L", false)
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", calcID+"-notice.pdf"))
	w.WriteHeader(http.StatusOK)
	_ = pdf.Output(w)
}

// HandleAuditTrail exports a margin call's calculation steps as a flat
// audit trail. GET /export/audit-trail/{calc_id}?format=json|csv (default json).
func (h *Handlers) HandleAuditTrail(w http.ResponseWriter, r *http.Request) {
	calcID := chi.URLParam(r, "calc_id")
	margin, found, err := h.loadMarginCall(calcID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if !found {
		httpx.WriteError(w, apierr.MissingArtifact("calculation", calcID, "calculate a margin call before exporting its audit trail"))
		return
	}

	switch r.URL.Query().Get("format") {
	case "csv":
		writeAuditTrailCSV(w, calcID, margin.CalculationSteps)
	case "", "json":
		httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{"calculation_steps": margin.CalculationSteps})
	default:
		httpx.WriteError(w, apierr.InvalidInput("unsupported format %q: use \"json\" or \"csv\"", r.URL.Query().Get("format")))
	}
}

func writeAuditTrailCSV(w http.ResponseWriter, calcID string, steps []models.CalculationStep) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", calcID+"-audit-trail.csv"))
	w.WriteHeader(http.StatusOK)

	writer := csv.NewWriter(w)
	defer writer.Flush()

	_ = writer.Write([]string{"step_number", "description", "formula", "result", "source_clause"})
	for _, step := range steps {
		_ = writer.Write([]string{
			strconv.Itoa(step.StepNumber),
			step.Description,
			step.Formula,
			strconv.FormatFloat(step.Result, 'f', -1, 64),
			step.SourceClause,
		})
	}
}
