package docai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"csa-margin-engine/pkg/models"
)

func TestParseDocumentMapsChunksAndMarkdown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		if _, _, err := r.FormFile("document"); err != nil {
			t.Fatalf("expected \"document\" multipart field: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(parseAPIResponse{
			Markdown: "# CSA\n...",
			Chunks: []parseAPIChunk{
				{ID: "chunk_1", Text: "Threshold: USD 5,000,000", Grounding: struct {
					Page int       `json:"page"`
					Box  []float64 `json:"box"`
				}{Page: 2, Box: []float64{0.1, 0.2, 0.3, 0.4}}},
			},
			Splits: []interface{}{"p1", "p2", "p3"},
		})
	}))
	defer srv.Close()

	c := NewClient()
	c.parseURL = srv.URL

	doc, err := c.ParseDocument(context.Background(), "doc_1", []byte("%PDF-1.4 fake"))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	if doc.DocumentID != "doc_1" || doc.Markdown != "# CSA\n..." || doc.PageCount != 3 {
		t.Fatalf("unexpected doc: %+v", doc)
	}
	if len(doc.Chunks) != 1 || doc.Chunks[0].ID != "chunk_1" || doc.Chunks[0].PageIndex != 2 {
		t.Fatalf("unexpected chunks: %+v", doc.Chunks)
	}
}

func TestExtractFieldsDecodesSchemaShapedResponseAndProvenance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, err := r.FormFile("markdown"); err != nil {
			t.Fatalf("expected \"markdown\" multipart field: %v", err)
		}
		if r.FormValue("schema") == "" {
			t.Fatalf("expected non-empty \"schema\" field")
		}
		extraction := models.Extraction{
			AgreementInfo: models.AgreementInfo{PartyAName: "ABC Bank", PartyBName: "XYZ Corp"},
		}
		raw, _ := json.Marshal(extraction)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"extraction": json.RawMessage(raw),
			"extraction_metadata": map[string]interface{}{
				"agreement_info": map[string]interface{}{
					"party_a_name": map[string]interface{}{
						"references": []interface{}{"chunk_1"},
					},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewClient()
	c.extractURL = srv.URL

	doc := models.ParsedDoc{
		DocumentID: "doc_1",
		ParseID:    "parse_1",
		Markdown:   "# CSA",
		Chunks:     []models.Chunk{{ID: "chunk_1", PageIndex: 2, BoundingBox: []float64{0.1, 0.2, 0.3, 0.4}}},
	}

	extraction, err := c.ExtractFields(context.Background(), doc)
	if err != nil {
		t.Fatalf("ExtractFields: %v", err)
	}
	if extraction.DocumentID != "doc_1" {
		t.Fatalf("expected DocumentID to be stamped from doc, got %q", extraction.DocumentID)
	}
	if extraction.AgreementInfo.PartyAName != "ABC Bank" {
		t.Fatalf("unexpected extraction: %+v", extraction)
	}
	prov, ok := extraction.Provenance["agreement_info.party_a_name"]
	if !ok {
		t.Fatalf("expected provenance for agreement_info.party_a_name, got %+v", extraction.Provenance)
	}
	if prov.Page != 2 || len(prov.ChunkIDs) != 1 || prov.ChunkIDs[0] != "chunk_1" {
		t.Fatalf("unexpected provenance: %+v", prov)
	}
}

func TestDoJSONReturnsErrorOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := NewClient()
	if _, err := c.doJSON(context.Background(), srv.URL, "application/json", nil); err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}
