package documents

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"csa-margin-engine/pkg/core/jobs"
	"csa-margin-engine/pkg/core/normalize"
	"csa-margin-engine/pkg/core/pipeline"
	"csa-margin-engine/pkg/core/store"
	"csa-margin-engine/pkg/models"
)

type fakeDocumentAI struct{}

func (fakeDocumentAI) ParseDocument(ctx context.Context, documentID string, pdf []byte) (models.ParsedDoc, error) {
	return models.ParsedDoc{DocumentID: documentID, Markdown: "CSA"}, nil
}
func (fakeDocumentAI) ExtractFields(ctx context.Context, doc models.ParsedDoc) (models.Extraction, error) {
	return models.Extraction{DocumentID: doc.DocumentID}, nil
}

type fakeNormalizer struct{}

func (fakeNormalizer) Normalize(ctx context.Context, extraction models.Extraction, markdown string) normalize.Result {
	return normalize.Result{}
}

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	s, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	jm := jobs.New(s)
	orch := pipeline.New(s, jm, fakeDocumentAI{}, fakeNormalizer{})
	return NewHandlers(s, jm, orch, 1<<20)
}

func multipartPDFBody(t *testing.T, contents []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "sample.pdf")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(contents); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestHandleUploadRejectsMissingFileField(t *testing.T) {
	h := newTestHandlers(t)
	req := httptest.NewRequest(http.MethodPost, "/documents/upload", nil)
	rec := httptest.NewRecorder()

	h.HandleUpload(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleUploadRejectsNonPDFBytes(t *testing.T) {
	h := newTestHandlers(t)
	body, contentType := multipartPDFBody(t, []byte("not a pdf"))
	req := httptest.NewRequest(http.MethodPost, "/documents/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.HandleUpload(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-PDF bytes, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleUploadAcceptsValidPDFMagicBytes(t *testing.T) {
	h := newTestHandlers(t)
	body, contentType := multipartPDFBody(t, []byte("%PDF-1.4\n...rest of pdf..."))
	req := httptest.NewRequest(http.MethodPost, "/documents/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.HandleUpload(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["document_id"] == "" {
		t.Fatal("expected a non-empty document_id")
	}
}
