package pipeline

import (
	"context"

	"csa-margin-engine/pkg/models"
)

// DocumentAI is the external document-AI collaborator spec.md §1 names as
// out of scope: OCR/layout parsing and schema-driven field extraction.
// The orchestrator only ever talks to it through this contract, mirroring
// the teacher's ContentFetcher seam for its own external collaborator (SEC
// EDGAR fetch) in this same package.
type DocumentAI interface {
	// ParseDocument turns a stored PDF into a ParsedDoc: chunks, markdown,
	// page count.
	ParseDocument(ctx context.Context, documentID string, pdf []byte) (models.ParsedDoc, error)

	// ExtractFields runs schema-driven extraction over a parsed document,
	// producing the raw (still string-typed) Extraction the Normalization
	// Orchestrator and Mapper consume.
	ExtractFields(ctx context.Context, doc models.ParsedDoc) (models.Extraction, error)
}
