// Package docai implements a concrete DocumentAI client against the
// LandingAI ADE (Agentic Document Extraction) HTTP API: a two-step
// parse-then-extract service — exactly the external collaborator spec.md
// §1 puts out of scope. Grounded directly on original_source's
// services/ade_service.py: same two endpoints, same multipart request
// shapes, same chunk-id-to-bounding-box provenance walk over
// extraction_metadata. The HTTP idiom (plain net/http, raw status/body
// handling) mirrors the teacher's llm providers (pkg/core/llm/deepseek.go).
package docai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"csa-margin-engine/pkg/models"
)

// Client is a DocumentAI implementation backed by LandingAI's Parse and
// Extract APIs.
type Client struct {
	httpClient *http.Client
	parseURL   string
	extractURL string
	apiKey     string
}

// NewClient builds a Client from environment variables, matching the
// teacher's llm providers' os.Getenv(...) convention rather than the
// yaml-configured Settings (spec.md §6 enumerates only the engine's own
// process-scoped settings, not this external service's credentials/URLs).
func NewClient() *Client {
	parseURL := os.Getenv("DOCUMENT_AI_PARSE_URL")
	if parseURL == "" {
		parseURL = "https://api.va.landing.ai/v1/ade/parse"
	}
	extractURL := os.Getenv("DOCUMENT_AI_EXTRACT_URL")
	if extractURL == "" {
		extractURL = "https://api.va.landing.ai/v1/ade/extract"
	}
	return &Client{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		parseURL:   parseURL,
		extractURL: extractURL,
		apiKey:     os.Getenv("DOCUMENT_AI_API_KEY"),
	}
}

type parseAPIChunk struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Grounding struct {
		Page int       `json:"page"`
		Box  []float64 `json:"box"`
	} `json:"grounding"`
}

type parseAPIResponse struct {
	Markdown string          `json:"markdown"`
	Chunks   []parseAPIChunk `json:"chunks"`
	Splits   []interface{}   `json:"splits"`
}

// ParseDocument posts the raw PDF bytes to the Parse API and converts its
// chunk/grounding shape into models.ParsedDoc. Grounded on
// ADEService.parse_document.
func (c *Client) ParseDocument(ctx context.Context, documentID string, pdf []byte) (models.ParsedDoc, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("document", documentID+".pdf")
	if err != nil {
		return models.ParsedDoc{}, fmt.Errorf("docai: create multipart field: %w", err)
	}
	if _, err := part.Write(pdf); err != nil {
		return models.ParsedDoc{}, fmt.Errorf("docai: write pdf bytes: %w", err)
	}
	if err := writer.Close(); err != nil {
		return models.ParsedDoc{}, fmt.Errorf("docai: close multipart writer: %w", err)
	}

	result, err := c.doJSON(ctx, c.parseURL, writer.FormDataContentType(), &body)
	if err != nil {
		return models.ParsedDoc{}, err
	}

	var parsed parseAPIResponse
	if err := json.Unmarshal(result, &parsed); err != nil {
		return models.ParsedDoc{}, fmt.Errorf("docai: decode parse response: %w", err)
	}

	chunks := make([]models.Chunk, 0, len(parsed.Chunks))
	for _, ch := range parsed.Chunks {
		chunks = append(chunks, models.Chunk{
			ID:          ch.ID,
			PageIndex:   ch.Grounding.Page,
			BoundingBox: ch.Grounding.Box,
			Text:        ch.Text,
		})
	}

	return models.ParsedDoc{
		DocumentID: documentID,
		Chunks:     chunks,
		Markdown:   parsed.Markdown,
		PageCount:  len(parsed.Splits),
	}, nil
}

type extractAPIResponse struct {
	Extraction         json.RawMessage        `json:"extraction"`
	ExtractionMetadata map[string]interface{} `json:"extraction_metadata"`
}

// ExtractFields posts the parsed markdown plus the CSA extraction schema
// to the Extract API, decodes the schema-shaped reply directly into a
// models.Extraction (the schema's field names match Extraction's own JSON
// tags one-to-one), and reconstructs field provenance from
// extraction_metadata + the parsed document's chunk bounding boxes.
// Grounded on ADEService.extract_fields + _build_chunk_bbox_map.
func (c *Client) ExtractFields(ctx context.Context, doc models.ParsedDoc) (models.Extraction, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("markdown", doc.ParseID+".md")
	if err != nil {
		return models.Extraction{}, fmt.Errorf("docai: create multipart field: %w", err)
	}
	if _, err := part.Write([]byte(doc.Markdown)); err != nil {
		return models.Extraction{}, fmt.Errorf("docai: write markdown bytes: %w", err)
	}

	schemaJSON, err := json.Marshal(extractionSchema)
	if err != nil {
		return models.Extraction{}, fmt.Errorf("docai: marshal extraction schema: %w", err)
	}
	if err := writer.WriteField("schema", string(schemaJSON)); err != nil {
		return models.Extraction{}, fmt.Errorf("docai: write schema field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return models.Extraction{}, fmt.Errorf("docai: close multipart writer: %w", err)
	}

	result, err := c.doJSON(ctx, c.extractURL, writer.FormDataContentType(), &body)
	if err != nil {
		return models.Extraction{}, err
	}

	var resp extractAPIResponse
	if err := json.Unmarshal(result, &resp); err != nil {
		return models.Extraction{}, fmt.Errorf("docai: decode extract response: %w", err)
	}

	var extraction models.Extraction
	if len(resp.Extraction) > 0 {
		if err := json.Unmarshal(resp.Extraction, &extraction); err != nil {
			return models.Extraction{}, fmt.Errorf("docai: decode extraction fields: %w", err)
		}
	}
	extraction.DocumentID = doc.DocumentID

	extraction.Provenance = buildProvenance(resp.ExtractionMetadata, chunkBBoxMap(doc.Chunks))

	return extraction, nil
}

func chunkBBoxMap(chunks []models.Chunk) map[string]models.Chunk {
	m := make(map[string]models.Chunk, len(chunks))
	for _, ch := range chunks {
		m[ch.ID] = ch
	}
	return m
}

// buildProvenance walks extraction_metadata recursively: a leaf field
// carries a "references" list of chunk ids; everything else is a nested
// object to recurse into. Ports ADEService.extract_fields's inline
// extract_provenance_recursive closure.
func buildProvenance(metadata map[string]interface{}, bbox map[string]models.Chunk) map[string]models.Provenance {
	provenance := map[string]models.Provenance{}
	var walk func(node map[string]interface{}, prefix string)
	walk = func(node map[string]interface{}, prefix string) {
		for field, raw := range node {
			full := field
			if prefix != "" {
				full = prefix + "." + field
			}
			nested, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			if refsRaw, hasRefs := nested["references"]; hasRefs {
				refs := toStringSlice(refsRaw)
				if len(refs) > 0 {
					if chunk, found := bbox[refs[0]]; found {
						provenance[full] = models.Provenance{
							Page:     chunk.PageIndex,
							Box:      chunk.BoundingBox,
							ChunkIDs: refs,
						}
					}
				}
				continue
			}
			walk(nested, full)
		}
	}
	walk(metadata, "")
	return provenance
}

func toStringSlice(v interface{}) []string {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// doJSON issues a multipart POST and returns the raw response body,
// translating a non-200 status or transport error into a plain error for
// the orchestrator to wrap as apierr.ExternalService.
func (c *Client) doJSON(ctx context.Context, url, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("docai: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("docai: request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("docai: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("docai: %s returned %d: %s", url, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}
