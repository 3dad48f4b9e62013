package models

// Chunk is one addressable slice of a parsed document, as returned by the
// external document-AI service.
type Chunk struct {
	ID          string    `json:"id"`
	PageIndex   int       `json:"page_index"`
	BoundingBox []float64 `json:"bounding_box,omitempty"`
	Text        string    `json:"text"`
}

// ParsedDoc is opaque to the core except for chunks, markdown and page
// count (spec.md §3). It is produced by an external parse/extract service;
// the core never constructs one from a PDF itself.
type ParsedDoc struct {
	DocumentID string  `json:"document_id"`
	ParseID    string  `json:"parse_id"`
	Chunks     []Chunk `json:"chunks"`
	Markdown   string  `json:"markdown"`
	PageCount  int     `json:"page_count"`
}

// Provenance locates a dotted extraction field path in the source document.
type Provenance struct {
	Page     int      `json:"page"`
	Box      []float64 `json:"box,omitempty"`
	ChunkIDs []string `json:"chunk_ids,omitempty"`
}

// AgreementInfo holds party names and the agreement/signature dates.
type AgreementInfo struct {
	PartyAName    string `json:"party_a_name"`
	PartyBName    string `json:"party_b_name"`
	AgreementDate string `json:"agreement_date"`
	SignatureDate string `json:"signature_date"`
}

// CoreMarginTerms holds the per-party numeric terms as raw (un-normalized)
// strings or numbers exactly as extracted — normalization happens downstream
// in the Currency Agent / Mapper.
type CoreMarginTerms struct {
	PartyAThreshold             interface{} `json:"party_a_threshold"`
	PartyBThreshold             interface{} `json:"party_b_threshold"`
	PartyAMinimumTransferAmount interface{} `json:"party_a_minimum_transfer_amount"`
	PartyBMinimumTransferAmount interface{} `json:"party_b_minimum_transfer_amount"`
	PartyAIndependentAmount     interface{} `json:"party_a_independent_amount"`
	PartyBIndependentAmount     interface{} `json:"party_b_independent_amount"`
	Rounding                    interface{} `json:"rounding"`
	BaseCurrency                string      `json:"base_currency"`
}

// ValuationTiming holds the notification/valuation time fields consumed by
// the Temporal Agent.
type ValuationTiming struct {
	NotificationTime string `json:"notification_time"`
	ValuationTime    string `json:"valuation_time"`
	ValuationAgent   string `json:"valuation_agent"`
}

// CollateralRow is one row of the eligible-collateral table: a type
// description plus a positional array of per-rating-column valuation
// strings (e.g. "99% (1-2yr), 98% (2-3yr)").
type CollateralRow struct {
	CollateralType string   `json:"collateral_type"`
	Valuations     []string `json:"valuations"`
}

// ColumnInfo names the rating-scenario columns the valuations in each
// CollateralRow line up with, positionally.
type ColumnInfo struct {
	ValuationColumnCount int      `json:"valuation_column_count"`
	ValuationColumnNames []string `json:"valuation_column_names"`
}

// Extraction is the hierarchical, still-raw field mapping the external
// document-AI service hands back (spec.md §3).
type Extraction struct {
	DocumentID            string                 `json:"document_id"`
	ExtractionID          string                 `json:"extraction_id"`
	AgreementInfo         AgreementInfo          `json:"agreement_info"`
	CoreMarginTerms       CoreMarginTerms        `json:"core_margin_terms"`
	ValuationTiming       ValuationTiming        `json:"valuation_timing"`
	EligibleCollateralTable []CollateralRow      `json:"eligible_collateral_table"`
	ColumnInfo            ColumnInfo             `json:"column_info"`
	ClausesToCollect      map[string]string      `json:"clauses_to_collect"`
	Provenance            map[string]Provenance  `json:"provenance"`
}
