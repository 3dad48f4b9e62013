package docai

// extractionSchema names every field models.Extraction expects back from
// the Extract API, keyed exactly the way its JSON tags are, so the
// response can be unmarshaled straight into the struct with no
// intermediate field-by-field mapping. Grounded on
// backend/app/services/csa_extraction_schema.json (referenced, not
// included, by original_source/_INDEX.md — the shape below follows
// CoreMarginTerms/AgreementInfo/ValuationTiming/CollateralRow's own field
// names one-to-one).
var extractionSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"agreement_info": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"party_a_name":   map[string]interface{}{"type": "string"},
				"party_b_name":   map[string]interface{}{"type": "string"},
				"agreement_date": map[string]interface{}{"type": "string"},
				"signature_date": map[string]interface{}{"type": "string"},
			},
		},
		"core_margin_terms": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"party_a_threshold":               map[string]interface{}{"type": "string"},
				"party_b_threshold":               map[string]interface{}{"type": "string"},
				"party_a_minimum_transfer_amount": map[string]interface{}{"type": "string"},
				"party_b_minimum_transfer_amount": map[string]interface{}{"type": "string"},
				"party_a_independent_amount":      map[string]interface{}{"type": "string"},
				"party_b_independent_amount":      map[string]interface{}{"type": "string"},
				"rounding":                        map[string]interface{}{"type": "string"},
				"base_currency":                   map[string]interface{}{"type": "string"},
			},
		},
		"valuation_timing": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"notification_time": map[string]interface{}{"type": "string"},
				"valuation_time":     map[string]interface{}{"type": "string"},
				"valuation_agent":    map[string]interface{}{"type": "string"},
			},
		},
		"eligible_collateral_table": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"collateral_type": map[string]interface{}{"type": "string"},
					"valuations":      map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				},
			},
		},
		"column_info": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"valuation_column_count": map[string]interface{}{"type": "integer"},
				"valuation_column_names": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			},
		},
		"clauses_to_collect": map[string]interface{}{
			"type":        "object",
			"description": "verbatim clause text, keyed by the field it supports (e.g. \"threshold\", \"rounding\") — never fabricated downstream",
		},
	},
}
