package models

// CalculationBreakdownStep narrates one CalculationStep for a human
// reader, citing the source clause text when it was actually extracted
// (never fabricated — spec.md §4 Explanation/Script Generator rule).
type CalculationBreakdownStep struct {
	StepNumber         int     `json:"step_number"`
	StepName           string  `json:"step_name"`
	Explanation        string  `json:"explanation"`
	CSAClauseReference *string `json:"csa_clause_reference,omitempty"`
	SourcePage         *int    `json:"source_page,omitempty"`
	Calculation        string  `json:"calculation"`
	Result             string  `json:"result"`
}

// AuditTrailEvent is one chronological entry in an explanation's event log.
type AuditTrailEvent struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Details   string `json:"details"`
}

// MarginCallExplanation is the LLM-generated, citation-aware narrative of
// one margin call (spec.md §2/§4 Explanation/Script Generator, 4% share).
type MarginCallExplanation struct {
	Narrative           string                     `json:"narrative"`
	KeyFactors          []string                   `json:"key_factors"`
	CalculationBreakdown []CalculationBreakdownStep `json:"calculation_breakdown"`
	AuditTrail          []AuditTrailEvent          `json:"audit_trail"`
	Citations           map[string]*int            `json:"citations"`
	RiskAssessment      string                     `json:"risk_assessment,omitempty"`
	NextSteps           string                     `json:"next_steps,omitempty"`

	GeneratedAt        string  `json:"generated_at"`
	LLMModel           string  `json:"llm_model"`
	DocumentID         string  `json:"document_id"`
	MarginCallAction   string  `json:"margin_call_action"`
	MarginCallAmount   float64 `json:"margin_call_amount"`
	CounterpartyName   string  `json:"counterparty_name"`
}
