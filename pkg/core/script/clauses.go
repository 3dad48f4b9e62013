package script

import "csa-margin-engine/pkg/models"

// ClauseIndex looks up verbatim CSA clause text extracted for a document,
// keyed the same way Extraction.ClausesToCollect is keyed (a short field
// name such as "threshold" or "minimum_transfer_amount"). Grounded on
// original_source's clause_agent.py, which attaches verbatim clause text
// per clauses_to_collect key; the calculator itself never reads this (its
// CalculationStep.source_clause strings are fixed paragraph labels — see
// DESIGN.md), so the index exists only for the explanation/citation layer.
type ClauseIndex struct {
	clauses map[string]string
}

// NewClauseIndex builds an index from an Extraction's collected clauses.
func NewClauseIndex(extraction models.Extraction) ClauseIndex {
	return ClauseIndex{clauses: extraction.ClausesToCollect}
}

// Lookup returns the verbatim clause text for key and whether it was
// actually extracted (as opposed to absent, in which case callers must
// not fabricate a citation — spec.md §4's "quote it or omit it" rule).
func (c ClauseIndex) Lookup(key string) (string, bool) {
	if c.clauses == nil {
		return "", false
	}
	text, ok := c.clauses[key]
	if !ok || text == "" {
		return "", false
	}
	return text, true
}
