// Package models holds the domain entities shared by every stage of the
// pipeline described in SPEC_FULL.md: parsed documents, extractions,
// normalized collateral, CSA terms, margin calls and the observability
// entities (reasoning steps, agent results, validation reports).
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewArtifactID builds an id of the form <prefix>_<parentID>_<utc_timestamp>,
// chaining each stage's id to its parent the way the original file store does
// (FileStorage.generate_id in the Python source).
func NewArtifactID(prefix, parentID string) string {
	ts := time.Now().UTC().Format("20060102_150405")
	if parentID == "" {
		return fmt.Sprintf("%s_%s_%s", prefix, uuid.NewString()[:8], ts)
	}
	return fmt.Sprintf("%s_%s_%s", prefix, parentID, ts)
}
