// Package docx provides the parsed-document helpers the Temporal Agent and
// the pipeline use: markdown cleanup/validation (grounded on
// pkg/core/utils/markdown.go in the teacher) and the timezone-token scan
// spec.md §4.4 step 2 requires.
package docx

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/text"
)

// CleanMarkdown strips an outer ```markdown ... ``` or ``` ... ``` fence.
func CleanMarkdown(input string) string {
	cleaned := strings.TrimSpace(input)
	switch {
	case strings.HasPrefix(cleaned, "```markdown") && strings.HasSuffix(cleaned, "```"):
		cleaned = strings.TrimSuffix(strings.TrimPrefix(cleaned, "```markdown"), "```")
	case strings.HasPrefix(cleaned, "```") && strings.HasSuffix(cleaned, "```"):
		cleaned = strings.TrimSuffix(strings.TrimPrefix(cleaned, "```"), "```")
	}
	return strings.TrimSpace(cleaned)
}

// ValidateMarkdown reports whether input parses as markdown at all
// (goldmark is permissive; this only catches catastrophic failures).
func ValidateMarkdown(input string) bool {
	parser := goldmark.DefaultParser()
	reader := text.NewReader([]byte(input))
	return parser.Parse(reader) != nil
}

var timezoneTokenPattern = regexp.MustCompile(`(?i)EST|EDT|ET|New York time|GMT|BST|London time|JST|Tokyo time|HKT`)

// FindTimezoneNear scans markdown for a timezone token within +/-100
// characters of the first 5 characters of timeValue, matching spec.md
// §4.4 step 2's document-context lookup for time fields whose own text
// carries no explicit timezone hint. Returns "" if nothing is found.
func FindTimezoneNear(markdown, timeValue string) string {
	anchor := timeValue
	if len(anchor) > 5 {
		anchor = anchor[:5]
	}
	if anchor == "" {
		return ""
	}
	idx := strings.Index(markdown, anchor)
	if idx == -1 {
		return ""
	}
	start := idx - 100
	if start < 0 {
		start = 0
	}
	end := idx + len(anchor) + 100
	if end > len(markdown) {
		end = len(markdown)
	}
	window := markdown[start:end]
	return timezoneTokenPattern.FindString(window)
}
