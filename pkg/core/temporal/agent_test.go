package temporal

import (
	"context"
	"testing"

	"csa-margin-engine/pkg/core/agent"
)

func newTestAgent() *Agent {
	return NewAgent(agent.NewManager(agent.Config{}))
}

func TestQualitativeTimePreLLMShortCircuit(t *testing.T) {
	a := newTestAgent()
	cases := map[string]string{
		"close of business": "17:00",
		"end of day":         "23:59",
		"start of day":       "00:00",
		"market close":       "16:00",
	}
	for phrase, want := range cases {
		result, err := a.step1ParseTimeFormat(context.Background(), phrase)
		if err != nil {
			t.Fatalf("phrase=%q: unexpected error: %v", phrase, err)
		}
		if result.Time24h != want || !result.IsQualitative {
			t.Errorf("phrase=%q: got time_24h=%q is_qualitative=%v, want %q true", phrase, result.Time24h, result.IsQualitative, want)
		}
	}
}

func TestMapTimezoneKnownHints(t *testing.T) {
	cases := map[string]string{
		"EST":           "America/New_York",
		"New York time": "America/New_York",
		"GMT":           "Europe/London",
		"JST":           "Asia/Tokyo",
		"HKT":           "Asia/Hong_Kong",
	}
	for hint, want := range cases {
		if got := mapTimezone(hint); got != want {
			t.Errorf("mapTimezone(%q) = %q, want %q", hint, got, want)
		}
	}
}

func TestStep3InferTimezoneConfidenceTiers(t *testing.T) {
	a := newTestAgent()

	explicit := a.step3InferTimezone("EST", "")
	if explicit.Confidence != 0.95 || explicit.InferenceSource != "explicit" {
		t.Errorf("explicit = %+v", explicit)
	}

	contextOnly := a.step3InferTimezone("", "GMT")
	if contextOnly.Confidence != 0.90 || contextOnly.InferenceSource != "context" {
		t.Errorf("context = %+v", contextOnly)
	}

	none := a.step3InferTimezone("", "")
	if none.Confidence != 0.50 || none.InferenceSource != "none" {
		t.Errorf("none = %+v", none)
	}
}

func TestValidTimeFormat(t *testing.T) {
	valid := []string{"00:00", "23:59", "13:00:00"}
	invalid := []string{"24:00", "12:60", "bad", "1"}
	for _, v := range valid {
		if !validTimeFormat(v) {
			t.Errorf("validTimeFormat(%q) = false, want true", v)
		}
	}
	for _, v := range invalid {
		if validTimeFormat(v) {
			t.Errorf("validTimeFormat(%q) = true, want false", v)
		}
	}
}

func TestStep4RequiresHumanReviewWhenNoTimezone(t *testing.T) {
	a := newTestAgent()
	parsed := parseResult{Time24h: "13:00"}
	tz := timezoneInference{InferenceSource: "none", Confidence: 0.50}
	result := a.step4ValidateAndFlag("1:00 pm", parsed, tz)
	if !result.RequiresHumanReview {
		t.Fatalf("expected RequiresHumanReview=true when no timezone resolved, got %+v", result)
	}
	if result.Time != "13:00:00" {
		t.Fatalf("expected time padded to HH:MM:SS, got %q", result.Time)
	}
}

func TestNormalizeDateFieldKnownFormats(t *testing.T) {
	cases := map[string]string{
		"2026-03-15":        "2026-03-15",
		"03/15/2026":         "2026-03-15",
		"March 15, 2026":     "2026-03-15",
	}
	for raw, want := range cases {
		result := NormalizeDateField(raw)
		if result.Date != want || result.Confidence != 0.95 {
			t.Errorf("NormalizeDateField(%q) = %+v, want date=%q confidence=0.95", raw, result, want)
		}
	}
}

func TestNormalizeDateFieldUnparseableFallsBack(t *testing.T) {
	result := NormalizeDateField("not a date at all")
	if result.Date != "not a date at all" || result.Confidence != 0.50 || result.FormatDetected != "unknown" {
		t.Fatalf("got %+v", result)
	}
}
