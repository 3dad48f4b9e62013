package store

import (
	"math"
	"path/filepath"
	"testing"
)

type testTerms struct {
	Threshold float64            `json:"threshold"`
	Rounding  float64            `json:"rounding"`
	Currency  string             `json:"currency"`
	Scores    map[string]float64 `json:"scores,omitempty"`
}

func TestInfinityRoundTrip(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "data"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	in := testTerms{
		Threshold: math.Inf(1),
		Rounding:  10000,
		Currency:  "USD",
		Scores:    map[string]float64{"party_b": math.Inf(-1)},
	}

	if err := s.Save(KindCSATerms, "csa_terms_doc1", in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var out testTerms
	found, err := s.Load(KindCSATerms, "csa_terms_doc1", &out)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !found {
		t.Fatalf("expected artifact to be found")
	}
	if !math.IsInf(out.Threshold, 1) {
		t.Errorf("Threshold = %v, want +Inf", out.Threshold)
	}
	if out.Rounding != 10000 {
		t.Errorf("Rounding = %v, want 10000", out.Rounding)
	}
	if out.Currency != "USD" {
		t.Errorf("Currency = %q, want USD", out.Currency)
	}
	if !math.IsInf(out.Scores["party_b"], -1) {
		t.Errorf("Scores[party_b] = %v, want -Inf", out.Scores["party_b"])
	}
}

func TestExistsAndList(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Exists(KindJobs, "job_1") {
		t.Fatalf("expected job_1 to not exist yet")
	}
	if err := s.Save(KindJobs, "job_1", map[string]interface{}{"status": "pending"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !s.Exists(KindJobs, "job_1") {
		t.Fatalf("expected job_1 to exist")
	}
	ids, err := s.List(KindJobs)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 1 || ids[0] != "job_1" {
		t.Errorf("List = %v, want [job_1]", ids)
	}
}

func TestSavePDFRejectsBadMagic(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.SavePDF("doc1", []byte("not a pdf")); err == nil {
		t.Fatalf("expected error for non-PDF payload")
	}
	if err := s.SavePDF("doc1", []byte("%PDF-1.4\n...")); err != nil {
		t.Fatalf("SavePDF: %v", err)
	}
	data, found, err := s.LoadPDF("doc1")
	if err != nil || !found {
		t.Fatalf("LoadPDF: found=%v err=%v", found, err)
	}
	if string(data[:5]) != "%PDF-" {
		t.Errorf("loaded data missing magic bytes")
	}
}
