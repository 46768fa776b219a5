package matcher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/swasthyasetu/termbridge/internal/domain/terminology"
	"github.com/swasthyasetu/termbridge/internal/platform/apperr"
)

func newDemoMatcher(t *testing.T) *Matcher {
	t.Helper()
	store := terminology.NewMemoryStore()
	if _, err := terminology.Seed(context.Background(), store); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return New(store, terminology.DemoMappingVersion)
}

func TestSuggest_FeverPrefersCuratedJwara(t *testing.T) {
	m := newDemoMatcher(t)

	got, err := m.Suggest(context.Background(), Request{Text: "fever"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) < 2 {
		t.Fatalf("expected several candidates, got %d", len(got))
	}
	top := got[0]
	if top.NamasteCode != "NMT123" || top.ICDCode != "1A00" {
		t.Fatalf("expected NMT123 -> 1A00 first, got %s -> %s", top.NamasteCode, top.ICDCode)
	}
	if top.Confidence < 90 {
		t.Errorf("expected confidence >= 90, got %d", top.Confidence)
	}
	if !strings.Contains(top.Explanation, "fever") {
		t.Errorf("explanation should name the term: %s", top.Explanation)
	}
	if top.Status != terminology.StatusSuggested || top.Source != terminology.SourceMatcher || top.Version != terminology.DemoMappingVersion {
		t.Errorf("unexpected candidate metadata %+v", top)
	}
	if got[1].ICDCode != "MG26" || got[1].Confidence != 86 {
		t.Errorf("expected lexical MG26 at 86 second, got %s at %d", got[1].ICDCode, got[1].Confidence)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Confidence > got[i-1].Confidence {
			t.Fatalf("not ordered by confidence at %d", i)
		}
	}
}

func TestSuggest_CodeMode(t *testing.T) {
	m := newDemoMatcher(t)

	for _, req := range []Request{{NamasteCode: "NMT123"}, {Text: " nmt123 "}} {
		got, err := m.Suggest(context.Background(), req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) == 0 || got[0].ICDCode != "1A00" || got[0].Confidence != 100 {
			t.Fatalf("expected exact curated 1A00 at 100, got %+v", got)
		}
		if !strings.Contains(got[0].Explanation, "exact curated match") {
			t.Errorf("unexpected explanation %s", got[0].Explanation)
		}
		for _, c := range got[1:] {
			if c.Confidence > 99 {
				t.Errorf("only curated pairs may score 100, got %s at %d", c.ICDCode, c.Confidence)
			}
		}
	}

	_, err := m.Suggest(context.Background(), Request{NamasteCode: "NMT000"})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found for unknown code, got %v", err)
	}
}

func TestSuggest_InputErrors(t *testing.T) {
	m := newDemoMatcher(t)
	ctx := context.Background()

	if _, err := m.Suggest(ctx, Request{}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	for _, text := range []string{"a", "!?", "x ."} {
		if _, err := m.Suggest(ctx, Request{Text: text}); !errors.Is(err, apperr.ErrInputTooShort) {
			t.Errorf("%q: expected input too short, got %v", text, err)
		}
	}
}

func TestSuggest_NoMatchIsEmpty(t *testing.T) {
	m := newDemoMatcher(t)
	for _, text := range []string{"xyzzy plugh", "the patient"} {
		got, err := m.Suggest(context.Background(), Request{Text: text})
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", text, err)
		}
		if len(got) != 0 {
			t.Errorf("%q: expected no candidates, got %d", text, len(got))
		}
	}
}

func TestSuggest_Limit(t *testing.T) {
	m := newDemoMatcher(t)
	got, err := m.Suggest(context.Background(), Request{Text: "fever", Limit: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 candidate, got %d", len(got))
	}
}

// polysemyStore has two NAMASTE concepts sharing the synonym "fever" and a
// single ICD-11 target whose display is "Fever".
func polysemyStore(t *testing.T, shared bool) *terminology.MemoryStore {
	t.Helper()
	s := terminology.NewMemoryStore()
	entries := []terminology.CodeEntry{
		{System: terminology.SystemNAMASTE, Code: "NMT1", Display: "Jwara", Synonyms: []string{"fever"}, Version: "v1"},
		{System: terminology.SystemICD11, Code: "MG26", Display: "Fever", Version: "v1"},
	}
	if shared {
		entries = append(entries, terminology.CodeEntry{
			System: terminology.SystemNAMASTE, Code: "NMT2", Display: "Santapa", Synonyms: []string{"fever"}, Version: "v1",
		})
	}
	if err := s.PublishCodes(context.Background(), entries); err != nil {
		t.Fatalf("publish: %v", err)
	}
	return s
}

func TestSuggest_PolysemyPenalty(t *testing.T) {
	single, err := New(polysemyStore(t, false), "v1").Suggest(context.Background(), Request{Text: "fever"})
	if err != nil || len(single) != 1 {
		t.Fatalf("expected one candidate, got %v %v", single, err)
	}
	// synonym phrase 0.95 x phrase-equal lexical link 0.9
	if single[0].Confidence != 86 {
		t.Errorf("expected 86, got %d", single[0].Confidence)
	}

	shared, err := New(polysemyStore(t, true), "v1").Suggest(context.Background(), Request{Text: "fever"})
	if err != nil || len(shared) != 2 {
		t.Fatalf("expected two candidates, got %v %v", shared, err)
	}
	for _, c := range shared {
		if c.Confidence != 79 {
			t.Errorf("%s: expected 86-7=79, got %d", c.NamasteCode, c.Confidence)
		}
	}
	if shared[0].NamasteCode != "NMT1" {
		t.Errorf("expected ties broken by namasteCode, got %s first", shared[0].NamasteCode)
	}
}

func TestSuggest_HistoryBreaksTies(t *testing.T) {
	s := polysemyStore(t, true)
	_, err := s.PutMapping(context.Background(), terminology.MappingRecord{
		ID: "r1", NamasteCode: "NMT2", ICDCode: "MG26", Confidence: 50,
		Status: terminology.StatusRejected, Source: terminology.SourceManual, Version: "v0", Reason: "too broad",
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := New(s, "v1").Suggest(context.Background(), Request{Text: "fever"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[0].NamasteCode != "NMT2" {
		t.Errorf("expected the pair with history first, got %s", got[0].NamasteCode)
	}
}

func TestSuggest_TokenHits(t *testing.T) {
	m := newDemoMatcher(t)
	got, err := m.Suggest(context.Background(), Request{Text: "weak digestive metabolism"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, c := range got {
		if c.NamasteCode == "NMT567" {
			found = true
			if c.Confidence > 75 {
				t.Errorf("token-only hits should stay below phrase hits, got %d", c.Confidence)
			}
		}
	}
	if !found {
		t.Errorf("expected an NMT567 candidate, got %+v", got)
	}
}

func TestSuggest_Concurrent(t *testing.T) {
	m := newDemoMatcher(t)
	want, _ := m.Suggest(context.Background(), Request{Text: "fever and cough"})

	var wg sync.WaitGroup
	errs := make(chan string, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := m.Suggest(context.Background(), Request{Text: "fever and cough"})
			if err != nil || len(got) != len(want) {
				errs <- "length mismatch"
				return
			}
			for j := range got {
				if got[j].ICDCode != want[j].ICDCode || got[j].Confidence != want[j].Confidence {
					errs <- "order mismatch"
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}
}

func TestScore(t *testing.T) {
	m := newDemoMatcher(t)
	ctx := context.Background()

	tests := []struct {
		nmt, icd string
		want     int
	}{
		{"NMT123", "1A00", 100},
		{"NMT123", "ICD11:MG26", 90},
		{"NMT234", "6A70", 63},
		{"NMT123", "MD12", 0},
	}
	for _, tt := range tests {
		got, err := m.Score(ctx, tt.nmt, tt.icd)
		if err != nil {
			t.Fatalf("%s/%s: unexpected error: %v", tt.nmt, tt.icd, err)
		}
		if got != tt.want {
			t.Errorf("%s/%s: expected %d, got %d", tt.nmt, tt.icd, tt.want, got)
		}
	}

	if _, err := m.Score(ctx, "NMT123", "ZZ99"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
