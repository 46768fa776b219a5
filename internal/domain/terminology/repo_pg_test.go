//go:build integration

package terminology

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/swasthyasetu/termbridge/internal/platform/apperr"
	"github.com/swasthyasetu/termbridge/internal/platform/db/pgtest"
)

var pg *pgtest.Server

func TestMain(m *testing.M) {
	pgtest.Main(m, 15441, &pg)
}

func newPGStore(t *testing.T) *PGStore {
	t.Helper()
	return NewPGStore(pg.Pool(t))
}

func newSeededPGStore(t *testing.T) *PGStore {
	t.Helper()
	s := newPGStore(t)
	if seeded, err := Seed(context.Background(), s); err != nil || !seeded {
		t.Fatalf("seed: %v (seeded=%v)", err, seeded)
	}
	return s
}

func TestPGStore_SearchCodes_MatchesMemory(t *testing.T) {
	pgs := newSeededPGStore(t)
	mem := newSeededStore(t)
	ctx := context.Background()

	queries := []struct {
		system System
		q      string
	}{
		{SystemICD11, "fever"},
		{SystemICD11, "a"},
		{SystemNAMASTE, "nmt123"},
		{SystemNAMASTE, "cough"},
		{SystemNAMASTE, "dyspnea"},
	}
	for _, tt := range queries {
		want, err := mem.SearchCodes(ctx, tt.system, tt.q, 50)
		if err != nil {
			t.Fatalf("memory %q: %v", tt.q, err)
		}
		got, err := pgs.SearchCodes(ctx, tt.system, tt.q, 50)
		if err != nil {
			t.Fatalf("postgres %q: %v", tt.q, err)
		}
		if len(got) != len(want) {
			t.Errorf("%q: expected %v, got %v", tt.q, codes(want), codes(got))
			continue
		}
		for i := range want {
			if got[i].Code != want[i].Code {
				t.Errorf("%q position %d: expected %s, got %s", tt.q, i, want[i].Code, got[i].Code)
			}
		}
	}

	if _, err := pgs.SearchCodes(ctx, SystemICD11, "  ", 10); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for blank query, got %v", err)
	}
}

func TestPGStore_PublishCodes_Versions(t *testing.T) {
	s := newPGStore(t)
	ctx := context.Background()

	if err := s.PublishCodes(ctx, []CodeEntry{{System: SystemICD11, Code: "1A00", Display: "Typhoid", Version: "2024"}}); err != nil {
		t.Fatalf("publish v1: %v", err)
	}
	if err := s.PublishCodes(ctx, []CodeEntry{{System: SystemICD11, Code: "1a00", Display: "Typhoid fever", Version: "2025"}}); err != nil {
		t.Fatalf("publish v2: %v", err)
	}

	latest, err := s.GetCode(ctx, SystemICD11, "1A00", "")
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	if latest.Version != "2025" {
		t.Errorf("expected 2025, got %+v", latest)
	}
	old, err := s.GetCode(ctx, SystemICD11, "1A00", "2024")
	if err != nil || old.Display != "Typhoid" {
		t.Errorf("expected 2024 entry, got %+v, %v", old, err)
	}

	dup := []CodeEntry{
		{System: SystemICD11, Code: "1A01", Display: "Paratyphoid", Version: "2025"},
		{System: SystemICD11, Code: "1A00", Display: "again", Version: "2025"},
	}
	if err := s.PublishCodes(ctx, dup); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := s.GetCode(ctx, SystemICD11, "1A01", ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("failed batch must write nothing, got %v", err)
	}
}

func TestPGStore_MatchTerms(t *testing.T) {
	s := newSeededPGStore(t)
	hits, err := s.MatchTerms(context.Background(), SystemNAMASTE, []string{"fever"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, h := range hits["fever"] {
		if h.Entry.Code == "NMT123" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected NMT123 for fever, got %+v", hits)
	}
}

func TestPGStore_PutMapping_CompareAndSwap(t *testing.T) {
	s := newPGStore(t)
	ctx := context.Background()

	r, err := s.PutMapping(ctx, newRecord("m1", "NMT1", "1A00", StatusSuggested))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	next := *r
	next.Status = StatusPending
	if _, err := s.PutMapping(ctx, next); err != nil {
		t.Fatalf("update: %v", err)
	}
	stale := *r
	stale.Status = StatusRejected
	if _, err := s.PutMapping(ctx, stale); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict for stale revision, got %v", err)
	}

	hist, err := s.MappingHistory(ctx, "m1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 || hist[1].Revision != 2 || hist[1].Status != StatusPending {
		t.Errorf("unexpected history %+v", hist)
	}
}

func TestPGStore_PutMappings_AcceptedUniqueness(t *testing.T) {
	s := newPGStore(t)
	ctx := context.Background()

	a, _ := s.PutMapping(ctx, newRecord("a", "NMT1", "1A00", StatusAccepted))
	b, _ := s.PutMapping(ctx, newRecord("b", "NMT1", "1A01", StatusPending))

	accept := *b
	accept.Status = StatusAccepted
	if _, err := s.PutMappings(ctx, accept); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	supersede := *a
	supersede.Status = StatusSuperseded
	supersede.SupersededBy = "b"
	if _, err := s.PutMappings(ctx, supersede, accept); err != nil {
		t.Fatalf("accept with supersede: %v", err)
	}

	recs, err := s.MappingsForConcept(ctx, "NMT1")
	if err != nil {
		t.Fatalf("concept: %v", err)
	}
	accepted := 0
	for _, r := range recs {
		if r.Status == StatusAccepted {
			accepted++
		}
	}
	if accepted != 1 {
		t.Errorf("expected one accepted record, got %d", accepted)
	}
}

func TestPGStore_ConcurrentAccepts(t *testing.T) {
	s := newPGStore(t)
	ctx := context.Background()

	var recs []*MappingRecord
	for _, id := range []string{"x", "y", "z"} {
		r, err := s.PutMapping(ctx, newRecord(id, "NMT9", "1A0"+id, StatusPending))
		if err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
		recs = append(recs, r)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(recs))
	for i, r := range recs {
		wg.Add(1)
		go func(i int, r MappingRecord) {
			defer wg.Done()
			r.Status = StatusAccepted
			_, errs[i] = s.PutMappings(ctx, r)
		}(i, *r)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, apperr.ErrConflict):
			t.Errorf("unexpected error %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("expected exactly one accept to commit, got %d", ok)
	}
}

func TestPGStore_ListAndStats(t *testing.T) {
	s := newSeededPGStore(t)
	ctx := context.Background()

	all, total, err := s.ListMappingsByStatus(ctx, "", MappingFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != len(DemoMappings(time.Now())) || len(all) != total {
		t.Errorf("expected every seeded record, got %d/%d", len(all), total)
	}

	min := 40
	page, total, _ := s.ListMappingsByStatus(ctx, StatusSuggested, MappingFilter{MinConfidence: &min, Limit: 1, Offset: 1})
	if total != 3 || len(page) != 1 || page[0].ID != DemoMappingID("NMT234", "DD90") {
		t.Errorf("unexpected page %d %+v", total, page)
	}

	st, err := s.MappingStats(ctx, DemoMappingVersion)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Total != 13 || st.ByStatus[StatusAccepted] != 3 || st.LowConfidence != 6 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestPGStore_AcceptedUniquenessIgnoresCase(t *testing.T) {
	s := newPGStore(t)
	ctx := context.Background()

	if _, err := s.PutMapping(ctx, newRecord("upper", "NMT1", "1A00", StatusAccepted)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.PutMapping(ctx, newRecord("lower", "nmt1", "1A01", StatusAccepted)); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict for a second accepted record in another case, got %v", err)
	}
}
