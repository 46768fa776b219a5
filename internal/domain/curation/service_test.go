package curation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/swasthyasetu/termbridge/internal/domain/terminology"
	"github.com/swasthyasetu/termbridge/internal/platform/apperr"
	"github.com/swasthyasetu/termbridge/internal/platform/events"
)

var testTime = time.Date(2025, 2, 3, 11, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type fixedScorer int

func (s fixedScorer) Score(context.Context, string, string) (int, error) { return int(s), nil }

func newTestService(t *testing.T, wrap func(terminology.Store) terminology.Store) (*Service, terminology.Store, *recordingPublisher) {
	t.Helper()
	ctx := context.Background()
	var store terminology.Store = terminology.NewMemoryStore()
	if _, err := terminology.Seed(ctx, store); err != nil {
		t.Fatalf("seed: %v", err)
	}
	contribs := NewMemoryContributions()
	if _, err := SeedContributions(ctx, contribs); err != nil {
		t.Fatalf("seed contributions: %v", err)
	}
	if wrap != nil {
		store = wrap(store)
	}
	pub := &recordingPublisher{}
	svc := NewService(store, contribs, fixedScorer(77), pub, zerolog.Nop(), Config{
		Version:    terminology.DemoMappingVersion,
		MaxRetries: DefaultMaxRetries,
	})
	svc.now = func() time.Time { return testTime }
	return svc, store, pub
}

func id(nmt, icd string) string { return terminology.DemoMappingID(nmt, icd) }

func acceptedFor(t *testing.T, store terminology.Store, nmt string) []terminology.MappingRecord {
	t.Helper()
	recs, _, err := store.ListMappingsByStatus(context.Background(), terminology.StatusAccepted,
		terminology.MappingFilter{NamasteCode: nmt, Version: terminology.DemoMappingVersion})
	if err != nil {
		t.Fatalf("list accepted: %v", err)
	}
	return recs
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to terminology.MappingStatus
		ok       bool
	}{
		{terminology.StatusSuggested, terminology.StatusPending, true},
		{terminology.StatusSuggested, terminology.StatusAccepted, false},
		{terminology.StatusPending, terminology.StatusAccepted, true},
		{terminology.StatusPending, terminology.StatusRejected, true},
		{terminology.StatusPending, terminology.StatusUnderReview, true},
		{terminology.StatusUnderReview, terminology.StatusAccepted, true},
		{terminology.StatusUnderReview, terminology.StatusPending, false},
		{terminology.StatusAccepted, terminology.StatusSuperseded, true},
		{terminology.StatusAccepted, terminology.StatusRejected, false},
		{terminology.StatusRejected, terminology.StatusAccepted, false},
		{terminology.StatusSuperseded, terminology.StatusAccepted, false},
	}
	for _, tt := range tests {
		err := ValidateTransition("m1", tt.from, tt.to)
		if tt.ok && err != nil {
			t.Errorf("%s -> %s: unexpected error %v", tt.from, tt.to, err)
		}
		if !tt.ok && !errors.Is(err, apperr.ErrStateTransition) {
			t.Errorf("%s -> %s: expected state transition error, got %v", tt.from, tt.to, err)
		}
	}
}

func TestAccept_SupersedesRival(t *testing.T) {
	svc, store, pub := newTestService(t, nil)
	ctx := context.Background()

	rec, err := svc.Accept(ctx, id("NMT456", "CA40"), "dr-iyer")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if rec.Status != terminology.StatusAccepted || rec.ApprovedBy != "dr-iyer" || rec.ApprovedDate == nil {
		t.Errorf("unexpected accepted record %+v", rec)
	}
	if rec.Revision != 2 {
		t.Errorf("expected revision 2, got %d", rec.Revision)
	}

	old, err := svc.Get(ctx, id("NMT456", "MD12"))
	if err != nil {
		t.Fatalf("get rival: %v", err)
	}
	if old.Status != terminology.StatusSuperseded || old.SupersededBy != rec.ID {
		t.Errorf("expected rival superseded by %s, got %+v", rec.ID, old)
	}
	if got := acceptedFor(t, store, "NMT456"); len(got) != 1 || got[0].ID != rec.ID {
		t.Errorf("expected exactly one accepted record, got %+v", got)
	}

	types := pub.types()
	if len(types) != 2 || types[0] != events.MappingAccepted || types[1] != events.MappingSuperseded {
		t.Errorf("unexpected events %v", types)
	}

	// superseded never comes back
	if _, err := svc.Accept(ctx, id("NMT456", "MD12"), "dr-iyer"); !errors.Is(err, apperr.ErrStateTransition) {
		t.Errorf("expected state transition error re-accepting superseded record, got %v", err)
	}
}

func TestAccept_IllegalStates(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()

	for _, mid := range []string{id("NMT567", "DD90"), id("NMT234", "6A70"), id("NMT123", "1A00")} {
		_, err := svc.Accept(ctx, mid, "dr-iyer")
		var ste *apperr.StateTransitionError
		if !errors.As(err, &ste) {
			t.Errorf("%s: expected StateTransitionError, got %v", mid, err)
			continue
		}
		if apperr.HTTPStatus(err) != 409 {
			t.Errorf("%s: expected 409, got %d", mid, apperr.HTTPStatus(err))
		}
	}
	if _, err := svc.Accept(ctx, "missing", "dr-iyer"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := svc.Accept(ctx, id("NMT456", "CA40"), " "); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for blank curator, got %v", err)
	}
}

func TestReject_RequiresReason(t *testing.T) {
	svc, _, pub := newTestService(t, nil)
	ctx := context.Background()
	mid := id("NMT345", "DB90")

	_, err := svc.Reject(ctx, mid, "dr-iyer", "  ")
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) || ve.Fields[0].Field != "reason" {
		t.Fatalf("expected reason validation error, got %v", err)
	}
	hist, err := svc.History(ctx, mid)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 1 || hist[0].Status != terminology.StatusPending {
		t.Errorf("expected nothing persisted, got %+v", hist)
	}
	if len(pub.types()) != 0 {
		t.Errorf("expected no events, got %v", pub.types())
	}

	rec, err := svc.Reject(ctx, mid, "dr-iyer", "needs symptom specificity")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rec.Status != terminology.StatusRejected || rec.Reason != "needs symptom specificity" {
		t.Errorf("unexpected rejected record %+v", rec)
	}
}

func TestSubmitAndEscalate(t *testing.T) {
	svc, _, pub := newTestService(t, nil)
	ctx := context.Background()

	rec, err := svc.Submit(ctx, id("NMT234", "7A00"), "contrib-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rec.Status != terminology.StatusPending || rec.RecordedBy != "contrib-1" {
		t.Errorf("unexpected submitted record %+v", rec)
	}
	if _, err := svc.Submit(ctx, rec.ID, "contrib-1"); !errors.Is(err, apperr.ErrStateTransition) {
		t.Errorf("expected second submit to fail, got %v", err)
	}

	rec, err = svc.Escalate(ctx, rec.ID, "dr-iyer", "ask a shalakya specialist")
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if rec.Status != terminology.StatusUnderReview || rec.Reason != "ask a shalakya specialist" {
		t.Errorf("unexpected escalated record %+v", rec)
	}
	if rec.Revision != 3 {
		t.Errorf("expected revision 3, got %d", rec.Revision)
	}

	types := pub.types()
	if len(types) != 2 || types[0] != events.MappingSubmitted || types[1] != events.MappingEscalated {
		t.Errorf("unexpected events %v", types)
	}
}

func TestPropose_Idempotent(t *testing.T) {
	svc, _, pub := newTestService(t, nil)
	ctx := context.Background()

	existing, err := svc.Propose(ctx, terminology.MappingRecord{
		NamasteCode: "NMT234", ICDCode: "6A70", Confidence: 63,
	}, "dr-iyer")
	if err != nil {
		t.Fatalf("propose existing: %v", err)
	}
	if existing.ID != id("NMT234", "6A70") || existing.Revision != 1 {
		t.Errorf("expected the seeded record back, got %+v", existing)
	}

	cand := terminology.MappingRecord{
		NamasteCode: "NMT901", ICDCode: "MD11", Confidence: 90,
		Explanation: `synonym "dyspnea" of NMT901 Shwasa`, Source: terminology.SourceMatcher,
	}
	rec, err := svc.Propose(ctx, cand, "dr-iyer")
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if rec.ID == "" || rec.Status != terminology.StatusSuggested || rec.Version != terminology.DemoMappingVersion {
		t.Errorf("unexpected proposed record %+v", rec)
	}
	again, err := svc.Propose(ctx, cand, "dr-iyer")
	if err != nil {
		t.Fatalf("propose again: %v", err)
	}
	if again.ID != rec.ID {
		t.Errorf("expected same record, got %s and %s", rec.ID, again.ID)
	}
	if types := pub.types(); len(types) != 1 || types[0] != events.MappingProposed {
		t.Errorf("unexpected events %v", types)
	}
}

// conflictStore fails the first n batch writes as if another writer won.
type conflictStore struct {
	terminology.Store
	mu    sync.Mutex
	n     int
	calls int
}

func (s *conflictStore) PutMappings(ctx context.Context, recs ...terminology.MappingRecord) ([]terminology.MappingRecord, error) {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.n
	s.mu.Unlock()
	if fail {
		return nil, apperr.Conflict("stale revision")
	}
	return s.Store.PutMappings(ctx, recs...)
}

func TestAccept_RetriesConflicts(t *testing.T) {
	var cs *conflictStore
	svc, _, _ := newTestService(t, func(s terminology.Store) terminology.Store {
		cs = &conflictStore{Store: s, n: 2}
		return cs
	})
	rec, err := svc.Accept(context.Background(), id("NMT890", "FA20"), "dr-iyer")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if rec.Status != terminology.StatusAccepted {
		t.Errorf("expected accepted, got %s", rec.Status)
	}
	if cs.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", cs.calls)
	}
}

func TestAccept_GivesUpAfterMaxRetries(t *testing.T) {
	var cs *conflictStore
	svc, _, pub := newTestService(t, func(s terminology.Store) terminology.Store {
		cs = &conflictStore{Store: s, n: 100}
		return cs
	})
	_, err := svc.Accept(context.Background(), id("NMT890", "FA20"), "dr-iyer")
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if cs.calls != DefaultMaxRetries+1 {
		t.Errorf("expected %d attempts, got %d", DefaultMaxRetries+1, cs.calls)
	}
	if len(pub.types()) != 0 {
		t.Errorf("expected no events, got %v", pub.types())
	}
}

func TestAccept_ConcurrentRivals(t *testing.T) {
	svc, store, _ := newTestService(t, nil)
	ctx := context.Background()
	if _, err := svc.Submit(ctx, id("NMT890", "FA21"), "dr-iyer"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	ids := []string{id("NMT890", "FA20"), id("NMT890", "FA21")}
	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, mid := range ids {
		wg.Add(1)
		go func(i int, mid string) {
			defer wg.Done()
			_, errs[i] = svc.Accept(ctx, mid, "dr-iyer")
		}(i, mid)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("accept %s: %v", ids[i], err)
		}
	}
	accepted := acceptedFor(t, store, "NMT890")
	if len(accepted) != 1 {
		t.Fatalf("expected one accepted record, got %d", len(accepted))
	}
	loser := ids[0]
	if accepted[0].ID == ids[0] {
		loser = ids[1]
	}
	rec, err := svc.Get(ctx, loser)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != terminology.StatusSuperseded || rec.SupersededBy != accepted[0].ID {
		t.Errorf("expected %s superseded by %s, got %+v", loser, accepted[0].ID, rec)
	}
}

func TestStats_AfterTransitions(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()
	if _, err := svc.Accept(ctx, id("NMT456", "CA40"), "dr-iyer"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	st, err := svc.Stats(ctx, "")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Version != terminology.DemoMappingVersion {
		t.Errorf("expected default version, got %s", st.Version)
	}
	if st.ByStatus[terminology.StatusAccepted] != 3 || st.ByStatus[terminology.StatusSuperseded] != 1 {
		t.Errorf("unexpected counts %+v", st.ByStatus)
	}
	if st.Total != 13 {
		t.Errorf("expected 13 records, got %d", st.Total)
	}
}
