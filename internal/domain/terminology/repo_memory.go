package terminology

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/swasthyasetu/termbridge/internal/platform/apperr"
)

// MemoryStore is a single-process Store. All writes serialize on one lock.
type MemoryStore struct {
	mu sync.RWMutex

	// versions of each code in publish order, keyed by system then upper-cased code
	codes map[System]map[string][]CodeEntry
	keys  map[string]struct{}
	index map[System]map[string]termIndex

	// revisions of each mapping, oldest first
	mappings map[string][]MappingRecord

	now func() time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		codes:    make(map[System]map[string][]CodeEntry),
		keys:     make(map[string]struct{}),
		index:    make(map[System]map[string]termIndex),
		mappings: make(map[string][]MappingRecord),
		now:      time.Now,
	}
}

// GetCode returns a code at version, or the latest version when empty.
func (s *MemoryStore) GetCode(_ context.Context, system System, code, version string) (*CodeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.codes[system][strings.ToUpper(strings.TrimSpace(code))]
	if len(versions) == 0 {
		return nil, apperr.NotFound(string(system)+" code", code)
	}
	if version == "" {
		e := versions[len(versions)-1]
		return &e, nil
	}
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].Version == version {
			e := versions[i]
			return &e, nil
		}
	}
	return nil, apperr.NotFound(string(system)+" code", code+"@"+version)
}

func (s *MemoryStore) latest(system System) []CodeEntry {
	byCode := s.codes[system]
	out := make([]CodeEntry, 0, len(byCode))
	for _, versions := range byCode {
		out = append(out, versions[len(versions)-1])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// SearchCodes ranks the latest entries of system against query.
func (s *MemoryStore) SearchCodes(_ context.Context, system System, query string, limit int) ([]CodeEntry, error) {
	q, err := newSearchQuery(query)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return rankSearch(s.latest(system), q, searchLimit(limit)), nil
}

// PublishCodes appends entries. The batch fails as a whole on a duplicate.
func (s *MemoryStore) PublishCodes(_ context.Context, entries []CodeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prepared, err := prepareEntries(entries, s.now().UTC())
	if err != nil {
		return err
	}
	for _, e := range prepared {
		if _, exists := s.keys[entryKey(e.System, e.Code, e.Version)]; exists {
			return apperr.Conflict("%s %s version %s is already published", e.System, e.Code, e.Version)
		}
	}

	for _, e := range prepared {
		s.keys[entryKey(e.System, e.Code, e.Version)] = struct{}{}
		if s.codes[e.System] == nil {
			s.codes[e.System] = make(map[string][]CodeEntry)
			s.index[e.System] = make(map[string]termIndex)
		}
		k := strings.ToUpper(e.Code)
		s.codes[e.System][k] = append(s.codes[e.System][k], e)
		s.index[e.System][k] = indexEntry(e)
	}
	return nil
}

// ListCodes returns the latest entry of every code in system.
func (s *MemoryStore) ListCodes(_ context.Context, system System) ([]CodeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest(system), nil
}

// MatchTerms returns the entries matching each normalized term, best first.
func (s *MemoryStore) MatchTerms(_ context.Context, system System, terms []string) (map[string][]TermHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]TermHit)
	for _, term := range normalizeTerms(terms) {
		var hits []TermHit
		for _, idx := range s.index[system] {
			if h, ok := idx.match(term); ok {
				hits = append(hits, h)
			}
		}
		if len(hits) > 0 {
			sortHits(hits)
			out[term] = hits
		}
	}
	return out, nil
}

// GetMapping returns the current revision of a mapping.
func (s *MemoryStore) GetMapping(_ context.Context, id string) (*MappingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	revs := s.mappings[id]
	if len(revs) == 0 {
		return nil, apperr.NotFound("mapping", id)
	}
	r := revs[len(revs)-1]
	return &r, nil
}

// MappingHistory returns every revision of a mapping, oldest first.
func (s *MemoryStore) MappingHistory(_ context.Context, id string) ([]MappingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	revs := s.mappings[id]
	if len(revs) == 0 {
		return nil, apperr.NotFound("mapping", id)
	}
	return append([]MappingRecord(nil), revs...), nil
}

func (s *MemoryStore) heads() []MappingRecord {
	out := make([]MappingRecord, 0, len(s.mappings))
	for _, revs := range s.mappings {
		out = append(out, revs[len(revs)-1])
	}
	sortMappings(out)
	return out
}

func sortMappings(recs []MappingRecord) {
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.NamasteCode != b.NamasteCode {
			return a.NamasteCode < b.NamasteCode
		}
		if a.ICDCode != b.ICDCode {
			return a.ICDCode < b.ICDCode
		}
		return a.ID < b.ID
	})
}

// MappingsForConcept returns the current revisions for a NAMASTE code.
func (s *MemoryStore) MappingsForConcept(_ context.Context, namasteCode string) ([]MappingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []MappingRecord
	for _, r := range s.heads() {
		if strings.EqualFold(r.NamasteCode, namasteCode) {
			out = append(out, r)
		}
	}
	return out, nil
}

// PutMapping writes one record. See PutMappings.
func (s *MemoryStore) PutMapping(ctx context.Context, rec MappingRecord) (*MappingRecord, error) {
	out, err := s.PutMappings(ctx, rec)
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// PutMappings writes a batch of revisions atomically, checking each
// expected revision and the one-accepted rule.
func (s *MemoryStore) PutMappings(_ context.Context, recs ...MappingRecord) ([]MappingRecord, error) {
	if len(recs) == 0 {
		return nil, apperr.Validation("records", "must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	next := make(map[string]MappingRecord, len(recs))
	out := make([]MappingRecord, len(recs))
	for i := range recs {
		r := recs[i]
		idx := i
		if len(recs) == 1 {
			idx = -1
		}
		if err := validateRecord(idx, &r); err != nil {
			return nil, err
		}
		if _, dup := next[r.ID]; dup {
			return nil, apperr.Conflict("mapping %s written twice in one batch", r.ID)
		}
		current := 0
		if revs := s.mappings[r.ID]; len(revs) > 0 {
			current = revs[len(revs)-1].Revision
		}
		if r.Revision != current {
			return nil, apperr.Conflict("mapping %s: expected revision %d, current is %d", r.ID, r.Revision, current)
		}
		r.Revision = current + 1
		if r.RecordedAt.IsZero() {
			r.RecordedAt = now
		}
		next[r.ID] = r
		out[i] = r
	}

	// accepted-uniqueness over the state the batch would produce
	accepted := make(map[string]string)
	for _, h := range s.heads() {
		if n, ok := next[h.ID]; ok {
			h = n
		}
		if h.Status != StatusAccepted {
			continue
		}
		if other, ok := accepted[h.pairKey()]; ok {
			return nil, apperr.Conflict("%s already has accepted mapping %s for version %s", h.NamasteCode, other, h.Version)
		}
		accepted[h.pairKey()] = h.ID
	}
	for id, r := range next {
		if _, existed := s.mappings[id]; existed || r.Status != StatusAccepted {
			continue
		}
		if other, ok := accepted[r.pairKey()]; ok && other != id {
			return nil, apperr.Conflict("%s already has accepted mapping %s for version %s", r.NamasteCode, other, r.Version)
		}
		accepted[r.pairKey()] = id
	}

	for _, r := range out {
		s.mappings[r.ID] = append(s.mappings[r.ID], r)
	}
	return out, nil
}

// ListMappingsByStatus pages current revisions matching status and f.
func (s *MemoryStore) ListMappingsByStatus(_ context.Context, status MappingStatus, f MappingFilter) ([]MappingRecord, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []MappingRecord
	for _, r := range s.heads() {
		if status != "" && r.Status != status {
			continue
		}
		if f.matches(r) {
			matched = append(matched, r)
		}
	}
	total := len(matched)
	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[f.Offset:]
		}
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

// MappingStats summarises the current revisions of a version.
func (s *MemoryStore) MappingStats(_ context.Context, version string) (*MappingStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := newMappingStats(version)
	for _, r := range s.heads() {
		if version != "" && r.Version != version {
			continue
		}
		st.add(r)
	}
	return st, nil
}
