// Package matcher ranks ICD-11 candidates for free clinical text or a
// NAMASTE code. It reads the terminology store and keeps no state between
// calls.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/swasthyasetu/termbridge/internal/domain/terminology"
	"github.com/swasthyasetu/termbridge/internal/platform/apperr"
	"github.com/swasthyasetu/termbridge/internal/platform/textnorm"
)

const (
	DefaultLimit = 10
	MaxLimit     = 50

	// MinSignificant is the fewest letters and digits accepted as text.
	MinSignificant = 2
	maxNGram       = 4
)

// Request selects text mode or code mode. NamasteCode wins when both are
// set.
type Request struct {
	Text        string `json:"text"`
	NamasteCode string `json:"namasteCode"`
	Limit       int    `json:"limit"`
}

// Matcher produces suggested MappingRecords. Candidates are not persisted.
type Matcher struct {
	store   terminology.Store
	version string
}

// New creates a Matcher that stamps candidates with the given mapping-table
// version and only trusts accepted mappings of that version.
func New(store terminology.Store, version string) *Matcher {
	return &Matcher{store: store, version: version}
}

func (m *Matcher) Version() string { return m.version }

// conceptHit is the best way a NAMASTE concept was reached from the input.
type conceptHit struct {
	entry  terminology.CodeEntry
	weight float64
	senses int
	// what fired, for the explanation
	term   string
	field  string
	phrase bool
	tokens []string
}

func (h conceptHit) describe() string {
	switch {
	case h.field == "code":
		return fmt.Sprintf("code %s (%s)", h.entry.Code, h.entry.Display)
	case h.phrase:
		return fmt.Sprintf("%s %q of %s %s matched %q", h.field, h.term, h.entry.Code, h.entry.Display, h.term)
	}
	return fmt.Sprintf("tokens %s matched %s %s", quoteAll(h.tokens), h.entry.Code, h.entry.Display)
}

func quoteAll(ss []string) string {
	q := make([]string, len(ss))
	for i, s := range ss {
		q[i] = fmt.Sprintf("%q", s)
	}
	return strings.Join(q, ", ")
}

// Suggest returns ranked candidates. An input that matches nothing yields
// an empty slice.
func (m *Matcher) Suggest(ctx context.Context, req Request) ([]terminology.MappingRecord, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	code := strings.TrimSpace(req.NamasteCode)
	text := strings.TrimSpace(req.Text)
	if code == "" && text == "" {
		return nil, apperr.Validation("text", "text or namasteCode is required")
	}

	var concepts []conceptHit
	codeMode := false
	if code != "" {
		e, err := m.store.GetCode(ctx, terminology.SystemNAMASTE, code, "")
		if err != nil {
			return nil, err
		}
		concepts, codeMode = []conceptHit{{entry: *e, weight: 1, senses: 1, term: e.Code, field: "code"}}, true
	} else {
		if textnorm.Significant(text) < MinSignificant {
			return nil, apperr.InputTooShort(MinSignificant)
		}
		// text that is itself a NAMASTE code switches to code mode
		if e, err := m.store.GetCode(ctx, terminology.SystemNAMASTE, text, ""); err == nil {
			concepts, codeMode = []conceptHit{{entry: *e, weight: 1, senses: 1, term: e.Code, field: "code"}}, true
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		} else {
			concepts, err = m.conceptsForText(ctx, text)
			if err != nil {
				return nil, err
			}
		}
	}

	var out []candidate
	for _, c := range concepts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cands, err := m.candidatesFor(ctx, c, codeMode)
		if err != nil {
			return nil, err
		}
		out = append(out, cands...)
	}

	sortCandidates(out)
	if len(out) > limit {
		out = out[:limit]
	}
	recs := make([]terminology.MappingRecord, len(out))
	for i, c := range out {
		recs[i] = c.rec
	}
	return recs, nil
}

// conceptsForText looks up every 1..4-gram of the input and keeps the best
// hit per NAMASTE code.
func (m *Matcher) conceptsForText(ctx context.Context, text string) ([]conceptHit, error) {
	tokens := textnorm.Tokens(text)
	if len(tokens) == 0 {
		return nil, nil
	}
	grams := textnorm.NGrams(tokens, 1, maxNGram)
	hits, err := m.store.MatchTerms(ctx, terminology.SystemNAMASTE, grams)
	if err != nil {
		return nil, fmt.Errorf("match terms: %w", err)
	}

	best := make(map[string]*conceptHit)
	tokenHits := make(map[string][]string)
	tokenSenses := make(map[string]int)
	entries := make(map[string]terminology.CodeEntry)

	for _, g := range grams {
		gh := hits[g]
		if len(gh) == 0 {
			continue
		}
		phraseSenses := 0
		for _, h := range gh {
			if h.Phrase {
				phraseSenses++
			}
		}
		for _, h := range gh {
			code := h.Entry.Code
			entries[code] = h.Entry
			if !h.Phrase {
				tokenHits[code] = append(tokenHits[code], g)
				if n, ok := tokenSenses[code]; !ok || len(gh) < n {
					tokenSenses[code] = len(gh)
				}
				continue
			}
			cand := conceptHit{
				entry: h.Entry, weight: phraseWeight(h.Field), senses: phraseSenses,
				term: g, field: h.Field, phrase: true,
			}
			// grams arrive longest first, so an earlier hit of equal weight stays
			if cur, ok := best[code]; !ok || cand.weight > cur.weight ||
				(cand.weight == cur.weight && cand.senses < cur.senses) {
				best[code] = &cand
			}
		}
	}

	for code, toks := range tokenHits {
		w := tokenWeight(len(toks))
		if cur, ok := best[code]; ok && cur.weight >= w {
			continue
		}
		best[code] = &conceptHit{
			entry: entries[code], weight: w, senses: tokenSenses[code],
			term: toks[0], field: "token", tokens: toks,
		}
	}

	out := make([]conceptHit, 0, len(best))
	for _, h := range best {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].entry.Code < out[j].entry.Code })
	return out, nil
}

type candidate struct {
	rec        terminology.MappingRecord
	hasHistory bool
	rate       float64
}

type link struct {
	weight  float64
	curated bool
	target  terminology.CodeEntry
	reason  string
}

// candidatesFor scores every ICD-11 target reachable from one concept.
func (m *Matcher) candidatesFor(ctx context.Context, c conceptHit, codeMode bool) ([]candidate, error) {
	records, err := m.store.MappingsForConcept(ctx, c.entry.Code)
	if err != nil {
		return nil, fmt.Errorf("mappings for %s: %w", c.entry.Code, err)
	}
	hist := newHistory(records)
	links := make(map[string]*link)

	for _, r := range records {
		if r.Status != terminology.StatusAccepted || (m.version != "" && r.Version != m.version) {
			continue
		}
		target, err := m.store.GetCode(ctx, terminology.SystemICD11, r.ICDCode, "")
		if errors.Is(err, apperr.ErrNotFound) {
			target = &terminology.CodeEntry{System: terminology.SystemICD11, Code: r.ICDCode}
		} else if err != nil {
			return nil, err
		}
		links[strings.ToUpper(r.ICDCode)] = &link{
			weight: linkCurated, curated: true, target: *target,
			reason: fmt.Sprintf("curated mapping to %s %s", target.Code, target.Display),
		}
	}

	ct := newConceptTerms(c.entry)
	icdHits, err := m.store.MatchTerms(ctx, terminology.SystemICD11, ct.lookupTerms())
	if err != nil {
		return nil, fmt.Errorf("match icd terms: %w", err)
	}
	for _, hs := range icdHits {
		for _, h := range hs {
			key := strings.ToUpper(h.Entry.Code)
			if cur, ok := links[key]; ok && cur.curated {
				continue
			}
			w, matched, phrase, ok := ct.lexicalLink(h.Entry)
			if !ok {
				continue
			}
			if cur, seen := links[key]; seen && cur.weight >= w {
				continue
			}
			kind := "shares tokens with"
			if phrase {
				kind = "equals"
			}
			links[key] = &link{
				weight: w, target: h.Entry,
				reason: fmt.Sprintf("lexical: ICD-11 %s %s term %q %s a %s term", h.Entry.Code, h.Entry.Display, matched, kind, c.entry.Code),
			}
		}
	}

	out := make([]candidate, 0, len(links))
	for _, l := range links {
		var s int
		if codeMode && l.curated {
			s = curatedCodeScore
		} else {
			s = clampText(score(c.weight, l.weight, c.senses))
		}
		if s <= 0 {
			continue
		}
		explanation := c.describe() + "; " + l.reason
		if codeMode && l.curated {
			explanation = "exact curated match: " + explanation
		}
		hasHistory, rate := hist.rate(l.target.Code)
		out = append(out, candidate{
			rec: terminology.MappingRecord{
				NamasteCode:  c.entry.Code,
				ICDCode:      l.target.Code,
				TargetSystem: terminology.SystemICD11,
				Confidence:   s,
				Explanation:  explanation,
				Status:       terminology.StatusSuggested,
				Source:       terminology.SourceMatcher,
				Version:      m.version,
			},
			hasHistory: hasHistory,
			rate:       rate,
		})
	}
	return out, nil
}

func sortCandidates(cs []candidate) {
	sort.Slice(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.rec.Confidence != b.rec.Confidence {
			return a.rec.Confidence > b.rec.Confidence
		}
		if a.hasHistory != b.hasHistory {
			return a.hasHistory
		}
		if a.rate != b.rate {
			return a.rate > b.rate
		}
		if a.rec.NamasteCode != b.rec.NamasteCode {
			return a.rec.NamasteCode < b.rec.NamasteCode
		}
		return a.rec.ICDCode < b.rec.ICDCode
	})
}

// history tallies past curation decisions per ICD-11 target of one concept.
type history map[string][2]int // accepted-ish, decided

func newHistory(records []terminology.MappingRecord) history {
	h := make(history)
	for _, r := range records {
		k := strings.ToUpper(r.ICDCode)
		t := h[k]
		switch r.Status {
		case terminology.StatusAccepted, terminology.StatusSuperseded:
			t[0]++
			t[1]++
		case terminology.StatusRejected:
			t[1]++
		}
		h[k] = t
	}
	return h
}

// rate is the share of decided records for the pair that were accepted.
func (h history) rate(icdCode string) (bool, float64) {
	t := h[strings.ToUpper(icdCode)]
	if t[1] == 0 {
		return false, 0
	}
	return true, float64(t[0]) / float64(t[1])
}

// Score rates a single NAMASTE to ICD-11 pair the way Suggest would in code
// mode. Both codes must exist.
func (m *Matcher) Score(ctx context.Context, namasteCode, icdCode string) (int, error) {
	concept, err := m.store.GetCode(ctx, terminology.SystemNAMASTE, namasteCode, "")
	if err != nil {
		return 0, err
	}
	target, err := m.store.GetCode(ctx, terminology.SystemICD11, terminology.NormalizeCode(terminology.SystemICD11, icdCode), "")
	if err != nil {
		return 0, err
	}
	records, err := m.store.MappingsForConcept(ctx, concept.Code)
	if err != nil {
		return 0, err
	}
	for _, r := range records {
		if r.Status == terminology.StatusAccepted && strings.EqualFold(r.ICDCode, target.Code) &&
			(m.version == "" || r.Version == m.version) {
			return curatedCodeScore, nil
		}
	}
	w, _, _, ok := newConceptTerms(*concept).lexicalLink(*target)
	if !ok {
		return 0, nil
	}
	return clampText(score(1, w, 1)), nil
}
