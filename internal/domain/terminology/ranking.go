package terminology

import (
	"sort"
	"strings"

	"github.com/swasthyasetu/termbridge/internal/platform/apperr"
	"github.com/swasthyasetu/termbridge/internal/platform/textnorm"
)

// Search tiers, best first.
const (
	tierExactCode = iota
	tierDisplayPrefix
	tierSubstring
)

// searchQuery is a prepared SearchCodes query.
type searchQuery struct {
	raw    string
	folded string
}

func newSearchQuery(q string) (searchQuery, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return searchQuery{}, apperr.Validation("q", "search query must not be blank")
	}
	return searchQuery{raw: q, folded: textnorm.Fold(q)}, nil
}

// tier classifies e against q; ok is false when e does not match at all.
func (q searchQuery) tier(e CodeEntry) (int, bool) {
	if strings.EqualFold(e.Code, q.raw) {
		return tierExactCode, true
	}
	display := textnorm.Fold(e.Display)
	if strings.HasPrefix(display, q.folded) {
		return tierDisplayPrefix, true
	}
	if strings.Contains(display, q.folded) {
		return tierSubstring, true
	}
	for _, s := range e.Synonyms {
		if strings.Contains(textnorm.Fold(s), q.folded) {
			return tierSubstring, true
		}
	}
	return 0, false
}

// rankSearch filters and orders candidates deterministically.
func rankSearch(candidates []CodeEntry, q searchQuery, limit int) []CodeEntry {
	type ranked struct {
		e    CodeEntry
		tier int
	}
	var hits []ranked
	for _, e := range candidates {
		if t, ok := q.tier(e); ok {
			hits = append(hits, ranked{e, t})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].tier != hits[j].tier {
			return hits[i].tier < hits[j].tier
		}
		return hits[i].e.Code < hits[j].e.Code
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]CodeEntry, len(hits))
	for i, h := range hits {
		out[i] = h.e
	}
	return out
}

// termIndex holds the normalized forms of one entry's display and synonyms.
type termIndex struct {
	entry   CodeEntry
	phrases []indexedPhrase
}

type indexedPhrase struct {
	field  string
	text   string
	norm   string
	tokens map[string]struct{}
}

func indexEntry(e CodeEntry) termIndex {
	idx := termIndex{entry: e}
	add := func(field, text string) {
		toks := textnorm.Tokens(text)
		if len(toks) == 0 {
			return
		}
		set := make(map[string]struct{}, len(toks))
		for _, t := range toks {
			set[t] = struct{}{}
		}
		idx.phrases = append(idx.phrases, indexedPhrase{
			field:  field,
			text:   text,
			norm:   strings.Join(toks, " "),
			tokens: set,
		})
	}
	add(FieldDisplay, e.Display)
	for _, s := range e.Synonyms {
		add(FieldSynonym, s)
	}
	return idx
}

// match returns the best hit of term on the entry.
func (idx termIndex) match(term string) (TermHit, bool) {
	var best TermHit
	found := false
	for _, p := range idx.phrases {
		var h TermHit
		switch {
		case p.norm == term:
			h = TermHit{Entry: idx.entry, Field: p.field, Matched: p.text, Phrase: true}
		case !strings.Contains(term, " "):
			if _, ok := p.tokens[term]; !ok {
				continue
			}
			h = TermHit{Entry: idx.entry, Field: p.field, Matched: p.text}
		default:
			continue
		}
		if !found || h.better(best) {
			best, found = h, true
		}
	}
	return best, found
}

// normalizeTerms normalizes and dedupes lookup terms, dropping empties.
func normalizeTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		n := textnorm.Normalize(t)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func sortHits(hits []TermHit) {
	sort.Slice(hits, func(i, j int) bool { return hits[i].Entry.Code < hits[j].Entry.Code })
}
