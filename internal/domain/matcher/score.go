package matcher

import (
	"math"
	"strings"

	"github.com/swasthyasetu/termbridge/internal/domain/terminology"
	"github.com/swasthyasetu/termbridge/internal/platform/textnorm"
)

// Term weights.
const (
	weightDisplayPhrase = 1.0
	weightSynonymPhrase = 0.95
	weightTokenBase     = 0.30
	weightTokenStep     = 0.15
	maxCountedTokenHits = 3
)

// Link weights.
const (
	linkCurated      = 1.0
	linkLexicalBase  = 0.5
	linkLexicalSpan  = 0.4
	linkLexicalMax   = 0.9
	polysemyPenalty  = 7
	curatedCodeScore = 100
	maxTextScore     = 99
)

func phraseWeight(field string) float64 {
	if field == terminology.FieldDisplay {
		return weightDisplayPhrase
	}
	return weightSynonymPhrase
}

func tokenWeight(hits int) float64 {
	if hits > maxCountedTokenHits {
		hits = maxCountedTokenHits
	}
	return weightTokenBase + weightTokenStep*float64(hits)
}

// score combines the weights. The epsilon keeps products such as 0.95*0.9
// from rounding down on float error.
func score(term, link float64, senses int) int {
	s := int(math.Round(100*term*link+1e-9)) - polysemyPenalty*(senses-1)
	if s < 0 {
		return 0
	}
	return s
}

func clampText(s int) int {
	if s > maxTextScore {
		return maxTextScore
	}
	return s
}

// conceptTerms holds the normalized display and synonyms of a NAMASTE
// concept and the union of their tokens.
type conceptTerms struct {
	phrases map[string]struct{}
	tokens  []string
}

func newConceptTerms(e terminology.CodeEntry) conceptTerms {
	ct := conceptTerms{phrases: make(map[string]struct{})}
	seen := make(map[string]struct{})
	for _, text := range append([]string{e.Display}, e.Synonyms...) {
		toks := textnorm.Tokens(text)
		if len(toks) == 0 {
			continue
		}
		ct.phrases[strings.Join(toks, " ")] = struct{}{}
		for _, t := range toks {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				ct.tokens = append(ct.tokens, t)
			}
		}
	}
	return ct
}

// lookupTerms are the strings sent to MatchTerms to find ICD-11 targets.
func (ct conceptTerms) lookupTerms() []string {
	out := make([]string, 0, len(ct.phrases)+len(ct.tokens))
	for p := range ct.phrases {
		out = append(out, p)
	}
	return append(out, ct.tokens...)
}

// lexicalLink is the best lexical weight of target against the concept,
// with the target text that produced it. ok is false with no shared token.
func (ct conceptTerms) lexicalLink(target terminology.CodeEntry) (weight float64, matched string, phrase bool, ok bool) {
	for _, text := range append([]string{target.Display}, target.Synonyms...) {
		toks := textnorm.Tokens(text)
		if len(toks) == 0 {
			continue
		}
		var w float64
		isPhrase := false
		if _, eq := ct.phrases[strings.Join(toks, " ")]; eq {
			w, isPhrase = linkLexicalMax, true
		} else {
			shared := textnorm.Overlap(ct.tokens, toks)
			if shared == 0 {
				continue
			}
			w = linkLexicalBase + linkLexicalSpan*float64(shared)/float64(len(toks))
			if w > linkLexicalMax {
				w = linkLexicalMax
			}
		}
		if !ok || w > weight {
			weight, matched, phrase, ok = w, text, isPhrase, true
		}
	}
	return weight, matched, phrase, ok
}
