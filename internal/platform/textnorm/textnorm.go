// Package textnorm folds clinical free text into comparable tokens.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "the": {}, "of": {}, "with": {}, "in": {}, "on": {},
	"or": {}, "to": {}, "for": {}, "by": {}, "at": {}, "is": {}, "has": {}, "have": {},
	"patient": {}, "complains": {}, "complaint": {}, "since": {},
}

// Fold decomposes s (NFKD), strips combining marks and lowercases it.
// "Jvara" and "Jvāra" fold to the same string.
func Fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// Tokens folds s, splits on anything that is not a letter or digit and
// drops stopwords.
func Tokens(s string) []string {
	fields := strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Normalize returns the space-joined tokens of s.
func Normalize(s string) string {
	return strings.Join(Tokens(s), " ")
}

// Significant counts letters and digits in s.
func Significant(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

// NGrams returns every contiguous run of min..max tokens, joined by a
// space, longest first.
func NGrams(tokens []string, min, max int) []string {
	var out []string
	seen := make(map[string]struct{})
	for size := max; size >= min; size-- {
		for i := 0; i+size <= len(tokens); i++ {
			g := strings.Join(tokens[i:i+size], " ")
			if _, ok := seen[g]; ok {
				continue
			}
			seen[g] = struct{}{}
			out = append(out, g)
		}
	}
	return out
}

// Overlap counts the distinct tokens of b that also occur in a.
func Overlap(a, b []string) int {
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	n := 0
	seen := make(map[string]struct{}, len(b))
	for _, t := range b {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := set[t]; ok {
			n++
		}
	}
	return n
}
