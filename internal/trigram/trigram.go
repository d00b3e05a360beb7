// Package trigram computes pg_trgm-compatible trigram similarity so the
// SQLite store and the classifier agree with Postgres' similarity().
package trigram

import (
	"strings"
	"unicode"
)

// Set returns the distinct trigrams of s. Like pg_trgm, words are runs of
// letters and digits, lowercased, padded with two leading spaces and one
// trailing space.
func Set(s string) map[string]struct{} {
	out := make(map[string]struct{})
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		padded := []rune("  " + w + " ")
		for i := 0; i+3 <= len(padded); i++ {
			out[string(padded[i:i+3])] = struct{}{}
		}
	}
	return out
}

// Similarity returns |A∩B| / |A∪B| over the trigram sets of a and b, in
// [0, 1]. Two strings without any trigrams score 0.
func Similarity(a, b string) float64 {
	ta, tb := Set(a), Set(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for g := range ta {
		if _, ok := tb[g]; ok {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	return float64(shared) / float64(union)
}
