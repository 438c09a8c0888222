// Package textnorm folds user text so that "Cálculo" and "calculo" compare equal.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lower-cases s and strips combining diacritical marks.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// Words splits folded text on anything that is not a letter or digit.
func Words(s string) []string {
	return strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// LongWords returns the words of s that have at least min runes.
func LongWords(s string, min int) []string {
	words := Words(s)
	out := words[:0]
	for _, w := range words {
		if len([]rune(w)) >= min {
			out = append(out, w)
		}
	}
	return out
}
