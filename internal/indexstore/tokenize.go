package indexstore

import (
	"strings"
	"unicode"
)

// Tokenize implements the shared tokenization contract: case-fold ASCII,
// split on Unicode non-alphanumerics, drop empty tokens, no stemming, no
// stopword removal. It must be called identically at index time and query
// time (tokenization identity).
func Tokenize(text string) []string {
	lower := strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, text)
	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
