// Package tokenizer normalises raw message text into search terms. It
// lower-cases input and splits on non-alphanumeric boundaries, nothing more:
// no stemming and no stop-word removal, so a term in a query matches exactly
// the term produced at index time.
package tokenizer

import (
	"strings"
	"unicode"
)

// Tokenize breaks text into lowercased terms. It is pure and deterministic;
// the indexer and the query engine must both use it so that index-time and
// query-time vocabularies stay identical.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.ToLower(text)
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// TokenSet returns the distinct terms of text. Order is not specified.
func TokenSet(text string) map[string]struct{} {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}
