package search

import (
	"regexp"
	"strings"
)

// splitPattern is the query tokenizer's rule: a simple \W+ split, simpler
// than indexing.Tokenize's richer [a-záéíóúüñ]+ word rule. A known
// asymmetry: diacritic terms the indexer captures are unreachable from an
// ASCII query under this rule.
var splitPattern = regexp.MustCompile(`\W+`)

// Tokenize splits rawQuery into lowercase terms on runs of non-word
// characters, dropping empty tokens.
func Tokenize(rawQuery string) []string {
	lower := strings.ToLower(rawQuery)
	parts := splitPattern.Split(lower, -1)

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
