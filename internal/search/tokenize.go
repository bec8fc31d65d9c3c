package search

import (
	"strings"
	"unicode"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {},
	"been": {}, "being": {}, "have": {}, "has": {}, "had": {}, "do": {}, "does": {},
	"did": {}, "will": {}, "would": {}, "could": {}, "should": {}, "may": {}, "might": {},
	"can": {}, "shall": {}, "to": {}, "of": {}, "in": {}, "for": {}, "on": {}, "with": {},
	"at": {}, "by": {}, "from": {}, "as": {}, "into": {}, "through": {}, "during": {},
	"before": {}, "after": {}, "above": {}, "below": {}, "between": {}, "under": {},
	"again": {}, "further": {}, "then": {}, "once": {}, "here": {}, "there": {},
	"when": {}, "where": {}, "why": {}, "how": {}, "all": {}, "each": {}, "every": {},
	"both": {}, "few": {}, "more": {}, "most": {}, "other": {}, "some": {}, "such": {},
	"no": {}, "nor": {}, "not": {}, "only": {}, "own": {}, "same": {}, "so": {},
	"than": {}, "too": {}, "very": {}, "just": {}, "or": {}, "and": {}, "but": {},
	"if": {}, "it": {}, "its": {}, "this": {}, "that": {}, "these": {}, "those": {},
	"me": {}, "my": {}, "we": {}, "our": {}, "you": {}, "your": {}, "he": {}, "him": {},
	"his": {}, "she": {}, "her": {}, "they": {}, "them": {}, "their": {}, "what": {},
	"which": {}, "who": {}, "whom": {},
}

// tokenize splits camelCase boundaries, breaks on non-alphanumeric runes,
// lowercases, and drops stopwords and single-character tokens. Grounded on
// original_source/src/search.rs's tokenize(), unchanged in behavior.
func tokenize(text string) []string {
	runes := []rune(text)
	var expanded strings.Builder
	expanded.Grow(len(runes) + 16)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) && unicode.IsLower(runes[i-1]) {
			expanded.WriteRune(' ')
		}
		expanded.WriteRune(r)
	}

	fields := strings.FieldsFunc(expanded.String(), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		lower := strings.ToLower(f)
		if len([]rune(lower)) <= 1 {
			continue
		}
		if _, stop := stopwords[lower]; stop {
			continue
		}
		tokens = append(tokens, lower)
	}
	return tokens
}
