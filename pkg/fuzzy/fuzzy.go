// Package fuzzy implements token-set ratio scoring used to rank domain log
// search results.
package fuzzy

import (
	"sort"
	"strings"

	"github.com/agext/levenshtein"
)

// TokenSetRatio computes a 0-100 similarity score between two strings. Both
// strings are tokenized on non-alphanumeric boundaries and compared as token
// sets, so shared tokens dominate the score regardless of order or
// repetition. A query of "facebook" scores 100 against "facebook.com".
func TokenSetRatio(a, b string) int {
	ta := tokenSet(a)
	tb := tokenSet(b)

	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	var common, diffA, diffB []string
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			common = append(common, tok)
		} else {
			diffA = append(diffA, tok)
		}
	}
	for tok := range tb {
		if _, ok := ta[tok]; !ok {
			diffB = append(diffB, tok)
		}
	}

	sort.Strings(common)
	sort.Strings(diffA)
	sort.Strings(diffB)

	base := strings.Join(common, " ")
	combinedA := joinNonEmpty(base, strings.Join(diffA, " "))
	combinedB := joinNonEmpty(base, strings.Join(diffB, " "))

	best := similarity(base, combinedA)
	if s := similarity(base, combinedB); s > best {
		best = s
	}
	if s := similarity(combinedA, combinedB); s > best {
		best = s
	}

	return int(best*100 + 0.5)
}

var params = levenshtein.NewParams()

func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	return levenshtein.Similarity(a, b, params)
}

func joinNonEmpty(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + " " + b
}

func tokenSet(s string) map[string]struct{} {
	tokens := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	return set
}
