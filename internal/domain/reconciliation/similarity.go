// Package reconciliation pairs transactions against open bills using a
// weighted multi-factor confidence score, producing matched pairs and two
// unmatched residual sets.
package reconciliation

import (
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

// TextSimilarity scores two strings in [0,1]: 1.0 for an exact match, 0.8
// when one contains the other, otherwise a 0.6/0.4 blend of word-overlap
// ratio and Levenshtein-derived similarity.
func TextSimilarity(a, b string) float64 {
	a = normalizeText(a)
	b = normalizeText(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1.0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.8
	}
	return 0.6*wordOverlap(a, b) + 0.4*levenshteinSimilarity(a, b)
}

// PatternMatches reports whether a learned merchant pattern applies to the
// given transaction text, tolerating the usual bank-export noise.
func PatternMatches(pattern, text string) bool {
	pattern = normalizeText(pattern)
	text = normalizeText(text)
	if pattern == "" || text == "" {
		return false
	}
	if strings.Contains(text, pattern) {
		return true
	}
	return fuzzy.MatchNormalizedFold(pattern, text)
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToUpper(s)), " ")
}

func wordOverlap(a, b string) float64 {
	wordsA := strings.Fields(a)
	wordsB := strings.Fields(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	setA := make(map[string]struct{}, len(wordsA))
	for _, w := range wordsA {
		setA[w] = struct{}{}
	}
	shared := 0
	seen := make(map[string]struct{}, len(wordsB))
	for _, w := range wordsB {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		if _, ok := setA[w]; ok {
			shared++
		}
	}

	smaller := len(setA)
	if len(seen) < smaller {
		smaller = len(seen)
	}
	return float64(shared) / float64(smaller)
}

func levenshteinSimilarity(a, b string) float64 {
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 0
	}
	distance := levenshtein.ComputeDistance(a, b)
	return float64(maxLen-distance) / float64(maxLen)
}
