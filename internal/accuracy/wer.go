package accuracy

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var foldTransformer = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// tokenize normalizes text for comparison: accents are stripped, letters
// lowercased, and anything outside [a-z0-9] treated as a separator.
func tokenize(text string) []string {
	folded, _, err := transform.String(foldTransformer, text)
	if err != nil {
		folded = text
	}
	folded = strings.ToLower(folded)
	var builder strings.Builder
	builder.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			builder.WriteRune(r)
		default:
			builder.WriteRune(' ')
		}
	}
	return strings.Fields(builder.String())
}

// wordErrorRate returns the Levenshtein distance between the token streams
// divided by the reference length, capped at 1. Two empty streams compare
// equal; an empty reference against real output is a total mismatch.
func wordErrorRate(hypothesis, reference []string) float64 {
	if len(reference) == 0 {
		if len(hypothesis) == 0 {
			return 0
		}
		return 1
	}
	distance := levenshtein(hypothesis, reference)
	rate := float64(distance) / float64(len(reference))
	if rate > 1 {
		return 1
	}
	return rate
}

func levenshtein(a, b []string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
