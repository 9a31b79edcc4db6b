package corpus

import (
	"strings"
	"unicode"
)

// Normalize canonicalizes text for similarity comparison: case-folded,
// punctuation stripped, runs of whitespace collapsed to single spaces.
// Both fragments and ground-truth paragraphs go through the same
// normalization so that scores compare like with like.
func Normalize(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	prevSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			if !prevSpace {
				sb.WriteByte(' ')
				prevSpace = true
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

// NormalizedLen returns the rune count of the normalized form.
func NormalizedLen(text string) int {
	return len([]rune(Normalize(text)))
}
