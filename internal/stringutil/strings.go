// Package stringutil provides text normalisation and tokenisation shared by
// the extraction strategies, the similarity fallback and product search.
package stringutil

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize applies NFKC (folding full-width ASCII such as "ＲＴＸ４０６０"
// to "RTX4060"), trims, and collapses runs of whitespace to a single space.
// Case is preserved.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// Fold returns Normalize(s) with Unicode case folding applied, suitable for
// case-insensitive containment tests.
func Fold(s string) string {
	return cases.Fold().String(Normalize(s))
}

// RuneLen returns the number of runes in s.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

// IsNumeric checks if a string contains only digits.
// Returns false for empty strings.
func IsNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ContainsAllRunes checks if s contains all runes from chars (case-insensitive).
// Counts character occurrences: "aa" requires at least 2 'a's in s.
// Supports non-contiguous character matching: "筆電" matches "筆記型電腦".
func ContainsAllRunes(s, chars string) bool {
	if chars == "" {
		return true
	}
	if s == "" {
		return false
	}

	runeCount := make(map[rune]int)
	for _, r := range Fold(s) {
		runeCount[r]++
	}
	for _, r := range Fold(chars) {
		runeCount[r]--
		if runeCount[r] < 0 {
			return false
		}
	}
	return true
}

// Tokenize splits text for keyword indexing:
// lowercase, split on whitespace and punctuation, and emit CJK unigrams plus
// bigrams of adjacent CJK runes so that unsegmented Chinese still matches.
func Tokenize(text string) []string {
	runes := []rune(Fold(text))

	var tokens []string
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			tokens = append(tokens, word.String())
			word.Reset()
		}
	}

	for i, r := range runes {
		switch {
		case IsCJK(r):
			flush()
			tokens = append(tokens, string(r))
			if i+1 < len(runes) && IsCJK(runes[i+1]) {
				tokens = append(tokens, string(r)+string(runes[i+1]))
			}
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word.WriteRune(r)
		default:
			flush()
		}
	}
	flush()

	return tokens
}

// IsCJK returns true if the rune is a CJK character
func IsCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// StripPunct removes punctuation and whitespace, keeping letters and digits.
func StripPunct(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}
