// Package textnorm provides the Unicode-aware text comparisons used when matching
// bank emails. Vietnamese bank emails arrive both precomposed and decomposed, so
// every comparison runs on NFC-normalized text.
package textnorm

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize returns s in Unicode normalization form C.
func Normalize(s string) string {
	return norm.NFC.String(s)
}

// IndexFold returns the byte range of the first case-insensitive occurrence of
// substr in s, or (-1, -1). Both arguments are expected to be normalized.
func IndexFold(s, substr string) (start, end int) {
	if substr == "" {
		return 0, 0
	}
	for i := 0; i < len(s); {
		if n, ok := HasPrefixFold(s[i:], substr); ok {
			return i, i + n
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return -1, -1
}

// ContainsFold reports whether substr occurs in s ignoring case.
func ContainsFold(s, substr string) bool {
	start, _ := IndexFold(s, substr)
	return start >= 0
}

// HasPrefixFold reports whether s starts with prefix ignoring case, and how many
// bytes of s the prefix spans.
func HasPrefixFold(s, prefix string) (int, bool) {
	n := 0
	for _, pr := range prefix {
		if n >= len(s) {
			return 0, false
		}
		sr, size := utf8.DecodeRuneInString(s[n:])
		if !equalFoldRune(sr, pr) {
			return 0, false
		}
		n += size
	}
	return n, true
}

func equalFoldRune(a, b rune) bool {
	if a == b {
		return true
	}
	return unicode.ToLower(a) == unicode.ToLower(b) || unicode.ToUpper(a) == unicode.ToUpper(b)
}

// CollapseSpace trims s and replaces every whitespace run with a single space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// FoldKey returns a comparison key: NFC, whitespace collapsed, case folded.
func FoldKey(s string) string {
	// Casers carry state and must not be shared between goroutines.
	return cases.Fold().String(CollapseSpace(Normalize(s)))
}
