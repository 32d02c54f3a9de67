package textutil

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize trims surrounding whitespace and converts s to Unicode NFC so that
// precomposed and decomposed Hangul compare equal.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return norm.NFC.String(s)
}

// Fold returns a normalized, case-folded form of s for case-insensitive
// matching. A fresh caser is used per call because cases.Caser is stateful.
func Fold(s string) string {
	s = Normalize(s)
	if s == "" {
		return ""
	}
	return cases.Fold().String(s)
}

// ContainsFold reports whether needle occurs in haystack after folding both.
func ContainsFold(haystack, needle string) bool {
	needle = Fold(needle)
	if needle == "" {
		return true
	}
	return strings.Contains(Fold(haystack), needle)
}
