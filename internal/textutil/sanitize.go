package textutil

import (
	"strings"
	"unicode"
)

// SanitizeFileName turns a record id into a name usable as a single path
// segment in both the remote store and the local backend. Separators become
// dashes, characters Dropbox rejects are dropped, and leading dots are removed
// so the result never names a hidden or parent entry.
func SanitizeFileName(name string) string {
	name = Normalize(name)
	if name == "" {
		return ""
	}
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*':
			return '-'
		case r == '?' || r == '"' || r == '<' || r == '>' || r == '|':
			return -1
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, name)
	return strings.TrimSpace(strings.TrimLeft(mapped, "."))
}
