package blob

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf16"
)

// apiArgHeader encodes v as JSON safe for the Dropbox-API-Arg header. HTTP
// header values must be ASCII, so every rune outside the printable ASCII range
// is written as a \uXXXX escape (surrogate pairs above the BMP).
func apiArgHeader(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode api arg: %w", err)
	}
	return escapeNonASCII(string(raw)), nil
}

func escapeNonASCII(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r < 0x7f:
			b.WriteRune(r)
		case r > 0xffff:
			hi, lo := utf16.EncodeRune(r)
			fmt.Fprintf(&b, "\\u%04x\\u%04x", hi, lo)
		default:
			fmt.Fprintf(&b, "\\u%04x", r)
		}
	}
	return b.String()
}
