package evaluation

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"voicegrade/internal/textutil"
)

// fields is one JSON object whose values are decoded on demand. A value of
// the wrong type reads as the zero value instead of failing the document.
type fields map[string]json.RawMessage

func decodeFields(raw json.RawMessage) fields {
	var f fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil
	}
	return f
}

// str returns the first non-empty string value among keys. Numbers are
// accepted and formatted.
func (f fields) str(keys ...string) string {
	for _, key := range keys {
		if value := lenientString(f[key]); value != "" {
			return value
		}
	}
	return ""
}

func (f fields) number(key string) float64 {
	num, ok, err := parseLenientNumber(f[key])
	if err != nil || !ok {
		return 0
	}
	return num
}

// boolean accepts JSON booleans, "true"/"false" strings and 0/1.
func (f fields) boolean(key string) bool {
	raw := bytes.TrimSpace(f[key])
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	if parsed, err := strconv.ParseBool(lenientString(raw)); err == nil {
		return parsed
	}
	return false
}

func lenientString(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}
	var str string
	if err := json.Unmarshal(trimmed, &str); err == nil {
		return strings.TrimSpace(str)
	}
	var num json.Number
	if err := json.Unmarshal(trimmed, &num); err == nil {
		return num.String()
	}
	return ""
}

// decodeScores keeps every entry that reads as a number and drops the rest.
func decodeScores(raw json.RawMessage) Scores {
	values := decodeNumberMap(raw)
	if values == nil {
		return nil
	}
	out := make(Scores, len(values))
	for key, value := range values {
		out[textutil.Normalize(key)] = value
	}
	return out
}

func decodeNumberMap(raw json.RawMessage) map[string]float64 {
	obj := decodeFields(raw)
	if len(obj) == 0 {
		return nil
	}
	out := make(map[string]float64, len(obj))
	for key, value := range obj {
		if num, ok, err := parseLenientNumber(value); err == nil && ok {
			out[key] = num
		}
	}
	return out
}

func decodeStringMap(raw json.RawMessage) map[string]string {
	obj := decodeFields(raw)
	if len(obj) == 0 {
		return nil
	}
	out := make(map[string]string, len(obj))
	for key, value := range obj {
		if str := lenientString(value); str != "" {
			out[key] = str
		}
	}
	return out
}

func decodeCategoryScores(raw json.RawMessage) []CategoryScore {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	var out []CategoryScore
	for _, item := range items {
		f := decodeFields(item)
		if f == nil {
			continue
		}
		out = append(out, CategoryScore{
			Track:    f.str("track"),
			Category: textutil.Normalize(f.str("category")),
			Score:    f.number("score"),
			Max:      f.number("max"),
		})
	}
	return out
}

// decodeRecordingRefs accepts the canonical list form and the legacy object
// form keyed "<script>_<track>" whose values are paths. Object order is kept.
func decodeRecordingRefs(raw json.RawMessage) []RecordingRef {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil
		}
		var refs []RecordingRef
		for _, item := range items {
			f := decodeFields(item)
			if f == nil {
				continue
			}
			ref := RecordingRef{Script: int(f.number("script")), Track: f.str("track"), Path: f.str("path")}
			if ref.Path != "" {
				refs = append(refs, ref)
			}
		}
		return refs
	case '{':
		var refs []RecordingRef
		for _, entry := range orderedEntries(trimmed) {
			path := lenientString(entry.value)
			if path == "" {
				path = decodeFields(entry.value).str("path")
			}
			if path == "" {
				continue
			}
			ref := RecordingRef{Path: path}
			script, track, found := strings.Cut(entry.key, "_")
			if n, err := strconv.Atoi(strings.TrimSpace(script)); err == nil && found {
				ref.Script = n
				ref.Track = strings.TrimSpace(track)
			} else {
				ref.Track = strings.TrimSpace(entry.key)
			}
			refs = append(refs, ref)
		}
		return refs
	}
	return nil
}

type objectEntry struct {
	key   string
	value json.RawMessage
}

// orderedEntries lists an object's members in document order.
func orderedEntries(raw json.RawMessage) []objectEntry {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil
	}
	var entries []objectEntry
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return entries
		}
		key, _ := tok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return entries
		}
		entries = append(entries, objectEntry{key: key, value: value})
	}
	return entries
}

// isBlankJSON reports whether raw holds no information: null, an empty
// string, or objects and arrays containing only blank values.
func isBlankJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return true
	}
	switch trimmed[0] {
	case 'n':
		return bytes.Equal(trimmed, []byte("null"))
	case '"':
		return lenientString(trimmed) == ""
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return false
		}
		for _, value := range obj {
			if !isBlankJSON(value) {
				return false
			}
		}
		return true
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return false
		}
		for _, item := range items {
			if !isBlankJSON(item) {
				return false
			}
		}
		return true
	}
	return false
}
