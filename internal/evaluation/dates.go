package evaluation

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// SeoulLocation is the zone assumed for locale-formatted timestamps that carry
// no offset. Korea observes no daylight saving time.
var SeoulLocation = time.FixedZone("KST", 9*60*60)

// DateSource records which rule produced a normalized timestamp.
type DateSource string

const (
	DateSourceISO     DateSource = "iso"
	DateSourceLocale  DateSource = "locale"
	DateSourceStorage DateSource = "storage"
	DateSourceEpoch   DateSource = "epoch"
)

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

var (
	koreanDatePattern = regexp.MustCompile(`^(\d{4})\s*년\s*(\d{1,2})\s*월\s*(\d{1,2})\s*일(?:\s*(오전|오후)?\s*(\d{1,2}):(\d{2})(?::(\d{2}))?)?$`)
	dottedDatePattern = regexp.MustCompile(`^(\d{4})\.\s*(\d{1,2})\.\s*(\d{1,2})\.?(?:\s*(오전|오후)?\s*(\d{1,2}):(\d{2})(?::(\d{2}))?)?$`)
)

// ParseTimestamp parses ISO-8601 first and then the Korean locale forms
// ("2025년 8월 8일 10:30", "2025. 8. 8. 오후 3:04:05"). It never panics; the
// boolean is false when no rule matched.
func ParseTimestamp(value string) (time.Time, DateSource, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, "", false
	}
	for _, layout := range isoLayouts {
		loc := time.UTC
		if !strings.Contains(layout, "Z07") {
			loc = SeoulLocation
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t.UTC(), DateSourceISO, true
		}
	}
	for _, pattern := range []*regexp.Regexp{koreanDatePattern, dottedDatePattern} {
		if m := pattern.FindStringSubmatch(value); m != nil {
			if t, ok := buildLocaleTime(m); ok {
				return t.UTC(), DateSourceLocale, true
			}
		}
	}
	return time.Time{}, "", false
}

// NormalizeSubmittedAt applies the fallback order ISO → locale pattern →
// storage timestamp → epoch 0.
func NormalizeSubmittedAt(value string, storage time.Time) (time.Time, DateSource) {
	if t, source, ok := ParseTimestamp(value); ok {
		return t, source
	}
	if !storage.IsZero() {
		return storage.UTC(), DateSourceStorage
	}
	return time.Unix(0, 0).UTC(), DateSourceEpoch
}

// parseRawTimestamp decodes a JSON timestamp that may be a string or a number
// of epoch seconds/milliseconds.
func parseRawTimestamp(raw json.RawMessage) (time.Time, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return time.Time{}, false
	}
	if trimmed[0] == '"' {
		var str string
		if err := json.Unmarshal(trimmed, &str); err != nil {
			return time.Time{}, false
		}
		t, _, ok := ParseTimestamp(str)
		return t, ok
	}
	num, err := strconv.ParseFloat(string(trimmed), 64)
	if err != nil || num <= 0 {
		return time.Time{}, false
	}
	if num > 1e11 {
		return time.UnixMilli(int64(num)).UTC(), true
	}
	return time.Unix(int64(num), 0).UTC(), true
}

func buildLocaleTime(m []string) (time.Time, bool) {
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	hour, minute, second := 0, 0, 0
	if m[5] != "" {
		hour, _ = strconv.Atoi(m[5])
		minute, _ = strconv.Atoi(m[6])
		if m[7] != "" {
			second, _ = strconv.Atoi(m[7])
		}
	}
	switch m[4] {
	case "오후":
		if hour < 12 {
			hour += 12
		}
	case "오전":
		if hour == 12 {
			hour = 0
		}
	}
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, SeoulLocation)
	if t.Day() != day {
		// time.Date normalizes 2025-02-30 into March.
		return time.Time{}, false
	}
	return t, true
}
