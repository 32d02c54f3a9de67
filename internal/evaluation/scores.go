package evaluation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"voicegrade/internal/textutil"
)

// Scores maps criterion keys to raw scores.
type Scores map[string]float64

// UnmarshalJSON accepts numbers, numeric strings, and nulls. Keys are
// normalized so decomposed Hangul keys match the rubric.
func (s *Scores) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = nil
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode scores: %w", err)
	}
	out := make(Scores, len(raw))
	for key, value := range raw {
		num, ok, err := parseLenientNumber(value)
		if err != nil {
			return fmt.Errorf("decode score %q: %w", key, err)
		}
		if !ok {
			continue
		}
		out[textutil.Normalize(key)] = num
	}
	*s = out
	return nil
}

// Keys returns the sorted criterion keys.
func (s Scores) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a copy of the score map.
func (s Scores) Clone() Scores {
	if s == nil {
		return nil
	}
	cp := make(Scores, len(s))
	for k, v := range s {
		cp[k] = v
	}
	return cp
}

// Merge returns a copy of s overlaid with other.
func (s Scores) Merge(other Scores) Scores {
	out := make(Scores, len(s)+len(other))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range other {
		out[textutil.Normalize(k)] = v
	}
	return out
}

func parseLenientNumber(raw json.RawMessage) (float64, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return 0, false, nil
	}
	if trimmed[0] == '"' {
		var str string
		if err := json.Unmarshal(trimmed, &str); err != nil {
			return 0, false, err
		}
		str = strings.TrimSpace(str)
		if str == "" {
			return 0, false, nil
		}
		num, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return 0, false, err
		}
		return num, true, nil
	}
	var num float64
	if err := json.Unmarshal(trimmed, &num); err != nil {
		return 0, false, err
	}
	return num, true, nil
}
