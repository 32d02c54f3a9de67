package evaluation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"voicegrade/internal/textutil"
)

// ErrEmptyDocument is returned for blank or null documents.
var ErrEmptyDocument = errors.New("empty evaluation document")

// Decode parses a detail document in any accepted shape into the canonical
// Record. SubmittedAt stays zero when the document carries no parseable value.
func Decode(data []byte) (Record, error) {
	rec, _, err := decode(data)
	return rec, err
}

// DecodeForListing parses a detail document and resolves SubmittedAt with the
// full fallback chain, using storage as the storage-provided timestamp.
func DecodeForListing(data []byte, storage time.Time) (Record, DateSource, error) {
	rec, rawSubmitted, err := decode(data)
	if err != nil {
		return Record{}, "", err
	}
	if !rec.SubmittedAt.IsZero() {
		if _, source, ok := ParseTimestamp(rawSubmitted); ok {
			return rec, source, nil
		}
		// Numeric epoch values.
		return rec, DateSourceISO, nil
	}
	t, source := NormalizeSubmittedAt(rawSubmitted, storage)
	rec.SubmittedAt = t
	return rec, source, nil
}

func decode(data []byte) (Record, string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || isBlankJSON(trimmed) {
		return Record{}, "", ErrEmptyDocument
	}

	var doc fields
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return Record{}, "", fmt.Errorf("decode evaluation document: %w", err)
	}

	rec := Record{
		ID:                doc.str("id"),
		EmployeeID:        doc.str("employeeId", "employee_id"),
		Name:              doc.str("name"),
		RecordingRefs:     decodeRecordingRefs(doc["recordingRefs"]),
		Scores:            decodeScores(doc["scores"]),
		CategoryScores:    decodeCategoryScores(doc["categoryScores"]),
		TotalScore:        doc.number("totalScore"),
		MaxScore:          doc.number("maxScore"),
		LanguageTotals:    decodeNumberMap(doc["languageTotals"]),
		Grade:             doc.str("grade"),
		Comments:          decodeStringMap(doc["comments"]),
		EvaluatedBy:       doc.str("evaluatedBy"),
		ReviewRequestedBy: doc.str("reviewRequestedBy"),
		Approved:          doc.boolean("approved"),
		ApprovedBy:        doc.str("approvedBy"),
		ReevaluatedBy:     doc.str("reevaluatedBy"),
		DetailPath:        doc.str("detailPath"),
	}
	language := doc.str("language")
	category := doc.str("category")
	submittedAt := doc["submittedAt"]

	// Nested candidate info fills whatever the flat shape left empty.
	for _, key := range []string{"candidateInfo", "candidate"} {
		info := decodeFields(doc[key])
		if info == nil {
			continue
		}
		rec.ID = firstNonEmpty(rec.ID, info.str("id"))
		rec.EmployeeID = firstNonEmpty(rec.EmployeeID, info.str("employeeId", "employee_id"))
		rec.Name = firstNonEmpty(rec.Name, info.str("name"))
		language = firstNonEmpty(language, info.str("language"))
		category = firstNonEmpty(category, info.str("category"))
		if isBlankJSON(submittedAt) {
			submittedAt = info["submittedAt"]
		}
	}

	rec.Name = textutil.Normalize(rec.Name)

	if lang, ok := ParseLanguage(language); ok {
		rec.Language = lang
	} else {
		rec.Language = Language(textutil.Normalize(language))
	}
	if cat, ok := ParseCategory(category); ok {
		rec.Category = cat
	} else {
		rec.Category = Category(textutil.Normalize(category))
	}
	if status, ok := ParseStatus(doc.str("status")); ok {
		rec.Status = status
	} else if rec.Approved {
		rec.Status = StatusSubmitted
	} else {
		rec.Status = StatusPending
	}

	if t, ok := parseRawTimestamp(submittedAt); ok {
		rec.SubmittedAt = t
	}
	rec.EvaluatedAt = rawTimePtr(doc["evaluatedAt"])
	rec.ReviewRequestedAt = rawTimePtr(doc["reviewRequestedAt"])
	rec.ApprovedAt = rawTimePtr(doc["approvedAt"])
	rec.ReevaluatedAt = rawTimePtr(doc["reevaluatedAt"])
	if t, ok := parseRawTimestamp(doc["createdAt"]); ok {
		rec.CreatedAt = t
	}
	if t, ok := parseRawTimestamp(doc["updatedAt"]); ok {
		rec.UpdatedAt = t
	}

	return rec, rawString(submittedAt), nil
}

func rawTimePtr(raw json.RawMessage) *time.Time {
	t, ok := parseRawTimestamp(raw)
	if !ok {
		return nil
	}
	return &t
}

func rawString(raw json.RawMessage) string {
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return ""
	}
	return str
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// Encode serializes a record into its canonical detail document.
func Encode(rec Record) ([]byte, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode evaluation document: %w", err)
	}
	return data, nil
}
