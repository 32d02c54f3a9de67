package evaluation

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeFlatShape(t *testing.T) {
	doc := `{
		"id": "rec-1",
		"employeeId": " E100 ",
		"name": "김민지",
		"language": "korean-english",
		"category": "신규",
		"status": "submitted",
		"submittedAt": "2025-08-09T00:00:00Z",
		"scores": {"korean.발음": 18, "english.강세": "17.5", "empty": null},
		"approved": false
	}`
	rec, err := Decode([]byte(doc))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.ID != "rec-1" || rec.EmployeeID != "E100" || rec.Name != "김민지" {
		t.Fatalf("unexpected identity: %+v", rec)
	}
	if rec.Language != LanguageKoreanEnglish || rec.Category != CategoryNew || rec.Status != StatusSubmitted {
		t.Fatalf("unexpected enums: %s %s %s", rec.Language, rec.Category, rec.Status)
	}
	if rec.Scores["english.강세"] != 17.5 || rec.Scores["korean.발음"] != 18 {
		t.Fatalf("unexpected scores: %v", rec.Scores)
	}
	if _, ok := rec.Scores["empty"]; ok {
		t.Fatal("null score should be dropped")
	}
	if !rec.SubmittedAt.Equal(time.Date(2025, 8, 9, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected submittedAt %s", rec.SubmittedAt)
	}
}

func TestDecodeNestedCandidateInfo(t *testing.T) {
	doc := `{
		"id": "rec-2",
		"candidateInfo": {
			"name": "Tanaka",
			"employee_id": "E200",
			"language": "japanese",
			"category": "재자격",
			"submittedAt": "2025년 8월 8일 10:30"
		},
		"status": "review-requested"
	}`
	rec, err := Decode([]byte(doc))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !rec.Valid() {
		t.Fatalf("expected nested identity to be lifted, got %+v", rec)
	}
	if rec.Language != LanguageJapanese || rec.Category != CategoryRequalify {
		t.Fatalf("unexpected enums: %s %s", rec.Language, rec.Category)
	}
	if rec.Status != StatusReviewRequested {
		t.Fatalf("expected legacy status to normalize, got %s", rec.Status)
	}
	if rec.SubmittedAt.IsZero() {
		t.Fatal("expected locale submittedAt to parse")
	}
}

func TestDecodeForListingUsesStorageTime(t *testing.T) {
	storage := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rec, source, err := DecodeForListing([]byte(`{"id":"x","name":"n","employeeId":"e"}`), storage)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if source != DateSourceStorage || !rec.SubmittedAt.Equal(storage) {
		t.Fatalf("expected storage time, got %s (%s)", rec.SubmittedAt, source)
	}
	if rec.Status != StatusPending {
		t.Fatalf("missing status should default to pending, got %s", rec.Status)
	}
}

func TestDecodeEmptyDocument(t *testing.T) {
	for _, doc := range []string{"", "null", " {} ", `{"candidateInfo":{}}`, `{"name":"  ","scores":{}}`} {
		if _, err := Decode([]byte(doc)); !errors.Is(err, ErrEmptyDocument) {
			t.Fatalf("Decode(%q) err = %v, want ErrEmptyDocument", doc, err)
		}
	}
}

func TestDecodeMalformedDocument(t *testing.T) {
	for _, doc := range []string{`{"id":`, `[1,2]`, `"rec-1"`} {
		_, err := Decode([]byte(doc))
		if err == nil || errors.Is(err, ErrEmptyDocument) {
			t.Fatalf("Decode(%q) err = %v, want decode error", doc, err)
		}
	}
}

func TestDecodeRecordingRefsObjectForm(t *testing.T) {
	rec, err := Decode([]byte(`{"id":"r","name":"n","employeeId":"e","recordingRefs":{
		"2_en":"/rec/2-en.webm","1_ko":{"path":"/rec/1-ko.webm"},"bad":"","3_zh":null}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []RecordingRef{
		{Script: 2, Track: "en", Path: "/rec/2-en.webm"},
		{Script: 1, Track: "ko", Path: "/rec/1-ko.webm"},
	}
	if diff := cmp.Diff(want, rec.RecordingRefs); diff != "" {
		t.Fatalf("recording refs mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeRoundTripKeepsCanonicalShape(t *testing.T) {
	now := time.Date(2025, 8, 9, 1, 2, 3, 0, time.UTC)
	rec := Record{
		ID: "rec-3", EmployeeID: "E3", Name: "Lee", Language: LanguageChinese,
		Category: CategoryAdvanced, Status: StatusPending, SubmittedAt: now,
		RecordingRefs: []RecordingRef{{Script: 1, Track: "zh", Path: "/rec/1.webm"}},
	}
	data, err := Encode(rec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != rec.ID || !got.SubmittedAt.Equal(now) || len(got.RecordingRefs) != 1 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}
