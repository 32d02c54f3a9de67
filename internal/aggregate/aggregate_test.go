package aggregate

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"voicegrade/internal/evaluation"
)

func doc(data string) Document {
	return Document{Data: []byte(data)}
}

func ids(recs []evaluation.Record) []string {
	out := make([]string, len(recs))
	for i, rec := range recs {
		out[i] = rec.ID
	}
	return out
}

func TestAggregateLocaleAndISODates(t *testing.T) {
	part := Partition{Name: "pending", Documents: []Document{
		doc(`{"id":"locale","name":"박민수","employeeId":"E1","submittedAt":"2025년 8월 8일 10:30"}`),
		doc(`{"id":"iso","name":"이영희","employeeId":"E2","submittedAt":"2025-08-09T00:00:00Z"}`),
	}}
	got := ids(Aggregate(part))
	if diff := cmp.Diff([]string{"iso", "locale"}, got); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregatePrefersEarlierPartitionAndIsStable(t *testing.T) {
	pending := Partition{Name: "pending", Documents: []Document{
		{Path: "/evaluations/pending/a.json", Data: []byte(`{"id":"a","name":"A","employeeId":"1","status":"pending","submittedAt":"2025-01-02T00:00:00Z"}`)},
		doc(`{"id":"b","name":"B","employeeId":"2","submittedAt":"2025-01-01T00:00:00Z"}`),
		doc(`{"id":"c","name":"C","employeeId":"3","submittedAt":"2025-01-01T00:00:00Z"}`),
	}}
	completed := Partition{Name: "completed", Documents: []Document{
		{Path: "/evaluations/completed/a.json", Data: []byte(`{"id":"a","name":"A","employeeId":"1","status":"submitted","submittedAt":"2025-01-02T00:00:00Z"}`)},
		doc(`{"id":"d","name":"D","employeeId":"4","submittedAt":"2025-01-03T00:00:00Z"}`),
	}}

	first, stats := Items(pending, completed)
	second, _ := Items(pending, completed)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("aggregation not deterministic:\n%s", diff)
	}

	var got []string
	for _, item := range first {
		got = append(got, item.Record.ID)
	}
	// b and c share a timestamp and keep merge order.
	if diff := cmp.Diff([]string{"d", "a", "b", "c"}, got); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	a := first[1]
	if a.Partition != "pending" || a.Record.Status != evaluation.StatusPending || a.Record.DetailPath != "/evaluations/pending/a.json" {
		t.Fatalf("expected pending copy of a, got %+v", a)
	}
	if stats.Duplicates != 1 {
		t.Fatalf("expected one duplicate, got %+v", stats)
	}
}

func TestAggregateDropsEmptyMalformedAndInvalid(t *testing.T) {
	storage := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	part := Partition{Documents: []Document{
		doc(``),
		doc(`{}`),
		doc(`null`),
		doc(`{"id":`),
		doc(`{"id":"no-name","employeeId":"9"}`),
		doc(`{"candidateInfo":{"id":"nested","name":"정수아","employee_id":"E7"}}`),
		{Data: []byte(`{"id":"stored","name":"S","employeeId":"8","submittedAt":"someday"}`), StorageTime: storage},
		doc(`{"id":"undated","name":"U","employeeId":"6"}`),
	}}

	items, stats := Items(part)
	want := Stats{Empty: 3, Malformed: 1, Invalid: 1}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 records, got %d", len(items))
	}
	if items[0].Record.ID != "stored" || items[0].DateSource != evaluation.DateSourceStorage {
		t.Fatalf("expected storage-dated record first, got %+v", items[0])
	}
	// Undated records fall back to epoch 0 and sort last in merge order.
	for _, item := range items[1:] {
		if item.DateSource != evaluation.DateSourceEpoch {
			t.Fatalf("expected epoch fallback, got %+v", item)
		}
	}
	if items[1].Record.ID != "nested" || items[1].Record.Name != "정수아" {
		t.Fatalf("nested candidate shape not normalized: %+v", items[1].Record)
	}
}

func TestAggregateKeepsRecordsWithLooseFieldTypes(t *testing.T) {
	part := Partition{Name: "pending", Documents: []Document{
		doc(`{"id":"refs-object","name":"A","employeeId":"1","submittedAt":"2025-05-01T00:00:00Z",
			"recordingRefs":{"1_ko":"/rec/1-ko.webm","2_en":"/rec/2-en.webm"}}`),
		doc(`{"id":"string-total","name":"B","employeeId":"2","submittedAt":"2025-05-02T00:00:00Z",
			"totalScore":"180","maxScore":200,"scores":{"korean.발음":"18","english.강세":"n/a"}}`),
		doc(`{"id":"string-bool","name":"C","employeeId":3,"submittedAt":"2025-05-03T00:00:00Z",
			"approved":"false","comments":{"ko":"좋음","en":7},"categoryScores":"none"}`),
	}}

	items, stats := Items(part)
	if diff := cmp.Diff(Stats{}, stats); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}
	got := make(map[string]evaluation.Record, len(items))
	for _, item := range items {
		got[item.Record.ID] = item.Record
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	if refs := got["refs-object"].RecordingRefs; len(refs) != 2 || refs[0].Script != 1 || refs[0].Track != "ko" || refs[1].Path != "/rec/2-en.webm" {
		t.Fatalf("object-form recording refs not decoded: %+v", refs)
	}
	if rec := got["string-total"]; rec.TotalScore != 180 || rec.Scores["korean.발음"] != 18 || len(rec.Scores) != 1 {
		t.Fatalf("numeric strings not decoded: %+v", rec)
	}
	if rec := got["string-bool"]; rec.Approved || rec.EmployeeID != "3" || rec.Status != evaluation.StatusPending {
		t.Fatalf("loose scalars not decoded: %+v", rec)
	}
}

func TestAggregateCountsBlankShapesAsEmpty(t *testing.T) {
	part := Partition{Documents: []Document{
		doc(`{"candidateInfo":{}}`),
		doc(`{"id":"","candidate":{"name":null},"scores":{}}`),
		doc(`[]`),
	}}
	items, stats := Items(part)
	if diff := cmp.Diff(Stats{Empty: 3}, stats); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}
	if len(items) != 0 {
		t.Fatalf("expected no records, got %d", len(items))
	}
}

func TestRecordsDedupesDecoded(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC) }
	a := evaluation.Record{ID: "a", Name: "A", EmployeeID: "1", SubmittedAt: day(1)}
	b := evaluation.Record{ID: "b", Name: "B", EmployeeID: "2", SubmittedAt: day(2)}
	dup := a
	dup.Name = "other"
	got := Records([]evaluation.Record{a, {ID: "x"}}, []evaluation.Record{dup, b})
	if diff := cmp.Diff([]string{"b", "a"}, ids(got)); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if got[1].Name != "A" {
		t.Fatalf("first occurrence should win, got %q", got[1].Name)
	}
}
