package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"voicegrade/internal/aggregate"
	"voicegrade/internal/blob"
	"voicegrade/internal/evalerr"
	"voicegrade/internal/evaluation"
	"voicegrade/internal/index"
	"voicegrade/internal/records"
	"voicegrade/internal/scoring"
)

func newTestService(t *testing.T) (*Service, *blob.LocalStore) {
	t.Helper()
	blobs, err := blob.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("new local store: %v", err)
	}
	engine, err := scoring.NewEngine(scoring.DefaultRubrics()...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	idx := index.New(blobs, index.NewLayout(""))
	manager := records.NewManager(blobs, idx, engine, records.WithMoveSettle(0))
	return NewService(blobs, idx, manager, WithFetchConcurrency(2)), blobs
}

func createRequest(id, name, submittedAt string) CreateRequest {
	return CreateRequest{
		ID:          id,
		EmployeeID:  "E-" + id,
		Name:        name,
		Language:    "korean-english",
		Category:    "신규",
		SubmittedAt: submittedAt,
	}
}

func fullScores(value float64) evaluation.Scores {
	scores := evaluation.Scores{}
	for _, key := range scoring.DualLanguageRubric().Keys() {
		scores[key] = value
	}
	return scores
}

func summaryIDs(list RecordList) []string {
	out := make([]string, len(list.Records))
	for i, rec := range list.Records {
		out[i] = rec.ID
	}
	return out
}

func TestListRecordsSortsFiltersAndPages(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, req := range []CreateRequest{
		createRequest("old", "박민수", "2025년 8월 8일 10:30"),
		createRequest("new", "이영희", "2025-08-09T00:00:00Z"),
		createRequest("mid", "최지우", "2025. 8. 8. 오후 3:00"),
	} {
		if _, err := svc.Create(ctx, req); err != nil {
			t.Fatalf("create %s: %v", req.ID, err)
		}
	}
	if _, err := svc.Submit(ctx, "mid", EvaluationRequest{Scores: fullScores(18), Evaluator: "평가자"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	all, err := svc.ListRecords(ctx, aggregate.Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff([]string{"new", "mid", "old"}, summaryIDs(all)); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if all.Records[1].Grade != "A" || all.Records[1].Status != "submitted" {
		t.Fatalf("unexpected submitted summary: %+v", all.Records[1])
	}

	page, err := svc.ListRecords(ctx, aggregate.Filter{Status: evaluation.StatusPending, Limit: 1})
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if page.Total != 2 || len(page.Records) != 1 || page.Records[0].ID != "new" {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestListRecordsSkipsMissingDetail(t *testing.T) {
	svc, blobs := newTestService(t)
	ctx := context.Background()
	rec, err := svc.Create(ctx, createRequest("gone", "김하나", ""))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, createRequest("kept", "김두리", "")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := blobs.Delete(ctx, rec.DetailPath); err != nil {
		t.Fatalf("delete detail: %v", err)
	}

	list, err := svc.ListRecords(ctx, aggregate.Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list.Skipped != 1 || list.Total != 1 || list.Records[0].ID != "kept" {
		t.Fatalf("unexpected listing: %+v", list)
	}

	report, err := svc.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if diff := cmp.Diff([]string{"gone"}, report.Removed); diff != "" {
		t.Fatalf("removed mismatch (-want +got):\n%s", diff)
	}
}

func TestListRecordsIncludesUnindexedDetail(t *testing.T) {
	svc, blobs := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Create(ctx, createRequest("r1", "김하나", "2025-08-01T00:00:00Z")); err != nil {
		t.Fatalf("create: %v", err)
	}
	layout := index.NewLayout("")
	raw := []byte(`{"id":"r2","name":"이두리","employeeId":"E-r2","submittedAt":"2025-08-02T00:00:00Z"}`)
	if _, err := blobs.Overwrite(ctx, layout.DetailPath(evaluation.BucketPending, "r2"), raw); err != nil {
		t.Fatalf("write detail: %v", err)
	}

	list, err := svc.ListRecords(ctx, aggregate.Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff([]string{"r2", "r1"}, summaryIDs(list)); diff != "" {
		t.Fatalf("listing mismatch (-want +got):\n%s", diff)
	}
	if list.Skipped != 0 {
		t.Fatalf("expected nothing skipped, got %d", list.Skipped)
	}

	entries, _, err := index.New(blobs, layout).Load(ctx)
	if err != nil {
		t.Fatalf("load index: %v", err)
	}
	added, ok := index.Find(entries, "r2")
	if !ok || added.DetailPath != layout.DetailPath(evaluation.BucketPending, "r2") {
		t.Fatalf("index not repaired: %+v", entries)
	}
}

func TestListRecordsSurvivesCorruptIndex(t *testing.T) {
	svc, blobs := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Create(ctx, createRequest("r1", "김하나", "")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := blobs.Overwrite(ctx, index.NewLayout("").IndexPath(), []byte(`[{"id":"r1",`)); err != nil {
		t.Fatalf("corrupt index: %v", err)
	}
	list, err := svc.ListRecords(ctx, aggregate.Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff([]string{"r1"}, summaryIDs(list)); diff != "" {
		t.Fatalf("listing mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateRejectsBadTimestamp(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Create(context.Background(), createRequest("x", "김하나", "next tuesday"))
	if !errors.Is(err, evalerr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLifecycleThroughService(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Create(ctx, createRequest("r1", "김하나", "")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Submit(ctx, "r1", EvaluationRequest{Scores: fullScores(19), Evaluator: "a"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	approved, err := svc.Approve(ctx, "r1", ActorRequest{Actor: "lead"})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !approved.Approved || approved.Grade != "S" {
		t.Fatalf("unexpected approved record: %+v", approved)
	}
	_, err = svc.Reevaluate(ctx, "r1", ActorRequest{Actor: "lead"})
	if got := NewErrorResponse(err).Kind; got != evalerr.KindInvalidTransition {
		t.Fatalf("kind = %q, want %q", got, evalerr.KindInvalidTransition)
	}
	err = svc.Delete(ctx, "r1", ActorRequest{Actor: "lead"})
	if got := NewErrorResponse(err).Kind; got != evalerr.KindInvalidTransition {
		t.Fatalf("kind = %q, want %q", got, evalerr.KindInvalidTransition)
	}

	history, err := svc.History(ctx, "r1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if history.Events == nil || len(history.Events) != 0 {
		t.Fatalf("expected empty history without a journal, got %+v", history.Events)
	}
}

func TestFromRecordFormatsTimes(t *testing.T) {
	rec := evaluation.Record{
		ID:          "r1",
		SubmittedAt: time.Date(2025, 8, 9, 1, 2, 3, 0, time.FixedZone("KST", 9*3600)),
	}
	if got := FromRecord(rec).SubmittedAt; got != "2025-08-08T16:02:03.000Z" {
		t.Fatalf("SubmittedAt = %q", got)
	}
	if got := FromRecord(rec).UpdatedAt; got != "" {
		t.Fatalf("zero UpdatedAt should be omitted, got %q", got)
	}
}
