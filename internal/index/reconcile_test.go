package index

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"voicegrade/internal/evalerr"
	"voicegrade/internal/evaluation"
)

func writeDetail(t *testing.T, store *Store, bucket evaluation.Bucket, rec evaluation.Record) {
	t.Helper()
	data, err := evaluation.Encode(rec)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	p := store.Layout().DetailPath(bucket, rec.ID)
	if _, err := store.blobs.Overwrite(context.Background(), p, data); err != nil {
		t.Fatalf("write detail %s: %v", p, err)
	}
}

func detail(id string, status evaluation.Status) evaluation.Record {
	layout := NewLayout("")
	return evaluation.Record{
		ID:         id,
		EmployeeID: "E" + id,
		Name:       "name-" + id,
		Language:   evaluation.LanguageKoreanEnglish,
		Category:   evaluation.CategoryNew,
		Status:     status,
		Approved:   false,
		DetailPath: layout.DetailPath(status.Bucket(), id),
	}
}

func TestReconcileRepairsIndexFromDetails(t *testing.T) {
	store := New(newLocalBlobs(t), NewLayout(""))
	ctx := context.Background()

	writeDetail(t, store, evaluation.BucketPending, detail("a", evaluation.StatusPending))
	writeDetail(t, store, evaluation.BucketCompleted, detail("b", evaluation.StatusSubmitted))
	writeDetail(t, store, evaluation.BucketPending, detail("d", evaluation.StatusReviewRequested))
	dupe := detail("d", evaluation.StatusSubmitted)
	writeDetail(t, store, evaluation.BucketCompleted, dupe)
	if _, err := store.blobs.Overwrite(ctx, store.Layout().DetailPath(evaluation.BucketPending, "empty"), []byte("{}")); err != nil {
		t.Fatalf("write empty: %v", err)
	}

	stale := entry("a", evaluation.StatusSubmitted)
	orphan := entry("c", evaluation.StatusPending)
	if _, err := store.Update(ctx, func(entries []evaluation.IndexEntry) ([]evaluation.IndexEntry, error) {
		return []evaluation.IndexEntry{stale, orphan}, nil
	}); err != nil {
		t.Fatalf("seed index: %v", err)
	}

	report, err := store.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if diff := cmp.Diff([]string{"b", "d"}, report.Added); diff != "" {
		t.Fatalf("added mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a"}, report.Repaired); diff != "" {
		t.Fatalf("repaired mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"c"}, report.Removed); diff != "" {
		t.Fatalf("removed mismatch (-want +got):\n%s", diff)
	}
	if len(report.Duplicates) != 1 || len(report.Unreadable) != 1 {
		t.Fatalf("expected one duplicate and one unreadable, got %+v", report)
	}

	entries, _, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %+v", entries)
	}
	a, _ := Find(entries, "a")
	if a.Status != evaluation.StatusPending || a.DetailPath != "/evaluations/pending/a.json" {
		t.Fatalf("entry a not repaired: %+v", a)
	}
	d, _ := Find(entries, "d")
	if d.Status != evaluation.StatusReviewRequested || d.DetailPath != "/evaluations/pending/d.json" {
		t.Fatalf("expected pending copy of d to win: %+v", d)
	}

	again, err := store.Reconcile(ctx)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if again.Changed() {
		t.Fatalf("expected second pass to be a no-op, got %+v", again)
	}
}

func TestReconcileRebuildsCorruptIndex(t *testing.T) {
	store := New(newLocalBlobs(t), NewLayout(""))
	ctx := context.Background()

	writeDetail(t, store, evaluation.BucketPending, detail("r1", evaluation.StatusPending))
	if _, err := store.blobs.Overwrite(ctx, store.Layout().IndexPath(), []byte(`[{"id":"r1",`)); err != nil {
		t.Fatalf("write index: %v", err)
	}
	if _, _, err := store.Load(ctx); !errors.Is(err, ErrCorrupt) || evalerr.IsRetryable(err) {
		t.Fatalf("Load err = %v, want non-retryable ErrCorrupt", err)
	}

	report, err := store.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Scanned != 1 || !cmp.Equal(report.Added, []string{"r1"}) {
		t.Fatalf("unexpected report: %+v", report)
	}
	entries, rev, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load after rebuild: %v", err)
	}
	if rev == "" || len(entries) != 1 || entries[0].ID != "r1" {
		t.Fatalf("unexpected entries after rebuild: %+v", entries)
	}
}

func TestReconcileRebuildsCorruptIndexWithNoDetails(t *testing.T) {
	store := New(newLocalBlobs(t), NewLayout(""))
	ctx := context.Background()
	if _, err := store.blobs.Overwrite(ctx, store.Layout().IndexPath(), []byte(`not json`)); err != nil {
		t.Fatalf("write index: %v", err)
	}
	if _, err := store.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if entries, _, err := store.Load(ctx); err != nil || len(entries) != 0 {
		t.Fatalf("load after rebuild = %v, %v", entries, err)
	}
}
