package index

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"voicegrade/internal/blob"
	"voicegrade/internal/evalerr"
	"voicegrade/internal/evaluation"
)

func newLocalBlobs(t *testing.T) *blob.LocalStore {
	t.Helper()
	store, err := blob.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("new local store: %v", err)
	}
	return store
}

func entry(id string, status evaluation.Status) evaluation.IndexEntry {
	layout := NewLayout("")
	return evaluation.IndexEntry{
		ID:         id,
		EmployeeID: "E" + id,
		Name:       "name-" + id,
		Language:   evaluation.LanguageKoreanEnglish,
		Category:   evaluation.CategoryNew,
		Status:     status,
		DetailPath: layout.DetailPath(status.Bucket(), id),
	}
}

// racingStore lets a competing writer slip in before selected conditional
// writes.
type racingStore struct {
	blob.Store
	before func(ctx context.Context, call int) error
	calls  atomic.Int32
}

func (r *racingStore) ConditionalOverwrite(ctx context.Context, p string, data []byte, rev string) (blob.Metadata, error) {
	call := int(r.calls.Add(1))
	if r.before != nil {
		if err := r.before(ctx, call); err != nil {
			return blob.Metadata{}, err
		}
	}
	return r.Store.ConditionalOverwrite(ctx, p, data, rev)
}

func TestLoadMissingIndexIsEmpty(t *testing.T) {
	store := New(newLocalBlobs(t), NewLayout(""))
	entries, rev, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(entries) != 0 || rev != "" {
		t.Fatalf("expected empty index, got %d entries rev=%q", len(entries), rev)
	}
}

func TestUpdateUpsertAndRemove(t *testing.T) {
	store := New(newLocalBlobs(t), NewLayout(""))
	ctx := context.Background()

	if _, err := store.Update(ctx, Upsert(entry("b", evaluation.StatusPending))); err != nil {
		t.Fatalf("upsert b: %v", err)
	}
	if _, err := store.Update(ctx, Upsert(entry("a", evaluation.StatusPending))); err != nil {
		t.Fatalf("upsert a: %v", err)
	}
	entries, err := store.Update(ctx, Upsert(entry("b", evaluation.StatusSubmitted)))
	if err != nil {
		t.Fatalf("upsert b again: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != "a" || entries[1].ID != "b" {
		t.Fatalf("expected sorted a,b got %+v", entries)
	}
	got, ok := Find(entries, "b")
	if !ok || got.Status != evaluation.StatusSubmitted || got.DetailPath != "/evaluations/completed/b.json" {
		t.Fatalf("unexpected entry b: %+v", got)
	}

	if _, err := store.Update(ctx, Remove("a")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	loaded, _, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != "b" {
		t.Fatalf("unexpected entries after remove: %+v", loaded)
	}
}

func TestUpdateSkipsWriteWhenUnchanged(t *testing.T) {
	racing := &racingStore{Store: newLocalBlobs(t)}
	store := New(racing, NewLayout(""))
	ctx := context.Background()

	if _, err := store.Update(ctx, Upsert(entry("a", evaluation.StatusPending))); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := store.Update(ctx, Upsert(entry("a", evaluation.StatusPending))); err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	if got := racing.calls.Load(); got != 1 {
		t.Fatalf("expected a single write, got %d", got)
	}
}

func TestUpdateRetriesOnConcurrentWriter(t *testing.T) {
	blobs := newLocalBlobs(t)
	competitor := New(blobs, NewLayout(""))
	racing := &racingStore{Store: blobs}
	racing.before = func(ctx context.Context, call int) error {
		if call != 1 {
			return nil
		}
		_, err := competitor.Update(ctx, Upsert(entry("other", evaluation.StatusPending)))
		return err
	}
	store := New(racing, NewLayout(""))

	entries, err := store.Update(context.Background(), Upsert(entry("mine", evaluation.StatusPending)))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, ok := Find(entries, "other"); !ok {
		t.Fatalf("competing entry lost: %+v", entries)
	}
	if _, ok := Find(entries, "mine"); !ok {
		t.Fatalf("own entry missing: %+v", entries)
	}
	if got := racing.calls.Load(); got != 2 {
		t.Fatalf("expected 2 conditional writes, got %d", got)
	}
}

func TestUpdateGivesUpWithPersistenceError(t *testing.T) {
	racing := &racingStore{Store: newLocalBlobs(t)}
	racing.before = func(context.Context, int) error {
		return evalerr.Wrap(evalerr.ErrConcurrencyConflict, "conditional overwrite", "forced", nil)
	}
	store := New(racing, NewLayout(""), WithMaxSaveAttempts(3))

	_, err := store.Update(context.Background(), Upsert(entry("a", evaluation.StatusPending)))
	if !errors.Is(err, evalerr.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if evalerr.KindOf(err) != evalerr.KindPersistence {
		t.Fatalf("expected persistence kind, got %s", evalerr.KindOf(err))
	}
	if got := racing.calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestUpdateLeavesCorruptIndexForReconcile(t *testing.T) {
	racing := &racingStore{Store: newLocalBlobs(t)}
	store := New(racing, NewLayout(""))
	ctx := context.Background()
	if _, err := racing.Overwrite(ctx, store.Layout().IndexPath(), []byte(`{"entries":[`)); err != nil {
		t.Fatalf("write index: %v", err)
	}

	_, err := store.Update(ctx, Upsert(entry("a", evaluation.StatusPending)))
	if !errors.Is(err, ErrCorrupt) || evalerr.KindOf(err) != evalerr.KindPersistence {
		t.Fatalf("expected corrupt persistence error, got %v", err)
	}
	if got := racing.calls.Load(); got != 0 {
		t.Fatalf("corrupt index must not be overwritten by Update, got %d writes", got)
	}
}

func TestConcurrentUpdatesLoseNothing(t *testing.T) {
	blobs := newLocalBlobs(t)
	const writers = 12

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store := New(blobs, NewLayout(""), WithMaxSaveAttempts(100))
			if _, err := store.Update(context.Background(), Upsert(entry(fmt.Sprintf("r%02d", i), evaluation.StatusPending))); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("update: %v", err)
	}

	entries, _, err := New(blobs, NewLayout("")).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(entries) != writers {
		t.Fatalf("expected %d entries, got %d", writers, len(entries))
	}
}

func TestDecodeEntriesAcceptsWrappedAndLegacyShapes(t *testing.T) {
	data := []byte(`{"entries":[
		{"id":"a","employeeId":"E1","name":"n","status":"completed","approved":true,"detailPath":"/evaluations/completed/a.json"},
		{"name":"no id"},
		{"id":"b","candidateInfo":{"employee_id":"E2","name":"m"},"status":"review-requested","submittedAt":"2025-08-08T09:00:00Z"}
	]}`)
	entries, err := decodeEntries(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", entries)
	}
	if entries[0].Status != evaluation.StatusSubmitted || !entries[0].Approved {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Status != evaluation.StatusReviewRequested || entries[1].EmployeeID != "E2" {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}
	if !entries[1].SubmittedAt.Equal(time.Date(2025, 8, 8, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected submittedAt: %v", entries[1].SubmittedAt)
	}
}
