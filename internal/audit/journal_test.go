package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"voicegrade/internal/evaluation"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(context.Background(), filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournalAppendAndHistory(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	at := time.Date(2025, 8, 8, 1, 0, 0, 0, time.UTC)

	events := []Event{
		{RecordID: "r1", Action: ActionCreated, ToStatus: evaluation.StatusPending, OccurredAt: at},
		{RecordID: "r2", Action: ActionCreated, ToStatus: evaluation.StatusPending, OccurredAt: at},
		{RecordID: "r1", Action: ActionSubmitted, FromStatus: evaluation.StatusPending, ToStatus: evaluation.StatusSubmitted, Actor: "김평가", Grade: "A", TotalScore: 180, OccurredAt: at.Add(time.Hour)},
	}
	for _, evt := range events {
		stored, err := j.Append(ctx, evt)
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if stored.ID == 0 {
			t.Fatal("expected assigned id")
		}
	}

	history, err := j.History(ctx, "r1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 events, got %d", len(history))
	}
	last := history[1]
	if last.Action != ActionSubmitted || last.Actor != "김평가" || last.Grade != "A" || last.TotalScore != 180 {
		t.Fatalf("unexpected event: %+v", last)
	}
	if last.FromStatus != evaluation.StatusPending || last.ToStatus != evaluation.StatusSubmitted {
		t.Fatalf("unexpected statuses: %+v", last)
	}
	if !last.OccurredAt.Equal(at.Add(time.Hour)) {
		t.Fatalf("unexpected timestamp %v", last.OccurredAt)
	}

	recent, err := j.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Action != ActionSubmitted {
		t.Fatalf("unexpected recent events: %+v", recent)
	}
}

func TestJournalReopenKeepsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	ctx := context.Background()

	j, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := j.Append(ctx, Event{RecordID: "r1", Action: ActionDeleted}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	history, err := reopened.History(ctx, "r1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Action != ActionDeleted {
		t.Fatalf("unexpected history after reopen: %+v", history)
	}
}

func TestJournalRejectsMissingRecordID(t *testing.T) {
	j := openTestJournal(t)
	if _, err := j.Append(context.Background(), Event{Action: ActionCreated}); err == nil {
		t.Fatal("expected error for missing record id")
	}
}
