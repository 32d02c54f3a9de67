package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestNewFanoutHandlerCollapses(t *testing.T) {
	if _, ok := newFanoutHandler(nil, nil).(NoopHandler); !ok {
		t.Fatal("expected NoopHandler when every handler is nil")
	}
	inner := slog.NewJSONHandler(&bytes.Buffer{}, nil)
	if h := newFanoutHandler(nil, inner); h != inner {
		t.Fatal("expected the only live handler to be returned unwrapped")
	}
}

func TestFanoutHandlerRoutesByLevel(t *testing.T) {
	var console, file bytes.Buffer
	h := newFanoutHandler(
		slog.NewTextHandler(&console, &slog.HandlerOptions{Level: slog.LevelWarn}),
		slog.NewJSONHandler(&file, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	if h.Enabled(context.Background(), slog.LevelDebug-1) {
		t.Fatal("no handler accepts levels below debug")
	}

	logger := slog.New(h).With(String(FieldComponent, "records")).WithGroup("move")
	logger.Debug("move target", String("to", "/evaluations/completed/r1.json"))
	logger.Warn("move conflict", String("to", "/evaluations/completed/r1.json"))

	if got := strings.Count(console.String(), "\n"); got != 1 {
		t.Fatalf("console lines = %d, want 1: %q", got, console.String())
	}
	if !strings.Contains(console.String(), "move.to=/evaluations/completed/r1.json") {
		t.Fatalf("console missing grouped attr: %q", console.String())
	}
	if got := strings.Count(file.String(), "\n"); got != 2 {
		t.Fatalf("file lines = %d, want 2: %q", got, file.String())
	}
	if !strings.Contains(file.String(), `"component":"records"`) || !strings.Contains(file.String(), `"move":{"to"`) {
		t.Fatalf("file missing attrs: %q", file.String())
	}
}

type failingHandler struct{ slog.Handler }

func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("disk full") }

func TestFanoutHandlerJoinsErrorsAndKeepsWriting(t *testing.T) {
	var buf bytes.Buffer
	good := slog.NewJSONHandler(&buf, nil)
	bad := failingHandler{Handler: slog.NewJSONHandler(&bytes.Buffer{}, nil)}
	h := newFanoutHandler(bad, good)

	err := h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "saved", 0))
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("healthy handler should still receive the record")
	}
}
