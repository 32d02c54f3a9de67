package evalerr_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"voicegrade/internal/evalerr"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := evalerr.Wrap(evalerr.ErrNotFound, "download", "/evaluations/pending/a.json", base)
	if !errors.Is(err, evalerr.ErrNotFound) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"download", "pending/a.json", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestKindOf(t *testing.T) {
	conflict := evalerr.Wrap(evalerr.ErrConcurrencyConflict, "save index", "rev mismatch", nil)
	tests := []struct {
		name string
		err  error
		want evalerr.Kind
	}{
		{"nil", nil, evalerr.KindNone},
		{"plain", errors.New("x"), evalerr.KindInternal},
		{"validation", evalerr.Wrap(evalerr.ErrValidation, "submit", "missing keys", nil), evalerr.KindValidation},
		{"transition", evalerr.Wrap(evalerr.ErrInvalidTransition, "reevaluate", "approved", nil), evalerr.KindInvalidTransition},
		{"conflict", conflict, evalerr.KindConcurrencyConflict},
		{"persistence wraps conflict", evalerr.Wrap(evalerr.ErrPersistence, "update index", "retries exhausted", conflict), evalerr.KindPersistence},
		{"fmt wrapped", fmt.Errorf("outer: %w", evalerr.Wrap(evalerr.ErrCredential, "refresh", "", nil)), evalerr.KindCredential},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := evalerr.KindOf(tt.err); got != tt.want {
				t.Fatalf("KindOf = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !evalerr.IsRetryable(evalerr.Wrap(evalerr.ErrTransientIO, "upload", "503", nil)) {
		t.Fatal("transient errors should be retryable")
	}
	if evalerr.IsRetryable(evalerr.Wrap(evalerr.ErrValidation, "submit", "", nil)) {
		t.Fatal("validation errors must not be retryable")
	}
}
