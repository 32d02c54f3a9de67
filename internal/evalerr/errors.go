package evalerr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCredential          = errors.New("credential error")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrValidation          = errors.New("validation error")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrTransientIO         = errors.New("transient i/o failure")
	ErrPersistence         = errors.New("persistence error")
)

// Kind is the machine-readable classification of an error.
type Kind string

const (
	KindNone                Kind = ""
	KindCredential          Kind = "credential"
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindConcurrencyConflict Kind = "concurrency_conflict"
	KindValidation          Kind = "validation"
	KindInvalidTransition   Kind = "invalid_transition"
	KindTransientIO         Kind = "transient_io"
	KindPersistence         Kind = "persistence"
	KindInternal            Kind = "internal"
)

// Order matters: a persistence error may wrap the last concurrency conflict and
// should still classify as persistence.
var kindMarkers = []struct {
	marker error
	kind   Kind
}{
	{ErrPersistence, KindPersistence},
	{ErrCredential, KindCredential},
	{ErrInvalidTransition, KindInvalidTransition},
	{ErrValidation, KindValidation},
	{ErrConcurrencyConflict, KindConcurrencyConflict},
	{ErrConflict, KindConflict},
	{ErrNotFound, KindNotFound},
	{ErrTransientIO, KindTransientIO},
}

// Wrap builds an error message that includes operation context while tagging it
// with the provided marker. The marker should be one of the exported sentinels.
func Wrap(marker error, operation, message string, err error) error {
	detail := buildDetail(operation, message)
	if marker == nil {
		marker = ErrTransientIO
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// KindOf classifies err. A nil error yields KindNone and an unclassified one
// KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, km := range kindMarkers {
		if errors.Is(err, km.marker) {
			return km.kind
		}
	}
	return KindInternal
}

// IsRetryable reports whether the error class is recovered by retrying the
// same operation.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransientIO, KindConcurrencyConflict:
		return true
	default:
		return false
	}
}

func buildDetail(operation, message string) string {
	parts := make([]string, 0, 2)
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "store failure"
	}
	return strings.Join(parts, ": ")
}
