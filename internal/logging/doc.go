// Package logging assembles structured slog loggers and helpers used across
// voicegrade.
//
// It owns the console and JSON handlers, level and output plumbing, the
// standard field keys, and helpers such as WarnWithContext that enforce the
// event_type/error_hint/impact shape on warnings. The console handler colours
// levels only when writing to a terminal. NewNop provides a discard logger for
// tests and wiring code that cannot fail.
package logging
