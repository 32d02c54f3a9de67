package audit

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"voicegrade/internal/evaluation"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes incompatibly.
const schemaVersion = 1

// ErrSchemaMismatch indicates the journal was written by an incompatible build.
var ErrSchemaMismatch = errors.New("audit schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Action names a lifecycle transition.
type Action string

const (
	ActionCreated         Action = "created"
	ActionSubmitted       Action = "submitted"
	ActionReviewRequested Action = "review_requested"
	ActionApproved        Action = "approved"
	ActionReevaluated     Action = "reevaluated"
	ActionDeleted         Action = "deleted"
)

// Event is one journal row.
type Event struct {
	ID         int64             `json:"id"`
	RecordID   string            `json:"recordId"`
	Action     Action            `json:"action"`
	FromStatus evaluation.Status `json:"fromStatus,omitempty"`
	ToStatus   evaluation.Status `json:"toStatus,omitempty"`
	Actor      string            `json:"actor,omitempty"`
	Grade      string            `json:"grade,omitempty"`
	TotalScore float64           `json:"totalScore"`
	DetailPath string            `json:"detailPath,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// Journal persists events in SQLite.
type Journal struct {
	db   *sql.DB
	path string
}

// Open creates or opens the journal database at path.
func Open(ctx context.Context, path string) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("audit journal path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("ensure audit directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	j := &Journal{db: db, path: path}
	if err := j.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Path returns the database location.
func (j *Journal) Path() string {
	return j.path
}

func (j *Journal) initSchema(ctx context.Context) error {
	var tableExists int
	err := j.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return j.createSchema(ctx)
	}

	var version int
	if err := j.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: journal has version %d, expected %d (delete %s to start a new journal)",
			ErrSchemaMismatch, version, schemaVersion, j.path)
	}
	return nil
}

func (j *Journal) createSchema(ctx context.Context) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Append stores evt and returns it with its assigned id.
func (j *Journal) Append(ctx context.Context, evt Event) (Event, error) {
	if strings.TrimSpace(evt.RecordID) == "" {
		return Event{}, errors.New("audit event requires a record id")
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now()
	}
	evt.OccurredAt = evt.OccurredAt.UTC()

	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = j.db.ExecContext(ctx,
			`INSERT INTO transitions (record_id, action, from_status, to_status, actor, grade, total_score, detail_path, occurred_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			evt.RecordID,
			string(evt.Action),
			nullableString(string(evt.FromStatus)),
			nullableString(string(evt.ToStatus)),
			nullableString(evt.Actor),
			nullableString(evt.Grade),
			evt.TotalScore,
			nullableString(evt.DetailPath),
			evt.OccurredAt.Format(time.RFC3339Nano),
		)
		return execErr
	})
	if err != nil {
		return Event{}, fmt.Errorf("insert audit event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Event{}, fmt.Errorf("read audit event id: %w", err)
	}
	evt.ID = id
	return evt, nil
}

// History returns the events for recordID in insertion order.
func (j *Journal) History(ctx context.Context, recordID string) ([]Event, error) {
	return j.query(ctx,
		`SELECT id, record_id, action, from_status, to_status, actor, grade, total_score, detail_path, occurred_at
		 FROM transitions WHERE record_id = ? ORDER BY id`, recordID)
}

// Recent returns the newest events across all records, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	return j.query(ctx,
		`SELECT id, record_id, action, from_status, to_status, actor, grade, total_score, detail_path, occurred_at
		 FROM transitions ORDER BY id DESC LIMIT ?`, limit)
}

func (j *Journal) query(ctx context.Context, query string, args ...any) ([]Event, error) {
	var events []Event
	err := retryOnBusy(ctx, func() error {
		events = events[:0]
		rows, err := j.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			evt, err := scanEvent(rows)
			if err != nil {
				return err
			}
			events = append(events, evt)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	return events, nil
}

func scanEvent(scanner interface{ Scan(dest ...any) error }) (Event, error) {
	var (
		evt        Event
		action     string
		fromStatus sql.NullString
		toStatus   sql.NullString
		actor      sql.NullString
		grade      sql.NullString
		detailPath sql.NullString
		occurred   string
	)
	if err := scanner.Scan(&evt.ID, &evt.RecordID, &action, &fromStatus, &toStatus, &actor, &grade, &evt.TotalScore, &detailPath, &occurred); err != nil {
		return Event{}, err
	}
	evt.Action = Action(action)
	evt.FromStatus = evaluation.Status(fromStatus.String)
	evt.ToStatus = evaluation.Status(toStatus.String)
	evt.Actor = actor.String
	evt.Grade = grade.String
	evt.DetailPath = detailPath.String
	if ts, err := time.Parse(time.RFC3339Nano, occurred); err == nil {
		evt.OccurredAt = ts
	}
	return evt, nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
