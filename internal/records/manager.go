package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"voicegrade/internal/audit"
	"voicegrade/internal/blob"
	"voicegrade/internal/evalerr"
	"voicegrade/internal/evaluation"
	"voicegrade/internal/index"
	"voicegrade/internal/logging"
	"voicegrade/internal/scoring"
	"voicegrade/internal/textutil"
)

// DefaultMoveSettle is the pause after a move before the new path is relied
// upon; listings on the remote store lag behind moves.
const DefaultMoveSettle = time.Second

// Journal receives transition events. Implementations may fail; failures are
// logged and never roll back a transition.
type Journal interface {
	Append(ctx context.Context, evt audit.Event) (audit.Event, error)
	History(ctx context.Context, recordID string) ([]audit.Event, error)
}

// Submission describes a new record.
type Submission struct {
	ID            string
	EmployeeID    string
	Name          string
	Language      evaluation.Language
	Category      evaluation.Category
	SubmittedAt   time.Time
	RecordingRefs []evaluation.RecordingRef
}

// Evaluation carries evaluator input for submit and request-review.
type Evaluation struct {
	Scores    evaluation.Scores
	Comments  map[string]string
	Evaluator string
}

// Manager runs record transitions.
type Manager struct {
	blobs   blob.Store
	index   *index.Store
	layout  index.Layout
	engine  *scoring.Engine
	journal Journal
	logger  *slog.Logger

	settle time.Duration
	sleep  func(context.Context, time.Duration) error
	now    func() time.Time
	newID  func() string
}

// Option customizes a Manager.
type Option func(*Manager)

// WithJournal attaches an audit journal.
func WithJournal(j Journal) Option {
	return func(m *Manager) {
		m.journal = j
	}
}

// WithMoveSettle overrides DefaultMoveSettle.
func WithMoveSettle(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.settle = d
		}
	}
}

// WithSleeper overrides how the settle delay is waited out (useful for tests).
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(m *Manager) {
		if sleep != nil {
			m.sleep = sleep
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) {
		if gen != nil {
			m.newID = gen
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager wires a lifecycle manager.
func NewManager(blobs blob.Store, idx *index.Store, engine *scoring.Engine, opts ...Option) *Manager {
	m := &Manager{
		blobs:  blobs,
		index:  idx,
		layout: idx.Layout(),
		engine: engine,
		settle: DefaultMoveSettle,
		sleep:  sleepContext,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.NewComponentLogger(m.logger, "records")
	return m
}

// Create stores a new pending record: detail file first, index entry second.
func (m *Manager) Create(ctx context.Context, sub Submission) (evaluation.Record, error) {
	rec, err := m.newRecord(sub)
	if err != nil {
		return evaluation.Record{}, err
	}

	entries, _, err := m.index.Load(ctx)
	if err != nil {
		return evaluation.Record{}, err
	}
	if _, exists := index.Find(entries, rec.ID); exists {
		return evaluation.Record{}, evalerr.Wrap(evalerr.ErrConflict, "create record", fmt.Sprintf("record %s already exists", rec.ID), nil)
	}
	if err := m.ensureNoDetail(ctx, rec); err != nil {
		return evaluation.Record{}, err
	}
	if err := m.derive(&rec); err != nil {
		return evaluation.Record{}, err
	}

	data, err := evaluation.Encode(rec)
	if err != nil {
		return evaluation.Record{}, evalerr.Wrap(evalerr.ErrValidation, "create record", "encode detail", err)
	}
	if _, err := m.blobs.ConditionalOverwrite(ctx, rec.DetailPath, data, ""); err != nil {
		if errors.Is(err, evalerr.ErrConcurrencyConflict) {
			return evaluation.Record{}, evalerr.Wrap(evalerr.ErrConflict, "create record", fmt.Sprintf("record %s already exists", rec.ID), err)
		}
		return evaluation.Record{}, err
	}
	if err := m.updateIndex(ctx, rec); err != nil {
		return rec, err
	}
	m.recordEvent(ctx, audit.ActionCreated, "", rec, "")
	m.logger.Info("record created",
		logging.String(logging.FieldEventType, "record_created"),
		logging.RecordID(rec.ID),
		logging.String("language", string(rec.Language)),
		logging.String("category", string(rec.Category)),
	)
	return rec, nil
}

// ensureNoDetail rejects ids whose detail file already sits in another
// bucket. The pending path itself is guarded by the create-only write.
func (m *Manager) ensureNoDetail(ctx context.Context, rec evaluation.Record) error {
	for _, bucket := range evaluation.Buckets() {
		p := m.layout.DetailPath(bucket, rec.ID)
		if strings.EqualFold(p, rec.DetailPath) {
			continue
		}
		_, _, err := m.blobs.Download(ctx, p)
		switch {
		case errors.Is(err, evalerr.ErrNotFound):
			continue
		case err != nil:
			return err
		}
		logging.WarnWithContext(m.logger, "detail file exists without index entry", "create_unindexed_duplicate",
			logging.RecordID(rec.ID),
			logging.String("path", p),
			logging.String(logging.FieldErrorHint, "run index reconcile"),
		)
		return evalerr.Wrap(evalerr.ErrConflict, "create record", fmt.Sprintf("record %s already exists at %s", rec.ID, p), nil)
	}
	return nil
}

func (m *Manager) newRecord(sub Submission) (evaluation.Record, error) {
	id := textutil.SanitizeFileName(sub.ID)
	if id == "" {
		id = m.newID()
	}
	name := textutil.Normalize(sub.Name)
	employeeID := strings.TrimSpace(sub.EmployeeID)
	if name == "" || employeeID == "" {
		return evaluation.Record{}, evalerr.Wrap(evalerr.ErrValidation, "create record", "name and employee id are required", nil)
	}
	lang, ok := evaluation.ParseLanguage(string(sub.Language))
	if !ok {
		return evaluation.Record{}, evalerr.Wrap(evalerr.ErrValidation, "create record", fmt.Sprintf("unknown language %q", sub.Language), nil)
	}
	cat, ok := evaluation.ParseCategory(string(sub.Category))
	if !ok {
		return evaluation.Record{}, evalerr.Wrap(evalerr.ErrValidation, "create record", fmt.Sprintf("unknown category %q", sub.Category), nil)
	}
	if _, err := m.engine.Rubric(lang, cat); err != nil {
		return evaluation.Record{}, err
	}

	now := m.now().UTC()
	submitted := sub.SubmittedAt
	if submitted.IsZero() {
		submitted = now
	}
	rec := evaluation.Record{
		ID:            id,
		EmployeeID:    employeeID,
		Name:          name,
		Language:      lang,
		Category:      cat,
		SubmittedAt:   submitted.UTC(),
		RecordingRefs: append([]evaluation.RecordingRef(nil), sub.RecordingRefs...),
		Status:        evaluation.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	rec.DetailPath = m.layout.DetailPathFor(rec)
	return rec, nil
}

// Get loads a record by id from its detail file. The index locates the file;
// when it is stale both buckets are checked and the index is repaired.
func (m *Manager) Get(ctx context.Context, id string) (evaluation.Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return evaluation.Record{}, evalerr.Wrap(evalerr.ErrValidation, "get record", "id is required", nil)
	}
	entries, _, err := m.index.Load(ctx)
	if err != nil && !errors.Is(err, index.ErrCorrupt) {
		return evaluation.Record{}, err
	}
	entry, indexed := index.Find(entries, id)

	candidates := make([]string, 0, 3)
	if indexed && entry.DetailPath != "" {
		candidates = append(candidates, entry.DetailPath)
	}
	for _, b := range evaluation.Buckets() {
		p := m.layout.DetailPath(b, id)
		if !indexed || p != entry.DetailPath {
			candidates = append(candidates, p)
		}
	}

	for _, p := range candidates {
		rec, err := m.readDetail(ctx, p)
		if errors.Is(err, evalerr.ErrNotFound) {
			continue
		}
		if err != nil {
			return evaluation.Record{}, err
		}
		if !indexed || !entry.Matches(rec) {
			m.repairIndex(ctx, rec)
		}
		return rec, nil
	}
	return evaluation.Record{}, evalerr.Wrap(evalerr.ErrNotFound, "get record", id, nil)
}

func (m *Manager) readDetail(ctx context.Context, p string) (evaluation.Record, error) {
	data, meta, err := m.blobs.Download(ctx, p)
	if err != nil {
		return evaluation.Record{}, err
	}
	rec, _, err := evaluation.DecodeForListing(data, meta.ServerModified)
	if err != nil {
		return evaluation.Record{}, evalerr.Wrap(evalerr.ErrValidation, "read record", p, err)
	}
	rec.DetailPath = blob.CleanPath(p)
	if rec.ID == "" {
		rec.ID = index.IDFromFileName(meta.Name)
	}
	return rec, nil
}

func (m *Manager) repairIndex(ctx context.Context, rec evaluation.Record) {
	if _, err := m.index.Update(ctx, index.Upsert(rec.IndexEntry())); err != nil {
		logging.WarnWithContext(m.logger, "index repair failed", "index_repair_failed",
			logging.RecordID(rec.ID),
			logging.String(logging.FieldErrorHint, "run index reconcile"),
			logging.String(logging.FieldImpact, "listing may show a stale status"),
			logging.Error(err),
		)
		return
	}
	m.logger.Info("index entry repaired from detail file",
		logging.String(logging.FieldEventType, "index_repaired"),
		logging.RecordID(rec.ID),
		logging.String("status", string(rec.Status)),
	)
}

// Submit completes an evaluation. Every required criterion must be scored.
func (m *Manager) Submit(ctx context.Context, id string, input Evaluation) (evaluation.Record, error) {
	const op = "submit"
	rec, err := m.Get(ctx, id)
	if err != nil {
		return evaluation.Record{}, err
	}
	from := rec.Status
	if err := requireEditable(op, rec); err != nil {
		return evaluation.Record{}, err
	}
	evaluator, err := requireActor(op, input.Evaluator)
	if err != nil {
		return evaluation.Record{}, err
	}
	if err := m.applyInput(op, &rec, input); err != nil {
		return evaluation.Record{}, err
	}
	missing, err := m.engine.Missing(rec.Scores, rec.Language, rec.Category)
	if err != nil {
		return evaluation.Record{}, err
	}
	if len(missing) > 0 {
		return evaluation.Record{}, evalerr.Wrap(evalerr.ErrValidation, op,
			fmt.Sprintf("missing scores for %s", strings.Join(missing, ", ")), nil)
	}

	now := m.now().UTC()
	rec.Status = evaluation.StatusSubmitted
	rec.Approved = false
	rec.EvaluatedBy = evaluator
	rec.EvaluatedAt = &now
	return m.commit(ctx, audit.ActionSubmitted, from, rec, evaluator)
}

// RequestReview saves partial progress and flags the record for another
// evaluator.
func (m *Manager) RequestReview(ctx context.Context, id string, input Evaluation) (evaluation.Record, error) {
	const op = "request review"
	rec, err := m.Get(ctx, id)
	if err != nil {
		return evaluation.Record{}, err
	}
	from := rec.Status
	if err := requireEditable(op, rec); err != nil {
		return evaluation.Record{}, err
	}
	evaluator, err := requireActor(op, input.Evaluator)
	if err != nil {
		return evaluation.Record{}, err
	}
	if err := m.applyInput(op, &rec, input); err != nil {
		return evaluation.Record{}, err
	}

	now := m.now().UTC()
	rec.Status = evaluation.StatusReviewRequested
	rec.ReviewRequestedBy = evaluator
	rec.ReviewRequestedAt = &now
	return m.commit(ctx, audit.ActionReviewRequested, from, rec, evaluator)
}

// Approve finalizes a submitted record. Scores are re-derived and must be
// complete; approval is terminal.
func (m *Manager) Approve(ctx context.Context, id, approvedBy string) (evaluation.Record, error) {
	const op = "approve"
	rec, err := m.Get(ctx, id)
	if err != nil {
		return evaluation.Record{}, err
	}
	if rec.Approved {
		return evaluation.Record{}, evalerr.Wrap(evalerr.ErrInvalidTransition, op, fmt.Sprintf("record %s is already approved", rec.ID), nil)
	}
	if rec.Status != evaluation.StatusSubmitted {
		return evaluation.Record{}, evalerr.Wrap(evalerr.ErrInvalidTransition, op,
			fmt.Sprintf("record %s is %s, expected %s", rec.ID, rec.Status, evaluation.StatusSubmitted), nil)
	}
	actor, err := requireActor(op, approvedBy)
	if err != nil {
		return evaluation.Record{}, err
	}
	missing, err := m.engine.Missing(rec.Scores, rec.Language, rec.Category)
	if err != nil {
		return evaluation.Record{}, err
	}
	if len(missing) > 0 {
		return evaluation.Record{}, evalerr.Wrap(evalerr.ErrValidation, op,
			fmt.Sprintf("cannot approve with missing scores for %s", strings.Join(missing, ", ")), nil)
	}

	now := m.now().UTC()
	rec.Approved = true
	rec.ApprovedBy = actor
	rec.ApprovedAt = &now
	return m.commit(ctx, audit.ActionApproved, evaluation.StatusSubmitted, rec, actor)
}

// Reevaluate sends an unapproved submitted record back to pending.
func (m *Manager) Reevaluate(ctx context.Context, id, by string) (evaluation.Record, error) {
	const op = "reevaluate"
	rec, err := m.Get(ctx, id)
	if err != nil {
		return evaluation.Record{}, err
	}
	if rec.Approved {
		return evaluation.Record{}, evalerr.Wrap(evalerr.ErrInvalidTransition, op, fmt.Sprintf("record %s is approved", rec.ID), nil)
	}
	if rec.Status != evaluation.StatusSubmitted {
		return evaluation.Record{}, evalerr.Wrap(evalerr.ErrInvalidTransition, op,
			fmt.Sprintf("record %s is %s, expected %s", rec.ID, rec.Status, evaluation.StatusSubmitted), nil)
	}
	actor, err := requireActor(op, by)
	if err != nil {
		return evaluation.Record{}, err
	}

	now := m.now().UTC()
	rec.Status = evaluation.StatusPending
	rec.Approved = false
	rec.EvaluatedAt = nil
	rec.EvaluatedBy = ""
	rec.ReevaluatedBy = actor
	rec.ReevaluatedAt = &now
	return m.commit(ctx, audit.ActionReevaluated, evaluation.StatusSubmitted, rec, actor)
}

// Delete removes a pending or review-requested record.
func (m *Manager) Delete(ctx context.Context, id, by string) error {
	const op = "delete"
	rec, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status == evaluation.StatusSubmitted || rec.Approved {
		return evalerr.Wrap(evalerr.ErrInvalidTransition, op, fmt.Sprintf("record %s is submitted and cannot be deleted", rec.ID), nil)
	}
	if err := m.blobs.Delete(ctx, rec.DetailPath); err != nil && !errors.Is(err, evalerr.ErrNotFound) {
		return err
	}
	if _, err := m.index.Update(ctx, index.Remove(rec.ID)); err != nil {
		return err
	}
	m.recordEvent(ctx, audit.ActionDeleted, rec.Status, evaluation.Record{ID: rec.ID, DetailPath: rec.DetailPath}, strings.TrimSpace(by))
	m.logger.Info("record deleted",
		logging.String(logging.FieldEventType, "record_deleted"),
		logging.RecordID(rec.ID),
	)
	return nil
}

// History returns the journal events for id. Without a journal it is empty.
func (m *Manager) History(ctx context.Context, id string) ([]audit.Event, error) {
	if m.journal == nil {
		return nil, nil
	}
	events, err := m.journal.History(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, evalerr.Wrap(evalerr.ErrTransientIO, "history", id, err)
	}
	return events, nil
}

func requireEditable(op string, rec evaluation.Record) error {
	if rec.Approved {
		return evalerr.Wrap(evalerr.ErrInvalidTransition, op, fmt.Sprintf("record %s is approved", rec.ID), nil)
	}
	switch rec.Status {
	case evaluation.StatusPending, evaluation.StatusReviewRequested:
		return nil
	default:
		return evalerr.Wrap(evalerr.ErrInvalidTransition, op,
			fmt.Sprintf("record %s is %s", rec.ID, rec.Status), nil)
	}
}

func requireActor(op, actor string) (string, error) {
	actor = textutil.Normalize(actor)
	if actor == "" {
		return "", evalerr.Wrap(evalerr.ErrValidation, op, "actor is required", nil)
	}
	return actor, nil
}

// applyInput overlays evaluator scores and comments. Keys outside the rubric
// are rejected so typos do not silently drop scores.
func (m *Manager) applyInput(op string, rec *evaluation.Record, input Evaluation) error {
	required, err := m.engine.RequiredKeys(rec.Language, rec.Category)
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(required))
	for _, k := range required {
		known[k] = struct{}{}
	}
	var unknown []string
	for _, k := range input.Scores.Keys() {
		if _, ok := known[textutil.Normalize(k)]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		return evalerr.Wrap(evalerr.ErrValidation, op, fmt.Sprintf("unknown score keys %s", strings.Join(unknown, ", ")), nil)
	}
	rec.Scores = rec.Scores.Merge(input.Scores)
	if len(input.Comments) > 0 {
		if rec.Comments == nil {
			rec.Comments = make(map[string]string, len(input.Comments))
		}
		for k, v := range input.Comments {
			rec.Comments[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return nil
}

// derive recomputes the cached score fields from raw scores.
func (m *Manager) derive(rec *evaluation.Record) error {
	res, err := m.engine.Score(rec.Scores, rec.Language, rec.Category)
	if err != nil {
		return err
	}
	res.Apply(rec)
	return nil
}

// commit persists rec at the location its status implies. A bucket change
// moves the existing file first so a crash leaves exactly one copy, which the
// next transition overwrites in place.
func (m *Manager) commit(ctx context.Context, action audit.Action, from evaluation.Status, rec evaluation.Record, actor string) (evaluation.Record, error) {
	if err := m.derive(&rec); err != nil {
		return evaluation.Record{}, err
	}
	current := rec.DetailPath
	target := m.layout.DetailPathFor(rec)
	rec.DetailPath = target
	rec.UpdatedAt = m.now().UTC()

	if current != "" && current != target {
		if err := m.relocate(ctx, current, target); err != nil {
			return evaluation.Record{}, err
		}
	}

	data, err := evaluation.Encode(rec)
	if err != nil {
		return evaluation.Record{}, evalerr.Wrap(evalerr.ErrValidation, string(action), "encode detail", err)
	}
	if _, err := m.blobs.Overwrite(ctx, target, data); err != nil {
		return evaluation.Record{}, err
	}
	if err := m.updateIndex(ctx, rec); err != nil {
		return rec, err
	}

	m.recordEvent(ctx, action, from, rec, actor)
	m.logger.Info("record transitioned",
		logging.String(logging.FieldEventType, "record_"+string(action)),
		logging.RecordID(rec.ID),
		logging.String("from", string(from)),
		logging.String("to", string(rec.Status)),
		logging.String("actor", actor),
		logging.String("grade", rec.Grade),
	)
	return rec, nil
}

func (m *Manager) relocate(ctx context.Context, from, to string) error {
	_, err := m.blobs.Move(ctx, from, to)
	switch {
	case err == nil:
	case errors.Is(err, evalerr.ErrNotFound):
		// A retried move may already have landed.
		if _, _, statErr := m.blobs.Download(ctx, to); statErr != nil {
			return err
		}
	case errors.Is(err, evalerr.ErrConflict):
		// A stale copy occupies the target; the overwrite that follows
		// replaces it, so drop the source to keep one copy.
		if delErr := m.blobs.Delete(ctx, from); delErr != nil && !errors.Is(delErr, evalerr.ErrNotFound) {
			return delErr
		}
	default:
		return err
	}
	return m.sleep(ctx, m.settle)
}

func (m *Manager) updateIndex(ctx context.Context, rec evaluation.Record) error {
	if _, err := m.index.Update(ctx, index.Upsert(rec.IndexEntry())); err != nil {
		logging.WarnWithContext(m.logger, "detail written but index update failed", "index_update_failed",
			logging.RecordID(rec.ID),
			logging.String(logging.FieldErrorHint, "retry the operation or run index reconcile"),
			logging.String(logging.FieldImpact, "listing shows the previous status until repaired"),
			logging.Error(err),
		)
		return err
	}
	return nil
}

func (m *Manager) recordEvent(ctx context.Context, action audit.Action, from evaluation.Status, rec evaluation.Record, actor string) {
	if m.journal == nil {
		return
	}
	evt := audit.Event{
		RecordID:   rec.ID,
		Action:     action,
		FromStatus: from,
		ToStatus:   rec.Status,
		Actor:      actor,
		Grade:      rec.Grade,
		TotalScore: rec.TotalScore,
		DetailPath: rec.DetailPath,
		OccurredAt: m.now().UTC(),
	}
	if _, err := m.journal.Append(ctx, evt); err != nil {
		logging.WarnWithContext(m.logger, "audit journal append failed", "audit_append_failed",
			logging.RecordID(rec.ID),
			logging.String("action", string(action)),
			logging.String(logging.FieldImpact, "transition is missing from history"),
			logging.Error(err),
		)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
