package api

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"voicegrade/internal/aggregate"
	"voicegrade/internal/audit"
	"voicegrade/internal/blob"
	"voicegrade/internal/evalerr"
	"voicegrade/internal/evaluation"
	"voicegrade/internal/index"
	"voicegrade/internal/logging"
	"voicegrade/internal/records"
)

// DefaultFetchConcurrency bounds parallel detail downloads during listing.
const DefaultFetchConcurrency = 8

// Service exposes record queries and lifecycle operations.
type Service struct {
	blobs            blob.Store
	index            *index.Store
	records          *records.Manager
	fetchConcurrency int
	logger           *slog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithFetchConcurrency overrides DefaultFetchConcurrency.
func WithFetchConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.fetchConcurrency = n
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService constructs a Service.
func NewService(blobs blob.Store, idx *index.Store, manager *records.Manager, opts ...Option) *Service {
	s := &Service{
		blobs:            blobs,
		index:            idx,
		records:          manager,
		fetchConcurrency: DefaultFetchConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "api")
	return s
}

// ListRecords returns one filtered page of the aggregated listing.
func (s *Service) ListRecords(ctx context.Context, filter aggregate.Filter) (RecordList, error) {
	recs, skipped, err := s.loadAll(ctx)
	if err != nil {
		return RecordList{}, err
	}
	return FromPage(filter.Paginate(recs), skipped), nil
}

// Records returns the full aggregated listing without paging.
func (s *Service) Records(ctx context.Context, filter aggregate.Filter) ([]evaluation.Record, error) {
	recs, _, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	return filter.Apply(recs), nil
}

// loadAll lists both bucket folders so records written without an index
// entry still appear. Indexed records whose detail file is not listed count
// as skipped. Missing or stale index entries are repaired on the way.
func (s *Service) loadAll(ctx context.Context) ([]evaluation.Record, int, error) {
	entries, _, err := s.index.Load(ctx)
	indexReadable := err == nil
	if errors.Is(err, index.ErrCorrupt) {
		logging.WarnWithContext(s.logger, "index unreadable; listing from detail folders", "index_corrupt",
			logging.String(logging.FieldErrorHint, "run index reconcile"),
			logging.Error(err),
		)
		entries = nil
	} else if err != nil {
		return nil, 0, err
	}
	layout := s.index.Layout()

	var files []blob.Metadata
	for _, bucket := range evaluation.Buckets() {
		bucketFiles, err := s.blobs.ListFolder(ctx, layout.BucketPath(bucket))
		if errors.Is(err, evalerr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		for _, file := range bucketFiles {
			if !file.IsFolder && index.IsDetailFile(file.Name) {
				files = append(files, file)
			}
		}
	}

	docs := make([]aggregate.Document, len(files))
	found := make([]bool, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fetchConcurrency)
	for i, file := range files {
		g.Go(func() error {
			data, meta, err := s.blobs.Download(gctx, file.Path)
			if errors.Is(err, evalerr.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			docs[i] = aggregate.Document{Path: blob.CleanPath(file.Path), Data: data, StorageTime: meta.ServerModified}
			if docs[i].StorageTime.IsZero() {
				docs[i].StorageTime = file.ServerModified
			}
			found[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var pending, completed aggregate.Partition
	pending.Name = string(evaluation.BucketPending)
	completed.Name = string(evaluation.BucketCompleted)
	listed := make(map[string]bool, len(files))
	for i, doc := range docs {
		if !found[i] {
			continue
		}
		listed[strings.ToLower(doc.Path)] = true
		if bucketOf(layout, doc.Path) == evaluation.BucketCompleted {
			completed.Documents = append(completed.Documents, doc)
		} else {
			pending.Documents = append(pending.Documents, doc)
		}
	}

	skipped := 0
	for _, entry := range entries {
		p := entry.DetailPath
		if p == "" {
			p = layout.DetailPath(entry.Status.Bucket(), entry.ID)
		}
		if listed[strings.ToLower(blob.CleanPath(p))] {
			continue
		}
		skipped++
		s.logger.Warn("indexed detail document missing",
			logging.String(logging.FieldEventType, "detail_missing"),
			logging.RecordID(entry.ID),
			logging.String("path", p),
			logging.String(logging.FieldErrorHint, "run index reconcile"),
		)
	}

	items, stats := aggregate.Items(pending, completed)
	skipped += stats.Empty + stats.Malformed + stats.Invalid
	if skipped > 0 || stats.Duplicates > 0 {
		s.logger.Debug("listing discarded documents",
			logging.Int("skipped", skipped),
			logging.Int("empty", stats.Empty),
			logging.Int("malformed", stats.Malformed),
			logging.Int("invalid", stats.Invalid),
			logging.Int("duplicates", stats.Duplicates),
		)
	}
	out := make([]evaluation.Record, len(items))
	for i, item := range items {
		out[i] = item.Record
	}
	if indexReadable {
		s.repairIndex(ctx, entries, out)
	}
	return out, skipped, nil
}

// repairIndex upserts entries for listed records the index lacks or places
// in the wrong bucket. Failures are logged; the listing itself stands.
func (s *Service) repairIndex(ctx context.Context, entries []evaluation.IndexEntry, recs []evaluation.Record) {
	var stale []evaluation.IndexEntry
	for _, rec := range recs {
		want := rec.IndexEntry()
		have, ok := index.Find(entries, rec.ID)
		if ok && have.Status == want.Status && have.Approved == want.Approved &&
			strings.EqualFold(blob.CleanPath(have.DetailPath), want.DetailPath) {
			continue
		}
		stale = append(stale, want)
	}
	if len(stale) == 0 {
		return
	}
	_, err := s.index.Update(ctx, func(current []evaluation.IndexEntry) ([]evaluation.IndexEntry, error) {
		for _, entry := range stale {
			current, _ = index.Upsert(entry)(current)
		}
		return current, nil
	})
	if err != nil {
		logging.WarnWithContext(s.logger, "index repair after listing failed", "index_repair_failed",
			logging.Int("entries", len(stale)),
			logging.String(logging.FieldErrorHint, "run index reconcile"),
			logging.Error(err),
		)
		return
	}
	s.logger.Info("index entries repaired from listing",
		logging.String(logging.FieldEventType, "index_repaired"),
		logging.Int("entries", len(stale)),
	)
}

func bucketOf(layout index.Layout, p string) evaluation.Bucket {
	prefix := layout.BucketPath(evaluation.BucketCompleted) + "/"
	if strings.HasPrefix(strings.ToLower(blob.CleanPath(p)), strings.ToLower(prefix)) {
		return evaluation.BucketCompleted
	}
	return evaluation.BucketPending
}

// GetRecord loads one record.
func (s *Service) GetRecord(ctx context.Context, id string) (evaluation.Record, error) {
	return s.records.Get(ctx, id)
}

// Create stores a new pending record.
func (s *Service) Create(ctx context.Context, req CreateRequest) (evaluation.Record, error) {
	sub, err := req.Submission()
	if err != nil {
		return evaluation.Record{}, err
	}
	return s.records.Create(ctx, sub)
}

// Submit completes an evaluation.
func (s *Service) Submit(ctx context.Context, id string, req EvaluationRequest) (evaluation.Record, error) {
	return s.records.Submit(ctx, id, req.Evaluation())
}

// RequestReview saves partial progress for another evaluator.
func (s *Service) RequestReview(ctx context.Context, id string, req EvaluationRequest) (evaluation.Record, error) {
	return s.records.RequestReview(ctx, id, req.Evaluation())
}

// Approve finalizes a submitted record.
func (s *Service) Approve(ctx context.Context, id string, req ActorRequest) (evaluation.Record, error) {
	return s.records.Approve(ctx, id, req.Actor)
}

// Reevaluate returns a submitted record to pending.
func (s *Service) Reevaluate(ctx context.Context, id string, req ActorRequest) (evaluation.Record, error) {
	return s.records.Reevaluate(ctx, id, req.Actor)
}

// Delete removes a record that has not been submitted.
func (s *Service) Delete(ctx context.Context, id string, req ActorRequest) error {
	return s.records.Delete(ctx, id, req.Actor)
}

// History returns the journal events for a record.
func (s *Service) History(ctx context.Context, id string) (HistoryResponse, error) {
	events, err := s.records.History(ctx, id)
	if err != nil {
		return HistoryResponse{}, err
	}
	resp := HistoryResponse{RecordID: strings.TrimSpace(id), Events: events}
	if resp.Events == nil {
		resp.Events = []audit.Event{}
	}
	return resp, nil
}

// Reconcile repairs the index from the detail documents.
func (s *Service) Reconcile(ctx context.Context) (ReconcileResponse, error) {
	report, err := s.index.Reconcile(ctx)
	if err != nil {
		return ReconcileResponse{}, err
	}
	return FromReconcileReport(report), nil
}
