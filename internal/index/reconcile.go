package index

import (
	"context"
	"errors"
	"sort"

	"voicegrade/internal/blob"
	"voicegrade/internal/evalerr"
	"voicegrade/internal/evaluation"
	"voicegrade/internal/logging"
)

// ReconcileReport summarizes what a reconciliation pass changed.
type ReconcileReport struct {
	Scanned    int      `json:"scanned"`
	Added      []string `json:"added,omitempty"`
	Repaired   []string `json:"repaired,omitempty"`
	Removed    []string `json:"removed,omitempty"`
	Duplicates []string `json:"duplicates,omitempty"`
	Unreadable []string `json:"unreadable,omitempty"`
}

// Changed reports whether the pass modified the index.
func (r ReconcileReport) Changed() bool {
	return len(r.Added) > 0 || len(r.Repaired) > 0 || len(r.Removed) > 0
}

// Reconcile rebuilds index entries from the detail files. The detail file
// wins on every disagreement. An entry is only dropped once a download
// confirms its detail file is gone. When a record exists in both buckets the
// pending copy is kept. A corrupt index document is replaced by one rebuilt
// from the scan.
func (s *Store) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	details, order, err := s.scanDetails(ctx, &report)
	if err != nil {
		return ReconcileReport{}, err
	}

	current, _, err := s.load(ctx)
	if errors.Is(err, ErrCorrupt) {
		logging.WarnWithContext(s.logger, "index document unreadable; rebuilding from detail files", "index_corrupt",
			logging.String("path", s.layout.IndexPath()),
			logging.String(logging.FieldImpact, "entries without a detail file are dropped"),
			logging.Error(err),
		)
		current = nil
	} else if err != nil {
		return ReconcileReport{}, err
	}
	confirmedGone := make(map[string]bool)
	for _, entry := range current {
		if _, ok := details[entry.ID]; ok {
			continue
		}
		rec, state, err := s.recheckDetail(ctx, entry)
		if err != nil {
			return ReconcileReport{}, err
		}
		switch state {
		case detailFound:
			details[rec.ID] = rec
			order = append(order, rec.ID)
		case detailGone:
			confirmedGone[entry.ID] = true
		}
	}

	base := report
	_, err = s.update(ctx, func(entries []evaluation.IndexEntry) ([]evaluation.IndexEntry, error) {
		report = base
		report.Added, report.Repaired, report.Removed = nil, nil, nil

		byID := make(map[string]int, len(entries))
		out := make([]evaluation.IndexEntry, 0, len(entries)+len(details))
		for _, e := range entries {
			if confirmedGone[e.ID] {
				report.Removed = append(report.Removed, e.ID)
				continue
			}
			if _, dup := byID[e.ID]; dup {
				continue
			}
			byID[e.ID] = len(out)
			out = append(out, e)
		}
		for _, id := range order {
			want := details[id].IndexEntry()
			idx, ok := byID[id]
			if !ok {
				byID[id] = len(out)
				out = append(out, want)
				report.Added = append(report.Added, id)
				continue
			}
			if !sameEntry(out[idx], want) {
				out[idx] = want
				report.Repaired = append(report.Repaired, id)
			}
		}
		return out, nil
	}, true)
	if err != nil {
		return report, err
	}
	sort.Strings(report.Added)
	sort.Strings(report.Repaired)
	sort.Strings(report.Removed)

	if report.Changed() {
		s.logger.Info("index reconciled",
			logging.String(logging.FieldEventType, "index_reconciled"),
			logging.Int("scanned", report.Scanned),
			logging.Int("added", len(report.Added)),
			logging.Int("repaired", len(report.Repaired)),
			logging.Int("removed", len(report.Removed)),
		)
	}
	return report, nil
}

// scanDetails lists both buckets and decodes every detail file. Records are
// keyed by id; the first bucket in precedence order wins.
func (s *Store) scanDetails(ctx context.Context, report *ReconcileReport) (map[string]evaluation.Record, []string, error) {
	details := make(map[string]evaluation.Record)
	var order []string
	for _, bucket := range evaluation.Buckets() {
		folder := s.layout.BucketPath(bucket)
		files, err := s.blobs.ListFolder(ctx, folder)
		if err != nil {
			if errors.Is(err, evalerr.ErrNotFound) {
				continue
			}
			return nil, nil, err
		}
		for _, file := range files {
			if file.IsFolder || !IsDetailFile(file.Name) {
				continue
			}
			report.Scanned++
			rec, err := s.readDetail(ctx, file)
			if err != nil {
				if errors.Is(err, evalerr.ErrNotFound) {
					continue
				}
				if errors.Is(err, evaluation.ErrEmptyDocument) || evalerr.KindOf(err) == evalerr.KindValidation {
					report.Unreadable = append(report.Unreadable, file.Path)
					logging.WarnWithContext(s.logger, "detail file skipped during reconcile", "reconcile_unreadable_detail",
						logging.String("path", file.Path),
						logging.String(logging.FieldErrorHint, "inspect or remove the malformed detail file"),
						logging.String(logging.FieldImpact, "record is missing from listings"),
						logging.Error(err),
					)
					continue
				}
				return nil, nil, err
			}
			if _, seen := details[rec.ID]; seen {
				report.Duplicates = append(report.Duplicates, file.Path)
				logging.WarnWithContext(s.logger, "record present in more than one bucket", "reconcile_duplicate_detail",
					logging.RecordID(rec.ID),
					logging.String("path", file.Path),
					logging.String(logging.FieldErrorHint, "delete the stale copy after checking its contents"),
					logging.String(logging.FieldImpact, "the pending copy is treated as current"),
				)
				continue
			}
			details[rec.ID] = rec
			order = append(order, rec.ID)
		}
	}
	return details, order, nil
}

func (s *Store) readDetail(ctx context.Context, file blob.Metadata) (evaluation.Record, error) {
	data, meta, err := s.blobs.Download(ctx, file.Path)
	if err != nil {
		return evaluation.Record{}, err
	}
	storage := meta.ServerModified
	if storage.IsZero() {
		storage = file.ServerModified
	}
	rec, _, err := evaluation.DecodeForListing(data, storage)
	if err != nil {
		if errors.Is(err, evaluation.ErrEmptyDocument) {
			return evaluation.Record{}, err
		}
		return evaluation.Record{}, evalerr.Wrap(evalerr.ErrValidation, "read detail", file.Path, err)
	}
	if rec.ID == "" {
		rec.ID = IDFromFileName(file.Name)
	}
	rec.DetailPath = blob.CleanPath(file.Path)
	return rec, nil
}

type recheckResult int

const (
	detailFound recheckResult = iota
	detailGone
	detailUnreadable
)

// recheckDetail re-checks an index entry whose detail file was not listed.
// Unreadable files keep their entry so the record is not silently lost.
func (s *Store) recheckDetail(ctx context.Context, entry evaluation.IndexEntry) (evaluation.Record, recheckResult, error) {
	if entry.DetailPath == "" {
		return evaluation.Record{}, detailGone, nil
	}
	rec, err := s.readDetail(ctx, blob.Metadata{Path: entry.DetailPath, Name: entry.ID + detailFileExt})
	switch {
	case err == nil:
		return rec, detailFound, nil
	case errors.Is(err, evalerr.ErrNotFound):
		return evaluation.Record{}, detailGone, nil
	case errors.Is(err, evaluation.ErrEmptyDocument), evalerr.KindOf(err) == evalerr.KindValidation:
		return evaluation.Record{}, detailUnreadable, nil
	default:
		return evaluation.Record{}, detailUnreadable, err
	}
}

func sameEntry(a, b evaluation.IndexEntry) bool {
	return a.ID == b.ID &&
		a.EmployeeID == b.EmployeeID &&
		a.Name == b.Name &&
		a.Language == b.Language &&
		a.Category == b.Category &&
		a.Status == b.Status &&
		a.Approved == b.Approved &&
		a.DetailPath == b.DetailPath &&
		a.SubmittedAt.Equal(b.SubmittedAt) &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}
