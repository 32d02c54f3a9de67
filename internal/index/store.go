package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"voicegrade/internal/blob"
	"voicegrade/internal/evalerr"
	"voicegrade/internal/evaluation"
	"voicegrade/internal/logging"
)

// ErrCorrupt marks an index document that exists but cannot be decoded.
// Retrying will not help; Reconcile rebuilds it from the detail files.
var ErrCorrupt = errors.New("index document is corrupt")

// DefaultMaxSaveAttempts bounds the compare-and-swap loop in Update.
const DefaultMaxSaveAttempts = 5

// Mutation transforms the current entries into the desired entries. It may be
// invoked several times when concurrent writers force a retry, so it must be
// idempotent and keyed by record id.
type Mutation func(entries []evaluation.IndexEntry) ([]evaluation.IndexEntry, error)

// Store reads and writes the index document.
type Store struct {
	blobs       blob.Store
	layout      Layout
	maxAttempts int
	logger      *slog.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithMaxSaveAttempts overrides DefaultMaxSaveAttempts.
func WithMaxSaveAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New builds an index store over blobs.
func New(blobs blob.Store, layout Layout, opts ...Option) *Store {
	s := &Store{
		blobs:       blobs,
		layout:      layout,
		maxAttempts: DefaultMaxSaveAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "index")
	return s
}

// Layout returns the storage layout the store uses.
func (s *Store) Layout() Layout {
	return s.layout
}

// Load returns the current entries and document revision. A missing document
// yields no entries and an empty revision. An undecodable document fails with
// evalerr.ErrPersistence wrapping ErrCorrupt.
func (s *Store) Load(ctx context.Context) ([]evaluation.IndexEntry, string, error) {
	entries, rev, err := s.load(ctx)
	if err != nil {
		return nil, "", err
	}
	return entries, rev, nil
}

// load is Load but keeps the revision of a corrupt document so a rebuild can
// replace it under compare-and-swap.
func (s *Store) load(ctx context.Context) ([]evaluation.IndexEntry, string, error) {
	data, meta, err := s.blobs.Download(ctx, s.layout.IndexPath())
	if err != nil {
		if errors.Is(err, evalerr.ErrNotFound) {
			return nil, "", nil
		}
		return nil, "", err
	}
	entries, err := decodeEntries(data)
	if err != nil {
		return nil, meta.Rev, evalerr.Wrap(evalerr.ErrPersistence, "load index", s.layout.IndexPath(),
			fmt.Errorf("%w: %w", ErrCorrupt, err))
	}
	return entries, meta.Rev, nil
}

// Save writes entries if the document is still at rev and returns the new
// revision. An empty rev creates the document.
func (s *Store) Save(ctx context.Context, entries []evaluation.IndexEntry, rev string) (string, error) {
	data, err := encodeEntries(entries)
	if err != nil {
		return "", evalerr.Wrap(evalerr.ErrValidation, "save index", "encode index document", err)
	}
	meta, err := s.blobs.ConditionalOverwrite(ctx, s.layout.IndexPath(), data, rev)
	if err != nil {
		return "", err
	}
	return meta.Rev, nil
}

// Update applies mutate under compare-and-swap. On a revision conflict it
// reloads and reapplies; after the configured number of attempts it fails with
// evalerr.ErrPersistence. No write happens when the mutation changes nothing.
func (s *Store) Update(ctx context.Context, mutate Mutation) ([]evaluation.IndexEntry, error) {
	return s.update(ctx, mutate, false)
}

// update is Update; with rebuild set a corrupt document is treated as empty
// and always rewritten.
func (s *Store) update(ctx context.Context, mutate Mutation, rebuild bool) ([]evaluation.IndexEntry, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, evalerr.Wrap(evalerr.ErrTransientIO, "update index", "", err)
		}
		current, rev, err := s.load(ctx)
		corrupt := rebuild && errors.Is(err, ErrCorrupt)
		if err != nil && !corrupt {
			return nil, err
		}
		next, err := mutate(cloneEntries(current))
		if err != nil {
			return nil, err
		}
		next = sortEntries(next)
		if !corrupt && unchanged(current, next) && rev != "" {
			return next, nil
		}
		if _, err := s.Save(ctx, next, rev); err != nil {
			if !errors.Is(err, evalerr.ErrConcurrencyConflict) {
				return nil, err
			}
			lastErr = err
			s.logger.Debug("index revision moved; retrying",
				logging.Int("attempt", attempt),
				logging.String("rev", rev),
			)
			continue
		}
		return next, nil
	}
	logging.WarnWithContext(s.logger, "index update abandoned", "index_update_exhausted",
		logging.Int("attempts", s.maxAttempts),
		logging.String(logging.FieldErrorHint, "run index reconcile once contention settles"),
		logging.String(logging.FieldImpact, "index may lag behind detail files"),
		logging.Error(lastErr),
	)
	return nil, evalerr.Wrap(evalerr.ErrPersistence, "update index",
		fmt.Sprintf("gave up after %d attempts", s.maxAttempts), lastErr)
}

// Upsert replaces the entry with the same id or appends it.
func Upsert(entry evaluation.IndexEntry) Mutation {
	return func(entries []evaluation.IndexEntry) ([]evaluation.IndexEntry, error) {
		for i := range entries {
			if entries[i].ID == entry.ID {
				entries[i] = entry
				return entries, nil
			}
		}
		return append(entries, entry), nil
	}
}

// Remove drops the entry with id if present.
func Remove(id string) Mutation {
	return func(entries []evaluation.IndexEntry) ([]evaluation.IndexEntry, error) {
		out := entries[:0]
		for _, e := range entries {
			if e.ID != id {
				out = append(out, e)
			}
		}
		return out, nil
	}
}

// Find returns the entry with id.
func Find(entries []evaluation.IndexEntry, id string) (evaluation.IndexEntry, bool) {
	for _, e := range entries {
		if e.ID == id {
			return e, true
		}
	}
	return evaluation.IndexEntry{}, false
}

func cloneEntries(entries []evaluation.IndexEntry) []evaluation.IndexEntry {
	if entries == nil {
		return nil
	}
	return append([]evaluation.IndexEntry(nil), entries...)
}

// sortEntries orders by id and collapses duplicate ids, keeping the first.
func sortEntries(entries []evaluation.IndexEntry) []evaluation.IndexEntry {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	out := make([]evaluation.IndexEntry, 0, len(entries))
	for _, e := range entries {
		if len(out) > 0 && out[len(out)-1].ID == e.ID {
			continue
		}
		out = append(out, e)
	}
	return out
}

func unchanged(a, b []evaluation.IndexEntry) bool {
	left, err := encodeEntries(sortEntries(cloneEntries(a)))
	if err != nil {
		return false
	}
	right, err := encodeEntries(b)
	if err != nil {
		return false
	}
	return bytes.Equal(left, right)
}

func encodeEntries(entries []evaluation.IndexEntry) ([]byte, error) {
	if entries == nil {
		entries = []evaluation.IndexEntry{}
	}
	return json.MarshalIndent(entries, "", "  ")
}

// decodeEntries accepts a bare array or an object wrapping it under
// "entries" or "records". Entries without id are dropped and statuses are
// normalized.
func decodeEntries(data []byte) ([]evaluation.IndexEntry, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var raw []json.RawMessage
	if trimmed[0] == '{' {
		var wrapper struct {
			Entries []json.RawMessage `json:"entries"`
			Records []json.RawMessage `json:"records"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, err
		}
		raw = wrapper.Entries
		if raw == nil {
			raw = wrapper.Records
		}
	} else if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, err
	}

	entries := make([]evaluation.IndexEntry, 0, len(raw))
	for _, item := range raw {
		entry, ok := decodeEntry(item)
		if ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func decodeEntry(item json.RawMessage) (evaluation.IndexEntry, bool) {
	// The index is a summary of detail documents, so it accepts the same
	// shapes the detail decoder does.
	rec, err := evaluation.Decode(item)
	if err != nil || strings.TrimSpace(rec.ID) == "" {
		return evaluation.IndexEntry{}, false
	}
	return rec.IndexEntry(), true
}
