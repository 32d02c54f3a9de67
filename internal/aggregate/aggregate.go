package aggregate

import (
	"errors"
	"sort"
	"time"

	"voicegrade/internal/evaluation"
)

// Document is one raw detail file as read from storage.
type Document struct {
	Path        string
	Data        []byte
	StorageTime time.Time
}

// Partition is an ordered set of documents. Partitions passed earlier to
// Aggregate take precedence when the same id appears more than once.
type Partition struct {
	Name      string
	Documents []Document
}

// Item is one aggregated record together with where it came from.
type Item struct {
	Record     evaluation.Record
	Partition  string
	DateSource evaluation.DateSource
}

// Stats summarizes what Aggregate discarded.
type Stats struct {
	Empty      int
	Malformed  int
	Invalid    int
	Duplicates int
}

// Aggregate merges partitions into unique valid records sorted by submission
// time, newest first. Ties keep merge order.
func Aggregate(partitions ...Partition) []evaluation.Record {
	items, _ := Items(partitions...)
	out := make([]evaluation.Record, len(items))
	for i, item := range items {
		out[i] = item.Record
	}
	return out
}

// Items is Aggregate with provenance and discard counts.
func Items(partitions ...Partition) ([]Item, Stats) {
	var (
		stats Stats
		items []Item
		seen  = make(map[string]struct{})
	)
	for _, part := range partitions {
		for _, doc := range part.Documents {
			rec, source, err := evaluation.DecodeForListing(doc.Data, doc.StorageTime)
			switch {
			case errors.Is(err, evaluation.ErrEmptyDocument):
				stats.Empty++
				continue
			case err != nil:
				stats.Malformed++
				continue
			}
			if !rec.Valid() {
				stats.Invalid++
				continue
			}
			if _, dup := seen[rec.ID]; dup {
				stats.Duplicates++
				continue
			}
			seen[rec.ID] = struct{}{}
			if doc.Path != "" {
				rec.DetailPath = doc.Path
			}
			items = append(items, Item{Record: rec, Partition: part.Name, DateSource: source})
		}
	}
	SortItems(items)
	return items, stats
}

// SortItems orders items newest first, stable on ties.
func SortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Record.SubmittedAt.After(items[j].Record.SubmittedAt)
	})
}

// Records sorts already-decoded records the same way Aggregate does,
// dropping invalid ones and later duplicates.
func Records(recs ...[]evaluation.Record) []evaluation.Record {
	var (
		items []Item
		seen  = make(map[string]struct{})
	)
	for _, set := range recs {
		for _, rec := range set {
			if !rec.Valid() {
				continue
			}
			if _, dup := seen[rec.ID]; dup {
				continue
			}
			seen[rec.ID] = struct{}{}
			items = append(items, Item{Record: rec})
		}
	}
	SortItems(items)
	out := make([]evaluation.Record, len(items))
	for i, item := range items {
		out[i] = item.Record
	}
	return out
}
