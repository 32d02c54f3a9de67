package aggregate

import (
	"voicegrade/internal/evaluation"
	"voicegrade/internal/textutil"
)

// Filter narrows a listing. Zero values match everything.
type Filter struct {
	Status    evaluation.Status
	Language  evaluation.Language
	Category  evaluation.Category
	Evaluator string
	// Query matches name, employee id or record id, ignoring case and
	// Unicode composition.
	Query    string
	Approved *bool
	Offset   int
	Limit    int
}

// Match reports whether rec passes every set criterion.
func (f Filter) Match(rec evaluation.Record) bool {
	if f.Status != "" && rec.Status != f.Status {
		return false
	}
	if f.Language != "" && rec.Language != f.Language {
		return false
	}
	if f.Category != "" && rec.Category != f.Category {
		return false
	}
	if f.Approved != nil && rec.Approved != *f.Approved {
		return false
	}
	if ev := textutil.Fold(f.Evaluator); ev != "" {
		if textutil.Fold(rec.EvaluatedBy) != ev && textutil.Fold(rec.ReviewRequestedBy) != ev {
			return false
		}
	}
	if q := f.Query; textutil.Normalize(q) != "" {
		if !textutil.ContainsFold(rec.Name, q) &&
			!textutil.ContainsFold(rec.EmployeeID, q) &&
			!textutil.ContainsFold(rec.ID, q) {
			return false
		}
	}
	return true
}

// Apply filters recs in order.
func (f Filter) Apply(recs []evaluation.Record) []evaluation.Record {
	out := make([]evaluation.Record, 0, len(recs))
	for _, rec := range recs {
		if f.Match(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// Page is one window of a filtered listing.
type Page struct {
	Records []evaluation.Record `json:"records"`
	Total   int                 `json:"total"`
	Offset  int                 `json:"offset"`
	Limit   int                 `json:"limit"`
}

// Paginate filters recs and cuts the requested window. A non-positive limit
// returns everything from offset on.
func (f Filter) Paginate(recs []evaluation.Record) Page {
	matched := f.Apply(recs)
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > len(matched) {
		offset = len(matched)
	}
	end := len(matched)
	if f.Limit > 0 && offset+f.Limit < end {
		end = offset + f.Limit
	}
	return Page{
		Records: matched[offset:end],
		Total:   len(matched),
		Offset:  offset,
		Limit:   f.Limit,
	}
}
