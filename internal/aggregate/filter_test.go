package aggregate

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"voicegrade/internal/evaluation"
)

func sampleRecords() []evaluation.Record {
	return []evaluation.Record{
		{ID: "r1", Name: "김하나", EmployeeID: "E100", Language: evaluation.LanguageKoreanEnglish, Category: evaluation.CategoryNew, Status: evaluation.StatusPending},
		{ID: "r2", Name: "Alice Park", EmployeeID: "E200", Language: evaluation.LanguageJapanese, Category: evaluation.CategoryAdvanced, Status: evaluation.StatusSubmitted, EvaluatedBy: "Reviewer", Approved: true},
		{ID: "r3", Name: "이둘", EmployeeID: "E300", Language: evaluation.LanguageKoreanEnglish, Category: evaluation.CategoryRequalify, Status: evaluation.StatusReviewRequested, ReviewRequestedBy: "reviewer"},
		{ID: "r4", Name: "alice kim", EmployeeID: "E400", Language: evaluation.LanguageChinese, Category: evaluation.CategoryNew, Status: evaluation.StatusSubmitted},
	}
}

func TestFilterMatch(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{name: "all", filter: Filter{}, want: []string{"r1", "r2", "r3", "r4"}},
		{name: "status", filter: Filter{Status: evaluation.StatusSubmitted}, want: []string{"r2", "r4"}},
		{name: "language", filter: Filter{Language: evaluation.LanguageKoreanEnglish}, want: []string{"r1", "r3"}},
		{name: "category", filter: Filter{Category: evaluation.CategoryNew}, want: []string{"r1", "r4"}},
		{name: "approved", filter: Filter{Approved: &yes}, want: []string{"r2"}},
		{name: "not approved", filter: Filter{Approved: &no}, want: []string{"r1", "r3", "r4"}},
		{name: "evaluator folds case", filter: Filter{Evaluator: "REVIEWER"}, want: []string{"r2", "r3"}},
		{name: "query name", filter: Filter{Query: "ALICE"}, want: []string{"r2", "r4"}},
		{name: "query employee", filter: Filter{Query: "e3"}, want: []string{"r3"}},
		// Decomposed jamo match the precomposed name.
		{name: "query decomposed hangul", filter: Filter{Query: "김"}, want: []string{"r1"}},
		{name: "combined", filter: Filter{Status: evaluation.StatusSubmitted, Query: "kim"}, want: []string{"r4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(tt.filter.Apply(sampleRecords()))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPaginate(t *testing.T) {
	recs := sampleRecords()
	tests := []struct {
		name   string
		filter Filter
		want   []string
		total  int
	}{
		{name: "first page", filter: Filter{Limit: 2}, want: []string{"r1", "r2"}, total: 4},
		{name: "second page", filter: Filter{Offset: 2, Limit: 2}, want: []string{"r3", "r4"}, total: 4},
		{name: "past end", filter: Filter{Offset: 10, Limit: 2}, want: []string{}, total: 4},
		{name: "no limit", filter: Filter{Offset: 3}, want: []string{"r4"}, total: 4},
		{name: "negative offset", filter: Filter{Offset: -1, Limit: 1}, want: []string{"r1"}, total: 4},
		{name: "filtered", filter: Filter{Status: evaluation.StatusSubmitted, Limit: 1}, want: []string{"r2"}, total: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := tt.filter.Paginate(recs)
			if diff := cmp.Diff(tt.want, ids(page.Records)); diff != "" {
				t.Fatalf("mismatch (-want +got):\n%s", diff)
			}
			if page.Total != tt.total {
				t.Fatalf("total = %d, want %d", page.Total, tt.total)
			}
		})
	}
}
