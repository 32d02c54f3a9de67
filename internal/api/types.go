package api

import (
	"time"

	"voicegrade/internal/aggregate"
	"voicegrade/internal/audit"
	"voicegrade/internal/evalerr"
	"voicegrade/internal/evaluation"
	"voicegrade/internal/index"
	"voicegrade/internal/records"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// RecordSummary is the listing view of one record.
type RecordSummary struct {
	ID          string  `json:"id"`
	EmployeeID  string  `json:"employeeId"`
	Name        string  `json:"name"`
	Language    string  `json:"language"`
	Category    string  `json:"category"`
	Status      string  `json:"status"`
	Approved    bool    `json:"approved"`
	Grade       string  `json:"grade,omitempty"`
	TotalScore  float64 `json:"totalScore"`
	MaxScore    float64 `json:"maxScore,omitempty"`
	EvaluatedBy string  `json:"evaluatedBy,omitempty"`
	SubmittedAt string  `json:"submittedAt,omitempty"`
	UpdatedAt   string  `json:"updatedAt,omitempty"`
	DetailPath  string  `json:"detailPath"`
}

// RecordList is one page of a filtered listing.
type RecordList struct {
	Records []RecordSummary `json:"records"`
	Total   int             `json:"total"`
	Offset  int             `json:"offset"`
	Limit   int             `json:"limit"`
	// Skipped counts index entries whose detail document could not be used.
	Skipped int `json:"skipped"`
}

// CreateRequest is the payload for creating a record.
type CreateRequest struct {
	ID            string                    `json:"id"`
	EmployeeID    string                    `json:"employeeId"`
	Name          string                    `json:"name"`
	Language      string                    `json:"language"`
	Category      string                    `json:"category"`
	SubmittedAt   string                    `json:"submittedAt"`
	RecordingRefs []evaluation.RecordingRef `json:"recordingRefs"`
}

// EvaluationRequest carries evaluator input for submit and review requests.
type EvaluationRequest struct {
	Scores    evaluation.Scores `json:"scores"`
	Comments  map[string]string `json:"comments"`
	Evaluator string            `json:"evaluator"`
}

// ActorRequest names who performs approve, reevaluate or delete.
type ActorRequest struct {
	Actor string `json:"actor"`
}

// HistoryResponse lists journal events for one record.
type HistoryResponse struct {
	RecordID string        `json:"recordId"`
	Events   []audit.Event `json:"events"`
}

// ReconcileResponse reports an index reconciliation pass.
type ReconcileResponse struct {
	Scanned    int      `json:"scanned"`
	Added      []string `json:"added"`
	Repaired   []string `json:"repaired"`
	Removed    []string `json:"removed"`
	Duplicates []string `json:"duplicates"`
	Unreadable []string `json:"unreadable"`
	Changed    bool     `json:"changed"`
}

// ErrorResponse is the failure body returned to consumers.
type ErrorResponse struct {
	Error string       `json:"error"`
	Kind  evalerr.Kind `json:"kind"`
}

// FromRecord converts a record to its listing representation.
func FromRecord(rec evaluation.Record) RecordSummary {
	return RecordSummary{
		ID:          rec.ID,
		EmployeeID:  rec.EmployeeID,
		Name:        rec.Name,
		Language:    string(rec.Language),
		Category:    string(rec.Category),
		Status:      string(rec.Status),
		Approved:    rec.Approved,
		Grade:       rec.Grade,
		TotalScore:  rec.TotalScore,
		MaxScore:    rec.MaxScore,
		EvaluatedBy: rec.EvaluatedBy,
		SubmittedAt: formatTime(rec.SubmittedAt),
		UpdatedAt:   formatTime(rec.UpdatedAt),
		DetailPath:  rec.DetailPath,
	}
}

// FromPage converts an aggregated page.
func FromPage(page aggregate.Page, skipped int) RecordList {
	out := RecordList{
		Records: make([]RecordSummary, 0, len(page.Records)),
		Total:   page.Total,
		Offset:  page.Offset,
		Limit:   page.Limit,
		Skipped: skipped,
	}
	for _, rec := range page.Records {
		out.Records = append(out.Records, FromRecord(rec))
	}
	return out
}

// FromReconcileReport converts an index reconciliation report.
func FromReconcileReport(r index.ReconcileReport) ReconcileResponse {
	return ReconcileResponse{
		Scanned:    r.Scanned,
		Added:      nonNil(r.Added),
		Repaired:   nonNil(r.Repaired),
		Removed:    nonNil(r.Removed),
		Duplicates: nonNil(r.Duplicates),
		Unreadable: nonNil(r.Unreadable),
		Changed:    r.Changed(),
	}
}

// NewErrorResponse classifies err for transport.
func NewErrorResponse(err error) ErrorResponse {
	if err == nil {
		return ErrorResponse{}
	}
	return ErrorResponse{Error: err.Error(), Kind: evalerr.KindOf(err)}
}

// Submission converts the create payload into a lifecycle submission.
func (r CreateRequest) Submission() (records.Submission, error) {
	sub := records.Submission{
		ID:            r.ID,
		EmployeeID:    r.EmployeeID,
		Name:          r.Name,
		Language:      evaluation.Language(r.Language),
		Category:      evaluation.Category(r.Category),
		RecordingRefs: r.RecordingRefs,
	}
	if r.SubmittedAt != "" {
		t, _, ok := evaluation.ParseTimestamp(r.SubmittedAt)
		if !ok {
			return records.Submission{}, evalerr.Wrap(evalerr.ErrValidation, "create record", "unparseable submittedAt "+r.SubmittedAt, nil)
		}
		sub.SubmittedAt = t
	}
	return sub, nil
}

// Evaluation converts the payload into lifecycle input.
func (r EvaluationRequest) Evaluation() records.Evaluation {
	return records.Evaluation{Scores: r.Scores, Comments: r.Comments, Evaluator: r.Evaluator}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
