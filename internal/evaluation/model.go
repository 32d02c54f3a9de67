package evaluation

import (
	"strings"
	"time"

	"voicegrade/internal/textutil"
)

// Language identifies the rubric track of a submission.
type Language string

const (
	LanguageKoreanEnglish Language = "korean-english"
	LanguageJapanese      Language = "japanese"
	LanguageChinese       Language = "chinese"
)

var allLanguages = []Language{LanguageKoreanEnglish, LanguageJapanese, LanguageChinese}

// AllLanguages returns the ordered list of supported languages.
func AllLanguages() []Language {
	cp := make([]Language, len(allLanguages))
	copy(cp, allLanguages)
	return cp
}

// ParseLanguage converts a string into a known Language. A few legacy aliases
// are accepted.
func ParseLanguage(value string) (Language, bool) {
	switch strings.ToLower(textutil.Normalize(value)) {
	case "korean-english", "korean_english", "ko-en", "한영":
		return LanguageKoreanEnglish, true
	case "japanese", "ja", "일본어":
		return LanguageJapanese, true
	case "chinese", "zh", "중국어":
		return LanguageChinese, true
	default:
		return "", false
	}
}

// IsDualTrack reports whether the language is scored as two sub-languages.
func (l Language) IsDualTrack() bool {
	return l == LanguageKoreanEnglish
}

// Category is the certification type of a submission.
type Category string

const (
	CategoryNew       Category = "신규"
	CategoryRequalify Category = "재자격"
	CategoryAdvanced  Category = "상위"
)

var allCategories = []Category{CategoryNew, CategoryRequalify, CategoryAdvanced}

// AllCategories returns the ordered list of certification categories.
func AllCategories() []Category {
	cp := make([]Category, len(allCategories))
	copy(cp, allCategories)
	return cp
}

// ParseCategory converts a string into a known Category.
func ParseCategory(value string) (Category, bool) {
	normalized := Category(textutil.Normalize(value))
	for _, c := range allCategories {
		if c == normalized {
			return c, true
		}
	}
	switch strings.ToLower(string(normalized)) {
	case "new":
		return CategoryNew, true
	case "requalify", "requalification":
		return CategoryRequalify, true
	case "advanced", "upper":
		return CategoryAdvanced, true
	}
	return "", false
}

// RecordingRef points at one recorded script track in storage.
type RecordingRef struct {
	Script int    `json:"script"`
	Track  string `json:"track"`
	Path   string `json:"path"`
}

// CategoryScore is a derived subtotal for one rubric category.
type CategoryScore struct {
	Track    string  `json:"track,omitempty"`
	Category string  `json:"category"`
	Score    float64 `json:"score"`
	Max      float64 `json:"max"`
}

// Record is one submission's full lifecycle record as stored in its detail
// document.
type Record struct {
	ID         string   `json:"id"`
	EmployeeID string   `json:"employeeId"`
	Name       string   `json:"name"`
	Language   Language `json:"language"`
	Category   Category `json:"category"`

	SubmittedAt   time.Time      `json:"submittedAt,omitzero"`
	RecordingRefs []RecordingRef `json:"recordingRefs,omitempty"`

	Status            Status             `json:"status"`
	Scores            Scores             `json:"scores,omitempty"`
	CategoryScores    []CategoryScore    `json:"categoryScores,omitempty"`
	TotalScore        float64            `json:"totalScore"`
	MaxScore          float64            `json:"maxScore,omitempty"`
	LanguageTotals    map[string]float64 `json:"languageTotals,omitempty"`
	Grade             string             `json:"grade,omitempty"`
	Comments          map[string]string  `json:"comments,omitempty"`
	EvaluatedAt       *time.Time         `json:"evaluatedAt,omitempty"`
	EvaluatedBy       string             `json:"evaluatedBy,omitempty"`
	ReviewRequestedBy string             `json:"reviewRequestedBy,omitempty"`
	ReviewRequestedAt *time.Time         `json:"reviewRequestedAt,omitempty"`
	Approved          bool               `json:"approved"`
	ApprovedBy        string             `json:"approvedBy,omitempty"`
	ApprovedAt        *time.Time         `json:"approvedAt,omitempty"`
	ReevaluatedBy     string             `json:"reevaluatedBy,omitempty"`
	ReevaluatedAt     *time.Time         `json:"reevaluatedAt,omitempty"`

	CreatedAt  time.Time `json:"createdAt,omitzero"`
	UpdatedAt  time.Time `json:"updatedAt,omitzero"`
	DetailPath string    `json:"detailPath,omitempty"`
}

// Valid reports whether the record carries the identity fields required for
// listing.
func (r Record) Valid() bool {
	return strings.TrimSpace(r.ID) != "" &&
		strings.TrimSpace(r.Name) != "" &&
		strings.TrimSpace(r.EmployeeID) != ""
}

// IndexEntry projects the record into its index summary.
func (r Record) IndexEntry() IndexEntry {
	return IndexEntry{
		ID:          r.ID,
		EmployeeID:  r.EmployeeID,
		Name:        r.Name,
		Language:    r.Language,
		Category:    r.Category,
		Status:      r.Status,
		Approved:    r.Approved,
		DetailPath:  r.DetailPath,
		SubmittedAt: r.SubmittedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// Clone returns a deep copy so callers can mutate without aliasing maps.
func (r Record) Clone() Record {
	cp := r
	if r.RecordingRefs != nil {
		cp.RecordingRefs = append([]RecordingRef(nil), r.RecordingRefs...)
	}
	if r.Scores != nil {
		cp.Scores = r.Scores.Clone()
	}
	if r.CategoryScores != nil {
		cp.CategoryScores = append([]CategoryScore(nil), r.CategoryScores...)
	}
	if r.LanguageTotals != nil {
		cp.LanguageTotals = make(map[string]float64, len(r.LanguageTotals))
		for k, v := range r.LanguageTotals {
			cp.LanguageTotals[k] = v
		}
	}
	if r.Comments != nil {
		cp.Comments = make(map[string]string, len(r.Comments))
		for k, v := range r.Comments {
			cp.Comments[k] = v
		}
	}
	cp.EvaluatedAt = cloneTime(r.EvaluatedAt)
	cp.ReviewRequestedAt = cloneTime(r.ReviewRequestedAt)
	cp.ApprovedAt = cloneTime(r.ApprovedAt)
	cp.ReevaluatedAt = cloneTime(r.ReevaluatedAt)
	return cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// IndexEntry is the summary of one record kept in the shared index document.
type IndexEntry struct {
	ID          string    `json:"id"`
	EmployeeID  string    `json:"employeeId,omitempty"`
	Name        string    `json:"name,omitempty"`
	Language    Language  `json:"language,omitempty"`
	Category    Category  `json:"category,omitempty"`
	Status      Status    `json:"status"`
	Approved    bool      `json:"approved"`
	DetailPath  string    `json:"detailPath"`
	SubmittedAt time.Time `json:"submittedAt,omitzero"`
	UpdatedAt   time.Time `json:"updatedAt,omitzero"`
}

// Matches reports whether the entry already reflects the record's lifecycle
// location and state.
func (e IndexEntry) Matches(r Record) bool {
	return e.ID == r.ID &&
		e.Status == r.Status &&
		e.Approved == r.Approved &&
		e.DetailPath == r.DetailPath
}
