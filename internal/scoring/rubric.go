package scoring

import (
	"fmt"
	"strings"

	"voicegrade/internal/evaluation"
	"voicegrade/internal/textutil"
)

// DefaultFailGrade is assigned when no grade band is satisfied.
const DefaultFailGrade = "FAIL"

// Criterion is the smallest scored unit.
type Criterion struct {
	Key string  `toml:"key" json:"key"`
	Max float64 `toml:"max" json:"max"`
}

// CategorySpec is a named rubric dimension composed of criteria.
type CategorySpec struct {
	Name     string      `toml:"name" json:"name"`
	Criteria []Criterion `toml:"criteria" json:"criteria"`
}

// Max returns the category's maximum subtotal.
func (c CategorySpec) Max() float64 {
	var total float64
	for _, cr := range c.Criteria {
		total += cr.Max
	}
	return total
}

// Track groups the categories scored for one sub-language.
type Track struct {
	Name       string         `toml:"name" json:"name"`
	Categories []CategorySpec `toml:"categories" json:"categories"`
}

// Max returns the track's maximum total.
func (t Track) Max() float64 {
	var total float64
	for _, c := range t.Categories {
		total += c.Max()
	}
	return total
}

// Band is one grade cut. A result earns the band's grade when every category
// subtotal reaches MinCategoryPercent of its maximum and the grand total
// reaches MinTotalPercent of the rubric maximum. Bands are evaluated in order,
// best grade first.
type Band struct {
	Grade              string  `toml:"grade" json:"grade"`
	MinCategoryPercent float64 `toml:"min_category_percent" json:"minCategoryPercent"`
	MinTotalPercent    float64 `toml:"min_total_percent" json:"minTotalPercent"`
}

// Rubric is the complete scoring table for a language, optionally narrowed to
// one certification category.
type Rubric struct {
	Language  evaluation.Language `toml:"language" json:"language"`
	Category  evaluation.Category `toml:"category" json:"category,omitempty"`
	Tracks    []Track             `toml:"tracks" json:"tracks"`
	Bands     []Band              `toml:"bands" json:"bands"`
	FailGrade string              `toml:"fail_grade" json:"failGrade,omitempty"`
}

// Max returns the rubric's maximum grand total.
func (r Rubric) Max() float64 {
	var total float64
	for _, t := range r.Tracks {
		total += t.Max()
	}
	return total
}

// Keys returns every criterion key in rubric order.
func (r Rubric) Keys() []string {
	var keys []string
	for _, t := range r.Tracks {
		for _, c := range t.Categories {
			for _, cr := range c.Criteria {
				keys = append(keys, cr.Key)
			}
		}
	}
	return keys
}

// normalized returns a copy with trimmed, NFC-normalized names and keys.
func (r Rubric) normalized() Rubric {
	out := Rubric{
		Language:  r.Language,
		Category:  evaluation.Category(textutil.Normalize(string(r.Category))),
		FailGrade: strings.TrimSpace(r.FailGrade),
	}
	if lang, ok := evaluation.ParseLanguage(string(r.Language)); ok {
		out.Language = lang
	}
	if out.FailGrade == "" {
		out.FailGrade = DefaultFailGrade
	}
	for _, t := range r.Tracks {
		track := Track{Name: textutil.Normalize(t.Name)}
		for _, c := range t.Categories {
			cat := CategorySpec{Name: textutil.Normalize(c.Name)}
			for _, cr := range c.Criteria {
				cat.Criteria = append(cat.Criteria, Criterion{Key: textutil.Normalize(cr.Key), Max: cr.Max})
			}
			track.Categories = append(track.Categories, cat)
		}
		out.Tracks = append(out.Tracks, track)
	}
	for _, b := range r.Bands {
		out.Bands = append(out.Bands, Band{
			Grade:              strings.TrimSpace(b.Grade),
			MinCategoryPercent: b.MinCategoryPercent,
			MinTotalPercent:    b.MinTotalPercent,
		})
	}
	return out
}

// Validate checks structural consistency of the rubric.
func (r Rubric) Validate() error {
	if strings.TrimSpace(string(r.Language)) == "" {
		return fmt.Errorf("rubric: language is required")
	}
	if len(r.Tracks) == 0 {
		return fmt.Errorf("rubric %s: at least one track is required", r.Language)
	}
	seen := make(map[string]struct{})
	for _, t := range r.Tracks {
		if t.Name == "" {
			return fmt.Errorf("rubric %s: track name is required", r.Language)
		}
		if len(t.Categories) == 0 {
			return fmt.Errorf("rubric %s: track %s has no categories", r.Language, t.Name)
		}
		for _, c := range t.Categories {
			if c.Name == "" {
				return fmt.Errorf("rubric %s: track %s has an unnamed category", r.Language, t.Name)
			}
			if len(c.Criteria) == 0 {
				return fmt.Errorf("rubric %s: category %s.%s has no criteria", r.Language, t.Name, c.Name)
			}
			for _, cr := range c.Criteria {
				if cr.Key == "" {
					return fmt.Errorf("rubric %s: category %s.%s has a criterion without key", r.Language, t.Name, c.Name)
				}
				if cr.Max <= 0 {
					return fmt.Errorf("rubric %s: criterion %s must have a positive max", r.Language, cr.Key)
				}
				if _, dup := seen[cr.Key]; dup {
					return fmt.Errorf("rubric %s: duplicate criterion key %s", r.Language, cr.Key)
				}
				seen[cr.Key] = struct{}{}
			}
		}
	}
	for _, b := range r.Bands {
		if b.Grade == "" {
			return fmt.Errorf("rubric %s: grade band without grade", r.Language)
		}
		if b.MinCategoryPercent < 0 || b.MinCategoryPercent > 100 || b.MinTotalPercent < 0 || b.MinTotalPercent > 100 {
			return fmt.Errorf("rubric %s: band %s percentages must be within 0-100", r.Language, b.Grade)
		}
	}
	return nil
}

// Dual-language category names.
var (
	koreanCategories  = []string{"발음", "억양", "전달력", "음성", "속도"}
	englishCategories = []string{"발음_자음", "발음_모음", "억양", "강세", "전달력"}
)

const (
	TrackKorean  = "korean"
	TrackEnglish = "english"

	dualCategoryMax = 20
)

// DualLanguageBands reproduces the Korean/English grade rules: FAIL when any
// category is below 16 of 20 or the total is below 160 of 200; B when any
// category is below 17; A unless every category reaches 18.5; otherwise S.
func DualLanguageBands() []Band {
	return []Band{
		{Grade: "S", MinCategoryPercent: 92.5, MinTotalPercent: 80},
		{Grade: "A", MinCategoryPercent: 85, MinTotalPercent: 80},
		{Grade: "B", MinCategoryPercent: 80, MinTotalPercent: 80},
	}
}

// DualLanguageRubric returns the built-in Korean/English rubric. Each
// category is a single 20-point criterion keyed "<track>.<category>".
func DualLanguageRubric() Rubric {
	return Rubric{
		Language: evaluation.LanguageKoreanEnglish,
		Tracks: []Track{
			singleCriterionTrack(TrackKorean, koreanCategories, dualCategoryMax),
			singleCriterionTrack(TrackEnglish, englishCategories, dualCategoryMax),
		},
		Bands:     DualLanguageBands(),
		FailGrade: DefaultFailGrade,
	}
}

func singleCriterionTrack(name string, categories []string, max float64) Track {
	track := Track{Name: name}
	for _, c := range categories {
		track.Categories = append(track.Categories, CategorySpec{
			Name:     c,
			Criteria: []Criterion{{Key: CriterionKey(name, c), Max: max}},
		})
	}
	return track
}

// CriterionKey builds the canonical "<track>.<category>" key.
func CriterionKey(track, category string) string {
	return textutil.Normalize(track) + "." + textutil.Normalize(category)
}

// DefaultRubrics returns the rubrics compiled into the binary.
func DefaultRubrics() []Rubric {
	return []Rubric{DualLanguageRubric()}
}
