package scoring

import (
	"fmt"
	"math"
	"sort"

	"voicegrade/internal/evalerr"
	"voicegrade/internal/evaluation"
)

// Result holds the derived fields computed from raw scores.
type Result struct {
	CategoryScores []evaluation.CategoryScore `json:"categoryScores"`
	LanguageTotals map[string]float64         `json:"languageTotals,omitempty"`
	TotalScore     float64                    `json:"totalScore"`
	MaxScore       float64                    `json:"maxScore"`
	Grade          string                     `json:"grade,omitempty"`
	Complete       bool                       `json:"complete"`
	Missing        []string                   `json:"missing,omitempty"`
}

// Apply copies the derived fields onto rec. Raw scores are not touched.
func (r Result) Apply(rec *evaluation.Record) {
	rec.CategoryScores = append([]evaluation.CategoryScore(nil), r.CategoryScores...)
	rec.LanguageTotals = nil
	if len(r.LanguageTotals) > 0 {
		rec.LanguageTotals = make(map[string]float64, len(r.LanguageTotals))
		for k, v := range r.LanguageTotals {
			rec.LanguageTotals[k] = v
		}
	}
	rec.TotalScore = r.TotalScore
	rec.MaxScore = r.MaxScore
	rec.Grade = r.Grade
}

type rubricKey struct {
	language evaluation.Language
	category evaluation.Category
}

// Engine scores raw criterion values against registered rubrics.
type Engine struct {
	rubrics map[rubricKey]Rubric
}

// NewEngine validates and registers rubrics. A later rubric for the same
// language and category replaces an earlier one, so configured rubrics can
// override DefaultRubrics.
func NewEngine(rubrics ...Rubric) (*Engine, error) {
	e := &Engine{rubrics: make(map[rubricKey]Rubric, len(rubrics))}
	for _, r := range rubrics {
		n := r.normalized()
		if err := n.Validate(); err != nil {
			return nil, evalerr.Wrap(evalerr.ErrValidation, "register rubric", "", err)
		}
		if n.Category != "" {
			cat, ok := evaluation.ParseCategory(string(n.Category))
			if !ok {
				return nil, evalerr.Wrap(evalerr.ErrValidation, "register rubric", fmt.Sprintf("unknown category %q", n.Category), nil)
			}
			n.Category = cat
		}
		e.rubrics[rubricKey{language: n.Language, category: n.Category}] = n
	}
	return e, nil
}

// Languages lists languages that have at least one rubric, in stable order.
func (e *Engine) Languages() []evaluation.Language {
	seen := make(map[evaluation.Language]struct{})
	for k := range e.rubrics {
		seen[k.language] = struct{}{}
	}
	out := make([]evaluation.Language, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Rubric resolves the rubric for a language and category. A category-specific
// rubric wins over the language-wide one.
func (e *Engine) Rubric(language evaluation.Language, category evaluation.Category) (Rubric, error) {
	if r, ok := e.rubrics[rubricKey{language: language, category: category}]; ok {
		return r, nil
	}
	if r, ok := e.rubrics[rubricKey{language: language}]; ok {
		return r, nil
	}
	return Rubric{}, evalerr.Wrap(evalerr.ErrValidation, "resolve rubric",
		fmt.Sprintf("no rubric configured for language %q category %q", language, category), nil)
}

// RequiredKeys returns every criterion key the rubric expects, in rubric order.
func (e *Engine) RequiredKeys(language evaluation.Language, category evaluation.Category) ([]string, error) {
	r, err := e.Rubric(language, category)
	if err != nil {
		return nil, err
	}
	return r.Keys(), nil
}

// Missing returns required keys absent from raw, in rubric order.
func (e *Engine) Missing(raw evaluation.Scores, language evaluation.Language, category evaluation.Category) ([]string, error) {
	r, err := e.Rubric(language, category)
	if err != nil {
		return nil, err
	}
	return missingKeys(r, raw), nil
}

// Score computes subtotals, totals, and grade. Missing criteria count as zero
// and leave the grade empty. Values are clamped to [0, max] and rounded to the
// nearest half point.
func (e *Engine) Score(raw evaluation.Scores, language evaluation.Language, category evaluation.Category) (Result, error) {
	r, err := e.Rubric(language, category)
	if err != nil {
		return Result{}, err
	}
	return Evaluate(r, raw), nil
}

// Evaluate scores raw against a single rubric.
func Evaluate(r Rubric, raw evaluation.Scores) Result {
	res := Result{MaxScore: r.Max()}
	if len(r.Tracks) > 1 {
		res.LanguageTotals = make(map[string]float64, len(r.Tracks))
	}
	for _, t := range r.Tracks {
		var trackTotal float64
		for _, c := range t.Categories {
			var subtotal float64
			for _, cr := range c.Criteria {
				subtotal += normalizeScore(raw[cr.Key], cr.Max)
			}
			res.CategoryScores = append(res.CategoryScores, evaluation.CategoryScore{
				Track:    t.Name,
				Category: c.Name,
				Score:    subtotal,
				Max:      c.Max(),
			})
			trackTotal += subtotal
		}
		if res.LanguageTotals != nil {
			res.LanguageTotals[t.Name] = trackTotal
		}
		res.TotalScore += trackTotal
	}
	res.Missing = missingKeys(r, raw)
	res.Complete = len(res.Missing) == 0
	if res.Complete {
		res.Grade = grade(r, res)
	}
	return res
}

func grade(r Rubric, res Result) string {
	for _, b := range r.Bands {
		if meetsBand(b, res) {
			return b.Grade
		}
	}
	return r.FailGrade
}

// meetsBand compares score*100 against percent*max so that half-point scores
// and percentages such as 92.5 stay exact in binary floating point.
func meetsBand(b Band, res Result) bool {
	for _, cs := range res.CategoryScores {
		if cs.Score*100 < b.MinCategoryPercent*cs.Max {
			return false
		}
	}
	return res.TotalScore*100 >= b.MinTotalPercent*res.MaxScore
}

func missingKeys(r Rubric, raw evaluation.Scores) []string {
	var missing []string
	for _, key := range r.Keys() {
		if _, ok := raw[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}

func normalizeScore(v, max float64) float64 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= max {
		return max
	}
	return math.Round(v*2) / 2
}
