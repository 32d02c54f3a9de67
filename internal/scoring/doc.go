// Package scoring computes category subtotals, language totals, grand totals,
// and discrete grades from raw per-criterion scores.
//
// The Engine is pure: no I/O, no clocks, and no dependence on map iteration
// order. Rubrics describe tracks, categories, criteria with fixed maxima, and an
// ordered list of grade bands. The dual-language Korean/English rubric is built
// in; single-language rubrics are supplied through configuration so new
// languages can be added without touching the engine.
package scoring
