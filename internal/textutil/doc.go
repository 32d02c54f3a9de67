// Package textutil provides text processing utilities shared by the record
// store: Unicode normalization of Hangul identity fields and rubric keys,
// case-insensitive search folding, and filename sanitization for detail paths.
//
// Names and criterion keys may arrive in decomposed form (NFD) from some
// clients; always compare them after Normalize so lookups are stable.
package textutil
