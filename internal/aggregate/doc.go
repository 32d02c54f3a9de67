// Package aggregate merges raw detail documents from several storage
// partitions into one deduplicated, reverse-chronological listing, and applies
// the filters and paging the listing surfaces expose.
package aggregate
