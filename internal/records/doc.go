// Package records applies lifecycle transitions to evaluation records.
//
// Every transition recomputes derived score fields, writes the detail file
// (moving it between the pending and completed buckets when the status
// requires), and then updates the shared index under compare-and-swap. The two
// writes are not atomic; the detail file is authoritative and the index is
// repaired from it lazily on read or by index.Store.Reconcile.
package records
