// Package index maintains the shared index document that summarizes every
// evaluation record for fast listing.
//
// The index is a cache over the detail files and never the source of truth.
// All mutations go through Store.Update, which applies an idempotent mutation
// under compare-and-swap on the document revision and retries on concurrent
// writers. Reconcile rebuilds drifted entries from the detail files.
package index
