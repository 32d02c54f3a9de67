// Package blob provides path-addressed file storage with per-file revision
// tokens.
//
// Store is the contract used by the index and record layers. Client speaks the
// Dropbox API v2 over HTTP with bounded per-attempt timeouts, exponential
// backoff for transient failures, and a single token refresh on 401. LocalStore
// implements identical semantics on the local filesystem for offline use and
// tests.
package blob
