// Package audit records lifecycle transitions of evaluation records in a local
// SQLite journal so administrators can see who changed what and when.
//
// The journal is a secondary record: the detail files remain authoritative and
// callers treat journal failures as non-fatal.
package audit
