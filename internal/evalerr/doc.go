// Package evalerr defines the error taxonomy shared by the evaluation record
// store.
//
// Every failure surfaced to callers wraps exactly one of the exported sentinel
// markers so that transports (CLI, HTTP) can map it to a machine-readable kind
// with KindOf. Transient I/O and concurrency conflicts are retried internally;
// validation and transition errors never are.
package evalerr
