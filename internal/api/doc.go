// Package api is the consumer-facing query surface over the evaluation record
// store. It wires the index, the lifecycle manager and the list aggregator
// into one Service and translates records into transport-friendly DTOs.
//
// # Key Types
//
// Service: ListRecords, GetRecord, Create, Submit, RequestReview, Approve,
// Reevaluate, Delete, History and Reconcile.
//
// RecordSummary/RecordList: listing payloads. Full records are returned as
// evaluation.Record, which already carries the persisted camelCase field
// names.
//
// ErrorResponse: the machine-readable failure body. Kind is derived from the
// evalerr sentinel wrapped by the failing operation.
//
// # Listing
//
// ListRecords loads the index, fetches every referenced detail document with
// bounded concurrency, and hands the documents to the aggregator partitioned
// by bucket, pending first, so a record caught mid-move is listed once with
// its pending copy. Index entries whose detail file is gone are skipped and
// counted rather than failing the whole listing.
package api
