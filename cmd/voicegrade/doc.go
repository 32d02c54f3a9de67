// Package main hosts the voicegrade CLI entrypoint and command graph.
//
// The Cobra command tree wires configuration, the blob store backend, the
// index, the scoring engine, and the transition journal into a records
// service, then exposes it either as one-shot record commands or through the
// long-running HTTP server started by `voicegrade serve`.
//
// Keep this package lean: lifecycle rules live in internal/records and
// listing rules in internal/aggregate. Commands here only translate flags
// into service calls and render the results.
package main
