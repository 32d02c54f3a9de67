// Package evaluation defines the canonical evaluation record model persisted in
// detail documents and the summary projection kept in the shared index.
//
// Detail documents written by older clients come in more than one shape: some
// carry identity fields at the top level, others nest them under a
// "candidateInfo" (or "candidate") wrapper, and timestamps may be ISO-8601 or
// Korean locale strings. Decode normalizes every accepted shape into Record at
// the boundary so no other package has to know about the variants.
package evaluation
