// Package store persists the engine's documents in JetStream KV buckets:
// operations, resources and templates, one JSON document per key.
//
// The operation/step documents are the source of truth for pipeline
// progress; the resource document carries a denormalized deploymentStatus
// mirror for fast reads. Read-modify-write paths (the status mirror, output
// merges, secondary indexes) go through the KV CAS helpers so concurrent
// writers never clobber each other; whole-document operation updates are
// plain puts, since session affinity guarantees a single logical writer per
// in-flight operation.
package store
