// Package natsclient manages the NATS connection used by the pipeline
// engine: JetStream streams for the status-update and resource-request
// queues, and JetStream KV buckets for the document stores.
//
// The client owns reconnect behavior and exposes a thin, header-aware
// publish primitive plus a KVStore layer with compare-and-swap update
// helpers. Higher layers never touch a raw *nats.Conn.
package natsclient
