// Package opsplane is the control plane of a managed-environment platform.
//
// It tracks asynchronous, multi-step lifecycle operations (install, upgrade,
// uninstall) performed against provisioned resources. The provisioning work
// itself happens out of process on remote workers; workers report progress by
// publishing status messages onto a queue, and opsplane durably records
// operation and step progress, decides the aggregate status of a multi-step
// pipeline, advances the pipeline by dispatching the next step, and keeps a
// denormalized status mirror on the resource record.
//
// # Architecture
//
//	┌──────────────────────────────┐
//	│     consumer.Supervisor      │  N supervised consumer loops
//	│  (acquire session, restart)  │
//	└──────────────┬───────────────┘
//	               ↓ per message
//	┌──────────────────────────────┐
//	│        engine.Engine         │  status-update state machine
//	│ (step update, aggregate,     │  + step dispatcher
//	│  mirror, advance pipeline)   │
//	└──────┬───────────────┬───────┘
//	       ↓               ↓
//	┌────────────┐  ┌────────────────┐
//	│   store    │  │     queue      │
//	│ (JetStream │  │ (resource      │
//	│  KV docs)  │  │  requests out) │
//	└────────────┘  └────────────────┘
//
// Ordering is session-scoped: all status updates for one resource chain share
// a session id and are funneled, in order, to exactly one consumer at a time.
// Sessions are exclusive leases over per-resource JetStream subjects,
// arbitrated through KV create-only writes (see the session package).
//
// # Packages
//
//   - model: Operation/Step/Status/Resource/Template domain types and the
//     pure aggregate-status rules
//   - store: KV-backed repositories for operations, resources and templates
//   - queue: wire messages and the resource-request publisher
//   - session: session-affinity message acquisition with lock renewal
//   - engine: the status-update state machine and step dispatcher
//   - consumer: supervised consumption loops
//   - natsclient: NATS connection management and KV with CAS
//   - errors, metric, config, pkg/retry, pkg/cache: infrastructure
//
// The HTTP/API surface that creates resources, authentication, template
// authoring and cost reporting are external collaborators and are not part
// of this module.
package opsplane
