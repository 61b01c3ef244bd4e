// Package metric provides Prometheus metrics for the pipeline engine:
// a private registry, the engine/consumer instruments, and an HTTP server
// exposing /metrics and /healthz.
package metric
