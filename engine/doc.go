// Package engine implements the status-update state machine that drives
// operation pipelines, and the dispatcher that publishes each step's
// provisioning request.
//
// The engine is fed one status-update message at a time by the consumer
// package. Processing is best-effort and non-blocking: messages referencing
// unknown operations or steps, and stale updates for steps that already
// reached a terminal status, are absorbed so a poison message can never
// stall a session. A failure to publish the next step's request is
// converted into a recorded pipeline failure on that step, never an
// unhandled error.
package engine
