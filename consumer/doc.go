// Package consumer runs the status-update consumer pool.
//
// Each consumer loop repeatedly asks the session broker for a session with
// pending messages, drains it in order through the engine, and releases it.
// ErrNoSessions is the idle steady state and triggers a short pause, not a
// retry storm. The supervisor keeps a fixed number of loops alive for the
// life of the process, restarting any that panic.
package consumer
