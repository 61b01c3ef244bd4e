// Package errors provides standardized error handling for opsplane.
//
// Errors are classified as transient (retry), invalid (drop, never retry)
// or fatal (stop). The consumer loop keys its behavior off this
// classification: transient transport errors are retried with backoff,
// invalid messages are logged and acknowledged, and everything else is
// logged with full context without ever terminating the loop.
//
// Wrapping helpers produce errors of the form
// "component.method: action failed: <cause>" so log lines and test
// assertions stay uniform across packages.
package errors
