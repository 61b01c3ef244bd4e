// Package retry provides exponential backoff retry logic with jitter.
//
// It is used by the KV store for CAS conflicts and by the consumer loop for
// transient broker failures. Errors wrapped with NonRetryable fail
// immediately regardless of remaining attempts.
package retry
