// Package queue defines the wire messages exchanged with provisioning
// workers and the JetStream publisher that sends them.
//
// Status updates flow in on the status stream, one subject per session id;
// resource requests flow out on the deploy stream the same way. Every
// published message carries a correlation id (the operation id) and a
// session id (the target resource id) so that all messages concerning one
// resource chain are funneled, in order, to a single consumer.
package queue
