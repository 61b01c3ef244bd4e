// Package session provides exclusive, ordered consumption of per-resource
// message sessions on a JetStream work-queue stream.
//
// Each session is one subject (prefix.<sessionID>) carrying every message for
// one resource chain. A consumer claims a session by creating a lease key in
// the sessions KV bucket; the create-only write arbitrates between competing
// consumers, and the winner renews the lease in the background until the
// session drains or the maximum lock duration passes. Messages within a held
// session are fetched through a filtered consumer with an ack-pending window
// of one, so they are handled strictly in publish order.
package session
