// Package cache provides a generic, thread-safe TTL cache.
//
// A cache is an explicit object constructed once and passed by reference,
// never a package-level global. Hit/miss counters can optionally be exposed
// as Prometheus metrics. The template store uses a TTL cache on its read
// path so repeated pipeline resolutions do not hit the state store.
package cache
