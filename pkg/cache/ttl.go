package cache

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// entry is a cached value with its expiry.
type entry[V any] struct {
	value     V
	expiresAt time.Time
}

func (e *entry[V]) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// TTL is a thread-safe cache that evicts items when their time-to-live
// elapses. A background goroutine sweeps expired entries; it stops when the
// constructor's context is cancelled or Close is called.
type TTL[V any] struct {
	mu              sync.RWMutex
	ttl             time.Duration
	cleanupInterval time.Duration
	items           map[string]*entry[V]

	hits   prometheus.Counter
	misses prometheus.Counter

	shutdown chan struct{}
	once     sync.Once
}

// Option configures a TTL cache.
type Option[V any] func(*TTL[V])

// WithMetrics exposes hit/miss counters on the given registerer under the
// prefix, e.g. "<prefix>_cache_hits_total".
func WithMetrics[V any](reg prometheus.Registerer, prefix string) Option[V] {
	return func(c *TTL[V]) {
		c.hits = prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_cache_hits_total",
			Help: "Number of cache hits",
		})
		c.misses = prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_cache_misses_total",
			Help: "Number of cache misses",
		})
		reg.MustRegister(c.hits, c.misses)
	}
}

// NewTTL creates a TTL cache. The sweep interval defaults to the TTL when
// cleanupInterval is zero.
func NewTTL[V any](ctx context.Context, ttl, cleanupInterval time.Duration, opts ...Option[V]) *TTL[V] {
	if cleanupInterval <= 0 {
		cleanupInterval = ttl
	}
	c := &TTL[V]{
		ttl:             ttl,
		cleanupInterval: cleanupInterval,
		items:           make(map[string]*entry[V]),
		shutdown:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.sweep(ctx)
	return c
}

// Get retrieves a value by key, treating expired entries as absent.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	if !ok || e.expired(time.Now()) {
		if c.misses != nil {
			c.misses.Inc()
		}
		var zero V
		return zero, false
	}

	if c.hits != nil {
		c.hits.Inc()
	}
	return e.value, true
}

// Set stores a value with a fresh TTL.
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	c.items[key] = &entry[V]{value: value, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// Delete removes an entry by key.
func (c *TTL[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Size returns the number of entries, expired included until the next sweep.
func (c *TTL[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the background sweeper. Safe to call more than once.
func (c *TTL[V]) Close() {
	c.once.Do(func() { close(c.shutdown) })
}

func (c *TTL[V]) sweep(ctx context.Context) {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			for key, e := range c.items {
				if e.expired(now) {
					delete(c.items, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
