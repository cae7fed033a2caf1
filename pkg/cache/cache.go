// Package cache is a generic, thread-safe cache whose entries expire after a
// fixed time to live. Expired entries are dropped when read and when the
// cache is full; there is no background sweeper.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/openstack-archive/namos/errors"
	"github.com/openstack-archive/namos/metric"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Stats counts cache outcomes since creation.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

// HitRatio is hits over lookups, zero before any lookup.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// TTL caches values of type V by string key.
type TTL[V any] struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	items      map[string]entry[V]

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	lookups   *prometheus.CounterVec
}

// Option configures a TTL cache.
type Option[V any] func(*TTL[V])

// WithMaxEntries bounds the cache. When full, expired entries go first,
// then the entry closest to expiry.
func WithMaxEntries[V any](n int) Option[V] {
	return func(c *TTL[V]) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithClock sets the time source.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *TTL[V]) {
		if now != nil {
			c.now = now
		}
	}
}

// WithMetrics counts lookups as namos_cache_lookups_total{cache=name,outcome}.
// A nil registrar is ignored.
func WithMetrics[V any](r metric.Registrar, name string) Option[V] {
	return func(c *TTL[V]) {
		if r == nil || name == "" {
			return
		}
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "namos",
			Subsystem:   "cache",
			Name:        "lookups_total",
			Help:        "Cache lookups by outcome",
			ConstLabels: prometheus.Labels{"cache": name},
		}, []string{"outcome"})
		if err := r.Register("cache", name, vec); err == nil {
			c.lookups = vec
		}
	}
}

// New creates a cache whose entries live for ttl.
func New[V any](ttl time.Duration, opts ...Option[V]) (*TTL[V], error) {
	if ttl <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "New", "ttl must be positive")
	}
	c := &TTL[V]{
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]entry[V]),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *TTL[V]) record(outcome string) {
	if c.lookups != nil {
		c.lookups.WithLabelValues(outcome).Inc()
	}
}

// Get returns the live value for key.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	e, ok := c.items[key]
	if ok && !c.now().Before(e.expiresAt) {
		delete(c.items, key)
		c.evictions.Add(1)
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		c.misses.Add(1)
		c.record("miss")
		var zero V
		return zero, false
	}
	c.hits.Add(1)
	c.record("hit")
	return e.value, true
}

// Set stores value under key for one time to live.
func (c *TTL[V]) Set(key string, value V) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "Set", "key cannot be empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists && c.maxEntries > 0 && len(c.items) >= c.maxEntries {
		c.evictLocked()
	}
	c.items[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	return nil
}

func (c *TTL[V]) evictLocked() {
	now := c.now()
	var (
		victim string
		soon   time.Time
	)
	for k, e := range c.items {
		if !now.Before(e.expiresAt) {
			delete(c.items, k)
			c.evictions.Add(1)
			continue
		}
		if victim == "" || e.expiresAt.Before(soon) {
			victim, soon = k, e.expiresAt
		}
	}
	if len(c.items) >= c.maxEntries && victim != "" {
		delete(c.items, victim)
		c.evictions.Add(1)
	}
}

// Delete drops key and reports whether it was present.
func (c *TTL[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	delete(c.items, key)
	return ok
}

// Clear drops every entry.
func (c *TTL[V]) Clear() {
	c.mu.Lock()
	c.items = make(map[string]entry[V])
	c.mu.Unlock()
}

// Stats returns the current counters.
func (c *TTL[V]) Stats() Stats {
	c.mu.Lock()
	size := len(c.items)
	c.mu.Unlock()
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      size,
	}
}
