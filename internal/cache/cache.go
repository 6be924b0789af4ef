// Package cache provides the short-lived derived-data cache shared by the read path.
package cache

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultTTL is used by Set when ttl is not positive
const DefaultTTL = 30 * time.Second

// Store is the cache contract consumed by services.
type Store interface {
	Set(key string, value interface{}, ttl time.Duration)
	Get(key string) (interface{}, bool)
	Clear()
	ClearMatching(pattern string) (int, error)
	// Epoch changes every time entries are invalidated.
	Epoch() uint64
	// SetAt stores value only if no invalidation happened since epoch was
	// read, and reports whether it did.
	SetAt(epoch uint64, key string, value interface{}, ttl time.Duration) bool
}

// Clock returns the current time
type Clock func() time.Time

type entry struct {
	value    interface{}
	storedAt time.Time
	ttl      time.Duration
}

func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.storedAt) >= e.ttl
}

// Cache is an in-memory Store. Expired entries are removed lazily by Get;
// there is no background janitor.
type Cache struct {
	items      *gocache.Cache
	clock      Clock
	defaultTTL time.Duration
	mu         sync.Mutex
	epoch      uint64
	hits       uint64
	misses     uint64
	statsMu    sync.Mutex
}

// Option configures a Cache
type Option func(*Cache)

// WithClock overrides the time source
func WithClock(clock Clock) Option {
	return func(c *Cache) {
		c.clock = clock
	}
}

// WithDefaultTTL sets the TTL used when Set is called with ttl <= 0
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// New creates an empty cache
func New(opts ...Option) *Cache {
	c := &Cache{
		items:      gocache.New(gocache.NoExpiration, 0),
		clock:      time.Now,
		defaultTTL: DefaultTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Set stores value under key, replacing any entry and starting a new TTL window.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items.Set(key, &entry{value: value, storedAt: c.clock(), ttl: ttl}, gocache.NoExpiration)
}

// Epoch returns the current invalidation epoch
func (c *Cache) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// SetAt is Set for a value computed from data read at epoch. It is dropped
// when the cache was invalidated in the meantime.
func (c *Cache) SetAt(epoch uint64, key string, value interface{}, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != epoch {
		return false
	}
	c.items.Set(key, &entry{value: value, storedAt: c.clock(), ttl: ttl}, gocache.NoExpiration)
	return true
}

// Get returns the stored value if present and unexpired.
func (c *Cache) Get(key string) (interface{}, bool) {
	raw, found := c.items.Get(key)
	if !found {
		c.recordMiss(key)
		return nil, false
	}

	e := raw.(*entry)
	if e.expired(c.clock()) {
		c.evict(key, e)
		c.recordMiss(key)
		return nil, false
	}

	c.recordHit(key)
	return e.value, true
}

// evict deletes key only if it still holds the stale entry; a concurrent Set
// may already have replaced it.
func (c *Cache) evict(key string, stale *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if raw, found := c.items.Get(key); found && raw.(*entry) == stale {
		c.items.Delete(key)
	}
}

// Clear removes all entries
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	c.items.Flush()
}

// ClearMatching removes every key matching the regular expression pattern and
// returns how many were removed.
func (c *Cache) ClearMatching(pattern string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, fmt.Errorf("invalid cache key pattern %q: %w", pattern, err)
	}
	return c.ClearRegexp(re), nil
}

// ClearRegexp removes every key matched by re
func (c *Cache) ClearRegexp(re *regexp.Regexp) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	removed := 0
	for key := range c.items.Items() {
		if re.MatchString(key) {
			c.items.Delete(key)
			removed++
		}
	}
	return removed
}

// ItemCount returns the number of stored entries, including stale ones not yet evicted
func (c *Cache) ItemCount() int {
	return c.items.ItemCount()
}

// Stats returns hit and miss counts and the hit ratio
func (c *Cache) Stats() (hits, misses uint64, ratio float64) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	hits = c.hits
	misses = c.misses
	if total := hits + misses; total > 0 {
		ratio = float64(hits) / float64(total)
	}
	return
}

func (c *Cache) recordHit(key string) {
	c.statsMu.Lock()
	c.hits++
	c.statsMu.Unlock()
	cacheLookups.WithLabelValues(Namespace(key), "hit").Inc()
}

func (c *Cache) recordMiss(key string) {
	c.statsMu.Lock()
	c.misses++
	c.statsMu.Unlock()
	cacheLookups.WithLabelValues(Namespace(key), "miss").Inc()
}
