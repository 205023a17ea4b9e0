// Package cache implements the answer cache (component E): a bounded mapping from query
// fingerprint to (response bytes, expiry), capacity 2048, LRU eviction on overflow and lazy
// expiry-on-read eviction of stale entries. Backed by bluele/gcache's LRU implementation, which
// gives us bounded-capacity eviction for free instead of hand-rolling the linked-list LRU that
// folbricht-routedns implements for its own (differently-keyed) cache.
package cache

import (
	"strconv"
	"time"

	"github.com/bluele/gcache"
)

// Capacity is the maximum number of entries retained, per SPEC_FULL.md §4.E.
const Capacity = 2048

const (
	// MinTTL and MaxTTL bound every stored entry's remaining lifetime, per SPEC_FULL.md §4.E.
	MinTTL = 10 * time.Second
	MaxTTL = 3600 * time.Second
)

type entry struct {
	response []byte
	expiry   time.Time
}

// Cache is the bounded, TTL-aware answer cache. The zero value is not usable; construct with New.
type Cache struct {
	gc         gcache.Cache
	defaultTTL time.Duration
}

// New constructs a Cache with the given default TTL, used when an insert doesn't carry an explicit
// TTL. defaultTTL is itself clamped to [MinTTL, MaxTTL].
func New(defaultTTL time.Duration) *Cache {
	return &Cache{
		gc:         gcache.New(Capacity).LRU().Build(),
		defaultTTL: clampTTL(defaultTTL),
	}
}

// Get returns the cached response bytes and remaining TTL for key, if present and unexpired.
// Expired entries are evicted opportunistically and reported as a miss, per the data model's
// lazy-invalidation invariant.
func (c *Cache) Get(key string) (response []byte, remaining time.Duration, ok bool) {
	v, err := c.gc.Get(key)
	if err != nil {
		return nil, 0, false
	}
	e := v.(entry)
	remaining = time.Until(e.expiry)
	if remaining <= 0 {
		c.gc.Remove(key)
		return nil, 0, false
	}
	out := make([]byte, len(e.response))
	copy(out, e.response)
	return out, remaining, true
}

// Insert stores response under key with the given TTL, clamped to [MinTTL, MaxTTL]. A ttl of zero
// (or negative) means "unspecified", and the cache's configured default is used instead. Concurrent
// inserts for the same key race benignly - last write wins, matching SPEC_FULL.md §4.E's "no
// coalescing required".
func (c *Cache) Insert(key string, response []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	ttl = clampTTL(ttl)
	cp := make([]byte, len(response))
	copy(cp, response)
	c.gc.SetWithExpire(key, entry{response: cp, expiry: time.Now().Add(ttl)}, ttl)
}

// Clear removes every entry, used by the cache-clear observability accessor (§4.J).
func (c *Cache) Clear() {
	c.gc.Purge()
}

// Len reports the current entry count, for the Reporter digest.
func (c *Cache) Len() int {
	return c.gc.Len(true)
}

// Name satisfies reporter.Reporter.
func (c *Cache) Name() string { return "Cache" }

// Report satisfies reporter.Reporter.
func (c *Cache) Report(resetCounters bool) string {
	return "entries=" + strconv.Itoa(c.Len()) + "/" + strconv.Itoa(Capacity)
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl < MinTTL {
		return MinTTL
	}
	if ttl > MaxTTL {
		return MaxTTL
	}
	return ttl
}
