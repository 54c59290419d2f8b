// Package cache implements the TTL+size-bounded cache layer from spec §4.2,
// backed by github.com/dgraph-io/ristretto/v2 rather than the distilled
// source's two divergent designs (a decorator-based TTLCache and a
// module-level dict cache) — see DESIGN.md.
package cache

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// maxCost bounds every cache at the equivalent of 100 entries (spec §4.2's
// "default max 100 entries"), assuming a cost of 1 per entry.
const maxCost = 100

// Cache is a generic TTL-bounded, size-bounded cache keyed by string. A nil
// *Cache is valid and behaves as an always-miss, no-op cache, so that
// key_caching.unstructured/structured = false can disable caching by simply
// not constructing one (spec §4.2's pass-through rule).
type Cache[V any] struct {
	rc  *ristretto.Cache[string, V]
	ttl time.Duration
}

// New creates a Cache with the given default TTL. Pass ttl <= 0 to disable
// expiry (entries live until evicted for space).
func New[V any](ttl time.Duration) (*Cache[V], error) {
	rc, err := ristretto.NewCache(&ristretto.Config[string, V]{
		NumCounters:        maxCost * 10,
		MaxCost:            maxCost,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &Cache[V]{rc: rc, ttl: ttl}, nil
}

// Get returns the cached value for key, or (zero, false) on a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}
	v, ok := c.rc.Get(key)
	if !ok {
		return zero, false
	}
	return v, true
}

// Set stores value under key with the cache's default TTL, and is a no-op on
// a nil Cache. Per spec §5's "either insert wins" rule, concurrent Set calls
// for the same key never corrupt the cache — ristretto's SetWithTTL is safe
// for concurrent use and the last writer simply wins.
func (c *Cache[V]) Set(key string, value V) {
	if c == nil {
		return
	}
	if c.ttl > 0 {
		c.rc.SetWithTTL(key, value, 1, c.ttl)
	} else {
		c.rc.Set(key, value, 1)
	}
	c.rc.Wait()
}

// Remove evicts key, if present. No-op on a nil Cache.
func (c *Cache[V]) Remove(key string) {
	if c == nil {
		return
	}
	c.rc.Del(key)
}
