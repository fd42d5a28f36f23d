package keystore

import (
	"sync"
	"time"
)

// DefaultTTL is the default cache entry lifetime.
const DefaultTTL = 5 * time.Minute

type cacheEntry struct {
	value   []byte
	expires time.Time
}

// Cache is the read-through cache layer over an ExternalStore. Get
// returns cached hits and fetches misses in a single batched call;
// fetched values are populated into the cache. Set writes through and
// updates the cache. Entries are kept by reference, not cloned, and
// misses are never negatively cached.
type Cache struct {
	mu      sync.Mutex
	backing ExternalStore
	ttl     time.Duration
	entries map[Key]cacheEntry
}

// NewCache wraps backing with a read-through cache using DefaultTTL.
func NewCache(backing ExternalStore) *Cache {
	return &Cache{
		backing: backing,
		ttl:     DefaultTTL,
		entries: make(map[Key]cacheEntry),
	}
}

func (c *Cache) Get(keys []Key) (map[Key][]byte, error) {
	now := time.Now()
	result := make(map[Key][]byte, len(keys))

	c.mu.Lock()
	var missing []Key
	for _, k := range keys {
		if e, ok := c.entries[k]; ok && now.Before(e.expires) {
			result[k] = e.value
		} else {
			missing = append(missing, k)
		}
	}
	c.mu.Unlock()

	if len(missing) == 0 {
		return result, nil
	}

	fetched, err := c.backing.Get(missing)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for k, v := range fetched {
		c.entries[k] = cacheEntry{value: v, expires: now.Add(c.ttl)}
		result[k] = v
	}
	c.mu.Unlock()

	return result, nil
}

func (c *Cache) Set(values map[Key][]byte) error {
	if err := c.backing.Set(values); err != nil {
		return err
	}
	now := time.Now()
	c.mu.Lock()
	for k, v := range values {
		c.entries[k] = cacheEntry{value: v, expires: now.Add(c.ttl)}
	}
	c.mu.Unlock()
	return nil
}

// Clear flushes both the cache and the backing store.
func (c *Cache) Clear() error {
	if err := c.backing.Clear(); err != nil {
		return err
	}
	c.mu.Lock()
	c.entries = make(map[Key]cacheEntry)
	c.mu.Unlock()
	return nil
}
