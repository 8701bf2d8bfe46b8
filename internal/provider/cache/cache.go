// Package cache keeps the last resolved record per coin identity for a
// short TTL, so a bulk refresh and quick successive lookups do not pay
// for redundant provider calls. Best effort: a read-then-write race can
// cause a double fetch, never a corrupt entry.
package cache

import (
	"sync"
	"time"

	"priceresolver/internal/provider"
)

type entry struct {
	record    provider.PriceRecord
	expiresAt time.Time
}

// Cache is a concurrency-safe TTL map from coin identity to the last
// resolved price record.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[provider.CoinIdentity]entry
}

func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 3 * time.Minute
	}
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[provider.CoinIdentity]entry),
	}
}

// Get returns the cached record for id if it has not expired.
func (c *Cache) Get(id provider.CoinIdentity) (provider.PriceRecord, bool) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expiresAt) {
		return provider.PriceRecord{}, false
	}
	return e.record, true
}

// Put stores rec for id, overwriting any previous entry. Expired
// entries are swept opportunistically to bound memory.
func (c *Cache) Put(id provider.CoinIdentity, rec provider.PriceRecord) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[id] = entry{record: rec, expiresAt: now.Add(c.ttl)}
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// Invalidate drops the entry for id, if any.
func (c *Cache) Invalidate(id provider.CoinIdentity) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Len reports the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
