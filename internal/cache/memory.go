package cache

import (
	"time"

	"github.com/maypok86/otter"

	"github.com/dmfontes/skuld/internal/engine"
)

// MemoryCache is the in-process L1 snapshot cache on the edge plane, backed
// by otter's contention-free S3-FIFO implementation. Its TTL is deliberately
// short: change-bus invalidation handles the common case, the TTL bounds the
// staleness window when an invalidation is missed.
type MemoryCache struct {
	store otter.Cache[string, *engine.FlagSnapshot]
}

// NewMemoryCache initializes the L1 cache with a hard item cap and TTL.
func NewMemoryCache(capacity int, ttl time.Duration) (*MemoryCache, error) {
	store, err := otter.MustBuilder[string, *engine.FlagSnapshot](capacity).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, err
	}
	return &MemoryCache{store: store}, nil
}

// Get retrieves a snapshot by its cache key.
func (c *MemoryCache) Get(key string) (*engine.FlagSnapshot, bool) {
	return c.store.Get(key)
}

// Set adds or updates a snapshot.
func (c *MemoryCache) Set(key string, snap *engine.FlagSnapshot) {
	c.store.Set(key, snap)
}

// Del removes a snapshot. Called by the change-bus listener on invalidation.
func (c *MemoryCache) Del(key string) {
	c.store.Delete(key)
}

// Len reports the current item count, exported as a gauge.
func (c *MemoryCache) Len() int {
	return c.store.Size()
}

// Close shuts down the cache and its background goroutines.
func (c *MemoryCache) Close() {
	c.store.Close()
}
