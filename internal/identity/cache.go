package identity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"mercaro.shop/internal/obs"
)

const cacheKeyPrefix = "identity:projection:"

// Cache is a TTL-bounded projection cache over Redis. It is a derived view:
// writes are best effort and reads may be stale for up to one TTL window
// after an out-of-band identity mutation.
type Cache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewCache constructs a Cache. A nil client yields a cache that always
// misses, so callers need no nil checks.
func NewCache(client redis.UniversalClient, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

// Get returns the cached projection for the identity, or a miss. Any cache
// fault counts as a miss; the store read path compensates.
func (c *Cache) Get(ctx context.Context, id string) (Projection, bool) {
	if c == nil || c.client == nil || id == "" {
		return Projection{}, false
	}
	data, err := c.client.Get(ctx, cacheKeyPrefix+id).Bytes()
	if err != nil {
		obs.IncCache("miss")
		return Projection{}, false
	}
	var p Projection
	if err := json.Unmarshal(data, &p); err != nil {
		obs.IncCache("miss")
		return Projection{}, false
	}
	obs.IncCache("hit")
	return p, true
}

// Set stores the projection under the cache TTL.
func (c *Cache) Set(ctx context.Context, p Projection) error {
	if c == nil || c.client == nil || p.ID == "" {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKeyPrefix+p.ID, data, c.ttl).Err()
}

// Invalidate drops the cached projection, used on identity mutations the
// core is aware of (block/unblock, credential change).
func (c *Cache) Invalidate(ctx context.Context, id string) error {
	if c == nil || c.client == nil || id == "" {
		return nil
	}
	return c.client.Del(ctx, cacheKeyPrefix+id).Err()
}
