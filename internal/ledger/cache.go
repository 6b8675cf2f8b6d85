package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meridian-his/meridian-his/internal/catalog"
)

// Cache keeps the strict availability view in Redis. Misses and Redis errors
// fall through to the repository; the cache is best effort.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs the availability cache.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

// Get returns a cached availability total.
func (c *Cache) Get(ctx context.Context, product catalog.ProductRef, locationID int64) (float64, bool) {
	if c == nil || c.client == nil {
		return 0, false
	}
	raw, err := c.client.Get(ctx, availabilityKey(product, locationID)).Result()
	if err != nil {
		return 0, false
	}
	qty, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return qty, true
}

// Set stores an availability total.
func (c *Cache) Set(ctx context.Context, product catalog.ProductRef, locationID int64, qty float64) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Set(ctx, availabilityKey(product, locationID), strconv.FormatFloat(qty, 'f', -1, 64), c.ttl).Err()
}

// Invalidate drops the cached total after a ledger mutation.
func (c *Cache) Invalidate(ctx context.Context, product catalog.ProductRef, locationID int64) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, availabilityKey(product, locationID)).Err()
}

func availabilityKey(product catalog.ProductRef, locationID int64) string {
	return fmt.Sprintf("ledger:avail:%s:%d:%d", product.Kind, product.ID, locationID)
}
