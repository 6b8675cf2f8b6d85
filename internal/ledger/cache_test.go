package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/meridian-his/meridian-his/internal/catalog"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute)
}

func TestCacheRoundTrip(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	product := catalog.ClinicalRef(1)

	_, ok := cache.Get(ctx, product, 10)
	require.False(t, ok)

	cache.Set(ctx, product, 10, 75.5)
	qty, ok := cache.Get(ctx, product, 10)
	require.True(t, ok)
	require.InDelta(t, 75.5, qty, 1e-9)

	// Keys are scoped per product and location.
	_, ok = cache.Get(ctx, product, 11)
	require.False(t, ok)
	_, ok = cache.Get(ctx, catalog.GeneralRef(1), 10)
	require.False(t, ok)
}

func TestCacheInvalidate(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	product := catalog.ClinicalRef(1)

	cache.Set(ctx, product, 10, 40)
	cache.Invalidate(ctx, product, 10)
	_, ok := cache.Get(ctx, product, 10)
	require.False(t, ok)
}

func TestCacheNilSafe(t *testing.T) {
	var cache *Cache
	_, ok := cache.Get(context.Background(), catalog.ClinicalRef(1), 10)
	require.False(t, ok)
	cache.Set(context.Background(), catalog.ClinicalRef(1), 10, 1)
	cache.Invalidate(context.Background(), catalog.ClinicalRef(1), 10)
}
