package identity

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peregrinehq/stacks/pkg/config"
)

func newRedisCache(t *testing.T) (*PermissionCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	cache, err := NewPermissionCache(config.CacheConfig{
		L1Size:   16,
		TTL:      time.Minute,
		RedisURL: "redis://" + mr.Addr(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache, mr
}

func testResolved(userID int64) *ResolvedPermissions {
	return &ResolvedPermissions{
		UserID:      userID,
		Roles:       []string{"editors"},
		Permissions: map[PermissionName]bool{PermDatasetsView: true},
	}
}

func TestPermissionCache_LocalOnly(t *testing.T) {
	cache := NewLocalPermissionCache(16, time.Minute)
	defer cache.Close()

	ctx := context.Background()

	_, ok := cache.Get(ctx, 10)
	assert.False(t, ok)

	cache.Set(ctx, testResolved(10))

	resolved, ok := cache.Get(ctx, 10)
	require.True(t, ok)
	assert.Equal(t, int64(10), resolved.UserID)
	assert.True(t, resolved.Has(PermDatasetsView))

	require.NoError(t, cache.Delete(ctx, 10))
	_, ok = cache.Get(ctx, 10)
	assert.False(t, ok)
}

func TestPermissionCache_RedisTier(t *testing.T) {
	ctx := context.Background()

	t.Run("set populates both tiers", func(t *testing.T) {
		cache, mr := newRedisCache(t)

		cache.Set(ctx, testResolved(10))

		assert.True(t, mr.Exists("perms:10"))
		resolved, ok := cache.Get(ctx, 10)
		require.True(t, ok)
		assert.Equal(t, int64(10), resolved.UserID)
	})

	t.Run("redis hit backfills local tier", func(t *testing.T) {
		cache, _ := newRedisCache(t)

		cache.Set(ctx, testResolved(10))
		// Drop the local entry; the next Get must come from Redis.
		cache.local.Remove(10)

		resolved, ok := cache.Get(ctx, 10)
		require.True(t, ok)
		assert.True(t, resolved.Has(PermDatasetsView))

		_, ok = cache.local.Get(10)
		assert.True(t, ok, "expected redis hit to backfill local tier")
	})

	t.Run("delete clears both tiers", func(t *testing.T) {
		cache, mr := newRedisCache(t)

		cache.Set(ctx, testResolved(10))
		require.NoError(t, cache.Delete(ctx, 10))

		assert.False(t, mr.Exists("perms:10"))
		_, ok := cache.Get(ctx, 10)
		assert.False(t, ok)
	})

	t.Run("corrupt redis entry treated as miss", func(t *testing.T) {
		cache, mr := newRedisCache(t)

		require.NoError(t, mr.Set("perms:10", "not json"))

		_, ok := cache.Get(ctx, 10)
		assert.False(t, ok)
	})

	t.Run("expired entry is a miss", func(t *testing.T) {
		cache, mr := newRedisCache(t)

		cache.Set(ctx, testResolved(10))
		cache.local.Remove(10)
		mr.FastForward(2 * time.Minute)

		_, ok := cache.Get(ctx, 10)
		assert.False(t, ok)
	})
}

func TestPermissionCache_InvalidRedisURL(t *testing.T) {
	_, err := NewPermissionCache(config.CacheConfig{
		L1Size:   16,
		TTL:      time.Minute,
		RedisURL: "://bad",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redis URL")
}
