package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/peregrinehq/stacks/pkg/config"
)

// PermissionCache is a two-tier cache for resolved permission sets: an
// in-process expirable LRU in front of an optional shared Redis tier.
// Both tiers carry the same TTL so a stale entry ages out everywhere at
// once.
type PermissionCache struct {
	local *lru.LRU[int64, *ResolvedPermissions]
	redis *redis.Client
	ttl   time.Duration
}

// NewPermissionCache builds the cache from config. When RedisURL is
// empty the cache is local-only.
func NewPermissionCache(cfg config.CacheConfig) (*PermissionCache, error) {
	size := cfg.L1Size
	if size <= 0 {
		size = 1024
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}

	cache := &PermissionCache{
		local: lru.NewLRU[int64, *ResolvedPermissions](size, nil, ttl),
		ttl:   ttl,
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		opts.DialTimeout = 5 * time.Second
		opts.ReadTimeout = 3 * time.Second
		opts.WriteTimeout = 3 * time.Second
		cache.redis = redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cache.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	return cache, nil
}

// NewLocalPermissionCache builds a local-only cache. Used in tests and
// when no Redis tier is configured.
func NewLocalPermissionCache(size int, ttl time.Duration) *PermissionCache {
	return &PermissionCache{
		local: lru.NewLRU[int64, *ResolvedPermissions](size, nil, ttl),
		ttl:   ttl,
	}
}

func permissionCacheKey(userID int64) string {
	return fmt.Sprintf("perms:%d", userID)
}

// Get returns a cached permission set. A Redis hit backfills the local
// tier; Redis errors are treated as misses since the store is the
// source of truth anyway.
func (c *PermissionCache) Get(ctx context.Context, userID int64) (*ResolvedPermissions, bool) {
	if resolved, ok := c.local.Get(userID); ok {
		return resolved, true
	}

	if c.redis == nil {
		return nil, false
	}

	data, err := c.redis.Get(ctx, permissionCacheKey(userID)).Result()
	if err == redis.Nil {
		return nil, false
	} else if err != nil {
		return nil, false
	}

	var resolved ResolvedPermissions
	if err := json.Unmarshal([]byte(data), &resolved); err != nil {
		// Corrupt entry; drop it.
		c.redis.Del(ctx, permissionCacheKey(userID))
		return nil, false
	}

	c.local.Add(userID, &resolved)
	return &resolved, true
}

// Set stores a permission set in both tiers
func (c *PermissionCache) Set(ctx context.Context, resolved *ResolvedPermissions) {
	c.local.Add(resolved.UserID, resolved)

	if c.redis == nil {
		return
	}
	data, err := json.Marshal(resolved)
	if err != nil {
		return
	}
	c.redis.Set(ctx, permissionCacheKey(resolved.UserID), data, c.ttl)
}

// Delete removes a user's entry from both tiers
func (c *PermissionCache) Delete(ctx context.Context, userID int64) error {
	c.local.Remove(userID)

	if c.redis == nil {
		return nil
	}
	if err := c.redis.Del(ctx, permissionCacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// RedisClient exposes the Redis tier for health checks. Nil when the
// cache is local-only.
func (c *PermissionCache) RedisClient() *redis.Client {
	return c.redis
}

// Close releases the Redis connection if one exists
func (c *PermissionCache) Close() error {
	c.local.Purge()
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}
