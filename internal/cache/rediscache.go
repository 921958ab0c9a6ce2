// Package cache provides the Redis-backed catalog page cache.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/course-voucher-engine/internal/domain/vrange"
)

// RangeCache stores resolved catalog pages in Redis with a TTL. Cache
// failures degrade to misses: the resolver then goes to the catalog.
type RangeCache struct {
	client *redis.Client
}

// NewRangeCache creates the cache over an established Redis client.
func NewRangeCache(client *redis.Client) *RangeCache {
	return &RangeCache{client: client}
}

// Get returns the cached page for key, or a miss.
func (c *RangeCache) Get(ctx context.Context, key string) ([]vrange.Course, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zctx.From(ctx).Warn("Range cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	var courses []vrange.Course
	if err := json.Unmarshal(raw, &courses); err != nil {
		zctx.From(ctx).Warn("Range cache entry malformed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return courses, true
}

// Set stores the page under key for ttl. Failures are logged and dropped;
// the next Get is simply a miss.
func (c *RangeCache) Set(ctx context.Context, key string, courses []vrange.Course, ttl time.Duration) {
	raw, err := json.Marshal(courses)
	if err != nil {
		zctx.From(ctx).Warn("Range cache entry not serializable", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		zctx.From(ctx).Warn("Range cache write failed", zap.String("key", key), zap.Error(err))
	}
}
