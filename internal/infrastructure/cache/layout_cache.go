// Package cache provides the Redis read-through cache for floor layouts.
// Layouts change only when shelving is rebuilt, but the route optimizer reads
// them on every optimization pass, so they cache aggressively.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"wavepick/internal/core/id"
	"wavepick/internal/domain/layout"
	"wavepick/pkg/logger"
)

const defaultLayoutTTL = 30 * time.Minute

// kv is the slice of the Redis API the cache uses. *redis.Client satisfies it.
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// LayoutSource loads layouts on cache miss. layout.Repository satisfies it.
type LayoutSource interface {
	GetFloorLayout(ctx context.Context, floorID id.ID) (layout.FloorLayout, error)
}

// LayoutCache is a read-through cache for floor layouts. Redis being down
// degrades to direct repository reads, never to an error.
type LayoutCache struct {
	client kv
	source LayoutSource
	ttl    time.Duration
}

// NewLayoutCache creates a layout cache. A zero ttl selects the default.
func NewLayoutCache(client *redis.Client, source LayoutSource, ttl time.Duration) *LayoutCache {
	return newLayoutCache(client, source, ttl)
}

func newLayoutCache(client kv, source LayoutSource, ttl time.Duration) *LayoutCache {
	if ttl <= 0 {
		ttl = defaultLayoutTTL
	}
	return &LayoutCache{client: client, source: source, ttl: ttl}
}

func layoutKey(floorID id.ID) string {
	return "layout:floor:" + floorID.String()
}

// GetFloorLayout returns the cached layout, loading and caching it on miss.
func (c *LayoutCache) GetFloorLayout(ctx context.Context, floorID id.ID) (layout.FloorLayout, error) {
	key := layoutKey(floorID)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var fl layout.FloorLayout
		if err := json.Unmarshal(raw, &fl); err == nil {
			return fl, nil
		}
		// Corrupt entry: drop it and fall through to the source.
		logger.Warn(ctx, "dropping corrupt layout cache entry", "floor_id", floorID)
		c.client.Del(ctx, key)
	case !errors.Is(err, redis.Nil):
		logger.Warn(ctx, "layout cache read failed, falling back to repository",
			"floor_id", floorID, "error", err)
	}

	fl, err := c.source.GetFloorLayout(ctx, floorID)
	if err != nil {
		return layout.FloorLayout{}, err
	}

	encoded, err := json.Marshal(fl)
	if err != nil {
		return layout.FloorLayout{}, fmt.Errorf("encode layout: %w", err)
	}
	if err := c.client.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
		logger.Warn(ctx, "layout cache write failed", "floor_id", floorID, "error", err)
	}
	return fl, nil
}

// Invalidate drops the cached layout for a floor. Layout admin tooling calls
// this after geometry edits.
func (c *LayoutCache) Invalidate(ctx context.Context, floorID id.ID) error {
	return c.client.Del(ctx, layoutKey(floorID)).Err()
}
