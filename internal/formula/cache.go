package formula

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// WeightCache caches derived formula weights in Redis. Weight is read on
// every product-batch conversion but only changes when a formula row is
// written, so cached values are invalidated on write and capped by a TTL.
// A nil client degrades to calling the loader directly.
type WeightCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewWeightCache instantiates the cache helper.
func NewWeightCache(client *redis.Client, ttl time.Duration) *WeightCache {
	return &WeightCache{client: client, ttl: ttl}
}

func weightKey(productID int64) string {
	return fmt.Sprintf("formula:weight:%d", productID)
}

// Fetch loads a cached weight or populates it using the loader. Concurrent
// misses for the same product share one loader call.
func (c *WeightCache) Fetch(ctx context.Context, productID int64, loader func(context.Context) (float64, error)) (float64, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key := weightKey(productID)
	raw, err := c.client.Get(ctx, key).Result()
	if err == nil {
		if weight, parseErr := strconv.ParseFloat(raw, 64); parseErr == nil {
			return weight, nil
		}
	} else if err != redis.Nil {
		return 0, err
	}

	value, err, _ := c.group.Do(key, func() (any, error) {
		weight, err := loader(ctx)
		if err != nil {
			return 0.0, err
		}
		if err := c.client.Set(ctx, key, strconv.FormatFloat(weight, 'g', -1, 64), c.ttl).Err(); err != nil {
			return 0.0, err
		}
		return weight, nil
	})
	if err != nil {
		return 0, err
	}
	return value.(float64), nil
}

// Invalidate drops the cached weight after a formula row write.
func (c *WeightCache) Invalidate(ctx context.Context, productID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, weightKey(productID)).Err()
}
