package products

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const conversionKeyPrefix = "conversions:"

// ConversionCache is a read-through redis cache for per-product conversion
// tables. It serves display and availability paths only; ledger transactions
// always read factors from Postgres under lock.
type ConversionCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewConversionCache(client *redis.Client, ttl time.Duration) *ConversionCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &ConversionCache{client: client, ttl: ttl}
}

// Get returns the cached table, or (nil, false) on miss or any redis error.
func (c *ConversionCache) Get(ctx context.Context, productID int64) ([]Conversion, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, c.key(productID)).Bytes()
	if errors.Is(err, redis.Nil) || err != nil {
		return nil, false
	}
	var convs []Conversion
	if err := json.Unmarshal(raw, &convs); err != nil {
		return nil, false
	}
	return convs, true
}

// Set stores the table with the cache TTL. Errors are returned for callers
// that care (warmup); the read path ignores them.
func (c *ConversionCache) Set(ctx context.Context, productID int64, convs []Conversion) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(convs)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(productID), raw, c.ttl).Err()
}

// Invalidate drops the cached table after a conversion write.
func (c *ConversionCache) Invalidate(ctx context.Context, productID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, c.key(productID)).Err()
}

func (c *ConversionCache) key(productID int64) string {
	return fmt.Sprintf("%s%d", conversionKeyPrefix, productID)
}
