package slots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"homestyle/internal/model"
)

// SlotKey identifies one cached slot list. Generation changes whenever the
// stylist's schedule, time-off or bookings change; Pricing is the active
// pricing table fingerprint.
type SlotKey struct {
	StylistID  int64
	Generation int64
	Date       string
	Duration   int
	Pricing    string
}

// Cache stores computed slot lists.
type Cache interface {
	Generation(ctx context.Context, stylistID int64) (int64, error)
	Get(ctx context.Context, key SlotKey) ([]model.Slot, bool)
	Set(ctx context.Context, key SlotKey, slots []model.Slot)
	Invalidate(ctx context.Context, stylistID int64) error
}

// RedisCache keeps slot lists in Redis with a TTL. Invalidation bumps a
// per-stylist generation counter so stale entries are never read again and
// simply expire.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache constructs a cache; ttl <= 0 defaults to five minutes.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl, prefix: "homestyle"}
}

func (c *RedisCache) generationKey(stylistID int64) string {
	return fmt.Sprintf("%s:slots:gen:%d", c.prefix, stylistID)
}

func (c *RedisCache) slotKey(k SlotKey) string {
	return fmt.Sprintf("%s:slots:%d:%d:%s:%d:%s", c.prefix, k.StylistID, k.Generation, k.Date, k.Duration, k.Pricing)
}

func (c *RedisCache) Generation(ctx context.Context, stylistID int64) (int64, error) {
	gen, err := c.client.Get(ctx, c.generationKey(stylistID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisCache) Get(ctx context.Context, key SlotKey) ([]model.Slot, bool) {
	val, err := c.client.Get(ctx, c.slotKey(key)).Bytes()
	if err != nil {
		return nil, false
	}
	var slots []model.Slot
	if err := json.Unmarshal(val, &slots); err != nil {
		return nil, false
	}
	return slots, true
}

func (c *RedisCache) Set(ctx context.Context, key SlotKey, slots []model.Slot) {
	data, err := json.Marshal(slots)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.slotKey(key), data, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, stylistID int64) error {
	return c.client.Incr(ctx, c.generationKey(stylistID)).Err()
}
