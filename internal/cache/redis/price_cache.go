package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/dexbotio/dexbot/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each token's
// price lives at key "price:{token}" with fields "price" and "ts" (Unix
// nanoseconds). Entries expire after the configured TTL so a dead feed
// surfaces as a cache miss rather than a frozen price.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. A zero ttl
// disables expiry.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(token common.Address) string {
	return "price:" + strings.ToLower(token.Hex())
}

// SetPrice stores the latest observation for a token.
func (pc *PriceCache) SetPrice(ctx context.Context, token common.Address, price float64, ts time.Time) error {
	key := priceKey(token)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", token.Hex(), err)
	}
	return nil
}

// GetPrice retrieves the latest observation for a token. A missing or
// expired key is reported as domain.ErrPriceUnavailable.
func (pc *PriceCache) GetPrice(ctx context.Context, token common.Address) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(token)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", token.Hex(), err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, fmt.Errorf("redis: %s: %w", token.Hex(), domain.ErrPriceUnavailable)
	}

	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("redis: %s: %w", token.Hex(), domain.ErrPriceUnavailable)
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s: %w", token.Hex(), err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("redis: %s: %w", token.Hex(), domain.ErrPriceUnavailable)
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", token.Hex(), err)
	}

	return price, time.Unix(0, tsNano), nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
