package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dexbotio/dexbot/internal/domain"
)

// CachedPriceFeed fronts a live feed with the price cache. Lookups serve
// from cache while the entry is younger than maxAge; otherwise they fall
// through to the live feed and write the result back.
type CachedPriceFeed struct {
	cache  domain.PriceCache
	live   domain.PriceFeed
	maxAge time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewCachedPriceFeed wraps live with cache. maxAge must be positive.
func NewCachedPriceFeed(cache domain.PriceCache, live domain.PriceFeed, maxAge time.Duration, logger *slog.Logger) *CachedPriceFeed {
	return &CachedPriceFeed{
		cache:  cache,
		live:   live,
		maxAge: maxAge,
		logger: logger.With(slog.String("component", "cached_price_feed")),
		now:    time.Now,
	}
}

// CurrentPrice returns a cached price when fresh, or the live price
// otherwise. A cache read failure is logged and treated as a miss; a cache
// write-back failure is logged and the live price still returned.
func (f *CachedPriceFeed) CurrentPrice(ctx context.Context, token common.Address) (float64, error) {
	price, ts, err := f.cache.GetPrice(ctx, token)
	if err == nil && f.now().Sub(ts) <= f.maxAge {
		return price, nil
	}
	if err != nil && !errors.Is(err, domain.ErrPriceUnavailable) {
		f.logger.Warn("cache read failed, falling through to live feed",
			slog.String("token", token.Hex()),
			slog.String("error", err.Error()),
		)
	}

	live, err := f.live.CurrentPrice(ctx, token)
	if err != nil {
		return 0, err
	}
	if err := f.cache.SetPrice(ctx, token, live, f.now().UTC()); err != nil {
		f.logger.Warn("cache write-back failed",
			slog.String("token", token.Hex()),
			slog.String("error", err.Error()),
		)
	}
	return live, nil
}

var _ domain.PriceFeed = (*CachedPriceFeed)(nil)
