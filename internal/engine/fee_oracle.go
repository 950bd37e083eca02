// Package engine implements the swap execution and position lifecycle
// engine: fee quoting, swap planning, bounded-retry submission, exit
// evaluation, and the recurring price monitor that drives closes.
package engine

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/dexbotio/dexbot/internal/domain"
)

// FeeOracle quotes a bounded network fee rate. It retains no state between
// calls; the ceiling clamp protects against fee spikes making every swap
// uneconomical.
type FeeOracle struct {
	feed    domain.GasFeed
	ceiling *big.Int // nil disables the clamp
	logger  *slog.Logger
}

// NewFeeOracle creates a FeeOracle reading from feed. A nil ceiling
// disables clamping.
func NewFeeOracle(feed domain.GasFeed, ceiling *big.Int, logger *slog.Logger) *FeeOracle {
	return &FeeOracle{
		feed:    feed,
		ceiling: ceiling,
		logger:  logger.With(slog.String("component", "fee_oracle")),
	}
}

// QuoteFeeRate returns the current network fee rate, clamped to the
// configured ceiling. An unreachable feed yields a NetworkError; callers
// fall back to their fixed default rate rather than propagate, so fee
// quoting never blocks trading.
func (o *FeeOracle) QuoteFeeRate(ctx context.Context) (*big.Int, error) {
	price, err := o.feed.SuggestGasPrice(ctx)
	if err != nil {
		return nil, &domain.NetworkError{Op: "gas price quote", Err: err}
	}
	if o.ceiling != nil && price.Cmp(o.ceiling) > 0 {
		o.logger.WarnContext(ctx, "fee rate above ceiling, clamping",
			slog.String("observed", price.String()),
			slog.String("ceiling", o.ceiling.String()),
		)
		return new(big.Int).Set(o.ceiling), nil
	}
	return price, nil
}
