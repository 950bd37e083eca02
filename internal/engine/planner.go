package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dexbotio/dexbot/internal/domain"
)

// PlannerConfig bounds the plans a SwapPlanner produces.
type PlannerConfig struct {
	// DeadlineWindow is added to the current time to form the absolute
	// deadline the router must respect.
	DeadlineWindow time.Duration

	// MaxQuoteDeviationBps is the maximum tolerated deviation between the
	// quote-implied price and the secondary reference price, in basis
	// points. Zero disables the check.
	MaxQuoteDeviationBps int64
}

// DefaultPlannerConfig returns the standard planning bounds.
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		DeadlineWindow:       5 * time.Minute,
		MaxQuoteDeviationBps: 500,
	}
}

// SwapPlanner turns a trade intent and a router quote into a safely-bounded
// swap plan: minimum acceptable output from the slippage tolerance, an
// absolute deadline, and a defensive staleness check against a reference
// price feed.
type SwapPlanner struct {
	cfg       PlannerConfig
	reference domain.PriceFeed
	logger    *slog.Logger

	now func() time.Time
}

// NewSwapPlanner creates a SwapPlanner. The reference feed backs the
// quote-deviation check; it may be nil when MaxQuoteDeviationBps is 0.
func NewSwapPlanner(cfg PlannerConfig, reference domain.PriceFeed, logger *slog.Logger) *SwapPlanner {
	if cfg.DeadlineWindow <= 0 {
		cfg.DeadlineWindow = 5 * time.Minute
	}
	return &SwapPlanner{
		cfg:       cfg,
		reference: reference,
		logger:    logger.With(slog.String("component", "swap_planner")),
		now:       time.Now,
	}
}

// BuildPlan derives a SwapPlan from the intent and quote. The minimum
// output is computed with integer arithmetic in the token's smallest unit;
// fractional slippage tolerances are exact because they are expressed in
// basis points. Fails with ErrQuoteStale when the quote-implied price
// deviates too far from the reference feed, guarding against manipulated
// or zero quotes.
func (p *SwapPlanner) BuildPlan(ctx context.Context, intent domain.TradeIntent, quote domain.Quote) (domain.SwapPlan, error) {
	if intent.AmountIn == nil || intent.AmountIn.Sign() <= 0 {
		return domain.SwapPlan{}, fmt.Errorf("planner: amount must be positive")
	}
	if intent.SlippageBps < 0 || intent.SlippageBps >= 10_000 {
		return domain.SwapPlan{}, fmt.Errorf("planner: slippage %d bps out of range [0, 10000)", intent.SlippageBps)
	}
	if len(quote.Path) < 2 {
		return domain.SwapPlan{}, fmt.Errorf("planner: quote path must have at least two hops, got %d", len(quote.Path))
	}
	if quote.ExpectedOut == nil || quote.ExpectedOut.Sign() <= 0 {
		return domain.SwapPlan{}, fmt.Errorf("planner: %w: zero expected output", domain.ErrQuoteStale)
	}

	if err := p.checkQuoteDeviation(ctx, intent, quote); err != nil {
		return domain.SwapPlan{}, err
	}

	path := make([]common.Address, len(quote.Path))
	copy(path, quote.Path)

	return domain.SwapPlan{
		Path:         path,
		AmountIn:     new(big.Int).Set(intent.AmountIn),
		AmountOutMin: domain.AmountOutMin(quote.ExpectedOut, intent.SlippageBps),
		Deadline:     p.now().Add(p.cfg.DeadlineWindow),
	}, nil
}

// checkQuoteDeviation compares the quote-implied price with the reference
// feed. A reference feed outage is logged and the check skipped: the
// defensive check must not take down trading on its own.
func (p *SwapPlanner) checkQuoteDeviation(ctx context.Context, intent domain.TradeIntent, quote domain.Quote) error {
	if p.cfg.MaxQuoteDeviationBps <= 0 || p.reference == nil {
		return nil
	}

	refPrice, err := p.reference.CurrentPrice(ctx, intent.Token)
	if err != nil {
		p.logger.WarnContext(ctx, "reference price unavailable, skipping deviation check",
			slog.String("token", intent.Token.Hex()),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if refPrice <= 0 {
		return nil
	}

	implied := quote.ImpliedPrice(intent.Side)
	if implied <= 0 {
		return fmt.Errorf("planner: %w: quote implies non-positive price", domain.ErrQuoteStale)
	}

	deviationBps := math.Abs(implied-refPrice) / refPrice * 10_000
	if deviationBps > float64(p.cfg.MaxQuoteDeviationBps) {
		return fmt.Errorf("planner: %w: implied %.8g vs reference %.8g (%.0f bps, max %d)",
			domain.ErrQuoteStale, implied, refPrice, deviationBps, p.cfg.MaxQuoteDeviationBps)
	}
	return nil
}
