package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/dexbotio/dexbot/internal/domain"
)

// TradeMode opens the configured position and then monitors it (and any
// positions restored from the snapshot) until shutdown.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	intent, strategy, err := a.tradeFromConfig()
	if err != nil {
		return fmt.Errorf("app: trade mode: %w", err)
	}

	pos, err := deps.Controller.OpenTrade(ctx, intent, strategy)
	if err != nil {
		return fmt.Errorf("app: open trade: %w", err)
	}
	a.logger.InfoContext(ctx, "position opened",
		slog.String("position_id", pos.ID),
		slog.String("token", pos.Token.Hex()),
		slog.String("direction", string(pos.Direction)),
		slog.Float64("entry_price", pos.EntryPrice),
	)

	return a.runLoops(ctx, deps)
}

// MonitorMode watches restored positions without opening new ones.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.runLoops(ctx, deps)
}

// runLoops starts the monitor, the optional price stream, and the optional
// archive loop, then blocks until the context is cancelled.
func (a *App) runLoops(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	if err := deps.Monitor.Start(ctx); err != nil {
		return fmt.Errorf("app: start monitor: %w", err)
	}
	g.Go(func() error {
		<-ctx.Done()
		deps.Monitor.Stop()
		return ctx.Err()
	})

	if deps.Stream != nil {
		g.Go(func() error {
			defer deps.Stream.Close()
			return deps.Stream.Run(ctx)
		})
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.archiveLoop(ctx, deps)
		})
	}

	return g.Wait()
}

// archiveLoop periodically moves aged closed positions to cold storage.
func (a *App) archiveLoop(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(a.cfg.Archive.Interval.Duration)
	defer ticker.Stop()

	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-retention)
			count, err := deps.Archiver.ArchivePositions(ctx, cutoff)
			if err != nil {
				a.logger.WarnContext(ctx, "archive pass failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			if count > 0 {
				a.logger.InfoContext(ctx, "archived closed positions",
					slog.Int64("count", count),
					slog.Time("cutoff", cutoff),
				)
			}
		}
	}
}

// tradeFromConfig builds the entry intent and exit strategy from the trade
// section of the configuration.
func (a *App) tradeFromConfig() (domain.TradeIntent, domain.ExitStrategy, error) {
	amount, ok := new(big.Int).SetString(a.cfg.Trade.AmountIn, 10)
	if !ok || amount.Sign() <= 0 {
		return domain.TradeIntent{}, domain.ExitStrategy{}, fmt.Errorf("invalid trade amount %q", a.cfg.Trade.AmountIn)
	}

	intent := domain.TradeIntent{
		Token:       common.HexToAddress(a.cfg.Trade.Token),
		Side:        domain.Side(a.cfg.Trade.Side),
		AmountIn:    amount,
		SlippageBps: a.cfg.Engine.SlippageBps,
	}
	strategy := domain.ExitStrategy{
		StopLossPrice:   a.cfg.Trade.StopLossPrice,
		TakeProfitPrice: a.cfg.Trade.TakeProfitPrice,
		MaxHoldHours:    a.cfg.Trade.MaxHoldHours,
	}
	if pct := a.cfg.Trade.TrailingStopPercent; pct > 0 {
		strategy.TrailingStopPercent = &pct
	}
	return intent, strategy, nil
}
