package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/dexbotio/dexbot/internal/domain"
)

// ControllerConfig holds the lifecycle controller's trading parameters.
type ControllerConfig struct {
	// BaseToken is the quote-currency leg of every swap path (e.g. WETH).
	BaseToken common.Address

	// CloseSlippageBps is the slippage tolerance applied to closing swaps.
	CloseSlippageBps int64

	// DefaultGasPrice is the fixed fallback fee rate used when the fee
	// oracle is unreachable.
	DefaultGasPrice *big.Int
}

// Controller orchestrates position open/close transitions. It delegates
// plan computation to the SwapPlanner, network interaction to the
// TransactionSubmitter, and state ownership to the PositionStore; realized
// outcomes are recorded into the store and reported through the audit log
// and notifier.
type Controller struct {
	cfg       ControllerConfig
	store     domain.PositionStore
	router    domain.Router
	planner   *SwapPlanner
	submitter *TransactionSubmitter
	feeOracle *FeeOracle
	notifier  domain.Notifier
	audit     domain.AuditStore
	logger    *slog.Logger

	now func() time.Time
}

// NewController creates a Controller. The notifier and audit store may be
// nil; both are best-effort reporting channels.
func NewController(
	cfg ControllerConfig,
	store domain.PositionStore,
	router domain.Router,
	planner *SwapPlanner,
	submitter *TransactionSubmitter,
	feeOracle *FeeOracle,
	notifier domain.Notifier,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Controller {
	if cfg.CloseSlippageBps <= 0 {
		cfg.CloseSlippageBps = 100
	}
	return &Controller{
		cfg:       cfg,
		store:     store,
		router:    router,
		planner:   planner,
		submitter: submitter,
		feeOracle: feeOracle,
		notifier:  notifier,
		audit:     audit,
		logger:    logger.With(slog.String("component", "lifecycle")),
		now:       time.Now,
	}
}

// OpenTrade executes the intent as an entry swap and records the resulting
// position with the given exit strategy. Any failure propagates to the
// caller and no partial position is recorded.
func (c *Controller) OpenTrade(ctx context.Context, intent domain.TradeIntent, strategy domain.ExitStrategy) (domain.Position, error) {
	if err := strategy.Validate(); err != nil {
		return domain.Position{}, fmt.Errorf("lifecycle: %w", err)
	}
	if intent.ID == "" {
		intent.ID = uuid.New().String()
	}

	quote, err := c.quote(ctx, intent)
	if err != nil {
		return domain.Position{}, err
	}

	plan, err := c.planner.BuildPlan(ctx, intent, quote)
	if err != nil {
		return domain.Position{}, fmt.Errorf("lifecycle: build entry plan: %w", err)
	}
	plan.GasPrice = c.feeRate(ctx)

	result, err := c.submitter.Submit(ctx, plan)
	if err != nil {
		return domain.Position{}, fmt.Errorf("lifecycle: entry swap for intent %s: %w", intent.ID, err)
	}

	pos, err := c.store.Open(ctx, openData(intent, quote, result), strategy)
	if err != nil {
		return domain.Position{}, fmt.Errorf("lifecycle: record position: %w", err)
	}

	c.report(ctx, "position_opened", "Position opened",
		fmt.Sprintf("%s %s %g @ %.8g", pos.Direction, pos.Token.Hex(), pos.EntryAmount, pos.EntryPrice),
		map[string]any{
			"position_id": pos.ID,
			"intent_id":   intent.ID,
			"direction":   string(pos.Direction),
			"token":       pos.Token.Hex(),
			"entry_price": pos.EntryPrice,
			"amount":      pos.EntryAmount,
			"tx_hash":     result.TxHash.Hex(),
		})

	c.logger.InfoContext(ctx, "position opened",
		slog.String("position_id", pos.ID),
		slog.String("direction", string(pos.Direction)),
		slog.String("token", pos.Token.Hex()),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.String("tx_hash", result.TxHash.Hex()),
	)
	return pos, nil
}

// CheckPosition runs one monitoring step for a single open position:
// refresh runtime fields, ratchet the trailing stop, evaluate exit
// conditions in priority order, and close on the first match. At most one
// close is attempted per call; a failed close leaves the position open for
// the next tick.
func (c *Controller) CheckPosition(ctx context.Context, id string, price float64) error {
	var ratcheted bool
	pos, err := c.store.Update(ctx, id, func(p *domain.Position) {
		// A closed record's price and PnL fields are final.
		if p.Status != domain.PositionStatusOpen {
			return
		}
		p.CurrentPrice = price
		p.UnrealizedPnL = p.PnL(price)
		p.UnrealizedPnLPercent = p.PnLPercent(price)
		ratcheted = ratchetTrailingStop(p, price)
	})
	if err != nil {
		return fmt.Errorf("lifecycle: refresh position %s: %w", id, err)
	}
	if ratcheted {
		c.logger.DebugContext(ctx, "trailing stop ratcheted",
			slog.String("position_id", id),
			slog.Float64("stop_loss", pos.StopLossPrice),
		)
	}
	if pos.Status != domain.PositionStatusOpen {
		return nil
	}

	sig := evaluateExit(pos, price, c.now())
	if sig == nil {
		return nil
	}

	c.report(ctx, "exit_triggered", "Exit triggered",
		fmt.Sprintf("position %s: %s @ %.8g", pos.ID, sig.Reason, sig.TriggerPrice),
		map[string]any{
			"position_id":   pos.ID,
			"reason":        string(sig.Reason),
			"trigger_price": sig.TriggerPrice,
		})

	return c.closePosition(ctx, pos, *sig)
}

// closePosition executes the reverse-direction swap for the position's
// entry amount and, on success, records the close.
func (c *Controller) closePosition(ctx context.Context, pos domain.Position, sig domain.ExitSignal) error {
	intent := closeIntent(pos, c.cfg.CloseSlippageBps)

	quote, err := c.quote(ctx, intent)
	if err != nil {
		return fmt.Errorf("lifecycle: close quote for %s: %w", pos.ID, err)
	}

	plan, err := c.planner.BuildPlan(ctx, intent, quote)
	if err != nil {
		return fmt.Errorf("lifecycle: build close plan for %s: %w", pos.ID, err)
	}
	plan.GasPrice = c.feeRate(ctx)

	result, err := c.submitter.Submit(ctx, plan)
	if err != nil {
		return fmt.Errorf("lifecycle: close swap for %s: %w", pos.ID, err)
	}

	closed, err := c.store.Close(ctx, pos.ID,
		domain.CloseData{Price: sig.TriggerPrice, TxHash: result.TxHash}, sig.Reason)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyClosed) {
			c.logger.WarnContext(ctx, "close raced an earlier close, ignoring",
				slog.String("position_id", pos.ID),
			)
			return nil
		}
		return fmt.Errorf("lifecycle: record close for %s: %w", pos.ID, err)
	}

	realized := 0.0
	if closed.RealizedPnL != nil {
		realized = *closed.RealizedPnL
	}
	c.report(ctx, "position_closed", "Position closed",
		fmt.Sprintf("position %s: %s @ %.8g, pnl %.6g", closed.ID, sig.Reason, sig.TriggerPrice, realized),
		map[string]any{
			"position_id":  closed.ID,
			"reason":       string(sig.Reason),
			"close_price":  sig.TriggerPrice,
			"realized_pnl": realized,
			"tx_hash":      result.TxHash.Hex(),
		})

	c.logger.InfoContext(ctx, "position closed",
		slog.String("position_id", closed.ID),
		slog.String("reason", string(sig.Reason)),
		slog.Float64("close_price", sig.TriggerPrice),
		slog.Float64("realized_pnl", realized),
	)
	return nil
}

// quote asks the router for the expected output of the intent's swap path.
func (c *Controller) quote(ctx context.Context, intent domain.TradeIntent) (domain.Quote, error) {
	path := swapPath(intent.Side, c.cfg.BaseToken, intent.Token)
	expected, err := c.router.QuoteOutput(ctx, path, intent.AmountIn)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("lifecycle: quote %s %s: %w", intent.Side, intent.Token.Hex(), err)
	}
	return domain.Quote{
		Path:        path,
		AmountIn:    new(big.Int).Set(intent.AmountIn),
		ExpectedOut: expected,
	}, nil
}

// feeRate quotes the current fee rate, falling back to the configured
// default when the oracle is unreachable.
func (c *Controller) feeRate(ctx context.Context) *big.Int {
	rate, err := c.feeOracle.QuoteFeeRate(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "fee oracle unreachable, using default rate",
			slog.String("error", err.Error()),
		)
		return new(big.Int).Set(c.cfg.DefaultGasPrice)
	}
	return rate
}

// report delivers an event to the notifier and audit log. Both are
// fire-and-forget; failures are logged and swallowed.
func (c *Controller) report(ctx context.Context, event, title, message string, detail map[string]any) {
	if c.notifier != nil {
		if err := c.notifier.Notify(ctx, event, title, message); err != nil {
			c.logger.WarnContext(ctx, "notification failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
	if c.audit != nil {
		if err := c.audit.Log(ctx, event, detail); err != nil {
			c.logger.WarnContext(ctx, "audit log failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}

// swapPath builds the two-hop path for an intent: buys spend the base
// token, sells spend the traded token.
func swapPath(side domain.Side, base, token common.Address) []common.Address {
	if side == domain.SideBuy {
		return []common.Address{base, token}
	}
	return []common.Address{token, base}
}

// openData maps an executed entry swap onto the position's immutable entry
// fields. A buy holds the tokens received (long); a sell holds the base
// proceeds against the tokens sold (short), so the close spends those
// proceeds buying back.
func openData(intent domain.TradeIntent, quote domain.Quote, result domain.SubmissionResult) domain.OpenData {
	data := domain.OpenData{
		Token:       intent.Token,
		EntryPrice:  quote.ImpliedPrice(intent.Side),
		EntryTxHash: result.TxHash,
	}
	if intent.Side == domain.SideBuy {
		data.Direction = domain.DirectionLong
		data.EntryAmountRaw = new(big.Int).Set(quote.ExpectedOut)
		data.EntryAmount, _ = new(big.Float).SetInt(quote.ExpectedOut).Float64()
	} else {
		data.Direction = domain.DirectionShort
		data.EntryAmountRaw = new(big.Int).Set(quote.ExpectedOut)
		data.EntryAmount, _ = new(big.Float).SetInt(intent.AmountIn).Float64()
	}
	return data
}

// closeIntent builds the reverse-direction intent for the position's entry
// amount.
func closeIntent(pos domain.Position, slippageBps int64) domain.TradeIntent {
	side := domain.SideSell
	if pos.Direction == domain.DirectionShort {
		side = domain.SideBuy
	}
	return domain.TradeIntent{
		ID:          uuid.New().String(),
		Token:       pos.Token,
		Side:        side,
		AmountIn:    new(big.Int).Set(pos.EntryAmountRaw),
		SlippageBps: slippageBps,
	}
}

// ratchetTrailingStop moves the stop-loss one-directionally toward the
// current price: a long's stop may only rise, a short's only fall. Returns
// true when the stop moved.
func ratchetTrailingStop(p *domain.Position, price float64) bool {
	if p.TrailingStopPercent == nil {
		return false
	}
	pct := *p.TrailingStopPercent
	if p.Direction == domain.DirectionShort {
		candidate := price * (1 + pct/100)
		if candidate < p.StopLossPrice {
			p.StopLossPrice = candidate
			return true
		}
		return false
	}
	candidate := price * (1 - pct/100)
	if candidate > p.StopLossPrice {
		p.StopLossPrice = candidate
		return true
	}
	return false
}

// evaluateExit checks exit conditions in fixed priority: stop-loss, then
// take-profit, then max hold time. The first match wins.
func evaluateExit(p domain.Position, price float64, now time.Time) *domain.ExitSignal {
	if p.Direction == domain.DirectionShort {
		if price >= p.StopLossPrice {
			return &domain.ExitSignal{Reason: domain.ExitReasonStopLoss, TriggerPrice: price}
		}
		if price <= p.TakeProfitPrice {
			return &domain.ExitSignal{Reason: domain.ExitReasonTakeProfit, TriggerPrice: price}
		}
	} else {
		if price <= p.StopLossPrice {
			return &domain.ExitSignal{Reason: domain.ExitReasonStopLoss, TriggerPrice: price}
		}
		if price >= p.TakeProfitPrice {
			return &domain.ExitSignal{Reason: domain.ExitReasonTakeProfit, TriggerPrice: price}
		}
	}
	if p.HoursHeld(now) >= p.MaxHoldHours {
		return &domain.ExitSignal{Reason: domain.ExitReasonTimeExit, TriggerPrice: price}
	}
	return nil
}
