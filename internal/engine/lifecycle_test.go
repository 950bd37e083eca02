package engine

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexbotio/dexbot/internal/domain"
	"github.com/dexbotio/dexbot/internal/store"
)

type lifecycleHarness struct {
	ctrl   *Controller
	router *fakeRouter
	book   *store.PositionBook
	audit  *recordingAudit
	clock  *fixedClock
}

func newLifecycleHarness(t *testing.T) *lifecycleHarness {
	t.Helper()
	logger := testLogger()
	router := &fakeRouter{quoteOut: big.NewInt(1_000_000)}
	book := store.NewPositionBook(nil, logger)
	audit := &recordingAudit{}
	clock := &fixedClock{t: time.Now()}

	planner := NewSwapPlanner(PlannerConfig{DeadlineWindow: time.Minute}, nil, logger)
	submitter := NewTransactionSubmitter(router, SubmitterConfig{
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}, logger)
	oracle := NewFeeOracle(fakeGasFeed{price: big.NewInt(20_000_000_000)}, nil, logger)

	ctrl := NewController(ControllerConfig{
		BaseToken:        testBase,
		CloseSlippageBps: 100,
		DefaultGasPrice:  big.NewInt(10_000_000_000),
	}, book, router, planner, submitter, oracle, nil, audit, logger)
	ctrl.now = clock.now

	return &lifecycleHarness{ctrl: ctrl, router: router, book: book, audit: audit, clock: clock}
}

func defaultStrategy() domain.ExitStrategy {
	return domain.ExitStrategy{
		StopLossPrice:   0.0007,
		TakeProfitPrice: 0.0016,
		MaxHoldHours:    24,
	}
}

// openLong spends 1000 base units for 1_000_000 tokens, an entry price of
// 0.001.
func (h *lifecycleHarness) openLong(t *testing.T, strategy domain.ExitStrategy) domain.Position {
	t.Helper()
	pos, err := h.ctrl.OpenTrade(context.Background(), domain.TradeIntent{
		Token:       testToken,
		Side:        domain.SideBuy,
		AmountIn:    big.NewInt(1000),
		SlippageBps: 50,
	}, strategy)
	require.NoError(t, err)
	return pos
}

func TestOpenTradeLong(t *testing.T) {
	h := newLifecycleHarness(t)

	pos := h.openLong(t, defaultStrategy())

	assert.Equal(t, domain.DirectionLong, pos.Direction)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.InDelta(t, 0.001, pos.EntryPrice, 1e-12)
	assert.Equal(t, int64(1_000_000), pos.EntryAmountRaw.Int64())
	assert.InDelta(t, 1_000_000, pos.EntryAmount, 1e-9)
	assert.Equal(t, []common.Address{testBase, testToken}, h.router.lastPath)
	assert.Equal(t, []string{"position_opened"}, h.audit.recorded())
}

func TestOpenTradeShort(t *testing.T) {
	h := newLifecycleHarness(t)
	h.router.quoteOut = big.NewInt(700) // base proceeds for the tokens sold

	pos, err := h.ctrl.OpenTrade(context.Background(), domain.TradeIntent{
		Token:       testToken,
		Side:        domain.SideSell,
		AmountIn:    big.NewInt(1_000_000),
		SlippageBps: 50,
	}, domain.ExitStrategy{StopLossPrice: 0.001, TakeProfitPrice: 0.0004, MaxHoldHours: 24})
	require.NoError(t, err)

	assert.Equal(t, domain.DirectionShort, pos.Direction)
	assert.InDelta(t, 0.0007, pos.EntryPrice, 1e-12)
	assert.Equal(t, int64(700), pos.EntryAmountRaw.Int64())
	assert.InDelta(t, 1_000_000, pos.EntryAmount, 1e-9)
	assert.Equal(t, []common.Address{testToken, testBase}, h.router.lastPath)
}

func TestOpenTradeRejectsInvalidStrategy(t *testing.T) {
	h := newLifecycleHarness(t)

	_, err := h.ctrl.OpenTrade(context.Background(), domain.TradeIntent{
		Token:    testToken,
		Side:     domain.SideBuy,
		AmountIn: big.NewInt(1000),
	}, domain.ExitStrategy{})
	require.Error(t, err)
	assert.Equal(t, 0, h.router.calls())
}

func TestOpenTradeEntryFailureRecordsNothing(t *testing.T) {
	h := newLifecycleHarness(t)
	h.router.setExecErrs(domain.ErrInsufficientFunds)

	_, err := h.ctrl.OpenTrade(context.Background(), domain.TradeIntent{
		Token:       testToken,
		Side:        domain.SideBuy,
		AmountIn:    big.NewInt(1000),
		SlippageBps: 50,
	}, defaultStrategy())
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	open, err := h.book.ListOpen(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestOpenTradeFallsBackToDefaultGasPrice(t *testing.T) {
	h := newLifecycleHarness(t)
	logger := testLogger()
	h.ctrl.feeOracle = NewFeeOracle(fakeGasFeed{err: errors.New("rpc down")}, nil, logger)

	h.openLong(t, defaultStrategy())

	assert.Equal(t, int64(10_000_000_000), h.router.lastPlan.GasPrice.Int64())
}

func TestCheckPositionRefreshesWithoutExit(t *testing.T) {
	h := newLifecycleHarness(t)
	pos := h.openLong(t, defaultStrategy())

	require.NoError(t, h.ctrl.CheckPosition(context.Background(), pos.ID, 0.0008))

	got, err := h.book.Get(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, got.Status)
	assert.InDelta(t, 0.0008, got.CurrentPrice, 1e-12)
	assert.InDelta(t, -200, got.UnrealizedPnL, 1e-6)
	assert.InDelta(t, -20, got.UnrealizedPnLPercent, 1e-6)
}

func TestCheckPositionStopLoss(t *testing.T) {
	h := newLifecycleHarness(t)
	pos := h.openLong(t, defaultStrategy())

	require.NoError(t, h.ctrl.CheckPosition(context.Background(), pos.ID, 0.0007))

	got, err := h.book.Get(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, got.Status)
	assert.Equal(t, domain.ExitReasonStopLoss, got.CloseReason)
	require.NotNil(t, got.ClosePrice)
	assert.InDelta(t, 0.0007, *got.ClosePrice, 1e-12)
	require.NotNil(t, got.RealizedPnL)
	assert.InDelta(t, -300, *got.RealizedPnL, 1e-6)
	require.NotNil(t, got.CloseTxHash)

	// The closing swap sells the full raw entry amount back to base.
	assert.Equal(t, []common.Address{testToken, testBase}, h.router.lastPath)
	assert.Equal(t, int64(1_000_000), h.router.lastPlan.AmountIn.Int64())
	assert.Equal(t, []string{"position_opened", "exit_triggered", "position_closed"}, h.audit.recorded())
}

func TestCheckPositionTakeProfit(t *testing.T) {
	h := newLifecycleHarness(t)
	pos := h.openLong(t, defaultStrategy())

	require.NoError(t, h.ctrl.CheckPosition(context.Background(), pos.ID, 0.0016))

	got, err := h.book.Get(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, got.Status)
	assert.Equal(t, domain.ExitReasonTakeProfit, got.CloseReason)
	require.NotNil(t, got.RealizedPnL)
	assert.InDelta(t, 600, *got.RealizedPnL, 1e-6)
}

func TestCheckPositionTimeExit(t *testing.T) {
	h := newLifecycleHarness(t)
	pos := h.openLong(t, defaultStrategy())

	// Price stays between the stops; only the hold limit can fire.
	h.clock.set(pos.OpenedAt.Add(25 * time.Hour))
	require.NoError(t, h.ctrl.CheckPosition(context.Background(), pos.ID, 0.0011))

	got, err := h.book.Get(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, got.Status)
	assert.Equal(t, domain.ExitReasonTimeExit, got.CloseReason)
}

func TestCheckPositionTrailingStopRatchets(t *testing.T) {
	h := newLifecycleHarness(t)
	trailing := 5.0
	strategy := defaultStrategy()
	strategy.TrailingStopPercent = &trailing
	pos := h.openLong(t, strategy)
	ctx := context.Background()

	// Price rises to 0.0012; the stop ratchets up to 0.00114.
	require.NoError(t, h.ctrl.CheckPosition(ctx, pos.ID, 0.0012))
	got, err := h.book.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, got.Status)
	assert.InDelta(t, 0.00114, got.StopLossPrice, 1e-9)

	// A shallow pullback does not move the stop back down.
	require.NoError(t, h.ctrl.CheckPosition(ctx, pos.ID, 0.00115))
	got, err = h.book.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, got.Status)
	assert.InDelta(t, 0.00114, got.StopLossPrice, 1e-9)

	// Falling through the ratcheted stop closes the position in profit.
	require.NoError(t, h.ctrl.CheckPosition(ctx, pos.ID, 0.00113))
	got, err = h.book.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, got.Status)
	assert.Equal(t, domain.ExitReasonStopLoss, got.CloseReason)
	require.NotNil(t, got.RealizedPnL)
	assert.Positive(t, *got.RealizedPnL)
}

func TestCheckPositionCloseFailureLeavesOpen(t *testing.T) {
	h := newLifecycleHarness(t)
	pos := h.openLong(t, defaultStrategy())

	h.router.setExecErrs(
		&domain.NetworkError{Op: "send", Err: errors.New("down")},
		&domain.NetworkError{Op: "send", Err: errors.New("down")},
	)

	err := h.ctrl.CheckPosition(context.Background(), pos.ID, 0.0007)
	require.ErrorIs(t, err, domain.ErrSubmissionFailed)

	got, getErr := h.book.Get(context.Background(), pos.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.PositionStatusOpen, got.Status)
	assert.Nil(t, got.ClosePrice)
}

func TestCheckPositionLeavesClosedRecordFinal(t *testing.T) {
	h := newLifecycleHarness(t)
	pos := h.openLong(t, defaultStrategy())
	ctx := context.Background()

	require.NoError(t, h.ctrl.CheckPosition(ctx, pos.ID, 0.0007))
	swaps := h.router.calls()

	// A late tick against the closed id must not disturb the final record
	// or trigger another swap.
	require.NoError(t, h.ctrl.CheckPosition(ctx, pos.ID, 0.002))

	got, err := h.book.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, got.Status)
	assert.InDelta(t, 0.0007, got.CurrentPrice, 1e-12)
	require.NotNil(t, got.ClosePrice)
	assert.InDelta(t, 0.0007, *got.ClosePrice, 1e-12)
	assert.Zero(t, got.UnrealizedPnL)
	assert.Equal(t, swaps, h.router.calls())
}

func TestCheckPositionUnknownID(t *testing.T) {
	h := newLifecycleHarness(t)

	err := h.ctrl.CheckPosition(context.Background(), "pos-missing", 0.001)
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)
}

func TestRatchetTrailingStopShort(t *testing.T) {
	trailing := 5.0
	p := &domain.Position{
		Direction:           domain.DirectionShort,
		StopLossPrice:       0.001,
		TrailingStopPercent: &trailing,
	}

	// Shorts profit as price falls; the stop trails downward only.
	require.True(t, ratchetTrailingStop(p, 0.0008))
	assert.InDelta(t, 0.00084, p.StopLossPrice, 1e-9)

	require.False(t, ratchetTrailingStop(p, 0.0009))
	assert.InDelta(t, 0.00084, p.StopLossPrice, 1e-9)
}

func TestEvaluateExitPriority(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	p := domain.Position{
		Direction:       domain.DirectionLong,
		StopLossPrice:   0.0007,
		TakeProfitPrice: 0.0016,
		MaxHoldHours:    24,
		OpenedAt:        now.Add(-48 * time.Hour),
	}

	// Stop-loss outranks the expired hold limit.
	sig := evaluateExit(p, 0.0006, now)
	require.NotNil(t, sig)
	assert.Equal(t, domain.ExitReasonStopLoss, sig.Reason)

	// Take-profit outranks it as well.
	sig = evaluateExit(p, 0.002, now)
	require.NotNil(t, sig)
	assert.Equal(t, domain.ExitReasonTakeProfit, sig.Reason)

	// In between, only the hold limit fires.
	sig = evaluateExit(p, 0.001, now)
	require.NotNil(t, sig)
	assert.Equal(t, domain.ExitReasonTimeExit, sig.Reason)

	// A fresh position with an in-range price holds.
	p.OpenedAt = now.Add(-time.Hour)
	assert.Nil(t, evaluateExit(p, 0.001, now))
}
