package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexbotio/dexbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSnapshotStore records every snapshot written and serves a seeded one.
// firstSaveDelay stalls the first save to expose ordering bugs.
type fakeSnapshotStore struct {
	mu             sync.Mutex
	saves          [][]domain.Position
	seed           []domain.Position
	saveErr        error
	firstSaveDelay time.Duration
	delayed        bool
}

func (s *fakeSnapshotStore) SaveSnapshot(ctx context.Context, positions []domain.Position) error {
	s.mu.Lock()
	delay := time.Duration(0)
	if s.firstSaveDelay > 0 && !s.delayed {
		s.delayed = true
		delay = s.firstSaveDelay
	}
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	saved := make([]domain.Position, len(positions))
	copy(saved, positions)
	s.saves = append(s.saves, saved)
	return nil
}

func (s *fakeSnapshotStore) LoadSnapshot(ctx context.Context) ([]domain.Position, error) {
	return s.seed, nil
}

func (s *fakeSnapshotStore) lastSave() []domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saves) == 0 {
		return nil
	}
	return s.saves[len(s.saves)-1]
}

var testToken = common.HexToAddress("0x000000000000000000000000000000000000cafe")

func testOpenData() domain.OpenData {
	return domain.OpenData{
		Direction:      domain.DirectionLong,
		Token:          testToken,
		EntryAmount:    1_000_000,
		EntryAmountRaw: big.NewInt(1_000_000),
		EntryPrice:     0.001,
		EntryTxHash:    common.HexToHash("0xabc"),
	}
}

func testStrategy() domain.ExitStrategy {
	return domain.ExitStrategy{
		StopLossPrice:   0.0007,
		TakeProfitPrice: 0.0016,
		MaxHoldHours:    24,
	}
}

func TestOpenAssignsOrderedIDs(t *testing.T) {
	book := NewPositionBook(nil, testLogger())
	ctx := context.Background()

	first, err := book.Open(ctx, testOpenData(), testStrategy())
	require.NoError(t, err)
	second, err := book.Open(ctx, testOpenData(), testStrategy())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(first.ID, "pos-000001-"), "got %s", first.ID)
	assert.True(t, strings.HasPrefix(second.ID, "pos-000002-"), "got %s", second.ID)
	assert.Less(t, first.ID, second.ID)

	assert.Equal(t, domain.PositionStatusOpen, first.Status)
	assert.Equal(t, first.EntryPrice, first.CurrentPrice)
	assert.False(t, first.OpenedAt.IsZero())
}

func TestOpenValidation(t *testing.T) {
	book := NewPositionBook(nil, testLogger())
	ctx := context.Background()

	_, err := book.Open(ctx, testOpenData(), domain.ExitStrategy{})
	assert.Error(t, err)

	data := testOpenData()
	data.EntryAmountRaw = nil
	_, err = book.Open(ctx, data, testStrategy())
	assert.Error(t, err)

	data.EntryAmountRaw = big.NewInt(0)
	_, err = book.Open(ctx, data, testStrategy())
	assert.Error(t, err)
}

func TestGetReturnsCopy(t *testing.T) {
	book := NewPositionBook(nil, testLogger())
	ctx := context.Background()

	pos, err := book.Open(ctx, testOpenData(), testStrategy())
	require.NoError(t, err)

	got, err := book.Get(ctx, pos.ID)
	require.NoError(t, err)
	got.CurrentPrice = 99 // must not leak into the book

	again, err := book.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.001, again.CurrentPrice, 1e-12)
}

func TestGetUnknownID(t *testing.T) {
	book := NewPositionBook(nil, testLogger())

	_, err := book.Get(context.Background(), "pos-000099-1")
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)
}

func TestUpdateAppliesMutator(t *testing.T) {
	book := NewPositionBook(nil, testLogger())
	ctx := context.Background()

	pos, err := book.Open(ctx, testOpenData(), testStrategy())
	require.NoError(t, err)

	updated, err := book.Update(ctx, pos.ID, func(p *domain.Position) {
		p.CurrentPrice = 0.0012
		p.UnrealizedPnL = p.PnL(0.0012)
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.0012, updated.CurrentPrice, 1e-12)
	assert.InDelta(t, 200, updated.UnrealizedPnL, 1e-6)

	got, err := book.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.0012, got.CurrentPrice, 1e-12)
}

func TestCloseRealizesPnL(t *testing.T) {
	book := NewPositionBook(nil, testLogger())
	ctx := context.Background()

	long, err := book.Open(ctx, testOpenData(), testStrategy())
	require.NoError(t, err)

	closed, err := book.Close(ctx, long.ID,
		domain.CloseData{Price: 0.0016, TxHash: common.HexToHash("0xdef")}, domain.ExitReasonTakeProfit)
	require.NoError(t, err)

	assert.Equal(t, domain.PositionStatusClosed, closed.Status)
	assert.Equal(t, domain.ExitReasonTakeProfit, closed.CloseReason)
	require.NotNil(t, closed.ClosePrice)
	assert.InDelta(t, 0.0016, *closed.ClosePrice, 1e-12)
	require.NotNil(t, closed.RealizedPnL)
	assert.InDelta(t, 600, *closed.RealizedPnL, 1e-6)
	require.NotNil(t, closed.RealizedPnLPercent)
	assert.InDelta(t, 60, *closed.RealizedPnLPercent, 1e-6)
	require.NotNil(t, closed.ClosedAt)
	assert.Zero(t, closed.UnrealizedPnL)

	// A losing short realizes a negative PnL.
	shortData := testOpenData()
	shortData.Direction = domain.DirectionShort
	short, err := book.Open(ctx, shortData, domain.ExitStrategy{
		StopLossPrice: 0.0016, TakeProfitPrice: 0.0004, MaxHoldHours: 24,
	})
	require.NoError(t, err)

	closed, err = book.Close(ctx, short.ID,
		domain.CloseData{Price: 0.0016, TxHash: common.HexToHash("0xdef")}, domain.ExitReasonStopLoss)
	require.NoError(t, err)
	require.NotNil(t, closed.RealizedPnL)
	assert.InDelta(t, -600, *closed.RealizedPnL, 1e-6)
}

func TestCloseIsIdempotent(t *testing.T) {
	book := NewPositionBook(nil, testLogger())
	ctx := context.Background()

	pos, err := book.Open(ctx, testOpenData(), testStrategy())
	require.NoError(t, err)

	first, err := book.Close(ctx, pos.ID,
		domain.CloseData{Price: 0.0007, TxHash: common.HexToHash("0x1")}, domain.ExitReasonStopLoss)
	require.NoError(t, err)

	// The second close reports the conflict and leaves the record intact.
	second, err := book.Close(ctx, pos.ID,
		domain.CloseData{Price: 0.0016, TxHash: common.HexToHash("0x2")}, domain.ExitReasonTakeProfit)
	require.ErrorIs(t, err, domain.ErrAlreadyClosed)
	assert.Equal(t, first.CloseReason, second.CloseReason)
	require.NotNil(t, second.ClosePrice)
	assert.InDelta(t, 0.0007, *second.ClosePrice, 1e-12)
}

func TestCloseUnknownID(t *testing.T) {
	book := NewPositionBook(nil, testLogger())

	_, err := book.Close(context.Background(), "pos-missing",
		domain.CloseData{Price: 1}, domain.ExitReasonStopLoss)
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)
}

func TestListOpenExcludesClosed(t *testing.T) {
	book := NewPositionBook(nil, testLogger())
	ctx := context.Background()

	a, err := book.Open(ctx, testOpenData(), testStrategy())
	require.NoError(t, err)
	b, err := book.Open(ctx, testOpenData(), testStrategy())
	require.NoError(t, err)

	_, err = book.Close(ctx, a.ID, domain.CloseData{Price: 0.0007}, domain.ExitReasonStopLoss)
	require.NoError(t, err)

	open, err := book.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, b.ID, open[0].ID)
}

func TestListClosedBefore(t *testing.T) {
	book := NewPositionBook(nil, testLogger())
	ctx := context.Background()

	pos, err := book.Open(ctx, testOpenData(), testStrategy())
	require.NoError(t, err)
	closed, err := book.Close(ctx, pos.ID, domain.CloseData{Price: 0.0007}, domain.ExitReasonStopLoss)
	require.NoError(t, err)

	old, err := book.ListClosedBefore(ctx, closed.ClosedAt.Add(time.Second))
	require.NoError(t, err)
	assert.Len(t, old, 1)

	none, err := book.ListClosedBefore(ctx, closed.ClosedAt.Add(-time.Second))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMutationsSnapshot(t *testing.T) {
	snaps := &fakeSnapshotStore{}
	book := NewPositionBook(snaps, testLogger())
	ctx := context.Background()

	pos, err := book.Open(ctx, testOpenData(), testStrategy())
	require.NoError(t, err)
	book.Flush()

	last := snaps.lastSave()
	require.Len(t, last, 1)
	assert.Equal(t, pos.ID, last[0].ID)
	assert.Equal(t, domain.PositionStatusOpen, last[0].Status)

	_, err = book.Close(ctx, pos.ID, domain.CloseData{Price: 0.0007}, domain.ExitReasonStopLoss)
	require.NoError(t, err)
	book.Flush()

	last = snaps.lastSave()
	require.Len(t, last, 1)
	assert.Equal(t, domain.PositionStatusClosed, last[0].Status)
}

func TestSlowSnapshotNeverOverwritesNewerState(t *testing.T) {
	snaps := &fakeSnapshotStore{firstSaveDelay: 50 * time.Millisecond}
	book := NewPositionBook(snaps, testLogger())
	ctx := context.Background()

	// The open's snapshot stalls in flight while the close lands right
	// behind it; the durable record must still end up closed.
	pos, err := book.Open(ctx, testOpenData(), testStrategy())
	require.NoError(t, err)
	_, err = book.Close(ctx, pos.ID, domain.CloseData{Price: 0.0007}, domain.ExitReasonStopLoss)
	require.NoError(t, err)
	book.Flush()

	last := snaps.lastSave()
	require.Len(t, last, 1)
	assert.Equal(t, domain.PositionStatusClosed, last[0].Status)
}

func TestRemoveClosedBefore(t *testing.T) {
	snaps := &fakeSnapshotStore{}
	book := NewPositionBook(snaps, testLogger())
	ctx := context.Background()

	kept, err := book.Open(ctx, testOpenData(), testStrategy())
	require.NoError(t, err)
	aged, err := book.Open(ctx, testOpenData(), testStrategy())
	require.NoError(t, err)
	closed, err := book.Close(ctx, aged.ID, domain.CloseData{Price: 0.0007}, domain.ExitReasonStopLoss)
	require.NoError(t, err)

	// A cutoff before the close time removes nothing.
	removed, err := book.RemoveClosedBefore(ctx, closed.ClosedAt.Add(-time.Second))
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = book.RemoveClosedBefore(ctx, closed.ClosedAt.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	book.Flush()

	_, err = book.Get(ctx, aged.ID)
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)
	_, err = book.Get(ctx, kept.ID)
	assert.NoError(t, err)

	remaining, err := book.ListClosedBefore(ctx, closed.ClosedAt.Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, remaining)

	last := snaps.lastSave()
	require.Len(t, last, 1)
	assert.Equal(t, kept.ID, last[0].ID)
}

func TestSnapshotFailureDoesNotAffectState(t *testing.T) {
	snaps := &fakeSnapshotStore{saveErr: errors.New("db down")}
	book := NewPositionBook(snaps, testLogger())
	ctx := context.Background()

	pos, err := book.Open(ctx, testOpenData(), testStrategy())
	require.NoError(t, err)
	book.Flush()

	got, err := book.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, got.Status)
}

func TestRestoreSeedsBook(t *testing.T) {
	seeded := domain.Position{
		ID:             "pos-000001-1",
		Direction:      domain.DirectionLong,
		Token:          testToken,
		EntryAmount:    1_000_000,
		EntryAmountRaw: big.NewInt(1_000_000),
		EntryPrice:     0.001,
		Status:         domain.PositionStatusOpen,
		OpenedAt:       time.Now().UTC(),
	}
	snaps := &fakeSnapshotStore{seed: []domain.Position{seeded}}
	book := NewPositionBook(snaps, testLogger())
	ctx := context.Background()

	require.NoError(t, book.Restore(ctx))

	got, err := book.Get(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, got.ID)

	// New IDs continue past the restored count.
	pos, err := book.Open(ctx, testOpenData(), testStrategy())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(pos.ID, "pos-000002-"), "got %s", pos.ID)
}

func TestRestoreDerivesSeqFromHighestID(t *testing.T) {
	// Archival can evict lower-numbered positions, so the counter must
	// continue from the highest surviving ID, not the snapshot length.
	seeded := domain.Position{
		ID:             "pos-000007-1",
		Direction:      domain.DirectionLong,
		Token:          testToken,
		EntryAmount:    1_000_000,
		EntryAmountRaw: big.NewInt(1_000_000),
		EntryPrice:     0.001,
		Status:         domain.PositionStatusOpen,
		OpenedAt:       time.Now().UTC(),
	}
	snaps := &fakeSnapshotStore{seed: []domain.Position{seeded}}
	book := NewPositionBook(snaps, testLogger())
	ctx := context.Background()

	require.NoError(t, book.Restore(ctx))

	pos, err := book.Open(ctx, testOpenData(), testStrategy())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(pos.ID, "pos-000008-"), "got %s", pos.ID)
}
