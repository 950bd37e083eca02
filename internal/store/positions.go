// Package store implements the in-memory position book that owns the
// authoritative position map, backed by best-effort durable snapshots.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dexbotio/dexbot/internal/domain"
)

// snapshotTimeout bounds each background snapshot write.
const snapshotTimeout = 10 * time.Second

// PositionBook is the single-writer owner of all positions. Every mutating
// call triggers an asynchronous snapshot to the durable store; snapshot
// failures are logged, never propagated, because in-memory state stays
// authoritative for the process lifetime. Writes are serialized and
// generation-ordered so durable state never regresses to an older snapshot.
type PositionBook struct {
	mu        sync.RWMutex
	positions map[string]*domain.Position
	seq       uint64

	snapshots domain.SnapshotStore
	logger    *slog.Logger

	now func() time.Time

	// pending tracks in-flight snapshot writes so tests and shutdown can
	// wait for them.
	pending sync.WaitGroup

	// snapMu serializes durable writes. snapGen is assigned under mu in
	// mutation order; snapWritten, guarded by snapMu, is the highest
	// generation handed to the snapshot store, so a slow older write can
	// never land after a newer one.
	snapMu      sync.Mutex
	snapGen     uint64
	snapWritten uint64
}

// NewPositionBook creates an empty PositionBook. The snapshot store may be
// nil, in which case state is process-local only.
func NewPositionBook(snapshots domain.SnapshotStore, logger *slog.Logger) *PositionBook {
	return &PositionBook{
		positions: make(map[string]*domain.Position),
		snapshots: snapshots,
		logger:    logger.With(slog.String("component", "position_book")),
		now:       time.Now,
	}
}

// Restore loads the last snapshot and seeds the book from it. Called once
// at startup, before any mutation.
func (b *PositionBook) Restore(ctx context.Context) error {
	if b.snapshots == nil {
		return nil
	}
	positions, err := b.snapshots.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("position book: load snapshot: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range positions {
		p := positions[i]
		b.positions[p.ID] = &p
		// Archived positions may have been removed from the snapshot, so
		// the counter continues from the highest surviving ID.
		if n := seqFromID(p.ID); n > b.seq {
			b.seq = n
		}
	}

	b.logger.Info("position book restored",
		slog.Int("positions", len(positions)),
	)
	return nil
}

// Open records a new open position with the given entry data and exit
// strategy and returns it. The assigned ID combines a monotonic counter
// with the open timestamp, so IDs are collision-free and sort in creation
// order.
func (b *PositionBook) Open(ctx context.Context, data domain.OpenData, strategy domain.ExitStrategy) (domain.Position, error) {
	if err := strategy.Validate(); err != nil {
		return domain.Position{}, fmt.Errorf("position book: %w", err)
	}
	if data.EntryAmountRaw == nil || data.EntryAmountRaw.Sign() <= 0 {
		return domain.Position{}, fmt.Errorf("position book: entry amount must be positive")
	}

	b.mu.Lock()
	b.seq++
	now := b.now().UTC()
	pos := domain.Position{
		ID:                  fmt.Sprintf("pos-%06d-%d", b.seq, now.UnixNano()),
		Direction:           data.Direction,
		Token:               data.Token,
		EntryAmount:         data.EntryAmount,
		EntryAmountRaw:      data.EntryAmountRaw,
		EntryPrice:          data.EntryPrice,
		EntryTxHash:         data.EntryTxHash,
		OpenedAt:            now,
		StopLossPrice:       strategy.StopLossPrice,
		TakeProfitPrice:     strategy.TakeProfitPrice,
		TrailingStopPercent: strategy.TrailingStopPercent,
		MaxHoldHours:        strategy.MaxHoldHours,
		CurrentPrice:        data.EntryPrice,
		Status:              domain.PositionStatusOpen,
	}
	b.positions[pos.ID] = &pos
	snapshot, gen := b.collectLocked()
	b.mu.Unlock()

	b.writeSnapshot(snapshot, gen)
	return pos, nil
}

// Get returns a copy of the position with the given id.
func (b *PositionBook) Get(ctx context.Context, id string) (domain.Position, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[id]
	if !ok {
		return domain.Position{}, fmt.Errorf("position book: %s: %w", id, domain.ErrPositionNotFound)
	}
	return *p, nil
}

// Update applies the mutator to the position under the book's write lock
// and returns the updated copy. Mutators must only touch runtime fields;
// entry fields and status are owned by Open and Close.
func (b *PositionBook) Update(ctx context.Context, id string, mutate func(*domain.Position)) (domain.Position, error) {
	b.mu.Lock()
	p, ok := b.positions[id]
	if !ok {
		b.mu.Unlock()
		return domain.Position{}, fmt.Errorf("position book: %s: %w", id, domain.ErrPositionNotFound)
	}
	mutate(p)
	updated := *p
	snapshot, gen := b.collectLocked()
	b.mu.Unlock()

	b.writeSnapshot(snapshot, gen)
	return updated, nil
}

// Close transitions the position to closed and records the realized
// outcome. Closing an unknown id fails with ErrPositionNotFound; closing
// an already-closed position is an idempotent no-op reported as
// ErrAlreadyClosed so callers can log rather than corrupt state.
func (b *PositionBook) Close(ctx context.Context, id string, data domain.CloseData, reason domain.ExitReason) (domain.Position, error) {
	b.mu.Lock()
	p, ok := b.positions[id]
	if !ok {
		b.mu.Unlock()
		return domain.Position{}, fmt.Errorf("position book: close %s: %w", id, domain.ErrPositionNotFound)
	}
	if p.Status == domain.PositionStatusClosed {
		closed := *p
		b.mu.Unlock()
		b.logger.Warn("close of already-closed position ignored",
			slog.String("position_id", id),
		)
		return closed, fmt.Errorf("position book: close %s: %w", id, domain.ErrAlreadyClosed)
	}

	now := b.now().UTC()
	price := data.Price
	realized := p.PnL(price)
	realizedPct := p.PnLPercent(price)

	p.Status = domain.PositionStatusClosed
	p.ClosePrice = &price
	p.ClosedAt = &now
	p.CloseTxHash = &data.TxHash
	p.CloseReason = reason
	p.RealizedPnL = &realized
	p.RealizedPnLPercent = &realizedPct
	p.CurrentPrice = price
	p.UnrealizedPnL = 0
	p.UnrealizedPnLPercent = 0

	closed := *p
	snapshot, gen := b.collectLocked()
	b.mu.Unlock()

	b.writeSnapshot(snapshot, gen)
	return closed, nil
}

// ListOpen returns copies of all open positions in creation order.
func (b *PositionBook) ListOpen(ctx context.Context) ([]domain.Position, error) {
	b.mu.RLock()
	open := make([]domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		if p.Status == domain.PositionStatusOpen {
			open = append(open, *p)
		}
	}
	b.mu.RUnlock()

	sort.Slice(open, func(i, j int) bool { return open[i].ID < open[j].ID })
	return open, nil
}

// ListClosedBefore returns copies of closed positions whose close time is
// strictly before the cutoff. Used by the cold archiver.
func (b *PositionBook) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var closed []domain.Position
	for _, p := range b.positions {
		if p.Status == domain.PositionStatusClosed && p.ClosedAt != nil && p.ClosedAt.Before(before) {
			closed = append(closed, *p)
		}
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i].ID < closed[j].ID })
	return closed, nil
}

// RemoveClosedBefore deletes closed positions whose close time is strictly
// before the cutoff and snapshots the shrunken book. Open positions are
// never removed. Intended for the cold archiver, after it has safely
// stored the records elsewhere.
func (b *PositionBook) RemoveClosedBefore(ctx context.Context, before time.Time) (int, error) {
	b.mu.Lock()
	removed := 0
	for id, p := range b.positions {
		if p.Status == domain.PositionStatusClosed && p.ClosedAt != nil && p.ClosedAt.Before(before) {
			delete(b.positions, id)
			removed++
		}
	}
	if removed == 0 {
		b.mu.Unlock()
		return 0, nil
	}
	snapshot, gen := b.collectLocked()
	b.mu.Unlock()

	b.writeSnapshot(snapshot, gen)
	b.logger.Info("aged closed positions removed",
		slog.Int("removed", removed),
		slog.Time("before", before),
	)
	return removed, nil
}

// Flush waits for all in-flight snapshot writes to finish. Intended for
// shutdown and tests.
func (b *PositionBook) Flush() {
	b.pending.Wait()
}

// collectLocked copies every position for snapshotting and assigns the
// snapshot's generation. Caller holds b.mu.
func (b *PositionBook) collectLocked() ([]domain.Position, uint64) {
	b.snapGen++
	out := make([]domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, b.snapGen
}

// writeSnapshot persists the snapshot in the background. Best-effort: a
// failure is logged and the in-memory state remains authoritative. Writes
// take snapMu so at most one store call is in flight, and a snapshot older
// than one already handed to the store is dropped rather than written out
// of order.
func (b *PositionBook) writeSnapshot(positions []domain.Position, gen uint64) {
	if b.snapshots == nil {
		return
	}
	b.pending.Add(1)
	go func() {
		defer b.pending.Done()
		b.snapMu.Lock()
		defer b.snapMu.Unlock()
		if gen <= b.snapWritten {
			return
		}
		b.snapWritten = gen
		ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		defer cancel()
		if err := b.snapshots.SaveSnapshot(ctx, positions); err != nil {
			b.logger.Error("snapshot write failed",
				slog.Int("positions", len(positions)),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// seqFromID extracts the monotonic counter component of a position ID.
// Unparseable IDs report zero.
func seqFromID(id string) uint64 {
	var seq, ts uint64
	if _, err := fmt.Sscanf(id, "pos-%d-%d", &seq, &ts); err != nil {
		return 0
	}
	return seq
}

var _ domain.PositionStore = (*PositionBook)(nil)
