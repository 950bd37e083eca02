package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Router is the on-chain liquidity router collaborator: quoting, swap
// execution, and confirmation. Implementations construct the typed error
// taxonomy (NetworkError, RevertError, ErrInsufficientFunds) at this
// boundary.
type Router interface {
	// QuoteOutput returns the expected output amount for swapping amountIn
	// along the given path.
	QuoteOutput(ctx context.Context, path []common.Address, amountIn *big.Int) (*big.Int, error)

	// ExecuteSwap signs and broadcasts the planned swap, returning the
	// transaction hash.
	ExecuteSwap(ctx context.Context, plan SwapPlan) (common.Hash, error)

	// Confirm blocks until the transaction is mined and returns its final
	// status. A mined-but-reverted transaction yields a RevertError.
	Confirm(ctx context.Context, txHash common.Hash) (SubmissionResult, error)
}

// GasFeed supplies the current network fee rate. *ethclient.Client
// satisfies this directly.
type GasFeed interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// PriceFeed supplies the current price of a token in base currency units.
type PriceFeed interface {
	CurrentPrice(ctx context.Context, token common.Address) (float64, error)
}

// PriceCache stores recent price observations so monitor ticks do not hit
// the live feed for every position.
type PriceCache interface {
	SetPrice(ctx context.Context, token common.Address, price float64, ts time.Time) error
	GetPrice(ctx context.Context, token common.Address) (float64, time.Time, error)
}

// PositionStore owns the authoritative position map. All mutations go
// through this single-writer API; callers never hold references to stored
// positions across calls.
type PositionStore interface {
	Open(ctx context.Context, data OpenData, strategy ExitStrategy) (Position, error)
	Get(ctx context.Context, id string) (Position, error)
	Update(ctx context.Context, id string, mutate func(*Position)) (Position, error)
	Close(ctx context.Context, id string, data CloseData, reason ExitReason) (Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
}

// OpenData carries the immutable entry fields for a new position.
type OpenData struct {
	Direction      Direction
	Token          common.Address
	EntryAmount    float64
	EntryAmountRaw *big.Int
	EntryPrice     float64
	EntryTxHash    common.Hash
}

// CloseData carries the realized outcome of a closing swap.
type CloseData struct {
	Price  float64
	TxHash common.Hash
}

// SnapshotStore is the durable-storage collaborator. Snapshots are written
// best-effort on every mutation and loaded once at startup.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, positions []Position) error
	LoadSnapshot(ctx context.Context) ([]Position, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only record of engine events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, limit int) ([]AuditEntry, error)
}

// Notifier delivers human-readable events to operators. Fire-and-forget:
// failures must never affect engine state.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}
