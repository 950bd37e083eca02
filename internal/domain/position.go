package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Direction indicates which way a position is exposed.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// PositionStatus tracks whether a position is open or closed. The only
// legal transition is open -> closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// ExitReason identifies which exit condition triggered a close.
type ExitReason string

const (
	ExitReasonStopLoss   ExitReason = "stop_loss"
	ExitReasonTakeProfit ExitReason = "take_profit"
	ExitReasonTimeExit   ExitReason = "time_exit"
)

// ExitStrategy holds the exit parameters attached to a position at open
// time. TrailingStopPercent is optional; when set the stop-loss ratchets
// favourably as price moves with the position.
type ExitStrategy struct {
	StopLossPrice       float64  `json:"stop_loss_price"`
	TakeProfitPrice     float64  `json:"take_profit_price"`
	TrailingStopPercent *float64 `json:"trailing_stop_percent,omitempty"`
	MaxHoldHours        float64  `json:"max_hold_hours"`
}

// Validate checks the strategy's ranges: prices must be positive, the
// trailing percentage must lie in [0, 100], and the hold limit must be a
// positive number of hours.
func (s ExitStrategy) Validate() error {
	if s.StopLossPrice <= 0 {
		return fmt.Errorf("exit strategy: stop_loss_price must be > 0, got %g", s.StopLossPrice)
	}
	if s.TakeProfitPrice <= 0 {
		return fmt.Errorf("exit strategy: take_profit_price must be > 0, got %g", s.TakeProfitPrice)
	}
	if s.TrailingStopPercent != nil {
		if p := *s.TrailingStopPercent; p < 0 || p > 100 {
			return fmt.Errorf("exit strategy: trailing_stop_percent must be in [0, 100], got %g", p)
		}
	}
	if s.MaxHoldHours <= 0 {
		return fmt.Errorf("exit strategy: max_hold_hours must be > 0, got %g", s.MaxHoldHours)
	}
	return nil
}

// Position is the long-lived record of a speculative holding opened through
// the router. Entry fields are immutable after creation; close fields are
// set exactly once, when status transitions to closed.
type Position struct {
	ID        string         `json:"id"`
	Direction Direction      `json:"direction"`
	Token     common.Address `json:"token"`

	EntryAmount    float64     `json:"entry_amount"`     // display units, used for PnL
	EntryAmountRaw *big.Int    `json:"entry_amount_raw"` // smallest-unit amount for the closing swap
	EntryPrice     float64     `json:"entry_price"`
	EntryTxHash    common.Hash `json:"entry_tx_hash"`
	OpenedAt       time.Time   `json:"opened_at"`

	StopLossPrice       float64  `json:"stop_loss_price"`
	TakeProfitPrice     float64  `json:"take_profit_price"`
	TrailingStopPercent *float64 `json:"trailing_stop_percent,omitempty"`
	MaxHoldHours        float64  `json:"max_hold_hours"`

	CurrentPrice         float64 `json:"current_price"`
	UnrealizedPnL        float64 `json:"unrealized_pnl"`
	UnrealizedPnLPercent float64 `json:"unrealized_pnl_percent"`

	Status PositionStatus `json:"status"`

	ClosePrice         *float64     `json:"close_price,omitempty"`
	ClosedAt           *time.Time   `json:"closed_at,omitempty"`
	CloseTxHash        *common.Hash `json:"close_tx_hash,omitempty"`
	CloseReason        ExitReason   `json:"close_reason,omitempty"`
	RealizedPnL        *float64     `json:"realized_pnl,omitempty"`
	RealizedPnLPercent *float64     `json:"realized_pnl_percent,omitempty"`
}

// PnL returns the profit for the given exit price relative to entry, signed
// by direction: longs profit when price rises, shorts when it falls.
func (p Position) PnL(price float64) float64 {
	if p.Direction == DirectionShort {
		return (p.EntryPrice - price) * p.EntryAmount
	}
	return (price - p.EntryPrice) * p.EntryAmount
}

// PnLPercent expresses PnL(price) as a percentage of the entry notional.
func (p Position) PnLPercent(price float64) float64 {
	notional := p.EntryPrice * p.EntryAmount
	if notional == 0 {
		return 0
	}
	return p.PnL(price) / notional * 100
}

// HoursHeld returns how long the position has been open as of now.
func (p Position) HoursHeld(now time.Time) float64 {
	return now.Sub(p.OpenedAt).Hours()
}

// ExitSignal is emitted by exit evaluation and consumed by the lifecycle
// controller to trigger a closing swap. Transient, at most one per position
// per monitoring tick.
type ExitSignal struct {
	Reason       ExitReason
	TriggerPrice float64
}
