// Package domain defines the core types, collaborator interfaces, and error
// taxonomy shared by every layer of the swap engine.
package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Side indicates whether an intent acquires the token (buy) or disposes of
// it (sell).
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// bpsDenom is the fixed-point denominator for basis-point percentages.
// 100 bps = 1%, so fractional tolerances like 0.5% are exactly 50 bps.
const bpsDenom = 10_000

// TradeIntent is an ephemeral request to swap through the router. Amounts
// are in the token's smallest unit.
type TradeIntent struct {
	ID          string // correlation UUID, assigned if empty
	Token       common.Address
	Side        Side
	AmountIn    *big.Int
	SlippageBps int64 // tolerated shortfall, e.g. 50 = 0.50%
}

// Quote is the router's answer for a path and input amount. Read-only,
// never persisted.
type Quote struct {
	Path        []common.Address
	AmountIn    *big.Int
	ExpectedOut *big.Int
}

// ImpliedPrice returns the quote-implied price of the traded token in base
// currency units. For a buy the base currency is the input leg; for a sell
// it is the output leg.
func (q Quote) ImpliedPrice(side Side) float64 {
	if q.AmountIn == nil || q.ExpectedOut == nil ||
		q.AmountIn.Sign() == 0 || q.ExpectedOut.Sign() == 0 {
		return 0
	}
	in, _ := new(big.Float).SetInt(q.AmountIn).Float64()
	out, _ := new(big.Float).SetInt(q.ExpectedOut).Float64()
	if side == SideBuy {
		return in / out
	}
	return out / in
}

// SwapPlan is the fully-bounded swap request derived from an intent and a
// quote. Immutable once built.
type SwapPlan struct {
	Path         []common.Address
	AmountIn     *big.Int
	AmountOutMin *big.Int
	GasPrice     *big.Int
	Deadline     time.Time
}

// AmountOutMin applies a basis-point slippage tolerance to an expected
// output using integer arithmetic only. The result never exceeds expected,
// equality holds iff slippageBps is 0.
func AmountOutMin(expected *big.Int, slippageBps int64) *big.Int {
	min := new(big.Int).Mul(expected, big.NewInt(bpsDenom-slippageBps))
	return min.Quo(min, big.NewInt(bpsDenom))
}

// SubmissionStatus is the terminal state of a network submission.
type SubmissionStatus string

const (
	SubmissionConfirmed SubmissionStatus = "confirmed"
	SubmissionReverted  SubmissionStatus = "reverted"
)

// SubmissionResult is produced by the transaction submitter once a swap has
// been observed on the network. Consumed once by the lifecycle controller.
type SubmissionResult struct {
	TxHash      common.Hash
	Confirmed   bool
	BlockNumber uint64
	GasUsed     uint64
	Status      SubmissionStatus
}
