package engine

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dexbotio/dexbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRouter scripts quote and submission outcomes. execErrs are consumed
// one per ExecuteSwap call; a nil entry or exhaustion means success.
type fakeRouter struct {
	mu sync.Mutex

	quoteOut *big.Int
	quoteErr error

	execErrs  []error
	execCalls int
	lastPlan  domain.SwapPlan
	lastPath  []common.Address

	confirmErr    error
	confirmResult *domain.SubmissionResult
}

func (r *fakeRouter) QuoteOutput(ctx context.Context, path []common.Address, amountIn *big.Int) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastPath = path
	if r.quoteErr != nil {
		return nil, r.quoteErr
	}
	return new(big.Int).Set(r.quoteOut), nil
}

func (r *fakeRouter) ExecuteSwap(ctx context.Context, plan domain.SwapPlan) (common.Hash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.execCalls++
	r.lastPlan = plan
	if len(r.execErrs) > 0 {
		err := r.execErrs[0]
		r.execErrs = r.execErrs[1:]
		if err != nil {
			return common.Hash{}, err
		}
	}
	return common.HexToHash("0xfeed"), nil
}

func (r *fakeRouter) Confirm(ctx context.Context, txHash common.Hash) (domain.SubmissionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.confirmErr != nil {
		return domain.SubmissionResult{}, r.confirmErr
	}
	if r.confirmResult != nil {
		return *r.confirmResult, nil
	}
	return domain.SubmissionResult{
		TxHash:      txHash,
		Confirmed:   true,
		BlockNumber: 42,
		GasUsed:     150_000,
		Status:      domain.SubmissionConfirmed,
	}, nil
}

func (r *fakeRouter) setExecErrs(errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.execErrs = errs
}

func (r *fakeRouter) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.execCalls
}

var _ domain.Router = (*fakeRouter)(nil)

// staticFeed returns one price (or error) for every token.
type staticFeed struct {
	price float64
	err   error
}

func (f staticFeed) CurrentPrice(ctx context.Context, token common.Address) (float64, error) {
	return f.price, f.err
}

// mapFeed returns per-token prices; unknown tokens fail.
type mapFeed struct {
	prices map[common.Address]float64
	errs   map[common.Address]error
}

func (f mapFeed) CurrentPrice(ctx context.Context, token common.Address) (float64, error) {
	if err, ok := f.errs[token]; ok {
		return 0, err
	}
	if p, ok := f.prices[token]; ok {
		return p, nil
	}
	return 0, domain.ErrPriceUnavailable
}

// fakeGasFeed scripts SuggestGasPrice.
type fakeGasFeed struct {
	price *big.Int
	err   error
}

func (f fakeGasFeed) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return new(big.Int).Set(f.price), nil
}

// recordingAudit captures audit events in order.
type recordingAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *recordingAudit) Log(ctx context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *recordingAudit) List(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (a *recordingAudit) recorded() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.events))
	copy(out, a.events)
	return out
}

// fixedClock returns a settable time for now hooks.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}
