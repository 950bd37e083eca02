package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dexbotio/dexbot/internal/domain"
)

// SubmitterConfig bounds the retry behaviour of the transaction submitter.
type SubmitterConfig struct {
	// MaxRetries is the total number of submission attempts.
	MaxRetries int

	// RetryDelay is the wait before the second attempt. It doubles on each
	// subsequent attempt, capped at 2 x RetryDelay.
	RetryDelay time.Duration
}

// DefaultSubmitterConfig returns the standard retry bounds.
func DefaultSubmitterConfig() SubmitterConfig {
	return SubmitterConfig{
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

// TransactionSubmitter submits a prepared swap plan to the network and
// waits for confirmation, retrying transient failures under a bounded
// policy. It never mutates position state; that belongs to the lifecycle
// controller, which keeps the submitter trivially fakeable in tests.
type TransactionSubmitter struct {
	router domain.Router
	cfg    SubmitterConfig
	logger *slog.Logger
}

// NewTransactionSubmitter creates a TransactionSubmitter over the given
// router.
func NewTransactionSubmitter(router domain.Router, cfg SubmitterConfig, logger *slog.Logger) *TransactionSubmitter {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &TransactionSubmitter{
		router: router,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "tx_submitter")),
	}
}

// Submit broadcasts the plan and blocks until confirmation. Failures that
// domain.IsRetryable reports transient are retried up to MaxRetries
// attempts with a doubling delay capped at twice the base delay; everything
// else surfaces immediately. After retry exhaustion the last error is
// wrapped in ErrSubmissionFailed.
//
// This is the engine's one designed blocking point: on a successful
// broadcast the call suspends until the network confirms the transaction.
func (s *TransactionSubmitter) Submit(ctx context.Context, plan domain.SwapPlan) (domain.SubmissionResult, error) {
	delay := s.cfg.RetryDelay
	maxDelay := 2 * s.cfg.RetryDelay

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		txHash, err := s.router.ExecuteSwap(ctx, plan)
		if err != nil {
			if !domain.IsRetryable(err) {
				return domain.SubmissionResult{}, wrapFatal(err)
			}
			lastErr = err
			s.logger.WarnContext(ctx, "swap submission attempt failed",
				slog.Int("attempt", attempt),
				slog.Int("max_retries", s.cfg.MaxRetries),
				slog.String("error", err.Error()),
			)
			if attempt < s.cfg.MaxRetries {
				if waitErr := wait(ctx, delay); waitErr != nil {
					return domain.SubmissionResult{}, waitErr
				}
				delay *= 2
				if delay > maxDelay {
					delay = maxDelay
				}
			}
			continue
		}

		result, err := s.router.Confirm(ctx, txHash)
		if err != nil {
			// The transaction is already on the network; resubmitting would
			// double-spend, so confirmation failures surface as-is.
			return domain.SubmissionResult{}, fmt.Errorf("submitter: confirm %s: %w", txHash.Hex(), err)
		}

		s.logger.InfoContext(ctx, "swap confirmed",
			slog.String("tx_hash", result.TxHash.Hex()),
			slog.Uint64("block", result.BlockNumber),
			slog.Int("attempt", attempt),
		)
		return result, nil
	}

	return domain.SubmissionResult{}, fmt.Errorf("submitter: %w (%d attempts): %v",
		domain.ErrSubmissionFailed, s.cfg.MaxRetries, lastErr)
}

// wrapFatal normalizes a non-retryable submission failure. Known fatal
// classes keep their identity for callers matching on them.
func wrapFatal(err error) error {
	if errors.Is(err, domain.ErrInsufficientFunds) {
		return fmt.Errorf("submitter: %w", domain.ErrInsufficientFunds)
	}
	var revert *domain.RevertError
	if errors.As(err, &revert) {
		return fmt.Errorf("submitter: %w", revert)
	}
	return fmt.Errorf("submitter: %w", err)
}

func wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
