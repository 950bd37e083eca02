package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the engine. The network-facing typed errors
// below are constructed at the router-client boundary so no other layer
// depends on a particular RPC client's error shapes.
var (
	ErrPositionNotFound  = errors.New("position not found")
	ErrAlreadyClosed     = errors.New("position already closed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrQuoteStale        = errors.New("quote deviates from reference price")
	ErrSubmissionFailed  = errors.New("submission failed after retries")
	ErrPriceUnavailable  = errors.New("price unavailable")
)

// NetworkError wraps a transient transport or node failure. It is the only
// error class the submitter retries.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RevertError reports that the remote rejected the call, carrying the
// reason string the node returned. Fatal, never retried.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return "execution reverted"
	}
	return "execution reverted: " + e.Reason
}

// IsRetryable reports whether the submitter may retry after err. Only
// transient network failures qualify; insufficient funds and reverts are
// fatal per attempt.
func IsRetryable(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
