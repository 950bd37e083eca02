package router

import (
	"strings"

	"github.com/dexbotio/dexbot/internal/domain"
)

// classify maps raw node errors onto the engine's error taxonomy. Node
// error strings are the only classification signal JSON-RPC exposes, so
// matching is substring-based and deliberately narrow: anything unmatched
// stays a retryable NetworkError.
func classify(op string, err error) error {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "insufficient funds"):
		return domain.ErrInsufficientFunds
	case strings.Contains(msg, "execution reverted"):
		reason := revertReason(msg)
		return &domain.RevertError{Reason: reason}
	default:
		return &domain.NetworkError{Op: op, Err: err}
	}
}

// revertReason extracts the node-supplied reason after the standard
// "execution reverted" prefix, if any.
func revertReason(msg string) string {
	const marker = "execution reverted"
	idx := strings.Index(msg, marker)
	reason := strings.TrimLeft(msg[idx+len(marker):], ": ")
	return strings.TrimSpace(reason)
}
