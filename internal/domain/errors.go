package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrStateConflict     = errors.New("position already exists for asset")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrExecutionFailed   = errors.New("execution failed")
	ErrInvariant         = errors.New("ledger invariant violated")
	ErrLockHeld          = errors.New("lock already held")
	ErrTransient         = errors.New("transient provider error")
	ErrContextDone       = errors.New("context cancelled")
)

// IsTransient reports whether err should be retried with backoff.
// Provider clients wrap network and rate-limit failures in ErrTransient;
// everything else (bad mint, insufficient funds, invariant breaks) is
// permanent and fails immediately.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
