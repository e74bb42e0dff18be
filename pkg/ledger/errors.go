package ledger

import "errors"

var (
	ErrAccountNotFound     = errors.New("ledger account not found")
	ErrEntryNotFound       = errors.New("ledger entry not found")
	ErrDuplicateEntry      = errors.New("ledger entry already recorded")
	ErrInsufficientBalance = errors.New("allocation would drive balance below zero")
	ErrLedgerCorrupted     = errors.New("ledger balance snapshot mismatch")
	ErrInvalidAllocation   = errors.New("invalid allocation request")
)

// IsInvariantViolation reports whether err is a ledger invariant violation
// that must never be silently swallowed by callers.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrLedgerCorrupted)
}
