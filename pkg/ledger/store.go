package ledger

import (
	"context"

	"github.com/google/uuid"
)

// Store defines ledger persistence. Implementations must make Apply atomic:
// the entry insert and the balance update commit together or not at all.
type Store interface {
	// Account retrieves the account profile row.
	// Returns ErrAccountNotFound if the account does not exist.
	Account(ctx context.Context, accountID uuid.UUID) (*Account, error)

	// CreateAccount inserts a new account with a zero balance.
	// Creating an existing account is a no-op.
	CreateAccount(ctx context.Context, accountID uuid.UUID, tier string) error

	// SetTier updates the account's tier classification. Tier is the only
	// account field writable outside Allocate.
	SetTier(ctx context.Context, accountID uuid.UUID, tier string) error

	// FindEntry looks up a previously applied allocation by idempotency key.
	// Returns ErrEntryNotFound when the key has not been used.
	FindEntry(ctx context.Context, key Key) (*Entry, error)

	// Apply appends the entry and moves the account balance to
	// entry.BalanceAfter in a single transaction. It must verify that
	// BalanceAfter equals the stored balance plus entry.Amount and return
	// ErrLedgerCorrupted otherwise, and ErrDuplicateEntry when the
	// idempotency key is already present.
	Apply(ctx context.Context, entry *Entry) error

	// Entries returns the account's ledger history, newest first.
	Entries(ctx context.Context, accountID uuid.UUID, limit int) ([]*Entry, error)
}
