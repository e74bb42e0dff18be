package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Reason classifies why credits were allocated. It is part of the
// idempotency key, so the same correlation id may appear once per reason
// (e.g. an initial grant and later recurring grants for one subscription).
type Reason string

const (
	ReasonInitial    Reason = "initial"    // first activation of a subscription
	ReasonRecurring  Reason = "recurring"  // billing-period renewal grant
	ReasonUpgrade    Reason = "upgrade"    // positive delta from a plan change
	ReasonAdjustment Reason = "adjustment" // manual correction
	ReasonUsage      Reason = "usage"      // consumption debit
)

// Entry is an immutable ledger record. BalanceAfter snapshots the account
// balance that resulted from applying Amount.
type Entry struct {
	ID            uuid.UUID
	AccountID     uuid.UUID
	Amount        int64
	BalanceAfter  int64
	Reason        Reason
	Description   string
	CorrelationID string // external subscription or invoice id that caused it
	CreatedAt     time.Time
}

// Key identifies an allocation for deduplication purposes.
type Key struct {
	AccountID     uuid.UUID
	Reason        Reason
	CorrelationID string
}

func (e *Entry) Key() Key {
	return Key{AccountID: e.AccountID, Reason: e.Reason, CorrelationID: e.CorrelationID}
}

// Account is the profile row backing the ledger. Balance is mutated only
// through Allocate; Tier is owned by the reconciliation layer.
type Account struct {
	ID        uuid.UUID
	Balance   int64
	Tier      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Result is the outcome of an allocation request.
type Result struct {
	Entry *Entry
	// AlreadyApplied is true when the allocation was a replay and Entry
	// is the original record.
	AlreadyApplied bool
}

// Balance returns the balance snapshot after this allocation.
func (r *Result) Balance() int64 {
	if r.Entry == nil {
		return 0
	}
	return r.Entry.BalanceAfter
}
