// Package ledger implements an append-only credit ledger with a derived
// per-account balance.
//
// Every grant or debit is recorded as an immutable Entry carrying the
// resulting balance snapshot. Allocations are idempotent: the tuple
// (account, reason, correlation id) identifies an allocation, and replaying
// it returns the original entry instead of applying the amount twice. This
// is what makes at-least-once webhook delivery safe upstream.
//
// The account balance is the only mutable aggregate and is updated solely
// inside Allocate, under a per-account lock.
package ledger
