package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Service is the only component allowed to mutate account balances.
type Service struct {
	store Store
	locks accountLocks
	now   func() time.Time
	newID func() uuid.UUID
}

// ServiceOption configures optional Service settings.
type ServiceOption func(*Service)

// WithClock overrides the time source for deterministic tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a ledger Service.
// Panics if store is nil to fail fast during initialization.
func NewService(store Store, opts ...ServiceOption) *Service {
	if store == nil {
		panic("ledger: Store is required")
	}
	s := &Service{
		store: store,
		now:   time.Now,
		newID: uuid.New,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allocate applies a signed credit amount to an account and records the
// transaction. Replaying an allocation with the same (account, reason,
// correlation id) key is a no-op returning the original entry.
//
// Negative amounts that would drive the balance below zero are rejected
// with ErrInsufficientBalance; the balance is never clamped.
func (s *Service) Allocate(ctx context.Context, accountID uuid.UUID, amount int64, reason Reason, correlationID, description string) (*Result, error) {
	if accountID == uuid.Nil || correlationID == "" || reason == "" {
		return nil, ErrInvalidAllocation
	}
	if amount == 0 {
		return nil, errors.Join(ErrInvalidAllocation, errors.New("amount must be non-zero"))
	}

	key := Key{AccountID: accountID, Reason: reason, CorrelationID: correlationID}

	// Serialize the balance read-modify-write per account. The lock is
	// in-process only; the store's Apply re-verifies the snapshot so a
	// concurrent writer from another replica surfaces as ErrLedgerCorrupted
	// or ErrDuplicateEntry instead of silently corrupting the balance.
	unlock := s.locks.lock(accountID)
	defer unlock()

	if entry, err := s.store.FindEntry(ctx, key); err == nil {
		return &Result{Entry: entry, AlreadyApplied: true}, nil
	} else if !errors.Is(err, ErrEntryNotFound) {
		return nil, err
	}

	account, err := s.store.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}

	balanceAfter := account.Balance + amount
	if balanceAfter < 0 {
		return nil, ErrInsufficientBalance
	}

	entry := &Entry{
		ID:            s.newID(),
		AccountID:     accountID,
		Amount:        amount,
		BalanceAfter:  balanceAfter,
		Reason:        reason,
		Description:   description,
		CorrelationID: correlationID,
		CreatedAt:     s.now().UTC(),
	}

	if err := s.store.Apply(ctx, entry); err != nil {
		// A replay that raced us past FindEntry lands here via the
		// store's unique key; resolve it to the original entry.
		if errors.Is(err, ErrDuplicateEntry) {
			existing, findErr := s.store.FindEntry(ctx, key)
			if findErr != nil {
				return nil, errors.Join(err, findErr)
			}
			return &Result{Entry: existing, AlreadyApplied: true}, nil
		}
		return nil, err
	}

	return &Result{Entry: entry}, nil
}

// Balance returns the current committed balance for an account.
// Reads are lock-free and reflect the latest committed allocation.
func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	account, err := s.store.Account(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// History returns the most recent ledger entries for an account.
func (s *Service) History(ctx context.Context, accountID uuid.UUID, limit int) ([]*Entry, error) {
	return s.store.Entries(ctx, accountID, limit)
}

// accountLocks hands out one mutex per account id.
type accountLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (l *accountLocks) lock(id uuid.UUID) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[uuid.UUID]*lockEntry)
	}
	e, ok := l.locks[id]
	if !ok {
		e = &lockEntry{}
		l.locks[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
