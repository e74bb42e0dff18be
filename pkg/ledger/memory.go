package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// memStore is an in-memory Store used in tests and single-node setups.
type memStore struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*Account
	entries  map[Key]*Entry
	history  map[uuid.UUID][]*Entry
}

// NewMemStore returns an empty in-memory ledger store.
func NewMemStore() Store {
	return &memStore{
		accounts: make(map[uuid.UUID]*Account),
		entries:  make(map[Key]*Entry),
		history:  make(map[uuid.UUID][]*Entry),
	}
}

func (s *memStore) Account(ctx context.Context, accountID uuid.UUID) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *account
	return &cp, nil
}

func (s *memStore) CreateAccount(ctx context.Context, accountID uuid.UUID, tier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[accountID]; ok {
		return nil
	}
	s.accounts[accountID] = &Account{ID: accountID, Tier: tier}
	return nil
}

func (s *memStore) SetTier(ctx context.Context, accountID uuid.UUID, tier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	account.Tier = tier
	return nil
}

func (s *memStore) FindEntry(ctx context.Context, key Key) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, ErrEntryNotFound
	}
	cp := *entry
	return &cp, nil
}

func (s *memStore) Apply(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[entry.Key()]; ok {
		return ErrDuplicateEntry
	}
	account, ok := s.accounts[entry.AccountID]
	if !ok {
		return ErrAccountNotFound
	}
	if account.Balance+entry.Amount != entry.BalanceAfter {
		return ErrLedgerCorrupted
	}

	cp := *entry
	account.Balance = entry.BalanceAfter
	s.entries[cp.Key()] = &cp
	s.history[cp.AccountID] = append(s.history[cp.AccountID], &cp)
	return nil
}

func (s *memStore) Entries(ctx context.Context, accountID uuid.UUID, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.history[accountID]
	out := make([]*Entry, 0, len(history))
	for _, e := range history {
		cp := *e
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
