package billing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemCustomerStore is an in-memory CustomerStore for tests and
// single-node deployments.
type MemCustomerStore struct {
	mu         sync.RWMutex
	byAccount  map[uuid.UUID]Customer
	byExternal map[string]uuid.UUID
}

func NewMemCustomerStore() *MemCustomerStore {
	return &MemCustomerStore{
		byAccount:  make(map[uuid.UUID]Customer),
		byExternal: make(map[string]uuid.UUID),
	}
}

func (s *MemCustomerStore) ByExternalID(_ context.Context, externalID string) (*Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	accountID, ok := s.byExternal[externalID]
	if !ok {
		return nil, ErrCustomerNotFound
	}
	customer := s.byAccount[accountID]
	return &customer, nil
}

func (s *MemCustomerStore) ByAccount(_ context.Context, accountID uuid.UUID) (*Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	customer, ok := s.byAccount[accountID]
	if !ok {
		return nil, ErrCustomerNotFound
	}
	return &customer, nil
}

func (s *MemCustomerStore) Upsert(_ context.Context, customer *Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	stored := *customer
	if existing, ok := s.byAccount[customer.AccountID]; ok {
		stored.CreatedAt = existing.CreatedAt
		delete(s.byExternal, existing.ExternalID)
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	s.byAccount[stored.AccountID] = stored
	s.byExternal[stored.ExternalID] = stored.AccountID
	return nil
}

// MemSubscriptionStore is an in-memory SubscriptionStore for tests and
// single-node deployments.
type MemSubscriptionStore struct {
	mu   sync.RWMutex
	subs map[string]Subscription
}

func NewMemSubscriptionStore() *MemSubscriptionStore {
	return &MemSubscriptionStore{subs: make(map[string]Subscription)}
}

func (s *MemSubscriptionStore) Find(_ context.Context, id string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return &sub, nil
}

func (s *MemSubscriptionStore) ByAccount(_ context.Context, accountID uuid.UUID) ([]Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Subscription
	for _, sub := range s.subs {
		if sub.AccountID == accountID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemSubscriptionStore) Upsert(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	stored := *sub
	if existing, ok := s.subs[sub.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	s.subs[stored.ID] = stored
	return nil
}
