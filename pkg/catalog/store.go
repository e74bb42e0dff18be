package catalog

import (
	"context"
	"sync"
)

// Store defines plan cache persistence, keyed uniquely on the provider
// price id.
type Store interface {
	// Find returns the cached plan or ErrPlanNotFound.
	Find(ctx context.Context, priceID string) (*Plan, error)

	// Create inserts a plan. Inserting an existing price id returns
	// ErrDuplicatePlan so concurrent hydrations collapse to one row.
	Create(ctx context.Context, plan *Plan) error

	// Update overwrites the cached plan; used only by explicit refresh.
	Update(ctx context.Context, plan *Plan) error
}

type memStore struct {
	mu    sync.RWMutex
	plans map[string]*Plan
}

// NewMemStore returns an empty in-memory plan store.
func NewMemStore() Store {
	return &memStore{plans: make(map[string]*Plan)}
}

func (s *memStore) Find(ctx context.Context, priceID string) (*Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plan, ok := s.plans[priceID]
	if !ok {
		return nil, ErrPlanNotFound
	}
	cp := *plan
	return &cp, nil
}

func (s *memStore) Create(ctx context.Context, plan *Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plans[plan.PriceID]; ok {
		return ErrDuplicatePlan
	}
	cp := *plan
	s.plans[plan.PriceID] = &cp
	return nil
}

func (s *memStore) Update(ctx context.Context, plan *Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plans[plan.PriceID]; !ok {
		return ErrPlanNotFound
	}
	cp := *plan
	s.plans[plan.PriceID] = &cp
	return nil
}
