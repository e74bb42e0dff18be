package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dmitrymomot/creditkit/pkg/provider"
)

// metadata keys read from the provider product.
const (
	metaInitialCredits   = "initial_credits"
	metaRecurringCredits = "monthly_credits"
)

// Resolver is the plan catalog: a local cache of provider pricing,
// hydrated lazily on first reference to an unseen price id.
type Resolver struct {
	store  Store
	client provider.Client

	mu       sync.Mutex
	inflight map[string]*sync.Mutex
}

// NewResolver creates a plan catalog resolver.
// Panics if store or client is nil to fail fast during initialization.
func NewResolver(store Store, client provider.Client) *Resolver {
	if store == nil {
		panic("catalog: Store is required")
	}
	if client == nil {
		panic("catalog: provider.Client is required")
	}
	return &Resolver{
		store:    store,
		client:   client,
		inflight: make(map[string]*sync.Mutex),
	}
}

// Resolve returns the plan for a provider price id, hydrating the local
// cache from the provider on a miss. Concurrent resolves of the same
// unseen price id produce exactly one plan row.
func (r *Resolver) Resolve(ctx context.Context, priceID string) (*Plan, error) {
	if priceID == "" {
		return nil, errors.Join(ErrInvalidPlan, errors.New("price id is required"))
	}

	if plan, err := r.store.Find(ctx, priceID); err == nil {
		return plan, nil
	} else if !errors.Is(err, ErrPlanNotFound) {
		return nil, err
	}

	// One hydration per price id at a time; losers of the race re-read
	// the cache instead of hitting the provider again.
	unlock := r.lockPrice(priceID)
	defer unlock()

	if plan, err := r.store.Find(ctx, priceID); err == nil {
		return plan, nil
	} else if !errors.Is(err, ErrPlanNotFound) {
		return nil, err
	}

	plan, err := r.hydrate(ctx, priceID)
	if err != nil {
		return nil, err
	}

	if err := r.store.Create(ctx, plan); err != nil {
		// Another replica created the row first; theirs wins.
		if errors.Is(err, ErrDuplicatePlan) {
			return r.store.Find(ctx, priceID)
		}
		return nil, err
	}
	return plan, nil
}

// Refresh re-hydrates an already cached plan from the provider. This is
// the only path that mutates an existing plan row.
func (r *Resolver) Refresh(ctx context.Context, priceID string) (*Plan, error) {
	plan, err := r.hydrate(ctx, priceID)
	if err != nil {
		return nil, err
	}
	if err := r.store.Update(ctx, plan); err != nil {
		if errors.Is(err, ErrPlanNotFound) {
			if createErr := r.store.Create(ctx, plan); createErr != nil && !errors.Is(createErr, ErrDuplicatePlan) {
				return nil, createErr
			}
			return plan, nil
		}
		return nil, err
	}
	return plan, nil
}

func (r *Resolver) hydrate(ctx context.Context, priceID string) (*Plan, error) {
	price, err := r.client.RetrievePrice(ctx, priceID)
	if err != nil {
		return nil, fmt.Errorf("retrieve price %s: %w", priceID, err)
	}
	product, err := r.client.RetrieveProduct(ctx, price.ProductID)
	if err != nil {
		return nil, fmt.Errorf("retrieve product %s: %w", price.ProductID, err)
	}

	amount := price.UnitAmount
	if amount < 0 {
		amount = 0
	}
	return &Plan{
		PriceID:          price.ID,
		Name:             product.Name,
		Amount:           amount,
		Currency:         strings.ToLower(price.Currency),
		Interval:         price.Interval,
		InitialCredits:   CreditsFromMetadata(product.Metadata, metaInitialCredits),
		RecurringCredits: CreditsFromMetadata(product.Metadata, metaRecurringCredits),
		Active:           price.Active,
		Livemode:         price.Livemode,
	}, nil
}

func (r *Resolver) lockPrice(priceID string) (unlock func()) {
	r.mu.Lock()
	m, ok := r.inflight[priceID]
	if !ok {
		m = &sync.Mutex{}
		r.inflight[priceID] = m
	}
	r.mu.Unlock()

	m.Lock()
	return m.Unlock
}
