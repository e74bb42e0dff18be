package billing

import (
	"context"

	"github.com/google/uuid"
)

// CustomerStore persists account-to-provider identity mappings.
type CustomerStore interface {
	// ByExternalID returns the customer owning the provider customer id.
	// Returns ErrCustomerNotFound when no mapping exists.
	ByExternalID(ctx context.Context, externalID string) (*Customer, error)

	// ByAccount returns the customer record for a local account.
	// Returns ErrCustomerNotFound when no mapping exists.
	ByAccount(ctx context.Context, accountID uuid.UUID) (*Customer, error)

	// Upsert creates or replaces the mapping keyed by account id.
	Upsert(ctx context.Context, customer *Customer) error
}

// SubscriptionStore persists locally cached subscription state keyed
// by the external subscription id.
type SubscriptionStore interface {
	// Find returns the subscription by external id.
	// Returns ErrSubscriptionNotFound when it has never been seen.
	Find(ctx context.Context, id string) (*Subscription, error)

	// ByAccount lists all subscriptions owned by an account, newest first.
	ByAccount(ctx context.Context, accountID uuid.UUID) ([]Subscription, error)

	// Upsert creates or replaces the record keyed by external id.
	Upsert(ctx context.Context, sub *Subscription) error
}
