package provider

import (
	"context"
	"errors"
	"time"
)

// Client is the outbound collaborator for the external billing provider.
// Implementations wrap the provider SDK behind an explicit configuration
// struct; there is no process-global API key. Every call is a potentially
// slow, potentially failing network operation and carries a bounded timeout.
type Client interface {
	// RetrieveSubscription fetches the provider's view of a subscription.
	RetrieveSubscription(ctx context.Context, id string) (*Subscription, error)

	// RetrievePrice fetches pricing metadata for a price id.
	RetrievePrice(ctx context.Context, id string) (*Price, error)

	// RetrieveProduct fetches the parent product, whose metadata carries
	// the credit grant configuration.
	RetrieveProduct(ctx context.Context, id string) (*Product, error)

	// CreateCustomer registers a billing identity for a local account and
	// returns the provider's customer id.
	CreateCustomer(ctx context.Context, req CustomerRequest) (string, error)

	// CreateCheckoutSession starts a hosted checkout for one of the
	// checkout variants (subscription, one-time payment, setup).
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)

	// CreatePortalSession returns a self-service portal link for a customer.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error)
}

// Subscription is the provider-neutral subscription snapshot.
type Subscription struct {
	ID                 string
	CustomerID         string
	Status             string
	PriceID            string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	Livemode           bool
}

// Price is the provider-neutral price snapshot.
type Price struct {
	ID         string
	ProductID  string
	UnitAmount int64 // minor currency units
	Currency   string
	Interval   string
	Active     bool
	Livemode   bool
	Metadata   map[string]string
}

// Product carries the product name and the metadata the catalog reads
// credit grants from.
type Product struct {
	ID       string
	Name     string
	Metadata map[string]string
}

// CustomerRequest describes the billing identity to create.
type CustomerRequest struct {
	AccountID string // local account id, stored in provider metadata
	Email     string
	Name      string
}

// CheckoutSession is a started hosted checkout.
type CheckoutSession struct {
	ID  string
	URL string
}

// PortalSession is a pre-authenticated customer portal link.
type PortalSession struct {
	URL string
}

var (
	// ErrNotFound indicates the referenced object does not exist at the
	// provider.
	ErrNotFound = errors.New("provider object not found")

	// ErrUnavailable indicates a network failure or timeout talking to the
	// provider; the operation is retryable.
	ErrUnavailable = errors.New("billing provider unavailable")

	// ErrInvalidRequest indicates the provider rejected the request as
	// malformed; retrying without changes will not help.
	ErrInvalidRequest = errors.New("billing provider rejected request")
)
