package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// StripeConfig holds configuration for the Stripe-backed client.
// Keys starting with "sk_test_" select test mode on the provider side.
type StripeConfig struct {
	APIKey  string        `env:"STRIPE_API_KEY,required"`
	Timeout time.Duration `env:"STRIPE_TIMEOUT" envDefault:"10s"`
}

// StripeClient implements Client using the official Stripe SDK. The API key
// is scoped to this client instance, never set process-wide.
type StripeClient struct {
	api     *client.API
	timeout time.Duration
}

// NewStripeClient creates a Stripe-backed provider client.
func NewStripeClient(cfg StripeConfig) (*StripeClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("stripe API key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	api := &client.API{}
	api.Init(cfg.APIKey, nil)

	return &StripeClient{api: api, timeout: timeout}, nil
}

func (c *StripeClient) RetrieveSubscription(ctx context.Context, id string) (*Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	sub, err := c.api.Subscriptions.Get(id, &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, classifyStripeErr(err)
	}

	out := &Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Livemode:          sub.Livemode,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	// Price and billing period live on the first subscription item.
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
		out.CurrentPeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		out.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
	}
	return out, nil
}

func (c *StripeClient) RetrievePrice(ctx context.Context, id string) (*Price, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	price, err := c.api.Prices.Get(id, &stripe.PriceParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, classifyStripeErr(err)
	}

	out := &Price{
		ID:         price.ID,
		UnitAmount: price.UnitAmount,
		Currency:   NormalizeCurrency(string(price.Currency)),
		Active:     price.Active,
		Livemode:   price.Livemode,
		Metadata:   price.Metadata,
	}
	if price.Product != nil {
		out.ProductID = price.Product.ID
	}
	if price.Recurring != nil {
		out.Interval = string(price.Recurring.Interval)
	}
	return out, nil
}

func (c *StripeClient) RetrieveProduct(ctx context.Context, id string) (*Product, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	product, err := c.api.Products.Get(id, &stripe.ProductParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, classifyStripeErr(err)
	}
	return &Product{ID: product.ID, Name: product.Name, Metadata: product.Metadata}, nil
}

func (c *StripeClient) CreateCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
		Email:  stripe.String(req.Email),
	}
	if req.Name != "" {
		params.Name = stripe.String(req.Name)
	}
	params.AddMetadata("account_id", req.AccountID)

	customer, err := c.api.Customers.New(params)
	if err != nil {
		return "", classifyStripeErr(err)
	}
	return customer.ID, nil
}

func (c *StripeClient) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if err := req.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidRequest, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Params:     stripe.Params{Context: ctx},
		Customer:   stripe.String(req.CustomerID),
		Mode:       stripe.String(req.Params.Mode()),
		SuccessURL: stripe.String(req.SuccessURL),
	}
	if req.CancelURL != "" {
		params.CancelURL = stripe.String(req.CancelURL)
	}
	if req.ClientReferenceID != "" {
		params.ClientReferenceID = stripe.String(req.ClientReferenceID)
	}

	switch p := req.Params.(type) {
	case SubscriptionCheckout:
		quantity := p.Quantity
		if quantity == 0 {
			quantity = 1
		}
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(p.PriceID),
			Quantity: stripe.Int64(quantity),
		}}
		if p.AllowPromotionCodes {
			params.AllowPromotionCodes = stripe.Bool(true)
		}
		params.BillingAddressCollection = stripe.String("required")
	case OneTimeCheckout:
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(NormalizeCurrency(p.Currency)),
				UnitAmount: stripe.Int64(p.AmountMinor),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(p.ProductName),
				},
			},
			Quantity: stripe.Int64(1),
		}}
	case SetupCheckout:
		// setup mode takes no line items
	default:
		return nil, fmt.Errorf("%w: unknown checkout params %T", ErrInvalidRequest, req.Params)
	}

	session, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, classifyStripeErr(err)
	}
	return &CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

func (c *StripeClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripe.BillingPortalSessionParams{
		Params:   stripe.Params{Context: ctx},
		Customer: stripe.String(customerID),
	}
	if returnURL != "" {
		params.ReturnURL = stripe.String(returnURL)
	}

	session, err := c.api.BillingPortalSessions.New(params)
	if err != nil {
		return nil, classifyStripeErr(err)
	}
	return &PortalSession{URL: session.URL}, nil
}

// classifyStripeErr maps SDK errors onto the provider error taxonomy so
// callers can distinguish retryable failures from permanent ones.
func classifyStripeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errors.Join(ErrUnavailable, err)
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.Code == stripe.ErrorCodeResourceMissing,
			stripeErr.HTTPStatusCode == http.StatusNotFound:
			return errors.Join(ErrNotFound, err)
		case stripeErr.HTTPStatusCode >= http.StatusInternalServerError,
			stripeErr.HTTPStatusCode == http.StatusTooManyRequests:
			return errors.Join(ErrUnavailable, err)
		default:
			return errors.Join(ErrInvalidRequest, err)
		}
	}

	// Anything without an HTTP response is assumed to be transport trouble.
	return errors.Join(ErrUnavailable, err)
}
