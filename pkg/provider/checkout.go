package provider

import (
	"errors"
	"fmt"
	"strings"
)

// CheckoutRequest describes a hosted checkout session. The Params field is
// a tagged union over the checkout modes; each variant carries its own
// required fields and validates itself before any provider call is made.
type CheckoutRequest struct {
	CustomerID        string
	ClientReferenceID string // local account id echoed back in webhooks
	SuccessURL        string
	CancelURL         string
	Params            CheckoutParams
}

// Validate checks the request including its mode-specific params.
func (r CheckoutRequest) Validate() error {
	if r.CustomerID == "" {
		return errors.New("customer id is required")
	}
	if r.SuccessURL == "" {
		return errors.New("success url is required")
	}
	if r.Params == nil {
		return errors.New("checkout params are required")
	}
	return r.Params.validate()
}

// CheckoutParams is implemented by exactly the three checkout variants.
type CheckoutParams interface {
	// Mode returns the provider checkout mode string.
	Mode() string

	validate() error
}

// SubscriptionCheckout starts a recurring subscription for a catalog price.
type SubscriptionCheckout struct {
	PriceID             string
	Quantity            int64 // defaults to 1
	AllowPromotionCodes bool
}

func (p SubscriptionCheckout) Mode() string { return "subscription" }

func (p SubscriptionCheckout) validate() error {
	if p.PriceID == "" {
		return errors.New("price id is required for subscription checkout")
	}
	if p.Quantity < 0 {
		return errors.New("quantity must not be negative")
	}
	return nil
}

// OneTimeCheckout collects a single ad-hoc payment.
type OneTimeCheckout struct {
	AmountMinor int64 // smallest currency unit
	Currency    string
	ProductName string
}

func (p OneTimeCheckout) Mode() string { return "payment" }

func (p OneTimeCheckout) validate() error {
	if p.AmountMinor <= 0 {
		return errors.New("amount must be positive for one-time checkout")
	}
	if len(p.Currency) != 3 {
		return fmt.Errorf("invalid currency code %q", p.Currency)
	}
	if p.ProductName == "" {
		return errors.New("product name is required for one-time checkout")
	}
	return nil
}

// SetupCheckout stores a payment method without charging anything.
type SetupCheckout struct{}

func (p SetupCheckout) Mode() string { return "setup" }

func (p SetupCheckout) validate() error { return nil }

// NormalizeCurrency lower-cases a currency code the way plans store it.
func NormalizeCurrency(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
