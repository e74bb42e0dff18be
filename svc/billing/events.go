package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Provider event names the engine reacts to. Everything else is
// ignored by the dispatcher.
const (
	EventCheckoutCompleted      = "checkout.session.completed"
	EventSubscriptionCreated    = "customer.subscription.created"
	EventSubscriptionUpdated    = "customer.subscription.updated"
	EventSubscriptionDeleted    = "customer.subscription.deleted"
	EventInvoicePaymentOK       = "invoice.payment_succeeded"
	EventInvoicePaymentFailed   = "invoice.payment_failed"
	EventCustomerUpdated        = "customer.updated"
	EventPaymentIntentSucceeded = "payment_intent.succeeded"
	EventPaymentIntentFailed    = "payment_intent.payment_failed"
	EventChargeRefunded         = "charge.refunded"
	EventDisputeCreated         = "charge.dispute.created"
	EventFraudWarningCreated    = "radar.early_fraud_warning.created"
)

// decodeObject extracts the embedded object from an event's data field.
func decodeObject[T any](data json.RawMessage) (*T, error) {
	var envelope struct {
		Object json.RawMessage `json:"object"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, errors.Join(ErrInvalidEvent, err)
	}
	if len(envelope.Object) == 0 {
		return nil, errors.Join(ErrInvalidEvent, errors.New("event data has no object"))
	}
	var obj T
	if err := json.Unmarshal(envelope.Object, &obj); err != nil {
		return nil, errors.Join(ErrInvalidEvent, err)
	}
	return &obj, nil
}

type subscriptionPayload struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	Livemode           bool   `json:"livemode"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
			Price              struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// snapshot is the provider's view of a subscription, normalized from
// either the webhook payload or a provider API fetch.
type snapshot struct {
	ID                string
	CustomerID        string
	Status            Status
	PriceID           string
	PeriodStart       time.Time
	PeriodEnd         time.Time
	CancelAtPeriodEnd bool
	Livemode          bool
}

// toSnapshot normalizes the payload. Period markers moved from the
// subscription to its items in newer provider API versions, so both
// locations are accepted.
func (p *subscriptionPayload) toSnapshot() (*snapshot, error) {
	if p.ID == "" {
		return nil, errors.Join(ErrInvalidEvent, errors.New("subscription id is required"))
	}
	status := Status(p.Status)
	if !status.Valid() {
		return nil, errors.Join(ErrInvalidEvent, fmt.Errorf("unknown subscription status %q", p.Status))
	}

	snap := &snapshot{
		ID:                p.ID,
		CustomerID:        p.Customer,
		Status:            status,
		CancelAtPeriodEnd: p.CancelAtPeriodEnd,
		Livemode:          p.Livemode,
	}

	periodStart, periodEnd := p.CurrentPeriodStart, p.CurrentPeriodEnd
	if len(p.Items.Data) > 0 {
		item := p.Items.Data[0]
		snap.PriceID = item.Price.ID
		if periodStart == 0 {
			periodStart = item.CurrentPeriodStart
		}
		if periodEnd == 0 {
			periodEnd = item.CurrentPeriodEnd
		}
	}
	if snap.PriceID == "" {
		return nil, errors.Join(ErrInvalidEvent, errors.New("subscription has no price"))
	}
	if periodStart > 0 {
		snap.PeriodStart = time.Unix(periodStart, 0).UTC()
	}
	if periodEnd > 0 {
		snap.PeriodEnd = time.Unix(periodEnd, 0).UTC()
	}
	if err := snap.validatePeriod(); err != nil {
		return nil, err
	}
	return snap, nil
}

// validatePeriod rejects an inverted or empty billing period. Periods
// may be absent entirely (e.g. incomplete subscriptions).
func (s *snapshot) validatePeriod() error {
	if s.PeriodStart.IsZero() || s.PeriodEnd.IsZero() {
		return nil
	}
	if !s.PeriodStart.Before(s.PeriodEnd) {
		return errors.Join(ErrInvalidEvent,
			fmt.Errorf("billing period start %s is not before end %s", s.PeriodStart, s.PeriodEnd))
	}
	return nil
}

type checkoutSessionPayload struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Subscription      string `json:"subscription"`
	ClientReferenceID string `json:"client_reference_id"`
	Mode              string `json:"mode"`
	Livemode          bool   `json:"livemode"`
}

type invoicePayload struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	Subscription  string `json:"subscription"`
	BillingReason string `json:"billing_reason"`
	Livemode      bool   `json:"livemode"`
}

type objectWithID struct {
	ID string `json:"id"`
}
