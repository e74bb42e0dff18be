package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/creditkit/pkg/catalog"
	"github.com/dmitrymomot/creditkit/pkg/ledger"
	"github.com/dmitrymomot/creditkit/pkg/provider"
	"github.com/dmitrymomot/creditkit/pkg/signature"
)

// Outcome is the acknowledgment decision for a dispatched event.
type Outcome string

const (
	// OutcomeHandled acknowledges the event as processed. Per policy
	// this includes events whose handler failed on a non-critical
	// internal error: those are logged, not retried by the provider.
	OutcomeHandled Outcome = "handled"

	// OutcomeIgnored acknowledges an event type the engine has no
	// handler for. Not an error.
	OutcomeIgnored Outcome = "ignored"
)

type handlerFunc func(ctx context.Context, event *signature.Event) (*Change, error)

func (e *Engine) handlerFor(eventType string) (handlerFunc, bool) {
	switch eventType {
	case EventCheckoutCompleted:
		return e.handleCheckoutCompleted, true
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return e.handleSubscriptionChanged, true
	case EventSubscriptionDeleted:
		return e.handleSubscriptionDeleted, true
	case EventInvoicePaymentOK:
		return e.handleInvoicePaid, true
	case EventInvoicePaymentFailed:
		return e.handleInvoiceFailed, true
	case EventCustomerUpdated, EventPaymentIntentSucceeded, EventPaymentIntentFailed,
		EventChargeRefunded, EventDisputeCreated, EventFraudWarningCreated:
		return e.handleLogged, true
	}
	return nil, false
}

// Dispatch routes a verified event to its handler inside one storage
// transaction and decides the acknowledgment outcome.
//
// Error policy: customer-not-found, retryable provider failures, and
// ledger invariant violations propagate to the caller; every other
// handler error is logged and the event is acknowledged so the
// provider does not retry indefinitely against a bug.
func (e *Engine) Dispatch(ctx context.Context, event *signature.Event) (Outcome, error) {
	handler, ok := e.handlerFor(event.Type)
	if !ok {
		e.log.DebugContext(ctx, "ignored unhandled event type",
			slog.String("event_id", event.ID),
			slog.String("event_type", event.Type))
		return OutcomeIgnored, nil
	}

	// The dedup filter is a fast path only; a filter outage degrades
	// to letting the event through to the idempotent handlers.
	if e.seen != nil {
		dup, err := e.seen.Seen(ctx, event.ID)
		if err != nil {
			e.log.WarnContext(ctx, "event dedup check failed",
				slog.String("event_id", event.ID),
				slog.Any("error", err))
		} else if dup {
			e.log.InfoContext(ctx, "skipped duplicate event",
				slog.String("event_id", event.ID),
				slog.String("event_type", event.Type))
			return OutcomeHandled, nil
		}
	}

	var change *Change
	err := e.runTx(ctx, func(ctx context.Context) error {
		var handleErr error
		change, handleErr = handler(ctx, event)
		return handleErr
	})
	if err != nil {
		if e.seen != nil {
			// Unmark so a provider redelivery gets another attempt.
			if forgetErr := e.seen.Forget(ctx, event.ID); forgetErr != nil {
				e.log.WarnContext(ctx, "failed to unmark event",
					slog.String("event_id", event.ID),
					slog.Any("error", forgetErr))
			}
		}

		switch {
		case errors.Is(err, ErrCustomerNotFound):
			return "", err
		case errors.Is(err, provider.ErrUnavailable):
			return "", err
		case ledger.IsInvariantViolation(err):
			e.log.ErrorContext(ctx, "ledger invariant violation",
				slog.String("event_id", event.ID),
				slog.String("event_type", event.Type),
				slog.Any("error", err))
			return "", err
		}

		if errors.Is(err, ErrTerminalState) {
			e.log.WarnContext(ctx, "rejected update to terminal subscription",
				slog.String("event_id", event.ID),
				slog.String("event_type", event.Type),
				slog.Any("error", err))
			return OutcomeHandled, nil
		}

		e.log.ErrorContext(ctx, "event handler failed",
			slog.String("event_id", event.ID),
			slog.String("event_type", event.Type),
			slog.Any("error", err))
		return OutcomeHandled, nil
	}

	if change != nil && e.afterCommit != nil {
		change.EventID = event.ID
		change.EventType = event.Type
		e.afterCommit(ctx, *change)
	}
	return OutcomeHandled, nil
}

// handleCheckoutCompleted links the local account named by the
// checkout's client reference to the provider customer, then pulls the
// fresh subscription from the provider and reconciles it.
func (e *Engine) handleCheckoutCompleted(ctx context.Context, event *signature.Event) (*Change, error) {
	session, err := decodeObject[checkoutSessionPayload](event.Data)
	if err != nil {
		return nil, err
	}
	if session.Subscription == "" {
		e.log.InfoContext(ctx, "checkout session was not for a subscription",
			slog.String("session_id", session.ID))
		return nil, nil
	}

	accountID, err := uuid.Parse(session.ClientReferenceID)
	if err != nil {
		return nil, fmt.Errorf("checkout session %s has no usable client reference: %w", session.ID, err)
	}

	if err := e.customers.Upsert(ctx, &Customer{
		AccountID:  accountID,
		ExternalID: session.Customer,
		Livemode:   session.Livemode,
	}); err != nil {
		return nil, err
	}
	if err := e.accounts.CreateAccount(ctx, accountID, string(catalog.TierFree)); err != nil {
		return nil, err
	}

	sub, err := e.client.RetrieveSubscription(ctx, session.Subscription)
	if err != nil {
		return nil, err
	}
	snap, err := snapshotFromProvider(sub)
	if err != nil {
		return nil, err
	}

	if err := e.reconcile(ctx, accountID, snap); err != nil {
		return nil, err
	}
	return &Change{AccountID: accountID, SubscriptionID: snap.ID, Status: snap.Status}, nil
}

// handleSubscriptionChanged covers both subscription created and
// updated events: the reconcile path treats an unseen subscription id
// as a create, which doubles as backfill for a lost created event.
func (e *Engine) handleSubscriptionChanged(ctx context.Context, event *signature.Event) (*Change, error) {
	payload, err := decodeObject[subscriptionPayload](event.Data)
	if err != nil {
		return nil, err
	}
	snap, err := payload.toSnapshot()
	if err != nil {
		return nil, err
	}

	accountID, err := e.accountForCustomer(ctx, snap.CustomerID)
	if err != nil {
		return nil, err
	}
	if err := e.accounts.CreateAccount(ctx, accountID, string(catalog.TierFree)); err != nil {
		return nil, err
	}

	if err := e.reconcile(ctx, accountID, snap); err != nil {
		return nil, err
	}
	return &Change{AccountID: accountID, SubscriptionID: snap.ID, Status: snap.Status}, nil
}

func (e *Engine) handleSubscriptionDeleted(ctx context.Context, event *signature.Event) (*Change, error) {
	payload, err := decodeObject[subscriptionPayload](event.Data)
	if err != nil {
		return nil, err
	}
	snap, err := payload.toSnapshot()
	if err != nil {
		return nil, err
	}

	stored, err := e.subs.Find(ctx, snap.ID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			e.log.WarnContext(ctx, "deletion for unknown subscription",
				slog.String("subscription_id", snap.ID))
			return nil, nil
		}
		return nil, err
	}

	if err := e.reconcile(ctx, stored.AccountID, snap); err != nil {
		return nil, err
	}
	return &Change{AccountID: stored.AccountID, SubscriptionID: snap.ID, Status: snap.Status}, nil
}

// handleInvoicePaid grants the plan's recurring credits for a paid
// subscription invoice. The invoice id is the idempotency correlation,
// so each billing period grants once regardless of redelivery.
func (e *Engine) handleInvoicePaid(ctx context.Context, event *signature.Event) (*Change, error) {
	invoice, err := decodeObject[invoicePayload](event.Data)
	if err != nil {
		return nil, err
	}
	if invoice.Subscription == "" {
		return nil, nil
	}

	sub, err := e.subs.Find(ctx, invoice.Subscription)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			e.log.ErrorContext(ctx, "paid invoice for unknown subscription",
				slog.String("invoice_id", invoice.ID),
				slog.String("subscription_id", invoice.Subscription))
			return nil, nil
		}
		return nil, err
	}

	plan, err := e.catalog.Resolve(ctx, sub.PriceID)
	if err != nil {
		return nil, err
	}
	if plan.RecurringCredits <= 0 {
		return nil, nil
	}

	description := fmt.Sprintf("Monthly credits for %s subscription", plan.Name)
	result, err := e.credits.Allocate(ctx, sub.AccountID, plan.RecurringCredits, ledger.ReasonRecurring, invoice.ID, description)
	if err != nil {
		return nil, err
	}
	if result.AlreadyApplied {
		return nil, nil
	}

	e.log.InfoContext(ctx, "allocated recurring credits",
		slog.String("invoice_id", invoice.ID),
		slog.String("account_id", sub.AccountID.String()),
		slog.Int64("amount", plan.RecurringCredits))
	return &Change{AccountID: sub.AccountID, SubscriptionID: sub.ID, Status: sub.Status}, nil
}

// handleInvoiceFailed marks the subscription past due; already granted
// credits are not clawed back. The authoritative status arrives with
// the following subscription updated event.
func (e *Engine) handleInvoiceFailed(ctx context.Context, event *signature.Event) (*Change, error) {
	invoice, err := decodeObject[invoicePayload](event.Data)
	if err != nil {
		return nil, err
	}
	if invoice.Subscription == "" {
		return nil, nil
	}

	unlock := e.subLocks.lock(invoice.Subscription)
	defer unlock()

	sub, err := e.subs.Find(ctx, invoice.Subscription)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			e.log.ErrorContext(ctx, "failed invoice for unknown subscription",
				slog.String("invoice_id", invoice.ID),
				slog.String("subscription_id", invoice.Subscription))
			return nil, nil
		}
		return nil, err
	}
	if sub.IsTerminal() || sub.Status == StatusPastDue {
		return nil, nil
	}

	sub.Status = StatusPastDue
	if err := e.subs.Upsert(ctx, sub); err != nil {
		return nil, err
	}
	return &Change{AccountID: sub.AccountID, SubscriptionID: sub.ID, Status: sub.Status}, nil
}

// handleLogged covers event types recorded for audit only.
func (e *Engine) handleLogged(ctx context.Context, event *signature.Event) (*Change, error) {
	obj, err := decodeObject[objectWithID](event.Data)
	if err != nil {
		return nil, err
	}
	e.log.InfoContext(ctx, "observed billing event",
		slog.String("event_type", event.Type),
		slog.String("object_id", obj.ID))
	return nil, nil
}

func snapshotFromProvider(sub *provider.Subscription) (*snapshot, error) {
	status := Status(sub.Status)
	if !status.Valid() {
		return nil, errors.Join(ErrInvalidEvent, fmt.Errorf("unknown subscription status %q", sub.Status))
	}
	if sub.PriceID == "" {
		return nil, errors.Join(ErrInvalidEvent, errors.New("subscription has no price"))
	}
	snap := &snapshot{
		ID:                sub.ID,
		CustomerID:        sub.CustomerID,
		Status:            status,
		PriceID:           sub.PriceID,
		PeriodStart:       sub.CurrentPeriodStart,
		PeriodEnd:         sub.CurrentPeriodEnd,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Livemode:          sub.Livemode,
	}
	if err := snap.validatePeriod(); err != nil {
		return nil, err
	}
	return snap, nil
}
