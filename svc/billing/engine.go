package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/dmitrymomot/creditkit/pkg/catalog"
	"github.com/dmitrymomot/creditkit/pkg/ledger"
	"github.com/dmitrymomot/creditkit/pkg/provider"
)

// TxRunner wraps a handler invocation in one storage transaction.
// Subscription and customer mutations and ledger allocations made
// inside fn commit or roll back together. The default runner is a
// passthrough for stores without transaction support.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// Change describes a committed state transition, delivered to the
// optional post-commit hook after the transaction has committed.
type Change struct {
	EventID        string
	EventType      string
	AccountID      uuid.UUID
	SubscriptionID string
	Status         Status
}

// Engine reconciles local billing state against the provider's event
// stream. It owns the per-event transaction boundary and the retry and
// acknowledgment policy.
type Engine struct {
	log       *slog.Logger
	customers CustomerStore
	subs      SubscriptionStore
	catalog   *catalog.Resolver
	credits   *ledger.Service
	accounts  ledger.Store
	client    provider.Client

	runTx       TxRunner
	seen        EventFilter
	afterCommit func(context.Context, Change)

	subLocks keyedLocks
}

// EventFilter is an optional first-seen check in front of the
// structurally idempotent handlers, satisfied by dedupe.Deduper.
type EventFilter interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// EngineOption configures optional Engine settings.
type EngineOption func(*Engine)

// WithTxRunner installs the storage transaction boundary.
func WithTxRunner(run TxRunner) EngineOption {
	return func(e *Engine) {
		if run != nil {
			e.runTx = run
		}
	}
}

// WithEventFilter enables event-id deduplication in front of dispatch.
func WithEventFilter(filter EventFilter) EngineOption {
	return func(e *Engine) {
		e.seen = filter
	}
}

// WithAfterCommit installs a hook invoked after a committed state
// change. The hook runs outside the transaction; failures in it do not
// affect the event outcome.
func WithAfterCommit(hook func(context.Context, Change)) EngineOption {
	return func(e *Engine) {
		e.afterCommit = hook
	}
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) EngineOption {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// NewEngine creates the reconciliation engine.
// Panics if any required dependency is nil to fail fast during initialization.
func NewEngine(
	customers CustomerStore,
	subs SubscriptionStore,
	plans *catalog.Resolver,
	credits *ledger.Service,
	accounts ledger.Store,
	client provider.Client,
	opts ...EngineOption,
) *Engine {
	if customers == nil {
		panic("billing: CustomerStore is required")
	}
	if subs == nil {
		panic("billing: SubscriptionStore is required")
	}
	if plans == nil {
		panic("billing: catalog.Resolver is required")
	}
	if credits == nil {
		panic("billing: ledger.Service is required")
	}
	if accounts == nil {
		panic("billing: ledger.Store is required")
	}
	if client == nil {
		panic("billing: provider.Client is required")
	}
	e := &Engine{
		log:       slog.Default(),
		customers: customers,
		subs:      subs,
		catalog:   plans,
		credits:   credits,
		accounts:  accounts,
		client:    client,
		runTx: func(ctx context.Context, fn func(ctx context.Context) error) error {
			return fn(ctx)
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// reconcile applies a provider subscription snapshot to local state.
// It is the state machine core: every lifecycle handler funnels
// through here under the per-subscription lock.
func (e *Engine) reconcile(ctx context.Context, accountID uuid.UUID, snap *snapshot) error {
	unlock := e.subLocks.lock(snap.ID)
	defer unlock()

	stored, err := e.subs.Find(ctx, snap.ID)
	switch {
	case err == nil:
		return e.reconcileExisting(ctx, stored, snap)
	case errors.Is(err, ErrSubscriptionNotFound):
		return e.reconcileNew(ctx, accountID, snap)
	default:
		return err
	}
}

func (e *Engine) reconcileNew(ctx context.Context, accountID uuid.UUID, snap *snapshot) error {
	plan, err := e.catalog.Resolve(ctx, snap.PriceID)
	if err != nil {
		return err
	}

	if err := e.subs.Upsert(ctx, &Subscription{
		ID:                 snap.ID,
		AccountID:          accountID,
		Status:             snap.Status,
		PriceID:            snap.PriceID,
		CurrentPeriodStart: snap.PeriodStart,
		CurrentPeriodEnd:   snap.PeriodEnd,
		CancelAtPeriodEnd:  snap.CancelAtPeriodEnd,
		Livemode:           snap.Livemode,
	}); err != nil {
		return err
	}

	if snap.Status == StatusActive && plan.InitialCredits > 0 {
		description := fmt.Sprintf("Initial credits for %s subscription", plan.Name)
		if _, err := e.credits.Allocate(ctx, accountID, plan.InitialCredits, ledger.ReasonInitial, snap.ID, description); err != nil {
			return err
		}
	}

	return e.applyTier(ctx, accountID, snap.Status, plan)
}

func (e *Engine) reconcileExisting(ctx context.Context, stored *Subscription, snap *snapshot) error {
	// Terminal records never come back to life under the same id; the
	// provider creates a new subscription id for a genuine restart.
	// The error lands in the dispatcher's log-and-acknowledge path, so
	// the provider stops redelivering.
	if stored.IsTerminal() && snap.Status != stored.Status {
		return fmt.Errorf("subscription %s is %s, rejected transition to %s: %w",
			stored.ID, stored.Status, snap.Status, ErrTerminalState)
	}

	// Out-of-order protection: the provider does not guarantee delivery
	// order, so a replayed or late event that moves nothing forward is
	// dropped without a write or a ledger call.
	if !snap.PeriodEnd.After(stored.CurrentPeriodEnd) &&
		snap.Status == stored.Status &&
		snap.PriceID == stored.PriceID {
		e.log.DebugContext(ctx, "skipped stale subscription update",
			slog.String("subscription_id", stored.ID))
		return nil
	}

	plan, err := e.catalog.Resolve(ctx, snap.PriceID)
	if err != nil {
		return err
	}

	// The upgrade delta applies only while the subscription stays
	// active on both sides. A plan change that coincides with the first
	// arrival at active is covered by the initial grant below; paying
	// both would double-allocate.
	if stored.PriceID != snap.PriceID &&
		stored.Status == StatusActive && snap.Status == StatusActive {
		if err := e.applyPlanChange(ctx, stored, snap, plan); err != nil {
			return err
		}
	}

	// First arrival at active grants the plan's initial credits; the
	// ledger key dedupes replays, the status comparison keeps
	// active-to-active no-ops from reaching the ledger at all.
	if snap.Status == StatusActive && stored.Status != StatusActive && plan.InitialCredits > 0 {
		description := fmt.Sprintf("Initial credits for %s subscription", plan.Name)
		if _, err := e.credits.Allocate(ctx, stored.AccountID, plan.InitialCredits, ledger.ReasonInitial, snap.ID, description); err != nil {
			return err
		}
	}

	if err := e.subs.Upsert(ctx, &Subscription{
		ID:                 snap.ID,
		AccountID:          stored.AccountID,
		Status:             snap.Status,
		PriceID:            snap.PriceID,
		CurrentPeriodStart: snap.PeriodStart,
		CurrentPeriodEnd:   snap.PeriodEnd,
		CancelAtPeriodEnd:  snap.CancelAtPeriodEnd,
		Livemode:           snap.Livemode,
		CreatedAt:          stored.CreatedAt,
	}); err != nil {
		return err
	}

	return e.applyTier(ctx, stored.AccountID, snap.Status, plan)
}

// applyPlanChange grants the initial-credit delta on an upgrade. A
// downgrade never reclaims credits; future recurring grants pick up
// the new plan's amount on their own.
func (e *Engine) applyPlanChange(ctx context.Context, stored *Subscription, snap *snapshot, newPlan *catalog.Plan) error {
	oldPlan, err := e.catalog.Resolve(ctx, stored.PriceID)
	if err != nil {
		return err
	}

	delta := newPlan.InitialCredits - oldPlan.InitialCredits
	if delta <= 0 {
		return nil
	}

	description := fmt.Sprintf("Additional credits for upgrading to %s", newPlan.Name)
	correlationID := snap.ID + ":" + newPlan.PriceID
	_, err = e.credits.Allocate(ctx, stored.AccountID, delta, ledger.ReasonUpgrade, correlationID, description)
	return err
}

// applyTier reclassifies the account from the plan name, or resets it
// to free when the subscription reaches a terminal status.
func (e *Engine) applyTier(ctx context.Context, accountID uuid.UUID, status Status, plan *catalog.Plan) error {
	tier := catalog.TierFor(plan.Name)
	if status.Terminal() {
		tier = catalog.TierFree
	}
	return e.accounts.SetTier(ctx, accountID, string(tier))
}

// accountForCustomer maps the provider customer id to a local account.
func (e *Engine) accountForCustomer(ctx context.Context, externalID string) (uuid.UUID, error) {
	if externalID == "" {
		return uuid.Nil, errors.Join(ErrCustomerNotFound, errors.New("event carries no customer id"))
	}
	customer, err := e.customers.ByExternalID(ctx, externalID)
	if err != nil {
		return uuid.Nil, err
	}
	return customer.AccountID, nil
}

// keyedLocks hands out one mutex per subscription id so concurrent
// events for the same subscription cannot interleave their
// read-modify-write.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func (l *keyedLocks) lock(key string) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*refLock)
	}
	e, ok := l.locks[key]
	if !ok {
		e = &refLock{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
