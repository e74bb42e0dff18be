package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/creditkit/pkg/pg"
)

// PostgresCustomerStore persists customers in the customers table.
type PostgresCustomerStore struct {
	pool *pgxpool.Pool
}

func NewPostgresCustomerStore(pool *pgxpool.Pool) *PostgresCustomerStore {
	if pool == nil {
		panic("billing: pgxpool is required")
	}
	return &PostgresCustomerStore{pool: pool}
}

func (s *PostgresCustomerStore) ByExternalID(ctx context.Context, externalID string) (*Customer, error) {
	q := pg.QuerierFrom(ctx, s.pool)
	row := q.QueryRow(ctx, `
		SELECT account_id, external_id, livemode, created_at, updated_at
		FROM customers
		WHERE external_id = $1`, externalID)
	return scanCustomer(row)
}

func (s *PostgresCustomerStore) ByAccount(ctx context.Context, accountID uuid.UUID) (*Customer, error) {
	q := pg.QuerierFrom(ctx, s.pool)
	row := q.QueryRow(ctx, `
		SELECT account_id, external_id, livemode, created_at, updated_at
		FROM customers
		WHERE account_id = $1`, accountID)
	return scanCustomer(row)
}

func (s *PostgresCustomerStore) Upsert(ctx context.Context, customer *Customer) error {
	q := pg.QuerierFrom(ctx, s.pool)
	_, err := q.Exec(ctx, `
		INSERT INTO customers (account_id, external_id, livemode, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (account_id) DO UPDATE SET
			external_id = EXCLUDED.external_id,
			livemode = EXCLUDED.livemode,
			updated_at = now()`,
		customer.AccountID, customer.ExternalID, customer.Livemode)
	if err != nil {
		return fmt.Errorf("upsert customer %s: %w", customer.AccountID, err)
	}
	return nil
}

func scanCustomer(row pgx.Row) (*Customer, error) {
	var c Customer
	err := row.Scan(&c.AccountID, &c.ExternalID, &c.Livemode, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("scan customer: %w", err)
	}
	return &c, nil
}

// PostgresSubscriptionStore persists subscriptions keyed by the
// external subscription id.
type PostgresSubscriptionStore struct {
	pool *pgxpool.Pool
}

func NewPostgresSubscriptionStore(pool *pgxpool.Pool) *PostgresSubscriptionStore {
	if pool == nil {
		panic("billing: pgxpool is required")
	}
	return &PostgresSubscriptionStore{pool: pool}
}

func (s *PostgresSubscriptionStore) Find(ctx context.Context, id string) (*Subscription, error) {
	q := pg.QuerierFrom(ctx, s.pool)
	row := q.QueryRow(ctx, `
		SELECT subscription_id, account_id, status, price_id,
		       current_period_start, current_period_end,
		       cancel_at_period_end, livemode, created_at, updated_at
		FROM subscriptions
		WHERE subscription_id = $1`, id)
	return scanSubscription(row)
}

func (s *PostgresSubscriptionStore) ByAccount(ctx context.Context, accountID uuid.UUID) ([]Subscription, error) {
	q := pg.QuerierFrom(ctx, s.pool)
	rows, err := q.Query(ctx, `
		SELECT subscription_id, account_id, status, price_id,
		       current_period_start, current_period_end,
		       cancel_at_period_end, livemode, created_at, updated_at
		FROM subscriptions
		WHERE account_id = $1
		ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions for %s: %w", accountID, err)
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list subscriptions for %s: %w", accountID, err)
	}
	return out, nil
}

func (s *PostgresSubscriptionStore) Upsert(ctx context.Context, sub *Subscription) error {
	q := pg.QuerierFrom(ctx, s.pool)
	_, err := q.Exec(ctx, `
		INSERT INTO subscriptions (
			subscription_id, account_id, status, price_id,
			current_period_start, current_period_end,
			cancel_at_period_end, livemode, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		ON CONFLICT (subscription_id) DO UPDATE SET
			account_id = EXCLUDED.account_id,
			status = EXCLUDED.status,
			price_id = EXCLUDED.price_id,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			livemode = EXCLUDED.livemode,
			updated_at = now()`,
		sub.ID, sub.AccountID, string(sub.Status), sub.PriceID,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd, sub.Livemode)
	if err != nil {
		return fmt.Errorf("upsert subscription %s: %w", sub.ID, err)
	}
	return nil
}

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var (
		sub    Subscription
		status string
	)
	err := row.Scan(&sub.ID, &sub.AccountID, &status, &sub.PriceID,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&sub.CancelAtPeriodEnd, &sub.Livemode, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	sub.Status = Status(status)
	return &sub, nil
}
