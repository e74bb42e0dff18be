package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/creditkit/pkg/pg"
)

type pgStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a Store backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	if pool == nil {
		panic("catalog: pgxpool is required")
	}
	return &pgStore{pool: pool}
}

const planColumns = `price_id, name, amount, currency, billing_interval, initial_credits, recurring_credits, active, livemode, created_at, updated_at`

func (s *pgStore) Find(ctx context.Context, priceID string) (*Plan, error) {
	q := pg.QuerierFrom(ctx, s.pool)

	var plan Plan
	err := q.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plans WHERE price_id = $1`, priceID,
	).Scan(&plan.PriceID, &plan.Name, &plan.Amount, &plan.Currency, &plan.Interval,
		&plan.InitialCredits, &plan.RecurringCredits, &plan.Active, &plan.Livemode,
		&plan.CreatedAt, &plan.UpdatedAt)
	if pg.IsNotFoundError(err) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query plan: %w", err)
	}
	return &plan, nil
}

func (s *pgStore) Create(ctx context.Context, plan *Plan) error {
	q := pg.QuerierFrom(ctx, s.pool)

	_, err := q.Exec(ctx,
		`INSERT INTO plans (price_id, name, amount, currency, billing_interval, initial_credits, recurring_credits, active, livemode)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		plan.PriceID, plan.Name, plan.Amount, plan.Currency, plan.Interval,
		plan.InitialCredits, plan.RecurringCredits, plan.Active, plan.Livemode,
	)
	if pg.IsDuplicateKeyError(err) {
		return ErrDuplicatePlan
	}
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	return nil
}

func (s *pgStore) Update(ctx context.Context, plan *Plan) error {
	q := pg.QuerierFrom(ctx, s.pool)

	tag, err := q.Exec(ctx,
		`UPDATE plans
		 SET name = $2, amount = $3, currency = $4, billing_interval = $5,
		     initial_credits = $6, recurring_credits = $7, active = $8, livemode = $9,
		     updated_at = now()
		 WHERE price_id = $1`,
		plan.PriceID, plan.Name, plan.Amount, plan.Currency, plan.Interval,
		plan.InitialCredits, plan.RecurringCredits, plan.Active, plan.Livemode,
	)
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPlanNotFound
	}
	return nil
}
