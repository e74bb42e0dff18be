package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/creditkit/pkg/pg"
)

// pgStore is the PostgreSQL-backed ledger store.
type pgStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a Store backed by the given pool. Store methods
// join any transaction carried by the caller's context (see pg.RunInTx).
func NewPostgresStore(pool *pgxpool.Pool) Store {
	if pool == nil {
		panic("ledger: pgxpool is required")
	}
	return &pgStore{pool: pool}
}

func (s *pgStore) Account(ctx context.Context, accountID uuid.UUID) (*Account, error) {
	q := pg.QuerierFrom(ctx, s.pool)

	var account Account
	err := q.QueryRow(ctx,
		`SELECT account_id, balance, tier, created_at, updated_at FROM accounts WHERE account_id = $1`,
		accountID,
	).Scan(&account.ID, &account.Balance, &account.Tier, &account.CreatedAt, &account.UpdatedAt)
	if pg.IsNotFoundError(err) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	return &account, nil
}

func (s *pgStore) CreateAccount(ctx context.Context, accountID uuid.UUID, tier string) error {
	q := pg.QuerierFrom(ctx, s.pool)

	_, err := q.Exec(ctx,
		`INSERT INTO accounts (account_id, balance, tier) VALUES ($1, 0, $2)
		 ON CONFLICT (account_id) DO NOTHING`,
		accountID, tier,
	)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (s *pgStore) SetTier(ctx context.Context, accountID uuid.UUID, tier string) error {
	q := pg.QuerierFrom(ctx, s.pool)

	tag, err := q.Exec(ctx,
		`UPDATE accounts SET tier = $2, updated_at = now() WHERE account_id = $1`,
		accountID, tier,
	)
	if err != nil {
		return fmt.Errorf("set tier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *pgStore) FindEntry(ctx context.Context, key Key) (*Entry, error) {
	q := pg.QuerierFrom(ctx, s.pool)

	entry, err := scanEntry(q.QueryRow(ctx,
		`SELECT id, account_id, amount, balance_after, reason, description, correlation_id, created_at
		 FROM credit_transactions
		 WHERE account_id = $1 AND reason = $2 AND correlation_id = $3`,
		key.AccountID, key.Reason, key.CorrelationID,
	))
	if pg.IsNotFoundError(err) {
		return nil, ErrEntryNotFound
	}
	return entry, err
}

// Apply locks the account row, re-verifies the balance snapshot, appends the
// entry and moves the balance — all inside one transaction. A racing replay
// is caught by the unique (account_id, reason, correlation_id) index and
// reported as ErrDuplicateEntry.
func (s *pgStore) Apply(ctx context.Context, entry *Entry) error {
	return pg.RunInTx(ctx, s.pool, func(ctx context.Context) error {
		q := pg.QuerierFrom(ctx, s.pool)

		var balance int64
		err := q.QueryRow(ctx,
			`SELECT balance FROM accounts WHERE account_id = $1 FOR UPDATE`,
			entry.AccountID,
		).Scan(&balance)
		if pg.IsNotFoundError(err) {
			return ErrAccountNotFound
		}
		if err != nil {
			return fmt.Errorf("lock account: %w", err)
		}

		if balance+entry.Amount != entry.BalanceAfter {
			return ErrLedgerCorrupted
		}

		if _, err := q.Exec(ctx,
			`INSERT INTO credit_transactions (id, account_id, amount, balance_after, reason, description, correlation_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			entry.ID, entry.AccountID, entry.Amount, entry.BalanceAfter,
			entry.Reason, entry.Description, entry.CorrelationID, entry.CreatedAt,
		); err != nil {
			if pg.IsDuplicateKeyError(err) {
				return ErrDuplicateEntry
			}
			return fmt.Errorf("append entry: %w", err)
		}

		if _, err := q.Exec(ctx,
			`UPDATE accounts SET balance = $2, updated_at = now() WHERE account_id = $1`,
			entry.AccountID, entry.BalanceAfter,
		); err != nil {
			return fmt.Errorf("update balance: %w", err)
		}
		return nil
	})
}

func (s *pgStore) Entries(ctx context.Context, accountID uuid.UUID, limit int) ([]*Entry, error) {
	q := pg.QuerierFrom(ctx, s.pool)

	if limit <= 0 {
		limit = 100
	}
	rows, err := q.Query(ctx,
		`SELECT id, account_id, amount, balance_after, reason, description, correlation_id, created_at
		 FROM credit_transactions
		 WHERE account_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var entry Entry
	err := row.Scan(&entry.ID, &entry.AccountID, &entry.Amount, &entry.BalanceAfter,
		&entry.Reason, &entry.Description, &entry.CorrelationID, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan entry: %w", err)
	}
	return &entry, nil
}
