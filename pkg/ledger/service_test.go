package ledger_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/creditkit/pkg/ledger"
)

func newTestService(t *testing.T) (*ledger.Service, ledger.Store, uuid.UUID) {
	t.Helper()

	store := ledger.NewMemStore()
	svc := ledger.NewService(store)
	accountID := uuid.New()
	require.NoError(t, store.CreateAccount(context.Background(), accountID, "free"))
	return svc, store, accountID
}

func TestService_Allocate(t *testing.T) {
	t.Parallel()

	t.Run("grants credits and returns balance", func(t *testing.T) {
		t.Parallel()
		svc, _, accountID := newTestService(t)
		ctx := context.Background()

		result, err := svc.Allocate(ctx, accountID, 100, ledger.ReasonInitial, "sub_1", "initial grant")
		require.NoError(t, err)
		assert.False(t, result.AlreadyApplied)
		assert.Equal(t, int64(100), result.Balance())
		assert.Equal(t, int64(100), result.Entry.Amount)

		balance, err := svc.Balance(ctx, accountID)
		require.NoError(t, err)
		assert.Equal(t, int64(100), balance)
	})

	t.Run("replay is a no-op returning the original entry", func(t *testing.T) {
		t.Parallel()
		svc, _, accountID := newTestService(t)
		ctx := context.Background()

		first, err := svc.Allocate(ctx, accountID, 100, ledger.ReasonInitial, "sub_1", "initial grant")
		require.NoError(t, err)

		second, err := svc.Allocate(ctx, accountID, 100, ledger.ReasonInitial, "sub_1", "initial grant")
		require.NoError(t, err)
		assert.True(t, second.AlreadyApplied)
		assert.Equal(t, first.Entry.ID, second.Entry.ID)

		balance, err := svc.Balance(ctx, accountID)
		require.NoError(t, err)
		assert.Equal(t, int64(100), balance)

		history, err := svc.History(ctx, accountID, 10)
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})

	t.Run("same correlation different reason is a distinct allocation", func(t *testing.T) {
		t.Parallel()
		svc, _, accountID := newTestService(t)
		ctx := context.Background()

		_, err := svc.Allocate(ctx, accountID, 100, ledger.ReasonInitial, "sub_1", "")
		require.NoError(t, err)
		_, err = svc.Allocate(ctx, accountID, 50, ledger.ReasonRecurring, "sub_1", "")
		require.NoError(t, err)

		balance, err := svc.Balance(ctx, accountID)
		require.NoError(t, err)
		assert.Equal(t, int64(150), balance)
	})

	t.Run("rejects negative resulting balance without clamping", func(t *testing.T) {
		t.Parallel()
		svc, _, accountID := newTestService(t)
		ctx := context.Background()

		_, err := svc.Allocate(ctx, accountID, 30, ledger.ReasonInitial, "sub_1", "")
		require.NoError(t, err)

		_, err = svc.Allocate(ctx, accountID, -50, ledger.ReasonAdjustment, "adj_1", "")
		require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
		assert.True(t, ledger.IsInvariantViolation(err))

		balance, err := svc.Balance(ctx, accountID)
		require.NoError(t, err)
		assert.Equal(t, int64(30), balance)
	})

	t.Run("debit down to zero is allowed", func(t *testing.T) {
		t.Parallel()
		svc, _, accountID := newTestService(t)
		ctx := context.Background()

		_, err := svc.Allocate(ctx, accountID, 30, ledger.ReasonInitial, "sub_1", "")
		require.NoError(t, err)

		result, err := svc.Allocate(ctx, accountID, -30, ledger.ReasonUsage, "use_1", "")
		require.NoError(t, err)
		assert.Equal(t, int64(0), result.Balance())
	})

	t.Run("unknown account", func(t *testing.T) {
		t.Parallel()
		svc := ledger.NewService(ledger.NewMemStore())

		_, err := svc.Allocate(context.Background(), uuid.New(), 100, ledger.ReasonInitial, "sub_1", "")
		assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
	})

	t.Run("invalid arguments", func(t *testing.T) {
		t.Parallel()
		svc, _, accountID := newTestService(t)
		ctx := context.Background()

		_, err := svc.Allocate(ctx, uuid.Nil, 100, ledger.ReasonInitial, "sub_1", "")
		assert.ErrorIs(t, err, ledger.ErrInvalidAllocation)

		_, err = svc.Allocate(ctx, accountID, 100, ledger.ReasonInitial, "", "")
		assert.ErrorIs(t, err, ledger.ErrInvalidAllocation)

		_, err = svc.Allocate(ctx, accountID, 100, "", "sub_1", "")
		assert.ErrorIs(t, err, ledger.ErrInvalidAllocation)

		_, err = svc.Allocate(ctx, accountID, 0, ledger.ReasonInitial, "sub_1", "")
		assert.ErrorIs(t, err, ledger.ErrInvalidAllocation)
	})
}

func TestService_Allocate_ConcurrentReplays(t *testing.T) {
	t.Parallel()

	svc, _, accountID := newTestService(t)
	ctx := context.Background()

	// Hammer the same idempotency key from many goroutines; exactly one
	// allocation must land.
	const workers = 16
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Allocate(ctx, accountID, 100, ledger.ReasonInitial, "sub_1", "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	balance, err := svc.Balance(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	history, err := svc.History(ctx, accountID, 100)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestService_Allocate_ConcurrentDistinctKeys(t *testing.T) {
	t.Parallel()

	svc, _, accountID := newTestService(t)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Allocate(ctx, accountID, 10, ledger.ReasonRecurring, fmt.Sprintf("in_%d", i), "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	balance, err := svc.Balance(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(10*workers), balance)

	// Balance snapshots must chain without gaps.
	history, err := svc.History(ctx, accountID, workers)
	require.NoError(t, err)
	require.Len(t, history, workers)
	seen := make(map[int64]bool)
	for _, entry := range history {
		assert.False(t, seen[entry.BalanceAfter], "duplicate snapshot %d", entry.BalanceAfter)
		seen[entry.BalanceAfter] = true
	}
}

func TestStore_CreateAccountIdempotent(t *testing.T) {
	t.Parallel()

	store := ledger.NewMemStore()
	accountID := uuid.New()
	ctx := context.Background()

	require.NoError(t, store.CreateAccount(ctx, accountID, "free"))
	require.NoError(t, store.SetTier(ctx, accountID, "premium"))
	// Recreating must not reset the tier or balance.
	require.NoError(t, store.CreateAccount(ctx, accountID, "free"))

	account, err := store.Account(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, "premium", account.Tier)
}
