package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spendflow/transfer-ledger/internal/models"
	"github.com/spendflow/transfer-ledger/internal/storage"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *MemoryLedgerStore, id string, kind models.AccountKind, balance string) models.Account {
	t.Helper()

	a := models.Account{
		ID:        id,
		OwnerID:   "user-1",
		Kind:      kind,
		Balance:   decimal.RequireFromString(balance),
		Currency:  "USD",
		CreatedAt: t0,
		UpdatedAt: t0,
	}
	if kind == models.KindCard {
		a.CardType = models.CardDebit
	}
	require.NoError(t, s.CreateAccount(context.Background(), a))
	return a
}

func pendingTransfer(id string) models.Transfer {
	return models.Transfer{
		ID:            id,
		OwnerID:       "user-1",
		FromAccountID: "card-1",
		FromKind:      models.KindCard,
		ToAccountID:   "sav-1",
		ToKind:        models.KindSavings,
		Amount:        decimal.RequireFromString("10"),
		Currency:      "USD",
		Status:        models.TransferPending,
		CreatedAt:     t0,
		UpdatedAt:     t0,
	}
}

func balanceOf(t *testing.T, s *MemoryLedgerStore, id string, kind models.AccountKind) string {
	t.Helper()

	a, err := s.GetAccount(context.Background(), models.AccountRef{ID: id, Kind: kind})
	require.NoError(t, err)
	return a.Balance.StringFixed(2)
}

func TestCommitIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryLedgerStore()
	seed(t, s, "card-1", models.KindCard, "100")

	zero := decimal.Zero
	batch := &storage.Batch{At: t0.Add(time.Minute)}
	batch.ApplyDelta(storage.BalanceDelta{
		Account: models.AccountRef{ID: "card-1", Kind: models.KindCard},
		Delta:   decimal.NewFromInt(-10),
		Min:     &zero,
	})
	batch.ApplyDelta(storage.BalanceDelta{
		Account: models.AccountRef{ID: "missing", Kind: models.KindSavings},
		Delta:   decimal.NewFromInt(10),
	})

	err := s.Commit(ctx, batch)
	require.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, "100.00", balanceOf(t, s, "card-1", models.KindCard))
}

func TestCommitChecksBoundsAgainstStoredBalance(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryLedgerStore()
	seed(t, s, "card-1", models.KindCard, "15")

	zero := decimal.Zero
	withdraw := func() *storage.Batch {
		b := &storage.Batch{At: t0}
		b.ApplyDelta(storage.BalanceDelta{
			Account: models.AccountRef{ID: "card-1", Kind: models.KindCard},
			Delta:   decimal.NewFromInt(-10),
			Min:     &zero,
		})
		return b
	}

	require.NoError(t, s.Commit(ctx, withdraw()))
	require.ErrorIs(t, s.Commit(ctx, withdraw()), storage.ErrInsufficientFunds)
	assert.Equal(t, "5.00", balanceOf(t, s, "card-1", models.KindCard))
}

func TestCommitStatusChangeIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryLedgerStore()
	seed(t, s, "card-1", models.KindCard, "100")
	require.NoError(t, s.CreateTransfer(ctx, pendingTransfer("tr-1")))

	require.NoError(t, s.UpdateTransferStatus(ctx, storage.StatusChange{
		TransferID: "tr-1", From: models.TransferPending, To: models.TransferFailed, Reason: "abandoned", At: t0,
	}))

	batch := &storage.Batch{At: t0}
	batch.ApplyDelta(storage.BalanceDelta{
		Account: models.AccountRef{ID: "card-1", Kind: models.KindCard},
		Delta:   decimal.NewFromInt(-10),
	})
	batch.ChangeStatus(storage.StatusChange{
		TransferID: "tr-1", From: models.TransferPending, To: models.TransferCompleted, At: t0,
	})

	require.ErrorIs(t, s.Commit(ctx, batch), storage.ErrConflict)
	assert.Equal(t, "100.00", balanceOf(t, s, "card-1", models.KindCard))

	tr, err := s.GetTransfer(ctx, "tr-1")
	require.NoError(t, err)
	assert.Equal(t, models.TransferFailed, tr.Status)
	assert.Equal(t, "abandoned", tr.FailureReason)
}

func TestCommitRejectsDuplicateEntries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryLedgerStore()

	entry := models.LedgerEntry{
		ID:          "e-1",
		OwnerID:     "user-1",
		TransferID:  "tr-1",
		AccountID:   "card-1",
		AccountKind: models.KindCard,
		Direction:   models.Withdrawal,
		Amount:      decimal.NewFromInt(1),
		Currency:    "USD",
		CreatedAt:   t0,
	}
	batch := &storage.Batch{At: t0}
	batch.PutEntry(entry)
	require.NoError(t, s.Commit(ctx, batch))

	require.ErrorIs(t, s.Commit(ctx, batch), storage.ErrConflict)

	entries, err := s.GetEntriesByTransfer(ctx, "tr-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFaultLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryLedgerStore()
	seed(t, s, "card-1", models.KindCard, "100")

	boom := errors.New("unavailable")
	s.SetFault(func(op string) error {
		if op == OpCommit {
			return boom
		}
		return nil
	})

	batch := &storage.Batch{At: t0}
	batch.ApplyDelta(storage.BalanceDelta{
		Account: models.AccountRef{ID: "card-1", Kind: models.KindCard},
		Delta:   decimal.NewFromInt(-10),
	})
	require.ErrorIs(t, s.Commit(ctx, batch), boom)
	assert.Equal(t, "100.00", balanceOf(t, s, "card-1", models.KindCard))

	s.SetFault(nil)
	require.NoError(t, s.Commit(ctx, batch))
	assert.Equal(t, "90.00", balanceOf(t, s, "card-1", models.KindCard))
}

func TestIdempotencyKeyIsScopedToOwner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryLedgerStore()

	first := pendingTransfer("tr-1")
	first.IdempotencyKey = "key-1"
	require.NoError(t, s.CreateTransfer(ctx, first))

	again := pendingTransfer("tr-2")
	again.IdempotencyKey = "key-1"
	require.ErrorIs(t, s.CreateTransfer(ctx, again), storage.ErrConflict)

	other := pendingTransfer("tr-3")
	other.OwnerID = "user-2"
	other.IdempotencyKey = "key-1"
	require.NoError(t, s.CreateTransfer(ctx, other))

	found, err := s.FindTransferByIdempotencyKey(ctx, "user-1", "key-1")
	require.NoError(t, err)
	assert.Equal(t, "tr-1", found.ID)

	_, err = s.FindTransferByIdempotencyKey(ctx, "user-3", "key-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListPendingTransfers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryLedgerStore()

	old := pendingTransfer("tr-old")
	fresh := pendingTransfer("tr-fresh")
	fresh.CreatedAt = t0.Add(time.Hour)
	fresh.UpdatedAt = fresh.CreatedAt
	require.NoError(t, s.CreateTransfer(ctx, old))
	require.NoError(t, s.CreateTransfer(ctx, fresh))

	pending, err := s.ListPendingTransfers(ctx, t0.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "tr-old", pending[0].ID)
}

func TestEmptyBatchIsNoop(t *testing.T) {
	s := NewMemoryLedgerStore()
	s.SetFault(func(string) error { return errors.New("unavailable") })

	assert.NoError(t, s.Commit(context.Background(), &storage.Batch{At: t0}))
}

func TestStatusChangeHonoursCancelledContext(t *testing.T) {
	s := NewMemoryLedgerStore()
	require.NoError(t, s.CreateTransfer(context.Background(), pendingTransfer("tr-1")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	change := storage.StatusChange{TransferID: "tr-1", From: models.TransferPending, To: models.TransferFailed, Reason: "abandoned", At: t0}
	require.ErrorIs(t, s.UpdateTransferStatus(ctx, change), context.Canceled)

	got, err := s.GetTransfer(context.Background(), "tr-1")
	require.NoError(t, err)
	assert.Equal(t, models.TransferPending, got.Status)
}
