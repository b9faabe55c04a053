//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/spendflow/transfer-ledger/internal/ledger"
	"github.com/spendflow/transfer-ledger/internal/models"
	"github.com/spendflow/transfer-ledger/internal/storage"
)

func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "ledger",
				"POSTGRES_PASSWORD": "ledger",
				"POSTGRES_DB":       "ledger",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://ledger:ledger@%s:%s/ledger?sslmode=disable", host, port.Port())
	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(db))
	return db
}

func TestPostgresTransferEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := NewPostgresLedgerStore(startPostgres(t))
	l := ledger.NewLedger(store)

	card, err := l.OpenAccount(ctx, ledger.OpenAccountRequest{
		OwnerID: "user-1", Kind: models.KindCard, CardType: models.CardDebit,
		Currency: "USD", OpeningBalance: decimal.RequireFromString("100.00"),
	})
	require.NoError(t, err)
	savings, err := l.OpenAccount(ctx, ledger.OpenAccountRequest{
		OwnerID: "user-1", Kind: models.KindSavings,
		Currency: "USD", OpeningBalance: decimal.RequireFromString("50.00"),
	})
	require.NoError(t, err)

	transfer, err := l.CreateTransfer(ctx, ledger.TransferRequest{
		OwnerID: "user-1", From: card.Ref(), To: savings.Ref(),
		Amount: decimal.RequireFromString("30.00"), IdempotencyKey: "k-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.TransferCompleted, transfer.Status)

	src, err := l.GetBalance(ctx, card.Ref())
	require.NoError(t, err)
	dst, err := l.GetBalance(ctx, savings.Ref())
	require.NoError(t, err)
	assert.Equal(t, "70.00", src.StringFixed(2))
	assert.Equal(t, "80.00", dst.StringFixed(2))

	entries, err := l.TransferEntries(ctx, transfer.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.Withdrawal, entries[0].Direction)
	assert.Equal(t, models.Deposit, entries[1].Direction)

	_, err = l.CreateTransfer(ctx, ledger.TransferRequest{
		OwnerID: "user-1", From: card.Ref(), To: savings.Ref(),
		Amount: decimal.RequireFromString("70.01"),
	})
	require.ErrorIs(t, err, storage.ErrInsufficientFunds)

	src, err = l.GetBalance(ctx, card.Ref())
	require.NoError(t, err)
	assert.Equal(t, "70.00", src.StringFixed(2))
}

func TestPostgresStatusChangeIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	store := NewPostgresLedgerStore(startPostgres(t))

	now := time.Now().UTC()
	tr := models.Transfer{
		ID: "tr-1", OwnerID: "user-1",
		FromAccountID: "a", FromKind: models.KindCard,
		ToAccountID: "b", ToKind: models.KindSavings,
		Amount: decimal.NewFromInt(1), Currency: "USD",
		Status: models.TransferPending, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.CreateTransfer(ctx, tr))

	fail := storage.StatusChange{TransferID: "tr-1", From: models.TransferPending, To: models.TransferFailed, Reason: "abandoned", At: now}
	require.NoError(t, store.UpdateTransferStatus(ctx, fail))
	require.ErrorIs(t, store.UpdateTransferStatus(ctx, fail), storage.ErrConflict)

	fail.TransferID = "missing"
	require.ErrorIs(t, store.UpdateTransferStatus(ctx, fail), storage.ErrNotFound)
}
