package interfaces

import (
	"context"
	"time"

	"github.com/spendflow/transfer-ledger/internal/models"
	"github.com/spendflow/transfer-ledger/internal/storage"
)

// LedgerStore is the document store behind the ledger. Single-document
// methods report a missing document with storage.ErrNotFound. Commit applies
// a whole batch or nothing.
type LedgerStore interface {
	CreateAccount(ctx context.Context, account models.Account) error
	GetAccount(ctx context.Context, ref models.AccountRef) (models.Account, error)
	ListAccounts(ctx context.Context, ownerID string) ([]models.Account, error)
	UpdateBalance(ctx context.Context, delta storage.BalanceDelta, at time.Time) (models.Account, error)

	CreateTransfer(ctx context.Context, transfer models.Transfer) error
	GetTransfer(ctx context.Context, id string) (models.Transfer, error)
	FindTransferByIdempotencyKey(ctx context.Context, ownerID, key string) (models.Transfer, error)
	ListTransfers(ctx context.Context, ownerID string) ([]models.Transfer, error)
	ListPendingTransfers(ctx context.Context, createdBefore time.Time) ([]models.Transfer, error)
	UpdateTransferStatus(ctx context.Context, change storage.StatusChange) error

	GetEntriesByTransfer(ctx context.Context, transferID string) ([]models.LedgerEntry, error)
	GetEntriesByAccount(ctx context.Context, ref models.AccountRef) ([]models.LedgerEntry, error)

	Commit(ctx context.Context, batch *storage.Batch) error
}
