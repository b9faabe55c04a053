package ledger

import (
	"context"

	"github.com/spendflow/transfer-ledger/internal/models"
)

// transferEntries builds the withdrawal/deposit pair recorded for a transfer.
// Entry ids derive from the transfer id, so a pair can never be written twice.
func transferEntries(t models.Transfer) (withdrawal, deposit models.LedgerEntry) {
	withdrawal = models.LedgerEntry{
		ID:          t.ID + "-withdrawal",
		OwnerID:     t.OwnerID,
		TransferID:  t.ID,
		AccountID:   t.FromAccountID,
		AccountKind: t.FromKind,
		Direction:   models.Withdrawal,
		Amount:      t.Amount,
		Currency:    t.Currency,
		Description: t.Description,
		CreatedAt:   t.UpdatedAt,
	}

	deposit = withdrawal
	deposit.ID = t.ID + "-deposit"
	deposit.AccountID = t.ToAccountID
	deposit.AccountKind = t.ToKind
	deposit.Direction = models.Deposit

	return withdrawal, deposit
}

// entriesLanded reports whether entries hold a complete pair for one transfer.
func entriesLanded(entries []models.LedgerEntry) bool {
	var withdrawals, deposits int
	for _, e := range entries {
		switch e.Direction {
		case models.Withdrawal:
			withdrawals++
		case models.Deposit:
			deposits++
		}
	}
	return withdrawals == 1 && deposits == 1
}

func (l *Ledger) TransferEntries(ctx context.Context, transferID string) ([]models.LedgerEntry, error) {
	if _, err := l.GetTransfer(ctx, transferID); err != nil {
		return nil, err
	}
	return l.store.GetEntriesByTransfer(ctx, transferID)
}

// AccountEntries returns the history of one account, newest first.
func (l *Ledger) AccountEntries(ctx context.Context, ref models.AccountRef) ([]models.LedgerEntry, error) {
	if _, err := l.GetAccount(ctx, ref); err != nil {
		return nil, err
	}
	return l.store.GetEntriesByAccount(ctx, ref)
}
