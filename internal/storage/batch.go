package storage

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spendflow/transfer-ledger/internal/models"
)

var (
	ErrNotFound            = errors.New("document not found")
	ErrConflict            = errors.New("conflicting write")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrCreditLimitExceeded = errors.New("credit limit exceeded")
)

// BalanceDelta adds Delta to the balance of one account. When Min or Max are
// set the resulting balance must stay within them, checked against the
// balance the store holds at commit time.
type BalanceDelta struct {
	Account models.AccountRef
	Delta   decimal.Decimal
	Min     *decimal.Decimal
	Max     *decimal.Decimal
}

// Check returns the balance after the delta or the bound it would violate.
func (d BalanceDelta) Check(current decimal.Decimal) (decimal.Decimal, error) {
	next := current.Add(d.Delta)
	if d.Min != nil && next.LessThan(*d.Min) {
		return current, ErrInsufficientFunds
	}
	if d.Max != nil && next.GreaterThan(*d.Max) {
		return current, ErrCreditLimitExceeded
	}
	return next, nil
}

// StatusChange moves a transfer from one status to another. It fails with
// ErrConflict when the stored status is not From.
type StatusChange struct {
	TransferID string
	From       models.TransferStatus
	To         models.TransferStatus
	Reason     string
	At         time.Time
}

// Batch is a set of writes committed all-or-nothing. At stamps UpdatedAt on
// every account the batch touches.
type Batch struct {
	At               time.Time
	Deltas           []BalanceDelta
	Entries          []models.LedgerEntry
	CardTransactions []models.CardTransaction
	StatusChanges    []StatusChange
}

func (b *Batch) ApplyDelta(d BalanceDelta) {
	b.Deltas = append(b.Deltas, d)
}

func (b *Batch) PutEntry(e models.LedgerEntry) {
	b.Entries = append(b.Entries, e)
}

func (b *Batch) PutCardTransaction(tx models.CardTransaction) {
	b.CardTransactions = append(b.CardTransactions, tx)
}

func (b *Batch) ChangeStatus(c StatusChange) {
	b.StatusChanges = append(b.StatusChanges, c)
}

// LockOrder returns the deltas sorted by account kind and id. Stores that
// lock rows while applying deltas use it so two batches touching the same
// accounts always lock them in the same order. Deltas on one account keep
// their relative order.
func (b *Batch) LockOrder() []BalanceDelta {
	deltas := make([]BalanceDelta, len(b.Deltas))
	copy(deltas, b.Deltas)
	sort.SliceStable(deltas, func(i, j int) bool {
		a, c := deltas[i].Account, deltas[j].Account
		if a.Kind != c.Kind {
			return a.Kind < c.Kind
		}
		return a.ID < c.ID
	})
	return deltas
}

func (b *Batch) Empty() bool {
	return len(b.Deltas) == 0 && len(b.Entries) == 0 &&
		len(b.CardTransactions) == 0 && len(b.StatusChanges) == 0
}

// Validate checks every document carried by the batch before any store
// starts applying it.
func (b *Batch) Validate() error {
	for _, e := range b.Entries {
		if err := models.Validate(e); err != nil {
			return err
		}
	}
	for _, tx := range b.CardTransactions {
		if err := models.Validate(tx); err != nil {
			return err
		}
	}
	for _, d := range b.Deltas {
		if err := models.Validate(d.Account); err != nil {
			return err
		}
	}
	return nil
}
