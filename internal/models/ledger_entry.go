package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	Withdrawal Direction = "withdrawal"
	Deposit    Direction = "deposit"
)

// LedgerEntry represents one side of a transfer on one account.
// Entries are immutable once written and always come in withdrawal/deposit
// pairs sharing a TransferID.
type LedgerEntry struct {
	ID          string          `json:"id" validate:"required"`
	OwnerID     string          `json:"owner_id" validate:"required"`
	TransferID  string          `json:"transfer_id" validate:"required"`
	AccountID   string          `json:"account_id" validate:"required"`
	AccountKind AccountKind     `json:"account_kind" validate:"required,oneof=card savings"`
	Direction   Direction       `json:"direction" validate:"required,oneof=withdrawal deposit"`
	Amount      decimal.Decimal `json:"amount" validate:"gt=0"` // always positive, Direction gives the sign
	Currency    string          `json:"currency" validate:"required,len=3,uppercase"`
	Description string          `json:"description" validate:"max=500"`
	CreatedAt   time.Time       `json:"created_at" validate:"required"`
}

func (e LedgerEntry) Account() AccountRef {
	return AccountRef{ID: e.AccountID, Kind: e.AccountKind}
}

func (e LedgerEntry) validateShape() error {
	return CheckScale("amount", e.Amount)
}

// Signed returns the balance effect of the entry.
func (e LedgerEntry) Signed() decimal.Decimal {
	if e.Direction == Withdrawal {
		return e.Amount.Neg()
	}
	return e.Amount
}
