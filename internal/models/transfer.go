package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferCompleted TransferStatus = "completed"
	TransferFailed    TransferStatus = "failed"
)

// Terminal reports whether no further status change is allowed.
func (s TransferStatus) Terminal() bool {
	return s == TransferCompleted || s == TransferFailed
}

// Transfer represents an intent to move money between two accounts of the
// same owner. It starts pending and ends in exactly one terminal status.
type Transfer struct {
	ID             string          `json:"id" validate:"required"`
	OwnerID        string          `json:"owner_id" validate:"required"`
	IdempotencyKey string          `json:"idempotency_key,omitempty" validate:"max=255"`
	FromAccountID  string          `json:"from_account_id" validate:"required"`
	FromKind       AccountKind     `json:"from_kind" validate:"required,oneof=card savings"`
	ToAccountID    string          `json:"to_account_id" validate:"required"`
	ToKind         AccountKind     `json:"to_kind" validate:"required,oneof=card savings"`
	Amount         decimal.Decimal `json:"amount" validate:"gt=0"`
	Currency       string          `json:"currency" validate:"required,len=3,uppercase"`
	Description    string          `json:"description" validate:"max=500"`
	Status         TransferStatus  `json:"status" validate:"required,oneof=pending completed failed"`
	FailureReason  string          `json:"failure_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at" validate:"required"`
	UpdatedAt      time.Time       `json:"updated_at" validate:"required"`
}

func (t Transfer) From() AccountRef {
	return AccountRef{ID: t.FromAccountID, Kind: t.FromKind}
}

func (t Transfer) To() AccountRef {
	return AccountRef{ID: t.ToAccountID, Kind: t.ToKind}
}

func (t Transfer) validateShape() error {
	if err := CheckScale("amount", t.Amount); err != nil {
		return err
	}
	if t.From() == t.To() {
		return &ValidationError{Field: "to_account_id", Reason: "same account as source"}
	}
	if t.Status != TransferFailed && t.FailureReason != "" {
		return &ValidationError{Field: "failure_reason", Reason: "only failed transfers carry a reason"}
	}
	return nil
}
