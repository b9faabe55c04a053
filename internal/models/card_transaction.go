package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CardTransactionType string

const (
	CardExpense CardTransactionType = "expense"
	CardIncome  CardTransactionType = "income"
)

// CardTransaction is a single expense or income recorded against one card.
type CardTransaction struct {
	ID          string              `json:"id" validate:"required"`
	OwnerID     string              `json:"owner_id" validate:"required"`
	CardID      string              `json:"card_id" validate:"required"`
	Type        CardTransactionType `json:"type" validate:"required,oneof=expense income"`
	Amount      decimal.Decimal     `json:"amount" validate:"gt=0"`
	Category    string              `json:"category" validate:"max=64"`
	Description string              `json:"description" validate:"max=500"`
	CreatedAt   time.Time           `json:"created_at" validate:"required"`
}

func (c CardTransaction) validateShape() error {
	return CheckScale("amount", c.Amount)
}
