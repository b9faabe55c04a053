package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AccountKind tells apart the two kinds of balance-holding documents.
type AccountKind string

const (
	KindCard    AccountKind = "card"
	KindSavings AccountKind = "savings"
)

// CardType only applies to accounts of kind card.
type CardType string

const (
	CardDebit  CardType = "debit"
	CardCredit CardType = "credit"
)

// AccountRef identifies an account. Two refs are the same account only
// when both the id and the kind match.
type AccountRef struct {
	ID   string      `json:"id" validate:"required"`
	Kind AccountKind `json:"kind" validate:"required,oneof=card savings"`
}

func (r AccountRef) String() string {
	return fmt.Sprintf("%s/%s", r.Kind, r.ID)
}

// Account is a card or a savings account.
// For credit cards Balance is the available credit, bounded by CreditLimit.
type Account struct {
	ID          string          `json:"id" validate:"required"`
	OwnerID     string          `json:"owner_id" validate:"required"`
	Kind        AccountKind     `json:"kind" validate:"required,oneof=card savings"`
	CardType    CardType        `json:"card_type,omitempty" validate:"omitempty,oneof=debit credit"`
	Name        string          `json:"name" validate:"max=120"`
	Balance     decimal.Decimal `json:"balance"`
	CreditLimit decimal.Decimal `json:"credit_limit" validate:"gte=0"`
	Currency    string          `json:"currency" validate:"required,len=3,uppercase"`
	CreatedAt   time.Time       `json:"created_at" validate:"required"`
	UpdatedAt   time.Time       `json:"updated_at" validate:"required"`
}

func (a Account) Ref() AccountRef {
	return AccountRef{ID: a.ID, Kind: a.Kind}
}

// IsCredit reports whether the balance represents available credit.
func (a Account) IsCredit() bool {
	return a.Kind == KindCard && a.CardType == CardCredit
}

func (a Account) validateShape() error {
	if err := CheckScale("balance", a.Balance); err != nil {
		return err
	}
	if err := CheckScale("credit_limit", a.CreditLimit); err != nil {
		return err
	}

	switch {
	case a.Kind == KindCard && a.CardType == "":
		return &ValidationError{Field: "card_type", Reason: "required for cards"}
	case a.Kind == KindSavings && a.CardType != "":
		return &ValidationError{Field: "card_type", Reason: "only cards carry a card type"}
	case !a.IsCredit() && !a.CreditLimit.IsZero():
		return &ValidationError{Field: "credit_limit", Reason: "only credit cards carry a limit"}
	case a.IsCredit() && a.Balance.GreaterThan(a.CreditLimit):
		return &ValidationError{Field: "balance", Reason: "available credit above limit"}
	}
	return nil
}
