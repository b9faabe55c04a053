package mongo

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/spendflow/transfer-ledger/internal/models"
)

// Documents as stored. Amounts are Decimal128 so $inc and range filters stay
// exact on the server.

type accountDoc struct {
	Key         string               `bson:"_id"`
	ID          string               `bson:"id"`
	Kind        string               `bson:"kind"`
	OwnerID     string               `bson:"owner_id"`
	CardType    string               `bson:"card_type,omitempty"`
	Name        string               `bson:"name"`
	Balance     primitive.Decimal128 `bson:"balance"`
	CreditLimit primitive.Decimal128 `bson:"credit_limit"`
	Currency    string               `bson:"currency"`
	CreatedAt   time.Time            `bson:"created_at"`
	UpdatedAt   time.Time            `bson:"updated_at"`
}

type transferDoc struct {
	ID             string               `bson:"_id"`
	OwnerID        string               `bson:"owner_id"`
	IdempotencyKey string               `bson:"idempotency_key,omitempty"`
	FromAccountID  string               `bson:"from_account_id"`
	FromKind       string               `bson:"from_kind"`
	ToAccountID    string               `bson:"to_account_id"`
	ToKind         string               `bson:"to_kind"`
	Amount         primitive.Decimal128 `bson:"amount"`
	Currency       string               `bson:"currency"`
	Description    string               `bson:"description"`
	Status         string               `bson:"status"`
	FailureReason  string               `bson:"failure_reason"`
	CreatedAt      time.Time            `bson:"created_at"`
	UpdatedAt      time.Time            `bson:"updated_at"`
}

type entryDoc struct {
	ID          string               `bson:"_id"`
	OwnerID     string               `bson:"owner_id"`
	TransferID  string               `bson:"transfer_id"`
	AccountID   string               `bson:"account_id"`
	AccountKind string               `bson:"account_kind"`
	Direction   string               `bson:"direction"`
	Amount      primitive.Decimal128 `bson:"amount"`
	Currency    string               `bson:"currency"`
	Description string               `bson:"description"`
	CreatedAt   time.Time            `bson:"created_at"`
}

type cardTransactionDoc struct {
	ID          string               `bson:"_id"`
	OwnerID     string               `bson:"owner_id"`
	CardID      string               `bson:"card_id"`
	Type        string               `bson:"type"`
	Amount      primitive.Decimal128 `bson:"amount"`
	Category    string               `bson:"category"`
	Description string               `bson:"description"`
	CreatedAt   time.Time            `bson:"created_at"`
}

func accountKey(ref models.AccountRef) string {
	return ref.String()
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("decimal %s: %w", d, err)
	}
	return v, nil
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("decimal128 %s: %w", v, err)
	}
	return d, nil
}

func newAccountDoc(a models.Account) (accountDoc, error) {
	balance, err := toDecimal128(a.Balance)
	if err != nil {
		return accountDoc{}, err
	}
	limit, err := toDecimal128(a.CreditLimit)
	if err != nil {
		return accountDoc{}, err
	}
	return accountDoc{
		Key:         accountKey(a.Ref()),
		ID:          a.ID,
		Kind:        string(a.Kind),
		OwnerID:     a.OwnerID,
		CardType:    string(a.CardType),
		Name:        a.Name,
		Balance:     balance,
		CreditLimit: limit,
		Currency:    a.Currency,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}, nil
}

func (d accountDoc) model() (models.Account, error) {
	balance, err := fromDecimal128(d.Balance)
	if err != nil {
		return models.Account{}, err
	}
	limit, err := fromDecimal128(d.CreditLimit)
	if err != nil {
		return models.Account{}, err
	}
	a := models.Account{
		ID:          d.ID,
		OwnerID:     d.OwnerID,
		Kind:        models.AccountKind(d.Kind),
		CardType:    models.CardType(d.CardType),
		Name:        d.Name,
		Balance:     balance,
		CreditLimit: limit,
		Currency:    d.Currency,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
	if err := models.Validate(a); err != nil {
		return models.Account{}, fmt.Errorf("stored account %s: %w", d.Key, err)
	}
	return a, nil
}

func newTransferDoc(t models.Transfer) (transferDoc, error) {
	amount, err := toDecimal128(t.Amount)
	if err != nil {
		return transferDoc{}, err
	}
	return transferDoc{
		ID:             t.ID,
		OwnerID:        t.OwnerID,
		IdempotencyKey: t.IdempotencyKey,
		FromAccountID:  t.FromAccountID,
		FromKind:       string(t.FromKind),
		ToAccountID:    t.ToAccountID,
		ToKind:         string(t.ToKind),
		Amount:         amount,
		Currency:       t.Currency,
		Description:    t.Description,
		Status:         string(t.Status),
		FailureReason:  t.FailureReason,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}, nil
}

func (d transferDoc) model() (models.Transfer, error) {
	amount, err := fromDecimal128(d.Amount)
	if err != nil {
		return models.Transfer{}, err
	}
	t := models.Transfer{
		ID:             d.ID,
		OwnerID:        d.OwnerID,
		IdempotencyKey: d.IdempotencyKey,
		FromAccountID:  d.FromAccountID,
		FromKind:       models.AccountKind(d.FromKind),
		ToAccountID:    d.ToAccountID,
		ToKind:         models.AccountKind(d.ToKind),
		Amount:         amount,
		Currency:       d.Currency,
		Description:    d.Description,
		Status:         models.TransferStatus(d.Status),
		FailureReason:  d.FailureReason,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
	if err := models.Validate(t); err != nil {
		return models.Transfer{}, fmt.Errorf("stored transfer %s: %w", d.ID, err)
	}
	return t, nil
}

func newEntryDoc(e models.LedgerEntry) (entryDoc, error) {
	amount, err := toDecimal128(e.Amount)
	if err != nil {
		return entryDoc{}, err
	}
	return entryDoc{
		ID:          e.ID,
		OwnerID:     e.OwnerID,
		TransferID:  e.TransferID,
		AccountID:   e.AccountID,
		AccountKind: string(e.AccountKind),
		Direction:   string(e.Direction),
		Amount:      amount,
		Currency:    e.Currency,
		Description: e.Description,
		CreatedAt:   e.CreatedAt,
	}, nil
}

func (d entryDoc) model() (models.LedgerEntry, error) {
	amount, err := fromDecimal128(d.Amount)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	e := models.LedgerEntry{
		ID:          d.ID,
		OwnerID:     d.OwnerID,
		TransferID:  d.TransferID,
		AccountID:   d.AccountID,
		AccountKind: models.AccountKind(d.AccountKind),
		Direction:   models.Direction(d.Direction),
		Amount:      amount,
		Currency:    d.Currency,
		Description: d.Description,
		CreatedAt:   d.CreatedAt.UTC(),
	}
	if err := models.Validate(e); err != nil {
		return models.LedgerEntry{}, fmt.Errorf("stored ledger entry %s: %w", d.ID, err)
	}
	return e, nil
}

func newCardTransactionDoc(c models.CardTransaction) (cardTransactionDoc, error) {
	amount, err := toDecimal128(c.Amount)
	if err != nil {
		return cardTransactionDoc{}, err
	}
	return cardTransactionDoc{
		ID:          c.ID,
		OwnerID:     c.OwnerID,
		CardID:      c.CardID,
		Type:        string(c.Type),
		Amount:      amount,
		Category:    c.Category,
		Description: c.Description,
		CreatedAt:   c.CreatedAt,
	}, nil
}
