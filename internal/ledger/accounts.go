package ledger

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/spendflow/transfer-ledger/internal/log"
	"github.com/spendflow/transfer-ledger/internal/models"
	"github.com/spendflow/transfer-ledger/internal/storage"
)

// OpenAccountRequest describes a new card or savings account.
type OpenAccountRequest struct {
	OwnerID        string
	Kind           models.AccountKind
	CardType       models.CardType
	Name           string
	Currency       string
	OpeningBalance decimal.Decimal
	CreditLimit    decimal.Decimal
}

// OpenAccount persists a new account. A credit card with no explicit opening
// balance starts with its whole limit available.
func (l *Ledger) OpenAccount(ctx context.Context, req OpenAccountRequest) (models.Account, error) {
	now := l.now()
	account := models.Account{
		ID:          l.newID(),
		OwnerID:     req.OwnerID,
		Kind:        req.Kind,
		CardType:    req.CardType,
		Name:        strings.TrimSpace(req.Name),
		Balance:     req.OpeningBalance,
		CreditLimit: req.CreditLimit,
		Currency:    strings.ToUpper(req.Currency),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if account.IsCredit() && req.OpeningBalance.IsZero() {
		account.Balance = req.CreditLimit
	}
	if account.Balance.IsNegative() {
		return models.Account{}, &ValidationError{Field: "balance", Reason: "must not be negative"}
	}
	if err := models.Validate(account); err != nil {
		return models.Account{}, err
	}

	if err := l.store.CreateAccount(ctx, account); err != nil {
		return models.Account{}, err
	}

	l.logger.Log(ctx, log.LevelInfo, "account opened",
		log.String("account", account.Ref().String()), log.String("owner_id", account.OwnerID))
	return account, nil
}

func (l *Ledger) GetAccount(ctx context.Context, ref models.AccountRef) (models.Account, error) {
	account, err := l.store.GetAccount(ctx, ref)
	if err != nil {
		return models.Account{}, notFound(string(ref.Kind), ref.ID, err)
	}
	return account, nil
}

// GetBalance returns the stored balance of an account. For credit cards this
// is the available credit.
func (l *Ledger) GetBalance(ctx context.Context, ref models.AccountRef) (decimal.Decimal, error) {
	account, err := l.GetAccount(ctx, ref)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance, nil
}

func (l *Ledger) ListAccounts(ctx context.Context, ownerID string) ([]models.Account, error) {
	if ownerID == "" {
		return nil, &ValidationError{Field: "owner_id", Reason: "is required"}
	}
	return l.store.ListAccounts(ctx, ownerID)
}

// ownedAccount reads an account and hides it when it belongs to someone else.
func (l *Ledger) ownedAccount(ctx context.Context, ownerID string, ref models.AccountRef) (models.Account, error) {
	account, err := l.GetAccount(ctx, ref)
	if err != nil {
		return models.Account{}, err
	}
	if account.OwnerID != ownerID {
		return models.Account{}, &NotFoundError{Resource: string(ref.Kind), ID: ref.ID}
	}
	return account, nil
}

// debit builds the delta taking amount out of account. Neither cash nor
// available credit may go below zero.
func debit(account models.Account, amount decimal.Decimal) storage.BalanceDelta {
	floor := decimal.Zero
	return storage.BalanceDelta{
		Account: account.Ref(),
		Delta:   amount.Neg(),
		Min:     &floor,
	}
}

// credit builds the delta putting amount into account. Available credit on a
// credit card may not exceed its limit.
func credit(account models.Account, amount decimal.Decimal) storage.BalanceDelta {
	d := storage.BalanceDelta{
		Account: account.Ref(),
		Delta:   amount,
	}
	if account.IsCredit() {
		limit := account.CreditLimit
		d.Max = &limit
	}
	return d
}
