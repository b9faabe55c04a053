package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/spendflow/transfer-ledger/internal/log"
	"github.com/spendflow/transfer-ledger/internal/models"
	"github.com/spendflow/transfer-ledger/internal/storage"
)

// CardTransactionRequest records one expense or income on a card.
type CardTransactionRequest struct {
	OwnerID     string                     `json:"owner_id" validate:"required"`
	CardID      string                     `json:"card_id" validate:"required"`
	Type        models.CardTransactionType `json:"type" validate:"required,oneof=expense income"`
	Amount      decimal.Decimal            `json:"amount" validate:"gt=0"`
	Category    string                     `json:"category" validate:"max=64"`
	Description string                     `json:"description" validate:"max=500"`
}

// cardDelta maps a card transaction onto the card balance.
//
// On a debit card the balance is cash: income adds, expense subtracts and
// the balance may not go negative. On a credit card the balance is available
// credit: an expense uses it up (never below zero) and income, a payment,
// restores it up to the credit limit.
func cardDelta(card models.Account, typ models.CardTransactionType, amount decimal.Decimal) storage.BalanceDelta {
	if typ == models.CardExpense {
		return debit(card, amount)
	}
	return credit(card, amount)
}

// RecordCardTransaction stores the transaction and moves the card balance in
// one batch. It returns the recorded transaction and the card as it stands
// after the commit.
func (l *Ledger) RecordCardTransaction(ctx context.Context, req CardTransactionRequest) (models.CardTransaction, models.Account, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.record_card_transaction")
	defer span.End()

	if err := models.Validate(req); err != nil {
		return models.CardTransaction{}, models.Account{}, err
	}
	if err := models.CheckScale("amount", req.Amount); err != nil {
		return models.CardTransaction{}, models.Account{}, err
	}

	card, err := l.ownedAccount(ctx, req.OwnerID, models.AccountRef{ID: req.CardID, Kind: models.KindCard})
	if err != nil {
		return models.CardTransaction{}, models.Account{}, err
	}

	now := l.now()
	tx := models.CardTransaction{
		ID:          l.newID(),
		OwnerID:     req.OwnerID,
		CardID:      card.ID,
		Type:        req.Type,
		Amount:      req.Amount,
		Category:    req.Category,
		Description: req.Description,
		CreatedAt:   now,
	}

	batch := &storage.Batch{At: now}
	batch.PutCardTransaction(tx)
	batch.ApplyDelta(cardDelta(card, tx.Type, tx.Amount))
	if err := l.store.Commit(ctx, batch); err != nil {
		span.RecordError(err)
		return models.CardTransaction{}, models.Account{}, fmt.Errorf("record card transaction: %w", notFound("card", card.ID, err))
	}

	updated, err := l.GetAccount(ctx, card.Ref())
	if err != nil {
		return tx, models.Account{}, err
	}

	l.logger.Log(ctx, log.LevelInfo, "card transaction recorded",
		log.String("card_id", card.ID),
		log.String("type", string(tx.Type)),
		log.String("amount", tx.Amount.String()))
	return tx, updated, nil
}

// UpdateCardBalance applies delta to a card balance directly, within the
// same bounds as card transactions.
func (l *Ledger) UpdateCardBalance(ctx context.Context, ownerID, cardID string, delta decimal.Decimal) (models.Account, error) {
	if delta.IsZero() {
		return models.Account{}, &ValidationError{Field: "delta", Reason: "must not be zero"}
	}
	if err := models.CheckScale("delta", delta); err != nil {
		return models.Account{}, err
	}

	card, err := l.ownedAccount(ctx, ownerID, models.AccountRef{ID: cardID, Kind: models.KindCard})
	if err != nil {
		return models.Account{}, err
	}

	d := credit(card, delta)
	if delta.IsNegative() {
		d = debit(card, delta.Neg())
	}

	updated, err := l.store.UpdateBalance(ctx, d, l.now())
	if err != nil {
		return models.Account{}, notFound("card", cardID, err)
	}
	return updated, nil
}
