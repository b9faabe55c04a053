package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spendflow/transfer-ledger/internal/models"
)

func TestRecordCardTransaction(t *testing.T) {
	tests := []struct {
		name     string
		cardType models.CardType
		limit    string
		opening  string
		typ      models.CardTransactionType
		amount   string
		want     string
		wantErr  error
	}{
		{name: "debit expense", cardType: models.CardDebit, opening: "100", typ: models.CardExpense, amount: "40", want: "60.00"},
		{name: "debit income", cardType: models.CardDebit, opening: "100", typ: models.CardIncome, amount: "40", want: "140.00"},
		{name: "debit overdraft", cardType: models.CardDebit, opening: "10", typ: models.CardExpense, amount: "10.01", want: "10.00", wantErr: ErrInsufficientFunds},
		{name: "credit expense uses available credit", cardType: models.CardCredit, limit: "500", opening: "500", typ: models.CardExpense, amount: "120", want: "380.00"},
		{name: "credit payment restores available credit", cardType: models.CardCredit, limit: "500", opening: "300", typ: models.CardIncome, amount: "150", want: "450.00"},
		{name: "credit expense beyond available credit", cardType: models.CardCredit, limit: "500", opening: "50", typ: models.CardExpense, amount: "60", want: "50.00", wantErr: ErrInsufficientFunds},
		{name: "credit overpayment", cardType: models.CardCredit, limit: "500", opening: "450", typ: models.CardIncome, amount: "60", want: "450.00", wantErr: ErrCreditLimitExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			req := OpenAccountRequest{Kind: models.KindCard, CardType: tt.cardType, OpeningBalance: dec(tt.opening)}
			if tt.limit != "" {
				req.CreditLimit = dec(tt.limit)
			}
			card := f.open(t, req)

			tx, updated, err := f.ledger.RecordCardTransaction(ctx, CardTransactionRequest{
				OwnerID:  owner,
				CardID:   card.ID,
				Type:     tt.typ,
				Amount:   dec(tt.amount),
				Category: "groceries",
			})

			assert.Equal(t, tt.want, f.balance(t, card))
			recorded := f.store.GetCardTransactions(card.ID)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, recorded)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, updated.Balance.StringFixed(2))
			require.Len(t, recorded, 1)
			assert.Equal(t, tx.ID, recorded[0].ID)
		})
	}
}

func TestRecordCardTransactionOnlyOnOwnCards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	savings := f.savings(t, "100")
	card := f.debitCard(t, "100")

	_, _, err := f.ledger.RecordCardTransaction(ctx, CardTransactionRequest{
		OwnerID: owner, CardID: savings.ID, Type: models.CardExpense, Amount: dec("1"),
	})
	require.ErrorIs(t, err, ErrNotFound)

	_, _, err = f.ledger.RecordCardTransaction(ctx, CardTransactionRequest{
		OwnerID: "user-2", CardID: card.ID, Type: models.CardExpense, Amount: dec("1"),
	})
	require.ErrorIs(t, err, ErrNotFound)

	_, _, err = f.ledger.RecordCardTransaction(ctx, CardTransactionRequest{
		OwnerID: owner, CardID: card.ID, Type: "refund", Amount: dec("1"),
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "type", verr.Field)

	_, _, err = f.ledger.RecordCardTransaction(ctx, CardTransactionRequest{
		OwnerID: owner, CardID: card.ID, Type: models.CardExpense, Amount: dec("0.00005"),
	})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "amount", verr.Field)
	assert.Equal(t, "100.00", f.balance(t, card))
}

func TestUpdateCardBalance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	card := f.debitCard(t, "100")

	updated, err := f.ledger.UpdateCardBalance(ctx, owner, card.ID, dec("-25.50"))
	require.NoError(t, err)
	assert.Equal(t, "74.50", updated.Balance.StringFixed(2))

	_, err = f.ledger.UpdateCardBalance(ctx, owner, card.ID, dec("-100"))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = f.ledger.UpdateCardBalance(ctx, owner, card.ID, dec("0"))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = f.ledger.UpdateCardBalance(ctx, owner, "missing", dec("1"))
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.ledger.UpdateCardBalance(ctx, owner, card.ID, dec("-0.00005"))
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "delta", verr.Field)

	assert.Equal(t, "74.50", f.balance(t, card))
}

func TestOpenCreditCardStartsWithFullLimit(t *testing.T) {
	f := newFixture(t)
	card := f.open(t, OpenAccountRequest{Kind: models.KindCard, CardType: models.CardCredit, CreditLimit: dec("750")})
	assert.Equal(t, "750.00", f.balance(t, card))

	_, err := f.ledger.OpenAccount(context.Background(), OpenAccountRequest{
		OwnerID: owner, Kind: models.KindSavings, Currency: "USD", OpeningBalance: dec("-1"),
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}
