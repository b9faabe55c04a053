package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validAccount() Account {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return Account{
		ID:        "acc-1",
		OwnerID:   "user-1",
		Kind:      KindCard,
		CardType:  CardDebit,
		Balance:   decimal.RequireFromString("100.00"),
		Currency:  "USD",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestValidateAccount(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(a *Account)
		field  string
	}{
		{name: "valid debit card", mutate: func(a *Account) {}},
		{name: "valid savings", mutate: func(a *Account) { a.Kind = KindSavings; a.CardType = "" }},
		{name: "valid credit card", mutate: func(a *Account) {
			a.CardType = CardCredit
			a.CreditLimit = decimal.NewFromInt(500)
		}},
		{name: "missing owner", mutate: func(a *Account) { a.OwnerID = "" }, field: "owner_id"},
		{name: "unknown kind", mutate: func(a *Account) { a.Kind = "wallet" }, field: "kind"},
		{name: "lowercase currency", mutate: func(a *Account) { a.Currency = "usd" }, field: "currency"},
		{name: "card without type", mutate: func(a *Account) { a.CardType = "" }, field: "card_type"},
		{name: "savings with card type", mutate: func(a *Account) { a.Kind = KindSavings }, field: "card_type"},
		{name: "limit on debit card", mutate: func(a *Account) { a.CreditLimit = decimal.NewFromInt(10) }, field: "credit_limit"},
		{name: "negative limit", mutate: func(a *Account) {
			a.CardType = CardCredit
			a.CreditLimit = decimal.NewFromInt(-1)
		}, field: "credit_limit"},
		{name: "credit above limit", mutate: func(a *Account) {
			a.CardType = CardCredit
			a.CreditLimit = decimal.NewFromInt(50)
		}, field: "balance"},
		{name: "balance finer than stored scale", mutate: func(a *Account) {
			a.Balance = decimal.RequireFromString("100.00005")
		}, field: "balance"},
		{name: "balance at stored scale", mutate: func(a *Account) {
			a.Balance = decimal.RequireFromString("100.0001")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validAccount()
			tt.mutate(&a)

			err := Validate(a)
			if tt.field == "" {
				require.NoError(t, err)
				return
			}

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestValidateTransfer(t *testing.T) {
	now := time.Now().UTC()
	tr := Transfer{
		ID:            "tr-1",
		OwnerID:       "user-1",
		FromAccountID: "card-1",
		FromKind:      KindCard,
		ToAccountID:   "sav-1",
		ToKind:        KindSavings,
		Amount:        decimal.RequireFromString("30.00"),
		Currency:      "USD",
		Status:        TransferPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, Validate(tr))

	zero := tr
	zero.Amount = decimal.Zero
	var verr *ValidationError
	require.ErrorAs(t, Validate(zero), &verr)
	assert.Equal(t, "amount", verr.Field)

	self := tr
	self.ToAccountID, self.ToKind = "card-1", KindCard
	require.ErrorAs(t, Validate(self), &verr)
	assert.Equal(t, "to_account_id", verr.Field)

	// Same id under a different kind is a different document.
	crossKind := tr
	crossKind.ToAccountID = "card-1"
	assert.NoError(t, Validate(crossKind))

	reason := tr
	reason.FailureReason = "boom"
	require.ErrorAs(t, Validate(reason), &verr)
	assert.Equal(t, "failure_reason", verr.Field)

	tooFine := tr
	tooFine.Amount = decimal.RequireFromString("0.00005")
	require.ErrorAs(t, Validate(tooFine), &verr)
	assert.Equal(t, "amount", verr.Field)
}

func TestCheckScale(t *testing.T) {
	tests := []struct {
		amount string
		ok     bool
	}{
		{amount: "0.0001", ok: true},
		{amount: "30", ok: true},
		{amount: "1.50000", ok: true},
		{amount: "-25.5", ok: true},
		{amount: "0.00005", ok: false},
		{amount: "0.00004", ok: false},
		{amount: "99.99995", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			err := CheckScale("amount", decimal.RequireFromString(tt.amount))
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "amount", verr.Field)
		})
	}

	entry := LedgerEntry{
		ID: "e-1", OwnerID: "user-1", TransferID: "tr-1", AccountID: "a", AccountKind: KindSavings,
		Direction: Deposit, Amount: decimal.RequireFromString("0.00005"), Currency: "USD",
		CreatedAt: time.Now().UTC(),
	}
	assert.Error(t, Validate(entry))

	cardTx := CardTransaction{
		ID: "c-1", OwnerID: "user-1", CardID: "card-1", Type: CardExpense,
		Amount: decimal.RequireFromString("1.23456"), CreatedAt: time.Now().UTC(),
	}
	assert.Error(t, Validate(cardTx))
}

func TestLedgerEntrySigned(t *testing.T) {
	e := LedgerEntry{Direction: Withdrawal, Amount: decimal.NewFromInt(5)}
	assert.True(t, e.Signed().Equal(decimal.NewFromInt(-5)))

	e.Direction = Deposit
	assert.True(t, e.Signed().Equal(decimal.NewFromInt(5)))
}
