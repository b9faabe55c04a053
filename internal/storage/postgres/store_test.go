package postgres

import (
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/spendflow/transfer-ledger/internal/models"
	"github.com/spendflow/transfer-ledger/internal/storage"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		conflict bool
		invalid  bool
	}{
		{name: "unique violation", err: &pq.Error{Code: "23505", Message: "duplicate key"}, conflict: true},
		{name: "serialization failure", err: &pq.Error{Code: "40001"}, conflict: true},
		{name: "deadlock", err: &pq.Error{Code: "40P01"}, conflict: true},
		{name: "check violation", err: &pq.Error{Code: "23514", Constraint: "transfers_amount_check"}, invalid: true},
		{name: "plain error", err: errors.New("connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.err)
			assert.Equal(t, tt.conflict, errors.Is(got, storage.ErrConflict))
			var verr *models.ValidationError
			assert.Equal(t, tt.invalid, errors.As(got, &verr))
		})
	}

	assert.NoError(t, mapError(nil))
}

func TestCommitLocksAccountsInOrder(t *testing.T) {
	aToB := &storage.Batch{}
	aToB.ApplyDelta(storage.BalanceDelta{Account: models.AccountRef{ID: "a", Kind: models.KindSavings}, Delta: decimal.NewFromInt(-1)})
	aToB.ApplyDelta(storage.BalanceDelta{Account: models.AccountRef{ID: "b", Kind: models.KindSavings}, Delta: decimal.NewFromInt(1)})

	bToA := &storage.Batch{}
	bToA.ApplyDelta(storage.BalanceDelta{Account: models.AccountRef{ID: "b", Kind: models.KindSavings}, Delta: decimal.NewFromInt(-1)})
	bToA.ApplyDelta(storage.BalanceDelta{Account: models.AccountRef{ID: "a", Kind: models.KindSavings}, Delta: decimal.NewFromInt(1)})

	refs := func(deltas []storage.BalanceDelta) []string {
		var out []string
		for _, d := range deltas {
			out = append(out, d.Account.String())
		}
		return out
	}
	assert.Equal(t, refs(aToB.LockOrder()), refs(bToA.LockOrder()))
	assert.Equal(t, "savings/b", refs(bToA.Deltas)[0], "batch itself is left untouched")
}

func TestMigrationsAreEmbedded(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	assert.NoError(t, err)
	assert.Len(t, entries, 2)
}
