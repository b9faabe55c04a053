package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places every store keeps for amounts
// and balances. Postgres money columns are NUMERIC(20,4).
const MoneyScale = 4

// CheckScale rejects d when it has more decimal places than MoneyScale, so
// no store ever rounds one side of a movement differently from the other.
func CheckScale(field string, d decimal.Decimal) error {
	if !d.Equal(d.Truncate(MoneyScale)) {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("has more than %d decimal places", MoneyScale)}
	}
	return nil
}
