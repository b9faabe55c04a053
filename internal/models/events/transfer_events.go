package events

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TopicTransferCompleted = "transfer_completed"
	TopicTransferFailed    = "transfer_failed"
)

type TransferCompleted struct {
	TransferID  string          `json:"transfer_id"`
	OwnerID     string          `json:"owner_id"`
	FromAccount string          `json:"from_account"`
	ToAccount   string          `json:"to_account"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

type TransferFailed struct {
	TransferID  string          `json:"transfer_id"`
	OwnerID     string          `json:"owner_id"`
	FromAccount string          `json:"from_account"`
	ToAccount   string          `json:"to_account"`
	Amount      decimal.Decimal `json:"amount"`
	Reason      string          `json:"reason"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// PartitionKey keeps every event of one transfer on the same partition.
func (e TransferCompleted) PartitionKey() string { return e.TransferID }

func (e TransferFailed) PartitionKey() string { return e.TransferID }
