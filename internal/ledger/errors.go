package ledger

import (
	"errors"
	"fmt"

	"github.com/spendflow/transfer-ledger/internal/models"
	"github.com/spendflow/transfer-ledger/internal/storage"
)

// ValidationError rejects a request before anything is written.
type ValidationError = models.ValidationError

var (
	ErrNotFound            = storage.ErrNotFound
	ErrConflict            = storage.ErrConflict
	ErrInsufficientFunds   = storage.ErrInsufficientFunds
	ErrCreditLimitExceeded = storage.ErrCreditLimitExceeded

	// ErrTransferInProgress is returned for a replayed idempotency key whose
	// transfer has not reached a terminal status yet. It matches ErrConflict.
	ErrTransferInProgress = fmt.Errorf("transfer still in progress: %w", storage.ErrConflict)
)

// NotFoundError reports a missing account or transfer. Accounts of another
// owner are reported as missing too.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == storage.ErrNotFound
}

// TransferFailedError is returned when the atomic commit of a transfer did
// not land. Err carries the cause. Status is the transfer status as stored
// when the error was returned; it stays pending when the failed status could
// not be written yet.
type TransferFailedError struct {
	TransferID string
	Status     models.TransferStatus
	Err        error
}

func (e *TransferFailedError) Error() string {
	return fmt.Sprintf("transfer %s failed: %v", e.TransferID, e.Err)
}

func (e *TransferFailedError) Unwrap() error {
	return e.Err
}

// notFound turns a store miss into a NotFoundError and passes anything else
// through.
func notFound(resource, id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return &NotFoundError{Resource: resource, ID: id}
	}
	return err
}

// failureReasons maps stored failure reasons back to the errors that caused
// them.
var failureReasons = map[string]error{
	"insufficient_funds":    storage.ErrInsufficientFunds,
	"credit_limit_exceeded": storage.ErrCreditLimitExceeded,
	"account_not_found":     storage.ErrNotFound,
	"conflict":              storage.ErrConflict,
}

func reasonError(reason string) error {
	if err, ok := failureReasons[reason]; ok {
		return err
	}
	return errors.New(reason)
}

// failureReason is the short machine-readable reason stored on a failed
// transfer.
func failureReason(err error) string {
	switch {
	case errors.Is(err, storage.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, storage.ErrCreditLimitExceeded):
		return "credit_limit_exceeded"
	case errors.Is(err, storage.ErrNotFound):
		return "account_not_found"
	case errors.Is(err, storage.ErrConflict):
		return "conflict"
	default:
		return "store_error"
	}
}
