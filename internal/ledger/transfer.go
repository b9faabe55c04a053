package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/spendflow/transfer-ledger/internal/backoff"
	"github.com/spendflow/transfer-ledger/internal/log"
	"github.com/spendflow/transfer-ledger/internal/models"
	"github.com/spendflow/transfer-ledger/internal/models/events"
	"github.com/spendflow/transfer-ledger/internal/storage"
)

// TransferRequest asks to move Amount from one account of OwnerID to another.
type TransferRequest struct {
	OwnerID        string            `json:"owner_id" validate:"required"`
	From           models.AccountRef `json:"from"`
	To             models.AccountRef `json:"to"`
	Amount         decimal.Decimal   `json:"amount" validate:"gt=0"`
	Description    string            `json:"description" validate:"max=500"`
	IdempotencyKey string            `json:"idempotency_key" validate:"max=255"`
}

func (r TransferRequest) validate() error {
	if err := models.Validate(r); err != nil {
		return err
	}
	if err := models.CheckScale("amount", r.Amount); err != nil {
		return err
	}
	if r.From == r.To {
		return &ValidationError{Field: "to", Reason: "cannot transfer to the source account"}
	}
	return nil
}

// CreateTransfer moves money between two accounts of the same owner.
//
// The transfer is first recorded as pending. Both balance deltas, the two
// ledger entries and the pending -> completed status change then go to the
// store as one batch, with the sufficient-funds check evaluated by the store
// at commit time. When the batch does not land the transfer is marked failed
// and a *TransferFailedError is returned together with the transfer.
func (l *Ledger) CreateTransfer(ctx context.Context, req TransferRequest) (models.Transfer, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.create_transfer")
	defer span.End()

	if err := req.validate(); err != nil {
		span.SetStatus(codes.Error, "invalid request")
		return models.Transfer{}, err
	}

	if req.IdempotencyKey != "" {
		existing, err := l.store.FindTransferByIdempotencyKey(ctx, req.OwnerID, req.IdempotencyKey)
		if err == nil {
			span.SetAttributes(attribute.Bool("ledger.replayed", true))
			return replay(existing, req)
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return models.Transfer{}, err
		}
	}

	from, err := l.ownedAccount(ctx, req.OwnerID, req.From)
	if err != nil {
		return models.Transfer{}, err
	}
	to, err := l.ownedAccount(ctx, req.OwnerID, req.To)
	if err != nil {
		return models.Transfer{}, err
	}
	if from.Currency != to.Currency {
		return models.Transfer{}, &ValidationError{
			Field:  "to",
			Reason: fmt.Sprintf("currency %s does not match source currency %s", to.Currency, from.Currency),
		}
	}

	now := l.now()
	transfer := models.Transfer{
		ID:             l.newID(),
		OwnerID:        req.OwnerID,
		IdempotencyKey: req.IdempotencyKey,
		FromAccountID:  from.ID,
		FromKind:       from.Kind,
		ToAccountID:    to.ID,
		ToKind:         to.Kind,
		Amount:         req.Amount,
		Currency:       from.Currency,
		Description:    req.Description,
		Status:         models.TransferPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	span.SetAttributes(
		attribute.String("ledger.transfer_id", transfer.ID),
		attribute.String("ledger.from", from.Ref().String()),
		attribute.String("ledger.to", to.Ref().String()),
	)

	if err := l.store.CreateTransfer(ctx, transfer); err != nil {
		// A concurrent request with the same key won the race.
		if req.IdempotencyKey != "" && errors.Is(err, storage.ErrConflict) {
			if existing, ferr := l.store.FindTransferByIdempotencyKey(ctx, req.OwnerID, req.IdempotencyKey); ferr == nil {
				return replay(existing, req)
			}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "create transfer")
		return models.Transfer{}, fmt.Errorf("record transfer: %w", err)
	}

	batch := &storage.Batch{At: now}
	batch.ApplyDelta(debit(from, transfer.Amount))
	batch.ApplyDelta(credit(to, transfer.Amount))
	withdrawal, deposit := transferEntries(transfer)
	batch.PutEntry(withdrawal)
	batch.PutEntry(deposit)
	batch.ChangeStatus(storage.StatusChange{
		TransferID: transfer.ID,
		From:       models.TransferPending,
		To:         models.TransferCompleted,
		At:         now,
	})

	if err := l.store.Commit(ctx, batch); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit transfer")
		return l.failTransfer(ctx, transfer, err)
	}

	transfer.Status = models.TransferCompleted
	l.logger.Log(ctx, log.LevelInfo, "transfer completed",
		log.String("transfer_id", transfer.ID),
		log.String("from", from.Ref().String()),
		log.String("to", to.Ref().String()),
		log.String("amount", transfer.Amount.String()))
	l.publishCompleted(ctx, transfer)
	return transfer, nil
}

// replay returns the recorded outcome of a transfer created earlier with the
// same idempotency key. Only terminal outcomes are replayed; a transfer still
// pending yields ErrTransferInProgress. A key reused for a different
// movement is rejected.
func replay(existing models.Transfer, req TransferRequest) (models.Transfer, error) {
	if existing.From() != req.From || existing.To() != req.To || !existing.Amount.Equal(req.Amount) {
		return models.Transfer{}, &ValidationError{
			Field:  "idempotency_key",
			Reason: "already used for a different transfer",
		}
	}

	switch existing.Status {
	case models.TransferPending:
		return existing, fmt.Errorf("transfer %s: %w", existing.ID, ErrTransferInProgress)
	case models.TransferFailed:
		return existing, &TransferFailedError{
			TransferID: existing.ID,
			Status:     existing.Status,
			Err:        reasonError(existing.FailureReason),
		}
	}
	return existing, nil
}

// failTransfer resolves a transfer whose commit returned an error. The
// failed status is written compare-and-set from pending. If that conflicts
// with a completed status the commit did land and the transfer is returned
// as completed. If the write keeps failing the transfer stays pending for
// ReconcilePending.
func (l *Ledger) failTransfer(ctx context.Context, transfer models.Transfer, cause error) (models.Transfer, error) {
	// The commit may have failed because ctx ended; the status write must
	// still be attempted.
	ctx = context.WithoutCancel(ctx)

	change := storage.StatusChange{
		TransferID: transfer.ID,
		From:       models.TransferPending,
		To:         models.TransferFailed,
		Reason:     failureReason(cause),
		At:         l.now(),
	}

	err := backoff.Retry(ctx, l.retry, func(ctx context.Context) error {
		err := l.store.UpdateTransferStatus(ctx, change)
		if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	})

	switch {
	case err == nil:
		transfer.Status = models.TransferFailed
		transfer.FailureReason = change.Reason
		transfer.UpdatedAt = change.At
		l.logger.Log(ctx, log.LevelWarn, "transfer failed",
			log.String("transfer_id", transfer.ID),
			log.String("reason", change.Reason),
			log.Err(cause))
		l.publishFailed(ctx, transfer)

	case errors.Is(err, storage.ErrConflict):
		current, gerr := l.store.GetTransfer(ctx, transfer.ID)
		if gerr == nil && current.Status == models.TransferCompleted {
			l.logger.Log(ctx, log.LevelWarn, "commit reported an error but landed",
				log.String("transfer_id", transfer.ID), log.Err(cause))
			l.publishCompleted(ctx, current)
			return current, nil
		}
		if gerr == nil {
			transfer = current
		}

	default:
		l.logger.Log(ctx, log.LevelError, "transfer left pending, reconcile will resolve it",
			log.String("transfer_id", transfer.ID),
			log.Err(errors.Join(cause, err)))
	}

	return transfer, &TransferFailedError{TransferID: transfer.ID, Status: transfer.Status, Err: cause}
}

func (l *Ledger) GetTransfer(ctx context.Context, id string) (models.Transfer, error) {
	transfer, err := l.store.GetTransfer(ctx, id)
	if err != nil {
		return models.Transfer{}, notFound("transfer", id, err)
	}
	return transfer, nil
}

// ListTransfers returns the transfers of one owner, newest first.
func (l *Ledger) ListTransfers(ctx context.Context, ownerID string) ([]models.Transfer, error) {
	if ownerID == "" {
		return nil, &ValidationError{Field: "owner_id", Reason: "is required"}
	}
	return l.store.ListTransfers(ctx, ownerID)
}

func (l *Ledger) publishCompleted(ctx context.Context, t models.Transfer) {
	l.publish(ctx, events.TopicTransferCompleted, events.TransferCompleted{
		TransferID:  t.ID,
		OwnerID:     t.OwnerID,
		FromAccount: t.From().String(),
		ToAccount:   t.To().String(),
		Amount:      t.Amount,
		Currency:    t.Currency,
		OccurredAt:  t.UpdatedAt,
	})
}

func (l *Ledger) publishFailed(ctx context.Context, t models.Transfer) {
	l.publish(ctx, events.TopicTransferFailed, events.TransferFailed{
		TransferID:  t.ID,
		OwnerID:     t.OwnerID,
		FromAccount: t.From().String(),
		ToAccount:   t.To().String(),
		Amount:      t.Amount,
		Reason:      t.FailureReason,
		OccurredAt:  t.UpdatedAt,
	})
}
