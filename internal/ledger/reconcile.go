package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spendflow/transfer-ledger/internal/log"
	"github.com/spendflow/transfer-ledger/internal/models"
	"github.com/spendflow/transfer-ledger/internal/storage"
)

const reasonAbandoned = "abandoned"

type ReconcileReport struct {
	Scanned   int
	Completed int
	Failed    int
	Skipped   int
}

// ReconcilePending resolves transfers that have been pending for longer than
// olderThan. A transfer whose ledger entries exist had its commit land and is
// marked completed; any other one is marked failed. Status changes are
// compare-and-set from pending, so a transfer resolved meanwhile is skipped.
func (l *Ledger) ReconcilePending(ctx context.Context, olderThan time.Duration) (ReconcileReport, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.reconcile_pending")
	defer span.End()

	var report ReconcileReport

	pending, err := l.store.ListPendingTransfers(ctx, l.now().Add(-olderThan))
	if err != nil {
		return report, fmt.Errorf("list pending transfers: %w", err)
	}

	var errs []error
	for _, t := range pending {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		report.Scanned++

		entries, err := l.store.GetEntriesByTransfer(ctx, t.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("transfer %s: %w", t.ID, err))
			continue
		}

		change := storage.StatusChange{
			TransferID: t.ID,
			From:       models.TransferPending,
			To:         models.TransferFailed,
			Reason:     reasonAbandoned,
			At:         l.now(),
		}
		if entriesLanded(entries) {
			change.To = models.TransferCompleted
			change.Reason = ""
		}

		err = l.store.UpdateTransferStatus(ctx, change)
		switch {
		case errors.Is(err, storage.ErrConflict):
			report.Skipped++
			continue
		case err != nil:
			errs = append(errs, fmt.Errorf("transfer %s: %w", t.ID, err))
			continue
		}

		t.Status = change.To
		t.FailureReason = change.Reason
		t.UpdatedAt = change.At
		if t.Status == models.TransferCompleted {
			report.Completed++
			l.publishCompleted(ctx, t)
		} else {
			report.Failed++
			l.publishFailed(ctx, t)
		}
		l.logger.Log(ctx, log.LevelInfo, "pending transfer reconciled",
			log.String("transfer_id", t.ID), log.String("status", string(t.Status)))
	}

	return report, errors.Join(errs...)
}

// Sweeper runs ReconcilePending on a fixed interval.
type Sweeper struct {
	ledger     *Ledger
	interval   time.Duration
	pendingAge time.Duration
}

func NewSweeper(l *Ledger, interval, pendingAge time.Duration) *Sweeper {
	return &Sweeper{ledger: l, interval: interval, pendingAge: pendingAge}
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	logger := s.ledger.logger.With(log.String("component", "sweeper"))
	logger.Log(ctx, log.LevelInfo, "pending transfer sweeper started",
		log.String("interval", s.interval.String()))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Log(context.Background(), log.LevelInfo, "pending transfer sweeper stopped")
			return
		case <-ticker.C:
			report, err := s.ledger.ReconcilePending(ctx, s.pendingAge)
			if err != nil {
				logger.Log(ctx, log.LevelError, "reconcile sweep failed", log.Err(err))
			}
			if report.Scanned > 0 {
				logger.Log(ctx, log.LevelInfo, "reconcile sweep finished",
					log.Int("scanned", report.Scanned),
					log.Int("completed", report.Completed),
					log.Int("failed", report.Failed),
					log.Int("skipped", report.Skipped))
			}
		}
	}
}
