package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/spendflow/transfer-ledger/internal/interfaces"
	"github.com/spendflow/transfer-ledger/internal/models"
	"github.com/spendflow/transfer-ledger/internal/storage"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresLedgerStore struct {
	db *sql.DB
}

func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{
		db: db,
	}
}

// mapError translates driver errors into the store's sentinel errors.
func mapError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505", "40001", "40P01": // unique_violation, serialization_failure, deadlock_detected
			return fmt.Errorf("%s: %w", pqErr.Message, storage.ErrConflict)
		case "23514": // check_violation
			return &models.ValidationError{Field: pqErr.Constraint, Reason: pqErr.Message}
		}
	}
	return err
}

const accountColumns = `id, kind, owner_id, COALESCE(card_type, ''), name, balance, credit_limit, currency, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Kind, &a.OwnerID, &a.CardType, &a.Name, &a.Balance,
		&a.CreditLimit, &a.Currency, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return models.Account{}, err
	}
	if err := models.Validate(a); err != nil {
		return models.Account{}, fmt.Errorf("stored account %s: %w", a.Ref(), err)
	}
	return a, nil
}

func (p *PostgresLedgerStore) CreateAccount(ctx context.Context, account models.Account) error {
	if err := models.Validate(account); err != nil {
		return err
	}

	const query = `INSERT INTO accounts (id, kind, owner_id, card_type, name, balance, credit_limit, currency, created_at, updated_at)
	VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10)`

	_, err := p.db.ExecContext(ctx, query, account.ID, account.Kind, account.OwnerID, account.CardType,
		account.Name, account.Balance, account.CreditLimit, account.Currency, account.CreatedAt, account.UpdatedAt)
	return mapError(err)
}

func (p *PostgresLedgerStore) GetAccount(ctx context.Context, ref models.AccountRef) (models.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE kind = $1 AND id = $2`

	account, err := scanAccount(p.db.QueryRowContext(ctx, query, ref.Kind, ref.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, fmt.Errorf("account %s: %w", ref, storage.ErrNotFound)
	}
	return account, err
}

func (p *PostgresLedgerStore) ListAccounts(ctx context.Context, ownerID string) ([]models.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE owner_id = $1 ORDER BY created_at`

	rows, err := p.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (p *PostgresLedgerStore) UpdateBalance(ctx context.Context, delta storage.BalanceDelta, at time.Time) (models.Account, error) {
	var account models.Account
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		if err := applyDelta(ctx, tx, delta, at); err != nil {
			return err
		}
		var err error
		account, err = scanAccount(tx.QueryRowContext(ctx,
			`SELECT `+accountColumns+` FROM accounts WHERE kind = $1 AND id = $2`, delta.Account.Kind, delta.Account.ID))
		return err
	})
	return account, err
}

// applyDelta updates the balance in place, which takes the row lock, and
// checks the bounds against the balance it replaced. A violated bound
// returns an error so the surrounding transaction rolls back.
func applyDelta(ctx context.Context, q querier, d storage.BalanceDelta, at time.Time) error {
	const query = `UPDATE accounts SET balance = balance + $1, updated_at = $2
	WHERE kind = $3 AND id = $4 RETURNING balance`

	var next decimal.Decimal
	err := q.QueryRowContext(ctx, query, d.Delta, at, d.Account.Kind, d.Account.ID).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("account %s: %w", d.Account, storage.ErrNotFound)
	}
	if err != nil {
		return mapError(err)
	}
	if _, err := d.Check(next.Sub(d.Delta)); err != nil {
		return fmt.Errorf("account %s: %w", d.Account, err)
	}
	return nil
}

const transferColumns = `id, owner_id, COALESCE(idempotency_key, ''), from_account_id, from_kind, to_account_id, to_kind,
	amount, currency, description, status, failure_reason, created_at, updated_at`

func scanTransfer(row interface{ Scan(...any) error }) (models.Transfer, error) {
	var t models.Transfer
	err := row.Scan(&t.ID, &t.OwnerID, &t.IdempotencyKey, &t.FromAccountID, &t.FromKind, &t.ToAccountID,
		&t.ToKind, &t.Amount, &t.Currency, &t.Description, &t.Status, &t.FailureReason, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return models.Transfer{}, err
	}
	if err := models.Validate(t); err != nil {
		return models.Transfer{}, fmt.Errorf("stored transfer %s: %w", t.ID, err)
	}
	return t, nil
}

func (p *PostgresLedgerStore) CreateTransfer(ctx context.Context, t models.Transfer) error {
	if err := models.Validate(t); err != nil {
		return err
	}

	const query = `INSERT INTO transfers (id, owner_id, idempotency_key, from_account_id, from_kind, to_account_id, to_kind,
		amount, currency, description, status, failure_reason, created_at, updated_at)
	VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := p.db.ExecContext(ctx, query, t.ID, t.OwnerID, t.IdempotencyKey, t.FromAccountID, t.FromKind,
		t.ToAccountID, t.ToKind, t.Amount, t.Currency, t.Description, t.Status, t.FailureReason, t.CreatedAt, t.UpdatedAt)
	return mapError(err)
}

func (p *PostgresLedgerStore) GetTransfer(ctx context.Context, id string) (models.Transfer, error) {
	const query = `SELECT ` + transferColumns + ` FROM transfers WHERE id = $1`

	t, err := scanTransfer(p.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Transfer{}, fmt.Errorf("transfer %s: %w", id, storage.ErrNotFound)
	}
	return t, err
}

func (p *PostgresLedgerStore) FindTransferByIdempotencyKey(ctx context.Context, ownerID, key string) (models.Transfer, error) {
	const query = `SELECT ` + transferColumns + ` FROM transfers WHERE owner_id = $1 AND idempotency_key = $2`

	t, err := scanTransfer(p.db.QueryRowContext(ctx, query, ownerID, key))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Transfer{}, fmt.Errorf("idempotency key %q: %w", key, storage.ErrNotFound)
	}
	return t, err
}

func (p *PostgresLedgerStore) ListTransfers(ctx context.Context, ownerID string) ([]models.Transfer, error) {
	const query = `SELECT ` + transferColumns + ` FROM transfers WHERE owner_id = $1 ORDER BY created_at DESC`
	return p.queryTransfers(ctx, query, ownerID)
}

func (p *PostgresLedgerStore) ListPendingTransfers(ctx context.Context, createdBefore time.Time) ([]models.Transfer, error) {
	const query = `SELECT ` + transferColumns + ` FROM transfers
	WHERE status = 'pending' AND created_at < $1 ORDER BY created_at`
	return p.queryTransfers(ctx, query, createdBefore)
}

func (p *PostgresLedgerStore) queryTransfers(ctx context.Context, query string, args ...any) ([]models.Transfer, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []models.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

func (p *PostgresLedgerStore) UpdateTransferStatus(ctx context.Context, change storage.StatusChange) error {
	return changeStatus(ctx, p.db, change)
}

// changeStatus is a compare-and-set on the status column.
func changeStatus(ctx context.Context, q querier, c storage.StatusChange) error {
	const query = `UPDATE transfers SET status = $1, failure_reason = $2, updated_at = $3
	WHERE id = $4 AND status = $5`

	res, err := q.ExecContext(ctx, query, c.To, c.Reason, c.At, c.TransferID, c.From)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var status string
	err = q.QueryRowContext(ctx, `SELECT status FROM transfers WHERE id = $1`, c.TransferID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("transfer %s: %w", c.TransferID, storage.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("transfer %s is %s, not %s: %w", c.TransferID, status, c.From, storage.ErrConflict)
}

const entryColumns = `id, owner_id, transfer_id, account_id, account_kind, direction, amount, currency, description, created_at`

func (p *PostgresLedgerStore) GetEntriesByTransfer(ctx context.Context, transferID string) ([]models.LedgerEntry, error) {
	const query = `SELECT ` + entryColumns + ` FROM ledger_entries WHERE transfer_id = $1 ORDER BY direction DESC`
	return p.queryEntries(ctx, query, transferID)
}

func (p *PostgresLedgerStore) GetEntriesByAccount(ctx context.Context, ref models.AccountRef) ([]models.LedgerEntry, error) {
	const query = `SELECT ` + entryColumns + ` FROM ledger_entries
	WHERE account_kind = $1 AND account_id = $2 ORDER BY created_at DESC, id`
	return p.queryEntries(ctx, query, ref.Kind, ref.ID)
}

func (p *PostgresLedgerStore) queryEntries(ctx context.Context, query string, args ...any) ([]models.LedgerEntry, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.TransferID, &e.AccountID, &e.AccountKind,
			&e.Direction, &e.Amount, &e.Currency, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := models.Validate(e); err != nil {
			return nil, fmt.Errorf("stored ledger entry %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func saveEntry(ctx context.Context, q querier, e models.LedgerEntry) error {
	const query = `INSERT INTO ledger_entries (id, owner_id, transfer_id, account_id, account_kind, direction, amount, currency, description, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := q.ExecContext(ctx, query, e.ID, e.OwnerID, e.TransferID, e.AccountID, e.AccountKind,
		e.Direction, e.Amount, e.Currency, e.Description, e.CreatedAt)
	return mapError(err)
}

func saveCardTransaction(ctx context.Context, q querier, c models.CardTransaction) error {
	const query = `INSERT INTO card_transactions (id, owner_id, card_id, type, amount, category, description, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := q.ExecContext(ctx, query, c.ID, c.OwnerID, c.CardID, c.Type, c.Amount, c.Category, c.Description, c.CreatedAt)
	return mapError(err)
}

// Commit runs the whole batch in one SQL transaction. Account rows are
// updated in lock order so opposite transfers cannot deadlock.
func (p *PostgresLedgerStore) Commit(ctx context.Context, batch *storage.Batch) error {
	if err := batch.Validate(); err != nil {
		return err
	}
	if batch.Empty() {
		return nil
	}

	return p.inTx(ctx, func(tx *sql.Tx) error {
		for _, d := range batch.LockOrder() {
			if err := applyDelta(ctx, tx, d, batch.At); err != nil {
				return err
			}
		}
		for _, c := range batch.StatusChanges {
			if err := changeStatus(ctx, tx, c); err != nil {
				return err
			}
		}
		for _, e := range batch.Entries {
			if err := saveEntry(ctx, tx, e); err != nil {
				return err
			}
		}
		for _, c := range batch.CardTransactions {
			if err := saveCardTransaction(ctx, tx, c); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *PostgresLedgerStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	if err = fn(dbTx); err != nil {
		return err
	}
	return mapError(dbTx.Commit())
}

var _ interfaces.LedgerStore = (*PostgresLedgerStore)(nil)
