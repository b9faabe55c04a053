package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spendflow/transfer-ledger/internal/interfaces"
	"github.com/spendflow/transfer-ledger/internal/models"
	"github.com/spendflow/transfer-ledger/internal/storage"
)

// Operation names passed to a Fault.
const (
	OpCommit         = "commit"
	OpCreateTransfer = "create_transfer"
	OpUpdateStatus   = "update_status"
)

// Fault lets tests make a store operation fail before it touches any state.
type Fault func(op string) error

// MemoryLedgerStore is an in-memory implementation of interfaces.LedgerStore.
// One mutex guards all documents, so a batch commit is atomic with respect to
// every other operation.
type MemoryLedgerStore struct {
	mu               sync.Mutex
	accounts         map[models.AccountRef]models.Account
	transfers        map[string]models.Transfer
	idempotency      map[string]string // ownerID + key -> transfer id
	entries          []models.LedgerEntry
	entryIDs         map[string]struct{}
	cardTransactions map[string]models.CardTransaction
	fault            Fault
}

func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		accounts:         make(map[models.AccountRef]models.Account),
		transfers:        make(map[string]models.Transfer),
		idempotency:      make(map[string]string),
		entries:          make([]models.LedgerEntry, 0),
		entryIDs:         make(map[string]struct{}),
		cardTransactions: make(map[string]models.CardTransaction),
	}
}

// SetFault installs f; pass nil to clear it.
func (m *MemoryLedgerStore) SetFault(f Fault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = f
}

func (m *MemoryLedgerStore) injected(op string) error {
	if m.fault == nil {
		return nil
	}
	return m.fault(op)
}

func (m *MemoryLedgerStore) CreateAccount(ctx context.Context, account models.Account) error {
	if err := models.Validate(account); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.accounts[account.Ref()]; exists {
		return fmt.Errorf("account %s: %w", account.Ref(), storage.ErrConflict)
	}
	m.accounts[account.Ref()] = account
	return nil
}

func (m *MemoryLedgerStore) GetAccount(ctx context.Context, ref models.AccountRef) (models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[ref]
	if !ok {
		return models.Account{}, fmt.Errorf("account %s: %w", ref, storage.ErrNotFound)
	}
	return account, nil
}

func (m *MemoryLedgerStore) ListAccounts(ctx context.Context, ownerID string) ([]models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []models.Account
	for _, a := range m.accounts {
		if a.OwnerID == ownerID {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryLedgerStore) UpdateBalance(ctx context.Context, delta storage.BalanceDelta, at time.Time) (models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[delta.Account]
	if !ok {
		return models.Account{}, fmt.Errorf("account %s: %w", delta.Account, storage.ErrNotFound)
	}
	next, err := delta.Check(account.Balance)
	if err != nil {
		return models.Account{}, fmt.Errorf("account %s: %w", delta.Account, err)
	}
	account.Balance = next
	account.UpdatedAt = at
	m.accounts[delta.Account] = account
	return account, nil
}

func idempotencyIndex(ownerID, key string) string {
	return ownerID + "\x00" + key
}

func (m *MemoryLedgerStore) CreateTransfer(ctx context.Context, transfer models.Transfer) error {
	if err := models.Validate(transfer); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected(OpCreateTransfer); err != nil {
		return err
	}
	if _, exists := m.transfers[transfer.ID]; exists {
		return fmt.Errorf("transfer %s: %w", transfer.ID, storage.ErrConflict)
	}
	if transfer.IdempotencyKey != "" {
		idx := idempotencyIndex(transfer.OwnerID, transfer.IdempotencyKey)
		if _, exists := m.idempotency[idx]; exists {
			return fmt.Errorf("idempotency key %q: %w", transfer.IdempotencyKey, storage.ErrConflict)
		}
		m.idempotency[idx] = transfer.ID
	}
	m.transfers[transfer.ID] = transfer
	return nil
}

func (m *MemoryLedgerStore) GetTransfer(ctx context.Context, id string) (models.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	transfer, ok := m.transfers[id]
	if !ok {
		return models.Transfer{}, fmt.Errorf("transfer %s: %w", id, storage.ErrNotFound)
	}
	return transfer, nil
}

func (m *MemoryLedgerStore) FindTransferByIdempotencyKey(ctx context.Context, ownerID, key string) (models.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.idempotency[idempotencyIndex(ownerID, key)]
	if !ok {
		return models.Transfer{}, fmt.Errorf("idempotency key %q: %w", key, storage.ErrNotFound)
	}
	return m.transfers[id], nil
}

func (m *MemoryLedgerStore) ListTransfers(ctx context.Context, ownerID string) ([]models.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []models.Transfer
	for _, t := range m.transfers {
		if t.OwnerID == ownerID {
			result = append(result, t)
		}
	}
	sortNewestFirst(result)
	return result, nil
}

func (m *MemoryLedgerStore) ListPendingTransfers(ctx context.Context, createdBefore time.Time) ([]models.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []models.Transfer
	for _, t := range m.transfers {
		if t.Status == models.TransferPending && t.CreatedAt.Before(createdBefore) {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func sortNewestFirst(transfers []models.Transfer) {
	sort.Slice(transfers, func(i, j int) bool {
		return transfers[i].CreatedAt.After(transfers[j].CreatedAt)
	})
}

func (m *MemoryLedgerStore) UpdateTransferStatus(ctx context.Context, change storage.StatusChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.injected(OpUpdateStatus); err != nil {
		return err
	}
	transfer, ok := m.transfers[change.TransferID]
	if !ok {
		return fmt.Errorf("transfer %s: %w", change.TransferID, storage.ErrNotFound)
	}
	transfer, err := applyStatus(transfer, change)
	if err != nil {
		return err
	}
	m.transfers[transfer.ID] = transfer
	return nil
}

func applyStatus(transfer models.Transfer, change storage.StatusChange) (models.Transfer, error) {
	if transfer.Status != change.From {
		return models.Transfer{}, fmt.Errorf("transfer %s is %s, not %s: %w",
			change.TransferID, transfer.Status, change.From, storage.ErrConflict)
	}
	transfer.Status = change.To
	transfer.FailureReason = change.Reason
	transfer.UpdatedAt = change.At
	if err := models.Validate(transfer); err != nil {
		return models.Transfer{}, err
	}
	return transfer, nil
}

func (m *MemoryLedgerStore) GetEntriesByTransfer(ctx context.Context, transferID string) ([]models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []models.LedgerEntry
	for _, e := range m.entries {
		if e.TransferID == transferID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *MemoryLedgerStore) GetEntriesByAccount(ctx context.Context, ref models.AccountRef) ([]models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []models.LedgerEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].Account() == ref {
			result = append(result, m.entries[i])
		}
	}
	return result, nil
}

// GetCardTransactions returns the card transactions recorded for a card.
// Used by tests; the ledger itself only writes them.
func (m *MemoryLedgerStore) GetCardTransactions(cardID string) []models.CardTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []models.CardTransaction
	for _, tx := range m.cardTransactions {
		if tx.CardID == cardID {
			result = append(result, tx)
		}
	}
	return result
}

// Commit stages every write of the batch against copies and only swaps them
// in once all of them succeeded.
func (m *MemoryLedgerStore) Commit(ctx context.Context, batch *storage.Batch) error {
	if err := batch.Validate(); err != nil {
		return err
	}
	if batch.Empty() {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.injected(OpCommit); err != nil {
		return err
	}

	accounts := make(map[models.AccountRef]models.Account, len(batch.Deltas))
	for _, d := range batch.Deltas {
		account, ok := accounts[d.Account]
		if !ok {
			if account, ok = m.accounts[d.Account]; !ok {
				return fmt.Errorf("account %s: %w", d.Account, storage.ErrNotFound)
			}
		}
		next, err := d.Check(account.Balance)
		if err != nil {
			return fmt.Errorf("account %s: %w", d.Account, err)
		}
		account.Balance = next
		account.UpdatedAt = batch.At
		accounts[d.Account] = account
	}

	transfers := make(map[string]models.Transfer, len(batch.StatusChanges))
	for _, c := range batch.StatusChanges {
		transfer, ok := transfers[c.TransferID]
		if !ok {
			if transfer, ok = m.transfers[c.TransferID]; !ok {
				return fmt.Errorf("transfer %s: %w", c.TransferID, storage.ErrNotFound)
			}
		}
		transfer, err := applyStatus(transfer, c)
		if err != nil {
			return err
		}
		transfers[transfer.ID] = transfer
	}

	seen := make(map[string]struct{}, len(batch.Entries))
	for _, e := range batch.Entries {
		if _, dup := m.entryIDs[e.ID]; dup {
			return fmt.Errorf("ledger entry %s: %w", e.ID, storage.ErrConflict)
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("ledger entry %s: %w", e.ID, storage.ErrConflict)
		}
		seen[e.ID] = struct{}{}
	}
	for _, tx := range batch.CardTransactions {
		if _, dup := m.cardTransactions[tx.ID]; dup {
			return fmt.Errorf("card transaction %s: %w", tx.ID, storage.ErrConflict)
		}
	}

	for ref, account := range accounts {
		m.accounts[ref] = account
	}
	for id, transfer := range transfers {
		m.transfers[id] = transfer
	}
	for _, e := range batch.Entries {
		m.entries = append(m.entries, e)
		m.entryIDs[e.ID] = struct{}{}
	}
	for _, tx := range batch.CardTransactions {
		m.cardTransactions[tx.ID] = tx
	}
	return nil
}

// Compile-time check: ensure MemoryLedgerStore implements LedgerStore interface
var _ interfaces.LedgerStore = (*MemoryLedgerStore)(nil)
