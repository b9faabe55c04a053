package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver"

	"github.com/spendflow/transfer-ledger/internal/interfaces"
	"github.com/spendflow/transfer-ledger/internal/models"
	"github.com/spendflow/transfer-ledger/internal/storage"
)

const (
	collAccounts         = "accounts"
	collTransfers        = "transfers"
	collLedgerEntries    = "ledger_entries"
	collCardTransactions = "card_transactions"
)

// MongoLedgerStore keeps each record kind in its own collection. Batches run
// in a multi-document transaction, so the server must be a replica set.
type MongoLedgerStore struct {
	client           *mongo.Client
	accounts         *mongo.Collection
	transfers        *mongo.Collection
	entries          *mongo.Collection
	cardTransactions *mongo.Collection
}

// Connect dials uri and pings the primary.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	if uri == "" {
		return nil, errors.New("MONGO_URI is not set")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

func NewMongoLedgerStore(client *mongo.Client, database string) *MongoLedgerStore {
	db := client.Database(database)
	return &MongoLedgerStore{
		client:           client,
		accounts:         db.Collection(collAccounts),
		transfers:        db.Collection(collTransfers),
		entries:          db.Collection(collLedgerEntries),
		cardTransactions: db.Collection(collCardTransactions),
	}
}

// EnsureIndexes creates the lookup indexes and the per-owner idempotency key
// constraint. It is safe to call on every start.
func (m *MongoLedgerStore) EnsureIndexes(ctx context.Context) error {
	_, err := m.accounts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("accounts indexes: %w", err)
	}

	_, err = m.transfers.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "idempotency_key", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"idempotency_key": bson.M{"$type": "string"}}),
		},
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("transfers indexes: %w", err)
	}

	_, err = m.entries.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "transfer_id", Value: 1}}},
		{Keys: bson.D{{Key: "account_kind", Value: 1}, {Key: "account_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("ledger entries indexes: %w", err)
	}

	_, err = m.cardTransactions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "card_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("card transactions indexes: %w", err)
	}
	return nil
}

// mapError translates driver errors into the store's sentinel errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w", err.Error(), storage.ErrConflict)
	}
	var labeled mongo.LabeledError
	if errors.As(err, &labeled) && labeled.HasErrorLabel(driver.TransientTransactionError) {
		return fmt.Errorf("%s: %w", err.Error(), storage.ErrConflict)
	}
	return err
}

func (m *MongoLedgerStore) CreateAccount(ctx context.Context, account models.Account) error {
	if err := models.Validate(account); err != nil {
		return err
	}
	doc, err := newAccountDoc(account)
	if err != nil {
		return err
	}
	_, err = m.accounts.InsertOne(ctx, doc)
	return mapError(err)
}

func (m *MongoLedgerStore) GetAccount(ctx context.Context, ref models.AccountRef) (models.Account, error) {
	var doc accountDoc
	err := m.accounts.FindOne(ctx, bson.M{"_id": accountKey(ref)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Account{}, fmt.Errorf("account %s: %w", ref, storage.ErrNotFound)
	}
	if err != nil {
		return models.Account{}, err
	}
	return doc.model()
}

func (m *MongoLedgerStore) ListAccounts(ctx context.Context, ownerID string) ([]models.Account, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := m.accounts.Find(ctx, bson.M{"owner_id": ownerID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []accountDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	accounts := make([]models.Account, 0, len(docs))
	for _, d := range docs {
		a, err := d.model()
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

func (m *MongoLedgerStore) UpdateBalance(ctx context.Context, delta storage.BalanceDelta, at time.Time) (models.Account, error) {
	var account models.Account
	err := m.withTx(ctx, func(ctx context.Context) error {
		if err := m.applyDelta(ctx, delta, at); err != nil {
			return err
		}
		var err error
		account, err = m.GetAccount(ctx, delta.Account)
		return err
	})
	return account, err
}

// applyDelta puts the bounds into the update filter, so the increment only
// matches while the resulting balance stays inside them. When nothing
// matched the account is read back to tell which condition failed.
func (m *MongoLedgerStore) applyDelta(ctx context.Context, d storage.BalanceDelta, at time.Time) error {
	filter := bson.M{"_id": accountKey(d.Account)}
	bounds := bson.M{}
	if d.Min != nil {
		v, err := toDecimal128(d.Min.Sub(d.Delta))
		if err != nil {
			return err
		}
		bounds["$gte"] = v
	}
	if d.Max != nil {
		v, err := toDecimal128(d.Max.Sub(d.Delta))
		if err != nil {
			return err
		}
		bounds["$lte"] = v
	}
	if len(bounds) > 0 {
		filter["balance"] = bounds
	}

	inc, err := toDecimal128(d.Delta)
	if err != nil {
		return err
	}
	update := bson.M{
		"$inc": bson.M{"balance": inc},
		"$set": bson.M{"updated_at": at},
	}

	res, err := m.accounts.UpdateOne(ctx, filter, update)
	if err != nil {
		return mapError(err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	current, err := m.GetAccount(ctx, d.Account)
	if err != nil {
		return err
	}
	if _, err := d.Check(current.Balance); err != nil {
		return fmt.Errorf("account %s: %w", d.Account, err)
	}
	return fmt.Errorf("account %s changed during update: %w", d.Account, storage.ErrConflict)
}

func (m *MongoLedgerStore) CreateTransfer(ctx context.Context, t models.Transfer) error {
	if err := models.Validate(t); err != nil {
		return err
	}
	doc, err := newTransferDoc(t)
	if err != nil {
		return err
	}
	_, err = m.transfers.InsertOne(ctx, doc)
	return mapError(err)
}

func (m *MongoLedgerStore) GetTransfer(ctx context.Context, id string) (models.Transfer, error) {
	return m.findTransfer(ctx, bson.M{"_id": id}, fmt.Sprintf("transfer %s", id))
}

func (m *MongoLedgerStore) FindTransferByIdempotencyKey(ctx context.Context, ownerID, key string) (models.Transfer, error) {
	return m.findTransfer(ctx, bson.M{"owner_id": ownerID, "idempotency_key": key}, fmt.Sprintf("idempotency key %q", key))
}

func (m *MongoLedgerStore) findTransfer(ctx context.Context, filter bson.M, what string) (models.Transfer, error) {
	var doc transferDoc
	err := m.transfers.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Transfer{}, fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	}
	if err != nil {
		return models.Transfer{}, err
	}
	return doc.model()
}

func (m *MongoLedgerStore) ListTransfers(ctx context.Context, ownerID string) ([]models.Transfer, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	return m.queryTransfers(ctx, bson.M{"owner_id": ownerID}, opts)
}

func (m *MongoLedgerStore) ListPendingTransfers(ctx context.Context, createdBefore time.Time) ([]models.Transfer, error) {
	filter := bson.M{
		"status":     string(models.TransferPending),
		"created_at": bson.M{"$lt": createdBefore},
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	return m.queryTransfers(ctx, filter, opts)
}

func (m *MongoLedgerStore) queryTransfers(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Transfer, error) {
	cur, err := m.transfers.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []transferDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	transfers := make([]models.Transfer, 0, len(docs))
	for _, d := range docs {
		t, err := d.model()
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	return transfers, nil
}

func (m *MongoLedgerStore) UpdateTransferStatus(ctx context.Context, change storage.StatusChange) error {
	return m.changeStatus(ctx, change)
}

// changeStatus is a compare-and-set on the status field.
func (m *MongoLedgerStore) changeStatus(ctx context.Context, c storage.StatusChange) error {
	filter := bson.M{"_id": c.TransferID, "status": string(c.From)}
	update := bson.M{"$set": bson.M{
		"status":         string(c.To),
		"failure_reason": c.Reason,
		"updated_at":     c.At,
	}}

	res, err := m.transfers.UpdateOne(ctx, filter, update)
	if err != nil {
		return mapError(err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	t, err := m.GetTransfer(ctx, c.TransferID)
	if err != nil {
		return err
	}
	return fmt.Errorf("transfer %s is %s, not %s: %w", c.TransferID, t.Status, c.From, storage.ErrConflict)
}

func (m *MongoLedgerStore) GetEntriesByTransfer(ctx context.Context, transferID string) ([]models.LedgerEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "direction", Value: -1}})
	return m.queryEntries(ctx, bson.M{"transfer_id": transferID}, opts)
}

func (m *MongoLedgerStore) GetEntriesByAccount(ctx context.Context, ref models.AccountRef) ([]models.LedgerEntry, error) {
	filter := bson.M{"account_kind": string(ref.Kind), "account_id": ref.ID}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}})
	return m.queryEntries(ctx, filter, opts)
}

func (m *MongoLedgerStore) queryEntries(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.LedgerEntry, error) {
	cur, err := m.entries.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []entryDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	entries := make([]models.LedgerEntry, 0, len(docs))
	for _, d := range docs {
		e, err := d.model()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Commit runs the whole batch in one session transaction.
func (m *MongoLedgerStore) Commit(ctx context.Context, batch *storage.Batch) error {
	if err := batch.Validate(); err != nil {
		return err
	}
	if batch.Empty() {
		return nil
	}

	entries := make([]any, 0, len(batch.Entries))
	for _, e := range batch.Entries {
		doc, err := newEntryDoc(e)
		if err != nil {
			return err
		}
		entries = append(entries, doc)
	}
	cardTxs := make([]any, 0, len(batch.CardTransactions))
	for _, c := range batch.CardTransactions {
		doc, err := newCardTransactionDoc(c)
		if err != nil {
			return err
		}
		cardTxs = append(cardTxs, doc)
	}

	return m.withTx(ctx, func(ctx context.Context) error {
		for _, d := range batch.LockOrder() {
			if err := m.applyDelta(ctx, d, batch.At); err != nil {
				return err
			}
		}
		for _, c := range batch.StatusChanges {
			if err := m.changeStatus(ctx, c); err != nil {
				return err
			}
		}
		if len(entries) > 0 {
			if _, err := m.entries.InsertMany(ctx, entries); err != nil {
				return mapError(err)
			}
		}
		if len(cardTxs) > 0 {
			if _, err := m.cardTransactions.InsertMany(ctx, cardTxs); err != nil {
				return mapError(err)
			}
		}
		return nil
	})
}

// withTx runs fn inside a session transaction. The driver retries fn on
// transient transaction errors, so fn must only touch the database.
func (m *MongoLedgerStore) withTx(ctx context.Context, fn func(ctx context.Context) error) error {
	session, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	return mapError(err)
}

var _ interfaces.LedgerStore = (*MongoLedgerStore)(nil)
