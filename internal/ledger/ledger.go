package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/spendflow/transfer-ledger/internal/backoff"
	"github.com/spendflow/transfer-ledger/internal/interfaces"
	"github.com/spendflow/transfer-ledger/internal/log"
)

const tracerName = "github.com/spendflow/transfer-ledger/internal/ledger"

// Ledger moves money between the accounts held in a LedgerStore. It keeps no
// balances of its own: every invariant across documents is delegated to the
// store's atomic batch commit.
type Ledger struct {
	store     interfaces.LedgerStore
	publisher interfaces.EventPublisher
	logger    log.Logger
	tracer    trace.Tracer
	now       func() time.Time
	newID     func() string
	retry     backoff.Policy
}

type Option func(*Ledger)

// WithPublisher sends transfer_completed and transfer_failed events to p.
func WithPublisher(p interfaces.EventPublisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

func WithLogger(logger log.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(l *Ledger) { l.newID = newID }
}

// WithFailedStatusRetry bounds the retries of the write that marks a
// transfer failed after its commit did not land.
func WithFailedStatusRetry(p backoff.Policy) Option {
	return func(l *Ledger) { l.retry = p }
}

// NewLedger is a constructor function that creates a new Ledger instance
// over the given storage implementation.
func NewLedger(store interfaces.LedgerStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		logger: log.NewNop(),
		tracer: otel.Tracer(tracerName),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		retry: backoff.Policy{
			Attempts: 3,
			Base:     50 * time.Millisecond,
			Max:      time.Second,
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) publish(ctx context.Context, topic string, event any) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.Publish(ctx, topic, event); err != nil {
		l.logger.Log(ctx, log.LevelWarn, "event publish failed",
			log.String("topic", topic), log.Err(err))
	}
}
