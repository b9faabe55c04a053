package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"

	"github.com/spendflow/transfer-ledger/internal/interfaces"
	"github.com/spendflow/transfer-ledger/internal/log"
)

// tripAfter consecutive write failures open the breaker for openFor.
const (
	tripAfter = 5
	openFor   = 30 * time.Second
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// keyed events choose their own message key.
type keyed interface {
	PartitionKey() string
}

// Publisher writes JSON events to Kafka. Writes go through a circuit breaker
// so an unreachable cluster fails fast instead of stalling every transfer.
type Publisher struct {
	writer  messageWriter
	breaker *gobreaker.CircuitBreaker
	logger  log.Logger
}

func NewPublisher(brokers []string, logger log.Logger) *Publisher {
	return newPublisher(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           5 * time.Second,
		AllowAutoTopicCreation: true,
	}, logger)
}

func newPublisher(w messageWriter, logger log.Logger) *Publisher {
	p := &Publisher{writer: w, logger: logger}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "kafka-publisher",
		Timeout: openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= tripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Log(context.Background(), log.LevelWarn, "circuit breaker state changed",
				log.String("breaker", name), log.String("from", from.String()), log.String("to", to.String()))
		},
	})
	return p
}

func (p *Publisher) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", topic, err)
	}

	msg := kafka.Message{Topic: topic, Value: data}
	if k, ok := event.(keyed); ok {
		msg.Key = []byte(k.PartitionKey())
	}

	_, err = p.breaker.Execute(func() (any, error) {
		return nil, p.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ interfaces.EventPublisher = (*Publisher)(nil)
