package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spendflow/transfer-ledger/internal/log"
	"github.com/spendflow/transfer-ledger/internal/models/events"
)

type fakeWriter struct {
	err      error
	calls    int
	messages []kafka.Message
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.calls++
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublishWritesKeyedJSON(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, log.NewNop())

	err := p.Publish(context.Background(), events.TopicTransferCompleted, events.TransferCompleted{
		TransferID: "t-1",
		OwnerID:    "user-1",
		Amount:     decimal.RequireFromString("30"),
		Currency:   "USD",
	})
	require.NoError(t, err)
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, events.TopicTransferCompleted, msg.Topic)
	assert.Equal(t, "t-1", string(msg.Key))

	var decoded events.TransferCompleted
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "user-1", decoded.OwnerID)
	assert.True(t, decoded.Amount.Equal(decimal.RequireFromString("30")))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishUnkeyedEvent(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, log.NewNop())

	require.NoError(t, p.Publish(context.Background(), "audit", map[string]string{"a": "b"}))
	require.Len(t, w.messages, 1)
	assert.Nil(t, w.messages[0].Key)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	broker := errors.New("broker unreachable")
	w := &fakeWriter{err: broker}
	p := newPublisher(w, log.NewNop())
	ctx := context.Background()

	for i := 0; i < tripAfter; i++ {
		err := p.Publish(ctx, events.TopicTransferFailed, events.TransferFailed{TransferID: "t-1"})
		require.ErrorIs(t, err, broker)
	}
	assert.Equal(t, tripAfter, w.calls)

	err := p.Publish(ctx, events.TopicTransferFailed, events.TransferFailed{TransferID: "t-2"})
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, tripAfter, w.calls, "open breaker must not reach the writer")
}
