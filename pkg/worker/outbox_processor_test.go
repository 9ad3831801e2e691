package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/santetogo/records-api/internal/model"
	"github.com/santetogo/records-api/internal/repository/memory"
	"github.com/santetogo/records-api/pkg/logger"
	"github.com/santetogo/records-api/pkg/messaging"
)

type failingBroker struct {
	messaging.Broker
	calls int
}

func (b *failingBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	b.calls++
	return errors.New("connection refused")
}

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: &bytes.Buffer{}})
}

func testConfig() OutboxProcessorConfig {
	return OutboxProcessorConfig{
		Channel:      "access-grants",
		BatchSize:    10,
		PollInterval: time.Second,
		MaxRetries:   2,
		RetryDelay:   time.Millisecond,
	}
}

func TestProcessBatchPublishesEnvelope(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.NewStore()
	broker := messaging.NewInProcessBroker()
	defer broker.Close()
	sub, err := broker.Subscribe(ctx, "access-grants")
	require.NoError(t, err)

	require.NoError(t, store.Outbox().Create(ctx, &model.OutboxEvent{
		EventType: model.EventAccessApproved,
		Payload:   []byte(`{"grant_id":"g1","status":"approved"}`),
	}))

	p, err := NewOutboxProcessor(store.Outbox(), broker, testConfig(), testLogger(), nil)
	require.NoError(t, err)

	n, err := p.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var msg messaging.Message
	require.NoError(t, json.Unmarshal(<-sub, &msg))
	assert.Equal(t, model.EventAccessApproved, msg.Type)
	assert.JSONEq(t, `{"grant_id":"g1","status":"approved"}`, string(msg.Payload))

	pending, err := store.Outbox().GetPendingEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProcessBatchRetriesThenFails(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	broker := &failingBroker{}

	ev := &model.OutboxEvent{EventType: model.EventAccessRequested, Payload: []byte(`{}`)}
	require.NoError(t, store.Outbox().Create(ctx, ev))

	p, err := NewOutboxProcessor(store.Outbox(), broker, testConfig(), testLogger(), nil)
	require.NoError(t, err)

	n, err := p.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	time.Sleep(5 * time.Millisecond)
	pending, err := store.Outbox().GetPendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, model.OutboxStatusRetry, pending[0].Status)
	assert.Equal(t, 1, pending[0].RetryCount)

	_, err = p.ProcessBatch(ctx)
	require.NoError(t, err)

	pending, err = store.Outbox().GetPendingEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, 2, broker.calls)
}

func TestNewOutboxProcessorValidatesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 0
	_, err := NewOutboxProcessor(memory.NewStore().Outbox(), messaging.NewInProcessBroker(), cfg, testLogger(), nil)
	assert.Error(t, err)
}
