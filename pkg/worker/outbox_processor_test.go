package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicq/queue-api/internal/model"
	"github.com/clinicq/queue-api/internal/repository/memory"
	"github.com/clinicq/queue-api/pkg/logger"
	"github.com/clinicq/queue-api/pkg/metrics"
)

type recordingBroker struct {
	mu        sync.Mutex
	published map[string]int
	err       error
}

func (b *recordingBroker) Publish(_ context.Context, channel string, _ interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	if b.published == nil {
		b.published = map[string]int{}
	}
	b.published[channel]++
	return nil
}

func (b *recordingBroker) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	return nil, nil
}

func (b *recordingBroker) Close() error { return nil }

func (b *recordingBroker) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published[channel]
}

func (b *recordingBroker) setErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

func testProcessorConfig() OutboxProcessorConfig {
	return OutboxProcessorConfig{
		BatchSize:     10,
		PollInterval:  time.Second,
		RetryAttempts: 1,
		RetryDelay:    time.Millisecond,
		MaxRetries:    3,
	}
}

func newTestProcessor(t *testing.T, broker *recordingBroker) (*OutboxProcessor, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	m := metrics.NewMetricsWith(prometheus.NewRegistry(), "clinicq", "test")
	return NewOutboxProcessor(store.Outbox(), broker, testProcessorConfig(), log, m), store
}

func seedEvent(t *testing.T, store *memory.Store, eventType string) *model.OutboxEvent {
	t.Helper()
	evt := &model.OutboxEvent{EventType: eventType, Payload: []byte(`{"token_number":1}`)}
	require.NoError(t, store.Outbox().Create(context.Background(), evt))
	return evt
}

func TestProcessEventsPublishesPending(t *testing.T) {
	broker := &recordingBroker{}
	p, store := newTestProcessor(t, broker)
	ctx := context.Background()

	seedEvent(t, store, model.EventQueueRegistered)
	seedEvent(t, store, model.EventQueueCalled)

	require.NoError(t, p.processEvents(ctx))

	assert.Equal(t, 1, broker.count(model.EventQueueRegistered))
	assert.Equal(t, 1, broker.count(model.EventQueueCalled))

	for _, evt := range store.OutboxEvents() {
		assert.Equal(t, string(model.OutboxStatusProcessed), evt.Status)
		assert.NotNil(t, evt.ProcessedAt)
	}

	// Processed events do not come back on the next poll.
	require.NoError(t, p.processEvents(ctx))
	assert.Equal(t, 1, broker.count(model.EventQueueRegistered))
}

func TestProcessEventsSchedulesRetry(t *testing.T) {
	broker := &recordingBroker{}
	broker.setErr(errors.New("redis unreachable"))
	p, store := newTestProcessor(t, broker)
	ctx := context.Background()

	seedEvent(t, store, model.EventQueueRegistered)
	require.NoError(t, p.processEvents(ctx))

	events := store.OutboxEvents()
	require.Len(t, events, 1)
	evt := events[0]
	assert.Equal(t, string(model.OutboxStatusRetry), evt.Status)
	assert.Equal(t, 1, evt.RetryCount)
	require.NotNil(t, evt.ErrorMessage)
	assert.Contains(t, *evt.ErrorMessage, "redis unreachable")
	require.NotNil(t, evt.RetryAt)

	// Once the broker recovers the retry drains on a later poll.
	broker.setErr(nil)
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, p.processEvents(ctx))

	events = store.OutboxEvents()
	require.Len(t, events, 1)
	assert.Equal(t, string(model.OutboxStatusProcessed), events[0].Status)
}

func TestDeleteProcessedEvents(t *testing.T) {
	broker := &recordingBroker{}
	p, store := newTestProcessor(t, broker)
	ctx := context.Background()

	seedEvent(t, store, model.EventQueueRegistered)
	require.NoError(t, p.processEvents(ctx))

	deleted, err := store.Outbox().DeleteProcessedBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Empty(t, store.OutboxEvents())
}

func TestNewOutboxProcessorValidatesConfig(t *testing.T) {
	broker := &recordingBroker{}
	store := memory.NewStore()
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	m := metrics.NewMetricsWith(prometheus.NewRegistry(), "clinicq", "test")

	cfg := testProcessorConfig()
	cfg.BatchSize = 0
	assert.Panics(t, func() {
		NewOutboxProcessor(store.Outbox(), broker, cfg, log, m)
	})
}
