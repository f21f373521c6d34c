package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicq/queue-api/internal/model"
	"github.com/clinicq/queue-api/internal/repository/memory"
	"github.com/clinicq/queue-api/pkg/logger"
	"github.com/clinicq/queue-api/pkg/metrics"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *recordingSender) Send(_ context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, n.Recipient)
	return nil
}

func (s *recordingSender) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func newTestNotifier(t *testing.T, sender Sender) (*Notifier, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	m := metrics.NewMetricsWith(prometheus.NewRegistry(), "clinicq", "test")
	n := NewNotifier(
		store.NotificationRepo(),
		map[model.NotificationChannel]Sender{model.ChannelSMS: sender},
		NotifierConfig{BatchSize: 10, PollInterval: time.Second, MaxRetries: 2, RetryBackoff: time.Millisecond},
		log, m,
	)
	return n, store
}

func seedNotification(t *testing.T, store *memory.Store, channel model.NotificationChannel) *model.Notification {
	t.Helper()
	n := &model.Notification{
		PatientID:    uuid.New(),
		Channel:      channel,
		TemplateType: model.TemplateTurnReady,
		Message:      "Hello, your turn is ready! ClinicQ",
		Recipient:    "9000000001",
		ScheduledFor: time.Now(),
	}
	require.NoError(t, store.NotificationRepo().Create(context.Background(), n))
	return n
}

func TestNotifierDeliversPending(t *testing.T) {
	sender := &recordingSender{}
	n, store := newTestNotifier(t, sender)
	ctx := context.Background()

	seedNotification(t, store, model.ChannelSMS)
	require.NoError(t, n.processBatch(ctx))

	assert.Equal(t, []string{"9000000001"}, sender.sent)

	stored := store.Notifications()
	require.Len(t, stored, 1)
	assert.Equal(t, model.NotificationStatusSent, stored[0].Status)
	assert.NotNil(t, stored[0].SentAt)
	assert.Nil(t, stored[0].LastError)

	// Sent rows are not redelivered.
	require.NoError(t, n.processBatch(ctx))
	assert.Len(t, sender.sent, 1)
}

func TestNotifierRetriesThenGivesUp(t *testing.T) {
	sender := &recordingSender{}
	sender.setErr(errors.New("gateway timeout"))
	n, store := newTestNotifier(t, sender)
	ctx := context.Background()

	seedNotification(t, store, model.ChannelSMS)

	require.NoError(t, n.processBatch(ctx))
	stored := store.Notifications()
	require.Len(t, stored, 1)
	assert.Equal(t, model.NotificationStatusRetrying, stored[0].Status)
	assert.Equal(t, 1, stored[0].RetryCount)
	require.NotNil(t, stored[0].LastError)
	assert.Contains(t, *stored[0].LastError, "gateway timeout")
	require.NotNil(t, stored[0].NextRetryAt)

	// The second failure exhausts the retry budget.
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, n.processBatch(ctx))
	stored = store.Notifications()
	assert.Equal(t, model.NotificationStatusFailed, stored[0].Status)
	assert.Equal(t, 2, stored[0].RetryCount)
	assert.Nil(t, stored[0].NextRetryAt)
}

func TestNotifierUnknownChannel(t *testing.T) {
	sender := &recordingSender{}
	n, store := newTestNotifier(t, sender)
	ctx := context.Background()

	seedNotification(t, store, model.ChannelWhatsApp)
	require.NoError(t, n.processBatch(ctx))

	stored := store.Notifications()
	require.Len(t, stored, 1)
	assert.NotEqual(t, model.NotificationStatusSent, stored[0].Status)
	assert.Empty(t, sender.sent)
}

func TestLogSenderAlwaysSucceeds(t *testing.T) {
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	s := NewLogSender(model.ChannelSMS, log)
	err := s.Send(context.Background(), &model.Notification{Recipient: "9000000001"})
	assert.NoError(t, err)
}
