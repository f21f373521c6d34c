package worker

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/clinicq/queue-api/internal/model"
	"github.com/clinicq/queue-api/internal/repository"
	"github.com/clinicq/queue-api/pkg/logger"
	"github.com/clinicq/queue-api/pkg/metrics"
)

// Sender delivers a rendered notification over one channel.
type Sender interface {
	Send(ctx context.Context, n *model.Notification) error
}

type EmailSenderConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type emailSender struct {
	dialer *gomail.Dialer
	from   string
}

func NewEmailSender(cfg EmailSenderConfig) Sender {
	return &emailSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (s *emailSender) Send(_ context.Context, n *model.Notification) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", n.Recipient)
	m.SetHeader("Subject", "Clinic queue update")
	m.SetBody("text/plain", n.Message)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// logSender stands in for SMS and WhatsApp gateways that are provisioned per
// deployment. It records the delivery and reports success so the pipeline is
// exercised end to end without a live gateway.
type logSender struct {
	channel model.NotificationChannel
	logger  *logger.Logger
}

func NewLogSender(channel model.NotificationChannel, logger *logger.Logger) Sender {
	return &logSender{channel: channel, logger: logger}
}

func (s *logSender) Send(_ context.Context, n *model.Notification) error {
	s.logger.Info("Notification dispatched",
		"channel", string(s.channel),
		"recipient", n.Recipient,
		"template", string(n.TemplateType))
	return nil
}

type NotifierConfig struct {
	BatchSize    int
	PollInterval time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// Notifier drains pending notification rows and hands each to the sender for
// its channel. Failed sends are retried with a linear backoff until the retry
// budget runs out.
type Notifier struct {
	repo    repository.NotificationRepository
	senders map[model.NotificationChannel]Sender
	config  NotifierConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewNotifier(
	repo repository.NotificationRepository,
	senders map[model.NotificationChannel]Sender,
	config NotifierConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Notifier {
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 10 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Minute
	}

	return &Notifier{
		repo:    repo,
		senders: senders,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

func (n *Notifier) Start(ctx context.Context) {
	ticker := time.NewTicker(n.config.PollInterval)
	defer ticker.Stop()

	n.logger.Info("Starting notifier")

	for {
		select {
		case <-ctx.Done():
			n.logger.Info("Shutting down notifier")
			return
		case <-ticker.C:
			if err := n.processBatch(ctx); err != nil {
				n.logger.Error(err, "Failed to process notifications")
			}
		}
	}
}

func (n *Notifier) processBatch(ctx context.Context) error {
	pending, err := n.repo.GetPendingWithLock(ctx, n.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending notifications: %w", err)
	}

	for _, notification := range pending {
		n.deliver(ctx, notification)
	}
	return nil
}

func (n *Notifier) deliver(ctx context.Context, notification *model.Notification) {
	sender, ok := n.senders[notification.Channel]
	if !ok {
		n.fail(ctx, notification, fmt.Errorf("no sender for channel %s", notification.Channel))
		return
	}

	if err := sender.Send(ctx, notification); err != nil {
		n.fail(ctx, notification, err)
		return
	}

	now := time.Now()
	notification.Status = model.NotificationStatusSent
	notification.SentAt = &now
	notification.LastError = nil
	notification.NextRetryAt = nil
	if err := n.repo.Update(ctx, notification); err != nil {
		n.logger.Error(err, "Failed to mark notification sent", "notification_id", notification.ID.String())
		return
	}
	n.metrics.NotificationsSent.WithLabelValues(string(notification.Channel), string(notification.TemplateType)).Inc()
}

func (n *Notifier) fail(ctx context.Context, notification *model.Notification, sendErr error) {
	n.metrics.NotificationsFailed.WithLabelValues(string(notification.Channel), string(notification.TemplateType)).Inc()

	errStr := sendErr.Error()
	notification.LastError = &errStr
	notification.RetryCount++

	if notification.RetryCount >= n.config.MaxRetries {
		notification.Status = model.NotificationStatusFailed
		notification.NextRetryAt = nil
	} else {
		notification.Status = model.NotificationStatusRetrying
		retryAt := time.Now().Add(n.config.RetryBackoff * time.Duration(notification.RetryCount))
		notification.NextRetryAt = &retryAt
	}

	if err := n.repo.Update(ctx, notification); err != nil {
		n.logger.Error(err, "Failed to record notification failure", "notification_id", notification.ID.String())
	}
	n.logger.Error(sendErr, "Notification delivery failed",
		"notification_id", notification.ID.String(),
		"channel", string(notification.Channel),
		"retry_count", notification.RetryCount)
}
