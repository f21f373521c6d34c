package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/clinicq/queue-api/internal/model"
	"github.com/clinicq/queue-api/internal/repository"
	"github.com/clinicq/queue-api/pkg/logger"
	"github.com/clinicq/queue-api/pkg/messaging"
	"github.com/clinicq/queue-api/pkg/metrics"
)

type OutboxProcessorConfig struct {
	BatchSize     int
	PollInterval  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	// MaxRetries bounds redelivery across polls; past it the event is
	// dead-lettered.
	MaxRetries int
}

// OutboxProcessor drains pending outbox rows and publishes them to the
// broker. Queue transitions record their side effects as outbox rows, so
// delivery is at least once as long as this loop eventually runs.
type OutboxProcessor struct {
	repo    repository.OutboxRepository
	broker  messaging.Broker
	config  OutboxProcessorConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	broker messaging.Broker,
	config OutboxProcessorConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *OutboxProcessor {
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if config.RetryAttempts <= 0 {
		panic("RetryAttempts must be greater than 0")
	}
	if config.RetryDelay <= 0 {
		panic("RetryDelay must be greater than 0")
	}
	if config.MaxRetries <= 0 {
		panic("MaxRetries must be greater than 0")
	}

	return &OutboxProcessor{
		repo:    repo,
		broker:  broker,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Starting outbox processor")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down outbox processor")
			return
		case <-ticker.C:
			if err := p.processEvents(ctx); err != nil {
				p.logger.Error(err, "Failed to process events")
			}
		}
	}
}

func (p *OutboxProcessor) processEvents(ctx context.Context) error {
	timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
	defer timer.ObserveDuration()

	fetchStart := time.Now()
	events, err := p.repo.GetPendingEventsWithLock(ctx, p.config.BatchSize)
	p.metrics.DatabaseLatency.WithLabelValues("get_pending_events").Observe(time.Since(fetchStart).Seconds())
	if err != nil {
		p.metrics.DatabaseOperations.WithLabelValues("get_pending_events", "error").Inc()
		return fmt.Errorf("failed to get pending events: %w", err)
	}
	p.metrics.DatabaseOperations.WithLabelValues("get_pending_events", "success").Inc()

	for _, event := range events {
		if err := p.processEvent(ctx, event); err != nil {
			p.logger.Error(err, "Failed to process event",
				"event_id", event.ID.String(),
				"event_type", event.EventType)
		}
	}

	return nil
}

func (p *OutboxProcessor) processEvent(ctx context.Context, event *model.OutboxEvent) error {
	err := retry(p.config.RetryAttempts, p.config.RetryDelay, func() error {
		return p.broker.Publish(ctx, event.EventType, event.Payload)
	})

	if err != nil {
		p.metrics.OutboxEventsFailed.Inc()
		return p.handleFailure(ctx, event, err)
	}

	p.metrics.OutboxEventsProcessed.Inc()
	if err := p.repo.UpdateStatusTx(ctx, nil, event.ID, string(model.OutboxStatusProcessed), nil, nil); err != nil {
		p.logger.Error(err, "Failed to update event status", "event_id", event.ID.String())
		return err
	}

	return nil
}

// handleFailure schedules a redelivery with a retry timestamp, or moves the
// event to the dead letter table once the retry budget is spent.
func (p *OutboxProcessor) handleFailure(ctx context.Context, event *model.OutboxEvent, pubErr error) error {
	errStr := pubErr.Error()

	if event.RetryCount+1 < p.config.MaxRetries {
		p.metrics.OutboxRetries.WithLabelValues(event.EventType).Inc()
		retryAt := time.Now().Add(p.config.RetryDelay * time.Duration(event.RetryCount+1))
		if err := p.repo.UpdateStatusTx(ctx, nil, event.ID, string(model.OutboxStatusRetry), &errStr, &retryAt); err != nil {
			return fmt.Errorf("failed to schedule retry: %w", err)
		}
		return pubErr
	}

	tx, err := p.repo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin dead letter tx: %w", err)
	}
	defer tx.Rollback()

	event.ErrorMessage = &errStr
	if err := p.repo.MoveToDeadLetter(ctx, tx, event); err != nil {
		return fmt.Errorf("failed to move event to dead letter: %w", err)
	}
	if err := p.repo.UpdateStatusTx(ctx, tx, event.ID, string(model.OutboxStatusFailed), &errStr, nil); err != nil {
		return fmt.Errorf("failed to mark event failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit dead letter tx: %w", err)
	}

	p.logger.Error(pubErr, "Event moved to dead letter",
		"event_id", event.ID.String(),
		"event_type", event.EventType,
		"retry_count", event.RetryCount)
	return pubErr
}

// Cleanup deletes processed events older than the retention window.
func (p *OutboxProcessor) Cleanup(ctx context.Context, retention time.Duration) error {
	deleted, err := p.repo.DeleteProcessedBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		return err
	}
	if deleted > 0 {
		p.logger.Info("Cleaned up processed events", "deleted", deleted)
	}
	return nil
}

func retry(attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return err
}
