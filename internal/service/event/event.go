// Package event writes domain events to the transactional outbox. Everything
// downstream of a queue transition that must not be lost (notifications,
// integrations) goes through here; the outbox processor delivers it to the
// broker with retries.
package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clinicq/queue-api/internal/model"
	"github.com/clinicq/queue-api/internal/repository"
	"github.com/clinicq/queue-api/pkg/logger"
)

type Emitter struct {
	outbox repository.OutboxRepository
	logger *logger.Logger
}

func NewEmitter(outbox repository.OutboxRepository, logger *logger.Logger) *Emitter {
	return &Emitter{outbox: outbox, logger: logger}
}

// Emit records an event for asynchronous delivery. The payload must be JSON
// marshalable.
func (e *Emitter) Emit(ctx context.Context, eventType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	evt := &model.OutboxEvent{
		EventType: eventType,
		Payload:   data,
	}
	if err := e.outbox.Create(ctx, evt); err != nil {
		return fmt.Errorf("failed to write outbox event: %w", err)
	}

	e.logger.Debug("Event recorded", "event_type", eventType, "event_id", evt.ID.String())
	return nil
}
