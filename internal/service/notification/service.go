// Package notification renders patient-facing messages and persists them for
// asynchronous delivery. A send request is a durable row plus an outbox
// event; the notifier worker owns the actual channel handoff.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinicq/queue-api/internal/model"
	"github.com/clinicq/queue-api/internal/repository"
	"github.com/clinicq/queue-api/internal/service/event"
	"github.com/clinicq/queue-api/pkg/logger"
)

// TemplateData carries the values interpolated into message templates.
type TemplateData struct {
	Name              string
	TokenNumber       int
	Department        string
	EstimatedWaitMins int
}

// Render produces the message body for a template type. Unknown types fall
// back to a generic update so a bad enum never drops a notification.
func Render(t model.TemplateType, d TemplateData) string {
	switch t {
	case model.TemplateTokenIssued:
		return fmt.Sprintf("Hello %s, your token number is %d for %s. Estimated wait time: %d minutes. ClinicQ",
			d.Name, d.TokenNumber, d.Department, d.EstimatedWaitMins)
	case model.TemplateTurnApproaching:
		return fmt.Sprintf("Hello %s, your turn (Token #%d) is approaching in %s. Please be ready. ClinicQ",
			d.Name, d.TokenNumber, d.Department)
	case model.TemplateTurnReady:
		return fmt.Sprintf("Hello %s, your turn is ready! Please proceed to %s for Token #%d. ClinicQ",
			d.Name, d.Department, d.TokenNumber)
	case model.TemplateMissedTurn:
		return fmt.Sprintf("Hello %s, you missed your turn for Token #%d in %s. Please contact reception. ClinicQ",
			d.Name, d.TokenNumber, d.Department)
	case model.TemplateConsultationComplete:
		return fmt.Sprintf("Hello %s, your consultation for Token #%d is complete. Thank you for visiting %s. ClinicQ",
			d.Name, d.TokenNumber, d.Department)
	}
	return fmt.Sprintf("Hello %s, there is an update on Token #%d in %s. ClinicQ",
		d.Name, d.TokenNumber, d.Department)
}

type Service struct {
	repo    repository.NotificationRepository
	emitter *event.Emitter
	logger  *logger.Logger
}

func NewService(repo repository.NotificationRepository, emitter *event.Emitter, logger *logger.Logger) *Service {
	return &Service{repo: repo, emitter: emitter, logger: logger}
}

// Notify persists a send request for the patient and records the matching
// outbox event. SMS goes to the phone number always; a WhatsApp copy is
// queued when the patient opted in, and an email copy when an address is on
// file. Persistence failures are returned so callers can log them, but
// callers should not fail the queue transition over them.
func (s *Service) Notify(ctx context.Context, patient *model.Patient, entryID uuid.UUID, template model.TemplateType, data TemplateData) error {
	message := Render(template, data)

	requests := []*model.Notification{
		{
			PatientID:    patient.ID,
			QueueEntryID: &entryID,
			Channel:      model.ChannelSMS,
			TemplateType: template,
			Message:      message,
			Recipient:    patient.PhoneNumber,
			ScheduledFor: time.Now(),
		},
	}
	if patient.WhatsAppEnabled {
		requests = append(requests, &model.Notification{
			PatientID:    patient.ID,
			QueueEntryID: &entryID,
			Channel:      model.ChannelWhatsApp,
			TemplateType: template,
			Message:      message,
			Recipient:    patient.PhoneNumber,
			ScheduledFor: time.Now(),
		})
	}
	if patient.Email != "" {
		requests = append(requests, &model.Notification{
			PatientID:    patient.ID,
			QueueEntryID: &entryID,
			Channel:      model.ChannelEmail,
			TemplateType: template,
			Message:      message,
			Recipient:    patient.Email,
			ScheduledFor: time.Now(),
		})
	}

	for _, n := range requests {
		if err := s.repo.Create(ctx, n); err != nil {
			return fmt.Errorf("failed to persist notification: %w", err)
		}
		if err := s.emitter.Emit(ctx, model.EventNotificationRequested, n); err != nil {
			s.logger.Error(err, "Failed to emit notification event", "notification_id", n.ID.String())
		}
	}
	return nil
}
