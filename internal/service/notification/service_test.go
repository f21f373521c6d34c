package notification

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicq/queue-api/internal/model"
	"github.com/clinicq/queue-api/internal/repository/memory"
	"github.com/clinicq/queue-api/internal/service/event"
	"github.com/clinicq/queue-api/pkg/logger"
)

func TestRender(t *testing.T) {
	data := TemplateData{
		Name:              "Asha",
		TokenNumber:       7,
		Department:        "Dermatology",
		EstimatedWaitMins: 30,
	}

	tests := []struct {
		template model.TemplateType
		want     string
	}{
		{
			model.TemplateTokenIssued,
			"Hello Asha, your token number is 7 for Dermatology. Estimated wait time: 30 minutes. ClinicQ",
		},
		{
			model.TemplateTurnApproaching,
			"Hello Asha, your turn (Token #7) is approaching in Dermatology. Please be ready. ClinicQ",
		},
		{
			model.TemplateTurnReady,
			"Hello Asha, your turn is ready! Please proceed to Dermatology for Token #7. ClinicQ",
		},
		{
			model.TemplateMissedTurn,
			"Hello Asha, you missed your turn for Token #7 in Dermatology. Please contact reception. ClinicQ",
		},
		{
			model.TemplateConsultationComplete,
			"Hello Asha, your consultation for Token #7 is complete. Thank you for visiting Dermatology. ClinicQ",
		},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Render(tc.template, data), "%s", tc.template)
	}
}

func TestRenderUnknownTemplateFallsBack(t *testing.T) {
	got := Render(model.TemplateType("made_up"), TemplateData{Name: "Asha", TokenNumber: 7, Department: "ENT"})
	assert.Equal(t, "Hello Asha, there is an update on Token #7 in ENT. ClinicQ", got)
}

func newTestService() (*Service, *memory.Store) {
	store := memory.NewStore()
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	emitter := event.NewEmitter(store.Outbox(), log)
	return NewService(store.NotificationRepo(), emitter, log), store
}

func TestNotifySMSOnly(t *testing.T) {
	svc, store := newTestService()
	patient := &model.Patient{
		Base:        model.Base{ID: uuid.New()},
		Name:        "Asha",
		PhoneNumber: "9000000001",
	}
	entryID := uuid.New()

	err := svc.Notify(context.Background(), patient, entryID, model.TemplateTurnReady, TemplateData{
		Name:        patient.Name,
		TokenNumber: 3,
		Department:  "ENT",
	})
	require.NoError(t, err)

	notifications := store.Notifications()
	require.Len(t, notifications, 1)
	n := notifications[0]
	assert.Equal(t, model.ChannelSMS, n.Channel)
	assert.Equal(t, "9000000001", n.Recipient)
	require.NotNil(t, n.QueueEntryID)
	assert.Equal(t, entryID, *n.QueueEntryID)
	assert.Equal(t, model.NotificationStatusPending, n.Status)

	events := store.OutboxEvents()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventNotificationRequested, events[0].EventType)
}

func TestNotifyAddsEmailWhenOnFile(t *testing.T) {
	svc, store := newTestService()
	patient := &model.Patient{
		Base:        model.Base{ID: uuid.New()},
		Name:        "Asha",
		PhoneNumber: "9000000001",
		Email:       "asha@example.com",
	}

	err := svc.Notify(context.Background(), patient, uuid.New(), model.TemplateTokenIssued, TemplateData{
		Name: patient.Name,
	})
	require.NoError(t, err)

	notifications := store.Notifications()
	require.Len(t, notifications, 2)
	recipients := map[model.NotificationChannel]string{}
	for _, n := range notifications {
		recipients[n.Channel] = n.Recipient
	}
	assert.Equal(t, "9000000001", recipients[model.ChannelSMS])
	assert.Equal(t, "asha@example.com", recipients[model.ChannelEmail])
}

func TestNotifyAddsWhatsAppWhenOptedIn(t *testing.T) {
	svc, store := newTestService()
	patient := &model.Patient{
		Base:            model.Base{ID: uuid.New()},
		Name:            "Asha",
		PhoneNumber:     "9000000001",
		WhatsAppEnabled: true,
	}

	err := svc.Notify(context.Background(), patient, uuid.New(), model.TemplateTurnReady, TemplateData{
		Name: patient.Name,
	})
	require.NoError(t, err)

	notifications := store.Notifications()
	require.Len(t, notifications, 2)
	recipients := map[model.NotificationChannel]string{}
	for _, n := range notifications {
		recipients[n.Channel] = n.Recipient
	}
	assert.Equal(t, "9000000001", recipients[model.ChannelSMS])
	// WhatsApp reuses the phone number as the recipient.
	assert.Equal(t, "9000000001", recipients[model.ChannelWhatsApp])
}
