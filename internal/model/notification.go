package model

import (
	"time"

	"github.com/google/uuid"
)

type NotificationStatus string

const (
	NotificationStatusPending  NotificationStatus = "pending"
	NotificationStatusSent     NotificationStatus = "sent"
	NotificationStatusFailed   NotificationStatus = "failed"
	NotificationStatusRetrying NotificationStatus = "retrying"
)

type NotificationChannel string

const (
	ChannelSMS      NotificationChannel = "sms"
	ChannelWhatsApp NotificationChannel = "whatsapp"
	ChannelEmail    NotificationChannel = "email"
)

type TemplateType string

const (
	TemplateTokenIssued          TemplateType = "token_issued"
	TemplateTurnApproaching      TemplateType = "turn_approaching"
	TemplateTurnReady            TemplateType = "turn_ready"
	TemplateMissedTurn           TemplateType = "missed_turn"
	TemplateConsultationComplete TemplateType = "consultation_complete"
)

// Notification is a durable send request. The queue engine produces these;
// the worker dispatches them to the channel provider. Delivery status beyond
// the provider handoff is not tracked here.
type Notification struct {
	Base
	PatientID    uuid.UUID           `db:"patient_id" json:"patient_id"`
	QueueEntryID *uuid.UUID          `db:"queue_entry_id" json:"queue_entry_id,omitempty"`
	Channel      NotificationChannel `db:"channel" json:"channel"`
	TemplateType TemplateType        `db:"template_type" json:"template_type"`
	Message      string              `db:"message" json:"message"`
	Recipient    string              `db:"recipient" json:"recipient"`
	Status       NotificationStatus  `db:"status" json:"status"`
	SentAt       *time.Time          `db:"sent_at" json:"sent_at,omitempty"`
	LastError    *string             `db:"last_error" json:"last_error,omitempty"`
	RetryCount   int                 `db:"retry_count" json:"retry_count"`
	NextRetryAt  *time.Time          `db:"next_retry_at" json:"next_retry_at,omitempty"`
	ScheduledFor time.Time           `db:"scheduled_for" json:"scheduled_for"`
}
