package model

import (
	"time"

	"github.com/google/uuid"
)

type QueueStatus string

const (
	QueueStatusBooked         QueueStatus = "booked"
	QueueStatusWaiting        QueueStatus = "waiting"
	QueueStatusCalled         QueueStatus = "called"
	QueueStatusInConsultation QueueStatus = "in_consultation"
	QueueStatusCompleted      QueueStatus = "completed"
	QueueStatusSkipped        QueueStatus = "skipped"
	QueueStatusCancelled      QueueStatus = "cancelled"
)

// IsTerminal reports whether the status ends the entry's lifecycle.
func (s QueueStatus) IsTerminal() bool {
	switch s {
	case QueueStatusCompleted, QueueStatusSkipped, QueueStatusCancelled:
		return true
	}
	return false
}

// validTransitions is the single source of truth for the entry state
// machine. Bookings jump straight from booked to waiting on activation; the
// arrival is recorded as a timestamp, not a separate persisted status.
var validTransitions = map[QueueStatus][]QueueStatus{
	QueueStatusBooked:  {QueueStatusWaiting, QueueStatusCancelled},
	QueueStatusWaiting: {QueueStatusCalled, QueueStatusSkipped},
	QueueStatusCalled:  {QueueStatusInConsultation, QueueStatusSkipped},
	QueueStatusInConsultation: {QueueStatusCompleted},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to QueueStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityLow       Priority = "low"
	PriorityNormal    Priority = "normal"
	PriorityHigh      Priority = "high"
	PriorityEmergency Priority = "emergency"
)

// Rank orders priorities for call-next selection, lower first.
func (p Priority) Rank() int {
	switch p {
	case PriorityEmergency:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	}
	return 2
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityEmergency:
		return true
	}
	return false
}

// QueueEntry tracks one patient visit from booking or walk-in registration
// through consultation. Entries are never deleted, only transitioned.
type QueueEntry struct {
	Base
	PatientID    uuid.UUID   `db:"patient_id" json:"patient_id"`
	DepartmentID uuid.UUID   `db:"department_id" json:"department_id"`
	TokenNumber  int         `db:"token_number" json:"token_number"`
	Status       QueueStatus `db:"status" json:"status"`
	Priority     Priority    `db:"priority" json:"priority"`
	Notes        string      `db:"notes" json:"notes,omitempty"`

	// Booking metadata, set only for online bookings.
	IsOnlineBooking   bool       `db:"is_online_booking" json:"is_online_booking"`
	QRCode            *string    `db:"qr_code" json:"qr_code,omitempty"`
	BookedAt          *time.Time `db:"booked_at" json:"booked_at,omitempty"`
	ArrivedAt         *time.Time `db:"arrived_at" json:"arrived_at,omitempty"`
	PreferredDoctorID *uuid.UUID `db:"preferred_doctor_id" json:"preferred_doctor_id,omitempty"`
	BookingDate       *time.Time `db:"booking_date" json:"booking_date,omitempty"`
	BookingTimeSlot   *string    `db:"booking_time_slot" json:"booking_time_slot,omitempty"`

	CalledAt              *time.Time `db:"called_at" json:"called_at,omitempty"`
	ConsultationStartedAt *time.Time `db:"consultation_started_at" json:"consultation_started_at,omitempty"`
	ConsultationEndedAt   *time.Time `db:"consultation_ended_at" json:"consultation_ended_at,omitempty"`

	AssignedDoctorID  *uuid.UUID `db:"assigned_doctor_id" json:"assigned_doctor_id,omitempty"`
	EstimatedWaitMins *int       `db:"estimated_wait_mins" json:"estimated_wait_mins,omitempty"`
	ActualWaitMins    *int       `db:"actual_wait_mins" json:"actual_wait_mins,omitempty"`
}

type RegisterRequest struct {
	Patient      PatientData `json:"patient" binding:"required"`
	DepartmentID uuid.UUID   `json:"department_id" binding:"required"`
	Priority     Priority    `json:"priority" binding:"omitempty,oneof=low normal high emergency"`
	Notes        string      `json:"notes" binding:"max=1000"`
}

type RegisterResult struct {
	QueueID           uuid.UUID `json:"queue_id"`
	TokenNumber       int       `json:"token_number"`
	Department        string    `json:"department"`
	Position          int       `json:"position"`
	EstimatedWaitMins int       `json:"estimated_wait_mins"`
}

// CallNextResult is what a doctor sees after claiming the next entry.
type CallNextResult struct {
	Entry   *QueueEntry `json:"entry"`
	Patient *Patient    `json:"patient"`
}
