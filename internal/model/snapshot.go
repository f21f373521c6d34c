package model

import (
	"time"

	"github.com/google/uuid"
)

// Snapshot payloads published to live subscribers. Department boards get the
// whole queue, patients and doctors get their own scoped view.

type WaitingEntry struct {
	ID                uuid.UUID `json:"id"`
	TokenNumber       int       `json:"token_number"`
	PatientName       string    `json:"patient_name"`
	Priority          Priority  `json:"priority"`
	Position          int       `json:"position"`
	EstimatedWaitMins int       `json:"estimated_wait_mins"`
	CreatedAt         time.Time `json:"created_at"`
}

type ConsultationEntry struct {
	ID          uuid.UUID  `json:"id"`
	TokenNumber int        `json:"token_number"`
	PatientName string     `json:"patient_name"`
	DoctorName  string     `json:"doctor_name,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
}

type DepartmentSnapshot struct {
	DepartmentID         uuid.UUID           `json:"department_id"`
	Department           string              `json:"department"`
	TotalWaiting         int                 `json:"total_waiting"`
	TotalInConsultation  int                 `json:"total_in_consultation"`
	TotalCompletedToday  int                 `json:"total_completed_today"`
	WaitingQueue         []WaitingEntry      `json:"waiting_queue"`
	CurrentConsultations []ConsultationEntry `json:"current_consultations"`
}

type PatientUpdate struct {
	QueueEntryID          uuid.UUID   `json:"queue_entry_id"`
	TokenNumber           int         `json:"token_number"`
	Status                QueueStatus `json:"status"`
	Position              int         `json:"position"`
	EstimatedWaitMins     int         `json:"estimated_wait_mins"`
	CalledAt              *time.Time  `json:"called_at,omitempty"`
	ConsultationStartedAt *time.Time  `json:"consultation_started_at,omitempty"`
}

// EntryStatus is the patient-facing poll view of one queue entry.
type EntryStatus struct {
	QueueEntryID      uuid.UUID   `json:"queue_entry_id"`
	TokenNumber       int         `json:"token_number"`
	PatientName       string      `json:"patient_name"`
	Department        string      `json:"department"`
	Status            QueueStatus `json:"status"`
	Priority          Priority    `json:"priority"`
	Position          int         `json:"position"`
	EstimatedWaitMins int         `json:"estimated_wait_mins"`
	CalledAt          *time.Time  `json:"called_at,omitempty"`
}

type DoctorUpdate struct {
	DoctorID          uuid.UUID       `json:"doctor_id"`
	WaitingCount      int             `json:"waiting_count"`
	TodayPatientCount int             `json:"today_patient_count"`
	CurrentPatient    *PatientSummary `json:"current_patient,omitempty"`
	NextPatient       *PatientSummary `json:"next_patient,omitempty"`
}
