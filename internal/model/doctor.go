package model

import (
	"time"

	"github.com/google/uuid"
)

// Doctor is collaborator data: the queue engine reads availability and the
// duty window, and writes last-active plus the seen counter on completion.
type Doctor struct {
	Base
	Name           string    `db:"name" json:"name"`
	EmployeeID     string    `db:"employee_id" json:"employee_id"`
	PhoneNumber    string    `db:"phone_number" json:"phone_number,omitempty"`
	Email          string    `db:"email" json:"email,omitempty"`
	Specialization string    `db:"specialization" json:"specialization,omitempty"`
	DepartmentID   uuid.UUID `db:"department_id" json:"department_id"`
	IsAvailable    bool      `db:"is_available" json:"is_available"`
	IsActive       bool      `db:"is_active" json:"is_active"`

	// Duty window, clock times in "15:04" form. Lunch fields may be empty.
	StartTime  string `db:"start_time" json:"start_time"`
	EndTime    string `db:"end_time" json:"end_time"`
	LunchStart string `db:"lunch_start" json:"lunch_start,omitempty"`
	LunchEnd   string `db:"lunch_end" json:"lunch_end,omitempty"`

	TotalPatientsSeen   int        `db:"total_patients_seen" json:"total_patients_seen"`
	AvgConsultationMins int        `db:"avg_consultation_mins" json:"avg_consultation_mins"`
	LastActiveAt        *time.Time `db:"last_active_at" json:"last_active_at,omitempty"`
}

// OnDuty reports whether the clock time of now falls inside the doctor's
// duty window, excluding the lunch break when one is configured. A doctor
// without a configured window is on duty whenever available.
func (d *Doctor) OnDuty(now time.Time) bool {
	if d.StartTime == "" || d.EndTime == "" {
		return true
	}
	clock := now.Format("15:04")
	if clock < d.StartTime || clock > d.EndTime {
		return false
	}
	if d.LunchStart != "" && d.LunchEnd != "" && clock > d.LunchStart && clock < d.LunchEnd {
		return false
	}
	return true
}

// PatientSummary is the compact view pushed to doctor dashboards.
type PatientSummary struct {
	TokenNumber int    `json:"token_number"`
	Name        string `json:"name"`
	Phone       string `json:"phone"`
}

// DoctorDashboard aggregates the numbers a doctor console shows.
type DoctorDashboard struct {
	DoctorID          uuid.UUID       `json:"doctor_id"`
	WaitingCount      int             `json:"waiting_count"`
	TodayPatientCount int             `json:"today_patient_count"`
	CurrentPatient    *PatientSummary `json:"current_patient,omitempty"`
	NextPatient       *PatientSummary `json:"next_patient,omitempty"`
}
