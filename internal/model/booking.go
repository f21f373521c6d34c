package model

import (
	"time"

	"github.com/google/uuid"
)

type CreateBookingRequest struct {
	Patient           PatientData `json:"patient" binding:"required"`
	DepartmentID      uuid.UUID   `json:"department_id" binding:"required"`
	PreferredDoctorID *uuid.UUID  `json:"preferred_doctor_id"`
	BookingDate       string      `json:"booking_date" binding:"omitempty,datetime=2006-01-02"`
	TimeSlot          string      `json:"time_slot"`
	Priority          Priority    `json:"priority" binding:"omitempty,oneof=low normal high emergency"`
	Notes             string      `json:"notes" binding:"max=1000"`
}

type BookingResult struct {
	BookingID       uuid.UUID `json:"booking_id"`
	QRCode          string    `json:"qr_code"`
	BookingDate     string    `json:"booking_date"`
	Department      string    `json:"department"`
	PreferredDoctor string    `json:"preferred_doctor,omitempty"`
	TimeSlot        string    `json:"time_slot,omitempty"`
	PatientName     string    `json:"patient_name"`
}

type ActivateBookingRequest struct {
	QRCode string `json:"qr_code" binding:"required"`
}

type ActivationResult struct {
	BookingID         uuid.UUID `json:"booking_id"`
	TokenNumber       int       `json:"token_number"`
	PatientName       string    `json:"patient_name"`
	Department        string    `json:"department"`
	Position          int       `json:"position"`
	EstimatedWaitMins int       `json:"estimated_wait_mins"`
}

// SlotAvailability is the per-slot booking load for a department and date.
type SlotAvailability struct {
	Slot      string `json:"slot"`
	Bookings  int    `json:"bookings"`
	Available bool   `json:"available"`
}

type BookingDetails struct {
	ID              uuid.UUID  `json:"id"`
	TokenNumber     int        `json:"token_number"`
	PatientName     string     `json:"patient_name"`
	PhoneNumber     string     `json:"phone_number"`
	Department      string     `json:"department"`
	PreferredDoctor string     `json:"preferred_doctor,omitempty"`
	Status          QueueStatus `json:"status"`
	BookingDate     *time.Time `json:"booking_date,omitempty"`
	TimeSlot        string     `json:"time_slot,omitempty"`
	BookedAt        *time.Time `json:"booked_at,omitempty"`
	ArrivedAt       *time.Time `json:"arrived_at,omitempty"`
	IsOnlineBooking bool       `json:"is_online_booking"`
	QRCode          string     `json:"qr_code,omitempty"`
}
