// Package booking implements online pre-booking: slot-capped reservations
// carrying a QR code, and the arrival scan that folds a booking into the live
// queue of the day.
package booking

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinicq/queue-api/internal/model"
	"github.com/clinicq/queue-api/internal/repository"
	"github.com/clinicq/queue-api/internal/service/broadcast"
	"github.com/clinicq/queue-api/internal/service/event"
	"github.com/clinicq/queue-api/internal/service/notification"
	"github.com/clinicq/queue-api/internal/service/queue"
	apperrors "github.com/clinicq/queue-api/pkg/errors"
	"github.com/clinicq/queue-api/pkg/logger"
	"github.com/clinicq/queue-api/pkg/metrics"
)

const qrPrefix = "CLINICQ:BOOKING"

const bookingDateLayout = "2006-01-02"

type Config struct {
	SlotCapacity int
	TimeSlots    []string
}

type Service struct {
	queueRepo   repository.QueueRepository
	patientRepo repository.PatientRepository
	deptRepo    repository.DepartmentRepository
	doctorRepo  repository.DoctorRepository
	queueSvc    *queue.Service
	notifier    *notification.Service
	emitter     *event.Emitter
	broadcaster *broadcast.Service
	estimator   *queue.Estimator
	config      Config
	logger      *logger.Logger
	metrics     *metrics.Metrics
}

func NewService(
	queueRepo repository.QueueRepository,
	patientRepo repository.PatientRepository,
	deptRepo repository.DepartmentRepository,
	doctorRepo repository.DoctorRepository,
	queueSvc *queue.Service,
	notifier *notification.Service,
	emitter *event.Emitter,
	broadcaster *broadcast.Service,
	estimator *queue.Estimator,
	config Config,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Service {
	if config.SlotCapacity <= 0 {
		config.SlotCapacity = 10
	}
	return &Service{
		queueRepo:   queueRepo,
		patientRepo: patientRepo,
		deptRepo:    deptRepo,
		doctorRepo:  doctorRepo,
		queueSvc:    queueSvc,
		notifier:    notifier,
		emitter:     emitter,
		broadcaster: broadcaster,
		estimator:   estimator,
		config:      config,
		logger:      logger,
		metrics:     metrics,
	}
}

// CreateBooking reserves a place for a future visit. No token is allocated
// until the patient activates the booking on arrival.
func (s *Service) CreateBooking(ctx context.Context, req *model.CreateBookingRequest) (*model.BookingResult, error) {
	dept, err := s.deptRepo.Get(ctx, req.DepartmentID)
	if err != nil {
		return nil, err
	}
	if !dept.IsActive {
		return nil, apperrors.Validation("department is not accepting patients")
	}

	date, err := s.parseBookingDate(req.BookingDate)
	if err != nil {
		return nil, err
	}

	if req.TimeSlot != "" {
		if !s.validSlot(req.TimeSlot) {
			return nil, apperrors.Validation("invalid time slot")
		}
		booked, err := s.queueRepo.CountBookingsInSlot(ctx, dept.ID, date, req.TimeSlot)
		if err != nil {
			return nil, err
		}
		if booked >= s.config.SlotCapacity {
			return nil, apperrors.Conflict("time slot is fully booked")
		}
	}

	priority := req.Priority
	if priority == "" {
		priority = model.PriorityNormal
	}
	if !priority.Valid() {
		return nil, apperrors.Validation("invalid priority")
	}

	// A preferred doctor outside the department is dropped, not rejected; the
	// booking still stands and any doctor can take it.
	var doctorName string
	preferredDoctorID := req.PreferredDoctorID
	if preferredDoctorID != nil {
		doctor, err := s.doctorRepo.Get(ctx, *preferredDoctorID)
		if err != nil || doctor.DepartmentID != dept.ID {
			preferredDoctorID = nil
		} else {
			doctorName = doctor.Name
		}
	}

	patient, err := s.findOrCreatePatient(ctx, &req.Patient)
	if err != nil {
		return nil, err
	}

	existing, err := s.queueRepo.GetActiveBookingForDate(ctx, patient.ID, date)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.Conflict("patient already has a booking for this date")
	}

	now := time.Now()
	qrCode, err := generateQRCode()
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	entry := &model.QueueEntry{
		PatientID:       patient.ID,
		DepartmentID:    dept.ID,
		Status:          model.QueueStatusBooked,
		Priority:        priority,
		Notes:           req.Notes,
		IsOnlineBooking: true,
		QRCode:          &qrCode,
		BookedAt:        &now,
		BookingDate:     &date,
	}
	if req.TimeSlot != "" {
		entry.BookingTimeSlot = &req.TimeSlot
	}
	entry.PreferredDoctorID = preferredDoctorID

	if err := s.queueRepo.CreateBooked(ctx, entry); err != nil {
		return nil, err
	}

	s.emitBookingEvent(ctx, model.EventBookingCreated, entry)

	return &model.BookingResult{
		BookingID:       entry.ID,
		QRCode:          qrCode,
		BookingDate:     date.Format(bookingDateLayout),
		Department:      dept.Name,
		PreferredDoctor: doctorName,
		TimeSlot:        req.TimeSlot,
		PatientName:     patient.Name,
	}, nil
}

// ActivateByQR turns a booking into a live waiting entry. The row lock inside
// the repository guarantees that of two concurrent scans of the same code,
// exactly one wins; the loser sees the already activated state.
func (s *Service) ActivateByQR(ctx context.Context, qrCode string) (*model.ActivationResult, error) {
	now := time.Now()
	today := model.DateOf(now)

	entry, err := s.queueRepo.ActivateByQR(ctx, qrCode, func(e *model.QueueEntry) error {
		if e.Status != model.QueueStatusBooked {
			s.metrics.TransitionsFailed.WithLabelValues("activate_booking", string(e.Status)).Inc()
			return apperrors.Conflict(fmt.Sprintf("booking is already %s", e.Status))
		}
		if e.BookingDate != nil && !model.DateOf(*e.BookingDate).Equal(today) {
			return apperrors.Conflict("booking is not for today")
		}
		e.Status = model.QueueStatusWaiting
		e.ArrivedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	dept, err := s.deptRepo.Get(ctx, entry.DepartmentID)
	if err != nil {
		return nil, err
	}
	patient, err := s.patientRepo.Get(ctx, entry.PatientID)
	if err != nil {
		return nil, err
	}

	position, err := s.queueSvc.Position(ctx, entry)
	if err != nil {
		return nil, err
	}
	doctors, err := s.doctorRepo.CountAvailable(ctx, entry.DepartmentID)
	if err != nil {
		return nil, err
	}
	estimate := s.estimator.Estimate(position, doctors)
	if err := s.queueRepo.UpdateEstimate(ctx, entry.ID, estimate); err != nil {
		s.logger.Error(err, "Failed to store wait estimate", "booking_id", entry.ID.String())
	}

	s.metrics.BookingsActivated.Inc()
	s.metrics.TokensIssued.WithLabelValues(dept.Name, "booking").Inc()
	s.emitBookingEvent(ctx, model.EventBookingActivated, entry)
	s.notifyTokenIssued(ctx, patient, entry, dept.Name, estimate)
	s.broadcaster.PublishDepartmentSnapshot(ctx, dept.ID)
	s.broadcaster.PublishPatientUpdate(ctx, entry, position, estimate)

	return &model.ActivationResult{
		BookingID:         entry.ID,
		TokenNumber:       entry.TokenNumber,
		PatientName:       patient.Name,
		Department:        dept.Name,
		Position:          position,
		EstimatedWaitMins: estimate,
	}, nil
}

// CancelBooking cancels a booking that has not been activated.
func (s *Service) CancelBooking(ctx context.Context, bookingID uuid.UUID) error {
	_, err := s.queueSvc.Cancel(ctx, bookingID)
	return err
}

// AvailableSlots reports the booking load per configured slot for a
// department and date.
func (s *Service) AvailableSlots(ctx context.Context, departmentID uuid.UUID, dateStr string) ([]model.SlotAvailability, error) {
	if _, err := s.deptRepo.Get(ctx, departmentID); err != nil {
		return nil, err
	}
	date, err := s.parseBookingDate(dateStr)
	if err != nil {
		return nil, err
	}

	slots := make([]model.SlotAvailability, 0, len(s.config.TimeSlots))
	for _, slot := range s.config.TimeSlots {
		booked, err := s.queueRepo.CountBookingsInSlot(ctx, departmentID, date, slot)
		if err != nil {
			return nil, err
		}
		slots = append(slots, model.SlotAvailability{
			Slot:      slot,
			Bookings:  booked,
			Available: booked < s.config.SlotCapacity,
		})
	}
	return slots, nil
}

// GetBooking returns the full detail view of one booking.
func (s *Service) GetBooking(ctx context.Context, bookingID uuid.UUID) (*model.BookingDetails, error) {
	entry, err := s.queueRepo.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	patient, err := s.patientRepo.Get(ctx, entry.PatientID)
	if err != nil {
		return nil, err
	}
	dept, err := s.deptRepo.Get(ctx, entry.DepartmentID)
	if err != nil {
		return nil, err
	}

	details := &model.BookingDetails{
		ID:              entry.ID,
		TokenNumber:     entry.TokenNumber,
		PatientName:     patient.Name,
		PhoneNumber:     patient.PhoneNumber,
		Department:      dept.Name,
		Status:          entry.Status,
		BookingDate:     entry.BookingDate,
		BookedAt:        entry.BookedAt,
		ArrivedAt:       entry.ArrivedAt,
		IsOnlineBooking: entry.IsOnlineBooking,
	}
	if entry.BookingTimeSlot != nil {
		details.TimeSlot = *entry.BookingTimeSlot
	}
	if entry.QRCode != nil {
		details.QRCode = *entry.QRCode
	}
	if entry.PreferredDoctorID != nil {
		if doctor, err := s.doctorRepo.Get(ctx, *entry.PreferredDoctorID); err == nil {
			details.PreferredDoctor = doctor.Name
		}
	}
	return details, nil
}

// parseBookingDate accepts an empty string as today and rejects past dates.
func (s *Service) parseBookingDate(raw string) (time.Time, error) {
	today := model.DateOf(time.Now())
	if raw == "" {
		return today, nil
	}
	date, err := time.ParseInLocation(bookingDateLayout, raw, time.Local)
	if err != nil {
		return time.Time{}, apperrors.Validation("invalid booking date")
	}
	if date.Before(today) {
		return time.Time{}, apperrors.Validation("booking date is in the past")
	}
	return date, nil
}

func (s *Service) validSlot(slot string) bool {
	for _, known := range s.config.TimeSlots {
		if slot == known {
			return true
		}
	}
	return false
}

func (s *Service) findOrCreatePatient(ctx context.Context, data *model.PatientData) (*model.Patient, error) {
	patient, err := s.patientRepo.GetByPhone(ctx, data.PhoneNumber)
	if err != nil {
		return nil, err
	}
	if patient != nil {
		return patient, nil
	}

	patient = &model.Patient{
		Name:             data.Name,
		PhoneNumber:      data.PhoneNumber,
		Email:            data.Email,
		Age:              data.Age,
		Gender:           data.Gender,
		Address:          data.Address,
		EmergencyContact: data.EmergencyContact,
		WhatsAppEnabled:  data.WhatsAppEnabled,
	}
	if err := s.patientRepo.Create(ctx, patient); err != nil {
		return nil, err
	}
	return patient, nil
}

func (s *Service) notifyTokenIssued(ctx context.Context, patient *model.Patient, entry *model.QueueEntry, deptName string, estimate int) {
	err := s.notifier.Notify(ctx, patient, entry.ID, model.TemplateTokenIssued, notification.TemplateData{
		Name:              patient.Name,
		TokenNumber:       entry.TokenNumber,
		Department:        deptName,
		EstimatedWaitMins: estimate,
	})
	if err != nil {
		s.logger.Error(err, "Failed to queue notification", "booking_id", entry.ID.String())
	}
}

func (s *Service) emitBookingEvent(ctx context.Context, eventType string, entry *model.QueueEntry) {
	payload := map[string]interface{}{
		"booking_id":    entry.ID,
		"patient_id":    entry.PatientID,
		"department_id": entry.DepartmentID,
		"status":        entry.Status,
	}
	if err := s.emitter.Emit(ctx, eventType, payload); err != nil {
		s.logger.Error(err, "Failed to emit event", "event_type", eventType, "booking_id", entry.ID.String())
	}
}

// generateQRCode produces an opaque scan payload. The uuid plus random suffix
// keeps codes unguessable even if the uuid leaks through a booking listing.
func generateQRCode() (string, error) {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("failed to generate qr suffix: %w", err)
	}
	return fmt.Sprintf("%s:%s:%s", qrPrefix, uuid.NewString(), hex.EncodeToString(suffix)), nil
}
