// Package queue implements the patient flow engine: walk-in registration,
// the entry state machine, call-next dispatch and position tracking.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinicq/queue-api/internal/model"
	"github.com/clinicq/queue-api/internal/repository"
	"github.com/clinicq/queue-api/internal/service/broadcast"
	"github.com/clinicq/queue-api/internal/service/event"
	"github.com/clinicq/queue-api/internal/service/notification"
	apperrors "github.com/clinicq/queue-api/pkg/errors"
	"github.com/clinicq/queue-api/pkg/logger"
	"github.com/clinicq/queue-api/pkg/metrics"
)

type Service struct {
	queueRepo   repository.QueueRepository
	patientRepo repository.PatientRepository
	deptRepo    repository.DepartmentRepository
	doctorRepo  repository.DoctorRepository
	notifier    *notification.Service
	emitter     *event.Emitter
	broadcaster *broadcast.Service
	estimator   *Estimator
	logger      *logger.Logger
	metrics     *metrics.Metrics
}

func NewService(
	queueRepo repository.QueueRepository,
	patientRepo repository.PatientRepository,
	deptRepo repository.DepartmentRepository,
	doctorRepo repository.DoctorRepository,
	notifier *notification.Service,
	emitter *event.Emitter,
	broadcaster *broadcast.Service,
	estimator *Estimator,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Service {
	return &Service{
		queueRepo:   queueRepo,
		patientRepo: patientRepo,
		deptRepo:    deptRepo,
		doctorRepo:  doctorRepo,
		notifier:    notifier,
		emitter:     emitter,
		broadcaster: broadcaster,
		estimator:   estimator,
		logger:      logger,
		metrics:     metrics,
	}
}

// Register creates a walk-in queue entry. The patient is deduplicated by
// phone number; a patient already active in any queue today is rejected with
// a conflict.
func (s *Service) Register(ctx context.Context, req *model.RegisterRequest) (*model.RegisterResult, error) {
	dept, err := s.deptRepo.Get(ctx, req.DepartmentID)
	if err != nil {
		return nil, err
	}
	if !dept.IsActive {
		return nil, apperrors.Validation("department is not accepting patients")
	}

	priority := req.Priority
	if priority == "" {
		priority = model.PriorityNormal
	}
	if !priority.Valid() {
		return nil, apperrors.Validation("invalid priority")
	}

	patient, err := s.findOrCreatePatient(ctx, &req.Patient)
	if err != nil {
		return nil, err
	}

	active, err := s.queueRepo.GetActiveForPatient(ctx, patient.ID, model.DateOf(time.Now()))
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, apperrors.Conflict("patient already has an active queue entry today")
	}

	entry := &model.QueueEntry{
		PatientID:    patient.ID,
		DepartmentID: dept.ID,
		Status:       model.QueueStatusWaiting,
		Priority:     priority,
		Notes:        req.Notes,
	}
	if err := s.queueRepo.Create(ctx, entry); err != nil {
		return nil, err
	}

	position, estimate, err := s.positionAndEstimate(ctx, entry)
	if err != nil {
		s.logger.Error(err, "Failed to compute wait estimate", "queue_id", entry.ID.String())
		position, estimate = 0, 0
	} else if err := s.queueRepo.UpdateEstimate(ctx, entry.ID, estimate); err != nil {
		s.logger.Error(err, "Failed to store wait estimate", "queue_id", entry.ID.String())
	}

	s.metrics.TokensIssued.WithLabelValues(dept.Name, "walk_in").Inc()
	s.emitEntryEvent(ctx, model.EventQueueRegistered, entry)
	s.notify(ctx, patient, entry, dept.Name, model.TemplateTokenIssued, estimate)
	s.broadcaster.PublishDepartmentSnapshot(ctx, dept.ID)
	s.broadcaster.PublishPatientUpdate(ctx, entry, position, estimate)

	return &model.RegisterResult{
		QueueID:           entry.ID,
		TokenNumber:       entry.TokenNumber,
		Department:        dept.Name,
		Position:          position,
		EstimatedWaitMins: estimate,
	}, nil
}

// CallNext claims the next waiting entry for the doctor's department. Returns
// (nil, nil) when nobody is waiting.
func (s *Service) CallNext(ctx context.Context, departmentID, doctorID uuid.UUID) (*model.CallNextResult, error) {
	dept, err := s.deptRepo.Get(ctx, departmentID)
	if err != nil {
		return nil, err
	}
	doctor, err := s.doctorRepo.Get(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if doctor.DepartmentID != departmentID {
		return nil, apperrors.Validation("doctor does not belong to this department")
	}
	if !doctor.IsAvailable || !doctor.IsActive {
		return nil, apperrors.InvalidState("doctor is not available")
	}

	now := time.Now()
	if !doctor.OnDuty(now) {
		return nil, apperrors.InvalidState("doctor is off duty")
	}
	entry, err := s.queueRepo.CallNext(ctx, departmentID, model.DateOf(now), func(e *model.QueueEntry) error {
		if !model.CanTransition(e.Status, model.QueueStatusCalled) {
			return apperrors.InvalidState("entry cannot be called")
		}
		e.Status = model.QueueStatusCalled
		e.CalledAt = &now
		e.AssignedDoctorID = &doctorID
		return nil
	})
	if err != nil {
		return nil, err
	}
	if entry == nil {
		s.metrics.CallsDispatched.WithLabelValues(dept.Name, "empty").Inc()
		return nil, nil
	}

	if err := s.doctorRepo.TouchLastActive(ctx, doctorID); err != nil {
		s.logger.Error(err, "Failed to touch doctor activity", "doctor_id", doctorID.String())
	}

	patient, err := s.patientRepo.Get(ctx, entry.PatientID)
	if err != nil {
		return nil, err
	}

	s.metrics.CallsDispatched.WithLabelValues(dept.Name, "called").Inc()
	s.emitEntryEvent(ctx, model.EventQueueCalled, entry)
	s.notify(ctx, patient, entry, dept.Name, model.TemplateTurnReady, 0)
	s.notifyUpcoming(ctx, dept)
	s.broadcaster.PublishDepartmentSnapshot(ctx, dept.ID)
	s.broadcaster.PublishPatientUpdate(ctx, entry, 0, 0)
	s.broadcaster.PublishDoctorUpdate(ctx, doctorID, dept.ID)

	return &model.CallNextResult{Entry: entry, Patient: patient}, nil
}

// StartConsultation moves a called entry into consultation and records the
// actual wait. Only the doctor the entry was called for may start it.
func (s *Service) StartConsultation(ctx context.Context, entryID, doctorID uuid.UUID) (*model.QueueEntry, error) {
	now := time.Now()
	entry, err := s.queueRepo.UpdateLocked(ctx, entryID, func(e *model.QueueEntry) error {
		if !model.CanTransition(e.Status, model.QueueStatusInConsultation) {
			s.metrics.TransitionsFailed.WithLabelValues("start_consultation", string(e.Status)).Inc()
			return apperrors.InvalidState("entry is not called")
		}
		if e.AssignedDoctorID == nil || *e.AssignedDoctorID != doctorID {
			return apperrors.Validation("entry is assigned to a different doctor")
		}
		e.Status = model.QueueStatusInConsultation
		e.ConsultationStartedAt = &now
		waited := int(now.Sub(e.CreatedAt).Minutes())
		e.ActualWaitMins = &waited
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.broadcaster.PublishDepartmentSnapshot(ctx, entry.DepartmentID)
	s.broadcaster.PublishPatientUpdate(ctx, entry, 0, 0)
	if entry.AssignedDoctorID != nil {
		s.broadcaster.PublishDoctorUpdate(ctx, *entry.AssignedDoctorID, entry.DepartmentID)
	}
	return entry, nil
}

// CompleteConsultation finishes the visit and folds the duration into the
// doctor's running average.
func (s *Service) CompleteConsultation(ctx context.Context, entryID, doctorID uuid.UUID, notes string) (*model.QueueEntry, error) {
	now := time.Now()
	entry, err := s.queueRepo.UpdateLocked(ctx, entryID, func(e *model.QueueEntry) error {
		if !model.CanTransition(e.Status, model.QueueStatusCompleted) {
			s.metrics.TransitionsFailed.WithLabelValues("complete_consultation", string(e.Status)).Inc()
			return apperrors.InvalidState("entry is not in consultation")
		}
		if e.AssignedDoctorID == nil || *e.AssignedDoctorID != doctorID {
			return apperrors.Validation("entry is assigned to a different doctor")
		}
		e.Status = model.QueueStatusCompleted
		e.ConsultationEndedAt = &now
		if notes != "" {
			e.Notes = appendNote(e.Notes, notes)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if entry.AssignedDoctorID != nil && entry.ConsultationStartedAt != nil {
		duration := int(now.Sub(*entry.ConsultationStartedAt).Minutes())
		if duration < 1 {
			duration = 1
		}
		if err := s.doctorRepo.RecordConsultation(ctx, *entry.AssignedDoctorID, duration); err != nil {
			s.logger.Error(err, "Failed to record consultation", "doctor_id", entry.AssignedDoctorID.String())
		}
	}

	dept, err := s.deptRepo.Get(ctx, entry.DepartmentID)
	if err != nil {
		return nil, err
	}
	patient, err := s.patientRepo.Get(ctx, entry.PatientID)
	if err != nil {
		return nil, err
	}

	s.emitEntryEvent(ctx, model.EventQueueConsultationDone, entry)
	s.notify(ctx, patient, entry, dept.Name, model.TemplateConsultationComplete, 0)
	s.broadcaster.PublishDepartmentSnapshot(ctx, entry.DepartmentID)
	s.broadcaster.PublishPatientUpdate(ctx, entry, 0, 0)
	if entry.AssignedDoctorID != nil {
		s.broadcaster.PublishDoctorUpdate(ctx, *entry.AssignedDoctorID, entry.DepartmentID)
	}
	return entry, nil
}

// Skip marks a waiting or called entry as skipped. Skipping an entry that is
// already skipped fails with InvalidState like any other illegal transition.
func (s *Service) Skip(ctx context.Context, entryID uuid.UUID, reason string) (*model.QueueEntry, error) {
	entry, err := s.queueRepo.UpdateLocked(ctx, entryID, func(e *model.QueueEntry) error {
		if !model.CanTransition(e.Status, model.QueueStatusSkipped) {
			s.metrics.TransitionsFailed.WithLabelValues("skip", string(e.Status)).Inc()
			return apperrors.InvalidState("entry cannot be skipped")
		}
		e.Status = model.QueueStatusSkipped
		if reason != "" {
			e.Notes = appendNote(e.Notes, "skipped: "+reason)
		}
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

	s.emitEntryEvent(ctx, model.EventQueueSkipped, entry)
	s.notify(ctx, patient, entry, dept.Name, model.TemplateMissedTurn, 0)
	s.broadcaster.PublishDepartmentSnapshot(ctx, entry.DepartmentID)
	s.broadcaster.PublishPatientUpdate(ctx, entry, 0, 0)
	return entry, nil
}

// Cancel cancels an entry that has not joined the live queue yet.
func (s *Service) Cancel(ctx context.Context, entryID uuid.UUID) (*model.QueueEntry, error) {
	entry, err := s.queueRepo.UpdateLocked(ctx, entryID, func(e *model.QueueEntry) error {
		if !model.CanTransition(e.Status, model.QueueStatusCancelled) {
			s.metrics.TransitionsFailed.WithLabelValues("cancel", string(e.Status)).Inc()
			return apperrors.InvalidState("entry cannot be cancelled")
		}
		e.Status = model.QueueStatusCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.broadcaster.PublishPatientUpdate(ctx, entry, 0, 0)
	return entry, nil
}

// DepartmentStatus returns the live board for a department.
func (s *Service) DepartmentStatus(ctx context.Context, departmentID uuid.UUID) (*model.DepartmentSnapshot, error) {
	return s.broadcaster.BuildDepartmentSnapshot(ctx, departmentID)
}

// EntryStatus returns the patient-facing view of one entry with a fresh
// position and estimate.
func (s *Service) EntryStatus(ctx context.Context, entryID uuid.UUID) (*model.EntryStatus, error) {
	entry, err := s.queueRepo.Get(ctx, entryID)
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

	position, estimate, err := s.positionAndEstimate(ctx, entry)
	if err != nil {
		return nil, err
	}

	return &model.EntryStatus{
		QueueEntryID:      entry.ID,
		TokenNumber:       entry.TokenNumber,
		PatientName:       patient.Name,
		Department:        dept.Name,
		Status:            entry.Status,
		Priority:          entry.Priority,
		Position:          position,
		EstimatedWaitMins: estimate,
		CalledAt:          entry.CalledAt,
	}, nil
}

// PatientStatus returns the status view of the patient's active entry today.
func (s *Service) PatientStatus(ctx context.Context, patientID uuid.UUID) (*model.EntryStatus, error) {
	entry, err := s.queueRepo.GetActiveForPatient(ctx, patientID, model.DateOf(time.Now()))
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, apperrors.NotFound("active queue entry", nil)
	}
	return s.EntryStatus(ctx, entry.ID)
}

// DoctorDashboard returns the doctor console counters.
func (s *Service) DoctorDashboard(ctx context.Context, doctorID uuid.UUID) (*model.DoctorDashboard, error) {
	doctor, err := s.doctorRepo.Get(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	update, err := s.broadcaster.BuildDoctorUpdate(ctx, doctorID, doctor.DepartmentID)
	if err != nil {
		return nil, err
	}
	return &model.DoctorDashboard{
		DoctorID:          update.DoctorID,
		WaitingCount:      update.WaitingCount,
		TodayPatientCount: update.TodayPatientCount,
		CurrentPatient:    update.CurrentPatient,
		NextPatient:       update.NextPatient,
	}, nil
}

// Position returns the 1-based place of a waiting entry among waiting entries
// created before it on the same department and day. Non-waiting entries have
// position zero.
func (s *Service) Position(ctx context.Context, entry *model.QueueEntry) (int, error) {
	if entry.Status != model.QueueStatusWaiting {
		return 0, nil
	}
	ahead, err := s.queueRepo.CountWaitingBefore(ctx, entry.DepartmentID, model.DateOf(entry.CreatedAt), entry.CreatedAt)
	if err != nil {
		return 0, err
	}
	return ahead + 1, nil
}

func (s *Service) positionAndEstimate(ctx context.Context, entry *model.QueueEntry) (int, int, error) {
	position, err := s.Position(ctx, entry)
	if err != nil {
		return 0, 0, err
	}
	doctors, err := s.doctorRepo.CountAvailable(ctx, entry.DepartmentID)
	if err != nil {
		return 0, 0, err
	}
	return position, s.estimator.Estimate(position, doctors), nil
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

// notifyUpcoming warns the patient now at the head of the queue that their
// turn is close.
func (s *Service) notifyUpcoming(ctx context.Context, dept *model.Department) {
	next, err := s.queueRepo.PeekNextWaiting(ctx, dept.ID, model.DateOf(time.Now()))
	if err != nil || next == nil {
		return
	}
	patient, err := s.patientRepo.Get(ctx, next.PatientID)
	if err != nil {
		return
	}
	s.notify(ctx, patient, next, dept.Name, model.TemplateTurnApproaching, 0)
}

func (s *Service) notify(ctx context.Context, patient *model.Patient, entry *model.QueueEntry, deptName string, template model.TemplateType, estimate int) {
	err := s.notifier.Notify(ctx, patient, entry.ID, template, notification.TemplateData{
		Name:              patient.Name,
		TokenNumber:       entry.TokenNumber,
		Department:        deptName,
		EstimatedWaitMins: estimate,
	})
	if err != nil {
		s.logger.Error(err, "Failed to queue notification",
			"queue_id", entry.ID.String(),
			"template", string(template))
	}
}

func appendNote(notes, addition string) string {
	if notes == "" {
		return addition
	}
	return notes + "\n" + addition
}

func (s *Service) emitEntryEvent(ctx context.Context, eventType string, entry *model.QueueEntry) {
	payload := map[string]interface{}{
		"queue_id":      entry.ID,
		"patient_id":    entry.PatientID,
		"department_id": entry.DepartmentID,
		"token_number":  entry.TokenNumber,
		"status":        entry.Status,
	}
	if err := s.emitter.Emit(ctx, eventType, payload); err != nil {
		s.logger.Error(err, "Failed to emit event", "event_type", eventType, "queue_id", entry.ID.String())
	}
}
