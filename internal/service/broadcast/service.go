// Package broadcast pushes live queue state to subscribers after a
// transition commits. Delivery is best effort: a failed publish is logged and
// counted, never surfaced to the caller, because the database state is
// already committed and subscribers recover on their next snapshot.
package broadcast

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinicq/queue-api/internal/model"
	"github.com/clinicq/queue-api/internal/repository"
	"github.com/clinicq/queue-api/pkg/logger"
	"github.com/clinicq/queue-api/pkg/messaging"
	"github.com/clinicq/queue-api/pkg/metrics"
)

const (
	MessageQueueUpdate   = "queue_update"
	MessagePatientUpdate = "patient_update"
	MessageDoctorUpdate  = "doctor_update"
)

type Config struct {
	AvgConsultationMins int
}

type Service struct {
	broker      messaging.Broker
	queueRepo   repository.QueueRepository
	patientRepo repository.PatientRepository
	doctorRepo  repository.DoctorRepository
	deptRepo    repository.DepartmentRepository
	config      Config
	logger      *logger.Logger
	metrics     *metrics.Metrics
}

func NewService(
	broker messaging.Broker,
	queueRepo repository.QueueRepository,
	patientRepo repository.PatientRepository,
	doctorRepo repository.DoctorRepository,
	deptRepo repository.DepartmentRepository,
	config Config,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Service {
	if config.AvgConsultationMins <= 0 {
		config.AvgConsultationMins = 15
	}
	return &Service{
		broker:      broker,
		queueRepo:   queueRepo,
		patientRepo: patientRepo,
		doctorRepo:  doctorRepo,
		deptRepo:    deptRepo,
		config:      config,
		logger:      logger,
		metrics:     metrics,
	}
}

// PublishDepartmentSnapshot rebuilds the full board for a department and
// fans it out on the department topic.
func (s *Service) PublishDepartmentSnapshot(ctx context.Context, departmentID uuid.UUID) {
	snapshot, err := s.BuildDepartmentSnapshot(ctx, departmentID)
	if err != nil {
		s.logger.Error(err, "Failed to build department snapshot", "department_id", departmentID.String())
		return
	}
	s.publish(ctx, messaging.QueueTopic(departmentID.String()), MessageQueueUpdate, snapshot)
}

func (s *Service) BuildDepartmentSnapshot(ctx context.Context, departmentID uuid.UUID) (*model.DepartmentSnapshot, error) {
	day := model.DateOf(time.Now())

	dept, err := s.deptRepo.Get(ctx, departmentID)
	if err != nil {
		return nil, err
	}

	waiting, err := s.queueRepo.ListByStatus(ctx, departmentID, day, model.QueueStatusWaiting)
	if err != nil {
		return nil, err
	}
	inConsultation, err := s.queueRepo.ListByStatus(ctx, departmentID, day, model.QueueStatusInConsultation)
	if err != nil {
		return nil, err
	}
	completed, err := s.queueRepo.CountByStatus(ctx, departmentID, day, model.QueueStatusCompleted)
	if err != nil {
		return nil, err
	}
	doctors, err := s.doctorRepo.CountAvailable(ctx, departmentID)
	if err != nil {
		return nil, err
	}
	if doctors < 1 {
		doctors = 1
	}

	snapshot := &model.DepartmentSnapshot{
		DepartmentID:         departmentID,
		Department:           dept.Name,
		TotalWaiting:         len(waiting),
		TotalInConsultation:  len(inConsultation),
		TotalCompletedToday:  completed,
		WaitingQueue:         make([]model.WaitingEntry, 0, len(waiting)),
		CurrentConsultations: make([]model.ConsultationEntry, 0, len(inConsultation)),
	}

	for i, entry := range waiting {
		snapshot.WaitingQueue = append(snapshot.WaitingQueue, model.WaitingEntry{
			ID:                entry.ID,
			TokenNumber:       entry.TokenNumber,
			PatientName:       s.patientName(ctx, entry.PatientID),
			Priority:          entry.Priority,
			Position:          i + 1,
			EstimatedWaitMins: i * s.config.AvgConsultationMins / doctors,
			CreatedAt:         entry.CreatedAt,
		})
	}

	for _, entry := range inConsultation {
		consultation := model.ConsultationEntry{
			ID:          entry.ID,
			TokenNumber: entry.TokenNumber,
			PatientName: s.patientName(ctx, entry.PatientID),
			StartedAt:   entry.ConsultationStartedAt,
		}
		if entry.AssignedDoctorID != nil {
			if doctor, err := s.doctorRepo.Get(ctx, *entry.AssignedDoctorID); err == nil {
				consultation.DoctorName = doctor.Name
			}
		}
		snapshot.CurrentConsultations = append(snapshot.CurrentConsultations, consultation)
	}

	return snapshot, nil
}

// PublishPatientUpdate pushes the entry's own view to its patient topic.
func (s *Service) PublishPatientUpdate(ctx context.Context, entry *model.QueueEntry, position, estimatedWaitMins int) {
	update := model.PatientUpdate{
		QueueEntryID:          entry.ID,
		TokenNumber:           entry.TokenNumber,
		Status:                entry.Status,
		Position:              position,
		EstimatedWaitMins:     estimatedWaitMins,
		CalledAt:              entry.CalledAt,
		ConsultationStartedAt: entry.ConsultationStartedAt,
	}
	s.publish(ctx, messaging.PatientTopic(entry.PatientID.String()), MessagePatientUpdate, update)
}

// PublishDoctorUpdate pushes the doctor's console counters to their topic.
func (s *Service) PublishDoctorUpdate(ctx context.Context, doctorID, departmentID uuid.UUID) {
	update, err := s.BuildDoctorUpdate(ctx, doctorID, departmentID)
	if err != nil {
		s.logger.Error(err, "Failed to build doctor update", "doctor_id", doctorID.String())
		return
	}
	s.publish(ctx, messaging.DoctorTopic(doctorID.String()), MessageDoctorUpdate, update)
}

func (s *Service) BuildDoctorUpdate(ctx context.Context, doctorID, departmentID uuid.UUID) (*model.DoctorUpdate, error) {
	day := model.DateOf(time.Now())

	waiting, err := s.queueRepo.CountByStatus(ctx, departmentID, day, model.QueueStatusWaiting)
	if err != nil {
		return nil, err
	}
	seen, err := s.queueRepo.CountCompletedByDoctor(ctx, doctorID, day)
	if err != nil {
		return nil, err
	}

	update := &model.DoctorUpdate{
		DoctorID:          doctorID,
		WaitingCount:      waiting,
		TodayPatientCount: seen,
	}

	if current, err := s.queueRepo.CurrentForDoctor(ctx, doctorID, day); err == nil && current != nil {
		update.CurrentPatient = s.patientSummary(ctx, current)
	}
	if next, err := s.queueRepo.PeekNextWaiting(ctx, departmentID, day); err == nil && next != nil {
		update.NextPatient = s.patientSummary(ctx, next)
	}

	return update, nil
}

func (s *Service) patientName(ctx context.Context, patientID uuid.UUID) string {
	patient, err := s.patientRepo.Get(ctx, patientID)
	if err != nil {
		return ""
	}
	return patient.Name
}

func (s *Service) patientSummary(ctx context.Context, entry *model.QueueEntry) *model.PatientSummary {
	patient, err := s.patientRepo.Get(ctx, entry.PatientID)
	if err != nil {
		return &model.PatientSummary{TokenNumber: entry.TokenNumber}
	}
	return &model.PatientSummary{
		TokenNumber: entry.TokenNumber,
		Name:        patient.Name,
		Phone:       patient.PhoneNumber,
	}
}

func (s *Service) publish(ctx context.Context, topic, messageType string, payload interface{}) {
	msg := messaging.Message{Type: messageType, Payload: payload}
	if err := s.broker.Publish(ctx, topic, msg); err != nil {
		s.metrics.BroadcastsFailed.WithLabelValues(messageType).Inc()
		s.logger.Error(err, "Failed to publish broadcast", "topic", topic, "type", messageType)
		return
	}
	s.metrics.BroadcastsPublished.WithLabelValues(messageType).Inc()
}
