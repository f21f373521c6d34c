package broadcast

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicq/queue-api/internal/model"
	"github.com/clinicq/queue-api/internal/repository/memory"
	"github.com/clinicq/queue-api/pkg/logger"
	"github.com/clinicq/queue-api/pkg/messaging"
	"github.com/clinicq/queue-api/pkg/metrics"
)

type capture struct {
	Topic   string
	Message messaging.Message
}

type captureBroker struct {
	mu       sync.Mutex
	captured []capture
}

func (b *captureBroker) Publish(_ context.Context, channel string, message interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	msg, _ := message.(messaging.Message)
	b.captured = append(b.captured, capture{Topic: channel, Message: msg})
	return nil
}

func (b *captureBroker) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	return nil, nil
}

func (b *captureBroker) Close() error { return nil }

func (b *captureBroker) last(t *testing.T) capture {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.captured)
	return b.captured[len(b.captured)-1]
}

func newTestBroadcaster(t *testing.T) (*Service, *memory.Store, *captureBroker) {
	t.Helper()
	store := memory.NewStore()
	broker := &captureBroker{}
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	m := metrics.NewMetricsWith(prometheus.NewRegistry(), "clinicq", "test")
	svc := NewService(
		broker, store.Queue(), store.Patients(), store.Doctors(), store.Departments(),
		Config{AvgConsultationMins: 20}, log, m,
	)
	return svc, store, broker
}

func seedWaiting(t *testing.T, store *memory.Store, dept *model.Department, name string, priority model.Priority) *model.QueueEntry {
	t.Helper()
	ctx := context.Background()
	patient := &model.Patient{Name: name, PhoneNumber: "90000" + name}
	require.NoError(t, store.Patients().Create(ctx, patient))
	entry := &model.QueueEntry{
		PatientID:    patient.ID,
		DepartmentID: dept.ID,
		Status:       model.QueueStatusWaiting,
		Priority:     priority,
	}
	require.NoError(t, store.Queue().Create(ctx, entry))
	return entry
}

func TestBuildDepartmentSnapshot(t *testing.T) {
	svc, store, _ := newTestBroadcaster(t)
	dept := store.AddDepartment(&model.Department{Name: "ENT", IsActive: true})
	store.AddDoctor(&model.Doctor{Name: "Dr. A", DepartmentID: dept.ID, IsAvailable: true, IsActive: true})
	store.AddDoctor(&model.Doctor{Name: "Dr. B", DepartmentID: dept.ID, IsAvailable: true, IsActive: true})

	seedWaiting(t, store, dept, "one", model.PriorityNormal)
	seedWaiting(t, store, dept, "two", model.PriorityEmergency)
	seedWaiting(t, store, dept, "three", model.PriorityNormal)

	snapshot, err := svc.BuildDepartmentSnapshot(context.Background(), dept.ID)
	require.NoError(t, err)
	assert.Equal(t, "ENT", snapshot.Department)
	assert.Equal(t, 3, snapshot.TotalWaiting)
	require.Len(t, snapshot.WaitingQueue, 3)

	// Emergency moves up the board regardless of arrival order.
	assert.Equal(t, "two", snapshot.WaitingQueue[0].PatientName)
	assert.Equal(t, 1, snapshot.WaitingQueue[0].Position)
	assert.Equal(t, 0, snapshot.WaitingQueue[0].EstimatedWaitMins)
	assert.Equal(t, "one", snapshot.WaitingQueue[1].PatientName)
	// 1 board slot ahead, 20 minutes average, 2 doctors.
	assert.Equal(t, 10, snapshot.WaitingQueue[1].EstimatedWaitMins)
}

func TestSnapshotWithNoDoctorsStaysFinite(t *testing.T) {
	svc, store, _ := newTestBroadcaster(t)
	dept := store.AddDepartment(&model.Department{Name: "ENT", IsActive: true})
	seedWaiting(t, store, dept, "one", model.PriorityNormal)
	seedWaiting(t, store, dept, "two", model.PriorityNormal)

	snapshot, err := svc.BuildDepartmentSnapshot(context.Background(), dept.ID)
	require.NoError(t, err)
	require.Len(t, snapshot.WaitingQueue, 2)
	assert.Equal(t, 20, snapshot.WaitingQueue[1].EstimatedWaitMins)
}

func TestPublishPatientUpdate(t *testing.T) {
	svc, store, broker := newTestBroadcaster(t)
	dept := store.AddDepartment(&model.Department{Name: "ENT", IsActive: true})
	entry := seedWaiting(t, store, dept, "one", model.PriorityNormal)

	svc.PublishPatientUpdate(context.Background(), entry, 2, 20)

	got := broker.last(t)
	assert.Equal(t, messaging.PatientTopic(entry.PatientID.String()), got.Topic)
	assert.Equal(t, MessagePatientUpdate, got.Message.Type)
	update, ok := got.Message.Payload.(model.PatientUpdate)
	require.True(t, ok)
	assert.Equal(t, entry.ID, update.QueueEntryID)
	assert.Equal(t, 2, update.Position)
	assert.Equal(t, 20, update.EstimatedWaitMins)
}

func TestPublishDepartmentSnapshotTopic(t *testing.T) {
	svc, store, broker := newTestBroadcaster(t)
	dept := store.AddDepartment(&model.Department{Name: "ENT", IsActive: true})

	svc.PublishDepartmentSnapshot(context.Background(), dept.ID)

	got := broker.last(t)
	assert.Equal(t, messaging.QueueTopic(dept.ID.String()), got.Topic)
	assert.Equal(t, MessageQueueUpdate, got.Message.Type)
}

func TestBuildDoctorUpdate(t *testing.T) {
	svc, store, _ := newTestBroadcaster(t)
	ctx := context.Background()
	dept := store.AddDepartment(&model.Department{Name: "ENT", IsActive: true})
	doctor := store.AddDoctor(&model.Doctor{Name: "Dr. A", DepartmentID: dept.ID, IsAvailable: true, IsActive: true})

	next := seedWaiting(t, store, dept, "one", model.PriorityNormal)

	current := seedWaiting(t, store, dept, "two", model.PriorityNormal)
	_, err := store.Queue().UpdateLocked(ctx, current.ID, func(e *model.QueueEntry) error {
		e.Status = model.QueueStatusInConsultation
		e.AssignedDoctorID = &doctor.ID
		return nil
	})
	require.NoError(t, err)

	update, err := svc.BuildDoctorUpdate(ctx, doctor.ID, dept.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, update.WaitingCount)
	assert.Equal(t, 0, update.TodayPatientCount)
	require.NotNil(t, update.CurrentPatient)
	assert.Equal(t, current.TokenNumber, update.CurrentPatient.TokenNumber)
	require.NotNil(t, update.NextPatient)
	assert.Equal(t, next.TokenNumber, update.NextPatient.TokenNumber)
}
