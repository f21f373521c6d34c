package queue

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicq/queue-api/internal/model"
	"github.com/clinicq/queue-api/internal/repository/memory"
	"github.com/clinicq/queue-api/internal/service/broadcast"
	"github.com/clinicq/queue-api/internal/service/event"
	"github.com/clinicq/queue-api/internal/service/notification"
	apperrors "github.com/clinicq/queue-api/pkg/errors"
	"github.com/clinicq/queue-api/pkg/logger"
	"github.com/clinicq/queue-api/pkg/metrics"
)

type publishedMessage struct {
	Topic   string
	Message interface{}
}

type fakeBroker struct {
	mu       sync.Mutex
	messages []publishedMessage
	failNext bool
}

func (b *fakeBroker) Publish(_ context.Context, channel string, message interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failNext {
		return fmt.Errorf("broker down")
	}
	b.messages = append(b.messages, publishedMessage{Topic: channel, Message: message})
	return nil
}

func (b *fakeBroker) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	return nil, nil
}

func (b *fakeBroker) Close() error { return nil }

func (b *fakeBroker) published() []publishedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]publishedMessage, len(b.messages))
	copy(out, b.messages)
	return out
}

func newTestService(t *testing.T) (*Service, *memory.Store, *fakeBroker) {
	t.Helper()
	store := memory.NewStore()
	broker := &fakeBroker{}
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	m := metrics.NewMetricsWith(prometheus.NewRegistry(), "clinicq", "test")

	emitter := event.NewEmitter(store.Outbox(), log)
	notifier := notification.NewService(store.NotificationRepo(), emitter, log)
	broadcaster := broadcast.NewService(
		broker, store.Queue(), store.Patients(), store.Doctors(), store.Departments(),
		broadcast.Config{AvgConsultationMins: 15}, log, m,
	)
	svc := NewService(
		store.Queue(), store.Patients(), store.Departments(), store.Doctors(),
		notifier, emitter, broadcaster, NewEstimator(15), log, m,
	)
	return svc, store, broker
}

func seedDepartment(store *memory.Store) *model.Department {
	return store.AddDepartment(&model.Department{Name: "General Medicine", IsActive: true})
}

func seedDoctor(store *memory.Store, dept *model.Department) *model.Doctor {
	return store.AddDoctor(&model.Doctor{
		Name:         "Dr. Rao",
		EmployeeID:   "EMP-001",
		DepartmentID: dept.ID,
		IsAvailable:  true,
		IsActive:     true,
		StartTime:    "00:00",
		EndTime:      "23:59",
	})
}

func registerRequest(dept *model.Department, phone string) *model.RegisterRequest {
	return &model.RegisterRequest{
		Patient: model.PatientData{
			Name:        "Patient " + phone,
			PhoneNumber: phone,
		},
		DepartmentID: dept.ID,
	}
}

func eventsOfType(store *memory.Store, eventType string) int {
	count := 0
	for _, e := range store.OutboxEvents() {
		if e.EventType == eventType {
			count++
		}
	}
	return count
}

func TestRegisterAssignsSequentialTokens(t *testing.T) {
	svc, store, _ := newTestService(t)
	dept := seedDepartment(store)
	seedDoctor(store, dept)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		result, err := svc.Register(ctx, registerRequest(dept, fmt.Sprintf("900000000%d", i)))
		require.NoError(t, err)
		assert.Equal(t, i, result.TokenNumber)
		assert.Equal(t, i, result.Position)
		assert.Equal(t, "General Medicine", result.Department)
	}

	// Position 1 waits nothing, everyone behind waits one slot more.
	result, err := svc.Register(ctx, registerRequest(dept, "9000000004"))
	require.NoError(t, err)
	assert.Equal(t, 4, result.Position)
	assert.Equal(t, 45, result.EstimatedWaitMins)

	assert.Equal(t, 4, eventsOfType(store, model.EventQueueRegistered))
}

func TestRegisterConcurrentTokensAreUnique(t *testing.T) {
	svc, store, _ := newTestService(t)
	dept := seedDepartment(store)
	seedDoctor(store, dept)

	const n = 20
	tokens := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := svc.Register(context.Background(), registerRequest(dept, fmt.Sprintf("91%08d", i)))
			if err != nil {
				t.Error(err)
				return
			}
			tokens <- result.TokenNumber
		}(i)
	}
	wg.Wait()
	close(tokens)

	seen := map[int]bool{}
	for token := range tokens {
		assert.False(t, seen[token], "token %d issued twice", token)
		assert.GreaterOrEqual(t, token, 1)
		assert.LessOrEqual(t, token, n)
		seen[token] = true
	}
	assert.Len(t, seen, n)
}

func TestRegisterRejectsSecondActiveEntry(t *testing.T) {
	svc, store, _ := newTestService(t)
	dept := seedDepartment(store)
	ctx := context.Background()

	_, err := svc.Register(ctx, registerRequest(dept, "9000000001"))
	require.NoError(t, err)

	_, err = svc.Register(ctx, registerRequest(dept, "9000000001"))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrConflict))
}

func TestRegisterInactiveDepartment(t *testing.T) {
	svc, store, _ := newTestService(t)
	dept := store.AddDepartment(&model.Department{Name: "Closed", IsActive: false})

	_, err := svc.Register(context.Background(), registerRequest(dept, "9000000001"))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))
}

func TestRegisterPriorityValidation(t *testing.T) {
	svc, store, _ := newTestService(t)
	dept := seedDepartment(store)
	ctx := context.Background()

	req := registerRequest(dept, "9000000001")
	req.Priority = "urgent"
	_, err := svc.Register(ctx, req)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))

	// Empty priority defaults to normal.
	result, err := svc.Register(ctx, registerRequest(dept, "9000000002"))
	require.NoError(t, err)
	entry, err := store.Queue().Get(ctx, result.QueueID)
	require.NoError(t, err)
	assert.Equal(t, model.PriorityNormal, entry.Priority)
}

func TestCallNextPriorityBeatsArrivalOrder(t *testing.T) {
	svc, store, _ := newTestService(t)
	dept := seedDepartment(store)
	doctor := seedDoctor(store, dept)
	ctx := context.Background()

	first := registerRequest(dept, "9000000001")
	second := registerRequest(dept, "9000000002")
	second.Priority = model.PriorityEmergency
	third := registerRequest(dept, "9000000003")
	third.Priority = model.PriorityHigh

	firstResult, err := svc.Register(ctx, first)
	require.NoError(t, err)
	secondResult, err := svc.Register(ctx, second)
	require.NoError(t, err)
	thirdResult, err := svc.Register(ctx, third)
	require.NoError(t, err)

	expected := []int{secondResult.TokenNumber, thirdResult.TokenNumber, firstResult.TokenNumber}
	for _, token := range expected {
		called, err := svc.CallNext(ctx, dept.ID, doctor.ID)
		require.NoError(t, err)
		require.NotNil(t, called)
		assert.Equal(t, token, called.Entry.TokenNumber)
		assert.Equal(t, model.QueueStatusCalled, called.Entry.Status)
		require.NotNil(t, called.Entry.AssignedDoctorID)
		assert.Equal(t, doctor.ID, *called.Entry.AssignedDoctorID)
		assert.NotNil(t, called.Entry.CalledAt)
	}
}

func TestCallNextEmptyQueue(t *testing.T) {
	svc, store, _ := newTestService(t)
	dept := seedDepartment(store)
	doctor := seedDoctor(store, dept)

	result, err := svc.CallNext(context.Background(), dept.ID, doctor.ID)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestCallNextDoctorChecks(t *testing.T) {
	svc, store, _ := newTestService(t)
	dept := seedDepartment(store)
	other := store.AddDepartment(&model.Department{Name: "Cardiology", IsActive: true})
	outsider := seedDoctor(store, other)
	ctx := context.Background()

	_, err := svc.CallNext(ctx, dept.ID, outsider.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))

	unavailable := store.AddDoctor(&model.Doctor{
		Name:         "Dr. Off",
		DepartmentID: dept.ID,
		IsAvailable:  false,
		IsActive:     true,
	})
	_, err = svc.CallNext(ctx, dept.ID, unavailable.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidState))
}

func TestCallNextOffDutyDoctor(t *testing.T) {
	svc, store, _ := newTestService(t)
	dept := seedDepartment(store)
	ctx := context.Background()

	// Duty window on the far side of the clock from the current time.
	start, end := "00:00", "00:01"
	if time.Now().Format("15:04") < "12:00" {
		start, end = "23:58", "23:59"
	}
	doctor := store.AddDoctor(&model.Doctor{
		Name:         "Dr. Night",
		DepartmentID: dept.ID,
		IsAvailable:  true,
		IsActive:     true,
		StartTime:    start,
		EndTime:      end,
	})

	_, err := svc.Register(ctx, registerRequest(dept, "9000000001"))
	require.NoError(t, err)

	_, err = svc.CallNext(ctx, dept.ID, doctor.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidState))
	assert.Contains(t, err.Error(), "off duty")
}

func TestConsultationLifecycle(t *testing.T) {
	svc, store, _ := newTestService(t)
	dept := seedDepartment(store)
	doctor := seedDoctor(store, dept)
	ctx := context.Background()

	registered, err := svc.Register(ctx, registerRequest(dept, "9000000001"))
	require.NoError(t, err)
	called, err := svc.CallNext(ctx, dept.ID, doctor.ID)
	require.NoError(t, err)
	require.NotNil(t, called)

	started, err := svc.StartConsultation(ctx, registered.QueueID, doctor.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusInConsultation, started.Status)
	assert.NotNil(t, started.ConsultationStartedAt)
	assert.NotNil(t, started.ActualWaitMins)

	completed, err := svc.CompleteConsultation(ctx, registered.QueueID, doctor.ID, "prescribed rest")
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusCompleted, completed.Status)
	assert.NotNil(t, completed.ConsultationEndedAt)
	assert.Contains(t, completed.Notes, "prescribed rest")

	updatedDoctor, err := store.Doctors().Get(ctx, doctor.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updatedDoctor.TotalPatientsSeen)

	assert.Equal(t, 1, eventsOfType(store, model.EventQueueCalled))
	assert.Equal(t, 1, eventsOfType(store, model.EventQueueConsultationDone))
}

func TestStartConsultationChecks(t *testing.T) {
	svc, store, _ := newTestService(t)
	dept := seedDepartment(store)
	doctor := seedDoctor(store, dept)
	intruder := seedDoctor(store, dept)
	ctx := context.Background()

	registered, err := svc.Register(ctx, registerRequest(dept, "9000000001"))
	require.NoError(t, err)

	// Not called yet.
	_, err = svc.StartConsultation(ctx, registered.QueueID, doctor.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidState))

	_, err = svc.CallNext(ctx, dept.ID, doctor.ID)
	require.NoError(t, err)

	// Called for a different doctor.
	_, err = svc.StartConsultation(ctx, registered.QueueID, intruder.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))
}

func TestSkipTwiceFails(t *testing.T) {
	svc, store, _ := newTestService(t)
	dept := seedDepartment(store)
	doctor := seedDoctor(store, dept)
	ctx := context.Background()

	registered, err := svc.Register(ctx, registerRequest(dept, "9000000001"))
	require.NoError(t, err)
	_, err = svc.CallNext(ctx, dept.ID, doctor.ID)
	require.NoError(t, err)

	skipped, err := svc.Skip(ctx, registered.QueueID, "did not respond")
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusSkipped, skipped.Status)
	assert.Contains(t, skipped.Notes, "skipped: did not respond")

	// A second skip is an illegal transition like any other, and leaves the
	// entry untouched.
	_, err = svc.Skip(ctx, registered.QueueID, "still not responding")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidState))

	entry, err := store.Queue().Get(ctx, registered.QueueID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusSkipped, entry.Status)
	assert.Equal(t, skipped.Notes, entry.Notes)
	assert.Equal(t, 1, eventsOfType(store, model.EventQueueSkipped))
}

func TestSkipCompletedEntryFails(t *testing.T) {
	svc, store, _ := newTestService(t)
	dept := seedDepartment(store)
	doctor := seedDoctor(store, dept)
	ctx := context.Background()

	registered, err := svc.Register(ctx, registerRequest(dept, "9000000001"))
	require.NoError(t, err)
	_, err = svc.CallNext(ctx, dept.ID, doctor.ID)
	require.NoError(t, err)
	_, err = svc.StartConsultation(ctx, registered.QueueID, doctor.ID)
	require.NoError(t, err)
	_, err = svc.CompleteConsultation(ctx, registered.QueueID, doctor.ID, "")
	require.NoError(t, err)

	_, err = svc.Skip(ctx, registered.QueueID, "")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidState))
}

func TestCancelWaitingEntryFails(t *testing.T) {
	svc, store, _ := newTestService(t)
	dept := seedDepartment(store)
	ctx := context.Background()

	registered, err := svc.Register(ctx, registerRequest(dept, "9000000001"))
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, registered.QueueID)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrInvalidState))
}

func TestEntryStatusPositionTracksQueue(t *testing.T) {
	svc, store, _ := newTestService(t)
	dept := seedDepartment(store)
	doctor := seedDoctor(store, dept)
	ctx := context.Background()

	first, err := svc.Register(ctx, registerRequest(dept, "9000000001"))
	require.NoError(t, err)
	second, err := svc.Register(ctx, registerRequest(dept, "9000000002"))
	require.NoError(t, err)

	status, err := svc.EntryStatus(ctx, second.QueueID)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Position)
	assert.Equal(t, 15, status.EstimatedWaitMins)

	// The head of the queue leaving moves everyone up.
	called, err := svc.CallNext(ctx, dept.ID, doctor.ID)
	require.NoError(t, err)
	require.Equal(t, first.TokenNumber, called.Entry.TokenNumber)

	status, err = svc.EntryStatus(ctx, second.QueueID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Position)
	assert.Equal(t, 0, status.EstimatedWaitMins)
}

func TestPatientStatus(t *testing.T) {
	svc, store, _ := newTestService(t)
	dept := seedDepartment(store)
	ctx := context.Background()

	registered, err := svc.Register(ctx, registerRequest(dept, "9000000001"))
	require.NoError(t, err)
	entry, err := store.Queue().Get(ctx, registered.QueueID)
	require.NoError(t, err)

	status, err := svc.PatientStatus(ctx, entry.PatientID)
	require.NoError(t, err)
	assert.Equal(t, registered.QueueID, status.QueueEntryID)
	assert.Equal(t, model.QueueStatusWaiting, status.Status)

	_, err = svc.PatientStatus(ctx, entry.DepartmentID)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))
}

func TestDepartmentStatusCounts(t *testing.T) {
	svc, store, _ := newTestService(t)
	dept := seedDepartment(store)
	doctor := seedDoctor(store, dept)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := svc.Register(ctx, registerRequest(dept, fmt.Sprintf("900000000%d", i)))
		require.NoError(t, err)
	}
	called, err := svc.CallNext(ctx, dept.ID, doctor.ID)
	require.NoError(t, err)
	_, err = svc.StartConsultation(ctx, called.Entry.ID, doctor.ID)
	require.NoError(t, err)

	snapshot, err := svc.DepartmentStatus(ctx, dept.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, snapshot.TotalWaiting)
	assert.Equal(t, 1, snapshot.TotalInConsultation)
	assert.Equal(t, 0, snapshot.TotalCompletedToday)
	require.Len(t, snapshot.WaitingQueue, 2)
	assert.Equal(t, 1, snapshot.WaitingQueue[0].Position)
	assert.Equal(t, 2, snapshot.WaitingQueue[1].Position)
}

func TestRegisterNotifiesPatient(t *testing.T) {
	svc, store, _ := newTestService(t)
	dept := seedDepartment(store)
	ctx := context.Background()

	req := registerRequest(dept, "9000000001")
	req.Patient.Email = "patient@example.com"
	_, err := svc.Register(ctx, req)
	require.NoError(t, err)

	notifications := store.Notifications()
	require.Len(t, notifications, 2)
	channels := map[model.NotificationChannel]bool{}
	for _, n := range notifications {
		channels[n.Channel] = true
		assert.Equal(t, model.TemplateTokenIssued, n.TemplateType)
		assert.Equal(t, model.NotificationStatusPending, n.Status)
	}
	assert.True(t, channels[model.ChannelSMS])
	assert.True(t, channels[model.ChannelEmail])
}

func TestBroadcastsSurviveBrokerFailure(t *testing.T) {
	svc, store, broker := newTestService(t)
	dept := seedDepartment(store)
	broker.failNext = true

	result, err := svc.Register(context.Background(), registerRequest(dept, "9000000001"))
	require.NoError(t, err)
	assert.Equal(t, 1, result.TokenNumber)
}
