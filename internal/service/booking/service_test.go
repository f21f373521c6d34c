package booking

import (
	"context"
	"fmt"
	"io"
	"strings"
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
	"github.com/clinicq/queue-api/internal/service/queue"
	apperrors "github.com/clinicq/queue-api/pkg/errors"
	"github.com/clinicq/queue-api/pkg/logger"
	"github.com/clinicq/queue-api/pkg/metrics"
)

type fakeBroker struct {
	mu       sync.Mutex
	messages int
}

func (b *fakeBroker) Publish(_ context.Context, _ string, _ interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages++
	return nil
}

func (b *fakeBroker) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	return nil, nil
}

func (b *fakeBroker) Close() error { return nil }

var testSlots = []string{"09:00-10:00", "10:00-11:00", "11:00-12:00"}

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	m := metrics.NewMetricsWith(prometheus.NewRegistry(), "clinicq", "test")

	emitter := event.NewEmitter(store.Outbox(), log)
	notifier := notification.NewService(store.NotificationRepo(), emitter, log)
	broadcaster := broadcast.NewService(
		&fakeBroker{}, store.Queue(), store.Patients(), store.Doctors(), store.Departments(),
		broadcast.Config{AvgConsultationMins: 15}, log, m,
	)
	estimator := queue.NewEstimator(15)
	queueSvc := queue.NewService(
		store.Queue(), store.Patients(), store.Departments(), store.Doctors(),
		notifier, emitter, broadcaster, estimator, log, m,
	)
	svc := NewService(
		store.Queue(), store.Patients(), store.Departments(), store.Doctors(), queueSvc,
		notifier, emitter, broadcaster, estimator,
		Config{SlotCapacity: 2, TimeSlots: testSlots},
		log, m,
	)
	return svc, store
}

func seedDepartment(store *memory.Store) *model.Department {
	return store.AddDepartment(&model.Department{Name: "Dermatology", IsActive: true})
}

func bookingRequest(dept *model.Department, phone string) *model.CreateBookingRequest {
	return &model.CreateBookingRequest{
		Patient: model.PatientData{
			Name:        "Patient " + phone,
			PhoneNumber: phone,
		},
		DepartmentID: dept.ID,
	}
}

func TestCreateBooking(t *testing.T) {
	svc, store := newTestService(t)
	dept := seedDepartment(store)
	ctx := context.Background()

	req := bookingRequest(dept, "9000000001")
	req.TimeSlot = "09:00-10:00"

	result, err := svc.CreateBooking(ctx, req)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.QRCode, "CLINICQ:BOOKING:"))
	assert.Equal(t, "Dermatology", result.Department)
	assert.Equal(t, "09:00-10:00", result.TimeSlot)

	entry, err := store.Queue().Get(ctx, result.BookingID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusBooked, entry.Status)
	assert.True(t, entry.IsOnlineBooking)
	assert.Zero(t, entry.TokenNumber, "no token until activation")
}

func TestCreateBookingRejectsPastDate(t *testing.T) {
	svc, store := newTestService(t)
	dept := seedDepartment(store)

	req := bookingRequest(dept, "9000000001")
	req.BookingDate = time.Now().AddDate(0, 0, -1).Format("2006-01-02")

	_, err := svc.CreateBooking(context.Background(), req)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))
}

func TestCreateBookingUnknownSlot(t *testing.T) {
	svc, store := newTestService(t)
	dept := seedDepartment(store)

	req := bookingRequest(dept, "9000000001")
	req.TimeSlot = "23:00-23:30"

	_, err := svc.CreateBooking(context.Background(), req)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))
}

func TestCreateBookingSlotCapacity(t *testing.T) {
	svc, store := newTestService(t)
	dept := seedDepartment(store)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		req := bookingRequest(dept, fmt.Sprintf("900000000%d", i))
		req.TimeSlot = "10:00-11:00"
		_, err := svc.CreateBooking(ctx, req)
		require.NoError(t, err)
	}

	req := bookingRequest(dept, "9000000003")
	req.TimeSlot = "10:00-11:00"
	_, err := svc.CreateBooking(ctx, req)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrConflict))

	// A different slot on the same day still has room.
	req.TimeSlot = "11:00-12:00"
	_, err = svc.CreateBooking(ctx, req)
	require.NoError(t, err)
}

func TestCreateBookingDuplicateForDate(t *testing.T) {
	svc, store := newTestService(t)
	dept := seedDepartment(store)
	ctx := context.Background()

	_, err := svc.CreateBooking(ctx, bookingRequest(dept, "9000000001"))
	require.NoError(t, err)

	_, err = svc.CreateBooking(ctx, bookingRequest(dept, "9000000001"))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrConflict))
}

func TestCreateBookingDropsForeignPreferredDoctor(t *testing.T) {
	svc, store := newTestService(t)
	dept := seedDepartment(store)
	other := store.AddDepartment(&model.Department{Name: "Cardiology", IsActive: true})
	outsider := store.AddDoctor(&model.Doctor{
		Name:         "Dr. Elsewhere",
		DepartmentID: other.ID,
		IsAvailable:  true,
		IsActive:     true,
	})
	ctx := context.Background()

	req := bookingRequest(dept, "9000000001")
	req.PreferredDoctorID = &outsider.ID

	result, err := svc.CreateBooking(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, result.PreferredDoctor)

	entry, err := store.Queue().Get(ctx, result.BookingID)
	require.NoError(t, err)
	assert.Nil(t, entry.PreferredDoctorID)
}

func TestActivateByQR(t *testing.T) {
	svc, store := newTestService(t)
	dept := seedDepartment(store)
	ctx := context.Background()

	booked, err := svc.CreateBooking(ctx, bookingRequest(dept, "9000000001"))
	require.NoError(t, err)

	activated, err := svc.ActivateByQR(ctx, booked.QRCode)
	require.NoError(t, err)
	assert.Equal(t, booked.BookingID, activated.BookingID)
	assert.Equal(t, 1, activated.TokenNumber)
	assert.Equal(t, 1, activated.Position)

	entry, err := store.Queue().Get(ctx, booked.BookingID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusWaiting, entry.Status)
	assert.NotNil(t, entry.ArrivedAt)
}

func TestActivateByQRSecondScanLoses(t *testing.T) {
	svc, store := newTestService(t)
	dept := seedDepartment(store)
	ctx := context.Background()

	booked, err := svc.CreateBooking(ctx, bookingRequest(dept, "9000000001"))
	require.NoError(t, err)

	_, err = svc.ActivateByQR(ctx, booked.QRCode)
	require.NoError(t, err)

	_, err = svc.ActivateByQR(ctx, booked.QRCode)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrConflict))
	assert.Contains(t, err.Error(), "already waiting")
}

func TestActivateByQRWrongDay(t *testing.T) {
	svc, store := newTestService(t)
	dept := seedDepartment(store)
	ctx := context.Background()

	req := bookingRequest(dept, "9000000001")
	req.BookingDate = time.Now().AddDate(0, 0, 2).Format("2006-01-02")
	booked, err := svc.CreateBooking(ctx, req)
	require.NoError(t, err)

	_, err = svc.ActivateByQR(ctx, booked.QRCode)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrConflict))
}

func TestActivateByQRUnknownCode(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ActivateByQR(context.Background(), "CLINICQ:BOOKING:nope:ffff")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrNotFound))
}

func TestActivatedBookingSharesTokenSequence(t *testing.T) {
	svc, store := newTestService(t)
	dept := seedDepartment(store)
	ctx := context.Background()

	// A walk-in takes token 1 before the booking arrives.
	walkIn := &model.Patient{Name: "Walk In", PhoneNumber: "9000000001"}
	require.NoError(t, store.Patients().Create(ctx, walkIn))
	err := store.Queue().Create(ctx, &model.QueueEntry{
		PatientID:    walkIn.ID,
		DepartmentID: dept.ID,
		Status:       model.QueueStatusWaiting,
		Priority:     model.PriorityNormal,
	})
	require.NoError(t, err)

	booked, err := svc.CreateBooking(ctx, bookingRequest(dept, "9000000002"))
	require.NoError(t, err)
	activated, err := svc.ActivateByQR(ctx, booked.QRCode)
	require.NoError(t, err)
	assert.Equal(t, 2, activated.TokenNumber)
}

func TestAvailableSlots(t *testing.T) {
	svc, store := newTestService(t)
	dept := seedDepartment(store)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		req := bookingRequest(dept, fmt.Sprintf("900000000%d", i))
		req.TimeSlot = "09:00-10:00"
		_, err := svc.CreateBooking(ctx, req)
		require.NoError(t, err)
	}

	slots, err := svc.AvailableSlots(ctx, dept.ID, "")
	require.NoError(t, err)
	require.Len(t, slots, len(testSlots))
	assert.Equal(t, "09:00-10:00", slots[0].Slot)
	assert.Equal(t, 2, slots[0].Bookings)
	assert.False(t, slots[0].Available)
	assert.True(t, slots[1].Available)
}

func TestGetBooking(t *testing.T) {
	svc, store := newTestService(t)
	dept := seedDepartment(store)
	ctx := context.Background()

	req := bookingRequest(dept, "9000000001")
	req.TimeSlot = "09:00-10:00"
	booked, err := svc.CreateBooking(ctx, req)
	require.NoError(t, err)

	details, err := svc.GetBooking(ctx, booked.BookingID)
	require.NoError(t, err)
	assert.Equal(t, booked.QRCode, details.QRCode)
	assert.Equal(t, "09:00-10:00", details.TimeSlot)
	assert.Equal(t, model.QueueStatusBooked, details.Status)
	assert.Equal(t, "9000000001", details.PhoneNumber)
}

func TestCancelBooking(t *testing.T) {
	svc, store := newTestService(t)
	dept := seedDepartment(store)
	ctx := context.Background()

	booked, err := svc.CreateBooking(ctx, bookingRequest(dept, "9000000001"))
	require.NoError(t, err)
	require.NoError(t, svc.CancelBooking(ctx, booked.BookingID))

	entry, err := store.Queue().Get(ctx, booked.BookingID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusCancelled, entry.Status)

	// The cancelled slot is released.
	_, err = svc.CreateBooking(ctx, bookingRequest(dept, "9000000001"))
	require.NoError(t, err)
}
