package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/clinicq/queue-api/internal/model"
)

// All repository interfaces in one file
type (
	DepartmentRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Department, error)
		List(ctx context.Context, activeOnly bool) ([]*model.Department, error)
	}

	PatientRepository interface {
		Create(ctx context.Context, patient *model.Patient) error
		Get(ctx context.Context, id uuid.UUID) (*model.Patient, error)
		GetByPhone(ctx context.Context, phone string) (*model.Patient, error)
		Update(ctx context.Context, patient *model.Patient) error
	}

	// QueueRepository owns queue entries and the per-(department, day) token
	// sequence. The *Locked methods run their callback inside a transaction
	// holding a row lock on the entry; the callback validates and mutates the
	// entry, and an error from it rolls the whole transaction back.
	QueueRepository interface {
		// Create inserts a walk-in entry, allocating its token from the
		// (department, day) counter in the same transaction.
		Create(ctx context.Context, entry *model.QueueEntry) error
		// CreateBooked inserts an online booking with token 0.
		CreateBooked(ctx context.Context, entry *model.QueueEntry) error
		Get(ctx context.Context, id uuid.UUID) (*model.QueueEntry, error)
		// UpdateLocked loads the entry FOR UPDATE, applies fn, then persists.
		UpdateLocked(ctx context.Context, id uuid.UUID, fn func(*model.QueueEntry) error) (*model.QueueEntry, error)
		// ActivateByQR locks the booking row by QR code, applies fn, then
		// allocates a token for (department, today) and persists. Exactly one
		// of two concurrent scans can win the row lock first.
		ActivateByQR(ctx context.Context, qrCode string, fn func(*model.QueueEntry) error) (*model.QueueEntry, error)
		// CallNext selects the highest-priority oldest waiting entry for the
		// department and day FOR UPDATE SKIP LOCKED, applies fn and persists.
		// Returns (nil, nil) when no entry is waiting.
		CallNext(ctx context.Context, departmentID uuid.UUID, day time.Time, fn func(*model.QueueEntry) error) (*model.QueueEntry, error)

		// GetActiveForPatient returns the patient's non-terminal entry for the
		// day, or nil.
		GetActiveForPatient(ctx context.Context, patientID uuid.UUID, day time.Time) (*model.QueueEntry, error)
		// GetActiveBookingForDate returns a non-terminal booking for the
		// given booking date, or nil.
		GetActiveBookingForDate(ctx context.Context, patientID uuid.UUID, date time.Time) (*model.QueueEntry, error)

		CountWaitingBefore(ctx context.Context, departmentID uuid.UUID, day, createdBefore time.Time) (int, error)
		CountByStatus(ctx context.Context, departmentID uuid.UUID, day time.Time, status model.QueueStatus) (int, error)
		ListByStatus(ctx context.Context, departmentID uuid.UUID, day time.Time, status model.QueueStatus) ([]*model.QueueEntry, error)
		CountBookingsInSlot(ctx context.Context, departmentID uuid.UUID, date time.Time, slot string) (int, error)
		CountCompletedByDoctor(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error)
		// CurrentForDoctor returns the entry the doctor is consulting, or nil.
		CurrentForDoctor(ctx context.Context, doctorID uuid.UUID, day time.Time) (*model.QueueEntry, error)
		// PeekNextWaiting returns the call-next candidate without locking it.
		PeekNextWaiting(ctx context.Context, departmentID uuid.UUID, day time.Time) (*model.QueueEntry, error)
		UpdateEstimate(ctx context.Context, id uuid.UUID, minutes int) error
	}

	DoctorRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Doctor, error)
		ListAvailableByDepartment(ctx context.Context, departmentID uuid.UUID) ([]*model.Doctor, error)
		CountAvailable(ctx context.Context, departmentID uuid.UUID) (int, error)
		TouchLastActive(ctx context.Context, id uuid.UUID) error
		// RecordConsultation bumps the seen counter and folds the duration
		// into the doctor's running consultation average.
		RecordConsultation(ctx context.Context, id uuid.UUID, durationMins int) error
	}

	NotificationRepository interface {
		Create(ctx context.Context, n *model.Notification) error
		Update(ctx context.Context, n *model.Notification) error
		// GetPendingWithLock claims due pending/retrying rows SKIP LOCKED.
		GetPendingWithLock(ctx context.Context, limit int) ([]*model.Notification, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		BeginTx(ctx context.Context) (*sql.Tx, error)
		UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, status string, errorMessage *string, retryAt *time.Time) error
		MoveToDeadLetter(ctx context.Context, tx *sql.Tx, evt *model.OutboxEvent) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
