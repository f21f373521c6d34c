// Package memory holds an in-memory implementation of the repository
// interfaces. It backs the service tests; the locking repositories are
// approximated with a single store mutex, which is enough to keep the
// callback-under-lock contract observable.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicq/queue-api/internal/model"
	apperrors "github.com/clinicq/queue-api/pkg/errors"
)

type counterKey struct {
	departmentID uuid.UUID
	day          string
}

// Store implements every repository interface over process memory.
type Store struct {
	mu            sync.Mutex
	clock         time.Time
	departments   map[uuid.UUID]*model.Department
	patients      map[uuid.UUID]*model.Patient
	doctors       map[uuid.UUID]*model.Doctor
	entries       map[uuid.UUID]*model.QueueEntry
	notifications []*model.Notification
	outbox        []*model.OutboxEvent
	counters      map[counterKey]int
}

func NewStore() *Store {
	return &Store{
		clock:       time.Now(),
		departments: make(map[uuid.UUID]*model.Department),
		patients:    make(map[uuid.UUID]*model.Patient),
		doctors:     make(map[uuid.UUID]*model.Doctor),
		entries:     make(map[uuid.UUID]*model.QueueEntry),
		counters:    make(map[counterKey]int),
	}
}

// tick returns a strictly increasing timestamp so creation order is total
// even within one wall-clock instant.
func (s *Store) tick() time.Time {
	s.clock = s.clock.Add(time.Millisecond)
	return s.clock
}

func (s *Store) nextToken(departmentID uuid.UUID, day time.Time) int {
	key := counterKey{departmentID: departmentID, day: model.DateOf(day).Format("2006-01-02")}
	s.counters[key]++
	return s.counters[key]
}

// Seeding helpers.

func (s *Store) AddDepartment(d *model.Department) *model.Department {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	s.departments[d.ID] = d
	return d
}

func (s *Store) AddDoctor(d *model.Doctor) *model.Doctor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	s.doctors[d.ID] = d
	return d
}

// Notifications returns a snapshot of every stored notification.
func (s *Store) Notifications() []*model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Notification, len(s.notifications))
	copy(out, s.notifications)
	return out
}

// OutboxEvents returns a snapshot of every stored outbox event.
func (s *Store) OutboxEvents() []*model.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.OutboxEvent, len(s.outbox))
	copy(out, s.outbox)
	return out
}

// Each repository interface is exposed through a view type because their
// method sets collide on the store itself.
func (s *Store) Departments() *DepartmentView { return &DepartmentView{s} }
func (s *Store) Patients() *PatientView       { return &PatientView{s} }
func (s *Store) Doctors() *DoctorView         { return &DoctorView{s} }
func (s *Store) Queue() *QueueView            { return &QueueView{s} }
func (s *Store) NotificationRepo() *NotificationView {
	return &NotificationView{s}
}
func (s *Store) Outbox() *OutboxView { return &OutboxView{s} }

type DepartmentView struct{ s *Store }

func (v *DepartmentView) Get(ctx context.Context, id uuid.UUID) (*model.Department, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	d, ok := v.s.departments[id]
	if !ok {
		return nil, apperrors.NotFound("department", nil)
	}
	cp := *d
	return &cp, nil
}

func (v *DepartmentView) List(ctx context.Context, activeOnly bool) ([]*model.Department, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	out := make([]*model.Department, 0, len(v.s.departments))
	for _, d := range v.s.departments {
		if activeOnly && !d.IsActive {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type PatientView struct{ s *Store }

func (v *PatientView) Create(ctx context.Context, patient *model.Patient) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if patient.ID == uuid.Nil {
		patient.ID = uuid.New()
	}
	patient.CreatedAt = v.s.tick()
	patient.UpdatedAt = patient.CreatedAt
	cp := *patient
	v.s.patients[patient.ID] = &cp
	return nil
}

func (v *PatientView) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	p, ok := v.s.patients[id]
	if !ok {
		return nil, apperrors.NotFound("patient", nil)
	}
	cp := *p
	return &cp, nil
}

func (v *PatientView) GetByPhone(ctx context.Context, phone string) (*model.Patient, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, p := range v.s.patients {
		if p.PhoneNumber == phone {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (v *PatientView) Update(ctx context.Context, patient *model.Patient) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.patients[patient.ID]; !ok {
		return apperrors.NotFound("patient", nil)
	}
	patient.UpdatedAt = v.s.tick()
	cp := *patient
	v.s.patients[patient.ID] = &cp
	return nil
}

type DoctorView struct{ s *Store }

func (v *DoctorView) Get(ctx context.Context, id uuid.UUID) (*model.Doctor, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	d, ok := v.s.doctors[id]
	if !ok {
		return nil, apperrors.NotFound("doctor", nil)
	}
	cp := *d
	return &cp, nil
}

func (v *DoctorView) ListAvailableByDepartment(ctx context.Context, departmentID uuid.UUID) ([]*model.Doctor, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	out := []*model.Doctor{}
	for _, d := range v.s.doctors {
		if d.DepartmentID == departmentID && d.IsAvailable && d.IsActive {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (v *DoctorView) CountAvailable(ctx context.Context, departmentID uuid.UUID) (int, error) {
	doctors, _ := v.ListAvailableByDepartment(ctx, departmentID)
	return len(doctors), nil
}

func (v *DoctorView) TouchLastActive(ctx context.Context, id uuid.UUID) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	d, ok := v.s.doctors[id]
	if !ok {
		return apperrors.NotFound("doctor", nil)
	}
	now := v.s.tick()
	d.LastActiveAt = &now
	return nil
}

func (v *DoctorView) RecordConsultation(ctx context.Context, id uuid.UUID, durationMins int) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	d, ok := v.s.doctors[id]
	if !ok {
		return apperrors.NotFound("doctor", nil)
	}
	d.AvgConsultationMins = (d.AvgConsultationMins*d.TotalPatientsSeen + durationMins) / (d.TotalPatientsSeen + 1)
	d.TotalPatientsSeen++
	return nil
}

type QueueView struct{ s *Store }

func (v *QueueView) Create(ctx context.Context, entry *model.QueueEntry) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	entry.ID = uuid.New()
	entry.CreatedAt = v.s.tick()
	entry.UpdatedAt = entry.CreatedAt
	entry.TokenNumber = v.s.nextToken(entry.DepartmentID, entry.CreatedAt)
	cp := *entry
	v.s.entries[entry.ID] = &cp
	return nil
}

func (v *QueueView) CreateBooked(ctx context.Context, entry *model.QueueEntry) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	entry.ID = uuid.New()
	entry.CreatedAt = v.s.tick()
	entry.UpdatedAt = entry.CreatedAt
	entry.TokenNumber = 0
	cp := *entry
	v.s.entries[entry.ID] = &cp
	return nil
}

func (v *QueueView) Get(ctx context.Context, id uuid.UUID) (*model.QueueEntry, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	e, ok := v.s.entries[id]
	if !ok {
		return nil, apperrors.NotFound("queue entry", nil)
	}
	cp := *e
	return &cp, nil
}

func (v *QueueView) UpdateLocked(ctx context.Context, id uuid.UUID, fn func(*model.QueueEntry) error) (*model.QueueEntry, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	e, ok := v.s.entries[id]
	if !ok {
		return nil, apperrors.NotFound("queue entry", nil)
	}
	cp := *e
	if err := fn(&cp); err != nil {
		return nil, err
	}
	cp.UpdatedAt = v.s.tick()
	v.s.entries[id] = &cp
	out := cp
	return &out, nil
}

func (v *QueueView) ActivateByQR(ctx context.Context, qrCode string, fn func(*model.QueueEntry) error) (*model.QueueEntry, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for id, e := range v.s.entries {
		if e.QRCode == nil || *e.QRCode != qrCode {
			continue
		}
		cp := *e
		if err := fn(&cp); err != nil {
			return nil, err
		}
		cp.TokenNumber = v.s.nextToken(cp.DepartmentID, time.Now())
		cp.UpdatedAt = v.s.tick()
		v.s.entries[id] = &cp
		out := cp
		return &out, nil
	}
	return nil, apperrors.NotFound("booking", nil)
}

func (v *QueueView) CallNext(ctx context.Context, departmentID uuid.UUID, day time.Time, fn func(*model.QueueEntry) error) (*model.QueueEntry, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	next := v.s.peekWaiting(departmentID, day)
	if next == nil {
		return nil, nil
	}
	cp := *next
	if err := fn(&cp); err != nil {
		return nil, err
	}
	cp.UpdatedAt = v.s.tick()
	v.s.entries[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *Store) peekWaiting(departmentID uuid.UUID, day time.Time) *model.QueueEntry {
	var candidates []*model.QueueEntry
	for _, e := range s.entries {
		if e.DepartmentID == departmentID &&
			e.Status == model.QueueStatusWaiting &&
			model.DateOf(e.CreatedAt).Equal(model.DateOf(day)) {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority.Rank() != candidates[j].Priority.Rank() {
			return candidates[i].Priority.Rank() < candidates[j].Priority.Rank()
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	return candidates[0]
}

func (v *QueueView) GetActiveForPatient(ctx context.Context, patientID uuid.UUID, day time.Time) (*model.QueueEntry, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, e := range v.s.entries {
		if e.PatientID == patientID &&
			!e.Status.IsTerminal() &&
			model.DateOf(e.CreatedAt).Equal(model.DateOf(day)) {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (v *QueueView) GetActiveBookingForDate(ctx context.Context, patientID uuid.UUID, date time.Time) (*model.QueueEntry, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, e := range v.s.entries {
		if e.PatientID == patientID &&
			e.IsOnlineBooking &&
			!e.Status.IsTerminal() &&
			e.BookingDate != nil &&
			model.DateOf(*e.BookingDate).Equal(model.DateOf(date)) {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (v *QueueView) CountWaitingBefore(ctx context.Context, departmentID uuid.UUID, day, createdBefore time.Time) (int, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	count := 0
	for _, e := range v.s.entries {
		if e.DepartmentID == departmentID &&
			e.Status == model.QueueStatusWaiting &&
			model.DateOf(e.CreatedAt).Equal(model.DateOf(day)) &&
			e.CreatedAt.Before(createdBefore) {
			count++
		}
	}
	return count, nil
}

func (v *QueueView) CountByStatus(ctx context.Context, departmentID uuid.UUID, day time.Time, status model.QueueStatus) (int, error) {
	entries, err := v.ListByStatus(ctx, departmentID, day, status)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (v *QueueView) ListByStatus(ctx context.Context, departmentID uuid.UUID, day time.Time, status model.QueueStatus) ([]*model.QueueEntry, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	out := []*model.QueueEntry{}
	for _, e := range v.s.entries {
		if e.DepartmentID == departmentID &&
			e.Status == status &&
			model.DateOf(e.CreatedAt).Equal(model.DateOf(day)) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() < out[j].Priority.Rank()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (v *QueueView) CountBookingsInSlot(ctx context.Context, departmentID uuid.UUID, date time.Time, slot string) (int, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	count := 0
	for _, e := range v.s.entries {
		if e.DepartmentID == departmentID &&
			e.IsOnlineBooking &&
			!e.Status.IsTerminal() &&
			e.BookingDate != nil && model.DateOf(*e.BookingDate).Equal(model.DateOf(date)) &&
			e.BookingTimeSlot != nil && *e.BookingTimeSlot == slot {
			count++
		}
	}
	return count, nil
}

func (v *QueueView) CountCompletedByDoctor(ctx context.Context, doctorID uuid.UUID, day time.Time) (int, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	count := 0
	for _, e := range v.s.entries {
		if e.Status == model.QueueStatusCompleted &&
			e.AssignedDoctorID != nil && *e.AssignedDoctorID == doctorID &&
			model.DateOf(e.CreatedAt).Equal(model.DateOf(day)) {
			count++
		}
	}
	return count, nil
}

func (v *QueueView) CurrentForDoctor(ctx context.Context, doctorID uuid.UUID, day time.Time) (*model.QueueEntry, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, e := range v.s.entries {
		if e.Status == model.QueueStatusInConsultation &&
			e.AssignedDoctorID != nil && *e.AssignedDoctorID == doctorID &&
			model.DateOf(e.CreatedAt).Equal(model.DateOf(day)) {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (v *QueueView) PeekNextWaiting(ctx context.Context, departmentID uuid.UUID, day time.Time) (*model.QueueEntry, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	next := v.s.peekWaiting(departmentID, day)
	if next == nil {
		return nil, nil
	}
	cp := *next
	return &cp, nil
}

func (v *QueueView) UpdateEstimate(ctx context.Context, id uuid.UUID, minutes int) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	e, ok := v.s.entries[id]
	if !ok {
		return apperrors.NotFound("queue entry", nil)
	}
	e.EstimatedWaitMins = &minutes
	return nil
}

type NotificationView struct{ s *Store }

func (v *NotificationView) Create(ctx context.Context, n *model.Notification) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.Status == "" {
		n.Status = model.NotificationStatusPending
	}
	n.CreatedAt = v.s.tick()
	n.UpdatedAt = n.CreatedAt
	cp := *n
	v.s.notifications = append(v.s.notifications, &cp)
	return nil
}

func (v *NotificationView) Update(ctx context.Context, n *model.Notification) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for i, stored := range v.s.notifications {
		if stored.ID == n.ID {
			cp := *n
			cp.UpdatedAt = v.s.tick()
			v.s.notifications[i] = &cp
			return nil
		}
	}
	return apperrors.NotFound("notification", nil)
}

func (v *NotificationView) GetPendingWithLock(ctx context.Context, limit int) ([]*model.Notification, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	now := time.Now()
	out := []*model.Notification{}
	for _, n := range v.s.notifications {
		if len(out) >= limit {
			break
		}
		due := n.Status == model.NotificationStatusPending ||
			(n.Status == model.NotificationStatusRetrying && n.NextRetryAt != nil && !n.NextRetryAt.After(now))
		if due {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

type OutboxView struct{ s *Store }

func (v *OutboxView) Create(ctx context.Context, event *model.OutboxEvent) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = string(model.OutboxStatusPending)
	}
	event.CreatedAt = v.s.tick()
	event.UpdatedAt = event.CreatedAt
	cp := *event
	v.s.outbox = append(v.s.outbox, &cp)
	return nil
}

func (v *OutboxView) GetPendingEventsWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	now := time.Now()
	out := []*model.OutboxEvent{}
	for _, e := range v.s.outbox {
		if len(out) >= limit {
			break
		}
		pending := e.Status == string(model.OutboxStatusPending)
		retryDue := e.Status == string(model.OutboxStatusRetry) &&
			(e.RetryAt == nil || !e.RetryAt.After(now))
		if pending || retryDue {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// BeginTx is unsupported in memory; the dead-letter path needs a real
// database.
func (v *OutboxView) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return nil, errors.New("memory store does not support transactions")
}

func (v *OutboxView) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, status string, errorMessage *string, retryAt *time.Time) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, e := range v.s.outbox {
		if e.ID != id {
			continue
		}
		if status == string(model.OutboxStatusRetry) {
			e.RetryCount++
		}
		if status == string(model.OutboxStatusProcessed) {
			now := v.s.tick()
			e.ProcessedAt = &now
		}
		e.Status = status
		e.ErrorMessage = errorMessage
		e.RetryAt = retryAt
		e.UpdatedAt = v.s.tick()
		return nil
	}
	return apperrors.NotFound("outbox event", nil)
}

func (v *OutboxView) MoveToDeadLetter(ctx context.Context, tx *sql.Tx, evt *model.OutboxEvent) error {
	return errors.New("memory store does not support transactions")
}

func (v *OutboxView) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	kept := v.s.outbox[:0]
	var removed int64
	for _, e := range v.s.outbox {
		if e.Status == string(model.OutboxStatusProcessed) && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	v.s.outbox = kept
	return removed, nil
}
