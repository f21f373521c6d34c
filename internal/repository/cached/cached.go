// Package cached wraps the read-heavy reference repositories with an
// in-process TTL cache. Departments and doctor rosters change rarely but are
// read on every registration and estimate, so short TTLs take most of that
// load off the database without risking stale queue state (queue entries are
// never cached).
package cached

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/clinicq/queue-api/internal/model"
	"github.com/clinicq/queue-api/internal/repository"
)

type Config struct {
	TTL             time.Duration
	CleanupInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		TTL:             30 * time.Second,
		CleanupInterval: 5 * time.Minute,
	}
}

type departmentRepository struct {
	inner repository.DepartmentRepository
	cache *cache.Cache
}

func NewDepartmentRepository(inner repository.DepartmentRepository, cfg Config) repository.DepartmentRepository {
	return &departmentRepository{
		inner: inner,
		cache: cache.New(cfg.TTL, cfg.CleanupInterval),
	}
}

func (r *departmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Department, error) {
	key := "department:" + id.String()
	if v, found := r.cache.Get(key); found {
		return v.(*model.Department), nil
	}

	dept, err := r.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cache.Set(key, dept, cache.DefaultExpiration)
	return dept, nil
}

func (r *departmentRepository) List(ctx context.Context, activeOnly bool) ([]*model.Department, error) {
	key := fmt.Sprintf("departments:%t", activeOnly)
	if v, found := r.cache.Get(key); found {
		return v.([]*model.Department), nil
	}

	depts, err := r.inner.List(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	r.cache.Set(key, depts, cache.DefaultExpiration)
	return depts, nil
}

type doctorRepository struct {
	inner repository.DoctorRepository
	cache *cache.Cache
}

func NewDoctorRepository(inner repository.DoctorRepository, cfg Config) repository.DoctorRepository {
	return &doctorRepository{
		inner: inner,
		cache: cache.New(cfg.TTL, cfg.CleanupInterval),
	}
}

func (r *doctorRepository) Get(ctx context.Context, id uuid.UUID) (*model.Doctor, error) {
	key := "doctor:" + id.String()
	if v, found := r.cache.Get(key); found {
		return v.(*model.Doctor), nil
	}

	doctor, err := r.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cache.Set(key, doctor, cache.DefaultExpiration)
	return doctor, nil
}

func (r *doctorRepository) ListAvailableByDepartment(ctx context.Context, departmentID uuid.UUID) ([]*model.Doctor, error) {
	key := "doctors:" + departmentID.String()
	if v, found := r.cache.Get(key); found {
		return v.([]*model.Doctor), nil
	}

	doctors, err := r.inner.ListAvailableByDepartment(ctx, departmentID)
	if err != nil {
		return nil, err
	}
	r.cache.Set(key, doctors, cache.DefaultExpiration)
	return doctors, nil
}

func (r *doctorRepository) CountAvailable(ctx context.Context, departmentID uuid.UUID) (int, error) {
	key := "doctors:count:" + departmentID.String()
	if v, found := r.cache.Get(key); found {
		return v.(int), nil
	}

	count, err := r.inner.CountAvailable(ctx, departmentID)
	if err != nil {
		return 0, err
	}
	r.cache.Set(key, count, cache.DefaultExpiration)
	return count, nil
}

// Writes pass through and invalidate the doctor's cached row so dashboards
// pick up the new counters on the next read.
func (r *doctorRepository) TouchLastActive(ctx context.Context, id uuid.UUID) error {
	if err := r.inner.TouchLastActive(ctx, id); err != nil {
		return err
	}
	r.cache.Delete("doctor:" + id.String())
	return nil
}

func (r *doctorRepository) RecordConsultation(ctx context.Context, id uuid.UUID, durationMins int) error {
	if err := r.inner.RecordConsultation(ctx, id, durationMins); err != nil {
		return err
	}
	r.cache.Delete("doctor:" + id.String())
	return nil
}
