package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/runfleet-io/runfleet/internal/db"
)

// gormScheduleRepository is the GORM implementation of ScheduleRepository.
type gormScheduleRepository struct {
	db *gorm.DB
}

// NewScheduleRepository returns a ScheduleRepository backed by the provided *gorm.DB.
func NewScheduleRepository(db *gorm.DB) ScheduleRepository {
	return &gormScheduleRepository{db: db}
}

// Create inserts a new scheduled job. Names are unique; the cron expression
// is expected to be validated by the caller before the row is persisted.
func (r *gormScheduleRepository) Create(ctx context.Context, job *db.ScheduledJob) error {
	if job.Name == "" {
		return fmt.Errorf("schedules: name must not be empty")
	}
	if err := nameTaken(ctx, r.db, &db.ScheduledJob{}, job.Name, uuid.Nil); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("schedules: create: %w", err)
	}
	return nil
}

// GetByID retrieves a scheduled job by its UUID. Returns ErrNotFound if no
// record exists.
func (r *gormScheduleRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.ScheduledJob, error) {
	var job db.ScheduledJob
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("schedules: get by id: %w", err)
	}
	return &job, nil
}

// Update persists all fields of an existing scheduled job record.
func (r *gormScheduleRepository) Update(ctx context.Context, job *db.ScheduledJob) error {
	if job.Name == "" {
		return fmt.Errorf("schedules: name must not be empty")
	}
	if err := nameTaken(ctx, r.db, &db.ScheduledJob{}, job.Name, job.ID); err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Save(job)
	if result.Error != nil {
		return fmt.Errorf("schedules: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a scheduled job and cascades its schedule logs.
// The caller is responsible for removing the in-memory trigger.
func (r *gormScheduleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&db.ScheduledJob{}, "id = ?", id)
		if result.Error != nil {
			return fmt.Errorf("schedules: delete: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Delete(&db.ScheduleLog{}, "scheduled_job_id = ?", id).Error; err != nil {
			return fmt.Errorf("schedules: delete logs: %w", err)
		}
		return nil
	})
}

// List returns a paginated list of scheduled jobs and the total count.
func (r *gormScheduleRepository) List(ctx context.Context, opts ListOptions) ([]db.ScheduledJob, int64, error) {
	var jobs []db.ScheduledJob
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.ScheduledJob{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("schedules: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("name ASC").
		Find(&jobs).Error; err != nil {
		return nil, 0, fmt.Errorf("schedules: list: %w", err)
	}

	return jobs, total, nil
}

// ListEnabled returns every scheduled job with enabled=true. Used by the
// scheduler at startup to install the trigger set.
func (r *gormScheduleRepository) ListEnabled(ctx context.Context) ([]db.ScheduledJob, error) {
	var jobs []db.ScheduledJob
	if err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("schedules: list enabled: %w", err)
	}
	return jobs, nil
}

// UpdateRunTimes records the firing instant and the advisory next run.
// Only those two columns are touched so a concurrent edit of the job row
// is not overwritten.
func (r *gormScheduleRepository) UpdateRunTimes(ctx context.Context, id uuid.UUID, lastRunAt time.Time, nextRunAt *time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&db.ScheduledJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_run_at": lastRunAt,
			"next_run_at": nextRunAt,
		})
	if result.Error != nil {
		return fmt.Errorf("schedules: update run times: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListLogs returns the cron execution history of a scheduled job, newest
// first, plus the total count.
func (r *gormScheduleRepository) ListLogs(ctx context.Context, scheduledJobID uuid.UUID, opts ListOptions) ([]db.ScheduleLog, int64, error) {
	var logs []db.ScheduleLog
	var total int64

	if err := r.db.WithContext(ctx).
		Model(&db.ScheduleLog{}).
		Where("scheduled_job_id = ?", scheduledJobID).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("schedules: list logs count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Where("scheduled_job_id = ?", scheduledJobID).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at DESC").
		Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("schedules: list logs: %w", err)
	}

	return logs, total, nil
}

// TrimLogs deletes the oldest schedule log rows so at most limit remain.
// The whole sweep is one bulk DELETE so it commits atomically; a limit of
// zero or less disables retention entirely. Ad-hoc job logs are never
// touched here.
func (r *gormScheduleRepository) TrimLogs(ctx context.Context, limit int) (int64, error) {
	if limit <= 0 {
		return 0, nil
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&db.ScheduleLog{}).Count(&total).Error; err != nil {
		return 0, fmt.Errorf("schedules: trim count: %w", err)
	}
	if total <= int64(limit) {
		return 0, nil
	}

	result := r.db.WithContext(ctx).Exec(
		`DELETE FROM schedule_logs WHERE id NOT IN (
			SELECT id FROM schedule_logs ORDER BY created_at DESC, id DESC LIMIT ?
		)`, limit)
	if result.Error != nil {
		return 0, fmt.Errorf("schedules: trim logs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
