package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/runfleet-io/runfleet/internal/db"
)

// HostLogStore writes per-host execution logs for both owners of the shared
// log shape: ad-hoc jobs (job_logs) and scheduled jobs (schedule_logs).
// The SSH executor talks to this store and never sees the two tables.
//
// Lifecycle contract: Begin creates the row with status "running"; Finish
// commits the terminal state exactly once. Rows are only ever removed by
// the retention sweep or an owner cascade.
type HostLogStore struct {
	db *gorm.DB
}

// NewHostLogStore returns a HostLogStore backed by the provided *gorm.DB.
func NewHostLogStore(db *gorm.DB) *HostLogStore {
	return &HostLogStore{db: db}
}

// Begin creates a running log row bound to the owner and returns its id.
func (s *HostLogStore) Begin(ctx context.Context, kind db.OwnerKind, ownerID uuid.UUID, hostname string) (uuid.UUID, error) {
	switch kind {
	case db.OwnerAdHoc:
		row := db.JobLog{JobID: ownerID, Hostname: hostname, Status: db.LogStatusRunning}
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			return uuid.Nil, fmt.Errorf("hostlogs: begin job log: %w", err)
		}
		return row.ID, nil

	case db.OwnerScheduled:
		row := db.ScheduleLog{ScheduledJobID: ownerID, Hostname: hostname, Status: db.LogStatusRunning}
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			return uuid.Nil, fmt.Errorf("hostlogs: begin schedule log: %w", err)
		}
		return row.ID, nil
	}
	return uuid.Nil, fmt.Errorf("hostlogs: unknown owner kind %q", kind)
}

// Finish writes the terminal state of a log row in a single update.
func (s *HostLogStore) Finish(ctx context.Context, kind db.OwnerKind, logID uuid.UUID, stdout, stderr, status string) error {
	updates := map[string]interface{}{
		"stdout": stdout,
		"stderr": stderr,
		"status": status,
	}

	var result *gorm.DB
	switch kind {
	case db.OwnerAdHoc:
		result = s.db.WithContext(ctx).Model(&db.JobLog{}).Where("id = ?", logID).Updates(updates)
	case db.OwnerScheduled:
		result = s.db.WithContext(ctx).Model(&db.ScheduleLog{}).Where("id = ?", logID).Updates(updates)
	default:
		return fmt.Errorf("hostlogs: unknown owner kind %q", kind)
	}

	if result.Error != nil {
		return fmt.Errorf("hostlogs: finish: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
