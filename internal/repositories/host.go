package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/runfleet-io/runfleet/internal/db"
)

// gormHostRepository is the GORM implementation of HostRepository.
type gormHostRepository struct {
	db *gorm.DB
}

// NewHostRepository returns a HostRepository backed by the provided *gorm.DB.
func NewHostRepository(db *gorm.DB) HostRepository {
	return &gormHostRepository{db: db}
}

// Create inserts a new host record. Port and shell defaults are applied by
// the model's BeforeSave hook.
func (r *gormHostRepository) Create(ctx context.Context, host *db.Host) error {
	if host.Hostname == "" {
		return fmt.Errorf("hosts: hostname must not be empty")
	}
	if host.Username == "" {
		return fmt.Errorf("hosts: username must not be empty")
	}
	if err := r.db.WithContext(ctx).Create(host).Error; err != nil {
		return fmt.Errorf("hosts: create: %w", err)
	}
	return nil
}

// GetByID retrieves a host by its UUID. Returns ErrNotFound if no record exists.
func (r *gormHostRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.Host, error) {
	var host db.Host
	err := r.db.WithContext(ctx).First(&host, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("hosts: get by id: %w", err)
	}
	return &host, nil
}

// GetByIDs retrieves every host whose id appears in ids. Missing ids are
// silently skipped — frozen scheduled-job targets may reference hosts that
// have since been deleted, and those become no-op targets.
func (r *gormHostRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]db.Host, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var hosts []db.Host
	if err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&hosts).Error; err != nil {
		return nil, fmt.Errorf("hosts: get by ids: %w", err)
	}
	return hosts, nil
}

// Update persists all fields of an existing host record.
func (r *gormHostRepository) Update(ctx context.Context, host *db.Host) error {
	result := r.db.WithContext(ctx).Save(host)
	if result.Error != nil {
		return fmt.Errorf("hosts: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a host and cascades only its group membership rows.
// Scheduled jobs that froze the id keep it; the id simply stops resolving.
func (r *gormHostRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&db.Host{}, "id = ?", id)
		if result.Error != nil {
			return fmt.Errorf("hosts: delete: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Delete(&db.HostGroupMember{}, "host_id = ?", id).Error; err != nil {
			return fmt.Errorf("hosts: delete memberships: %w", err)
		}
		return nil
	})
}

// List returns a paginated list of hosts and the total count,
// ordered by name ascending.
func (r *gormHostRepository) List(ctx context.Context, opts ListOptions) ([]db.Host, int64, error) {
	var hosts []db.Host
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.Host{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("hosts: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("name ASC").
		Find(&hosts).Error; err != nil {
		return nil, 0, fmt.Errorf("hosts: list: %w", err)
	}

	return hosts, total, nil
}
