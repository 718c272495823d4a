package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/runfleet-io/runfleet/internal/db"
)

// gormGroupRepository is the GORM implementation of GroupRepository.
type gormGroupRepository struct {
	db *gorm.DB
}

// NewGroupRepository returns a GroupRepository backed by the provided *gorm.DB.
func NewGroupRepository(db *gorm.DB) GroupRepository {
	return &gormGroupRepository{db: db}
}

// Create inserts a new host group. Group names are unique.
func (r *gormGroupRepository) Create(ctx context.Context, group *db.HostGroup) error {
	if group.Name == "" {
		return fmt.Errorf("groups: name must not be empty")
	}
	if err := nameTaken(ctx, r.db, &db.HostGroup{}, group.Name, uuid.Nil); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(group).Error; err != nil {
		return fmt.Errorf("groups: create: %w", err)
	}
	return nil
}

// GetByID retrieves a group by its UUID. Returns ErrNotFound if no record exists.
func (r *gormGroupRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.HostGroup, error) {
	var group db.HostGroup
	err := r.db.WithContext(ctx).First(&group, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("groups: get by id: %w", err)
	}
	return &group, nil
}

// Update persists an existing group record, keeping the name unique.
func (r *gormGroupRepository) Update(ctx context.Context, group *db.HostGroup) error {
	if group.Name == "" {
		return fmt.Errorf("groups: name must not be empty")
	}
	if err := nameTaken(ctx, r.db, &db.HostGroup{}, group.Name, group.ID); err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Save(group)
	if result.Error != nil {
		return fmt.Errorf("groups: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a group and its membership rows. Hosts are untouched.
func (r *gormGroupRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&db.HostGroup{}, "id = ?", id)
		if result.Error != nil {
			return fmt.Errorf("groups: delete: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Delete(&db.HostGroupMember{}, "group_id = ?", id).Error; err != nil {
			return fmt.Errorf("groups: delete memberships: %w", err)
		}
		return nil
	})
}

// List returns a paginated list of groups and the total count.
func (r *gormGroupRepository) List(ctx context.Context, opts ListOptions) ([]db.HostGroup, int64, error) {
	var groups []db.HostGroup
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.HostGroup{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("groups: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("name ASC").
		Find(&groups).Error; err != nil {
		return nil, 0, fmt.Errorf("groups: list: %w", err)
	}

	return groups, total, nil
}

// AddMember links a host into a group. Re-adding an existing member is a
// no-op thanks to the unique (host_id, group_id) index and DoNothing.
func (r *gormGroupRepository) AddMember(ctx context.Context, groupID, hostID uuid.UUID) error {
	member := db.HostGroupMember{GroupID: groupID, HostID: hostID}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&member).Error; err != nil {
		return fmt.Errorf("groups: add member: %w", err)
	}
	return nil
}

// RemoveMember unlinks a host from a group. Removing an absent member
// silently succeeds.
func (r *gormGroupRepository) RemoveMember(ctx context.Context, groupID, hostID uuid.UUID) error {
	if err := r.db.WithContext(ctx).
		Delete(&db.HostGroupMember{}, "group_id = ? AND host_id = ?", groupID, hostID).Error; err != nil {
		return fmt.Errorf("groups: remove member: %w", err)
	}
	return nil
}

// MemberIDs returns the deduplicated host id set of a group.
func (r *gormGroupRepository) MemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&db.HostGroupMember{}).
		Where("group_id = ?", groupID).
		Distinct().
		Pluck("host_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("groups: member ids: %w", err)
	}
	return ids, nil
}
