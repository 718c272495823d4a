package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/runfleet-io/runfleet/internal/db"
)

// gormTemplateRepository is the GORM implementation of TemplateRepository.
type gormTemplateRepository struct {
	db *gorm.DB
}

// NewTemplateRepository returns a TemplateRepository backed by the provided *gorm.DB.
func NewTemplateRepository(db *gorm.DB) TemplateRepository {
	return &gormTemplateRepository{db: db}
}

// Create inserts a new template. The name must be non-empty and unique;
// the uniqueness check runs before the insert so the caller gets a
// structured ErrDuplicateName instead of a driver-specific constraint error.
func (r *gormTemplateRepository) Create(ctx context.Context, tmpl *db.Template) error {
	if tmpl.Name == "" {
		return fmt.Errorf("templates: name must not be empty")
	}
	if err := nameTaken(ctx, r.db, &db.Template{}, tmpl.Name, uuid.Nil); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(tmpl).Error; err != nil {
		return fmt.Errorf("templates: create: %w", err)
	}
	return nil
}

// GetByID retrieves a template by its UUID. Returns ErrNotFound if no record exists.
func (r *gormTemplateRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.Template, error) {
	var tmpl db.Template
	err := r.db.WithContext(ctx).First(&tmpl, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("templates: get by id: %w", err)
	}
	return &tmpl, nil
}

// Update persists all fields of an existing template record.
func (r *gormTemplateRepository) Update(ctx context.Context, tmpl *db.Template) error {
	if tmpl.Name == "" {
		return fmt.Errorf("templates: name must not be empty")
	}
	if err := nameTaken(ctx, r.db, &db.Template{}, tmpl.Name, tmpl.ID); err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Save(tmpl)
	if result.Error != nil {
		return fmt.Errorf("templates: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a template. When scheduled jobs still reference it the
// delete is refused with an *InUseError naming every dependent, so the
// caller can surface the full list to the operator.
func (r *gormTemplateRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tmpl, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	var dependents []string
	if err := r.db.WithContext(ctx).
		Model(&db.ScheduledJob{}).
		Where("template_id = ?", id).
		Pluck("name", &dependents).Error; err != nil {
		return fmt.Errorf("templates: check dependents: %w", err)
	}
	if len(dependents) > 0 {
		return &InUseError{Resource: "template", Name: tmpl.Name, Dependents: dependents}
	}

	if err := r.db.WithContext(ctx).Delete(&db.Template{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("templates: delete: %w", err)
	}
	return nil
}

// List returns a paginated list of templates and the total count,
// ordered by name ascending.
func (r *gormTemplateRepository) List(ctx context.Context, opts ListOptions) ([]db.Template, int64, error) {
	var templates []db.Template
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.Template{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("templates: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("name ASC").
		Find(&templates).Error; err != nil {
		return nil, 0, fmt.Errorf("templates: list: %w", err)
	}

	return templates, total, nil
}

// nameTaken reports ErrDuplicateName when another record of the given model
// already holds the name. exclude is the id of the record being updated, so
// a record may keep its own name; pass uuid.Nil on create.
func nameTaken(ctx context.Context, database *gorm.DB, model any, name string, exclude uuid.UUID) error {
	var count int64
	q := database.WithContext(ctx).Model(model).Where("name = ?", name)
	if exclude != uuid.Nil {
		q = q.Where("id <> ?", exclude)
	}
	if err := q.Count(&count).Error; err != nil {
		return fmt.Errorf("name check: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("name %q: %w", name, ErrDuplicateName)
	}
	return nil
}
