package repositories

import (
	"context"
	"errors"
	"strconv"

	"gorm.io/gorm"

	"github.com/runfleet-io/runfleet/internal/db"
)

// gormSettingsRepository is the GORM-backed implementation of SettingsRepository.
type gormSettingsRepository struct {
	database *gorm.DB
}

// NewSettingsRepository creates a new SettingsRepository backed by GORM.
func NewSettingsRepository(database *gorm.DB) SettingsRepository {
	return &gormSettingsRepository{database: database}
}

// Get retrieves a single setting by its exact key.
func (r *gormSettingsRepository) Get(ctx context.Context, key string) (*db.Setting, error) {
	var s db.Setting
	err := r.database.WithContext(ctx).First(&s, "key = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// Set upserts a setting. On conflict (key already exists) the value and
// updated_at are overwritten. This avoids a read-before-write on every save.
func (r *gormSettingsRepository) Set(ctx context.Context, key string, value db.EncryptedString) error {
	s := db.Setting{Key: key, Value: value}
	return r.database.WithContext(ctx).Save(&s).Error
}

// Delete removes a setting by key. Silently succeeds if the key is absent
// (idempotent delete is the expected contract for configuration cleanup).
func (r *gormSettingsRepository) Delete(ctx context.Context, key string) error {
	return r.database.WithContext(ctx).Delete(&db.Setting{}, "key = ?", key).Error
}

// CronHistoryLimit reads the schedule log retention cap. An absent row,
// an empty value, or a value that does not parse as an integer all read
// as 0, which disables the retention sweep.
func (r *gormSettingsRepository) CronHistoryLimit(ctx context.Context) (int, error) {
	s, err := r.Get(ctx, SettingKeyCronHistoryLimit)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	limit, err := strconv.Atoi(string(s.Value))
	if err != nil || limit < 0 {
		return 0, nil
	}
	return limit, nil
}

// SetCronHistoryLimit stores the retention cap. Negative values are
// normalised to 0 (unbounded).
func (r *gormSettingsRepository) SetCronHistoryLimit(ctx context.Context, limit int) error {
	if limit < 0 {
		limit = 0
	}
	return r.Set(ctx, SettingKeyCronHistoryLimit, db.EncryptedString(strconv.Itoa(limit)))
}
