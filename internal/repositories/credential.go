package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/runfleet-io/runfleet/internal/db"
)

// gormCredentialRepository is the GORM implementation of CredentialRepository.
// Private key material goes through db.EncryptedString, so plaintext only
// exists in process memory on the read path.
type gormCredentialRepository struct {
	db *gorm.DB
}

// NewCredentialRepository returns a CredentialRepository backed by the provided *gorm.DB.
func NewCredentialRepository(db *gorm.DB) CredentialRepository {
	return &gormCredentialRepository{db: db}
}

// Create inserts a new credential. Names are unique; the key is encrypted
// on write by the EncryptedString valuer.
func (r *gormCredentialRepository) Create(ctx context.Context, cred *db.Credential) error {
	if cred.Name == "" {
		return fmt.Errorf("credentials: name must not be empty")
	}
	if cred.PrivateKey == "" {
		return fmt.Errorf("credentials: private key must not be empty")
	}
	if err := nameTaken(ctx, r.db, &db.Credential{}, cred.Name, uuid.Nil); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(cred).Error; err != nil {
		return fmt.Errorf("credentials: create: %w", err)
	}
	return nil
}

// GetByID retrieves a credential by its UUID. Returns ErrNotFound if no
// record exists. The private key field is decrypted by the scanner; when
// decryption fails the stored value is returned unchanged and the SSH key
// parser downstream rejects it.
func (r *gormCredentialRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.Credential, error) {
	var cred db.Credential
	err := r.db.WithContext(ctx).First(&cred, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("credentials: get by id: %w", err)
	}
	return &cred, nil
}

// Update persists an existing credential record, keeping the name unique.
func (r *gormCredentialRepository) Update(ctx context.Context, cred *db.Credential) error {
	if cred.Name == "" {
		return fmt.Errorf("credentials: name must not be empty")
	}
	if err := nameTaken(ctx, r.db, &db.Credential{}, cred.Name, cred.ID); err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Save(cred)
	if result.Error != nil {
		return fmt.Errorf("credentials: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a credential.
func (r *gormCredentialRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&db.Credential{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("credentials: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns a paginated list of credentials and the total count.
func (r *gormCredentialRepository) List(ctx context.Context, opts ListOptions) ([]db.Credential, int64, error) {
	var creds []db.Credential
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.Credential{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("credentials: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("name ASC").
		Find(&creds).Error; err != nil {
		return nil, 0, fmt.Errorf("credentials: list: %w", err)
	}

	return creds, total, nil
}
