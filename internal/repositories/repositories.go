// Package repositories contains the persistence layer of the Runfleet
// server. Each entity gets an interface plus a GORM-backed implementation;
// every operation takes an explicit context and returns sentinel errors
// (ErrNotFound, ErrDuplicateName, *InUseError) that callers inspect with
// errors.Is / errors.As. No repository relies on ambient global state —
// the *gorm.DB handle is injected at construction time.
package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/runfleet-io/runfleet/internal/db"
)

// ListOptions contains common pagination options for list queries.
type ListOptions struct {
	Limit  int
	Offset int
}

// -----------------------------------------------------------------------------
// TemplateRepository
// -----------------------------------------------------------------------------

type TemplateRepository interface {
	Create(ctx context.Context, tmpl *db.Template) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.Template, error)
	Update(ctx context.Context, tmpl *db.Template) error

	// Delete refuses with *InUseError when any scheduled job still
	// references the template; the error lists the dependents by name.
	Delete(ctx context.Context, id uuid.UUID) error

	List(ctx context.Context, opts ListOptions) ([]db.Template, int64, error)
}

// -----------------------------------------------------------------------------
// HostRepository
// -----------------------------------------------------------------------------

type HostRepository interface {
	Create(ctx context.Context, host *db.Host) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.Host, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]db.Host, error)
	Update(ctx context.Context, host *db.Host) error

	// Delete removes the host and its group memberships. Scheduled jobs
	// holding the id in a frozen host set are left untouched — the id
	// simply stops resolving.
	Delete(ctx context.Context, id uuid.UUID) error

	List(ctx context.Context, opts ListOptions) ([]db.Host, int64, error)
}

// -----------------------------------------------------------------------------
// GroupRepository
// -----------------------------------------------------------------------------

type GroupRepository interface {
	Create(ctx context.Context, group *db.HostGroup) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.HostGroup, error)
	Update(ctx context.Context, group *db.HostGroup) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, opts ListOptions) ([]db.HostGroup, int64, error)

	// Membership. AddMember is idempotent; MemberIDs returns the
	// deduplicated host id set of the group.
	AddMember(ctx context.Context, groupID, hostID uuid.UUID) error
	RemoveMember(ctx context.Context, groupID, hostID uuid.UUID) error
	MemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
}

// -----------------------------------------------------------------------------
// CredentialRepository
// -----------------------------------------------------------------------------

type CredentialRepository interface {
	Create(ctx context.Context, cred *db.Credential) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.Credential, error)
	Update(ctx context.Context, cred *db.Credential) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, opts ListOptions) ([]db.Credential, int64, error)
}

// -----------------------------------------------------------------------------
// ScheduleRepository
// -----------------------------------------------------------------------------

type ScheduleRepository interface {
	Create(ctx context.Context, job *db.ScheduledJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.ScheduledJob, error)
	Update(ctx context.Context, job *db.ScheduledJob) error

	// Delete removes the scheduled job and cascades its schedule logs.
	Delete(ctx context.Context, id uuid.UUID) error

	List(ctx context.Context, opts ListOptions) ([]db.ScheduledJob, int64, error)
	ListEnabled(ctx context.Context) ([]db.ScheduledJob, error)
	UpdateRunTimes(ctx context.Context, id uuid.UUID, lastRunAt time.Time, nextRunAt *time.Time) error

	// History access to the cron-owned logs.
	ListLogs(ctx context.Context, scheduledJobID uuid.UUID, opts ListOptions) ([]db.ScheduleLog, int64, error)

	// TrimLogs enforces the history retention cap: when more than limit
	// schedule log rows exist it deletes the oldest so exactly limit
	// remain, in a single bulk statement. limit <= 0 is a no-op.
	TrimLogs(ctx context.Context, limit int) (int64, error)
}

// -----------------------------------------------------------------------------
// JobRepository (ad-hoc jobs and their host logs)
// -----------------------------------------------------------------------------

type JobRepository interface {
	Create(ctx context.Context, job *db.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.Job, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error

	// Delete removes the job and cascades its host logs.
	Delete(ctx context.Context, id uuid.UUID) error

	List(ctx context.Context, opts ListOptions) ([]db.Job, int64, error)
	GetLogs(ctx context.Context, jobID uuid.UUID) ([]db.JobLog, error)
}

// -----------------------------------------------------------------------------
// SettingsRepository
// -----------------------------------------------------------------------------

// SettingKeyCronHistoryLimit stores the schedule log retention cap.
// 0 (or absent) means unbounded history.
const SettingKeyCronHistoryLimit = "cron.history_limit"

type SettingsRepository interface {
	Get(ctx context.Context, key string) (*db.Setting, error)
	Set(ctx context.Context, key string, value db.EncryptedString) error
	Delete(ctx context.Context, key string) error

	// CronHistoryLimit is the typed accessor for the retention cap.
	// An absent or malformed setting reads as 0 (unbounded).
	CronHistoryLimit(ctx context.Context) (int, error)
	SetCronHistoryLimit(ctx context.Context, limit int) error
}

// -----------------------------------------------------------------------------
// UserRepository
// -----------------------------------------------------------------------------

type UserRepository interface {
	Create(ctx context.Context, user *db.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.User, error)
	GetByUsername(ctx context.Context, username string) (*db.User, error)
	Update(ctx context.Context, user *db.User) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, opts ListOptions) ([]db.User, int64, error)
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}
