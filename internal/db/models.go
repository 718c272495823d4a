package db

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Host log statuses. Running is observable only while an execution is in
// flight; every terminal row carries one of the other three values.
const (
	LogStatusRunning          = "running"
	LogStatusSuccess          = "success"
	LogStatusError            = "error"
	LogStatusConnectionFailed = "connection_failed"
)

// Ad-hoc job statuses.
const (
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusError     = "error"
)

// Template script types.
const (
	ScriptTypeShell       = "shell"
	ScriptTypeInterpreted = "interpreted"
)

// DefaultShell is applied to hosts persisted without an explicit shell.
const DefaultShell = "/bin/bash"

// OwnerKind selects which host log flavour an execution writes to.
type OwnerKind string

const (
	OwnerAdHoc     OwnerKind = "job"      // log rows land in job_logs
	OwnerScheduled OwnerKind = "schedule" // log rows land in schedule_logs
)

// Base contains the common fields shared by all models.
// ID uses UUID v7 (time-ordered) for efficient B-tree indexing and natural
// chronological ordering without a separate created_at sort. CreatedAt and
// UpdatedAt are managed automatically by GORM.
type Base struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a new UUID v7 if the ID is not already set.
func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// -----------------------------------------------------------------------------
// Templates
// -----------------------------------------------------------------------------

// Template is a named script body plus its interpreter category.
// ScriptType "shell" runs the body through the target host's configured
// shell; "interpreted" feeds it to a fixed interpreter reading from stdin.
// Arguments is an opaque JSON document describing expected parameters —
// the engine never interprets it, it exists for the UI.
type Template struct {
	Base
	Name       string `gorm:"uniqueIndex;not null"`
	Content    string `gorm:"type:text;not null"`
	ScriptType string `gorm:"not null;default:'shell'"`
	Arguments  string `gorm:"type:text;default:'{}'"`
}

// -----------------------------------------------------------------------------
// Hosts & Groups
// -----------------------------------------------------------------------------

// Host is a reachable SSH endpoint. Shell defaults to /bin/bash at
// persistence time so shell-type templates always have an interpreter.
type Host struct {
	Base
	Name     string `gorm:"not null"`
	Hostname string `gorm:"not null"` // IP or FQDN
	Username string `gorm:"not null"`
	Port     int    `gorm:"not null;default:22"`
	Shell    string `gorm:"not null;default:'/bin/bash'"`
}

// BeforeSave applies the port and shell defaults. GORM column defaults only
// cover raw inserts; this keeps rows written through Save consistent too.
func (h *Host) BeforeSave(tx *gorm.DB) error {
	if h.Port == 0 {
		h.Port = 22
	}
	if h.Shell == "" {
		h.Shell = DefaultShell
	}
	return nil
}

// HostGroup is a named set of hosts. Membership lives in HostGroupMember.
type HostGroup struct {
	Base
	Name string `gorm:"uniqueIndex;not null"`
}

// HostGroupMember is the pure association table between hosts and groups.
// It carries no payload; insertion order is irrelevant.
type HostGroupMember struct {
	Base
	HostID  uuid.UUID `gorm:"type:text;not null;index"`
	GroupID uuid.UUID `gorm:"type:text;not null;index"`
}

// -----------------------------------------------------------------------------
// Credentials
// -----------------------------------------------------------------------------

// Credential is a named SSH private key. The key material is AES-256-GCM
// encrypted at rest via EncryptedString and only materialised in memory for
// the duration of a connection attempt.
type Credential struct {
	Base
	Name       string          `gorm:"uniqueIndex;not null"`
	PrivateKey EncryptedString `gorm:"type:text;not null"`
}

// -----------------------------------------------------------------------------
// Scheduled jobs
// -----------------------------------------------------------------------------

// ScheduledJob is a recurring execution bound to a 5-field cron expression.
// HostSet is the target frozen at save time as a comma-separated list of
// host UUIDs; later group membership changes do not re-resolve it.
type ScheduledJob struct {
	Base
	Name         string    `gorm:"uniqueIndex;not null"`
	Schedule     string    `gorm:"not null"` // cron expression, validated at save
	TemplateID   uuid.UUID `gorm:"type:text;not null;index"`
	CredentialID uuid.UUID `gorm:"type:text;not null"`
	HostSet      string    `gorm:"type:text;not null"`
	Enabled      bool      `gorm:"not null;default:true;index"`
	LastRunAt    *time.Time
	NextRunAt    *time.Time // advisory
}

// HostIDs decodes the frozen host set. Malformed entries are skipped —
// a host deleted after save simply becomes a no-op target.
func (s *ScheduledJob) HostIDs() []uuid.UUID {
	if s.HostSet == "" {
		return nil
	}
	parts := strings.Split(s.HostSet, ",")
	ids := make([]uuid.UUID, 0, len(parts))
	for _, p := range parts {
		id, err := uuid.Parse(strings.TrimSpace(p))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// EncodeHostSet freezes a resolved host id list into the stored form.
func EncodeHostSet(ids []uuid.UUID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ",")
}

// -----------------------------------------------------------------------------
// Ad-hoc jobs & host logs
// -----------------------------------------------------------------------------

// Job is one user-initiated execution of a template over a target set.
// TemplateName is a snapshot copy so the job history survives template
// deletion or renaming. Status transitions: running -> completed | failed,
// or error when dispatch itself aborts.
type Job struct {
	Base
	TemplateName string `gorm:"not null"`
	Status       string `gorm:"not null;default:'running';index"`
}

// JobLog is the terminal record of one script invocation on one host,
// owned by an ad-hoc Job. Created in "running" and finalised exactly once.
type JobLog struct {
	Base
	JobID    uuid.UUID `gorm:"type:text;not null;index"`
	Hostname string    `gorm:"not null"`
	Stdout   string    `gorm:"type:text;default:''"`
	Stderr   string    `gorm:"type:text;default:''"`
	Status   string    `gorm:"not null;default:'running';index"`
}

// ScheduleLog is the cron-owned flavour of the host log. Same shape as
// JobLog; kept as a separate table so the retention sweep can trim cron
// history without touching ad-hoc logs.
type ScheduleLog struct {
	Base
	ScheduledJobID uuid.UUID `gorm:"type:text;not null;index"`
	Hostname       string    `gorm:"not null"`
	Stdout         string    `gorm:"type:text;default:''"`
	Stderr         string    `gorm:"type:text;default:''"`
	Status         string    `gorm:"not null;default:'running';index"`
}

// -----------------------------------------------------------------------------
// Settings
// -----------------------------------------------------------------------------

// Setting is a generic key-value configuration entry stored in the database.
// Keys are namespaced by convention (e.g. "cron.history_limit"). Sensitive
// values are encrypted at the application layer via EncryptedString.
//
// Setting does not embed Base because it uses a string primary key (the key
// itself) rather than a UUID, and does not need CreatedAt.
type Setting struct {
	Key       string          `gorm:"primaryKey"`
	Value     EncryptedString `gorm:"type:text;not null"`
	UpdatedAt time.Time       `gorm:"not null;autoUpdateTime"`
}

// -----------------------------------------------------------------------------
// Users
// -----------------------------------------------------------------------------

// User is a local operator account. PasswordHash holds an Argon2id hash
// (salted, never the raw password) and is additionally encrypted at rest.
type User struct {
	Base
	Username     string          `gorm:"uniqueIndex;not null"`
	Email        string          `gorm:"default:''"`
	PasswordHash EncryptedString `gorm:"type:text;not null"`
	Role         string          `gorm:"not null;default:'user'"` // "admin" or "user"
	LastLoginAt  *time.Time
}
