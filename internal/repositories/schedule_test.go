package repositories

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/runfleet-io/runfleet/internal/db"
)

func mustCreateSchedule(t *testing.T, repo ScheduleRepository, name string, tmpl *db.Template, cred *db.Credential, hostIDs []uuid.UUID) *db.ScheduledJob {
	t.Helper()
	job := &db.ScheduledJob{
		Name:         name,
		Schedule:     "*/5 * * * *",
		TemplateID:   tmpl.ID,
		CredentialID: cred.ID,
		HostSet:      db.EncodeHostSet(hostIDs),
		Enabled:      true,
	}
	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("create schedule %q: %v", name, err)
	}
	return job
}

func TestScheduleHostSetRoundTrip(t *testing.T) {
	database := openTestDB(t)
	schedules := NewScheduleRepository(database)
	templates := NewTemplateRepository(database)
	hosts := NewHostRepository(database)
	creds := NewCredentialRepository(database)
	ctx := context.Background()

	tmpl := mustCreateTemplate(t, templates, "uptime")
	cred := mustCreateCredential(t, creds, "deploy-key")
	h1 := mustCreateHost(t, hosts, "h1")
	h2 := mustCreateHost(t, hosts, "h2")

	job := mustCreateSchedule(t, schedules, "sweep", tmpl, cred, []uuid.UUID{h1.ID, h2.ID})

	got, err := schedules.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	ids := got.HostIDs()
	if len(ids) != 2 || ids[0] != h1.ID || ids[1] != h2.ID {
		t.Errorf("host ids = %v, want [%s %s]", ids, h1.ID, h2.ID)
	}
}

func TestScheduleUpdateRunTimes(t *testing.T) {
	database := openTestDB(t)
	schedules := NewScheduleRepository(database)
	templates := NewTemplateRepository(database)
	creds := NewCredentialRepository(database)
	ctx := context.Background()

	tmpl := mustCreateTemplate(t, templates, "uptime")
	cred := mustCreateCredential(t, creds, "deploy-key")
	job := mustCreateSchedule(t, schedules, "sweep", tmpl, cred, nil)

	fired := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	next := fired.Add(5 * time.Minute)
	if err := schedules.UpdateRunTimes(ctx, job.ID, fired, &next); err != nil {
		t.Fatalf("UpdateRunTimes: %v", err)
	}

	got, err := schedules.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(fired) {
		t.Errorf("last_run_at = %v, want %v", got.LastRunAt, fired)
	}
	if got.NextRunAt == nil || !got.NextRunAt.Equal(next) {
		t.Errorf("next_run_at = %v, want %v", got.NextRunAt, next)
	}

	// Only the run times move; the rest of the row is untouched.
	if got.Name != "sweep" || got.Schedule != "*/5 * * * *" {
		t.Errorf("unrelated fields changed: %+v", got)
	}

	if err := schedules.UpdateRunTimes(ctx, uuid.New(), fired, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateRunTimes on missing id = %v, want ErrNotFound", err)
	}
}

func TestScheduleDeleteCascadesLogs(t *testing.T) {
	database := openTestDB(t)
	schedules := NewScheduleRepository(database)
	templates := NewTemplateRepository(database)
	creds := NewCredentialRepository(database)
	logs := NewHostLogStore(database)
	ctx := context.Background()

	tmpl := mustCreateTemplate(t, templates, "uptime")
	cred := mustCreateCredential(t, creds, "deploy-key")
	job := mustCreateSchedule(t, schedules, "sweep", tmpl, cred, nil)

	logID, err := logs.Begin(ctx, db.OwnerScheduled, job.ID, "h1.example.com")
	if err != nil {
		t.Fatalf("begin log: %v", err)
	}
	if err := logs.Finish(ctx, db.OwnerScheduled, logID, "ok", "", db.LogStatusSuccess); err != nil {
		t.Fatalf("finish log: %v", err)
	}

	if err := schedules.Delete(ctx, job.ID); err != nil {
		t.Fatalf("delete schedule: %v", err)
	}

	var count int64
	if err := database.Model(&db.ScheduleLog{}).Where("scheduled_job_id = ?", job.ID).Count(&count).Error; err != nil {
		t.Fatalf("count logs: %v", err)
	}
	if count != 0 {
		t.Errorf("schedule logs not cascaded, %d rows remain", count)
	}
}

func TestScheduleListLogsNewestFirst(t *testing.T) {
	database := openTestDB(t)
	schedules := NewScheduleRepository(database)
	templates := NewTemplateRepository(database)
	creds := NewCredentialRepository(database)
	ctx := context.Background()

	tmpl := mustCreateTemplate(t, templates, "uptime")
	cred := mustCreateCredential(t, creds, "deploy-key")
	job := mustCreateSchedule(t, schedules, "sweep", tmpl, cred, nil)

	base := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		row := &db.ScheduleLog{
			ScheduledJobID: job.ID,
			Hostname:       fmt.Sprintf("h%d", i),
			Status:         db.LogStatusSuccess,
		}
		row.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := database.WithContext(ctx).Create(row).Error; err != nil {
			t.Fatalf("create log row: %v", err)
		}
	}

	rows, total, err := schedules.ListLogs(ctx, job.ID, ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(rows) != 2 || rows[0].Hostname != "h2" || rows[1].Hostname != "h1" {
		t.Errorf("unexpected page order: %+v", rows)
	}
}

func TestScheduleTrimLogs(t *testing.T) {
	database := openTestDB(t)
	schedules := NewScheduleRepository(database)
	templates := NewTemplateRepository(database)
	creds := NewCredentialRepository(database)
	ctx := context.Background()

	tmpl := mustCreateTemplate(t, templates, "uptime")
	cred := mustCreateCredential(t, creds, "deploy-key")
	job := mustCreateSchedule(t, schedules, "sweep", tmpl, cred, nil)

	base := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		row := &db.ScheduleLog{
			ScheduledJobID: job.ID,
			Hostname:       fmt.Sprintf("h%d", i),
			Status:         db.LogStatusSuccess,
		}
		row.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := database.WithContext(ctx).Create(row).Error; err != nil {
			t.Fatalf("create log row: %v", err)
		}
	}

	// limit <= 0 keeps everything.
	deleted, err := schedules.TrimLogs(ctx, 0)
	if err != nil {
		t.Fatalf("TrimLogs(0): %v", err)
	}
	if deleted != 0 {
		t.Errorf("TrimLogs(0) deleted %d rows, want 0", deleted)
	}

	// Limit above the row count is a no-op as well.
	deleted, err = schedules.TrimLogs(ctx, 10)
	if err != nil {
		t.Fatalf("TrimLogs(10): %v", err)
	}
	if deleted != 0 {
		t.Errorf("TrimLogs(10) deleted %d rows, want 0", deleted)
	}

	// Trimming to 3 drops the two oldest rows.
	deleted, err = schedules.TrimLogs(ctx, 3)
	if err != nil {
		t.Fatalf("TrimLogs(3): %v", err)
	}
	if deleted != 2 {
		t.Errorf("TrimLogs(3) deleted %d rows, want 2", deleted)
	}

	rows, total, err := schedules.ListLogs(ctx, job.ID, ListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if total != 3 {
		t.Errorf("total after trim = %d, want 3", total)
	}
	for i, row := range rows {
		want := fmt.Sprintf("h%d", 4-i)
		if row.Hostname != want {
			t.Errorf("row %d hostname = %q, want %q", i, row.Hostname, want)
		}
	}
}

func TestHostLogFinishUnknownID(t *testing.T) {
	database := openTestDB(t)
	logs := NewHostLogStore(database)
	ctx := context.Background()

	err := logs.Finish(ctx, db.OwnerAdHoc, uuid.New(), "", "", db.LogStatusSuccess)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Finish unknown id = %v, want ErrNotFound", err)
	}
}

func TestUserLifecycle(t *testing.T) {
	database := openTestDB(t)
	users := NewUserRepository(database)
	ctx := context.Background()

	user := &db.User{
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: db.EncryptedString("salt:hash"),
		Role:         "admin",
	}
	if err := users.Create(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	if err := users.Create(ctx, &db.User{Username: "alice", PasswordHash: "x"}); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("duplicate username = %v, want ErrDuplicateName", err)
	}

	got, err := users.GetByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetByUsername: %v", err)
	}
	if got.ID != user.ID || got.Role != "admin" || string(got.PasswordHash) != "salt:hash" {
		t.Errorf("unexpected user: %+v", got)
	}
	if got.LastLoginAt != nil {
		t.Errorf("fresh user has last_login_at = %v", got.LastLoginAt)
	}

	at := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	if err := users.TouchLastLogin(ctx, user.ID, at); err != nil {
		t.Fatalf("TouchLastLogin: %v", err)
	}
	got, err = users.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.LastLoginAt == nil || !got.LastLoginAt.Equal(at) {
		t.Errorf("last_login_at = %v, want %v", got.LastLoginAt, at)
	}

	if _, err := users.GetByUsername(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing user = %v, want ErrNotFound", err)
	}
}
