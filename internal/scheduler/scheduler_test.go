package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/runfleet-io/runfleet/internal/db"
	"github.com/runfleet-io/runfleet/internal/repositories"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	key, _ := db.DeriveKey("scheduler-test-key")
	if err := db.InitEncryption(key); err != nil {
		t.Fatalf("InitEncryption: %v", err)
	}

	database, err := db.New(db.Config{
		Driver:   "sqlite",
		DSN:      ":memory:",
		Logger:   zap.NewNop(),
		LogLevel: gormlogger.Silent,
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := database.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return database
}

// fakeFanOuter records fan-out invocations and writes per-host log rows
// the way the real engine would.
type fakeFanOuter struct {
	logs *repositories.HostLogStore

	mu    sync.Mutex
	calls [][]string
}

func (f *fakeFanOuter) FanOut(ctx context.Context, hosts []db.Host, cred *db.Credential, script, scriptType string, kind db.OwnerKind, ownerID uuid.UUID) {
	names := make([]string, 0, len(hosts))
	for _, h := range hosts {
		names = append(names, h.Hostname)
		if logID, err := f.logs.Begin(ctx, kind, ownerID, h.Hostname); err == nil {
			f.logs.Finish(ctx, kind, logID, "ok", "", db.LogStatusSuccess)
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, names)
	f.mu.Unlock()
}

func (f *fakeFanOuter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type schedFixture struct {
	sched     *Scheduler
	fanout    *fakeFanOuter
	schedules repositories.ScheduleRepository
	settings  repositories.SettingsRepository
	database  *gorm.DB

	job  *db.ScheduledJob
	host *db.Host
}

func newSchedFixture(t *testing.T) *schedFixture {
	t.Helper()
	database := openTestDB(t)
	ctx := context.Background()

	templates := repositories.NewTemplateRepository(database)
	hosts := repositories.NewHostRepository(database)
	credentials := repositories.NewCredentialRepository(database)
	schedules := repositories.NewScheduleRepository(database)
	settings := repositories.NewSettingsRepository(database)
	logs := repositories.NewHostLogStore(database)

	tmpl := &db.Template{Name: "uptime", Content: "uptime", ScriptType: db.ScriptTypeShell}
	if err := templates.Create(ctx, tmpl); err != nil {
		t.Fatalf("create template: %v", err)
	}
	cred := &db.Credential{Name: "deploy-key", PrivateKey: "fake"}
	if err := credentials.Create(ctx, cred); err != nil {
		t.Fatalf("create credential: %v", err)
	}
	host := &db.Host{Name: "h1", Hostname: "h1.example.com", Username: "deploy"}
	if err := hosts.Create(ctx, host); err != nil {
		t.Fatalf("create host: %v", err)
	}

	job := &db.ScheduledJob{
		Name:         "sweep",
		Schedule:     "*/5 * * * *",
		TemplateID:   tmpl.ID,
		CredentialID: cred.ID,
		HostSet:      db.EncodeHostSet([]uuid.UUID{host.ID}),
		Enabled:      true,
	}
	if err := schedules.Create(ctx, job); err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	fanout := &fakeFanOuter{logs: logs}
	sched, err := New(schedules, templates, hosts, credentials, settings, logs, fanout, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { sched.Stop() })

	return &schedFixture{
		sched:     sched,
		fanout:    fanout,
		schedules: schedules,
		settings:  settings,
		database:  database,
		job:       job,
		host:      host,
	}
}

func TestFireFansOutAndRecordsRunTimes(t *testing.T) {
	f := newSchedFixture(t)
	ctx := context.Background()

	f.sched.fire(f.job.ID)

	if got := f.fanout.callCount(); got != 1 {
		t.Fatalf("fan-out called %d times, want 1", got)
	}
	f.fanout.mu.Lock()
	hosts := f.fanout.calls[0]
	f.fanout.mu.Unlock()
	if len(hosts) != 1 || hosts[0] != "h1.example.com" {
		t.Errorf("fan-out hosts = %v, want [h1.example.com]", hosts)
	}

	job, err := f.schedules.GetByID(ctx, f.job.ID)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if job.LastRunAt == nil {
		t.Fatal("last_run_at not recorded")
	}
	if job.NextRunAt == nil {
		t.Fatal("next_run_at not recorded")
	}
	if !job.NextRunAt.After(*job.LastRunAt) {
		t.Errorf("next_run_at %v not after last_run_at %v", job.NextRunAt, job.LastRunAt)
	}

	logs, total, err := f.schedules.ListLogs(ctx, f.job.ID, repositories.ListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if total != 1 || logs[0].Status != db.LogStatusSuccess {
		t.Errorf("unexpected schedule logs: total=%d %+v", total, logs)
	}
}

func TestFireSkipsDisabledJob(t *testing.T) {
	f := newSchedFixture(t)
	ctx := context.Background()

	f.job.Enabled = false
	if err := f.schedules.Update(ctx, f.job); err != nil {
		t.Fatalf("disable schedule: %v", err)
	}

	f.sched.fire(f.job.ID)

	if got := f.fanout.callCount(); got != 0 {
		t.Errorf("fan-out called %d times for disabled job, want 0", got)
	}
	job, _ := f.schedules.GetByID(ctx, f.job.ID)
	if job.LastRunAt != nil {
		t.Error("run times recorded for skipped tick")
	}
}

func TestFireSkipsVanishedJob(t *testing.T) {
	f := newSchedFixture(t)

	f.sched.fire(uuid.New())

	if got := f.fanout.callCount(); got != 0 {
		t.Errorf("fan-out called %d times for unknown job, want 0", got)
	}
}

func TestFireSkipsWhileLockHeld(t *testing.T) {
	f := newSchedFixture(t)
	ctx := context.Background()

	if !f.sched.locks.tryAcquire(f.job.ID) {
		t.Fatal("could not pre-acquire lock")
	}
	defer f.sched.locks.release(f.job.ID)

	f.sched.fire(f.job.ID)

	if got := f.fanout.callCount(); got != 0 {
		t.Errorf("fan-out called %d times while lock held, want 0", got)
	}
	job, _ := f.schedules.GetByID(ctx, f.job.ID)
	if job.LastRunAt != nil {
		t.Error("run times recorded for dropped tick")
	}

	// The dropped tick must not have leaked the lock either way: once the
	// holder releases, the next fire proceeds.
	f.sched.locks.release(f.job.ID)
	f.sched.fire(f.job.ID)
	if got := f.fanout.callCount(); got != 1 {
		t.Errorf("fan-out called %d times after release, want 1", got)
	}
}

func TestFireRecordsDispatchFailureWhenHostSetEmpty(t *testing.T) {
	f := newSchedFixture(t)
	ctx := context.Background()

	// Freeze-at-save: the set still holds the id of a host that no longer
	// exists.
	f.job.HostSet = db.EncodeHostSet([]uuid.UUID{uuid.New()})
	if err := f.schedules.Update(ctx, f.job); err != nil {
		t.Fatalf("update schedule: %v", err)
	}

	f.sched.fire(f.job.ID)

	if got := f.fanout.callCount(); got != 0 {
		t.Errorf("fan-out called %d times, want 0", got)
	}
	logs, total, err := f.schedules.ListLogs(ctx, f.job.ID, repositories.ListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if total != 1 || logs[0].Hostname != "N/A" || logs[0].Status != db.LogStatusError {
		t.Errorf("synthetic log missing or wrong: total=%d %+v", total, logs)
	}
}

func TestFireSweepsHistory(t *testing.T) {
	f := newSchedFixture(t)
	ctx := context.Background()

	if err := f.settings.SetCronHistoryLimit(ctx, 2); err != nil {
		t.Fatalf("set retention limit: %v", err)
	}

	// Pre-existing history from earlier firings.
	base := time.Date(2026, 8, 26, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		row := &db.ScheduleLog{
			ScheduledJobID: f.job.ID,
			Hostname:       "h1.example.com",
			Status:         db.LogStatusSuccess,
		}
		row.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := f.database.WithContext(ctx).Create(row).Error; err != nil {
			t.Fatalf("create log row: %v", err)
		}
	}

	f.sched.fire(f.job.ID)

	_, total, err := f.schedules.ListLogs(ctx, f.job.ID, repositories.ListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if total != 2 {
		t.Errorf("history rows after sweep = %d, want 2", total)
	}
}

func TestAddReplacesExistingTrigger(t *testing.T) {
	f := newSchedFixture(t)

	// Installing the same job again must replace the previous trigger, not
	// stack a second one next to it.
	if err := f.sched.Add(f.job); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if err := f.sched.Add(f.job); err != nil {
		t.Fatalf("second Add: %v", err)
	}

	tag := f.job.ID.String()
	var entries int
	for _, j := range f.sched.cron.Jobs() {
		for _, jt := range j.Tags() {
			if jt == tag {
				entries++
			}
		}
	}
	if entries != 1 {
		t.Errorf("gocron entries tagged %s = %d, want exactly 1", tag, entries)
	}
}

func TestUpdateDisabledRemovesTrigger(t *testing.T) {
	f := newSchedFixture(t)
	ctx := context.Background()

	if err := f.sched.Add(f.job); err != nil {
		t.Fatalf("Add: %v", err)
	}
	f.job.Enabled = false
	if err := f.schedules.Update(ctx, f.job); err != nil {
		t.Fatalf("persist disable: %v", err)
	}
	if err := f.sched.Update(f.job); err != nil {
		t.Fatalf("Update: %v", err)
	}

	tag := f.job.ID.String()
	for _, j := range f.sched.cron.Jobs() {
		for _, jt := range j.Tags() {
			if jt == tag {
				t.Fatalf("disabled job still has a live trigger")
			}
		}
	}
}
