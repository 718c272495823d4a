package runner

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/runfleet-io/runfleet/internal/db"
	"github.com/runfleet-io/runfleet/internal/executor"
	"github.com/runfleet-io/runfleet/internal/repositories"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	key, _ := db.DeriveKey("runner-test-key")
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

// fakeExecutor records which hosts it was asked to run on and writes the
// log rows a real execution would, with a fixed outcome.
type fakeExecutor struct {
	logs   *repositories.HostLogStore
	status string

	mu    sync.Mutex
	hosts []string
}

func (f *fakeExecutor) Execute(ctx context.Context, host *db.Host, cred *db.Credential, script, scriptType string, kind db.OwnerKind, ownerID uuid.UUID) (*executor.Result, error) {
	f.mu.Lock()
	f.hosts = append(f.hosts, host.Hostname)
	f.mu.Unlock()

	logID, err := f.logs.Begin(ctx, kind, ownerID, host.Hostname)
	if err != nil {
		return nil, err
	}
	if err := f.logs.Finish(ctx, kind, logID, "out", "", f.status); err != nil {
		return nil, err
	}
	return &executor.Result{LogID: logID, Status: f.status, Stdout: "out"}, nil
}

func (f *fakeExecutor) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.hosts...)
}

type fixture struct {
	runner      *Runner
	exec        *fakeExecutor
	templates   repositories.TemplateRepository
	hosts       repositories.HostRepository
	groups      repositories.GroupRepository
	credentials repositories.CredentialRepository
	jobs        repositories.JobRepository
}

func newFixture(t *testing.T, status string) *fixture {
	t.Helper()
	database := openTestDB(t)

	f := &fixture{
		templates:   repositories.NewTemplateRepository(database),
		hosts:       repositories.NewHostRepository(database),
		groups:      repositories.NewGroupRepository(database),
		credentials: repositories.NewCredentialRepository(database),
		jobs:        repositories.NewJobRepository(database),
	}
	logs := repositories.NewHostLogStore(database)
	f.exec = &fakeExecutor{logs: logs, status: status}
	f.runner = New(f.templates, f.hosts, f.groups, f.credentials, f.jobs, logs, f.exec, zap.NewNop())
	return f
}

func (f *fixture) seed(t *testing.T) (*db.Template, *db.Credential) {
	t.Helper()
	ctx := context.Background()
	tmpl := &db.Template{Name: "uptime", Content: "uptime", ScriptType: db.ScriptTypeShell}
	if err := f.templates.Create(ctx, tmpl); err != nil {
		t.Fatalf("create template: %v", err)
	}
	cred := &db.Credential{Name: "deploy-key", PrivateKey: "fake"}
	if err := f.credentials.Create(ctx, cred); err != nil {
		t.Fatalf("create credential: %v", err)
	}
	return tmpl, cred
}

func (f *fixture) seedHost(t *testing.T, name string) *db.Host {
	t.Helper()
	host := &db.Host{Name: name, Hostname: name + ".example.com", Username: "deploy"}
	if err := f.hosts.Create(context.Background(), host); err != nil {
		t.Fatalf("create host: %v", err)
	}
	return host
}

func TestRunFansOutToDeduplicatedTargets(t *testing.T) {
	f := newFixture(t, db.LogStatusSuccess)
	ctx := context.Background()
	tmpl, cred := f.seed(t)

	h1 := f.seedHost(t, "h1")
	h2 := f.seedHost(t, "h2")
	group := &db.HostGroup{Name: "web"}
	if err := f.groups.Create(ctx, group); err != nil {
		t.Fatalf("create group: %v", err)
	}
	// h1 is targeted both directly and through the group.
	for _, hid := range []uuid.UUID{h1.ID, h2.ID} {
		if err := f.groups.AddMember(ctx, group.ID, hid); err != nil {
			t.Fatalf("add member: %v", err)
		}
	}

	jobID, err := f.runner.Run(ctx, tmpl.ID, []uuid.UUID{h1.ID}, []uuid.UUID{group.ID}, cred.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	f.runner.Wait()

	seen := f.exec.seen()
	if len(seen) != 2 {
		t.Fatalf("executed on %d hosts (%v), want 2", len(seen), seen)
	}

	job, err := f.jobs.GetByID(ctx, jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != db.JobStatusCompleted {
		t.Errorf("job status = %q, want completed", job.Status)
	}
	if job.TemplateName != "uptime" {
		t.Errorf("template name snapshot = %q, want uptime", job.TemplateName)
	}

	logs, err := f.jobs.GetLogs(ctx, jobID)
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	if len(logs) != 2 {
		t.Errorf("log rows = %d, want 2", len(logs))
	}
}

func TestRunRollsUpFailure(t *testing.T) {
	f := newFixture(t, db.LogStatusError)
	ctx := context.Background()
	tmpl, cred := f.seed(t)
	host := f.seedHost(t, "h1")

	jobID, err := f.runner.Run(ctx, tmpl.ID, []uuid.UUID{host.ID}, nil, cred.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	f.runner.Wait()

	job, err := f.jobs.GetByID(ctx, jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != db.JobStatusFailed {
		t.Errorf("job status = %q, want failed", job.Status)
	}
}

func TestRunEmptyTargetCreatesNoJob(t *testing.T) {
	f := newFixture(t, db.LogStatusSuccess)
	ctx := context.Background()
	tmpl, cred := f.seed(t)

	_, err := f.runner.Run(ctx, tmpl.ID, nil, nil, cred.ID)
	if !errors.Is(err, repositories.ErrEmptyTarget) {
		t.Fatalf("Run with no targets = %v, want ErrEmptyTarget", err)
	}

	jobs, total, err := f.jobs.List(ctx, repositories.ListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if total != 0 || len(jobs) != 0 {
		t.Errorf("job rows created despite empty target: %d", total)
	}
}

func TestRunMissingTemplateRejectedSynchronously(t *testing.T) {
	f := newFixture(t, db.LogStatusSuccess)
	ctx := context.Background()
	_, cred := f.seed(t)
	host := f.seedHost(t, "h1")

	_, err := f.runner.Run(ctx, uuid.New(), []uuid.UUID{host.ID}, nil, cred.ID)
	if !errors.Is(err, repositories.ErrNotFound) {
		t.Fatalf("Run with missing template = %v, want ErrNotFound", err)
	}
}

func TestRunAbortsWhenHostsVanish(t *testing.T) {
	f := newFixture(t, db.LogStatusSuccess)
	ctx := context.Background()
	tmpl, cred := f.seed(t)

	// The id resolves at submit time only in the sense that it is non-empty;
	// nothing backs it at dispatch time.
	jobID, err := f.runner.Run(ctx, tmpl.ID, []uuid.UUID{uuid.New()}, nil, cred.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	f.runner.Wait()

	if seen := f.exec.seen(); len(seen) != 0 {
		t.Errorf("executor invoked for vanished hosts: %v", seen)
	}

	job, err := f.jobs.GetByID(ctx, jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != db.JobStatusError {
		t.Errorf("job status = %q, want error", job.Status)
	}

	logs, err := f.jobs.GetLogs(ctx, jobID)
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Hostname != "N/A" || logs[0].Status != db.LogStatusError {
		t.Errorf("synthetic log missing or wrong: %+v", logs)
	}
}
