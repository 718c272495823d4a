// Package runner fans an ad-hoc job out across its resolved host set. The
// caller gets the job id back as soon as the row exists; the per-host
// executions happen on background workers that never share SSH state.
package runner

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/runfleet-io/runfleet/internal/db"
	"github.com/runfleet-io/runfleet/internal/executor"
	"github.com/runfleet-io/runfleet/internal/repositories"
)

// HostExecutor is the single-host execution seam. Implemented by
// executor.Executor; tests substitute a fake.
type HostExecutor interface {
	Execute(ctx context.Context, host *db.Host, cred *db.Credential, script, scriptType string, kind db.OwnerKind, ownerID uuid.UUID) (*executor.Result, error)
}

// Runner dispatches ad-hoc jobs and waits out their fan-out in the
// background. It is also the shared fan-out engine for scheduled firings.
type Runner struct {
	templates   repositories.TemplateRepository
	hosts       repositories.HostRepository
	groups      repositories.GroupRepository
	credentials repositories.CredentialRepository
	jobs        repositories.JobRepository
	logs        executor.LogStore
	exec        HostExecutor
	logger      *zap.Logger

	wg sync.WaitGroup
}

func New(
	templates repositories.TemplateRepository,
	hosts repositories.HostRepository,
	groups repositories.GroupRepository,
	credentials repositories.CredentialRepository,
	jobs repositories.JobRepository,
	logs executor.LogStore,
	exec HostExecutor,
	logger *zap.Logger,
) *Runner {
	return &Runner{
		templates:   templates,
		hosts:       hosts,
		groups:      groups,
		credentials: credentials,
		jobs:        jobs,
		logs:        logs,
		exec:        exec,
		logger:      logger.Named("runner"),
	}
}

// Run resolves the target set, creates the ad-hoc job row and launches the
// fan-out. It returns once the row is committed; the executions complete in
// the background. An empty resolved target set is a validation error and no
// job row is created.
func (r *Runner) Run(ctx context.Context, templateID uuid.UUID, hostIDs, groupIDs []uuid.UUID, credentialID uuid.UUID) (uuid.UUID, error) {
	targetIDs, err := r.resolveTargets(ctx, hostIDs, groupIDs)
	if err != nil {
		return uuid.Nil, err
	}
	if len(targetIDs) == 0 {
		return uuid.Nil, repositories.ErrEmptyTarget
	}

	tmpl, err := r.templates.GetByID(ctx, templateID)
	if err != nil {
		return uuid.Nil, err
	}
	cred, err := r.credentials.GetByID(ctx, credentialID)
	if err != nil {
		return uuid.Nil, err
	}

	job := &db.Job{
		TemplateName: tmpl.Name,
		Status:       db.JobStatusRunning,
	}
	if err := r.jobs.Create(ctx, job); err != nil {
		return uuid.Nil, err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		// The request context dies with the HTTP request; the fan-out
		// must not.
		r.dispatch(context.Background(), job.ID, targetIDs, tmpl, cred)
	}()

	return job.ID, nil
}

// Wait blocks until all in-flight fan-outs have finished. Used on shutdown
// and in tests.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// resolveTargets unions the explicit host ids with every referenced group's
// members and deduplicates.
func (r *Runner) resolveTargets(ctx context.Context, hostIDs, groupIDs []uuid.UUID) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]struct{}, len(hostIDs))
	var out []uuid.UUID

	add := func(id uuid.UUID) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	for _, id := range hostIDs {
		add(id)
	}
	for _, gid := range groupIDs {
		members, err := r.groups.MemberIDs(ctx, gid)
		if err != nil {
			return nil, err
		}
		for _, id := range members {
			add(id)
		}
	}
	return out, nil
}

// dispatch runs the fan-out for one ad-hoc job and rolls the per-host
// outcomes up into the job status.
func (r *Runner) dispatch(ctx context.Context, jobID uuid.UUID, targetIDs []uuid.UUID, tmpl *db.Template, cred *db.Credential) {
	hosts, err := r.hosts.GetByIDs(ctx, targetIDs)
	if err != nil || len(hosts) == 0 {
		r.abort(ctx, jobID, err)
		return
	}

	r.FanOut(ctx, hosts, cred, tmpl.Content, tmpl.ScriptType, db.OwnerAdHoc, jobID)

	logs, err := r.jobs.GetLogs(ctx, jobID)
	if err != nil {
		r.abort(ctx, jobID, err)
		return
	}

	status := db.JobStatusCompleted
	for _, l := range logs {
		if l.Status != db.LogStatusSuccess {
			status = db.JobStatusFailed
			break
		}
	}
	if err := r.jobs.UpdateStatus(ctx, jobID, status); err != nil {
		r.logger.Error("update job status", zap.String("job_id", jobID.String()), zap.Error(err))
		return
	}
	r.logger.Info("job finished",
		zap.String("job_id", jobID.String()),
		zap.String("status", status),
		zap.Int("hosts", len(hosts)),
	)
}

// FanOut runs the script on every host in parallel with one worker per
// host and waits for all of them. Workers never share a connection; each
// Execute call is fully independent.
func (r *Runner) FanOut(ctx context.Context, hosts []db.Host, cred *db.Credential, script, scriptType string, kind db.OwnerKind, ownerID uuid.UUID) {
	var wg sync.WaitGroup
	for i := range hosts {
		host := hosts[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.exec.Execute(ctx, &host, cred, script, scriptType, kind, ownerID); err != nil {
				// Execute only errors on catalog failures; the host
				// outcome itself is always recorded as a log row.
				r.logger.Error("host execution",
					zap.String("hostname", host.Hostname),
					zap.Error(err),
				)
			}
		}()
	}
	wg.Wait()
}

// abort records a dispatch-time failure as a synthetic host log so the job
// never sits in running forever with nothing to show.
func (r *Runner) abort(ctx context.Context, jobID uuid.UUID, cause error) {
	stderr := "no resolvable hosts at dispatch time"
	if cause != nil {
		stderr = cause.Error()
	}
	logID, err := r.logs.Begin(ctx, db.OwnerAdHoc, jobID, "N/A")
	if err == nil {
		err = r.logs.Finish(ctx, db.OwnerAdHoc, logID, "", stderr, db.LogStatusError)
	}
	if err != nil {
		r.logger.Error("write synthetic log", zap.String("job_id", jobID.String()), zap.Error(err))
	}
	if err := r.jobs.UpdateStatus(ctx, jobID, db.JobStatusError); err != nil {
		r.logger.Error("mark job errored", zap.String("job_id", jobID.String()), zap.Error(err))
	}
	r.logger.Warn("job aborted at dispatch", zap.String("job_id", jobID.String()), zap.NamedError("cause", cause))
}
