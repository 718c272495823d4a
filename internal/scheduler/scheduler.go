// Package scheduler drives recurring script runs from cron expressions. It
// wraps gocron and integrates with ScheduleRepository (to load jobs and
// record run times), the fan-out engine (to dispatch per-host executions),
// and SettingsRepository (to read the history retention cap after each run).
//
// Each enabled scheduled job maps to exactly one gocron entry, tagged with
// the job UUID. Overlap is prevented with an explicit per-job try-lock: a
// tick that finds the previous run still in progress logs a warning and
// does nothing. The lock, not gocron, is the authority — manual triggers go
// through the same guard as cron ticks.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/runfleet-io/runfleet/internal/cronexpr"
	"github.com/runfleet-io/runfleet/internal/db"
	"github.com/runfleet-io/runfleet/internal/executor"
	"github.com/runfleet-io/runfleet/internal/metrics"
	"github.com/runfleet-io/runfleet/internal/repositories"
)

// fireTimeout bounds one complete firing: host resolution, the full
// fan-out, run time bookkeeping and the retention sweep.
const fireTimeout = 30 * time.Minute

// FanOuter dispatches a script across a host set in parallel and returns
// when every host has a terminal log row. Implemented by runner.Runner.
type FanOuter interface {
	FanOut(ctx context.Context, hosts []db.Host, cred *db.Credential, script, scriptType string, kind db.OwnerKind, ownerID uuid.UUID)
}

// Scheduler wraps gocron and coordinates scheduled firings.
// The zero value is not usable — create instances with New.
type Scheduler struct {
	cron        gocron.Scheduler
	schedules   repositories.ScheduleRepository
	templates   repositories.TemplateRepository
	hosts       repositories.HostRepository
	credentials repositories.CredentialRepository
	settings    repositories.SettingsRepository
	logs        executor.LogStore
	fanout      FanOuter
	locks       *lockRegistry
	logger      *zap.Logger
}

// New creates and configures a new Scheduler. Call Start to begin firing.
func New(
	schedules repositories.ScheduleRepository,
	templates repositories.TemplateRepository,
	hosts repositories.HostRepository,
	credentials repositories.CredentialRepository,
	settings repositories.SettingsRepository,
	logs executor.LogStore,
	fanout FanOuter,
	logger *zap.Logger,
) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Scheduler{
		cron:        s,
		schedules:   schedules,
		templates:   templates,
		hosts:       hosts,
		credentials: credentials,
		settings:    settings,
		logs:        logs,
		fanout:      fanout,
		locks:       newLockRegistry(),
		logger:      logger.Named("scheduler"),
	}, nil
}

// Start loads all enabled scheduled jobs from the catalog, registers them,
// and starts the underlying gocron scheduler. It should be called once at
// server startup, after the database connection is established.
func (s *Scheduler) Start(ctx context.Context) error {
	enabled, err := s.schedules.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("failed to load enabled scheduled jobs: %w", err)
	}

	for i := range enabled {
		if err := s.addEntry(&enabled[i]); err != nil {
			s.logger.Error("failed to register scheduled job",
				zap.String("scheduled_job_id", enabled[i].ID.String()),
				zap.String("name", enabled[i].Name),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("scheduler started", zap.Int("jobs_scheduled", len(enabled)))
	s.cron.Start()
	return nil
}

// Stop gracefully shuts down the underlying gocron scheduler, waiting for
// any in-flight firing to complete before returning.
func (s *Scheduler) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("scheduler shutdown error: %w", err)
	}
	s.logger.Info("scheduler stopped")
	return nil
}

// Add registers a newly created or re-enabled scheduled job. Safe to call
// while the scheduler is running. Called by the REST handler after creation.
func (s *Scheduler) Add(job *db.ScheduledJob) error {
	if err := s.addEntry(job); err != nil {
		return fmt.Errorf("failed to add scheduled job %s: %w", job.ID, err)
	}
	s.logger.Info("scheduled job registered",
		zap.String("scheduled_job_id", job.ID.String()),
		zap.String("name", job.Name),
		zap.String("schedule", job.Schedule),
	)
	return nil
}

// Remove deregisters a scheduled job. Safe to call while the scheduler is
// running. Called by the REST handler after deletion or disablement.
func (s *Scheduler) Remove(jobID uuid.UUID) {
	s.cron.RemoveByTags(jobID.String())
	s.logger.Info("scheduled job deregistered", zap.String("scheduled_job_id", jobID.String()))
}

// Update reregisters a scheduled job after its cron expression or enabled
// state changed. Removes the existing gocron entry and adds a new one.
func (s *Scheduler) Update(job *db.ScheduledJob) error {
	s.cron.RemoveByTags(job.ID.String())

	if !job.Enabled {
		s.logger.Info("scheduled job disabled, deregistered",
			zap.String("scheduled_job_id", job.ID.String()),
		)
		return nil
	}

	return s.Add(job)
}

// TriggerNow fires a scheduled job immediately, bypassing the cron trigger.
// The overlap guard still applies: a trigger landing during a running
// firing is dropped like any other tick.
func (s *Scheduler) TriggerNow(ctx context.Context, jobID uuid.UUID) error {
	if _, err := s.schedules.GetByID(ctx, jobID); err != nil {
		return err
	}
	s.logger.Info("manual trigger requested", zap.String("scheduled_job_id", jobID.String()))
	go s.fire(jobID)
	return nil
}

// addEntry registers a single scheduled job as a gocron entry. The job
// UUID doubles as the gocron tag; any entry already carrying it is removed
// first, so reinstalling the same job always yields exactly one trigger.
func (s *Scheduler) addEntry(job *db.ScheduledJob) error {
	s.cron.RemoveByTags(job.ID.String())

	_, err := s.cron.NewJob(
		gocron.CronJob(job.Schedule, false),
		gocron.NewTask(func(id uuid.UUID) {
			s.fire(id)
		}, job.ID),
		gocron.WithTags(job.ID.String()),
	)
	if err != nil {
		return fmt.Errorf("gocron.NewJob failed for scheduled job %s (schedule: %q): %w",
			job.ID, job.Schedule, err)
	}
	return nil
}

// fire is the per-tick execution unit. It reloads the job, takes the
// overlap lock, fans out across the frozen host set, records run times and
// sweeps history. All failures are terminal inside fire — nothing
// propagates to gocron.
func (s *Scheduler) fire(jobID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()

	job, err := s.schedules.GetByID(ctx, jobID)
	if err != nil {
		s.logger.Warn("scheduled job vanished, skipping tick",
			zap.String("scheduled_job_id", jobID.String()),
			zap.Error(err),
		)
		return
	}
	if !job.Enabled {
		s.logger.Info("skipping tick for disabled scheduled job",
			zap.String("scheduled_job_id", jobID.String()),
		)
		return
	}

	if !s.locks.tryAcquire(jobID) {
		metrics.ScheduleOverlapsSkipped.Inc()
		s.logger.Warn("previous run still in progress, skipping tick",
			zap.String("scheduled_job_id", jobID.String()),
			zap.String("name", job.Name),
		)
		return
	}
	defer s.locks.release(jobID)

	metrics.ScheduleFirings.Inc()
	firedAt := time.Now().UTC()

	s.logger.Info("firing scheduled job",
		zap.String("scheduled_job_id", jobID.String()),
		zap.String("name", job.Name),
	)

	s.runOnce(ctx, job)

	var nextRun *time.Time
	if next, err := cronexpr.Next(job.Schedule, firedAt); err == nil {
		nextRun = &next
	}
	if err := s.schedules.UpdateRunTimes(ctx, jobID, firedAt, nextRun); err != nil {
		s.logger.Warn("failed to record run times",
			zap.String("scheduled_job_id", jobID.String()),
			zap.Error(err),
		)
	}

	s.sweepHistory(ctx)
}

// runOnce resolves the frozen host set and runs the fan-out for one firing.
// A lookup failure at dispatch time is recorded as a synthetic host log so
// the history shows the firing happened and why it produced nothing.
func (s *Scheduler) runOnce(ctx context.Context, job *db.ScheduledJob) {
	tmpl, err := s.templates.GetByID(ctx, job.TemplateID)
	if err != nil {
		s.recordDispatchFailure(ctx, job.ID, fmt.Errorf("template lookup: %w", err))
		return
	}
	cred, err := s.credentials.GetByID(ctx, job.CredentialID)
	if err != nil {
		s.recordDispatchFailure(ctx, job.ID, fmt.Errorf("credential lookup: %w", err))
		return
	}

	hosts, err := s.hosts.GetByIDs(ctx, job.HostIDs())
	if err != nil {
		s.recordDispatchFailure(ctx, job.ID, fmt.Errorf("host lookup: %w", err))
		return
	}
	if len(hosts) == 0 {
		// Every id in the frozen set has been deleted since save time.
		s.recordDispatchFailure(ctx, job.ID, fmt.Errorf("no resolvable hosts in host set"))
		return
	}

	s.fanout.FanOut(ctx, hosts, cred, tmpl.Content, tmpl.ScriptType, db.OwnerScheduled, job.ID)
}

func (s *Scheduler) recordDispatchFailure(ctx context.Context, jobID uuid.UUID, cause error) {
	logID, err := s.logs.Begin(ctx, db.OwnerScheduled, jobID, "N/A")
	if err == nil {
		err = s.logs.Finish(ctx, db.OwnerScheduled, logID, "", cause.Error(), db.LogStatusError)
	}
	if err != nil {
		s.logger.Error("failed to write synthetic schedule log",
			zap.String("scheduled_job_id", jobID.String()),
			zap.Error(err),
		)
	}
	s.logger.Error("scheduled dispatch failed",
		zap.String("scheduled_job_id", jobID.String()),
		zap.Error(cause),
	)
}
