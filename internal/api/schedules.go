package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/runfleet-io/runfleet/internal/cronexpr"
	"github.com/runfleet-io/runfleet/internal/db"
	"github.com/runfleet-io/runfleet/internal/repositories"
	"github.com/runfleet-io/runfleet/internal/scheduler"
)

// ScheduleHandler groups all scheduled-job HTTP handlers. Mutations are
// mirrored into the live scheduler so a save takes effect without a
// restart.
type ScheduleHandler struct {
	repo      repositories.ScheduleRepository
	templates repositories.TemplateRepository
	creds     repositories.CredentialRepository
	hosts     repositories.HostRepository
	groups    repositories.GroupRepository
	sched     *scheduler.Scheduler
	logger    *zap.Logger
}

// NewScheduleHandler creates a new ScheduleHandler.
func NewScheduleHandler(
	repo repositories.ScheduleRepository,
	templates repositories.TemplateRepository,
	creds repositories.CredentialRepository,
	hosts repositories.HostRepository,
	groups repositories.GroupRepository,
	sched *scheduler.Scheduler,
	logger *zap.Logger,
) *ScheduleHandler {
	return &ScheduleHandler{
		repo:      repo,
		templates: templates,
		creds:     creds,
		hosts:     hosts,
		groups:    groups,
		sched:     sched,
		logger:    logger.Named("schedule_handler"),
	}
}

// scheduleResponse is the JSON representation of a scheduled job.
type scheduleResponse struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Schedule     string   `json:"schedule"`
	TemplateID   string   `json:"template_id"`
	CredentialID string   `json:"credential_id"`
	HostIDs      []string `json:"host_ids"`
	Enabled      bool     `json:"enabled"`
	LastRunAt    *string  `json:"last_run_at"`
	NextRunAt    *string  `json:"next_run_at"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

func scheduleToResponse(s *db.ScheduledJob) scheduleResponse {
	ids := s.HostIDs()
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}

	resp := scheduleResponse{
		ID:           s.ID.String(),
		Name:         s.Name,
		Schedule:     s.Schedule,
		TemplateID:   s.TemplateID.String(),
		CredentialID: s.CredentialID.String(),
		HostIDs:      strIDs,
		Enabled:      s.Enabled,
		CreatedAt:    s.CreatedAt.UTC().String(),
		UpdatedAt:    s.UpdatedAt.UTC().String(),
	}
	if s.LastRunAt != nil {
		v := s.LastRunAt.UTC().String()
		resp.LastRunAt = &v
	}
	if s.NextRunAt != nil {
		v := s.NextRunAt.UTC().String()
		resp.NextRunAt = &v
	}
	return resp
}

// listSchedulesResponse wraps a paginated list of scheduled jobs.
type listSchedulesResponse struct {
	Items []scheduleResponse `json:"items"`
	Total int64              `json:"total"`
}

// List handles GET /api/v1/schedules.
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := paginationOpts(r)

	schedules, total, err := h.repo.List(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list schedules", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]scheduleResponse, len(schedules))
	for i := range schedules {
		items[i] = scheduleToResponse(&schedules[i])
	}

	Ok(w, listSchedulesResponse{Items: items, Total: total})
}

// createScheduleRequest is the JSON body expected by POST /api/v1/schedules.
// The target host set is resolved from host_ids ∪ group members at save
// time and frozen — later group edits do not change what the schedule runs
// against.
type createScheduleRequest struct {
	Name         string   `json:"name"`
	Schedule     string   `json:"schedule"`
	TemplateID   string   `json:"template_id"`
	CredentialID string   `json:"credential_id"`
	HostIDs      []string `json:"host_ids"`
	GroupIDs     []string `json:"group_ids"`
	Enabled      *bool    `json:"enabled"`
}

// Create handles POST /api/v1/schedules.
func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Name == "" {
		ErrBadRequest(w, "name is required")
		return
	}
	if err := cronexpr.Validate(req.Schedule); err != nil {
		ErrUnprocessable(w, err.Error())
		return
	}

	templateID, err := uuid.Parse(req.TemplateID)
	if err != nil {
		ErrBadRequest(w, "invalid template_id: must be a valid UUID")
		return
	}
	credentialID, err := uuid.Parse(req.CredentialID)
	if err != nil {
		ErrBadRequest(w, "invalid credential_id: must be a valid UUID")
		return
	}

	if _, err := h.templates.GetByID(r.Context(), templateID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrUnprocessable(w, "template does not exist")
			return
		}
		h.logger.Error("failed to check template", zap.Error(err))
		ErrInternal(w)
		return
	}
	if _, err := h.creds.GetByID(r.Context(), credentialID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrUnprocessable(w, "credential does not exist")
			return
		}
		h.logger.Error("failed to check credential", zap.Error(err))
		ErrInternal(w)
		return
	}

	hostIDs, err := h.resolveHostSet(w, r, req.HostIDs, req.GroupIDs)
	if err != nil {
		// resolveHostSet has already written the response.
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	job := &db.ScheduledJob{
		Name:         req.Name,
		Schedule:     req.Schedule,
		TemplateID:   templateID,
		CredentialID: credentialID,
		HostSet:      db.EncodeHostSet(hostIDs),
		Enabled:      enabled,
	}
	if next, err := cronexpr.Next(req.Schedule, time.Now().UTC()); err == nil {
		job.NextRunAt = &next
	}

	if err := h.repo.Create(r.Context(), job); err != nil {
		if errors.Is(err, repositories.ErrDuplicateName) {
			ErrConflict(w, "a schedule with this name already exists")
			return
		}
		h.logger.Error("failed to create schedule", zap.Error(err))
		ErrInternal(w)
		return
	}

	if job.Enabled {
		if err := h.sched.Add(job); err != nil {
			// The row is saved; it will be picked up on next restart.
			h.logger.Error("failed to register schedule", zap.String("id", job.ID.String()), zap.Error(err))
		}
	}

	Created(w, scheduleToResponse(job))
}

// GetByID handles GET /api/v1/schedules/{id}.
func (h *ScheduleHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	job, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get schedule", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, scheduleToResponse(job))
}

// updateScheduleRequest is the JSON body for PATCH /api/v1/schedules/{id}.
// All fields are optional — only non-nil values are applied. Supplying
// host_ids or group_ids re-resolves and re-freezes the host set.
type updateScheduleRequest struct {
	Name         *string  `json:"name"`
	Schedule     *string  `json:"schedule"`
	TemplateID   *string  `json:"template_id"`
	CredentialID *string  `json:"credential_id"`
	HostIDs      []string `json:"host_ids"`
	GroupIDs     []string `json:"group_ids"`
	Enabled      *bool    `json:"enabled"`
}

// Update handles PATCH /api/v1/schedules/{id}.
func (h *ScheduleHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	var req updateScheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	job, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get schedule for update", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	if req.Name != nil {
		if *req.Name == "" {
			ErrBadRequest(w, "name cannot be empty")
			return
		}
		job.Name = *req.Name
	}
	if req.Schedule != nil {
		if err := cronexpr.Validate(*req.Schedule); err != nil {
			ErrUnprocessable(w, err.Error())
			return
		}
		job.Schedule = *req.Schedule
		if next, err := cronexpr.Next(*req.Schedule, time.Now().UTC()); err == nil {
			job.NextRunAt = &next
		}
	}
	if req.TemplateID != nil {
		templateID, err := uuid.Parse(*req.TemplateID)
		if err != nil {
			ErrBadRequest(w, "invalid template_id: must be a valid UUID")
			return
		}
		if _, err := h.templates.GetByID(r.Context(), templateID); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				ErrUnprocessable(w, "template does not exist")
				return
			}
			h.logger.Error("failed to check template", zap.Error(err))
			ErrInternal(w)
			return
		}
		job.TemplateID = templateID
	}
	if req.CredentialID != nil {
		credentialID, err := uuid.Parse(*req.CredentialID)
		if err != nil {
			ErrBadRequest(w, "invalid credential_id: must be a valid UUID")
			return
		}
		if _, err := h.creds.GetByID(r.Context(), credentialID); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				ErrUnprocessable(w, "credential does not exist")
				return
			}
			h.logger.Error("failed to check credential", zap.Error(err))
			ErrInternal(w)
			return
		}
		job.CredentialID = credentialID
	}
	if req.HostIDs != nil || req.GroupIDs != nil {
		hostIDs, err := h.resolveHostSet(w, r, req.HostIDs, req.GroupIDs)
		if err != nil {
			return
		}
		job.HostSet = db.EncodeHostSet(hostIDs)
	}
	if req.Enabled != nil {
		job.Enabled = *req.Enabled
	}

	if err := h.repo.Update(r.Context(), job); err != nil {
		if errors.Is(err, repositories.ErrDuplicateName) {
			ErrConflict(w, "a schedule with this name already exists")
			return
		}
		h.logger.Error("failed to update schedule", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	if err := h.sched.Update(job); err != nil {
		h.logger.Error("failed to reregister schedule", zap.String("id", id.String()), zap.Error(err))
	}

	Ok(w, scheduleToResponse(job))
}

// Delete handles DELETE /api/v1/schedules/{id}. The schedule's history
// logs are removed with it and the live trigger is deregistered.
func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to delete schedule", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	h.sched.Remove(id)
	NoContent(w)
}

// Trigger handles POST /api/v1/schedules/{id}/trigger. The firing goes
// through the same overlap guard as a cron tick.
func (h *ScheduleHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.sched.TriggerNow(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to trigger schedule", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	Accepted(w, envelope{"schedule_id": id.String()})
}

// GetLogs handles GET /api/v1/schedules/{id}/logs.
func (h *ScheduleHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	if _, err := h.repo.GetByID(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get schedule", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	logs, total, err := h.repo.ListLogs(r.Context(), id, paginationOpts(r))
	if err != nil {
		h.logger.Error("failed to list schedule logs", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]jobLogResponse, len(logs))
	for i, l := range logs {
		items[i] = jobLogResponse{
			ID:        l.ID.String(),
			Hostname:  l.Hostname,
			Stdout:    l.Stdout,
			Stderr:    l.Stderr,
			Status:    l.Status,
			CreatedAt: l.CreatedAt.UTC().String(),
		}
	}

	Ok(w, envelope{"items": items, "total": total})
}

// resolveHostSet expands host_ids ∪ group members into the frozen host id
// set stored on the schedule. On failure it writes the error response and
// returns a non-nil error so callers can early-return.
func (h *ScheduleHandler) resolveHostSet(w http.ResponseWriter, r *http.Request, rawHostIDs, rawGroupIDs []string) ([]uuid.UUID, error) {
	hostIDs, err := parseUUIDs(rawHostIDs)
	if err != nil {
		ErrBadRequest(w, "invalid host_ids: "+err.Error())
		return nil, err
	}
	groupIDs, err := parseUUIDs(rawGroupIDs)
	if err != nil {
		ErrBadRequest(w, "invalid group_ids: "+err.Error())
		return nil, err
	}

	seen := make(map[uuid.UUID]struct{})
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
		members, err := h.groups.MemberIDs(r.Context(), gid)
		if err != nil {
			ErrUnprocessable(w, "group does not exist: "+gid.String())
			return nil, err
		}
		for _, id := range members {
			add(id)
		}
	}

	if len(out) == 0 {
		ErrUnprocessable(w, "no hosts resolved from the given host_ids and group_ids")
		return nil, repositories.ErrEmptyTarget
	}

	existing, err := h.hosts.GetByIDs(r.Context(), out)
	if err != nil {
		h.logger.Error("failed to verify host set", zap.Error(err))
		ErrInternal(w)
		return nil, err
	}
	if len(existing) != len(out) {
		ErrUnprocessable(w, "one or more host_ids do not exist")
		return nil, repositories.ErrNotFound
	}

	return out, nil
}
