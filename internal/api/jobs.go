package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/runfleet-io/runfleet/internal/db"
	"github.com/runfleet-io/runfleet/internal/repositories"
	"github.com/runfleet-io/runfleet/internal/runner"
)

// JobHandler groups all ad-hoc job HTTP handlers. Run dispatches through
// the fan-out runner; the remaining handlers are catalog reads.
type JobHandler struct {
	repo   repositories.JobRepository
	runner *runner.Runner
	logger *zap.Logger
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(repo repositories.JobRepository, runner *runner.Runner, logger *zap.Logger) *JobHandler {
	return &JobHandler{
		repo:   repo,
		runner: runner,
		logger: logger.Named("job_handler"),
	}
}

// jobResponse is the JSON representation of an ad-hoc job.
type jobResponse struct {
	ID           string `json:"id"`
	TemplateName string `json:"template_name"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
}

func jobToResponse(j *db.Job) jobResponse {
	return jobResponse{
		ID:           j.ID.String(),
		TemplateName: j.TemplateName,
		Status:       j.Status,
		CreatedAt:    j.CreatedAt.UTC().String(),
	}
}

// listJobsResponse wraps a paginated list of jobs.
type listJobsResponse struct {
	Items []jobResponse `json:"items"`
	Total int64         `json:"total"`
}

// jobLogResponse is the JSON representation of a per-host log row.
type jobLogResponse struct {
	ID        string `json:"id"`
	Hostname  string `json:"hostname"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// runJobRequest is the JSON body expected by POST /api/v1/jobs/run.
// The effective target is the union of host_ids and the members of every
// group in group_ids, deduplicated.
type runJobRequest struct {
	TemplateID   string   `json:"template_id"`
	CredentialID string   `json:"credential_id"`
	HostIDs      []string `json:"host_ids"`
	GroupIDs     []string `json:"group_ids"`
}

// Run handles POST /api/v1/jobs/run. It responds 202 with the new job id
// as soon as the job row exists; the per-host executions continue in the
// background and are observable via the job's logs.
func (h *JobHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req runJobRequest
	if !decodeJSON(w, r, &req) {
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

	hostIDs, err := parseUUIDs(req.HostIDs)
	if err != nil {
		ErrBadRequest(w, "invalid host_ids: "+err.Error())
		return
	}
	groupIDs, err := parseUUIDs(req.GroupIDs)
	if err != nil {
		ErrBadRequest(w, "invalid group_ids: "+err.Error())
		return
	}

	jobID, err := h.runner.Run(r.Context(), templateID, hostIDs, groupIDs, credentialID)
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrEmptyTarget):
			ErrUnprocessable(w, "no hosts resolved from the given host_ids and group_ids")
		case errors.Is(err, repositories.ErrNotFound):
			ErrUnprocessable(w, "template, credential or group does not exist")
		default:
			h.logger.Error("failed to dispatch job", zap.Error(err))
			ErrInternal(w)
		}
		return
	}

	Accepted(w, envelope{"job_id": jobID.String()})
}

// List handles GET /api/v1/jobs.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := paginationOpts(r)

	jobs, total, err := h.repo.List(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list jobs", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]jobResponse, len(jobs))
	for i := range jobs {
		items[i] = jobToResponse(&jobs[i])
	}

	Ok(w, listJobsResponse{Items: items, Total: total})
}

// GetByID handles GET /api/v1/jobs/{id}.
func (h *JobHandler) GetByID(w http.ResponseWriter, r *http.Request) {
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
		h.logger.Error("failed to get job", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, jobToResponse(job))
}

// GetLogs handles GET /api/v1/jobs/{id}/logs.
func (h *JobHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	if _, err := h.repo.GetByID(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get job", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	logs, err := h.repo.GetLogs(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get job logs", zap.String("id", id.String()), zap.Error(err))
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

	Ok(w, envelope{"items": items})
}

// Delete handles DELETE /api/v1/jobs/{id}. The job's host logs are removed
// with it.
func (h *JobHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to delete job", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	NoContent(w)
}

// parseUUIDs parses a slice of UUID strings, failing on the first invalid
// entry.
func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
