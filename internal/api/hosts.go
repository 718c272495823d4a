package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/runfleet-io/runfleet/internal/db"
	"github.com/runfleet-io/runfleet/internal/repositories"
)

// HostHandler groups all host-related HTTP handlers.
type HostHandler struct {
	repo   repositories.HostRepository
	logger *zap.Logger
}

// NewHostHandler creates a new HostHandler.
func NewHostHandler(repo repositories.HostRepository, logger *zap.Logger) *HostHandler {
	return &HostHandler{
		repo:   repo,
		logger: logger.Named("host_handler"),
	}
}

// hostResponse is the JSON representation of a host.
type hostResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Hostname  string `json:"hostname"`
	Username  string `json:"username"`
	Port      int    `json:"port"`
	Shell     string `json:"shell"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func hostToResponse(h *db.Host) hostResponse {
	return hostResponse{
		ID:        h.ID.String(),
		Name:      h.Name,
		Hostname:  h.Hostname,
		Username:  h.Username,
		Port:      h.Port,
		Shell:     h.Shell,
		CreatedAt: h.CreatedAt.UTC().String(),
		UpdatedAt: h.UpdatedAt.UTC().String(),
	}
}

// listHostsResponse wraps a paginated list of hosts.
type listHostsResponse struct {
	Items []hostResponse `json:"items"`
	Total int64          `json:"total"`
}

// List handles GET /api/v1/hosts.
func (h *HostHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := paginationOpts(r)

	hosts, total, err := h.repo.List(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list hosts", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]hostResponse, len(hosts))
	for i := range hosts {
		items[i] = hostToResponse(&hosts[i])
	}

	Ok(w, listHostsResponse{Items: items, Total: total})
}

// createHostRequest is the JSON body expected by POST /api/v1/hosts.
// Port defaults to 22 and shell to /bin/bash when omitted.
type createHostRequest struct {
	Name     string `json:"name"`
	Hostname string `json:"hostname"`
	Username string `json:"username"`
	Port     int    `json:"port"`
	Shell    string `json:"shell"`
}

// Create handles POST /api/v1/hosts.
func (h *HostHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createHostRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Name == "" {
		ErrBadRequest(w, "name is required")
		return
	}
	if req.Hostname == "" {
		ErrBadRequest(w, "hostname is required")
		return
	}
	if req.Username == "" {
		ErrBadRequest(w, "username is required")
		return
	}
	if req.Port < 0 || req.Port > 65535 {
		ErrBadRequest(w, "port must be between 1 and 65535")
		return
	}

	host := &db.Host{
		Name:     req.Name,
		Hostname: req.Hostname,
		Username: req.Username,
		Port:     req.Port,
		Shell:    req.Shell,
	}

	if err := h.repo.Create(r.Context(), host); err != nil {
		if errors.Is(err, repositories.ErrDuplicateName) {
			ErrConflict(w, "a host with this name already exists")
			return
		}
		h.logger.Error("failed to create host", zap.Error(err))
		ErrInternal(w)
		return
	}

	Created(w, hostToResponse(host))
}

// GetByID handles GET /api/v1/hosts/{id}.
func (h *HostHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	host, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get host", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, hostToResponse(host))
}

// updateHostRequest is the JSON body for PATCH /api/v1/hosts/{id}.
// All fields are optional — only non-nil values are applied.
type updateHostRequest struct {
	Name     *string `json:"name"`
	Hostname *string `json:"hostname"`
	Username *string `json:"username"`
	Port     *int    `json:"port"`
	Shell    *string `json:"shell"`
}

// Update handles PATCH /api/v1/hosts/{id}.
func (h *HostHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	var req updateHostRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	host, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get host for update", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	if req.Name != nil {
		if *req.Name == "" {
			ErrBadRequest(w, "name cannot be empty")
			return
		}
		host.Name = *req.Name
	}
	if req.Hostname != nil {
		if *req.Hostname == "" {
			ErrBadRequest(w, "hostname cannot be empty")
			return
		}
		host.Hostname = *req.Hostname
	}
	if req.Username != nil {
		if *req.Username == "" {
			ErrBadRequest(w, "username cannot be empty")
			return
		}
		host.Username = *req.Username
	}
	if req.Port != nil {
		if *req.Port < 1 || *req.Port > 65535 {
			ErrBadRequest(w, "port must be between 1 and 65535")
			return
		}
		host.Port = *req.Port
	}
	if req.Shell != nil {
		host.Shell = *req.Shell
	}

	if err := h.repo.Update(r.Context(), host); err != nil {
		if errors.Is(err, repositories.ErrDuplicateName) {
			ErrConflict(w, "a host with this name already exists")
			return
		}
		h.logger.Error("failed to update host", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, hostToResponse(host))
}

// Delete handles DELETE /api/v1/hosts/{id}.
// Group memberships are removed along with the host. Scheduled jobs that
// carry the host id in a frozen host set are untouched — the id simply
// stops resolving at fire time.
func (h *HostHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to delete host", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	NoContent(w)
}
