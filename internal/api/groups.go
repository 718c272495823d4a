package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/runfleet-io/runfleet/internal/db"
	"github.com/runfleet-io/runfleet/internal/repositories"
)

// GroupHandler groups all host-group HTTP handlers.
type GroupHandler struct {
	repo   repositories.GroupRepository
	hosts  repositories.HostRepository
	logger *zap.Logger
}

// NewGroupHandler creates a new GroupHandler.
func NewGroupHandler(repo repositories.GroupRepository, hosts repositories.HostRepository, logger *zap.Logger) *GroupHandler {
	return &GroupHandler{
		repo:   repo,
		hosts:  hosts,
		logger: logger.Named("group_handler"),
	}
}

// groupResponse is the JSON representation of a host group.
type groupResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func groupToResponse(g *db.HostGroup) groupResponse {
	return groupResponse{
		ID:        g.ID.String(),
		Name:      g.Name,
		CreatedAt: g.CreatedAt.UTC().String(),
		UpdatedAt: g.UpdatedAt.UTC().String(),
	}
}

// listGroupsResponse wraps a paginated list of groups.
type listGroupsResponse struct {
	Items []groupResponse `json:"items"`
	Total int64           `json:"total"`
}

// List handles GET /api/v1/groups.
func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := paginationOpts(r)

	groups, total, err := h.repo.List(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list groups", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]groupResponse, len(groups))
	for i := range groups {
		items[i] = groupToResponse(&groups[i])
	}

	Ok(w, listGroupsResponse{Items: items, Total: total})
}

// createGroupRequest is the JSON body expected by POST /api/v1/groups.
type createGroupRequest struct {
	Name string `json:"name"`
}

// Create handles POST /api/v1/groups.
func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Name == "" {
		ErrBadRequest(w, "name is required")
		return
	}

	group := &db.HostGroup{Name: req.Name}

	if err := h.repo.Create(r.Context(), group); err != nil {
		if errors.Is(err, repositories.ErrDuplicateName) {
			ErrConflict(w, "a group with this name already exists")
			return
		}
		h.logger.Error("failed to create group", zap.Error(err))
		ErrInternal(w)
		return
	}

	Created(w, groupToResponse(group))
}

// GetByID handles GET /api/v1/groups/{id}. The response includes the
// group's member hosts.
func (h *GroupHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	group, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get group", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	memberIDs, err := h.repo.MemberIDs(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to list group members", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}
	members, err := h.hosts.GetByIDs(r.Context(), memberIDs)
	if err != nil {
		h.logger.Error("failed to load member hosts", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	memberItems := make([]hostResponse, len(members))
	for i := range members {
		memberItems[i] = hostToResponse(&members[i])
	}

	Ok(w, envelope{
		"group":   groupToResponse(group),
		"members": memberItems,
	})
}

// updateGroupRequest is the JSON body for PATCH /api/v1/groups/{id}.
type updateGroupRequest struct {
	Name *string `json:"name"`
}

// Update handles PATCH /api/v1/groups/{id}.
func (h *GroupHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	var req updateGroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	group, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get group for update", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	if req.Name != nil {
		if *req.Name == "" {
			ErrBadRequest(w, "name cannot be empty")
			return
		}
		group.Name = *req.Name
	}

	if err := h.repo.Update(r.Context(), group); err != nil {
		if errors.Is(err, repositories.ErrDuplicateName) {
			ErrConflict(w, "a group with this name already exists")
			return
		}
		h.logger.Error("failed to update group", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, groupToResponse(group))
}

// Delete handles DELETE /api/v1/groups/{id}. Memberships are removed with
// the group; the hosts themselves are untouched.
func (h *GroupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to delete group", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	NoContent(w)
}

// memberRequest is the JSON body for membership mutations.
type memberRequest struct {
	HostID string `json:"host_id"`
}

// AddMember handles POST /api/v1/groups/{id}/members. Adding a host that
// is already a member is a no-op.
func (h *GroupHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	var req memberRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	hostID, err := uuid.Parse(req.HostID)
	if err != nil {
		ErrBadRequest(w, "invalid host_id: must be a valid UUID")
		return
	}

	// Both sides must exist so a membership row never dangles.
	if _, err := h.repo.GetByID(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get group", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}
	if _, err := h.hosts.GetByID(r.Context(), hostID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrBadRequest(w, "host does not exist")
			return
		}
		h.logger.Error("failed to get host", zap.String("host_id", hostID.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	if err := h.repo.AddMember(r.Context(), id, hostID); err != nil {
		h.logger.Error("failed to add group member",
			zap.String("group_id", id.String()),
			zap.String("host_id", hostID.String()),
			zap.Error(err),
		)
		ErrInternal(w)
		return
	}

	NoContent(w)
}

// RemoveMember handles DELETE /api/v1/groups/{id}/members/{hostID}.
func (h *GroupHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	hostID, ok := parseUUID(w, r, "hostID")
	if !ok {
		return
	}

	if err := h.repo.RemoveMember(r.Context(), id, hostID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to remove group member",
			zap.String("group_id", id.String()),
			zap.String("host_id", hostID.String()),
			zap.Error(err),
		)
		ErrInternal(w)
		return
	}

	NoContent(w)
}
