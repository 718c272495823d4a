package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/runfleet-io/runfleet/internal/db"
	"github.com/runfleet-io/runfleet/internal/repositories"
)

// TemplateHandler groups all script-template HTTP handlers.
type TemplateHandler struct {
	repo   repositories.TemplateRepository
	logger *zap.Logger
}

// NewTemplateHandler creates a new TemplateHandler.
func NewTemplateHandler(repo repositories.TemplateRepository, logger *zap.Logger) *TemplateHandler {
	return &TemplateHandler{
		repo:   repo,
		logger: logger.Named("template_handler"),
	}
}

// templateResponse is the JSON representation of a script template.
type templateResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	ScriptType string `json:"script_type"`
	Arguments  string `json:"arguments"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

func templateToResponse(t *db.Template) templateResponse {
	return templateResponse{
		ID:         t.ID.String(),
		Name:       t.Name,
		Content:    t.Content,
		ScriptType: t.ScriptType,
		Arguments:  t.Arguments,
		CreatedAt:  t.CreatedAt.UTC().String(),
		UpdatedAt:  t.UpdatedAt.UTC().String(),
	}
}

// listTemplatesResponse wraps a paginated list of templates.
type listTemplatesResponse struct {
	Items []templateResponse `json:"items"`
	Total int64              `json:"total"`
}

// validScriptTypes lists the accepted script type values.
var validScriptTypes = map[string]bool{
	db.ScriptTypeShell:       true,
	db.ScriptTypeInterpreted: true,
}

// List handles GET /api/v1/templates.
func (h *TemplateHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := paginationOpts(r)

	templates, total, err := h.repo.List(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list templates", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]templateResponse, len(templates))
	for i := range templates {
		items[i] = templateToResponse(&templates[i])
	}

	Ok(w, listTemplatesResponse{Items: items, Total: total})
}

// createTemplateRequest is the JSON body expected by POST /api/v1/templates.
type createTemplateRequest struct {
	Name       string `json:"name"`
	Content    string `json:"content"`
	ScriptType string `json:"script_type"`
	Arguments  string `json:"arguments"`
}

// Create handles POST /api/v1/templates.
func (h *TemplateHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTemplateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Name == "" {
		ErrBadRequest(w, "name is required")
		return
	}
	if req.Content == "" {
		ErrBadRequest(w, "content is required")
		return
	}
	if req.ScriptType == "" {
		req.ScriptType = db.ScriptTypeShell
	}
	if !validScriptTypes[req.ScriptType] {
		ErrBadRequest(w, "script_type must be one of: shell, interpreted")
		return
	}

	tmpl := &db.Template{
		Name:       req.Name,
		Content:    req.Content,
		ScriptType: req.ScriptType,
		Arguments:  req.Arguments,
	}

	if err := h.repo.Create(r.Context(), tmpl); err != nil {
		if errors.Is(err, repositories.ErrDuplicateName) {
			ErrConflict(w, "a template with this name already exists")
			return
		}
		h.logger.Error("failed to create template", zap.Error(err))
		ErrInternal(w)
		return
	}

	Created(w, templateToResponse(tmpl))
}

// GetByID handles GET /api/v1/templates/{id}.
func (h *TemplateHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	tmpl, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get template", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, templateToResponse(tmpl))
}

// updateTemplateRequest is the JSON body for PATCH /api/v1/templates/{id}.
// All fields are optional — only non-nil values are applied.
type updateTemplateRequest struct {
	Name       *string `json:"name"`
	Content    *string `json:"content"`
	ScriptType *string `json:"script_type"`
	Arguments  *string `json:"arguments"`
}

// Update handles PATCH /api/v1/templates/{id}.
func (h *TemplateHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	var req updateTemplateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	tmpl, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get template for update", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	if req.Name != nil {
		if *req.Name == "" {
			ErrBadRequest(w, "name cannot be empty")
			return
		}
		tmpl.Name = *req.Name
	}
	if req.Content != nil {
		if *req.Content == "" {
			ErrBadRequest(w, "content cannot be empty")
			return
		}
		tmpl.Content = *req.Content
	}
	if req.ScriptType != nil {
		if !validScriptTypes[*req.ScriptType] {
			ErrBadRequest(w, "script_type must be one of: shell, interpreted")
			return
		}
		tmpl.ScriptType = *req.ScriptType
	}
	if req.Arguments != nil {
		tmpl.Arguments = *req.Arguments
	}

	if err := h.repo.Update(r.Context(), tmpl); err != nil {
		if errors.Is(err, repositories.ErrDuplicateName) {
			ErrConflict(w, "a template with this name already exists")
			return
		}
		h.logger.Error("failed to update template", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, templateToResponse(tmpl))
}

// Delete handles DELETE /api/v1/templates/{id}.
// Returns 409 if the template is still referenced by a scheduled job; the
// response message names the dependents.
func (h *TemplateHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		var inUse *repositories.InUseError
		if errors.As(err, &inUse) {
			ErrConflict(w, inUse.Error())
			return
		}
		h.logger.Error("failed to delete template", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	NoContent(w)
}
