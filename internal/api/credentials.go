package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/runfleet-io/runfleet/internal/db"
	"github.com/runfleet-io/runfleet/internal/repositories"
)

// CredentialHandler groups all SSH-credential HTTP handlers.
type CredentialHandler struct {
	repo   repositories.CredentialRepository
	logger *zap.Logger
}

// NewCredentialHandler creates a new CredentialHandler.
func NewCredentialHandler(repo repositories.CredentialRepository, logger *zap.Logger) *CredentialHandler {
	return &CredentialHandler{
		repo:   repo,
		logger: logger.Named("credential_handler"),
	}
}

// credentialResponse is the JSON representation of a credential.
// The private key is intentionally omitted from all responses — it is
// write-only and never returned to the client after creation.
type credentialResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func credentialToResponse(c *db.Credential) credentialResponse {
	return credentialResponse{
		ID:        c.ID.String(),
		Name:      c.Name,
		CreatedAt: c.CreatedAt.UTC().String(),
		UpdatedAt: c.UpdatedAt.UTC().String(),
	}
}

// listCredentialsResponse wraps a paginated list of credentials.
type listCredentialsResponse struct {
	Items []credentialResponse `json:"items"`
	Total int64                `json:"total"`
}

// List handles GET /api/v1/credentials.
func (h *CredentialHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := paginationOpts(r)

	creds, total, err := h.repo.List(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list credentials", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]credentialResponse, len(creds))
	for i := range creds {
		items[i] = credentialToResponse(&creds[i])
	}

	Ok(w, listCredentialsResponse{Items: items, Total: total})
}

// createCredentialRequest is the JSON body expected by POST /api/v1/credentials.
// PrivateKey is the PEM-encoded key material. It is encrypted at rest
// automatically by EncryptedString — the handler stores it as plain text
// and the DB layer handles encryption transparently.
type createCredentialRequest struct {
	Name       string `json:"name"`
	PrivateKey string `json:"private_key"`
}

// Create handles POST /api/v1/credentials.
func (h *CredentialHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createCredentialRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Name == "" {
		ErrBadRequest(w, "name is required")
		return
	}
	if req.PrivateKey == "" {
		ErrBadRequest(w, "private_key is required")
		return
	}

	cred := &db.Credential{
		Name:       req.Name,
		PrivateKey: db.EncryptedString(req.PrivateKey),
	}

	if err := h.repo.Create(r.Context(), cred); err != nil {
		if errors.Is(err, repositories.ErrDuplicateName) {
			ErrConflict(w, "a credential with this name already exists")
			return
		}
		h.logger.Error("failed to create credential", zap.Error(err))
		ErrInternal(w)
		return
	}

	Created(w, credentialToResponse(cred))
}

// GetByID handles GET /api/v1/credentials/{id}.
func (h *CredentialHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	cred, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get credential", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, credentialToResponse(cred))
}

// updateCredentialRequest is the JSON body for PATCH /api/v1/credentials/{id}.
// All fields are optional — only non-nil values are applied.
type updateCredentialRequest struct {
	Name       *string `json:"name"`
	PrivateKey *string `json:"private_key"`
}

// Update handles PATCH /api/v1/credentials/{id}.
func (h *CredentialHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	var req updateCredentialRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	cred, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get credential for update", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	if req.Name != nil {
		if *req.Name == "" {
			ErrBadRequest(w, "name cannot be empty")
			return
		}
		cred.Name = *req.Name
	}
	if req.PrivateKey != nil {
		if *req.PrivateKey == "" {
			ErrBadRequest(w, "private_key cannot be empty")
			return
		}
		cred.PrivateKey = db.EncryptedString(*req.PrivateKey)
	}

	if err := h.repo.Update(r.Context(), cred); err != nil {
		if errors.Is(err, repositories.ErrDuplicateName) {
			ErrConflict(w, "a credential with this name already exists")
			return
		}
		h.logger.Error("failed to update credential", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, credentialToResponse(cred))
}

// Delete handles DELETE /api/v1/credentials/{id}.
func (h *CredentialHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to delete credential", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	NoContent(w)
}
