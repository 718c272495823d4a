package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/runfleet-io/runfleet/internal/repositories"
)

// SettingsHandler serves the application settings endpoints. Admin only.
type SettingsHandler struct {
	repo   repositories.SettingsRepository
	logger *zap.Logger
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(repo repositories.SettingsRepository, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{
		repo:   repo,
		logger: logger.Named("settings_handler"),
	}
}

// settingsResponse is the JSON representation of the tunable settings.
type settingsResponse struct {
	// CronHistoryLimit caps how many schedule log rows are kept; 0 keeps
	// everything.
	CronHistoryLimit int `json:"cron_history_limit"`
}

// Get handles GET /api/v1/settings.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	limit, err := h.repo.CronHistoryLimit(r.Context())
	if err != nil {
		h.logger.Error("failed to read settings", zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, settingsResponse{CronHistoryLimit: limit})
}

// updateSettingsRequest is the JSON body for PUT /api/v1/settings.
type updateSettingsRequest struct {
	CronHistoryLimit *int `json:"cron_history_limit"`
}

// Update handles PUT /api/v1/settings. The new retention cap applies on
// the next sweep; no restart is needed.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.CronHistoryLimit != nil {
		if *req.CronHistoryLimit < 0 {
			ErrBadRequest(w, "cron_history_limit cannot be negative")
			return
		}
		if err := h.repo.SetCronHistoryLimit(r.Context(), *req.CronHistoryLimit); err != nil {
			h.logger.Error("failed to update settings", zap.Error(err))
			ErrInternal(w)
			return
		}
	}

	limit, err := h.repo.CronHistoryLimit(r.Context())
	if err != nil {
		h.logger.Error("failed to read settings", zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, settingsResponse{CronHistoryLimit: limit})
}
