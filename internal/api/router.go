package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/runfleet-io/runfleet/internal/auth"
	"github.com/runfleet-io/runfleet/internal/db"
	"github.com/runfleet-io/runfleet/internal/repositories"
	"github.com/runfleet-io/runfleet/internal/runner"
	"github.com/runfleet-io/runfleet/internal/scheduler"
)

// RouterConfig holds all dependencies needed to build the HTTP router.
// It is populated in main.go after all components are initialized and
// passed to NewRouter as a single struct to keep the constructor signature
// manageable as the number of dependencies grows.
type RouterConfig struct {
	AuthService *auth.Service
	JWTManager  *auth.JWTManager
	Runner      *runner.Runner
	Scheduler   *scheduler.Scheduler
	DB          *gorm.DB
	Logger      *zap.Logger

	// Repositories — used directly by handlers; there is no separate
	// service layer for plain CRUD.
	Templates   repositories.TemplateRepository
	Hosts       repositories.HostRepository
	Groups      repositories.GroupRepository
	Credentials repositories.CredentialRepository
	Schedules   repositories.ScheduleRepository
	Jobs        repositories.JobRepository
	Settings    repositories.SettingsRepository
	Users       repositories.UserRepository
}

// NewRouter builds and returns the fully configured Chi router.
// All resources are registered under /api/v1; /healthz and /metrics sit at
// the root, unauthenticated, for probes and scrapers.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// --- Global middleware ---
	// RequestID generates a unique ID for each request, used in logs and
	// response headers for tracing.
	r.Use(middleware.RequestID)

	// RealIP extracts the real client IP from X-Forwarded-For or X-Real-IP
	// headers when the server runs behind a reverse proxy.
	r.Use(middleware.RealIP)

	// RequestLogger logs every request with method, path, status and bytes.
	r.Use(RequestLogger(cfg.Logger))

	// Recoverer catches panics in handlers, logs them, and returns a 500
	// instead of crashing the server.
	r.Use(middleware.Recoverer)

	// --- Initialize handlers ---
	authHandler := NewAuthHandler(cfg.AuthService, cfg.Logger)
	templateHandler := NewTemplateHandler(cfg.Templates, cfg.Logger)
	hostHandler := NewHostHandler(cfg.Hosts, cfg.Logger)
	groupHandler := NewGroupHandler(cfg.Groups, cfg.Hosts, cfg.Logger)
	credentialHandler := NewCredentialHandler(cfg.Credentials, cfg.Logger)
	jobHandler := NewJobHandler(cfg.Jobs, cfg.Runner, cfg.Logger)
	scheduleHandler := NewScheduleHandler(cfg.Schedules, cfg.Templates, cfg.Credentials, cfg.Hosts, cfg.Groups, cfg.Scheduler, cfg.Logger)
	settingsHandler := NewSettingsHandler(cfg.Settings, cfg.Logger)
	userHandler := NewUserHandler(cfg.Users, cfg.Logger)

	// --- Probes ---
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := db.Ping(req.Context(), cfg.DB); err != nil {
			JSON(w, http.StatusServiceUnavailable, envelope{"status": "degraded"})
			return
		}
		JSON(w, http.StatusOK, envelope{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {

		// --- Public routes (no authentication required) ---
		r.Group(func(r chi.Router) {
			r.Post("/auth/login", authHandler.Login)
		})

		// --- Authenticated routes (valid JWT required) ---
		r.Group(func(r chi.Router) {
			r.Use(Authenticate(cfg.JWTManager))

			// Current user profile
			r.Get("/users/me", userHandler.GetMe)

			// Templates
			r.Get("/templates", templateHandler.List)
			r.Post("/templates", templateHandler.Create)
			r.Get("/templates/{id}", templateHandler.GetByID)
			r.Patch("/templates/{id}", templateHandler.Update)
			r.Delete("/templates/{id}", templateHandler.Delete)

			// Hosts
			r.Get("/hosts", hostHandler.List)
			r.Post("/hosts", hostHandler.Create)
			r.Get("/hosts/{id}", hostHandler.GetByID)
			r.Patch("/hosts/{id}", hostHandler.Update)
			r.Delete("/hosts/{id}", hostHandler.Delete)

			// Groups and memberships
			r.Get("/groups", groupHandler.List)
			r.Post("/groups", groupHandler.Create)
			r.Get("/groups/{id}", groupHandler.GetByID)
			r.Patch("/groups/{id}", groupHandler.Update)
			r.Delete("/groups/{id}", groupHandler.Delete)
			r.Post("/groups/{id}/members", groupHandler.AddMember)
			r.Delete("/groups/{id}/members/{hostID}", groupHandler.RemoveMember)

			// Credentials
			r.Get("/credentials", credentialHandler.List)
			r.Post("/credentials", credentialHandler.Create)
			r.Get("/credentials/{id}", credentialHandler.GetByID)
			r.Patch("/credentials/{id}", credentialHandler.Update)
			r.Delete("/credentials/{id}", credentialHandler.Delete)

			// Ad-hoc jobs
			r.Post("/jobs/run", jobHandler.Run)
			r.Get("/jobs", jobHandler.List)
			r.Get("/jobs/{id}", jobHandler.GetByID)
			r.Get("/jobs/{id}/logs", jobHandler.GetLogs)
			r.Delete("/jobs/{id}", jobHandler.Delete)

			// Scheduled jobs
			r.Get("/schedules", scheduleHandler.List)
			r.Post("/schedules", scheduleHandler.Create)
			r.Get("/schedules/{id}", scheduleHandler.GetByID)
			r.Patch("/schedules/{id}", scheduleHandler.Update)
			r.Delete("/schedules/{id}", scheduleHandler.Delete)
			r.Post("/schedules/{id}/trigger", scheduleHandler.Trigger)
			r.Get("/schedules/{id}/logs", scheduleHandler.GetLogs)

			// --- Admin-only routes ---
			r.Group(func(r chi.Router) {
				r.Use(RequireRole("admin"))

				// User management
				r.Get("/users", userHandler.List)
				r.Post("/users", userHandler.Create)
				r.Patch("/users/{id}", userHandler.Update)
				r.Delete("/users/{id}", userHandler.Delete)

				// Settings
				r.Get("/settings", settingsHandler.Get)
				r.Put("/settings", settingsHandler.Update)
			})
		})
	})

	return r
}
