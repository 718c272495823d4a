package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/runfleet-io/runfleet/internal/auth"
	"github.com/runfleet-io/runfleet/internal/db"
	"github.com/runfleet-io/runfleet/internal/executor"
	"github.com/runfleet-io/runfleet/internal/repositories"
	"github.com/runfleet-io/runfleet/internal/runner"
	"github.com/runfleet-io/runfleet/internal/scheduler"
)

// apiFixture wires a complete server against an in-memory database and
// exposes tokens for an admin and a regular user.
type apiFixture struct {
	server     *httptest.Server
	adminToken string
	userToken  string
	database   *gorm.DB
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	key, _ := db.DeriveKey("api-test-key")
	if err := db.InitEncryption(key); err != nil {
		t.Fatalf("InitEncryption: %v", err)
	}
	database, err := db.New(db.Config{
		Driver:   "sqlite",
		DSN:      ":memory:",
		Logger:   zap.NewNop(),
		LogLevel: gormlogger.Silent,
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := database.DB(); err == nil {
			sqlDB.Close()
		}
	})

	logger := zap.NewNop()
	templates := repositories.NewTemplateRepository(database)
	hosts := repositories.NewHostRepository(database)
	groups := repositories.NewGroupRepository(database)
	credentials := repositories.NewCredentialRepository(database)
	schedules := repositories.NewScheduleRepository(database)
	jobs := repositories.NewJobRepository(database)
	settings := repositories.NewSettingsRepository(database)
	users := repositories.NewUserRepository(database)
	logs := repositories.NewHostLogStore(database)

	exec := executor.New(logs, logger)
	jobRunner := runner.New(templates, hosts, groups, credentials, jobs, logs, exec, logger)
	sched, err := scheduler.New(schedules, templates, hosts, credentials, settings, logs, jobRunner, logger)
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}
	t.Cleanup(func() { sched.Stop() })

	tokens, err := auth.NewJWTManagerGenerated("runfleet-test")
	if err != nil {
		t.Fatalf("NewJWTManagerGenerated: %v", err)
	}
	authService := auth.NewService(users, tokens, logger)

	handler := NewRouter(RouterConfig{
		AuthService: authService,
		JWTManager:  tokens,
		Runner:      jobRunner,
		Scheduler:   sched,
		DB:          database,
		Logger:      logger,
		Templates:   templates,
		Hosts:       hosts,
		Groups:      groups,
		Credentials: credentials,
		Schedules:   schedules,
		Jobs:        jobs,
		Settings:    settings,
		Users:       users,
	})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	f := &apiFixture{server: server, database: database}
	f.adminToken = f.seedAndLogin(t, users, authService, "admin", "admin-password", "admin")
	f.userToken = f.seedAndLogin(t, users, authService, "bob", "user-password1", "user")
	return f
}

func (f *apiFixture) seedAndLogin(t *testing.T, users repositories.UserRepository, svc *auth.Service, username, password, role string) string {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := users.Create(context.Background(), &db.User{
		Username:     username,
		PasswordHash: db.EncryptedString(hash),
		Role:         role,
	}); err != nil {
		t.Fatalf("seed user %q: %v", username, err)
	}
	token, _, err := svc.Login(context.Background(), username, password)
	if err != nil {
		t.Fatalf("login %q: %v", username, err)
	}
	return token
}

// do issues a JSON request with an optional bearer token and decodes the
// response body into a generic envelope.
func (f *apiFixture) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			t.Fatalf("%s %s: decode response: %v", method, path, err)
		}
	}
	return resp.StatusCode, decoded
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("response has no error object: %v", body)
	}
	code, _ := errObj["code"].(string)
	return code
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)

	status, body := f.do(t, http.MethodGet, "/healthz", "", nil)
	if status != http.StatusOK {
		t.Fatalf("GET /healthz = %d, want 200", status)
	}
	if body["status"] != "ok" {
		t.Errorf("healthz body = %v", body)
	}
}

func TestLoginAndReject(t *testing.T) {
	f := newAPIFixture(t)

	status, body := f.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "admin",
		"password": "admin-password",
	})
	if status != http.StatusOK {
		t.Fatalf("login = %d (%v), want 200", status, body)
	}
	data := body["data"].(map[string]any)
	if data["token"] == "" {
		t.Error("login response has no token")
	}

	status, body = f.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "admin",
		"password": "wrong",
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("bad login = %d, want 401", status)
	}
	if code := errorCode(t, body); code != "invalid_credentials" {
		t.Errorf("error code = %q, want invalid_credentials", code)
	}
}

func TestAuthenticationRequired(t *testing.T) {
	f := newAPIFixture(t)

	status, _ := f.do(t, http.MethodGet, "/api/v1/templates", "", nil)
	if status != http.StatusUnauthorized {
		t.Errorf("unauthenticated list = %d, want 401", status)
	}

	status, _ = f.do(t, http.MethodGet, "/api/v1/templates", "not-a-token", nil)
	if status != http.StatusUnauthorized {
		t.Errorf("garbage token list = %d, want 401", status)
	}
}

func TestTemplateCRUD(t *testing.T) {
	f := newAPIFixture(t)

	status, body := f.do(t, http.MethodPost, "/api/v1/templates", f.userToken, map[string]string{
		"name":    "uptime",
		"content": "uptime",
	})
	if status != http.StatusCreated {
		t.Fatalf("create template = %d (%v), want 201", status, body)
	}
	data := body["data"].(map[string]any)
	id := data["id"].(string)
	if data["script_type"] != "shell" {
		t.Errorf("default script_type = %v, want shell", data["script_type"])
	}

	// Duplicate names conflict.
	status, body = f.do(t, http.MethodPost, "/api/v1/templates", f.userToken, map[string]string{
		"name":    "uptime",
		"content": "w",
	})
	if status != http.StatusConflict {
		t.Fatalf("duplicate create = %d, want 409", status)
	}
	if code := errorCode(t, body); code != "conflict" {
		t.Errorf("error code = %q, want conflict", code)
	}

	status, body = f.do(t, http.MethodGet, "/api/v1/templates/"+id, f.userToken, nil)
	if status != http.StatusOK {
		t.Fatalf("get template = %d, want 200", status)
	}
	if body["data"].(map[string]any)["name"] != "uptime" {
		t.Errorf("unexpected template: %v", body)
	}

	status, _ = f.do(t, http.MethodDelete, "/api/v1/templates/"+id, f.userToken, nil)
	if status != http.StatusNoContent {
		t.Errorf("delete template = %d, want 204", status)
	}
}

func TestAdminOnlyRoutes(t *testing.T) {
	f := newAPIFixture(t)

	status, _ := f.do(t, http.MethodGet, "/api/v1/settings", f.userToken, nil)
	if status != http.StatusForbidden {
		t.Errorf("user GET /settings = %d, want 403", status)
	}

	status, _ = f.do(t, http.MethodGet, "/api/v1/settings", f.adminToken, nil)
	if status != http.StatusOK {
		t.Errorf("admin GET /settings = %d, want 200", status)
	}

	status, _ = f.do(t, http.MethodGet, "/api/v1/users", f.userToken, nil)
	if status != http.StatusForbidden {
		t.Errorf("user GET /users = %d, want 403", status)
	}
}

func TestRunJobValidation(t *testing.T) {
	f := newAPIFixture(t)

	// Seed a template and credential but no hosts.
	status, body := f.do(t, http.MethodPost, "/api/v1/templates", f.userToken, map[string]string{
		"name":    "uptime",
		"content": "uptime",
	})
	if status != http.StatusCreated {
		t.Fatalf("create template = %d, want 201", status)
	}
	templateID := body["data"].(map[string]any)["id"].(string)

	status, body = f.do(t, http.MethodPost, "/api/v1/credentials", f.userToken, map[string]string{
		"name":        "deploy-key",
		"private_key": "fake",
	})
	if status != http.StatusCreated {
		t.Fatalf("create credential = %d (%v), want 201", status, body)
	}
	credentialID := body["data"].(map[string]any)["id"].(string)

	status, body = f.do(t, http.MethodPost, "/api/v1/jobs/run", f.userToken, map[string]any{
		"template_id":   templateID,
		"credential_id": credentialID,
		"host_ids":      []string{},
	})
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("run with no targets = %d (%v), want 422", status, body)
	}

	// No job row was created for the rejected dispatch.
	status, body = f.do(t, http.MethodGet, "/api/v1/jobs", f.userToken, nil)
	if status != http.StatusOK {
		t.Fatalf("list jobs = %d, want 200", status)
	}
	total := body["data"].(map[string]any)["total"].(float64)
	if total != 0 {
		t.Errorf("jobs created despite rejection: %v", total)
	}
}

func TestGetMe(t *testing.T) {
	f := newAPIFixture(t)

	status, body := f.do(t, http.MethodGet, "/api/v1/users/me", f.userToken, nil)
	if status != http.StatusOK {
		t.Fatalf("GET /users/me = %d, want 200", status)
	}
	data := body["data"].(map[string]any)
	if data["username"] != "bob" || data["role"] != "user" {
		t.Errorf("unexpected profile: %v", data)
	}
	if _, leaked := data["password_hash"]; leaked {
		t.Error("password hash leaked in profile response")
	}
}
