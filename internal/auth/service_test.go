package auth

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/runfleet-io/runfleet/internal/db"
	"github.com/runfleet-io/runfleet/internal/repositories"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	key, _ := db.DeriveKey("auth-test-key")
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
	return database
}

func newTestService(t *testing.T) (*Service, repositories.UserRepository) {
	t.Helper()
	users := repositories.NewUserRepository(openTestDB(t))
	return NewService(users, newTestManager(t), zap.NewNop()), users
}

func seedUser(t *testing.T, users repositories.UserRepository, username, password, role string) *db.User {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	user := &db.User{
		Username:     username,
		PasswordHash: db.EncryptedString(hash),
		Role:         role,
	}
	if err := users.Create(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func TestLoginSuccess(t *testing.T) {
	svc, users := newTestService(t)
	ctx := context.Background()
	seeded := seedUser(t, users, "alice", "hunter2hunter2", "admin")

	token, user, err := svc.Login(ctx, "alice", "hunter2hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if user.ID != seeded.ID {
		t.Errorf("returned user %s, want %s", user.ID, seeded.ID)
	}

	claims, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Username != "alice" || claims.Role != "admin" {
		t.Errorf("claims = %q/%q, want alice/admin", claims.Username, claims.Role)
	}

	// A successful login stamps last_login_at.
	got, err := users.GetByID(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.LastLoginAt == nil {
		t.Error("last_login_at not stamped on login")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	svc, users := newTestService(t)
	seedUser(t, users, "alice", "hunter2hunter2", "user")

	_, _, err := svc.Login(context.Background(), "alice", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password = %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginUnknownUser(t *testing.T) {
	svc, _ := newTestService(t)

	// Unknown usernames produce the same error as wrong passwords so the
	// endpoint cannot be used to enumerate accounts.
	_, _, err := svc.Login(context.Background(), "nobody", "whatever")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user = %v, want ErrInvalidCredentials", err)
	}
}
