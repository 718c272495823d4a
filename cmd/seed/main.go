// Package main implements a one-shot seed command that creates a user
// directly in the Runfleet database. It lives inside the server module so
// it can access internal/* packages.
//
// Usage:
//
//	go run ./cmd/seed \
//	  --username admin \
//	  --password secret \
//	  --role admin
//
// Environment variables:
//
//	RUNFLEET_DB_DRIVER   sqlite or postgres (default: sqlite)
//	RUNFLEET_DB_DSN      SQLite file path or Postgres DSN (default: ./runfleet.db)
//	RUNFLEET_SECRET_KEY  Master encryption key — must match the value used by the server
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/runfleet-io/runfleet/internal/auth"
	"github.com/runfleet-io/runfleet/internal/db"
	"github.com/runfleet-io/runfleet/internal/repositories"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	username := flag.String("username", "", "Username (required)")
	password := flag.String("password", "", "Plain-text password (required)")
	email := flag.String("email", "", "Email address")
	role := flag.String("role", "admin", "Role: admin or user")
	flag.Parse()

	if *username == "" {
		return fmt.Errorf("--username is required")
	}
	if *password == "" {
		return fmt.Errorf("--password is required")
	}
	if *role != "admin" && *role != "user" {
		return fmt.Errorf("--role must be 'admin' or 'user'")
	}

	driver := envOrDefault("RUNFLEET_DB_DRIVER", "sqlite")
	dsn := envOrDefault("RUNFLEET_DB_DSN", "./runfleet.db")

	secretKey := os.Getenv("RUNFLEET_SECRET_KEY")
	if secretKey == "" {
		return fmt.Errorf(
			"RUNFLEET_SECRET_KEY is not set\n" +
				"  Set it to the same value used by the server, otherwise the\n" +
				"  encrypted password will be unreadable at login time.",
		)
	}

	// InitEncryption must be called before any DB operation so that
	// EncryptedString fields are encoded correctly on write.
	key, _ := db.DeriveKey(secretKey)
	if err := db.InitEncryption(key); err != nil {
		return fmt.Errorf("init encryption: %w", err)
	}

	logger, _ := zap.NewDevelopment()

	database, err := db.New(db.Config{
		Driver:   driver,
		DSN:      dsn,
		Logger:   logger,
		LogLevel: gormlogger.Silent, // suppress GORM query logs in seed output
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	hashed, err := auth.HashPassword(*password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	userRepo := repositories.NewUserRepository(database)

	user := &db.User{
		Username:     *username,
		Email:        *email,
		PasswordHash: db.EncryptedString(hashed),
		Role:         *role,
	}

	if err := userRepo.Create(context.Background(), user); err != nil {
		if errors.Is(err, repositories.ErrDuplicateName) {
			return fmt.Errorf("a user with username %q already exists", *username)
		}
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Printf("✓ User created\n")
	fmt.Printf("  ID:       %s\n", user.ID)
	fmt.Printf("  Username: %s\n", user.Username)
	fmt.Printf("  Role:     %s\n", user.Role)

	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
