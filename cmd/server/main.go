package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/runfleet-io/runfleet/internal/api"
	"github.com/runfleet-io/runfleet/internal/auth"
	"github.com/runfleet-io/runfleet/internal/db"
	"github.com/runfleet-io/runfleet/internal/executor"
	"github.com/runfleet-io/runfleet/internal/repositories"
	"github.com/runfleet-io/runfleet/internal/runner"
	"github.com/runfleet-io/runfleet/internal/scheduler"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	httpAddr   string
	dbDriver   string
	dbDSN      string
	secretKey  string
	jwtPrivKey string
	jwtPubKey  string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "runfleet-server",
		Short: "Runfleet server — multi-host remote command orchestrator",
		Long: `Runfleet server manages a catalog of hosts, script templates and SSH
credentials, runs scripts across host fleets in parallel, and fires
recurring runs from cron schedules. It exposes a REST API for the web GUI.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.httpAddr, "http-addr", envOrDefault("RUNFLEET_HTTP_ADDR", ":8080"), "HTTP API listen address")
	root.PersistentFlags().StringVar(&cfg.dbDriver, "db-driver", envOrDefault("RUNFLEET_DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&cfg.dbDSN, "db-dsn", envOrDefault("RUNFLEET_DB_DSN", "./runfleet.db"), "Database DSN or file path for SQLite")
	root.PersistentFlags().StringVar(&cfg.secretKey, "secret-key", envOrDefault("RUNFLEET_SECRET_KEY", ""), "Master secret for encrypting credentials at rest")
	root.PersistentFlags().StringVar(&cfg.jwtPrivKey, "jwt-private-key", envOrDefault("RUNFLEET_JWT_PRIVATE_KEY", ""), "Path to RSA private key PEM for JWT signing (generated in memory when empty)")
	root.PersistentFlags().StringVar(&cfg.jwtPubKey, "jwt-public-key", envOrDefault("RUNFLEET_JWT_PUBLIC_KEY", ""), "Path to RSA public key PEM for JWT verification")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("RUNFLEET_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("runfleet-server %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting runfleet server",
		zap.String("version", version),
		zap.String("http_addr", cfg.httpAddr),
		zap.String("db_driver", cfg.dbDriver),
		zap.String("log_level", cfg.logLevel),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- At-rest encryption ---
	key, devFallback := db.DeriveKey(cfg.secretKey)
	if devFallback {
		logger.Warn("RUNFLEET_SECRET_KEY is not set — using an insecure built-in development key; " +
			"secrets written with it cannot be trusted in production")
	}
	if err := db.InitEncryption(key); err != nil {
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}

	// --- Database ---
	database, err := db.New(db.Config{
		Driver:   cfg.dbDriver,
		DSN:      cfg.dbDSN,
		Logger:   logger,
		LogLevel: gormlogger.Warn,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// --- Repositories ---
	templates := repositories.NewTemplateRepository(database)
	hosts := repositories.NewHostRepository(database)
	groups := repositories.NewGroupRepository(database)
	credentials := repositories.NewCredentialRepository(database)
	schedules := repositories.NewScheduleRepository(database)
	jobs := repositories.NewJobRepository(database)
	settings := repositories.NewSettingsRepository(database)
	users := repositories.NewUserRepository(database)
	hostLogs := repositories.NewHostLogStore(database)

	// --- Auth ---
	var jwtMgr *auth.JWTManager
	if cfg.jwtPrivKey != "" && cfg.jwtPubKey != "" {
		jwtMgr, err = auth.NewJWTManagerFromFiles(cfg.jwtPrivKey, cfg.jwtPubKey, "runfleet")
	} else {
		logger.Info("no JWT key pair configured, generating an ephemeral one")
		jwtMgr, err = auth.NewJWTManagerGenerated("runfleet")
	}
	if err != nil {
		return fmt.Errorf("failed to initialize JWT manager: %w", err)
	}
	authService := auth.NewService(users, jwtMgr, logger)

	// --- Execution pipeline ---
	exec := executor.New(hostLogs, logger)
	jobRunner := runner.New(templates, hosts, groups, credentials, jobs, hostLogs, exec, logger)

	// --- Scheduler ---
	sched, err := scheduler.New(schedules, templates, hosts, credentials, settings, hostLogs, jobRunner, logger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// --- HTTP server ---
	router := api.NewRouter(api.RouterConfig{
		AuthService: authService,
		JWTManager:  jwtMgr,
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

	srv := &http.Server{
		Addr:              cfg.httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.httpAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down runfleet server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", zap.Error(err))
	}

	if err := sched.Stop(); err != nil {
		logger.Warn("scheduler shutdown error", zap.Error(err))
	}

	// Let in-flight ad-hoc fan-outs finish writing their logs.
	jobRunner.Wait()

	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
