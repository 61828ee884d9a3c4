// Package cli provides common CLI initialization utilities.
// This package consolidates the wiring shared by cmd/kakeibo and
// cmd/kakeibo-admin.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"kakeibo/internal/backend"
	"kakeibo/internal/cache"
	"kakeibo/internal/config"
	"kakeibo/internal/core"
	applog "kakeibo/internal/log"
	"kakeibo/internal/services"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger initializes structured logging at level and installs it as the
// default logger. Unknown levels fall back to info.
func SetupLogger(level string) *applog.Logger {
	cfg := applog.DefaultConfig()
	if lvl, err := config.ParseLevel(level); err == nil {
		cfg.Level = lvl
	}
	logger := applog.New(cfg)
	applog.SetDefault(logger)
	return logger
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *applog.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// Runtime is the wired ledger stack: snapshot store, optional event client,
// manager and service.
type Runtime struct {
	Config     *config.Config
	Logger     *applog.Logger
	Backend    *backend.BackendResult
	StatsCache *cache.LRU[core.PeriodStats]
	Manager    *services.Manager
	Ledger     *services.LedgerService
}

// NewRuntime builds the backend selected by cfg and the services on top of
// it. The ledger itself is loaded lazily by the manager.
func NewRuntime(ctx context.Context, cfg *config.Config, logger *applog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("ledger timezone: %w", err)
	}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	factory := backend.NewFactory(logger.WithComponent(applog.ComponentBackend).Logger)
	result, err := factory.CreateBackend(ctx, backendCfg)
	if err != nil {
		return nil, err
	}

	opts := services.ManagerOptions{WorkDir: cfg.WorkDir}
	if result.Events != nil {
		opts.Notifier = result.Events
	}
	manager := services.NewManager(result.Store, opts)

	stats := cache.NewLRU[core.PeriodStats](cfg.StatsCacheSize, cfg.StatsCacheTTL)
	ledger := services.NewLedgerService(manager, services.ServiceOptions{
		Location:   loc,
		StatsCache: stats,
	})

	logger.Info("Runtime initialized",
		"backend", cfg.SnapshotBackend,
		"timezone", loc.String(),
		"snapshot_events", result.Events != nil,
		"instance_id", cfg.InstanceID)

	return &Runtime{
		Config:     cfg,
		Logger:     logger,
		Backend:    result,
		StatsCache: stats,
		Manager:    manager,
		Ledger:     ledger,
	}, nil
}

// Close releases the ledger and the backend resources. Unsaved changes are
// not flushed here.
func (r *Runtime) Close() error {
	var errs []error
	if err := r.Manager.Close(); err != nil {
		errs = append(errs, err)
	}
	if r.Backend.Cleanup != nil {
		if err := r.Backend.Cleanup(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
