package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	consoleapi "github.com/curtismu7/mfa-console/internal/console/http"
	"github.com/curtismu7/mfa-console/internal/mfa/provider"
	"github.com/curtismu7/mfa-console/internal/mfa/service"
	"github.com/curtismu7/mfa-console/internal/mfa/store"
	"github.com/curtismu7/mfa-console/internal/mfa/store/drivers/memory"
	"github.com/curtismu7/mfa-console/internal/mfa/store/drivers/sqlite"
	"github.com/curtismu7/mfa-console/internal/mfa/tracker"
	"github.com/curtismu7/mfa-console/pkg/cryptox"
	"github.com/curtismu7/mfa-console/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the console application with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db        store.Store
	track     tracker.Tracker
	transport *provider.Transport

	// Services
	hub *service.Hub

	// HTTP server
	server *http.Server
	router *consoleapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "mfa-console",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	// Point secret encryption at the master key file when one is configured
	if app.cfg.MasterKeyPath != "" {
		cryptox.SetMasterKeyPath(app.cfg.MasterKeyPath)
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.logger.Info("console starting", "port", app.cfg.Port, "version", BuildVersion, "storage", app.cfg.StorageMode)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a shutdown signal or server error
	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down console...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("console stopped")
	return nil
}

// initDatabase initializes the credential store and applies migrations
func (app *Application) initDatabase() error {
	if app.cfg.StorageMode == "memory" {
		app.db = memory.NewStore()
		app.logger.Info("using in-memory credential store, data will not survive restart")
		return nil
	}

	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initServices initializes the outbound transport and per-environment services
func (app *Application) initServices() {
	if app.cfg.TrackerCapacity > 0 {
		app.track = tracker.NewRing(app.cfg.TrackerCapacity)
	} else {
		app.track = tracker.Nop{}
	}

	app.transport = provider.NewTransport(nil, app.track, app.cfg.TransportRetries)

	app.hub = service.NewHub(service.HubConfig{
		RenewalThreshold: app.cfg.RenewalThreshold,
		AutoRenew:        app.cfg.AutoRenew,
	}, app.db, app.transport, app.logger)
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := consoleapi.NewRouter(
		app.hub,
		app.db,
		app.track,
		BuildVersion,
		app.logger,
	)
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
