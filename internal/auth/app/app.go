package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/flightdesk/flightdesk/internal/auth/http"
	"github.com/flightdesk/flightdesk/internal/auth/metrics"
	"github.com/flightdesk/flightdesk/internal/auth/service"
	"github.com/flightdesk/flightdesk/internal/auth/store"
	"github.com/flightdesk/flightdesk/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the auth service application with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	stores   *Stores
	metrics  *metrics.Metrics
	services *Services

	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg:    cfg,
		logger: NewLogger(cfg, "auth-service"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stores, err := OpenStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.stores = stores

	if err := stores.DB.ApplyMigrations(ctx); err != nil {
		_ = stores.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	app.logger.Info("database migrations applied successfully",
		"store", cfg.Store,
		"token_store", cfg.TokenStore,
	)

	app.metrics = metrics.New(prometheus.DefaultRegisterer)

	services, err := NewServices(cfg, stores, app.metrics)
	if err != nil {
		_ = stores.Close()
		return nil, err
	}
	app.services = services

	app.housekeepingService = service.NewHousekeepingService(
		stores.Tokens,
		app.metrics,
		app.logger,
		cfg.HousekeepingInterval,
	)

	app.initHTTP()
	return app, nil
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg Config, svc string) *slog.Logger {
	return slogx.New(slogx.Config{
		Service: svc,
		Version: BuildVersion,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		File:    cfg.LogFile,
	})
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("auth service starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"reuse_detection", app.cfg.ReuseDetection,
	)

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
		app.housekeepingService.Stop()
		_ = app.stores.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	app.logger.Info("shutting down auth service...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.stores.Close(); err != nil {
		app.logger.Error("error closing stores", "error", err)
		return err
	}

	app.logger.Info("auth service stopped")
	return nil
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		BuildVersion,
		app.stores.DB,
		app.stores.TokenPinger(),
		app.metrics,
		prometheus.DefaultGatherer,
		app.logger,
	)

	// Wire services to router
	router.TokenService = app.services.Tokens
	router.UserService = app.services.Users
	router.RolesService = app.services.Roles
	router.BootstrapService = app.services.Bootstrap
	router.MFAService = app.services.MFA
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// Services is the wired service layer shared by the server and the CLI.
type Services struct {
	Tokens    *service.TokenService
	Users     *service.UserService
	Roles     *service.RolesService
	MFA       *service.MFAService
	Bootstrap *service.BootstrapService
}

// NewServices wires the services over stores. The signing secret and pepper
// are taken from cfg once and never change afterwards.
func NewServices(cfg Config, stores *Stores, m *metrics.Metrics) (*Services, error) {
	signer, err := newSigner(cfg)
	if err != nil {
		return nil, err
	}

	tokens := &service.TokenService{
		Signer:         signer,
		Verifier:       signer,
		Users:          stores.DB.Users(),
		Tokens:         stores.Tokens,
		Issuer:         cfg.Issuer,
		AccessTTL:      cfg.AccessTTL,
		RefreshTTL:     cfg.RefreshTTL,
		ReuseDetection: cfg.ReuseDetection,
		Metrics:        m,
	}
	users := &service.UserService{
		Store:   stores.DB,
		Hasher:  newHasher(cfg),
		Tokens:  tokens,
		Metrics: m,
	}

	return &Services{
		Tokens: tokens,
		Users:  users,
		Roles:  &service.RolesService{Users: stores.DB.Users()},
		MFA:    &service.MFAService{Users: stores.DB.Users(), Issuer: cfg.TOTPIssuer},
		Bootstrap: &service.BootstrapService{
			Store: stores.DB,
			Users: users,
			Token: cfg.BootstrapToken,
		},
	}, nil
}

// Stores bundles the user database with the refresh token backend, which is
// either the same database or redis.
type Stores struct {
	DB     store.Store
	Tokens store.RefreshTokens

	closers []func() error
	pinger  httpapi.Pinger
}

// TokenPinger returns the dependency /readyz checks for the token store.
func (s *Stores) TokenPinger() httpapi.Pinger {
	if s.pinger != nil {
		return s.pinger
	}
	return s.DB
}

// Close releases every opened backend, most recent first.
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}
