package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"licensesrv/internal/config"
	apperrors "licensesrv/internal/errors"
	"licensesrv/internal/exporter"
	"licensesrv/internal/infrastructure"
	"licensesrv/internal/keycodec"
	"licensesrv/internal/license"
	"licensesrv/internal/middleware"
	"licensesrv/internal/security"
	"licensesrv/internal/services"
	"licensesrv/internal/storage"
	handlers "licensesrv/internal/transport/http"
	ws "licensesrv/internal/websocket"
)

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders

	Store    *license.Store
	Hub      *ws.Hub
	Licenses *services.LicenseService
	Settings *services.SettingsService
	Health   *services.HealthService

	Router chi.Router
	Server *http.Server

	startupErr error
	listener   net.Listener
	stopOnce   sync.Once
	stopErr    error
}

// New wires the application from cfg. The license backend is opened here;
// when the configured backend cannot be reached the server starts on the
// SQLite database and reports the failure through /api/debug.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Application, err error) {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	a := &Application{Config: cfg, Logger: logger}

	logger.InfoContext(ctx, "application starting",
		slog.String("name", config.AppName),
		slog.String("version", config.AppVersion),
		slog.String("address", cfg.Address()))

	providers, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.OTelProviders = providers

	var backend license.Backend
	defer func() {
		if err != nil {
			a.release(ctx, backend)
		}
	}()

	vault, err := security.NewVault(cfg.Security.SessionSecret, security.DefaultEncryptionConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize settings vault: %w", err)
	}
	settingsStore := config.NewSettingsStore(cfg.SettingsFile, vault, logger)

	backend, err = a.openBackend(ctx, settingsStore)
	if err != nil {
		return nil, err
	}

	loc, err := cfg.Keys.Location()
	if err != nil {
		return nil, err
	}

	storeMetrics, err := license.InitializeMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize license metrics: %w", err)
	}
	a.Store = license.NewStore(backend, keycodec.New(cfg.Keys.Secret),
		license.WithLocation(loc),
		license.WithLogger(logger),
		license.WithMetrics(storeMetrics))

	hubMetrics, err := ws.NewMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize websocket metrics: %w", err)
	}
	a.Hub = ws.NewHub(logger, hubMetrics)

	a.Licenses = services.NewLicenseService(a.Store, security.NewInputValidator(nil, logger), a.Hub, cfg.Keys.DefaultDays, logger)
	a.Settings = services.NewSettingsService(settingsStore, cfg.Storage, a.Store, nil, a.Hub, logger)
	a.Settings.SetStartupError(a.startupErr)
	a.Health = services.NewHealthService(config.AppVersion, a.Store, a.Hub, logger)

	if err := a.setupRouter(loc); err != nil {
		return nil, err
	}
	a.createServer()
	return a, nil
}

// release closes what a failed New had already opened.
func (a *Application) release(ctx context.Context, backend license.Backend) {
	ctx = context.WithoutCancel(ctx)
	if backend != nil {
		a.Logger.WarnContext(ctx, "closing license backend after failed startup",
			slog.String("backend", backend.Name()))
		if err := backend.Close(); err != nil {
			a.Logger.ErrorContext(ctx, "error closing license backend", slog.String("error", err.Error()))
		}
	}
	if err := a.OTelProviders.Shutdown(ctx); err != nil {
		a.Logger.ErrorContext(ctx, "error shutting down OpenTelemetry", slog.String("error", err.Error()))
	}
}

// openBackend connects the backend the effective settings select. A failure
// other than on SQLite itself falls back to SQLite and is kept as the
// startup error.
func (a *Application) openBackend(ctx context.Context, settings *config.SettingsStore) (license.Backend, error) {
	effective, err := settings.Effective(ctx, a.Config.Storage)
	if err != nil {
		a.Logger.WarnContext(ctx, "saved settings unreadable, using static configuration",
			slog.String("error", err.Error()))
	}

	primary, err := services.BackendConfig(effective)
	if err == nil {
		var backend license.Backend
		backend, err = storage.Open(ctx, primary, a.Logger)
		if err == nil {
			return backend, nil
		}
	}
	if effective.Kind() == config.BackendSQLite {
		return nil, fmt.Errorf("failed to open license database: %w", err)
	}

	a.startupErr = err
	a.Logger.ErrorContext(ctx, "configured backend unavailable, falling back to sqlite",
		slog.String("backend", effective.Kind()),
		slog.String("error", err.Error()))

	backend, err := storage.Open(ctx, storage.Config{
		Kind:       storage.KindSQLite,
		SQLitePath: a.Config.Storage.SQLitePath,
		Timeout:    a.Config.Storage.Timeout,
	}, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open fallback license database: %w", err)
	}
	return backend, nil
}

func (a *Application) setupRouter(loc *time.Location) error {
	cfg := a.Config
	errorHandler := apperrors.NewErrorHandler(a.Logger, false)
	validation := middleware.NewValidationMiddleware(a.Logger, errorHandler)
	sessions := middleware.NewSessionManager(cfg.Security)

	otelMiddleware, err := middleware.NewOTelMiddleware(a.OTelProviders)
	if err != nil {
		return err
	}

	routerCfg := handlers.RouterConfig{
		Licenses:       handlers.NewLicenseHandler(a.Licenses, exporter.New(loc), validation, errorHandler, a.Logger),
		Auth:           handlers.NewAuthHandler(sessions, validation, errorHandler, a.Logger),
		Settings:       handlers.NewSettingsHandler(a.Settings, validation, errorHandler, a.Logger),
		Health:         handlers.NewHealthHandler(a.Health, a.Logger),
		Sessions:       sessions,
		Validation:     validation,
		Errors:         errorHandler,
		WebSocket:      ws.NewHandler(a.Hub, cfg.WebSocket, cfg.Security.AllowedOrigins, a.Logger),
		Metrics:        a.OTelProviders.PrometheusHTTP,
		OTel:           otelMiddleware,
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         a.Logger,
	}
	if rl := cfg.Security.RateLimit; rl.Enabled {
		routerCfg.RateLimiter = middleware.NewRateLimiter(rl.RPS, rl.Burst, a.Logger)
	}
	if cfg.Security.EnableCORS {
		routerCfg.CORS = &middleware.CORSConfig{
			AllowedOrigins:   cfg.Security.AllowedOrigins,
			AllowCredentials: true,
			Logger:           a.Logger,
		}
	}

	a.Router = handlers.NewRouter(routerCfg)
	return nil
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           a.Config.Address(),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(a.Logger.Handler(), slog.LevelError),
	}
}

// Start binds the listen address and starts the websocket hub. Run calls it
// when it has not been called yet.
func (a *Application) Start(ctx context.Context) error {
	if a.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	a.listener = ln
	a.Hub.Start()

	a.Logger.InfoContext(ctx, "application started",
		slog.String("address", ln.Addr().String()),
		slog.String("backend", a.Store.BackendName()),
		slog.String("level", a.Config.Logging.Level))
	return nil
}

// Addr returns the bound address once Start has run.
func (a *Application) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Run serves until ctx is cancelled, SIGINT or SIGTERM arrives, or the
// server fails, then shuts everything down.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.Server.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.Logger.InfoContext(ctx, "shutdown requested")
		return a.Stop(context.WithoutCancel(ctx))
	})
	return g.Wait()
}

// Stop drains the HTTP server, closes websocket clients, the license backend
// and the telemetry providers. Later calls return the first result.
func (a *Application) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.stopErr = a.shutdown(ctx)
	})
	return a.stopErr
}

func (a *Application) shutdown(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
	}
	// Shutdown only closes listeners handed to Serve.
	if a.listener != nil {
		if err := a.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("listener close error: %w", err))
		}
	}
	a.Hub.Stop()
	if err := a.Store.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("license backend close error: %w", err))
	}
	if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
		a.Logger.ErrorContext(ctx, "error shutting down OpenTelemetry", slog.String("error", err.Error()))
	}

	a.Logger.InfoContext(ctx, "application shutdown complete")
	return errors.Join(errs...)
}
