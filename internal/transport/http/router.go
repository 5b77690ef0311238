package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apperrors "licensesrv/internal/errors"
	"licensesrv/internal/middleware"
)

// RouterConfig carries everything NewRouter mounts. Optional members may be
// nil.
type RouterConfig struct {
	Licenses *LicenseHandler
	Auth     *AuthHandler
	Settings *SettingsHandler
	Health   *HealthHandler

	Sessions   *middleware.SessionManager
	Validation *middleware.ValidationMiddleware
	Errors     *apperrors.ErrorHandler

	// Optional.
	WebSocket   http.Handler
	Metrics     http.Handler
	OTel        *middleware.OTelMiddleware
	RateLimiter *middleware.RateLimiter
	CORS        *middleware.CORSConfig

	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// NewRouter builds the chi router with the middleware chain
// RequestID, RealIP, OTel, StructuredLogger, Recoverer, SecurityHeaders, CORS.
func NewRouter(cfg RouterConfig) chi.Router {
	logger := cfg.Logger
	r := chi.NewRouter()

	// Minimal middleware so the websocket upgrade sees the raw writer.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	if cfg.WebSocket != nil {
		r.With(cfg.Sessions.RequireAdmin(logger)).Handle("/ws", cfg.WebSocket)
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		if cfg.OTel != nil {
			r.Use(cfg.OTel.Handler)
		}
		r.Use(middleware.StructuredLogger(logger))
		r.Use(middleware.Recoverer(logger))
		r.Use(middleware.SecurityHeaders)
		if cfg.CORS != nil {
			r.Use(middleware.CORS(*cfg.CORS))
		}

		r.Route("/api", func(r chi.Router) {
			r.Use(render.SetContentType(render.ContentTypeJSON))
			r.Use(middleware.Timeout(cfg.RequestTimeout))
			r.Use(cfg.Validation.ValidateRequest)

			r.Get("/health", cfg.Health.HealthCheck)
			r.Get("/health/ready", cfg.Health.ReadinessCheck)
			r.Get("/health/live", cfg.Health.LivenessCheck)
			r.Get("/debug", cfg.Settings.Debug)

			r.Group(func(r chi.Router) {
				if cfg.RateLimiter != nil {
					r.Use(cfg.RateLimiter.Handler)
				}
				r.Get("/validate", cfg.Licenses.Validate)
			})

			r.Post("/login", cfg.Auth.Login)
			r.Post("/logout", cfg.Auth.Logout)
			r.Get("/check-auth", cfg.Auth.CheckAuth)

			r.Group(func(r chi.Router) {
				r.Use(cfg.Sessions.RequireAdmin(logger))
				r.Mount("/licenses", cfg.Licenses.Routes())
				r.Post("/extend/{device_id}", cfg.Licenses.Extend)
				r.Mount("/settings", cfg.Settings.Routes())
			})
		})
	})

	r.NotFound(cfg.Errors.NotFound)
	r.MethodNotAllowed(cfg.Errors.MethodNotAllowed)
	return r
}
