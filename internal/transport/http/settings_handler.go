package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/attribute"

	"licensesrv/internal/config"
	apperrors "licensesrv/internal/errors"
	"licensesrv/internal/middleware"
	"licensesrv/internal/services"
)

// SettingsRequest is the body of POST /api/settings. Credentials may be the
// service account key as a JSON object or as a string holding it.
type SettingsRequest struct {
	UseSheets   *bool           `json:"use_sheets"`
	SheetID     *string         `json:"sheet_id" validate:"omitempty,max=256"`
	SheetName   *string         `json:"sheet_name" validate:"omitempty,max=128"`
	Credentials json.RawMessage `json:"credentials"`
}

// credentials returns the service account JSON carried by the request.
func (req SettingsRequest) credentials() (string, error) {
	raw := strings.TrimSpace(string(req.Credentials))
	if raw == "" || raw == "null" {
		return "", nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(req.Credentials, &s); err != nil {
			return "", apperrors.InvalidRequestWithError(err)
		}
		return strings.TrimSpace(s), nil
	}
	return raw, nil
}

// SettingsHandler handles the runtime backend settings.
type SettingsHandler struct {
	service    *services.SettingsService
	validation *middleware.ValidationMiddleware
	errors     *apperrors.ErrorHandler
	logger     *slog.Logger
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(service *services.SettingsService, validation *middleware.ValidationMiddleware, errorHandler *apperrors.ErrorHandler, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{
		service:    service,
		validation: validation,
		errors:     errorHandler,
		logger:     logger.With(slog.String("handler", "settings")),
	}
}

// Routes returns the admin routes mounted at /api/settings.
func (h *SettingsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Get)
	r.Post("/", h.Update)
	r.Post("/test-sheets", h.TestSheets)
	return r
}

// Get handles GET /api/settings
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Get(r.Context())
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, view)
}

// Update handles POST /api/settings
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	if err := h.validation.ValidateStruct(req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	creds, err := req.credentials()
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	ctx, span := startSpan(r, "settings.update")
	result, err := h.service.Update(ctx, actor(r), config.SettingsPatch{
		UseSheets:   req.UseSheets,
		SheetID:     req.SheetID,
		SheetName:   req.SheetName,
		Credentials: creds,
	})
	span.SetAttributes(
		attribute.String("license.backend", result.Backend),
		attribute.Bool("settings.sheets_connected", result.SheetsConnected),
	)
	endSpan(span, err)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

// TestSheets handles POST /api/settings/test-sheets. Failures are reported
// in the body with status 200.
func (h *SettingsHandler) TestSheets(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "settings.test_sheets")
	result := h.service.TestSheets(ctx)
	span.SetAttributes(attribute.Bool("settings.sheets_connected", result.SheetsConnected))
	endSpan(span, nil)
	render.JSON(w, r, result)
}

// Debug handles GET /api/debug
func (h *SettingsHandler) Debug(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Debug(r.Context()))
}
