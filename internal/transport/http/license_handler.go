package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/attribute"

	apperrors "licensesrv/internal/errors"
	"licensesrv/internal/exporter"
	"licensesrv/internal/license"
	"licensesrv/internal/middleware"
	"licensesrv/internal/services"
)

// CreateLicenseRequest is the body of POST /api/licenses. Every field but
// device_id is optional; days defaults to the configured validity.
type CreateLicenseRequest struct {
	DeviceID     string `json:"device_id" validate:"required,max=128"`
	Days         *int   `json:"days" validate:"omitempty,min=1,max=36500"`
	LicenseKey   string `json:"license_key" validate:"max=512"`
	ExpiryDate   string `json:"expiry_date" validate:"expiry"`
	Status       string `json:"status" validate:"license_status"`
	CustomerName string `json:"customer_name" validate:"max=2000"`
	Notes        string `json:"notes" validate:"max=2000"`
}

// ExtendRequest is the body of POST /api/extend/{device_id}.
type ExtendRequest struct {
	Days *int `json:"days" validate:"omitempty,min=1,max=36500"`
}

// LicenseHandler handles validation and license administration.
type LicenseHandler struct {
	service    *services.LicenseService
	exporter   *exporter.Exporter
	validation *middleware.ValidationMiddleware
	errors     *apperrors.ErrorHandler
	logger     *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service *services.LicenseService, exp *exporter.Exporter, validation *middleware.ValidationMiddleware, errorHandler *apperrors.ErrorHandler, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service:    service,
		exporter:   exp,
		validation: validation,
		errors:     errorHandler,
		logger:     logger.With(slog.String("handler", "license")),
	}
}

// Routes returns the admin routes mounted at /api/licenses.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/export", h.Export)
	r.Get("/{device_id}", h.Get)
	r.Put("/{device_id}", h.Update)
	r.Delete("/{device_id}", h.Delete)
	return r
}

// Validate handles GET /api/validate
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "validate")
	deviceID := r.URL.Query().Get("device_id")
	result, err := h.service.Validate(ctx, deviceID)
	span.SetAttributes(
		attribute.String("license.fingerprint", license.Fingerprint(deviceID)),
		attribute.Bool("license.valid", result.Valid),
	)
	endSpan(span, err)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

// List handles GET /api/licenses
func (h *LicenseHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "list")
	records, err := h.service.List(ctx)
	span.SetAttributes(attribute.Int("license.count", len(records)))
	endSpan(span, err)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	if records == nil {
		records = []license.Record{}
	}
	render.JSON(w, r, map[string]interface{}{
		"licenses": records,
		"count":    len(records),
	})
}

// Export handles GET /api/licenses/export. format=csv selects CSV; the
// default is an XLSX workbook.
func (h *LicenseHandler) Export(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "export")
	records, err := h.service.List(ctx)
	endSpan(span, err)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	stamp := time.Now().UTC().Format("20060102")
	if strings.EqualFold(r.URL.Query().Get("format"), "csv") {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="licenses-%s.csv"`, stamp))
		if err := h.exporter.WriteCSV(w, records, exporter.CSVOptions{BOMPrefix: true}); err != nil {
			h.logger.ErrorContext(ctx, "csv export failed", slog.String("error", err.Error()))
		}
		return
	}

	w.Header().Set("Content-Type", exporter.ContentTypeXLSX)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="licenses-%s.xlsx"`, stamp))
	if err := h.exporter.WriteWorkbook(w, records); err != nil {
		h.logger.ErrorContext(ctx, "workbook export failed", slog.String("error", err.Error()))
	}
}

// Create handles POST /api/licenses
func (h *LicenseHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateLicenseRequest
	if err := decodeJSON(r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		h.errors.HandleError(w, r, apperrors.New(http.StatusBadRequest, "INVALID_REQUEST", "Missing device_id"))
		return
	}
	if err := h.validation.ValidateStruct(req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	ctx, span := startSpan(r, "create")
	rec, err := h.service.Issue(ctx, actor(r), services.IssueInput{
		DeviceID:     req.DeviceID,
		Days:         req.Days,
		LicenseKey:   req.LicenseKey,
		ExpiryDate:   req.ExpiryDate,
		Status:       req.Status,
		CustomerName: req.CustomerName,
		Notes:        req.Notes,
	})
	endSpan(span, err)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, map[string]interface{}{
		"success":     true,
		"message":     "License created",
		"license_key": rec.LicenseKey,
		"expiry_date": rec.ExpiryDate,
		"license":     rec,
	})
}

// Get handles GET /api/licenses/{device_id}
func (h *LicenseHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "get")
	rec, err := h.service.Get(ctx, chi.URLParam(r, "device_id"))
	endSpan(span, err)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, rec)
}

// Update handles PUT /api/licenses/{device_id}. Only fields present in the
// body change.
func (h *LicenseHandler) Update(w http.ResponseWriter, r *http.Request) {
	var u license.RecordUpdate
	if err := decodeJSON(r, &u); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	if u.IsEmpty() {
		h.errors.HandleError(w, r, apperrors.New(http.StatusBadRequest, "INVALID_REQUEST", "No updates provided"))
		return
	}
	if u.Status.Set && u.Status.Value != license.StatusActive && u.Status.Value != license.StatusDisabled {
		h.errors.HandleError(w, r, apperrors.NewValidationErrors([]apperrors.ValidationError{
			{Field: "status", Message: "status must be active or disabled"},
		}))
		return
	}
	if u.ExpiryDate.Set && u.ExpiryDate.Value != "" {
		if _, ok := license.ParseExpiry(u.ExpiryDate.Value, nil); !ok {
			h.errors.HandleError(w, r, apperrors.NewValidationErrors([]apperrors.ValidationError{
				{Field: "expiry_date", Message: "expiry_date must be an ISO 8601 date or timestamp"},
			}))
			return
		}
	}

	ctx, span := startSpan(r, "update")
	span.SetAttributes(attribute.StringSlice("license.fields", u.Fields()))
	err := h.service.Update(ctx, actor(r), chi.URLParam(r, "device_id"), u)
	endSpan(span, err)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"success": true,
		"message": "License updated",
	})
}

// Delete handles DELETE /api/licenses/{device_id}
func (h *LicenseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r, "delete")
	err := h.service.Delete(ctx, actor(r), chi.URLParam(r, "device_id"))
	endSpan(span, err)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"success": true,
		"message": "License deleted",
	})
}

// Extend handles POST /api/extend/{device_id}
func (h *LicenseHandler) Extend(w http.ResponseWriter, r *http.Request) {
	var req ExtendRequest
	if err := decodeJSON(r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	if err := h.validation.ValidateStruct(req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	days := h.service.DefaultDays()
	if req.Days != nil {
		days = *req.Days
	}

	ctx, span := startSpan(r, "extend")
	span.SetAttributes(attribute.Int("license.days", days))
	ext, err := h.service.Extend(ctx, actor(r), chi.URLParam(r, "device_id"), &days)
	endSpan(span, err)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"success":     true,
		"message":     fmt.Sprintf("Extended by %d days", days),
		"new_expiry":  ext.ExpiryDate,
		"license_key": ext.LicenseKey,
		"key_days":    ext.KeyDays,
	})
}
