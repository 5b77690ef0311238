package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "licensesrv/internal/errors"
	"licensesrv/internal/license"
)

// ValidationMiddleware checks request bodies and validates decoded requests
// against their struct tags.
type ValidationMiddleware struct {
	validator    *validator.Validate
	logger       *slog.Logger
	errorHandler *apperrors.ErrorHandler
	maxBodySize  int64
}

// NewValidationMiddleware creates a new validation middleware
func NewValidationMiddleware(logger *slog.Logger, errorHandler *apperrors.ErrorHandler) *ValidationMiddleware {
	v := validator.New()

	v.RegisterValidation("expiry", isExpiry)
	v.RegisterValidation("license_status", isLicenseStatus)

	// Use JSON tag names in error messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &ValidationMiddleware{
		validator:    v,
		logger:       logger.With(slog.String("component", "validation_middleware")),
		errorHandler: errorHandler,
		maxBodySize:  1 << 20,
	}
}

// ValidateRequest rejects oversized and malformed JSON bodies before they
// reach a handler.
func (m *ValidationMiddleware) ValidateRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if r.ContentLength > m.maxBodySize {
			m.errorHandler.HandleError(w, r, apperrors.NewWithDetails(
				http.StatusRequestEntityTooLarge,
				"PAYLOAD_TOO_LARGE",
				"Request body exceeds maximum allowed size",
				map[string]interface{}{
					"max_size": m.maxBodySize,
					"size":     r.ContentLength,
				},
			))
			return
		}

		if r.Body != nil {
			body, err := io.ReadAll(io.LimitReader(r.Body, m.maxBodySize+1))
			if err != nil {
				m.logger.ErrorContext(r.Context(), "failed to read request body",
					slog.String("error", err.Error()),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				m.errorHandler.HandleError(w, r, apperrors.InvalidRequestWithError(err))
				return
			}
			if int64(len(body)) > m.maxBodySize {
				m.errorHandler.HandleError(w, r, apperrors.New(
					http.StatusRequestEntityTooLarge,
					"PAYLOAD_TOO_LARGE",
					"Request body exceeds maximum allowed size",
				))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if len(bytes.TrimSpace(body)) > 0 && !json.Valid(body) {
				m.errorHandler.HandleError(w, r, apperrors.New(
					http.StatusBadRequest,
					"INVALID_REQUEST",
					"Request body contains invalid JSON",
				))
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// ValidateStruct validates a struct and returns validation errors
func (m *ValidationMiddleware) ValidateStruct(v interface{}) error {
	err := m.validator.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperrors.InvalidRequestWithError(err)
	}

	validationErrors := make([]apperrors.ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		validationErrors = append(validationErrors, apperrors.ValidationError{
			Field:   fe.Field(),
			Message: formatValidationError(fe),
		})
	}
	return apperrors.NewValidationErrors(validationErrors)
}

func formatValidationError(err validator.FieldError) string {
	field := err.Field()
	param := err.Param()

	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(param, " ", ", "))
	case "expiry":
		return fmt.Sprintf("%s must be an ISO 8601 date or timestamp", field)
	case "license_status":
		return fmt.Sprintf("%s must be active or disabled", field)
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, param)
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, param)
	default:
		return fmt.Sprintf("%s failed %s validation", field, err.Tag())
	}
}

// isExpiry accepts the formats license.ParseExpiry reads. Empty values are
// left to the required tag.
func isExpiry(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	_, ok := license.ParseExpiry(s, nil)
	return ok
}

func isLicenseStatus(fl validator.FieldLevel) bool {
	switch license.Status(fl.Field().String()) {
	case "", license.StatusActive, license.StatusDisabled:
		return true
	}
	return false
}
