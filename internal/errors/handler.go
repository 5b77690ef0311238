package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"licensesrv/internal/keycodec"
)

// Common error types following RFC 7807
const (
	TypeValidation   = "/errors/validation"
	TypeNotFound     = "/errors/not-found"
	TypeUnauthorized = "/errors/unauthorized"
	TypeRateLimit    = "/errors/rate-limit"
	TypeInternal     = "/errors/internal"
	TypeServiceDown  = "/errors/service-unavailable"
	TypeTimeout      = "/errors/timeout"
	TypeConflict     = "/errors/conflict"
)

// Domain-specific error types
const (
	TypeLicenseNotFound     = "/errors/license/not-found"
	TypeLicenseExists       = "/errors/license/already-exists"
	TypeLicenseKeyMalformed = "/errors/license/malformed-key"
	TypeLicenseKeyTampered  = "/errors/license/checksum-mismatch"
	TypeBackendUnavailable  = "/errors/license/backend-unavailable"
	TypeWebSocketUpgrade    = "/errors/websocket/upgrade-failed"
)

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	logger       *slog.Logger
	includeStack bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *slog.Logger, includeStack bool) *ErrorHandler {
	return &ErrorHandler{
		logger:       logger.With(slog.String("component", "error_handler")),
		includeStack: includeStack,
	}
}

// HandleError converts any error to RFC 7807 format and responds
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	reqID := middleware.GetReqID(r.Context())
	problem := h.ErrorToProblem(err, r)
	problem.WithExtension("trace_id", reqID)
	// Admin clients read success/error from every failed call.
	problem.WithExtension("success", false).WithExtension("error", problem.Detail)

	level := slog.LevelWarn
	if problem.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "request failed",
		slog.String("error", err.Error()),
		slog.Int("status", problem.Status),
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	if h.includeStack && problem.Status >= http.StatusInternalServerError {
		problem.WithExtension("stack", getStackTrace())
	}

	render.Render(w, r, problem)
}

// ErrorToProblem converts an error to RFC 7807 Problem Details
func (h *ErrorHandler) ErrorToProblem(err error, r *http.Request) *ProblemDetails {
	path := r.URL.Path

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return h.apiErrorToProblem(apiErr, r)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return NewProblemDetails(http.StatusGatewayTimeout, TypeTimeout,
			"Request Timeout", "The request took too long to process and was cancelled", path)

	case errors.Is(err, ErrNotFound):
		return NewProblemDetails(http.StatusNotFound, TypeLicenseNotFound,
			"License Not Found", "Device ID not found", path)

	case errors.Is(err, ErrAlreadyExists):
		return NewProblemDetails(http.StatusConflict, TypeLicenseExists,
			"License Already Exists", "Device ID already exists", path)

	case errors.Is(err, keycodec.ErrMalformedKey):
		return NewProblemDetails(http.StatusBadRequest, TypeLicenseKeyMalformed,
			"Malformed License Key", err.Error(), path)

	case errors.Is(err, keycodec.ErrChecksumMismatch):
		return NewProblemDetails(http.StatusBadRequest, TypeLicenseKeyTampered,
			"License Key Checksum Mismatch", err.Error(), path)

	case errors.Is(err, ErrInvalidInput):
		return NewProblemDetails(http.StatusBadRequest, TypeValidation,
			"Invalid Input", err.Error(), path)

	case errors.Is(err, ErrBackendUnavailable):
		return NewProblemDetails(http.StatusServiceUnavailable, TypeBackendUnavailable,
			"Storage Backend Unavailable", "The license storage backend could not be reached", path).
			WithExtension("retry_after", 30)

	default:
		return NewProblemDetails(http.StatusInternalServerError, TypeInternal,
			"Internal Server Error", "An unexpected error occurred while processing your request", path)
	}
}

// apiErrorToProblem converts APIError to ProblemDetails
func (h *ErrorHandler) apiErrorToProblem(apiErr *APIError, r *http.Request) *ProblemDetails {
	problemType := TypeInternal
	switch apiErr.ErrorCode {
	case "VALIDATION_FAILED", "INVALID_REQUEST":
		problemType = TypeValidation
	case "NOT_FOUND":
		problemType = TypeNotFound
	case "UNAUTHORIZED", "INVALID_CREDENTIALS":
		problemType = TypeUnauthorized
	case "CONFLICT":
		problemType = TypeConflict
	case "RATE_LIMIT_EXCEEDED":
		problemType = TypeRateLimit
	case "SERVICE_UNAVAILABLE":
		problemType = TypeServiceDown
	}

	problem := NewProblemDetails(
		apiErr.StatusCode,
		problemType,
		http.StatusText(apiErr.StatusCode),
		apiErr.Message,
		r.URL.Path,
	).WithExtension("error_code", apiErr.ErrorCode)

	if apiErr.Details != nil {
		problem.WithExtension("details", apiErr.Details)
	}

	return problem
}

// NotFound returns a standard 404 error
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusNotFound,
		TypeNotFound,
		"Not Found",
		"The requested resource was not found",
		r.URL.Path,
	).WithExtension("trace_id", middleware.GetReqID(r.Context()))

	render.Render(w, r, problem)
}

// MethodNotAllowed returns a standard 405 error
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusMethodNotAllowed,
		TypeInternal,
		"Method Not Allowed",
		fmt.Sprintf("Method %s is not allowed for this endpoint", r.Method),
		r.URL.Path,
	).WithExtension("trace_id", middleware.GetReqID(r.Context()))

	render.Render(w, r, problem)
}

func getStackTrace() string {
	buf := make([]byte, 1024*8)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
