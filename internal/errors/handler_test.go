package errors

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensesrv/internal/keycodec"
)

func newTestHandler(buf *bytes.Buffer) *ErrorHandler {
	return NewErrorHandler(slog.New(slog.NewJSONHandler(buf, nil)), false)
}

func TestErrorToProblemMapsLicenseErrors(t *testing.T) {
	h := newTestHandler(&bytes.Buffer{})
	req := httptest.NewRequest(http.MethodGet, "/api/licenses/ABC", nil)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"not found", ErrNotFound, http.StatusNotFound, TypeLicenseNotFound},
		{"wrapped not found", fmt.Errorf("find ABC: %w", ErrNotFound), http.StatusNotFound, TypeLicenseNotFound},
		{"already exists", ErrAlreadyExists, http.StatusConflict, TypeLicenseExists},
		{"invalid input", fmt.Errorf("%w: no updates provided", ErrInvalidInput), http.StatusBadRequest, TypeValidation},
		{"backend down", fmt.Errorf("%w: dial tcp", ErrBackendUnavailable), http.StatusServiceUnavailable, TypeBackendUnavailable},
		{"malformed key", keycodec.ErrMalformedKey, http.StatusBadRequest, TypeLicenseKeyMalformed},
		{"checksum mismatch", keycodec.ErrChecksumMismatch, http.StatusBadRequest, TypeLicenseKeyTampered},
		{"api error", ErrUnauthorized, http.StatusUnauthorized, TypeUnauthorized},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, TypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			problem := h.ErrorToProblem(tt.err, req)
			assert.Equal(t, tt.wantStatus, problem.Status)
			assert.Equal(t, tt.wantType, problem.Type)
			assert.Equal(t, "/api/licenses/ABC", problem.Instance)
		})
	}
}

func TestHandleErrorWritesProblemJSON(t *testing.T) {
	logs := &bytes.Buffer{}
	h := newTestHandler(logs)
	req := httptest.NewRequest(http.MethodDelete, "/api/licenses/ABC", nil)
	rec := httptest.NewRecorder()

	h.HandleError(rec, req, fmt.Errorf("delete: %w", ErrNotFound))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, TypeLicenseNotFound, body["type"])
	assert.Equal(t, float64(http.StatusNotFound), body["status"])
	assert.Contains(t, body, "trace_id")
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Device ID not found", body["error"])
	assert.Contains(t, logs.String(), "request failed")
}

func TestProblemDetailsExtensionsCannotOverrideStandardMembers(t *testing.T) {
	pd := NewProblemDetails(http.StatusConflict, TypeConflict, "Conflict", "dup", "/x").
		WithExtension("status", 200).
		WithExtension("device_id", "ABC")

	raw, err := json.Marshal(pd)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, float64(http.StatusConflict), body["status"])
	assert.Equal(t, "ABC", body["device_id"])
}

func TestAPIErrorHelpers(t *testing.T) {
	err := NewValidationErrors([]ValidationError{{Field: "device_id", Message: "required"}})
	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
	assert.Equal(t, "Request validation failed", err.Error())

	nf := NotFoundError("license")
	assert.Equal(t, "license not found", nf.Message)
}
