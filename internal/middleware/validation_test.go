package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "licensesrv/internal/errors"
)

type issueBody struct {
	DeviceID   string `json:"device_id" validate:"required,max=128"`
	Days       *int   `json:"days" validate:"omitempty,gte=1,lte=3650"`
	ExpiryDate string `json:"expiry_date" validate:"expiry"`
	Status     string `json:"status" validate:"license_status"`
}

func newValidation() *ValidationMiddleware {
	return NewValidationMiddleware(quietLogger(), apperrors.NewErrorHandler(quietLogger(), false))
}

func TestValidateStruct(t *testing.T) {
	v := newValidation()
	days := 30
	assert.NoError(t, v.ValidateStruct(issueBody{DeviceID: "DEV1", Days: &days, ExpiryDate: "2025-01-01", Status: "active"}))
	assert.NoError(t, v.ValidateStruct(issueBody{DeviceID: "DEV1"}))

	zero := 0
	err := v.ValidateStruct(issueBody{Days: &zero, ExpiryDate: "next week", Status: "paused"})
	require.Error(t, err)
	var apiErr *apperrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	fields := apiErr.Details.([]apperrors.ValidationError)
	got := map[string]string{}
	for _, f := range fields {
		got[f.Field] = f.Message
	}
	assert.Equal(t, "device_id is required", got["device_id"])
	assert.Equal(t, "days must be greater than or equal to 1", got["days"])
	assert.Equal(t, "expiry_date must be an ISO 8601 date or timestamp", got["expiry_date"])
	assert.Equal(t, "status must be active or disabled", got["status"])
}

func TestValidateRequestRejectsInvalidJSON(t *testing.T) {
	h := newValidation().ValidateRequest(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/licenses", strings.NewReader(`{"device_id":`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Request body contains invalid JSON", body["detail"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/licenses", strings.NewReader(`{"device_id":"A"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/logout", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestValidateRequestRejectsLargeBody(t *testing.T) {
	h := newValidation().ValidateRequest(okHandler)
	big := `{"notes":"` + strings.Repeat("x", 2<<20) + `"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/licenses", strings.NewReader(big)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
