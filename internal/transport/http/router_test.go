package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/xuri/excelize/v2"

	"licensesrv/internal/config"
	apperrors "licensesrv/internal/errors"
	"licensesrv/internal/exporter"
	"licensesrv/internal/keycodec"
	"licensesrv/internal/license"
	"licensesrv/internal/license/licensetest"
	"licensesrv/internal/middleware"
	"licensesrv/internal/security"
	"licensesrv/internal/services"
)

const (
	adminUser     = "admin"
	adminPassword = "s3cret-pass"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type RouterSuite struct {
	suite.Suite
	backend *licensetest.MemoryBackend
	store   *license.Store
	cfg     RouterConfig
	router  http.Handler
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	logger := quietLogger()
	s.backend = licensetest.NewMemoryBackend("sqlite")
	s.store = license.NewStore(s.backend, keycodec.New("test-secret"),
		license.WithLocation(time.UTC),
		license.WithLogger(logger))

	enc := security.DefaultEncryptionConfig()
	enc.SCryptN = 1024
	vault, err := security.NewVault("test-settings-secret", enc, logger)
	s.Require().NoError(err)
	settingsStore := config.NewSettingsStore(filepath.Join(s.T().TempDir(), "server_settings.json"), vault, logger)
	base := config.Default().Storage
	base.SQLitePath = ":memory:"

	errorHandler := apperrors.NewErrorHandler(logger, false)
	validation := middleware.NewValidationMiddleware(logger, errorHandler)
	sessions := middleware.NewSessionManager(config.SecurityConfig{
		AdminUsername: adminUser,
		AdminPassword: adminPassword,
		SessionSecret: "session-secret-for-tests",
	})

	licenseService := services.NewLicenseService(s.store, security.NewInputValidator(nil, logger), nil, 30, logger)
	settingsService := services.NewSettingsService(settingsStore, base, s.store, nil, nil, logger)
	healthService := services.NewHealthService("test", s.store, nil, logger)

	s.cfg = RouterConfig{
		Licenses:       NewLicenseHandler(licenseService, exporter.New(time.UTC), validation, errorHandler, logger),
		Auth:           NewAuthHandler(sessions, validation, errorHandler, logger),
		Settings:       NewSettingsHandler(settingsService, validation, errorHandler, logger),
		Health:         NewHealthHandler(healthService, logger),
		Sessions:       sessions,
		Validation:     validation,
		Errors:         errorHandler,
		RateLimiter:    middleware.NewRateLimiter(1000, 1000, logger),
		RequestTimeout: 5 * time.Second,
		Logger:         logger,
	}
	s.router = NewRouter(s.cfg)
}

func (s *RouterSuite) do(method, target, body string, admin bool) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		req.Header.Set("Authorization", "Bearer "+adminPassword)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *RouterSuite) decode(rec *httptest.ResponseRecorder) map[string]interface{} {
	var body map[string]interface{}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func (s *RouterSuite) create(deviceID string) map[string]interface{} {
	rec := s.do(http.MethodPost, "/api/licenses", fmt.Sprintf(`{"device_id":%q,"customer_name":"Acme"}`, deviceID), true)
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	return s.decode(rec)
}

func (s *RouterSuite) TestValidateMissingDeviceID() {
	rec := s.do(http.MethodGet, "/api/validate", "", false)
	s.Equal(http.StatusOK, rec.Code)
	body := s.decode(rec)
	s.Equal(false, body["valid"])
	s.Equal(services.ReasonMissingDeviceID, body["message"])
}

func (s *RouterSuite) TestValidateLifecycle() {
	body := s.decode(s.do(http.MethodGet, "/api/validate?device_id=dev-1", "", false))
	s.Equal(false, body["valid"])
	s.Equal(license.ReasonNotActivated, body["message"])

	created := s.create("dev-1")
	body = s.decode(s.do(http.MethodGet, "/api/validate?device_id=DEV-1", "", false))
	s.Equal(true, body["valid"])
	s.Equal(created["license_key"], body["license_key"])
	s.Contains(body, "days_left")

	s.Equal(http.StatusOK, s.do(http.MethodPut, "/api/licenses/dev-1", `{"status":"disabled"}`, true).Code)
	body = s.decode(s.do(http.MethodGet, "/api/validate?device_id=dev-1", "", false))
	s.Equal(false, body["valid"])
	s.Equal(license.ReasonDisabled, body["message"])
}

func (s *RouterSuite) TestValidateRateLimited() {
	cfg := s.cfg
	cfg.RateLimiter = middleware.NewRateLimiter(0.001, 1, quietLogger())
	s.router = NewRouter(cfg)
	s.Equal(http.StatusOK, s.do(http.MethodGet, "/api/validate?device_id=x", "", false).Code)
	rec := s.do(http.MethodGet, "/api/validate?device_id=x", "", false)
	s.Equal(http.StatusTooManyRequests, rec.Code)
	s.NotEmpty(rec.Header().Get("Retry-After"))
}

func (s *RouterSuite) TestAdminRoutesRequireAuth() {
	for _, target := range []string{"/api/licenses", "/api/settings", "/api/licenses/export"} {
		rec := s.do(http.MethodGet, target, "", false)
		s.Equal(http.StatusUnauthorized, rec.Code, target)
		s.Equal("Unauthorized", s.decode(rec)["error"])
	}
	s.Equal(http.StatusUnauthorized, s.do(http.MethodPost, "/api/extend/dev-1", "", false).Code)
	s.Equal(http.StatusOK, s.do(http.MethodGet, "/api/licenses?token="+adminPassword, "", false).Code)
}

func (s *RouterSuite) TestLoginSessionFlow() {
	rec := s.do(http.MethodPost, "/api/login", `{"username":"admin","password":"wrong"}`, false)
	s.Equal(http.StatusUnauthorized, rec.Code)
	body := s.decode(rec)
	s.Equal(false, body["success"])
	s.Equal(apperrors.ErrInvalidLogin.Message, body["error"])

	rec = s.do(http.MethodPost, "/api/login", `{"username":"admin","password":"`+adminPassword+`"}`, false)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal(true, s.decode(rec)["success"])
	cookies := rec.Result().Cookies()
	s.Require().NotEmpty(cookies)

	req := httptest.NewRequest(http.MethodGet, "/api/check-auth", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	body = s.decode(rec)
	s.Equal(true, body["logged_in"])
	s.Equal(adminUser, body["username"])

	req = httptest.NewRequest(http.MethodGet, "/api/licenses", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/api/logout", "", false)
	s.Equal(true, s.decode(rec)["success"])
	s.Equal(false, s.decode(s.do(http.MethodGet, "/api/check-auth", "", false))["logged_in"])
}

func (s *RouterSuite) TestCreateAndList() {
	created := s.create("dev-1")
	s.Equal(true, created["success"])
	s.Equal("License created", created["message"])
	key, _ := created["license_key"].(string)
	s.Len(key, 24)
	s.NotEmpty(created["expiry_date"])

	rec := s.do(http.MethodPost, "/api/licenses", `{"device_id":"DEV-1"}`, true)
	s.Equal(http.StatusConflict, rec.Code)
	s.Equal("Device ID already exists", s.decode(rec)["error"])

	rec = s.do(http.MethodPost, "/api/licenses", `{"customer_name":"nobody"}`, true)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal("Missing device_id", s.decode(rec)["error"])

	rec = s.do(http.MethodPost, "/api/licenses", `{"device_id":"dev-2","days":0}`, true)
	s.Equal(http.StatusBadRequest, rec.Code)

	body := s.decode(s.do(http.MethodGet, "/api/licenses", "", true))
	s.Equal(float64(1), body["count"])
	licenses := body["licenses"].([]interface{})
	s.Equal("DEV-1", licenses[0].(map[string]interface{})["device_id"])
}

func (s *RouterSuite) TestListEmpty() {
	body := s.decode(s.do(http.MethodGet, "/api/licenses", "", true))
	s.Equal(float64(0), body["count"])
	s.Equal([]interface{}{}, body["licenses"])
}

func (s *RouterSuite) TestGetUpdateDelete() {
	s.create("dev-1")

	body := s.decode(s.do(http.MethodGet, "/api/licenses/dev-1", "", true))
	s.Equal("Acme", body["customer_name"])

	rec := s.do(http.MethodGet, "/api/licenses/missing", "", true)
	s.Equal(http.StatusNotFound, rec.Code)
	s.Equal("Device ID not found", s.decode(rec)["error"])

	rec = s.do(http.MethodPut, "/api/licenses/dev-1", `{}`, true)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal("No updates provided", s.decode(rec)["error"])

	rec = s.do(http.MethodPut, "/api/licenses/dev-1", `{"status":"paused"}`, true)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPut, "/api/licenses/dev-1", `{"notes":"renewed","customer_name":"Acme Ltd"}`, true)
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("License updated", s.decode(rec)["message"])
	body = s.decode(s.do(http.MethodGet, "/api/licenses/dev-1", "", true))
	s.Equal("renewed", body["notes"])
	s.Equal("Acme Ltd", body["customer_name"])

	s.Equal(http.StatusNotFound, s.do(http.MethodPut, "/api/licenses/missing", `{"notes":"x"}`, true).Code)

	rec = s.do(http.MethodDelete, "/api/licenses/dev-1", "", true)
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("License deleted", s.decode(rec)["message"])
	s.Equal(http.StatusNotFound, s.do(http.MethodDelete, "/api/licenses/dev-1", "", true).Code)
}

func (s *RouterSuite) TestExtend() {
	s.create("dev-1")

	rec := s.do(http.MethodPost, "/api/extend/dev-1", `{"days":10}`, true)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	body := s.decode(rec)
	s.Equal("Extended by 10 days", body["message"])
	s.NotEmpty(body["new_expiry"])
	s.NotEmpty(body["license_key"])

	body = s.decode(s.do(http.MethodPost, "/api/extend/dev-1", "", true))
	s.Equal("Extended by 30 days", body["message"])

	s.Equal(http.StatusNotFound, s.do(http.MethodPost, "/api/extend/missing", `{"days":5}`, true).Code)
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/api/extend/dev-1", `{"days":-5}`, true).Code)
}

func (s *RouterSuite) TestExport() {
	s.create("dev-1")
	s.create("dev-2")

	rec := s.do(http.MethodGet, "/api/licenses/export", "", true)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal(exporter.ContentTypeXLSX, rec.Header().Get("Content-Type"))
	s.Contains(rec.Header().Get("Content-Disposition"), ".xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	s.Require().NoError(err)
	defer f.Close()
	rows, err := f.GetRows(exporter.LicensesSheet)
	s.Require().NoError(err)
	s.Len(rows, 3)
	s.Equal("DEV-1", rows[1][0])

	rec = s.do(http.MethodGet, "/api/licenses/export?format=csv", "", true)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Header().Get("Content-Type"), "text/csv")
	s.Contains(rec.Body.String(), "DEV-2")
}

func (s *RouterSuite) TestSettings() {
	body := s.decode(s.do(http.MethodGet, "/api/settings", "", true))
	s.Equal(false, body["use_sheets"])
	s.Equal("sqlite", body["backend"])

	rec := s.do(http.MethodPost, "/api/settings", `{"credentials":"not json"}`, true)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/settings", `{"sheet_id":"sheet-1"}`, true)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.Equal(true, s.decode(rec)["success"])
	body = s.decode(s.do(http.MethodGet, "/api/settings", "", true))
	s.Equal("sheet-1", body["sheet_id"])

	body = s.decode(s.do(http.MethodPost, "/api/settings/test-sheets", "", true))
	s.Equal(false, body["success"])
	s.Equal("No service account credentials configured", body["error"])
}

func (s *RouterSuite) TestSettingsCredentials() {
	req := SettingsRequest{Credentials: json.RawMessage(`"{\"type\":\"service_account\"}"`)}
	creds, err := req.credentials()
	s.NoError(err)
	s.Equal(`{"type":"service_account"}`, creds)

	req = SettingsRequest{Credentials: json.RawMessage(`{"type":"service_account"}`)}
	creds, err = req.credentials()
	s.NoError(err)
	s.Equal(`{"type":"service_account"}`, creds)

	creds, err = SettingsRequest{}.credentials()
	s.NoError(err)
	s.Empty(creds)
}

func (s *RouterSuite) TestDebug() {
	body := s.decode(s.do(http.MethodGet, "/api/debug", "", false))
	s.Equal("online", body["status"])
	s.Equal(":memory:", body["database_path"])
	s.Equal(false, body["use_google_sheets"])
	s.Equal("sqlite", body["backend"])
}

func (s *RouterSuite) TestHealth() {
	s.Equal(http.StatusOK, s.do(http.MethodGet, "/api/health", "", false).Code)
	s.Equal(http.StatusOK, s.do(http.MethodGet, "/api/health/live", "", false).Code)

	rec := s.do(http.MethodGet, "/api/health/ready", "", false)
	s.Equal(http.StatusOK, rec.Code)
	s.Equal(services.StatusReady, s.decode(rec)["status"])

	s.backend.Fail = errors.New("connection refused")
	rec = s.do(http.MethodGet, "/api/health/ready", "", false)
	s.Equal(http.StatusServiceUnavailable, rec.Code)
	s.Equal(services.StatusNotReady, s.decode(rec)["status"])
}

func (s *RouterSuite) TestBackendFailureIsServiceUnavailable() {
	s.backend.Fail = errors.New("connection refused")
	rec := s.do(http.MethodGet, "/api/licenses", "", true)
	s.Equal(http.StatusServiceUnavailable, rec.Code)
	body := s.decode(rec)
	s.Equal(apperrors.TypeBackendUnavailable, body["type"])

	rec = s.do(http.MethodGet, "/api/validate?device_id=dev-1", "", false)
	s.Equal(http.StatusServiceUnavailable, rec.Code)
}

func (s *RouterSuite) TestMalformedJSON() {
	rec := s.do(http.MethodPost, "/api/licenses", `{"device_id":`, true)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal(apperrors.TypeValidation, s.decode(rec)["type"])
}

func (s *RouterSuite) TestUnknownRoute() {
	rec := s.do(http.MethodGet, "/nope", "", false)
	s.Equal(http.StatusNotFound, rec.Code)
	s.Equal(apperrors.TypeNotFound, s.decode(rec)["type"])
	s.NotEmpty(rec.Header().Get(middleware.RequestIDHeader))
}
