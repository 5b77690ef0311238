package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensesrv/internal/config"
	"licensesrv/internal/license/licensetest"
)

const testPassword = "app-test-password"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Security.AdminPassword = testPassword
	cfg.Security.SessionSecret = "app-test-session-secret"
	cfg.Storage.SQLitePath = filepath.Join(dir, "licenses.db")
	cfg.SettingsFile = filepath.Join(dir, "server_settings.json")
	cfg.Logging.Output = "stdout"
	cfg.Keys.Timezone = "UTC"
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// runApp starts a and returns its base URL. The application stops when the
// test ends.
func runApp(t *testing.T, a *Application) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.Start(ctx))

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("application did not stop")
		}
	})
	return "http://" + a.Addr()
}

func call(t *testing.T, method, url, body string) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testPassword)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestApplicationServesLicenses(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), quietLogger())
	require.NoError(t, err)
	base := runApp(t, a)

	status, body := call(t, http.MethodGet, base+"/api/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	status, body = call(t, http.MethodPost, base+"/api/licenses", `{"device_id":"APPDEVICE01","days":10}`)
	require.Equal(t, http.StatusCreated, status, body)
	key, _ := body["license_key"].(string)
	assert.Len(t, key, 24)

	status, body = call(t, http.MethodGet, base+"/api/validate?device_id=appdevice01", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, key, body["license_key"])

	status, body = call(t, http.MethodGet, base+"/api/debug", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "sqlite", body["backend"])
	assert.NotContains(t, body, "startup_error")

	resp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	metrics, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "license_store_operations")
}

func TestStartupFallsBackToSQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.UseGoogleSheets = true
	cfg.Storage.SheetID = "sheet-without-credentials"

	logger, logs := licensetest.NewLogger()
	a, err := New(context.Background(), cfg, logger)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", a.Store.BackendName())

	rec, ok := logs.Find("configured backend unavailable")
	require.True(t, ok)
	assert.Equal(t, slog.LevelError, rec.Level)
	assert.Equal(t, "sheets", rec.Attrs["backend"])

	debug := a.Settings.Debug(context.Background())
	assert.NotEmpty(t, debug.StartupError)
	assert.True(t, debug.UseGoogleSheets)
	require.NoError(t, a.Stop(context.Background()))
}

func TestStartupFailsWithoutDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "missing", "dir", "licenses.db")

	_, err := New(context.Background(), cfg, quietLogger())
	assert.Error(t, err)
}

func TestFailedStartupClosesBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Keys.Timezone = "Nowhere/Invalid"

	logger, logs := licensetest.NewLogger()
	_, err := New(context.Background(), cfg, logger)
	require.Error(t, err)

	rec, ok := logs.Find("closing license backend after failed startup")
	require.True(t, ok)
	assert.Equal(t, "sqlite", rec.Attrs["backend"])
	_, failed := logs.Find("error closing license backend")
	assert.False(t, failed)
}

func TestStopIsIdempotent(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), quietLogger())
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	require.NoError(t, a.Stop(context.Background()))
	assert.NoError(t, a.Stop(context.Background()))

	_, err = http.Get("http://" + a.Addr() + "/api/health")
	assert.Error(t, err)
}
