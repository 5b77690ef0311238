package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configEnvVars = []string{
	"PORT", "SECRET_KEY", "ADMIN_USERNAME", "ADMIN_PASSWORD", "FLASK_SECRET",
	"DATABASE", "USE_GOOGLE_SHEETS", "GOOGLE_SHEET_ID", "GOOGLE_SERVICE_ACCOUNT_JSON",
	"LICENSE_CONFIG_FILE", "LICENSE_SERVER_PORT", "LICENSE_STORAGE_BACKEND",
	"LICENSE_STORAGE_SHEET_NAME", "LICENSE_STORAGE_POSTGRES_DSN", "LICENSE_KEYS_SECRET_KEY",
	"LICENSE_KEYS_DEFAULT_DAYS", "LICENSE_KEYS_TIMEZONE", "LICENSE_LOGGING_OUTPUT",
	"LICENSE_SECURITY_RATE_LIMIT_RPS", "LICENSE_SECURITY_ALLOWED_ORIGINS",
}

// clearEnv unsets the variables Load reads and restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range configEnvVars {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "admin", cfg.Security.AdminUsername)
	assert.Equal(t, "admin123", cfg.Security.AdminPassword)
	assert.Equal(t, []string{"*"}, cfg.Security.AllowedOrigins)
	assert.Equal(t, DefaultSecretKey, cfg.Keys.Secret)
	assert.Equal(t, 30, cfg.Keys.DefaultDays)
	assert.Equal(t, BackendSQLite, cfg.Storage.Kind())
	assert.Equal(t, "licenses.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "Licenses", cfg.Storage.SheetName)
	assert.Equal(t, "server_settings.json", cfg.SettingsFile)
	assert.Equal(t, ":5000", cfg.Address())
}

func TestLoadLegacyEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("SECRET_KEY", "another-secret")
	t.Setenv("ADMIN_PASSWORD", "s3cret-pass")
	t.Setenv("DATABASE", "/var/lib/licenses.db")
	t.Setenv("USE_GOOGLE_SHEETS", "true")
	t.Setenv("GOOGLE_SHEET_ID", "sheet-123")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "another-secret", cfg.Keys.Secret)
	assert.Equal(t, "s3cret-pass", cfg.Security.AdminPassword)
	assert.Equal(t, "/var/lib/licenses.db", cfg.Storage.SQLitePath)
	assert.Equal(t, BackendSheets, cfg.Storage.Kind())
	assert.Equal(t, "sheet-123", cfg.Storage.SheetID)
}

func TestPrefixedEnvironmentWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("LICENSE_SERVER_PORT", "9090")
	t.Setenv("LICENSE_STORAGE_SHEET_NAME", "Keys")
	t.Setenv("LICENSE_KEYS_DEFAULT_DAYS", "90")
	t.Setenv("LICENSE_SECURITY_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "Keys", cfg.Storage.SheetName)
	assert.Equal(t, 90, cfg.Keys.DefaultDays)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Security.AllowedOrigins)
}

func TestLoadFromYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 7000
storage:
  backend: Postgres
  postgres_dsn: postgres://licenses@localhost/licenses
keys:
  timezone: Asia/Ho_Chi_Minh
logging:
  output: console
`), 0o600))
	t.Setenv("LICENSE_SERVER_PORT", "7100")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7100, cfg.Server.Port, "environment overrides the file")
	assert.Equal(t, BackendPostgres, cfg.Storage.Kind())
	assert.Equal(t, "postgres://licenses@localhost/licenses", cfg.Storage.PostgresDSN)
	assert.Equal(t, "both", cfg.Logging.Output)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout, "unset values keep defaults")

	loc, err := cfg.Keys.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Ho_Chi_Minh", loc.String())
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"no password", func(c *Config) { c.Security.AdminPassword = "" }, "admin username and password"},
		{"short session secret", func(c *Config) { c.Security.SessionSecret = "short" }, "session secret"},
		{"empty key secret", func(c *Config) { c.Keys.Secret = "" }, "secret key"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "mongo" }, "unknown storage backend"},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = "postgres" }, "requires a dsn"},
		{"bad timezone", func(c *Config) { c.Keys.Timezone = "Mars/Olympus" }, "invalid timezone"},
		{"zero rate", func(c *Config) { c.Security.RateLimit.RPS = 0 }, "rate limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestStorageCredentials(t *testing.T) {
	inline := StorageConfig{CredentialsJSON: `{"type":"service_account"}`}
	got, err := inline.Credentials()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"service_account"}`, string(got))

	path := filepath.Join(t.TempDir(), "sa.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"file"}`), 0o600))
	got, err = StorageConfig{CredentialsFile: path}.Credentials()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"file"}`, string(got))

	got, err = StorageConfig{}.Credentials()
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = StorageConfig{CredentialsFile: filepath.Join(t.TempDir(), "none.json")}.Credentials()
	assert.Error(t, err)
}
