package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable.
const EnvPrefix = "LICENSE"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Keys      KeyConfig       `yaml:"keys" envconfig:"KEYS"`
	Storage   StorageConfig   `yaml:"storage" envconfig:"STORAGE"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`

	// SettingsFile holds settings changed through the admin API.
	SettingsFile string `yaml:"settings_file" split_words:"true"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration `yaml:"write_timeout" split_words:"true"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" split_words:"true"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
	RequestTimeout  time.Duration `yaml:"request_timeout" split_words:"true"`
}

// SecurityConfig contains admin credentials and request protection.
type SecurityConfig struct {
	AdminUsername  string          `yaml:"admin_username" envconfig:"ADMIN_USERNAME"`
	AdminPassword  string          `yaml:"admin_password" envconfig:"ADMIN_PASSWORD"`
	SessionSecret  string          `yaml:"session_secret" envconfig:"FLASK_SECRET"`
	SessionTTL     time.Duration   `yaml:"session_ttl" split_words:"true"`
	CookieSecure   bool            `yaml:"cookie_secure" split_words:"true"`
	AllowedOrigins []string        `yaml:"allowed_origins" split_words:"true"`
	EnableCORS     bool            `yaml:"enable_cors" split_words:"true"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" split_words:"true"`
}

// RateLimitConfig limits the public validation endpoint per client.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// KeyConfig controls license key generation.
type KeyConfig struct {
	Secret      string `yaml:"secret" envconfig:"SECRET_KEY"`
	DefaultDays int    `yaml:"default_days" split_words:"true"`
	// Timezone reads expiry dates stored without an offset. Empty means local.
	Timezone string `yaml:"timezone"`
}

// StorageConfig selects the license backend.
type StorageConfig struct {
	Backend         string        `yaml:"backend"`
	UseGoogleSheets bool          `yaml:"use_google_sheets" envconfig:"USE_GOOGLE_SHEETS"`
	SQLitePath      string        `yaml:"sqlite_path" envconfig:"DATABASE"`
	PostgresDSN     string        `yaml:"postgres_dsn" split_words:"true"`
	MaxOpenConns    int           `yaml:"max_open_conns" split_words:"true"`
	MaxIdleConns    int           `yaml:"max_idle_conns" split_words:"true"`
	SheetID         string        `yaml:"sheet_id" envconfig:"GOOGLE_SHEET_ID"`
	SheetName       string        `yaml:"sheet_name" split_words:"true"`
	CredentialsJSON string        `yaml:"credentials_json" envconfig:"GOOGLE_SERVICE_ACCOUNT_JSON"`
	CredentialsFile string        `yaml:"credentials_file" split_words:"true"`
	Timeout         time.Duration `yaml:"timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path" split_words:"true"`
}

// TelemetryConfig contains OpenTelemetry configuration
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" split_words:"true"`
	TraceExporter  string `yaml:"trace_exporter" split_words:"true"`
	MetricsEnabled bool   `yaml:"metrics_enabled" split_words:"true"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" split_words:"true"`
	WriteBufferSize int           `yaml:"write_buffer_size" split_words:"true"`
	PingPeriod      time.Duration `yaml:"ping_period" split_words:"true"`
	PongWait        time.Duration `yaml:"pong_wait" split_words:"true"`
}

// Storage backend names accepted in StorageConfig.Backend.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendSheets   = "sheets"
)

// Load resolves the configuration. An empty path searches the usual
// locations for a YAML file; a missing file is not an error.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG_FILE")
	}
	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func findConfigFile() string {
	for _, location := range []string{"config.yaml", "configs/config.yaml"} {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// Validate checks ranges and normalizes enumerations.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		errs = append(errs, errors.New("server read and write timeouts must be positive"))
	}
	if c.Security.AdminUsername == "" || c.Security.AdminPassword == "" {
		errs = append(errs, errors.New("admin username and password are required"))
	}
	if len(c.Security.SessionSecret) < 16 {
		errs = append(errs, errors.New("session secret must be at least 16 characters"))
	}
	if c.Security.RateLimit.Enabled && (c.Security.RateLimit.RPS <= 0 || c.Security.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("rate limit rps and burst must be positive"))
	}
	if c.Keys.Secret == "" {
		errs = append(errs, errors.New("license secret key is required"))
	}
	if _, err := c.Keys.Location(); err != nil {
		errs = append(errs, err)
	}

	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	switch c.Storage.Kind() {
	case BackendSQLite, BackendPostgres, BackendSheets:
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}
	if c.Storage.Kind() == BackendPostgres && c.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("postgres backend requires a dsn"))
	}
	if c.Storage.Timeout <= 0 {
		errs = append(errs, errors.New("storage timeout must be positive"))
	}

	// Logs are always JSON; output is stdout, file or both.
	c.Logging.Format = "json"
	switch c.Logging.Output {
	case "stdout", "file", "both":
	default:
		c.Logging.Output = "both"
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = DefaultLogFile
	}

	return errors.Join(errs...)
}

// Address returns the listen address.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// Kind returns the effective backend name.
func (s StorageConfig) Kind() string {
	if s.UseGoogleSheets {
		return BackendSheets
	}
	if s.Backend == "" {
		return BackendSQLite
	}
	return s.Backend
}

// Credentials returns the service account key from the inline value or
// the credentials file.
func (s StorageConfig) Credentials() ([]byte, error) {
	if s.CredentialsJSON != "" {
		return []byte(s.CredentialsJSON), nil
	}
	if s.CredentialsFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	return data, nil
}

// Location resolves Timezone.
func (k KeyConfig) Location() (*time.Location, error) {
	if k.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(k.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", k.Timezone, err)
	}
	return loc, nil
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            DefaultPort,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  30 * time.Second,
		},
		Security: SecurityConfig{
			AdminUsername:  "admin",
			AdminPassword:  "admin123",
			SessionSecret:  "change-this-secret-key-in-production",
			SessionTTL:     SessionTimeout,
			AllowedOrigins: []string{"*"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     DefaultValidateRPS,
				Burst:   DefaultValidateBurst,
			},
		},
		Keys: KeyConfig{
			Secret:      DefaultSecretKey,
			DefaultDays: DefaultLicenseDays,
		},
		Storage: StorageConfig{
			Backend:    BackendSQLite,
			SQLitePath: DefaultDatabaseFile,
			SheetName:  DefaultSheetName,
			Timeout:    DefaultStorageTimeout,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "both",
			FilePath: DefaultLogFile,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    AppName,
			TraceExporter:  "none",
			MetricsEnabled: true,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingPeriod:      30 * time.Second,
			PongWait:        60 * time.Second,
		},
		SettingsFile: DefaultSettingsFile,
	}
}
