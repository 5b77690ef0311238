package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"licensesrv/internal/security"
)

// Settings is the content of the runtime settings file. Nil fields were
// never saved and fall back to the static configuration.
type Settings struct {
	UseSheets   *bool   `json:"use_sheets,omitempty"`
	SheetID     *string `json:"sheet_id,omitempty"`
	SheetName   *string `json:"sheet_name,omitempty"`
	Credentials string  `json:"credentials,omitempty"`
}

// SettingsPatch changes the saved settings. Nil fields are left alone and
// empty credentials never replace saved ones.
type SettingsPatch struct {
	UseSheets   *bool
	SheetID     *string
	SheetName   *string
	Credentials string
}

// SettingsStore reads and writes the settings file.
type SettingsStore struct {
	path   string
	vault  *security.Vault
	logger *slog.Logger

	mu sync.Mutex
}

// NewSettingsStore returns a store for path. Credentials are sealed with vault.
func NewSettingsStore(path string, vault *security.Vault, logger *slog.Logger) *SettingsStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsStore{
		path:   path,
		vault:  vault,
		logger: logger.With(slog.String("component", "settings")),
	}
}

// Path returns the settings file location.
func (s *SettingsStore) Path() string {
	return s.path
}

// Load reads the settings file. A missing file yields empty settings.
func (s *SettingsStore) Load(ctx context.Context) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(ctx)
}

func (s *SettingsStore) read(ctx context.Context) (Settings, error) {
	var settings Settings
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return settings, nil
	}
	if err != nil {
		return settings, fmt.Errorf("read settings: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return settings, nil
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		s.logger.WarnContext(ctx, "settings file is not valid JSON, ignoring it",
			slog.String("path", s.path),
			slog.String("error", err.Error()))
		return Settings{}, nil
	}
	return settings, nil
}

// Update applies patch and saves the result.
func (s *SettingsStore) Update(ctx context.Context, patch SettingsPatch) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.read(ctx)
	if err != nil {
		return settings, err
	}
	if patch.UseSheets != nil {
		v := *patch.UseSheets
		settings.UseSheets = &v
	}
	if patch.SheetID != nil {
		v := strings.TrimSpace(*patch.SheetID)
		settings.SheetID = &v
	}
	if patch.SheetName != nil {
		v := strings.TrimSpace(*patch.SheetName)
		settings.SheetName = &v
	}
	if creds := strings.TrimSpace(patch.Credentials); creds != "" {
		if !json.Valid([]byte(creds)) {
			return settings, errors.New("credentials must be a JSON service account key")
		}
		sealed, err := s.vault.Seal(ctx, []byte(creds))
		if err != nil {
			return settings, fmt.Errorf("seal credentials: %w", err)
		}
		settings.Credentials = sealed
	}

	if err := s.write(settings); err != nil {
		return settings, err
	}
	s.logger.InfoContext(ctx, "settings saved",
		slog.String("path", s.path),
		slog.Bool("has_credentials", settings.Credentials != ""))
	return settings, nil
}

// write replaces the file atomically.
func (s *SettingsStore) write(settings Settings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return fmt.Errorf("create settings file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close settings: %w", err)
	}
	return os.Rename(tmp.Name(), s.path)
}

// Credentials returns the saved service account key, or nil when none was
// saved. Files written before credentials were sealed hold the JSON as is.
func (s *SettingsStore) Credentials(ctx context.Context, settings Settings) ([]byte, error) {
	if settings.Credentials == "" {
		return nil, nil
	}
	creds, err := s.vault.Open(ctx, settings.Credentials)
	if err == nil {
		defer creds.Clear()
		return append([]byte(nil), creds.Data()...), nil
	}
	if plain := strings.TrimSpace(settings.Credentials); strings.HasPrefix(plain, "{") && json.Valid([]byte(plain)) {
		s.logger.WarnContext(ctx, "settings file holds unsealed credentials; save settings to seal them",
			slog.String("path", s.path))
		return []byte(plain), nil
	}
	return nil, err
}

// Effective overlays the saved settings onto base.
func (s *SettingsStore) Effective(ctx context.Context, base StorageConfig) (StorageConfig, error) {
	settings, err := s.Load(ctx)
	if err != nil {
		return base, err
	}
	return s.Apply(ctx, base, settings)
}

// Apply overlays settings onto base. Saved values win over the static
// configuration; an empty saved sheet id keeps the configured one.
func (s *SettingsStore) Apply(ctx context.Context, base StorageConfig, settings Settings) (StorageConfig, error) {
	out := base
	if settings.UseSheets != nil {
		out.UseGoogleSheets = *settings.UseSheets
		if !out.UseGoogleSheets && out.Backend == BackendSheets {
			out.Backend = BackendSQLite
		}
	}
	if settings.SheetID != nil && *settings.SheetID != "" {
		out.SheetID = *settings.SheetID
	}
	if settings.SheetName != nil && *settings.SheetName != "" {
		out.SheetName = *settings.SheetName
	}
	creds, err := s.Credentials(ctx, settings)
	if err != nil {
		return base, fmt.Errorf("open saved credentials: %w", err)
	}
	if creds != nil {
		out.CredentialsJSON = string(creds)
		out.CredentialsFile = ""
	}
	return out, nil
}
