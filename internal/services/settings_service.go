package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"licensesrv/internal/config"
	apperrors "licensesrv/internal/errors"
	"licensesrv/internal/license"
	"licensesrv/internal/storage"
)

// BackendOpener connects the backend described by cfg.
type BackendOpener func(ctx context.Context, cfg storage.Config) (license.Backend, error)

// BackendConfig translates storage settings into a storage.Config.
func BackendConfig(sc config.StorageConfig) (storage.Config, error) {
	creds, err := sc.Credentials()
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Kind:            sc.Kind(),
		SQLitePath:      sc.SQLitePath,
		PostgresDSN:     sc.PostgresDSN,
		MaxOpenConns:    sc.MaxOpenConns,
		MaxIdleConns:    sc.MaxIdleConns,
		SpreadsheetID:   sc.SheetID,
		SheetName:       sc.SheetName,
		CredentialsJSON: creds,
		Timeout:         sc.Timeout,
	}, nil
}

// SettingsView is the admin view of the backend settings. Credentials are
// never returned.
type SettingsView struct {
	UseSheets       bool   `json:"use_sheets"`
	SheetID         string `json:"sheet_id"`
	SheetName       string `json:"sheet_name"`
	HasCredentials  bool   `json:"has_credentials"`
	SheetsConnected bool   `json:"sheets_connected"`
	Backend         string `json:"backend"`
	Generation      uint64 `json:"generation"`
}

// SettingsResult reports the outcome of a settings change or test.
type SettingsResult struct {
	Success         bool   `json:"success"`
	Message         string `json:"message,omitempty"`
	Error           string `json:"error,omitempty"`
	SheetsConnected bool   `json:"sheets_connected"`
	Backend         string `json:"backend,omitempty"`
}

// DebugInfo is the server status report of /api/debug.
type DebugInfo struct {
	Status          string `json:"status"`
	StartupError    string `json:"startup_error,omitempty"`
	DatabasePath    string `json:"database_path"`
	UseGoogleSheets bool   `json:"use_google_sheets"`
	HasSheetID      bool   `json:"has_sheet_id"`
	HasCredentials  bool   `json:"has_credentials"`
	Backend         string `json:"backend"`
	Generation      uint64 `json:"generation"`
}

// SettingsService owns the runtime backend settings and swaps the store's
// backend when they change.
type SettingsService struct {
	settings *config.SettingsStore
	base     config.StorageConfig
	store    *license.Store
	open     BackendOpener
	hub      WebSocketHub
	logger   *slog.Logger

	// mu serializes reconfiguration.
	mu           sync.Mutex
	startupError string
}

// NewSettingsService creates the service. base is the static storage
// configuration the saved settings are laid over.
func NewSettingsService(settings *config.SettingsStore, base config.StorageConfig, store *license.Store, open BackendOpener, hub WebSocketHub, logger *slog.Logger) *SettingsService {
	if logger == nil {
		logger = slog.Default()
	}
	if open == nil {
		open = func(ctx context.Context, cfg storage.Config) (license.Backend, error) {
			return storage.Open(ctx, cfg, logger)
		}
	}
	return &SettingsService{
		settings: settings,
		base:     base,
		store:    store,
		open:     open,
		hub:      hub,
		logger:   logger.With(slog.String("service", "settings")),
	}
}

// SetStartupError records why the configured backend could not be used at
// startup, for the debug report.
func (s *SettingsService) SetStartupError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.startupError = ""
		return
	}
	s.startupError = err.Error()
}

// Effective returns the storage configuration in force.
func (s *SettingsService) Effective(ctx context.Context) (config.StorageConfig, error) {
	return s.settings.Effective(ctx, s.base)
}

// Get returns the current settings.
func (s *SettingsService) Get(ctx context.Context) (SettingsView, error) {
	effective, err := s.Effective(ctx)
	if err != nil {
		return SettingsView{}, err
	}
	return SettingsView{
		UseSheets:       effective.Kind() == config.BackendSheets,
		SheetID:         effective.SheetID,
		SheetName:       effective.SheetName,
		HasCredentials:  effective.CredentialsJSON != "" || effective.CredentialsFile != "",
		SheetsConnected: s.store.BackendName() == storage.KindSheets,
		Backend:         s.store.BackendName(),
		Generation:      s.store.Generation(),
	}, nil
}

// Update saves patch and reconnects the store when the backend selection
// changed. A sheets backend that cannot be reached leaves the current
// backend in place; the settings stay saved.
func (s *SettingsService) Update(ctx context.Context, actor string, patch config.SettingsPatch) (SettingsResult, error) {
	if creds := strings.TrimSpace(patch.Credentials); creds != "" && !json.Valid([]byte(creds)) {
		return SettingsResult{}, fmt.Errorf("%w: credentials must be a JSON service account key", apperrors.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	saved, err := s.settings.Update(ctx, patch)
	if err != nil {
		return SettingsResult{}, err
	}
	effective, err := s.settings.Apply(ctx, s.base, saved)
	if err != nil {
		return SettingsResult{}, err
	}

	s.logger.InfoContext(ctx, "settings updated",
		slog.String("actor", actor),
		slog.String("backend", effective.Kind()),
		slog.Bool("credentials_changed", strings.TrimSpace(patch.Credentials) != ""))

	wantSheets := effective.Kind() == config.BackendSheets
	if !wantSheets && s.store.BackendName() == effective.Kind() {
		return SettingsResult{Success: true, Message: "Settings saved.", Backend: s.store.BackendName()}, nil
	}

	if err := s.reconnect(ctx, actor, effective); err != nil {
		if !wantSheets {
			return SettingsResult{}, err
		}
		s.logger.WarnContext(ctx, "sheets backend not connected, keeping current backend",
			slog.String("backend", s.store.BackendName()),
			slog.String("error", err.Error()))
		return SettingsResult{
			Success:         true,
			Message:         "Settings saved. Google Sheets is not connected.",
			SheetsConnected: false,
			Backend:         s.store.BackendName(),
		}, nil
	}

	msg := "Settings saved."
	if wantSheets {
		msg = "Settings saved. Google Sheets connected."
	}
	return SettingsResult{
		Success:         true,
		Message:         msg,
		SheetsConnected: wantSheets,
		Backend:         s.store.BackendName(),
	}, nil
}

// reconnect opens the backend of effective and swaps it in.
func (s *SettingsService) reconnect(ctx context.Context, actor string, effective config.StorageConfig) error {
	if effective.Kind() == config.BackendSheets && (effective.SheetID == "" || (effective.CredentialsJSON == "" && effective.CredentialsFile == "")) {
		return fmt.Errorf("%w: sheet id and credentials are required", apperrors.ErrInvalidInput)
	}
	cfg, err := BackendConfig(effective)
	if err != nil {
		return err
	}
	backend, err := s.open(ctx, cfg)
	if err != nil {
		return err
	}
	generation := s.store.Swap(ctx, backend)
	s.startupError = ""
	if s.hub != nil {
		s.hub.Broadcast(EventBackendChanged, map[string]interface{}{
			"backend":    backend.Name(),
			"generation": generation,
			"actor":      actor,
			"timestamp":  time.Now().UTC(),
		})
	}
	return nil
}

// TestSheets tries the configured spreadsheet without changing the active
// backend.
func (s *SettingsService) TestSheets(ctx context.Context) SettingsResult {
	effective, err := s.Effective(ctx)
	if err != nil {
		return SettingsResult{Error: err.Error()}
	}
	if effective.SheetID == "" {
		return SettingsResult{Error: "No sheet id configured"}
	}
	effective.UseGoogleSheets = true
	cfg, err := BackendConfig(effective)
	if err != nil {
		return SettingsResult{Error: err.Error()}
	}
	if len(cfg.CredentialsJSON) == 0 {
		return SettingsResult{Error: "No service account credentials configured"}
	}

	backend, err := s.open(ctx, cfg)
	if err == nil {
		err = backend.Ping(ctx)
		if cerr := backend.Close(); cerr != nil {
			s.logger.WarnContext(ctx, "closing test backend failed", slog.String("error", cerr.Error()))
		}
	}
	if err != nil {
		s.logger.WarnContext(ctx, "sheets connection test failed", slog.String("error", err.Error()))
		msg := "Could not connect. Check the sheet id and credentials."
		if errors.Is(err, apperrors.ErrInvalidInput) {
			msg = err.Error()
		}
		return SettingsResult{Error: msg}
	}
	return SettingsResult{
		Success:         true,
		Message:         "Google Sheets connection succeeded.",
		SheetsConnected: true,
		Backend:         s.store.BackendName(),
	}
}

// Debug reports the server status.
func (s *SettingsService) Debug(ctx context.Context) DebugInfo {
	effective, err := s.Effective(ctx)
	if err != nil {
		effective = s.base
	}
	s.mu.Lock()
	startupError := s.startupError
	s.mu.Unlock()
	return DebugInfo{
		Status:          "online",
		StartupError:    startupError,
		DatabasePath:    effective.SQLitePath,
		UseGoogleSheets: effective.Kind() == config.BackendSheets,
		HasSheetID:      effective.SheetID != "",
		HasCredentials:  effective.CredentialsJSON != "" || effective.CredentialsFile != "",
		Backend:         s.store.BackendName(),
		Generation:      s.store.Generation(),
	}
}
