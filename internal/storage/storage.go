// Package storage opens the license backend selected by configuration.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/api/option"

	apperrors "licensesrv/internal/errors"
	"licensesrv/internal/license"
	"licensesrv/internal/storage/relational"
	"licensesrv/internal/storage/sheets"
)

// Backend kinds.
const (
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
	KindSheets   = "sheets"
)

// Config selects one backend and carries the parameters of every kind.
type Config struct {
	Kind string

	SQLitePath   string
	PostgresDSN  string
	MaxOpenConns int
	MaxIdleConns int

	SpreadsheetID   string
	SheetName       string
	CredentialsJSON []byte
	// SheetsClientOptions are appended to the Sheets client options.
	SheetsClientOptions []option.ClientOption

	// Timeout bounds every backend call.
	Timeout time.Duration
}

// Open connects the configured backend.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (license.Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch strings.ToLower(cfg.Kind) {
	case "", KindSQLite:
		b, err := relational.Open(ctx, relational.Config{
			Dialect: relational.DialectSQLite,
			DSN:     cfg.SQLitePath,
			Timeout: cfg.Timeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	case KindPostgres:
		b, err := relational.Open(ctx, relational.Config{
			Dialect:      relational.DialectPostgres,
			DSN:          cfg.PostgresDSN,
			Timeout:      cfg.Timeout,
			MaxOpenConns: cfg.MaxOpenConns,
			MaxIdleConns: cfg.MaxIdleConns,
		}, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	case KindSheets:
		if len(cfg.CredentialsJSON) == 0 && len(cfg.SheetsClientOptions) == 0 {
			return nil, fmt.Errorf("%w: sheets backend needs service account credentials", apperrors.ErrInvalidInput)
		}
		b, err := sheets.Open(ctx, sheets.Config{
			SpreadsheetID:   cfg.SpreadsheetID,
			SheetName:       cfg.SheetName,
			CredentialsJSON: cfg.CredentialsJSON,
			Timeout:         cfg.Timeout,
			ClientOptions:   cfg.SheetsClientOptions,
		}, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", apperrors.ErrInvalidInput, cfg.Kind)
	}
}
