// Package relational stores licenses in a SQL database through GORM.
// PostgreSQL and SQLite are supported; SQLite is the default single-file store.
package relational

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	apperrors "licensesrv/internal/errors"
	"licensesrv/internal/license"
)

// Dialects understood by Open.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

const defaultTimeout = 10 * time.Second

// Config selects and tunes the database.
type Config struct {
	Dialect string
	// DSN is a file path or URI for SQLite, a connection string for PostgreSQL.
	DSN             string
	Timeout         time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// licenseRow is the persisted shape of a license.Record.
type licenseRow struct {
	ID           uint      `gorm:"primaryKey"`
	DeviceID     string    `gorm:"size:255;not null"`
	Fingerprint  string    `gorm:"size:64;not null;uniqueIndex"`
	LicenseKey   string    `gorm:"size:512"`
	ExpiryDate   string    `gorm:"size:64"`
	Status       string    `gorm:"size:32;not null"`
	CustomerName string    `gorm:"size:255"`
	Notes        string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"index"`
}

func (licenseRow) TableName() string { return "licenses" }

func toRow(r license.Record) licenseRow {
	return licenseRow{
		DeviceID:     r.DeviceID,
		Fingerprint:  r.Fingerprint(),
		LicenseKey:   r.LicenseKey,
		ExpiryDate:   r.ExpiryDate,
		Status:       string(r.Status),
		CustomerName: r.CustomerName,
		Notes:        r.Notes,
		CreatedAt:    r.CreatedAt.UTC(),
	}
}

func (row licenseRow) record() license.Record {
	return license.Record{
		DeviceID:     row.DeviceID,
		LicenseKey:   row.LicenseKey,
		ExpiryDate:   row.ExpiryDate,
		Status:       license.Status(row.Status),
		CustomerName: row.CustomerName,
		Notes:        row.Notes,
		CreatedAt:    row.CreatedAt.UTC(),
	}
}

// Backend implements license.Backend on a GORM connection pool.
type Backend struct {
	db      *gorm.DB
	dialect string
	timeout time.Duration
	logger  *slog.Logger
}

var _ license.Backend = (*Backend)(nil)

// Open connects, pings and migrates the licenses table.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "relational"))

	dialect := strings.ToLower(cfg.Dialect)
	var dialector gorm.Dialector
	switch dialect {
	case "", DialectSQLite:
		dialect = DialectSQLite
		if cfg.DSN == "" {
			return nil, fmt.Errorf("%w: sqlite path is required", apperrors.ErrInvalidInput)
		}
		dialector = sqlite.Open(cfg.DSN)
	case DialectPostgres, "postgresql":
		dialect = DialectPostgres
		if cfg.DSN == "" {
			return nil, fmt.Errorf("%w: postgres dsn is required", apperrors.ErrInvalidInput)
		}
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: unknown dialect %q", apperrors.ErrInvalidInput, cfg.Dialect)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger: gormlogger.New(slogWriter{logger}, gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", apperrors.ErrBackendUnavailable, dialect, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: %s pool: %v", apperrors.ErrBackendUnavailable, dialect, err)
	}
	if dialect == DialectSQLite {
		// One connection serializes writers and keeps :memory: databases alive.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	} else {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		lifetime := cfg.ConnMaxLifetime
		if lifetime <= 0 {
			lifetime = time.Hour
		}
		sqlDB.SetConnMaxLifetime(lifetime)
	}

	b := &Backend{db: db, dialect: dialect, timeout: timeout, logger: logger}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", apperrors.ErrBackendUnavailable, dialect, err)
	}
	if err := db.WithContext(pingCtx).AutoMigrate(&licenseRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("%w: migrate %s: %v", apperrors.ErrBackendUnavailable, dialect, err)
	}

	logger.InfoContext(ctx, "relational backend ready", slog.String("dialect", dialect))
	return b, nil
}

func (b *Backend) Name() string { return b.dialect }

func (b *Backend) session(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	return b.db.WithContext(ctx), cancel
}

func (b *Backend) unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", apperrors.ErrBackendUnavailable, b.dialect, op, err)
}

func (b *Backend) Find(ctx context.Context, fingerprint string) (license.Record, error) {
	db, cancel := b.session(ctx)
	defer cancel()

	var row licenseRow
	if err := db.Where("fingerprint = ?", fingerprint).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return license.Record{}, apperrors.ErrNotFound
		}
		return license.Record{}, b.unavailable("find", err)
	}
	return row.record(), nil
}

// List returns the newest records first.
func (b *Backend) List(ctx context.Context) ([]license.Record, error) {
	db, cancel := b.session(ctx)
	defer cancel()

	var rows []licenseRow
	if err := db.Order("created_at DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, b.unavailable("list", err)
	}
	out := make([]license.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.record())
	}
	return out, nil
}

func (b *Backend) Insert(ctx context.Context, r license.Record) error {
	db, cancel := b.session(ctx)
	defer cancel()

	row := toRow(r)
	if err := db.Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", apperrors.ErrAlreadyExists, row.Fingerprint)
		}
		return b.unavailable("insert", err)
	}
	return nil
}

func (b *Backend) Update(ctx context.Context, fingerprint string, u license.RecordUpdate) error {
	changes := columns(u)
	if len(changes) == 0 {
		return fmt.Errorf("%w: empty update", apperrors.ErrInvalidInput)
	}

	db, cancel := b.session(ctx)
	defer cancel()

	res := db.Model(&licenseRow{}).Where("fingerprint = ?", fingerprint).Updates(changes)
	if res.Error != nil {
		return b.unavailable("update", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, fingerprint string) error {
	db, cancel := b.session(ctx)
	defer cancel()

	res := db.Where("fingerprint = ?", fingerprint).Delete(&licenseRow{})
	if res.Error != nil {
		return b.unavailable("delete", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (b *Backend) Ping(ctx context.Context) error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return b.unavailable("ping", err)
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return b.unavailable("ping", err)
	}
	return nil
}

func (b *Backend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// columns maps the set fields of u onto column names.
func columns(u license.RecordUpdate) map[string]any {
	out := make(map[string]any, 5)
	if u.LicenseKey.Set {
		out["license_key"] = u.LicenseKey.Value
	}
	if u.ExpiryDate.Set {
		out["expiry_date"] = u.ExpiryDate.Value
	}
	if u.Status.Set {
		out["status"] = string(u.Status.Value)
	}
	if u.CustomerName.Set {
		out["customer_name"] = u.CustomerName.Value
	}
	if u.Notes.Set {
		out["notes"] = u.Notes.Value
	}
	return out
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

// slogWriter routes GORM's logger output into slog.
type slogWriter struct {
	logger *slog.Logger
}

func (w slogWriter) Printf(format string, args ...interface{}) {
	w.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), slog.String("source", "gorm"))
}
