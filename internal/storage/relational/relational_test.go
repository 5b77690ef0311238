package relational

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	apperrors "licensesrv/internal/errors"
	"licensesrv/internal/license"
	"licensesrv/internal/license/licensetest"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openMemory(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(context.Background(), Config{Dialect: DialectSQLite, DSN: ":memory:"}, quietLogger())
	require.NoError(t, err)
	return b
}

type SQLiteBackendSuite struct {
	licensetest.BackendSuite
}

func TestSQLiteBackendSuite(t *testing.T) {
	s := &SQLiteBackendSuite{}
	s.NewBackend = func() license.Backend { return openMemory(s.T()) }
	suite.Run(t, s)
}

type PostgresBackendSuite struct {
	licensetest.BackendSuite
}

func TestPostgresBackendSuite(t *testing.T) {
	dsn := os.Getenv("LICENSE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LICENSE_TEST_POSTGRES_DSN not set")
	}
	s := &PostgresBackendSuite{}
	s.NewBackend = func() license.Backend {
		b, err := Open(context.Background(), Config{Dialect: DialectPostgres, DSN: dsn}, quietLogger())
		s.Require().NoError(err)
		s.Require().NoError(b.db.Exec("DELETE FROM licenses").Error)
		return b
	}
	suite.Run(t, s)
}

func TestListNewestFirst(t *testing.T) {
	b := openMemory(t)
	defer b.Close()
	ctx := context.Background()

	recs := licensetest.SampleRecords()
	for _, r := range recs {
		require.NoError(t, b.Insert(ctx, r))
	}
	// Same created_at as the last sample; the later id wins the tie.
	tie := license.Record{DeviceID: "TIE00000", Status: license.StatusActive, CreatedAt: recs[2].CreatedAt}
	require.NoError(t, b.Insert(ctx, tie))

	got, err := b.List(ctx)
	require.NoError(t, err)

	var ids []string
	for _, r := range got {
		ids = append(ids, r.DeviceID)
	}
	assert.Equal(t, []string{"TIE00000", "ABC", "DEADBEEF00112233", "4210EF496F68665F"}, ids)
}

func TestInsertDuplicateFingerprint(t *testing.T) {
	b := openMemory(t)
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.Insert(ctx, license.Record{DeviceID: "AAAABBBB1111", Status: license.StatusActive, CreatedAt: time.Now()}))
	err := b.Insert(ctx, license.Record{DeviceID: "aaaabbbb2222", Status: license.StatusActive, CreatedAt: time.Now()})
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
}

func TestUpdateRejectsEmptyChange(t *testing.T) {
	b := openMemory(t)
	defer b.Close()

	err := b.Update(context.Background(), "AAAABBBB", license.RecordUpdate{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestFileDatabaseSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "licenses.db")
	ctx := context.Background()

	b, err := Open(ctx, Config{DSN: path}, quietLogger())
	require.NoError(t, err)
	want := licensetest.SampleRecords()[0]
	require.NoError(t, b.Insert(ctx, want))
	require.NoError(t, b.Close())

	b, err = Open(ctx, Config{DSN: path}, quietLogger())
	require.NoError(t, err)
	defer b.Close()

	got, err := b.Find(ctx, want.Fingerprint())
	require.NoError(t, err)
	assert.Equal(t, want.LicenseKey, got.LicenseKey)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, DialectSQLite, b.Name())
}

func TestClosedBackendIsUnavailable(t *testing.T) {
	b := openMemory(t)
	require.NoError(t, b.Close())

	_, err := b.Find(context.Background(), "AAAABBBB")
	assert.ErrorIs(t, err, apperrors.ErrBackendUnavailable)
	assert.ErrorIs(t, b.Ping(context.Background()), apperrors.ErrBackendUnavailable)
}

func TestOpenRejectsBadConfig(t *testing.T) {
	_, err := Open(context.Background(), Config{Dialect: "oracle", DSN: "x"}, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = Open(context.Background(), Config{Dialect: DialectPostgres}, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
