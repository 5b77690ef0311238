package storage

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "licensesrv/internal/errors"
	"licensesrv/internal/keycodec"
	"licensesrv/internal/license"
	"licensesrv/internal/license/licensetest"
	"licensesrv/internal/storage/sheets/sheetstest"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openBoth(t *testing.T) map[string]license.Backend {
	t.Helper()
	ctx := context.Background()

	fake := sheetstest.NewServer("parity")
	t.Cleanup(fake.Close)

	sqlite, err := Open(ctx, Config{Kind: KindSQLite, SQLitePath: ":memory:"}, quietLogger())
	require.NoError(t, err)
	sheet, err := Open(ctx, Config{
		Kind:                KindSheets,
		SpreadsheetID:       "parity",
		SheetsClientOptions: fake.ClientOptions(),
		Timeout:             5 * time.Second,
	}, quietLogger())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = sqlite.Close()
		_ = sheet.Close()
	})
	return map[string]license.Backend{"sqlite": sqlite, "sheets": sheet}
}

func TestOpenSelectsBackend(t *testing.T) {
	backends := openBoth(t)
	assert.Equal(t, "sqlite", backends["sqlite"].Name())
	assert.Equal(t, "sheets", backends["sheets"].Name())
}

func TestOpenRejectsUnknownKind(t *testing.T) {
	_, err := Open(context.Background(), Config{Kind: "redis"}, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = Open(context.Background(), Config{Kind: KindSheets, SpreadsheetID: "x"}, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

// The same sequence of store operations leaves both backends with the same
// records. Only List order differs.
func TestBackendParity(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	codec := keycodec.New(keycodec.DefaultSecret)

	results := make(map[string][]license.Record)
	for name, backend := range openBoth(t) {
		store := license.NewStore(backend, codec,
			license.WithClock(func() time.Time { return now }),
			license.WithLocation(time.UTC),
			license.WithLogger(quietLogger()))

		for _, r := range licensetest.SampleRecords() {
			_, err := store.Create(ctx, r)
			require.NoError(t, err, name)
		}
		_, err := store.Issue(ctx, license.IssueRequest{DeviceID: "feedface99", Days: 30, CustomerName: "New"})
		require.NoError(t, err, name)
		_, err = store.Extend(ctx, "4210ef49", 10)
		require.NoError(t, err, name)
		require.NoError(t, store.SetStatus(ctx, "DEADBEEF", license.StatusActive), name)
		require.NoError(t, store.Delete(ctx, "ABC"), name)

		_, err = store.Create(ctx, licensetest.SampleRecords()[0])
		require.ErrorIs(t, err, apperrors.ErrAlreadyExists, name)

		recs, err := store.List(ctx)
		require.NoError(t, err, name)
		sort.Slice(recs, func(i, j int) bool { return recs[i].Fingerprint() < recs[j].Fingerprint() })
		results[name] = recs
	}

	require.Len(t, results["sqlite"], 3)
	require.Len(t, results["sheets"], 3)
	for i := range results["sqlite"] {
		want, got := results["sqlite"][i], results["sheets"][i]
		assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
		want.CreatedAt, got.CreatedAt = time.Time{}, time.Time{}
		assert.Equal(t, want, got)
	}

	extended := results["sqlite"][0]
	assert.Equal(t, "4210EF496F68665F", extended.DeviceID)
	assert.Equal(t, "2030-01-11T00:00:00Z", extended.ExpiryDate)
}
