package exporter

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"licensesrv/internal/license"
)

var exportNow = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func fixtureRecords() []license.Record {
	return []license.Record{
		{DeviceID: "ZULU", LicenseKey: "ZZZZ-1111", ExpiryDate: "2025-02-14T12:00:00Z", Status: license.StatusActive, CustomerName: "Zed"},
		{DeviceID: "ALPHA", LicenseKey: "AAAA-2222", ExpiryDate: "2024-12-01T00:00:00Z", Status: license.StatusActive},
		{DeviceID: "MIKE", LicenseKey: "MMMM-3333", ExpiryDate: "2026-01-01", Status: license.StatusDisabled, Notes: "refund"},
		{DeviceID: "BRAVO", LicenseKey: "BBBB-4444", ExpiryDate: "soon", Status: license.StatusActive,
			CreatedAt: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)},
	}
}

func newExporter() *Exporter {
	return New(time.UTC).WithClock(func() time.Time { return exportNow })
}

func TestRowsDeriveState(t *testing.T) {
	rows := newExporter().Rows(fixtureRecords())
	require.Len(t, rows, 4)

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.Record.DeviceID
	}
	assert.Equal(t, []string{"ALPHA", "BRAVO", "MIKE", "ZULU"}, ids)

	assert.Equal(t, StateExpired, rows[0].State)
	assert.Nil(t, rows[0].DaysLeft)
	assert.Equal(t, StateUnknown, rows[1].State)
	assert.Equal(t, StateDisabled, rows[2].State)
	assert.Equal(t, StateActive, rows[3].State)
	require.NotNil(t, rows[3].DaysLeft)
	assert.Equal(t, 30, *rows[3].DaysLeft)

	counts := Summary(rows)
	assert.Equal(t, 1, counts[StateActive])
	assert.Equal(t, 1, counts[StateExpired])
	assert.Equal(t, 1, counts[StateDisabled])
	assert.Equal(t, 1, counts[StateUnknown])
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, newExporter().WriteCSV(&buf, fixtureRecords(), CSVOptions{BOMPrefix: true}))

	data := buf.Bytes()
	require.True(t, bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}))

	lines, err := csv.NewReader(bytes.NewReader(data[3:])).ReadAll()
	require.NoError(t, err)
	require.Len(t, lines, 5)
	assert.Equal(t, Headers, lines[0])
	assert.Equal(t, "BRAVO", lines[2][0])
	assert.Equal(t, "2024-06-01T08:00:00Z", lines[2][8])
	assert.Equal(t, "refund", lines[3][7])
	assert.Equal(t, "30", lines[4][5])
}

func TestWriteCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, newExporter().WriteCSV(&buf, nil, CSVOptions{}))
	lines, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{Headers}, lines)
}

func TestWriteWorkbook(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, newExporter().WriteWorkbook(&buf, fixtureRecords()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{LicensesSheet, SummarySheet}, f.GetSheetList())

	rows, err := f.GetRows(LicensesSheet)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, Headers, rows[0])
	assert.Equal(t, "ALPHA", rows[1][0])
	assert.Equal(t, "AAAA-2222", rows[1][1])
	assert.Equal(t, StateExpired, rows[1][4])
	assert.Equal(t, "ZULU", rows[4][0])
	assert.Equal(t, "30", rows[4][5])

	summary, err := f.GetRows(SummarySheet)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(summary), 6)
	assert.Equal(t, []string{"State", "Count"}, summary[0])
	assert.Equal(t, []string{"total", "4"}, summary[5])
	assert.Equal(t, []string{"generated_at", "2025-01-15T12:00:00Z"}, summary[6])
}
