// Package sheets stores licenses as rows of a Google Sheets worksheet.
//
// The worksheet carries a header row followed by one row per license in the
// order they were appended. Rows edited by hand are read leniently: missing
// trailing cells are empty and unknown created_at values become the zero time.
//
// The spreadsheet has no uniqueness constraint, so two concurrent creates for
// the same fingerprint can both append. Find returns the first matching row.
package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	apperrors "licensesrv/internal/errors"
	"licensesrv/internal/keycodec"
	"licensesrv/internal/license"
)

// DefaultSheetName is the worksheet used when none is configured.
const DefaultSheetName = "Licenses"

const defaultTimeout = 15 * time.Second

// Header is the first row of the worksheet.
var Header = []string{"device_id", "license_key", "expiry_date", "status", "customer_name", "notes", "created_at"}

// Column positions within Header.
const (
	colDeviceID = iota
	colLicenseKey
	colExpiryDate
	colStatus
	colCustomerName
	colNotes
	colCreatedAt
)

// Config addresses one worksheet.
type Config struct {
	SpreadsheetID string
	SheetName     string
	// CredentialsJSON is a service account key. Empty means the client
	// options carry authentication.
	CredentialsJSON []byte
	Timeout         time.Duration
	ClientOptions   []option.ClientOption
}

// Backend implements license.Backend on the Sheets v4 API.
type Backend struct {
	svc           *sheets.Service
	spreadsheetID string
	sheetName     string
	sheetID       int64
	timeout       time.Duration
	logger        *slog.Logger
	closed        atomic.Bool
}

var _ license.Backend = (*Backend)(nil)

// Open creates the service client and makes sure the worksheet exists with
// its header row.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("%w: spreadsheet id is required", apperrors.ErrInvalidInput)
	}
	if cfg.SheetName == "" {
		cfg.SheetName = DefaultSheetName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	opts := append([]option.ClientOption(nil), cfg.ClientOptions...)
	if len(cfg.CredentialsJSON) > 0 {
		opts = append(opts, option.WithCredentialsJSON(cfg.CredentialsJSON))
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: sheets client: %v", apperrors.ErrBackendUnavailable, err)
	}

	b := &Backend{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     cfg.SheetName,
		timeout:       cfg.Timeout,
		logger: logger.With(
			slog.String("component", "sheets"),
			slog.String("sheet", cfg.SheetName),
		),
	}
	if err := b.ensureSheet(ctx); err != nil {
		return nil, err
	}
	b.logger.InfoContext(ctx, "sheets backend ready", slog.Int64("sheet_id", b.sheetID))
	return b, nil
}

func (b *Backend) Name() string { return "sheets" }

// a1 qualifies a cell range with the worksheet name.
func (b *Backend) a1(cells string) string {
	return "'" + strings.ReplaceAll(b.sheetName, "'", "''") + "'!" + cells
}

func (b *Backend) call(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if b.closed.Load() {
		return nil, nil, fmt.Errorf("%w: sheets backend closed", apperrors.ErrBackendUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	return ctx, cancel, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: sheets %s: %v", apperrors.ErrBackendUnavailable, op, err)
}

func (b *Backend) ensureSheet(ctx context.Context) error {
	ctx, cancel, err := b.call(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	book, err := b.svc.Spreadsheets.Get(b.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return unavailable("open spreadsheet", err)
	}
	for _, sh := range book.Sheets {
		if sh.Properties != nil && sh.Properties.Title == b.sheetName {
			b.sheetID = sh.Properties.SheetId
			return b.ensureHeader(ctx)
		}
	}

	resp, err := b.svc.Spreadsheets.BatchUpdate(b.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: b.sheetName},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return unavailable("add sheet", err)
	}
	if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil && resp.Replies[0].AddSheet.Properties != nil {
		b.sheetID = resp.Replies[0].AddSheet.Properties.SheetId
	}
	b.logger.InfoContext(ctx, "created worksheet")
	return b.writeHeader(ctx)
}

func (b *Backend) ensureHeader(ctx context.Context) error {
	resp, err := b.svc.Spreadsheets.Values.Get(b.spreadsheetID, b.a1("A1:G1")).Context(ctx).Do()
	if err != nil {
		return unavailable("read header", err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}
	return b.writeHeader(ctx)
}

func (b *Backend) writeHeader(ctx context.Context) error {
	row := make([]interface{}, len(Header))
	for i, h := range Header {
		row[i] = h
	}
	_, err := b.svc.Spreadsheets.Values.Update(b.spreadsheetID, b.a1("A1:G1"), &sheets.ValueRange{
		Values: [][]interface{}{row},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return unavailable("write header", err)
	}
	return nil
}

// row is a data row with its 1-based sheet row number.
type row struct {
	number int
	record license.Record
}

func (b *Backend) rows(ctx context.Context) ([]row, error) {
	resp, err := b.svc.Spreadsheets.Values.Get(b.spreadsheetID, b.a1("A2:G")).Context(ctx).Do()
	if err != nil {
		return nil, unavailable("read rows", err)
	}
	out := make([]row, 0, len(resp.Values))
	for i, cells := range resp.Values {
		rec := parseRow(cells)
		if strings.TrimSpace(rec.DeviceID) == "" {
			continue
		}
		out = append(out, row{number: i + 2, record: rec})
	}
	return out, nil
}

func (b *Backend) find(ctx context.Context, fingerprint string) (row, error) {
	rows, err := b.rows(ctx)
	if err != nil {
		return row{}, err
	}
	for _, r := range rows {
		if keycodec.Fingerprint(r.record.DeviceID) == fingerprint {
			return r, nil
		}
	}
	return row{}, apperrors.ErrNotFound
}

func (b *Backend) Find(ctx context.Context, fingerprint string) (license.Record, error) {
	ctx, cancel, err := b.call(ctx)
	if err != nil {
		return license.Record{}, err
	}
	defer cancel()

	r, err := b.find(ctx, fingerprint)
	if err != nil {
		return license.Record{}, err
	}
	return r.record, nil
}

// List returns records in row order.
func (b *Backend) List(ctx context.Context) ([]license.Record, error) {
	ctx, cancel, err := b.call(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	rows, err := b.rows(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]license.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record)
	}
	return out, nil
}

// Insert appends a row. It does not check for an existing fingerprint.
func (b *Backend) Insert(ctx context.Context, r license.Record) error {
	ctx, cancel, err := b.call(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	_, err = b.svc.Spreadsheets.Values.Append(b.spreadsheetID, b.a1("A:G"), &sheets.ValueRange{
		Values: [][]interface{}{formatRow(r)},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return unavailable("append", err)
	}
	return nil
}

// Update writes every set field of u in one values.batchUpdate call.
func (b *Backend) Update(ctx context.Context, fingerprint string, u license.RecordUpdate) error {
	ctx, cancel, err := b.call(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	target, err := b.find(ctx, fingerprint)
	if err != nil {
		return err
	}

	cell := func(col int, v string) *sheets.ValueRange {
		return &sheets.ValueRange{
			Range:  b.a1(fmt.Sprintf("%c%d", 'A'+col, target.number)),
			Values: [][]interface{}{{v}},
		}
	}
	var data []*sheets.ValueRange
	if u.LicenseKey.Set {
		data = append(data, cell(colLicenseKey, u.LicenseKey.Value))
	}
	if u.ExpiryDate.Set {
		data = append(data, cell(colExpiryDate, u.ExpiryDate.Value))
	}
	if u.Status.Set {
		data = append(data, cell(colStatus, string(u.Status.Value)))
	}
	if u.CustomerName.Set {
		data = append(data, cell(colCustomerName, u.CustomerName.Value))
	}
	if u.Notes.Set {
		data = append(data, cell(colNotes, u.Notes.Value))
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty update", apperrors.ErrInvalidInput)
	}

	_, err = b.svc.Spreadsheets.Values.BatchUpdate(b.spreadsheetID, &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data:             data,
	}).Context(ctx).Do()
	if err != nil {
		return unavailable("update", err)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, fingerprint string) error {
	ctx, cancel, err := b.call(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	target, err := b.find(ctx, fingerprint)
	if err != nil {
		return err
	}

	_, err = b.svc.Spreadsheets.BatchUpdate(b.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			DeleteDimension: &sheets.DeleteDimensionRequest{
				Range: &sheets.DimensionRange{
					SheetId:    b.sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(target.number - 1),
					EndIndex:   int64(target.number),
					// Sheet 0 is a valid id and must not be dropped as empty.
					ForceSendFields: []string{"SheetId"},
				},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return unavailable("delete", err)
	}
	return nil
}

func (b *Backend) Ping(ctx context.Context) error {
	ctx, cancel, err := b.call(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	if _, err := b.svc.Spreadsheets.Get(b.spreadsheetID).Fields("spreadsheetId").Context(ctx).Do(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close marks the backend unusable. The HTTP client holds no resources
// that need releasing.
func (b *Backend) Close() error {
	b.closed.Store(true)
	return nil
}

func parseRow(cells []interface{}) license.Record {
	get := func(i int) string {
		if i >= len(cells) || cells[i] == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(cells[i]))
	}
	return license.Record{
		DeviceID:     get(colDeviceID),
		LicenseKey:   get(colLicenseKey),
		ExpiryDate:   get(colExpiryDate),
		Status:       license.Status(get(colStatus)),
		CustomerName: get(colCustomerName),
		Notes:        get(colNotes),
		CreatedAt:    license.ParseCreatedAt(get(colCreatedAt)),
	}
}

func formatRow(r license.Record) []interface{} {
	created := ""
	if !r.CreatedAt.IsZero() {
		created = r.CreatedAt.UTC().Format(time.RFC3339)
	}
	return []interface{}{
		r.DeviceID,
		r.LicenseKey,
		r.ExpiryDate,
		string(r.Status),
		r.CustomerName,
		r.Notes,
		created,
	}
}
