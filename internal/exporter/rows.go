package exporter

import (
	"sort"
	"strconv"
	"time"

	"licensesrv/internal/license"
)

// States reported for each row.
const (
	StateActive   = "active"
	StateExpired  = "expired"
	StateDisabled = "disabled"
	StateUnknown  = "unknown expiry"
)

// Headers are the column titles shared by every format.
var Headers = []string{
	"Device ID",
	"License Key",
	"Expiry Date",
	"Status",
	"State",
	"Days Left",
	"Customer",
	"Notes",
	"Created At",
}

// Row is one exported record with its derived columns.
type Row struct {
	Record   license.Record
	State    string
	DaysLeft *int
}

// Exporter derives row state relative to a clock.
type Exporter struct {
	loc *time.Location
	now func() time.Time
}

// New creates an exporter reading naive expiry dates in loc.
func New(loc *time.Location) *Exporter {
	if loc == nil {
		loc = time.Local
	}
	return &Exporter{loc: loc, now: time.Now}
}

// WithClock replaces the exporter's clock.
func (e *Exporter) WithClock(now func() time.Time) *Exporter {
	if now != nil {
		e.now = now
	}
	return e
}

// Rows sorts records by device id and derives their state.
func (e *Exporter) Rows(records []license.Record) []Row {
	sorted := make([]license.Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].DeviceID < sorted[j].DeviceID
	})

	now := e.now().In(e.loc)
	rows := make([]Row, 0, len(sorted))
	for _, rec := range sorted {
		row := Row{Record: rec}
		expiry, ok := rec.Expiry(e.loc)
		switch {
		case rec.Status != license.StatusActive:
			row.State = StateDisabled
		case !ok:
			row.State = StateUnknown
		case expiry.Before(now):
			row.State = StateExpired
		default:
			row.State = StateActive
		}
		if ok && !expiry.Before(now) {
			days := int(expiry.Sub(now).Hours() / 24)
			row.DaysLeft = &days
		}
		rows = append(rows, row)
	}
	return rows
}

// Summary counts rows per state.
func Summary(rows []Row) map[string]int {
	counts := map[string]int{
		StateActive:   0,
		StateExpired:  0,
		StateDisabled: 0,
		StateUnknown:  0,
	}
	for _, r := range rows {
		counts[r.State]++
	}
	return counts
}

// cells renders a row as strings in Headers order.
func (r Row) cells() []string {
	days := ""
	if r.DaysLeft != nil {
		days = strconv.Itoa(*r.DaysLeft)
	}
	created := ""
	if !r.Record.CreatedAt.IsZero() {
		created = r.Record.CreatedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		r.Record.DeviceID,
		r.Record.LicenseKey,
		r.Record.ExpiryDate,
		string(r.Record.Status),
		r.State,
		days,
		r.Record.CustomerName,
		r.Record.Notes,
		created,
	}
}
