package license

import (
	"strings"
	"time"

	"licensesrv/internal/keycodec"
)

// Status is the administrative state of a license.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// Record is a stored license. ExpiryDate keeps the raw stored text because
// rows edited by hand may hold anything.
type Record struct {
	DeviceID     string    `json:"device_id"`
	LicenseKey   string    `json:"license_key"`
	ExpiryDate   string    `json:"expiry_date"`
	Status       Status    `json:"status"`
	CustomerName string    `json:"customer_name"`
	Notes        string    `json:"notes"`
	CreatedAt    time.Time `json:"created_at"`
}

// Fingerprint returns the lookup key of the record.
func (r Record) Fingerprint() string {
	return keycodec.Fingerprint(r.DeviceID)
}

// Expiry parses ExpiryDate. Naive timestamps are read in loc.
func (r Record) Expiry(loc *time.Location) (time.Time, bool) {
	return ParseExpiry(r.ExpiryDate, loc)
}

var expiryLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseExpiry accepts RFC 3339 timestamps and the naive ISO forms written by
// older tooling. The second result is false for empty or unparseable input.
func ParseExpiry(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range expiryLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatExpiry renders an expiry the way the store writes it.
func FormatExpiry(t time.Time) string {
	return t.Format(time.RFC3339)
}

// ParseCreatedAt reads a created_at cell; unknown formats yield the zero time.
func ParseCreatedAt(s string) time.Time {
	t, ok := ParseExpiry(s, time.UTC)
	if !ok {
		return time.Time{}
	}
	return t.UTC()
}

// MaskKey hides all but the first group of a license key for logging.
func MaskKey(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + "-****"
}
