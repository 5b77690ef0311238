package license

import (
	"context"
	"log/slog"
	"time"

	"licensesrv/internal/keycodec"
)

const day = 24 * time.Hour

// IssueRequest describes a new license. A non-empty LicenseKey or
// ExpiryDate is stored as given instead of being generated.
type IssueRequest struct {
	DeviceID     string
	Days         int
	LicenseKey   string
	ExpiryDate   string
	Status       Status
	CustomerName string
	Notes        string
}

// Issue generates the key and expiry for a device and creates its record.
func (s *Store) Issue(ctx context.Context, req IssueRequest) (Record, error) {
	fp, err := fingerprintOf(req.DeviceID)
	if err != nil {
		return Record{}, err
	}
	now := s.now()

	rec := Record{
		DeviceID:     req.DeviceID,
		LicenseKey:   req.LicenseKey,
		ExpiryDate:   req.ExpiryDate,
		Status:       req.Status,
		CustomerName: req.CustomerName,
		Notes:        req.Notes,
	}
	if rec.LicenseKey == "" {
		rec.LicenseKey = s.codec.GenerateAt(fp, req.Days, now)
	}
	if rec.ExpiryDate == "" {
		rec.ExpiryDate = FormatExpiry(now.In(s.loc).Add(time.Duration(req.Days) * day))
	}

	created, err := s.Create(ctx, rec)
	if err != nil {
		return Record{}, err
	}

	s.logger.InfoContext(ctx, "license issued",
		slog.String("fingerprint", created.Fingerprint()),
		slog.Int("days", req.Days),
		slog.String("expiry_date", created.ExpiryDate),
		slog.String("license_key", MaskKey(created.LicenseKey)))
	return created, nil
}

// Extension is the outcome of Extend.
type Extension struct {
	DeviceID   string `json:"device_id"`
	ExpiryDate string `json:"new_expiry"`
	LicenseKey string `json:"license_key"`
	// KeyDays is the whole-day validity baked into the new key.
	KeyDays int `json:"key_days"`
}

// Extend pushes the expiry of deviceID out by days, counting from now when
// the current expiry is missing, unparseable or already past. The new key
// embeds the whole days between now and the new expiry rather than days.
// Both fields are written with one backend update.
func (s *Store) Extend(ctx context.Context, deviceID string, days int) (Extension, error) {
	fp, err := fingerprintOf(deviceID)
	if err != nil {
		return Extension{}, err
	}

	var ext Extension
	err = s.do(ctx, "extend", fp, func(ctx context.Context, b Backend) error {
		rec, err := b.Find(ctx, fp)
		if err != nil {
			return err
		}

		now := s.now().In(s.loc)
		base := now
		if current, ok := rec.Expiry(s.loc); ok && current.After(now) {
			base = current
		}
		expiryDate := FormatExpiry(base.Add(time.Duration(days) * day))

		// The key duration is measured from the stored, second-precision
		// expiry to a fresh clock reading, so sub-second remainders drop a day.
		stored, _ := ParseExpiry(expiryDate, s.loc)
		issuedAt := s.now()
		keyDays := floorDays(stored.Sub(issuedAt))

		ext = Extension{
			DeviceID:   rec.DeviceID,
			ExpiryDate: expiryDate,
			LicenseKey: s.codec.GenerateAt(fp, keyDays, issuedAt),
			KeyDays:    keyDays,
		}
		return b.Update(ctx, fp, RecordUpdate{
			ExpiryDate: Some(ext.ExpiryDate),
			LicenseKey: Some(ext.LicenseKey),
		})
	})
	if err != nil {
		return Extension{}, err
	}

	s.logger.InfoContext(ctx, "license extended",
		slog.String("fingerprint", fp),
		slog.Int("days", days),
		slog.Int("key_days", ext.KeyDays),
		slog.String("new_expiry", ext.ExpiryDate))
	return ext, nil
}

// floorDays counts whole days in d, rounding toward negative infinity.
func floorDays(d time.Duration) int {
	n := int(d / day)
	if d%day < 0 {
		n--
	}
	return n
}

// Fingerprint is a convenience re-export of keycodec.Fingerprint.
func Fingerprint(deviceID string) string {
	return keycodec.Fingerprint(deviceID)
}
