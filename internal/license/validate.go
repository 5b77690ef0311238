package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "licensesrv/internal/errors"
)

// Validation reasons for invalid licenses.
const (
	ReasonNotActivated = "not activated"
	ReasonDisabled     = "disabled"
	reasonExpiredOn    = "expired on "
	reasonActive       = "active"
)

// Validation answers "is this device licensed?".
type Validation struct {
	Valid         bool   `json:"valid"`
	Message       string `json:"message"`
	LicenseKey    string `json:"license_key,omitempty"`
	ExpiryDate    string `json:"expiry_date,omitempty"`
	CustomerName  string `json:"customer_name,omitempty"`
	DaysRemaining *int   `json:"days_left,omitempty"`
}

// Validate checks the license of deviceID. Unknown devices are a negative
// answer, not an error; only backend failures and an empty id return errors.
func (s *Store) Validate(ctx context.Context, deviceID string) (Validation, error) {
	rec, err := s.FindByFingerprint(ctx, deviceID)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		s.metrics.recordValidation(ctx, "not_activated")
		return Validation{Message: ReasonNotActivated}, nil
	case err != nil:
		return Validation{}, err
	}

	if rec.Status != StatusActive {
		s.metrics.recordValidation(ctx, "disabled")
		return Validation{Message: ReasonDisabled}, nil
	}

	expiry, ok := rec.Expiry(s.loc)
	if !ok {
		// Missing or corrupt expiry still validates, without remaining days.
		s.metrics.recordValidation(ctx, "valid")
		return Validation{
			Valid:        true,
			Message:      reasonActive,
			LicenseKey:   rec.LicenseKey,
			ExpiryDate:   rec.ExpiryDate,
			CustomerName: rec.CustomerName,
		}, nil
	}

	now := s.now().In(s.loc)
	if expiry.Before(now) {
		s.metrics.recordValidation(ctx, "expired")
		return Validation{Message: reasonExpiredOn + expiry.In(s.loc).Format("02/01/2006")}, nil
	}

	remaining := calendarDays(now, expiry, s.loc)
	s.metrics.recordValidation(ctx, "valid")
	return Validation{
		Valid:         true,
		Message:       fmt.Sprintf("%d days remaining", remaining),
		LicenseKey:    rec.LicenseKey,
		ExpiryDate:    rec.ExpiryDate,
		CustomerName:  rec.CustomerName,
		DaysRemaining: &remaining,
	}, nil
}

// calendarDays counts date boundaries between from and to in loc.
func calendarDays(from, to time.Time, loc *time.Location) int {
	fy, fm, fd := from.In(loc).Date()
	ty, tm, td := to.In(loc).Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a) / day)
}
