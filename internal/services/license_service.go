package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "licensesrv/internal/errors"
	"licensesrv/internal/license"
	"licensesrv/internal/security"
)

// Events published to the websocket hub.
const (
	EventLicenseCreated  = "license.created"
	EventLicenseUpdated  = "license.updated"
	EventLicenseDeleted  = "license.deleted"
	EventLicenseExtended = "license.extended"
	EventBackendChanged  = "backend.changed"
)

// ReasonMissingDeviceID answers a validation request without a device id.
const ReasonMissingDeviceID = "missing device_id"

// WebSocketHub interface for WebSocket communication
type WebSocketHub interface {
	Broadcast(messageType string, data interface{})
}

// LicenseEvent is the payload of license change events.
type LicenseEvent struct {
	DeviceID    string    `json:"device_id"`
	Fingerprint string    `json:"fingerprint"`
	Status      string    `json:"status,omitempty"`
	ExpiryDate  string    `json:"expiry_date,omitempty"`
	Fields      []string  `json:"fields,omitempty"`
	Actor       string    `json:"actor,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// IssueInput is an issuance request from the admin API. A nil Days selects
// the configured default.
type IssueInput struct {
	DeviceID     string
	Days         *int
	LicenseKey   string
	ExpiryDate   string
	Status       string
	CustomerName string
	Notes        string
}

// LicenseService validates, issues and administers licenses.
type LicenseService struct {
	store       *license.Store
	validator   *security.InputValidator
	hub         WebSocketHub
	defaultDays int
	logger      *slog.Logger
}

// NewLicenseService creates the service. hub may be nil.
func NewLicenseService(store *license.Store, validator *security.InputValidator, hub WebSocketHub, defaultDays int, logger *slog.Logger) *LicenseService {
	if logger == nil {
		logger = slog.Default()
	}
	if validator == nil {
		validator = security.NewInputValidator(nil, logger)
	}
	return &LicenseService{
		store:       store,
		validator:   validator,
		hub:         hub,
		defaultDays: defaultDays,
		logger:      logger.With(slog.String("service", "license")),
	}
}

// DefaultDays is the validity used when a request names none.
func (s *LicenseService) DefaultDays() int {
	return s.defaultDays
}

// Validate answers the public validation call. A missing device id is a
// negative answer rather than an error.
func (s *LicenseService) Validate(ctx context.Context, deviceID string) (license.Validation, error) {
	if strings.TrimSpace(deviceID) == "" {
		return license.Validation{Message: ReasonMissingDeviceID}, nil
	}
	return s.store.Validate(ctx, deviceID)
}

// List returns every license of the active backend.
func (s *LicenseService) List(ctx context.Context) ([]license.Record, error) {
	return s.store.List(ctx)
}

// Get returns the license of deviceID.
func (s *LicenseService) Get(ctx context.Context, deviceID string) (license.Record, error) {
	id, err := s.deviceID(ctx, deviceID)
	if err != nil {
		return license.Record{}, err
	}
	return s.store.FindByFingerprint(ctx, id)
}

// Issue creates a license, generating its key and expiry unless overridden.
func (s *LicenseService) Issue(ctx context.Context, actor string, in IssueInput) (license.Record, error) {
	id, err := s.deviceID(ctx, in.DeviceID)
	if err != nil {
		return license.Record{}, err
	}
	days := s.defaultDays
	if in.Days != nil {
		days = *in.Days
	}

	req := license.IssueRequest{
		DeviceID: strings.ToUpper(id),
		Days:     days,
		Status:   license.Status(strings.TrimSpace(in.Status)),
	}
	if req.LicenseKey, err = s.licenseKey(ctx, in.LicenseKey); err != nil {
		return license.Record{}, err
	}
	if req.ExpiryDate, err = expiryDate(in.ExpiryDate); err != nil {
		return license.Record{}, err
	}
	if req.CustomerName, err = s.text(ctx, "customer_name", in.CustomerName); err != nil {
		return license.Record{}, err
	}
	if req.Notes, err = s.text(ctx, "notes", in.Notes); err != nil {
		return license.Record{}, err
	}

	rec, err := s.store.Issue(ctx, req)
	if err != nil {
		return license.Record{}, err
	}
	s.publish(EventLicenseCreated, LicenseEvent{
		DeviceID:    rec.DeviceID,
		Fingerprint: rec.Fingerprint(),
		Status:      string(rec.Status),
		ExpiryDate:  rec.ExpiryDate,
		Actor:       actor,
	})
	return rec, nil
}

// Update changes the set fields of u.
func (s *LicenseService) Update(ctx context.Context, actor, deviceID string, u license.RecordUpdate) error {
	id, err := s.deviceID(ctx, deviceID)
	if err != nil {
		return err
	}
	if u.LicenseKey.Set {
		if u.LicenseKey.Value, err = s.licenseKey(ctx, u.LicenseKey.Value); err != nil {
			return err
		}
	}
	if u.ExpiryDate.Set {
		if u.ExpiryDate.Value, err = expiryDate(u.ExpiryDate.Value); err != nil {
			return err
		}
	}
	if u.CustomerName.Set {
		if u.CustomerName.Value, err = s.text(ctx, "customer_name", u.CustomerName.Value); err != nil {
			return err
		}
	}
	if u.Notes.Set {
		if u.Notes.Value, err = s.text(ctx, "notes", u.Notes.Value); err != nil {
			return err
		}
	}
	if u.Status.Set {
		u.Status.Value = license.Status(strings.TrimSpace(string(u.Status.Value)))
	}

	if err := s.store.Update(ctx, id, u); err != nil {
		return err
	}
	event := LicenseEvent{
		DeviceID:    strings.ToUpper(id),
		Fingerprint: license.Fingerprint(id),
		Fields:      u.Fields(),
		Actor:       actor,
	}
	if u.Status.Set {
		event.Status = string(u.Status.Value)
	}
	if u.ExpiryDate.Set {
		event.ExpiryDate = u.ExpiryDate.Value
	}
	s.publish(EventLicenseUpdated, event)
	return nil
}

// SetStatus enables or disables a license.
func (s *LicenseService) SetStatus(ctx context.Context, actor, deviceID string, status license.Status) error {
	if status != license.StatusActive && status != license.StatusDisabled {
		return fmt.Errorf("%w: status must be %q or %q", apperrors.ErrInvalidInput, license.StatusActive, license.StatusDisabled)
	}
	return s.Update(ctx, actor, deviceID, license.RecordUpdate{Status: license.Some(status)})
}

// Delete removes a license.
func (s *LicenseService) Delete(ctx context.Context, actor, deviceID string) error {
	id, err := s.deviceID(ctx, deviceID)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.publish(EventLicenseDeleted, LicenseEvent{
		DeviceID:    strings.ToUpper(id),
		Fingerprint: license.Fingerprint(id),
		Actor:       actor,
	})
	return nil
}

// Extend pushes the expiry out by days, or by the default when days is nil.
func (s *LicenseService) Extend(ctx context.Context, actor, deviceID string, days *int) (license.Extension, error) {
	id, err := s.deviceID(ctx, deviceID)
	if err != nil {
		return license.Extension{}, err
	}
	n := s.defaultDays
	if days != nil {
		n = *days
	}
	ext, err := s.store.Extend(ctx, id, n)
	if err != nil {
		return license.Extension{}, err
	}
	s.publish(EventLicenseExtended, LicenseEvent{
		DeviceID:    ext.DeviceID,
		Fingerprint: license.Fingerprint(id),
		ExpiryDate:  ext.ExpiryDate,
		Fields:      []string{"expiry_date", "license_key"},
		Actor:       actor,
	})
	return ext, nil
}

func (s *LicenseService) deviceID(ctx context.Context, deviceID string) (string, error) {
	result := s.validator.ValidateDeviceID(ctx, deviceID)
	if !result.IsValid {
		return "", fmt.Errorf("%w: %s", apperrors.ErrInvalidInput, result.Error())
	}
	return result.SanitizedValue, nil
}

func (s *LicenseService) licenseKey(ctx context.Context, key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", nil
	}
	result := s.validator.ValidateLicenseKey(ctx, key)
	if !result.IsValid {
		return "", fmt.Errorf("%w: %s", apperrors.ErrInvalidInput, result.Error())
	}
	return result.SanitizedValue, nil
}

func (s *LicenseService) text(ctx context.Context, field, value string) (string, error) {
	if value == "" {
		return "", nil
	}
	result := s.validator.ValidateText(ctx, field, value)
	if !result.IsValid {
		return "", fmt.Errorf("%w: %s", apperrors.ErrInvalidInput, result.Error())
	}
	return result.SanitizedValue, nil
}

// expiryDate accepts an empty override or one the store can read back.
func expiryDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if _, ok := license.ParseExpiry(s, time.UTC); !ok {
		return "", fmt.Errorf("%w: expiry_date %q is not an ISO-8601 date", apperrors.ErrInvalidInput, s)
	}
	return s, nil
}

func (s *LicenseService) publish(event string, data LicenseEvent) {
	if s.hub == nil {
		return
	}
	data.Timestamp = time.Now().UTC()
	s.hub.Broadcast(event, data)
}
