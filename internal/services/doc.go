// Package services implements the business layer between the HTTP handlers
// and the license store.
//
// # Services
//
//	- LicenseService: validation, issuance and administration of licenses.
//	  Every change is published to the websocket hub.
//	- SettingsService: runtime backend settings and the hot swap of the
//	  store's backend when they change.
//	- HealthService: health, readiness and liveness reports.
//
// # Error Handling
//
// Services return the sentinels of licensesrv/internal/errors, wrapped with
// %w, so handlers can map them to problem responses:
//
//	- ErrInvalidInput for rejected input
//	- ErrNotFound for unknown devices
//	- ErrAlreadyExists for duplicate devices
//	- ErrBackendUnavailable for storage failures
package services
