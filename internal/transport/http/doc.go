// Package http implements the HTTP handlers of the license server. Handlers
// parse and validate requests, call the services package and render JSON.
// Failures go through errors.ErrorHandler and reach clients as RFC 7807
// problem details.
//
// # Handlers
//
//	LicenseHandler   validation, license administration, export
//	AuthHandler      admin login, logout and session check
//	SettingsHandler  backend settings, sheets test, debug status
//	HealthHandler    health, readiness and liveness probes
//
// Routing and middleware are set up by the app package.
package http
