// Package app wires the license server together and manages its lifecycle.
//
// New builds every component from a config.Config:
//
//  1. OpenTelemetry providers and the Prometheus scrape handler
//  2. The settings store, sealed with the session secret
//  3. The license backend chosen by the effective settings, with SQLite as
//     the fallback when the configured backend is unreachable
//  4. The license store, websocket hub and services
//  5. The chi router and the HTTP server
//
// Run serves until its context is cancelled or SIGINT or SIGTERM arrives,
// then Stop drains requests and closes the hub, the backend and telemetry.
//
//	application, err := app.New(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return application.Run(ctx)
//
// Errors are returned to the caller; the package never exits the process.
package app
