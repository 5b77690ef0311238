// Package license holds the license record model and the Store that issues,
// extends and validates licenses on top of a pluggable storage Backend.
//
// # Architecture Overview
//
//	- Record: one license row, keyed by the device fingerprint
//	- Backend: storage capability set (find, list, insert, update, delete)
//	- Store: backend-agnostic logic written once against Backend
//	- Metrics: OpenTelemetry instruments for store operations
//
// Two backends exist, a relational one (internal/storage/relational) and a
// Google Sheets one (internal/storage/sheets). The Store keeps the active
// backend behind an atomically swapped handle so settings changes apply
// without a restart. Every operation pins one handle for its whole run and
// a retired backend is closed only after its in-flight operations finish.
//
// # Fingerprints
//
// All lookups use the upper-cased first eight characters of the device
// identifier. Identifiers sharing that prefix are the same device.
//
// # Validation Flow
//
//	1. Look up the record by fingerprint
//	2. Missing record: "not activated"
//	3. Status other than active: "disabled"
//	4. Parseable expiry in the past: "expired on dd/mm/yyyy"
//	5. Otherwise valid, with calendar days remaining when the expiry parses
//
// Stored keys are echoed back verbatim and never re-verified here.
package license
