// Package config loads the server configuration and the runtime settings
// file.
//
// # Configuration Sources
//
// Values are resolved in this order, later sources winning:
//
//  1. Defaults from Default()
//  2. A YAML file (config.yaml, configs/config.yaml or LICENSE_CONFIG_FILE)
//  3. Environment variables, after loading an optional .env file
//
// Environment variables use the LICENSE_ prefix and the section name, for
// example LICENSE_SERVER_PORT or LICENSE_STORAGE_SHEET_NAME. A few settings
// also accept the unprefixed names used by earlier deployments:
//
//	PORT, SECRET_KEY, ADMIN_USERNAME, ADMIN_PASSWORD, FLASK_SECRET,
//	DATABASE, USE_GOOGLE_SHEETS, GOOGLE_SHEET_ID, GOOGLE_SERVICE_ACCOUNT_JSON
//
// # Runtime Settings
//
// SettingsStore persists the storage choice made through the admin API in
// a JSON file. Service account credentials are sealed with the session
// secret before they are written.
package config
