package config

import "time"

// Application constants
const (
	AppName    = "licensesrv"
	AppVersion = "1.0.0"

	DefaultPort         = 5000
	DefaultSecretKey    = "VFX_SECRET_2024_THOTOOL"
	DefaultLicenseDays  = 30
	DefaultDatabaseFile = "licenses.db"
	DefaultSheetName    = "Licenses"
	DefaultSettingsFile = "server_settings.json"
	DefaultLogFile      = "logs/licensesrv.log"

	DefaultStorageTimeout = 10 * time.Second
	SessionTimeout        = 24 * time.Hour
	SessionCookieName     = "license_session"

	// Requests per second and burst allowed per client on /api/validate.
	DefaultValidateRPS   = 5
	DefaultValidateBurst = 20
)
