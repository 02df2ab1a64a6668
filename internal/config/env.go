package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig   = "CLOUDMAIL_UPLOAD_CONFIG"
	EnvLogLevel = "CLOUDMAIL_UPLOAD_LOG_LEVEL"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // CLOUDMAIL_UPLOAD_CONFIG: override config file path
	LogLevel   string // CLOUDMAIL_UPLOAD_LOG_LEVEL: baseline log level
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		LogLevel:   os.Getenv(EnvLogLevel),
	}
}
