package config

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain.
const (
	defaultLogLevel       = "warn"
	defaultLogFormat      = "text"
	defaultConnectTimeout = "10s"
	defaultRequestTimeout = "30s"
	defaultUploadTimeout  = "0"
	defaultAuthURL        = "https://auth.mail.ru"
	defaultCloudURL       = "https://cloud.mail.ru"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		LoggingConfig: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		NetworkConfig: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			RequestTimeout: defaultRequestTimeout,
			UploadTimeout:  defaultUploadTimeout,
		},
		CloudConfig: CloudConfig{
			AuthURL:  defaultAuthURL,
			CloudURL: defaultCloudURL,
		},
	}
}
