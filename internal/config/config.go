// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for cloudmail-upload. It supports a
// four-layer override chain (defaults -> config file -> environment -> CLI
// flags). All keys are flat and top-level; the section structs below only
// group them in code.
package config

import (
	"fmt"
	"time"
)

// Config is the top-level configuration structure parsed from a TOML file.
// The embedded structs are flattened by the TOML decoder, so `log_level`
// lives at the top level of the file rather than under a [logging] table.
type Config struct {
	LoggingConfig
	NetworkConfig
	CloudConfig
	UploadConfig
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior. Durations are Go duration
// strings ("10s", "2m"). upload_timeout = "0" disables the limit, which is
// what large files need on slow links.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	RequestTimeout string `toml:"request_timeout"`
	UploadTimeout  string `toml:"upload_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// CloudConfig points the client at the service endpoints. Only tests and
// mirrors need to change these.
type CloudConfig struct {
	AuthURL  string `toml:"auth_url"`
	CloudURL string `toml:"cloud_url"`
}

// UploadConfig controls how local names map to remote ones.
type UploadConfig struct {
	NormalizeUnicode bool `toml:"normalize_unicode"`
}

// Timeouts are the parsed network durations.
type Timeouts struct {
	Connect time.Duration
	Request time.Duration
	Upload  time.Duration
}

// Timeouts parses the network durations. Validate has already rejected bad
// values for a loaded config, so an error here means the struct was built
// by hand.
func (n *NetworkConfig) Timeouts() (Timeouts, error) {
	var (
		t   Timeouts
		err error
	)

	if t.Connect, err = time.ParseDuration(n.ConnectTimeout); err != nil {
		return Timeouts{}, fmt.Errorf("connect_timeout: %w", err)
	}

	if t.Request, err = time.ParseDuration(n.RequestTimeout); err != nil {
		return Timeouts{}, fmt.Errorf("request_timeout: %w", err)
	}

	if t.Upload, err = time.ParseDuration(n.UploadTimeout); err != nil {
		return Timeouts{}, fmt.Errorf("upload_timeout: %w", err)
	}

	return t, nil
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. An empty string means "not specified".
type CLIOverrides struct {
	ConfigPath string // --config flag (empty = use default)
	LogLevel   string // derived from --verbose/--debug/--quiet
}
