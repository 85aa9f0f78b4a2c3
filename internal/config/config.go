// Package config loads and validates b2-go configuration from a TOML file
// with environment variable and CLI flag overrides layered on top.
package config

import (
	"os"
	"path/filepath"
)

// Config is the full configuration surface for the client.
type Config struct {
	AccountID      string `toml:"account_id"`
	ApplicationKey string `toml:"application_key"`
	BucketName     string `toml:"bucket_name"`

	// MaxRetries is the number of upload retries after the first attempt.
	MaxRetries int `toml:"max_retries"`

	// ContentType overrides the content type sent with uploads.
	// Empty lets the service sniff it.
	ContentType string `toml:"content_type"`

	// MinimumPartSize is the chunked-upload threshold and part size in
	// bytes. Zero disables chunked upload.
	MinimumPartSize int64 `toml:"minimum_part_size"`

	// Concurrency bounds parallel part uploads. 1 keeps parts sequential.
	Concurrency int `toml:"concurrency"`

	LogLevel string `toml:"log_level"`
}

// Default values applied before the config file is read.
const (
	DefaultMaxRetries  = 3
	DefaultConcurrency = 1
	DefaultLogLevel    = "info"
)

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:  DefaultMaxRetries,
		Concurrency: DefaultConcurrency,
		LogLevel:    DefaultLogLevel,
	}
}

// DefaultConfigPath returns the standard config file location
// (~/.config/b2-go/config.toml on Linux). Empty when the user config
// directory cannot be determined.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}

	return filepath.Join(dir, "b2-go", "config.toml")
}
