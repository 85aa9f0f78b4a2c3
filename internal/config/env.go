package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig         = "B2_GO_CONFIG"
	EnvAccountID      = "B2_ACCOUNT_ID"
	EnvApplicationKey = "B2_APPLICATION_KEY"
	EnvBucketName     = "B2_BUCKET_NAME"
)

// EnvOverrides holds values derived from environment variables. Credentials
// are overridable here so they can be kept out of the config file entirely.
type EnvOverrides struct {
	ConfigPath     string // B2_GO_CONFIG: override config file path
	AccountID      string // B2_ACCOUNT_ID
	ApplicationKey string // B2_APPLICATION_KEY
	BucketName     string // B2_BUCKET_NAME
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. It does not modify a Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:     os.Getenv(EnvConfig),
		AccountID:      os.Getenv(EnvAccountID),
		ApplicationKey: os.Getenv(EnvApplicationKey),
		BucketName:     os.Getenv(EnvBucketName),
	}
}
