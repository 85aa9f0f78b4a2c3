package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// CLIOverrides holds values from command-line flags, the highest-priority
// layer of the override chain.
type CLIOverrides struct {
	ConfigPath string
	BucketName string
	LogLevel   string
}

// Load reads and parses a TOML config file, rejects unknown keys, and
// validates the result. Unknown keys are fatal because silently ignoring a
// typo in a config file leads to hard-to-debug behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values so credentials can come entirely
// from the environment.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
// Flags win because one-off overrides should not require editing the file.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if env.AccountID != "" {
		cfg.AccountID = env.AccountID
	}

	if env.ApplicationKey != "" {
		cfg.ApplicationKey = env.ApplicationKey
	}

	if env.BucketName != "" {
		cfg.BucketName = env.BucketName
	}

	if cli.BucketName != "" {
		cfg.BucketName = cli.BucketName
	}

	if cli.LogLevel != "" {
		cfg.LogLevel = cli.LogLevel
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the resolved configuration for completeness and sanity.
func Validate(cfg *Config) error {
	if cfg.AccountID == "" {
		return fmt.Errorf("account_id is required (config file or %s)", EnvAccountID)
	}

	if cfg.ApplicationKey == "" {
		return fmt.Errorf("application_key is required (config file or %s)", EnvApplicationKey)
	}

	if cfg.BucketName == "" {
		return fmt.Errorf("bucket_name is required (config file, %s, or --bucket)", EnvBucketName)
	}

	if cfg.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", cfg.MaxRetries)
	}

	if cfg.MinimumPartSize < 0 {
		return fmt.Errorf("minimum_part_size must be >= 0, got %d", cfg.MinimumPartSize)
	}

	if cfg.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1, got %d", cfg.Concurrency)
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug/info/warn/error, got %q", cfg.LogLevel)
	}

	return nil
}

// checkUnknownKeys fails when the TOML file carries keys the Config does not
// define.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	keys := make([]string, 0, len(undecoded))
	for _, k := range undecoded {
		keys = append(keys, k.String())
	}

	sort.Strings(keys)

	return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
}
