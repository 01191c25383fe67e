// Package config loads, defaults and validates the driftwatch
// configuration, and provides factories that turn configuration sections
// into live components.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete driftwatch configuration.
//
// This structure captures all configurable aspects of the engine including:
//   - Logging configuration
//   - Engine-wide settings (dispatch pool, debounce, hashing)
//   - Event store selection and configuration (store-specific)
//   - Resilience tuning (circuit breaker, offline cache)
//   - Metrics exposure
//   - Storage root definitions
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DRIFTWATCH_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values (lowest priority)
//
// Backend Configuration Pattern:
// Each storage root declares its protocol and carries a protocol-specific
// section; only the section matching the protocol is used.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Engine contains engine-wide settings
	Engine EngineConfig `mapstructure:"engine"`

	// EventStore specifies the rename event store type and configuration
	EventStore EventStoreConfig `mapstructure:"eventstore"`

	// Catalog specifies the media catalog type and configuration
	Catalog CatalogConfig `mapstructure:"catalog"`

	// Resilience tunes the per-root circuit breakers and offline caches
	Resilience ResilienceConfig `mapstructure:"resilience"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Roots defines the storage roots to watch
	Roots []RootConfig `mapstructure:"roots" validate:"dive"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// EngineConfig contains engine-wide settings.
type EngineConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// QueueSize bounds the dispatch queue
	QueueSize int `mapstructure:"queue_size" validate:"gte=0"`

	// Workers is the dispatch pool size; zero means one per CPU
	Workers int `mapstructure:"workers" validate:"gte=0"`

	// EnqueueTimeout is how long an enqueue blocks on a full queue before
	// the job is dropped
	EnqueueTimeout time.Duration `mapstructure:"enqueue_timeout"`

	// MaxRetries is the per-job retry budget
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0"`

	// RetryBase is the first retry delay; it doubles per attempt
	RetryBase time.Duration `mapstructure:"retry_base"`

	// DebounceWindow coalesces rapid successive modifications to one path
	DebounceWindow time.Duration `mapstructure:"debounce_window"`

	// HashThreshold is the size above which files are identified by
	// metadata instead of a content hash
	HashThreshold int64 `mapstructure:"hash_threshold" validate:"gte=0"`

	// DefaultPollInterval is used for polling roots that don't set one
	DefaultPollInterval time.Duration `mapstructure:"default_poll_interval"`
}

// EventStoreConfig specifies the rename event store configuration.
//
// The Type field determines which store implementation is used. Only the
// corresponding type-specific section is used.
type EventStoreConfig struct {
	// Type specifies which store implementation to use
	// Valid values: badger, memory
	Type string `mapstructure:"type" validate:"required,oneof=badger memory"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory"`
}

// CatalogConfig specifies the media catalog configuration.
//
// The catalog receives settled changes from the dispatch pool. Like the
// event store, the Type field selects the implementation and only the
// matching type-specific section is used.
type CatalogConfig struct {
	// Type specifies which catalog implementation to use
	// Valid values: badger, memory
	Type string `mapstructure:"type" validate:"required,oneof=badger memory"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory"`
}

// ResilienceConfig tunes the per-root circuit breakers.
type ResilienceConfig struct {
	// MaxFailures is how many consecutive failures mark a root offline
	MaxFailures int `mapstructure:"max_failures" validate:"gte=0"`

	// BaseBackoff is the first reconnect interval; it doubles per failed probe
	BaseBackoff time.Duration `mapstructure:"base_backoff"`

	// MaxBackoff caps the reconnect backoff growth
	MaxBackoff time.Duration `mapstructure:"max_backoff"`

	// ProbeTimeout bounds one reconnect probe attempt
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`

	// CacheEntries bounds the per-root offline cache
	CacheEntries int `mapstructure:"cache_entries" validate:"gte=0"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled turns metric collection and the HTTP endpoint on
	Enabled bool `mapstructure:"enabled"`

	// Port is the metrics HTTP port
	Port int `mapstructure:"port" validate:"gte=0,lte=65535"`
}

// RootConfig defines a single storage root to watch.
type RootConfig struct {
	// Name identifies the root; rename events are keyed by it
	Name string `mapstructure:"name" validate:"required"`

	// Protocol selects the backend and move semantics
	// Valid values: local, smb, ftp, nfs, webdav
	Protocol string `mapstructure:"protocol" validate:"required,oneof=local smb ftp nfs webdav"`

	// PollInterval overrides the engine default for this root.
	// Ignored for real-time (local) roots.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// RateLimit overrides the protocol's default listing rate
	RateLimit int `mapstructure:"rate_limit" validate:"gte=0"`

	// Local contains local-specific configuration (path)
	Local map[string]any `mapstructure:"local"`

	// SMB contains SMB-specific configuration (host, share, credentials)
	SMB map[string]any `mapstructure:"smb"`

	// FTP contains FTP-specific configuration (host, credentials)
	FTP map[string]any `mapstructure:"ftp"`

	// NFS contains NFS-specific configuration (mount point)
	NFS map[string]any `mapstructure:"nfs"`

	// WebDAV contains WebDAV-specific configuration (url, credentials)
	WebDAV map[string]any `mapstructure:"webdav"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DRIFTWATCH_*)
//  2. Configuration file
//  3. Default values
//
// An empty configPath uses the default location.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures environment variable and config file handling.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DRIFTWATCH_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DRIFTWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. A missing file
// is not an error; defaults apply.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "driftwatch")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "driftwatch")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
