package config

import (
	"strings"
	"time"

	"github.com/gmicheli/driftwatch/pkg/dispatch"
	"github.com/gmicheli/driftwatch/pkg/protocol"
	"github.com/gmicheli/driftwatch/pkg/resilience"
	"github.com/gmicheli/driftwatch/pkg/watch"
)

// DefaultPollInterval is used for polling roots that set no interval of
// their own.
const DefaultPollInterval = 30 * time.Second

// ApplyDefaults sets default values for any unspecified configuration
// fields.
//
// Called after loading from file and environment to fill in missing values.
// Zero values are replaced; explicit values are preserved. Backend-specific
// defaults are handled by the backend factories.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyEngineDefaults(&cfg.Engine)
	applyEventStoreDefaults(&cfg.EventStore)
	applyCatalogDefaults(&cfg.Catalog)
	applyResilienceDefaults(&cfg.Resilience)
	applyMetricsDefaults(&cfg.Metrics)
	applyRootDefaults(cfg.Roots)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalized so the logger and validation see one spelling.
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyEngineDefaults(cfg *EngineConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = dispatch.DefaultQueueSize
	}
	// Workers zero means one per CPU; the pool resolves it.
	if cfg.EnqueueTimeout == 0 {
		cfg.EnqueueTimeout = dispatch.DefaultEnqueueTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = dispatch.DefaultMaxRetries
	}
	if cfg.RetryBase == 0 {
		cfg.RetryBase = dispatch.DefaultRetryBase
	}
	if cfg.DebounceWindow == 0 {
		cfg.DebounceWindow = watch.DefaultDebounceWindow
	}
	if cfg.HashThreshold == 0 {
		cfg.HashThreshold = protocol.DefaultHashThreshold
	}
	if cfg.DefaultPollInterval == 0 {
		cfg.DefaultPollInterval = DefaultPollInterval
	}
}

func applyEventStoreDefaults(cfg *EventStoreConfig) {
	if cfg.Type == "" {
		cfg.Type = "badger"
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = "/var/lib/driftwatch/events"
	}
}

func applyCatalogDefaults(cfg *CatalogConfig) {
	if cfg.Type == "" {
		cfg.Type = "badger"
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = "/var/lib/driftwatch/catalog"
	}
}

func applyResilienceDefaults(cfg *ResilienceConfig) {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = resilience.DefaultMaxFailures
	}
	if cfg.BaseBackoff == 0 {
		cfg.BaseBackoff = resilience.DefaultBaseBackoff
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = resilience.DefaultMaxBackoff
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = resilience.DefaultProbeTimeout
	}
	if cfg.CacheEntries == 0 {
		cfg.CacheEntries = resilience.DefaultCacheEntries
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyRootDefaults(roots []RootConfig) {
	for i := range roots {
		root := &roots[i]
		root.Protocol = strings.ToLower(root.Protocol)

		if root.Local == nil {
			root.Local = make(map[string]any)
		}
		if root.SMB == nil {
			root.SMB = make(map[string]any)
		}
		if root.FTP == nil {
			root.FTP = make(map[string]any)
		}
		if root.NFS == nil {
			root.NFS = make(map[string]any)
		}
		if root.WebDAV == nil {
			root.WebDAV = make(map[string]any)
		}
	}
}

// GetDefaultConfig returns a Config with all default values applied.
//
// Useful for generating sample configuration files and for tests.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Roots: []RootConfig{
			{
				Name:     "local",
				Protocol: "local",
				Local:    map[string]any{"path": "/srv/driftwatch"},
			},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
