package config

import "gopkg.in/yaml.v3"

// SampleYAML renders GetDefaultConfig as a YAML document that Load accepts
// unchanged. Durations are written in their string form so the file stays
// readable.
func SampleYAML() ([]byte, error) {
	cfg := GetDefaultConfig()
	doc := map[string]any{
		"logging": map[string]any{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
			"output": cfg.Logging.Output,
		},
		"engine": map[string]any{
			"shutdown_timeout":      cfg.Engine.ShutdownTimeout.String(),
			"queue_size":            cfg.Engine.QueueSize,
			"workers":               cfg.Engine.Workers,
			"enqueue_timeout":       cfg.Engine.EnqueueTimeout.String(),
			"max_retries":           cfg.Engine.MaxRetries,
			"retry_base":            cfg.Engine.RetryBase.String(),
			"debounce_window":       cfg.Engine.DebounceWindow.String(),
			"hash_threshold":        cfg.Engine.HashThreshold,
			"default_poll_interval": cfg.Engine.DefaultPollInterval.String(),
		},
		"eventstore": map[string]any{
			"type":   cfg.EventStore.Type,
			"badger": cfg.EventStore.Badger,
		},
		"catalog": map[string]any{
			"type":   cfg.Catalog.Type,
			"badger": cfg.Catalog.Badger,
		},
		"resilience": map[string]any{
			"max_failures":  cfg.Resilience.MaxFailures,
			"base_backoff":  cfg.Resilience.BaseBackoff.String(),
			"max_backoff":   cfg.Resilience.MaxBackoff.String(),
			"probe_timeout": cfg.Resilience.ProbeTimeout.String(),
			"cache_entries": cfg.Resilience.CacheEntries,
		},
		"metrics": map[string]any{
			"enabled": cfg.Metrics.Enabled,
			"port":    cfg.Metrics.Port,
		},
		"roots": []map[string]any{{
			"name":     cfg.Roots[0].Name,
			"protocol": cfg.Roots[0].Protocol,
			"local":    cfg.Roots[0].Local,
		}},
	}
	return yaml.Marshal(doc)
}
