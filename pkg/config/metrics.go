package config

import (
	"github.com/gmicheli/driftwatch/pkg/dispatch"
	"github.com/gmicheli/driftwatch/pkg/metrics"
	"github.com/gmicheli/driftwatch/pkg/resilience"
	"github.com/gmicheli/driftwatch/pkg/tracker"
	"github.com/gmicheli/driftwatch/pkg/watch"
)

// MetricsResult contains all metrics components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Per-component collectors. Nil when metrics are disabled; consumers
	// substitute their no-op implementations.
	Tracker  tracker.Metrics
	Dispatch dispatch.Metrics
	Breaker  resilience.Metrics
	Watch    watch.Metrics
}

// InitializeMetrics creates all metrics components based on configuration.
//
// When enabled this initializes the global Prometheus registry, builds the
// HTTP server and creates Prometheus-backed collectors for every component.
// When disabled everything stays nil and components run with no-op
// collectors at zero overhead.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server:   metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port}),
		Tracker:  metrics.NewTrackerMetrics(),
		Dispatch: metrics.NewDispatchMetrics(),
		Breaker:  metrics.NewBreakerMetrics(),
		Watch:    metrics.NewWatchMetrics(),
	}
}
