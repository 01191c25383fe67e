package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gmicheli/driftwatch/internal/logger"
	"github.com/gmicheli/driftwatch/pkg/config"
	"github.com/gmicheli/driftwatch/pkg/engine"
	"github.com/gmicheli/driftwatch/pkg/protocol"
	"github.com/gmicheli/driftwatch/pkg/registry"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (default: "+config.GetDefaultConfigPath()+")")
	logLevel := flag.String("log-level", "", "Override configured log level (DEBUG, INFO, WARN, ERROR)")
	printSample := flag.Bool("print-sample-config", false, "Print a sample configuration file and exit")
	flag.Parse()

	if *printSample {
		sample, err := config.SampleYAML()
		if err != nil {
			log.Fatalf("Failed to render sample config: %v", err)
		}
		os.Stdout.Write(sample)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		log.Fatalf("Failed to configure log output: %v", err)
	}

	fmt.Println("driftwatch - storage change-tracking engine")
	logger.Info("Log level set to: %s", cfg.Logging.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsResult := config.InitializeMetrics(cfg)
	if metricsResult.Server != nil {
		go func() {
			if err := metricsResult.Server.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
		logger.Info("Metrics endpoint on port %d", metricsResult.Server.Port())
	}

	store, err := config.CreateEventStore(ctx, &cfg.EventStore)
	if err != nil {
		log.Fatalf("Failed to create event store: %v", err)
	}
	defer store.Close()

	cat, err := config.CreateCatalog(ctx, &cfg.Catalog)
	if err != nil {
		log.Fatalf("Failed to create catalog: %v", err)
	}
	defer cat.Close()

	reg := registry.New()
	for i := range cfg.Roots {
		rootCfg := &cfg.Roots[i]

		client, err := config.CreateBackend(rootCfg)
		if err != nil {
			log.Fatalf("Failed to create backend for root %q: %v", rootCfg.Name, err)
		}
		proto := client.Protocol()

		var handlerOpts []protocol.Option
		if cfg.Engine.HashThreshold > 0 {
			handlerOpts = append(handlerOpts, protocol.WithHashThreshold(cfg.Engine.HashThreshold))
		}

		err = reg.AddRoot(&registry.RootConfig{
			Name:         rootCfg.Name,
			Protocol:     proto,
			Client:       client,
			Handler:      protocol.ForProtocol(proto, handlerOpts...),
			PollInterval: rootCfg.PollInterval,
			RateLimit:    rootCfg.RateLimit,
		})
		if err != nil {
			log.Fatalf("Failed to register root %q: %v", rootCfg.Name, err)
		}
		logger.Info("Registered root %q (%s)", rootCfg.Name, proto)
	}

	eng := engine.New(cat, store, reg, engine.Options{
		QueueSize:           cfg.Engine.QueueSize,
		Workers:             cfg.Engine.Workers,
		EnqueueTimeout:      cfg.Engine.EnqueueTimeout,
		MaxRetries:          cfg.Engine.MaxRetries,
		RetryBase:           cfg.Engine.RetryBase,
		DebounceWindow:      cfg.Engine.DebounceWindow,
		DefaultPollInterval: cfg.Engine.DefaultPollInterval,
		ShutdownTimeout:     cfg.Engine.ShutdownTimeout,
		Resilience: engine.ResilienceOptions{
			MaxFailures:  cfg.Resilience.MaxFailures,
			BaseBackoff:  cfg.Resilience.BaseBackoff,
			MaxBackoff:   cfg.Resilience.MaxBackoff,
			ProbeTimeout: cfg.Resilience.ProbeTimeout,
			CacheEntries: cfg.Resilience.CacheEntries,
		},
		TrackerMetrics:  metricsResult.Tracker,
		DispatchMetrics: metricsResult.Dispatch,
		WatchMetrics:    metricsResult.Watch,
		BreakerMetrics:  metricsResult.Breaker,
	})

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- eng.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Engine is running with %d root(s). Press Ctrl+C to stop.", len(cfg.Roots))

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
		cancel()

		if err := <-engineDone; err != nil && err != context.Canceled {
			logger.Error("Engine shutdown error: %v", err)
			os.Exit(1)
		}
		logger.Info("Engine stopped gracefully")

	case err := <-engineDone:
		if err != nil && err != context.Canceled {
			logger.Error("Engine error: %v", err)
			os.Exit(1)
		}
		logger.Info("Engine stopped")
	}
}
