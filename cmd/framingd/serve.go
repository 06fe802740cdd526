package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/framingd/internal/logger"
	"github.com/marmos91/framingd/pkg/config"
	"github.com/marmos91/framingd/pkg/server"
)

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to the configuration file (default: "+config.GetDefaultConfigPath()+")")
	logLevel := fs.String("log-level", "", "Override the configured log level (DEBUG, INFO, WARN, ERROR)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	// Configure logger
	logger.SetLevel(cfg.Logging.Level)
	if err := logger.SetFormat(cfg.Logging.Format); err != nil {
		return err
	}
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		return err
	}

	fmt.Println("framingd - message framing server")
	logConfig(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	buffers := config.CreateBufferManager(&cfg.Buffers)
	metricsResult := config.InitializeMetrics(cfg, buffers)

	host, err := config.CreateHost(cfg, buffers)
	if err != nil {
		return err
	}

	adapters, err := config.CreateAdapters(cfg, host, buffers, metricsResult.FramingMetrics)
	if err != nil {
		return err
	}

	deadLetters, err := config.CreateDeadLetterStore(ctx, &cfg.DeadLetter)
	if err != nil {
		return err
	}
	if deadLetters != nil {
		defer func() {
			if err := deadLetters.Close(); err != nil {
				logger.Error("Failed to close dead-letter store: %v", err)
			}
		}()
	}

	receivers, sources, err := config.CreateReceivers(cfg, deadLetters, metricsResult.QueueMetrics)
	if err != nil {
		return err
	}
	defer func() {
		for _, src := range sources {
			_ = src.Close()
		}
	}()

	srv := server.New(server.Config{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Dispatchers:     cfg.Server.Dispatchers,
	}, host, server.LoggingHandler{})

	for _, a := range adapters {
		if err := srv.AddAdapter(a); err != nil {
			return err
		}
	}
	for _, r := range receivers {
		if err := srv.AddReceiver(r); err != nil {
			return err
		}
	}

	if metricsResult.Server != nil {
		go func() {
			if err := metricsResult.Server.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}

	// Start server in background
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
		cancel()

		if err := <-serverDone; err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		cancel()
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("Server stopped")
	}
	return nil
}

func logConfig(cfg *config.Config) {
	logger.Info("Log level set to: %s", cfg.Logging.Level)
	logger.Info("Server configuration:")
	logger.Info("  Shutdown timeout: %v", cfg.Server.ShutdownTimeout)
	logger.Info("  Dispatchers: %d", cfg.Server.Dispatchers)

	if tcp := cfg.Adapters.TCP; tcp.Enabled {
		logger.Info("  TCP: port %d", tcp.Port)
		if tcp.MaxConnections > 0 {
			logger.Info("    Max connections: %d", tcp.MaxConnections)
		} else {
			logger.Info("    Max connections: unlimited")
		}
		logger.Info("    Read timeout: %v", tcp.ReadTimeout)
		logger.Info("    Write timeout: %v", tcp.WriteTimeout)
		logger.Info("    Idle timeout: %v", tcp.IdleTimeout)
	}
	if pipe := cfg.Adapters.Pipe; pipe.Enabled {
		logger.Info("  Pipe: %s", pipe.Path)
	}
	for _, ep := range cfg.Endpoints {
		logger.Info("  Endpoint %s: %s", ep.Name, ep.Address)
	}
	for _, q := range cfg.Queues {
		logger.Info("  Queue %s: %s", q.Name, q.Directory)
	}
	logger.Info("  Dead letter store: %s", cfg.DeadLetter.Type)

	if cfg.Server.Metrics.Enabled {
		logger.Info("  Metrics: port %d", cfg.Server.Metrics.Port)
	} else {
		logger.Info("  (metrics disabled)")
	}
}
