package config

import (
	"strings"
	"time"

	"github.com/marmos91/framingd/internal/protocol/framing"
	adapterFraming "github.com/marmos91/framingd/pkg/adapter/framing"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Store-specific defaults are handled by the store factories
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyBuffersDefaults(&cfg.Buffers)
	applyFramingDefaults(&cfg.Framing)
	applyAdaptersDefaults(&cfg.Adapters)
	applyQueueDefaults(cfg.Queues)
	applyDeadLetterDefaults(&cfg.DeadLetter)

	if cfg.Endpoints == nil {
		cfg.Endpoints = []EndpointConfig{}
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Dispatchers == 0 {
		cfg.Dispatchers = 4
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

// applyBuffersDefaults sets buffer pool defaults.
func applyBuffersDefaults(cfg *BuffersConfig) {
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = 64 * 1024 * 1024 // 64MB
	}
	if cfg.MaxBufferSize == 0 {
		cfg.MaxBufferSize = 64 * 1024 // 64KB
	}
	if cfg.ConnectionBufferSize == 0 {
		cfg.ConnectionBufferSize = 4096
	}
}

// applyFramingDefaults sets framing record limits.
func applyFramingDefaults(cfg *FramingConfig) {
	if cfg.MaxViaLength == 0 {
		cfg.MaxViaLength = framing.DefaultLimits.MaxViaLength
	}
	if cfg.MaxContentTypeLength == 0 {
		cfg.MaxContentTypeLength = framing.DefaultLimits.MaxContentTypeLength
	}
	if cfg.MaxReceivedMessageSize == 0 {
		cfg.MaxReceivedMessageSize = 65536 // 64KB
	}
}

// applyAdaptersDefaults sets adapter defaults.
func applyAdaptersDefaults(cfg *AdaptersConfig) {
	// Enable the TCP adapter when nothing was configured, so a freshly
	// loaded config has an adapter and passes validation. An explicit
	// port without enabled: true keeps it disabled.
	if !cfg.TCP.Enabled && !cfg.Pipe.Enabled && cfg.TCP.Port == 0 {
		cfg.TCP.Enabled = true
	}

	applyTCPDefaults(&cfg.TCP)
	applyPipeDefaults(&cfg.Pipe)
}

// applyTCPDefaults sets TCP adapter defaults.
func applyTCPDefaults(cfg *adapterFraming.TCPConfig) {
	if cfg.Port == 0 {
		cfg.Port = adapterFraming.DefaultTCPPort
	}

	// MaxConnections and AcceptRate default to 0 (unlimited)

	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.MetricsLogInterval == 0 {
		cfg.MetricsLogInterval = 5 * time.Minute
	}
}

// applyPipeDefaults sets pipe adapter defaults.
func applyPipeDefaults(cfg *adapterFraming.PipeConfig) {
	if cfg.Path == "" {
		cfg.Path = "/tmp/framingd.sock"
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 4096
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyQueueDefaults sets queue receiver defaults.
func applyQueueDefaults(queues []QueueConfig) {
	for i := range queues {
		q := &queues[i]
		if q.PollInterval == 0 {
			q.PollInterval = time.Second
		}
		if q.SegmentSize == 0 {
			q.SegmentSize = 4096
		}
	}
}

// applyDeadLetterDefaults sets dead-letter store defaults.
func applyDeadLetterDefaults(cfg *DeadLetterConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}

	// Apply defaults for all store types (for config file generation)
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = "/tmp/framingd-deadletter"
	}
	if _, ok := cfg.S3["key_prefix"]; !ok {
		cfg.S3["key_prefix"] = "framingd/deadletter/"
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Adapters: AdaptersConfig{
			TCP: adapterFraming.TCPConfig{
				Enabled: true,
			},
		},
		Endpoints: []EndpointConfig{
			{
				Name:    "default",
				Address: "net.tcp://+/",
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
