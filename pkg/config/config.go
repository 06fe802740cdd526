package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/marmos91/framingd/pkg/adapter/framing"
)

// Config represents the complete framingd configuration.
//
// This structure captures all configurable aspects of the server including:
//   - Logging configuration
//   - Server-wide settings (shutdown, dispatch, metrics)
//   - Buffer pool sizing and framing limits
//   - Transport adapter configurations
//   - Endpoint and queue definitions
//   - Dead-letter store selection (store-specific)
//
// Configuration sources (in order of precedence):
//  1. Environment variables (FRAMINGD_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Buffers sizes the shared buffer pool
	Buffers BuffersConfig `mapstructure:"buffers" yaml:"buffers"`

	// Framing bounds decoded framing records
	Framing FramingConfig `mapstructure:"framing" yaml:"framing"`

	// Adapters contains transport adapter configurations
	Adapters AdaptersConfig `mapstructure:"adapters" yaml:"adapters"`

	// Endpoints lists the addresses messages may be sent to
	Endpoints []EndpointConfig `mapstructure:"endpoints" yaml:"endpoints" validate:"dive"`

	// Queues lists the spool directories read by queue receivers
	Queues []QueueConfig `mapstructure:"queues" yaml:"queues" validate:"dive"`

	// DeadLetter selects where poison queued messages are kept
	DeadLetter DeadLetterConfig `mapstructure:"dead_letter" yaml:"dead_letter"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for adapters to stop and
	// dispatchers to drain
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// Dispatchers is the number of goroutines handling messages from the
	// framing adapters
	Dispatchers int `mapstructure:"dispatchers" yaml:"dispatchers" validate:"min=1,max=1024"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// MetricsConfig configures metrics collection and the metrics HTTP server.
type MetricsConfig struct {
	// Enabled turns on Prometheus collection and the /metrics endpoint
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// BindAddress is the interface the metrics server listens on
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`

	// Port is the metrics HTTP port
	Port int `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`
}

// BuffersConfig sizes the buffer pool shared by connections and queue
// segment readers.
type BuffersConfig struct {
	// MaxPoolSize is the memory budget for pooled buffers in bytes.
	// 0 disables pooling.
	MaxPoolSize int64 `mapstructure:"max_pool_size" yaml:"max_pool_size" validate:"min=0"`

	// MaxBufferSize is the largest buffer size that is pooled
	MaxBufferSize int `mapstructure:"max_buffer_size" yaml:"max_buffer_size" validate:"min=0"`

	// ConnectionBufferSize is the read buffer rented for each connection
	ConnectionBufferSize int `mapstructure:"connection_buffer_size" yaml:"connection_buffer_size" validate:"min=0"`
}

// FramingConfig bounds the records of a framing message.
type FramingConfig struct {
	// MaxViaLength bounds the via URI in bytes
	MaxViaLength int `mapstructure:"max_via_length" yaml:"max_via_length" validate:"min=0"`

	// MaxContentTypeLength bounds the content type in bytes
	MaxContentTypeLength int `mapstructure:"max_content_type_length" yaml:"max_content_type_length" validate:"min=0"`

	// MaxReceivedMessageSize bounds message bodies. 0 means unlimited.
	MaxReceivedMessageSize int64 `mapstructure:"max_received_message_size" yaml:"max_received_message_size" validate:"min=0"`
}

// AdaptersConfig contains all transport adapter configurations.
type AdaptersConfig struct {
	// TCP uses the framing.TCPConfig type directly to avoid duplication.
	TCP framing.TCPConfig `mapstructure:"tcp" yaml:"tcp"`

	// Pipe uses the framing.PipeConfig type directly.
	Pipe framing.PipeConfig `mapstructure:"pipe" yaml:"pipe"`
}

// EndpointConfig defines one endpoint address.
type EndpointConfig struct {
	// Name identifies the endpoint in logs. Defaults to the address.
	Name string `mapstructure:"name" yaml:"name"`

	// Address is the absolute endpoint URI, e.g. net.tcp://localhost/orders.
	// The host may be "+" or "*" to match any host.
	Address string `mapstructure:"address" yaml:"address" validate:"required"`
}

// QueueConfig defines one queue receiver reading a spool directory.
type QueueConfig struct {
	// Name identifies the receiver in logs, metrics and dead-letter records
	Name string `mapstructure:"name" yaml:"name" validate:"required"`

	// Directory is the spool directory holding one message per .msg file
	Directory string `mapstructure:"directory" yaml:"directory" validate:"required"`

	// PollInterval bounds how long a new file may go unnoticed
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" validate:"min=0"`

	// SegmentSize splits message files into segments of at most this size
	SegmentSize int `mapstructure:"segment_size" yaml:"segment_size" validate:"min=0"`
}

// DeadLetterConfig selects the dead-letter store.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type DeadLetterConfig struct {
	// Type specifies which store implementation to use
	// Valid values: none, memory, badger, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=none memory badger s3"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (FRAMINGD_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
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

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: FRAMINGD_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("FRAMINGD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper knows about, so scalar keys
	// are bound up front for Unmarshal to see them.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/framingd/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"server.shutdown_timeout",
	"server.dispatchers",
	"server.metrics.enabled",
	"server.metrics.port",
	"buffers.max_pool_size",
	"framing.max_received_message_size",
	"adapters.tcp.enabled",
	"adapters.tcp.port",
	"adapters.tcp.max_connections",
	"adapters.pipe.enabled",
	"adapters.pipe.path",
	"dead_letter.type",
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			// Missing config file is acceptable - use defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "framingd")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "framingd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
