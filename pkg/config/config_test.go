package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "INFO"

endpoints:
  - name: "orders"
    address: "net.tcp://localhost/orders"

adapters:
  tcp:
    enabled: true
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Adapters.TCP.Port != 808 {
		t.Errorf("Expected default TCP port 808, got %d", cfg.Adapters.TCP.Port)
	}
	if len(cfg.Endpoints) != 1 || cfg.Endpoints[0].Name != "orders" {
		t.Errorf("Expected endpoint 'orders', got %+v", cfg.Endpoints)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// An explicit missing path keeps the user's own config out of the test
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.DeadLetter.Type != "memory" {
		t.Errorf("Expected default dead-letter type 'memory', got %q", cfg.DeadLetter.Type)
	}
	if !cfg.Adapters.TCP.Enabled {
		t.Error("Expected TCP adapter enabled when nothing is configured")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	configContent := `
logging:
  level: INFO
  invalid yaml here [[[
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_TOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
[logging]
level = "WARN"
format = "json"

[adapters.pipe]
enabled = true
path = "/tmp/framingd-test.sock"

[[queues]]
name = "orders"
directory = "/tmp/framingd-spool"
poll_interval = "250ms"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format 'json', got %q", cfg.Logging.Format)
	}
	if cfg.Adapters.TCP.Enabled {
		t.Error("Expected TCP adapter to stay disabled when the pipe adapter is configured")
	}
	if len(cfg.Queues) != 1 || cfg.Queues[0].PollInterval != 250*time.Millisecond {
		t.Errorf("Expected one queue polling every 250ms, got %+v", cfg.Queues)
	}
	if cfg.Queues[0].SegmentSize != 4096 {
		t.Errorf("Expected default segment size 4096, got %d", cfg.Queues[0].SegmentSize)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "INFO"
adapters:
  tcp:
    enabled: true
    port: 9000
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	t.Setenv("FRAMINGD_LOGGING_LEVEL", "debug")
	t.Setenv("FRAMINGD_ADAPTERS_TCP_PORT", "9808")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level 'DEBUG' from environment, got %q", cfg.Logging.Level)
	}
	if cfg.Adapters.TCP.Port != 9808 {
		t.Errorf("Expected port 9808 from environment, got %d", cfg.Adapters.TCP.Port)
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
dead_letter:
  type: "redis"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for unknown dead-letter type")
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.Dispatchers != 4 {
		t.Errorf("Expected 4 dispatchers, got %d", cfg.Server.Dispatchers)
	}
	if !cfg.Adapters.TCP.Enabled {
		t.Error("Expected TCP adapter enabled by default")
	}
	if cfg.Adapters.Pipe.Enabled {
		t.Error("Expected pipe adapter disabled by default")
	}
	if len(cfg.Endpoints) != 1 || cfg.Endpoints[0].Address != "net.tcp://+/" {
		t.Errorf("Expected one catch-all endpoint, got %+v", cfg.Endpoints)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Expected default config to be valid, got: %v", err)
	}
}

func TestGetConfigDir_XDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	if dir := GetConfigDir(); dir != filepath.Join("/custom/config", "framingd") {
		t.Errorf("Expected XDG-based config dir, got %q", dir)
	}
	if path := GetDefaultConfigPath(); path != filepath.Join("/custom/config", "framingd", "config.yaml") {
		t.Errorf("Expected XDG-based config path, got %q", path)
	}
}
