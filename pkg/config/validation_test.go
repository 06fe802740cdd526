package config

import (
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_InvalidDeadLetterType(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.DeadLetter.Type = "invalid"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for invalid dead-letter type")
	}
}

func TestValidate_ZeroShutdownTimeout(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.ShutdownTimeout = 0

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for zero shutdown timeout")
	}
}

func TestValidate_InvalidTCPPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Adapters.TCP.Port = 70000

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for out-of-range port")
	}
	if !strings.Contains(err.Error(), "Port") {
		t.Errorf("Expected error to name the port field, got: %v", err)
	}
}

func TestValidate_PipeRequiresPath(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Adapters.Pipe.Enabled = true
	cfg.Adapters.Pipe.Path = ""

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for pipe adapter without path")
	}
}

func TestValidate_NoAdaptersOrQueues(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Adapters.TCP.Enabled = false

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error with nothing to serve")
	}
	if !strings.Contains(err.Error(), "at least one adapter") {
		t.Errorf("Expected 'at least one adapter' error, got: %v", err)
	}

	cfg.Queues = []QueueConfig{{Name: "orders", Directory: t.TempDir()}}
	if err := Validate(cfg); err != nil {
		t.Errorf("Expected a queue alone to be enough, got: %v", err)
	}
}

func TestValidate_EndpointAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{"absolute tcp", "net.tcp://localhost/orders", false},
		{"wildcard host", "net.pipe://+/orders", false},
		{"relative", "/orders", true},
		{"no host", "net.tcp:orders", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			cfg.Endpoints = []EndpointConfig{{Name: "ep", Address: tt.address}}

			err := Validate(cfg)
			if tt.wantErr && err == nil {
				t.Errorf("Expected error for address %q", tt.address)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected error for address %q: %v", tt.address, err)
			}
		})
	}
}

func TestValidate_DuplicateEndpointNames(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Endpoints = []EndpointConfig{
		{Address: "net.tcp://localhost/a"},
		{Address: "net.tcp://localhost/a"},
	}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for duplicate endpoint names")
	}
	if !strings.Contains(err.Error(), "duplicate endpoint name") {
		t.Errorf("Expected duplicate name error, got: %v", err)
	}
}

func TestValidate_DuplicateQueueNames(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Queues = []QueueConfig{
		{Name: "orders", Directory: "/tmp/a"},
		{Name: "orders", Directory: "/tmp/b"},
	}

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for duplicate queue names")
	}
}

func TestValidate_QueueRequiresDirectory(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Queues = []QueueConfig{{Name: "orders"}}

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for queue without directory")
	}
}

func TestValidate_MetricsPortConflict(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.Metrics.Enabled = true
	cfg.Server.Metrics.Port = cfg.Adapters.TCP.Port

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for metrics port clash")
	}
}
