package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// sectionComments documents each top-level section of a generated file.
var sectionComments = map[string]string{
	"logging":     "Logging: level (DEBUG, INFO, WARN, ERROR), format (text, json), output (stdout, stderr, file path)",
	"server":      "Server: graceful shutdown budget, dispatch goroutines and the Prometheus endpoint",
	"buffers":     "Buffers: pooled memory budget in bytes (0 disables pooling) and per-connection read buffer",
	"framing":     "Framing: limits on via and content type records and on message bodies (0 = unlimited)",
	"adapters":    "Adapters: transports accepting framing connections",
	"endpoints":   "Endpoints: addresses messages may target; the host may be + or * to match any host",
	"queues":      "Queues: spool directories holding one framed message per .msg file",
	"dead_letter": "Dead letter: where undecodable queued messages are kept (none, memory, badger, s3)",
}

// InitConfig writes a default configuration file to the default location.
//
// Returns the path of the written file. Unless force is set, an existing
// file is left alone and an error is returned.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments renders cfg as YAML with a header and a comment
// above every top-level section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	// doc is the mapping node of the document: key, value, key, value...
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i]
		if comment, ok := sectionComments[key.Value]; ok {
			key.HeadComment = comment
		}
	}

	var buf bytes.Buffer
	buf.WriteString("# framingd Configuration File\n")
	buf.WriteString("#\n")
	buf.WriteString("# Every value can be overridden by an environment variable named after\n")
	buf.WriteString("# its path, e.g. FRAMINGD_LOGGING_LEVEL=DEBUG or FRAMINGD_ADAPTERS_TCP_PORT=9808.\n\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return buf.String(), nil
}
