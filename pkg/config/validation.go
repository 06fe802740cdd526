package config

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/go-playground/validator/v10"
)

// Validate validates the configuration using struct tags and custom rules.
//
// Struct tags are checked with go-playground/validator; rules spanning
// several fields are checked afterwards.
//
// Log level normalization is handled in ApplyDefaults, not here.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	return validateCustomRules(cfg)
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if !cfg.Adapters.TCP.Enabled && !cfg.Adapters.Pipe.Enabled && len(cfg.Queues) == 0 {
		return fmt.Errorf("adapters: at least one adapter or queue must be configured")
	}

	names := make(map[string]bool)
	for i, ep := range cfg.Endpoints {
		u, err := url.Parse(ep.Address)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return fmt.Errorf("endpoints[%d]: address %q must be an absolute URI with a host", i, ep.Address)
		}
		name := ep.Name
		if name == "" {
			name = ep.Address
		}
		if names[name] {
			return fmt.Errorf("endpoints[%d]: duplicate endpoint name %q", i, name)
		}
		names[name] = true
	}

	queues := make(map[string]bool)
	for i, q := range cfg.Queues {
		if queues[q.Name] {
			return fmt.Errorf("queues[%d]: duplicate queue name %q", i, q.Name)
		}
		queues[q.Name] = true
	}

	if cfg.Buffers.MaxPoolSize > 0 && cfg.Buffers.MaxBufferSize == 0 {
		return fmt.Errorf("buffers: max_buffer_size is required when pooling is enabled")
	}

	if cfg.Adapters.TCP.Enabled && cfg.Server.Metrics.Enabled &&
		cfg.Adapters.TCP.Port == cfg.Server.Metrics.Port {
		return fmt.Errorf("server.metrics: port %d already used by the tcp adapter", cfg.Server.Metrics.Port)
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		// Return the first validation error with context
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
