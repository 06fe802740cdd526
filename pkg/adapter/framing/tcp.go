package framing

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/marmos91/framingd/internal/logger"
	"github.com/marmos91/framingd/internal/ratelimiter"
	"github.com/marmos91/framingd/pkg/metrics"
	"github.com/marmos91/framingd/pkg/transport"
)

// DefaultTCPPort is the standard net.tcp port.
const DefaultTCPPort = 808

// TCPConfig holds configuration parameters for the TCP adapter.
//
// Default values (applied by NewTCPAdapter if zero):
//   - Port: 808
//   - MaxConnections: 0 (unlimited)
//   - AcceptRate: 0 (unlimited)
//   - ReadTimeout: 30s
//   - WriteTimeout: 30s
//   - IdleTimeout: 2m
//   - ShutdownTimeout: 30s
//   - MetricsLogInterval: 5m
type TCPConfig struct {
	// Enabled controls whether the TCP adapter is started.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// BindAddress is the interface to listen on. Empty listens on all
	// interfaces.
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`

	// Port is the TCP port to listen on.
	Port int `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`

	// MaxConnections limits concurrent connections. Connections beyond the
	// limit receive a ServerTooBusy fault. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections" validate:"min=0"`

	// AcceptRate is the sustained number of connections admitted per
	// second. Connections beyond the rate receive a ServerTooBusy fault.
	// 0 means unlimited.
	AcceptRate uint `mapstructure:"accept_rate" yaml:"accept_rate"`

	// AcceptBurst is the number of connections admitted at once above the
	// sustained rate. 0 selects AcceptRate.
	AcceptBurst uint `mapstructure:"accept_burst" yaml:"accept_burst"`

	// ReadTimeout bounds each read once a client started sending.
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" validate:"min=0"`

	// WriteTimeout bounds writing the reply.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"min=0"`

	// IdleTimeout bounds the wait for the first byte of a connection.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"min=0"`

	// ShutdownTimeout is how long in-flight messages may take to finish
	// during shutdown before their connections are aborted.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// MetricsLogInterval is the interval for logging connection counts.
	// A negative interval disables periodic logging.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" yaml:"metrics_log_interval"`
}

// applyDefaults fills in zero values with sensible defaults.
func (c *TCPConfig) applyDefaults() {
	if c.Port <= 0 {
		c.Port = DefaultTCPPort
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 2 * time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.MetricsLogInterval == 0 {
		c.MetricsLogInterval = 5 * time.Minute
	}
}

// validate checks the configuration.
func (c *TCPConfig) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.IdleTimeout < 0 {
		return fmt.Errorf("invalid timeouts read=%v write=%v idle=%v: must be >= 0",
			c.ReadTimeout, c.WriteTimeout, c.IdleTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	return nil
}

// TCPAdapter serves framing connections over TCP.
//
// Thread safety:
// All methods are safe for concurrent use. Serve must be called at most once.
type TCPAdapter struct {
	config TCPConfig
	*server

	mu       sync.Mutex
	listener net.Listener
}

// NewTCPAdapter creates a TCP adapter delivering messages to host.
// m may be nil for no metrics.
//
// Panics if config validation fails.
func NewTCPAdapter(config TCPConfig, host *Host, m metrics.FramingMetrics) *TCPAdapter {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid TCP adapter config: %v", err))
	}

	limiter := ratelimiter.New(config.AcceptRate, config.AcceptBurst, config.MaxConnections)
	timeouts := Timeouts{Read: config.ReadTimeout, Write: config.WriteTimeout, Idle: config.IdleTimeout}

	return &TCPAdapter{
		config: config,
		server: newServer("tcp", host, m, limiter, timeouts, config.ShutdownTimeout),
	}
}

// Serve listens on the configured port and blocks until ctx is cancelled or
// Stop is called.
func (a *TCPAdapter) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(a.config.BindAddress, strconv.Itoa(a.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create framing TCP listener on %s: %w", addr, err)
	}
	return a.serve(ctx, ln)
}

// serve runs the accept loop on an existing listener.
func (a *TCPAdapter) serve(ctx context.Context, ln net.Listener) error {
	a.mu.Lock()
	a.listener = ln
	a.mu.Unlock()

	logger.Info("Framing TCP adapter listening on %s", ln.Addr())
	logger.Debug("Framing TCP config: max_connections=%d accept_rate=%d read_timeout=%v write_timeout=%v idle_timeout=%v",
		a.config.MaxConnections, a.config.AcceptRate, a.config.ReadTimeout, a.config.WriteTimeout, a.config.IdleTimeout)

	if a.config.MetricsLogInterval > 0 {
		go a.logMetrics(ctx)
	}

	return a.run(ctx, ln.Close, func() (*conn, error) {
		nc, err := ln.Accept()
		if err != nil {
			return nil, err
		}
		st, ok := nc.(stream)
		if !ok {
			st = plainStream{nc}
		}
		return newConn(a.server, transport.NextConnectionID(), st, nc.RemoteAddr().String(), func() { _ = nc.Close() }), nil
	})
}

// Stop initiates graceful shutdown and waits for it to finish or for ctx to
// end.
func (a *TCPAdapter) Stop(ctx context.Context) error {
	return a.stop(ctx)
}

// logMetrics periodically logs the connection count until ctx is cancelled.
func (a *TCPAdapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(a.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.shutdown:
			return
		case <-ticker.C:
			logger.Info("Framing TCP metrics: active_connections=%d rate_tokens=%.0f",
				a.connCount.Load(), a.limiter.Tokens())
		}
	}
}

// Protocol returns "tcp".
func (a *TCPAdapter) Protocol() string {
	return "tcp"
}

// Addr returns the address the adapter listens on, or the configured
// address before Serve.
func (a *TCPAdapter) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return net.JoinHostPort(a.config.BindAddress, strconv.Itoa(a.config.Port))
}

// plainStream adapts a net.Conn without half-close support.
type plainStream struct {
	net.Conn
}

func (plainStream) CloseWrite() error { return nil }
