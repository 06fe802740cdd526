package framing

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/framingd/internal/logger"
	"github.com/marmos91/framingd/internal/ratelimiter"
	"github.com/marmos91/framingd/pkg/bufpool"
	"github.com/marmos91/framingd/pkg/metrics"
	"github.com/marmos91/framingd/pkg/transport/pipe"
)

// PipeConfig holds configuration parameters for the pipe adapter.
type PipeConfig struct {
	// Enabled controls whether the pipe adapter is started.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Path is the socket path clients connect to.
	Path string `mapstructure:"path" yaml:"path" validate:"required_if=Enabled true"`

	// SharedMemoryPath, when set, publishes Path for discovery by name.
	SharedMemoryPath string `mapstructure:"shared_memory" yaml:"shared_memory"`

	// BufferSize is the per-connection pump buffer size. 0 selects 4096.
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size" validate:"min=0"`

	// MaxConnections limits concurrent connections. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections" validate:"min=0"`

	// ShutdownTimeout is how long in-flight messages may take to finish
	// during shutdown. Defaults to 30s.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"min=0"`
}

// PipeAdapter serves framing connections over the local pipe transport.
type PipeAdapter struct {
	config  PipeConfig
	buffers bufpool.BufferManager
	*server
}

// NewPipeAdapter creates a pipe adapter delivering messages to host. buffers
// supplies the pump buffers and may be nil.
//
// Panics if config.Path is empty.
func NewPipeAdapter(config PipeConfig, host *Host, buffers bufpool.BufferManager, m metrics.FramingMetrics) *PipeAdapter {
	if config.Path == "" {
		panic("invalid pipe adapter config: path is required")
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}

	limiter := ratelimiter.New(0, 0, config.MaxConnections)
	return &PipeAdapter{
		config:  config,
		buffers: buffers,
		server:  newServer("pipe", host, m, limiter, Timeouts{}, config.ShutdownTimeout),
	}
}

// Serve binds the pipe and blocks until ctx is cancelled or Stop is called.
func (a *PipeAdapter) Serve(ctx context.Context) error {
	ln, err := pipe.Listen(pipe.ListenerConfig{
		Path:             a.config.Path,
		SharedMemoryPath: a.config.SharedMemoryPath,
		BufferSize:       a.config.BufferSize,
		Buffers:          a.buffers,
	})
	if err != nil {
		return fmt.Errorf("failed to create framing pipe listener: %w", err)
	}

	if shm := ln.SharedMemory(); shm != nil {
		logger.Info("Framing pipe adapter listening on %s (published at %s, id %s)", ln.Addr(), shm.Path(), shm.GUID())
	} else {
		logger.Info("Framing pipe adapter listening on %s", ln.Addr())
	}

	return a.run(ctx, ln.Close, func() (*conn, error) {
		pc, err := ln.Accept(context.Background())
		if err != nil {
			return nil, err
		}
		c := newConn(a.server, pc.ID(), pc, ln.Addr(), pc.Abort)
		c.onRequestClose = pc.RequestClose
		return c, nil
	})
}

// Stop initiates graceful shutdown and waits for it to finish or for ctx to
// end.
func (a *PipeAdapter) Stop(ctx context.Context) error {
	return a.stop(ctx)
}

// Protocol returns "pipe".
func (a *PipeAdapter) Protocol() string {
	return "pipe"
}

// Addr returns the socket path.
func (a *PipeAdapter) Addr() string {
	return a.config.Path
}
