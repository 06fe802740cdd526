package adapter

import (
	"context"
)

// Adapter represents a transport-specific listener that can be managed by
// the framing server.
//
// Each adapter accepts connections on one transport (TCP, local pipe) and
// hands decoded messages to the shared dispatch queue. All adapters of a
// server share the same endpoint table and message limits.
//
// Lifecycle:
//  1. Creation: Adapter is created with transport-specific configuration
//  2. Startup: Serve() starts the listener and blocks until shutdown
//  3. Shutdown: Stop() initiates graceful shutdown with timeout
//
// Thread safety:
// Implementations must be safe for concurrent use. Stop() may be called
// concurrently with Serve().
type Adapter interface {
	// Serve starts the listener and blocks until the context is cancelled
	// or an unrecoverable error occurs.
	//
	// When the context is cancelled, Serve must initiate graceful shutdown:
	//   - Stop accepting new connections
	//   - Let in-flight messages complete (with timeout)
	//   - Clean up resources
	//
	// If Serve returns before context cancellation, the server treats it as
	// a fatal error and stops all other adapters.
	//
	// Returns:
	//   - nil on graceful shutdown
	//   - error if startup fails or shutdown is not graceful
	Serve(ctx context.Context) error

	// Stop initiates graceful shutdown of the listener.
	//
	// Implementations must:
	//   - Be safe to call multiple times (idempotent)
	//   - Be safe to call concurrently with Serve()
	//   - Respect the context timeout, aborting connections when it ends
	Stop(ctx context.Context) error

	// Protocol returns the transport name for logging and metrics.
	//
	// Examples: "tcp", "pipe"
	Protocol() string

	// Addr returns the address the adapter listens on: host:port for TCP,
	// the socket path for pipes.
	Addr() string
}
