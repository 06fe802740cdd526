// Package pipe implements the local named-pipe transport on top of Unix
// domain sockets.
//
// Each accepted socket is wrapped in a NamedPipeConnection. Two pumps move
// bytes between the native socket and an in-process duplex pipe that the
// framing layer reads and writes:
//
//	native socket --receive pump--> Read()
//	Write()       --send pump-----> native socket
//
// The connection shuts down the native socket exactly once, whichever side
// finishes first.
package pipe

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/marmos91/framingd/internal/logger"
	"github.com/marmos91/framingd/pkg/bufpool"
)

// DefaultBufferSize is the pump buffer size used when none is configured.
const DefaultBufferSize = 4096

// NamedPipeConnection is one accepted pipe connection.
//
// Read and Write are the application side of the duplex pipe. Closing the
// application output with CloseWrite lets the send pump drain and then shuts
// the connection down.
type NamedPipeConnection struct {
	id         int64
	native     net.Conn
	buffers    bufpool.BufferManager
	bufferSize int

	// Received bytes: the receive pump writes to inputWriter, the
	// application reads from inputReader.
	inputReader *io.PipeReader
	inputWriter *io.PipeWriter

	// Bytes to send: the application writes to outputWriter, the send pump
	// reads from outputReader.
	outputReader *io.PipeReader
	outputWriter *io.PipeWriter

	mu             sync.Mutex
	shutdownCalled bool
	shutdownReason error

	// closed is cancelled once the connection has been observed closed by
	// either pump.
	closed       context.Context
	cancelClosed context.CancelFunc

	// closeRequested is cancelled by RequestClose.
	closeRequested      context.Context
	cancelCloseRequested context.CancelFunc

	pumps       sync.WaitGroup
	startOnce   sync.Once
	done        chan struct{}
	disposeOnce sync.Once
	disposeErr  error
}

// NewNamedPipeConnection wraps native. The pumps start on the first call to
// Start. buffers supplies the pump buffers; nil uses plain allocations.
func NewNamedPipeConnection(id int64, native net.Conn, buffers bufpool.BufferManager, bufferSize int) *NamedPipeConnection {
	if buffers == nil {
		buffers = bufpool.NewBufferManager(0, 0)
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	closed, cancelClosed := context.WithCancel(context.Background())
	requested, cancelRequested := context.WithCancel(context.Background())

	return &NamedPipeConnection{
		id:                   id,
		native:               native,
		buffers:              buffers,
		bufferSize:           bufferSize,
		inputReader:          inR,
		inputWriter:          inW,
		outputReader:         outR,
		outputWriter:         outW,
		closed:               closed,
		cancelClosed:         cancelClosed,
		closeRequested:       requested,
		cancelCloseRequested: cancelRequested,
		done:                 make(chan struct{}),
	}
}

// Start launches the receive and send pumps. Subsequent calls are no-ops.
func (c *NamedPipeConnection) Start() {
	c.startOnce.Do(func() {
		c.pumps.Add(2)
		go c.receivePump()
		go c.sendPump()
		go func() {
			c.pumps.Wait()
			close(c.done)
		}()
	})
}

// ID returns the connection id.
func (c *NamedPipeConnection) ID() int64 { return c.id }

// RemoteAddr returns the peer address of the native socket.
func (c *NamedPipeConnection) RemoteAddr() net.Addr { return c.native.RemoteAddr() }

// Read reads bytes received from the peer.
func (c *NamedPipeConnection) Read(p []byte) (int, error) {
	return c.inputReader.Read(p)
}

// Write queues p for sending. It blocks until the send pump has taken all of
// it.
func (c *NamedPipeConnection) Write(p []byte) (int, error) {
	return c.outputWriter.Write(p)
}

// CloseWrite completes the application output. The connection shuts down
// once the send pump has flushed everything written before.
func (c *NamedPipeConnection) CloseWrite() error {
	return c.outputWriter.Close()
}

// ConnectionClosed is cancelled once the connection has closed in either
// direction.
func (c *NamedPipeConnection) ConnectionClosed() context.Context {
	return c.closed
}

// CloseRequested is cancelled when RequestClose is called.
func (c *NamedPipeConnection) CloseRequested() context.Context {
	return c.closeRequested
}

// ShutdownReason returns why the native socket was shut down, or nil while
// it is still open.
func (c *NamedPipeConnection) ShutdownReason() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdownReason
}

// RequestClose asks the application to finish the current exchange and
// close the connection.
func (c *NamedPipeConnection) RequestClose() {
	c.cancelCloseRequested()
}

// Abort shuts the native socket down immediately.
func (c *NamedPipeConnection) Abort() {
	c.AbortWithReason(ErrConnectionAborted)
}

// AbortWithReason is Abort with a caller-supplied shutdown reason.
func (c *NamedPipeConnection) AbortWithReason(reason error) {
	c.shutdown(reason)
	// Unblock writers that the send pump will never serve.
	c.outputReader.CloseWithError(c.ShutdownReason())
}

// Done is closed after both pumps have exited.
func (c *NamedPipeConnection) Done() <-chan struct{} {
	return c.done
}

// Dispose completes both application pipe ends, waits for the pumps, and
// releases the native socket. If ctx ends first the connection is aborted
// and ctx's error returned. Dispose is idempotent.
func (c *NamedPipeConnection) Dispose(ctx context.Context) error {
	c.disposeOnce.Do(func() {
		c.inputReader.Close()
		c.outputWriter.Close()
		c.Start()

		select {
		case <-c.done:
		case <-ctx.Done():
			c.Abort()
			<-c.done
			c.disposeErr = ctx.Err()
		}

		c.shutdown(nil)
		c.cancelClosed()
		c.cancelCloseRequested()
	})
	return c.disposeErr
}

// Close disposes the connection without a deadline. It lets queued, never
// accepted connections be released by the listener's queue.
func (c *NamedPipeConnection) Close() error {
	return c.Dispose(context.Background())
}

func (c *NamedPipeConnection) receivePump() {
	defer c.pumps.Done()

	buf := c.buffers.TakeBuffer(c.bufferSize)
	defer c.buffers.ReturnBuffer(buf)

	var err error
	for {
		n, readErr := c.native.Read(buf)
		if n > 0 {
			if _, writeErr := c.inputWriter.Write(buf[:n]); writeErr != nil {
				// The application stopped reading.
				break
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				err = readErr
			}
			break
		}
	}

	if reason := c.ShutdownReason(); reason != nil {
		// The socket was closed locally; report why rather than the
		// resulting read error.
		err = reason
		if errors.Is(reason, ErrSendCompleted) {
			err = nil
		}
	}
	if err != nil {
		logger.Debug("pipe connection %d: receive ended: %v", c.id, err)
	}
	c.inputWriter.CloseWithError(err)
	c.cancelClosed()
}

func (c *NamedPipeConnection) sendPump() {
	defer c.pumps.Done()

	buf := c.buffers.TakeBuffer(c.bufferSize)
	defer c.buffers.ReturnBuffer(buf)

	var reason error
	for {
		n, readErr := c.outputReader.Read(buf)
		if n > 0 {
			if _, writeErr := c.native.Write(buf[:n]); writeErr != nil {
				reason = writeErr
				break
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				reason = readErr
			}
			break
		}
	}

	if reason != nil {
		logger.Debug("pipe connection %d: send ended: %v", c.id, reason)
	}
	c.shutdown(reason)
	c.outputReader.CloseWithError(c.ShutdownReason())
	c.cancelClosed()
}

// shutdown closes the native socket once. A nil reason records a graceful
// completion of the send side.
func (c *NamedPipeConnection) shutdown(reason error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shutdownCalled {
		return
	}
	c.shutdownCalled = true
	if reason == nil {
		reason = ErrSendCompleted
	}
	c.shutdownReason = reason

	if err := c.native.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		logger.Debug("pipe connection %d: closing native socket: %v", c.id, err)
	}
}
