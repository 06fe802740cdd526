package framing

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/framingd/internal/logger"
	"github.com/marmos91/framingd/internal/protocol/framing"
	"github.com/marmos91/framingd/internal/ratelimiter"
	"github.com/marmos91/framingd/pkg/metrics"
	"github.com/marmos91/framingd/pkg/transport"
)

const (
	// reapInterval is how often abandoned connection entries are pruned.
	reapInterval = 30 * time.Second

	// abortGrace bounds the wait for aborted connections after a graceful
	// shutdown timed out.
	abortGrace = 5 * time.Second
)

// server is the listener-independent part of an adapter: admission,
// connection tracking and graceful shutdown.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed (no new connections)
//  3. Idle connections closed, in-flight messages allowed to finish
//  4. After ShutdownTimeout remaining connections are aborted
type server struct {
	name     string
	host     *Host
	metrics  metrics.FramingMetrics
	limiter  *ratelimiter.Limiter
	conns    *transport.ConnectionManager
	timeouts Timeouts

	shutdownTimeout time.Duration

	// activeConns counts running handlers, including rejections.
	activeConns sync.WaitGroup
	connCount   atomic.Int32

	shutdownOnce sync.Once
	shutdown     chan struct{}

	// connCtx is passed to handlers. It is cancelled when remaining
	// connections are forced closed and when the accept loop has drained.
	connCtx        context.Context
	cancelRequests context.CancelFunc

	mu sync.Mutex

	// closeListener stops the accept loop.
	closeListener func() error

	started atomic.Bool
	stopped chan struct{}
	result  error
}

func newServer(name string, host *Host, m metrics.FramingMetrics, limiter *ratelimiter.Limiter, timeouts Timeouts, shutdownTimeout time.Duration) *server {
	if m == nil {
		m = metrics.NewNoopFramingMetrics()
	}
	if limiter == nil {
		limiter = ratelimiter.New(0, 0, 0)
	}
	connCtx, cancelRequests := context.WithCancel(context.Background())
	return &server{
		name:            name,
		host:            host,
		metrics:         m,
		limiter:         limiter,
		conns:           transport.NewConnectionManager(name),
		timeouts:        timeouts,
		shutdownTimeout: shutdownTimeout,
		shutdown:        make(chan struct{}),
		connCtx:         connCtx,
		cancelRequests:  cancelRequests,
		stopped:         make(chan struct{}),
	}
}

// run drives an accept loop until shutdown and then drains connections.
// accept returns the next connection or an error; errors after shutdown end
// the loop, others are logged and retried. closeListener must make a blocked
// accept return.
func (s *server) run(ctx context.Context, closeListener func() error, accept func() (*conn, error)) error {
	s.started.Store(true)
	defer close(s.stopped)
	defer s.cancelRequests()

	s.mu.Lock()
	s.closeListener = closeListener
	s.mu.Unlock()
	select {
	case <-s.shutdown:
		// Stopped before the loop started.
		_ = closeListener()
	default:
	}

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("%s shutdown signal received: %v", s.name, ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()
	go s.conns.RunReaper(s.connCtx, reapInterval)

	for {
		c, err := accept()
		if err != nil {
			select {
			case <-s.shutdown:
				s.result = s.gracefulShutdown()
				return s.result
			default:
			}
			logger.Debug("Error accepting %s connection: %v", s.name, err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		s.handle(c)
	}
}

// handle admits c and runs it on its own goroutine.
func (s *server) handle(c *conn) {
	if rejection := s.limiter.Admit(); rejection != ratelimiter.Admitted {
		s.metrics.RecordConnectionRejected(s.name, string(rejection))
		s.metrics.RecordFault(s.name, framing.ShortFaultName(framing.FaultServerTooBusy))
		logger.Warn("%s connection %d from %s rejected: %s", s.name, c.id, c.remote, rejection)

		s.activeConns.Add(1)
		go func() {
			defer s.activeConns.Done()
			defer func() { _ = c.stream.Close() }()
			c.fault(framing.FaultServerTooBusy)
		}()
		return
	}

	tracked, err := s.conns.AddConnection(c.id, c)
	if err != nil {
		s.limiter.Release()
		logger.Error("%s connection %d: %v", s.name, c.id, err)
		_ = c.stream.Close()
		return
	}

	s.activeConns.Add(1)
	current := s.connCount.Add(1)
	s.metrics.RecordConnectionAccepted(s.name)
	s.metrics.SetActiveConnections(s.name, current)
	logger.Debug("%s connection accepted from %s (active: %d)", s.name, c.remote, current)

	go func() {
		defer func() {
			if err := s.conns.RemoveConnection(c.id); err != nil {
				logger.Debug("%s connection %d: %v", s.name, c.id, err)
			}
			runtime.KeepAlive(tracked)

			s.limiter.Release()
			current := s.connCount.Add(-1)
			s.metrics.RecordConnectionClosed(s.name, time.Since(c.accepted))
			s.metrics.SetActiveConnections(s.name, current)
			logger.Debug("%s connection closed from %s (active: %d)", s.name, c.remote, current)

			s.activeConns.Done()
		}()

		c.serve(s.connCtx)
	}()
}

// initiateShutdown stops the accept loop. Safe to call more than once.
func (s *server) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("%s shutdown initiated", s.name)
		close(s.shutdown)

		s.mu.Lock()
		closeListener := s.closeListener
		s.mu.Unlock()
		if closeListener != nil {
			if err := closeListener(); err != nil {
				logger.Debug("Error closing %s listener: %v", s.name, err)
			}
		}
	})
}

// gracefulShutdown closes idle connections, waits up to shutdownTimeout for
// in-flight messages and aborts what is left.
func (s *server) gracefulShutdown() error {
	logger.Info("%s graceful shutdown: waiting for %d active connection(s) (timeout: %v)",
		s.name, s.connCount.Load(), s.shutdownTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.conns.CloseAllConnections(ctx); err == nil {
		s.activeConns.Wait()
		logger.Info("%s graceful shutdown complete: all connections closed", s.name)
		return nil
	}

	remaining := s.conns.Count()
	logger.Warn("%s shutdown timeout exceeded: %d connection(s) still active after %v - forcing closure",
		s.name, remaining, s.shutdownTimeout)
	for i := 0; i < remaining; i++ {
		s.metrics.RecordConnectionForceClosed(s.name)
	}

	s.cancelRequests()
	abortCtx, cancelAbort := context.WithTimeout(context.Background(), abortGrace)
	defer cancelAbort()
	if err := s.conns.AbortAllConnections(abortCtx); err != nil {
		logger.Error("%s: %v", s.name, err)
	}
	s.activeConns.Wait()

	return fmt.Errorf("%s shutdown timeout: %d connections force-closed", s.name, remaining)
}

// stop initiates shutdown and waits for the accept loop to finish draining
// or for ctx to end, in which case remaining connections are aborted.
func (s *server) stop(ctx context.Context) error {
	s.initiateShutdown()
	if !s.started.Load() {
		return nil
	}

	select {
	case <-s.stopped:
		return s.result
	case <-ctx.Done():
		logger.Warn("%s shutdown context cancelled: %d connection(s) still active: %v",
			s.name, s.connCount.Load(), ctx.Err())
		s.cancelRequests()
		abortCtx, cancel := context.WithTimeout(context.Background(), abortGrace)
		defer cancel()
		_ = s.conns.AbortAllConnections(abortCtx)
		return ctx.Err()
	}
}

// ActiveConnections returns the number of connections being served.
func (s *server) ActiveConnections() int32 {
	return s.connCount.Load()
}
