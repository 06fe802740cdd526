package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/framingd/internal/logger"
	"github.com/marmos91/framingd/pkg/adapter"
	"github.com/marmos91/framingd/pkg/adapter/framing"
	"github.com/marmos91/framingd/pkg/queue"
)

// Config holds the orchestration settings of a FramingServer.
type Config struct {
	// ShutdownTimeout bounds stopping the adapters and, separately, draining
	// the dispatch queues. Default: 30s.
	ShutdownTimeout time.Duration

	// Dispatchers is the number of goroutines handling messages from the
	// framing host. Default: 4.
	Dispatchers int
}

func (c *Config) applyDefaults() {
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.Dispatchers <= 0 {
		c.Dispatchers = 4
	}
}

// FramingServer manages the lifecycle of the transport adapters and queue
// receivers feeding one Handler.
//
// Architecture:
// Adapters decode connections into messages on the shared framing.Host.
// Queue receivers decode spooled messages into their own queues. A pool of
// dispatch goroutines drains the host and one goroutine drains each
// receiver, handing every message to the Handler.
//
// Lifecycle:
//  1. Creation: New() with the host and handler
//  2. Registration: AddAdapter() and AddReceiver()
//  3. Startup: Serve() starts everything concurrently
//  4. Shutdown: Context cancellation stops adapters, then drains dispatch
//
// Thread safety:
// FramingServer is safe for concurrent use. Serve() may only be called once.
//
// Example usage:
//
//	srv := New(Config{}, host, HandlerFunc(handle))
//	_ = srv.AddAdapter(framing.NewTCPAdapter(tcpConfig, host, nil))
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
//	    log.Fatal(err)
//	}
type FramingServer struct {
	config  Config
	host    *framing.Host
	handler Handler

	// mu protects adapters, receivers and served
	mu        sync.RWMutex
	adapters  []adapter.Adapter
	receivers []*queue.Receiver
	served    bool
}

// New creates a server dispatching to handler. host may be nil when only
// queue receivers are used.
//
// Panics if handler is nil (indicates programmer error).
func New(config Config, host *framing.Host, handler Handler) *FramingServer {
	if handler == nil {
		panic("handler cannot be nil")
	}
	config.applyDefaults()

	return &FramingServer{
		config:   config,
		host:     host,
		handler:  handler,
		adapters: make([]adapter.Adapter, 0, 2),
	}
}

// AddAdapter registers a transport adapter.
//
// Two adapters may not listen on the same protocol and address.
//
// Panics if the adapter is nil, the server has no host, or Serve() has
// already been called.
func (s *FramingServer) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}
	if s.host == nil {
		panic("cannot add adapter to a server without a framing host")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		panic("cannot add adapter after Serve() has been called")
	}

	for _, existing := range s.adapters {
		if existing.Protocol() == a.Protocol() && existing.Addr() == a.Addr() {
			return fmt.Errorf("%s adapter already registered on %s", a.Protocol(), a.Addr())
		}
	}

	s.adapters = append(s.adapters, a)
	logger.Info("Registered %s adapter on %s", a.Protocol(), a.Addr())
	return nil
}

// AddReceiver registers a queue receiver. Receiver names must be unique.
//
// Panics if the receiver is nil or Serve() has already been called.
func (s *FramingServer) AddReceiver(r *queue.Receiver) error {
	if r == nil {
		panic("receiver cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		panic("cannot add receiver after Serve() has been called")
	}

	for _, existing := range s.receivers {
		if existing.Name() == r.Name() {
			return fmt.Errorf("queue receiver %s already registered", r.Name())
		}
	}

	s.receivers = append(s.receivers, r)
	logger.Info("Registered queue receiver %s", r.Name())
	return nil
}

// Serve starts all adapters, receivers and dispatchers and blocks until the
// context is cancelled or an adapter or receiver fails.
//
// Shutdown behavior:
//  1. Adapters receive Stop() in reverse registration order and get
//     ShutdownTimeout to let in-flight messages finish
//  2. The host and receiver queues stop taking messages
//  3. Dispatchers handle what was already queued, for at most
//     ShutdownTimeout, after which the remaining messages are discarded
//
// Returns:
//   - ctx.Err() if shutdown was triggered by context cancellation
//   - the first adapter or receiver error otherwise
//
// Returns an error if called more than once.
func (s *FramingServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return errors.New("Serve() has already been called on this server instance")
	}
	s.served = true
	adapters := append([]adapter.Adapter(nil), s.adapters...)
	receivers := append([]*queue.Receiver(nil), s.receivers...)
	s.mu.Unlock()

	if len(adapters) == 0 && len(receivers) == 0 {
		return fmt.Errorf("no adapters or receivers registered; call AddAdapter() or AddReceiver() before Serve()")
	}

	logger.Info("Starting framing server with %d adapter(s) and %d queue receiver(s)",
		len(adapters), len(receivers))

	// Dispatch outlives ctx so queued messages can drain after shutdown
	// starts.
	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	defer cancelDispatch()

	var dispatchWG sync.WaitGroup
	if s.host != nil && len(adapters) > 0 {
		for i := 0; i < s.config.Dispatchers; i++ {
			dispatchWG.Add(1)
			go func() {
				defer dispatchWG.Done()
				s.dispatchHost(dispatchCtx)
			}()
		}
	}
	for _, r := range receivers {
		dispatchWG.Add(1)
		go func(r *queue.Receiver) {
			defer dispatchWG.Done()
			s.dispatchQueue(dispatchCtx, r)
		}(r)
	}

	// Buffered so failing components never block
	errChan := make(chan componentError, len(adapters)+len(receivers))

	var wg sync.WaitGroup
	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()

			logger.Info("Starting %s adapter on %s", a.Protocol(), a.Addr())
			if err := a.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
				logger.Error("%s adapter failed: %v", a.Protocol(), err)
				errChan <- componentError{name: a.Protocol() + " adapter", err: err}
				return
			}
			logger.Debug("%s adapter stopped", a.Protocol())
		}(adp)
	}

	receiveCtx, cancelReceive := context.WithCancel(ctx)
	defer cancelReceive()

	var receiveWG sync.WaitGroup
	for _, r := range receivers {
		receiveWG.Add(1)
		go func(r *queue.Receiver) {
			defer receiveWG.Done()
			if err := r.Run(receiveCtx); err != nil {
				errChan <- componentError{name: "queue receiver " + r.Name(), err: err}
			}
		}(r)
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		shutdownErr = ctx.Err()

	case failed := <-errChan:
		logger.Error("%s failed: %v - initiating shutdown", failed.name, failed.err)
		shutdownErr = fmt.Errorf("%s error: %w", failed.name, failed.err)
	}

	s.stopAllAdapters(adapters)
	cancelReceive()

	logger.Debug("Waiting for adapters and receivers to stop")
	wg.Wait()
	receiveWG.Wait()

	if s.host != nil {
		s.host.Shutdown()
	}

	s.drain(&dispatchWG, cancelDispatch, receivers)

	logger.Info("Framing server stopped")
	return shutdownErr
}

// componentError pairs a component name with its error for better error reporting.
type componentError struct {
	name string
	err  error
}

// stopAllAdapters stops adapters in reverse registration order, giving each
// ShutdownTimeout to finish its in-flight messages.
func (s *FramingServer) stopAllAdapters(adapters []adapter.Adapter) {
	if len(adapters) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		logger.Debug("Stopping %s adapter on %s", adp.Protocol(), adp.Addr())

		if err := adp.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", adp.Protocol(), err)
		}
	}
}

// drain waits for dispatchers to finish queued messages. After
// ShutdownTimeout the queues are closed and handlers see a cancelled
// context.
func (s *FramingServer) drain(dispatchWG *sync.WaitGroup, cancelDispatch context.CancelFunc, receivers []*queue.Receiver) {
	done := make(chan struct{})
	go func() {
		dispatchWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(s.config.ShutdownTimeout):
	}

	pending := 0
	if s.host != nil {
		pending = s.host.Pending()
		s.host.Close()
	}
	for _, r := range receivers {
		pending += r.Pending()
		r.Close()
	}
	logger.Warn("Dispatch drain timeout: discarding %d queued message(s)", pending)

	cancelDispatch()
	<-done
}

// dispatchHost hands messages from the framing host to the handler until
// the host is shut down and drained.
func (s *FramingServer) dispatchHost(ctx context.Context) {
	for {
		msg, err := s.host.Accept(ctx)
		if err != nil || msg == nil {
			return
		}
		s.handle(ctx, deliveryFromMessage(msg))
	}
}

// dispatchQueue hands messages from a receiver to the handler until the
// receiver stops and is drained.
func (s *FramingServer) dispatchQueue(ctx context.Context, r *queue.Receiver) {
	for {
		msg, err := r.Receive(ctx)
		if err != nil || msg == nil {
			return
		}
		s.handle(ctx, deliveryFromQueue(r.Name(), msg))
	}
}

func (s *FramingServer) handle(ctx context.Context, d *Delivery) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic handling message from %s for %s: %v", d.Source, d.Via, r)
		}
	}()

	if err := s.handler.HandleMessage(ctx, d); err != nil {
		logger.Error("Handling message from %s for %s failed: %v", d.Source, d.Via, err)
	}
}

// Adapters returns a snapshot of currently registered adapters.
func (s *FramingServer) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]adapter.Adapter(nil), s.adapters...)
}

// Receivers returns a snapshot of currently registered queue receivers.
func (s *FramingServer) Receivers() []*queue.Receiver {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]*queue.Receiver(nil), s.receivers...)
}
