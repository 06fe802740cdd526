package pipe

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/marmos91/framingd/internal/logger"
	"github.com/marmos91/framingd/pkg/bufpool"
	"github.com/marmos91/framingd/pkg/inputqueue"
	"github.com/marmos91/framingd/pkg/transport"
)

// ListenerConfig configures a NamedPipeConnectionListener.
type ListenerConfig struct {
	// Path is the Unix domain socket path clients connect to.
	Path string

	// SharedMemoryPath, when set, is where the socket path is published
	// for discovery by endpoint name.
	SharedMemoryPath string

	// BufferSize is the per-pump buffer size. Zero selects DefaultBufferSize.
	BufferSize int

	// Buffers supplies the pump buffers. Nil uses plain allocations.
	Buffers bufpool.BufferManager
}

// NamedPipeConnectionListener accepts pipe connections into a queue.
type NamedPipeConnectionListener struct {
	config ListenerConfig
	ln     *net.UnixListener
	shm    *SharedMemory
	queue  *inputqueue.InputQueue[*NamedPipeConnection]

	closeOnce  sync.Once
	closing    chan struct{}
	acceptDone chan struct{}
}

// Listen binds cfg.Path and starts accepting. A leftover socket file that
// nobody listens on is removed and the bind retried once.
func Listen(cfg ListenerConfig) (*NamedPipeConnectionListener, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Buffers == nil {
		cfg.Buffers = bufpool.NewBufferManager(0, 0)
	}

	ln, err := listenUnix(cfg.Path)
	if err != nil {
		return nil, err
	}

	l := &NamedPipeConnectionListener{
		config:     cfg,
		ln:         ln,
		queue:      inputqueue.New[*NamedPipeConnection](),
		closing:    make(chan struct{}),
		acceptDone: make(chan struct{}),
	}

	if cfg.SharedMemoryPath != "" {
		shm, err := CreateSharedMemory(cfg.SharedMemoryPath, cfg.Path)
		if err != nil {
			ln.Close()
			return nil, err
		}
		l.shm = shm
	}

	go l.acceptLoop()
	logger.Info("Pipe listener bound to %s", cfg.Path)
	return l, nil
}

func listenUnix(path string) (*net.UnixListener, error) {
	addr := &net.UnixAddr{Name: path, Net: "unix"}

	ln, err := net.ListenUnix("unix", addr)
	if err == nil {
		return ln, nil
	}
	if !errors.Is(err, syscall.EADDRINUSE) || !isStaleSocket(path) {
		return nil, classifyBindError(path, err)
	}

	logger.Debug("Removing stale pipe socket %s", path)
	if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
		return nil, classifyBindError(path, err)
	}
	ln, err = net.ListenUnix("unix", addr)
	if err != nil {
		return nil, classifyBindError(path, err)
	}
	return ln, nil
}

// isStaleSocket reports whether path exists but refuses connections.
func isStaleSocket(path string) bool {
	conn, err := net.DialTimeout("unix", path, 100*time.Millisecond)
	if err == nil {
		conn.Close()
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}

func (l *NamedPipeConnectionListener) acceptLoop() {
	defer close(l.acceptDone)
	defer l.queue.Shutdown(func() error { return ErrListenerClosed })

	for {
		conn, err := l.ln.AcceptUnix()
		if err != nil {
			select {
			case <-l.closing:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Debug("Pipe accept error on %s: %v", l.config.Path, err)
			// Back off briefly so a persistent error does not spin.
			select {
			case <-l.closing:
				return
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}

		pc := NewNamedPipeConnection(transport.NextConnectionID(), conn, l.config.Buffers, l.config.BufferSize)
		pc.Start()
		logger.Debug("Pipe connection %d accepted on %s", pc.ID(), l.config.Path)
		l.queue.EnqueueAndDispatch(pc, nil, true)
	}
}

// Accept returns the next connection. After Close it returns
// ErrListenerClosed.
func (l *NamedPipeConnectionListener) Accept(ctx context.Context) (*NamedPipeConnection, error) {
	pc, err := l.queue.Dequeue(ctx)
	if err != nil {
		if errors.Is(err, inputqueue.ErrQueueClosed) {
			return nil, ErrListenerClosed
		}
		return nil, err
	}
	if pc == nil {
		return nil, ErrListenerClosed
	}
	return pc, nil
}

// Addr returns the socket path.
func (l *NamedPipeConnectionListener) Addr() string {
	return l.config.Path
}

// SharedMemory returns the published name handle, or nil.
func (l *NamedPipeConnectionListener) SharedMemory() *SharedMemory {
	return l.shm
}

// Close stops accepting, disposes connections that were never accepted and
// releases the socket and shared memory.
func (l *NamedPipeConnectionListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closing)
		err = l.ln.Close()
		<-l.acceptDone
		l.queue.Close()

		if l.shm != nil {
			if shmErr := l.shm.Close(); shmErr != nil && err == nil {
				err = shmErr
			}
		}
		logger.Info("Pipe listener on %s closed", l.config.Path)
	})
	return err
}
