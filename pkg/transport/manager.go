// Package transport tracks the live connections of a listener so they can be
// closed together on shutdown.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/marmos91/framingd/internal/logger"
)

var (
	ErrDuplicateConnection = errors.New("transport: duplicate connection id")
	ErrUnknownConnection   = errors.New("transport: unknown connection id")
)

// lastConnectionID is shared by every manager so ids are unique per process.
var lastConnectionID atomic.Int64

// NextConnectionID returns a process-unique, strictly increasing id.
func NextConnectionID() int64 {
	return lastConnectionID.Add(1)
}

// Connection is the surface the manager needs from a tracked connection.
type Connection interface {
	// RequestClose asks the connection to finish its current work and exit.
	RequestClose()

	// Abort tears the connection down immediately.
	Abort()

	// Done is closed once the connection's goroutines have exited.
	Done() <-chan struct{}
}

// TrackedConnection is the strong handle returned by AddConnection. The
// manager itself only keeps a weak reference to it, so the connection's
// goroutine must hold on to the handle for as long as it runs.
type TrackedConnection struct {
	id       int64
	conn     Connection
	accepted time.Time
}

// ID returns the connection id.
func (t *TrackedConnection) ID() int64 { return t.id }

// Connection returns the tracked connection.
func (t *TrackedConnection) Connection() Connection { return t.conn }

// Accepted returns when the connection was registered.
func (t *TrackedConnection) Accepted() time.Time { return t.accepted }

// connectionReference is the manager-side entry for one connection.
type connectionReference struct {
	id  int64
	ref weak.Pointer[TrackedConnection]
}

// ConnectionManager tracks live connections by id.
//
// Connections are removed explicitly when they complete. An entry whose
// handle was dropped without RemoveConnection no longer resolves and is
// pruned by Walk and Reap.
type ConnectionManager struct {
	name        string
	connections sync.Map // int64 -> *connectionReference
	count       atomic.Int32
}

// NewConnectionManager returns an empty manager. name prefixes log lines.
func NewConnectionManager(name string) *ConnectionManager {
	return &ConnectionManager{name: name}
}

// AddConnection registers conn under id and returns the handle that keeps the
// entry alive.
func (m *ConnectionManager) AddConnection(id int64, conn Connection) (*TrackedConnection, error) {
	tracked := &TrackedConnection{id: id, conn: conn, accepted: time.Now()}
	ref := &connectionReference{id: id, ref: weak.Make(tracked)}
	if _, loaded := m.connections.LoadOrStore(id, ref); loaded {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateConnection, id)
	}
	m.count.Add(1)
	return tracked, nil
}

// RemoveConnection unregisters id after a normal completion.
func (m *ConnectionManager) RemoveConnection(id int64) error {
	if _, loaded := m.connections.LoadAndDelete(id); !loaded {
		return fmt.Errorf("%w: %d", ErrUnknownConnection, id)
	}
	m.count.Add(-1)
	return nil
}

// Count returns the number of registered entries, resolvable or not.
func (m *ConnectionManager) Count() int {
	return int(m.count.Load())
}

// Walk calls fn for every resolvable connection and prunes entries whose
// handle has been collected.
func (m *ConnectionManager) Walk(fn func(*TrackedConnection)) {
	m.connections.Range(func(key, value any) bool {
		ref := value.(*connectionReference)
		tracked := ref.ref.Value()
		if tracked == nil {
			m.prune(ref)
			return true
		}
		if fn != nil {
			fn(tracked)
		}
		return true
	})
}

// Reap prunes unresolvable entries and returns how many were removed.
func (m *ConnectionManager) Reap() int {
	before := m.Count()
	m.Walk(nil)
	return before - m.Count()
}

// RunReaper calls Reap every interval until ctx ends.
func (m *ConnectionManager) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Reap(); n > 0 {
				logger.Debug("%s: reaped %d abandoned connection(s)", m.name, n)
			}
		}
	}
}

func (m *ConnectionManager) prune(ref *connectionReference) {
	if m.connections.CompareAndDelete(ref.id, ref) {
		m.count.Add(-1)
		logger.Warn("%s: connection %d was never completed", m.name, ref.id)
	}
}

// CloseAllConnections asks every live connection to close and waits for all
// of them to finish or for ctx to end. Unresolvable entries count as closed.
func (m *ConnectionManager) CloseAllConnections(ctx context.Context) error {
	return m.shutdownAll(ctx, "close", Connection.RequestClose)
}

// AbortAllConnections aborts every live connection and waits for them to
// finish or for ctx to end.
func (m *ConnectionManager) AbortAllConnections(ctx context.Context) error {
	return m.shutdownAll(ctx, "abort", Connection.Abort)
}

func (m *ConnectionManager) shutdownAll(ctx context.Context, verb string, action func(Connection)) error {
	var pending []*TrackedConnection
	m.Walk(func(t *TrackedConnection) {
		pending = append(pending, t)
	})
	if len(pending) == 0 {
		return nil
	}

	logger.Debug("%s: %s requested for %d connection(s)", m.name, verb, len(pending))
	for _, t := range pending {
		action(t.conn)
	}

	for _, t := range pending {
		select {
		case <-t.conn.Done():
		case <-ctx.Done():
			return fmt.Errorf("%s: waiting for connections to %s: %w", m.name, verb, ctx.Err())
		}
	}
	return nil
}
