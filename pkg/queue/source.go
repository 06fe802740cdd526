package queue

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// ErrSourceClosed is returned by MemorySource.Send after Close.
var ErrSourceClosed = errors.New("queue: source closed")

// RawMessage is an undecoded queued message.
type RawMessage struct {
	// LookupID identifies the message in its source.
	LookupID string

	// Segments hold the message bytes in order.
	Segments [][]byte

	// EnqueuedAt is when the source accepted the message.
	EnqueuedAt time.Time
}

// Payload returns the concatenated segments.
func (m *RawMessage) Payload() []byte {
	var n int
	for _, s := range m.Segments {
		n += len(s)
	}
	out := make([]byte, 0, n)
	for _, s := range m.Segments {
		out = append(out, s...)
	}
	return out
}

// MessageSource delivers raw messages to a Receiver.
type MessageSource interface {
	// Receive blocks for the next message. It returns io.EOF once the
	// source is closed and drained.
	Receive(ctx context.Context) (*RawMessage, error)
}

// MemorySource is a channel-backed MessageSource.
type MemorySource struct {
	messages chan *RawMessage

	closeOnce sync.Once
	closed    chan struct{}
}

// NewMemorySource returns a source buffering up to capacity messages.
func NewMemorySource(capacity int) *MemorySource {
	return &MemorySource{
		messages: make(chan *RawMessage, capacity),
		closed:   make(chan struct{}),
	}
}

// Send queues msg, blocking while the buffer is full.
func (s *MemorySource) Send(ctx context.Context, msg *RawMessage) error {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now()
	}

	select {
	case <-s.closed:
		return ErrSourceClosed
	default:
	}

	select {
	case s.messages <- msg:
		return nil
	case <-s.closed:
		return ErrSourceClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive implements MessageSource. Buffered messages are still delivered
// after Close.
func (s *MemorySource) Receive(ctx context.Context) (*RawMessage, error) {
	select {
	case msg := <-s.messages:
		return msg, nil
	default:
	}

	select {
	case msg := <-s.messages:
		return msg, nil
	case <-s.closed:
		select {
		case msg := <-s.messages:
			return msg, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting messages.
func (s *MemorySource) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}
