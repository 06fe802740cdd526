package framing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/framingd/internal/logger"
	"github.com/marmos91/framingd/internal/protocol/framing"
)

// Limits applied when discarding unread input after a fault, so the peer
// sees the fault record before the connection closes.
const (
	drainTimeout  = time.Second
	maxDrainBytes = 64 << 10
)

// stream is the byte stream of one accepted connection.
type stream interface {
	io.ReadWriter

	// CloseWrite ends the server's output once the reply is written.
	CloseWrite() error

	Close() error
}

// deadliner is implemented by streams that support I/O deadlines.
type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Timeouts bound the I/O of one connection. Zero disables a timeout.
type Timeouts struct {
	// Read bounds each read once the peer started sending.
	Read time.Duration

	// Write bounds writing the reply.
	Write time.Duration

	// Idle bounds the wait for the first byte.
	Idle time.Duration
}

// conn is one framing connection. It implements transport.Connection.
type conn struct {
	server *server
	id     int64
	stream stream
	remote string

	// abort tears the native connection down.
	abort func()

	// onRequestClose, if set, forwards a graceful close request to the
	// underlying transport.
	onRequestClose func()

	accepted  time.Time
	receiving atomic.Bool
	abortOnce sync.Once
	done      chan struct{}
}

func newConn(s *server, id int64, st stream, remote string, abort func()) *conn {
	return &conn{
		server:   s,
		id:       id,
		stream:   st,
		remote:   remote,
		abort:    abort,
		accepted: time.Now(),
		done:     make(chan struct{}),
	}
}

// RequestClose lets an in-flight message finish. A connection that has not
// received anything yet is aborted.
func (c *conn) RequestClose() {
	if c.onRequestClose != nil {
		c.onRequestClose()
	}
	if !c.receiving.Load() {
		logger.Debug("%s connection %d: idle at shutdown, closing", c.server.name, c.id)
		c.Abort()
	}
}

// Abort closes the native connection immediately.
func (c *conn) Abort() {
	c.abortOnce.Do(c.abort)
}

// Done is closed when the connection handler has returned.
func (c *conn) Done() <-chan struct{} {
	return c.done
}

// serve handles the single message carried by the connection and closes it.
// Panics are recovered so a misbehaving connection cannot bring the server
// down.
func (c *conn) serve(ctx context.Context) {
	defer close(c.done)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in %s connection %d from %s: %v", c.server.name, c.id, c.remote, r)
		}
		if err := c.stream.Close(); err != nil {
			logger.Debug("%s connection %d: close: %v", c.server.name, c.id, err)
		}
	}()

	logger.Debug("%s connection %d from %s", c.server.name, c.id, c.remote)

	err := c.receive(ctx)
	if err == nil {
		if err := c.reply([]byte{byte(framing.RecordTypePreambleAck)}); err != nil {
			logger.Debug("%s connection %d: writing ack: %v", c.server.name, c.id, err)
		}
		return
	}

	if fault := framing.FaultOf(err); fault != "" {
		c.server.metrics.RecordFault(c.server.name, framing.ShortFaultName(fault))
		logger.Warn("%s connection %d from %s: %v", c.server.name, c.id, c.remote, err)
		c.fault(fault)
		return
	}

	var netErr net.Error
	switch {
	case errors.Is(err, framing.ErrPrematureEOF) && !c.receiving.Load():
		logger.Debug("%s connection %d closed by client before sending", c.server.name, c.id)
	case errors.As(err, &netErr) && netErr.Timeout():
		logger.Debug("%s connection %d timed out: %v", c.server.name, c.id, err)
	case errors.Is(err, context.Canceled):
		logger.Debug("%s connection %d cancelled", c.server.name, c.id)
	default:
		logger.Debug("%s connection %d: %v", c.server.name, c.id, err)
	}
}

// receive decodes the preamble and header, reads the body and hands the
// message to the host.
func (c *conn) receive(ctx context.Context) error {
	host := c.server.host
	cfg := host.config

	buf := host.buffers.TakeBuffer(cfg.ConnectionBufferSize)
	defer host.buffers.ReturnBuffer(buf)
	r := &frameReader{conn: c, buf: buf}

	modeDecoder := framing.NewServerModeDecoder()
	if err := r.run(ctx, modeDecoder); err != nil {
		return err
	}
	if mode := modeDecoder.Mode(); mode != framing.ModeSingletonSized {
		return &framing.DecodeError{
			Fault:    framing.FaultUnsupportedMode,
			State:    modeDecoder.StateName(),
			Position: modeDecoder.StreamPosition(),
			Err:      fmt.Errorf("%w: only %s is served, got %s", framing.ErrUnsupportedMode, framing.ModeSingletonSized, mode),
		}
	}
	c.server.metrics.RecordPreambleDecoded(c.server.name, modeDecoder.Mode().String(), time.Since(c.accepted))

	headerDecoder := framing.NewServerSingletonSizedDecoder(cfg.Limits)
	headerDecoder.Reset(modeDecoder.StreamPosition())
	if err := r.run(ctx, headerDecoder); err != nil {
		return err
	}

	via := headerDecoder.Via()
	endpoint := host.endpoints.Match(via)
	if endpoint == nil {
		return &framing.DecodeError{
			Fault:    framing.FaultEndpointNotFound,
			State:    headerDecoder.StateName(),
			Position: headerDecoder.StreamPosition(),
			Err:      fmt.Errorf("%w: %s", ErrEndpointNotFound, via),
		}
	}

	body, err := r.readBody(ctx, cfg.MaxReceivedMessageSize)
	if err != nil {
		return err
	}

	msg := &Message{
		ConnectionID: c.id,
		Transport:    c.server.name,
		Endpoint:     endpoint,
		Via:          via,
		ContentType:  headerDecoder.ContentType(),
		Mode:         modeDecoder.Mode(),
		Body:         body,
		RemoteAddr:   c.remote,
		ReceivedAt:   time.Now(),
	}
	if err := host.deliver(msg); err != nil {
		return err
	}

	c.server.metrics.RecordMessageDispatched(c.server.name, len(body))
	logger.Debug("%s connection %d: message for %s (%s, %d bytes) dispatched to %s",
		c.server.name, c.id, via, msg.ContentType, len(body), endpoint.Name)
	return nil
}

// reply writes record and ends the server's output.
func (c *conn) reply(record []byte) error {
	if d, ok := c.stream.(deadliner); ok && c.server.timeouts.Write > 0 {
		if err := d.SetWriteDeadline(time.Now().Add(c.server.timeouts.Write)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if _, err := c.stream.Write(record); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	return c.stream.CloseWrite()
}

// fault sends a fault record and discards whatever the peer still sends, so
// closing the connection does not reset it before the fault is read.
func (c *conn) fault(fault string) {
	if err := c.reply(framing.EncodeFault(fault)); err != nil {
		logger.Debug("%s connection %d: writing fault: %v", c.server.name, c.id, err)
		return
	}

	if d, ok := c.stream.(deadliner); ok {
		_ = d.SetReadDeadline(time.Now().Add(drainTimeout))
	} else {
		t := time.AfterFunc(drainTimeout, c.Abort)
		defer t.Stop()
	}
	_, _ = io.CopyN(io.Discard, c.stream, maxDrainBytes)
}

// frameReader feeds bytes read from a connection to the decoders. Bytes a
// decoder did not consume stay buffered for the next one.
type frameReader struct {
	conn     *conn
	buf      []byte
	off, end int
}

func (r *frameReader) fill(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c := r.conn
	if d, ok := c.stream.(deadliner); ok {
		timeout := c.server.timeouts.Read
		if !c.receiving.Load() {
			timeout = c.server.timeouts.Idle
		}
		if timeout > 0 {
			if err := d.SetReadDeadline(time.Now().Add(timeout)); err != nil {
				return fmt.Errorf("set read deadline: %w", err)
			}
		}
	}

	n, err := c.stream.Read(r.buf)
	if n > 0 {
		c.receiving.Store(true)
		c.server.metrics.RecordBytesReceived(c.server.name, int64(n))
		r.off, r.end = 0, n
		return nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return err
}

// run feeds buffered and newly read bytes to dec until it completes.
func (r *frameReader) run(ctx context.Context, dec framing.Decoder) error {
	for !dec.Done() {
		if r.off == r.end {
			err := r.fill(ctx)
			if errors.Is(err, io.EOF) {
				return &framing.DecodeError{
					State:    dec.StateName(),
					Position: dec.StreamPosition(),
					Err:      framing.ErrPrematureEOF,
				}
			}
			if err != nil {
				return err
			}
		}

		n, err := dec.Decode(r.buf[r.off:r.end])
		if err != nil {
			return err
		}
		r.off += n
	}
	return nil
}

// readBody collects the rest of the stream. A body longer than maxSize
// carries the MaxMessageSizeExceeded fault; maxSize <= 0 means unlimited.
func (r *frameReader) readBody(ctx context.Context, maxSize int64) ([]byte, error) {
	var body []byte
	for {
		if r.off < r.end {
			if maxSize > 0 && int64(len(body)+r.end-r.off) > maxSize {
				return nil, &framing.DecodeError{
					Fault: framing.FaultMaxMessageSizeExceeded,
					Err:   fmt.Errorf("%w: limit is %d bytes", ErrMessageTooLarge, maxSize),
				}
			}
			body = append(body, r.buf[r.off:r.end]...)
			r.off = r.end
		}

		err := r.fill(ctx)
		if errors.Is(err, io.EOF) {
			return body, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
