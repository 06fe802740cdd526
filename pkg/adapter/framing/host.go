// Package framing serves the connection-oriented framing protocol over TCP
// and local pipes.
//
// Every accepted connection carries one SingletonSized message:
//
//	preamble  00 01 <minor> 01 04
//	header    02 <via> (03 <encoding> | 04 <content type>)
//	body      opaque bytes up to the end of the client's output
//
// The server answers with a single PreambleAck byte (0x0B) once the message
// has been handed to the dispatcher, or with a fault record
// (08 <fault string>) when the message is refused. The connection is then
// closed.
//
// Decoded messages from all adapters sharing a Host land on one dispatch
// queue, read with Host.Accept.
package framing

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/marmos91/framingd/internal/logger"
	"github.com/marmos91/framingd/internal/protocol/framing"
	"github.com/marmos91/framingd/pkg/bufpool"
	"github.com/marmos91/framingd/pkg/inputqueue"
)

var (
	ErrEndpointNotFound    = errors.New("framing: no endpoint registered for via")
	ErrEndpointUnavailable = errors.New("framing: dispatcher no longer accepts messages")
	ErrMessageTooLarge     = errors.New("framing: message body exceeds maximum size")
)

// Message is a decoded framing message waiting for the dispatcher.
type Message struct {
	ConnectionID int64
	Transport    string
	Endpoint     *Endpoint
	Via          *url.URL
	ContentType  string
	Mode         framing.Mode
	Body         []byte
	RemoteAddr   string
	ReceivedAt   time.Time
}

// HostConfig holds the message limits shared by every adapter of a Host.
type HostConfig struct {
	// Limits bound the via and content type records.
	Limits framing.Limits

	// MaxReceivedMessageSize bounds the message body. Zero means unlimited.
	MaxReceivedMessageSize int64

	// ConnectionBufferSize is the size of the read buffer rented for each
	// connection. Zero selects 4096.
	ConnectionBufferSize int
}

const defaultConnectionBufferSize = 4096

// Host is the state shared by the framing adapters: the endpoint table, the
// read buffer pool and the dispatch queue.
//
// Thread safety:
// All methods are safe for concurrent use.
type Host struct {
	config    HostConfig
	endpoints *EndpointTable
	buffers   bufpool.BufferManager
	messages  *inputqueue.InputQueue[*Message]
}

// NewHost creates a host. buffers may be nil to allocate read buffers
// without pooling.
func NewHost(config HostConfig, endpoints *EndpointTable, buffers bufpool.BufferManager) *Host {
	if config.ConnectionBufferSize <= 0 {
		config.ConnectionBufferSize = defaultConnectionBufferSize
	}
	if endpoints == nil {
		endpoints = NewEndpointTable()
	}
	if buffers == nil {
		buffers = bufpool.NewBufferManager(0, 0)
	}
	return &Host{
		config:    config,
		endpoints: endpoints,
		buffers:   buffers,
		messages:  inputqueue.New[*Message](),
	}
}

// Endpoints returns the endpoint table.
func (h *Host) Endpoints() *EndpointTable { return h.endpoints }

// Config returns the host configuration with defaults applied.
func (h *Host) Config() HostConfig { return h.config }

// Accept returns the next decoded message. Once the host is shut down and
// drained it returns a nil message and a nil error.
func (h *Host) Accept(ctx context.Context) (*Message, error) {
	return h.messages.Dequeue(ctx)
}

// Pending returns the number of messages not yet accepted.
func (h *Host) Pending() int {
	return h.messages.PendingCount()
}

// Shutdown stops taking new messages. Messages already queued can still be
// accepted; connections delivering afterwards receive EndpointUnavailable.
func (h *Host) Shutdown() {
	logger.Debug("Framing host shutting down (%d pending message(s))", h.messages.PendingCount())
	h.messages.Shutdown(nil)
}

// Close discards queued messages and fails blocked Accept calls.
func (h *Host) Close() {
	h.messages.Close()
}

// deliver hands msg to the dispatcher.
func (h *Host) deliver(msg *Message) error {
	if !h.messages.TryEnqueueAndDispatch(msg, nil, true) {
		return &framing.DecodeError{Fault: framing.FaultEndpointUnavailable, Err: ErrEndpointUnavailable}
	}
	return nil
}
