package framing

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/marmos91/framingd/internal/protocol/framing"
)

// ErrNoReply is returned by SendMessage when the server closed the
// connection without answering.
var ErrNoReply = errors.New("framing: connection closed without reply")

// maxReplySize bounds the reply read by SendMessage. A reply is one ack byte
// or one fault record.
const maxReplySize = 1 + 5 + 256

// FaultError is a fault record returned by a server.
type FaultError struct {
	Fault string
}

func (e *FaultError) Error() string {
	return "framing: server replied with fault " + framing.ShortFaultName(e.Fault)
}

// ClientConn is a client connection that can end its output.
type ClientConn interface {
	io.ReadWriter
	CloseWrite() error
}

// SendMessage writes one SingletonSized message on c, ends the output and
// waits for the reply. A fault reply is returned as *FaultError.
//
// If c supports deadlines and ctx has one, it bounds the whole exchange.
func SendMessage(ctx context.Context, c ClientConn, via, contentType string, body []byte) error {
	if d, ok := c.(deadliner); ok {
		if deadline, ok := ctx.Deadline(); ok {
			_ = d.SetReadDeadline(deadline)
			_ = d.SetWriteDeadline(deadline)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := framing.AppendPreamble(nil, framing.ModeSingletonSized)
	msg = framing.AppendSizedHeader(msg, via, contentType)
	msg = append(msg, body...)

	if _, err := c.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := c.CloseWrite(); err != nil {
		return fmt.Errorf("close write: %w", err)
	}

	// A server closing with unread input may reset the connection after
	// its reply, so a read error only matters when nothing arrived.
	reply, err := io.ReadAll(io.LimitReader(c, maxReplySize))
	if len(reply) == 0 {
		if err != nil {
			return fmt.Errorf("read reply: %w", err)
		}
		return ErrNoReply
	}

	switch framing.RecordType(reply[0]) {
	case framing.RecordTypePreambleAck:
		return nil
	case framing.RecordTypeFault:
		fault, _, err := framing.ParseFault(reply)
		if err != nil {
			return fmt.Errorf("read fault: %w", err)
		}
		return &FaultError{Fault: fault}
	default:
		return fmt.Errorf("framing: unexpected reply record %s", framing.RecordType(reply[0]))
	}
}
