// Package queue decodes framing headers of queued (datagram) messages and
// publishes the decoded messages to consumers.
//
// A queued message is a single SingletonSized framing stream: the version and
// mode preamble, the via and content type records, then the body running to
// the end of the message. Messages whose header cannot be decoded are poison
// and are moved to a dead-letter store instead of being retried.
package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/marmos91/framingd/internal/protocol/framing"
)

// PoisonMessageError marks a message that can never be decoded.
type PoisonMessageError struct {
	LookupID string
	Err      error
}

func (e *PoisonMessageError) Error() string {
	return fmt.Sprintf("queue: poison message %s: %v", e.LookupID, e.Err)
}

func (e *PoisonMessageError) Unwrap() error {
	return e.Err
}

// IsPoison reports whether err marks a poison message.
func IsPoison(err error) bool {
	var pe *PoisonMessageError
	return errors.As(err, &pe)
}

// Header is the decoded framing header of a queued message.
type Header struct {
	Mode         framing.Mode
	MajorVersion byte
	MinorVersion byte
	Via          *url.URL
	ContentType  string

	// Length is the number of header bytes consumed.
	Length int64
}

// DecodeHelper runs the preamble and header decoders over queued messages.
// The decoders are reused between messages, so a DecodeHelper must not be
// shared between goroutines.
type DecodeHelper struct {
	mode  *framing.ServerModeDecoder
	sized *framing.ServerSingletonSizedDecoder
}

// NewDecodeHelper returns a helper enforcing limits on the via and content
// type.
func NewDecodeHelper(limits framing.Limits) *DecodeHelper {
	return &DecodeHelper{
		mode:  framing.NewServerModeDecoder(),
		sized: framing.NewServerSingletonSizedDecoder(limits),
	}
}

// DecodeTransportDatagram decodes the framing header at the start of r and
// leaves r positioned at the first body byte. Malformed headers, a mode other
// than SingletonSized and a message ending inside the header are returned as
// *PoisonMessageError. Context errors are returned unwrapped.
func (h *DecodeHelper) DecodeTransportDatagram(ctx context.Context, lookupID string, r SegmentReader) (Header, error) {
	h.mode.Reset()
	if err := runDecoder(ctx, h.mode, r); err != nil {
		return Header{}, poison(lookupID, err)
	}

	if mode := h.mode.Mode(); mode != framing.ModeSingletonSized {
		return Header{}, poison(lookupID, &framing.DecodeError{
			Fault:    framing.FaultUnsupportedMode,
			State:    h.mode.StateName(),
			Position: h.mode.StreamPosition(),
			Err:      fmt.Errorf("%w: queued messages require %s, got %s", framing.ErrUnsupportedMode, framing.ModeSingletonSized, mode),
		})
	}

	h.sized.Reset(h.mode.StreamPosition())
	if err := runDecoder(ctx, h.sized, r); err != nil {
		return Header{}, poison(lookupID, err)
	}

	return Header{
		Mode:         h.mode.Mode(),
		MajorVersion: h.mode.MajorVersion(),
		MinorVersion: h.mode.MinorVersion(),
		Via:          h.sized.Via(),
		ContentType:  h.sized.ContentType(),
		Length:       h.sized.StreamPosition(),
	}, nil
}

// runDecoder feeds segments to dec until it completes.
func runDecoder(ctx context.Context, dec framing.Decoder, r SegmentReader) error {
	for !dec.Done() {
		seg, err := r.ReadSegment(ctx)
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

		n, err := dec.Decode(seg)
		if err != nil {
			return err
		}
		r.Advance(n)
	}
	return nil
}

// poison wraps decode failures. Context and read errors pass through.
func poison(lookupID string, err error) error {
	var de *framing.DecodeError
	if !errors.As(err, &de) {
		return err
	}
	return &PoisonMessageError{LookupID: lookupID, Err: err}
}

// ReadBody collects the rest of r. A body longer than maxSize bytes is a
// poison message carrying the MaxMessageSizeExceeded fault; maxSize <= 0
// means unlimited.
func ReadBody(ctx context.Context, lookupID string, r SegmentReader, maxSize int64) ([]byte, error) {
	var body []byte
	for {
		seg, err := r.ReadSegment(ctx)
		if errors.Is(err, io.EOF) {
			return body, nil
		}
		if err != nil {
			return nil, err
		}

		if maxSize > 0 && int64(len(body)+len(seg)) > maxSize {
			return nil, &PoisonMessageError{
				LookupID: lookupID,
				Err: &framing.DecodeError{
					Fault: framing.FaultMaxMessageSizeExceeded,
					Err:   fmt.Errorf("queue: message body exceeds %d bytes", maxSize),
				},
			}
		}
		body = append(body, seg...)
		r.Advance(len(seg))
	}
}
