package framing

import (
	"errors"
	"fmt"
)

// Sentinel reasons wrapped by DecodeError. Use errors.Is to test for them.
var (
	ErrUnsupportedVersion = errors.New("framing: unsupported major version")
	ErrUnsupportedMode    = errors.New("framing: unsupported framing mode")
	ErrViaTooLong         = errors.New("framing: via exceeds quota")
	ErrContentTypeTooLong = errors.New("framing: content type exceeds quota")
	ErrStringTooLong      = errors.New("framing: string exceeds quota")
	ErrViaNotAbsolute     = errors.New("framing: via is not an absolute uri")
	ErrUnknownEncoding    = errors.New("framing: unrecognized known encoding")
	ErrSizeTooLarge       = errors.New("framing: encoded size too large")
	ErrFramingAtEnd       = errors.New("framing: more data after end of framing")
	ErrPrematureEOF       = errors.New("framing: premature end of stream")
	ErrInvalidFaultRecord = errors.New("framing: invalid fault record")
)

// RecordTypeError reports an unexpected record type byte.
type RecordTypeError struct {
	Expected RecordType
	Found    RecordType
}

func (e *RecordTypeError) Error() string {
	if e.Found == RecordTypeFault {
		return fmt.Sprintf("framing: expected %s record, peer sent a fault", e.Expected)
	}
	return fmt.Sprintf("framing: expected %s record, found %s", e.Expected, e.Found)
}

// DecodeError is returned by every decoder on a malformed or over-quota frame.
//
// State and Position identify where decoding stopped: State is the name of
// the decoder state that rejected the input, Position is the cumulative
// number of bytes consumed by the decoder before the failing byte.
//
// Fault carries the framing fault identifier to send back to the peer, or is
// empty when the failure has no protocol fault (the connection is simply
// dropped in that case).
type DecodeError struct {
	Fault    string
	State    string
	Position int64
	Err      error
}

func (e *DecodeError) Error() string {
	if e.State == "" {
		return fmt.Sprintf("framing error: %v", e.Err)
	}
	return fmt.Sprintf("framing error at position %d in state %s: %v", e.Position, e.State, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// FaultOf extracts the fault identifier from err, or "" if err carries none.
func FaultOf(err error) string {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Fault
	}
	return ""
}

// withFault tags err with a fault identifier but no position. Decoders that
// embed the failing sub-decoder fill in State and Position.
func withFault(fault string, err error) error {
	return &DecodeError{Fault: fault, Err: err}
}
