package framing

import (
	"errors"
	"fmt"
)

// Decoder is the surface shared by the connection-level decoders. Callers
// feed successive chunks of a stream to Decode until Done reports true.
type Decoder interface {
	// Decode consumes a prefix of buf and returns its length.
	Decode(buf []byte) (int, error)

	// Done reports whether the decoder reached its terminal success state.
	Done() bool

	// StreamPosition returns the number of bytes consumed since creation or
	// the last Reset.
	StreamPosition() int64

	// StateName names the current state for diagnostics.
	StateName() string
}

// framingDecoder holds the validation helpers and the stream position shared
// by ServerModeDecoder and ServerSingletonSizedDecoder.
type framingDecoder struct {
	streamPosition int64
}

// StreamPosition implements Decoder.
func (d *framingDecoder) StreamPosition() int64 {
	return d.streamPosition
}

func (d *framingDecoder) validateRecordType(expected, found RecordType) error {
	if expected != found {
		return &RecordTypeError{Expected: expected, Found: found}
	}
	return nil
}

func (d *framingDecoder) validateMajorVersion(major byte) error {
	if major != MajorVersion {
		return withFault(FaultUnsupportedVersion,
			fmt.Errorf("%w: %d", ErrUnsupportedVersion, major))
	}
	return nil
}

func (d *framingDecoder) validateFramingMode(mode Mode) error {
	if !mode.IsDefined() {
		return withFault(FaultUnsupportedMode,
			fmt.Errorf("%w: 0x%02X", ErrUnsupportedMode, byte(mode)))
	}
	return nil
}

// fail attaches the decoder state and the position of the failing byte to
// err. A fault assigned by a sub-decoder is kept.
func (d *framingDecoder) fail(state string, consumed int, err error) error {
	de := &DecodeError{
		State:    state,
		Position: d.streamPosition + int64(consumed),
		Err:      err,
	}
	var inner *DecodeError
	if errors.As(err, &inner) && inner.State == "" {
		de.Fault = inner.Fault
		de.Err = inner.Err
	}
	return de
}
