package framing

import "fmt"

// ModeDecoderState enumerates the states of ServerModeDecoder.
type ModeDecoderState int

const (
	ModeReadingVersionRecord ModeDecoderState = iota
	ModeReadingMajorVersion
	ModeReadingMinorVersion
	ModeReadingModeRecord
	ModeReadingModeValue
	ModeDone
)

func (s ModeDecoderState) String() string {
	switch s {
	case ModeReadingVersionRecord:
		return "ReadingVersionRecord"
	case ModeReadingMajorVersion:
		return "ReadingMajorVersion"
	case ModeReadingMinorVersion:
		return "ReadingMinorVersion"
	case ModeReadingModeRecord:
		return "ReadingModeRecord"
	case ModeReadingModeValue:
		return "ReadingModeValue"
	case ModeDone:
		return "Done"
	default:
		return fmt.Sprintf("ModeDecoderState(%d)", int(s))
	}
}

// ServerModeDecoder decodes the five-byte preamble that opens a connection:
//
//	00 <major> <minor> 01 <mode>
//
// Every state consumes exactly one byte, so a single Decode call never
// returns more than 1.
type ServerModeDecoder struct {
	framingDecoder

	state        ModeDecoderState
	majorVersion byte
	minorVersion byte
	mode         Mode
}

// NewServerModeDecoder returns a decoder positioned at the start of a
// preamble.
func NewServerModeDecoder() *ServerModeDecoder {
	return &ServerModeDecoder{}
}

// Decode implements Decoder.
func (d *ServerModeDecoder) Decode(buf []byte) (int, error) {
	if d.state == ModeDone {
		return 0, d.fail(d.state.String(), 0, ErrFramingAtEnd)
	}
	if len(buf) == 0 {
		return 0, nil
	}

	b := buf[0]
	var err error
	switch d.state {
	case ModeReadingVersionRecord:
		if err = d.validateRecordType(RecordTypeVersion, RecordType(b)); err == nil {
			d.state = ModeReadingMajorVersion
		}
	case ModeReadingMajorVersion:
		if err = d.validateMajorVersion(b); err == nil {
			d.majorVersion = b
			d.state = ModeReadingMinorVersion
		}
	case ModeReadingMinorVersion:
		d.minorVersion = b
		d.state = ModeReadingModeRecord
	case ModeReadingModeRecord:
		if err = d.validateRecordType(RecordTypeMode, RecordType(b)); err == nil {
			d.state = ModeReadingModeValue
		}
	case ModeReadingModeValue:
		if err = d.validateFramingMode(Mode(b)); err == nil {
			d.mode = Mode(b)
			d.state = ModeDone
		}
	}
	if err != nil {
		return 0, d.fail(d.state.String(), 0, err)
	}

	d.streamPosition++
	return 1, nil
}

// Done implements Decoder.
func (d *ServerModeDecoder) Done() bool {
	return d.state == ModeDone
}

// State returns the current state.
func (d *ServerModeDecoder) State() ModeDecoderState {
	return d.state
}

// StateName implements Decoder.
func (d *ServerModeDecoder) StateName() string {
	return d.state.String()
}

// Mode returns the decoded framing mode. It panics before Done.
func (d *ServerModeDecoder) Mode() Mode {
	d.mustBeDone("Mode")
	return d.mode
}

// MajorVersion returns the decoded major version. It panics before Done.
func (d *ServerModeDecoder) MajorVersion() byte {
	d.mustBeDone("MajorVersion")
	return d.majorVersion
}

// MinorVersion returns the decoded minor version. It panics before Done.
func (d *ServerModeDecoder) MinorVersion() byte {
	d.mustBeDone("MinorVersion")
	return d.minorVersion
}

func (d *ServerModeDecoder) mustBeDone(accessor string) {
	if d.state != ModeDone {
		panic(fmt.Sprintf("framing: ServerModeDecoder.%s called in state %s", accessor, d.state))
	}
}

// Reset rewinds the decoder to ReadingVersionRecord and zeroes the stream
// position.
func (d *ServerModeDecoder) Reset() {
	*d = ServerModeDecoder{}
}
