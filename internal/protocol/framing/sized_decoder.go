package framing

import (
	"fmt"
	"net/url"
)

// SizedDecoderState enumerates the states of ServerSingletonSizedDecoder.
type SizedDecoderState int

const (
	SizedReadingViaRecord SizedDecoderState = iota
	SizedReadingViaString
	SizedReadingContentTypeRecord
	SizedReadingContentTypeString
	SizedReadingContentTypeByte
	SizedStart
)

func (s SizedDecoderState) String() string {
	switch s {
	case SizedReadingViaRecord:
		return "ReadingViaRecord"
	case SizedReadingViaString:
		return "ReadingViaString"
	case SizedReadingContentTypeRecord:
		return "ReadingContentTypeRecord"
	case SizedReadingContentTypeString:
		return "ReadingContentTypeString"
	case SizedReadingContentTypeByte:
		return "ReadingContentTypeByte"
	case SizedStart:
		return "Start"
	default:
		return fmt.Sprintf("SizedDecoderState(%d)", int(s))
	}
}

// Limits bound the strings a header may carry.
type Limits struct {
	MaxViaLength         int
	MaxContentTypeLength int
}

// DefaultLimits are used when a zero Limits value is passed to a constructor.
var DefaultLimits = Limits{
	MaxViaLength:         2048,
	MaxContentTypeLength: 256,
}

func (l Limits) withDefaults() Limits {
	if l.MaxViaLength <= 0 {
		l.MaxViaLength = DefaultLimits.MaxViaLength
	}
	if l.MaxContentTypeLength <= 0 {
		l.MaxContentTypeLength = DefaultLimits.MaxContentTypeLength
	}
	return l
}

// ServerSingletonSizedDecoder decodes the via and content-type records that
// precede a sized envelope:
//
//	02 <len><via> (03 <encoding id> | 04 <len><content type>)
//
// String records are delegated to embedded string decoders, so a Decode call
// may consume any number of bytes.
type ServerSingletonSizedDecoder struct {
	framingDecoder

	state              SizedDecoderState
	viaDecoder         *ViaStringDecoder
	contentTypeDecoder *ContentTypeStringDecoder
	contentType        string
}

// NewServerSingletonSizedDecoder returns a decoder bounded by limits. Zero
// fields of limits fall back to DefaultLimits.
func NewServerSingletonSizedDecoder(limits Limits) *ServerSingletonSizedDecoder {
	limits = limits.withDefaults()
	return &ServerSingletonSizedDecoder{
		viaDecoder:         NewViaStringDecoder(limits.MaxViaLength),
		contentTypeDecoder: NewContentTypeStringDecoder(limits.MaxContentTypeLength),
	}
}

// Decode implements Decoder.
func (d *ServerSingletonSizedDecoder) Decode(buf []byte) (int, error) {
	consumed, err := d.decode(buf)
	if err != nil {
		return 0, err
	}
	d.streamPosition += int64(consumed)
	return consumed, nil
}

func (d *ServerSingletonSizedDecoder) decode(buf []byte) (int, error) {
	if d.state == SizedStart {
		return 0, d.fail(d.state.String(), 0, ErrFramingAtEnd)
	}

	total := 0
	for total < len(buf) && d.state != SizedStart {
		n, err := d.step(buf[total:])
		if err != nil {
			return 0, d.fail(d.state.String(), total+n, err)
		}
		total += n
		if n == 0 {
			break
		}
	}
	return total, nil
}

func (d *ServerSingletonSizedDecoder) step(buf []byte) (int, error) {
	switch d.state {
	case SizedReadingViaRecord:
		if err := d.validateRecordType(RecordTypeVia, RecordType(buf[0])); err != nil {
			return 0, err
		}
		d.viaDecoder.Reset()
		d.state = SizedReadingViaString
		return 1, nil

	case SizedReadingViaString:
		n, err := d.viaDecoder.Decode(buf)
		if err != nil {
			return n, err
		}
		if d.viaDecoder.IsValueDecoded() {
			d.state = SizedReadingContentTypeRecord
		}
		return n, nil

	case SizedReadingContentTypeRecord:
		switch RecordType(buf[0]) {
		case RecordTypeKnownEncoding:
			d.state = SizedReadingContentTypeByte
		case RecordTypeExtensibleEncoding:
			d.contentTypeDecoder.Reset()
			d.state = SizedReadingContentTypeString
		default:
			return 0, d.validateRecordType(RecordTypeKnownEncoding, RecordType(buf[0]))
		}
		return 1, nil

	case SizedReadingContentTypeByte:
		contentType, err := ContentTypeForEncoding(EncodingType(buf[0]))
		if err != nil {
			return 0, err
		}
		d.contentType = contentType
		d.state = SizedStart
		return 1, nil

	case SizedReadingContentTypeString:
		n, err := d.contentTypeDecoder.Decode(buf)
		if err != nil {
			return n, err
		}
		if d.contentTypeDecoder.IsValueDecoded() {
			d.contentType = d.contentTypeDecoder.Value()
			d.state = SizedStart
		}
		return n, nil
	}
	return 0, nil
}

// Done implements Decoder.
func (d *ServerSingletonSizedDecoder) Done() bool {
	return d.state == SizedStart
}

// State returns the current state.
func (d *ServerSingletonSizedDecoder) State() SizedDecoderState {
	return d.state
}

// StateName implements Decoder.
func (d *ServerSingletonSizedDecoder) StateName() string {
	return d.state.String()
}

// Via returns the decoded destination. It panics until the via record has
// been fully read.
func (d *ServerSingletonSizedDecoder) Via() *url.URL {
	if d.state < SizedReadingContentTypeRecord {
		panic(fmt.Sprintf("framing: ServerSingletonSizedDecoder.Via called in state %s", d.state))
	}
	return d.viaDecoder.Via()
}

// ContentType returns the decoded content type. It panics before Start.
func (d *ServerSingletonSizedDecoder) ContentType() string {
	if d.state != SizedStart {
		panic(fmt.Sprintf("framing: ServerSingletonSizedDecoder.ContentType called in state %s", d.state))
	}
	return d.contentType
}

// Reset prepares the decoder for the next header on the same connection.
// streamPosition continues the position count of the connection.
func (d *ServerSingletonSizedDecoder) Reset(streamPosition int64) {
	d.streamPosition = streamPosition
	d.state = SizedReadingViaRecord
	d.contentType = ""
}
