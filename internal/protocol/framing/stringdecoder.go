package framing

import (
	"bytes"
	"fmt"
	"net/url"
)

type stringDecoderState int

const (
	stringReadingSize stringDecoderState = iota
	stringReadingBytes
	stringDone
)

func (s stringDecoderState) String() string {
	switch s {
	case stringReadingSize:
		return "ReadingSize"
	case stringReadingBytes:
		return "ReadingBytes"
	case stringDone:
		return "Done"
	default:
		return fmt.Sprintf("stringDecoderState(%d)", int(s))
	}
}

// stringHooks customizes a StringDecoder. The quota hook builds the error
// returned when a length prefix exceeds the quota; the completion hook
// parses the assembled string into a domain value.
type stringHooks interface {
	sizeQuotaExceeded(size int) error
	complete(value string) error
}

type plainStringHooks struct{}

func (plainStringHooks) sizeQuotaExceeded(size int) error {
	return fmt.Errorf("%w: %d bytes", ErrStringTooLong, size)
}

func (plainStringHooks) complete(string) error { return nil }

// StringDecoder decodes a length-prefixed UTF-8 string across any number of
// Decode calls.
//
// The length prefix is checked against the quota before any payload byte is
// buffered, so a hostile prefix cannot make the decoder allocate more than
// quota bytes.
//
// When the bytes of the next string are identical to the previous value the
// decoder hands back the previous string instead of allocating a new one.
// Vias and content types repeat on every message of a persistent
// connection, so this avoids one allocation per message in the common case.
type StringDecoder struct {
	sizeQuota   int
	sizeDecoder IntDecoder
	state       stringDecoderState

	encodedBytes []byte
	encodedSize  int
	bytesNeeded  int

	value    string
	hasValue bool

	hooks stringHooks
}

// NewStringDecoder returns a decoder for strings of at most sizeQuota bytes.
func NewStringDecoder(sizeQuota int) *StringDecoder {
	d := &StringDecoder{}
	d.init(sizeQuota, plainStringHooks{})
	return d
}

func (d *StringDecoder) init(sizeQuota int, hooks stringHooks) {
	d.sizeQuota = sizeQuota
	d.hooks = hooks
	d.Reset()
}

// Decode consumes bytes from buf and returns how many were used. Once
// IsValueDecoded reports true the remaining bytes of buf belong to the next
// record.
func (d *StringDecoder) Decode(buf []byte) (int, error) {
	switch d.state {
	case stringReadingSize:
		consumed, err := d.sizeDecoder.Decode(buf)
		if err != nil {
			return consumed, err
		}
		if !d.sizeDecoder.IsValueDecoded() {
			return consumed, nil
		}

		d.encodedSize = d.sizeDecoder.Value()
		if d.encodedSize > d.sizeQuota {
			return consumed, d.hooks.sizeQuotaExceeded(d.encodedSize)
		}
		if len(d.encodedBytes) < d.encodedSize {
			d.encodedBytes = make([]byte, d.encodedSize)
			d.hasValue = false
			d.value = ""
		}
		d.bytesNeeded = d.encodedSize
		d.state = stringReadingBytes

		if d.encodedSize == 0 {
			d.value = ""
			d.hasValue = true
			return consumed, d.finish("")
		}
		return consumed, nil

	case stringReadingBytes:
		if d.hasValue && len(d.value) == d.encodedSize && d.bytesNeeded == d.encodedSize &&
			len(buf) >= d.encodedSize && bytes.Equal(d.encodedBytes[:d.encodedSize], buf[:d.encodedSize]) {
			d.bytesNeeded = 0
			return d.encodedSize, d.finish(d.value)
		}

		// The buffer is about to hold a mix of old and new bytes, so the
		// cached value no longer describes it.
		d.hasValue = false

		consumed := d.bytesNeeded
		if len(buf) < consumed {
			consumed = len(buf)
		}
		copy(d.encodedBytes[d.encodedSize-d.bytesNeeded:], buf[:consumed])
		d.bytesNeeded -= consumed
		if d.bytesNeeded == 0 {
			value := string(d.encodedBytes[:d.encodedSize])
			d.value = value
			d.hasValue = true
			return consumed, d.finish(value)
		}
		return consumed, nil

	default:
		return 0, ErrFramingAtEnd
	}
}

func (d *StringDecoder) finish(value string) error {
	if err := d.hooks.complete(value); err != nil {
		return err
	}
	d.state = stringDone
	return nil
}

// IsValueDecoded reports whether the whole string has been read.
func (d *StringDecoder) IsValueDecoded() bool {
	return d.state == stringDone
}

// Value returns the decoded string. It panics before IsValueDecoded.
func (d *StringDecoder) Value() string {
	if d.state != stringDone {
		panic("framing: StringDecoder.Value called before the value was decoded")
	}
	return d.value
}

// Reset prepares the decoder for the next string. The internal buffer and
// the cached value are kept.
func (d *StringDecoder) Reset() {
	d.state = stringReadingSize
	d.sizeDecoder.Reset()
	d.bytesNeeded = 0
	d.encodedSize = 0
}

// ============================================================================
// Via
// ============================================================================

// ViaStringDecoder decodes the Via record payload into an absolute URI.
type ViaStringDecoder struct {
	StringDecoder

	via       *url.URL
	parsedVia string
}

// NewViaStringDecoder returns a via decoder bounded by sizeQuota bytes.
func NewViaStringDecoder(sizeQuota int) *ViaStringDecoder {
	d := &ViaStringDecoder{}
	d.init(sizeQuota, d)
	return d
}

func (d *ViaStringDecoder) sizeQuotaExceeded(size int) error {
	return withFault(FaultViaTooLong, fmt.Errorf("%w: %d bytes, quota %d", ErrViaTooLong, size, d.sizeQuota))
}

func (d *ViaStringDecoder) complete(value string) error {
	if d.via != nil && d.parsedVia == value {
		return nil
	}
	u, err := url.Parse(value)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("%w: %q", ErrViaNotAbsolute, value)
	}
	d.via = u
	d.parsedVia = value
	return nil
}

// Via returns the decoded URI. It panics before IsValueDecoded.
func (d *ViaStringDecoder) Via() *url.URL {
	if !d.IsValueDecoded() {
		panic("framing: ViaStringDecoder.Via called before the value was decoded")
	}
	return d.via
}

// ============================================================================
// Content Type
// ============================================================================

// ContentTypeStringDecoder decodes the ExtensibleEncoding record payload.
type ContentTypeStringDecoder struct {
	StringDecoder
}

// NewContentTypeStringDecoder returns a content-type decoder bounded by
// sizeQuota bytes.
func NewContentTypeStringDecoder(sizeQuota int) *ContentTypeStringDecoder {
	d := &ContentTypeStringDecoder{}
	d.init(sizeQuota, d)
	return d
}

func (d *ContentTypeStringDecoder) sizeQuotaExceeded(size int) error {
	return withFault(FaultContentTypeTooLong,
		fmt.Errorf("%w: %d bytes, quota %d", ErrContentTypeTooLong, size, d.sizeQuota))
}

func (d *ContentTypeStringDecoder) complete(string) error { return nil }

// ContentTypeForEncoding maps a KnownEncoding id to its MIME string.
func ContentTypeForEncoding(encoding EncodingType) (string, error) {
	if int(encoding) >= len(knownEncodings) {
		return "", withFault(FaultContentTypeInvalid,
			fmt.Errorf("%w: 0x%02X", ErrUnknownEncoding, byte(encoding)))
	}
	return knownEncodings[encoding], nil
}
