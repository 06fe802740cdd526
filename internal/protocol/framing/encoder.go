package framing

import (
	"fmt"
	"unicode/utf8"
)

// AppendPreamble appends the version and mode records that open a
// connection.
func AppendPreamble(dst []byte, mode Mode) []byte {
	return append(dst,
		byte(RecordTypeVersion), MajorVersion, MinorVersion,
		byte(RecordTypeMode), byte(mode))
}

// AppendString appends a length-prefixed UTF-8 string.
func AppendString(dst []byte, s string) []byte {
	dst = AppendInt(dst, len(s))
	return append(dst, s...)
}

// AppendVia appends a Via record.
func AppendVia(dst []byte, via string) []byte {
	dst = append(dst, byte(RecordTypeVia))
	return AppendString(dst, via)
}

// AppendContentType appends the content-type record, using the one-byte
// KnownEncoding form when contentType is in the known encoding table.
func AppendContentType(dst []byte, contentType string) []byte {
	if encoding, ok := KnownEncodingFor(contentType); ok {
		return append(dst, byte(RecordTypeKnownEncoding), byte(encoding))
	}
	dst = append(dst, byte(RecordTypeExtensibleEncoding))
	return AppendString(dst, contentType)
}

// AppendSizedHeader appends the via and content-type records that precede a
// sized envelope.
func AppendSizedHeader(dst []byte, via, contentType string) []byte {
	dst = AppendVia(dst, via)
	return AppendContentType(dst, contentType)
}

// AppendFault appends a Fault record carrying fault.
func AppendFault(dst []byte, fault string) []byte {
	dst = append(dst, byte(RecordTypeFault))
	return AppendString(dst, fault)
}

// EncodeFault returns a standalone Fault record.
func EncodeFault(fault string) []byte {
	return AppendFault(make([]byte, 0, 1+EncodedIntSize(len(fault))+len(fault)), fault)
}

// maxFaultLength bounds fault strings read back from a peer.
const maxFaultLength = 256

// ParseFault decodes a complete Fault record at the start of buf and returns
// the fault string and the number of bytes used.
func ParseFault(buf []byte) (string, int, error) {
	if len(buf) == 0 {
		return "", 0, ErrPrematureEOF
	}
	if RecordType(buf[0]) != RecordTypeFault {
		return "", 0, &RecordTypeError{Expected: RecordTypeFault, Found: RecordType(buf[0])}
	}

	var size IntDecoder
	n, err := size.Decode(buf[1:])
	if err != nil {
		return "", 0, err
	}
	if !size.IsValueDecoded() {
		return "", 0, ErrPrematureEOF
	}
	length := size.Value()
	if length > maxFaultLength {
		return "", 0, fmt.Errorf("%w: %d bytes", ErrInvalidFaultRecord, length)
	}

	start := 1 + n
	if len(buf) < start+length {
		return "", 0, ErrPrematureEOF
	}
	fault := string(buf[start : start+length])
	if !utf8.ValidString(fault) {
		return "", 0, fmt.Errorf("%w: not utf-8", ErrInvalidFaultRecord)
	}
	return fault, start + length, nil
}
