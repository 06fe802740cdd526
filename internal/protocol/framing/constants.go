package framing

import "fmt"

// ============================================================================
// Protocol Version
// ============================================================================

const (
	// MajorVersion is the only major version this implementation speaks.
	// A preamble carrying any other major version is rejected permanently.
	MajorVersion byte = 1

	// MinorVersion is the minor version written by the encoders.
	MinorVersion byte = 0
)

// ============================================================================
// Record Types
// ============================================================================

// RecordType is the single-byte tag that starts every framing record.
type RecordType byte

const (
	RecordTypeVersion            RecordType = 0x00
	RecordTypeMode               RecordType = 0x01
	RecordTypeVia                RecordType = 0x02
	RecordTypeKnownEncoding      RecordType = 0x03
	RecordTypeExtensibleEncoding RecordType = 0x04
	RecordTypeUnsizedEnvelope    RecordType = 0x05
	RecordTypeSizedEnvelope      RecordType = 0x06
	RecordTypeEnd                RecordType = 0x07
	RecordTypeFault              RecordType = 0x08
	RecordTypeUpgradeRequest     RecordType = 0x09
	RecordTypeUpgradeResponse    RecordType = 0x0A
	RecordTypePreambleAck        RecordType = 0x0B
	RecordTypePreambleEnd        RecordType = 0x0C
)

var recordTypeNames = map[RecordType]string{
	RecordTypeVersion:            "Version",
	RecordTypeMode:               "Mode",
	RecordTypeVia:                "Via",
	RecordTypeKnownEncoding:      "KnownEncoding",
	RecordTypeExtensibleEncoding: "ExtensibleEncoding",
	RecordTypeUnsizedEnvelope:    "UnsizedEnvelope",
	RecordTypeSizedEnvelope:      "SizedEnvelope",
	RecordTypeEnd:                "End",
	RecordTypeFault:              "Fault",
	RecordTypeUpgradeRequest:     "UpgradeRequest",
	RecordTypeUpgradeResponse:    "UpgradeResponse",
	RecordTypePreambleAck:        "PreambleAck",
	RecordTypePreambleEnd:        "PreambleEnd",
}

func (t RecordType) String() string {
	if name, ok := recordTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("RecordType(0x%02X)", byte(t))
}

// ============================================================================
// Framing Modes
// ============================================================================

// Mode selects how messages are framed for the rest of the connection.
type Mode byte

const (
	ModeSingleton      Mode = 0x01
	ModeDuplex         Mode = 0x02
	ModeSimplex        Mode = 0x03
	ModeSingletonSized Mode = 0x04
)

// IsDefined reports whether m is one of the four framing modes.
func (m Mode) IsDefined() bool {
	return m >= ModeSingleton && m <= ModeSingletonSized
}

func (m Mode) String() string {
	switch m {
	case ModeSingleton:
		return "Singleton"
	case ModeDuplex:
		return "Duplex"
	case ModeSimplex:
		return "Simplex"
	case ModeSingletonSized:
		return "SingletonSized"
	default:
		return fmt.Sprintf("Mode(0x%02X)", byte(m))
	}
}

// ============================================================================
// Known Encodings
// ============================================================================

// EncodingType is the one-byte identifier carried by a KnownEncoding record.
type EncodingType byte

const (
	EncodingSoap11UTF8      EncodingType = 0x00
	EncodingSoap11UTF16     EncodingType = 0x01
	EncodingSoap11UTF16FFFE EncodingType = 0x02
	EncodingSoap12UTF8      EncodingType = 0x03
	EncodingSoap12UTF16     EncodingType = 0x04
	EncodingSoap12UTF16FFFE EncodingType = 0x05
	EncodingMTOM            EncodingType = 0x06
	EncodingBinary          EncodingType = 0x07
	EncodingBinarySession   EncodingType = 0x08
)

// knownEncodings maps encoding ids to their canonical MIME strings.
var knownEncodings = [...]string{
	EncodingSoap11UTF8:      "text/xml; charset=utf-8",
	EncodingSoap11UTF16:     "text/xml; charset=utf16",
	EncodingSoap11UTF16FFFE: "text/xml; charset=unicodeFFFE",
	EncodingSoap12UTF8:      "application/soap+xml; charset=utf-8",
	EncodingSoap12UTF16:     "application/soap+xml; charset=utf16",
	EncodingSoap12UTF16FFFE: "application/soap+xml; charset=unicodeFFFE",
	EncodingMTOM:            "multipart/related",
	EncodingBinary:          "application/soap+msbin1",
	EncodingBinarySession:   "application/soap+msbinsession1",
}

// KnownEncodingFor returns the encoding id whose canonical MIME string equals
// contentType. Encoders use it to choose the compact KnownEncoding record.
func KnownEncodingFor(contentType string) (EncodingType, bool) {
	for i, s := range knownEncodings {
		if s == contentType {
			return EncodingType(i), true
		}
	}
	return 0, false
}
