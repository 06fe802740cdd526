package framing

// maxIntBytes is the maximum number of bytes a size prefix may occupy.
// Five 7-bit groups cover 35 bits; only the low three bits of the last group
// are allowed so the value always fits a non-negative int32.
const maxIntBytes = 5

// IntDecoder decodes the variable-length size prefix used by string and
// envelope records: little-endian 7-bit groups, high bit set on every byte
// except the last.
//
// The zero value is ready to use.
type IntDecoder struct {
	value   int
	index   int
	decoded bool
}

// Decode consumes bytes from buf until the integer is complete or buf is
// exhausted. It returns the number of bytes consumed.
func (d *IntDecoder) Decode(buf []byte) (int, error) {
	consumed := 0
	for consumed < len(buf) && !d.decoded {
		next := buf[consumed]
		d.value |= int(next&0x7F) << (d.index * 7)
		consumed++
		if d.index == maxIntBytes-1 && next&0xF8 != 0 {
			return consumed, ErrSizeTooLarge
		}
		d.index++
		if next&0x80 == 0 {
			d.decoded = true
		}
	}
	return consumed, nil
}

// IsValueDecoded reports whether the last byte of the integer was seen.
func (d *IntDecoder) IsValueDecoded() bool {
	return d.decoded
}

// Value returns the decoded integer. It panics if the value is incomplete.
func (d *IntDecoder) Value() int {
	if !d.decoded {
		panic("framing: IntDecoder.Value called before the value was decoded")
	}
	return d.value
}

// Reset prepares the decoder for the next integer.
func (d *IntDecoder) Reset() {
	*d = IntDecoder{}
}

// EncodedIntSize returns the number of bytes AppendInt writes for value.
func EncodedIntSize(value int) int {
	n := 1
	for v := uint32(value); v >= 0x80; v >>= 7 {
		n++
	}
	return n
}

// AppendInt appends the variable-length encoding of value to dst.
// value must be non-negative.
func AppendInt(dst []byte, value int) []byte {
	v := uint32(value)
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}
