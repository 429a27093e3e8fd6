package bcs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"unicode/utf8"

	"github.com/Pilatuz/bigz/uint128"
)

var (
	// ErrUnexpectedEOF is returned when the input ends inside a value.
	ErrUnexpectedEOF = errors.New("bcs: unexpected end of input")

	// ErrInvalidBool is returned for a bool byte other than 0 or 1.
	ErrInvalidBool = errors.New("bcs: invalid bool")

	// ErrUlebOverflow is returned when a ULEB128 value does not fit in 32 bits.
	ErrUlebOverflow = errors.New("bcs: uleb128 overflows u32")

	// ErrNonCanonicalUleb is returned for a ULEB128 value encoded with more
	// bytes than needed.
	ErrNonCanonicalUleb = errors.New("bcs: non-canonical uleb128")

	// ErrInvalidUTF8 is returned for a string that is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("bcs: invalid utf-8 string")

	// ErrRemainingBytes is returned by Finish when input is left over.
	ErrRemainingBytes = errors.New("bcs: remaining bytes after decode")
)

// Deserializer reads BCS values from a byte slice. The first error sticks:
// subsequent reads return zero values and Err reports the original failure.
type Deserializer struct {
	in  []byte
	pos int
	err error
}

// NewDeserializer returns a Deserializer positioned at the start of in.
func NewDeserializer(in []byte) *Deserializer {
	return &Deserializer{in: in}
}

// Err returns the first error encountered, if any.
func (d *Deserializer) Err() error {
	return d.err
}

// Remaining is the number of unread bytes.
func (d *Deserializer) Remaining() int {
	return len(d.in) - d.pos
}

// Finish reports ErrRemainingBytes if the input was not fully consumed.
func (d *Deserializer) Finish() error {
	if d.err != nil {
		return d.err
	}
	if d.Remaining() != 0 {
		return fmt.Errorf("%w: %d", ErrRemainingBytes, d.Remaining())
	}
	return nil
}

func (d *Deserializer) read(n int) []byte {
	if d.err != nil {
		return nil
	}
	if d.Remaining() < n {
		d.err = ErrUnexpectedEOF
		return nil
	}
	b := d.in[d.pos : d.pos+n]
	d.pos += n
	return b
}

// U8 reads a single byte.
func (d *Deserializer) U8() uint8 {
	b := d.read(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// U16 reads a little-endian uint16.
func (d *Deserializer) U16() uint16 {
	b := d.read(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// U32 reads a little-endian uint32.
func (d *Deserializer) U32() uint32 {
	b := d.read(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// U64 reads a little-endian uint64.
func (d *Deserializer) U64() uint64 {
	b := d.read(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// U128 reads a little-endian 128-bit integer.
func (d *Deserializer) U128() uint128.Uint128 {
	b := d.read(16)
	if b == nil {
		return uint128.Uint128{}
	}
	return uint128.LoadLittleEndian(b)
}

// Bool reads a strict 0/1 byte.
func (d *Deserializer) Bool() bool {
	switch d.U8() {
	case 0:
		return false
	case 1:
		return true
	default:
		if d.err == nil {
			d.err = ErrInvalidBool
		}
		return false
	}
}

// Uleb128 reads an unsigned LEB128 value limited to 32 bits. Only the
// shortest encoding of a value is accepted.
func (d *Deserializer) Uleb128() uint32 {
	var v uint64
	for shift := 0; shift < 35; shift += 7 {
		b := d.U8()
		if d.err != nil {
			return 0
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			if shift > 0 && b == 0 {
				d.err = ErrNonCanonicalUleb
				return 0
			}
			if v > 1<<32-1 {
				d.err = ErrUlebOverflow
				return 0
			}
			return uint32(v)
		}
	}
	d.err = ErrUlebOverflow
	return 0
}

// Bytes reads a length-prefixed byte sequence.
func (d *Deserializer) Bytes() []byte {
	n := d.Uleb128()
	if d.err != nil {
		return nil
	}
	b := d.read(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// FixedBytes reads exactly n bytes.
func (d *Deserializer) FixedBytes(n int) []byte {
	b := d.read(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// Str reads a length-prefixed UTF-8 string.
func (d *Deserializer) Str() string {
	b := d.Bytes()
	if d.err != nil {
		return ""
	}
	if !utf8.Valid(b) {
		d.err = ErrInvalidUTF8
		return ""
	}
	return string(b)
}

// U128FromBig converts x to a 128-bit integer, failing on negative or
// oversized values instead of truncating.
func U128FromBig(x *big.Int) (uint128.Uint128, error) {
	if x.Sign() < 0 {
		return uint128.Uint128{}, errors.New("bcs: u128 underflow")
	}
	if x.Cmp(uint128.Max().Big()) > 0 {
		return uint128.Uint128{}, errors.New("bcs: u128 overflow")
	}
	return uint128.FromBig(x), nil
}
