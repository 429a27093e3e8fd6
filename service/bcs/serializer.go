// Package bcs implements the Binary Canonical Serialization format used by
// Aptos to derive signing preimages and submittable transaction bytes.
//
// Encoding is deterministic: integers are fixed-width little-endian, lengths
// and enum variant indices are ULEB128, sequences are a length followed by
// their elements in order. Structs have no framing; their fields are written
// in declaration order.
package bcs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/Pilatuz/bigz/uint128"
	"github.com/holiman/uint256"
)

// MaxSequenceLength is the largest length prefix BCS accepts.
const MaxSequenceLength = 1<<31 - 1

// Marshaler is implemented by values that know how to write themselves.
type Marshaler interface {
	MarshalBCS(s *Serializer)
}

// Serializer accumulates BCS output. The zero value is ready to use.
type Serializer struct {
	out bytes.Buffer
}

// U8 writes a single byte.
func (s *Serializer) U8(v uint8) {
	s.out.WriteByte(v)
}

// U16 writes a little-endian uint16.
func (s *Serializer) U16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	s.out.Write(b[:])
}

// U32 writes a little-endian uint32.
func (s *Serializer) U32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	s.out.Write(b[:])
}

// U64 writes a little-endian uint64.
func (s *Serializer) U64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	s.out.Write(b[:])
}

// U128 writes a little-endian 128-bit integer.
func (s *Serializer) U128(v uint128.Uint128) {
	var b [16]byte
	uint128.StoreLittleEndian(b[:], v)
	s.out.Write(b[:])
}

// U256 writes a little-endian 256-bit integer.
func (s *Serializer) U256(v *uint256.Int) {
	// uint256.Int stores its limbs least significant first.
	for _, limb := range v {
		s.U64(limb)
	}
}

// Bool writes 0x01 for true and 0x00 for false.
func (s *Serializer) Bool(v bool) {
	if v {
		s.U8(1)
		return
	}
	s.U8(0)
}

// Uleb128 writes an unsigned LEB128 value. It is used for sequence lengths
// and enum variant indices.
func (s *Serializer) Uleb128(v uint32) {
	for v >= 0x80 {
		s.out.WriteByte(byte(v&0x7f) | 0x80)
		v >>= 7
	}
	s.out.WriteByte(byte(v))
}

// Length writes a sequence length prefix. Lengths beyond MaxSequenceLength
// are a programming error and panic.
func (s *Serializer) Length(n int) {
	if n < 0 || n > MaxSequenceLength {
		panic(fmt.Sprintf("bcs: sequence length %d out of range", n))
	}
	s.Uleb128(uint32(n))
}

// Bytes writes a length-prefixed byte sequence.
func (s *Serializer) Bytes(v []byte) {
	s.Length(len(v))
	s.out.Write(v)
}

// FixedBytes writes v verbatim, without a length prefix. Used for values with
// a statically known size such as account addresses.
func (s *Serializer) FixedBytes(v []byte) {
	s.out.Write(v)
}

// Str writes a length-prefixed UTF-8 string. Invalid UTF-8 panics; callers
// validate untrusted text first.
func (s *Serializer) Str(v string) {
	if !utf8.ValidString(v) {
		panic(fmt.Sprintf("bcs: invalid utf-8 string %q", v))
	}
	s.Length(len(v))
	s.out.WriteString(v)
}

// Struct writes a nested value.
func (s *Serializer) Struct(v Marshaler) {
	v.MarshalBCS(s)
}

// ToBytes returns a copy of everything written so far.
func (s *Serializer) ToBytes() []byte {
	return bytes.Clone(s.out.Bytes())
}

// SerializeSequence writes a length-prefixed sequence of marshalers.
// An empty sequence is the single byte 0x00.
func SerializeSequence[T Marshaler](s *Serializer, items []T) {
	s.Length(len(items))
	for _, item := range items {
		item.MarshalBCS(s)
	}
}

// SerializeSequenceWith writes a length-prefixed sequence using fn for each
// element. It covers element types that are not Marshalers, such as [][]byte.
func SerializeSequenceWith[T any](s *Serializer, items []T, fn func(*Serializer, T)) {
	s.Length(len(items))
	for _, item := range items {
		fn(s, item)
	}
}

// Serialize encodes a single value.
func Serialize(v Marshaler) []byte {
	var s Serializer
	v.MarshalBCS(&s)
	return s.ToBytes()
}

// SerializeU64 encodes a u64 on its own. Entry function arguments are
// passed as individually encoded byte strings, so this is the common case.
func SerializeU64(v uint64) []byte {
	var s Serializer
	s.U64(v)
	return s.ToBytes()
}

// SerializeBool encodes a bool on its own.
func SerializeBool(v bool) []byte {
	var s Serializer
	s.Bool(v)
	return s.ToBytes()
}

// SerializeStr encodes a string on its own.
func SerializeStr(v string) []byte {
	var s Serializer
	s.Str(v)
	return s.ToBytes()
}
