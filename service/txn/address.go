package txn

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/brojonat/aptostx/service/bcs"
	"golang.org/x/crypto/sha3"
)

// AddressLength is the size of an account address in bytes.
const AddressLength = 32

// ed25519Scheme is the authentication key scheme byte for single Ed25519 keys.
const ed25519Scheme byte = 0x00

// Address is an Aptos account address. It encodes as 32 raw bytes with no
// length prefix.
type Address [AddressLength]byte

// Well-known framework addresses.
var (
	AddressOne   = mustShort(0x1)
	AddressThree = mustShort(0x3)
)

func mustShort(b byte) Address {
	var a Address
	a[AddressLength-1] = b
	return a
}

// ParseAddress parses a hex address with or without the 0x prefix. Short
// forms such as "0x1" are left-padded with zeros.
func ParseAddress(s string) (Address, error) {
	var a Address
	h := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if h == "" || len(h) > AddressLength*2 {
		return a, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	if len(h)%2 == 1 {
		h = "0" + h
	}
	raw, err := hex.DecodeString(h)
	if err != nil {
		return a, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	copy(a[AddressLength-len(raw):], raw)
	return a, nil
}

// MustParseAddress is like ParseAddress but panics on error. Only for
// constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// AddressFromPublicKey derives the address of a single-key Ed25519 account:
// sha3-256(public key || scheme).
func AddressFromPublicKey(publicKey []byte) Address {
	h := sha3.New256()
	h.Write(publicKey)
	h.Write([]byte{ed25519Scheme})
	var a Address
	copy(a[:], h.Sum(nil))
	return a
}

// String returns the long 0x-prefixed form.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// MarshalBCS implements bcs.Marshaler.
func (a Address) MarshalBCS(s *bcs.Serializer) {
	s.FixedBytes(a[:])
}

// MarshalText lets addresses appear as strings in JSON.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
