package txn

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/brojonat/aptostx/service/bcs"
	"github.com/holiman/uint256"
)

// ParseArgument encodes a "type:value" argument for an entry function call.
// Supported types are u8, u16, u32, u64, u128, u256, bool, address, string
// and hex (a vector<u8> given as hex).
func ParseArgument(arg string) ([]byte, error) {
	kind, value, ok := strings.Cut(arg, ":")
	if !ok {
		return nil, fmt.Errorf("%w: %q is not type:value", ErrInvalidArgument, arg)
	}

	var s bcs.Serializer
	switch kind {
	case "u8", "u16", "u32", "u64":
		bits, _ := strconv.Atoi(kind[1:])
		n, err := strconv.ParseUint(value, 10, bits)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArgument, kind, err)
		}
		switch bits {
		case 8:
			s.U8(uint8(n))
		case 16:
			s.U16(uint16(n))
		case 32:
			s.U32(uint32(n))
		default:
			s.U64(n)
		}
	case "u128":
		x, ok := new(big.Int).SetString(value, 10)
		if !ok {
			return nil, fmt.Errorf("%w: u128: %q", ErrInvalidArgument, value)
		}
		v, err := bcs.U128FromBig(x)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		s.U128(v)
	case "u256":
		v, err := uint256.FromDecimal(value)
		if err != nil {
			return nil, fmt.Errorf("%w: u256: %v", ErrInvalidArgument, err)
		}
		s.U256(v)
	case "bool":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%w: bool: %v", ErrInvalidArgument, err)
		}
		s.Bool(b)
	case "address":
		a, err := ParseAddress(value)
		if err != nil {
			return nil, err
		}
		a.MarshalBCS(&s)
	case "string":
		if !utf8.ValidString(value) {
			return nil, fmt.Errorf("%w: string: invalid utf-8", ErrInvalidArgument)
		}
		s.Str(value)
	case "hex":
		b, err := hex.DecodeString(strings.TrimPrefix(value, "0x"))
		if err != nil {
			return nil, fmt.Errorf("%w: hex: %v", ErrInvalidArgument, err)
		}
		s.Bytes(b)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidArgument, kind)
	}
	return s.ToBytes(), nil
}

// ParseArguments encodes each of args with ParseArgument.
func ParseArguments(args []string) ([][]byte, error) {
	out := make([][]byte, len(args))
	for i, a := range args {
		b, err := ParseArgument(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}
