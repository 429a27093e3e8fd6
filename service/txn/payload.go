package txn

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/brojonat/aptostx/service/bcs"
)

// Payload variant indices of TransactionPayload.
const (
	payloadScript        uint32 = 0
	payloadEntryFunction uint32 = 2
)

// Payload is what a transaction executes. It is a closed set: EntryFunction
// and Script.
type Payload interface {
	bcs.Marshaler
	payloadVariant() uint32
}

// ModuleID identifies a published Move module.
type ModuleID struct {
	Address Address
	Name    string
}

// MarshalBCS implements bcs.Marshaler.
func (m ModuleID) MarshalBCS(s *bcs.Serializer) {
	m.Address.MarshalBCS(s)
	s.Str(m.Name)
}

func (m ModuleID) String() string {
	return m.Address.String() + "::" + m.Name
}

// EntryFunction calls a public entry function. Args are individually
// BCS-encoded argument values; the caller is responsible for encoding each
// one according to the function signature.
type EntryFunction struct {
	Module   ModuleID
	Function string
	TypeArgs []TypeTag
	Args     [][]byte
}

func (*EntryFunction) payloadVariant() uint32 { return payloadEntryFunction }

// MarshalBCS writes the TransactionPayload variant index followed by the
// entry function body.
func (f *EntryFunction) MarshalBCS(s *bcs.Serializer) {
	s.Uleb128(payloadEntryFunction)
	f.Module.MarshalBCS(s)
	s.Str(f.Function)
	bcs.SerializeSequence(s, f.TypeArgs)
	bcs.SerializeSequenceWith(s, f.Args, (*bcs.Serializer).Bytes)
}

// ParseFunctionID splits "0x1::aptos_account::transfer" into module and
// function name.
func ParseFunctionID(id string) (ModuleID, string, error) {
	if !utf8.ValidString(id) {
		return ModuleID{}, "", fmt.Errorf("invalid function id %q: not utf-8", id)
	}
	parts := strings.Split(id, "::")
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return ModuleID{}, "", fmt.Errorf("invalid function id %q", id)
	}
	addr, err := ParseAddress(parts[0])
	if err != nil {
		return ModuleID{}, "", err
	}
	return ModuleID{Address: addr, Name: parts[1]}, parts[2], nil
}

// NewEntryFunction builds an entry function payload from a function id and
// type argument strings.
func NewEntryFunction(functionID string, typeArgs []string, args [][]byte) (*EntryFunction, error) {
	module, fn, err := ParseFunctionID(functionID)
	if err != nil {
		return nil, err
	}
	tags := make([]TypeTag, 0, len(typeArgs))
	for _, ta := range typeArgs {
		tag, err := ParseTypeTag(ta)
		if err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return &EntryFunction{Module: module, Function: fn, TypeArgs: tags, Args: args}, nil
}

// Script executes compiled Move bytecode. Arguments use the
// TransactionArgument encoding rather than raw bytes.
type Script struct {
	Code     []byte
	TypeArgs []TypeTag
	Args     []ScriptArgument
}

func (*Script) payloadVariant() uint32 { return payloadScript }

// MarshalBCS implements bcs.Marshaler.
func (sc *Script) MarshalBCS(s *bcs.Serializer) {
	s.Uleb128(payloadScript)
	s.Bytes(sc.Code)
	bcs.SerializeSequence(s, sc.TypeArgs)
	bcs.SerializeSequence(s, sc.Args)
}

// ScriptArgumentKind is the TransactionArgument variant index.
type ScriptArgumentKind uint32

const (
	ScriptArgU8       ScriptArgumentKind = 0
	ScriptArgU64      ScriptArgumentKind = 1
	ScriptArgAddress  ScriptArgumentKind = 3
	ScriptArgU8Vector ScriptArgumentKind = 4
	ScriptArgBool     ScriptArgumentKind = 5
)

// ScriptArgument is one typed script argument. Only the field matching Kind
// is written.
type ScriptArgument struct {
	Kind    ScriptArgumentKind
	U8      uint8
	U64     uint64
	Address Address
	Bytes   []byte
	Bool    bool
}

// MarshalBCS implements bcs.Marshaler.
func (a ScriptArgument) MarshalBCS(s *bcs.Serializer) {
	s.Uleb128(uint32(a.Kind))
	switch a.Kind {
	case ScriptArgU8:
		s.U8(a.U8)
	case ScriptArgU64:
		s.U64(a.U64)
	case ScriptArgAddress:
		a.Address.MarshalBCS(s)
	case ScriptArgU8Vector:
		s.Bytes(a.Bytes)
	case ScriptArgBool:
		s.Bool(a.Bool)
	default:
		panic(fmt.Sprintf("txn: unsupported script argument kind %d", a.Kind))
	}
}

// AptosCoinType is the native coin type tag.
const AptosCoinType = "0x1::aptos_coin::AptosCoin"

// TransferPayload builds 0x1::aptos_account::transfer(to, amount).
func TransferPayload(to Address, amount uint64) *EntryFunction {
	return &EntryFunction{
		Module:   ModuleID{Address: AddressOne, Name: "aptos_account"},
		Function: "transfer",
		TypeArgs: []TypeTag{},
		Args:     [][]byte{bcs.Serialize(to), bcs.SerializeU64(amount)},
	}
}

// CoinTransferPayload builds 0x1::aptos_account::transfer_coins<coinType>(to, amount).
func CoinTransferPayload(coinType string, to Address, amount uint64) (*EntryFunction, error) {
	tag, err := ParseTypeTag(coinType)
	if err != nil {
		return nil, err
	}
	return &EntryFunction{
		Module:   ModuleID{Address: AddressOne, Name: "aptos_account"},
		Function: "transfer_coins",
		TypeArgs: []TypeTag{tag},
		Args:     [][]byte{bcs.Serialize(to), bcs.SerializeU64(amount)},
	}, nil
}
