package txn

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/brojonat/aptostx/service/bcs"
)

// TypeTagKind is the BCS variant index of a Move type tag.
type TypeTagKind uint32

const (
	TypeTagBool    TypeTagKind = 0
	TypeTagU8      TypeTagKind = 1
	TypeTagU64     TypeTagKind = 2
	TypeTagU128    TypeTagKind = 3
	TypeTagAddress TypeTagKind = 4
	TypeTagSigner  TypeTagKind = 5
	TypeTagVector  TypeTagKind = 6
	TypeTagStruct  TypeTagKind = 7
	TypeTagU16     TypeTagKind = 8
	TypeTagU32     TypeTagKind = 9
	TypeTagU256    TypeTagKind = 10
)

var primitiveTags = map[string]TypeTagKind{
	"bool":    TypeTagBool,
	"u8":      TypeTagU8,
	"u16":     TypeTagU16,
	"u32":     TypeTagU32,
	"u64":     TypeTagU64,
	"u128":    TypeTagU128,
	"u256":    TypeTagU256,
	"address": TypeTagAddress,
	"signer":  TypeTagSigner,
}

// TypeTag is a Move type argument. Elem is set for vectors and Struct for
// struct types.
type TypeTag struct {
	Kind   TypeTagKind
	Elem   *TypeTag
	Struct *StructTag
}

// StructTag names a Move struct, possibly generic.
type StructTag struct {
	Address  Address
	Module   string
	Name     string
	TypeArgs []TypeTag
}

// MarshalBCS implements bcs.Marshaler.
func (t TypeTag) MarshalBCS(s *bcs.Serializer) {
	s.Uleb128(uint32(t.Kind))
	switch t.Kind {
	case TypeTagVector:
		t.Elem.MarshalBCS(s)
	case TypeTagStruct:
		t.Struct.MarshalBCS(s)
	}
}

// MarshalBCS implements bcs.Marshaler.
func (t *StructTag) MarshalBCS(s *bcs.Serializer) {
	t.Address.MarshalBCS(s)
	s.Str(t.Module)
	s.Str(t.Name)
	bcs.SerializeSequence(s, t.TypeArgs)
}

func (t TypeTag) String() string {
	switch t.Kind {
	case TypeTagVector:
		return "vector<" + t.Elem.String() + ">"
	case TypeTagStruct:
		return t.Struct.String()
	}
	for name, kind := range primitiveTags {
		if kind == t.Kind {
			return name
		}
	}
	return fmt.Sprintf("unknown(%d)", t.Kind)
}

func (t *StructTag) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s::%s::%s", t.Address, t.Module, t.Name)
	if len(t.TypeArgs) > 0 {
		args := make([]string, len(t.TypeArgs))
		for i, a := range t.TypeArgs {
			args[i] = a.String()
		}
		b.WriteString("<" + strings.Join(args, ", ") + ">")
	}
	return b.String()
}

// ParseTypeTag parses tags such as "u64", "vector<u8>" or
// "0x1::coin::CoinStore<0x1::aptos_coin::AptosCoin>".
func ParseTypeTag(s string) (TypeTag, error) {
	if !utf8.ValidString(s) {
		return TypeTag{}, fmt.Errorf("%w: %q: not utf-8", ErrInvalidTypeTag, s)
	}
	p := &tagParser{in: strings.ReplaceAll(s, " ", "")}
	tag, err := p.parse()
	if err != nil {
		return TypeTag{}, fmt.Errorf("%w: %q: %v", ErrInvalidTypeTag, s, err)
	}
	if p.pos != len(p.in) {
		return TypeTag{}, fmt.Errorf("%w: %q: trailing input", ErrInvalidTypeTag, s)
	}
	return tag, nil
}

// MustParseTypeTag panics if s does not parse.
func MustParseTypeTag(s string) TypeTag {
	tag, err := ParseTypeTag(s)
	if err != nil {
		panic(err)
	}
	return tag
}

type tagParser struct {
	in  string
	pos int
}

func (p *tagParser) ident() string {
	start := p.pos
	for p.pos < len(p.in) {
		c := p.in[p.pos]
		if c == '<' || c == '>' || c == ',' || c == ':' {
			break
		}
		p.pos++
	}
	return p.in[start:p.pos]
}

func (p *tagParser) expect(tok string) error {
	if !strings.HasPrefix(p.in[p.pos:], tok) {
		return fmt.Errorf("expected %q at offset %d", tok, p.pos)
	}
	p.pos += len(tok)
	return nil
}

func (p *tagParser) parse() (TypeTag, error) {
	head := p.ident()
	if head == "" {
		return TypeTag{}, fmt.Errorf("empty identifier at offset %d", p.pos)
	}
	if kind, ok := primitiveTags[head]; ok {
		return TypeTag{Kind: kind}, nil
	}
	if head == "vector" {
		if err := p.expect("<"); err != nil {
			return TypeTag{}, err
		}
		elem, err := p.parse()
		if err != nil {
			return TypeTag{}, err
		}
		if err := p.expect(">"); err != nil {
			return TypeTag{}, err
		}
		return TypeTag{Kind: TypeTagVector, Elem: &elem}, nil
	}

	addr, err := ParseAddress(head)
	if err != nil {
		return TypeTag{}, err
	}
	if err := p.expect("::"); err != nil {
		return TypeTag{}, err
	}
	module := p.ident()
	if err := p.expect("::"); err != nil {
		return TypeTag{}, err
	}
	name := p.ident()
	if module == "" || name == "" {
		return TypeTag{}, fmt.Errorf("incomplete struct tag")
	}
	st := &StructTag{Address: addr, Module: module, Name: name}
	if p.pos < len(p.in) && p.in[p.pos] == '<' {
		p.pos++
		for {
			arg, err := p.parse()
			if err != nil {
				return TypeTag{}, err
			}
			st.TypeArgs = append(st.TypeArgs, arg)
			if p.pos < len(p.in) && p.in[p.pos] == ',' {
				p.pos++
				continue
			}
			break
		}
		if err := p.expect(">"); err != nil {
			return TypeTag{}, err
		}
	}
	return TypeTag{Kind: TypeTagStruct, Struct: st}, nil
}
