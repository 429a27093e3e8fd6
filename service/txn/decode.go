package txn

import (
	"bytes"
	"fmt"

	"github.com/brojonat/aptostx/service/bcs"
)

// maxTypeTagDepth bounds vector and generic nesting while decoding.
const maxTypeTagDepth = 16

// DecodeSignedTransaction parses the submittable encoding produced by
// SignedTransaction.Bytes. Only the payload and authenticator variants this
// package can build are accepted. An all-zero signature decodes as a
// simulation authenticator.
func DecodeSignedTransaction(b []byte) (*SignedTransaction, error) {
	d := &decoder{d: bcs.NewDeserializer(b)}
	raw := d.rawTransaction()
	auth, secondaries := d.authenticator()
	if err := d.finish(); err != nil {
		return nil, err
	}

	var signable Signable = raw
	if auth.Kind == AuthenticatorMultiAgent {
		ma, err := BuildMultiAgent(raw, secondaries)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
		}
		signable = ma
	}
	return Assemble(signable, auth)
}

// decoder adds a sticky semantic error on top of bcs.Deserializer's own.
type decoder struct {
	d   *bcs.Deserializer
	err error
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: "+format, append([]any{ErrMalformedTransaction}, args...)...)
	}
}

func (d *decoder) ok() bool {
	return d.err == nil && d.d.Err() == nil
}

func (d *decoder) finish() error {
	if d.err != nil {
		return d.err
	}
	if err := d.d.Finish(); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedTransaction, err)
	}
	return nil
}

func (d *decoder) address() Address {
	var a Address
	copy(a[:], d.d.FixedBytes(AddressLength))
	return a
}

// length reads a sequence length and rejects values that cannot fit in the
// remaining input.
func (d *decoder) length() int {
	n := int(d.d.Uleb128())
	if d.ok() && n > d.d.Remaining() {
		d.fail("sequence length %d exceeds input", n)
		return 0
	}
	return n
}

func (d *decoder) rawTransaction() *RawTransaction {
	raw := &RawTransaction{}
	raw.Sender = d.address()
	raw.SequenceNumber = d.d.U64()
	raw.Payload = d.payload()
	raw.MaxGasAmount = d.d.U64()
	raw.GasUnitPrice = d.d.U64()
	raw.ExpirationTimestampSecs = d.d.U64()
	raw.ChainID = d.d.U8()
	return raw
}

func (d *decoder) payload() Payload {
	switch v := d.d.Uleb128(); v {
	case payloadScript:
		sc := &Script{Code: d.d.Bytes()}
		sc.TypeArgs = d.typeTags(0)
		n := d.length()
		sc.Args = make([]ScriptArgument, 0, n)
		for i := 0; i < n && d.ok(); i++ {
			sc.Args = append(sc.Args, d.scriptArgument())
		}
		return sc
	case payloadEntryFunction:
		f := &EntryFunction{}
		f.Module.Address = d.address()
		f.Module.Name = d.d.Str()
		f.Function = d.d.Str()
		f.TypeArgs = d.typeTags(0)
		n := d.length()
		f.Args = make([][]byte, 0, n)
		for i := 0; i < n && d.ok(); i++ {
			f.Args = append(f.Args, d.d.Bytes())
		}
		return f
	default:
		if d.ok() {
			d.fail("unsupported payload variant %d", v)
		}
		return nil
	}
}

func (d *decoder) typeTags(depth int) []TypeTag {
	n := d.length()
	tags := make([]TypeTag, 0, n)
	for i := 0; i < n && d.ok(); i++ {
		tags = append(tags, d.typeTag(depth))
	}
	return tags
}

func (d *decoder) typeTag(depth int) TypeTag {
	if depth > maxTypeTagDepth {
		d.fail("type tag nested deeper than %d", maxTypeTagDepth)
		return TypeTag{}
	}
	kind := TypeTagKind(d.d.Uleb128())
	switch kind {
	case TypeTagBool, TypeTagU8, TypeTagU16, TypeTagU32, TypeTagU64,
		TypeTagU128, TypeTagU256, TypeTagAddress, TypeTagSigner:
		return TypeTag{Kind: kind}
	case TypeTagVector:
		elem := d.typeTag(depth + 1)
		return TypeTag{Kind: kind, Elem: &elem}
	case TypeTagStruct:
		st := &StructTag{Address: d.address()}
		st.Module = d.d.Str()
		st.Name = d.d.Str()
		st.TypeArgs = d.typeTags(depth + 1)
		return TypeTag{Kind: kind, Struct: st}
	default:
		if d.ok() {
			d.fail("unknown type tag %d", kind)
		}
		return TypeTag{}
	}
}

func (d *decoder) scriptArgument() ScriptArgument {
	a := ScriptArgument{Kind: ScriptArgumentKind(d.d.Uleb128())}
	switch a.Kind {
	case ScriptArgU8:
		a.U8 = d.d.U8()
	case ScriptArgU64:
		a.U64 = d.d.U64()
	case ScriptArgAddress:
		a.Address = d.address()
	case ScriptArgU8Vector:
		a.Bytes = d.d.Bytes()
	case ScriptArgBool:
		a.Bool = d.d.Bool()
	default:
		if d.ok() {
			d.fail("unsupported script argument kind %d", a.Kind)
		}
	}
	return a
}

func (d *decoder) ed25519() *Ed25519Authenticator {
	pk := d.d.Bytes()
	sig := d.d.Bytes()
	if !d.ok() {
		return nil
	}
	a, err := NewEd25519Authenticator(pk, sig)
	if err != nil {
		d.fail("%v", err)
		return nil
	}
	a.simulation = bytes.Equal(sig, make([]byte, Ed25519SignatureLength))
	return a
}

func (d *decoder) accountAuthenticator() *Ed25519Authenticator {
	if v := d.d.Uleb128(); d.ok() && v != accountAuthenticatorEd25519 {
		d.fail("unsupported account authenticator variant %d", v)
		return nil
	}
	return d.ed25519()
}

// authenticator also returns the secondary addresses, which the wire form
// carries in the authenticator rather than the raw transaction.
func (d *decoder) authenticator() (*Authenticator, []Address) {
	kind := AuthenticatorKind(d.d.Uleb128())
	switch kind {
	case AuthenticatorEd25519:
		return &Authenticator{Kind: kind, Sender: d.ed25519()}, nil
	case AuthenticatorMultiAgent:
		auth := &Authenticator{Kind: kind, Sender: d.accountAuthenticator()}
		n := d.length()
		addrs := make([]Address, 0, n)
		for i := 0; i < n && d.ok(); i++ {
			addrs = append(addrs, d.address())
		}
		if m := d.length(); d.ok() && m != n {
			d.fail("%d secondary addresses but %d authenticators", n, m)
		}
		for i := 0; i < n && d.ok(); i++ {
			auth.Secondaries = append(auth.Secondaries, SecondarySigner{
				Address:       addrs[i],
				Authenticator: d.accountAuthenticator(),
			})
		}
		return auth, addrs
	default:
		if d.ok() {
			d.fail("unsupported authenticator variant %d", kind)
		}
		return &Authenticator{Kind: kind}, nil
	}
}
