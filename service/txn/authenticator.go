package txn

import (
	"bytes"
	"fmt"

	"github.com/brojonat/aptostx/service/bcs"
)

const (
	Ed25519PublicKeyLength = 32
	Ed25519SignatureLength = 64
)

// AuthenticatorKind is the TransactionAuthenticator variant index.
type AuthenticatorKind uint32

const (
	AuthenticatorEd25519    AuthenticatorKind = 0
	AuthenticatorMultiAgent AuthenticatorKind = 2
)

func (k AuthenticatorKind) String() string {
	switch k {
	case AuthenticatorEd25519:
		return "ed25519"
	case AuthenticatorMultiAgent:
		return "multi_agent"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(k))
	}
}

// accountAuthenticatorEd25519 is the AccountAuthenticator variant index used
// for each signer inside a multi-agent authenticator.
const accountAuthenticatorEd25519 uint32 = 0

// Ed25519Authenticator is a single (public key, signature) pair.
type Ed25519Authenticator struct {
	PublicKey []byte
	Signature []byte

	simulation bool
}

// NewEd25519Authenticator checks key and signature lengths. No signature
// verification happens here; the network does that.
func NewEd25519Authenticator(publicKey, signature []byte) (*Ed25519Authenticator, error) {
	if len(publicKey) != Ed25519PublicKeyLength {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidPublicKey, len(publicKey))
	}
	if len(signature) != Ed25519SignatureLength {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidSignature, len(signature))
	}
	return &Ed25519Authenticator{
		PublicKey: bytes.Clone(publicKey),
		Signature: bytes.Clone(signature),
	}, nil
}

// MarshalBCS writes the public key and signature as byte sequences.
func (a *Ed25519Authenticator) MarshalBCS(s *bcs.Serializer) {
	s.Bytes(a.PublicKey)
	s.Bytes(a.Signature)
}

// IsSimulation reports whether a carries a placeholder zero signature.
func (a *Ed25519Authenticator) IsSimulation() bool {
	return a.simulation
}

// SecondarySigner pairs a secondary signer address with its authenticator.
type SecondarySigner struct {
	Address       Address
	Authenticator *Ed25519Authenticator
}

// Authenticator is the TransactionAuthenticator attached to a signed
// transaction. Secondaries is only set for AuthenticatorMultiAgent.
type Authenticator struct {
	Kind        AuthenticatorKind
	Sender      *Ed25519Authenticator
	Secondaries []SecondarySigner
}

// SingleSigner returns an Ed25519 transaction authenticator.
func SingleSigner(publicKey, signature []byte) (*Authenticator, error) {
	a, err := NewEd25519Authenticator(publicKey, signature)
	if err != nil {
		return nil, err
	}
	return &Authenticator{Kind: AuthenticatorEd25519, Sender: a}, nil
}

// MultiAgent returns a multi-agent authenticator for txn. The secondary
// signers must line up one to one, in order, with txn.SecondaryAddresses.
func MultiAgent(txn *MultiAgentRawTransaction, sender *Ed25519Authenticator, secondaries []SecondarySigner) (*Authenticator, error) {
	if sender == nil {
		return nil, fmt.Errorf("%w: sender", ErrMissingSignature)
	}
	if err := checkSecondaries(txn, secondaries); err != nil {
		return nil, err
	}
	signers := make([]SecondarySigner, len(secondaries))
	copy(signers, secondaries)
	return &Authenticator{Kind: AuthenticatorMultiAgent, Sender: sender, Secondaries: signers}, nil
}

func checkSecondaries(txn *MultiAgentRawTransaction, secondaries []SecondarySigner) error {
	if len(secondaries) != len(txn.SecondaryAddresses) {
		return fmt.Errorf("%w: transaction declares %d, got %d",
			ErrSignerCountMismatch, len(txn.SecondaryAddresses), len(secondaries))
	}
	for i, signer := range secondaries {
		if signer.Address != txn.SecondaryAddresses[i] {
			return fmt.Errorf("%w: position %d is %s, want %s",
				ErrSignerOrderMismatch, i, signer.Address, txn.SecondaryAddresses[i])
		}
		if signer.Authenticator == nil {
			return fmt.Errorf("%w: secondary signer %s", ErrMissingSignature, signer.Address)
		}
	}
	return nil
}

// SimulationAuthenticator returns a single-signer authenticator with an
// all-zero signature for fee estimation. It is rejected by submission.
func SimulationAuthenticator(publicKey []byte) (*Authenticator, error) {
	a, err := simulationSigner(publicKey)
	if err != nil {
		return nil, err
	}
	return &Authenticator{Kind: AuthenticatorEd25519, Sender: a}, nil
}

// SimulationMultiAgent is the multi-agent counterpart of
// SimulationAuthenticator. secondaryKeys follow txn.SecondaryAddresses order.
func SimulationMultiAgent(txn *MultiAgentRawTransaction, senderKey []byte, secondaryKeys [][]byte) (*Authenticator, error) {
	sender, err := simulationSigner(senderKey)
	if err != nil {
		return nil, err
	}
	if len(secondaryKeys) != len(txn.SecondaryAddresses) {
		return nil, fmt.Errorf("%w: transaction declares %d, got %d",
			ErrSignerCountMismatch, len(txn.SecondaryAddresses), len(secondaryKeys))
	}
	secondaries := make([]SecondarySigner, len(secondaryKeys))
	for i, key := range secondaryKeys {
		a, err := simulationSigner(key)
		if err != nil {
			return nil, err
		}
		secondaries[i] = SecondarySigner{Address: txn.SecondaryAddresses[i], Authenticator: a}
	}
	return MultiAgent(txn, sender, secondaries)
}

func simulationSigner(publicKey []byte) (*Ed25519Authenticator, error) {
	a, err := NewEd25519Authenticator(publicKey, make([]byte, Ed25519SignatureLength))
	if err != nil {
		return nil, err
	}
	a.simulation = true
	return a, nil
}

// IsSimulation reports whether any signer in a is a simulation placeholder.
func (a *Authenticator) IsSimulation() bool {
	if a.Sender != nil && a.Sender.IsSimulation() {
		return true
	}
	for _, s := range a.Secondaries {
		if s.Authenticator != nil && s.Authenticator.IsSimulation() {
			return true
		}
	}
	return false
}

// MarshalBCS writes the variant index followed by the variant fields.
func (a *Authenticator) MarshalBCS(s *bcs.Serializer) {
	s.Uleb128(uint32(a.Kind))
	switch a.Kind {
	case AuthenticatorEd25519:
		a.Sender.MarshalBCS(s)
	case AuthenticatorMultiAgent:
		s.Uleb128(accountAuthenticatorEd25519)
		a.Sender.MarshalBCS(s)
		bcs.SerializeSequenceWith(s, a.Secondaries, func(s *bcs.Serializer, signer SecondarySigner) {
			signer.Address.MarshalBCS(s)
		})
		bcs.SerializeSequenceWith(s, a.Secondaries, func(s *bcs.Serializer, signer SecondarySigner) {
			s.Uleb128(accountAuthenticatorEd25519)
			signer.Authenticator.MarshalBCS(s)
		})
	default:
		panic(fmt.Sprintf("txn: unsupported authenticator kind %d", a.Kind))
	}
}
