// Package signer provides the signing capability used by the pipeline: a
// Signer interface, a local Ed25519 implementation and concurrent collection
// of secondary signatures for multi-agent transactions.
package signer

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/brojonat/aptostx/service/txn"
	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInvalidKey = errors.New("invalid private key")
	// ErrNoSignature is returned when a signer produced no error and no signature.
	ErrNoSignature = errors.New("signer returned no signature")
)

// Signer signs preimages on behalf of one account.
type Signer interface {
	PublicKey() []byte
	Address() txn.Address
	Sign(ctx context.Context, msg []byte) ([]byte, error)
}

// Ed25519 is an in-memory Ed25519 key. The key type is shared with the
// solana-go library since both networks use plain Ed25519.
type Ed25519 struct {
	key     solana.PrivateKey
	address txn.Address
}

// Generate returns a fresh random key.
func Generate() (*Ed25519, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return newEd25519(key), nil
}

// FromHex accepts a 32-byte seed or a 64-byte expanded key, with or without
// the 0x prefix. This is the format the Aptos CLI writes.
func FromHex(s string) (*Ed25519, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return newEd25519(solana.PrivateKey(ed25519.NewKeyFromSeed(raw))), nil
	case ed25519.PrivateKeySize:
		return fromExpanded(raw)
	default:
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKey, len(raw))
	}
}

// FromBase58 accepts a base58 encoded 64-byte key.
func FromBase58(s string) (*Ed25519, error) {
	key, err := solana.PrivateKeyFromBase58(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return fromExpanded(key)
}

// Parse tries hex first, then base58.
func Parse(s string) (*Ed25519, error) {
	if k, err := FromHex(s); err == nil {
		return k, nil
	}
	return FromBase58(s)
}

func fromExpanded(raw []byte) (*Ed25519, error) {
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKey, len(raw))
	}
	// The trailing half must be the public key of the seed.
	expected := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if !expected.Equal(ed25519.PrivateKey(raw)) {
		return nil, fmt.Errorf("%w: public half does not match seed", ErrInvalidKey)
	}
	return newEd25519(solana.PrivateKey(expected)), nil
}

func newEd25519(key solana.PrivateKey) *Ed25519 {
	pub := key.PublicKey()
	return &Ed25519{key: key, address: txn.AddressFromPublicKey(pub[:])}
}

func (k *Ed25519) PublicKey() []byte {
	pub := k.key.PublicKey()
	return pub[:]
}

func (k *Ed25519) Address() txn.Address {
	return k.address
}

func (k *Ed25519) Sign(_ context.Context, msg []byte) ([]byte, error) {
	sig, err := k.key.Sign(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return sig[:], nil
}

// SeedHex returns the 32-byte seed as 0x-prefixed hex.
func (k *Ed25519) SeedHex() string {
	return "0x" + hex.EncodeToString(k.key[:ed25519.SeedSize])
}

// Base58 returns the 64-byte expanded key in base58, as FromBase58 reads it.
func (k *Ed25519) Base58() string {
	return k.key.String()
}

// Authenticate signs msg with s and wraps the result.
func Authenticate(ctx context.Context, s Signer, msg []byte) (*txn.Ed25519Authenticator, error) {
	sig, err := s.Sign(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("signer %s: %w", s.Address(), err)
	}
	if len(sig) == 0 {
		return nil, fmt.Errorf("signer %s: %w", s.Address(), ErrNoSignature)
	}
	return txn.NewEd25519Authenticator(s.PublicKey(), sig)
}

// Addresses returns the addresses of signers in order.
func Addresses(signers []Signer) []txn.Address {
	out := make([]txn.Address, len(signers))
	for i, s := range signers {
		out[i] = s.Address()
	}
	return out
}

// CollectSecondary has every signer sign msg concurrently and returns the
// results in signer order. It fails if any signer fails or returns nothing;
// no partial result is returned.
func CollectSecondary(ctx context.Context, msg []byte, signers []Signer) ([]txn.SecondarySigner, error) {
	out := make([]txn.SecondarySigner, len(signers))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range signers {
		g.Go(func() error {
			auth, err := Authenticate(gctx, s, msg)
			if err != nil {
				return err
			}
			out[i] = txn.SecondarySigner{Address: s.Address(), Authenticator: auth}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
