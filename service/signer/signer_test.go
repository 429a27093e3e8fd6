package signer

import (
	"context"
	"crypto/ed25519"
	"errors"
	"strings"
	"testing"

	"github.com/brojonat/aptostx/service/txn"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromHex(t *testing.T) {
	seed := strings.Repeat("00", 31) + "01"

	k, err := FromHex("0x" + seed)
	require.NoError(t, err)
	assert.Equal(t, "0x"+seed, k.SeedHex())
	assert.Equal(t, txn.AddressFromPublicKey(k.PublicKey()), k.Address())

	bare, err := FromHex(seed)
	require.NoError(t, err)
	assert.Equal(t, k.PublicKey(), bare.PublicKey())

	_, err = FromHex("0x1234")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = FromHex("zz")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestFromBase58(t *testing.T) {
	orig, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	k, err := FromBase58(orig.String())
	require.NoError(t, err)
	pub := orig.PublicKey()
	assert.Equal(t, pub[:], k.PublicKey())
	assert.Equal(t, orig.String(), k.Base58())

	parsed, err := Parse(orig.String())
	require.NoError(t, err)
	assert.Equal(t, k.Address(), parsed.Address())

	_, err = FromBase58("not base58 0OIl")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestEd25519_Sign(t *testing.T) {
	k, err := Generate()
	require.NoError(t, err)

	msg := []byte("preimage")
	sig, err := k.Sign(context.Background(), msg)
	require.NoError(t, err)
	assert.Len(t, sig, txn.Ed25519SignatureLength)
	assert.True(t, ed25519.Verify(k.PublicKey(), msg, sig))
}

type stubSigner struct {
	addr txn.Address
	sig  []byte
	err  error
}

func (s *stubSigner) PublicKey() []byte { return make([]byte, txn.Ed25519PublicKeyLength) }
func (s *stubSigner) Address() txn.Address { return s.addr }
func (s *stubSigner) Sign(ctx context.Context, _ []byte) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.sig, nil
}

func TestCollectSecondary(t *testing.T) {
	keys := make([]Signer, 4)
	for i := range keys {
		k, err := Generate()
		require.NoError(t, err)
		keys[i] = k
	}
	msg := []byte("shared preimage")

	got, err := CollectSecondary(context.Background(), msg, keys)
	require.NoError(t, err)
	require.Len(t, got, len(keys))
	for i, s := range got {
		assert.Equal(t, keys[i].Address(), s.Address, "order must follow signers")
		assert.True(t, ed25519.Verify(keys[i].PublicKey(), msg, s.Authenticator.Signature))
	}
	assert.Equal(t, Addresses(keys), []txn.Address{got[0].Address, got[1].Address, got[2].Address, got[3].Address})
}

func TestCollectSecondary_Failures(t *testing.T) {
	good, err := Generate()
	require.NoError(t, err)
	boom := errors.New("hsm offline")

	tests := []struct {
		name    string
		signer  Signer
		wantErr error
	}{
		{"signer error", &stubSigner{addr: txn.MustParseAddress("0xb"), err: boom}, boom},
		{"missing signature", &stubSigner{addr: txn.MustParseAddress("0xb")}, ErrNoSignature},
		{"short signature", &stubSigner{addr: txn.MustParseAddress("0xb"), sig: []byte{1}}, txn.ErrInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CollectSecondary(context.Background(), []byte("m"), []Signer{good, tt.signer})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, got)
		})
	}
}
