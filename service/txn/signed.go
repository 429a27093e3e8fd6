package txn

import (
	"encoding/hex"
	"fmt"

	"github.com/brojonat/aptostx/service/bcs"
	"golang.org/x/crypto/sha3"
)

// userTransactionVariant is the Transaction enum index of a user transaction.
const userTransactionVariant byte = 0

// SignedTransaction pairs a transaction with the authenticator covering it.
// Its BCS bytes are the request body for submission.
type SignedTransaction struct {
	Transaction   Signable
	Authenticator *Authenticator
}

// Assemble checks that auth is the right variant for txn and returns the
// signed transaction. Multi-agent signer order is checked again here.
func Assemble(txn Signable, auth *Authenticator) (*SignedTransaction, error) {
	if auth == nil || auth.Sender == nil {
		return nil, fmt.Errorf("%w: authenticator", ErrMissingSignature)
	}
	switch t := txn.(type) {
	case *RawTransaction:
		if auth.Kind != AuthenticatorEd25519 {
			return nil, fmt.Errorf("%w: %s authenticator on single-signer transaction", ErrAuthenticatorMismatch, auth.Kind)
		}
	case *MultiAgentRawTransaction:
		if auth.Kind != AuthenticatorMultiAgent {
			return nil, fmt.Errorf("%w: %s authenticator on multi-agent transaction", ErrAuthenticatorMismatch, auth.Kind)
		}
		if err := checkSecondaries(t, auth.Secondaries); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrAuthenticatorMismatch, txn)
	}
	return &SignedTransaction{Transaction: txn, Authenticator: auth}, nil
}

// MarshalBCS writes raw || authenticator. Secondary addresses of a
// multi-agent transaction live in the authenticator, not the raw part.
func (t *SignedTransaction) MarshalBCS(s *bcs.Serializer) {
	t.Transaction.Raw().MarshalBCS(s)
	t.Authenticator.MarshalBCS(s)
}

// Bytes returns the submittable encoding.
func (t *SignedTransaction) Bytes() []byte {
	return bcs.Serialize(t)
}

// IsSimulation reports whether t carries a zero-signature authenticator.
func (t *SignedTransaction) IsSimulation() bool {
	return t.Authenticator.IsSimulation()
}

// Hash is the transaction hash the network assigns:
// sha3(sha3("APTOS::Transaction") || 0x00 || bytes), 0x-prefixed hex.
func (t *SignedTransaction) Hash() string {
	h := sha3.New256()
	h.Write(transactionSalt[:])
	h.Write([]byte{userTransactionVariant})
	h.Write(t.Bytes())
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
