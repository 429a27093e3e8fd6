package txn

import (
	"github.com/brojonat/aptostx/service/bcs"
	"golang.org/x/crypto/sha3"
)

// rawTransactionWithDataMultiAgent is the RawTransactionWithData variant index.
const rawTransactionWithDataMultiAgent uint32 = 0

var (
	singleSignerSalt = domainTag("APTOS::RawTransaction")
	multiAgentSalt   = domainTag("APTOS::RawTransactionWithData")
	transactionSalt  = domainTag("APTOS::Transaction")
)

func domainTag(name string) [32]byte {
	return sha3.Sum256([]byte(name))
}

// Signable is a transaction that can be signed: a plain RawTransaction or a
// MultiAgentRawTransaction.
type Signable interface {
	// SigningMessage returns the exact bytes every signer signs.
	SigningMessage() []byte
	// Raw returns the underlying raw transaction.
	Raw() *RawTransaction
}

// SigningMessage is sha3("APTOS::RawTransaction") || bcs(raw).
func (t *RawTransaction) SigningMessage() []byte {
	var s bcs.Serializer
	s.FixedBytes(singleSignerSalt[:])
	t.MarshalBCS(&s)
	return s.ToBytes()
}

// SigningMessage is sha3("APTOS::RawTransactionWithData") followed by the
// MultiAgent variant: raw || secondary addresses. The distinct salt keeps a
// multi-agent preimage from ever equalling a single-signer one.
func (t *MultiAgentRawTransaction) SigningMessage() []byte {
	var s bcs.Serializer
	s.FixedBytes(multiAgentSalt[:])
	s.Uleb128(rawTransactionWithDataMultiAgent)
	t.Txn.MarshalBCS(&s)
	bcs.SerializeSequence(&s, t.SecondaryAddresses)
	return s.ToBytes()
}

// Preimage returns the bytes to sign for txn.
func Preimage(txn Signable) []byte {
	return txn.SigningMessage()
}
