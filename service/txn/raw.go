// Package txn builds Aptos transactions: raw transactions, their signing
// preimages, authenticators and the signed form that is submitted.
//
// Nothing in this package performs I/O. Sequence numbers and chain ids are
// fetched by the caller and passed in.
package txn

import (
	"fmt"
	"time"

	"github.com/brojonat/aptostx/service/bcs"
)

// Defaults used when the caller does not set gas or expiration.
const (
	DefaultMaxGasAmount  uint64 = 2000
	DefaultGasUnitPrice  uint64 = 100
	DefaultExpirationTTL        = 600 * time.Second
)

// RawTransaction is an unsigned user transaction. Treat it as immutable once
// built; the signing preimage is derived from its fields.
type RawTransaction struct {
	Sender                  Address
	SequenceNumber          uint64
	Payload                 Payload
	MaxGasAmount            uint64
	GasUnitPrice            uint64
	ExpirationTimestampSecs uint64
	ChainID                 uint8
}

// BuildParams are the inputs to Build. Sender is the textual address as
// supplied by the caller.
type BuildParams struct {
	Sender                  string
	SequenceNumber          uint64
	Payload                 Payload
	MaxGasAmount            uint64
	GasUnitPrice            uint64
	ExpirationTimestampSecs uint64
	ChainID                 uint8
}

// Build validates the sender address and assembles a RawTransaction. It does
// not check the sequence number against chain state.
func Build(p BuildParams) (*RawTransaction, error) {
	sender, err := ParseAddress(p.Sender)
	if err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}
	return NewRawTransaction(sender, p.SequenceNumber, p.Payload, p.MaxGasAmount, p.GasUnitPrice, p.ExpirationTimestampSecs, p.ChainID)
}

// NewRawTransaction assembles a RawTransaction from typed fields.
func NewRawTransaction(
	sender Address,
	sequenceNumber uint64,
	payload Payload,
	maxGasAmount uint64,
	gasUnitPrice uint64,
	expirationTimestampSecs uint64,
	chainID uint8,
) (*RawTransaction, error) {
	if payload == nil {
		return nil, ErrNilPayload
	}
	return &RawTransaction{
		Sender:                  sender,
		SequenceNumber:          sequenceNumber,
		Payload:                 payload,
		MaxGasAmount:            maxGasAmount,
		GasUnitPrice:            gasUnitPrice,
		ExpirationTimestampSecs: expirationTimestampSecs,
		ChainID:                 chainID,
	}, nil
}

// ExpirationFrom returns now+ttl in unix seconds.
func ExpirationFrom(now time.Time, ttl time.Duration) uint64 {
	return uint64(now.Add(ttl).Unix())
}

// MarshalBCS writes the fields in declaration order.
func (t *RawTransaction) MarshalBCS(s *bcs.Serializer) {
	t.Sender.MarshalBCS(s)
	s.U64(t.SequenceNumber)
	t.Payload.MarshalBCS(s)
	s.U64(t.MaxGasAmount)
	s.U64(t.GasUnitPrice)
	s.U64(t.ExpirationTimestampSecs)
	s.U8(t.ChainID)
}

// Raw returns t itself. It lets single-signer and multi-agent transactions
// share the Signable interface.
func (t *RawTransaction) Raw() *RawTransaction {
	return t
}

// MultiAgentRawTransaction is a raw transaction plus the ordered list of
// secondary signers whose authorization it requires.
type MultiAgentRawTransaction struct {
	Txn                *RawTransaction
	SecondaryAddresses []Address
}

// BuildMultiAgent wraps raw with secondary signer addresses. The list must be
// non-empty and may not repeat an address or contain the sender. Order is
// kept as given and must match the order of secondary signatures later.
func BuildMultiAgent(raw *RawTransaction, secondaries []Address) (*MultiAgentRawTransaction, error) {
	if len(secondaries) == 0 {
		return nil, ErrEmptySecondaryList
	}
	seen := map[Address]struct{}{raw.Sender: {}}
	for _, a := range secondaries {
		if _, dup := seen[a]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSigner, a)
		}
		seen[a] = struct{}{}
	}
	addrs := make([]Address, len(secondaries))
	copy(addrs, secondaries)
	return &MultiAgentRawTransaction{Txn: raw, SecondaryAddresses: addrs}, nil
}

// Raw returns the wrapped raw transaction.
func (t *MultiAgentRawTransaction) Raw() *RawTransaction {
	return t.Txn
}
