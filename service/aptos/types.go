package aptos

import (
	"errors"
	"fmt"
)

// ContentTypeSignedTransaction is the request body type for BCS submissions.
const ContentTypeSignedTransaction = "application/x.aptos.signed_transaction+bcs"

// ClientHeader identifies this client to the fullnode.
const (
	ClientHeader      = "x-aptos-client"
	ClientHeaderValue = "aptostx/1"
)

// Transaction type discriminators returned by /transactions/by_hash.
const (
	TypePendingTransaction = "pending_transaction"
	TypeUserTransaction    = "user_transaction"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrResourceNotFound    = errors.New("resource not found")
	// ErrNotSimulation is returned when a transaction with real signatures
	// is sent to the simulate endpoint.
	ErrNotSimulation = errors.New("simulation requires a zero-signature authenticator")
)

// LedgerInfo is the subset of GET / the pipeline uses.
type LedgerInfo struct {
	ChainID         uint8  `json:"chain_id"`
	Epoch           uint64 `json:"epoch,string"`
	LedgerVersion   uint64 `json:"ledger_version,string"`
	LedgerTimestamp uint64 `json:"ledger_timestamp,string"`
	BlockHeight     uint64 `json:"block_height,string"`
	NodeRole        string `json:"node_role"`
}

// Account is GET /accounts/{address}.
type Account struct {
	SequenceNumber    uint64 `json:"sequence_number,string"`
	AuthenticationKey string `json:"authentication_key"`
}

// Transaction is the part of a transaction response the poller needs. Type
// distinguishes a pending entry from a committed one; the remaining fields
// are empty for pending transactions.
type Transaction struct {
	Type     string `json:"type"`
	Hash     string `json:"hash"`
	Sender   string `json:"sender,omitempty"`
	Success  bool   `json:"success"`
	VMStatus string `json:"vm_status"`
	Version  uint64 `json:"version,string,omitempty"`
	GasUsed  uint64 `json:"gas_used,string,omitempty"`
}

// Pending reports whether the node still holds t in its mempool.
func (t *Transaction) Pending() bool {
	return t.Type == TypePendingTransaction
}

// SimulationResult is the first entry of a simulate response.
type SimulationResult struct {
	Success      bool   `json:"success"`
	VMStatus     string `json:"vm_status"`
	GasUsed      uint64 `json:"gas_used"`
	GasUnitPrice uint64 `json:"gas_unit_price"`
	Hash         string `json:"hash"`
}

// APIError is a non-2xx response from the fullnode, for example
// {"message":"Invalid transaction: ...","error_code":"vm_error","vm_error_code":5}.
type APIError struct {
	StatusCode  int    `json:"-"`
	Message     string `json:"message"`
	ErrorCode   string `json:"error_code"`
	VMErrorCode int    `json:"vm_error_code,omitempty"`
}

func (e *APIError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("aptos api error %d (%s): %s", e.StatusCode, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("aptos api error %d: %s", e.StatusCode, e.Message)
}

// coinStore is the CoinStore resource body.
type coinStore struct {
	Type string `json:"type"`
	Data struct {
		Coin struct {
			Value uint64 `json:"value,string"`
		} `json:"coin"`
	} `json:"data"`
}
