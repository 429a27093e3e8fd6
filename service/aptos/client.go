// Package aptos is the fullnode collaborator of the pipeline: it reads
// account and ledger state, submits and simulates BCS-encoded signed
// transactions, and decodes transaction lookups into confirm.Status.
package aptos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/brojonat/aptostx/service/confirm"
	"github.com/brojonat/aptostx/service/metrics"
	"github.com/brojonat/aptostx/service/txn"
)

// Client wraps an RPCClient with logging and metrics.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // node identifier for metrics (e.g. "devnet" or host)
}

// NewClient creates a new Aptos client.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		rpc:      rpcClient,
		logger:   logger,
		metrics:  m,
		endpoint: endpoint,
	}
}

func (c *Client) record(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRESTCall(method, status, c.endpoint, time.Since(start).Seconds())
}

// ChainID reads the chain id from ledger info.
func (c *Client) ChainID(ctx context.Context) (uint8, error) {
	start := time.Now()
	info, err := c.rpc.GetLedgerInfo(ctx)
	c.record("GetLedgerInfo", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get ledger info", "error", err)
		return 0, fmt.Errorf("failed to get ledger info: %w", err)
	}
	c.logger.DebugContext(ctx, "fetched ledger info",
		"chain_id", info.ChainID,
		"ledger_version", info.LedgerVersion,
	)
	return info.ChainID, nil
}

// SequenceNumber returns the on-chain sequence number of address.
// It returns ErrAccountNotFound for accounts that do not exist yet.
func (c *Client) SequenceNumber(ctx context.Context, address txn.Address) (uint64, error) {
	start := time.Now()
	acct, err := c.rpc.GetAccount(ctx, address)
	c.record("GetAccount", start, err)
	if err != nil {
		return 0, err
	}
	c.logger.DebugContext(ctx, "fetched account",
		"address", address.String(),
		"sequence_number", acct.SequenceNumber,
	)
	return acct.SequenceNumber, nil
}

// Balance returns the coinType balance of address; zero if the account has
// no store for it.
func (c *Client) Balance(ctx context.Context, address txn.Address, coinType string) (uint64, error) {
	start := time.Now()
	v, err := c.rpc.GetCoinBalance(ctx, address, coinType)
	c.record("GetCoinBalance", start, err)
	if errors.Is(err, ErrResourceNotFound) {
		return 0, nil
	}
	return v, err
}

// Submit posts signed to /transactions and returns the hash the node
// assigned. A hash that differs from the locally computed one is logged.
func (c *Client) Submit(ctx context.Context, signed *txn.SignedTransaction) (string, error) {
	local := signed.Hash()
	start := time.Now()
	pending, err := c.rpc.SubmitTransaction(ctx, signed.Bytes())
	c.record("SubmitTransaction", start, err)
	if c.metrics != nil {
		status := "accepted"
		if err != nil {
			status = "rejected"
		}
		c.metrics.RecordSubmission(signed.Authenticator.Kind.String(), status)
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "submission failed", "hash", local, "error", err)
		return "", err
	}
	if pending.Hash != "" && pending.Hash != local {
		c.logger.WarnContext(ctx, "node hash differs from local hash",
			"node_hash", pending.Hash,
			"local_hash", local,
		)
	}
	hash := pending.Hash
	if hash == "" {
		hash = local
	}
	c.logger.InfoContext(ctx, "transaction submitted",
		"hash", hash,
		"authenticator", signed.Authenticator.Kind.String(),
	)
	return hash, nil
}

// Simulate posts a zero-signature transaction to /transactions/simulate.
func (c *Client) Simulate(ctx context.Context, signed *txn.SignedTransaction) (*SimulationResult, error) {
	if !signed.IsSimulation() {
		return nil, ErrNotSimulation
	}
	start := time.Now()
	results, err := c.rpc.SimulateTransaction(ctx, signed.Bytes())
	c.record("SimulateTransaction", start, err)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("simulation returned no transactions")
	}
	res := results[0]
	if c.metrics != nil {
		c.metrics.RecordSimulation(res.Success)
	}
	c.logger.InfoContext(ctx, "transaction simulated",
		"success", res.Success,
		"vm_status", res.VMStatus,
		"gas_used", res.GasUsed,
	)
	return &res, nil
}

// FetchStatus implements confirm.StatusFetcher.
func (c *Client) FetchStatus(ctx context.Context, hash string) (confirm.Status, error) {
	start := time.Now()
	t, err := c.rpc.GetTransactionByHash(ctx, hash)
	if errors.Is(err, ErrTransactionNotFound) {
		c.record("GetTransactionByHash", start, nil)
		return confirm.Status{Kind: confirm.StatusNotFound}, nil
	}
	c.record("GetTransactionByHash", start, err)
	if err != nil {
		return confirm.Status{}, err
	}
	if t.Pending() {
		return confirm.Status{Kind: confirm.StatusPending}, nil
	}
	return confirm.Status{
		Kind:     confirm.StatusCommitted,
		Success:  t.Success,
		VMStatus: t.VMStatus,
		Version:  t.Version,
	}, nil
}
