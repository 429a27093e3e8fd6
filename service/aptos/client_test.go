package aptos

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/brojonat/aptostx/service/confirm"
	"github.com/brojonat/aptostx/service/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRPCClient implements RPCClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type mockRPCClient struct {
	ledger      *LedgerInfo
	account     *Account
	balance     uint64
	submitted   *Transaction
	simulated   []SimulationResult
	byHash      *Transaction
	err         error
	lastPayload []byte
}

func (m *mockRPCClient) GetLedgerInfo(ctx context.Context) (*LedgerInfo, error) {
	return m.ledger, m.err
}

func (m *mockRPCClient) GetAccount(ctx context.Context, address txn.Address) (*Account, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.account, nil
}

func (m *mockRPCClient) GetCoinBalance(ctx context.Context, address txn.Address, coinType string) (uint64, error) {
	return m.balance, m.err
}

func (m *mockRPCClient) SubmitTransaction(ctx context.Context, signed []byte) (*Transaction, error) {
	m.lastPayload = signed
	if m.err != nil {
		return nil, m.err
	}
	return m.submitted, nil
}

func (m *mockRPCClient) SimulateTransaction(ctx context.Context, signed []byte) ([]SimulationResult, error) {
	m.lastPayload = signed
	return m.simulated, m.err
}

func (m *mockRPCClient) GetTransactionByHash(ctx context.Context, hash string) (*Transaction, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.byHash, nil
}

func newTestClient(mock *mockRPCClient) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(mock, "test", nil, logger)
}

func signedFixture(t *testing.T, simulation bool) *txn.SignedTransaction {
	t.Helper()
	pub := bytes.Repeat([]byte{0x01}, txn.Ed25519PublicKeyLength)
	raw, err := txn.NewRawTransaction(txn.AddressFromPublicKey(pub), 0, txn.TransferPayload(txn.AddressOne, 1), 2000, 100, 1700000000, 4)
	require.NoError(t, err)

	var auth *txn.Authenticator
	if simulation {
		auth, err = txn.SimulationAuthenticator(pub)
	} else {
		auth, err = txn.SingleSigner(pub, bytes.Repeat([]byte{0x02}, txn.Ed25519SignatureLength))
	}
	require.NoError(t, err)
	signed, err := txn.Assemble(raw, auth)
	require.NoError(t, err)
	return signed
}

func TestClient_ChainID(t *testing.T) {
	c := newTestClient(&mockRPCClient{ledger: &LedgerInfo{ChainID: 2}})
	id, err := c.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint8(2), id)

	boom := errors.New("dial tcp: refused")
	c = newTestClient(&mockRPCClient{err: boom})
	_, err = c.ChainID(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestClient_Balance_MissingStoreIsZero(t *testing.T) {
	c := newTestClient(&mockRPCClient{err: fmt.Errorf("%w: store", ErrResourceNotFound)})
	v, err := c.Balance(context.Background(), txn.AddressOne, txn.AptosCoinType)
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestClient_Submit(t *testing.T) {
	signed := signedFixture(t, false)

	t.Run("uses node hash", func(t *testing.T) {
		mock := &mockRPCClient{submitted: &Transaction{Type: TypePendingTransaction, Hash: signed.Hash()}}
		hash, err := newTestClient(mock).Submit(context.Background(), signed)
		require.NoError(t, err)
		assert.Equal(t, signed.Hash(), hash)
		assert.Equal(t, signed.Bytes(), mock.lastPayload)
	})

	t.Run("falls back to local hash", func(t *testing.T) {
		mock := &mockRPCClient{submitted: &Transaction{Type: TypePendingTransaction}}
		hash, err := newTestClient(mock).Submit(context.Background(), signed)
		require.NoError(t, err)
		assert.Equal(t, signed.Hash(), hash)
	})

	t.Run("rejected", func(t *testing.T) {
		mock := &mockRPCClient{err: &APIError{StatusCode: 400, Message: "expired"}}
		_, err := newTestClient(mock).Submit(context.Background(), signed)
		var apiErr *APIError
		assert.ErrorAs(t, err, &apiErr)
	})
}

func TestClient_Simulate(t *testing.T) {
	t.Run("zero signature", func(t *testing.T) {
		mock := &mockRPCClient{simulated: []SimulationResult{{Success: true, GasUsed: 11}}}
		res, err := newTestClient(mock).Simulate(context.Background(), signedFixture(t, true))
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, uint64(11), res.GasUsed)
	})

	t.Run("real signature refused locally", func(t *testing.T) {
		mock := &mockRPCClient{}
		_, err := newTestClient(mock).Simulate(context.Background(), signedFixture(t, false))
		assert.ErrorIs(t, err, ErrNotSimulation)
		assert.Nil(t, mock.lastPayload)
	})

	t.Run("empty response", func(t *testing.T) {
		_, err := newTestClient(&mockRPCClient{}).Simulate(context.Background(), signedFixture(t, true))
		assert.Error(t, err)
	})
}

func TestClient_FetchStatus(t *testing.T) {
	tests := []struct {
		name    string
		mock    *mockRPCClient
		want    confirm.Status
		wantErr bool
	}{
		{
			name: "not found is not an error",
			mock: &mockRPCClient{err: fmt.Errorf("%w: 0xabc", ErrTransactionNotFound)},
			want: confirm.Status{Kind: confirm.StatusNotFound},
		},
		{
			name: "pending",
			mock: &mockRPCClient{byHash: &Transaction{Type: TypePendingTransaction}},
			want: confirm.Status{Kind: confirm.StatusPending},
		},
		{
			name: "committed failure",
			mock: &mockRPCClient{byHash: &Transaction{Type: TypeUserTransaction, Success: false, VMStatus: "Out of gas", Version: 5}},
			want: confirm.Status{Kind: confirm.StatusCommitted, Success: false, VMStatus: "Out of gas", Version: 5},
		},
		{
			name:    "transport error",
			mock:    &mockRPCClient{err: errors.New("timeout")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := newTestClient(tt.mock).FetchStatus(context.Background(), "0xabc")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_IsStatusFetcher(t *testing.T) {
	var _ confirm.StatusFetcher = (*Client)(nil)
}
