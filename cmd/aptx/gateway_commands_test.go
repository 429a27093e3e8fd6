package main

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/brojonat/aptostx/client"
	"github.com/brojonat/aptostx/service/aptos"
	"github.com/brojonat/aptostx/service/pipeline"
	"github.com/brojonat/aptostx/service/server"
	"github.com/brojonat/aptostx/service/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newGateway runs a gateway whose pipeline talks to nodeURL.
func newGateway(t *testing.T, nodeURL string) string {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	chain := aptos.NewClient(aptos.NewRPCClient(nodeURL, nil), "test", nil, logger)
	gw := server.New(":0", pipeline.New(chain, nil, pipeline.Config{Logger: logger}), server.Options{}, logger)
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestGatewaySend(t *testing.T) {
	node, nodeURL := newFakeNode(t, true)
	gwURL := newGateway(t, nodeURL)

	out, err := run(t, "--node-url", nodeURL, "--json",
		"gateway", "--gateway-url", gwURL,
		"send", "--key", testSeed, "--to", "0x2", "--amount", "5")
	require.NoError(t, err)

	var sub client.Submission
	require.NoError(t, json.Unmarshal([]byte(out), &sub))
	assert.Equal(t, uint64(7), sub.SequenceNumber)
	assert.Equal(t, "ed25519", sub.Authenticator)

	require.Len(t, node.submitted, 1)
	signed, err := txn.DecodeSignedTransaction(node.submitted[0])
	require.NoError(t, err)
	assert.Equal(t, sub.Hash, signed.Hash())
	assert.Equal(t, uint8(4), signed.Transaction.Raw().ChainID)

	out, err = run(t, "--node-url", nodeURL, "--jq", ".outcome",
		"gateway", "--gateway-url", gwURL, "get", sub.Hash)
	require.NoError(t, err)
	assert.Equal(t, "committed\n", out)
}

func TestGatewayRelay(t *testing.T) {
	node, nodeURL := newFakeNode(t, true)
	gwURL := newGateway(t, nodeURL)

	// Sign offline against the fake node, then relay the bytes.
	out, err := run(t, "--node-url", nodeURL, "--json",
		"gateway", "--gateway-url", gwURL,
		"send", "--key", testSeed, "--to", "0x2", "--amount", "1")
	require.NoError(t, err)
	require.Len(t, node.submitted, 1)
	signedHex := hex.EncodeToString(node.submitted[0])

	out, err = run(t, "--jq", ".hash", "gateway", "--gateway-url", gwURL, "relay", signedHex)
	require.NoError(t, err)

	signed, err := txn.DecodeSignedTransaction(node.submitted[1])
	require.NoError(t, err)
	assert.Equal(t, signed.Hash()+"\n", out)
}

func TestGatewayRelay_RejectsGarbage(t *testing.T) {
	_, nodeURL := newFakeNode(t, true)
	gwURL := newGateway(t, nodeURL)

	_, err := run(t, "gateway", "--gateway-url", gwURL, "relay", "0x0102")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed")
}

func TestGatewayList_DisabledWithoutStore(t *testing.T) {
	_, nodeURL := newFakeNode(t, true)
	gwURL := newGateway(t, nodeURL)

	_, err := run(t, "gateway", "--gateway-url", gwURL, "list", "--sender", "0x5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "405")
}
