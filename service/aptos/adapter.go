package aptos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/brojonat/aptostx/service/metrics"
	"github.com/brojonat/aptostx/service/txn"
)

// RPCClient is the set of fullnode REST operations the pipeline needs.
// This allows us to mock the REST layer in tests without a running node.
type RPCClient interface {
	GetLedgerInfo(ctx context.Context) (*LedgerInfo, error)
	GetAccount(ctx context.Context, address txn.Address) (*Account, error)
	GetCoinBalance(ctx context.Context, address txn.Address, coinType string) (uint64, error)
	SubmitTransaction(ctx context.Context, signed []byte) (*Transaction, error)
	SimulateTransaction(ctx context.Context, signed []byte) ([]SimulationResult, error)
	GetTransactionByHash(ctx context.Context, hash string) (*Transaction, error)
}

// restClient talks to a fullnode's /v1 API over HTTP.
type restClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRPCClient creates an RPCClient for nodeURL, for example
// https://fullnode.devnet.aptoslabs.com/v1. A nil httpClient gets a 30s
// timeout client.
func NewRPCClient(nodeURL string, httpClient *http.Client) RPCClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &restClient{
		baseURL:    strings.TrimRight(nodeURL, "/"),
		httpClient: httpClient,
	}
}

// NewHTTPClient returns an http.Client whose transport records one response
// metric per request, labelled by REST route.
func NewHTTPClient(m *metrics.Metrics, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: metrics.HTTPMetricsTransport(m, routeOf)(http.DefaultTransport),
	}
}

// routeOf maps a request path to a fixed route label.
func routeOf(r *http.Request) string {
	p := r.URL.Path
	switch {
	case strings.HasSuffix(p, "/transactions/simulate"):
		return "/transactions/simulate"
	case strings.Contains(p, "/transactions/by_hash/"):
		return "/transactions/by_hash"
	case strings.HasSuffix(p, "/transactions"):
		return "/transactions"
	case strings.Contains(p, "/resource/"):
		return "/accounts/resource"
	case strings.Contains(p, "/accounts/"):
		return "/accounts"
	default:
		return "/"
	}
}

func (c *restClient) GetLedgerInfo(ctx context.Context) (*LedgerInfo, error) {
	var info LedgerInfo
	if err := c.getJSON(ctx, "/", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *restClient) GetAccount(ctx context.Context, address txn.Address) (*Account, error) {
	var acct Account
	err := c.getJSON(ctx, "/accounts/"+address.String(), &acct)
	if isStatus(err, http.StatusNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

func (c *restClient) GetCoinBalance(ctx context.Context, address txn.Address, coinType string) (uint64, error) {
	resource := fmt.Sprintf("0x1::coin::CoinStore<%s>", coinType)
	var store coinStore
	err := c.getJSON(ctx, "/accounts/"+address.String()+"/resource/"+url.PathEscape(resource), &store)
	if isStatus(err, http.StatusNotFound) {
		return 0, fmt.Errorf("%w: %s", ErrResourceNotFound, resource)
	}
	if err != nil {
		return 0, err
	}
	return store.Data.Coin.Value, nil
}

func (c *restClient) SubmitTransaction(ctx context.Context, signed []byte) (*Transaction, error) {
	var out Transaction
	if err := c.postBCS(ctx, "/transactions", signed, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *restClient) SimulateTransaction(ctx context.Context, signed []byte) ([]SimulationResult, error) {
	var raw []struct {
		Success      bool   `json:"success"`
		VMStatus     string `json:"vm_status"`
		GasUsed      uint64 `json:"gas_used,string"`
		GasUnitPrice uint64 `json:"gas_unit_price,string"`
		Hash         string `json:"hash"`
	}
	if err := c.postBCS(ctx, "/transactions/simulate", signed, &raw); err != nil {
		return nil, err
	}
	out := make([]SimulationResult, len(raw))
	for i, r := range raw {
		out[i] = SimulationResult(r)
	}
	return out, nil
}

func (c *restClient) GetTransactionByHash(ctx context.Context, hash string) (*Transaction, error) {
	var out Transaction
	err := c.getJSON(ctx, "/transactions/by_hash/"+url.PathEscape(hash), &out)
	if isStatus(err, http.StatusNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, hash)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *restClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *restClient) postBCS(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", ContentTypeSignedTransaction)
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *restClient) do(req *http.Request, out any) error {
	req.Header.Set(ClientHeader, ClientHeaderValue)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseErrorResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse turns a non-2xx response into an *APIError. Bodies that
// are not the node's JSON error shape keep their raw text as the message.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	apiErr.StatusCode = resp.StatusCode
	return apiErr
}

func isStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}
