// Package client talks to the transaction gateway over HTTP.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ContentTypeSignedTransaction is the media type of raw BCS submissions.
const ContentTypeSignedTransaction = "application/x.aptos.signed_transaction+bcs"

// ErrNotFound is returned when the gateway answers 404.
var ErrNotFound = errors.New("not found")

// Error is a non-2xx gateway response. Rejections by the node carry the
// node's error code.
type Error struct {
	StatusCode  int    `json:"-"`
	Message     string `json:"error"`
	ErrorCode   string `json:"error_code,omitempty"`
	VMErrorCode int    `json:"vm_error_code,omitempty"`
	Hash        string `json:"hash,omitempty"`
}

func (e *Error) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("request failed (%d, %s): %s", e.StatusCode, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Message)
}

// Unwrap lets errors.Is(err, ErrNotFound) match 404s.
func (e *Error) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// Submission is the gateway's receipt for a relayed transaction.
type Submission struct {
	Hash           string    `json:"hash"`
	Sender         string    `json:"sender"`
	SequenceNumber uint64    `json:"sequence_number"`
	Authenticator  string    `json:"authenticator"`
	Secondaries    []string  `json:"secondaries,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
	SubmittedAt    time.Time `json:"submitted_at"`
	WorkflowID     string    `json:"workflow_id,omitempty"`
}

// Transaction is what the gateway knows about a hash.
type Transaction struct {
	Hash           string     `json:"hash"`
	Sender         string     `json:"sender,omitempty"`
	SequenceNumber *uint64    `json:"sequence_number,omitempty"`
	Authenticator  string     `json:"authenticator,omitempty"`
	Secondaries    []string   `json:"secondaries,omitempty"`
	SubmittedAt    *time.Time `json:"submitted_at,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Outcome        string     `json:"outcome"`
	Success        bool       `json:"success"`
	VMStatus       string     `json:"vm_status,omitempty"`
	Version        uint64     `json:"version,omitempty"`
	Attempts       int        `json:"attempts,omitempty"`
	Error          *string    `json:"error,omitempty"`
	RecordedAt     *time.Time `json:"recorded_at,omitempty"`
	Source         string     `json:"source"`
}

// Confirmation is the state of a confirmation workflow. Result is set once
// the workflow completed.
type Confirmation struct {
	WorkflowID string       `json:"workflow_id"`
	Status     string       `json:"status"`
	Result     *Transaction `json:"result,omitempty"`
}

// OutcomeEvent is one final outcome from the stream.
type OutcomeEvent struct {
	Hash        string    `json:"hash"`
	Sender      string    `json:"sender"`
	Outcome     string    `json:"outcome"`
	Success     bool      `json:"success"`
	VMStatus    string    `json:"vm_status,omitempty"`
	Version     uint64    `json:"version,omitempty"`
	Error       string    `json:"error,omitempty"`
	Attempts    int       `json:"attempts"`
	ElapsedMS   int64     `json:"elapsed_ms"`
	PublishedAt time.Time `json:"published_at"`
}

// Client is the HTTP client for the gateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a gateway client. nil arguments select defaults.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Submit relays BCS-encoded signed transaction bytes. wait overrides the
// gateway's confirmation budget when positive.
func (c *Client) Submit(ctx context.Context, signed []byte, wait time.Duration) (*Submission, error) {
	u := c.baseURL + "/api/v1/transactions"
	if wait > 0 {
		u += "?wait=" + url.QueryEscape(wait.String())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(signed))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", ContentTypeSignedTransaction)

	var sub Submission
	if err := c.do(req, http.StatusAccepted, &sub); err != nil {
		return nil, err
	}
	c.logger.Debug("transaction submitted", "hash", sub.Hash, "workflow_id", sub.WorkflowID)
	return &sub, nil
}

// SubmitHex is Submit for a hex-encoded transaction, sent as JSON.
func (c *Client) SubmitHex(ctx context.Context, signedHex string, wait time.Duration) (*Submission, error) {
	if _, err := hex.DecodeString(strings.TrimPrefix(signedHex, "0x")); err != nil {
		return nil, fmt.Errorf("signed transaction must be hex: %w", err)
	}
	reqBody := map[string]string{"signed_transaction": signedHex}
	if wait > 0 {
		reqBody["wait"] = wait.String()
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/transactions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var sub Submission
	if err := c.do(req, http.StatusAccepted, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetTransaction looks up a hash.
func (c *Client) GetTransaction(ctx context.Context, hash string) (*Transaction, error) {
	u := fmt.Sprintf("%s/api/v1/transactions/%s", c.baseURL, url.PathEscape(hash))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	var tx Transaction
	if err := c.do(req, http.StatusOK, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// ListTransactions returns a sender's recorded submissions, most recent
// first. Zero limit uses the gateway default.
func (c *Client) ListTransactions(ctx context.Context, sender string, limit, offset int) ([]*Transaction, error) {
	q := url.Values{"sender": {sender}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/transactions?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var response struct {
		Transactions []*Transaction `json:"transactions"`
	}
	if err := c.do(req, http.StatusOK, &response); err != nil {
		return nil, err
	}
	return response.Transactions, nil
}

// GetConfirmation reports a confirmation workflow without waiting for it.
func (c *Client) GetConfirmation(ctx context.Context, workflowID string) (*Confirmation, error) {
	u := fmt.Sprintf("%s/api/v1/confirmations/%s", c.baseURL, url.PathEscape(workflowID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	var conf Confirmation
	if err := c.do(req, http.StatusOK, &conf); err != nil {
		return nil, err
	}
	return &conf, nil
}

// StreamOutcomes calls handle for every outcome event until ctx is done or
// the stream ends. An empty sender streams every sender. The client's
// timeout does not apply to the stream.
func (c *Client) StreamOutcomes(ctx context.Context, sender string, handle func(*OutcomeEvent) error) error {
	u := c.baseURL + "/api/v1/stream/outcomes"
	if sender != "" {
		u += "/" + url.PathEscape(sender)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	streaming := *c.httpClient
	streaming.Timeout = 0
	resp, err := streaming.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := c.dispatch(event, data, handle); err != nil {
				return err
			}
			event, data = "", ""
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("error reading stream: %w", err)
	}
	return nil
}

func (c *Client) dispatch(event, data string, handle func(*OutcomeEvent) error) error {
	switch event {
	case "outcome":
		var e OutcomeEvent
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			c.logger.Warn("failed to decode outcome event", "error", err)
			return nil
		}
		return handle(&e)
	case "error":
		var e struct {
			Error string `json:"error"`
		}
		json.Unmarshal([]byte(data), &e)
		return fmt.Errorf("stream error: %s", e.Error)
	case "connected":
		c.logger.Debug("connected to outcome stream", "data", data)
	}
	return nil
}

func (c *Client) do(req *http.Request, want int, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return c.parseErrorResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the gateway.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	apiErr := &Error{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
