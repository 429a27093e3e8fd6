package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/aptostx/service/aptos"
	"github.com/brojonat/aptostx/service/confirm"
	"github.com/brojonat/aptostx/service/db"
	"github.com/brojonat/aptostx/service/metrics"
	"github.com/brojonat/aptostx/service/pipeline"
	"github.com/brojonat/aptostx/service/signer"
	"github.com/brojonat/aptostx/service/temporal"
	"github.com/brojonat/aptostx/service/txn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSeed = "0x9bf49a6a0755f953811fce125f2683d50429c3bb49e074147e0089a52eae155f"

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func signedFixture(t *testing.T, zeroSig bool) *txn.SignedTransaction {
	t.Helper()
	k, err := signer.FromHex(testSeed)
	require.NoError(t, err)
	raw, err := txn.NewRawTransaction(k.Address(), 3, txn.TransferPayload(txn.MustParseAddress("0x2"), 10),
		txn.DefaultMaxGasAmount, txn.DefaultGasUnitPrice, 1700000000, 4)
	require.NoError(t, err)

	var auth *txn.Authenticator
	if zeroSig {
		auth, err = txn.SimulationAuthenticator(k.PublicKey())
	} else {
		var sender *txn.Ed25519Authenticator
		sender, err = signer.Authenticate(context.Background(), k, txn.Preimage(raw))
		require.NoError(t, err)
		auth = &txn.Authenticator{Kind: txn.AuthenticatorEd25519, Sender: sender}
	}
	require.NoError(t, err)

	signed, err := txn.Assemble(raw, auth)
	require.NoError(t, err)
	return signed
}

// fakeSubmitter stands in for the pipeline.
type fakeSubmitter struct {
	submitted []*txn.SignedTransaction
	err       error
	status    confirm.Outcome
}

func (f *fakeSubmitter) Submit(_ context.Context, signed *txn.SignedTransaction) (pipeline.Submission, error) {
	if f.err != nil {
		return pipeline.Submission{}, f.err
	}
	f.submitted = append(f.submitted, signed)
	raw := signed.Transaction.Raw()
	return pipeline.Submission{
		Hash:           signed.Hash(),
		Sender:         raw.Sender,
		SequenceNumber: raw.SequenceNumber,
		Authenticator:  signed.Authenticator.Kind.String(),
		ExpiresAt:      time.Unix(int64(raw.ExpirationTimestampSecs), 0).UTC(),
		SubmittedAt:    time.Now().UTC(),
	}, nil
}

func (f *fakeSubmitter) Status(_ context.Context, hash string) confirm.Outcome {
	out := f.status
	out.Hash = hash
	return out
}

type mockConfirmer struct {
	mock.Mock
}

func (m *mockConfirmer) StartConfirmation(ctx context.Context, input temporal.ConfirmTransactionInput) (string, error) {
	args := m.Called(ctx, input)
	return args.String(0), args.Error(1)
}

func (m *mockConfirmer) DescribeConfirmation(ctx context.Context, workflowID string) (*temporal.ConfirmationStatus, error) {
	args := m.Called(ctx, workflowID)
	st, _ := args.Get(0).(*temporal.ConfirmationStatus)
	return st, args.Error(1)
}

type fakeStore struct {
	records map[string]*db.SubmissionRecord
	listed  db.ListSubmissionsParams
}

func (s *fakeStore) GetSubmission(_ context.Context, hash string) (*db.SubmissionRecord, error) {
	rec, ok := s.records[hash]
	if !ok {
		return nil, db.ErrNotFound
	}
	return rec, nil
}

func (s *fakeStore) ListSubmissionsBySender(_ context.Context, params db.ListSubmissionsParams) ([]*db.SubmissionRecord, error) {
	s.listed = params
	var out []*db.SubmissionRecord
	for _, rec := range s.records {
		if rec.Sender == params.Sender {
			out = append(out, rec)
		}
	}
	return out, nil
}

func serve(t *testing.T, h http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var body map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestSubmitTransaction_BCS(t *testing.T) {
	signed := signedFixture(t, false)
	sub := &fakeSubmitter{}
	confirmer := &mockConfirmer{}
	confirmer.On("StartConfirmation", mock.Anything, temporal.ConfirmTransactionInput{
		Hash:     signed.Hash(),
		Sender:   signed.Transaction.Raw().Sender.String(),
		MaxWait:  30 * time.Second,
		Interval: time.Second,
	}).Return("confirm-txn-"+signed.Hash(), nil)

	srv := New(":0", sub, Options{Confirmer: confirmer, WaitTimeout: 30 * time.Second, PollInterval: time.Second}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewReader(signed.Bytes()))
	req.Header.Set("Content-Type", aptos.ContentTypeSignedTransaction)
	w, body := serve(t, srv.Handler(), req)

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, signed.Hash(), body["hash"])
	assert.Equal(t, float64(3), body["sequence_number"])
	assert.Equal(t, "ed25519", body["authenticator"])
	assert.Equal(t, "confirm-txn-"+signed.Hash(), body["workflow_id"])
	require.Len(t, sub.submitted, 1)
	assert.Equal(t, signed.Bytes(), sub.submitted[0].Bytes())
	confirmer.AssertExpectations(t)
}

func TestSubmitTransaction_JSONWithWait(t *testing.T) {
	signed := signedFixture(t, false)
	confirmer := &mockConfirmer{}
	confirmer.On("StartConfirmation", mock.Anything, mock.MatchedBy(func(in temporal.ConfirmTransactionInput) bool {
		return in.MaxWait == 5*time.Second
	})).Return("wf", nil)

	srv := New(":0", &fakeSubmitter{}, Options{Confirmer: confirmer}, testLogger())

	payload, _ := json.Marshal(submitRequest{
		SignedTransaction: "0x" + hex.EncodeToString(signed.Bytes()),
		Wait:              "5s",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	w, body := serve(t, srv.Handler(), req)

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, "wf", body["workflow_id"])
	confirmer.AssertExpectations(t)
}

func TestSubmitTransaction_WithoutConfirmer(t *testing.T) {
	signed := signedFixture(t, false)
	srv := New(":0", &fakeSubmitter{}, Options{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewReader(signed.Bytes()))
	req.Header.Set("Content-Type", "application/octet-stream")
	w, body := serve(t, srv.Handler(), req)

	require.Equal(t, http.StatusAccepted, w.Code)
	_, hasWorkflow := body["workflow_id"]
	assert.False(t, hasWorkflow)
}

func TestSubmitTransaction_ConfirmerFailureStillAccepted(t *testing.T) {
	signed := signedFixture(t, false)
	confirmer := &mockConfirmer{}
	confirmer.On("StartConfirmation", mock.Anything, mock.Anything).Return("", errors.New("temporal down"))
	srv := New(":0", &fakeSubmitter{}, Options{Confirmer: confirmer}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewReader(signed.Bytes()))
	req.Header.Set("Content-Type", aptos.ContentTypeSignedTransaction)
	w, body := serve(t, srv.Handler(), req)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, signed.Hash(), body["hash"])
	assert.Nil(t, body["workflow_id"])
}

func TestSubmitTransaction_PathologicalInput(t *testing.T) {
	good := signedFixture(t, false).Bytes()
	sim := signedFixture(t, true).Bytes()
	// Payload variant 2 follows the sender and sequence number; pad it to two bytes.
	require.Equal(t, byte(0x02), good[40])
	padded := append(append(append([]byte{}, good[:40]...), 0x82, 0x00), good[41:]...)

	tests := []struct {
		name        string
		contentType string
		body        []byte
		wantError   string
	}{
		{"extremely large body", aptos.ContentTypeSignedTransaction, bytes.Repeat([]byte{0x01}, 2<<20), "request body too large"},
		{"empty body", aptos.ContentTypeSignedTransaction, nil, "empty"},
		{"truncated transaction", aptos.ContentTypeSignedTransaction, good[:len(good)-3], "malformed"},
		{"non-canonical length", aptos.ContentTypeSignedTransaction, padded, "non-canonical uleb128"},
		{"simulation authenticator", aptos.ContentTypeSignedTransaction, sim, "simulation"},
		{"malformed JSON", "application/json", []byte(`{"signed_transaction":`), "invalid request body"},
		{"missing field", "application/json", []byte(`{}`), "signed_transaction is required"},
		{"not hex", "application/json", []byte(`{"signed_transaction":"0xzz"}`), "must be hex"},
		{"bad wait", "application/json", []byte(`{"signed_transaction":"` + hex.EncodeToString(good) + `","wait":"forever"}`), "invalid wait"},
		{"wait too long", "application/json", []byte(`{"signed_transaction":"` + hex.EncodeToString(good) + `","wait":"1h"}`), "wait must be between"},
		{"unsupported content type", "text/plain", good, "unsupported content type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubmitter{}
			srv := New(":0", sub, Options{}, testLogger())
			req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			w, body := serve(t, srv.Handler(), req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, body["error"], tt.wantError)
			assert.Empty(t, sub.submitted)
		})
	}
}

func TestSubmitTransaction_NodeErrors(t *testing.T) {
	signed := signedFixture(t, false)

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{
			name:       "rejected by node",
			err:        &aptos.APIError{StatusCode: 400, Message: "Invalid transaction: SEQUENCE_NUMBER_TOO_OLD", ErrorCode: "vm_error", VMErrorCode: 3},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "node unavailable",
			err:        &aptos.APIError{StatusCode: 503, Message: "overloaded"},
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "transport failure",
			err:        errors.New("connection refused"),
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(":0", &fakeSubmitter{err: tt.err}, Options{}, testLogger())
			req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewReader(signed.Bytes()))
			req.Header.Set("Content-Type", aptos.ContentTypeSignedTransaction)
			w, body := serve(t, srv.Handler(), req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusUnprocessableEntity {
				assert.Equal(t, "vm_error", body["error_code"])
				assert.Equal(t, signed.Hash(), body["hash"])
			}
		})
	}
}

func TestGetTransaction(t *testing.T) {
	hash := "0x" + strings.Repeat("ab", 32)
	pending := "0x" + strings.Repeat("cd", 32)
	sender := txn.MustParseAddress("0x5")

	store := &fakeStore{records: map[string]*db.SubmissionRecord{
		hash: {
			Submission: pipeline.Submission{Hash: hash, Sender: sender, SequenceNumber: 9, Authenticator: "ed25519"},
			Outcome:    &db.OutcomeRecord{Hash: hash, Outcome: confirm.OutcomeCommitted, Success: true, Version: 77},
		},
		pending: {
			Submission: pipeline.Submission{Hash: pending, Sender: sender, SequenceNumber: 10, Authenticator: "ed25519"},
		},
	}}

	t.Run("recorded commit comes from the store", func(t *testing.T) {
		srv := New(":0", &fakeSubmitter{status: confirm.Outcome{Kind: confirm.OutcomeNotFound}}, Options{Store: store}, testLogger())
		w, body := serve(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/v1/transactions/"+strings.TrimPrefix(hash, "0x"), nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "store", body["source"])
		assert.Equal(t, "committed", body["outcome"])
		assert.Equal(t, float64(77), body["version"])
	})

	t.Run("unfinished record is refreshed from the node", func(t *testing.T) {
		srv := New(":0", &fakeSubmitter{status: confirm.Outcome{Kind: confirm.OutcomePending}}, Options{Store: store}, testLogger())
		w, body := serve(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/v1/transactions/"+pending, nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "node", body["source"])
		assert.Equal(t, "pending", body["outcome"])
		assert.Equal(t, float64(10), body["sequence_number"])
	})

	t.Run("unknown hash", func(t *testing.T) {
		srv := New(":0", &fakeSubmitter{status: confirm.Outcome{Kind: confirm.OutcomeNotFound}}, Options{}, testLogger())
		w, _ := serve(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/v1/transactions/0x"+strings.Repeat("ef", 32), nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("node unreachable", func(t *testing.T) {
		srv := New(":0", &fakeSubmitter{status: confirm.Outcome{Kind: confirm.OutcomeTransportError, Err: errors.New("refused")}}, Options{}, testLogger())
		w, _ := serve(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/v1/transactions/0x"+strings.Repeat("ef", 32), nil))
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})

	t.Run("invalid hash", func(t *testing.T) {
		srv := New(":0", &fakeSubmitter{}, Options{}, testLogger())
		for _, h := range []string{"0x1234", strings.Repeat("zz", 32)} {
			w, _ := serve(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/v1/transactions/"+h, nil))
			assert.Equal(t, http.StatusBadRequest, w.Code, h)
		}
	})
}

func TestListTransactions(t *testing.T) {
	sender := txn.MustParseAddress("0x5")
	hash := "0x" + strings.Repeat("ab", 32)
	store := &fakeStore{records: map[string]*db.SubmissionRecord{
		hash: {Submission: pipeline.Submission{Hash: hash, Sender: sender, SequenceNumber: 1, Authenticator: "ed25519"}},
	}}
	srv := New(":0", &fakeSubmitter{}, Options{Store: store}, testLogger())

	w, body := serve(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/v1/transactions?sender=0x5&limit=10&offset=2", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, int32(10), store.listed.Limit)
	assert.Equal(t, int32(2), store.listed.Offset)
	assert.Equal(t, sender, store.listed.Sender)

	for _, q := range []string{"", "sender=nothex", "sender=0x5&limit=0", "sender=0x5&limit=1001", "sender=0x5&limit=abc", "sender=0x5&offset=-1"} {
		w, _ := serve(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/v1/transactions?"+q, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestListTransactions_DisabledWithoutStore(t *testing.T) {
	srv := New(":0", &fakeSubmitter{}, Options{}, testLogger())
	w, _ := serve(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/v1/transactions?sender=0x5", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestGetConfirmation(t *testing.T) {
	errMsg := "boom"
	confirmer := &mockConfirmer{}
	confirmer.On("DescribeConfirmation", mock.Anything, "running").Return(&temporal.ConfirmationStatus{WorkflowID: "running", Status: "running"}, nil)
	confirmer.On("DescribeConfirmation", mock.Anything, "done").Return(&temporal.ConfirmationStatus{
		WorkflowID: "done",
		Status:     "completed",
		Result: &temporal.ConfirmTransactionResult{
			Hash:    "0xabc",
			Sender:  "0x5",
			Outcome: confirm.OutcomeTransportError,
			Error:   &errMsg,
		},
	}, nil)
	confirmer.On("DescribeConfirmation", mock.Anything, "missing").Return(nil, temporal.ErrConfirmationNotFound)
	srv := New(":0", &fakeSubmitter{}, Options{Confirmer: confirmer}, testLogger())

	w, body := serve(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/v1/confirmations/running", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "running", body["status"])
	assert.Nil(t, body["result"])

	w, body = serve(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/v1/confirmations/done", nil))
	require.Equal(t, http.StatusOK, w.Code)
	result := body["result"].(map[string]interface{})
	assert.Equal(t, "transport_error", result["outcome"])
	assert.Equal(t, "boom", result["error"])
	assert.Equal(t, "workflow", result["source"])

	w, _ = serve(t, srv.Handler(), httptest.NewRequest(http.MethodGet, "/api/v1/confirmations/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthCORSAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	srv := New(":0", &fakeSubmitter{}, Options{Metrics: m, Registry: reg}, testLogger())
	h := srv.Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/v1/transactions", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `http_requests_total{handler="GET /health",method="GET",status="2xx"} 1`)
}
