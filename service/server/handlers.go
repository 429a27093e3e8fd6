package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/aptostx/service/aptos"
	"github.com/brojonat/aptostx/service/confirm"
	"github.com/brojonat/aptostx/service/db"
	"github.com/brojonat/aptostx/service/pipeline"
	"github.com/brojonat/aptostx/service/temporal"
	"github.com/brojonat/aptostx/service/txn"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB, far above any signed transaction
	maxWaitParam       = 10 * time.Minute
)

// submitRequest is the JSON form of a submission. The BCS content type
// sends the same bytes as the raw body instead.
type submitRequest struct {
	SignedTransaction string `json:"signed_transaction"`
	Wait              string `json:"wait,omitempty"`
}

// submissionResponse is returned by POST /api/v1/transactions.
type submissionResponse struct {
	Hash           string    `json:"hash"`
	Sender         string    `json:"sender"`
	SequenceNumber uint64    `json:"sequence_number"`
	Authenticator  string    `json:"authenticator"`
	Secondaries    []string  `json:"secondaries,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
	SubmittedAt    time.Time `json:"submitted_at"`
	WorkflowID     string    `json:"workflow_id,omitempty"`
}

func submissionToResponse(sub pipeline.Submission) submissionResponse {
	resp := submissionResponse{
		Hash:           sub.Hash,
		Sender:         sub.Sender.String(),
		SequenceNumber: sub.SequenceNumber,
		Authenticator:  sub.Authenticator,
		ExpiresAt:      sub.ExpiresAt,
		SubmittedAt:    sub.SubmittedAt,
	}
	for _, a := range sub.Secondaries {
		resp.Secondaries = append(resp.Secondaries, a.String())
	}
	return resp
}

// handleSubmitTransaction relays a signed transaction to the node and,
// when Temporal is configured, starts its confirmation workflow.
// POST /api/v1/transactions
func handleSubmitTransaction(submitter Submitter, opts Options, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		raw, waitStr, err := readSignedTransaction(r)
		if err != nil {
			logger.Debug("failed to read submission", "error", err)
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
				return
			}
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		wait := opts.WaitTimeout
		if waitStr != "" {
			if wait, err = parseWait(waitStr); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		signed, err := txn.DecodeSignedTransaction(raw)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if signed.IsSimulation() {
			writeError(w, txn.ErrSimulationAuthenticator.Error(), http.StatusBadRequest)
			return
		}

		sub, err := submitter.Submit(r.Context(), signed)
		if err != nil {
			var apiErr *aptos.APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
				logger.Info("node rejected transaction", "hash", signed.Hash(), "error", err)
				writeJSON(w, map[string]interface{}{
					"error":         apiErr.Message,
					"error_code":    apiErr.ErrorCode,
					"vm_error_code": apiErr.VMErrorCode,
					"hash":          signed.Hash(),
				}, http.StatusUnprocessableEntity)
				return
			}
			logger.Error("failed to submit transaction", "hash", signed.Hash(), "error", err)
			writeError(w, "failed to reach the fullnode", http.StatusBadGateway)
			return
		}

		resp := submissionToResponse(sub)
		if opts.Confirmer != nil {
			id, err := opts.Confirmer.StartConfirmation(r.Context(), temporal.ConfirmTransactionInput{
				Hash:     sub.Hash,
				Sender:   sub.Sender.String(),
				MaxWait:  wait,
				Interval: opts.PollInterval,
			})
			if err != nil {
				// The node already has the transaction; report it anyway.
				logger.Error("failed to start confirmation", "hash", sub.Hash, "error", err)
			} else {
				resp.WorkflowID = id
			}
		}

		logger.Info("transaction relayed",
			"hash", sub.Hash,
			"sender", resp.Sender,
			"workflow_id", resp.WorkflowID,
		)
		writeJSON(w, resp, http.StatusAccepted)
	})
}

// readSignedTransaction returns the BCS bytes of the request and the
// optional wait override.
func readSignedTransaction(r *http.Request) ([]byte, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case aptos.ContentTypeSignedTransaction, "application/octet-stream":
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, "", err
		}
		if len(b) == 0 {
			return nil, "", fmt.Errorf("request body is empty")
		}
		return b, r.URL.Query().Get("wait"), nil
	case "application/json", "":
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, "", err
			}
			return nil, "", fmt.Errorf("invalid request body: must be valid JSON")
		}
		if req.SignedTransaction == "" {
			return nil, "", fmt.Errorf("signed_transaction is required")
		}
		b, err := hex.DecodeString(strings.TrimPrefix(req.SignedTransaction, "0x"))
		if err != nil {
			return nil, "", fmt.Errorf("signed_transaction must be hex: %v", err)
		}
		return b, req.Wait, nil
	default:
		return nil, "", fmt.Errorf("unsupported content type %q", mediaType)
	}
}

func parseWait(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid wait %q: %v", s, err)
	}
	if d < 0 || d > maxWaitParam {
		return 0, fmt.Errorf("wait must be between 0 and %s", maxWaitParam)
	}
	return d, nil
}

// transactionResponse is a recorded submission, or a live lookup when the
// gateway has no record of the hash.
type transactionResponse struct {
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

func recordToResponse(rec *db.SubmissionRecord) transactionResponse {
	resp := transactionResponse{
		Hash:           rec.Hash,
		Sender:         rec.Sender.String(),
		SequenceNumber: &rec.SequenceNumber,
		Authenticator:  rec.Authenticator,
		SubmittedAt:    &rec.SubmittedAt,
		ExpiresAt:      &rec.ExpiresAt,
		Outcome:        "unknown",
		Source:         "store",
	}
	for _, a := range rec.Secondaries {
		resp.Secondaries = append(resp.Secondaries, a.String())
	}
	if o := rec.Outcome; o != nil {
		resp.Outcome = o.Outcome.String()
		resp.Success = o.Success
		resp.VMStatus = o.VMStatus
		resp.Version = o.Version
		resp.Attempts = o.Attempts
		resp.Error = o.Error
		resp.RecordedAt = &o.RecordedAt
	}
	return resp
}

func outcomeToResponse(o confirm.Outcome) transactionResponse {
	resp := transactionResponse{
		Hash:     o.Hash,
		Outcome:  o.Kind.String(),
		Success:  o.Success,
		VMStatus: o.VMStatus,
		Version:  o.Version,
		Attempts: o.Attempts,
		Source:   "node",
	}
	if o.Err != nil {
		msg := o.Err.Error()
		resp.Error = &msg
	}
	return resp
}

// handleGetTransaction returns what the gateway knows about a hash. A
// recorded final outcome is served from the store; anything else asks the
// node once.
// GET /api/v1/transactions/{hash}
func handleGetTransaction(submitter Submitter, store SubmissionStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash, err := validateHash(r.PathValue("hash"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		var rec *db.SubmissionRecord
		if store != nil {
			rec, err = store.GetSubmission(r.Context(), hash)
			switch {
			case errors.Is(err, db.ErrNotFound):
				rec = nil
			case err != nil:
				logger.Error("failed to get submission", "hash", hash, "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
				return
			}
		}
		if rec != nil && rec.Outcome != nil && rec.Outcome.Outcome == confirm.OutcomeCommitted {
			writeJSON(w, recordToResponse(rec), http.StatusOK)
			return
		}

		live := submitter.Status(r.Context(), hash)
		if rec != nil {
			resp := recordToResponse(rec)
			resp.Outcome = live.Kind.String()
			resp.Success = live.Success
			resp.VMStatus = live.VMStatus
			resp.Version = live.Version
			resp.Source = "node"
			writeJSON(w, resp, http.StatusOK)
			return
		}

		switch live.Kind {
		case confirm.OutcomeNotFound:
			writeError(w, "transaction not found", http.StatusNotFound)
		case confirm.OutcomeTransportError:
			logger.Warn("status lookup failed", "hash", hash, "error", live.Err)
			writeError(w, "failed to reach the fullnode", http.StatusBadGateway)
		default:
			writeJSON(w, outcomeToResponse(live), http.StatusOK)
		}
	})
}

// handleListTransactions lists recorded submissions for a sender.
// GET /api/v1/transactions?sender=ADDRESS&limit=N&offset=N
func handleListTransactions(store SubmissionStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		senderStr := query.Get("sender")
		if senderStr == "" {
			writeError(w, "sender query parameter is required", http.StatusBadRequest)
			return
		}
		sender, err := txn.ParseAddress(senderStr)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit, err := intParam(query.Get("limit"), 100, 1, 1000, "limit")
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		offset, err := intParam(query.Get("offset"), 0, 0, -1, "offset")
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		recs, err := store.ListSubmissionsBySender(r.Context(), db.ListSubmissionsParams{
			Sender: sender,
			Limit:  int32(limit),
			Offset: int32(offset),
		})
		if err != nil {
			logger.Error("failed to list submissions", "sender", sender.String(), "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Debug("submissions listed", "sender", sender.String(), "count", len(recs))

		resp := make([]transactionResponse, len(recs))
		for i, rec := range recs {
			resp[i] = recordToResponse(rec)
		}
		writeJSON(w, map[string]interface{}{
			"transactions": resp,
			"count":        len(resp),
			"limit":        limit,
			"offset":       offset,
		}, http.StatusOK)
	})
}

// intParam parses an optional integer query parameter. max < 0 means no
// upper bound.
func intParam(s string, def, min, max int, name string) (int, error) {
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, errorf("invalid %s parameter: must be an integer", name)
	}
	if v < min {
		return 0, errorf("%s must be at least %d", name, min)
	}
	if max >= 0 && v > max {
		return 0, errorf("%s cannot exceed %d", name, max)
	}
	return v, nil
}

// confirmationResponse is the state of a confirmation workflow.
type confirmationResponse struct {
	WorkflowID string               `json:"workflow_id"`
	Status     string               `json:"status"`
	Result     *transactionResponse `json:"result,omitempty"`
}

// handleGetConfirmation reports a confirmation workflow without waiting.
// GET /api/v1/confirmations/{workflow_id}
func handleGetConfirmation(confirmer Confirmer, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("workflow_id")
		if id == "" {
			writeError(w, "workflow_id is required", http.StatusBadRequest)
			return
		}

		st, err := confirmer.DescribeConfirmation(r.Context(), id)
		if errors.Is(err, temporal.ErrConfirmationNotFound) {
			writeError(w, "confirmation not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("failed to describe confirmation", "workflow_id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := confirmationResponse{WorkflowID: st.WorkflowID, Status: st.Status}
		if st.Result != nil {
			res := outcomeToResponse(st.Result.ToOutcome())
			res.Sender = st.Result.Sender
			res.Source = "workflow"
			resp.Result = &res
		}
		writeJSON(w, resp, http.StatusOK)
	})
}

// validateHash accepts a 32-byte hex hash with or without 0x and returns
// it in the lowercase 0x form the node uses.
func validateHash(h string) (string, error) {
	h = strings.ToLower(strings.TrimPrefix(h, "0x"))
	if len(h) != 64 {
		return "", errorf("invalid transaction hash: want 64 hex characters")
	}
	if _, err := hex.DecodeString(h); err != nil {
		return "", errorf("invalid transaction hash: not hex")
	}
	return "0x" + h, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, map[string]string{"error": message}, statusCode)
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
