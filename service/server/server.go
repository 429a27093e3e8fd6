// Package server is the HTTP gateway in front of the pipeline. Callers that
// sign elsewhere POST the signed BCS bytes; the gateway submits them, hands
// confirmation to Temporal and serves recorded outcomes.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/aptostx/service/confirm"
	"github.com/brojonat/aptostx/service/db"
	"github.com/brojonat/aptostx/service/metrics"
	"github.com/brojonat/aptostx/service/pipeline"
	"github.com/brojonat/aptostx/service/temporal"
	"github.com/brojonat/aptostx/service/txn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Submitter is the part of *pipeline.Pipeline the gateway uses.
type Submitter interface {
	Submit(ctx context.Context, signed *txn.SignedTransaction) (pipeline.Submission, error)
	Status(ctx context.Context, hash string) confirm.Outcome
}

// Confirmer starts and inspects confirmation workflows. *temporal.Client
// implements it.
type Confirmer interface {
	StartConfirmation(ctx context.Context, input temporal.ConfirmTransactionInput) (string, error)
	DescribeConfirmation(ctx context.Context, workflowID string) (*temporal.ConfirmationStatus, error)
}

// SubmissionStore reads recorded submissions. *db.Store implements it.
type SubmissionStore interface {
	GetSubmission(ctx context.Context, hash string) (*db.SubmissionRecord, error)
	ListSubmissionsBySender(ctx context.Context, params db.ListSubmissionsParams) ([]*db.SubmissionRecord, error)
}

// Options holds the gateway's optional collaborators. Nil fields disable
// the routes that need them.
type Options struct {
	Store     SubmissionStore
	Confirmer Confirmer
	SSE       *SSEPublisher
	Metrics   *metrics.Metrics
	// Registry serves /metrics; it should be the one Metrics registers on.
	Registry *prometheus.Registry

	// WaitTimeout and PollInterval parameterize confirmation workflows.
	WaitTimeout  time.Duration
	PollInterval time.Duration
}

// Server is the HTTP gateway.
type Server struct {
	addr      string
	submitter Submitter
	opts      Options
	logger    *slog.Logger
	server    *http.Server
}

// New creates a gateway listening on addr.
func New(addr string, submitter Submitter, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 20 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = confirm.DefaultInterval
	}
	return &Server{
		addr:      addr,
		submitter: submitter,
		opts:      opts,
		logger:    logger,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /api/v1/transactions", handleSubmitTransaction(s.submitter, s.opts, s.logger))
	mux.Handle("GET /api/v1/transactions/{hash}", handleGetTransaction(s.submitter, s.opts.Store, s.logger))

	if s.opts.Store != nil {
		mux.Handle("GET /api/v1/transactions", handleListTransactions(s.opts.Store, s.logger))
	} else {
		s.logger.Warn("store not configured, submission listing disabled")
	}

	if s.opts.Confirmer != nil {
		mux.Handle("GET /api/v1/confirmations/{workflow_id}", handleGetConfirmation(s.opts.Confirmer, s.logger))
	} else {
		s.logger.Warn("temporal not configured, confirmation endpoints disabled")
	}

	if s.opts.SSE != nil {
		mux.Handle("GET /api/v1/stream/outcomes/{sender}", handleStreamOutcomes(s.opts.SSE, s.logger))
		mux.Handle("GET /api/v1/stream/outcomes", handleStreamOutcomes(s.opts.SSE, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoints disabled")
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if s.opts.Registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.opts.Registry, promhttp.HandlerOpts{}))
	}

	var handler http.Handler = mux
	if s.opts.Metrics != nil {
		handler = s.opts.Metrics.HTTPMiddleware(routePattern(mux), handler)
	}
	return corsMiddleware(handler)
}

// routePattern labels requests with the mux pattern that serves them, so
// hashes and addresses never become label values.
func routePattern(mux *http.ServeMux) func(*http.Request) string {
	return func(r *http.Request) string {
		_, pattern := mux.Handler(r)
		if pattern == "" {
			return "unmatched"
		}
		return pattern
	}
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// Streams stay open; handlers bound their own work.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close SSE publisher first (disconnects all clients)
	if s.opts.SSE != nil {
		s.opts.SSE.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
