package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/aptostx/service/metrics"
	natspkg "github.com/brojonat/aptostx/service/nats"
	"github.com/brojonat/aptostx/service/txn"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// keepaliveInterval is how often an idle stream gets a comment line.
const keepaliveInterval = 10 * time.Second

type subscribeFunc func(ctx context.Context, opts natspkg.SubscribeOptions, handle func(*natspkg.OutcomeEvent)) error

// SSEPublisher fans outcome events from JetStream out to Server-Sent Events
// clients. Every connection gets its own ephemeral consumer.
type SSEPublisher struct {
	nc        *nats.Conn
	subscribe subscribeFunc
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewSSEPublisher connects to NATS. m may be nil.
func NewSSEPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*SSEPublisher, error) {
	nc, err := natspkg.Connect(natsURL, "aptostx-sse-publisher")
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("SSE publisher initialized", "nats_url", natsURL)

	p := newSSEPublisher(func(ctx context.Context, opts natspkg.SubscribeOptions, handle func(*natspkg.OutcomeEvent)) error {
		return natspkg.Subscribe(ctx, js, opts, logger, handle)
	}, m, logger)
	p.nc = nc
	return p, nil
}

func newSSEPublisher(subscribe subscribeFunc, m *metrics.Metrics, logger *slog.Logger) *SSEPublisher {
	return &SSEPublisher{subscribe: subscribe, metrics: m, logger: logger}
}

// Close closes the NATS connection.
func (p *SSEPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("SSE publisher closed")
	}
	return nil
}

// writeSSE writes one event frame.
func writeSSE(w io.Writer, event string, data []byte) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func flush(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// handleStreamOutcomes streams outcome events. Without a sender path value
// every sender's outcomes are streamed.
// GET /api/v1/stream/outcomes/{sender}
func handleStreamOutcomes(publisher *SSEPublisher, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope := "all"
		var opts natspkg.SubscribeOptions
		if raw := r.PathValue("sender"); raw != "" {
			sender, err := txn.ParseAddress(raw)
			if err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			opts.Sender = sender.String()
			scope = "sender"
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		flush(w)

		ctx := r.Context()
		logger.DebugContext(ctx, "SSE client connected", "sender", opts.Sender, "remote_addr", r.RemoteAddr)
		if publisher.metrics != nil {
			publisher.metrics.RecordSSEConnectionChange(scope, 1)
			defer publisher.metrics.RecordSSEConnectionChange(scope, -1)
		}

		events := make(chan *natspkg.OutcomeEvent, 10)
		subErr := make(chan error, 1)
		go func() {
			subErr <- publisher.subscribe(ctx, opts, func(e *natspkg.OutcomeEvent) {
				select {
				case events <- e:
				case <-ctx.Done():
				}
			})
		}()

		hello, _ := json.Marshal(map[string]string{"sender": opts.Sender})
		writeSSE(w, "connected", hello)
		flush(w)

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprint(w, ": keepalive\n\n")
				flush(w)

			case e := <-events:
				data, err := json.Marshal(e)
				if err != nil {
					logger.WarnContext(ctx, "failed to marshal event", "error", err)
					continue
				}
				if err := writeSSE(w, "outcome", data); err != nil {
					return
				}
				flush(w)
				if publisher.metrics != nil {
					publisher.metrics.RecordSSEEventSent(scope, "outcome")
				}
				logger.DebugContext(ctx, "sent outcome event", "hash", e.Hash, "outcome", e.Outcome.String())

			case err := <-subErr:
				if err != nil {
					logger.ErrorContext(ctx, "outcome subscription failed", "error", err)
					writeSSE(w, "error", []byte(`{"error":"failed to subscribe"}`))
					flush(w)
				}
				return

			case <-ctx.Done():
				logger.DebugContext(ctx, "SSE client disconnected", "remote_addr", r.RemoteAddr)
				return
			}
		}
	})
}
