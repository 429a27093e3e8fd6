package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/aptostx/service/confirm"
	"github.com/brojonat/aptostx/service/metrics"
	"github.com/brojonat/aptostx/service/txn"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing outcome events to NATS.
type Publisher interface {
	// PublishOutcome converts o and publishes it for sender.
	PublishOutcome(ctx context.Context, sender txn.Address, o confirm.Outcome) error

	// PublishEvent publishes an already built event to "aptostx.outcomes.{sender}".
	PublishEvent(ctx context.Context, event *OutcomeEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes outcome events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	logger  *slog.Logger
	metrics *metrics.Metrics
}

const (
	// StreamName is the name of the JetStream stream for outcomes.
	StreamName = "APTOS_OUTCOMES"

	// SubjectPrefix precedes the sender address in every subject.
	SubjectPrefix = "aptostx.outcomes."

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = SubjectPrefix + "*"

	// StreamRetention is how long messages are retained (7 days by default).
	StreamRetention = 7 * 24 * time.Hour
)

// Connect dials NATS with the reconnect settings shared by publishers and
// subscribers.
func Connect(natsURL, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists. m may be nil.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := Connect(natsURL, "aptostx-publisher")
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		logger:  logger,
		metrics: m,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	_, err = p.js.CreateStream(ctx, StreamConfig())
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// StreamConfig is the configuration of the outcome stream.
func StreamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Confirmation outcomes of submitted Aptos transactions",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}
}

func (p *JetStreamPublisher) PublishOutcome(ctx context.Context, sender txn.Address, o confirm.Outcome) error {
	return p.PublishEvent(ctx, FromOutcome(sender, o))
}

// PublishEvent publishes a single outcome event. The message id is the
// transaction hash plus outcome so JetStream drops duplicate publishes.
func (p *JetStreamPublisher) PublishEvent(ctx context.Context, event *OutcomeEvent) error {
	subject := Subject(event.Sender)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome event: %w", err)
	}

	start := time.Now()
	_, err = p.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.Hash+":"+event.Outcome.String()))
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordNATSPublish(StreamSubjects, status, time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("failed to publish outcome: %w", err)
	}

	p.logger.Debug("published outcome event",
		"subject", subject,
		"hash", event.Hash,
		"outcome", event.Outcome.String(),
	)

	return nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
