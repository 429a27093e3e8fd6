package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"
)

// SubscribeOptions selects which outcome events a subscription receives.
type SubscribeOptions struct {
	// Sender filters to one sender address; empty receives every sender.
	Sender string
	// Durable names a consumer that survives restarts. Empty creates an
	// ephemeral consumer that starts with new messages.
	Durable string
}

// Subscribe delivers outcome events to handle until ctx is done. Messages
// that fail to decode are logged and acknowledged.
func Subscribe(ctx context.Context, js jetstream.JetStream, opts SubscribeOptions, logger *slog.Logger, handle func(*OutcomeEvent)) error {
	filter := StreamSubjects
	if opts.Sender != "" {
		filter = Subject(opts.Sender)
	}
	cfg := jetstream.ConsumerConfig{
		FilterSubject: filter,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	if opts.Durable != "" {
		cfg.Durable = opts.Durable
		cfg.DeliverPolicy = jetstream.DeliverAllPolicy
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, StreamName, cfg)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		var event OutcomeEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			logger.Warn("failed to decode outcome event", "subject", msg.Subject(), "error", err)
			_ = msg.Ack()
			return
		}
		handle(&event)
		_ = msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}
	defer cc.Stop()

	<-ctx.Done()
	return nil
}
