package confirm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/brojonat/aptostx/service/metrics"
)

// DefaultInterval is the wait between status queries.
const DefaultInterval = 2 * time.Second

// Poller runs the confirmation state machine. It holds no per-transaction
// state, so one Poller may serve many concurrent Await calls.
type Poller struct {
	fetcher  StatusFetcher
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

type Option func(*Poller)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock replaces time.Now when measuring Outcome.Elapsed.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// WithMetrics records poll attempts and outcomes. Nil disables metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Poller) { p.metrics = m }
}

func NewPoller(fetcher StatusFetcher, opts ...Option) *Poller {
	p := &Poller{
		fetcher:  fetcher,
		interval: DefaultInterval,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Interval returns the wait between queries.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Check issues a single status query. Unlike Await it reports NotFound and
// Pending as they are.
func (p *Poller) Check(ctx context.Context, hash string) Outcome {
	start := p.now()
	status, err := p.fetch(ctx, hash)
	out := Outcome{Hash: hash, Attempts: 1}
	switch {
	case err != nil && ctx.Err() != nil:
		out.Kind = OutcomeCancelled
		out.Err = ctx.Err()
	case err != nil:
		out.Kind = OutcomeTransportError
		out.Err = err
	case status.Kind == StatusNotFound:
		out.Kind = OutcomeNotFound
	case status.Kind == StatusPending:
		out.Kind = OutcomePending
	default:
		out = committed(out, status)
	}
	out.Elapsed = p.now().Sub(start)
	return out
}

// Await polls until the transaction commits, a query fails, ctx is done or
// MaxAttempts(maxWait, interval) queries have returned without a verdict.
// It waits one interval between queries and never after the last one.
func (p *Poller) Await(ctx context.Context, hash string, maxWait time.Duration) Outcome {
	start := p.now()
	limit := MaxAttempts(maxWait, p.interval)
	out := Outcome{Hash: hash, Kind: OutcomePending}

	finish := func(o Outcome) Outcome {
		o.Elapsed = p.now().Sub(start)
		p.logger.InfoContext(ctx, "confirmation finished",
			"hash", hash,
			"outcome", o.Kind.String(),
			"success", o.Success,
			"attempts", o.Attempts,
			"elapsed", o.Elapsed,
		)
		if p.metrics != nil {
			p.metrics.RecordOutcome(o.Kind.String(), o.Elapsed.Seconds())
		}
		return o
	}

	if err := ctx.Err(); err != nil {
		out.Kind = OutcomeCancelled
		out.Err = err
		return finish(out)
	}

	timer := time.NewTimer(p.interval)
	timer.Stop()
	defer timer.Stop()

	for {
		out.Attempts++
		status, err := p.fetch(ctx, hash)

		switch Next(status, err) {
		case OutcomeTransportError:
			if ctxErr := ctx.Err(); ctxErr != nil {
				out.Kind = OutcomeCancelled
				out.Err = ctxErr
				return finish(out)
			}
			out.Kind = OutcomeTransportError
			out.Err = err
			return finish(out)
		case OutcomeCommitted:
			return finish(committed(out, status))
		}

		p.logger.DebugContext(ctx, "transaction not final",
			"hash", hash,
			"status", status.Kind.String(),
			"attempt", out.Attempts,
			"max_attempts", limit,
		)

		if out.Attempts >= limit {
			out.Kind = OutcomeTimedOut
			return finish(out)
		}

		timer.Reset(p.interval)
		select {
		case <-ctx.Done():
			out.Kind = OutcomeCancelled
			out.Err = ctx.Err()
			return finish(out)
		case <-timer.C:
		}
	}
}

func (p *Poller) fetch(ctx context.Context, hash string) (Status, error) {
	status, err := p.fetcher.FetchStatus(ctx, hash)
	if p.metrics != nil {
		result := status.Kind.String()
		if err != nil {
			result = "error"
		}
		p.metrics.RecordPollAttempt(result)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		p.logger.WarnContext(ctx, "status query failed", "hash", hash, "error", err)
	}
	return status, err
}

func committed(out Outcome, status Status) Outcome {
	out.Kind = OutcomeCommitted
	out.Success = status.Success
	out.VMStatus = status.VMStatus
	out.Version = status.Version
	return out
}
