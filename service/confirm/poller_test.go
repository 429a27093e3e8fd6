package confirm

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/aptostx/service/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedFetcher returns results in order and repeats the last one.
type scriptedFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
	onCall  func(n int)
}

type fetchResult struct {
	status Status
	err    error
}

func (f *scriptedFetcher) FetchStatus(ctx context.Context, hash string) (Status, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	r := f.results[min(n, len(f.results))-1]
	hook := f.onCall
	f.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return r.status, r.err
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func always(s Status) *scriptedFetcher {
	return &scriptedFetcher{results: []fetchResult{{status: s}}}
}

func TestAwait_ImmediateCommit(t *testing.T) {
	f := always(Status{Kind: StatusCommitted, Success: true, VMStatus: "Executed successfully", Version: 42})
	p := NewPoller(f, WithInterval(time.Millisecond))

	out := p.Await(context.Background(), "0xabc", 20*time.Second)

	assert.Equal(t, OutcomeCommitted, out.Kind)
	assert.True(t, out.Success)
	assert.Equal(t, uint64(42), out.Version)
	assert.Equal(t, "0xabc", out.Hash)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 1, f.Calls())
}

func TestAwait_CommittedFailureIsFinal(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{
		{status: Status{Kind: StatusNotFound}},
		{status: Status{Kind: StatusPending}},
		{status: Status{Kind: StatusCommitted, Success: false, VMStatus: "Move abort"}},
	}}
	p := NewPoller(f, WithInterval(time.Millisecond))

	out := p.Await(context.Background(), "0xabc", time.Second)

	assert.Equal(t, OutcomeCommitted, out.Kind)
	assert.False(t, out.Success)
	assert.Equal(t, "Move abort", out.VMStatus)
	assert.NoError(t, out.Err)
	assert.Equal(t, 3, f.Calls())
}

func TestAwait_TimesOutAfterBudget(t *testing.T) {
	tests := []struct {
		name      string
		statusKnd StatusKind
		maxWait   time.Duration
		want      int
	}{
		{"not found exact multiple", StatusNotFound, 10 * time.Millisecond, 5},
		{"not found rounds up", StatusNotFound, 9 * time.Millisecond, 5},
		{"pending", StatusPending, 6 * time.Millisecond, 3},
		{"zero budget still queries once", StatusNotFound, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := always(Status{Kind: tt.statusKnd})
			p := NewPoller(f, WithInterval(2*time.Millisecond))

			out := p.Await(context.Background(), "0xabc", tt.maxWait)

			assert.Equal(t, OutcomeTimedOut, out.Kind)
			assert.Equal(t, tt.want, out.Attempts)
			assert.Equal(t, tt.want, f.Calls())
			assert.NoError(t, out.Err)

			// No stray queries after the poller returned.
			time.Sleep(10 * time.Millisecond)
			assert.Equal(t, tt.want, f.Calls())
		})
	}
}

func TestAwait_TransportErrorStops(t *testing.T) {
	boom := errors.New("connection reset")
	f := &scriptedFetcher{results: []fetchResult{
		{status: Status{Kind: StatusNotFound}},
		{err: boom},
		{status: Status{Kind: StatusCommitted, Success: true}},
	}}
	p := NewPoller(f, WithInterval(time.Millisecond))

	out := p.Await(context.Background(), "0xabc", time.Second)

	assert.Equal(t, OutcomeTransportError, out.Kind)
	assert.ErrorIs(t, out.Err, boom)
	assert.Equal(t, 2, f.Calls())
}

func TestAwait_CancelDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := always(Status{Kind: StatusPending})
	f.onCall = func(int) { cancel() }
	p := NewPoller(f, WithInterval(time.Hour))

	start := time.Now()
	out := p.Await(ctx, "0xabc", 10*time.Hour)

	assert.Equal(t, OutcomeCancelled, out.Kind)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Equal(t, 1, f.Calls())
	assert.Less(t, time.Since(start), time.Second)
}

func TestAwait_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := always(Status{Kind: StatusCommitted, Success: true})
	out := NewPoller(f).Await(ctx, "0xabc", time.Minute)

	assert.Equal(t, OutcomeCancelled, out.Kind)
	assert.Equal(t, 0, f.Calls())
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name   string
		result fetchResult
		want   OutcomeKind
	}{
		{"not found", fetchResult{status: Status{Kind: StatusNotFound}}, OutcomeNotFound},
		{"pending", fetchResult{status: Status{Kind: StatusPending}}, OutcomePending},
		{"committed", fetchResult{status: Status{Kind: StatusCommitted, Success: true}}, OutcomeCommitted},
		{"error", fetchResult{err: errors.New("bad json")}, OutcomeTransportError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &scriptedFetcher{results: []fetchResult{tt.result}}
			out := NewPoller(f).Check(context.Background(), "0xabc")
			assert.Equal(t, tt.want, out.Kind)
			assert.Equal(t, 1, f.Calls())
		})
	}
}

func TestAwait_ElapsedUsesClock(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur := now
		now = now.Add(3 * time.Second)
		return cur
	}

	p := NewPoller(always(Status{Kind: StatusPending}), WithInterval(time.Millisecond), WithClock(clock))
	out := p.Await(context.Background(), "0xabc", 2*time.Millisecond)
	assert.Equal(t, OutcomeTimedOut, out.Kind)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, 3*time.Second, out.Elapsed)

	out = p.Check(context.Background(), "0xabc")
	assert.Equal(t, 3*time.Second, out.Elapsed)
}

func TestMaxAttempts(t *testing.T) {
	assert.Equal(t, 10, MaxAttempts(20*time.Second, 2*time.Second))
	assert.Equal(t, 11, MaxAttempts(21*time.Second, 2*time.Second))
	assert.Equal(t, 1, MaxAttempts(time.Second, 2*time.Second))
	assert.Equal(t, 1, MaxAttempts(0, 2*time.Second))
	assert.Equal(t, 1, MaxAttempts(time.Second, 0))

	// Budgets near the duration limit must not wrap around.
	huge := time.Duration(math.MaxInt64)
	assert.Equal(t, int(huge/(2*time.Second))+1, MaxAttempts(huge, 2*time.Second))
	assert.Equal(t, int((huge-time.Second)/(2*time.Second))+1, MaxAttempts(huge-time.Second, 2*time.Second))
	assert.Equal(t, int(huge), MaxAttempts(huge, 1))
}

func TestOutcomeKind_Text(t *testing.T) {
	for k := OutcomePending; k <= OutcomeCancelled; k++ {
		text, err := k.MarshalText()
		require.NoError(t, err)
		var back OutcomeKind
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, k, back)
	}
	_, err := ParseOutcomeKind("landed")
	assert.Error(t, err)
}

func TestAwait_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	f := &scriptedFetcher{results: []fetchResult{
		{status: Status{Kind: StatusNotFound}},
		{status: Status{Kind: StatusCommitted, Success: true}},
	}}

	out := NewPoller(f, WithInterval(time.Millisecond), WithMetrics(m)).Await(context.Background(), "0xabc", time.Second)
	require.Equal(t, OutcomeCommitted, out.Kind)

	series := seriesByName(t, reg)
	assert.Equal(t, 2, series["confirm_poll_attempts_total"], "one series per result label")
	assert.Equal(t, 1, series["confirm_outcomes_total"])
}

func seriesByName(t *testing.T, reg *prometheus.Registry) map[string]int {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]int, len(families))
	for _, f := range families {
		out[f.GetName()] = len(f.GetMetric())
	}
	return out
}
