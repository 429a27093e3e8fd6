// Package confirm implements the bounded confirmation poller: after a
// transaction is submitted it queries the status by hash until the network
// commits it, the wait budget runs out, the query channel fails, or the
// caller cancels.
package confirm

import (
	"context"
	"fmt"
	"time"
)

// StatusKind is the decoded status of a transaction lookup.
type StatusKind int

const (
	StatusNotFound StatusKind = iota
	StatusPending
	StatusCommitted
)

func (k StatusKind) String() string {
	switch k {
	case StatusNotFound:
		return "not_found"
	case StatusPending:
		return "pending"
	case StatusCommitted:
		return "committed"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Status is what a single lookup by hash returned. Success, VMStatus and
// Version are only meaningful when Kind is StatusCommitted.
type Status struct {
	Kind     StatusKind
	Success  bool
	VMStatus string
	Version  uint64
}

// StatusFetcher looks a transaction up by hash. A transaction the node does
// not know yet is StatusNotFound with a nil error; errors are reserved for
// transport failures and malformed responses.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, hash string) (Status, error)
}

// OutcomeKind is the caller-visible result of confirmation.
type OutcomeKind int

const (
	OutcomePending OutcomeKind = iota
	OutcomeCommitted
	OutcomeNotFound
	OutcomeTimedOut
	OutcomeTransportError
	OutcomeCancelled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomePending:
		return "pending"
	case OutcomeCommitted:
		return "committed"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeTransportError:
		return "transport_error"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ParseOutcomeKind is the inverse of OutcomeKind.String.
func ParseOutcomeKind(s string) (OutcomeKind, error) {
	for k := OutcomePending; k <= OutcomeCancelled; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown outcome kind %q", s)
}

// MarshalText implements encoding.TextMarshaler so outcomes serialize by name.
func (k OutcomeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *OutcomeKind) UnmarshalText(text []byte) error {
	parsed, err := ParseOutcomeKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Outcome is the result of Await or Check.
//
// A Committed outcome with Success false is a valid final result: the
// transaction executed and aborted on chain. TimedOut means the budget was
// spent while the network still had no verdict; the transaction may land
// later.
type Outcome struct {
	Kind     OutcomeKind   `json:"kind"`
	Hash     string        `json:"hash"`
	Success  bool          `json:"success"`
	VMStatus string        `json:"vm_status,omitempty"`
	Version  uint64        `json:"version,omitempty"`
	Attempts int           `json:"attempts"`
	Elapsed  time.Duration `json:"elapsed"`
	Err      error         `json:"-"`
}

// Terminal reports whether polling stops at this outcome.
func (o Outcome) Terminal() bool {
	return o.Kind != OutcomePending && o.Kind != OutcomeNotFound
}

// Next applies the transition rule to one lookup result. It returns
// OutcomePending for both "not found" and "still pending".
func Next(status Status, err error) OutcomeKind {
	if err != nil {
		return OutcomeTransportError
	}
	if status.Kind == StatusCommitted {
		return OutcomeCommitted
	}
	return OutcomePending
}

// MaxAttempts converts a wait budget into a number of status queries:
// ceil(maxWait / interval), and at least one.
func MaxAttempts(maxWait, interval time.Duration) int {
	if interval <= 0 || maxWait <= 0 {
		return 1
	}
	n := maxWait / interval
	if maxWait%interval != 0 {
		n++
	}
	return max(int(n), 1)
}
