package nats

import (
	"time"

	"github.com/brojonat/aptostx/service/confirm"
	"github.com/brojonat/aptostx/service/txn"
)

// OutcomeEvent is the final result of confirming one transaction.
// It is published to the subject "aptostx.outcomes.{sender}" in JetStream.
type OutcomeEvent struct {
	Hash   string `json:"hash"`
	Sender string `json:"sender"`

	Outcome  confirm.OutcomeKind `json:"outcome"`
	Success  bool                `json:"success"`
	VMStatus string              `json:"vm_status,omitempty"`
	Version  uint64              `json:"version,omitempty"`
	Error    string              `json:"error,omitempty"`

	Attempts    int       `json:"attempts"`
	ElapsedMS   int64     `json:"elapsed_ms"`
	PublishedAt time.Time `json:"published_at"`
}

// FromOutcome converts a confirmation outcome to an OutcomeEvent for publishing.
func FromOutcome(sender txn.Address, o confirm.Outcome) *OutcomeEvent {
	event := &OutcomeEvent{
		Hash:        o.Hash,
		Sender:      sender.String(),
		Outcome:     o.Kind,
		Success:     o.Success,
		VMStatus:    o.VMStatus,
		Version:     o.Version,
		Attempts:    o.Attempts,
		ElapsedMS:   o.Elapsed.Milliseconds(),
		PublishedAt: time.Now().UTC(),
	}
	if o.Err != nil {
		event.Error = o.Err.Error()
	}
	return event
}

// Subject returns the subject events for sender are published on.
func Subject(sender string) string {
	return SubjectPrefix + sender
}
