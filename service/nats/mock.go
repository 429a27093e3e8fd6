package nats

import (
	"context"
	"sync"

	"github.com/brojonat/aptostx/service/confirm"
	"github.com/brojonat/aptostx/service/txn"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu              sync.RWMutex
	publishedEvents []*OutcomeEvent
	publishError    error
	closed          bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		publishedEvents: make([]*OutcomeEvent, 0),
	}
}

func (m *MockPublisher) PublishOutcome(ctx context.Context, sender txn.Address, o confirm.Outcome) error {
	return m.PublishEvent(ctx, FromOutcome(sender, o))
}

// PublishEvent records the event and returns any configured error.
func (m *MockPublisher) PublishEvent(ctx context.Context, event *OutcomeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.publishedEvents = append(m.publishedEvents, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedEvents returns all published events (for testing).
func (m *MockPublisher) GetPublishedEvents() []*OutcomeEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*OutcomeEvent, len(m.publishedEvents))
	copy(events, m.publishedEvents)
	return events
}

// GetPublishedEventsForSender returns events published for a specific sender.
func (m *MockPublisher) GetPublishedEventsForSender(address string) []*OutcomeEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*OutcomeEvent, 0)
	for _, event := range m.publishedEvents {
		if event.Sender == address {
			events = append(events, event)
		}
	}
	return events
}

// SetPublishError configures the mock to return an error on publish.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// Reset clears all published events and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishedEvents = make([]*OutcomeEvent, 0)
	m.publishError = nil
	m.closed = false
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
