package audit

import (
	"context"
	"sync"

	id "vicinity/pkg/domain"
)

// InMemorySink stores events in memory for tests and development runs.
type InMemorySink struct {
	mu     sync.RWMutex
	events []Event
}

// NewInMemorySink creates an empty in-memory sink.
func NewInMemorySink() *InMemorySink {
	return &InMemorySink{}
}

// Append stores one event.
func (s *InMemorySink) Append(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// ListByDevice returns all stored events for a device in emission order.
func (s *InMemorySink) ListByDevice(ctx context.Context, deviceID id.DeviceID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Event
	for _, event := range s.events {
		if event.DeviceID == deviceID {
			result = append(result, event)
		}
	}
	return result, nil
}
