package presence

import (
	"context"
	"sync"
	"time"

	"vicinity/internal/verification/models"
	id "vicinity/pkg/domain"
	"vicinity/pkg/platform/sentinel"
)

// InMemoryIndex implements PresenceIndex with a map of latest sightings.
// Used as the test double and when Redis is not configured.
type InMemoryIndex struct {
	mu     sync.RWMutex
	latest map[id.DeviceID]models.PresenceObservation
}

// NewInMemory creates an empty in-memory presence index.
func NewInMemory() *InMemoryIndex {
	return &InMemoryIndex{
		latest: make(map[id.DeviceID]models.PresenceObservation),
	}
}

// Record remembers the sighting if it is newer than the current one.
func (s *InMemoryIndex) Record(ctx context.Context, deviceID id.DeviceID, obs models.PresenceObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.latest[deviceID]; ok && obs.ObservedAt.Before(current.ObservedAt) {
		return nil
	}
	s.latest[deviceID] = obs
	return nil
}

// Latest returns the most recent sighting since the given time.
func (s *InMemoryIndex) Latest(ctx context.Context, deviceID id.DeviceID, since time.Time) (*models.PresenceObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obs, ok := s.latest[deviceID]
	if !ok || obs.ObservedAt.Before(since) {
		return nil, sentinel.ErrNotFound
	}
	clone := obs
	return &clone, nil
}
