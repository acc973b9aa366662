package observation

import (
	"context"
	"sync"
	"time"

	"vicinity/internal/verification/models"
	id "vicinity/pkg/domain"
)

// InMemoryObservationStore implements the append-only movement log in
// memory. Used as the test double; production wires PostgresStore.
type InMemoryObservationStore struct {
	mu   sync.RWMutex
	logs map[id.DeviceID][]models.MovementObservation
}

// NewInMemory creates an empty in-memory observation log.
func NewInMemory() *InMemoryObservationStore {
	return &InMemoryObservationStore{
		logs: make(map[id.DeviceID][]models.MovementObservation),
	}
}

// Append writes one observation to the device's log.
func (s *InMemoryObservationStore) Append(ctx context.Context, obs *models.MovementObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[obs.DeviceID] = append(s.logs[obs.DeviceID], *obs)
	return nil
}

// RecentPresence returns located observations since the given time, most
// recent first.
func (s *InMemoryObservationStore) RecentPresence(ctx context.Context, deviceID id.DeviceID, since time.Time) ([]models.PresenceObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.logs[deviceID]
	var result []models.PresenceObservation
	for i := len(log) - 1; i >= 0; i-- {
		obs := log[i]
		if obs.ObservedAt.Before(since) || obs.Geocell.IsZero() {
			continue
		}
		result = append(result, models.PresenceObservation{
			Geocell:    obs.Geocell,
			ObservedAt: obs.ObservedAt,
		})
	}
	return result, nil
}

// MovementCountAt counts movement-detected observations at the geocell since
// the given time.
func (s *InMemoryObservationStore) MovementCountAt(ctx context.Context, deviceID id.DeviceID, cell id.Geocell, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, obs := range s.logs[deviceID] {
		if obs.MovementDetected && obs.Geocell == cell && !obs.ObservedAt.Before(since) {
			count++
		}
	}
	return count, nil
}
