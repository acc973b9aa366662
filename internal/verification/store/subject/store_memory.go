package subject

import (
	"context"
	"sync"

	"vicinity/internal/verification/models"
	id "vicinity/pkg/domain"
	"vicinity/pkg/platform/sentinel"
)

// InMemorySubjectStore implements SubjectStore with a mutex-guarded map.
// Used as the test double and for storeless development runs; production
// wires PostgresStore.
type InMemorySubjectStore struct {
	mu       sync.RWMutex
	subjects map[id.DeviceID]*models.DeviceSubject
}

// NewInMemory creates an empty in-memory subject store.
func NewInMemory() *InMemorySubjectStore {
	return &InMemorySubjectStore{
		subjects: make(map[id.DeviceID]*models.DeviceSubject),
	}
}

// Create inserts a new subject, rejecting duplicate enrollments.
func (s *InMemorySubjectStore) Create(ctx context.Context, subject *models.DeviceSubject) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subjects[subject.DeviceID]; exists {
		return sentinel.ErrConflict
	}
	clone := *subject
	s.subjects[subject.DeviceID] = &clone
	return nil
}

// Get returns a copy of the subject or sentinel.ErrNotFound.
func (s *InMemorySubjectStore) Get(ctx context.Context, deviceID id.DeviceID) (*models.DeviceSubject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subject, ok := s.subjects[deviceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *subject
	return &clone, nil
}

// IncrementCounter atomically increments the named counter under the store
// lock and returns the new value.
func (s *InMemorySubjectStore) IncrementCounter(ctx context.Context, deviceID id.DeviceID, counter models.Counter) (int, error) {
	if !counter.IsValid() {
		return 0, sentinel.ErrInvalidState
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	subject, ok := s.subjects[deviceID]
	if !ok {
		return 0, sentinel.ErrNotFound
	}

	switch counter {
	case models.CounterNights:
		subject.NightsConfirmed++
		return subject.NightsConfirmed, nil
	case models.CounterMovementDays:
		subject.MovementDaysConfirmed++
		return subject.MovementDaysConfirmed, nil
	case models.CounterCheckins:
		subject.CheckinsCompleted++
		return subject.CheckinsCompleted, nil
	}
	return 0, sentinel.ErrInvalidState
}

// UpdateStatus transitions the status guarded by the expected current value.
func (s *InMemorySubjectStore) UpdateStatus(ctx context.Context, deviceID id.DeviceID, from, to models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subject, ok := s.subjects[deviceID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if subject.Status != from {
		return sentinel.ErrInvalidState
	}
	subject.Status = to
	return nil
}
