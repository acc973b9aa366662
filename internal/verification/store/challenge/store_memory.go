package challenge

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"vicinity/internal/verification/models"
	"vicinity/internal/verification/ports"
	id "vicinity/pkg/domain"
	"vicinity/pkg/platform/sentinel"
)

// InMemoryChallengeStore implements ChallengeStore with mutex-guarded maps.
// Used as the test double; production wires PostgresStore.
type InMemoryChallengeStore struct {
	mu       sync.RWMutex
	byID     map[uuid.UUID]*models.CheckinChallenge
	byDevice map[id.DeviceID][]uuid.UUID
}

// NewInMemory creates an empty in-memory challenge store.
func NewInMemory() *InMemoryChallengeStore {
	return &InMemoryChallengeStore{
		byID:     make(map[uuid.UUID]*models.CheckinChallenge),
		byDevice: make(map[id.DeviceID][]uuid.UUID),
	}
}

// CreateBatch inserts the challenges unless any already exist for the
// device.
func (s *InMemoryChallengeStore) CreateBatch(ctx context.Context, challenges []models.CheckinChallenge) (bool, error) {
	if len(challenges) == 0 {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deviceID := challenges[0].DeviceID
	if len(s.byDevice[deviceID]) > 0 {
		return false, nil
	}
	for i := range challenges {
		clone := challenges[i]
		s.byID[clone.ID] = &clone
		s.byDevice[deviceID] = append(s.byDevice[deviceID], clone.ID)
	}
	return true, nil
}

// Get returns a copy of the challenge or sentinel.ErrNotFound.
func (s *InMemoryChallengeStore) Get(ctx context.Context, challengeID uuid.UUID) (*models.CheckinChallenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.byID[challengeID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *ch
	return &clone, nil
}

// NextOpen returns the earliest pending or sent challenge for the device.
func (s *InMemoryChallengeStore) NextOpen(ctx context.Context, deviceID id.DeviceID) (*models.CheckinChallenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var open []*models.CheckinChallenge
	for _, chID := range s.byDevice[deviceID] {
		ch := s.byID[chID]
		if ch.Status == models.ChallengePending || ch.Status == models.ChallengeSent {
			open = append(open, ch)
		}
	}
	if len(open) == 0 {
		return nil, sentinel.ErrNotFound
	}
	sort.Slice(open, func(i, j int) bool {
		return open[i].ScheduledAt.Before(open[j].ScheduledAt)
	})
	clone := *open[0]
	return &clone, nil
}

// DuePending returns pending challenges with scheduled_at in (oldest, now].
func (s *InMemoryChallengeStore) DuePending(ctx context.Context, now, oldest time.Time) ([]models.CheckinChallenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []models.CheckinChallenge
	for _, ch := range s.byID {
		if ch.Status != models.ChallengePending {
			continue
		}
		if ch.ScheduledAt.After(now) || !ch.ScheduledAt.After(oldest) {
			continue
		}
		due = append(due, *ch)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	return due, nil
}

// MarkSent moves a pending challenge to sent.
func (s *InMemoryChallengeStore) MarkSent(ctx context.Context, challengeID uuid.UUID, sentAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.byID[challengeID]
	if !ok || ch.Status != models.ChallengePending {
		return false, nil
	}
	ch.Status = models.ChallengeSent
	at := sentAt
	ch.SentAt = &at
	return true, nil
}

// ExpireSentBefore moves sent challenges whose sent_at is older than the
// cutoff to expired.
func (s *InMemoryChallengeStore) ExpireSentBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for _, ch := range s.byID {
		if ch.Status == models.ChallengeSent && ch.SentAt != nil && ch.SentAt.Before(cutoff) {
			ch.Status = models.ChallengeExpired
			expired++
		}
	}
	return expired, nil
}

// ExpirePendingBefore moves pending challenges scheduled before the cutoff
// to expired.
func (s *InMemoryChallengeStore) ExpirePendingBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for _, ch := range s.byID {
		if ch.Status == models.ChallengePending && ch.ScheduledAt.Before(cutoff) {
			ch.Status = models.ChallengeExpired
			expired++
		}
	}
	return expired, nil
}

// Complete records the classifier verdict on an open challenge. Terminal
// challenges are not reopened.
func (s *InMemoryChallengeStore) Complete(ctx context.Context, challengeID uuid.UUID, completedAt time.Time, isHuman bool, metrics ports.ChallengeMetrics) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.byID[challengeID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if ch.Status.IsTerminal() {
		return false, nil
	}

	if isHuman {
		ch.Status = models.ChallengeCompleted
	} else {
		ch.Status = models.ChallengeFailed
	}
	at := completedAt
	ch.CompletedAt = &at
	human := isHuman
	ch.IsHuman = &human
	straightness := metrics.Straightness
	speedVariance := metrics.SpeedVariance
	jitter := metrics.Jitter
	duration := metrics.DurationMs
	ch.Straightness = &straightness
	ch.SpeedVariance = &speedVariance
	ch.Jitter = &jitter
	ch.DurationMs = &duration
	return true, nil
}
