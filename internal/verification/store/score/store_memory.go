package score

import (
	"context"
	"sync"

	"vicinity/internal/verification/models"
	id "vicinity/pkg/domain"
)

// InMemoryScoreStore implements ScoreStore with a map keyed by (device,
// date). Used as the test double; production wires PostgresStore.
type InMemoryScoreStore struct {
	mu     sync.RWMutex
	scores map[id.DeviceID]map[models.Date]models.CorrelationScore
}

// NewInMemory creates an empty in-memory score store.
func NewInMemory() *InMemoryScoreStore {
	return &InMemoryScoreStore{
		scores: make(map[id.DeviceID]map[models.Date]models.CorrelationScore),
	}
}

// Upsert writes the score for (device, date), overwriting any prior same-day
// value.
func (s *InMemoryScoreStore) Upsert(ctx context.Context, score *models.CorrelationScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byDate, ok := s.scores[score.DeviceID]
	if !ok {
		byDate = make(map[models.Date]models.CorrelationScore)
		s.scores[score.DeviceID] = byDate
	}
	byDate[score.ScoreDate] = *score
	return nil
}

// TrailingAverage returns the mean trust score over the window of the given
// length ending at until, inclusive, and the number of rows averaged.
func (s *InMemoryScoreStore) TrailingAverage(ctx context.Context, deviceID id.DeviceID, until models.Date, days int) (float64, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from := until.AddDays(-(days - 1))
	var sum float64
	n := 0
	for date, sc := range s.scores[deviceID] {
		if date.Before(from) || until.Before(date) {
			continue
		}
		sum += sc.TrustScore
		n++
	}
	if n == 0 {
		return 0, 0, nil
	}
	return sum / float64(n), n, nil
}
