package ledger

import (
	"context"
	"sync"

	"vicinity/internal/verification/models"
	id "vicinity/pkg/domain"
)

type dayKey struct {
	device id.DeviceID
	date   models.Date
	kind   models.DayKind
}

// InMemoryDayLedger is an in-memory day ledger for tests and single-node runs.
type InMemoryDayLedger struct {
	mu   sync.Mutex
	seen map[dayKey]struct{}
}

// NewInMemory constructs an empty in-memory day ledger.
func NewInMemory() *InMemoryDayLedger {
	return &InMemoryDayLedger{seen: make(map[dayKey]struct{})}
}

// Confirm records (device, date, kind) and reports whether this call was the
// first for that key.
func (s *InMemoryDayLedger) Confirm(_ context.Context, deviceID id.DeviceID, date models.Date, kind models.DayKind) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dayKey{device: deviceID, date: date, kind: kind}
	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = struct{}{}
	return true, nil
}
