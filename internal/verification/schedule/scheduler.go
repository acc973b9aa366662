// Package schedule generates randomized liveness check-in schedules and runs
// the periodic dispatch and expiry sweeps.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"vicinity/internal/verification/models"
	"vicinity/internal/verification/ports"
	id "vicinity/pkg/domain"
	dErrors "vicinity/pkg/domain-errors"
)

// Config holds the scheduling windows. Two disjoint daily slots keep prompts
// inside waking hours while staying unpredictable.
type Config struct {
	WindowDays   int
	DefaultCount int

	// Daily slots: [start, end) hours, chosen with equal probability.
	MorningStartHour int
	MorningEndHour   int
	EveningStartHour int
	EveningEndHour   int

	// DispatchLookback bounds how late a very overdue challenge can still be
	// delivered; pending rows older than this are left for the expiry sweep.
	DispatchLookback time.Duration

	// AnswerWindow is the hard answer window for a liveness challenge once
	// it has been sent.
	AnswerWindow time.Duration
}

// DefaultConfig returns the production schedule windows.
func DefaultConfig() Config {
	return Config{
		WindowDays:       14,
		DefaultCount:     3,
		MorningStartHour: 9,
		MorningEndHour:   11,
		EveningStartHour: 17,
		EveningEndHour:   20,
		DispatchLookback: 24 * time.Hour,
		AnswerWindow:     30 * time.Minute,
	}
}

// Scheduler creates challenge schedules and drives the sweeps.
type Scheduler struct {
	challenges ports.ChallengeStore
	notifier   ports.Notifier
	cfg        Config
	logger     *slog.Logger

	// rng is injected so schedules are reproducible under test. math/rand
	// sources are not goroutine safe; mu serializes draws.
	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the sweep logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithConfig overrides the default windows.
func WithConfig(cfg Config) Option {
	return func(s *Scheduler) { s.cfg = cfg }
}

// WithRand sets the random source.
func WithRand(rng *rand.Rand) Option {
	return func(s *Scheduler) { s.rng = rng }
}

// New constructs a Scheduler.
func New(challenges ports.ChallengeStore, notifier ports.Notifier, opts ...Option) (*Scheduler, error) {
	if challenges == nil {
		return nil, fmt.Errorf("challenge store is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	s := &Scheduler{
		challenges: challenges,
		notifier:   notifier,
		cfg:        DefaultConfig(),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Schedule creates count challenges on distinct random days of the
// verification window starting at start. Idempotent: if any challenge
// already exists for the device the call reports created=false and changes
// nothing, so duplicate concurrent calls are safe to run twice.
func (s *Scheduler) Schedule(ctx context.Context, deviceID id.DeviceID, start models.Date, count int) (bool, error) {
	if count <= 0 {
		count = s.cfg.DefaultCount
	}
	if count > s.cfg.WindowDays {
		return false, dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("cannot schedule %d check-ins in a %d-day window", count, s.cfg.WindowDays))
	}

	times := s.drawTimes(start, count)
	challenges := make([]models.CheckinChallenge, 0, count)
	for i, at := range times {
		challenges = append(challenges, models.CheckinChallenge{
			ID:              uuid.New(),
			DeviceID:        deviceID,
			ChallengeNumber: i + 1,
			Status:          models.ChallengePending,
			ScheduledAt:     at,
		})
	}

	created, err := s.challenges.CreateBatch(ctx, challenges)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create challenge schedule")
	}
	return created, nil
}

// drawTimes picks count distinct days uniformly without replacement from the
// window, each with a random time in one of the two daily slots, in
// chronological order.
func (s *Scheduler) drawTimes(start models.Date, count int) []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	days := s.rng.Perm(s.cfg.WindowDays)[:count]
	sort.Ints(days)

	times := make([]time.Time, 0, count)
	for _, day := range days {
		startHour, endHour := s.cfg.MorningStartHour, s.cfg.MorningEndHour
		if s.rng.Intn(2) == 1 {
			startHour, endHour = s.cfg.EveningStartHour, s.cfg.EveningEndHour
		}
		slotSeconds := (endHour - startHour) * 3600
		offset := time.Duration(s.rng.Intn(slotSeconds)) * time.Second

		midnight := start.AddDays(day).Time(time.UTC)
		times = append(times, midnight.Add(time.Duration(startHour)*time.Hour).Add(offset))
	}
	return times
}

// RunDispatchSweep sends every due pending challenge and marks it sent.
// Safe to run concurrently with itself: MarkSent only matches rows still
// pending, so a row claimed by an overlapping run is skipped here.
func (s *Scheduler) RunDispatchSweep(ctx context.Context, now time.Time) (int, error) {
	due, err := s.challenges.DuePending(ctx, now, now.Add(-s.cfg.DispatchLookback))
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list due challenges")
	}

	sent := 0
	for _, ch := range due {
		updated, err := s.challenges.MarkSent(ctx, ch.ID, now)
		if err != nil {
			if s.logger != nil {
				s.logger.ErrorContext(ctx, "failed to mark challenge sent",
					"challenge_id", ch.ID,
					"device_id", ch.DeviceID,
					"error", err,
				)
			}
			continue
		}
		if !updated {
			continue
		}

		s.notifier.Notify(ctx, ch.DeviceID, ports.NotificationPayload{
			Kind:        "liveness_checkin",
			ChallengeID: ch.ID,
			ExpiresAt:   now.Add(s.cfg.AnswerWindow),
		})
		sent++
	}
	return sent, nil
}

// RunExpirySweep expires every sent challenge whose answer window elapsed,
// plus every pending challenge that fell out of the dispatch lookback and
// can no longer be delivered.
func (s *Scheduler) RunExpirySweep(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.challenges.ExpireSentBefore(ctx, now.Add(-s.cfg.AnswerWindow))
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to expire challenges")
	}
	stale, err := s.challenges.ExpirePendingBefore(ctx, now.Add(-s.cfg.DispatchLookback))
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to expire undeliverable challenges")
	}
	return expired + stale, nil
}
