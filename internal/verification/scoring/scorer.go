// Package scoring computes the per-day trust score from a movement report
// and the device's recent history. Gathering is I/O; the deduction arithmetic
// is pure and lives in score().
package scoring

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"vicinity/internal/verification/models"
	"vicinity/internal/verification/ports"
	id "vicinity/pkg/domain"
	"vicinity/pkg/platform/sentinel"
)

// Config holds the deduction magnitudes and lookback windows. The values are
// empirically chosen constants; they are configurable, not re-derived.
type Config struct {
	TrajectoryDeduction float64
	StationaryDeduction float64
	NighttimeDeduction  float64

	// A presence sighting this recent in a different region is physically
	// implausible.
	TrajectoryLookback time.Duration
	TrajectoryMaxGap   time.Duration

	// Repeated movement claims from one geocell within the lookback mark a
	// stationary spoofed GPS.
	StationaryLookbackDays int
	StationaryMinReports   int

	// Local hours [NightStartHour, NightEndHour) where movement is unusual.
	NightStartHour int
	NightEndHour   int

	GatherTimeout time.Duration
}

// DefaultConfig returns the production deductions and windows.
func DefaultConfig() Config {
	return Config{
		TrajectoryDeduction:    0.30,
		StationaryDeduction:    0.20,
		NighttimeDeduction:     0.10,
		TrajectoryLookback:     2 * time.Hour,
		TrajectoryMaxGap:       30 * time.Minute,
		StationaryLookbackDays: 3,
		StationaryMinReports:   3,
		NightStartHour:         2,
		NightEndHour:           5,
		GatherTimeout:          3 * time.Second,
	}
}

// Report is one inbound movement claim to score.
type Report struct {
	DeviceID id.DeviceID
	Detected bool
	Geocell  id.Geocell
	Now      time.Time
}

// Outcome is the scored result. Flags name every deduction taken and every
// check skipped, so the row is auditable.
type Outcome struct {
	Score float64
	Flags []models.ScoreFlag
}

// evidence is everything the pure scoring step needs, gathered up front.
type evidence struct {
	latestPresence *models.PresenceObservation
	presenceRegion string
	currentRegion  string
	regionResolved bool
	sameCellCount  int
	countResolved  bool
}

// Scorer correlates movement reports against recent history.
type Scorer struct {
	observations ports.ObservationStore
	presence     ports.PresenceIndex
	regions      ports.RegionResolver
	cfg          Config
	logger       *slog.Logger
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithLogger sets the logger used for fail-open skips.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scorer) { s.logger = logger }
}

// WithConfig overrides the default deduction config.
func WithConfig(cfg Config) Option {
	return func(s *Scorer) { s.cfg = cfg }
}

// New constructs a Scorer over the given history sources.
func New(observations ports.ObservationStore, presence ports.PresenceIndex, regions ports.RegionResolver, opts ...Option) *Scorer {
	s := &Scorer{
		observations: observations,
		presence:     presence,
		regions:      regions,
		cfg:          DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Evaluate scores one report. History lookups that fail are skipped with the
// conservative branch: a missed deduction is cheaper than wrongly freezing a
// legitimate resident, so nothing here returns a dependency error.
func (s *Scorer) Evaluate(ctx context.Context, report Report) Outcome {
	// A negative report carries no fraud signal; it only fails to advance
	// movement days.
	if !report.Detected {
		return Outcome{Score: 1.0}
	}

	ev := s.gather(ctx, report)
	return score(report, ev, s.cfg)
}

// gather fetches trajectory and stationary evidence in parallel under a
// bounded timeout. Failures are logged and recorded as unresolved rather
// than propagated.
func (s *Scorer) gather(ctx context.Context, report Report) evidence {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GatherTimeout)
	defer cancel()

	var ev evidence
	g, gctx := errgroup.WithContext(ctx)

	if !report.Geocell.IsZero() {
		g.Go(func() error {
			obs, err := s.presence.Latest(gctx, report.DeviceID, report.Now.Add(-s.cfg.TrajectoryLookback))
			if err != nil {
				// No sighting in the window is a normal state, not a skip.
				if !errors.Is(err, sentinel.ErrNotFound) {
					s.logSkip(gctx, "presence_lookup", report.DeviceID, err)
				}
				return nil
			}
			ev.latestPresence = obs
			return nil
		})

		g.Go(func() error {
			since := report.Now.AddDate(0, 0, -s.cfg.StationaryLookbackDays)
			count, err := s.observations.MovementCountAt(gctx, report.DeviceID, report.Geocell, since)
			if err != nil {
				s.logSkip(gctx, "movement_count", report.DeviceID, err)
				return nil
			}
			ev.sameCellCount = count
			ev.countResolved = true
			return nil
		})
	}

	_ = g.Wait() // goroutines never return errors; they record skips

	// Region geometry is resolved after the presence lookup because it needs
	// the sighting's geocell. Either resolution failing fails the check open
	// with a named outcome.
	if ev.latestPresence != nil {
		presenceRegion, err := s.regions.Region(ctx, ev.latestPresence.Geocell)
		if err != nil {
			s.logSkip(ctx, "geocode_presence", report.DeviceID, err)
			return ev
		}
		currentRegion, err := s.regions.Region(ctx, report.Geocell)
		if err != nil {
			s.logSkip(ctx, "geocode_current", report.DeviceID, err)
			return ev
		}
		ev.presenceRegion = presenceRegion
		ev.currentRegion = currentRegion
		ev.regionResolved = true
	}

	return ev
}

func (s *Scorer) logSkip(ctx context.Context, check string, deviceID id.DeviceID, err error) {
	if s.logger != nil {
		s.logger.WarnContext(ctx, "correlation check skipped",
			"check", check,
			"device_id", deviceID,
			"error", err,
		)
	}
}

// score applies the deductions. Pure domain logic - no I/O, no side effects.
// Deductions are fixed, additive, and independent; they never interact.
func score(report Report, ev evidence, cfg Config) Outcome {
	result := 1.0
	var flags []models.ScoreFlag

	// Impossible trajectory: a device cannot legitimately jump enclosing
	// regions in under the max gap.
	if ev.latestPresence != nil {
		if ev.regionResolved {
			gap := report.Now.Sub(ev.latestPresence.ObservedAt)
			if ev.presenceRegion != ev.currentRegion && gap < cfg.TrajectoryMaxGap {
				result -= cfg.TrajectoryDeduction
				flags = append(flags, models.FlagImpossibleTrajectory)
			}
		} else {
			flags = append(flags, models.FlagGeocodeUnavailable)
		}
	}

	// Stationary-with-movement: a stationary spoofed GPS repeatedly claiming
	// movement is a known attack.
	if ev.countResolved && ev.sameCellCount >= cfg.StationaryMinReports {
		result -= cfg.StationaryDeduction
		flags = append(flags, models.FlagStationaryWithMovement)
	}

	// Nighttime anomaly.
	hour := report.Now.Hour()
	if hour >= cfg.NightStartHour && hour < cfg.NightEndHour {
		result -= cfg.NighttimeDeduction
		flags = append(flags, models.FlagNighttimeMovement)
	}

	if result < 0 {
		result = 0
	}
	if result > 1 {
		result = 1
	}
	return Outcome{Score: result, Flags: flags}
}
