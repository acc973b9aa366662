package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vicinity/internal/verification/geocell"
	"vicinity/internal/verification/models"
	observationstore "vicinity/internal/verification/store/observation"
	presencestore "vicinity/internal/verification/store/presence"
	id "vicinity/pkg/domain"
)

const testDevice = id.DeviceID("device-scoring-1")

// noon keeps the nighttime check quiet unless a test wants it.
var noon = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	scorer       *Scorer
	observations *observationstore.InMemoryObservationStore
	presence     *presencestore.InMemoryIndex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	observations := observationstore.NewInMemory()
	presence := presencestore.NewInMemory()
	scorer := New(observations, presence, geocell.NewPrefixResolver(geocell.DefaultRegionLength))
	return &fixture{scorer: scorer, observations: observations, presence: presence}
}

func (f *fixture) recordPresence(t *testing.T, cell id.Geocell, at time.Time) {
	t.Helper()
	err := f.presence.Record(context.Background(), testDevice, models.PresenceObservation{
		Geocell:    cell,
		ObservedAt: at,
	})
	require.NoError(t, err)
}

func (f *fixture) appendDetected(t *testing.T, cell id.Geocell, at time.Time) {
	t.Helper()
	err := f.observations.Append(context.Background(), &models.MovementObservation{
		DeviceID:         testDevice,
		ObservedDate:     models.DateOf(at),
		MovementDetected: true,
		Geocell:          cell,
		ObservedAt:       at,
	})
	require.NoError(t, err)
}

func TestEvaluateNoMovementIsPerfect(t *testing.T) {
	f := newFixture(t)

	outcome := f.scorer.Evaluate(context.Background(), Report{
		DeviceID: testDevice,
		Detected: false,
		Geocell:  "aaaa1111",
		Now:      noon,
	})

	assert.InDelta(t, 1.0, outcome.Score, 1e-9)
	assert.Empty(t, outcome.Flags)
}

func TestEvaluateCleanReport(t *testing.T) {
	f := newFixture(t)

	outcome := f.scorer.Evaluate(context.Background(), Report{
		DeviceID: testDevice,
		Detected: true,
		Geocell:  "aaaa1111",
		Now:      noon,
	})

	assert.InDelta(t, 1.0, outcome.Score, 1e-9)
	assert.Empty(t, outcome.Flags)
}

func TestEvaluateImpossibleTrajectory(t *testing.T) {
	f := newFixture(t)
	f.recordPresence(t, "bbbb2222", noon.Add(-10*time.Minute))

	outcome := f.scorer.Evaluate(context.Background(), Report{
		DeviceID: testDevice,
		Detected: true,
		Geocell:  "aaaa1111",
		Now:      noon,
	})

	assert.InDelta(t, 0.70, outcome.Score, 1e-9)
	assert.Equal(t, []models.ScoreFlag{models.FlagImpossibleTrajectory}, outcome.Flags)
}

func TestEvaluateSameRegionIsPlausible(t *testing.T) {
	f := newFixture(t)
	// Different cell, same enclosing region.
	f.recordPresence(t, "aaaa9999", noon.Add(-10*time.Minute))

	outcome := f.scorer.Evaluate(context.Background(), Report{
		DeviceID: testDevice,
		Detected: true,
		Geocell:  "aaaa1111",
		Now:      noon,
	})

	assert.InDelta(t, 1.0, outcome.Score, 1e-9)
	assert.Empty(t, outcome.Flags)
}

func TestEvaluateOldSightingIsPlausible(t *testing.T) {
	f := newFixture(t)
	// A different region 45 minutes ago is reachable.
	f.recordPresence(t, "bbbb2222", noon.Add(-45*time.Minute))

	outcome := f.scorer.Evaluate(context.Background(), Report{
		DeviceID: testDevice,
		Detected: true,
		Geocell:  "aaaa1111",
		Now:      noon,
	})

	assert.InDelta(t, 1.0, outcome.Score, 1e-9)
	assert.Empty(t, outcome.Flags)
}

func TestEvaluateStationaryWithMovement(t *testing.T) {
	f := newFixture(t)
	for day := 1; day <= 3; day++ {
		f.appendDetected(t, "aaaa1111", noon.AddDate(0, 0, -day))
	}

	outcome := f.scorer.Evaluate(context.Background(), Report{
		DeviceID: testDevice,
		Detected: true,
		Geocell:  "aaaa1111",
		Now:      noon,
	})

	assert.InDelta(t, 0.80, outcome.Score, 1e-9)
	assert.Equal(t, []models.ScoreFlag{models.FlagStationaryWithMovement}, outcome.Flags)
}

func TestEvaluateStationaryNeedsThreeReports(t *testing.T) {
	f := newFixture(t)
	f.appendDetected(t, "aaaa1111", noon.AddDate(0, 0, -1))
	f.appendDetected(t, "aaaa1111", noon.AddDate(0, 0, -2))

	outcome := f.scorer.Evaluate(context.Background(), Report{
		DeviceID: testDevice,
		Detected: true,
		Geocell:  "aaaa1111",
		Now:      noon,
	})

	assert.InDelta(t, 1.0, outcome.Score, 1e-9)
}

func TestEvaluateNighttimeMovement(t *testing.T) {
	f := newFixture(t)
	night := time.Date(2026, 3, 10, 3, 30, 0, 0, time.UTC)

	outcome := f.scorer.Evaluate(context.Background(), Report{
		DeviceID: testDevice,
		Detected: true,
		Geocell:  "aaaa1111",
		Now:      night,
	})

	assert.InDelta(t, 0.90, outcome.Score, 1e-9)
	assert.Equal(t, []models.ScoreFlag{models.FlagNighttimeMovement}, outcome.Flags)
}

func TestEvaluateDeductionsStack(t *testing.T) {
	f := newFixture(t)
	night := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	f.recordPresence(t, "bbbb2222", night.Add(-5*time.Minute))
	for day := 1; day <= 3; day++ {
		f.appendDetected(t, "aaaa1111", night.AddDate(0, 0, -day))
	}

	outcome := f.scorer.Evaluate(context.Background(), Report{
		DeviceID: testDevice,
		Detected: true,
		Geocell:  "aaaa1111",
		Now:      night,
	})

	assert.InDelta(t, 0.40, outcome.Score, 1e-9)
	assert.ElementsMatch(t, []models.ScoreFlag{
		models.FlagImpossibleTrajectory,
		models.FlagStationaryWithMovement,
		models.FlagNighttimeMovement,
	}, outcome.Flags)
}

func TestEvaluateGeocodeFailureFailsOpen(t *testing.T) {
	f := newFixture(t)
	// Sighting cell too short to resolve to a region: the trajectory check
	// is skipped with a named flag and no deduction.
	f.recordPresence(t, "ab", noon.Add(-10*time.Minute))

	outcome := f.scorer.Evaluate(context.Background(), Report{
		DeviceID: testDevice,
		Detected: true,
		Geocell:  "aaaa1111",
		Now:      noon,
	})

	assert.InDelta(t, 1.0, outcome.Score, 1e-9)
	assert.Equal(t, []models.ScoreFlag{models.FlagGeocodeUnavailable}, outcome.Flags)
}

func TestEvaluateNoGeocellSkipsLocationChecks(t *testing.T) {
	f := newFixture(t)
	f.recordPresence(t, "bbbb2222", noon.Add(-10*time.Minute))

	outcome := f.scorer.Evaluate(context.Background(), Report{
		DeviceID: testDevice,
		Detected: true,
		Now:      noon,
	})

	assert.InDelta(t, 1.0, outcome.Score, 1e-9)
	assert.Empty(t, outcome.Flags)
}
