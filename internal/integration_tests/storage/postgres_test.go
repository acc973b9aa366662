//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"vicinity/internal/platform/postgres"
	"vicinity/internal/verification/models"
	"vicinity/internal/verification/ports"
	challengestore "vicinity/internal/verification/store/challenge"
	ledgerstore "vicinity/internal/verification/store/ledger"
	observationstore "vicinity/internal/verification/store/observation"
	scorestore "vicinity/internal/verification/store/score"
	subjectstore "vicinity/internal/verification/store/subject"
	id "vicinity/pkg/domain"
	"vicinity/pkg/platform/sentinel"
	"vicinity/pkg/testutil/containers"
)

const device = id.DeviceID("device-pg-1")

var noon = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// PostgresStoreSuite runs every PostgreSQL store against a real database
// with the embedded migrations applied.
type PostgresStoreSuite struct {
	suite.Suite
	pg *containers.PostgresContainer

	subjects     *subjectstore.PostgresStore
	observations *observationstore.PostgresStore
	scores       *scorestore.PostgresStore
	challenges   *challengestore.PostgresStore
	days         *ledgerstore.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.Require().NoError(postgres.Migrate(context.Background(), s.pg.DB))

	s.subjects = subjectstore.NewPostgres(s.pg.DB)
	s.observations = observationstore.NewPostgres(s.pg.DB)
	s.scores = scorestore.NewPostgres(s.pg.DB)
	s.challenges = challengestore.NewPostgres(s.pg.DB)
	s.days = ledgerstore.NewPostgres(s.pg.DB)
}

func (s *PostgresStoreSuite) TearDownSuite() {
	s.pg.Terminate(context.Background())
}

func (s *PostgresStoreSuite) SetupTest() {
	// device_subjects cascades into every dependent table.
	s.Require().NoError(s.pg.TruncateAll(context.Background(), "device_subjects"))
}

func (s *PostgresStoreSuite) enroll() {
	s.T().Helper()
	s.Require().NoError(s.subjects.Create(context.Background(), &models.DeviceSubject{
		DeviceID:              device,
		ZoneID:                "zone-17",
		Status:                models.StatusVerifying,
		Subscription:          models.SubscriptionPaid,
		VerificationStartedAt: noon,
		CheckinsRequired:      3,
	}))
}

func (s *PostgresStoreSuite) TestSubjectRoundTrip() {
	ctx := context.Background()
	s.enroll()

	got, err := s.subjects.Get(ctx, device)
	s.Require().NoError(err)
	s.Equal(models.StatusVerifying, got.Status)
	s.Equal(models.SubscriptionPaid, got.Subscription)
	s.Equal(3, got.CheckinsRequired)

	err = s.subjects.Create(ctx, &models.DeviceSubject{DeviceID: device, ZoneID: "zone-17", Status: models.StatusVerifying, Subscription: models.SubscriptionPaid, VerificationStartedAt: noon})
	s.ErrorIs(err, sentinel.ErrConflict)

	_, err = s.subjects.Get(ctx, "ghost")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestSubjectIncrementReturnsCommittedValue() {
	ctx := context.Background()
	s.enroll()

	for want := 1; want <= 3; want++ {
		n, err := s.subjects.IncrementCounter(ctx, device, models.CounterNights)
		s.Require().NoError(err)
		s.Equal(want, n)
	}

	got, err := s.subjects.Get(ctx, device)
	s.Require().NoError(err)
	s.Equal(3, got.NightsConfirmed)
	s.Zero(got.MovementDaysConfirmed)
}

func (s *PostgresStoreSuite) TestSubjectStatusGuard() {
	ctx := context.Background()
	s.enroll()

	s.Require().NoError(s.subjects.UpdateStatus(ctx, device, models.StatusVerifying, models.StatusActive))
	err := s.subjects.UpdateStatus(ctx, device, models.StatusVerifying, models.StatusFrozen)
	s.ErrorIs(err, sentinel.ErrInvalidState)

	got, err := s.subjects.Get(ctx, device)
	s.Require().NoError(err)
	s.Equal(models.StatusActive, got.Status)
}

func (s *PostgresStoreSuite) TestObservationLog() {
	ctx := context.Background()
	s.enroll()

	for i := 0; i < 3; i++ {
		at := noon.AddDate(0, 0, -i)
		s.Require().NoError(s.observations.Append(ctx, &models.MovementObservation{
			DeviceID:         device,
			ObservedDate:     models.DateOf(at),
			MovementDetected: true,
			Geocell:          "aaaa1111",
			ObservedAt:       at,
		}))
	}

	count, err := s.observations.MovementCountAt(ctx, device, "aaaa1111", noon.AddDate(0, 0, -3))
	s.Require().NoError(err)
	s.Equal(3, count)

	count, err = s.observations.MovementCountAt(ctx, device, "aaaa1111", noon.AddDate(0, 0, -1))
	s.Require().NoError(err)
	s.Equal(2, count)

	recent, err := s.observations.RecentPresence(ctx, device, noon.AddDate(0, 0, -1))
	s.Require().NoError(err)
	s.Require().Len(recent, 2)
	s.Equal(noon, recent[0].ObservedAt.UTC(), "most recent first")
}

func (s *PostgresStoreSuite) TestScoreUpsertAndTrailingAverage() {
	ctx := context.Background()
	s.enroll()
	today := models.DateOf(noon)

	write := func(date models.Date, trust float64, flags []models.ScoreFlag) {
		s.Require().NoError(s.scores.Upsert(ctx, &models.CorrelationScore{
			DeviceID:     device,
			ScoreDate:    date,
			TrustScore:   trust,
			Flags:        flags,
			CalculatedAt: noon,
		}))
	}

	write(today, 0.40, []models.ScoreFlag{models.FlagImpossibleTrajectory})
	write(today, 0.90, nil) // recomputation overwrites
	write(today.AddDays(-1), 0.70, nil)
	write(today.AddDays(-14), 0.10, nil) // outside a 14-day window

	avg, n, err := s.scores.TrailingAverage(ctx, device, today, 14)
	s.Require().NoError(err)
	s.Equal(2, n)
	s.InDelta(0.80, avg, 1e-9)
}

func (s *PostgresStoreSuite) TestChallengeLifecycle() {
	ctx := context.Background()
	s.enroll()

	challenges := make([]models.CheckinChallenge, 0, 2)
	for i := 0; i < 2; i++ {
		challenges = append(challenges, models.CheckinChallenge{
			ID:              uuid.New(),
			DeviceID:        device,
			ChallengeNumber: i + 1,
			Status:          models.ChallengePending,
			ScheduledAt:     noon.AddDate(0, 0, i*3),
		})
	}

	created, err := s.challenges.CreateBatch(ctx, challenges)
	s.Require().NoError(err)
	s.True(created)

	created, err = s.challenges.CreateBatch(ctx, challenges)
	s.Require().NoError(err)
	s.False(created)

	due, err := s.challenges.DuePending(ctx, noon.Add(time.Hour), noon.Add(-23*time.Hour))
	s.Require().NoError(err)
	s.Require().Len(due, 1)
	s.Equal(challenges[0].ID, due[0].ID)

	updated, err := s.challenges.MarkSent(ctx, challenges[0].ID, noon.Add(time.Hour))
	s.Require().NoError(err)
	s.True(updated)
	updated, err = s.challenges.MarkSent(ctx, challenges[0].ID, noon.Add(time.Hour))
	s.Require().NoError(err)
	s.False(updated)

	updated, err = s.challenges.Complete(ctx, challenges[0].ID, noon.Add(90*time.Minute), true, ports.ChallengeMetrics{
		Straightness:  0.95,
		SpeedVariance: 0.35,
		Jitter:        0.8,
		DurationMs:    528,
	})
	s.Require().NoError(err)
	s.True(updated)

	got, err := s.challenges.Get(ctx, challenges[0].ID)
	s.Require().NoError(err)
	s.Equal(models.ChallengeCompleted, got.Status)
	s.Require().NotNil(got.IsHuman)
	s.True(*got.IsHuman)
	s.Require().NotNil(got.Straightness)
	s.InDelta(0.95, *got.Straightness, 1e-9)

	open, err := s.challenges.NextOpen(ctx, device)
	s.Require().NoError(err)
	s.Equal(challenges[1].ID, open.ID)
}

func (s *PostgresStoreSuite) TestChallengeExpiry() {
	ctx := context.Background()
	s.enroll()

	ch := models.CheckinChallenge{
		ID:              uuid.New(),
		DeviceID:        device,
		ChallengeNumber: 1,
		Status:          models.ChallengePending,
		ScheduledAt:     noon,
	}
	created, err := s.challenges.CreateBatch(ctx, []models.CheckinChallenge{ch})
	s.Require().NoError(err)
	s.Require().True(created)

	_, err = s.challenges.MarkSent(ctx, ch.ID, noon)
	s.Require().NoError(err)

	expired, err := s.challenges.ExpireSentBefore(ctx, noon.Add(-time.Minute))
	s.Require().NoError(err)
	s.Zero(expired)

	expired, err = s.challenges.ExpireSentBefore(ctx, noon.Add(time.Minute))
	s.Require().NoError(err)
	s.Equal(1, expired)

	got, err := s.challenges.Get(ctx, ch.ID)
	s.Require().NoError(err)
	s.Equal(models.ChallengeExpired, got.Status)
}

func (s *PostgresStoreSuite) TestChallengeStalePendingExpiry() {
	ctx := context.Background()
	s.enroll()

	stale := models.CheckinChallenge{
		ID:              uuid.New(),
		DeviceID:        device,
		ChallengeNumber: 1,
		Status:          models.ChallengePending,
		ScheduledAt:     noon.AddDate(0, 0, -3),
	}
	sent := models.CheckinChallenge{
		ID:              uuid.New(),
		DeviceID:        device,
		ChallengeNumber: 2,
		Status:          models.ChallengePending,
		ScheduledAt:     noon.AddDate(0, 0, -2),
	}
	fresh := models.CheckinChallenge{
		ID:              uuid.New(),
		DeviceID:        device,
		ChallengeNumber: 3,
		Status:          models.ChallengePending,
		ScheduledAt:     noon,
	}
	created, err := s.challenges.CreateBatch(ctx, []models.CheckinChallenge{stale, sent, fresh})
	s.Require().NoError(err)
	s.Require().True(created)

	_, err = s.challenges.MarkSent(ctx, sent.ID, noon.AddDate(0, 0, -2))
	s.Require().NoError(err)

	// Only undelivered rows behind the cutoff move; a sent row at the same
	// age belongs to the answer-window sweep.
	expired, err := s.challenges.ExpirePendingBefore(ctx, noon.AddDate(0, 0, -1))
	s.Require().NoError(err)
	s.Equal(1, expired)

	got, err := s.challenges.Get(ctx, stale.ID)
	s.Require().NoError(err)
	s.Equal(models.ChallengeExpired, got.Status)

	got, err = s.challenges.Get(ctx, sent.ID)
	s.Require().NoError(err)
	s.Equal(models.ChallengeSent, got.Status)

	got, err = s.challenges.Get(ctx, fresh.ID)
	s.Require().NoError(err)
	s.Equal(models.ChallengePending, got.Status)
}

func (s *PostgresStoreSuite) TestDayLedgerConfirm() {
	ctx := context.Background()
	s.enroll()
	today := models.DateOf(noon)

	first, err := s.days.Confirm(ctx, device, today, models.DayKindNight)
	s.Require().NoError(err)
	s.True(first)

	first, err = s.days.Confirm(ctx, device, today, models.DayKindNight)
	s.Require().NoError(err)
	s.False(first)

	first, err = s.days.Confirm(ctx, device, today, models.DayKindMovement)
	s.Require().NoError(err)
	s.True(first, "kinds are independent")
}
