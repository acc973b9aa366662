package service

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vicinity/internal/audit"
	"vicinity/internal/verification/gate"
	"vicinity/internal/verification/geocell"
	"vicinity/internal/verification/gesture"
	"vicinity/internal/verification/models"
	"vicinity/internal/verification/ports"
	"vicinity/internal/verification/schedule"
	"vicinity/internal/verification/scoring"
	challengestore "vicinity/internal/verification/store/challenge"
	ledgerstore "vicinity/internal/verification/store/ledger"
	observationstore "vicinity/internal/verification/store/observation"
	presencestore "vicinity/internal/verification/store/presence"
	scorestore "vicinity/internal/verification/store/score"
	subjectstore "vicinity/internal/verification/store/subject"
	id "vicinity/pkg/domain"
	dErrors "vicinity/pkg/domain-errors"
	"vicinity/pkg/requestcontext"
)

const (
	testDevice = id.DeviceID("device-service-1")
	testZone   = id.ZoneID("zone-17")
)

var noon = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// humanTrace passes the gesture classifier with every indicator satisfied.
func humanTrace() []gesture.Point {
	samples := [][3]float64{
		{-0.2, 100.4, 0}, {14.8, 107.3, 45}, {28.7, 108.0, 70}, {46.2, 104.5, 100},
		{58.6, 102.9, 135}, {75.4, 96.6, 153}, {90.6, 93.7, 198}, {105.5, 94.1, 223},
		{118.2, 93.1, 241}, {135.4, 101.8, 266}, {149.8, 107.3, 301}, {163.9, 106.7, 331},
		{180.6, 106.6, 349}, {194.6, 102.9, 384}, {210.8, 96.0, 402}, {225.1, 90.1, 427},
		{241.1, 91.6, 457}, {254.5, 97.8, 492}, {268.9, 102.8, 510}, {284.9, 108.2, 528},
	}
	points := make([]gesture.Point, 0, len(samples))
	for _, s := range samples {
		points = append(points, gesture.Point{X: s[0], Y: s[1], T: int64(s[2])})
	}
	return points
}

// botTrace is a perfect constant-speed line the classifier rejects.
func botTrace() []gesture.Point {
	points := make([]gesture.Point, 0, 16)
	for i := 0; i <= 15; i++ {
		points = append(points, gesture.Point{X: float64(i) * 10, Y: 50, T: int64(i) * 10})
	}
	return points
}

type stubNotifier struct {
	mu    sync.Mutex
	kinds []string
}

func (n *stubNotifier) Notify(_ context.Context, _ id.DeviceID, payload ports.NotificationPayload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, payload.Kind)
}

func (n *stubNotifier) sentKinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.kinds...)
}

type fixture struct {
	svc        *Service
	stores     Stores
	notifier   *stubNotifier
	sink       *audit.InMemorySink
	challenges *challengestore.InMemoryChallengeStore
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	challenges := challengestore.NewInMemory()
	observations := observationstore.NewInMemory()
	presence := presencestore.NewInMemory()
	stores := Stores{
		Subjects:     subjectstore.NewInMemory(),
		Observations: observations,
		Scores:       scorestore.NewInMemory(),
		Challenges:   challenges,
		Days:         ledgerstore.NewInMemory(),
		Presence:     presence,
	}

	notifier := &stubNotifier{}
	sink := audit.NewInMemorySink()

	scorer := scoring.New(observations, presence, geocell.NewPrefixResolver(geocell.DefaultRegionLength))
	scheduler, err := schedule.New(challenges, notifier, schedule.WithRand(rand.New(rand.NewSource(42))))
	require.NoError(t, err)

	opts = append([]Option{WithAudit(audit.NewPublisher(sink))}, opts...)
	svc, err := New(stores, scorer, gesture.New(gesture.DefaultConfig()), scheduler, notifier, opts...)
	require.NoError(t, err)

	return &fixture{
		svc:        svc,
		stores:     stores,
		notifier:   notifier,
		sink:       sink,
		challenges: challenges,
	}
}

func (f *fixture) ctx(at time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), at)
}

func (f *fixture) enroll(t *testing.T) *models.DeviceSubject {
	t.Helper()
	subject, err := f.svc.Enroll(f.ctx(noon), EnrollRequest{
		DeviceID:     testDevice,
		ZoneID:       testZone,
		Subscription: models.SubscriptionPaid,
	})
	require.NoError(t, err)
	return subject
}

func (f *fixture) auditActions(t *testing.T) []audit.Action {
	t.Helper()
	events, err := f.sink.ListByDevice(context.Background(), testDevice)
	require.NoError(t, err)
	actions := make([]audit.Action, 0, len(events))
	for _, ev := range events {
		actions = append(actions, ev.Action)
	}
	return actions
}

func TestEnrollCreatesSubjectAndSchedule(t *testing.T) {
	f := newFixture(t)

	subject := f.enroll(t)

	assert.Equal(t, models.StatusVerifying, subject.Status)
	assert.Equal(t, testZone, subject.ZoneID)
	assert.Zero(t, subject.NightsConfirmed)
	assert.Equal(t, 3, subject.CheckinsRequired)

	ch, err := f.challenges.NextOpen(context.Background(), testDevice)
	require.NoError(t, err)
	assert.Equal(t, 1, ch.ChallengeNumber)

	assert.Contains(t, f.auditActions(t), audit.ActionDeviceEnrolled)
}

func TestEnrollIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.enroll(t)

	again, err := f.svc.Enroll(f.ctx(noon.Add(time.Hour)), EnrollRequest{
		DeviceID:     testDevice,
		ZoneID:       testZone,
		Subscription: models.SubscriptionPaid,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusVerifying, again.Status)
	assert.Equal(t, noon, again.VerificationStartedAt)
}

func TestRecordMovementUnknownDevice(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RecordMovement(f.ctx(noon), MovementReport{DeviceID: "ghost", Detected: true})
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeNotFound, dErrors.CodeOf(err))
}

func TestRecordMovementAdvancesOncePerDay(t *testing.T) {
	f := newFixture(t)
	f.enroll(t)

	result, err := f.svc.RecordMovement(f.ctx(noon), MovementReport{
		DeviceID: testDevice,
		Detected: true,
		Geocell:  "aaaa1111",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.MovementDaysConfirmed)
	assert.InDelta(t, 1.0, result.TrustScore, 1e-9)

	// A retry the same afternoon does not double-count the day.
	result, err = f.svc.RecordMovement(f.ctx(noon.Add(2*time.Hour)), MovementReport{
		DeviceID: testDevice,
		Detected: true,
		Geocell:  "aaaa1111",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.MovementDaysConfirmed)

	// The next day counts again.
	result, err = f.svc.RecordMovement(f.ctx(noon.AddDate(0, 0, 1)), MovementReport{
		DeviceID: testDevice,
		Detected: true,
		Geocell:  "aaaa1111",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.MovementDaysConfirmed)
}

func TestRecordMovementNotDetectedKeepsCounter(t *testing.T) {
	f := newFixture(t)
	f.enroll(t)

	result, err := f.svc.RecordMovement(f.ctx(noon), MovementReport{
		DeviceID: testDevice,
		Detected: false,
	})
	require.NoError(t, err)
	assert.Zero(t, result.MovementDaysConfirmed)
	assert.InDelta(t, 1.0, result.TrustScore, 1e-9)
}

func TestRecordMovementFreezesOnLowScore(t *testing.T) {
	policy := gate.DefaultPolicy()
	policy.FreezeBelow = 0.75
	f := newFixture(t, WithPolicy(policy))
	f.enroll(t)

	// Plant a sighting in another region minutes before the report; the
	// trajectory deduction drops the score to 0.70, under the test floor.
	require.NoError(t, f.stores.Presence.Record(context.Background(), testDevice, models.PresenceObservation{
		Geocell:    "bbbb2222",
		ObservedAt: noon.Add(-5 * time.Minute),
	}))

	result, err := f.svc.RecordMovement(f.ctx(noon), MovementReport{
		DeviceID: testDevice,
		Detected: true,
		Geocell:  "aaaa1111",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFrozen, result.Status)
	assert.InDelta(t, 0.70, result.TrustScore, 1e-9)
	assert.Contains(t, result.Flags, models.FlagImpossibleTrajectory)

	subject, err := f.svc.GetSubject(context.Background(), testDevice)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFrozen, subject.Status)
	assert.Contains(t, f.notifier.sentKinds(), "freeze_notice")
	assert.Contains(t, f.auditActions(t), audit.ActionDeviceFrozen)
}

func TestRecordMovementFreezesActiveDevice(t *testing.T) {
	policy := gate.DefaultPolicy()
	policy.FreezeBelow = 0.75
	f := newFixture(t, WithPolicy(policy))
	f.enroll(t)
	require.NoError(t, f.stores.Subjects.UpdateStatus(context.Background(), testDevice, models.StatusVerifying, models.StatusActive))

	require.NoError(t, f.stores.Presence.Record(context.Background(), testDevice, models.PresenceObservation{
		Geocell:    "bbbb2222",
		ObservedAt: noon.Add(-5 * time.Minute),
	}))

	// A low-scoring report freezes the device even after activation.
	result, err := f.svc.RecordMovement(f.ctx(noon), MovementReport{
		DeviceID: testDevice,
		Detected: true,
		Geocell:  "aaaa1111",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFrozen, result.Status)

	subject, err := f.svc.GetSubject(context.Background(), testDevice)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFrozen, subject.Status)
	assert.Contains(t, f.notifier.sentKinds(), "freeze_notice")
	assert.Contains(t, f.auditActions(t), audit.ActionDeviceFrozen)
}

func TestActivationGate(t *testing.T) {
	policy := gate.Policy{
		MinNights:       1,
		MinMovementDays: 1,
		MinCheckins:     0,
		MinAvgTrust:     0.5,
		TrustWindowDays: 14,
		FreezeBelow:     0.30,
	}
	f := newFixture(t, WithPolicy(policy))
	f.enroll(t)

	night, err := f.svc.ConfirmNight(f.ctx(noon), testDevice)
	require.NoError(t, err)
	assert.Equal(t, 1, night.NightsConfirmed)
	assert.Equal(t, models.StatusVerifying, night.Status, "movement days still short")

	result, err := f.svc.RecordMovement(f.ctx(noon.Add(time.Hour)), MovementReport{
		DeviceID: testDevice,
		Detected: true,
		Geocell:  "aaaa1111",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, result.Status)

	assert.Contains(t, f.notifier.sentKinds(), "grant_access")
	assert.Contains(t, f.auditActions(t), audit.ActionDeviceActivated)
}

func TestConfirmNightIdempotentPerDay(t *testing.T) {
	f := newFixture(t)
	f.enroll(t)

	night, err := f.svc.ConfirmNight(f.ctx(noon), testDevice)
	require.NoError(t, err)
	assert.Equal(t, 1, night.NightsConfirmed)

	night, err = f.svc.ConfirmNight(f.ctx(noon.Add(time.Hour)), testDevice)
	require.NoError(t, err)
	assert.Equal(t, 1, night.NightsConfirmed)

	night, err = f.svc.ConfirmNight(f.ctx(noon.AddDate(0, 0, 1)), testDevice)
	require.NoError(t, err)
	assert.Equal(t, 2, night.NightsConfirmed)
}

func TestSubmitCheckinHuman(t *testing.T) {
	f := newFixture(t)
	f.enroll(t)

	result, err := f.svc.SubmitCheckin(f.ctx(noon), CheckinSubmission{
		DeviceID:   testDevice,
		Points:     humanTrace(),
		DurationMs: 528,
	})
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, 1, result.CheckinsCompleted)
	assert.False(t, result.AlreadyCompleted)

	ch, err := f.challenges.Get(context.Background(), result.ChallengeID)
	require.NoError(t, err)
	assert.Equal(t, models.ChallengeCompleted, ch.Status)
	require.NotNil(t, ch.IsHuman)
	assert.True(t, *ch.IsHuman)

	assert.Contains(t, f.auditActions(t), audit.ActionCheckinCompleted)
}

func TestSubmitCheckinRetryIsNoop(t *testing.T) {
	f := newFixture(t)
	f.enroll(t)

	first, err := f.svc.SubmitCheckin(f.ctx(noon), CheckinSubmission{
		DeviceID:   testDevice,
		Points:     humanTrace(),
		DurationMs: 528,
	})
	require.NoError(t, err)

	retry, err := f.svc.SubmitCheckin(f.ctx(noon.Add(time.Minute)), CheckinSubmission{
		DeviceID:    testDevice,
		ChallengeID: first.ChallengeID,
		Points:      humanTrace(),
		DurationMs:  528,
	})
	require.NoError(t, err)
	assert.True(t, retry.AlreadyCompleted)
	assert.True(t, retry.Passed, "stored verdict is reported back")
	assert.Equal(t, 1, retry.CheckinsCompleted)
}

func TestSubmitCheckinBot(t *testing.T) {
	f := newFixture(t)
	f.enroll(t)

	result, err := f.svc.SubmitCheckin(f.ctx(noon), CheckinSubmission{
		DeviceID:   testDevice,
		Points:     botTrace(),
		DurationMs: 150,
	})
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Zero(t, result.CheckinsCompleted)

	ch, err := f.challenges.Get(context.Background(), result.ChallengeID)
	require.NoError(t, err)
	assert.Equal(t, models.ChallengeFailed, ch.Status)

	assert.Contains(t, f.auditActions(t), audit.ActionCheckinFailed)
}

func TestSubmitCheckinForeignChallenge(t *testing.T) {
	f := newFixture(t)
	f.enroll(t)

	other, err := f.svc.Enroll(f.ctx(noon), EnrollRequest{
		DeviceID:     "device-service-2",
		ZoneID:       testZone,
		Subscription: models.SubscriptionSubsidized,
	})
	require.NoError(t, err)

	foreign, err := f.challenges.NextOpen(context.Background(), other.DeviceID)
	require.NoError(t, err)

	_, err = f.svc.SubmitCheckin(f.ctx(noon), CheckinSubmission{
		DeviceID:    testDevice,
		ChallengeID: foreign.ID,
		Points:      humanTrace(),
		DurationMs:  528,
	})
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeNotFound, dErrors.CodeOf(err))
}

func TestSubmitCheckinNoOpenChallenge(t *testing.T) {
	f := newFixture(t)
	f.enroll(t)

	for i := 0; i < 3; i++ {
		_, err := f.svc.SubmitCheckin(f.ctx(noon.Add(time.Duration(i)*time.Minute)), CheckinSubmission{
			DeviceID:   testDevice,
			Points:     humanTrace(),
			DurationMs: 528,
		})
		require.NoError(t, err)
	}

	_, err := f.svc.SubmitCheckin(f.ctx(noon.Add(time.Hour)), CheckinSubmission{
		DeviceID:   testDevice,
		Points:     humanTrace(),
		DurationMs: 528,
	})
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeNotFound, dErrors.CodeOf(err))
}

func TestScheduleCheckinsReportsExisting(t *testing.T) {
	f := newFixture(t)
	f.enroll(t)

	created, err := f.svc.ScheduleCheckins(f.ctx(noon), testDevice, 3)
	require.NoError(t, err)
	assert.False(t, created, "enroll already scheduled the window")
}

func TestSweepsRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.enroll(t)

	first, err := f.challenges.NextOpen(context.Background(), testDevice)
	require.NoError(t, err)

	sent, err := f.svc.RunDispatchSweep(f.ctx(first.ScheduledAt.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Contains(t, f.notifier.sentKinds(), "liveness_checkin")

	expired, err := f.svc.RunExpirySweep(f.ctx(first.ScheduledAt.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
}

func TestGateRequiresTrustHistoryAboveFloor(t *testing.T) {
	policy := gate.Policy{
		MinNights:       0,
		MinMovementDays: 1,
		MinCheckins:     0,
		MinAvgTrust:     0.95,
		TrustWindowDays: 14,
		FreezeBelow:     0.30,
	}
	f := newFixture(t, WithPolicy(policy))
	f.enroll(t)

	// Nighttime movement scores 0.90, below the 0.95 floor: counters alone
	// do not activate.
	night := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	result, err := f.svc.RecordMovement(f.ctx(night), MovementReport{
		DeviceID: testDevice,
		Detected: true,
		Geocell:  "aaaa1111",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusVerifying, result.Status)

	// A clean day lifts the trailing average back over the floor.
	clean, err := f.svc.RecordMovement(f.ctx(noon.AddDate(0, 0, 1)), MovementReport{
		DeviceID: testDevice,
		Detected: true,
		Geocell:  "aaaa1111",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, clean.Status)
}
