// Package service orchestrates the verification engine. It owns the order
// of operations around every state change: counters are committed atomically
// at the store before the gate reads them, scoring looks only at history
// committed before the report being scored, and lifecycle transitions go
// through the pure state machine with the store's guarded update as the
// race-safety backstop.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"vicinity/internal/audit"
	"vicinity/internal/verification/gate"
	"vicinity/internal/verification/gesture"
	"vicinity/internal/verification/lifecycle"
	"vicinity/internal/verification/metrics"
	"vicinity/internal/verification/models"
	"vicinity/internal/verification/ports"
	"vicinity/internal/verification/schedule"
	"vicinity/internal/verification/scoring"
	id "vicinity/pkg/domain"
	dErrors "vicinity/pkg/domain-errors"
	"vicinity/pkg/platform/sentinel"
	"vicinity/pkg/requestcontext"
)

const defaultCheckinsRequired = 3

// Stores groups the persistence dependencies. Presence is optional: without
// it the trajectory check fails open, everything else is unaffected.
type Stores struct {
	Subjects     ports.SubjectStore
	Observations ports.ObservationStore
	Scores       ports.ScoreStore
	Challenges   ports.ChallengeStore
	Days         ports.DayLedger
	Presence     ports.PresenceIndex
}

func (s Stores) validate() error {
	switch {
	case s.Subjects == nil:
		return fmt.Errorf("subject store is required")
	case s.Observations == nil:
		return fmt.Errorf("observation store is required")
	case s.Scores == nil:
		return fmt.Errorf("score store is required")
	case s.Challenges == nil:
		return fmt.Errorf("challenge store is required")
	case s.Days == nil:
		return fmt.Errorf("day ledger is required")
	}
	return nil
}

// Service is the verification engine facade exposed to transport.
type Service struct {
	stores     Stores
	scorer     *scoring.Scorer
	classifier *gesture.Classifier
	scheduler  *schedule.Scheduler
	notifier   ports.Notifier
	policy     gate.Policy
	audit      *audit.Publisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithPolicy overrides the default activation policy.
func WithPolicy(p gate.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithAudit sets the audit publisher.
func WithAudit(p *audit.Publisher) Option {
	return func(s *Service) { s.audit = p }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New constructs the service. The scorer, classifier, scheduler and notifier
// are required collaborators.
func New(stores Stores, scorer *scoring.Scorer, classifier *gesture.Classifier, scheduler *schedule.Scheduler, notifier ports.Notifier, opts ...Option) (*Service, error) {
	if err := stores.validate(); err != nil {
		return nil, err
	}
	if scorer == nil {
		return nil, fmt.Errorf("scorer is required")
	}
	if classifier == nil {
		return nil, fmt.Errorf("classifier is required")
	}
	if scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}

	s := &Service{
		stores:     stores,
		scorer:     scorer,
		classifier: classifier,
		scheduler:  scheduler,
		notifier:   notifier,
		policy:     gate.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EnrollRequest registers a device into the verification window.
type EnrollRequest struct {
	DeviceID     id.DeviceID
	ZoneID       id.ZoneID
	Subscription models.Subscription
}

// Enroll creates the subject in the verifying state and schedules its
// liveness check-ins. Idempotent: re-enrolling an existing device returns
// the stored subject unchanged.
func (s *Service) Enroll(ctx context.Context, req EnrollRequest) (*models.DeviceSubject, error) {
	now := requestcontext.Now(ctx)

	subject := &models.DeviceSubject{
		DeviceID:              req.DeviceID,
		ZoneID:                req.ZoneID,
		Status:                models.StatusVerifying,
		Subscription:          req.Subscription,
		VerificationStartedAt: now,
		CheckinsRequired:      defaultCheckinsRequired,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	if err := s.stores.Subjects.Create(ctx, subject); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return s.GetSubject(ctx, req.DeviceID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to enroll device")
	}

	// The schedule is created up front so the check-in window matches the
	// verification window. CreateBatch is the idempotence backstop if a
	// retry arrives after the subject row committed.
	if _, err := s.scheduler.Schedule(ctx, req.DeviceID, models.DateOf(now), subject.CheckinsRequired); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to schedule check-ins")
	}

	s.emit(ctx, audit.Event{
		DeviceID: req.DeviceID,
		ZoneID:   req.ZoneID,
		Action:   audit.ActionDeviceEnrolled,
		Status:   string(models.StatusVerifying),
	})
	return subject, nil
}

// GetSubject returns the stored verification record for a device.
func (s *Service) GetSubject(ctx context.Context, deviceID id.DeviceID) (*models.DeviceSubject, error) {
	subject, err := s.stores.Subjects.Get(ctx, deviceID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "device is not enrolled")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load subject")
	}
	return subject, nil
}

// MovementReport is one inbound daily movement check.
type MovementReport struct {
	DeviceID id.DeviceID
	Detected bool
	Geocell  id.Geocell
}

// MovementResult is the outcome returned to the reporting device.
type MovementResult struct {
	Status                models.Status
	TrustScore            float64
	Flags                 []models.ScoreFlag
	MovementDaysConfirmed int
}

// RecordMovement scores a movement report against recent history, persists
// the observation and the day's score, advances the movement-day counter at
// most once per calendar day, and re-evaluates the lifecycle.
//
// Scoring runs before the observation is appended so a report never counts
// itself as its own stationary evidence.
func (s *Service) RecordMovement(ctx context.Context, report MovementReport) (*MovementResult, error) {
	subject, err := s.GetSubject(ctx, report.DeviceID)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	today := models.DateOf(now)

	outcome := s.scorer.Evaluate(ctx, scoring.Report{
		DeviceID: report.DeviceID,
		Detected: report.Detected,
		Geocell:  report.Geocell,
		Now:      now,
	})

	if err := s.stores.Observations.Append(ctx, &models.MovementObservation{
		DeviceID:         report.DeviceID,
		ObservedDate:     today,
		MovementDetected: report.Detected,
		Geocell:          report.Geocell,
		ObservedAt:       now,
	}); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record observation")
	}

	if s.stores.Presence != nil && !report.Geocell.IsZero() {
		// Best effort: the scorer fails open when the index misses.
		if err := s.stores.Presence.Record(ctx, report.DeviceID, models.PresenceObservation{
			Geocell:    report.Geocell,
			ObservedAt: now,
		}); err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "presence index write failed",
				"device_id", report.DeviceID, "error", err)
		}
	}

	if err := s.stores.Scores.Upsert(ctx, &models.CorrelationScore{
		DeviceID:     report.DeviceID,
		ScoreDate:    today,
		TrustScore:   outcome.Score,
		Flags:        outcome.Flags,
		CalculatedAt: now,
	}); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist score")
	}

	if s.metrics != nil {
		s.metrics.ObserveScore(outcome.Score)
		for _, f := range outcome.Flags {
			s.metrics.IncrementFlag(string(f))
		}
	}
	s.emit(ctx, audit.Event{
		DeviceID:   report.DeviceID,
		ZoneID:     subject.ZoneID,
		Action:     audit.ActionMovementScored,
		TrustScore: outcome.Score,
	})

	movementDays := subject.MovementDaysConfirmed
	if report.Detected {
		first, err := s.stores.Days.Confirm(ctx, report.DeviceID, today, models.DayKindMovement)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to confirm movement day")
		}
		if first {
			movementDays, err = s.stores.Subjects.IncrementCounter(ctx, report.DeviceID, models.CounterMovementDays)
			if err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to advance movement days")
			}
		}
	}

	status := subject.Status
	if gate.ShouldFreeze(s.policy, outcome.Score) {
		status = s.applyTransition(ctx, subject, lifecycle.Transition(subject.Status, lifecycle.TriggerFraudDetected), outcome.Score)
	} else if subject.Status == models.StatusVerifying {
		status, err = s.evaluateGate(ctx, report.DeviceID, today)
		if err != nil {
			return nil, err
		}
	}

	return &MovementResult{
		Status:                status,
		TrustScore:            outcome.Score,
		Flags:                 outcome.Flags,
		MovementDaysConfirmed: movementDays,
	}, nil
}

// NightResult is the outcome of a confirmed overnight presence.
type NightResult struct {
	Status          models.Status
	NightsConfirmed int
}

// ConfirmNight credits one confirmed night to the device, at most once per
// calendar day, and re-evaluates the activation gate.
func (s *Service) ConfirmNight(ctx context.Context, deviceID id.DeviceID) (*NightResult, error) {
	subject, err := s.GetSubject(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	today := models.DateOf(now)

	nights := subject.NightsConfirmed
	first, err := s.stores.Days.Confirm(ctx, deviceID, today, models.DayKindNight)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to confirm night")
	}
	if first {
		nights, err = s.stores.Subjects.IncrementCounter(ctx, deviceID, models.CounterNights)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to advance nights")
		}
		s.emit(ctx, audit.Event{
			DeviceID: deviceID,
			ZoneID:   subject.ZoneID,
			Action:   audit.ActionNightConfirmed,
		})
	}

	status := subject.Status
	if subject.Status == models.StatusVerifying {
		status, err = s.evaluateGate(ctx, deviceID, today)
		if err != nil {
			return nil, err
		}
	}

	return &NightResult{Status: status, NightsConfirmed: nights}, nil
}

// CheckinSubmission is a device's answer to a liveness challenge. A nil
// ChallengeID resolves to the device's earliest open challenge.
type CheckinSubmission struct {
	DeviceID    id.DeviceID
	ChallengeID uuid.UUID
	Points      []gesture.Point
	DurationMs  int
}

// CheckinResult is the verdict returned to the device.
type CheckinResult struct {
	ChallengeID       uuid.UUID
	Passed            bool
	Confidence        float64
	Flags             []gesture.Flag
	Metrics           gesture.Metrics
	CheckinsCompleted int
	Status            models.Status
	// AlreadyCompleted marks a retried submission against a challenge that
	// had reached a terminal state; nothing was changed.
	AlreadyCompleted bool
}

// SubmitCheckin classifies the touch trace, records the verdict on the
// challenge, and advances the check-in counter on a human verdict. A
// submission against an already-terminal challenge is a no-op, not an error.
func (s *Service) SubmitCheckin(ctx context.Context, sub CheckinSubmission) (*CheckinResult, error) {
	subject, err := s.GetSubject(ctx, sub.DeviceID)
	if err != nil {
		return nil, err
	}

	challenge, err := s.resolveChallenge(ctx, sub)
	if err != nil {
		return nil, err
	}

	if challenge.Status.IsTerminal() {
		passed := challenge.IsHuman != nil && *challenge.IsHuman
		return &CheckinResult{
			ChallengeID:       challenge.ID,
			Passed:            passed,
			CheckinsCompleted: subject.CheckinsCompleted,
			Status:            subject.Status,
			AlreadyCompleted:  true,
		}, nil
	}

	now := requestcontext.Now(ctx)
	verdict := s.classifier.Classify(sub.Points, sub.DurationMs)

	updated, err := s.stores.Challenges.Complete(ctx, challenge.ID, now, verdict.IsHuman, ports.ChallengeMetrics{
		Straightness:  verdict.Metrics.Straightness,
		SpeedVariance: verdict.Metrics.SpeedVariance,
		Jitter:        verdict.Metrics.Jitter,
		DurationMs:    verdict.Metrics.DurationMs,
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to complete challenge")
	}
	if !updated {
		// An overlapping submission or the expiry sweep got there first.
		return &CheckinResult{
			ChallengeID:       challenge.ID,
			CheckinsCompleted: subject.CheckinsCompleted,
			Status:            subject.Status,
			AlreadyCompleted:  true,
		}, nil
	}

	if s.metrics != nil {
		s.metrics.IncrementVerdict(verdict.IsHuman)
	}

	checkins := subject.CheckinsCompleted
	status := subject.Status
	if verdict.IsHuman {
		checkins, err = s.stores.Subjects.IncrementCounter(ctx, sub.DeviceID, models.CounterCheckins)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to advance check-ins")
		}
		s.emit(ctx, audit.Event{
			DeviceID: sub.DeviceID,
			ZoneID:   subject.ZoneID,
			Action:   audit.ActionCheckinCompleted,
		})
		if subject.Status == models.StatusVerifying {
			status, err = s.evaluateGate(ctx, sub.DeviceID, models.DateOf(now))
			if err != nil {
				return nil, err
			}
		}
	} else {
		s.emit(ctx, audit.Event{
			DeviceID: sub.DeviceID,
			ZoneID:   subject.ZoneID,
			Action:   audit.ActionCheckinFailed,
		})
	}

	return &CheckinResult{
		ChallengeID:       challenge.ID,
		Passed:            verdict.IsHuman,
		Confidence:        verdict.Confidence,
		Flags:             verdict.Flags,
		Metrics:           verdict.Metrics,
		CheckinsCompleted: checkins,
		Status:            status,
	}, nil
}

func (s *Service) resolveChallenge(ctx context.Context, sub CheckinSubmission) (*models.CheckinChallenge, error) {
	if sub.ChallengeID != uuid.Nil {
		challenge, err := s.stores.Challenges.Get(ctx, sub.ChallengeID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil, dErrors.New(dErrors.CodeNotFound, "challenge not found")
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load challenge")
		}
		// Challenges are addressed per device; a foreign ID looks absent.
		if challenge.DeviceID != sub.DeviceID {
			return nil, dErrors.New(dErrors.CodeNotFound, "challenge not found")
		}
		return challenge, nil
	}

	challenge, err := s.stores.Challenges.NextOpen(ctx, sub.DeviceID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no open check-in challenge")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load challenge")
	}
	return challenge, nil
}

// ScheduleCheckins (re)creates the device's challenge schedule starting
// today. It reports created=false without changes when a schedule exists.
func (s *Service) ScheduleCheckins(ctx context.Context, deviceID id.DeviceID, count int) (bool, error) {
	subject, err := s.GetSubject(ctx, deviceID)
	if err != nil {
		return false, err
	}

	now := requestcontext.Now(ctx)
	created, err := s.scheduler.Schedule(ctx, deviceID, models.DateOf(now), count)
	if err != nil {
		return false, err
	}
	if created {
		s.emit(ctx, audit.Event{
			DeviceID: deviceID,
			ZoneID:   subject.ZoneID,
			Action:   audit.ActionChallengesScheduled,
		})
	}
	return created, nil
}

// RunDispatchSweep delivers every due pending challenge.
func (s *Service) RunDispatchSweep(ctx context.Context) (int, error) {
	sent, err := s.scheduler.RunDispatchSweep(ctx, requestcontext.Now(ctx))
	if err != nil {
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.ChallengesSent.Add(float64(sent))
	}
	return sent, nil
}

// RunExpirySweep expires every sent challenge whose answer window elapsed.
func (s *Service) RunExpirySweep(ctx context.Context) (int, error) {
	expired, err := s.scheduler.RunExpirySweep(ctx, requestcontext.Now(ctx))
	if err != nil {
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.ChallengesExpired.Add(float64(expired))
	}
	return expired, nil
}

// evaluateGate re-reads the committed counters and trailing trust average
// and applies the activation decision. It always reads fresh state: the gate
// must see the counter values this request committed.
func (s *Service) evaluateGate(ctx context.Context, deviceID id.DeviceID, today models.Date) (models.Status, error) {
	subject, err := s.GetSubject(ctx, deviceID)
	if err != nil {
		return "", err
	}

	avg, n, err := s.stores.Scores.TrailingAverage(ctx, deviceID, today, s.policy.TrustWindowDays)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to load trust history")
	}
	if n == 0 {
		// Absence of score history is not a penalty.
		avg = 1.0
	}

	decision := gate.Evaluate(s.policy, subject.Status, gate.Evidence{
		NightsConfirmed:       subject.NightsConfirmed,
		MovementDaysConfirmed: subject.MovementDaysConfirmed,
		CheckinsCompleted:     subject.CheckinsCompleted,
		AvgTrust:              avg,
	})
	return s.applyTransition(ctx, subject, decision, avg), nil
}

// applyTransition commits a lifecycle decision with the store's guarded
// status update. Losing the guard means an overlapping request transitioned
// first; the side effects were theirs to run.
func (s *Service) applyTransition(ctx context.Context, subject *models.DeviceSubject, decision lifecycle.Decision, score float64) models.Status {
	if !decision.Changed {
		return subject.Status
	}

	err := s.stores.Subjects.UpdateStatus(ctx, subject.DeviceID, subject.Status, decision.Next)
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			if current, gerr := s.stores.Subjects.Get(ctx, subject.DeviceID); gerr == nil {
				return current.Status
			}
			return subject.Status
		}
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "status update failed",
				"device_id", subject.DeviceID,
				"from", subject.Status,
				"to", decision.Next,
				"error", err,
			)
		}
		return subject.Status
	}

	for _, effect := range decision.SideEffects {
		s.notifier.Notify(ctx, subject.DeviceID, ports.NotificationPayload{Kind: string(effect)})
	}

	switch decision.Next {
	case models.StatusActive:
		if s.metrics != nil {
			s.metrics.DevicesActivated.Inc()
		}
		s.emit(ctx, audit.Event{
			DeviceID: subject.DeviceID,
			ZoneID:   subject.ZoneID,
			Action:   audit.ActionDeviceActivated,
			Status:   string(decision.Next),
		})
	case models.StatusFrozen:
		if s.metrics != nil {
			s.metrics.DevicesFrozen.Inc()
		}
		s.emit(ctx, audit.Event{
			DeviceID:   subject.DeviceID,
			ZoneID:     subject.ZoneID,
			Action:     audit.ActionDeviceFrozen,
			Status:     string(decision.Next),
			Reason:     decision.Reason,
			TrustScore: score,
		})
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "device status changed",
			"device_id", subject.DeviceID,
			"from", subject.Status,
			"to", decision.Next,
			"reason", decision.Reason,
		)
	}
	return decision.Next
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	event.RequestID = requestcontext.RequestID(ctx)
	s.audit.Emit(ctx, event)
}
