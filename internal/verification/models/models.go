// Package models holds the verification engine's domain entities. These are
// storage-agnostic; stores map them to rows, handlers map them to JSON.
package models

import (
	"time"

	"github.com/google/uuid"

	id "vicinity/pkg/domain"
)

// Status is the lifecycle state of a verification subject.
type Status string

const (
	// StatusVerifying is the sole initial state for a newly enrolled device.
	StatusVerifying Status = "verifying"
	// StatusActive means the activation gate passed and the badge is live.
	StatusActive Status = "active"
	// StatusFrozen means fraud is suspected. Devices never leave this state
	// inside the engine; an external review process resumes them.
	StatusFrozen Status = "frozen"
	// StatusRevoked is terminal, set by operators or a failed badge scan.
	StatusRevoked Status = "revoked"
)

// IsValid reports whether the status is a known lifecycle state.
func (s Status) IsValid() bool {
	switch s {
	case StatusVerifying, StatusActive, StatusFrozen, StatusRevoked:
		return true
	}
	return false
}

// Subscription gates enrollment but has no effect inside the engine.
type Subscription string

const (
	SubscriptionPaid       Subscription = "paid"
	SubscriptionSubsidized Subscription = "subsidized"
)

// IsValid reports whether the subscription class is known.
func (s Subscription) IsValid() bool {
	return s == SubscriptionPaid || s == SubscriptionSubsidized
}

// DeviceSubject is the per-device verification record. Counters are mutated
// only through atomic store increments; status only through the lifecycle
// transition function.
type DeviceSubject struct {
	DeviceID              id.DeviceID
	ZoneID                id.ZoneID
	Status                Status
	Subscription          Subscription
	VerificationStartedAt time.Time
	NightsConfirmed       int
	MovementDaysConfirmed int
	CheckinsCompleted     int
	CheckinsRequired      int
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Counter names accepted by SubjectStore.IncrementCounter.
type Counter string

const (
	CounterNights       Counter = "nights_confirmed"
	CounterMovementDays Counter = "movement_days_confirmed"
	CounterCheckins     Counter = "checkins_completed"
)

// IsValid reports whether the counter name is one the store may increment.
func (c Counter) IsValid() bool {
	switch c {
	case CounterNights, CounterMovementDays, CounterCheckins:
		return true
	}
	return false
}

// MovementObservation is one client-submitted movement check. Rows are
// append-only; the latest row per (device, date) drives display, the full
// history drives correlation lookups.
type MovementObservation struct {
	DeviceID         id.DeviceID
	ObservedDate     Date
	MovementDetected bool
	Geocell          id.Geocell
	ObservedAt       time.Time
}

// ScoreFlag names a correlation deduction or skip recorded with a score.
type ScoreFlag string

const (
	FlagImpossibleTrajectory   ScoreFlag = "impossible_trajectory"
	FlagStationaryWithMovement ScoreFlag = "stationary_with_movement"
	FlagNighttimeMovement      ScoreFlag = "nighttime_movement"
	// FlagGeocodeUnavailable records that the trajectory check was skipped
	// because geocell geometry could not be resolved. Fail-open is a
	// documented contract, not an accident; the skip is visible in the row.
	FlagGeocodeUnavailable ScoreFlag = "geocode_unavailable"
)

// CorrelationScore is the per-(device, date) trust summary. Exactly one row
// per device per date; recomputation overwrites, never accumulates.
type CorrelationScore struct {
	DeviceID     id.DeviceID
	ScoreDate    Date
	TrustScore   float64
	Flags        []ScoreFlag
	CalculatedAt time.Time
}

// ChallengeStatus is the lifecycle state of a check-in challenge.
type ChallengeStatus string

const (
	ChallengePending   ChallengeStatus = "pending"
	ChallengeSent      ChallengeStatus = "sent"
	ChallengeCompleted ChallengeStatus = "completed"
	ChallengeExpired   ChallengeStatus = "expired"
	ChallengeFailed    ChallengeStatus = "failed"
)

// IsTerminal reports whether the challenge can no longer change state.
func (s ChallengeStatus) IsTerminal() bool {
	return s == ChallengeCompleted || s == ChallengeExpired || s == ChallengeFailed
}

// CheckinChallenge is one randomly timed liveness prompt within a
// verification window, identified by (device, challenge number).
type CheckinChallenge struct {
	ID              uuid.UUID
	DeviceID        id.DeviceID
	ChallengeNumber int
	Status          ChallengeStatus
	ScheduledAt     time.Time
	SentAt          *time.Time
	CompletedAt     *time.Time
	IsHuman         *bool
	// Summarized touch metrics from the classifier; nil until completed.
	Straightness  *float64
	SpeedVariance *float64
	Jitter        *float64
	DurationMs    *int
}

// DayKind names the per-day counters that must credit a calendar day at
// most once regardless of how many reports arrive.
type DayKind string

const (
	DayKindNight    DayKind = "night"
	DayKindMovement DayKind = "movement"
)

// PresenceObservation is a recent sighting used by the trajectory check.
type PresenceObservation struct {
	Geocell    id.Geocell
	ObservedAt time.Time
}
