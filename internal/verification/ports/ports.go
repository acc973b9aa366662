// Package ports defines the interfaces the verification engine requires from
// storage and external collaborators. Adapters implement these; the engine's
// decision logic never imports a driver.
package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"vicinity/internal/verification/models"
	id "vicinity/pkg/domain"
)

// SubjectStore persists DeviceSubject rows.
type SubjectStore interface {
	// Create inserts a new subject in the verifying state. Returns
	// sentinel.ErrConflict if the device is already enrolled.
	Create(ctx context.Context, subject *models.DeviceSubject) error

	// Get returns the subject or sentinel.ErrNotFound.
	Get(ctx context.Context, deviceID id.DeviceID) (*models.DeviceSubject, error)

	// IncrementCounter atomically increments the named counter and returns
	// the new value. Never read-modify-write: concurrent client retries for
	// the same device must each observe a distinct committed value.
	IncrementCounter(ctx context.Context, deviceID id.DeviceID, counter models.Counter) (int, error)

	// UpdateStatus transitions the subject's status, guarded by the expected
	// current status. Returns sentinel.ErrInvalidState when the row no
	// longer matches, which callers treat as "another request got there
	// first".
	UpdateStatus(ctx context.Context, deviceID id.DeviceID, from, to models.Status) error
}

// ObservationStore is the append-only movement log.
type ObservationStore interface {
	// Append writes one observation; rows are immutable once written.
	Append(ctx context.Context, obs *models.MovementObservation) error

	// RecentPresence returns observations with a geocell since the given
	// time, most recent first.
	RecentPresence(ctx context.Context, deviceID id.DeviceID, since time.Time) ([]models.PresenceObservation, error)

	// MovementCountAt counts movement-detected observations for the device
	// at the given geocell since the given time.
	MovementCountAt(ctx context.Context, deviceID id.DeviceID, cell id.Geocell, since time.Time) (int, error)
}

// ScoreStore persists daily correlation scores.
type ScoreStore interface {
	// Upsert writes the score for (device, date), overwriting any prior
	// same-day value. Recomputation is idempotent, not cumulative.
	Upsert(ctx context.Context, score *models.CorrelationScore) error

	// TrailingAverage returns the mean trust score over the window ending at
	// the given date, and the number of rows averaged. Zero rows is not an
	// error; the gate defaults to 1.0.
	TrailingAverage(ctx context.Context, deviceID id.DeviceID, until models.Date, days int) (avg float64, n int, err error)
}

// ChallengeStore persists check-in challenges.
type ChallengeStore interface {
	// CreateBatch inserts the challenges unless any challenge already exists
	// for the device, in which case it reports created=false and inserts
	// nothing. The unique (device, challenge_number) constraint is the
	// race-safety backstop for concurrent schedule calls.
	CreateBatch(ctx context.Context, challenges []models.CheckinChallenge) (created bool, err error)

	// Get returns a challenge by ID or sentinel.ErrNotFound.
	Get(ctx context.Context, challengeID uuid.UUID) (*models.CheckinChallenge, error)

	// NextOpen returns the earliest pending or sent challenge for the
	// device, or sentinel.ErrNotFound.
	NextOpen(ctx context.Context, deviceID id.DeviceID) (*models.CheckinChallenge, error)

	// DuePending returns pending challenges with scheduled_at in
	// (oldest, now]. Pending rows older than the window are left for the
	// expiry sweep rather than silently sent.
	DuePending(ctx context.Context, now, oldest time.Time) ([]models.CheckinChallenge, error)

	// MarkSent moves a pending challenge to sent. Rows already moved by an
	// overlapping sweep run are simply not matched; that is reported as
	// updated=false, not an error.
	MarkSent(ctx context.Context, challengeID uuid.UUID, sentAt time.Time) (updated bool, err error)

	// ExpireSentBefore moves sent challenges whose sent_at is older than the
	// cutoff to expired, returning how many rows moved.
	ExpireSentBefore(ctx context.Context, cutoff time.Time) (int, error)

	// ExpirePendingBefore moves pending challenges scheduled before the
	// cutoff to expired, returning how many rows moved. This catches rows
	// the dispatch sweep can no longer deliver.
	ExpirePendingBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Complete records the classifier verdict on a sent or pending
	// challenge. Terminal challenges are not reopened; updated=false.
	Complete(ctx context.Context, challengeID uuid.UUID, completedAt time.Time, isHuman bool, metrics ChallengeMetrics) (updated bool, err error)
}

// ChallengeMetrics is the touch summary persisted with a completed challenge.
type ChallengeMetrics struct {
	Straightness  float64
	SpeedVariance float64
	Jitter        float64
	DurationMs    int
}

// DayLedger records which calendar days have already been credited to a
// counter, making per-day increments idempotent under client retries.
type DayLedger interface {
	// Confirm records (device, date, kind) and reports whether this call was
	// the first. Implementations use an insert-if-absent so concurrent
	// duplicates see first=true exactly once.
	Confirm(ctx context.Context, deviceID id.DeviceID, date models.Date, kind models.DayKind) (first bool, err error)
}

// PresenceIndex is the hot-path cache of recent sightings used by the
// trajectory check. It is best-effort: implementations may lose entries, and
// the scorer fails open when the index is empty or unavailable.
type PresenceIndex interface {
	// Record remembers a sighting for the trajectory window.
	Record(ctx context.Context, deviceID id.DeviceID, obs models.PresenceObservation) error

	// Latest returns the most recent sighting since the given time, or
	// sentinel.ErrNotFound.
	Latest(ctx context.Context, deviceID id.DeviceID, since time.Time) (*models.PresenceObservation, error)
}

// RegionResolver maps a geocell to its enclosing coarser region. Resolution
// failures must fail open at the call site: skip the affected check rather
// than penalize the device.
type RegionResolver interface {
	Region(ctx context.Context, cell id.Geocell) (string, error)
}

// Notifier dispatches liveness prompts to devices. Fire-and-forget: delivery
// failure never blocks a state transition.
type Notifier interface {
	Notify(ctx context.Context, deviceID id.DeviceID, payload NotificationPayload)
}

// NotificationPayload is the message handed to the push transport.
type NotificationPayload struct {
	Kind        string    `json:"kind"`
	ChallengeID uuid.UUID `json:"challenge_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}
