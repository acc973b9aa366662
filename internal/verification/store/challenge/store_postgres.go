package challenge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"vicinity/internal/verification/models"
	"vicinity/internal/verification/ports"
	id "vicinity/pkg/domain"
	"vicinity/pkg/platform/sentinel"
)

const uniqueViolation = "23505"

// PostgresStore persists check-in challenges in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed challenge store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateBatch inserts the challenges unless any already exist for the
// device. The existence check is the cheap short-circuit; the unique
// (device_id, challenge_number) constraint is the backstop when two calls
// race past it, and losing that race is a success-no-op.
func (s *PostgresStore) CreateBatch(ctx context.Context, challenges []models.CheckinChallenge) (bool, error) {
	if len(challenges) == 0 {
		return false, nil
	}
	deviceID := challenges[0].DeviceID.String()

	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM checkin_challenges WHERE device_id = $1)`,
		deviceID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check existing challenges: %w", err)
	}
	if exists {
		return false, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin challenge batch: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO checkin_challenges (id, device_id, challenge_number, status, scheduled_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, ch := range challenges {
		if _, err := tx.ExecContext(ctx, query,
			ch.ID, deviceID, ch.ChallengeNumber, string(ch.Status), ch.ScheduledAt,
		); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
				return false, nil
			}
			return false, fmt.Errorf("insert challenge %d: %w", ch.ChallengeNumber, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit challenge batch: %w", err)
	}
	return true, nil
}

// Get returns the challenge or sentinel.ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, challengeID uuid.UUID) (*models.CheckinChallenge, error) {
	return s.queryOne(ctx, `WHERE id = $1`, challengeID)
}

// NextOpen returns the earliest pending or sent challenge for the device.
func (s *PostgresStore) NextOpen(ctx context.Context, deviceID id.DeviceID) (*models.CheckinChallenge, error) {
	return s.queryOne(ctx,
		`WHERE device_id = $1 AND status IN ('pending', 'sent') ORDER BY scheduled_at LIMIT 1`,
		deviceID.String())
}

func (s *PostgresStore) queryOne(ctx context.Context, where string, arg any) (*models.CheckinChallenge, error) {
	query := `
		SELECT id, device_id, challenge_number, status, scheduled_at, sent_at,
		       completed_at, is_human, straightness, speed_variance, jitter, duration_ms
		FROM checkin_challenges ` + where

	ch, err := scanChallenge(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	return ch, nil
}

// DuePending returns pending challenges with scheduled_at in (oldest, now].
// Older pending rows are left for the expiry sweep rather than silently
// sent.
func (s *PostgresStore) DuePending(ctx context.Context, now, oldest time.Time) ([]models.CheckinChallenge, error) {
	query := `
		SELECT id, device_id, challenge_number, status, scheduled_at, sent_at,
		       completed_at, is_human, straightness, speed_variance, jitter, duration_ms
		FROM checkin_challenges
		WHERE status = 'pending' AND scheduled_at <= $1 AND scheduled_at > $2
		ORDER BY scheduled_at
	`
	rows, err := s.db.QueryContext(ctx, query, now, oldest)
	if err != nil {
		return nil, fmt.Errorf("list due challenges: %w", err)
	}
	defer rows.Close()

	var due []models.CheckinChallenge
	for rows.Next() {
		ch, err := scanChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due challenge: %w", err)
		}
		due = append(due, *ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due challenges: %w", err)
	}
	return due, nil
}

// MarkSent moves a pending challenge to sent. The status predicate makes
// overlapping sweep runs safe: a row already moved is simply not matched.
func (s *PostgresStore) MarkSent(ctx context.Context, challengeID uuid.UUID, sentAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE checkin_challenges
		SET status = 'sent', sent_at = $2
		WHERE id = $1 AND status = 'pending'
	`, challengeID, sentAt)
	if err != nil {
		return false, fmt.Errorf("mark challenge sent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark sent rows affected: %w", err)
	}
	return affected > 0, nil
}

// ExpireSentBefore moves sent challenges whose sent_at is older than the
// cutoff to expired.
func (s *PostgresStore) ExpireSentBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE checkin_challenges
		SET status = 'expired'
		WHERE status = 'sent' AND sent_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire challenges: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire rows affected: %w", err)
	}
	return int(affected), nil
}

// ExpirePendingBefore moves pending challenges scheduled before the cutoff
// to expired.
func (s *PostgresStore) ExpirePendingBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE checkin_challenges
		SET status = 'expired'
		WHERE status = 'pending' AND scheduled_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire pending challenges: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire pending rows affected: %w", err)
	}
	return int(affected), nil
}

// Complete records the classifier verdict on an open challenge. The status
// predicate keeps terminal challenges closed under concurrent retries.
func (s *PostgresStore) Complete(ctx context.Context, challengeID uuid.UUID, completedAt time.Time, isHuman bool, metrics ports.ChallengeMetrics) (bool, error) {
	status := models.ChallengeFailed
	if isHuman {
		status = models.ChallengeCompleted
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE checkin_challenges
		SET status = $2, completed_at = $3, is_human = $4,
		    straightness = $5, speed_variance = $6, jitter = $7, duration_ms = $8
		WHERE id = $1 AND status IN ('pending', 'sent')
	`, challengeID, string(status), completedAt, isHuman,
		metrics.Straightness, metrics.SpeedVariance, metrics.Jitter, metrics.DurationMs)
	if err != nil {
		return false, fmt.Errorf("complete challenge: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete rows affected: %w", err)
	}
	return affected > 0, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanChallenge.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanChallenge(row rowScanner) (*models.CheckinChallenge, error) {
	var ch models.CheckinChallenge
	var device, status string
	var sentAt, completedAt sql.NullTime
	var isHuman sql.NullBool
	var straightness, speedVariance, jitter sql.NullFloat64
	var durationMs sql.NullInt64

	err := row.Scan(
		&ch.ID, &device, &ch.ChallengeNumber, &status, &ch.ScheduledAt,
		&sentAt, &completedAt, &isHuman, &straightness, &speedVariance, &jitter, &durationMs,
	)
	if err != nil {
		return nil, err
	}

	ch.DeviceID = id.DeviceID(device)
	ch.Status = models.ChallengeStatus(status)
	if sentAt.Valid {
		ch.SentAt = &sentAt.Time
	}
	if completedAt.Valid {
		ch.CompletedAt = &completedAt.Time
	}
	if isHuman.Valid {
		ch.IsHuman = &isHuman.Bool
	}
	if straightness.Valid {
		ch.Straightness = &straightness.Float64
	}
	if speedVariance.Valid {
		ch.SpeedVariance = &speedVariance.Float64
	}
	if jitter.Valid {
		ch.Jitter = &jitter.Float64
	}
	if durationMs.Valid {
		d := int(durationMs.Int64)
		ch.DurationMs = &d
	}
	return &ch, nil
}
