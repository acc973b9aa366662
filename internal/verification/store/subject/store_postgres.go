package subject

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"vicinity/internal/verification/models"
	id "vicinity/pkg/domain"
	"vicinity/pkg/platform/sentinel"
)

// uniqueViolation is the Postgres error code for unique constraint hits.
const uniqueViolation = "23505"

// counterColumns whitelists the columns IncrementCounter may touch. Counter
// names arrive from engine code, never clients, but SQL identifiers are not
// parameterizable so the whitelist stays anyway.
var counterColumns = map[models.Counter]string{
	models.CounterNights:       "nights_confirmed",
	models.CounterMovementDays: "movement_days_confirmed",
	models.CounterCheckins:     "checkins_completed",
}

// PostgresStore persists device subjects in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed subject store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts a new subject in the verifying state.
func (s *PostgresStore) Create(ctx context.Context, subject *models.DeviceSubject) error {
	query := `
		INSERT INTO device_subjects (
			device_id, zone_id, status, subscription, verification_started_at,
			nights_confirmed, movement_days_confirmed, checkins_completed, checkins_required
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		subject.DeviceID.String(),
		subject.ZoneID.String(),
		string(subject.Status),
		string(subject.Subscription),
		subject.VerificationStartedAt,
		subject.NightsConfirmed,
		subject.MovementDaysConfirmed,
		subject.CheckinsCompleted,
		subject.CheckinsRequired,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create subject: %w", err)
	}
	return nil
}

// Get returns the subject or sentinel.ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, deviceID id.DeviceID) (*models.DeviceSubject, error) {
	query := `
		SELECT device_id, zone_id, status, subscription, verification_started_at,
		       nights_confirmed, movement_days_confirmed, checkins_completed,
		       checkins_required, created_at, updated_at
		FROM device_subjects
		WHERE device_id = $1
	`
	var subject models.DeviceSubject
	var device, zone, status, subscription string
	err := s.db.QueryRowContext(ctx, query, deviceID.String()).Scan(
		&device, &zone, &status, &subscription, &subject.VerificationStartedAt,
		&subject.NightsConfirmed, &subject.MovementDaysConfirmed, &subject.CheckinsCompleted,
		&subject.CheckinsRequired, &subject.CreatedAt, &subject.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get subject: %w", err)
	}
	subject.DeviceID = id.DeviceID(device)
	subject.ZoneID = id.ZoneID(zone)
	subject.Status = models.Status(status)
	subject.Subscription = models.Subscription(subscription)
	return &subject, nil
}

// IncrementCounter increments the named counter as a single atomic statement
// and returns the freshly committed value. Concurrent retries for the same
// device serialize on the row; none of them read-modify-write.
func (s *PostgresStore) IncrementCounter(ctx context.Context, deviceID id.DeviceID, counter models.Counter) (int, error) {
	column, ok := counterColumns[counter]
	if !ok {
		return 0, sentinel.ErrInvalidState
	}

	query := fmt.Sprintf(`
		UPDATE device_subjects
		SET %s = %s + 1, updated_at = now()
		WHERE device_id = $1
		RETURNING %s
	`, column, column, column)

	var value int
	err := s.db.QueryRowContext(ctx, query, deviceID.String()).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, sentinel.ErrNotFound
		}
		return 0, fmt.Errorf("increment %s: %w", counter, err)
	}
	return value, nil
}

// UpdateStatus transitions the status guarded by the expected current value.
// A row that no longer matches was moved by a concurrent request; the guard
// makes the transition fire at most once.
func (s *PostgresStore) UpdateStatus(ctx context.Context, deviceID id.DeviceID, from, to models.Status) error {
	query := `
		UPDATE device_subjects
		SET status = $3, updated_at = now()
		WHERE device_id = $1 AND status = $2
	`
	res, err := s.db.ExecContext(ctx, query, deviceID.String(), string(from), string(to))
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update status rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrInvalidState
	}
	return nil
}
