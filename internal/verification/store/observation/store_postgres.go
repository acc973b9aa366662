package observation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"vicinity/internal/verification/models"
	id "vicinity/pkg/domain"
)

// PostgresStore persists the append-only movement log in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed observation log.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append writes one observation. Rows are immutable once written.
func (s *PostgresStore) Append(ctx context.Context, obs *models.MovementObservation) error {
	query := `
		INSERT INTO movement_observations (device_id, observed_date, movement_detected, geocell, observed_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query,
		obs.DeviceID.String(),
		obs.ObservedDate.String(),
		obs.MovementDetected,
		nullString(obs.Geocell.String()),
		obs.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("append observation: %w", err)
	}
	return nil
}

// RecentPresence returns located observations since the given time, most
// recent first.
func (s *PostgresStore) RecentPresence(ctx context.Context, deviceID id.DeviceID, since time.Time) ([]models.PresenceObservation, error) {
	query := `
		SELECT geocell, observed_at
		FROM movement_observations
		WHERE device_id = $1 AND observed_at >= $2 AND geocell IS NOT NULL
		ORDER BY observed_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, deviceID.String(), since)
	if err != nil {
		return nil, fmt.Errorf("recent presence: %w", err)
	}
	defer rows.Close()

	var result []models.PresenceObservation
	for rows.Next() {
		var cell string
		var at time.Time
		if err := rows.Scan(&cell, &at); err != nil {
			return nil, fmt.Errorf("scan presence row: %w", err)
		}
		result = append(result, models.PresenceObservation{
			Geocell:    id.Geocell(cell),
			ObservedAt: at,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate presence rows: %w", err)
	}
	return result, nil
}

// MovementCountAt counts movement-detected observations at the geocell since
// the given time.
func (s *PostgresStore) MovementCountAt(ctx context.Context, deviceID id.DeviceID, cell id.Geocell, since time.Time) (int, error) {
	query := `
		SELECT count(*)
		FROM movement_observations
		WHERE device_id = $1 AND geocell = $2 AND movement_detected AND observed_at >= $3
	`
	var count int
	if err := s.db.QueryRowContext(ctx, query, deviceID.String(), cell.String(), since).Scan(&count); err != nil {
		return 0, fmt.Errorf("movement count: %w", err)
	}
	return count, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
