package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"vicinity/internal/verification/models"
	id "vicinity/pkg/domain"
)

// PostgresStore persists the per-day confirmation ledger in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed day ledger.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Confirm inserts (device, date, kind) if absent. The primary key makes the
// insert race-safe: exactly one of any set of concurrent duplicates observes
// first=true.
func (s *PostgresStore) Confirm(ctx context.Context, deviceID id.DeviceID, date models.Date, kind models.DayKind) (bool, error) {
	query := `
		INSERT INTO confirmed_days (device_id, day, kind)
		VALUES ($1, $2, $3)
		ON CONFLICT (device_id, day, kind) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query, deviceID.String(), date.String(), string(kind))
	if err != nil {
		return false, fmt.Errorf("confirm day: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("confirm day: rows affected: %w", err)
	}
	return affected > 0, nil
}
