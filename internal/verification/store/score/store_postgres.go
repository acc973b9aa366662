package score

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"vicinity/internal/verification/models"
	id "vicinity/pkg/domain"
)

// PostgresStore persists daily correlation scores in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed score store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Upsert writes the score for (device, date). The (device_id, score_date)
// primary key makes recomputation overwrite, never accumulate.
func (s *PostgresStore) Upsert(ctx context.Context, score *models.CorrelationScore) error {
	flags := make([]string, 0, len(score.Flags))
	for _, f := range score.Flags {
		flags = append(flags, string(f))
	}

	query := `
		INSERT INTO correlation_scores (device_id, score_date, trust_score, flags, calculated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (device_id, score_date) DO UPDATE SET
			trust_score = EXCLUDED.trust_score,
			flags = EXCLUDED.flags,
			calculated_at = EXCLUDED.calculated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		score.DeviceID.String(),
		score.ScoreDate.String(),
		score.TrustScore,
		pq.Array(flags),
		score.CalculatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert score: %w", err)
	}
	return nil
}

// TrailingAverage returns the mean trust score over the window of the given
// length ending at until, inclusive, and the number of rows averaged.
func (s *PostgresStore) TrailingAverage(ctx context.Context, deviceID id.DeviceID, until models.Date, days int) (float64, int, error) {
	from := until.AddDays(-(days - 1))
	query := `
		SELECT coalesce(avg(trust_score), 0), count(*)
		FROM correlation_scores
		WHERE device_id = $1 AND score_date BETWEEN $2 AND $3
	`
	var avg sql.NullFloat64
	var n int
	err := s.db.QueryRowContext(ctx, query, deviceID.String(), from.String(), until.String()).Scan(&avg, &n)
	if err != nil {
		return 0, 0, fmt.Errorf("trailing average: %w", err)
	}
	return avg.Float64, n, nil
}
