package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"vicinity/internal/verification/models"
	id "vicinity/pkg/domain"
	"vicinity/pkg/platform/sentinel"
)

// Redis key prefix for latest sightings.
const presenceKeyPrefix = "presence:latest:"

// sighting is the wire shape stored in Redis.
type sighting struct {
	Geocell    string    `json:"geocell"`
	ObservedAt time.Time `json:"observed_at"`
}

// RedisIndex is the production PresenceIndex. One key per device holds the
// latest sighting with a TTL matching the trajectory lookback, so the
// RecordMovement hot path never scans the Postgres append log.
type RedisIndex struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis constructs a Redis-backed presence index. The TTL should match
// the scorer's trajectory lookback; entries older than that are dead weight.
func NewRedis(client *redis.Client, ttl time.Duration) *RedisIndex {
	return &RedisIndex{client: client, ttl: ttl}
}

// Record remembers the sighting for the trajectory window.
func (s *RedisIndex) Record(ctx context.Context, deviceID id.DeviceID, obs models.PresenceObservation) error {
	payload, err := json.Marshal(sighting{
		Geocell:    obs.Geocell.String(),
		ObservedAt: obs.ObservedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal sighting: %w", err)
	}
	key := presenceKeyPrefix + deviceID.String()
	if err := s.client.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("record sighting: %w", err)
	}
	return nil
}

// Latest returns the most recent sighting since the given time, or
// sentinel.ErrNotFound when the key is missing, expired, or too old.
func (s *RedisIndex) Latest(ctx context.Context, deviceID id.DeviceID, since time.Time) (*models.PresenceObservation, error) {
	key := presenceKeyPrefix + deviceID.String()
	payload, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sighting: %w", err)
	}

	var sg sighting
	if err := json.Unmarshal(payload, &sg); err != nil {
		return nil, fmt.Errorf("unmarshal sighting: %w", err)
	}
	if sg.ObservedAt.Before(since) {
		return nil, sentinel.ErrNotFound
	}
	return &models.PresenceObservation{
		Geocell:    id.Geocell(sg.Geocell),
		ObservedAt: sg.ObservedAt,
	}, nil
}
