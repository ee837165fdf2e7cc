package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// DefaultSnapshotKey is where controller statistics are published.
	DefaultSnapshotKey = "copytrade:stats"
	snapshotTTL        = 24 * time.Hour
)

type snapshotEnvelope struct {
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SnapshotStore publishes JSON snapshots to Redis so other processes can read them.
type SnapshotStore struct {
	redis *redis.Client
	key   string
}

// NewSnapshotStore wraps a Redis client; an empty key uses DefaultSnapshotKey.
func NewSnapshotStore(client *redis.Client, key string) *SnapshotStore {
	if key == "" {
		key = DefaultSnapshotKey
	}
	return &SnapshotStore{redis: client, key: key}
}

// Save stores v with a 24h expiry.
func (s *SnapshotStore) Save(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	env, err := json.Marshal(snapshotEnvelope{Data: data, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, s.key, env, snapshotTTL).Err()
}

// Load decodes the last snapshot into v. It reports false when none exists.
func (s *SnapshotStore) Load(ctx context.Context, v any) (time.Time, bool, error) {
	raw, err := s.redis.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	var env snapshotEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return time.Time{}, false, err
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return time.Time{}, false, err
	}
	return env.UpdatedAt, true, nil
}

// Publish saves snapshot() every interval until ctx is done.
func (s *SnapshotStore) Publish(ctx context.Context, interval time.Duration, log zerolog.Logger, snapshot func() any) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Save(ctx, snapshot()); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Str("key", s.key).Msg("statistics snapshot publish failed")
			}
		}
	}
}
