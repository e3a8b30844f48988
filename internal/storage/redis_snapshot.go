package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/likmaa/apk-tic-dev-dashboard/internal/models"
)

// RedisSnapshotStore keeps the active list as one JSON value with a TTL, so a
// snapshot older than the TTL is never shown after a restart.
type RedisSnapshotStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisSnapshotStore(addr, password, key string, ttl time.Duration) *RedisSnapshotStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisSnapshotStore{client: c, key: key, ttl: ttl}
}

type snapshotDoc struct {
	SavedAt time.Time           `json:"saved_at"`
	Rides   []models.RideRecord `json:"rides"`
}

func (r *RedisSnapshotStore) Save(ctx context.Context, rides []models.RideRecord) error {
	b, err := json.Marshal(snapshotDoc{SavedAt: time.Now().UTC(), Rides: rides})
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key, b, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key, err)
	}
	return nil
}

func (r *RedisSnapshotStore) Load(ctx context.Context) ([]models.RideRecord, error) {
	b, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", r.key, err)
	}
	var doc snapshotDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return doc.Rides, nil
}

func (r *RedisSnapshotStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisSnapshotStore) Close() error {
	return r.client.Close()
}
