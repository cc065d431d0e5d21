package implementation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arc-pbc-co/hal-9000/internal/session"
)

const redisKeyPrefix = "gateway:session:"

// RedisSnapshotRepository persists session snapshots as JSON blobs with a
// TTL equal to the idle timeout, so Redis expiry mirrors the gateway sweep.
type RedisSnapshotRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisSnapshotRepository(rdb *redis.Client, ttl time.Duration) *RedisSnapshotRepository {
	return &RedisSnapshotRepository{rdb: rdb, ttl: ttl}
}

func redisKey(sessionID string) string {
	return redisKeyPrefix + sessionID
}

func (r *RedisSnapshotRepository) Save(ctx context.Context, snap *session.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal session snapshot: %w", err)
	}
	return r.rdb.Set(ctx, redisKey(snap.ID), data, r.ttl).Err()
}

func (r *RedisSnapshotRepository) LoadActive(ctx context.Context, cutoff time.Time) ([]*session.Snapshot, error) {
	var snaps []*session.Snapshot
	iter := r.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue // expired between SCAN and GET
			}
			return nil, err
		}
		var snap session.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			continue // skip corrupt records
		}
		if snap.LastActive.Before(cutoff) {
			continue
		}
		snaps = append(snaps, &snap)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return snaps, nil
}

func (r *RedisSnapshotRepository) Delete(ctx context.Context, sessionID string) error {
	return r.rdb.Del(ctx, redisKey(sessionID)).Err()
}

// DeleteExpired is a no-op under Redis: the per-key TTL already evicts
// expired snapshots.
func (r *RedisSnapshotRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (r *RedisSnapshotRepository) Touch(ctx context.Context, sessionID string, at time.Time) error {
	// Refresh the TTL; the record's own last_active only changes on Save.
	ok, err := r.rdb.Expire(ctx, redisKey(sessionID), r.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return redis.Nil
	}
	return nil
}
