package implementation_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-pbc-co/hal-9000/internal/repository/implementation"
	"github.com/arc-pbc-co/hal-9000/internal/session"
)

func newRedisRepo(t *testing.T) *implementation.RedisSnapshotRepository {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("Skipping integration test: REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Skipping integration test: redis unreachable: %v", err)
	}
	return implementation.NewRedisSnapshotRepository(rdb, time.Hour)
}

func TestRedisSnapshotLifecycle(t *testing.T) {
	repo := newRedisRepo(t)
	ctx := context.Background()
	id := uuid.NewString()

	snap := &session.Snapshot{
		ID:         id,
		Channel:    "websocket",
		Context:    `{"materials_of_interest":["CsPbI3"]}`,
		CreatedAt:  time.Now().UTC(),
		LastActive: time.Now().UTC(),
	}
	require.NoError(t, repo.Save(ctx, snap))
	t.Cleanup(func() { repo.Delete(ctx, id) })

	loaded, err := repo.LoadActive(ctx, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	var found *session.Snapshot
	for _, s := range loaded {
		if s.ID == id {
			found = s
		}
	}
	require.NotNil(t, found)
	assert.Contains(t, found.Context, "CsPbI3")

	require.NoError(t, repo.Touch(ctx, id, time.Now().UTC()))

	require.NoError(t, repo.Delete(ctx, id))
	loaded, err = repo.LoadActive(ctx, time.Time{})
	require.NoError(t, err)
	for _, s := range loaded {
		assert.NotEqual(t, id, s.ID)
	}
}

func TestRedisTouchMissingSession(t *testing.T) {
	repo := newRedisRepo(t)
	err := repo.Touch(context.Background(), "no-such-session", time.Now().UTC())
	assert.Error(t, err)
}
