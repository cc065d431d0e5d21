package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-pbc-co/hal-9000/internal/pkg/logger"
	"github.com/arc-pbc-co/hal-9000/internal/repository/memory"
	"github.com/arc-pbc-co/hal-9000/internal/session"
	"github.com/arc-pbc-co/hal-9000/pkg/eventbus"
)

func newPersistentStore(t *testing.T) (*session.PersistentStore, *memory.SnapshotRepository) {
	t.Helper()
	repo := memory.NewSnapshotRepository()
	base := session.NewStore(time.Hour, time.Minute, eventbus.NewBus(64), logger.Nop())
	t.Cleanup(func() { base.Stop() })
	return session.NewPersistentStore(base, repo, true, logger.Nop()), repo
}

func TestAutoPersistOnCreate(t *testing.T) {
	ps, repo := newPersistentStore(t)

	sess, err := ps.Create("websocket", "user-1", "")
	require.NoError(t, err)
	assert.True(t, repo.Has(sess.ID))
}

func TestSaveFailureIsBestEffort(t *testing.T) {
	ps, repo := newPersistentStore(t)
	sess, err := ps.Create("websocket", "", "")
	require.NoError(t, err)

	repo.FailNext = errors.New("backend down")
	assert.False(t, ps.Save(sess.ID))

	// The in-memory session is untouched by the persistence failure.
	_, ok := ps.Get(sess.ID)
	assert.True(t, ok)
}

func TestSaveUnknownSession(t *testing.T) {
	ps, _ := newPersistentStore(t)
	assert.False(t, ps.Save("no-such-session"))
}

func TestLoadRehydratesSessions(t *testing.T) {
	ps, repo := newPersistentStore(t)
	sess, err := ps.Create("websocket", "user-1", "sess-restore")
	require.NoError(t, err)
	sess.UpdateContext(func(rc *session.ResearchContext) {
		rc.DocumentsAnalyzed = append(rc.DocumentsAnalyzed, "doc-9")
	})
	require.True(t, ps.Save(sess.ID))

	// Simulate a restart: fresh store, same repository.
	base := session.NewStore(time.Hour, time.Minute, eventbus.NewBus(64), logger.Nop())
	t.Cleanup(func() { base.Stop() })
	restartedStore := session.NewPersistentStore(base, repo, true, logger.Nop())

	loaded, err := restartedStore.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)

	restored, ok := restartedStore.Get("sess-restore")
	require.True(t, ok)
	assert.Equal(t, "user-1", restored.UserID)
	assert.Equal(t, []string{"doc-9"}, restored.Context().DocumentsAnalyzed)
}

func TestLoadSkipsLiveSessions(t *testing.T) {
	ps, _ := newPersistentStore(t)
	sess, err := ps.Create("websocket", "", "sess-live")
	require.NoError(t, err)
	sess.AddHistory(session.HistoryEntry{Role: "client", Content: "in-memory only"})

	loaded, err := ps.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, loaded)

	// The live copy with unsaved history wins over the snapshot.
	live, _ := ps.Get("sess-live")
	assert.Len(t, live.History(), 1)
}

func TestRemoveDeletesSnapshot(t *testing.T) {
	ps, repo := newPersistentStore(t)
	sess, err := ps.Create("websocket", "", "")
	require.NoError(t, err)
	require.True(t, repo.Has(sess.ID))

	assert.True(t, ps.Remove(sess.ID))
	assert.False(t, repo.Has(sess.ID))
}

func TestCleanupExpired(t *testing.T) {
	ps, repo := newPersistentStore(t)

	// A snapshot from a dead gateway run, idle past the timeout, with no
	// in-memory counterpart.
	stale := &session.Snapshot{
		ID:         "sess-stale",
		Channel:    "websocket",
		LastActive: time.Now().UTC().Add(-2 * time.Hour),
	}
	require.NoError(t, repo.Save(context.Background(), stale))

	fresh, err := ps.Create("websocket", "", "sess-fresh")
	require.NoError(t, err)

	_, err = ps.CleanupExpired(context.Background())
	require.NoError(t, err)

	assert.False(t, repo.Has("sess-stale"))
	assert.True(t, repo.Has(fresh.ID))
	_, ok := ps.Get(fresh.ID)
	assert.True(t, ok)
}
