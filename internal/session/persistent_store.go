package session

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/arc-pbc-co/hal-9000/internal/pkg/logger"
)

// SnapshotRepository is the durable store behind a PersistentStore. One
// record per session, keyed by id. Implementations live in
// internal/repository/implementation.
type SnapshotRepository interface {
	Save(ctx context.Context, snap *Snapshot) error
	LoadActive(ctx context.Context, cutoff time.Time) ([]*Snapshot, error)
	Delete(ctx context.Context, sessionID string) error
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
	Touch(ctx context.Context, sessionID string, at time.Time) error
}

// PersistentStore wraps a Store with best-effort durable snapshots so
// sessions survive gateway restarts. Persistence failures are logged and
// never fail the in-memory operation.
type PersistentStore struct {
	*Store
	repo        SnapshotRepository
	autoPersist bool
	log         logger.ILogger
}

// NewPersistentStore wires a snapshot repository under an in-memory store.
func NewPersistentStore(store *Store, repo SnapshotRepository, autoPersist bool, log logger.ILogger) *PersistentStore {
	ps := &PersistentStore{
		Store:       store,
		repo:        repo,
		autoPersist: autoPersist,
		log:         log,
	}
	store.SetEvictHook(func(sess *Session) {
		if err := repo.Delete(context.Background(), sess.ID); err != nil {
			log.Error("SessionStore", "Failed to delete session snapshot", map[string]interface{}{
				"session_id": sess.ID,
				"error":      err.Error(),
			})
		}
	})
	return ps
}

// Load rehydrates all non-expired snapshots into memory. Called once at
// startup, before the gateway accepts connections.
func (ps *PersistentStore) Load(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-ps.IdleTimeout())
	snaps, err := ps.repo.LoadActive(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, snap := range snaps {
		sess := Restore(snap)
		if err := ps.cache.Add(sess.ID, sess, gocache.NoExpiration); err != nil {
			continue // already live, keep the in-memory copy
		}
		loaded++
	}
	ps.log.Info("SessionStore", "Loaded sessions from durable store", map[string]interface{}{
		"loaded": loaded,
	})
	return loaded, nil
}

// Create registers a session and snapshots it when auto-persist is on.
func (ps *PersistentStore) Create(channel, userID, sessionID string) (*Session, error) {
	sess, err := ps.Store.Create(channel, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if ps.autoPersist {
		ps.Save(sess.ID)
	}
	return sess, nil
}

// Save snapshots one session. Best-effort; reports whether it stuck.
func (ps *PersistentStore) Save(sessionID string) bool {
	sess, found := ps.Get(sessionID)
	if !found {
		return false
	}
	snap, err := sess.Snapshot()
	if err == nil {
		err = ps.repo.Save(context.Background(), snap)
	}
	if err != nil {
		ps.log.Error("SessionStore", "Failed to save session snapshot", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		return false
	}
	return true
}

// SaveAll snapshots every live session, returning how many stuck.
func (ps *PersistentStore) SaveAll() int {
	saved := 0
	for _, sess := range ps.List() {
		if ps.Save(sess.ID) {
			saved++
		}
	}
	return saved
}

// Touch refreshes activity in memory and, when auto-persist is on, in the
// durable record.
func (ps *PersistentStore) Touch(sessionID string) bool {
	if !ps.Store.Touch(sessionID) {
		return false
	}
	if ps.autoPersist {
		if err := ps.repo.Touch(context.Background(), sessionID, time.Now().UTC()); err != nil {
			ps.log.Error("SessionStore", "Failed to touch session snapshot", map[string]interface{}{
				"session_id": sessionID,
				"error":      err.Error(),
			})
		}
	}
	return true
}

// CleanupExpired evicts idle sessions from memory and deletes expired
// snapshots, including leftovers from earlier gateway runs.
func (ps *PersistentStore) CleanupExpired(ctx context.Context) (int, error) {
	removed := ps.SweepOnce()
	cutoff := time.Now().UTC().Add(-ps.IdleTimeout())
	dbRemoved, err := ps.repo.DeleteExpired(ctx, cutoff)
	if err != nil {
		ps.log.Error("SessionStore", "Failed to cleanup expired snapshots", map[string]interface{}{
			"error": err.Error(),
		})
		return removed, err
	}
	ps.log.Info("SessionStore", "Cleaned up expired sessions", map[string]interface{}{
		"memory":  removed,
		"durable": dbRemoved,
	})
	return removed, nil
}
