// Package memory holds in-memory repository implementations used as the
// no-database fallback and by tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/arc-pbc-co/hal-9000/internal/session"
)

// SnapshotRepository keeps session snapshots in a map. It implements the
// same contract as the postgres and redis repositories.
type SnapshotRepository struct {
	mu    sync.Mutex
	snaps map[string]*session.Snapshot

	// FailNext forces the next mutating call to fail. Test hook for the
	// best-effort persistence paths.
	FailNext error
}

func NewSnapshotRepository() *SnapshotRepository {
	return &SnapshotRepository{snaps: make(map[string]*session.Snapshot)}
}

func (r *SnapshotRepository) failure() error {
	err := r.FailNext
	r.FailNext = nil
	return err
}

func (r *SnapshotRepository) Save(ctx context.Context, snap *session.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(); err != nil {
		return err
	}
	cp := *snap
	r.snaps[snap.ID] = &cp
	return nil
}

func (r *SnapshotRepository) LoadActive(ctx context.Context, cutoff time.Time) ([]*session.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*session.Snapshot
	for _, snap := range r.snaps {
		if snap.LastActive.Before(cutoff) {
			continue
		}
		cp := *snap
		out = append(out, &cp)
	}
	return out, nil
}

func (r *SnapshotRepository) Delete(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(); err != nil {
		return err
	}
	delete(r.snaps, sessionID)
	return nil
}

func (r *SnapshotRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for id, snap := range r.snaps {
		if snap.LastActive.Before(cutoff) {
			delete(r.snaps, id)
			removed++
		}
	}
	return removed, nil
}

func (r *SnapshotRepository) Touch(ctx context.Context, sessionID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if snap, ok := r.snaps[sessionID]; ok {
		snap.LastActive = at
	}
	return nil
}

// Count reports stored snapshots. Test helper.
func (r *SnapshotRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

// Has reports whether a snapshot exists. Test helper.
func (r *SnapshotRepository) Has(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.snaps[sessionID]
	return ok
}
