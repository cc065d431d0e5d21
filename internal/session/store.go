package session

import (
	"errors"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/arc-pbc-co/hal-9000/internal/pkg/logger"
	"github.com/arc-pbc-co/hal-9000/pkg/eventbus"
)

// ErrSessionConflict is returned by Create when the requested session id is
// already taken.
var ErrSessionConflict = errors.New("session id already exists")

// Store owns the canonical session map. Entries never expire on their own;
// the store's sweep is the only component that destroys sessions
// unilaterally, publishing session_destroyed for each eviction.
type Store struct {
	cache         *gocache.Cache
	bus           *eventbus.Bus
	log           logger.ILogger
	idleTimeout   time.Duration
	sweepInterval time.Duration

	// evictHook runs after the sweep (or an explicit Remove) drops a
	// session, so the persistence layer can delete its snapshot.
	evictHook func(*Session)

	stop     chan struct{}
	stopOnce sync.Once
}

// NewStore creates a session store. Sessions idle longer than idleTimeout
// are evicted by the sweep, which runs every sweepInterval once started.
func NewStore(idleTimeout, sweepInterval time.Duration, bus *eventbus.Bus, log logger.ILogger) *Store {
	return &Store{
		cache:         gocache.New(gocache.NoExpiration, 0),
		bus:           bus,
		log:           log,
		idleTimeout:   idleTimeout,
		sweepInterval: sweepInterval,
		stop:          make(chan struct{}),
	}
}

// SetEvictHook installs a callback invoked after a session leaves the store.
func (st *Store) SetEvictHook(hook func(*Session)) {
	st.evictHook = hook
}

// Create registers a new session. A sessionID of "" generates one; a taken
// id fails with ErrSessionConflict.
func (st *Store) Create(channel, userID, sessionID string) (*Session, error) {
	sess := newSession(sessionID, channel, userID)
	if err := st.cache.Add(sess.ID, sess, gocache.NoExpiration); err != nil {
		return nil, ErrSessionConflict
	}

	st.bus.Publish(eventbus.EventSessionCreated, sess.ID, map[string]any{
		"channel": channel,
		"user_id": userID,
	})
	st.log.Debug("SessionStore", "Session created", map[string]interface{}{
		"session_id": sess.ID,
		"channel":    channel,
	})
	return sess, nil
}

// Get returns the session for id.
func (st *Store) Get(sessionID string) (*Session, bool) {
	if x, found := st.cache.Get(sessionID); found {
		return x.(*Session), true
	}
	return nil, false
}

// Remove drops a session. Idempotent; reports whether anything was removed.
func (st *Store) Remove(sessionID string) bool {
	x, found := st.cache.Get(sessionID)
	if !found {
		return false
	}
	st.cache.Delete(sessionID)

	sess := x.(*Session)
	st.bus.Publish(eventbus.EventSessionDestroyed, sessionID, map[string]any{
		"reason": "removed",
	})
	if st.evictHook != nil {
		st.evictHook(sess)
	}
	return true
}

// List returns a stable snapshot of all sessions.
func (st *Store) List() []*Session {
	items := st.cache.Items()
	out := make([]*Session, 0, len(items))
	for _, item := range items {
		out = append(out, item.Object.(*Session))
	}
	return out
}

// Count returns the number of live sessions.
func (st *Store) Count() int {
	return st.cache.ItemCount()
}

// Touch refreshes a session's last-active timestamp. Called on every
// successfully routed message.
func (st *Store) Touch(sessionID string) bool {
	sess, found := st.Get(sessionID)
	if !found {
		return false
	}
	sess.Touch()
	return true
}

// Clear removes every session without publishing events. Test helper.
func (st *Store) Clear() int {
	count := st.cache.ItemCount()
	st.cache.Flush()
	return count
}

// StartSweep launches the idle-eviction loop. Stop terminates it.
func (st *Store) StartSweep() {
	go func() {
		ticker := time.NewTicker(st.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				st.SweepOnce()
			case <-st.stop:
				return
			}
		}
	}()
}

// SweepOnce evicts every session idle longer than the timeout and returns
// how many it removed.
func (st *Store) SweepOnce() int {
	removed := 0
	for id, item := range st.cache.Items() {
		sess := item.Object.(*Session)
		if sess.IdleFor() <= st.idleTimeout {
			continue
		}
		st.cache.Delete(id)
		removed++

		st.bus.Publish(eventbus.EventSessionDestroyed, id, map[string]any{
			"reason":       "idle_timeout",
			"idle_seconds": sess.IdleFor().Seconds(),
		})
		st.bus.UnsubscribeSession(id)
		if st.evictHook != nil {
			st.evictHook(sess)
		}
	}
	if removed > 0 {
		st.log.Info("SessionStore", "Idle sweep evicted sessions", map[string]interface{}{
			"removed": removed,
		})
	}
	return removed
}

// Stop terminates the sweep loop.
func (st *Store) Stop() {
	st.stopOnce.Do(func() { close(st.stop) })
}

// IdleTimeout exposes the configured timeout to the persistence layer.
func (st *Store) IdleTimeout() time.Duration {
	return st.idleTimeout
}
