package websocket

import (
	"github.com/arc-pbc-co/hal-9000/internal/config"
	"github.com/arc-pbc-co/hal-9000/internal/pkg/logger"
	"github.com/arc-pbc-co/hal-9000/internal/router"
	"github.com/arc-pbc-co/hal-9000/internal/session"
	"github.com/arc-pbc-co/hal-9000/pkg/eventbus"
)

// Deps bundles what a connection needs for its lifetime. Built once at
// startup and shared by every connection.
type Deps struct {
	Registry      *Registry
	Store         SessionStore
	Router        *router.Router
	Bus           *eventbus.Bus
	Log           logger.ILogger
	SessionPolicy string
	SendQueueSize int
}

// Serve runs one websocket connection to completion. The requestedSession
// id comes from the ?session_id query parameter and lets a client re-attach
// to its session after a reconnect; empty means a fresh session.
func (d *Deps) Serve(conn Conn, requestedSession string) {
	sess, resumed := d.attachSession(requestedSession)

	client := NewClient(d.Registry, conn, sess, d.Router, d.Store, d.Bus, d.Log, d.SendQueueSize)
	d.Registry.Register(client)

	d.Bus.Publish(eventbus.EventConnectionOpened, sess.ID, map[string]interface{}{
		"resumed": resumed,
	})

	go client.WritePump()
	client.ReadPump()

	client.Close()
	d.Registry.Unregister(client)

	d.Bus.Publish(eventbus.EventConnectionClosed, sess.ID, nil)

	if d.SessionPolicy == config.PolicyEphemeral {
		d.Store.Remove(sess.ID)
	}
}

// attachSession reuses the requested session when it still exists and
// creates one otherwise. Creating with the requested id keeps client-side
// references valid across a gateway restart under the persistent policy.
func (d *Deps) attachSession(requestedSession string) (*session.Session, bool) {
	if requestedSession != "" {
		if sess, ok := d.Store.Get(requestedSession); ok {
			d.Store.Touch(requestedSession)
			return sess, true
		}
	}
	sess, err := d.Store.Create("websocket", "", requestedSession)
	if err != nil {
		// Conflict means another connection created it between our Get and
		// Create. Attach to the winner.
		if existing, ok := d.Store.Get(requestedSession); ok {
			return existing, true
		}
		// Unreachable fallback: a conflict without a stored session.
		sess, _ = d.Store.Create("websocket", "", "")
	}
	return sess, false
}
