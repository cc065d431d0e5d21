// Package websocket pumps gateway messages between transport connections
// and the router. One connection maps to one session and one Client.
package websocket

import (
	"sync"
	"sync/atomic"

	"github.com/arc-pbc-co/hal-9000/internal/pkg/logger"
	"github.com/arc-pbc-co/hal-9000/pkg/protocol"
)

// Registry tracks the Client attached to each connected session and is the
// path for out-of-band pushes (event-driven notifications, broadcasts).
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client // session id -> client

	droppedFrames atomic.Uint64
	log           logger.ILogger
}

func NewRegistry(log logger.ILogger) *Registry {
	return &Registry{
		clients: make(map[string]*Client),
		log:     log,
	}
}

// Register attaches a client under its session id, replacing any stale
// entry for the same session.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	r.clients[c.session.ID] = c
	r.mu.Unlock()
	r.log.Info("Registry", "Client registered", map[string]interface{}{
		"session_id": c.session.ID,
	})
}

// Unregister detaches a client. A newer client for the same session id is
// left alone.
func (r *Registry) Unregister(c *Client) {
	r.mu.Lock()
	if current, ok := r.clients[c.session.ID]; ok && current == c {
		delete(r.clients, c.session.ID)
	}
	r.mu.Unlock()
}

// Get returns the client currently attached to a session.
func (r *Registry) Get(sessionID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[sessionID]
	return c, ok
}

// Count returns the number of connected clients.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// SendToSession pushes a message to one connected session, out-of-band from
// any request/response stream. Returns false when the session has no live
// connection.
func (r *Registry) SendToSession(sessionID string, msg *protocol.Message) bool {
	client, ok := r.Get(sessionID)
	if !ok {
		return false
	}
	msg.SessionID = sessionID
	return client.EnqueueMessage(msg)
}

// Broadcast sends a message to every connected session, rewriting the
// session id per recipient. One failing connection never aborts the rest;
// the return value counts successful enqueues.
func (r *Registry) Broadcast(msg *protocol.Message) int {
	r.mu.RLock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	count := 0
	for _, client := range clients {
		copied := *msg
		copied.SessionID = client.session.ID
		if client.EnqueueMessage(&copied) {
			count++
		} else {
			r.log.Warn("Registry", "Broadcast skipped session", map[string]interface{}{
				"session_id": client.session.ID,
			})
		}
	}
	return count
}

// CloseAll disconnects every client. Used during server shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	for _, client := range clients {
		client.Close()
	}
}

// DroppedFrames returns how many outbound frames were shed because a
// client's send queue overflowed. Surfaced in the health payload.
func (r *Registry) DroppedFrames() uint64 {
	return r.droppedFrames.Load()
}
