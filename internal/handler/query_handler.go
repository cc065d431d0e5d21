// Package handler holds the message handlers registered on the router, one
// per inbound message type.
package handler

import (
	"context"

	"github.com/arc-pbc-co/hal-9000/internal/router"
	"github.com/arc-pbc-co/hal-9000/internal/session"
	"github.com/arc-pbc-co/hal-9000/pkg/protocol"
)

// Stats is the read-only view of gateway health consumed by the query
// handler. The wire shape of the health response is stable across versions;
// extend it, never change existing fields.
type Stats interface {
	UptimeSeconds() float64
	IsRunning() bool
	SessionCount() int
	ConnectionCount() int
	DroppedEvents() uint64
	DroppedFrames() uint64
}

// QueryHandler answers query messages. query_type=health returns gateway
// status without touching mutable session content; anything else echoes the
// payload back.
type QueryHandler struct {
	stats   Stats
	version string
}

func NewQueryHandler(stats Stats, version string) *QueryHandler {
	return &QueryHandler{stats: stats, version: version}
}

func (h *QueryHandler) Handle(ctx context.Context, msg *protocol.Message, sess *session.Session, emit router.EmitFunc) error {
	queryType, _ := msg.Payload["query_type"].(string)

	if queryType == "health" {
		resp := protocol.NewResponse(sess.ID, map[string]any{
			"status":             "healthy",
			"version":            h.version,
			"uptime_seconds":     h.stats.UptimeSeconds(),
			"active_sessions":    h.stats.SessionCount(),
			"active_connections": h.stats.ConnectionCount(),
			"is_running":         h.stats.IsRunning(),
			"dropped_events":     h.stats.DroppedEvents(),
			"dropped_frames":     h.stats.DroppedFrames(),
		})
		resp.SetMeta("query_type", "health")
		resp.SetMeta("original_id", msg.ID)
		return emit(resp)
	}

	resp := protocol.NewResponse(sess.ID, map[string]any{"echo": msg.Payload})
	resp.SetMeta("original_id", msg.ID)
	return emit(resp)
}
