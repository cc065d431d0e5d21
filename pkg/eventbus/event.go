// Package eventbus provides the gateway's in-process publish/subscribe
// channel. It is orthogonal to the request/response path: any component may
// publish, any component may listen, with optional type and session filters.
package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of a gateway event.
type EventType string

const (
	// Connection events
	EventConnectionOpened EventType = "connection_opened"
	EventConnectionClosed EventType = "connection_closed"
	EventConnectionError  EventType = "connection_error"

	// Session events
	EventSessionCreated   EventType = "session_created"
	EventSessionUpdated   EventType = "session_updated"
	EventSessionDestroyed EventType = "session_destroyed"

	// Message events
	EventMessageReceived EventType = "message_received"
	EventMessageSent     EventType = "message_sent"
	EventMessageError    EventType = "message_error"

	// Processing events
	EventProcessingStarted   EventType = "processing_started"
	EventProcessingProgress  EventType = "processing_progress"
	EventProcessingCompleted EventType = "processing_completed"
	EventProcessingFailed    EventType = "processing_failed"

	// External assistant events
	EventExternalQueryStarted      EventType = "external_query_started"
	EventExternalResponseChunk     EventType = "external_response_chunk"
	EventExternalResponseCompleted EventType = "external_response_completed"

	// Tool events
	EventToolInvoked EventType = "tool_invoked"
	EventToolResult  EventType = "tool_result"

	// System events
	EventSystemStatus EventType = "system_status"
	EventSystemError  EventType = "system_error"
)

// Event is one entry in the gateway event stream. SessionID is empty for
// gateway-wide events.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewEvent creates an event with a generated id and current timestamp.
func NewEvent(eventType EventType, sessionID string, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}
