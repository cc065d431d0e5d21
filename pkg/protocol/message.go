// Package protocol defines the wire envelope exchanged between gateway
// clients and the HAL-9000 server. Every frame on the socket is one Message
// serialized as JSON.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of a gateway message.
type MessageType string

const (
	// Client -> Gateway
	MessageTypeCommand          MessageType = "command"
	MessageTypeQuery            MessageType = "query"
	MessageTypeToolCall         MessageType = "tool_call"
	MessageTypeFeedback         MessageType = "feedback"
	MessageTypeExternalPrompt   MessageType = "external_prompt"
	MessageTypeExternalContext  MessageType = "external_context"
	MessageTypeExternalFeedback MessageType = "external_feedback"

	// Gateway -> Client
	MessageTypeResponse    MessageType = "response"
	MessageTypeStreamChunk MessageType = "stream_chunk"
	MessageTypeStreamEnd   MessageType = "stream_end"
	MessageTypeToolResult  MessageType = "tool_result"
	MessageTypeError       MessageType = "error"
)

var validTypes = map[MessageType]bool{
	MessageTypeCommand:          true,
	MessageTypeQuery:            true,
	MessageTypeToolCall:         true,
	MessageTypeFeedback:         true,
	MessageTypeExternalPrompt:   true,
	MessageTypeExternalContext:  true,
	MessageTypeExternalFeedback: true,
	MessageTypeResponse:         true,
	MessageTypeStreamChunk:      true,
	MessageTypeStreamEnd:        true,
	MessageTypeToolResult:       true,
	MessageTypeError:            true,
}

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return validTypes[t]
}

// Stable error codes carried in the payload of error messages.
const (
	CodeInvalidJSON        = "INVALID_JSON"
	CodeParseError         = "PARSE_ERROR"
	CodeUnknownMessageType = "UNKNOWN_MESSAGE_TYPE"
	CodeNoHandler          = "NO_HANDLER"
	CodeHandlerError       = "HANDLER_ERROR"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeUnknownCommand     = "UNKNOWN_COMMAND"
	CodeUnknownTool        = "UNKNOWN_TOOL"
	CodeConnectionLimit    = "CONNECTION_LIMIT"
)

// MetadataCorrelationID is stamped by the router onto every message a
// handler emits, so clients can reassemble one request's stream.
const MetadataCorrelationID = "correlation_id"

// Message is the gateway wire envelope. The payload is interpreted per
// message type by the registered handler; the envelope layer routes on the
// type and never looks inside the payload.
type Message struct {
	ID        string         `json:"id"`
	Type      MessageType    `json:"type"`
	SessionID string         `json:"session_id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// New creates a message with a generated id and current timestamp.
func New(msgType MessageType, sessionID string, payload map[string]any) *Message {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// NewResponse creates a response message.
func NewResponse(sessionID string, payload map[string]any) *Message {
	return New(MessageTypeResponse, sessionID, payload)
}

// NewError creates an error message with a stable code.
func NewError(sessionID, errMsg, code string) *Message {
	return New(MessageTypeError, sessionID, map[string]any{
		"error": errMsg,
		"code":  code,
	})
}

// NewStreamChunk creates one chunk of a streamed reply.
func NewStreamChunk(sessionID, chunk string) *Message {
	return New(MessageTypeStreamChunk, sessionID, map[string]any{"chunk": chunk})
}

// NewStreamEnd terminates a streamed reply.
func NewStreamEnd(sessionID string) *Message {
	return New(MessageTypeStreamEnd, sessionID, map[string]any{})
}

// NewToolResult creates a tool result message.
func NewToolResult(sessionID, tool string, result map[string]any) *Message {
	return New(MessageTypeToolResult, sessionID, map[string]any{
		"tool":   tool,
		"result": result,
	})
}

// SetMeta sets a metadata key, allocating the map on first use.
func (m *Message) SetMeta(key string, value any) {
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
	m.Metadata[key] = value
}

// EncodeJSON serializes the message for the wire.
func (m *Message) EncodeJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ErrUnknownType is returned by DecodeJSON for a well-formed frame whose
// type is outside the protocol enum. Callers answer it differently from a
// malformed frame (UNKNOWN_MESSAGE_TYPE vs INVALID_JSON).
type ErrUnknownType struct {
	Type string
}

func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("unknown message type: %q", e.Type)
}

// DecodeJSON parses an inbound frame. Missing id/timestamp are filled in so
// hand-written client frames stay valid.
func DecodeJSON(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if !msg.Type.Valid() {
		return nil, &ErrUnknownType{Type: string(msg.Type)}
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.Payload == nil {
		msg.Payload = map[string]any{}
	}
	return &msg, nil
}
