package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFillsEnvelope(t *testing.T) {
	msg := New(MessageTypeCommand, "sess-1", map[string]any{"command": "x"})

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, MessageTypeCommand, msg.Type)
	assert.Equal(t, "sess-1", msg.SessionID)
	assert.WithinDuration(t, time.Now().UTC(), msg.Timestamp, time.Second)
	assert.Equal(t, "x", msg.Payload["command"])
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := NewResponse("sess-2", map[string]any{"status": "ok"})
	msg.SetMeta(MetadataCorrelationID, "req-1")

	data, err := msg.EncodeJSON()
	require.NoError(t, err)

	decoded, err := DecodeJSON(data)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, decoded.ID)
	assert.Equal(t, msg.SessionID, decoded.SessionID)
	assert.Equal(t, "ok", decoded.Payload["status"])
	assert.Equal(t, "req-1", decoded.Metadata[MetadataCorrelationID])
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantErr     bool
		wantUnknown bool
		check       func(t *testing.T, msg *Message)
	}{
		{
			name: "defaults filled for sparse frame",
			raw:  `{"type":"query"}`,
			check: func(t *testing.T, msg *Message) {
				assert.NotEmpty(t, msg.ID)
				assert.False(t, msg.Timestamp.IsZero())
				assert.NotNil(t, msg.Payload)
			},
		},
		{
			name:    "malformed json",
			raw:     `{"type":`,
			wantErr: true,
		},
		{
			name:        "unknown message type",
			raw:         `{"type":"teleport"}`,
			wantErr:     true,
			wantUnknown: true,
		},
		{
			name:    "wrong payload shape",
			raw:     `{"type":"query","payload":"not-an-object"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeJSON([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				var unknown *ErrUnknownType
				assert.Equal(t, tt.wantUnknown, errors.As(err, &unknown))
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, msg)
			}
		})
	}
}

func TestErrorConstructor(t *testing.T) {
	msg := NewError("sess-3", "boom", CodeHandlerError)

	assert.Equal(t, MessageTypeError, msg.Type)
	assert.Equal(t, "boom", msg.Payload["error"])
	assert.Equal(t, CodeHandlerError, msg.Payload["code"])
}

func TestStreamConstructors(t *testing.T) {
	chunk := NewStreamChunk("s", "partial text")
	assert.Equal(t, MessageTypeStreamChunk, chunk.Type)
	assert.Equal(t, "partial text", chunk.Payload["chunk"])

	end := NewStreamEnd("s")
	assert.Equal(t, MessageTypeStreamEnd, end.Type)
}

func TestToolResultConstructor(t *testing.T) {
	msg := NewToolResult("s", "echo", map[string]any{"value": 1})
	assert.Equal(t, MessageTypeToolResult, msg.Type)
	assert.Equal(t, "echo", msg.Payload["tool"])
	assert.Equal(t, map[string]any{"value": 1}, msg.Payload["result"])
}

func TestValid(t *testing.T) {
	assert.True(t, MessageTypeExternalPrompt.Valid())
	assert.False(t, MessageType("teleport").Valid())
}
