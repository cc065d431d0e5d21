package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var got []Event
	for e := range events {
		got = append(got, e)
	}
	return got
}

func TestSubscribeFilters(t *testing.T) {
	tests := []struct {
		name       string
		eventTypes []EventType
		sessionID  string
		wantTypes  []EventType
	}{
		{
			name:       "type filter",
			eventTypes: []EventType{EventSessionCreated},
			wantTypes:  []EventType{EventSessionCreated},
		},
		{
			name:      "session filter",
			sessionID: "sess-a",
			wantTypes: []EventType{EventSessionCreated, EventMessageReceived},
		},
		{
			name:      "no filter receives everything",
			wantTypes: []EventType{EventSessionCreated, EventMessageReceived, EventSystemStatus},
		},
		{
			name:       "type and session filter",
			eventTypes: []EventType{EventMessageReceived},
			sessionID:  "sess-a",
			wantTypes:  []EventType{EventMessageReceived},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := NewBus(16)
			bus.Subscribe("sub", tt.eventTypes, tt.sessionID)

			bus.Publish(EventSessionCreated, "sess-a", nil)
			bus.Publish(EventMessageReceived, "sess-a", nil)
			bus.Publish(EventSystemStatus, "", nil)

			got := collect(t, bus.Listen(context.Background(), "sub", 100*time.Millisecond))
			require.Len(t, got, len(tt.wantTypes))
			for i, e := range got {
				assert.Equal(t, tt.wantTypes[i], e.Type)
			}
		})
	}
}

func TestEmitReturnsMatchCount(t *testing.T) {
	bus := NewBus(16)
	bus.Subscribe("a", nil, "")
	bus.Subscribe("b", []EventType{EventToolInvoked}, "")

	assert.Equal(t, 2, bus.Emit(NewEvent(EventToolInvoked, "s", nil)))
	assert.Equal(t, 1, bus.Emit(NewEvent(EventToolResult, "s", nil)))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(16)
	bus.Subscribe("sub", nil, "")

	assert.True(t, bus.Unsubscribe("sub"))
	assert.False(t, bus.Unsubscribe("sub"))
	assert.Equal(t, 0, bus.Emit(NewEvent(EventSystemStatus, "", nil)))
	assert.False(t, bus.IsSubscribed("sub"))
}

func TestResubscribeReplacesFilters(t *testing.T) {
	bus := NewBus(16)
	bus.Subscribe("sub", []EventType{EventToolInvoked}, "")
	bus.Subscribe("sub", []EventType{EventToolResult}, "")

	assert.Equal(t, 1, bus.SubscriptionCount())
	assert.Equal(t, 0, bus.Emit(NewEvent(EventToolInvoked, "", nil)))
	assert.Equal(t, 1, bus.Emit(NewEvent(EventToolResult, "", nil)))
}

func TestDropOldestWhenQueueFull(t *testing.T) {
	bus := NewBus(2)
	bus.Subscribe("slow", nil, "")

	for i := 0; i < 5; i++ {
		bus.Publish(EventMessageReceived, "s", map[string]any{"seq": i})
	}

	assert.Equal(t, uint64(3), bus.Dropped("slow"))
	assert.Equal(t, uint64(3), bus.DroppedTotal())

	// The two newest events survive.
	got := collect(t, bus.Listen(context.Background(), "slow", 100*time.Millisecond))
	require.Len(t, got, 2)
	assert.Equal(t, 3, got[0].Data["seq"])
	assert.Equal(t, 4, got[1].Data["seq"])
}

func TestDeliveryOrderPreserved(t *testing.T) {
	bus := NewBus(16)
	bus.Subscribe("sub", nil, "")

	for i := 0; i < 10; i++ {
		bus.Publish(EventMessageSent, "s", map[string]any{"seq": i})
	}

	got := collect(t, bus.Listen(context.Background(), "sub", 100*time.Millisecond))
	require.Len(t, got, 10)
	for i, e := range got {
		assert.Equal(t, i, e.Data["seq"])
	}
}

func TestListenTimeoutKeepsSubscription(t *testing.T) {
	bus := NewBus(16)
	bus.Subscribe("sub", nil, "")

	got := collect(t, bus.Listen(context.Background(), "sub", 50*time.Millisecond))
	assert.Empty(t, got)
	// Timeout closes the channel but the subscription survives.
	assert.True(t, bus.IsSubscribed("sub"))
}

func TestListenContextCancel(t *testing.T) {
	bus := NewBus(16)
	bus.Subscribe("sub", nil, "")

	ctx, cancel := context.WithCancel(context.Background())
	events := bus.Listen(ctx, "sub", 0)
	cancel()

	select {
	case _, open := <-events:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("listen channel did not close after cancel")
	}
}

func TestListenDeliversLiveEvents(t *testing.T) {
	bus := NewBus(16)
	bus.Subscribe("sub", []EventType{EventProcessingCompleted}, "")

	events := bus.Listen(context.Background(), "sub", time.Second)

	go bus.Publish(EventProcessingCompleted, "s", map[string]any{"document_id": "d1"})

	select {
	case e := <-events:
		assert.Equal(t, EventProcessingCompleted, e.Type)
		assert.Equal(t, "d1", e.Data["document_id"])
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestUnsubscribeSession(t *testing.T) {
	bus := NewBus(16)
	bus.Subscribe("bound", nil, "sess-a")
	bus.Subscribe("other", nil, "sess-b")
	bus.Subscribe("global", nil, "")

	events := bus.Listen(context.Background(), "bound", 0)

	assert.Equal(t, 1, bus.UnsubscribeSession("sess-a"))
	select {
	case _, open := <-events:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("session listener did not terminate")
	}

	assert.False(t, bus.IsSubscribed("bound"))
	assert.True(t, bus.IsSubscribed("other"))
	assert.True(t, bus.IsSubscribed("global"))
	assert.Equal(t, 0, bus.UnsubscribeSession(""))
}

func TestClear(t *testing.T) {
	bus := NewBus(16)
	bus.Subscribe("a", nil, "")
	bus.Subscribe("b", nil, "")

	assert.Equal(t, 2, bus.Clear())
	assert.Equal(t, 0, bus.SubscriptionCount())
}
