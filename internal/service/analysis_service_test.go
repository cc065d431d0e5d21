package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-pbc-co/hal-9000/internal/dto"
	"github.com/arc-pbc-co/hal-9000/internal/pkg/logger"
	"github.com/arc-pbc-co/hal-9000/internal/service"
	"github.com/arc-pbc-co/hal-9000/internal/session"
	"github.com/arc-pbc-co/hal-9000/pkg/eventbus"
	"github.com/arc-pbc-co/hal-9000/pkg/protocol"
)

const testTopic = "ANALYZE_DOCUMENT"

type fakeSender struct {
	mu   sync.Mutex
	sent []*protocol.Message
}

func (f *fakeSender) SendToSession(sessionID string, msg *protocol.Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return true
}

func (f *fakeSender) messages() []*protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*protocol.Message{}, f.sent...)
}

type failingExtractor struct{}

func (failingExtractor) Extract(ctx context.Context, documentID, source string) (map[string]any, error) {
	return nil, errors.New("pipeline offline")
}

func publishJob(t *testing.T, pubSub *gochannel.GoChannel, job dto.AnalyzeDocumentJob) {
	t.Helper()
	payload, err := json.Marshal(job)
	require.NoError(t, err)
	require.NoError(t, pubSub.Publish(testTopic, message.NewMessage(watermill.NewUUID(), payload)))
}

func waitForEvent(t *testing.T, events <-chan eventbus.Event) eventbus.Event {
	t.Helper()
	select {
	case e := <-events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("expected event never arrived")
		return eventbus.Event{}
	}
}

func TestAnalysisJobCompletes(t *testing.T) {
	bus := eventbus.NewBus(64)
	store := session.NewStore(time.Hour, time.Minute, bus, logger.Nop())
	t.Cleanup(func() { store.Stop() })
	sess, err := store.Create("websocket", "", "")
	require.NoError(t, err)

	bus.Subscribe("watch", []eventbus.EventType{
		eventbus.EventProcessingStarted,
		eventbus.EventProcessingCompleted,
	}, "")
	events := bus.Listen(context.Background(), "watch", 2*time.Second)

	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { pubSub.Close() })
	sender := &fakeSender{}

	svc := service.NewAnalysisService(pubSub, testTopic, service.NewLocalExtractor(), store, sender, bus, logger.Nop())
	require.NoError(t, svc.Consume(context.Background()))

	publishJob(t, pubSub, dto.AnalyzeDocumentJob{
		SessionID:  sess.ID,
		DocumentID: "doc-7",
		Source:     "uploads/halide-perovskite-review.pdf",
		RequestID:  "req-1",
	})

	assert.Equal(t, eventbus.EventProcessingStarted, waitForEvent(t, events).Type)
	completed := waitForEvent(t, events)
	assert.Equal(t, eventbus.EventProcessingCompleted, completed.Type)
	assert.Equal(t, "doc-7", completed.Data["document_id"])

	// The result was pushed to the session as a tool result.
	sent := sender.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.MessageTypeToolResult, sent[0].Type)
	assert.Equal(t, "analyze_document", sent[0].Payload["tool"])

	// And the session's research context records the document.
	assert.Equal(t, []string{"doc-7"}, sess.Context().DocumentsAnalyzed)
	assert.Contains(t, sess.Context().ExtractedKnowledge, "doc-7")
}

func TestAnalysisJobFailurePublishesFailedEvent(t *testing.T) {
	bus := eventbus.NewBus(64)
	store := session.NewStore(time.Hour, time.Minute, bus, logger.Nop())
	t.Cleanup(func() { store.Stop() })

	bus.Subscribe("watch", []eventbus.EventType{eventbus.EventProcessingFailed}, "")
	events := bus.Listen(context.Background(), "watch", 2*time.Second)

	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { pubSub.Close() })
	sender := &fakeSender{}

	svc := service.NewAnalysisService(pubSub, testTopic, failingExtractor{}, store, sender, bus, logger.Nop())
	require.NoError(t, svc.Consume(context.Background()))

	publishJob(t, pubSub, dto.AnalyzeDocumentJob{
		SessionID:  "sess-gone",
		DocumentID: "doc-8",
		RequestID:  "req-2",
	})

	failed := waitForEvent(t, events)
	assert.Equal(t, "doc-8", failed.Data["document_id"])
	assert.Contains(t, failed.Data["error"], "pipeline offline")
	assert.Empty(t, sender.messages())
}

func TestAnalysisJobMalformedPayloadAcked(t *testing.T) {
	bus := eventbus.NewBus(64)
	store := session.NewStore(time.Hour, time.Minute, bus, logger.Nop())
	t.Cleanup(func() { store.Stop() })

	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { pubSub.Close() })
	sender := &fakeSender{}

	svc := service.NewAnalysisService(pubSub, testTopic, service.NewLocalExtractor(), store, sender, bus, logger.Nop())
	require.NoError(t, svc.Consume(context.Background()))

	require.NoError(t, pubSub.Publish(testTopic, message.NewMessage(watermill.NewUUID(), []byte("not json"))))

	// A good job after the bad one still processes, proving the bad one
	// was acked rather than wedging the queue.
	sess, err := store.Create("websocket", "", "")
	require.NoError(t, err)
	publishJob(t, pubSub, dto.AnalyzeDocumentJob{SessionID: sess.ID, DocumentID: "doc-9"})

	require.Eventually(t, func() bool {
		return len(sender.messages()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
