package handler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-pbc-co/hal-9000/internal/handler"
	"github.com/arc-pbc-co/hal-9000/pkg/assistant"
	"github.com/arc-pbc-co/hal-9000/pkg/eventbus"
	"github.com/arc-pbc-co/hal-9000/pkg/protocol"
)

func TestExternalPromptStreams(t *testing.T) {
	sess := newHandlerSession(t)
	bus := eventbus.NewBus(64)
	provider := assistant.NewScriptedProvider("Perovskite degradation is", " driven by moisture ingress", " and ion migration.")
	h := handler.NewExternalHandler(provider, bus)
	out := &collector{}

	msg := protocol.New(protocol.MessageTypeExternalPrompt, sess.ID, map[string]any{
		"topic_focus":           "perovskite stability",
		"materials_of_interest": []any{"CsPbI3", "MAPbI3"},
	})
	require.NoError(t, h.HandlePrompt(context.Background(), msg, sess, out.emit))

	require.Len(t, out.emitted, 4)
	for i := 0; i < 3; i++ {
		assert.Equal(t, protocol.MessageTypeStreamChunk, out.emitted[i].Type)
	}
	assert.Equal(t, "Perovskite degradation is", out.emitted[0].Payload["chunk"])
	assert.Equal(t, protocol.MessageTypeStreamEnd, out.emitted[3].Type)

	rc := sess.Context()
	assert.Equal(t, []string{"CsPbI3", "MAPbI3"}, rc.MaterialsOfInterest)
	require.Len(t, rc.ExternalInteractions, 1)
	assert.Equal(t, "perovskite stability", rc.ExternalInteractions[0]["topic_focus"])
	assert.Equal(t, 3, rc.ExternalInteractions[0]["chunks"])
}

func TestExternalPromptRequiresTopicFocus(t *testing.T) {
	sess := newHandlerSession(t)
	h := handler.NewExternalHandler(assistant.NewScriptedProvider(), eventbus.NewBus(16))
	out := &collector{}

	msg := protocol.New(protocol.MessageTypeExternalPrompt, sess.ID, map[string]any{})
	err := h.HandlePrompt(context.Background(), msg, sess, out.emit)

	require.Error(t, err)
	assert.Empty(t, out.emitted)
}

func TestExternalPromptCancelledMidStream(t *testing.T) {
	sess := newHandlerSession(t)
	provider := assistant.NewScriptedProvider("one", "two", "three")
	h := handler.NewExternalHandler(provider, eventbus.NewBus(16))

	ctx, cancel := context.WithCancel(context.Background())
	emitted := 0
	emit := func(m *protocol.Message) error {
		emitted++
		if emitted == 1 {
			cancel()
		}
		return ctx.Err()
	}

	msg := protocol.New(protocol.MessageTypeExternalPrompt, sess.ID, map[string]any{
		"topic_focus": "halide segregation",
	})
	err := h.HandlePrompt(ctx, msg, sess, emit)

	require.Error(t, err)
	// No stream_end after a cancelled stream.
	assert.Equal(t, 1, emitted)
}

func TestExternalContextMerges(t *testing.T) {
	sess := newHandlerSession(t)
	h := handler.NewExternalHandler(assistant.NewScriptedProvider(), eventbus.NewBus(16))
	out := &collector{}

	msg := protocol.New(protocol.MessageTypeExternalContext, sess.ID, map[string]any{
		"materials_of_interest": []any{"FAPbI3"},
		"extracted_knowledge":   map[string]any{"bandgap_eV": 1.48},
		"hypothesis":            map[string]any{"claim": "FA cation slows segregation"},
	})
	require.NoError(t, h.HandleContext(context.Background(), msg, sess, out.emit))

	require.Len(t, out.emitted, 1)
	assert.Equal(t, "context_updated", out.emitted[0].Payload["status"])

	rc := sess.Context()
	assert.Equal(t, []string{"FAPbI3"}, rc.MaterialsOfInterest)
	assert.Equal(t, 1.48, rc.ExtractedKnowledge["bandgap_eV"])
	require.Len(t, rc.ActiveHypotheses, 1)
	assert.Equal(t, "FA cation slows segregation", rc.ActiveHypotheses[0]["claim"])
}

func TestExternalFeedbackRecorded(t *testing.T) {
	sess := newHandlerSession(t)
	h := handler.NewExternalHandler(assistant.NewScriptedProvider(), eventbus.NewBus(16))
	out := &collector{}

	msg := protocol.New(protocol.MessageTypeExternalFeedback, sess.ID, map[string]any{
		"rating": "helpful",
	})
	require.NoError(t, h.HandleFeedback(context.Background(), msg, sess, out.emit))

	require.Len(t, out.emitted, 1)
	rc := sess.Context()
	require.Len(t, rc.ExternalInteractions, 1)
	assert.Equal(t, "feedback", rc.ExternalInteractions[0]["kind"])
}
