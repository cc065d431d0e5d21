package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/arc-pbc-co/hal-9000/internal/router"
	"github.com/arc-pbc-co/hal-9000/internal/session"
	"github.com/arc-pbc-co/hal-9000/pkg/assistant"
	"github.com/arc-pbc-co/hal-9000/pkg/eventbus"
	"github.com/arc-pbc-co/hal-9000/pkg/protocol"
)

// ExternalHandler bridges the session to the external research assistant:
// prompts stream back as chunks, context updates merge into the session's
// research state, and feedback is recorded against past interactions.
type ExternalHandler struct {
	provider assistant.Provider
	bus      *eventbus.Bus
}

func NewExternalHandler(provider assistant.Provider, bus *eventbus.Bus) *ExternalHandler {
	return &ExternalHandler{provider: provider, bus: bus}
}

// HandlePrompt streams the assistant's reply: one stream_chunk per chunk,
// then a stream_end. The session's context window rides along with the
// prompt, and the interaction is recorded in the research context.
func (h *ExternalHandler) HandlePrompt(ctx context.Context, msg *protocol.Message, sess *session.Session, emit router.EmitFunc) error {
	var payload protocol.ExternalPromptPayload
	if err := protocol.DecodePayload(msg.Payload, &payload); err != nil {
		return fmt.Errorf("decode external prompt: %w", err)
	}
	if payload.TopicFocus == "" {
		return fmt.Errorf("external prompt requires topic_focus")
	}

	h.bus.Publish(eventbus.EventExternalQueryStarted, sess.ID, map[string]any{
		"topic_focus": payload.TopicFocus,
	})

	chunkCount := 0
	err := h.provider.Stream(ctx, payload.TopicFocus, sess.ContextWindow(), func(chunk string) error {
		if err := emit(protocol.NewStreamChunk(sess.ID, chunk)); err != nil {
			return err
		}
		chunkCount++
		h.bus.Publish(eventbus.EventExternalResponseChunk, sess.ID, map[string]any{
			"chunk_index": chunkCount - 1,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("assistant stream: %w", err)
	}

	if err := emit(protocol.NewStreamEnd(sess.ID)); err != nil {
		return err
	}
	h.bus.Publish(eventbus.EventExternalResponseCompleted, sess.ID, map[string]any{
		"chunks": chunkCount,
	})

	sess.UpdateContext(func(rc *session.ResearchContext) {
		rc.ExternalInteractions = append(rc.ExternalInteractions, map[string]any{
			"topic_focus": payload.TopicFocus,
			"chunks":      chunkCount,
			"timestamp":   time.Now().UTC(),
		})
		for _, m := range payload.MaterialsOfInterest {
			rc.MaterialsOfInterest = append(rc.MaterialsOfInterest, m)
		}
	})
	return nil
}

// HandleContext merges a context payload into the session's research state.
func (h *ExternalHandler) HandleContext(ctx context.Context, msg *protocol.Message, sess *session.Session, emit router.EmitFunc) error {
	sess.UpdateContext(func(rc *session.ResearchContext) {
		if materials, ok := msg.Payload["materials_of_interest"].([]any); ok {
			for _, m := range materials {
				if s, ok := m.(string); ok {
					rc.MaterialsOfInterest = append(rc.MaterialsOfInterest, s)
				}
			}
		}
		if knowledge, ok := msg.Payload["extracted_knowledge"].(map[string]any); ok {
			for k, v := range knowledge {
				rc.ExtractedKnowledge[k] = v
			}
		}
		if hypothesis, ok := msg.Payload["hypothesis"].(map[string]any); ok {
			rc.ActiveHypotheses = append(rc.ActiveHypotheses, hypothesis)
		}
	})

	h.bus.Publish(eventbus.EventSessionUpdated, sess.ID, map[string]any{
		"update": "research_context",
	})
	return emit(protocol.NewResponse(sess.ID, map[string]any{"status": "context_updated"}))
}

// HandleFeedback records assistant feedback in the interaction log.
func (h *ExternalHandler) HandleFeedback(ctx context.Context, msg *protocol.Message, sess *session.Session, emit router.EmitFunc) error {
	sess.UpdateContext(func(rc *session.ResearchContext) {
		rc.ExternalInteractions = append(rc.ExternalInteractions, map[string]any{
			"kind":      "feedback",
			"payload":   msg.Payload,
			"timestamp": time.Now().UTC(),
		})
	})
	return emit(protocol.NewResponse(sess.ID, map[string]any{"status": "feedback_recorded"}))
}
