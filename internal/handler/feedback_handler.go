package handler

import (
	"context"

	"github.com/arc-pbc-co/hal-9000/internal/router"
	"github.com/arc-pbc-co/hal-9000/internal/session"
	"github.com/arc-pbc-co/hal-9000/pkg/protocol"
)

// FeedbackHandler records client feedback in the conversation history.
type FeedbackHandler struct{}

func NewFeedbackHandler() *FeedbackHandler {
	return &FeedbackHandler{}
}

func (h *FeedbackHandler) Handle(ctx context.Context, msg *protocol.Message, sess *session.Session, emit router.EmitFunc) error {
	content, _ := msg.Payload["content"].(string)
	sess.AddHistory(session.HistoryEntry{
		Role:    "feedback",
		Content: content,
	})
	return emit(protocol.NewResponse(sess.ID, map[string]any{"status": "feedback_recorded"}))
}
