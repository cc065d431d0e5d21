package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/arc-pbc-co/hal-9000/internal/dto"
	"github.com/arc-pbc-co/hal-9000/internal/pkg/logger"
	"github.com/arc-pbc-co/hal-9000/internal/router"
	"github.com/arc-pbc-co/hal-9000/internal/session"
	"github.com/arc-pbc-co/hal-9000/pkg/protocol"
)

// AnalysisTopic is the in-process queue between the command handler and the
// analysis worker.
const AnalysisTopic = "ANALYZE_DOCUMENT"

// CommandHandler executes command messages. Long-running commands are
// queued for the analysis worker and acknowledged immediately; the worker
// pushes results out-of-band when done.
type CommandHandler struct {
	publisher message.Publisher
	log       logger.ILogger
}

func NewCommandHandler(publisher message.Publisher, log logger.ILogger) *CommandHandler {
	return &CommandHandler{publisher: publisher, log: log}
}

func (h *CommandHandler) Handle(ctx context.Context, msg *protocol.Message, sess *session.Session, emit router.EmitFunc) error {
	command, _ := msg.Payload["command"].(string)

	switch command {
	case "analyze_document":
		return h.analyzeDocument(msg, sess, emit)
	case "list_tools":
		return emit(protocol.NewResponse(sess.ID, map[string]any{
			"active_tools": sess.ActiveTools(),
		}))
	default:
		return emit(protocol.NewError(
			sess.ID,
			fmt.Sprintf("unknown command: %q", command),
			protocol.CodeUnknownCommand,
		))
	}
}

func (h *CommandHandler) analyzeDocument(msg *protocol.Message, sess *session.Session, emit router.EmitFunc) error {
	documentID, _ := msg.Payload["document_id"].(string)
	if documentID == "" {
		return emit(protocol.NewError(sess.ID, "analyze_document requires document_id", protocol.CodeUnknownCommand))
	}
	source, _ := msg.Payload["source"].(string)

	job := dto.AnalyzeDocumentJob{
		SessionID:  sess.ID,
		DocumentID: documentID,
		Source:     source,
		RequestID:  msg.ID,
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal analysis job: %w", err)
	}
	if err := h.publisher.Publish(AnalysisTopic, message.NewMessage(watermill.NewUUID(), payload)); err != nil {
		return fmt.Errorf("queue analysis job: %w", err)
	}

	h.log.Info("CommandHandler", "Queued document analysis", map[string]interface{}{
		"session_id":  sess.ID,
		"document_id": documentID,
	})
	return emit(protocol.NewResponse(sess.ID, map[string]any{
		"status":      "queued",
		"document_id": documentID,
	}))
}
