package service

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/arc-pbc-co/hal-9000/internal/dto"
	"github.com/arc-pbc-co/hal-9000/internal/pkg/logger"
	"github.com/arc-pbc-co/hal-9000/internal/session"
	"github.com/arc-pbc-co/hal-9000/pkg/eventbus"
	"github.com/arc-pbc-co/hal-9000/pkg/protocol"
)

// Extractor pulls structured knowledge out of a document. The production
// extractor calls the analysis pipeline; tests use a scripted one.
type Extractor interface {
	Extract(ctx context.Context, documentID, source string) (map[string]any, error)
}

// SessionSender pushes a message to a connected session. Implemented by the
// websocket registry.
type SessionSender interface {
	SendToSession(sessionID string, msg *protocol.Message) bool
}

// SessionGetter resolves live sessions for result attribution.
type SessionGetter interface {
	Get(id string) (*session.Session, bool)
}

type IAnalysisService interface {
	Consume(ctx context.Context) error
}

// analysisService drains queued document analysis jobs, runs the extractor
// and pushes the result back to the requesting session when it is still
// connected.
type analysisService struct {
	pubSub    *gochannel.GoChannel
	topicName string
	extractor Extractor
	sessions  SessionGetter
	sender    SessionSender
	bus       *eventbus.Bus
	log       logger.ILogger
}

func NewAnalysisService(
	pubSub *gochannel.GoChannel,
	topicName string,
	extractor Extractor,
	sessions SessionGetter,
	sender SessionSender,
	bus *eventbus.Bus,
	log logger.ILogger,
) IAnalysisService {
	return &analysisService{
		pubSub:    pubSub,
		topicName: topicName,
		extractor: extractor,
		sessions:  sessions,
		sender:    sender,
		bus:       bus,
		log:       log,
	}
}

func (as *analysisService) Consume(ctx context.Context) error {
	messages, err := as.pubSub.Subscribe(ctx, as.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			as.processMessage(ctx, msg)
		}
	}()

	return nil
}

func (as *analysisService) processMessage(ctx context.Context, msg *message.Message) {
	var job dto.AnalyzeDocumentJob
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		as.log.Error("AnalysisService", "Failed to unmarshal job", map[string]interface{}{
			"error": err.Error(),
		})
		// Ack malformed jobs so they never retry.
		msg.Ack()
		return
	}

	as.bus.Publish(eventbus.EventProcessingStarted, job.SessionID, map[string]interface{}{
		"document_id": job.DocumentID,
		"request_id":  job.RequestID,
	})

	knowledge, err := as.extractor.Extract(ctx, job.DocumentID, job.Source)
	if err != nil {
		as.log.Error("AnalysisService", "Extraction failed", map[string]interface{}{
			"document_id": job.DocumentID,
			"error":       err.Error(),
		})
		as.bus.Publish(eventbus.EventProcessingFailed, job.SessionID, map[string]interface{}{
			"document_id": job.DocumentID,
			"request_id":  job.RequestID,
			"error":       err.Error(),
		})
		// No retry middleware on this queue; redelivery would hot-loop.
		// The failure is surfaced as an event and the job dropped.
		msg.Ack()
		return
	}

	as.bus.Publish(eventbus.EventProcessingProgress, job.SessionID, map[string]interface{}{
		"document_id": job.DocumentID,
		"stage":       "extracted",
	})

	if sess, ok := as.sessions.Get(job.SessionID); ok {
		sess.UpdateContext(func(rc *session.ResearchContext) {
			rc.DocumentsAnalyzed = append(rc.DocumentsAnalyzed, job.DocumentID)
			if len(knowledge) > 0 {
				if rc.ExtractedKnowledge == nil {
					rc.ExtractedKnowledge = map[string]any{}
				}
				rc.ExtractedKnowledge[job.DocumentID] = knowledge
			}
		})
	}

	as.sender.SendToSession(job.SessionID, protocol.NewToolResult(job.SessionID, "analyze_document", map[string]any{
		"document_id": job.DocumentID,
		"request_id":  job.RequestID,
		"knowledge":   knowledge,
	}))

	as.bus.Publish(eventbus.EventProcessingCompleted, job.SessionID, map[string]interface{}{
		"document_id": job.DocumentID,
		"request_id":  job.RequestID,
	})

	msg.Ack()
}
