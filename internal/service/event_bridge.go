package service

import (
	"context"
	"time"

	"github.com/arc-pbc-co/hal-9000/internal/pkg/logger"
	"github.com/arc-pbc-co/hal-9000/pkg/eventbus"
)

const bridgeSubscriberID = "nats-event-bridge"

// EventPublisher is the outbound side of the bridge. Implemented by the
// NATS publisher.
type EventPublisher interface {
	Publish(ctx context.Context, e eventbus.Event) error
}

type IEventBridge interface {
	Run(ctx context.Context)
	Stop()
}

// eventBridge mirrors every in-process gateway event onto the external
// event bus. Forwarding is best-effort: a broker outage degrades external
// observability, never the gateway itself.
type eventBridge struct {
	bus       *eventbus.Bus
	publisher EventPublisher
	log       logger.ILogger
}

func NewEventBridge(bus *eventbus.Bus, publisher EventPublisher, log logger.ILogger) IEventBridge {
	return &eventBridge{
		bus:       bus,
		publisher: publisher,
		log:       log,
	}
}

// Run subscribes to the full event stream and forwards until the context
// is cancelled.
func (eb *eventBridge) Run(ctx context.Context) {
	eb.bus.Subscribe(bridgeSubscriberID, nil, "")
	events := eb.bus.Listen(ctx, bridgeSubscriberID, 0)

	go func() {
		for e := range events {
			pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := eb.publisher.Publish(pubCtx, e); err != nil {
				eb.log.Warn("EventBridge", "Failed to forward event", map[string]interface{}{
					"event_type": string(e.Type),
					"error":      err.Error(),
				})
			}
			cancel()
		}
	}()
}

func (eb *eventBridge) Stop() {
	eb.bus.Unsubscribe(bridgeSubscriberID)
}
