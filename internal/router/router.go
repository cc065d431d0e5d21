// Package router dispatches inbound messages to the handler registered for
// their type and streams the handler's output back to the caller.
package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/arc-pbc-co/hal-9000/internal/pkg/logger"
	"github.com/arc-pbc-co/hal-9000/internal/session"
	"github.com/arc-pbc-co/hal-9000/pkg/protocol"
)

// EmitFunc forwards one outbound message into the dispatch stream. It
// returns an error once the dispatch context is cancelled, which is how a
// handler learns its client is gone.
type EmitFunc func(*protocol.Message) error

// Handler consumes one message plus its session and emits zero or more
// outbound messages over time. Handlers may block between emits (external
// calls); emit is the suspension point that observes cancellation.
type Handler func(ctx context.Context, msg *protocol.Message, sess *session.Session, emit EmitFunc) error

// Router maps message types to handlers. Exactly one handler per type;
// Register is last-write-wins, so re-registering a type replaces the
// previous handler.
type Router struct {
	mu       sync.RWMutex
	handlers map[protocol.MessageType]Handler
	log      logger.ILogger
}

func New(log logger.ILogger) *Router {
	return &Router{
		handlers: make(map[protocol.MessageType]Handler),
		log:      log,
	}
}

// Register binds a handler to a message type, replacing any previous one.
func (r *Router) Register(msgType protocol.MessageType, handler Handler) {
	r.mu.Lock()
	r.handlers[msgType] = handler
	r.mu.Unlock()
	r.log.Debug("Router", "Registered handler", map[string]interface{}{"type": string(msgType)})
}

// Unregister removes the handler for a type, reporting whether one existed.
func (r *Router) Unregister(msgType protocol.MessageType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[msgType]; !ok {
		return false
	}
	delete(r.handlers, msgType)
	return true
}

// HasHandler reports whether a handler is registered for the type.
func (r *Router) HasHandler(msgType protocol.MessageType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[msgType]
	return ok
}

// RegisteredTypes lists the types with handlers.
func (r *Router) RegisteredTypes() []protocol.MessageType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.MessageType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}

// Dispatch routes a message to its handler and returns the handler's output
// as it is produced. The channel carries each emitted message in order and
// closes when the handler finishes, fails, or the context is cancelled.
//
// Every emitted message is rebound to the request's session and stamped
// with the request id as correlation_id. An unregistered type yields
// exactly one ERROR message; a handler error or panic terminates the
// stream with one ERROR message and touches nothing else.
func (r *Router) Dispatch(ctx context.Context, msg *protocol.Message, sess *session.Session) <-chan *protocol.Message {
	out := make(chan *protocol.Message)

	r.mu.RLock()
	handler, ok := r.handlers[msg.Type]
	r.mu.RUnlock()

	if !ok {
		go func() {
			defer close(out)
			errMsg := protocol.NewError(
				sess.ID,
				fmt.Sprintf("no handler registered for message type: %s", msg.Type),
				protocol.CodeNoHandler,
			)
			errMsg.SetMeta(protocol.MetadataCorrelationID, msg.ID)
			select {
			case out <- errMsg:
			case <-ctx.Done():
			}
		}()
		return out
	}

	emit := func(m *protocol.Message) error {
		m.SessionID = sess.ID
		m.SetMeta(protocol.MetadataCorrelationID, msg.ID)
		select {
		case out <- m:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	go func() {
		defer close(out)
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error("Router", "Handler panic", map[string]interface{}{
					"type":  string(msg.Type),
					"panic": fmt.Sprintf("%v", rec),
				})
				emit(protocol.NewError(sess.ID, "internal handler failure", protocol.CodeHandlerError))
			}
		}()

		if err := handler(ctx, msg, sess, emit); err != nil {
			if ctx.Err() != nil {
				return // client gone, discard partial output
			}
			r.log.Error("Router", "Handler error", map[string]interface{}{
				"type":  string(msg.Type),
				"error": err.Error(),
			})
			emit(protocol.NewError(
				sess.ID,
				fmt.Sprintf("handler error: %s", err.Error()),
				protocol.CodeHandlerError,
			))
		}
	}()
	return out
}
