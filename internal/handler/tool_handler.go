package handler

import (
	"context"
	"fmt"
	"sync"

	"github.com/arc-pbc-co/hal-9000/internal/router"
	"github.com/arc-pbc-co/hal-9000/internal/session"
	"github.com/arc-pbc-co/hal-9000/pkg/eventbus"
	"github.com/arc-pbc-co/hal-9000/pkg/protocol"
)

// ToolFunc executes one tool invocation. Tools may block; they observe
// cancellation through ctx.
type ToolFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// ToolHandler executes tool_call messages against a named tool registry.
type ToolHandler struct {
	mu    sync.RWMutex
	tools map[string]ToolFunc
	bus   *eventbus.Bus
}

func NewToolHandler(bus *eventbus.Bus) *ToolHandler {
	return &ToolHandler{
		tools: make(map[string]ToolFunc),
		bus:   bus,
	}
}

// RegisterTool binds a tool name to its implementation. Last write wins,
// same as router registration.
func (h *ToolHandler) RegisterTool(name string, fn ToolFunc) {
	h.mu.Lock()
	h.tools[name] = fn
	h.mu.Unlock()
}

func (h *ToolHandler) Handle(ctx context.Context, msg *protocol.Message, sess *session.Session, emit router.EmitFunc) error {
	name, _ := msg.Payload["tool"].(string)
	args, _ := msg.Payload["args"].(map[string]any)

	h.mu.RLock()
	fn, ok := h.tools[name]
	h.mu.RUnlock()
	if !ok {
		return emit(protocol.NewError(
			sess.ID,
			fmt.Sprintf("unknown tool: %q", name),
			protocol.CodeUnknownTool,
		))
	}

	sess.AddTool(name)
	defer sess.RemoveTool(name)

	h.bus.Publish(eventbus.EventToolInvoked, sess.ID, map[string]any{"tool": name})

	result, err := fn(ctx, args)
	if err != nil {
		return fmt.Errorf("tool %q: %w", name, err)
	}

	h.bus.Publish(eventbus.EventToolResult, sess.ID, map[string]any{"tool": name})
	return emit(protocol.NewToolResult(sess.ID, name, result))
}
