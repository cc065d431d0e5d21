package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	gws "github.com/gofiber/websocket/v2"

	"github.com/arc-pbc-co/hal-9000/internal/pkg/logger"
	"github.com/arc-pbc-co/hal-9000/internal/router"
	"github.com/arc-pbc-co/hal-9000/internal/session"
	"github.com/arc-pbc-co/hal-9000/pkg/eventbus"
	"github.com/arc-pbc-co/hal-9000/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameBytes  = 1 << 20
	defaultSendCap = 64
)

// Conn is the slice of the websocket connection the client actually uses.
// Tests substitute an in-memory fake.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// SessionStore is what the transport needs from the session layer. Both the
// in-memory store and the persistent store satisfy it.
type SessionStore interface {
	Create(channel, userID, sessionID string) (*session.Session, error)
	Get(id string) (*session.Session, bool)
	Remove(id string) bool
	Touch(id string) bool
}

// Client owns one connection: a read pump that dispatches inbound frames
// sequentially and a write pump that drains the send queue. Disconnecting
// cancels the client context, which aborts any in-flight handler.
type Client struct {
	registry *Registry
	conn     Conn
	session  *session.Session

	router *router.Router
	store  SessionStore
	bus    *eventbus.Bus
	log    logger.ILogger

	send   chan []byte
	sendMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

func NewClient(registry *Registry, conn Conn, sess *session.Session, rt *router.Router, store SessionStore, bus *eventbus.Bus, log logger.ILogger, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendCap
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		registry: registry,
		conn:     conn,
		session:  sess,
		router:   rt,
		store:    store,
		bus:      bus,
		log:      log,
		send:     make(chan []byte, sendQueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Session returns the session bound to this connection.
func (c *Client) Session() *session.Session {
	return c.session
}

// Close tears the connection down and aborts any in-flight handler.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.conn.Close()
	})
}

// Done is closed once the client has been shut down.
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

// EnqueueMessage encodes a message and queues it for the write pump. When
// the queue is full the oldest frame is shed so a slow reader stalls only
// itself; sheds are counted on the registry. Returns false once the client
// is shutting down.
func (c *Client) EnqueueMessage(msg *protocol.Message) bool {
	data, err := msg.EncodeJSON()
	if err != nil {
		c.log.Error("Client", "Failed to encode outbound message", map[string]interface{}{
			"session_id": c.session.ID,
			"error":      err.Error(),
		})
		return false
	}
	return c.enqueue(data)
}

func (c *Client) enqueue(frame []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	for {
		select {
		case <-c.ctx.Done():
			return false
		case c.send <- frame:
			return true
		default:
			select {
			case <-c.send:
				c.registry.droppedFrames.Add(1)
			default:
			}
		}
	}
}

// ReadPump reads frames until the connection drops, dispatching each one
// before reading the next. Sequential dispatch keeps responses for a single
// connection ordered.
func (c *Client) ReadPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxFrameBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if gws.IsUnexpectedCloseError(err, gws.CloseGoingAway, gws.CloseAbnormalClosure) {
				c.log.Warn("Client", "Unexpected connection close", map[string]interface{}{
					"session_id": c.session.ID,
					"error":      err.Error(),
				})
			}
			return
		}
		c.handleFrame(raw)
	}
}

// handleFrame decodes one inbound frame and runs it through the router.
// Malformed frames produce an ERROR reply without closing the connection.
func (c *Client) handleFrame(raw []byte) {
	msg, err := protocol.DecodeJSON(raw)
	if err != nil {
		code := protocol.CodeParseError
		var unknown *protocol.ErrUnknownType
		var syntax *json.SyntaxError
		switch {
		case errors.As(err, &unknown):
			code = protocol.CodeUnknownMessageType
		case errors.As(err, &syntax):
			code = protocol.CodeInvalidJSON
		}
		c.bus.Publish(eventbus.EventMessageError, c.session.ID, map[string]interface{}{
			"error": err.Error(),
			"code":  code,
		})
		c.EnqueueMessage(protocol.NewError(c.session.ID, err.Error(), code))
		return
	}

	// The connection's session binding is authoritative over whatever the
	// frame carried.
	msg.SessionID = c.session.ID

	c.bus.Publish(eventbus.EventMessageReceived, c.session.ID, map[string]interface{}{
		"message_id":   msg.ID,
		"message_type": string(msg.Type),
	})
	c.session.AddHistory(session.HistoryEntry{Role: "client", Content: historyContent(msg)})
	c.store.Touch(c.session.ID)

	for out := range c.router.Dispatch(c.ctx, msg, c.session) {
		if !c.EnqueueMessage(out) {
			return
		}
		c.session.AddHistory(session.HistoryEntry{Role: "gateway", Content: historyContent(out)})
		c.bus.Publish(eventbus.EventMessageSent, c.session.ID, map[string]interface{}{
			"message_id":   out.ID,
			"message_type": string(out.Type),
		})
	}
}

// historyContent picks the most useful short representation of a message
// for the session transcript.
func historyContent(msg *protocol.Message) string {
	if content, ok := msg.Payload["content"].(string); ok && content != "" {
		return content
	}
	if chunk, ok := msg.Payload["chunk"].(string); ok && chunk != "" {
		return chunk
	}
	return string(msg.Type)
}

// WritePump drains the send queue onto the wire and keeps the connection
// alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(gws.CloseMessage, []byte{})
			return
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(gws.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(gws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
