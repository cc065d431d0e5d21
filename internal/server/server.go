// Package server hosts the gateway's HTTP surface: the websocket upgrade
// endpoint and a plain health route for load balancers.
package server

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	gws "github.com/gofiber/websocket/v2"

	"github.com/arc-pbc-co/hal-9000/internal/config"
	"github.com/arc-pbc-co/hal-9000/internal/pkg/logger"
	ws "github.com/arc-pbc-co/hal-9000/internal/websocket"
	"github.com/arc-pbc-co/hal-9000/pkg/eventbus"
	"github.com/arc-pbc-co/hal-9000/pkg/protocol"
)

// Version is reported in health responses.
const Version = "0.1.0"

const shutdownTimeout = 10 * time.Second

// SessionCounter is the slice of the session store the server reports on.
type SessionCounter interface {
	Count() int
}

// Gateway ties the Fiber app, the connection registry and the session
// store together and owns the serving lifecycle.
type Gateway struct {
	app      *fiber.App
	cfg      *config.Config
	deps     *ws.Deps
	sessions SessionCounter
	bus      *eventbus.Bus
	log      logger.ILogger

	startedAt time.Time
	running   atomic.Bool
	accepting atomic.Bool
}

func New(cfg *config.Config, deps *ws.Deps, sessions SessionCounter, bus *eventbus.Bus, log logger.ILogger) *Gateway {
	g := &Gateway{
		cfg:      cfg,
		deps:     deps,
		sessions: sessions,
		bus:      bus,
		log:      log,
	}

	app := fiber.New(fiber.Config{
		AppName:               "hal9000-gateway",
		DisableStartupMessage: cfg.App.Environment == "production",
	})
	app.Use(cors.New())
	if cfg.App.Environment != "test" {
		app.Use(otelfiber.Middleware())
	}

	app.Get("/api/health", g.healthHandler)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if !gws.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		if !g.accepting.Load() || g.deps.Registry.Count() >= cfg.App.MaxConnections {
			g.log.Warn("Server", "Connection rejected at capacity", map[string]interface{}{
				"max_connections": cfg.App.MaxConnections,
			})
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "connection limit reached",
				"code":  protocol.CodeConnectionLimit,
			})
		}
		return c.Next()
	})
	app.Get("/ws", gws.New(func(conn *gws.Conn) {
		g.deps.Serve(conn, conn.Query("session_id"))
	}))

	g.app = app
	return g
}

// Run serves until the listener fails or Stop is called.
func (g *Gateway) Run() error {
	addr := fmt.Sprintf("%s:%s", g.cfg.App.Host, g.cfg.App.Port)
	g.startedAt = time.Now()
	g.running.Store(true)
	g.accepting.Store(true)

	g.bus.Publish(eventbus.EventSystemStatus, "", map[string]interface{}{
		"status":  "started",
		"version": Version,
		"addr":    addr,
	})
	g.log.Info("Server", "Gateway listening", map[string]interface{}{"addr": addr})

	err := g.app.Listen(addr)
	g.running.Store(false)
	return err
}

// Stop drains the server: new upgrades are refused first, live connections
// are closed, then the listener shuts down.
func (g *Gateway) Stop() error {
	g.accepting.Store(false)
	g.deps.Registry.CloseAll()

	g.bus.Publish(eventbus.EventSystemStatus, "", map[string]interface{}{
		"status": "stopping",
	})

	err := g.app.ShutdownWithTimeout(shutdownTimeout)
	g.running.Store(false)
	return err
}

func (g *Gateway) healthHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":             "healthy",
		"version":            Version,
		"uptime_seconds":     g.UptimeSeconds(),
		"active_sessions":    g.SessionCount(),
		"active_connections": g.ConnectionCount(),
		"is_running":         g.IsRunning(),
		"dropped_events":     g.DroppedEvents(),
		"dropped_frames":     g.DroppedFrames(),
	})
}

// Stats implementation, consumed by the health query handler.

func (g *Gateway) UptimeSeconds() float64 {
	if g.startedAt.IsZero() {
		return 0
	}
	return time.Since(g.startedAt).Seconds()
}

func (g *Gateway) IsRunning() bool {
	return g.running.Load()
}

func (g *Gateway) SessionCount() int {
	return g.sessions.Count()
}

func (g *Gateway) ConnectionCount() int {
	return g.deps.Registry.Count()
}

func (g *Gateway) DroppedEvents() uint64 {
	return g.bus.DroppedTotal()
}

func (g *Gateway) DroppedFrames() uint64 {
	return g.deps.Registry.DroppedFrames()
}

// SendToSession pushes a message to one connected session.
func (g *Gateway) SendToSession(sessionID string, msg *protocol.Message) bool {
	return g.deps.Registry.SendToSession(sessionID, msg)
}

// Broadcast pushes a message to every connected session.
func (g *Gateway) Broadcast(msg *protocol.Message) int {
	return g.deps.Registry.Broadcast(msg)
}
