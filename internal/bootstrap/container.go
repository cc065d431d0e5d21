// Package bootstrap wires the gateway's dependency graph in one place so
// cmd/gateway stays a thin lifecycle shell.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"

	"github.com/arc-pbc-co/hal-9000/internal/config"
	"github.com/arc-pbc-co/hal-9000/internal/handler"
	"github.com/arc-pbc-co/hal-9000/internal/pkg/logger"
	"github.com/arc-pbc-co/hal-9000/internal/repository/implementation"
	"github.com/arc-pbc-co/hal-9000/internal/router"
	"github.com/arc-pbc-co/hal-9000/internal/server"
	"github.com/arc-pbc-co/hal-9000/internal/service"
	"github.com/arc-pbc-co/hal-9000/internal/session"
	ws "github.com/arc-pbc-co/hal-9000/internal/websocket"
	"github.com/arc-pbc-co/hal-9000/pkg/assistant"
	"github.com/arc-pbc-co/hal-9000/pkg/database"
	"github.com/arc-pbc-co/hal-9000/pkg/eventbus"
	"github.com/arc-pbc-co/hal-9000/pkg/nats"
	"github.com/arc-pbc-co/hal-9000/pkg/protocol"
)

type Container struct {
	Log      logger.ILogger
	Bus      *eventbus.Bus
	Router   *router.Router
	Registry *ws.Registry
	Gateway  *server.Gateway

	// BaseStore owns the sweep loop. Persistent is non-nil when a snapshot
	// backend is configured and wraps BaseStore.
	BaseStore  *session.Store
	Persistent *session.PersistentStore

	// Background services, run by cmd/gateway.
	AnalysisService service.IAnalysisService
	EventBridge     service.IEventBridge
	NatsPublisher   *nats.Publisher
}

func NewContainer(cfg *config.Config) (*Container, error) {
	// 1. Core facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")
	bus := eventbus.NewBus(cfg.App.EventQueueSize)

	// 2. Session store, optionally backed by a snapshot repository
	baseStore := session.NewStore(cfg.Session.IdleTimeout, cfg.Session.SweepInterval, bus, sysLogger)

	var persistent *session.PersistentStore
	switch cfg.Session.SnapshotBackend {
	case config.SnapshotPostgres:
		gormDB, err := database.NewGormDBFromDSN(cfg.Session.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect snapshot database: %w", err)
		}
		repo, err := implementation.NewGormSnapshotRepository(gormDB)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare snapshot schema: %w", err)
		}
		persistent = session.NewPersistentStore(baseStore, repo, cfg.Session.AutoPersist, sysLogger)
	case config.SnapshotRedis:
		opts, err := redis.ParseURL(cfg.Session.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		repo := implementation.NewRedisSnapshotRepository(redis.NewClient(opts), cfg.Session.IdleTimeout)
		persistent = session.NewPersistentStore(baseStore, repo, cfg.Session.AutoPersist, sysLogger)
	case config.SnapshotNone:
		// Sessions live in memory only.
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Session.SnapshotBackend)
	}

	var store ws.SessionStore = baseStore
	if persistent != nil {
		store = persistent
	}

	// 3. Job queue
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermillLogger)

	// 4. Transport
	registry := ws.NewRegistry(sysLogger)
	rt := router.New(sysLogger)
	deps := &ws.Deps{
		Registry:      registry,
		Store:         store,
		Router:        rt,
		Bus:           bus,
		Log:           sysLogger,
		SessionPolicy: cfg.Session.Policy,
		SendQueueSize: cfg.App.SendQueueSize,
	}
	gateway := server.New(cfg, deps, baseStore, bus, sysLogger)

	// 5. Handlers. The query handler reads runtime stats off the gateway,
	// so it is registered after the server exists.
	commandHandler := handler.NewCommandHandler(pubSub, sysLogger)
	queryHandler := handler.NewQueryHandler(gateway, server.Version)
	externalHandler := handler.NewExternalHandler(assistant.NewScriptedProvider(), bus)
	toolHandler := handler.NewToolHandler(bus)
	feedbackHandler := handler.NewFeedbackHandler()

	toolHandler.RegisterTool("echo", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return args, nil
	})

	rt.Register(protocol.MessageTypeCommand, commandHandler.Handle)
	rt.Register(protocol.MessageTypeQuery, queryHandler.Handle)
	rt.Register(protocol.MessageTypeToolCall, toolHandler.Handle)
	rt.Register(protocol.MessageTypeFeedback, feedbackHandler.Handle)
	rt.Register(protocol.MessageTypeExternalPrompt, externalHandler.HandlePrompt)
	rt.Register(protocol.MessageTypeExternalContext, externalHandler.HandleContext)
	rt.Register(protocol.MessageTypeExternalFeedback, externalHandler.HandleFeedback)

	// 6. Background services
	analysisService := service.NewAnalysisService(
		pubSub,
		handler.AnalysisTopic,
		service.NewLocalExtractor(),
		baseStore,
		registry,
		bus,
		sysLogger,
	)

	var natsPublisher *nats.Publisher
	var bridge service.IEventBridge
	if cfg.Nats.URL != "" {
		publisher, err := nats.NewPublisher(cfg.Nats.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect NATS: %w", err)
		}
		natsPublisher = publisher
		bridge = service.NewEventBridge(bus, publisher, sysLogger)
	}

	return &Container{
		Log:             sysLogger,
		Bus:             bus,
		Router:          rt,
		Registry:        registry,
		Gateway:         gateway,
		BaseStore:       baseStore,
		Persistent:      persistent,
		AnalysisService: analysisService,
		EventBridge:     bridge,
		NatsPublisher:   natsPublisher,
	}, nil
}
