package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/arc-pbc-co/hal-9000/internal/bootstrap"
	"github.com/arc-pbc-co/hal-9000/internal/config"
	"github.com/arc-pbc-co/hal-9000/internal/tracer"
)

func main() {
	// 0. Initialize tracer (no-op unless OTEL_ENABLED=true)
	shutdownTracer := tracer.InitTracer()
	defer shutdownTracer(context.Background())

	// 1. Load configuration
	cfg := config.Load()

	// 2. Bootstrap dependencies
	container, err := bootstrap.NewContainer(cfg)
	if err != nil {
		log.Panicf("Unable to bootstrap gateway: %v", err)
	}
	defer container.Log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Rehydrate sessions from the snapshot backend
	if container.Persistent != nil {
		restored, err := container.Persistent.Load(ctx)
		if err != nil {
			log.Printf("Warning: failed to restore sessions: %v", err)
		} else if restored > 0 {
			log.Printf("Restored %d session(s) from snapshot backend", restored)
		}
		if _, err := container.Persistent.CleanupExpired(ctx); err != nil {
			log.Printf("Warning: snapshot cleanup failed: %v", err)
		}
	}

	// 4. Start background services
	container.BaseStore.StartSweep()
	if err := container.AnalysisService.Consume(ctx); err != nil {
		log.Panicf("Unable to start analysis consumer: %v", err)
	}
	if container.EventBridge != nil {
		container.EventBridge.Run(ctx)
	}

	// 5. Run server until a shutdown signal arrives
	errCh := make(chan error, 1)
	go func() {
		errCh <- container.Gateway.Run()
	}()

	select {
	case <-ctx.Done():
		log.Println("Shutdown signal received, draining...")
	case err := <-errCh:
		log.Panicf("Server error: %v", err)
	}

	// 6. Drain: refuse new work, snapshot what we can, close down
	if err := container.Gateway.Stop(); err != nil {
		log.Printf("Warning: shutdown incomplete: %v", err)
	}
	if container.Persistent != nil {
		saved := container.Persistent.SaveAll()
		log.Printf("Persisted %d session(s)", saved)
	}
	container.BaseStore.Stop()
	if container.EventBridge != nil {
		container.EventBridge.Stop()
	}
	if container.NatsPublisher != nil {
		container.NatsPublisher.Close()
	}
}
