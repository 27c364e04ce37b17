package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/acme/dial-engine/internal/app"
	"github.com/acme/dial-engine/internal/telemetry"
)

// monitor hosts the background loops that do not serve traffic: timer
// sweeping, media scanning, route health scoring and stale job reclaim.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	container, err := app.Build(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App.Name+"-monitor")
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	services := container.Services()
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return services.TimerSweep.Run(gctx) })
	group.Go(func() error { return services.Media.Run(gctx) })
	group.Go(func() error { return services.RouteHealth.Run(gctx) })
	group.Go(func() error { return reclaimLoop(gctx, container) })

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("monitor terminated: %v", err)
	}
}

// reclaimLoop periodically releases origination jobs whose executor died
// mid-claim.
func reclaimLoop(ctx context.Context, container *app.Container) error {
	interval := container.Config.Executor.LockTimeout
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := container.Services().Executor.ReclaimStale(ctx); err != nil && ctx.Err() == nil {
				log.Printf("reclaim stale jobs: %v", err)
			}
		}
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
