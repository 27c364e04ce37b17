package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/acme/dial-engine/internal/app"
	"github.com/acme/dial-engine/internal/telemetry"
	"github.com/acme/dial-engine/internal/worker/signaling"
)

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

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App.Name+"-signalworker")
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := container.EnsureTopics(ctx); err != nil {
		log.Fatalf("failed to ensure kafka topics: %v", err)
	}

	kafkaCfg := container.Config.Kafka
	reader := container.Kafka.NewReader(kafkaCfg.SignalingTopic, kafkaCfg.ConsumerGroupID)
	worker := signaling.NewWorker(
		reader,
		container.Services().Reconciler,
		kafkaCfg.BatchSize,
		kafkaCfg.BatchWait,
		container.Logger.Named("signalworker"),
	)
	defer worker.Close()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("signal worker terminated: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
