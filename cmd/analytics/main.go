// Package main implements the Analytics Consumer process: a separate
// consumer group on the secondary bus that transforms, persists, and
// aggregates processed-job events into windowed metrics and time series.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/chatforge-io/orchestrator/internal/analytics"
	"github.com/chatforge-io/orchestrator/internal/bus"
	"github.com/chatforge-io/orchestrator/internal/config"
	"github.com/chatforge-io/orchestrator/internal/docstore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := config.Load()

	if err := run(cfg, logger); err != nil {
		logger.Error("analytics consumer exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	neo4jDriver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer neo4jDriver.Close(ctx)
	docs := docstore.New(neo4jDriver)

	secondary, err := bus.ConnectSecondary(cfg.SecondaryBusURL)
	if err != nil {
		return fmt.Errorf("connect secondary bus: %w", err)
	}
	defer secondary.Close()

	consumer := analytics.New(analytics.Deps{
		Bus:           secondary,
		Docs:          docs,
		Logger:        logger,
		WindowMinutes: cfg.MetricWindowMinutes,
	})

	subs, err := consumer.Start(ctx)
	if err != nil {
		return fmt.Errorf("start analytics consumer: %w", err)
	}

	logger.Info("analytics consumer started", "consumer_group", cfg.ConsumerGroup, "window_minutes", cfg.MetricWindowMinutes)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}

	// Give the in-flight statistics sweep goroutine a moment to observe
	// ctx.Done() and return before the process exits.
	time.Sleep(100 * time.Millisecond)

	return nil
}
