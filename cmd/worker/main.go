// Package main implements the Worker Pool process: subscribes to the
// chat/file/kb/retry topics and drives each job through its handler, the
// retry policy, and the dead-letter store.
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

	"github.com/chatforge-io/orchestrator/internal/bus"
	"github.com/chatforge-io/orchestrator/internal/config"
	"github.com/chatforge-io/orchestrator/internal/dlq"
	"github.com/chatforge-io/orchestrator/internal/docstore"
	"github.com/chatforge-io/orchestrator/internal/events"
	"github.com/chatforge-io/orchestrator/internal/extract"
	"github.com/chatforge-io/orchestrator/internal/handlers/chat"
	"github.com/chatforge-io/orchestrator/internal/handlers/file"
	"github.com/chatforge-io/orchestrator/internal/handlers/kb"
	"github.com/chatforge-io/orchestrator/internal/resultstore"
	"github.com/chatforge-io/orchestrator/internal/vectorstore"
	"github.com/chatforge-io/orchestrator/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := config.Load()

	if err := run(cfg, logger); err != nil {
		logger.Error("worker exited with error", "err", err)
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

	vectors, err := vectorstore.New(cfg.VectorStoreURL)
	if err != nil {
		return fmt.Errorf("connect vector store: %w", err)
	}
	defer vectors.Close()

	b, err := bus.Connect(cfg.BusURL)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	defer b.Close()

	secondary, err := bus.ConnectSecondary(cfg.SecondaryBusURL)
	if err != nil {
		return fmt.Errorf("connect secondary bus: %w", err)
	}
	defer secondary.Close()

	results, err := resultstore.New(resultstore.Options{URL: cfg.RedisURL, TTL: cfg.ResultTTL})
	if err != nil {
		return fmt.Errorf("connect result store: %w", err)
	}

	emitter := events.New(secondary, logger)
	provider := chat.NewHTTPProvider(cfg.LLMBaseURL, cfg.LLMModel, cfg.LLMAPIKey)
	embedder := chat.NewHTTPEmbedder(cfg.EmbedBaseURL, cfg.EmbedModel)
	extractor := extract.New()

	chatHandler := chat.New(chat.Deps{
		Docs:     docs,
		Vectors:  vectors,
		Embedder: embedder,
		Provider: provider,
		Events:   emitter,
		Results:  results,
		Logger:   logger,
	})

	fileHandler := file.New(file.Deps{
		Docs:      docs,
		Vectors:   vectors,
		Embedder:  embedder,
		Extractor: extractor,
		Events:    emitter,
		Logger:    logger,
	})

	kbHandler := kb.New(kb.Deps{
		Docs:      docs,
		Vectors:   vectors,
		Embedder:  embedder,
		Extractor: extractor,
		Logger:    logger,
	})

	pool := worker.New(worker.Deps{
		Bus:        b,
		Results:    results,
		DLQ:        dlq.New(docs, b),
		Chat:       chatHandler,
		File:       fileHandler,
		KB:         kbHandler,
		RetryOpts:  cfg.Retry,
		MaxWorkers: cfg.MaxWorkers,
		Logger:     logger,
	})

	subs, err := pool.Start(ctx)
	if err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}

	pool.Metrics().ServeAsync(cfg.MetricsPort)
	logger.Info("worker pool started", "max_workers", cfg.MaxWorkers, "metrics_port", cfg.MetricsPort)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}

	done := make(chan struct{})
	go func() {
		pool.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logger.Warn("worker pool shutdown timed out waiting for in-flight jobs")
	}

	return nil
}
