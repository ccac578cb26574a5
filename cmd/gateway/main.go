// Package main implements the Ingestion Gateway process: the authenticated
// HTTP edge over the job orchestration substrate.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"

	"github.com/chatforge-io/orchestrator/internal/auth"
	"github.com/chatforge-io/orchestrator/internal/bus"
	"github.com/chatforge-io/orchestrator/internal/config"
	"github.com/chatforge-io/orchestrator/internal/dlq"
	"github.com/chatforge-io/orchestrator/internal/docstore"
	"github.com/chatforge-io/orchestrator/internal/extract"
	"github.com/chatforge-io/orchestrator/internal/gateway"
	"github.com/chatforge-io/orchestrator/internal/ratelimit"
	"github.com/chatforge-io/orchestrator/internal/resultstore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := config.Load()

	if err := run(cfg, logger); err != nil {
		logger.Error("gateway exited with error", "err", err)
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

	b, err := bus.Connect(cfg.BusURL)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	defer b.Close()

	results, err := resultstore.New(resultstore.Options{URL: cfg.RedisURL, TTL: cfg.ResultTTL})
	if err != nil {
		return fmt.Errorf("connect result store: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	limiter := ratelimit.New(redis.NewClient(redisOpts))

	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	dlqStore := dlq.New(docs, b)

	srv := gateway.New(gateway.Deps{
		Bus:            b,
		Docs:           docs,
		Results:        results,
		DLQ:            dlqStore,
		Extractor:      extract.New(),
		Verifier:       verifier,
		RateLimit:      limiter,
		Logger:         logger,
		CORSOrigin:     cfg.CORSOrigin,
		AuthCookieName: cfg.AuthCookieName,
	})

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway starting", "port", cfg.Port)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}
