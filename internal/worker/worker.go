// Package worker implements the Worker Pool (C6): a semaphore-bounded
// dispatcher that fans in the chat/file/kb/retry topics and drives each
// message through the matching handler, the Retry Policy, and the
// Dead-Letter Store. Grounded on the bus's connection-ownership style and
// internal/retry's pure backoff/classification functions.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/chatforge-io/orchestrator/internal/bus"
	"github.com/chatforge-io/orchestrator/internal/dlq"
	"github.com/chatforge-io/orchestrator/internal/handlers/chat"
	"github.com/chatforge-io/orchestrator/internal/handlers/file"
	"github.com/chatforge-io/orchestrator/internal/handlers/kb"
	"github.com/chatforge-io/orchestrator/internal/jobs"
	"github.com/chatforge-io/orchestrator/internal/resultstore"
	"github.com/chatforge-io/orchestrator/internal/retry"
	"github.com/chatforge-io/orchestrator/pkg/metrics"
)

// defaultMaxWorkers is the spec's MAX_WORKERS default.
const defaultMaxWorkers = 10

// errorPreviewChars bounds the error text written on a non-terminal retry.
const errorPreviewChars = 500

// ChatHandler processes chat-topic jobs.
type ChatHandler interface {
	Handle(ctx context.Context, correlationID string, payload jobs.ChatPayload) (chat.Result, error)
}

// FileHandler processes file-topic jobs.
type FileHandler interface {
	Handle(ctx context.Context, correlationID string, payload jobs.FilePayload) (file.Result, error)
}

// KBHandler processes kb-topic jobs.
type KBHandler interface {
	Handle(ctx context.Context, correlationID string, payload jobs.KbPayload) (kb.Result, error)
}

// Deps are the Worker Pool's external collaborators.
type Deps struct {
	Bus        *bus.Bus
	Results    *resultstore.Store
	DLQ        *dlq.Store
	Chat       ChatHandler
	File       FileHandler
	KB         KBHandler
	RetryOpts  retry.Opts
	MaxWorkers int
	Logger     *slog.Logger
	// Metrics, when nil, defaults to a private registry — jobs_processed,
	// jobs_retried, jobs_dead_lettered counters and a job_duration_seconds
	// histogram, labelled by topic.
	Metrics *metrics.Registry
}

// Pool is the semaphore-bounded dispatcher.
type Pool struct {
	deps Deps
	sem  chan struct{}
	wg   sync.WaitGroup
}

// New builds a Pool, defaulting MaxWorkers/RetryOpts/Logger/Metrics when left
// unset.
func New(deps Deps) *Pool {
	if deps.MaxWorkers <= 0 {
		deps.MaxWorkers = defaultMaxWorkers
	}
	if deps.RetryOpts == (retry.Opts{}) {
		deps.RetryOpts = retry.DefaultOpts
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	return &Pool{deps: deps, sem: make(chan struct{}, deps.MaxWorkers)}
}

// Metrics returns the pool's metrics registry, for mounting a /metrics
// handler on the process's HTTP server.
func (p *Pool) Metrics() *metrics.Registry {
	return p.deps.Metrics
}

// Start subscribes to the chat/file/kb/retry topics. Each received envelope
// is dispatched to a task that acquires the pool's semaphore, processes the
// message, and releases — bounding total in-flight handler calls across all
// four topics to MaxWorkers. The returned subscriptions must be drained
// (Unsubscribe or connection close) by the caller during shutdown.
func (p *Pool) Start(ctx context.Context) ([]*nats.Subscription, error) {
	topics := []jobs.Topic{jobs.TopicChat, jobs.TopicFile, jobs.TopicKB, jobs.TopicRetry}
	subs := make([]*nats.Subscription, 0, len(topics))
	for _, topic := range topics {
		sub, err := p.deps.Bus.Subscribe(topic, func(_ context.Context, env jobs.Envelope) {
			p.dispatch(ctx, env)
		})
		if err != nil {
			return nil, fmt.Errorf("worker: subscribe %s: %w", topic, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// Wait blocks until every in-flight task has finished. Call after the
// subscriptions have been torn down, as part of graceful shutdown.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) dispatch(ctx context.Context, env jobs.Envelope) {
	p.wg.Add(1)
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		p.wg.Done()
		return
	}
	go func() {
		defer func() {
			<-p.sem
			p.wg.Done()
		}()
		p.process(ctx, env)
	}()
}

// process implements the four-step per-message algorithm of spec.md §4.6.
func (p *Pool) process(ctx context.Context, env jobs.Envelope) {
	start := time.Now()
	originalTopic := env.Topic
	retryCount := 0
	maxRetry := p.deps.RetryOpts.MaxRetries

	defer func() {
		label := metrics.WithLabels("orchestrator_job_duration_seconds", "topic", string(originalTopic))
		p.deps.Metrics.Histogram(label, "Handler latency per job, by topic.", nil).Since(start)
	}()

	if env.Topic == jobs.TopicRetry {
		if env.RetryMeta == nil {
			p.deps.Logger.Warn("worker: retry envelope missing retry_meta, dropping", "correlation_id", env.CorrelationID)
			return
		}
		meta := env.RetryMeta
		originalTopic = meta.OriginalTopic
		retryCount = meta.RetryCount
		maxRetry = meta.MaxRetry

		delay := retry.CalculateDelay(p.deps.RetryOpts, retryCount)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}

	result, err := p.runHandler(ctx, originalTopic, env)
	if err == nil {
		p.deps.Metrics.Counter(metrics.WithLabels("orchestrator_jobs_processed_total", "topic", string(originalTopic)), "Jobs completed successfully, by topic.").Inc()
		extra := map[string]any{"type": string(originalTopic)}
		for k, v := range result {
			extra[k] = v
		}
		if werr := p.deps.Results.WriteResult(ctx, env.CorrelationID, string(originalTopic), extra); werr != nil {
			p.deps.Logger.Warn("worker: write result failed", "correlation_id", env.CorrelationID, "err", werr)
		}
		return
	}

	if retry.ShouldRetry(err, retryCount, maxRetry) {
		p.retryJob(ctx, env, originalTopic, retryCount, maxRetry, err)
		return
	}

	p.deadLetter(ctx, env, originalTopic, retryCount, maxRetry, err)
}

func (p *Pool) retryJob(ctx context.Context, env jobs.Envelope, originalTopic jobs.Topic, retryCount, maxRetry int, failErr error) {
	p.deps.Metrics.Counter(metrics.WithLabels("orchestrator_jobs_retried_total", "topic", string(originalTopic)), "Jobs requeued for retry, by topic.").Inc()
	retryEnv := retry.BuildRetryEnvelope(p.deps.RetryOpts, env, originalTopic, retryCount, failErr, time.Now())
	if perr := p.deps.Bus.PublishEnvelope(ctx, retryEnv); perr != nil {
		p.deps.Logger.Error("worker: publish retry envelope failed", "correlation_id", env.CorrelationID, "err", perr)
	}
	nextCount := retryCount + 1
	if werr := p.deps.Results.WriteRetrying(ctx, env.CorrelationID, nextCount, maxRetry, truncate(failErr.Error(), errorPreviewChars)); werr != nil {
		p.deps.Logger.Warn("worker: write retrying failed", "correlation_id", env.CorrelationID, "err", werr)
	}
}

func (p *Pool) deadLetter(ctx context.Context, env jobs.Envelope, originalTopic jobs.Topic, retryCount, maxRetry int, failErr error) {
	p.deps.Metrics.Counter(metrics.WithLabels("orchestrator_jobs_dead_lettered_total", "topic", string(originalTopic)), "Jobs moved to the dead-letter store, by topic.").Inc()
	if p.deps.DLQ != nil {
		if derr := p.deps.DLQ.Save(ctx, env.CorrelationID, originalTopic, env.Payload, failErr, retryCount); derr != nil {
			p.deps.Logger.Error("worker: dlq save failed", "correlation_id", env.CorrelationID, "err", derr)
		}
	}
	msg := failErr.Error()
	if retry.IsRetryable(failErr) {
		// Retryable in principle, but retryCount had already reached
		// maxRetry: this is exhaustion, not a terminal classification.
		msg = retry.ExhaustionMessage(maxRetry, failErr.Error())
	}
	if werr := p.deps.Results.WriteError(ctx, env.CorrelationID, msg); werr != nil {
		p.deps.Logger.Warn("worker: write error failed", "correlation_id", env.CorrelationID, "err", werr)
	}
}

func (p *Pool) runHandler(ctx context.Context, topic jobs.Topic, env jobs.Envelope) (map[string]any, error) {
	switch topic {
	case jobs.TopicChat:
		payload, err := env.DecodeChat()
		if err != nil {
			return nil, fmt.Errorf("worker: decode chat payload: %w", err)
		}
		res, err := p.deps.Chat.Handle(ctx, env.CorrelationID, payload)
		if err != nil {
			return nil, err
		}
		return toMap(res), nil

	case jobs.TopicFile:
		payload, err := env.DecodeFile()
		if err != nil {
			return nil, fmt.Errorf("worker: decode file payload: %w", err)
		}
		res, err := p.deps.File.Handle(ctx, env.CorrelationID, payload)
		if err != nil {
			return nil, err
		}
		return toMap(res), nil

	case jobs.TopicKB:
		payload, err := env.DecodeKb()
		if err != nil {
			return nil, fmt.Errorf("worker: decode kb payload: %w", err)
		}
		res, err := p.deps.KB.Handle(ctx, env.CorrelationID, payload)
		if err != nil {
			return nil, err
		}
		return toMap(res), nil

	default:
		return nil, fmt.Errorf("worker: unknown topic %q", topic)
	}
}

func toMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
