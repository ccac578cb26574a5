// Package analytics implements the Analytics Consumer (C8): a separate
// consumer group on the secondary bus's three subjects that transforms,
// persists, and aggregates processed-job events into windowed metrics and
// minute-resolution time series. Grounded field-for-field on the original
// implementation's transformer.py/aggregator.py, reimplemented over
// internal/docstore's atomic Inc/Push operations in place of Mongo's
// $inc/$push.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/chatforge-io/orchestrator/internal/bus"
	"github.com/chatforge-io/orchestrator/internal/docstore"
	"github.com/chatforge-io/orchestrator/internal/events"
)

const labelAnalyticsEvents = "analytics_events"

// defaultWindowMinutes is the spec's METRIC_WINDOW_MINUTES default.
const defaultWindowMinutes = 5

// Deps are the Analytics Consumer's external collaborators.
type Deps struct {
	Bus           *bus.SecondaryBus
	Docs          *docstore.Store
	Logger        *slog.Logger
	WindowMinutes int
	// StatsInterval controls how often the statistics sweep runs. Defaults
	// to WindowMinutes, resolving spec.md §9's open question in favor of a
	// scheduled sweep rather than a per-event recomputation.
	StatsInterval time.Duration
}

// Consumer is the Analytics Consumer (C8).
type Consumer struct {
	deps Deps
}

// New builds a Consumer, defaulting WindowMinutes/StatsInterval/Logger when
// left unset.
func New(deps Deps) *Consumer {
	if deps.WindowMinutes <= 0 {
		deps.WindowMinutes = defaultWindowMinutes
	}
	if deps.StatsInterval <= 0 {
		deps.StatsInterval = time.Duration(deps.WindowMinutes) * time.Minute
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Consumer{deps: deps}
}

// Start subscribes to the three secondary-bus subjects and launches the
// scheduled statistics sweep. The returned subscriptions must be drained by
// the caller during shutdown; the sweep goroutine stops when ctx is done.
func (c *Consumer) Start(ctx context.Context) ([]*nats.Subscription, error) {
	var subs []*nats.Subscription

	llmSub, err := bus.SubscribeRaw(c.deps.Bus, events.SubjectLLMCalls, c.handleLLM)
	if err != nil {
		return nil, fmt.Errorf("analytics: subscribe %s: %w", events.SubjectLLMCalls, err)
	}
	subs = append(subs, llmSub)

	fileSub, err := bus.SubscribeRaw(c.deps.Bus, events.SubjectFileProcessing, c.handleFile)
	if err != nil {
		return nil, fmt.Errorf("analytics: subscribe %s: %w", events.SubjectFileProcessing, err)
	}
	subs = append(subs, fileSub)

	genericSub, err := bus.SubscribeRaw(c.deps.Bus, events.SubjectChatbotEvents, c.handleGeneric)
	if err != nil {
		return nil, fmt.Errorf("analytics: subscribe %s: %w", events.SubjectChatbotEvents, err)
	}
	subs = append(subs, genericSub)

	go c.runStatsSweep(ctx)

	return subs, nil
}

func (c *Consumer) runStatsSweep(ctx context.Context) {
	ticker := time.NewTicker(c.deps.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := CalculateStatistics(ctx, c.deps.Docs, c.deps.WindowMinutes); err != nil {
				c.deps.Logger.Warn("analytics: statistics sweep failed", "err", err)
			}
		}
	}
}

func (c *Consumer) handleLLM(ctx context.Context, raw Event) {
	transformed := TransformLLMEvent(raw)
	c.process(ctx, "llm_response", transformed, func(ctx context.Context) error {
		return AggregateLLMEvent(ctx, c.deps.Docs, c.deps.WindowMinutes, transformed)
	})
}

func (c *Consumer) handleFile(ctx context.Context, raw Event) {
	transformed := TransformFileEvent(raw)
	c.process(ctx, "file_processed", transformed, func(ctx context.Context) error {
		return AggregateFileEvent(ctx, c.deps.Docs, c.deps.WindowMinutes, transformed)
	})
}

func (c *Consumer) handleGeneric(ctx context.Context, raw Event) {
	transformed := TransformGenericEvent(raw)
	c.process(ctx, "generic", transformed, nil)
}

// process persists the transformed event and, when aggregate is non-nil,
// runs the aggregation step. A failure at either stage is logged and
// recorded as a PROCESSING_ERROR event rather than propagated — a single
// bad event never stops the consumer.
func (c *Consumer) process(ctx context.Context, kind string, transformed Event, aggregate func(context.Context) error) {
	if err := c.persist(ctx, transformed); err != nil {
		c.deps.Logger.Warn("analytics: persist event failed", "kind", kind, "err", err)
		c.recordProcessingError(ctx, kind, err)
		return
	}
	if aggregate == nil {
		return
	}
	if err := aggregate(ctx); err != nil {
		c.deps.Logger.Warn("analytics: aggregate event failed", "kind", kind, "err", err)
		c.recordProcessingError(ctx, kind, err)
	}
}

func (c *Consumer) persist(ctx context.Context, ev Event) error {
	id := uuid.NewString()
	fields := map[string]any(ev)
	if err := c.deps.Docs.Upsert(ctx, labelAnalyticsEvents, id, fields); err != nil {
		return fmt.Errorf("analytics: persist event: %w", err)
	}
	return nil
}

func (c *Consumer) recordProcessingError(ctx context.Context, kind string, cause error) {
	id := uuid.NewString()
	err := c.deps.Docs.Upsert(ctx, labelAnalyticsEvents, id, map[string]any{
		"event_type":   "PROCESSING_ERROR",
		"source_kind":  kind,
		"error":        cause.Error(),
		"processed_at": docstore.NowRFC3339(),
	})
	if err != nil {
		c.deps.Logger.Error("analytics: failed to record processing error", "err", err)
	}
}
