package analytics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chatforge-io/orchestrator/internal/docstore"
)

const (
	labelAnalyticsMetrics = "analytics_metrics"
	labelTimeSeries       = "time_series"
)

// costPerPromptToken and costPerCompletionToken approximate the reference
// provider's per-token USD pricing.
const (
	costPerPromptToken     = 5.9e-7
	costPerCompletionToken = 7.9e-7
)

func compositeID(parts ...string) string {
	return strings.Join(parts, "|")
}

// AggregateLLMEvent upserts the windowed aggregates and per-minute
// time-series points driven by a single transformed LLM_RESPONSE event,
// field-for-field on aggregate_llm_event.
func AggregateLLMEvent(ctx context.Context, docs *docstore.Store, windowMinutes int, ev Event) error {
	ts := parseTransformedTimestamp(ev)
	model, _ := ev["model"].(string)
	latency, _ := ev["latency_ms"].(int64)
	tokenTotal, _ := ev["token_total"].(int)
	tokenPrompt, _ := ev["token_prompt"].(int)
	tokenCompletion, _ := ev["token_completion"].(int)
	success, _ := ev["success"].(bool)

	bucket := bucketKey(timeBucket(ts, windowMinutes))
	minute := bucketKey(timeBucket(ts, 1))
	now := docstore.NowRFC3339()

	if err := upsertInc(ctx, docs, labelAnalyticsMetrics,
		compositeID("request_count", model, bucket),
		map[string]any{"metric": "request_count", "model": model, "time_bucket": bucket, "updated_at": now},
		"value", 1); err != nil {
		return err
	}

	statusMetric := "success_count"
	if !success {
		statusMetric = "error_count"
	}
	if err := upsertInc(ctx, docs, labelAnalyticsMetrics,
		compositeID(statusMetric, model, bucket),
		map[string]any{"metric": statusMetric, "model": model, "time_bucket": bucket, "updated_at": now},
		"value", 1); err != nil {
		return err
	}

	latencyID := compositeID("latency_samples", model, bucket)
	if err := docs.PushField(ctx, labelAnalyticsMetrics, latencyID, "samples", float64(latency)); err != nil {
		return fmt.Errorf("analytics: push latency sample: %w", err)
	}
	if err := docs.Upsert(ctx, labelAnalyticsMetrics, latencyID, map[string]any{
		"metric": "latency_samples", "model": model, "time_bucket": bucket, "updated_at": now,
	}); err != nil {
		return fmt.Errorf("analytics: upsert latency_samples: %w", err)
	}

	tokenID := compositeID("token_usage", model, bucket)
	for field, delta := range map[string]float64{
		"total": float64(tokenTotal), "prompt": float64(tokenPrompt), "completion": float64(tokenCompletion),
	} {
		if err := docs.IncField(ctx, labelAnalyticsMetrics, tokenID, field, delta); err != nil {
			return fmt.Errorf("analytics: inc token_usage.%s: %w", field, err)
		}
	}
	if err := docs.Upsert(ctx, labelAnalyticsMetrics, tokenID, map[string]any{
		"metric": "token_usage", "model": model, "time_bucket": bucket, "updated_at": now,
	}); err != nil {
		return fmt.Errorf("analytics: upsert token_usage: %w", err)
	}

	costTotal := float64(tokenPrompt)*costPerPromptToken + float64(tokenCompletion)*costPerCompletionToken
	if err := upsertInc(ctx, docs, labelAnalyticsMetrics,
		compositeID("cost_estimate", model, bucket),
		map[string]any{"metric": "cost_estimate", "model": model, "time_bucket": bucket, "updated_at": now, "currency": "USD"},
		"value", costTotal); err != nil {
		return err
	}

	if err := upsertInc(ctx, docs, labelTimeSeries,
		compositeID("requests_per_minute", model, minute),
		map[string]any{"series": "requests_per_minute", "model": model, "timestamp": minute, "updated_at": now},
		"count", 1); err != nil {
		return err
	}

	latencyMinuteID := compositeID("latency_per_minute", model, minute)
	if err := docs.PushField(ctx, labelTimeSeries, latencyMinuteID, "values", float64(latency)); err != nil {
		return fmt.Errorf("analytics: push latency_per_minute: %w", err)
	}
	if err := docs.IncField(ctx, labelTimeSeries, latencyMinuteID, "count", 1); err != nil {
		return fmt.Errorf("analytics: inc latency_per_minute.count: %w", err)
	}
	if err := docs.IncField(ctx, labelTimeSeries, latencyMinuteID, "sum", float64(latency)); err != nil {
		return fmt.Errorf("analytics: inc latency_per_minute.sum: %w", err)
	}
	if err := docs.Upsert(ctx, labelTimeSeries, latencyMinuteID, map[string]any{
		"series": "latency_per_minute", "model": model, "timestamp": minute, "updated_at": now,
	}); err != nil {
		return fmt.Errorf("analytics: upsert latency_per_minute: %w", err)
	}

	tokenMinuteID := compositeID("tokens_per_minute", model, minute)
	for field, delta := range map[string]float64{
		"total": float64(tokenTotal), "prompt": float64(tokenPrompt), "completion": float64(tokenCompletion),
	} {
		if err := docs.IncField(ctx, labelTimeSeries, tokenMinuteID, field, delta); err != nil {
			return fmt.Errorf("analytics: inc tokens_per_minute.%s: %w", field, err)
		}
	}
	if err := docs.Upsert(ctx, labelTimeSeries, tokenMinuteID, map[string]any{
		"series": "tokens_per_minute", "model": model, "timestamp": minute, "updated_at": now,
	}); err != nil {
		return fmt.Errorf("analytics: upsert tokens_per_minute: %w", err)
	}

	if !success {
		if err := upsertInc(ctx, docs, labelTimeSeries,
			compositeID("errors_per_minute", model, minute),
			map[string]any{"series": "errors_per_minute", "model": model, "timestamp": minute, "updated_at": now},
			"count", 1); err != nil {
			return err
		}
	}

	return nil
}

// AggregateFileEvent upserts the windowed aggregates and per-minute
// time-series points for a single transformed FILE_PROCESSED event,
// field-for-field on aggregate_file_event.
func AggregateFileEvent(ctx context.Context, docs *docstore.Store, windowMinutes int, ev Event) error {
	ts := parseTransformedTimestamp(ev)
	fileType, _ := ev["file_type"].(string)
	latency, _ := ev["latency_ms"].(int64)
	fileSize, _ := ev["file_size"].(int64)
	chunkCount, _ := ev["chunk_count"].(int)

	bucket := bucketKey(timeBucket(ts, windowMinutes))
	minute := bucketKey(timeBucket(ts, 1))
	now := docstore.NowRFC3339()

	countID := compositeID("file_processed_count", fileType, bucket)
	if err := docs.IncField(ctx, labelAnalyticsMetrics, countID, "value", 1); err != nil {
		return fmt.Errorf("analytics: inc file_processed_count.value: %w", err)
	}
	if err := docs.IncField(ctx, labelAnalyticsMetrics, countID, "total_size", float64(fileSize)); err != nil {
		return fmt.Errorf("analytics: inc file_processed_count.total_size: %w", err)
	}
	if err := docs.IncField(ctx, labelAnalyticsMetrics, countID, "total_chunks", float64(chunkCount)); err != nil {
		return fmt.Errorf("analytics: inc file_processed_count.total_chunks: %w", err)
	}
	if err := docs.Upsert(ctx, labelAnalyticsMetrics, countID, map[string]any{
		"metric": "file_processed_count", "file_type": fileType, "time_bucket": bucket, "updated_at": now,
	}); err != nil {
		return fmt.Errorf("analytics: upsert file_processed_count: %w", err)
	}

	latencyID := compositeID("file_latency_samples", fileType, bucket)
	if err := docs.PushField(ctx, labelAnalyticsMetrics, latencyID, "samples", float64(latency)); err != nil {
		return fmt.Errorf("analytics: push file_latency_samples: %w", err)
	}
	if err := docs.Upsert(ctx, labelAnalyticsMetrics, latencyID, map[string]any{
		"metric": "file_latency_samples", "file_type": fileType, "time_bucket": bucket, "updated_at": now,
	}); err != nil {
		return fmt.Errorf("analytics: upsert file_latency_samples: %w", err)
	}

	minuteID := compositeID("files_per_minute", fileType, minute)
	if err := docs.IncField(ctx, labelTimeSeries, minuteID, "count", 1); err != nil {
		return fmt.Errorf("analytics: inc files_per_minute.count: %w", err)
	}
	if err := docs.IncField(ctx, labelTimeSeries, minuteID, "total_size", float64(fileSize)); err != nil {
		return fmt.Errorf("analytics: inc files_per_minute.total_size: %w", err)
	}
	if err := docs.Upsert(ctx, labelTimeSeries, minuteID, map[string]any{
		"series": "files_per_minute", "file_type": fileType, "timestamp": minute, "updated_at": now,
	}); err != nil {
		return fmt.Errorf("analytics: upsert files_per_minute: %w", err)
	}

	return nil
}

func upsertInc(ctx context.Context, docs *docstore.Store, label, id string, fields map[string]any, field string, delta float64) error {
	if err := docs.IncField(ctx, label, id, field, delta); err != nil {
		return fmt.Errorf("analytics: inc %s/%s.%s: %w", label, id, field, err)
	}
	if err := docs.Upsert(ctx, label, id, fields); err != nil {
		return fmt.Errorf("analytics: upsert %s/%s: %w", label, id, err)
	}
	return nil
}

func parseTransformedTimestamp(ev Event) time.Time {
	s, _ := ev["timestamp"].(string)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}
