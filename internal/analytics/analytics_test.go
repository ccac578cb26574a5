package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/chatforge-io/orchestrator/internal/docstore"
)

func TestTransformLLMEventHashesUserID(t *testing.T) {
	raw := Event{
		"conversation_id": "conv-1",
		"user_id":         "user-42",
		"model":           "llama3",
		"latency_ms":      float64(120),
		"token_prompt":    float64(10),
		"token_completion": float64(20),
		"success":         true,
		"timestamp":       time.Now().UTC().Format(time.RFC3339Nano),
	}

	out := TransformLLMEvent(raw)

	if out["event_type"] != "LLM_RESPONSE" {
		t.Fatalf("expected event_type LLM_RESPONSE, got %v", out["event_type"])
	}
	if out["user_id_hash"] == "" || out["user_id_hash"] == raw["user_id"] {
		t.Fatalf("expected a hashed user id, got %v", out["user_id_hash"])
	}
	if len(out["user_id_hash"].(string)) != 16 {
		t.Fatalf("expected a 16-hex-char hash, got %q", out["user_id_hash"])
	}
	if out["token_total"] != 30 {
		t.Fatalf("expected token_total 30, got %v", out["token_total"])
	}
}

func TestTransformFileEventComputesSizeKB(t *testing.T) {
	raw := Event{
		"file_id":    "file-1",
		"file_type":  "pdf",
		"file_size":  float64(2048),
		"latency_ms": float64(50),
	}
	out := TransformFileEvent(raw)
	if out["event_type"] != "FILE_PROCESSED" {
		t.Fatalf("expected FILE_PROCESSED, got %v", out["event_type"])
	}
	if out["file_size_kb"] != 2.0 {
		t.Fatalf("expected file_size_kb 2.0, got %v", out["file_size_kb"])
	}
}

func TestTransformGenericEventKeepsExtraFieldsAsMetadata(t *testing.T) {
	raw := Event{
		"event_type":      "conversation_deleted",
		"conversation_id": "conv-1",
		"user_id":         "user-1",
		"reason":          "user_request",
	}
	out := TransformGenericEvent(raw)
	meta, ok := out["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("expected metadata map, got %T", out["metadata"])
	}
	if meta["reason"] != "user_request" {
		t.Fatalf("expected reason preserved in metadata, got %+v", meta)
	}
	if _, present := meta["conversation_id"]; present {
		t.Fatalf("expected conversation_id to be excluded from metadata, got %+v", meta)
	}
}

func TestAggregateLLMEventIncrementsCounters(t *testing.T) {
	docs := docstore.NewInMemoryForTest()
	ctx := context.Background()

	ev1 := TransformLLMEvent(Event{
		"model": "llama3", "latency_ms": float64(100),
		"token_prompt": float64(10), "token_completion": float64(5), "success": true,
	})
	ev2 := TransformLLMEvent(Event{
		"model": "llama3", "latency_ms": float64(200),
		"token_prompt": float64(8), "token_completion": float64(4), "success": false,
	})

	if err := AggregateLLMEvent(ctx, docs, 5, ev1); err != nil {
		t.Fatal(err)
	}
	if err := AggregateLLMEvent(ctx, docs, 5, ev2); err != nil {
		t.Fatal(err)
	}

	ts, _ := time.Parse(time.RFC3339Nano, ev1["timestamp"].(string))
	bucket := bucketKey(timeBucket(ts, 5))

	doc, found, err := docs.FindOne(ctx, labelAnalyticsMetrics, compositeID("request_count", "llama3", bucket))
	if err != nil || !found {
		t.Fatalf("expected request_count doc: found=%v err=%v", found, err)
	}
	if doc.Fields["value"] != 2.0 {
		t.Fatalf("expected request_count value 2, got %v", doc.Fields["value"])
	}

	successDoc, found, _ := docs.FindOne(ctx, labelAnalyticsMetrics, compositeID("success_count", "llama3", bucket))
	if !found || successDoc.Fields["value"] != 1.0 {
		t.Fatalf("expected success_count 1, got found=%v %+v", found, successDoc.Fields)
	}

	errorDoc, found, _ := docs.FindOne(ctx, labelAnalyticsMetrics, compositeID("error_count", "llama3", bucket))
	if !found || errorDoc.Fields["value"] != 1.0 {
		t.Fatalf("expected error_count 1, got found=%v %+v", found, errorDoc.Fields)
	}

	tokenDoc, found, _ := docs.FindOne(ctx, labelAnalyticsMetrics, compositeID("token_usage", "llama3", bucket))
	if !found || tokenDoc.Fields["total"] != 27.0 {
		t.Fatalf("expected token_usage.total 27, got found=%v %+v", found, tokenDoc.Fields)
	}
}

func TestAggregateFileEventAccumulatesSizeAndChunks(t *testing.T) {
	docs := docstore.NewInMemoryForTest()
	ctx := context.Background()

	ev := TransformFileEvent(Event{
		"file_type": "csv", "file_size": float64(4096), "chunk_count": float64(3), "latency_ms": float64(75),
	})
	if err := AggregateFileEvent(ctx, docs, 5, ev); err != nil {
		t.Fatal(err)
	}

	ts, _ := time.Parse(time.RFC3339Nano, ev["timestamp"].(string))
	bucket := bucketKey(timeBucket(ts, 5))

	doc, found, err := docs.FindOne(ctx, labelAnalyticsMetrics, compositeID("file_processed_count", "csv", bucket))
	if err != nil || !found {
		t.Fatalf("expected file_processed_count doc: found=%v err=%v", found, err)
	}
	if doc.Fields["total_chunks"] != 3.0 {
		t.Fatalf("expected total_chunks 3, got %v", doc.Fields["total_chunks"])
	}
}

func TestCalculateStatisticsComputesPercentiles(t *testing.T) {
	docs := docstore.NewInMemoryForTest()
	ctx := context.Background()

	bucket := bucketKey(timeBucket(time.Now().UTC(), 5))
	id := compositeID("latency_samples", "llama3", bucket)

	for _, latency := range []float64{10, 20, 30, 40, 100} {
		if err := docs.PushField(ctx, labelAnalyticsMetrics, id, "samples", latency); err != nil {
			t.Fatal(err)
		}
	}
	if err := docs.Upsert(ctx, labelAnalyticsMetrics, id, map[string]any{
		"metric": "latency_samples", "model": "llama3", "time_bucket": bucket,
	}); err != nil {
		t.Fatal(err)
	}

	if err := CalculateStatistics(ctx, docs, 5); err != nil {
		t.Fatal(err)
	}

	statsID := compositeID("latency_stats", "llama3", bucket)
	doc, found, err := docs.FindOne(ctx, labelAnalyticsMetrics, statsID)
	if err != nil || !found {
		t.Fatalf("expected latency_stats doc: found=%v err=%v", found, err)
	}
	if doc.Fields["count"] != 5 {
		t.Fatalf("expected count 5, got %v", doc.Fields["count"])
	}
	if doc.Fields["min"] != 10.0 || doc.Fields["max"] != 100.0 {
		t.Fatalf("expected min 10 max 100, got %+v", doc.Fields)
	}
}

func TestConsumerPersistsTransformedLLMEvent(t *testing.T) {
	docs := docstore.NewInMemoryForTest()
	c := New(Deps{Docs: docs, WindowMinutes: 5})

	c.handleLLM(context.Background(), Event{
		"model": "llama3", "latency_ms": float64(50), "user_id": "user-1", "success": true,
	})

	events, err := docs.List(context.Background(), labelAnalyticsEvents, docstore.ListOpts{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 persisted event, got %d", len(events))
	}
	if events[0].Fields["event_type"] != "LLM_RESPONSE" {
		t.Fatalf("expected LLM_RESPONSE event, got %+v", events[0].Fields)
	}
}
