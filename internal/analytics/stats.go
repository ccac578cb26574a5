package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/chatforge-io/orchestrator/internal/docstore"
)

const statsListLimit = 1000

// CalculateStatistics is the periodic statistics pass: for every
// latency_samples bucket touched within the last two windows, it sorts the
// sample list and upserts p50/p95/p99/avg/min/max/count into latency_stats,
// field-for-field on calculate_statistics.
func CalculateStatistics(ctx context.Context, docs *docstore.Store, windowMinutes int) error {
	cutoff := time.Now().UTC().Add(-time.Duration(windowMinutes*2) * time.Minute)

	buckets, err := docs.List(ctx, labelAnalyticsMetrics, docstore.ListOpts{
		Filter: map[string]any{"metric": "latency_samples"},
		Limit:  statsListLimit,
	})
	if err != nil {
		return fmt.Errorf("analytics: list latency_samples: %w", err)
	}

	now := docstore.NowRFC3339()
	for _, doc := range buckets {
		bucketStr, _ := doc.Fields["time_bucket"].(string)
		bucketTime, err := time.Parse(time.RFC3339, bucketStr)
		if err != nil || bucketTime.Before(cutoff) {
			continue
		}

		samples := toFloatSlice(doc.Fields["samples"])
		if len(samples) == 0 {
			continue
		}
		sort.Float64s(samples)

		model, _ := doc.Fields["model"].(string)
		stats := computeLatencyStats(samples)

		id := compositeID("latency_stats", model, bucketStr)
		fields := map[string]any{
			"metric":      "latency_stats",
			"model":       model,
			"time_bucket": bucketStr,
			"updated_at":  now,
		}
		for k, v := range stats {
			fields[k] = v
		}
		if err := docs.Upsert(ctx, labelAnalyticsMetrics, id, fields); err != nil {
			return fmt.Errorf("analytics: upsert latency_stats: %w", err)
		}
	}
	return nil
}

func computeLatencyStats(sorted []float64) map[string]any {
	n := len(sorted)
	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	return map[string]any{
		"p50":   percentile(sorted, 0.50, 0),
		"p95":   percentile(sorted, 0.95, 1),
		"p99":   percentile(sorted, 0.99, 2),
		"avg":   sum / float64(n),
		"min":   sorted[0],
		"max":   sorted[n-1],
		"count": n,
	}
}

// percentile returns samples[floor(n*p)], falling back to the last sample
// when n does not exceed minN (not enough data for a stable index at that
// percentile).
func percentile(sorted []float64, p float64, minN int) float64 {
	n := len(sorted)
	if n <= minN {
		return sorted[n-1]
	}
	idx := int(float64(n) * p)
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

func toFloatSlice(v any) []float64 {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(raw))
	for _, item := range raw {
		switch f := item.(type) {
		case float64:
			out = append(out, f)
		case int64:
			out = append(out, float64(f))
		case int:
			out = append(out, float64(f))
		}
	}
	return out
}
