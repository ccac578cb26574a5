// Package retry implements the job-orchestration substrate's Retry Policy:
// pure, synchronous error classification, exponential backoff with jitter,
// and retry-envelope construction. Grounded on the original implementation's
// retry_handler.py, translated to explicit Go functions so the policy stays
// testable independent of the worker that drives it.
package retry

import (
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/chatforge-io/orchestrator/internal/jobs"
)

// Opts configures the policy. Defaults match the spec's enumerated
// configuration.
type Opts struct {
	MaxRetries int
	Base       time.Duration
	Multiplier float64
	MaxCap     time.Duration
	JitterMax  time.Duration
}

// DefaultOpts are the spec-mandated defaults.
var DefaultOpts = Opts{
	MaxRetries: 5,
	Base:       time.Second,
	Multiplier: 2,
	MaxCap:     120 * time.Second,
	JitterMax:  2 * time.Second,
}

// retryableSubstrings classifies an error message as transient. Kept as a
// single table so tests can pin the exact behavior (REDESIGN FLAG: string
// classification is fragile, but it is what the reference system does).
var retryableSubstrings = []string{
	"timeout", "rate_limit", "connection", "network",
	"503", "504", "429", "temporary", "unavailable", "overloaded",
	// "413" is preserved per the original behavior even though HTTP 413
	// (Payload Too Large) is not actually transient; see spec design notes.
	"413",
}

// IsRetryable reports whether err's message matches any known transient
// substring, case-insensitively.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range retryableSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// ShouldRetry decides retry-vs-terminal for the given attempt count
// (0-indexed count of retries already performed).
func ShouldRetry(err error, retryCount, maxRetries int) bool {
	return IsRetryable(err) && retryCount < maxRetries
}

// Backoff computes the deterministic, unjittered portion of the delay for
// the n-th retry (1-indexed), monotone non-decreasing and capped at MaxCap.
func Backoff(opts Opts, n int) time.Duration {
	if n < 0 {
		n = 0
	}
	delay := float64(opts.Base) * pow(opts.Multiplier, n)
	maxCap := float64(opts.MaxCap)
	if delay > maxCap {
		delay = maxCap
	}
	return time.Duration(delay)
}

// CalculateDelay computes the full backoff delay for the n-th retry
// (1-indexed), including uniform jitter in [0, JitterMax). The policy
// recomputes this fresh on every attempt rather than trusting a
// previously-stored next_delay_seconds.
func CalculateDelay(opts Opts, n int) time.Duration {
	base := Backoff(opts, n)
	if opts.JitterMax <= 0 {
		return base
	}
	jitter := time.Duration(rand.Float64() * float64(opts.JitterMax))
	return base + jitter
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// BuildRetryEnvelope constructs the envelope published to the retry topic
// when ShouldRetry reports true. The original payload is copied verbatim;
// only retry_meta is new.
func BuildRetryEnvelope(opts Opts, original jobs.Envelope, originalTopic jobs.Topic, retryCount int, lastErr error, attemptAt time.Time) jobs.Envelope {
	nextRetryCount := retryCount + 1
	delay := CalculateDelay(opts, nextRetryCount)
	meta := jobs.RetryMeta{
		OriginalTopic:    originalTopic,
		RetryCount:       nextRetryCount,
		MaxRetry:         opts.MaxRetries,
		LastError:        lastErr.Error(),
		LastAttemptAt:    attemptAt.UTC().Format(time.RFC3339),
		NextDelaySeconds: delay.Seconds(),
	}
	return original.WithRetry(meta)
}

// ExhaustionMessage formats the terminal error message written to the
// Result Channel once retries are exhausted.
func ExhaustionMessage(maxRetries int, originalErr string) string {
	return "Max retries (" + strconv.Itoa(maxRetries) + ") exceeded. " + originalErr
}
