// Package bus wires the job-orchestration subjects onto NATS, on top of
// pkg/natsutil's typed, trace-propagating publish/subscribe helpers.
// Grounded on cmd/api/main.go's connection-ownership style (one *nats.Conn
// per logical bus, closed by the owner) and pkg/natsutil itself.
package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chatforge-io/orchestrator/internal/jobs"
	"github.com/nats-io/nats.go"

	"github.com/chatforge-io/orchestrator/pkg/natsutil"
)

// Bus is the primary job bus: the gateway publishes chat/file/kb envelopes,
// the worker subscribes to all four subjects (including retry) and
// republishes retries onto it.
type Bus struct {
	nc *nats.Conn
}

// Connect dials the primary NATS bus.
func Connect(url string) (*Bus, error) {
	nc, err := nats.Connect(url, nats.Name("orchestrator"))
	if err != nil {
		return nil, fmt.Errorf("bus: connect: %w", err)
	}
	return &Bus{nc: nc}, nil
}

// NewFromConn wraps an already-connected *nats.Conn, for tests and for
// sharing one connection between the primary bus and the DLQ's retry
// publisher.
func NewFromConn(nc *nats.Conn) *Bus { return &Bus{nc: nc} }

// Close drains and closes the underlying connection.
func (b *Bus) Close() error {
	if b.nc == nil {
		return nil
	}
	return b.nc.Drain()
}

// PublishEnvelope publishes a job envelope to its own topic.
func (b *Bus) PublishEnvelope(ctx context.Context, env jobs.Envelope) error {
	return natsutil.Publish(ctx, b.nc, string(env.Topic), env)
}

// PublishRaw republishes an already-encoded payload to topic under a
// correlation id, satisfying internal/dlq.Publisher for manual and
// automatic retry. It preserves the envelope exactly as stored — no
// re-decoding, no re-encoding of the inner payload.
func (b *Bus) PublishRaw(ctx context.Context, topic jobs.Topic, payload json.RawMessage, correlationID string) error {
	env := jobs.Envelope{CorrelationID: correlationID, Topic: topic, Payload: payload}
	return natsutil.Publish(ctx, b.nc, string(topic), env)
}

// Subscribe registers a handler for topic's envelopes. Used by the worker
// pool to fan in chat/file/kb/retry.
func (b *Bus) Subscribe(topic jobs.Topic, handler func(context.Context, jobs.Envelope)) (*nats.Subscription, error) {
	return natsutil.Subscribe(b.nc, string(topic), handler)
}

// SecondaryBus carries the analytics-facing event stream
// (llm.calls/file.processing/chatbot.events), kept on a distinct NATS
// connection from the primary bus so a backlog on one never backpressures
// the other (resolves spec.md §9's "one bus or two" open question in favor
// of two).
type SecondaryBus struct {
	nc *nats.Conn
}

// ConnectSecondary dials the secondary NATS bus.
func ConnectSecondary(url string) (*SecondaryBus, error) {
	nc, err := nats.Connect(url, nats.Name("orchestrator-events"))
	if err != nil {
		return nil, fmt.Errorf("bus: connect secondary: %w", err)
	}
	return &SecondaryBus{nc: nc}, nil
}

// NewSecondaryFromConn wraps an already-connected *nats.Conn, for tests.
func NewSecondaryFromConn(nc *nats.Conn) *SecondaryBus { return &SecondaryBus{nc: nc} }

// Close drains and closes the underlying connection.
func (b *SecondaryBus) Close() error {
	if b.nc == nil {
		return nil
	}
	return b.nc.Drain()
}

// Publish serializes v as JSON and publishes it to subject.
func (b *SecondaryBus) Publish(ctx context.Context, subject string, v any) error {
	return natsutil.Publish(ctx, b.nc, subject, v)
}

// SubscribeRaw registers a handler receiving decoded JSON messages of type T
// on subject, used by internal/analytics to consume all three event kinds.
func SubscribeRaw[T any](b *SecondaryBus, subject string, handler func(context.Context, T)) (*nats.Subscription, error) {
	return natsutil.Subscribe(b.nc, subject, handler)
}
