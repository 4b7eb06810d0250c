// Package consumer pulls normalized events from the durable NATS JetStream
// subject, drives the detection engine and acknowledges messages based on
// outcome. Delivery is at-least-once: a message is acked only after every
// resulting alert has been handed to the publisher, and the sink dedupes on
// alert id if a redelivery regenerates alerts.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/siem-platform/detect-service/internal/metrics"
	"github.com/siem-platform/detect-service/internal/schema"
)

// EventProcessor is the detection engine surface the consumer drives.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, event *schema.Event) []*schema.Alert
}

// AlertPublisher is the durable, tenant-partitioned alert sink. Publishes are
// expected to be idempotent keyed by alert id.
type AlertPublisher interface {
	Publish(ctx context.Context, alert *schema.Alert) error
}

// Config holds the consumer configuration.
type Config struct {
	URL           string        `yaml:"url"`
	Stream        string        `yaml:"stream"`
	Subjects      []string      `yaml:"subjects"`
	FilterSubject string        `yaml:"filter_subject"`
	Durable       string        `yaml:"durable"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// DefaultConfig returns the default consumer configuration.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://nats:4222",
		Stream:        "EVENTS",
		Subjects:      []string{"normalized.events.*", "raw.events.*"},
		FilterSubject: "normalized.events.*",
		Durable:       "detect-service",
		FetchTimeout:  time.Second,
		ReconnectWait: 2 * time.Second,
	}
}

// Consumer is the single receive loop feeding the detection engine. Stop is
// cooperative: it is observed at the next loop-iteration boundary, so an
// in-flight message always finishes processing.
type Consumer struct {
	config    Config
	engine    EventProcessor
	publisher AlertPublisher

	nc   *nats.Conn
	cons jetstream.Consumer

	done     chan struct{}
	stopOnce sync.Once

	// Metrics
	consumed uint64
	acked    uint64
	naked    uint64
}

// New creates a Consumer. No connection is made until Start.
func New(cfg Config, engine EventProcessor, publisher AlertPublisher) *Consumer {
	return &Consumer{
		config:    cfg,
		engine:    engine,
		publisher: publisher,
		done:      make(chan struct{}),
	}
}

// Start connects to the transport, ensures the stream and the durable
// consumer exist, then runs the receive loop until Stop or context
// cancellation. The durable identity means redelivery resumes from the last
// unacknowledged position across restarts.
func (c *Consumer) Start(ctx context.Context) error {
	nc, err := nats.Connect(c.config.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(c.config.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	c.nc = nc

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("create JetStream context: %w", err)
	}

	slog.Info("connected to NATS", "url", c.config.URL)

	stream, err := c.ensureStream(ctx, js)
	if err != nil {
		nc.Close()
		return err
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       c.config.Durable,
		FilterSubject: c.config.FilterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("create durable consumer %s: %w", c.config.Durable, err)
	}
	c.cons = cons

	slog.Info("subscribed to normalized events",
		"stream", c.config.Stream,
		"filter_subject", c.config.FilterSubject,
		"durable", c.config.Durable,
	)

	return c.run(ctx)
}

// ensureStream creates the stream if it does not exist yet. An existing
// stream is success regardless of who created it.
func (c *Consumer) ensureStream(ctx context.Context, js jetstream.JetStream) (jetstream.Stream, error) {
	stream, err := js.Stream(ctx, c.config.Stream)
	if err == nil {
		return stream, nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return nil, fmt.Errorf("check stream %s: %w", c.config.Stream, err)
	}

	stream, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:      c.config.Stream,
		Subjects:  c.config.Subjects,
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
	})
	if err != nil {
		// Lost a creation race with another instance.
		if errors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
			return js.Stream(ctx, c.config.Stream)
		}
		return nil, fmt.Errorf("create stream %s: %w", c.config.Stream, err)
	}
	return stream, nil
}

// run is the receive loop: one message at a time with a bounded poll wait. A
// fetch timeout is an empty iteration, not an error.
func (c *Consumer) run(ctx context.Context) error {
	slog.Info("event consumer running")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		default:
		}

		batch, err := c.cons.Fetch(1, jetstream.FetchMaxWait(c.config.FetchTimeout))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, nats.ErrConnectionClosed) {
				return nil
			}
			slog.Error("fetch failed", "error", err)
			continue
		}

		for msg := range batch.Messages() {
			c.handleMessage(ctx, msg)
		}
		if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
			slog.Error("message batch error", "error", err)
		}
	}
}

// ackable is the subset of jetstream.Msg the handler needs.
type ackable interface {
	Data() []byte
	Ack() error
	Nak() error
}

// handleMessage decodes one message, runs it through the engine and publishes
// the resulting alerts in order. Decode or publish failures nak the message;
// everything else acks it.
func (c *Consumer) handleMessage(ctx context.Context, msg ackable) {
	atomic.AddUint64(&c.consumed, 1)
	metrics.EventsConsumed.Inc()
	start := time.Now()

	event, err := schema.DecodeEvent(msg.Data())
	if err != nil {
		slog.Error("invalid event payload", "error", err)
		metrics.EventsMalformed.Inc()
		c.nak(msg)
		return
	}

	slog.Debug("received event",
		"tenant_id", event.TenantID,
		"event_id", event.EventID,
		"category", event.Category,
	)

	alerts := c.engine.ProcessEvent(ctx, event)

	for _, alert := range alerts {
		if err := c.publisher.Publish(ctx, alert); err != nil {
			slog.Error("failed to publish alert",
				"tenant_id", alert.TenantID,
				"alert_id", alert.AlertID,
				"rule_name", alert.RuleName,
				"error", err,
			)
			metrics.PublishFailures.Inc()
			c.nak(msg)
			return
		}
		metrics.AlertsPublished.Inc()
	}

	if err := msg.Ack(); err != nil {
		slog.Error("failed to ack message", "event_id", event.EventID, "error", err)
		return
	}
	atomic.AddUint64(&c.acked, 1)
	metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
}

func (c *Consumer) nak(msg ackable) {
	if err := msg.Nak(); err != nil {
		slog.Error("failed to nak message", "error", err)
		return
	}
	atomic.AddUint64(&c.naked, 1)
}

// Stop signals the receive loop to terminate at the next iteration boundary
// and closes the transport connection. Safe to call more than once and
// concurrently with an in-flight receive cycle.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		if c.nc != nil {
			c.nc.Close()
			slog.Info("NATS connection closed")
		}
	})
}

// IsConnected reports the transport connection's last known state without a
// round-trip. Used by the readiness probe.
func (c *Consumer) IsConnected() bool {
	return c.nc != nil && c.nc.IsConnected()
}

// Metrics returns consumer counters.
func (c *Consumer) Metrics() Metrics {
	return Metrics{
		Consumed: atomic.LoadUint64(&c.consumed),
		Acked:    atomic.LoadUint64(&c.acked),
		Naked:    atomic.LoadUint64(&c.naked),
	}
}

// Metrics holds consumer statistics.
type Metrics struct {
	Consumed uint64 `json:"consumed"`
	Acked    uint64 `json:"acked"`
	Naked    uint64 `json:"naked"`
}
