// Package queue consumes pageview events from RabbitMQ and drives the
// acknowledgement policy around the processing pipeline.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"viewmill/internal/events"
	"viewmill/internal/metrics"
)

const (
	// DeadLetterExchange receives messages that can never succeed.
	DeadLetterExchange = "viewmill.dlx"
	// DefaultPrefetch bounds unacknowledged deliveries per consumer.
	DefaultPrefetch = 100
)

// Handler processes one raw message body. A returned events.MalformedError
// dead-letters the message; any other error retries it.
type Handler interface {
	Process(ctx context.Context, raw []byte) error
}

// Config wires a Consumer.
type Config struct {
	URL      string
	Queue    string
	Prefetch int
	Metrics  metrics.Sink
	Logger   *slog.Logger
}

// Consumer owns one AMQP connection and channel. Messages are acknowledged
// only after the pipeline finishes, so a crash mid-event redelivers instead
// of losing it.
type Consumer struct {
	cfg  Config
	conn *amqp.Connection
	ch   *amqp.Channel
	tag  string
}

// NewConsumer validates the config. Connect must be called before Run.
func NewConsumer(cfg Config) (*Consumer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("queue: URL is required")
	}
	if cfg.Queue == "" {
		return nil, fmt.Errorf("queue: queue name is required")
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = DefaultPrefetch
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopSink()
	}
	return &Consumer{cfg: cfg, tag: "viewmill-" + cfg.Queue}, nil
}

// Connect dials the broker and declares the topology: the main durable
// queue, the dead-letter exchange, and the dead queue bound to it. Declares
// are idempotent, so restarts are safe.
func (c *Consumer) Connect() error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := c.declareTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("set prefetch: %w", err)
	}

	c.conn = conn
	c.ch = ch
	c.cfg.Logger.Info("Connected to broker",
		slog.String("queue", c.cfg.Queue),
		slog.Int("prefetch", c.cfg.Prefetch))
	return nil
}

func (c *Consumer) declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(DeadLetterExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter exchange: %w", err)
	}

	deadQueue := c.cfg.Queue + ".dead"
	if _, err := ch.QueueDeclare(deadQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead queue: %w", err)
	}
	if err := ch.QueueBind(deadQueue, c.cfg.Queue, DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("bind dead queue: %w", err)
	}

	_, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    DeadLetterExchange,
		"x-dead-letter-routing-key": c.cfg.Queue,
	})
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	return nil
}

// Run consumes until ctx is cancelled, then drains in-flight deliveries
// before returning. Deliveries are handled concurrently up to the prefetch
// limit.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	deliveries, err := c.ch.Consume(c.cfg.Queue, c.tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, c.cfg.Prefetch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for delivery := range deliveries {
			sem <- struct{}{}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer wg.Done()
				defer func() { <-sem }()
				c.handle(ctx, handler, d)
			}(delivery)
		}
	}()

	select {
	case <-ctx.Done():
		// Stop new deliveries, then wait for in-flight ones to settle.
		if err := c.ch.Cancel(c.tag, false); err != nil {
			c.cfg.Logger.Warn("Cancel consumer failed", slog.String("error", err.Error()))
		}
		<-done
	case <-done:
	}
	wg.Wait()
	return nil
}

func (c *Consumer) handle(ctx context.Context, handler Handler, d amqp.Delivery) {
	c.cfg.Metrics.InFlightIncr()
	defer c.cfg.Metrics.InFlightDecr()

	// Cancelling ctx stops intake only. A delivery already claimed keeps an
	// uncancelled context so its storage work finishes during the drain
	// instead of failing with context.Canceled.
	err := handler.Process(context.WithoutCancel(ctx), d.Body)
	c.dispatch(deliveryAck{d}, err)
}

// dispatch settles one delivery according to the error taxonomy: success
// acks, a malformed payload dead-letters immediately, a transient failure
// gets exactly one requeue before it too dead-letters.
func (c *Consumer) dispatch(d acknowledger, err error) {
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			c.cfg.Logger.Error("Ack failed", slog.String("error", ackErr.Error()))
		}
	case events.IsMalformed(err):
		c.cfg.Metrics.EventDeadLettered()
		if nackErr := d.Reject(false); nackErr != nil {
			c.cfg.Logger.Error("Reject failed", slog.String("error", nackErr.Error()))
		}
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// An interrupted attempt says nothing about the message itself, so
		// it never burns the retry: requeue even when already redelivered.
		c.cfg.Metrics.EventRequeued()
		c.cfg.Logger.Warn("Requeueing event after interrupted attempt",
			slog.String("error", err.Error()))
		if nackErr := d.Nack(false, true); nackErr != nil {
			c.cfg.Logger.Error("Nack failed", slog.String("error", nackErr.Error()))
		}
	case d.IsRedelivered():
		c.cfg.Metrics.EventDeadLettered()
		c.cfg.Logger.Error("Dead-lettering event after retry",
			slog.String("error", err.Error()))
		if nackErr := d.Nack(false, false); nackErr != nil {
			c.cfg.Logger.Error("Nack failed", slog.String("error", nackErr.Error()))
		}
	default:
		c.cfg.Metrics.EventRequeued()
		c.cfg.Logger.Warn("Requeueing event after transient failure",
			slog.String("error", err.Error()))
		if nackErr := d.Nack(false, true); nackErr != nil {
			c.cfg.Logger.Error("Nack failed", slog.String("error", nackErr.Error()))
		}
	}
}

// Close tears down the channel and connection.
func (c *Consumer) Close() error {
	var first error
	if c.ch != nil {
		if err := c.ch.Close(); err != nil && first == nil {
			first = err
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Ping reports broker liveness for health checks.
func (c *Consumer) Ping() error {
	if c.conn == nil || c.conn.IsClosed() {
		return fmt.Errorf("broker connection closed")
	}
	return nil
}

// acknowledger is the slice of amqp.Delivery dispatch needs; tests
// substitute a fake.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
	Reject(requeue bool) error
	IsRedelivered() bool
}

// deliveryAck adapts amqp.Delivery to acknowledger.
type deliveryAck struct {
	amqp.Delivery
}

func (d deliveryAck) IsRedelivered() bool { return d.Redelivered }
