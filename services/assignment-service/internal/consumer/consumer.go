package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/fieldassign/libs/kafkax"
	otelx "github.com/md-rashed-zaman/fieldassign/libs/otel"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Handler func(ctx context.Context, msg kafka.Message) error

// Inbox remembers handled event ids.
type Inbox interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, eventID, eventType string) (bool, error)
}

// Reader is the subset of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer handles one topic. A message is committed only after its handler succeeds;
// failing handlers are retried with backoff, holding the partition until they pass.
type Consumer struct {
	reader   Reader
	logger   *slog.Logger
	inbox    Inbox
	handler  Handler
	backoff  time.Duration
	maxDelay time.Duration
}

type Config struct {
	Brokers string
	GroupID string
	Topic   string
}

func New(logger *slog.Logger, inbox Inbox, cfg Config, handler Handler) *Consumer {
	return NewWithReader(kafkax.NewReader(cfg.Brokers, cfg.GroupID, cfg.Topic), logger, inbox, handler)
}

func NewWithReader(reader Reader, logger *slog.Logger, inbox Inbox, handler Handler) *Consumer {
	return &Consumer{
		reader:   reader,
		logger:   logger,
		inbox:    inbox,
		handler:  handler,
		backoff:  500 * time.Millisecond,
		maxDelay: 30 * time.Second,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka fetch error", "err", err)
			if !sleep(ctx, time.Second) {
				return
			}
			continue
		}

		if !c.process(ctx, msg) {
			return
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit error", "err", err, "topic", msg.Topic, "offset", msg.Offset)
		}
	}
}

// process returns false only when ctx ends before the message is handled.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	meta := kafkax.ExtractEventMeta(msg)
	ctxSpan, span := otel.Tracer("kafka").Start(kafkax.ExtractTraceContext(ctx, msg), "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.String("messaging.message_id", meta.EventID),
		),
	)
	defer span.End()

	delay := c.backoff
	for attempt := 1; ; attempt++ {
		err := c.handleOnce(ctxSpan, msg, meta)
		if err == nil {
			return true
		}
		otelx.Fail(span, err)
		c.logger.Error("handler error", "err", err, "event_id", meta.EventID, "topic", msg.Topic, "attempt", attempt)
		if !sleep(ctx, delay) {
			return false
		}
		if delay *= 2; delay > c.maxDelay {
			delay = c.maxDelay
		}
	}
}

// handleOnce dedupes through the inbox only for messages carrying an event_id header.
// Anything else goes straight to the handler; assignment is idempotent per order.
func (c *Consumer) handleOnce(ctx context.Context, msg kafka.Message, meta kafkax.EventMeta) error {
	if meta.EventID == "" {
		return c.handler(ctx, msg)
	}
	seen, err := c.inbox.Seen(ctx, meta.EventID)
	if err != nil {
		return err
	}
	if seen {
		c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
		return nil
	}
	if err := c.handler(ctx, msg); err != nil {
		return err
	}
	_, err = c.inbox.Record(ctx, meta.EventID, meta.EventType)
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
