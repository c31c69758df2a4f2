package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/fieldassign/libs/db"
	"github.com/md-rashed-zaman/fieldassign/libs/kafkax"
	otelx "github.com/md-rashed-zaman/fieldassign/libs/otel"
	"github.com/segmentio/kafka-go"
)

// Writer is the subset of *kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type PublisherConfig struct {
	PollEvery time.Duration
	BatchSize int
}

// Publisher relays committed outbox rows to Kafka. Delivery is at least once: rows are
// marked published only after the whole batch is acknowledged.
type Publisher struct {
	pool      *db.Pool
	repo      *Repository
	writer    Writer
	logger    *slog.Logger
	pollEvery time.Duration
	batchSize int
}

func NewPublisher(pool *db.Pool, repo *Repository, writer Writer, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		pool:      pool,
		repo:      repo,
		writer:    writer,
		logger:    logger,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.publishBatch(ctx)
			if err != nil {
				p.logger.Error("outbox publish failed", "err", err)
				continue
			}
			if n > 0 {
				p.logger.Debug("outbox published", "count", n)
			}
		}
	}
}

func (p *Publisher) publishBatch(ctx context.Context) (int, error) {
	var published int
	err := p.pool.InTx(ctx, func(tx pgx.Tx) error {
		records, err := p.repo.FetchUnpublished(ctx, tx, p.batchSize)
		if err != nil || len(records) == 0 {
			return err
		}

		msgs := make([]kafka.Message, len(records))
		ids := make([]int64, len(records))
		for i, rec := range records {
			msgs[i] = Message(ctx, rec)
			ids[i] = rec.ID
		}
		if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
			return err
		}
		published = len(records)
		return p.repo.MarkPublished(ctx, tx, ids)
	})
	return published, err
}

// Message builds the Kafka message for rec, carrying its id, type and stored trace context.
func Message(ctx context.Context, rec Record) kafka.Message {
	msgCtx := otelx.ContextWithTraceContext(ctx, rec.Traceparent, rec.Tracestate)
	return kafka.Message{
		Topic: rec.EventType,
		Key:   []byte(rec.AggregateID),
		Value: rec.Payload,
		Headers: kafkax.InjectTraceHeaders(msgCtx, []kafka.Header{
			{Key: kafkax.HeaderEventID, Value: []byte(rec.EventID)},
			{Key: kafkax.HeaderEventType, Value: []byte(rec.EventType)},
		}),
	}
}
