package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/md-rashed-zaman/fieldassign/libs/config"
	"github.com/md-rashed-zaman/fieldassign/libs/db"
	"github.com/md-rashed-zaman/fieldassign/libs/kafkax"
	"github.com/md-rashed-zaman/fieldassign/libs/runtime"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/consumer"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/inbox"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/outbox"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/storage"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/storage/memory"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/storage/postgres"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/migrations"
)

type backend struct {
	kind   string
	store  storage.Store
	inbox  consumer.Inbox
	checks []runtime.ReadyCheck
	close  func()
}

// openStore connects to Postgres when DATABASE_URL is set. Without it the service runs on
// the in-memory store, optionally seeded from SEED_FILE, and events stay in process.
func openStore(ctx context.Context, logger *slog.Logger, brokers string) (*backend, error) {
	dbURL := strings.TrimSpace(config.String("DATABASE_URL", ""))
	if dbURL == "" {
		mem := memory.New()
		if path := strings.TrimSpace(config.String("SEED_FILE", "")); path != "" {
			f, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("open seed: %w", err)
			}
			defer f.Close()
			if err := mem.Load(f); err != nil {
				return nil, err
			}
			logger.Info("memory store seeded", "path", path)
		}
		logger.Warn("DATABASE_URL not set; using in-memory store")
		return &backend{kind: "memory", store: mem, inbox: inbox.NewMemory(), close: func() {}}, nil
	}

	pool, err := db.Open(ctx, dbURL, db.Options{
		MaxConns: int32(config.Int("DB_MAX_CONNS", 10, 1)),
		MinConns: int32(config.Int("DB_MIN_CONNS", 0, 0)),
	})
	if err != nil {
		return nil, fmt.Errorf("db connection: %w", err)
	}
	if config.Bool("MIGRATE_ON_START", false) {
		if err := migrations.Apply(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("migrations applied")
	}

	outboxRepo := outbox.NewRepository()
	closers := []func(){pool.Close}
	if strings.TrimSpace(brokers) != "" {
		writer := kafkax.NewWriter(brokers)
		publisher := outbox.NewPublisher(pool, outboxRepo, writer, logger, outbox.PublisherConfig{
			PollEvery: 2 * time.Second,
			BatchSize: 50,
		})
		go publisher.Run(ctx)
		closers = append([]func(){func() { _ = writer.Close() }}, closers...)
	} else {
		logger.Warn("KAFKA_BROKERS not set; outbox events will accumulate unpublished")
	}

	return &backend{
		kind:   "postgres",
		store:  postgres.NewStore(pool, outboxRepo),
		inbox:  inbox.NewRepository(pool),
		checks: []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}},
		close: func() {
			for _, c := range closers {
				c()
			}
		},
	}, nil
}
