package capacity

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/model"
)

// Store is the part of storage.Store the resetter needs.
type Store interface {
	ResetDailyCounters(ctx context.Context, day time.Time) (int, error)
}

type Config struct {
	Location  *time.Location
	ResetAt   model.Clock
	PollEvery time.Duration
	Now       func() time.Time
}

// Resetter zeroes daily order counters once per local day, at ResetAt. The store
// records the reset date per provider, so several replicas running it is harmless.
type Resetter struct {
	store     Store
	logger    *slog.Logger
	loc       *time.Location
	resetAt   model.Clock
	pollEvery time.Duration
	now       func() time.Time
	lastDay   string
}

func NewResetter(store Store, logger *slog.Logger, cfg Config) *Resetter {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Resetter{
		store:     store,
		logger:    logger,
		loc:       cfg.Location,
		resetAt:   cfg.ResetAt,
		pollEvery: cfg.PollEvery,
		now:       cfg.Now,
	}
}

func (r *Resetter) Run(ctx context.Context) {
	r.Tick(ctx)

	ticker := time.NewTicker(r.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick resets counters if today's reset time has passed and this process has not reset
// today yet. Failures are retried on the next tick.
func (r *Resetter) Tick(ctx context.Context) {
	now := r.now().In(r.loc)
	day, due := r.due(now)
	if !due {
		return
	}
	n, err := r.store.ResetDailyCounters(ctx, day)
	if err != nil {
		r.logger.Error("daily counter reset failed", "day", day.Format(model.DateLayout), "err", err)
		return
	}
	r.lastDay = day.Format(model.DateLayout)
	r.logger.Info("daily counters reset", "day", r.lastDay, "providers", n)
}

func (r *Resetter) due(now time.Time) (time.Time, bool) {
	day := model.DateOf(now)
	if model.ClockOf(now) < r.resetAt {
		return day, false
	}
	return day, day.Format(model.DateLayout) != r.lastDay
}
