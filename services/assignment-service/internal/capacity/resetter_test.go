package capacity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeStore struct {
	days []string
	err  error
}

func (f *fakeStore) ResetDailyCounters(_ context.Context, day time.Time) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.days = append(f.days, day.Format("2006-01-02"))
	return 3, nil
}

func TestResetter_OncePerDayAfterResetTime(t *testing.T) {
	loc := time.FixedZone("UTC+6", 6*3600)
	now := time.Date(2026, 3, 2, 1, 30, 0, 0, loc)
	store := &fakeStore{}
	r := NewResetter(store, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Location: loc,
		ResetAt:  2 * 60,
		Now:      func() time.Time { return now },
	})
	ctx := context.Background()

	r.Tick(ctx)
	if len(store.days) != 0 {
		t.Fatalf("expected no reset before 02:00, got %v", store.days)
	}

	now = now.Add(45 * time.Minute)
	r.Tick(ctx)
	r.Tick(ctx)
	if len(store.days) != 1 || store.days[0] != "2026-03-02" {
		t.Fatalf("expected one reset for 2026-03-02, got %v", store.days)
	}

	now = now.Add(24 * time.Hour)
	r.Tick(ctx)
	if len(store.days) != 2 || store.days[1] != "2026-03-03" {
		t.Fatalf("expected reset for the next day, got %v", store.days)
	}
}

func TestResetter_RetriesAfterFailure(t *testing.T) {
	now := time.Date(2026, 3, 2, 0, 5, 0, 0, time.UTC)
	store := &fakeStore{err: errors.New("db down")}
	r := NewResetter(store, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Now: func() time.Time { return now }})

	r.Tick(context.Background())
	store.err = nil
	r.Tick(context.Background())
	if len(store.days) != 1 {
		t.Fatalf("expected retry to reset, got %v", store.days)
	}
}

func TestResetter_UsesLocalDate(t *testing.T) {
	// 20:00 UTC on the 2nd is already the 3rd in UTC+6.
	now := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	r := NewResetter(store, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Location: time.FixedZone("UTC+6", 6*3600),
		Now:      func() time.Time { return now },
	})
	r.Tick(context.Background())
	if len(store.days) != 1 || store.days[0] != "2026-03-03" {
		t.Fatalf("expected local date, got %v", store.days)
	}
}
