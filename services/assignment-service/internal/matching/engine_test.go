package matching

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/availability"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/model"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/storage"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/storage/memory"
)

var testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC) // Monday

func provider(id, area string, current, max int, rating float64) model.Provider {
	return model.Provider{
		ID:                        id,
		CategoryID:                "cat-ac",
		CityID:                    "1",
		AreaID:                    area,
		Capabilities:              map[string]model.Capability{"install": {Active: true}, "gas": {Active: true}},
		WorkingDays:               []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		AvgServiceDurationMinutes: 60,
		MaxDailyOrders:            max,
		CurrentDailyOrders:        current,
		AvailabilityStatus:        model.StatusAvailable,
		Rating:                    rating,
		IsActive:                  true,
		IsVerified:                true,
	}
}

func newEngine(providers ...model.Provider) (*Engine, *memory.Store) {
	s := memory.New()
	s.PutCategory(model.Category{ID: "cat-ac", Slug: "ac", IsActive: true})
	s.PutCategory(model.Category{ID: "cat-old", Slug: "retired", IsActive: false})
	for _, p := range providers {
		if p.CurrentDailyOrders >= p.MaxDailyOrders {
			p.AvailabilityStatus = model.StatusBusy
		}
		s.PutProvider(p)
	}
	eval := availability.NewEvaluator(func() time.Time { return testNow })
	return NewEngine(s, eval), s
}

func requirement(area string) model.Requirement {
	return model.Requirement{CityID: "1", AreaID: area, CategorySlug: "ac", RequiredServiceIDs: []string{"install"}}
}

func mustFind(t *testing.T, e *Engine, req model.Requirement) *model.Provider {
	t.Helper()
	p, err := e.FindProvider(context.Background(), req)
	if err != nil {
		t.Fatalf("find provider: %v", err)
	}
	return p
}

func TestFindProvider_SkipsProviderAtCapacity(t *testing.T) {
	a := provider("A", "5", 3, 3, 4.9)
	b := provider("B", "5", 1, 5, 4.0)
	e, _ := newEngine(a, b)

	got := mustFind(t, e, requirement("5"))
	if got == nil || got.ID != "B" {
		t.Fatalf("expected B, got %+v", got)
	}
}

func TestFindProvider_HigherRatingBreaksLoadTie(t *testing.T) {
	e, _ := newEngine(provider("A", "5", 2, 5, 4.8), provider("B", "5", 2, 5, 4.2))

	got := mustFind(t, e, requirement("5"))
	if got == nil || got.ID != "A" {
		t.Fatalf("expected A, got %+v", got)
	}
}

func TestFindProvider_LowerLoadBeatsRating(t *testing.T) {
	e, _ := newEngine(provider("A", "5", 2, 5, 5.0), provider("B", "5", 1, 5, 3.0))

	got := mustFind(t, e, requirement("5"))
	if got == nil || got.ID != "B" {
		t.Fatalf("expected B, got %+v", got)
	}
}

func TestFindProvider_PrefersExactAreaOverBetterCityWide(t *testing.T) {
	local := provider("local", "5", 4, 5, 3.1)
	elsewhere := provider("elsewhere", "7", 0, 5, 5.0)
	e, _ := newEngine(local, elsewhere)

	got := mustFind(t, e, requirement("5"))
	if got == nil || got.ID != "local" {
		t.Fatalf("expected exact-area provider, got %+v", got)
	}
}

func TestFindProvider_FallsBackCityWide(t *testing.T) {
	other := provider("other-area", "7", 0, 5, 4.0)
	otherCity := provider("other-city", "5", 0, 5, 5.0)
	otherCity.CityID = "2"
	e, _ := newEngine(other, otherCity)

	got := mustFind(t, e, requirement("5"))
	if got == nil || got.ID != "other-area" {
		t.Fatalf("expected city-wide fallback, got %+v", got)
	}
}

func TestFindProvider_FallsBackWhenExactAreaCannotServeTime(t *testing.T) {
	at := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
	local := provider("local", "5", 0, 5, 5.0)
	wide := provider("wide", "7", 3, 5, 3.0)
	e, s := newEngine(local, wide)
	s.PutBooking(model.Booking{
		ID: "b1", ProviderID: "local", ServiceDate: model.DateOf(at),
		StartTime: at.Add(-30 * time.Minute), EndTime: at.Add(30 * time.Minute), Status: model.BookingScheduled,
	})

	req := requirement("5")
	req.PreferredAt = &at
	got := mustFind(t, e, req)
	if got == nil || got.ID != "wide" {
		t.Fatalf("expected city-wide provider free at 10:00, got %+v", got)
	}
}

func TestFindProvider_RequiresAllServices(t *testing.T) {
	partial := provider("partial", "5", 0, 5, 5.0)
	partial.Capabilities = map[string]model.Capability{"install": {Active: true}, "gas": {Active: false}}
	full := provider("full", "5", 2, 5, 3.0)
	e, _ := newEngine(partial, full)

	req := requirement("5")
	req.RequiredServiceIDs = []string{"install", "gas"}
	got := mustFind(t, e, req)
	if got == nil || got.ID != "full" {
		t.Fatalf("expected provider with every service, got %+v", got)
	}
}

func TestFindProvider_NoneIsNotAnError(t *testing.T) {
	e, _ := newEngine(provider("A", "5", 0, 5, 4.0))

	for name, req := range map[string]model.Requirement{
		"unknown category":  {CityID: "1", AreaID: "5", CategorySlug: "plumbing"},
		"inactive category": {CityID: "1", AreaID: "5", CategorySlug: "retired"},
		"other city":        {CityID: "9", AreaID: "5", CategorySlug: "ac"},
	} {
		if got := mustFind(t, e, req); got != nil {
			t.Fatalf("%s: expected none, got %+v", name, got)
		}
	}
}

func TestEach_UnknownCategory(t *testing.T) {
	e, _ := newEngine()
	err := e.Each(context.Background(), model.Requirement{CategorySlug: "nope"}, func(context.Context, model.Provider) (bool, error) {
		t.Fatal("unexpected visit")
		return true, nil
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEach_VisitsEachProviderOnceInOrder(t *testing.T) {
	e, _ := newEngine(
		provider("a1", "5", 1, 5, 4.0),
		provider("a2", "5", 0, 5, 4.0),
		provider("c1", "7", 0, 5, 5.0),
	)

	var order []string
	err := e.Each(context.Background(), requirement("5"), func(_ context.Context, p model.Provider) (bool, error) {
		order = append(order, p.ID)
		return false, nil
	})
	if err != nil {
		t.Fatalf("each: %v", err)
	}
	want := []string{"a2", "a1", "c1"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}
