package assignment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/availability"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/matching"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/model"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/storage"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/storage/memory"
)

var testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC) // Monday

func testProvider(id, area string, current, max int, rating float64) model.Provider {
	return model.Provider{
		ID:                        id,
		CategoryID:                "cat-ac",
		CityID:                    "1",
		AreaID:                    area,
		Capabilities:              map[string]model.Capability{"install": {Active: true}},
		WorkingDays:               []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		AvgServiceDurationMinutes: 90,
		MaxDailyOrders:            max,
		CurrentDailyOrders:        current,
		AvailabilityStatus:        model.StatusAvailable,
		Rating:                    rating,
		IsActive:                  true,
		IsVerified:                true,
		ServiceChargeCents:        2500,
	}
}

func testOrder(id string) model.Order {
	return model.Order{
		ID:              id,
		CategorySlug:    "ac",
		ShippingAddress: model.Address{CityID: "1", AreaID: "5"},
		Items:           []model.OrderItem{{SelectedServices: []string{"install"}}},
	}
}

func newCoordinator(t *testing.T, providers ...model.Provider) (*Coordinator, *memory.Store) {
	t.Helper()
	s := memory.New()
	s.PutCategory(model.Category{ID: "cat-ac", Slug: "ac", IsActive: true})
	for _, p := range providers {
		s.PutProvider(p)
	}
	now := func() time.Time { return testNow }
	engine := matching.NewEngine(s, availability.NewEvaluator(now))
	var seq int
	var mu sync.Mutex
	c := NewCoordinator(s, engine, slog.New(slog.NewTextHandler(io.Discard, nil)), Options{
		Location: time.UTC,
		Now:      now,
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("id-%d", seq)
		},
	})
	return c, s
}

func mustProvider(t *testing.T, s *memory.Store, id string) model.Provider {
	t.Helper()
	p, err := s.Provider(context.Background(), id)
	if err != nil {
		t.Fatalf("provider %s: %v", id, err)
	}
	return p
}

func scheduledFor(s *memory.Store, orderID string, providerIDs ...string) []model.Booking {
	var out []model.Booking
	for _, id := range providerIDs {
		for _, b := range s.Bookings(id) {
			if b.OrderID == orderID && b.Status == model.BookingScheduled {
				out = append(out, b)
			}
		}
	}
	return out
}

func TestAutoAssign_WithPreferredTimeBooksSlot(t *testing.T) {
	c, s := newCoordinator(t, testProvider("p1", "5", 0, 3, 4.5))
	order := testOrder("o1")
	order.PreferredServiceDate, order.PreferredServiceTime = "2026-03-03", "13:00"

	res, err := c.AutoAssign(context.Background(), order)
	if err != nil {
		t.Fatalf("auto assign: %v", err)
	}
	if res.Reason != ReasonAssigned || res.ProviderID != "p1" || res.Booking == nil {
		t.Fatalf("unexpected result %+v", res)
	}
	b := *res.Booking
	if !b.EndTime.Equal(b.StartTime.Add(90*time.Minute)) || b.TimeSlot != model.SlotAfternoon || b.Status != model.BookingScheduled {
		t.Fatalf("unexpected booking %+v", b)
	}

	a, err := s.Assignment(context.Background(), "o1")
	if err != nil {
		t.Fatalf("assignment: %v", err)
	}
	if a.ProviderID != "p1" || a.ProviderChargeCents != 2500 || !a.Active() || !a.AssignedAt.Equal(testNow) || a.BookingID != b.ID {
		t.Fatalf("unexpected assignment %+v", a)
	}
	if got := mustProvider(t, s, "p1").CurrentDailyOrders; got != 1 {
		t.Fatalf("expected counter 1, got %d", got)
	}

	events := s.Events()
	if len(events) != 1 || events[0].Topic != TopicProviderAssigned || events[0].Key != "p1" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestAssign_FlipsToBusyAtCapacity(t *testing.T) {
	c, s := newCoordinator(t, testProvider("p1", "5", 1, 2, 4.5))

	res, err := c.Assign(context.Background(), testOrder("o1"), "p1", nil)
	if err != nil || res.Reason != ReasonAssigned {
		t.Fatalf("assign: %+v %v", res, err)
	}
	if res.Booking != nil || res.BookingID != "" {
		t.Fatal("expected no booking without a time")
	}
	p := mustProvider(t, s, "p1")
	if p.CurrentDailyOrders != 2 || p.AvailabilityStatus != model.StatusBusy {
		t.Fatalf("expected BUSY at 2/2, got %d %s", p.CurrentDailyOrders, p.AvailabilityStatus)
	}

	res, err = c.Assign(context.Background(), testOrder("o2"), "p1", nil)
	if err != nil || res.Reason != ReasonConflict || res.Assigned() {
		t.Fatalf("expected conflict on a full provider, got %+v %v", res, err)
	}
	if got := mustProvider(t, s, "p1").CurrentDailyOrders; got != 2 {
		t.Fatalf("counter must not exceed cap, got %d", got)
	}
}

func TestAssign_OutcomesAreNotErrors(t *testing.T) {
	c, _ := newCoordinator(t, testProvider("p1", "5", 0, 2, 4.5))
	ctx := context.Background()

	res, err := c.Assign(ctx, testOrder("o1"), "missing", nil)
	if err != nil || res.Reason != ReasonNotFound {
		t.Fatalf("expected not_found, got %+v %v", res, err)
	}
	res, err = c.Assign(ctx, model.Order{}, "p1", nil)
	if err != nil || res.Reason != ReasonInvalidInput {
		t.Fatalf("expected invalid_input, got %+v %v", res, err)
	}
}

func TestAssign_OverlappingTimeConflicts(t *testing.T) {
	c, s := newCoordinator(t, testProvider("p1", "5", 0, 5, 4.5))
	ctx := context.Background()
	at := time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)

	if res, err := c.Assign(ctx, testOrder("o1"), "p1", &at); err != nil || res.Reason != ReasonAssigned {
		t.Fatalf("first assign: %+v %v", res, err)
	}
	later := at.Add(time.Hour)
	res, err := c.Assign(ctx, testOrder("o2"), "p1", &later)
	if err != nil || res.Reason != ReasonConflict {
		t.Fatalf("expected overlap conflict, got %+v %v", res, err)
	}
	if got := mustProvider(t, s, "p1").CurrentDailyOrders; got != 1 {
		t.Fatalf("expected counter untouched by failed assign, got %d", got)
	}
}

func TestAssign_IdempotentForSameProvider(t *testing.T) {
	c, s := newCoordinator(t, testProvider("p1", "5", 0, 5, 4.5), testProvider("p2", "5", 0, 5, 4.0))
	ctx := context.Background()

	first, _ := c.Assign(ctx, testOrder("o1"), "p1", nil)
	again, err := c.Assign(ctx, testOrder("o1"), "p1", nil)
	if err != nil || again.Reason != ReasonAlreadyAssigned || again.ProviderID != first.ProviderID {
		t.Fatalf("expected already_assigned, got %+v %v", again, err)
	}
	other, err := c.Assign(ctx, testOrder("o1"), "p2", nil)
	if err != nil || other.Reason != ReasonAlreadyAssigned || other.ProviderID != "p1" {
		t.Fatalf("expected existing provider reported, got %+v %v", other, err)
	}
	if got := mustProvider(t, s, "p1").CurrentDailyOrders; got != 1 {
		t.Fatalf("expected a single increment, got %d", got)
	}
	if got := mustProvider(t, s, "p2").CurrentDailyOrders; got != 0 {
		t.Fatalf("expected p2 untouched, got %d", got)
	}
}

func TestAutoAssign_MissingAreaIsNoAssignment(t *testing.T) {
	c, s := newCoordinator(t, testProvider("p1", "5", 0, 5, 4.5))
	order := testOrder("o1")
	order.ShippingAddress.AreaID = ""

	res, err := c.AutoAssign(context.Background(), order)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Assigned() || res.Reason != ReasonInvalidInput {
		t.Fatalf("expected no assignment, got %+v", res)
	}
	if got := mustProvider(t, s, "p1").CurrentDailyOrders; got != 0 {
		t.Fatalf("expected no writes, got counter %d", got)
	}
}

func TestAutoAssign_UnknownCategoryAndNoProvider(t *testing.T) {
	c, _ := newCoordinator(t, testProvider("p1", "5", 0, 5, 4.5))
	ctx := context.Background()

	order := testOrder("o1")
	order.CategorySlug = "plumbing"
	if res, err := c.AutoAssign(ctx, order); err != nil || res.Reason != ReasonNotFound {
		t.Fatalf("expected not_found, got %+v %v", res, err)
	}

	order = testOrder("o2")
	order.ShippingAddress.CityID = "9"
	if res, err := c.AutoAssign(ctx, order); err != nil || res.Reason != ReasonNoEligibleProvider {
		t.Fatalf("expected no_eligible_provider, got %+v %v", res, err)
	}
}

// vanishingStore reports one provider as gone once a unit is opened for it, as if it
// were deleted between the candidate search and the write.
type vanishingStore struct {
	*memory.Store
	gone string
}

func (s vanishingStore) WithinProvider(ctx context.Context, providerID string, fn func(context.Context, storage.Unit) error) error {
	if providerID == s.gone {
		return fmt.Errorf("provider %q: %w", providerID, storage.ErrNotFound)
	}
	return s.Store.WithinProvider(ctx, providerID, fn)
}

func TestAutoAssign_VanishedCandidateIsNotAConflict(t *testing.T) {
	s := memory.New()
	s.PutCategory(model.Category{ID: "cat-ac", Slug: "ac", IsActive: true})
	s.PutProvider(testProvider("p1", "5", 0, 5, 4.5))
	now := func() time.Time { return testNow }
	engine := matching.NewEngine(s, availability.NewEvaluator(now))
	c := NewCoordinator(vanishingStore{Store: s, gone: "p1"}, engine, slog.New(slog.NewTextHandler(io.Discard, nil)), Options{
		Location: time.UTC,
		Now:      now,
	})

	res, err := c.AutoAssign(context.Background(), testOrder("o1"))
	if err != nil {
		t.Fatalf("AutoAssign: %v", err)
	}
	if res.Reason != ReasonNoEligibleProvider {
		t.Fatalf("expected no_eligible_provider, got %s", res.Reason)
	}
}

func TestAutoAssign_ConcurrentRequestsForLastSlot(t *testing.T) {
	c, s := newCoordinator(t, testProvider("only", "5", 2, 3, 4.5))

	const callers = 8
	results := make([]Result, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			order := testOrder(fmt.Sprintf("o%d", i))
			order.PreferredServiceDate, order.PreferredServiceTime = "2026-03-04", "10:00"
			results[i], errs[i] = c.AutoAssign(context.Background(), order)
		}(i)
	}
	close(start)
	wg.Wait()

	assigned := 0
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].Assigned() {
			assigned++
			if results[i].Booking == nil {
				t.Fatalf("caller %d assigned without booking", i)
			}
		}
	}
	if assigned != 1 {
		t.Fatalf("expected exactly one assignment, got %d", assigned)
	}

	p := mustProvider(t, s, "only")
	if p.CurrentDailyOrders != 3 || p.AvailabilityStatus != model.StatusBusy {
		t.Fatalf("expected 3/3 BUSY, got %d %s", p.CurrentDailyOrders, p.AvailabilityStatus)
	}
	active := 0
	for _, b := range s.Bookings("only") {
		if b.Blocks() {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("expected one active booking, got %d", active)
	}
}

func TestAutoAssign_ConcurrentFallsThroughToNextCandidate(t *testing.T) {
	c, s := newCoordinator(t,
		testProvider("first", "5", 0, 5, 5.0),
		testProvider("second", "5", 0, 5, 4.0),
	)

	const callers = 6
	var wg sync.WaitGroup
	results := make([]Result, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			order := testOrder(fmt.Sprintf("o%d", i))
			order.PreferredServiceDate, order.PreferredServiceTime = "2026-03-04", "10:00"
			res, err := c.AutoAssign(context.Background(), order)
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	byProvider := map[string]int{}
	for _, r := range results {
		if r.Assigned() {
			byProvider[r.ProviderID]++
		}
	}
	if byProvider["first"] != 1 || byProvider["second"] != 1 {
		t.Fatalf("expected one booking per provider at 10:00, got %v", byProvider)
	}
	for _, id := range []string{"first", "second"} {
		bookings, _ := s.ActiveBookings(context.Background(), id, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC))
		for i := range bookings {
			for j := i + 1; j < len(bookings); j++ {
				if model.Overlaps(bookings[i].StartTime, bookings[i].EndTime, bookings[j].StartTime, bookings[j].EndTime) {
					t.Fatalf("overlapping bookings for %s: %+v %+v", id, bookings[i], bookings[j])
				}
			}
		}
	}
}

func TestReassign_ReleasesPriorProviderOnce(t *testing.T) {
	c, s := newCoordinator(t,
		testProvider("p1", "5", 0, 1, 5.0),
		testProvider("p2", "5", 0, 3, 4.0),
	)
	ctx := context.Background()
	order := testOrder("o1")
	order.PreferredServiceDate, order.PreferredServiceTime = "2026-03-03", "09:00"

	first, err := c.AutoAssign(ctx, order)
	if err != nil || first.ProviderID != "p1" {
		t.Fatalf("expected p1, got %+v %v", first, err)
	}
	if p := mustProvider(t, s, "p1"); p.AvailabilityStatus != model.StatusBusy {
		t.Fatalf("expected p1 BUSY at cap, got %s", p.AvailabilityStatus)
	}

	// Take p1 out of rotation so the reassignment has to move.
	p1 := mustProvider(t, s, "p1")
	p1.IsActive = false
	s.PutProvider(p1)

	second, err := c.Reassign(ctx, order, nil)
	if err != nil || second.ProviderID != "p2" {
		t.Fatalf("expected p2, got %+v %v", second, err)
	}

	p1 = mustProvider(t, s, "p1")
	if p1.CurrentDailyOrders != 0 || p1.AvailabilityStatus != model.StatusAvailable {
		t.Fatalf("expected p1 released to 0 and AVAILABLE, got %d %s", p1.CurrentDailyOrders, p1.AvailabilityStatus)
	}
	if got := scheduledFor(s, "o1", "p1", "p2"); len(got) != 1 || got[0].ProviderID != "p2" {
		t.Fatalf("expected exactly one scheduled booking on p2, got %+v", got)
	}
	for _, b := range s.Bookings("p1") {
		if b.ID == first.BookingID && (b.Status != model.BookingCancelled || b.CancelledAt == nil) {
			t.Fatalf("expected prior booking cancelled, got %+v", b)
		}
	}

	var topics []string
	for _, e := range s.Events() {
		topics = append(topics, e.Topic)
	}
	want := []string{TopicProviderAssigned, TopicProviderReleased, TopicProviderAssigned}
	if fmt.Sprint(topics) != fmt.Sprint(want) {
		t.Fatalf("expected events %v, got %v", want, topics)
	}
}

func TestReassign_ToNamedProvider(t *testing.T) {
	c, s := newCoordinator(t, testProvider("p1", "5", 0, 3, 5.0), testProvider("p2", "7", 0, 3, 4.0))
	ctx := context.Background()

	if _, err := c.Assign(ctx, testOrder("o1"), "p1", nil); err != nil {
		t.Fatalf("assign: %v", err)
	}
	target := "p2"
	res, err := c.Reassign(ctx, testOrder("o1"), &target)
	if err != nil || res.Reason != ReasonAssigned || res.ProviderID != "p2" {
		t.Fatalf("expected p2, got %+v %v", res, err)
	}
	if got := mustProvider(t, s, "p1").CurrentDailyOrders; got != 0 {
		t.Fatalf("expected p1 decremented, got %d", got)
	}
}

func TestReassign_ConcurrentReleaseDecrementsOnce(t *testing.T) {
	c, s := newCoordinator(t, testProvider("p1", "5", 1, 5, 5.0))
	ctx := context.Background()
	if _, err := c.Assign(ctx, testOrder("o1"), "p1", nil); err != nil {
		t.Fatalf("assign: %v", err)
	}

	// Two racing releases of the same order.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.release(ctx, "o1"); err != nil {
				t.Errorf("release: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := mustProvider(t, s, "p1").CurrentDailyOrders; got != 1 {
		t.Fatalf("expected a single decrement from 2 to 1, got %d", got)
	}
}

func TestRelease_ClampsCounterAtZero(t *testing.T) {
	c, s := newCoordinator(t, testProvider("p1", "5", 0, 5, 5.0))
	s.PutAssignment(model.Assignment{OrderID: "o1", ProviderID: "p1", ProviderStatus: model.ProviderAssigned})

	if err := c.release(context.Background(), "o1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := mustProvider(t, s, "p1").CurrentDailyOrders; got != 0 {
		t.Fatalf("expected counter clamped at 0, got %d", got)
	}
	a, _ := s.Assignment(context.Background(), "o1")
	if a.Active() {
		t.Fatal("expected assignment released")
	}
}

func TestReassign_InvalidTimeKeepsAssignment(t *testing.T) {
	c, s := newCoordinator(t, testProvider("p1", "5", 0, 5, 5.0))
	ctx := context.Background()
	if _, err := c.Assign(ctx, testOrder("o1"), "p1", nil); err != nil {
		t.Fatalf("assign: %v", err)
	}
	order := testOrder("o1")
	order.PreferredServiceDate = "tomorrow"
	order.PreferredServiceTime = "10:00"

	res, err := c.Reassign(ctx, order, nil)
	if err != nil || res.Reason != ReasonInvalidInput {
		t.Fatalf("expected invalid_input, got %+v %v", res, err)
	}
	if a, _ := s.Assignment(ctx, "o1"); !a.Active() {
		t.Fatal("expected assignment kept")
	}
}

var _ storage.Store = (*memory.Store)(nil)
