package model

import (
	"errors"
	"testing"
	"time"
)

func TestOrderRequirement_MissingArea(t *testing.T) {
	o := Order{ID: "o1", CategorySlug: "ac-install", ShippingAddress: Address{CityID: "1"}}
	if _, err := o.Requirement(time.UTC); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestOrderRequirement_DedupesServices(t *testing.T) {
	o := Order{
		ShippingAddress: Address{CityID: "1", AreaID: "5"},
		Items: []OrderItem{
			{SelectedServices: []string{"s1", "s2"}},
			{SelectedServices: []string{"s2", " ", "s3", "s1"}},
		},
	}
	req, err := o.Requirement(time.UTC)
	if err != nil {
		t.Fatalf("requirement: %v", err)
	}
	want := []string{"s1", "s2", "s3"}
	if len(req.RequiredServiceIDs) != len(want) {
		t.Fatalf("expected %v, got %v", want, req.RequiredServiceIDs)
	}
	for i := range want {
		if req.RequiredServiceIDs[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, req.RequiredServiceIDs)
		}
	}
	if req.PreferredAt != nil {
		t.Fatal("expected no preferred time")
	}
}

func TestOrderPreferredAt(t *testing.T) {
	loc := time.FixedZone("UTC+6", 6*3600)
	o := Order{PreferredServiceDate: "2026-03-03", PreferredServiceTime: "14:30"}
	at, err := o.PreferredAt(loc)
	if err != nil {
		t.Fatalf("preferred at: %v", err)
	}
	if !at.Equal(time.Date(2026, 3, 3, 14, 30, 0, 0, loc)) {
		t.Fatalf("unexpected time %s", at)
	}

	for _, bad := range []Order{
		{PreferredServiceDate: "2026-03-03"},
		{PreferredServiceTime: "14:30"},
		{PreferredServiceDate: "03/03/2026", PreferredServiceTime: "14:30"},
		{PreferredServiceDate: "2026-03-03", PreferredServiceTime: "2pm"},
	} {
		if _, err := bad.PreferredAt(loc); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected invalid input for %+v, got %v", bad, err)
		}
	}
}

func TestProviderHoursFor_Defaults(t *testing.T) {
	p := Provider{WorkingHours: map[time.Weekday]DaySchedule{
		time.Monday:  {Available: true, Start: 8 * 60, End: 12 * 60},
		time.Tuesday: {Available: false, Start: 8 * 60, End: 12 * 60},
	}}
	if got := p.HoursFor(time.Monday); got.Start != 8*60 || got.End != 12*60 {
		t.Fatalf("unexpected monday hours %+v", got)
	}
	if got := p.HoursFor(time.Tuesday); got != DefaultHours {
		t.Fatalf("expected default for unavailable entry, got %+v", got)
	}
	if got := p.HoursFor(time.Sunday); got != DefaultHours {
		t.Fatalf("expected default for missing entry, got %+v", got)
	}
	if !p.MarkedUnavailable(time.Tuesday) || p.MarkedUnavailable(time.Sunday) {
		t.Fatal("unexpected MarkedUnavailable result")
	}
}

func TestProviderCovers(t *testing.T) {
	p := Provider{Capabilities: map[string]Capability{
		"s1": {Active: true},
		"s2": {Active: false},
	}}
	if !p.Covers(nil) || !p.Covers([]string{"s1"}) {
		t.Fatal("expected coverage")
	}
	if p.Covers([]string{"s1", "s2"}) || p.Covers([]string{"s3"}) {
		t.Fatal("inactive or missing capability must not cover")
	}
}

func TestProviderLoadAfter(t *testing.T) {
	p := Provider{MaxDailyOrders: 2, CurrentDailyOrders: 1, AvailabilityStatus: StatusAvailable}
	cur, st, clamped := p.LoadAfter(1)
	if cur != 2 || st != StatusBusy || clamped {
		t.Fatalf("increment to cap: got %d %s %v", cur, st, clamped)
	}

	p = Provider{MaxDailyOrders: 2, CurrentDailyOrders: 2, AvailabilityStatus: StatusBusy}
	cur, st, _ = p.LoadAfter(-1)
	if cur != 1 || st != StatusAvailable {
		t.Fatalf("decrement under cap: got %d %s", cur, st)
	}

	p = Provider{MaxDailyOrders: 2, CurrentDailyOrders: 0, AvailabilityStatus: StatusOffline}
	cur, st, clamped = p.LoadAfter(-1)
	if cur != 0 || st != StatusOffline || !clamped {
		t.Fatalf("decrement below zero: got %d %s %v", cur, st, clamped)
	}
}

func TestSlotFor(t *testing.T) {
	cases := map[int]TimeSlot{7: SlotEvening, 8: SlotMorning, 11: SlotMorning, 12: SlotAfternoon, 16: SlotAfternoon, 17: SlotEvening}
	for hour, want := range cases {
		if got := SlotFor(hour); got != want {
			t.Fatalf("hour %d: expected %s, got %s", hour, want, got)
		}
	}
}

func TestClock(t *testing.T) {
	c, err := ParseClock("09:30")
	if err != nil || c != 9*60+30 || c.String() != "09:30" {
		t.Fatalf("unexpected clock %v %v", c, err)
	}
	if _, err := ParseClock("25:00"); err == nil {
		t.Fatal("expected error")
	}
}
