package model

import "time"

type AvailabilityStatus string

const (
	StatusAvailable AvailabilityStatus = "AVAILABLE"
	StatusBusy      AvailabilityStatus = "BUSY"
	StatusOffline   AvailabilityStatus = "OFFLINE"
)

const DefaultServiceMinutes = 60

// DefaultHours applies to any weekday without an available working-hours entry.
var DefaultHours = DaySchedule{Available: true, Start: 9 * 60, End: 18 * 60}

type DaySchedule struct {
	Available bool
	Start     Clock
	End       Clock
}

type Capability struct {
	Active           bool
	CustomPriceCents *int64
}

type Provider struct {
	ID         string
	CategoryID string
	CityID     string
	AreaID     string

	Capabilities map[string]Capability
	WorkingDays  []time.Weekday
	WorkingHours map[time.Weekday]DaySchedule

	AvgServiceDurationMinutes int
	MinAdvanceBookingHours    int
	MaxDailyOrders            int
	CurrentDailyOrders        int
	AvailabilityStatus        AvailabilityStatus

	Rating             float64
	IsActive           bool
	IsVerified         bool
	ServiceChargeCents int64
}

func (p Provider) ServiceDuration() time.Duration {
	if p.AvgServiceDurationMinutes <= 0 {
		return DefaultServiceMinutes * time.Minute
	}
	return time.Duration(p.AvgServiceDurationMinutes) * time.Minute
}

func (p Provider) WorksOn(wd time.Weekday) bool {
	for _, d := range p.WorkingDays {
		if d == wd {
			return true
		}
	}
	return false
}

// HoursFor returns the weekday's entry when it exists and is available, DefaultHours otherwise.
func (p Provider) HoursFor(wd time.Weekday) DaySchedule {
	if h, ok := p.WorkingHours[wd]; ok && h.Available {
		return h
	}
	return DefaultHours
}

// MarkedUnavailable reports an explicit working-hours entry with Available unset.
func (p Provider) MarkedUnavailable(wd time.Weekday) bool {
	h, ok := p.WorkingHours[wd]
	return ok && !h.Available
}

func (p Provider) UnderCap() bool {
	return p.CurrentDailyOrders < p.MaxDailyOrders
}

// Assignable is the status and capacity gate shared by matching and the write path.
func (p Provider) Assignable() bool {
	return p.IsActive && p.IsVerified && p.AvailabilityStatus == StatusAvailable && p.UnderCap()
}

// Covers reports whether every required service is an active capability.
func (p Provider) Covers(required []string) bool {
	matched := 0
	for _, id := range required {
		if c, ok := p.Capabilities[id]; ok && c.Active {
			matched++
		}
	}
	return matched == len(required)
}

// LoadAfter returns the counter and status that follow moving the counter by delta.
// The counter is clamped to [0, MaxDailyOrders]; clamped reports whether that happened.
func (p Provider) LoadAfter(delta int) (current int, status AvailabilityStatus, clamped bool) {
	current = p.CurrentDailyOrders + delta
	if current < 0 {
		current, clamped = 0, true
	}
	if current > p.MaxDailyOrders {
		current, clamped = p.MaxDailyOrders, true
	}

	status = p.AvailabilityStatus
	switch {
	case delta > 0 && current >= p.MaxDailyOrders:
		status = StatusBusy
	case delta < 0 && status == StatusBusy && current < p.MaxDailyOrders:
		status = StatusAvailable
	}
	return current, status, clamped
}
