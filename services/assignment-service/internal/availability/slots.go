package availability

import (
	"time"

	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/model"
)

type Slot struct {
	Start time.Time
	End   time.Time
	Label model.TimeSlot
}

// Planner lists bookable windows. Step is the distance between candidate starts; zero
// means back-to-back windows of the provider's service duration.
type Planner struct {
	Step time.Duration
}

// GenerateSlots returns the open windows of p on day's date, ordered by start. day's
// location decides the wall clock. Output depends only on the arguments.
func (pl Planner) GenerateSlots(p model.Provider, day time.Time, bookings []model.Booking) []Slot {
	wd := day.Weekday()
	if !p.WorksOn(wd) || p.MarkedUnavailable(wd) {
		return nil
	}

	hours := p.HoursFor(wd)
	dayStart, dayEnd := hours.Start.On(day), hours.End.On(day)
	size := p.ServiceDuration()
	step := pl.Step
	if step <= 0 {
		step = size
	}

	var slots []Slot
	for start := dayStart; !start.Add(size).After(dayEnd); start = start.Add(step) {
		end := start.Add(size)
		if _, taken := model.Conflicting(bookings, start, end); taken {
			continue
		}
		slots = append(slots, Slot{Start: start, End: end, Label: model.SlotFor(start.Hour())})
	}
	return slots
}
