package availability

import (
	"time"

	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/model"
)

// Evaluator answers whether a provider can take a job at a given instant. It never errors;
// every failed check is simply false.
type Evaluator struct {
	Now func() time.Time
}

func NewEvaluator(now func() time.Time) *Evaluator {
	if now == nil {
		now = time.Now
	}
	return &Evaluator{Now: now}
}

// CanServe checks status and capacity, working day, advance notice, working hours and
// booking overlap, in that order. bookings are the provider's bookings for at's date;
// cancelled ones are ignored. at is interpreted in its own location.
func (e *Evaluator) CanServe(p model.Provider, at time.Time, bookings []model.Booking) bool {
	if !p.Assignable() {
		return false
	}
	if !p.WorksOn(at.Weekday()) {
		return false
	}

	notice := time.Duration(p.MinAdvanceBookingHours) * time.Hour
	if lead := at.Sub(e.Now()); lead < 0 || lead < notice {
		return false
	}

	hours := p.HoursFor(at.Weekday())
	if at.Before(hours.Start.On(at)) || at.After(hours.End.On(at)) {
		return false
	}

	own := bookings[:0:0]
	for _, b := range bookings {
		if b.ProviderID == "" || b.ProviderID == p.ID {
			own = append(own, b)
		}
	}
	_, conflict := model.Conflicting(own, at, at.Add(p.ServiceDuration()))
	return !conflict
}
