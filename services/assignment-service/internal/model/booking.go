package model

import "time"

type BookingStatus string

const (
	BookingScheduled  BookingStatus = "SCHEDULED"
	BookingInProgress BookingStatus = "IN_PROGRESS"
	BookingCompleted  BookingStatus = "COMPLETED"
	BookingCancelled  BookingStatus = "CANCELLED"
)

type TimeSlot string

const (
	SlotMorning   TimeSlot = "MORNING"
	SlotAfternoon TimeSlot = "AFTERNOON"
	SlotEvening   TimeSlot = "EVENING"
)

// SlotFor labels a start hour: [8,12) morning, [12,17) afternoon, anything else evening.
func SlotFor(hour int) TimeSlot {
	switch {
	case hour >= 8 && hour < 12:
		return SlotMorning
	case hour >= 12 && hour < 17:
		return SlotAfternoon
	default:
		return SlotEvening
	}
}

type Booking struct {
	ID          string
	ProviderID  string
	OrderID     string
	ServiceDate time.Time
	StartTime   time.Time
	EndTime     time.Time
	TimeSlot    TimeSlot
	Status      BookingStatus
	CreatedAt   time.Time
	CancelledAt *time.Time
}

// Blocks reports whether the booking still occupies its interval.
func (b Booking) Blocks() bool {
	return b.Status != BookingCancelled
}

// Overlaps is the half-open interval test on [aStart,aEnd) and [bStart,bEnd).
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// Conflicting returns the first blocking booking on start's date that overlaps [start,end).
func Conflicting(bookings []Booking, start, end time.Time) (Booking, bool) {
	for _, b := range bookings {
		if !b.Blocks() || !SameDate(b.ServiceDate, start) {
			continue
		}
		if Overlaps(start, end, b.StartTime, b.EndTime) {
			return b, true
		}
	}
	return Booking{}, false
}
