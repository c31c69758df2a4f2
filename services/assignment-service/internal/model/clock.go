package model

import (
	"fmt"
	"time"
)

// Clock is a wall-clock time of day in minutes since midnight.
type Clock int

const DateLayout = "2006-01-02"

func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return Clock(t.Hour()*60 + t.Minute()), nil
}

func ClockOf(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// On returns the instant c on the calendar date of day, in day's location.
func (c Clock) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, int(c)/60, int(c)%60, 0, 0, day.Location())
}

// DateOf truncates t to midnight of its calendar date in t's location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameDate compares calendar dates by their printed form, so a date read back from a
// database as UTC midnight still matches a local timestamp on that date.
func SameDate(a, b time.Time) bool {
	return a.Format(DateLayout) == b.Format(DateLayout)
}
