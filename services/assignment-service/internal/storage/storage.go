package storage

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means a write lost a race: capacity, slot or order already taken.
	ErrConflict = errors.New("conflict")
)

// ProviderQuery selects assignable providers of a category. An empty AreaID widens the
// search to the whole city.
type ProviderQuery struct {
	CategoryID string
	CityID     string
	AreaID     string
}

// Event is a domain event written atomically with the state change that caused it.
type Event struct {
	Topic   string
	Key     string
	Payload []byte
}

// Directory is the read side. Results are snapshots and may be stale by the time they are used.
type Directory interface {
	// ActiveCategory returns the active category with slug, or ErrNotFound.
	ActiveCategory(ctx context.Context, slug string) (model.Category, error)
	// SearchProviders returns active, verified, AVAILABLE, under-cap providers matching q.
	SearchProviders(ctx context.Context, q ProviderQuery) ([]model.Provider, error)
	Provider(ctx context.Context, id string) (model.Provider, error)
	// ActiveBookings returns the non-cancelled bookings of a provider on day's date.
	ActiveBookings(ctx context.Context, providerID string, day time.Time) ([]model.Booking, error)
	Assignment(ctx context.Context, orderID string) (model.Assignment, error)
}

// Unit is a serializable view of one provider. Reads see the unit's own writes; writes
// become visible to others only if the enclosing function returns nil.
type Unit interface {
	Provider() model.Provider
	ActiveBookings(ctx context.Context, day time.Time) ([]model.Booking, error)
	CreateBooking(ctx context.Context, b model.Booking) error
	// CancelBooking cancels a SCHEDULED booking of this provider, or returns ErrNotFound.
	CancelBooking(ctx context.Context, bookingID string, at time.Time) error
	UpdateLoad(ctx context.Context, current int, status model.AvailabilityStatus) error
	Assignment(ctx context.Context, orderID string) (model.Assignment, error)
	// SaveAssignment records an active assignment to this provider. It returns ErrConflict
	// when the order is already actively assigned.
	SaveAssignment(ctx context.Context, a model.Assignment) error
	// ReleaseAssignment marks the order unassigned if it is actively assigned to this provider.
	ReleaseAssignment(ctx context.Context, orderID string) error
	Emit(ctx context.Context, evt Event) error
}

type Store interface {
	Directory
	// WithinProvider runs fn with exclusive access to the provider's counters and bookings.
	// A missing provider is ErrNotFound.
	WithinProvider(ctx context.Context, providerID string, fn func(context.Context, Unit) error) error
	// ResetDailyCounters zeroes every provider not yet reset for day and lifts BUSY to
	// AVAILABLE. It returns the number of providers touched.
	ResetDailyCounters(ctx context.Context, day time.Time) (int, error)
}
