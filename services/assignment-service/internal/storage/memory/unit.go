package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/model"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/storage"
)

type unit struct {
	store    *Store
	provider model.Provider
	bookings []model.Booking
	orders   map[string]model.Assignment
	events   []storage.Event
}

func (u *unit) Provider() model.Provider {
	return cloneProvider(u.provider)
}

func (u *unit) ActiveBookings(_ context.Context, day time.Time) ([]model.Booking, error) {
	return activeOn(u.bookings, day), nil
}

// CreateBooking enforces what the database enforces with constraints: active bookings of
// one provider never overlap.
func (u *unit) CreateBooking(_ context.Context, b model.Booking) error {
	if b.ProviderID != u.provider.ID {
		return fmt.Errorf("booking for %q in unit of %q", b.ProviderID, u.provider.ID)
	}
	if other, ok := model.Conflicting(u.bookings, b.StartTime, b.EndTime); ok && b.Blocks() {
		return fmt.Errorf("booking overlaps %s: %w", other.ID, storage.ErrConflict)
	}
	u.bookings = append(u.bookings, b)
	return nil
}

func (u *unit) CancelBooking(_ context.Context, bookingID string, at time.Time) error {
	for i := range u.bookings {
		if u.bookings[i].ID == bookingID && u.bookings[i].Status == model.BookingScheduled {
			cancelledAt := at
			u.bookings[i].Status = model.BookingCancelled
			u.bookings[i].CancelledAt = &cancelledAt
			return nil
		}
	}
	return fmt.Errorf("scheduled booking %q: %w", bookingID, storage.ErrNotFound)
}

func (u *unit) UpdateLoad(_ context.Context, current int, status model.AvailabilityStatus) error {
	if current < 0 || current > u.provider.MaxDailyOrders {
		return fmt.Errorf("load %d outside [0,%d]: %w", current, u.provider.MaxDailyOrders, storage.ErrConflict)
	}
	u.provider.CurrentDailyOrders = current
	u.provider.AvailabilityStatus = status
	return nil
}

func (u *unit) Assignment(ctx context.Context, orderID string) (model.Assignment, error) {
	if a, ok := u.orders[orderID]; ok {
		return a, nil
	}
	return u.store.Assignment(ctx, orderID)
}

func (u *unit) SaveAssignment(ctx context.Context, a model.Assignment) error {
	if current, err := u.Assignment(ctx, a.OrderID); err == nil && current.Active() {
		return fmt.Errorf("order %q already assigned to %q: %w", a.OrderID, current.ProviderID, storage.ErrConflict)
	}
	a.ProviderID = u.provider.ID
	a.ProviderStatus = model.ProviderAssigned
	u.orders[a.OrderID] = a
	return nil
}

func (u *unit) ReleaseAssignment(ctx context.Context, orderID string) error {
	current, err := u.Assignment(ctx, orderID)
	if err != nil {
		return err
	}
	if !current.Active() || current.ProviderID != u.provider.ID {
		return fmt.Errorf("order %q not assigned to %q: %w", orderID, u.provider.ID, storage.ErrConflict)
	}
	current.ProviderStatus = model.ProviderUnassigned
	u.orders[orderID] = current
	return nil
}

func (u *unit) Emit(_ context.Context, evt storage.Event) error {
	u.events = append(u.events, evt)
	return nil
}
