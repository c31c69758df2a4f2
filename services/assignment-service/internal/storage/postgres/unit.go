package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/model"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/outbox"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/storage"
)

type txUnit struct {
	tx       pgx.Tx
	provider model.Provider
	outbox   *outbox.Repository
}

func (u *txUnit) Provider() model.Provider {
	return u.provider
}

func (u *txUnit) ActiveBookings(ctx context.Context, day time.Time) ([]model.Booking, error) {
	return activeBookings(ctx, u.tx, u.provider.ID, day)
}

func (u *txUnit) CreateBooking(ctx context.Context, b model.Booking) error {
	_, err := u.tx.Exec(ctx, `
		INSERT INTO bookings (id, provider_id, order_id, service_date, start_time, end_time, time_slot, status, created_at)
		VALUES ($1::uuid, $2, $3, $4::date, $5, $6, $7, $8, $9)
	`, b.ID, u.provider.ID, b.OrderID, b.ServiceDate.Format(model.DateLayout), b.StartTime, b.EndTime,
		string(b.TimeSlot), string(b.Status), b.CreatedAt)
	return err
}

func (u *txUnit) CancelBooking(ctx context.Context, bookingID string, at time.Time) error {
	tag, err := u.tx.Exec(ctx, `
		UPDATE bookings
		SET status = 'CANCELLED', cancelled_at = $3
		WHERE id = $1::uuid AND provider_id = $2 AND status = 'SCHEDULED'
	`, bookingID, u.provider.ID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("scheduled booking %q: %w", bookingID, storage.ErrNotFound)
	}
	return nil
}

func (u *txUnit) UpdateLoad(ctx context.Context, current int, status model.AvailabilityStatus) error {
	_, err := u.tx.Exec(ctx, `
		UPDATE providers
		SET current_daily_orders = $2, availability_status = $3, updated_at = now()
		WHERE id = $1
	`, u.provider.ID, current, string(status))
	if err != nil {
		return err
	}
	u.provider.CurrentDailyOrders = current
	u.provider.AvailabilityStatus = status
	return nil
}

func (u *txUnit) Assignment(ctx context.Context, orderID string) (model.Assignment, error) {
	return getAssignment(ctx, u.tx, orderID, true)
}

func (u *txUnit) SaveAssignment(ctx context.Context, a model.Assignment) error {
	tag, err := u.tx.Exec(ctx, `
		INSERT INTO order_assignments (order_id, provider_id, provider_charge_cents, provider_status, assigned_at, booking_id, updated_at)
		VALUES ($1, $2, $3, 'assigned', $4, NULLIF($5, '')::uuid, now())
		ON CONFLICT (order_id) DO UPDATE
		SET provider_id = EXCLUDED.provider_id,
			provider_charge_cents = EXCLUDED.provider_charge_cents,
			provider_status = 'assigned',
			assigned_at = EXCLUDED.assigned_at,
			booking_id = EXCLUDED.booking_id,
			updated_at = now()
		WHERE order_assignments.provider_status <> 'assigned'
	`, a.OrderID, u.provider.ID, a.ProviderChargeCents, a.AssignedAt, a.BookingID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %q already assigned: %w", a.OrderID, storage.ErrConflict)
	}
	return nil
}

func (u *txUnit) ReleaseAssignment(ctx context.Context, orderID string) error {
	tag, err := u.tx.Exec(ctx, `
		UPDATE order_assignments
		SET provider_status = 'unassigned', updated_at = now()
		WHERE order_id = $1 AND provider_id = $2 AND provider_status = 'assigned'
	`, orderID, u.provider.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %q not assigned to %q: %w", orderID, u.provider.ID, storage.ErrConflict)
	}
	return nil
}

func (u *txUnit) Emit(ctx context.Context, evt storage.Event) error {
	return u.outbox.Insert(ctx, u.tx, outbox.Event{
		AggregateType: "provider",
		AggregateID:   evt.Key,
		EventType:     evt.Topic,
		Payload:       evt.Payload,
	})
}
