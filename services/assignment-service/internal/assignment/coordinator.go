package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	otelx "github.com/md-rashed-zaman/fieldassign/libs/otel"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/matching"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/model"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Options struct {
	Location *time.Location
	Now      func() time.Time
	NewID    func() string
}

// Coordinator owns every write to provider counters, bookings and order assignments.
// Each write runs inside storage.Store.WithinProvider for the provider it touches.
type Coordinator struct {
	store  storage.Store
	engine *matching.Engine
	logger *slog.Logger
	loc    *time.Location
	now    func() time.Time
	newID  func() string
	tracer trace.Tracer
}

func NewCoordinator(store storage.Store, engine *matching.Engine, logger *slog.Logger, opts Options) *Coordinator {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Coordinator{
		store:  store,
		engine: engine,
		logger: logger,
		loc:    opts.Location,
		now:    opts.Now,
		newID:  opts.NewID,
		tracer: otel.Tracer("assignment-service/assignment"),
	}
}

// Assign gives order to providerID, booking [at, at+duration) when at is set. The
// provider's capacity and, with at, its bookings are checked again under the provider's
// lock before anything is written.
func (c *Coordinator) Assign(ctx context.Context, order model.Order, providerID string, at *time.Time) (Result, error) {
	ctx, span := c.tracer.Start(ctx, "assignment.assign", trace.WithAttributes(
		attribute.String("order_id", order.ID),
		attribute.String("provider_id", providerID),
	))
	defer span.End()

	if strings.TrimSpace(order.ID) == "" || strings.TrimSpace(providerID) == "" {
		return none(ReasonInvalidInput), nil
	}
	if at != nil {
		local := at.In(c.loc)
		at = &local
	}

	var res Result
	err := c.store.WithinProvider(ctx, providerID, func(ctx context.Context, u storage.Unit) error {
		var err error
		res, err = c.assignLocked(ctx, u, order, at)
		return err
	})

	var elsewhere *assignedElsewhereError
	switch {
	case err == nil:
	case errors.As(err, &elsewhere):
		res = Result{ProviderID: elsewhere.providerID, BookingID: elsewhere.bookingID, Reason: ReasonAlreadyAssigned}
	case errors.Is(err, storage.ErrNotFound):
		res = none(ReasonNotFound)
	case errors.Is(err, storage.ErrConflict):
		c.logger.Debug("assignment conflict", "order_id", order.ID, "provider_id", providerID, "err", err)
		res = none(ReasonConflict)
	default:
		return Result{}, otelx.Fail(span, fmt.Errorf("assign order %s to %s: %w", order.ID, providerID, err))
	}

	span.SetAttributes(attribute.String("reason", string(res.Reason)))
	if res.Reason == ReasonAssigned {
		c.logger.Info("provider assigned", "order_id", order.ID, "provider_id", res.ProviderID, "booking_id", res.BookingID)
	}
	return res, nil
}

type assignedElsewhereError struct {
	providerID string
	bookingID  string
}

func (e *assignedElsewhereError) Error() string {
	return "order already assigned to " + e.providerID
}

func (c *Coordinator) assignLocked(ctx context.Context, u storage.Unit, order model.Order, at *time.Time) (Result, error) {
	p := u.Provider()

	existing, err := u.Assignment(ctx, order.ID)
	switch {
	case err == nil && existing.Active() && existing.ProviderID == p.ID:
		return Result{ProviderID: p.ID, BookingID: existing.BookingID, Reason: ReasonAlreadyAssigned}, nil
	case err == nil && existing.Active():
		return Result{}, &assignedElsewhereError{providerID: existing.ProviderID, bookingID: existing.BookingID}
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return Result{}, err
	}

	if !p.Assignable() {
		return Result{}, fmt.Errorf("provider %s not assignable (%s, %d/%d): %w",
			p.ID, p.AvailabilityStatus, p.CurrentDailyOrders, p.MaxDailyOrders, storage.ErrConflict)
	}

	now := c.now()
	var booking *model.Booking
	if at != nil {
		bookings, err := u.ActiveBookings(ctx, *at)
		if err != nil {
			return Result{}, err
		}
		end := at.Add(p.ServiceDuration())
		if other, taken := model.Conflicting(bookings, *at, end); taken {
			return Result{}, fmt.Errorf("provider %s busy until %s: %w", p.ID, other.EndTime.Format(time.Kitchen), storage.ErrConflict)
		}
		booking = &model.Booking{
			ID:          c.newID(),
			ProviderID:  p.ID,
			OrderID:     order.ID,
			ServiceDate: model.DateOf(*at),
			StartTime:   *at,
			EndTime:     end,
			TimeSlot:    model.SlotFor(at.Hour()),
			Status:      model.BookingScheduled,
			CreatedAt:   now,
		}
		if err := u.CreateBooking(ctx, *booking); err != nil {
			return Result{}, err
		}
	}

	current, status, clamped := p.LoadAfter(1)
	if clamped {
		return Result{}, fmt.Errorf("provider %s has no capacity left: %w", p.ID, storage.ErrConflict)
	}
	if err := u.UpdateLoad(ctx, current, status); err != nil {
		return Result{}, err
	}

	a := model.Assignment{
		OrderID:             order.ID,
		ProviderID:          p.ID,
		ProviderChargeCents: p.ServiceChargeCents,
		ProviderStatus:      model.ProviderAssigned,
		AssignedAt:          now,
	}
	if booking != nil {
		a.BookingID = booking.ID
	}
	if err := u.SaveAssignment(ctx, a); err != nil {
		return Result{}, err
	}

	evt, err := newEvent(TopicProviderAssigned, a, booking, current, status, now)
	if err != nil {
		return Result{}, err
	}
	if err := u.Emit(ctx, evt); err != nil {
		return Result{}, err
	}

	return Result{ProviderID: p.ID, BookingID: a.BookingID, Booking: booking, Reason: ReasonAssigned}, nil
}

// AutoAssign matches order to the best eligible provider and assigns it. When a
// candidate is lost to a concurrent request the next-ranked candidate is tried.
func (c *Coordinator) AutoAssign(ctx context.Context, order model.Order) (Result, error) {
	ctx, span := c.tracer.Start(ctx, "assignment.auto_assign", trace.WithAttributes(
		attribute.String("order_id", order.ID),
	))
	defer span.End()

	if strings.TrimSpace(order.ID) == "" {
		return none(ReasonInvalidInput), nil
	}
	req, err := order.Requirement(c.loc)
	if err != nil {
		c.logger.Info("order cannot be matched", "order_id", order.ID, "err", err)
		return none(ReasonInvalidInput), nil
	}

	if existing, err := c.store.Assignment(ctx, order.ID); err == nil && existing.Active() {
		return Result{ProviderID: existing.ProviderID, BookingID: existing.BookingID, Reason: ReasonAlreadyAssigned}, nil
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return Result{}, otelx.Fail(span, fmt.Errorf("load assignment %s: %w", order.ID, err))
	}

	var (
		res       Result
		conflicts int
	)
	err = c.engine.Each(ctx, req, func(ctx context.Context, p model.Provider) (bool, error) {
		attempt, err := c.Assign(ctx, order, p.ID, req.PreferredAt)
		if err != nil {
			return true, err
		}
		switch attempt.Reason {
		case ReasonAssigned, ReasonAlreadyAssigned:
			res = attempt
			return true, nil
		case ReasonConflict:
			conflicts++
		}
		return false, nil
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.logger.Info("order category not found", "order_id", order.ID, "category", req.CategorySlug)
		return none(ReasonNotFound), nil
	case err != nil:
		return Result{}, otelx.Fail(span, err)
	}

	span.SetAttributes(attribute.Int("conflicts", conflicts))
	if !res.Assigned() {
		reason := ReasonNoEligibleProvider
		if conflicts > 0 {
			reason = ReasonConflict
		}
		c.logger.Info("no provider assigned", "order_id", order.ID, "reason", reason, "conflicts", conflicts)
		return none(reason), nil
	}
	return res, nil
}

// Reassign releases the order's current provider, if any, then assigns providerID or,
// when it is nil, whichever provider AutoAssign picks.
func (c *Coordinator) Reassign(ctx context.Context, order model.Order, providerID *string) (Result, error) {
	ctx, span := c.tracer.Start(ctx, "assignment.reassign", trace.WithAttributes(
		attribute.String("order_id", order.ID),
	))
	defer span.End()

	if strings.TrimSpace(order.ID) == "" {
		return none(ReasonInvalidInput), nil
	}
	// Validate before releasing so a bad request leaves the current assignment intact.
	at, err := order.PreferredAt(c.loc)
	if err != nil {
		return none(ReasonInvalidInput), nil
	}

	if err := c.release(ctx, order.ID); err != nil {
		return Result{}, otelx.Fail(span, err)
	}

	if providerID != nil {
		return c.Assign(ctx, order, *providerID, at)
	}
	return c.AutoAssign(ctx, order)
}

func (c *Coordinator) release(ctx context.Context, orderID string) error {
	prior, err := c.store.Assignment(ctx, orderID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load assignment %s: %w", orderID, err)
	}
	if !prior.Active() {
		return nil
	}

	err = c.store.WithinProvider(ctx, prior.ProviderID, func(ctx context.Context, u storage.Unit) error {
		return c.releaseLocked(ctx, u, orderID)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrConflict):
		// Released concurrently, or the provider is gone; nothing left to undo here.
		c.logger.Warn("release skipped", "order_id", orderID, "provider_id", prior.ProviderID, "err", err)
		return nil
	default:
		return fmt.Errorf("release order %s from %s: %w", orderID, prior.ProviderID, err)
	}
}

func (c *Coordinator) releaseLocked(ctx context.Context, u storage.Unit, orderID string) error {
	p := u.Provider()

	// Read again under the lock: a concurrent release of the same order must not decrement twice.
	a, err := u.Assignment(ctx, orderID)
	if err != nil {
		return err
	}
	if !a.Active() || a.ProviderID != p.ID {
		return nil
	}

	now := c.now()
	if a.BookingID != "" {
		err := u.CancelBooking(ctx, a.BookingID, now)
		if errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn("no scheduled booking to cancel", "order_id", orderID, "booking_id", a.BookingID)
		} else if err != nil {
			return err
		}
	}

	current, status, clamped := p.LoadAfter(-1)
	if clamped {
		c.logger.Warn("daily order counter clamped", "provider_id", p.ID, "order_id", orderID, "current", p.CurrentDailyOrders)
	}
	if err := u.UpdateLoad(ctx, current, status); err != nil {
		return err
	}
	if err := u.ReleaseAssignment(ctx, orderID); err != nil {
		return err
	}

	evt, err := newEvent(TopicProviderReleased, a, nil, current, status, now)
	if err != nil {
		return err
	}
	return u.Emit(ctx, evt)
}
