// Package postgres implements storage.Store on PostgreSQL. A provider unit is one
// transaction holding the provider row lock (SELECT ... FOR UPDATE); the schema's
// exclusion and unique constraints back the overlap and capacity rules.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/fieldassign/libs/db"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/model"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/outbox"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/storage"
)

type Store struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewStore(pool *db.Pool, outboxRepo *outbox.Repository) *Store {
	return &Store{pool: pool, outbox: outboxRepo}
}

var _ storage.Store = (*Store)(nil)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const providerColumns = `
	id, category_id, city_id, area_id, working_days,
	avg_service_duration_minutes, min_advance_booking_hours,
	max_daily_orders, current_daily_orders, availability_status,
	rating, is_active, is_verified, service_charge_cents`

func scanProvider(row pgx.Row) (model.Provider, error) {
	var (
		p      model.Provider
		days   []int16
		status string
	)
	err := row.Scan(&p.ID, &p.CategoryID, &p.CityID, &p.AreaID, &days,
		&p.AvgServiceDurationMinutes, &p.MinAdvanceBookingHours,
		&p.MaxDailyOrders, &p.CurrentDailyOrders, &status,
		&p.Rating, &p.IsActive, &p.IsVerified, &p.ServiceChargeCents)
	if err != nil {
		return model.Provider{}, err
	}
	p.AvailabilityStatus = model.AvailabilityStatus(status)
	for _, d := range days {
		p.WorkingDays = append(p.WorkingDays, time.Weekday(d))
	}
	return p, nil
}

// loadDetails fills capabilities and working hours for providers in two queries.
func loadDetails(ctx context.Context, q querier, providers []model.Provider) error {
	if len(providers) == 0 {
		return nil
	}
	ids := make([]string, len(providers))
	index := make(map[string]*model.Provider, len(providers))
	for i := range providers {
		providers[i].Capabilities = map[string]model.Capability{}
		providers[i].WorkingHours = map[time.Weekday]model.DaySchedule{}
		ids[i] = providers[i].ID
		index[providers[i].ID] = &providers[i]
	}

	rows, err := q.Query(ctx, `
		SELECT provider_id, service_id, is_active, custom_price_cents
		FROM provider_services
		WHERE provider_id = ANY($1)
	`, ids)
	if err != nil {
		return fmt.Errorf("load capabilities: %w", err)
	}
	for rows.Next() {
		var (
			providerID, serviceID string
			c                     model.Capability
		)
		if err := rows.Scan(&providerID, &serviceID, &c.Active, &c.CustomPriceCents); err != nil {
			rows.Close()
			return err
		}
		index[providerID].Capabilities[serviceID] = c
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = q.Query(ctx, `
		SELECT provider_id, weekday, available, start_minute, end_minute
		FROM provider_working_hours
		WHERE provider_id = ANY($1)
	`, ids)
	if err != nil {
		return fmt.Errorf("load working hours: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			providerID       string
			weekday          int16
			available        bool
			startMin, endMin int16
		)
		if err := rows.Scan(&providerID, &weekday, &available, &startMin, &endMin); err != nil {
			return err
		}
		index[providerID].WorkingHours[time.Weekday(weekday)] = model.DaySchedule{
			Available: available,
			Start:     model.Clock(startMin),
			End:       model.Clock(endMin),
		}
	}
	return rows.Err()
}

func (s *Store) ActiveCategory(ctx context.Context, slug string) (model.Category, error) {
	var c model.Category
	err := s.pool.QueryRow(ctx, `
		SELECT id, slug, is_active FROM categories WHERE slug = $1 AND is_active
	`, slug).Scan(&c.ID, &c.Slug, &c.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Category{}, fmt.Errorf("category %q: %w", slug, storage.ErrNotFound)
	}
	return c, err
}

func (s *Store) SearchProviders(ctx context.Context, q storage.ProviderQuery) ([]model.Provider, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+providerColumns+`
		FROM providers
		WHERE category_id = $1
			AND city_id = $2
			AND ($3::text = '' OR area_id = $3::text)
			AND is_active
			AND is_verified
			AND availability_status = 'AVAILABLE'
			AND current_daily_orders < max_daily_orders
		ORDER BY id
	`, q.CategoryID, q.CityID, q.AreaID)
	if err != nil {
		return nil, err
	}
	providers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Provider, error) {
		return scanProvider(row)
	})
	if err != nil {
		return nil, err
	}
	if err := loadDetails(ctx, s.pool, providers); err != nil {
		return nil, err
	}
	return providers, nil
}

func (s *Store) Provider(ctx context.Context, id string) (model.Provider, error) {
	return getProvider(ctx, s.pool, id, false)
}

func getProvider(ctx context.Context, q querier, id string, lock bool) (model.Provider, error) {
	sql := `SELECT ` + providerColumns + ` FROM providers WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	p, err := scanProvider(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Provider{}, fmt.Errorf("provider %q: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return model.Provider{}, err
	}
	list := []model.Provider{p}
	if err := loadDetails(ctx, q, list); err != nil {
		return model.Provider{}, err
	}
	return list[0], nil
}

func (s *Store) ActiveBookings(ctx context.Context, providerID string, day time.Time) ([]model.Booking, error) {
	return activeBookings(ctx, s.pool, providerID, day)
}

func activeBookings(ctx context.Context, q querier, providerID string, day time.Time) ([]model.Booking, error) {
	rows, err := q.Query(ctx, `
		SELECT id::text, provider_id, order_id, service_date, start_time, end_time, time_slot, status, created_at, cancelled_at
		FROM bookings
		WHERE provider_id = $1
			AND service_date = $2::date
			AND status <> 'CANCELLED'
		ORDER BY start_time
	`, providerID, day.Format(model.DateLayout))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Booking, error) {
		var (
			b            model.Booking
			slot, status string
		)
		err := row.Scan(&b.ID, &b.ProviderID, &b.OrderID, &b.ServiceDate, &b.StartTime, &b.EndTime,
			&slot, &status, &b.CreatedAt, &b.CancelledAt)
		b.TimeSlot, b.Status = model.TimeSlot(slot), model.BookingStatus(status)
		return b, err
	})
}

func (s *Store) Assignment(ctx context.Context, orderID string) (model.Assignment, error) {
	return getAssignment(ctx, s.pool, orderID, false)
}

func getAssignment(ctx context.Context, q querier, orderID string, lock bool) (model.Assignment, error) {
	sql := `
		SELECT order_id, provider_id, provider_charge_cents, provider_status, assigned_at, COALESCE(booking_id::text, '')
		FROM order_assignments
		WHERE order_id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	var (
		a      model.Assignment
		status string
	)
	err := q.QueryRow(ctx, sql, orderID).Scan(&a.OrderID, &a.ProviderID, &a.ProviderChargeCents, &status, &a.AssignedAt, &a.BookingID)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Assignment{}, fmt.Errorf("order %q: %w", orderID, storage.ErrNotFound)
	}
	a.ProviderStatus = model.ProviderStatus(status)
	return a, err
}

func (s *Store) WithinProvider(ctx context.Context, providerID string, fn func(context.Context, storage.Unit) error) error {
	err := s.pool.InTx(ctx, func(tx pgx.Tx) error {
		p, err := getProvider(ctx, tx, providerID, true)
		if err != nil {
			return err
		}
		return fn(ctx, &txUnit{tx: tx, provider: p, outbox: s.outbox})
	})
	return mapError(err)
}

func (s *Store) ResetDailyCounters(ctx context.Context, day time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE providers
		SET current_daily_orders = 0,
			availability_status = CASE WHEN availability_status = 'BUSY' THEN 'AVAILABLE' ELSE availability_status END,
			counters_reset_on = $1::date,
			updated_at = now()
		WHERE counters_reset_on IS NULL OR counters_reset_on < $1::date
	`, day.Format(model.DateLayout))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Constraint and contention errors a caller can recover from by trying elsewhere.
var conflictCodes = map[string]bool{
	"23505": true, // unique_violation
	"23P01": true, // exclusion_violation
	"23514": true, // check_violation
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
}

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && conflictCodes[pgErr.Code] {
		return fmt.Errorf("%s (%s): %w", pgErr.ConstraintName, pgErr.Code, storage.ErrConflict)
	}
	return err
}
