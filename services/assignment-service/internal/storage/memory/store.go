// Package memory is a process-local Store used for development and tests. It gives the
// same per-provider guarantees as the postgres store by holding one mutex per provider
// for the whole unit and applying its writes only on success.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/model"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/storage"
)

type Store struct {
	mu          sync.RWMutex
	categories  map[string]model.Category
	providers   map[string]model.Provider
	bookings    map[string][]model.Booking
	assignments map[string]model.Assignment
	resetOn     map[string]string
	events      []storage.Event

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func New() *Store {
	return &Store{
		categories:  map[string]model.Category{},
		providers:   map[string]model.Provider{},
		bookings:    map[string][]model.Booking{},
		assignments: map[string]model.Assignment{},
		resetOn:     map[string]string{},
		locks:       map[string]*sync.Mutex{},
	}
}

var _ storage.Store = (*Store)(nil)

func (s *Store) PutCategory(c model.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[c.Slug] = c
}

func (s *Store) PutProvider(p model.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[p.ID] = cloneProvider(p)
}

func (s *Store) PutBooking(b model.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ProviderID] = append(s.bookings[b.ProviderID], b)
}

func (s *Store) PutAssignment(a model.Assignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[a.OrderID] = a
}

// Bookings returns every booking of the provider, cancelled ones included.
func (s *Store) Bookings(providerID string) []model.Booking {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Booking(nil), s.bookings[providerID]...)
}

// Events returns the events committed so far.
func (s *Store) Events() []storage.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]storage.Event(nil), s.events...)
}

func (s *Store) ActiveCategory(_ context.Context, slug string) (model.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.categories[slug]
	if !ok || !c.IsActive {
		return model.Category{}, fmt.Errorf("category %q: %w", slug, storage.ErrNotFound)
	}
	return c, nil
}

func (s *Store) SearchProviders(_ context.Context, q storage.ProviderQuery) ([]model.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Provider
	for _, p := range s.providers {
		if p.CategoryID != q.CategoryID || p.CityID != q.CityID {
			continue
		}
		if q.AreaID != "" && p.AreaID != q.AreaID {
			continue
		}
		if !p.Assignable() {
			continue
		}
		out = append(out, cloneProvider(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Provider(_ context.Context, id string) (model.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[id]
	if !ok {
		return model.Provider{}, fmt.Errorf("provider %q: %w", id, storage.ErrNotFound)
	}
	return cloneProvider(p), nil
}

func (s *Store) ActiveBookings(_ context.Context, providerID string, day time.Time) ([]model.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activeOn(s.bookings[providerID], day), nil
}

func (s *Store) Assignment(_ context.Context, orderID string) (model.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[orderID]
	if !ok {
		return model.Assignment{}, fmt.Errorf("order %q: %w", orderID, storage.ErrNotFound)
	}
	return a, nil
}

func (s *Store) lockFor(providerID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[providerID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[providerID] = l
	}
	return l
}

func (s *Store) WithinProvider(ctx context.Context, providerID string, fn func(context.Context, storage.Unit) error) error {
	l := s.lockFor(providerID)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	p, ok := s.providers[providerID]
	u := &unit{
		store:    s,
		provider: cloneProvider(p),
		bookings: append([]model.Booking(nil), s.bookings[providerID]...),
		orders:   map[string]model.Assignment{},
	}
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("provider %q: %w", providerID, storage.ErrNotFound)
	}

	if err := fn(ctx, u); err != nil {
		return err
	}
	return s.commit(u)
}

// commit applies a unit's staged writes. Assignment rows are shared across providers, so
// they are checked again under the store lock.
func (s *Store) commit(u *unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for orderID, staged := range u.orders {
		current, exists := s.assignments[orderID]
		if staged.Active() && exists && current.Active() {
			return fmt.Errorf("order %q already assigned to %q: %w", orderID, current.ProviderID, storage.ErrConflict)
		}
		if !staged.Active() && (!exists || !current.Active() || current.ProviderID != u.provider.ID) {
			return fmt.Errorf("order %q not assigned to %q: %w", orderID, u.provider.ID, storage.ErrConflict)
		}
	}

	for orderID, staged := range u.orders {
		s.assignments[orderID] = staged
	}
	s.providers[u.provider.ID] = u.provider
	s.bookings[u.provider.ID] = u.bookings
	s.events = append(s.events, u.events...)
	return nil
}

func (s *Store) ResetDailyCounters(_ context.Context, day time.Time) (int, error) {
	key := day.Format(model.DateLayout)

	s.mu.RLock()
	ids := make([]string, 0, len(s.providers))
	for id := range s.providers {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	touched := 0
	for _, id := range ids {
		l := s.lockFor(id)
		l.Lock()
		s.mu.Lock()
		if p, ok := s.providers[id]; ok && s.resetOn[id] < key {
			p.CurrentDailyOrders = 0
			if p.AvailabilityStatus == model.StatusBusy {
				p.AvailabilityStatus = model.StatusAvailable
			}
			s.providers[id] = p
			s.resetOn[id] = key
			touched++
		}
		s.mu.Unlock()
		l.Unlock()
	}
	return touched, nil
}

func activeOn(all []model.Booking, day time.Time) []model.Booking {
	var out []model.Booking
	for _, b := range all {
		if b.Blocks() && model.SameDate(b.ServiceDate, day) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func cloneProvider(p model.Provider) model.Provider {
	if p.Capabilities != nil {
		caps := make(map[string]model.Capability, len(p.Capabilities))
		for k, v := range p.Capabilities {
			caps[k] = v
		}
		p.Capabilities = caps
	}
	if p.WorkingHours != nil {
		hours := make(map[time.Weekday]model.DaySchedule, len(p.WorkingHours))
		for k, v := range p.WorkingHours {
			hours[k] = v
		}
		p.WorkingHours = hours
	}
	p.WorkingDays = append([]time.Weekday(nil), p.WorkingDays...)
	return p
}
