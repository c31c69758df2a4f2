package memory

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/model"
)

// Seed is the JSON document accepted by Load, used to run the service without a database.
type Seed struct {
	Categories []struct {
		ID     string `json:"id"`
		Slug   string `json:"slug"`
		Active bool   `json:"active"`
	} `json:"categories"`
	Providers []seedProvider `json:"providers"`
}

type seedProvider struct {
	ID                     string                  `json:"id"`
	CategoryID             string                  `json:"category_id"`
	CityID                 string                  `json:"city_id"`
	AreaID                 string                  `json:"area_id"`
	Services               []string                `json:"services"`
	WorkingDays            []string                `json:"working_days"`
	WorkingHours           map[string]seedDayHours `json:"working_hours"`
	ServiceMinutes         int                     `json:"service_minutes"`
	MinAdvanceBookingHours int                     `json:"min_advance_booking_hours"`
	MaxDailyOrders         int                     `json:"max_daily_orders"`
	Rating                 float64                 `json:"rating"`
	ServiceChargeCents     int64                   `json:"service_charge_cents"`
}

type seedDayHours struct {
	Available bool   `json:"available"`
	Start     string `json:"start"`
	End       string `json:"end"`
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
}

func ParseWeekday(s string) (time.Weekday, error) {
	wd, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", s)
	}
	return wd, nil
}

// Load reads a seed document into s. Seeded providers start active, verified and AVAILABLE.
func (s *Store) Load(r io.Reader) error {
	var seed Seed
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return fmt.Errorf("decode seed: %w", err)
	}
	for _, c := range seed.Categories {
		s.PutCategory(model.Category{ID: c.ID, Slug: c.Slug, IsActive: c.Active})
	}
	for _, sp := range seed.Providers {
		p, err := sp.provider()
		if err != nil {
			return fmt.Errorf("provider %q: %w", sp.ID, err)
		}
		s.PutProvider(p)
	}
	return nil
}

func (sp seedProvider) provider() (model.Provider, error) {
	p := model.Provider{
		ID:                        sp.ID,
		CategoryID:                sp.CategoryID,
		CityID:                    sp.CityID,
		AreaID:                    sp.AreaID,
		Capabilities:              map[string]model.Capability{},
		WorkingHours:              map[time.Weekday]model.DaySchedule{},
		AvgServiceDurationMinutes: sp.ServiceMinutes,
		MinAdvanceBookingHours:    sp.MinAdvanceBookingHours,
		MaxDailyOrders:            sp.MaxDailyOrders,
		AvailabilityStatus:        model.StatusAvailable,
		Rating:                    sp.Rating,
		IsActive:                  true,
		IsVerified:                true,
		ServiceChargeCents:        sp.ServiceChargeCents,
	}
	for _, id := range sp.Services {
		p.Capabilities[id] = model.Capability{Active: true}
	}
	for _, d := range sp.WorkingDays {
		wd, err := ParseWeekday(d)
		if err != nil {
			return model.Provider{}, err
		}
		p.WorkingDays = append(p.WorkingDays, wd)
	}
	for d, h := range sp.WorkingHours {
		wd, err := ParseWeekday(d)
		if err != nil {
			return model.Provider{}, err
		}
		start, err := model.ParseClock(h.Start)
		if err != nil {
			return model.Provider{}, err
		}
		end, err := model.ParseClock(h.End)
		if err != nil {
			return model.Provider{}, err
		}
		p.WorkingHours[wd] = model.DaySchedule{Available: h.Available, Start: start, End: end}
	}
	return p, nil
}
