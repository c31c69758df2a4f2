package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidInput = errors.New("invalid input")

type Category struct {
	ID       string
	Slug     string
	IsActive bool
}

type Address struct {
	CityID string `json:"city_id"`
	AreaID string `json:"area_id"`
}

type OrderItem struct {
	ProductID        string   `json:"product_id,omitempty"`
	SelectedServices []string `json:"selected_services"`
}

// Order is the slice of a placed order this service reads.
type Order struct {
	ID                   string      `json:"id"`
	CategorySlug         string      `json:"category_slug"`
	ShippingAddress      Address     `json:"shipping_address"`
	PreferredServiceDate string      `json:"preferred_service_date,omitempty"`
	PreferredServiceTime string      `json:"preferred_service_time,omitempty"`
	Items                []OrderItem `json:"items"`
}

// Requirement is what matching needs to know about an order.
type Requirement struct {
	CityID             string
	AreaID             string
	CategorySlug       string
	RequiredServiceIDs []string
	PreferredAt        *time.Time
}

// PreferredAt combines the preferred date and time in loc. Both empty means no preference;
// only one of them set, or either malformed, is invalid input.
func (o Order) PreferredAt(loc *time.Location) (*time.Time, error) {
	date := strings.TrimSpace(o.PreferredServiceDate)
	clock := strings.TrimSpace(o.PreferredServiceTime)
	if date == "" && clock == "" {
		return nil, nil
	}
	if date == "" || clock == "" {
		return nil, fmt.Errorf("%w: preferred date and time must be given together", ErrInvalidInput)
	}
	at, err := time.ParseInLocation(DateLayout+" 15:04", date+" "+clock, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: preferred date/time: %v", ErrInvalidInput, err)
	}
	return &at, nil
}

// RequiredServices is the deduplicated union of every item's selected services, in first-seen order.
func (o Order) RequiredServices() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, item := range o.Items {
		for _, id := range item.SelectedServices {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func (o Order) Requirement(loc *time.Location) (Requirement, error) {
	city := strings.TrimSpace(o.ShippingAddress.CityID)
	area := strings.TrimSpace(o.ShippingAddress.AreaID)
	if city == "" || area == "" {
		return Requirement{}, fmt.Errorf("%w: shipping address needs city and area", ErrInvalidInput)
	}
	at, err := o.PreferredAt(loc)
	if err != nil {
		return Requirement{}, err
	}
	return Requirement{
		CityID:             city,
		AreaID:             area,
		CategorySlug:       strings.TrimSpace(o.CategorySlug),
		RequiredServiceIDs: o.RequiredServices(),
		PreferredAt:        at,
	}, nil
}
