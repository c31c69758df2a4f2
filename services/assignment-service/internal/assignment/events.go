package assignment

import (
	"encoding/json"
	"time"

	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/model"
	"github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/storage"
)

const (
	TopicProviderAssigned = "assignment.provider.assigned.v1"
	TopicProviderReleased = "assignment.provider.released.v1"
)

type providerEvent struct {
	OrderID            string     `json:"order_id"`
	ProviderID         string     `json:"provider_id"`
	BookingID          string     `json:"booking_id,omitempty"`
	StartTime          *time.Time `json:"start_time,omitempty"`
	EndTime            *time.Time `json:"end_time,omitempty"`
	TimeSlot           string     `json:"time_slot,omitempty"`
	ProviderCharge     int64      `json:"provider_charge_cents,omitempty"`
	CurrentDailyOrders int        `json:"current_daily_orders"`
	Status             string     `json:"availability_status"`
	OccurredAt         time.Time  `json:"occurred_at"`
}

// newEvent keys events by provider so one provider's history stays on one partition.
func newEvent(topic string, a model.Assignment, b *model.Booking, current int, status model.AvailabilityStatus, at time.Time) (storage.Event, error) {
	payload := providerEvent{
		OrderID:            a.OrderID,
		ProviderID:         a.ProviderID,
		BookingID:          a.BookingID,
		ProviderCharge:     a.ProviderChargeCents,
		CurrentDailyOrders: current,
		Status:             string(status),
		OccurredAt:         at.UTC(),
	}
	if b != nil {
		start, end := b.StartTime.UTC(), b.EndTime.UTC()
		payload.StartTime, payload.EndTime = &start, &end
		payload.TimeSlot = string(b.TimeSlot)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return storage.Event{}, err
	}
	return storage.Event{Topic: topic, Key: a.ProviderID, Payload: body}, nil
}
