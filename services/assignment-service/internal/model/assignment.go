package model

import "time"

type ProviderStatus string

const (
	ProviderAssigned   ProviderStatus = "assigned"
	ProviderUnassigned ProviderStatus = "unassigned"
)

// Assignment is the provider-side state this service owns for an order.
type Assignment struct {
	OrderID             string
	ProviderID          string
	ProviderChargeCents int64
	ProviderStatus      ProviderStatus
	AssignedAt          time.Time
	BookingID           string
}

func (a Assignment) Active() bool {
	return a.ProviderStatus == ProviderAssigned
}
