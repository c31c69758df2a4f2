package assignment

import "github.com/md-rashed-zaman/fieldassign/services/assignment-service/internal/model"

// Reason explains a Result. Only Assigned and AlreadyAssigned carry a provider.
type Reason string

const (
	ReasonAssigned           Reason = "assigned"
	ReasonAlreadyAssigned    Reason = "already_assigned"
	ReasonNotFound           Reason = "not_found"
	ReasonInvalidInput       Reason = "invalid_input"
	ReasonConflict           Reason = "conflict"
	ReasonNoEligibleProvider Reason = "no_eligible_provider"
)

// Result is the outcome of an assignment attempt. "No assignment" is a Result with an
// empty ProviderID, never an error.
type Result struct {
	ProviderID string
	BookingID  string
	Booking    *model.Booking
	Reason     Reason
}

func (r Result) Assigned() bool {
	return r.ProviderID != ""
}

func none(reason Reason) Result {
	return Result{Reason: reason}
}
