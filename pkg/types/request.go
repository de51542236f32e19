package types

import "time"

type Urgency string

const (
	UrgencyLow      Urgency = "LOW"
	UrgencyMedium   Urgency = "MEDIUM"
	UrgencyHigh     Urgency = "HIGH"
	UrgencyCritical Urgency = "CRITICAL"
)

// Rank orders urgencies so that CRITICAL sorts first.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyCritical:
		return 0
	case UrgencyHigh:
		return 1
	case UrgencyMedium:
		return 2
	default:
		return 3
	}
}

type RequestStatus string

const (
	RequestStatusOpen      RequestStatus = "OPEN"
	RequestStatusAssigned  RequestStatus = "ASSIGNED"
	RequestStatusFulfilled RequestStatus = "FULFILLED"
	RequestStatusCancelled RequestStatus = "CANCELLED"
)

// Request is a blood need posted by a hospital or bank. OrganizationID is the
// requester; the legacy createdBy field is only accepted on input.
type Request struct {
	ID             string        `db:"id" json:"id"`
	OrganizationID string        `db:"organization_id" json:"organizationId"`
	BloodGroup     BloodGroup    `db:"blood_group" json:"bloodGroup"`
	UnitsNeeded    int           `db:"units_needed" json:"unitsNeeded"`
	UnitsIssued    int           `db:"units_issued" json:"unitsIssued"`
	Urgency        Urgency       `db:"urgency" json:"urgency"`
	Status         RequestStatus `db:"status" json:"status"`

	Location

	AssignedTo  *string    `db:"assigned_to" json:"assignedTo,omitempty"`
	FulfilledAt *time.Time `db:"fulfilled_at" json:"fulfilledAt,omitempty"`
	Version     int        `db:"version" json:"version"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updatedAt"`
}

// FulfillmentConsistent reports whether the FULFILLED status agrees with the
// assignedTo and fulfilledAt fields.
func (r *Request) FulfillmentConsistent() bool {
	complete := r.AssignedTo != nil && r.FulfilledAt != nil
	if r.Status == RequestStatusFulfilled {
		return complete
	}
	if r.FulfilledAt != nil {
		return false
	}
	if r.Status == RequestStatusAssigned {
		return r.AssignedTo != nil
	}
	return r.AssignedTo == nil
}

// NewRequest is the boundary form of a request as posted by a requester.
type NewRequest struct {
	OrganizationID string     `json:"organizationId"`
	CreatedBy      string     `json:"createdBy"`
	BloodGroup     BloodGroup `json:"bloodGroup" validate:"required,oneof=A+ A- B+ B- AB+ AB- O+ O-"`
	UnitsNeeded    int        `json:"unitsNeeded" validate:"required,min=1,max=100"`
	Urgency        Urgency    `json:"urgency" validate:"required,oneof=LOW MEDIUM HIGH CRITICAL"`
	Location       Location   `json:"location"`
}

// Requester resolves organizationId and its createdBy alias to one value.
// An empty string with ok=true means neither was supplied.
func (n *NewRequest) Requester() (string, bool) {
	switch {
	case n.OrganizationID == "":
		return n.CreatedBy, true
	case n.CreatedBy == "" || n.CreatedBy == n.OrganizationID:
		return n.OrganizationID, true
	}
	return "", false
}
